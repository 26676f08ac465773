package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/readaloud/client/internal/models"
	"github.com/readaloud/client/internal/repositories"
)

func submitRequest() models.SubmitBookRequest {
	return models.SubmitBookRequest{
		PDFURL:           "https://bucket.s3.amazonaws.com/uploads/1700000000000-moby.pdf",
		OriginalFilename: "moby.pdf",
		BackgroundAudio:  true,
	}
}

func TestBookHandlerSubmit(t *testing.T) {
	b := newTestBackend(t, nil)
	user := b.register(t, "books@example.com")

	rec := b.do(t, http.MethodPost, "/api/v1/books/submit", user.AccessToken, submitRequest())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.SubmitBookResponse
	decodeBody(t, rec, &resp)
	if resp.BookID == "" || resp.Message == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if len(b.queue.jobs) != 1 || b.queue.jobs[0].ID != resp.BookID {
		t.Fatalf("expected job to be enqueued, got %+v", b.queue.jobs)
	}

	job, err := b.jobs.Find(context.Background(), user.User.ID, resp.BookID)
	if err != nil {
		t.Fatalf("find job: %v", err)
	}
	if job.Status != models.StatusPending || job.CurrentStep != models.StepUploadReceived || !job.BackgroundAudio {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(job.Events) != 1 || job.Events[0].Progress != 5 {
		t.Fatalf("expected initial event at the upload baseline, got %+v", job.Events)
	}

	stored, err := b.users.FindByID(context.Background(), user.User.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if stored.CreditsRemaining != 0 {
		t.Fatalf("expected credit to be consumed, got %d", stored.CreditsRemaining)
	}

	rec = b.do(t, http.MethodPost, "/api/v1/books/submit", user.AccessToken, submitRequest())
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402 without credits got %d", rec.Code)
	}
	if len(b.queue.jobs) != 1 {
		t.Fatalf("expected no further jobs, got %d", len(b.queue.jobs))
	}
}

func TestBookHandlerSubmitValidation(t *testing.T) {
	b := newTestBackend(t, nil)
	user := b.register(t, "invalid@example.com")

	tests := []struct {
		name string
		req  models.SubmitBookRequest
	}{
		{name: "missing url", req: models.SubmitBookRequest{OriginalFilename: "a.pdf"}},
		{name: "missing filename", req: models.SubmitBookRequest{PDFURL: "https://bucket/a.pdf"}},
		{name: "relative url", req: models.SubmitBookRequest{PDFURL: "uploads/a.pdf", OriginalFilename: "a.pdf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := b.do(t, http.MethodPost, "/api/v1/books/submit", user.AccessToken, tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400 got %d", rec.Code)
			}
		})
	}

	rec := b.do(t, http.MethodPost, "/api/v1/books/submit", "", submitRequest())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token got %d", rec.Code)
	}
}

func TestBookHandlerSubmitQueueFailure(t *testing.T) {
	b := newTestBackend(t, nil)
	b.queue.err = errors.New("closed")
	user := b.register(t, "queue@example.com")

	rec := b.do(t, http.MethodPost, "/api/v1/books/submit", user.AccessToken, submitRequest())
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got %d", rec.Code)
	}
}

func TestBookHandlerReadEndpoints(t *testing.T) {
	b := newTestBackend(t, nil)
	owner := b.register(t, "owner@example.com")
	stranger := b.register(t, "stranger@example.com")

	rec := b.do(t, http.MethodPost, "/api/v1/books/submit", owner.AccessToken, submitRequest())
	var submitted models.SubmitBookResponse
	decodeBody(t, rec, &submitted)

	rec = b.do(t, http.MethodGet, "/api/v1/books", owner.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected status 200 got %d", rec.Code)
	}
	var list models.BooksResponse
	decodeBody(t, rec, &list)
	if len(list.Jobs) != 1 || list.Jobs[0].ID != submitted.BookID {
		t.Fatalf("unexpected list %+v", list)
	}

	rec = b.do(t, http.MethodGet, "/api/v1/books", stranger.AccessToken, nil)
	decodeBody(t, rec, &list)
	if len(list.Jobs) != 0 {
		t.Fatalf("expected empty list for another user, got %+v", list)
	}

	rec = b.do(t, http.MethodGet, "/api/v1/books/"+submitted.BookID+"/progress", owner.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("progress: expected status 200 got %d", rec.Code)
	}
	var progress models.BookProgress
	decodeBody(t, rec, &progress)
	if progress.CurrentStep != models.StepUploadReceived || len(progress.Events) != 1 {
		t.Fatalf("unexpected progress %+v", progress)
	}

	rec = b.do(t, http.MethodGet, "/api/v1/books/"+submitted.BookID, owner.AccessToken, nil)
	var details models.BookDetails
	decodeBody(t, rec, &details)
	if details.Job.ID != submitted.BookID || details.Job.OriginalFilename != "moby.pdf" {
		t.Fatalf("unexpected details %+v", details)
	}

	rec = b.do(t, http.MethodGet, "/api/v1/books/"+submitted.BookID, stranger.AccessToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for another user's book got %d", rec.Code)
	}

	rec = b.do(t, http.MethodGet, "/api/v1/books/"+submitted.BookID+"/audio", owner.AccessToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 before completion got %d", rec.Code)
	}
}

func TestBookHandlerAudio(t *testing.T) {
	b := newTestBackend(t, nil)
	owner := b.register(t, "audio@example.com")

	rec := b.do(t, http.MethodPost, "/api/v1/books/submit", owner.AccessToken, submitRequest())
	var submitted models.SubmitBookResponse
	decodeBody(t, rec, &submitted)

	err := b.jobs.Advance(context.Background(), submitted.BookID, repositories.JobUpdate{
		Event: models.JobEvent{
			ID:        uuid.NewString(),
			Step:      models.StepCompleted,
			Status:    models.StatusCompleted,
			Message:   "Completed",
			Progress:  100,
			CreatedAt: time.Now().UTC(),
		},
		AudioURL: "https://bucket.s3.amazonaws.com/audio/moby.mp3",
	})
	if err != nil {
		t.Fatalf("advance job: %v", err)
	}

	rec = b.do(t, http.MethodGet, "/api/v1/books/"+submitted.BookID+"/audio", owner.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var audio models.BookAudio
	decodeBody(t, rec, &audio)
	if audio.URL != "https://bucket.s3.amazonaws.com/audio/moby.mp3" {
		t.Fatalf("unexpected audio url %q", audio.URL)
	}
	if audio.BackgroundTrack == nil || *audio.BackgroundTrack != "https://bucket.s3.amazonaws.com/audio/background.mp3" {
		t.Fatalf("unexpected background track %v", audio.BackgroundTrack)
	}
}

func TestBillingHandler(t *testing.T) {
	b := newTestBackend(t, nil)
	user := b.register(t, "billing@example.com")

	rec := b.do(t, http.MethodGet, "/api/v1/billing/plans", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("plans: expected status 200 got %d", rec.Code)
	}
	var plans models.PlansResponse
	decodeBody(t, rec, &plans)
	if len(plans.Plans) == 0 {
		t.Fatal("expected at least one plan")
	}

	rec = b.do(t, http.MethodPost, "/api/v1/billing/checkout", user.AccessToken, models.CheckoutRequest{
		PlanID:          plans.Plans[0].ID,
		AdditionalBooks: 2,
		SuccessURL:      "https://app.example.com/billing/success",
		CancelURL:       "https://app.example.com/billing/cancel",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout: expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var checkout models.CheckoutResponse
	decodeBody(t, rec, &checkout)
	u, err := url.Parse(checkout.URL)
	if err != nil || u.Query().Get("session_id") != checkout.SessionID || checkout.SessionID == "" {
		t.Fatalf("unexpected checkout response %+v", checkout)
	}

	stored, err := b.users.FindByID(context.Background(), user.User.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if want := 1 + plans.Plans[0].BooksIncluded + 2; stored.CreditsRemaining != want {
		t.Fatalf("expected %d credits got %d", want, stored.CreditsRemaining)
	}

	rec = b.do(t, http.MethodPost, "/api/v1/billing/checkout", user.AccessToken, models.CheckoutRequest{PlanID: "missing", SuccessURL: "https://app.example.com/ok"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown plan got %d", rec.Code)
	}

	rec = b.do(t, http.MethodPost, "/api/v1/billing/portal", user.AccessToken, models.PortalRequest{ReturnURL: "https://app.example.com/account"})
	if rec.Code != http.StatusOK {
		t.Fatalf("portal: expected status 200 got %d", rec.Code)
	}
	var portal models.PortalResponse
	decodeBody(t, rec, &portal)
	if portal.URL == "" {
		t.Fatal("expected portal url")
	}
}
