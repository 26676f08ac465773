package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/readaloud/client/internal/logging"
	"github.com/readaloud/client/internal/metrics"
	"github.com/readaloud/client/internal/models"
	"github.com/readaloud/client/internal/repositories"
)

const backgroundTrackFile = "background.mp3"

// BookHandler serves the conversion job endpoints.
type BookHandler struct {
	Users   UserStore
	Jobs    JobStore
	Queue   JobQueue
	Metrics metrics.Recorder
	NowFunc func() time.Time
}

// Submit handles POST /api/v1/books/submit. Each submission costs one credit.
func (h BookHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	userID, ok := UserIDFromContext(ctx)
	if !ok {
		respondMessage(ctx, w, http.StatusUnauthorized, "invalid or expired access token")
		return
	}
	if h.Users == nil || h.Jobs == nil || h.Queue == nil {
		logger.Error("book dependencies unavailable", "hasUsers", h.Users != nil, "hasJobs", h.Jobs != nil, "hasQueue", h.Queue != nil)
		respondMessage(ctx, w, http.StatusInternalServerError, "book services unavailable")
		return
	}

	var req models.SubmitBookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid submit payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.PDFURL = strings.TrimSpace(req.PDFURL)
	req.OriginalFilename = strings.TrimSpace(req.OriginalFilename)
	if req.PDFURL == "" || req.OriginalFilename == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "pdfUrl and originalFilename are required")
		return
	}
	if u, err := url.Parse(req.PDFURL); err != nil || u.Scheme == "" || u.Host == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "pdfUrl must be an absolute URL")
		return
	}

	if _, err := h.Users.ConsumeCredit(ctx, userID); err != nil {
		switch {
		case errors.Is(err, repositories.ErrNoCredits):
			respondMessage(ctx, w, http.StatusPaymentRequired, "no credits remaining")
		case errors.Is(err, repositories.ErrNotFound):
			respondMessage(ctx, w, http.StatusUnauthorized, "invalid or expired access token")
		default:
			logger.Error("consume credit", "error", err)
			respondMessage(ctx, w, http.StatusInternalServerError, "failed to submit book")
		}
		return
	}

	now := h.now()
	job := models.Job{
		ID:               uuid.NewString(),
		UserID:           userID,
		OriginalFilename: req.OriginalFilename,
		SourcePDFURL:     req.PDFURL,
		Status:           models.StatusPending,
		CurrentStep:      models.StepUploadReceived,
		BackgroundAudio:  req.BackgroundAudio,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	baseline, _ := models.StepUploadReceived.Baseline()
	job.Events = []models.JobEvent{{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Step:      models.StepUploadReceived,
		Status:    models.StatusPending,
		Message:   "Upload received",
		Progress:  baseline,
		CreatedAt: now,
	}}

	if err := h.Jobs.Create(ctx, job); err != nil {
		logger.Error("create job", "error", err)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to submit book")
		return
	}

	if err := h.Queue.Enqueue(ctx, job); err != nil {
		logger.Error("enqueue job", "error", err, "jobId", job.ID)
		respondMessage(ctx, w, http.StatusServiceUnavailable, "conversion queue unavailable")
		return
	}

	metrics.OrNop(h.Metrics).RecordJobSubmitted()
	logger.Info("book submitted", "jobId", job.ID, "file", job.OriginalFilename)
	respondJSON(ctx, w, http.StatusCreated, models.SubmitBookResponse{
		Message: "Book submitted for processing",
		BookID:  job.ID,
	})
}

// List handles GET /api/v1/books.
func (h BookHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	jobs, err := h.Jobs.ListForUser(ctx, userID)
	if err != nil {
		logging.FromContext(ctx).Error("list jobs", "error", err)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to list books")
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	respondJSON(ctx, w, http.StatusOK, models.BooksResponse{Jobs: jobs})
}

// Progress handles GET /api/v1/books/{id}/progress.
func (h BookHandler) Progress(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	events := job.Events
	if events == nil {
		events = []models.JobEvent{}
	}
	respondJSON(r.Context(), w, http.StatusOK, models.BookProgress{
		Status:      job.Status,
		CurrentStep: job.CurrentStep,
		Events:      events,
	})
}

// Details handles GET /api/v1/books/{id}.
func (h BookHandler) Details(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, models.BookDetails{Job: job})
}

// Audio handles GET /api/v1/books/{id}/audio. Only completed jobs have audio.
func (h BookHandler) Audio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	if job.Status != models.StatusCompleted || job.AudioURL == "" {
		respondMessage(ctx, w, http.StatusConflict, "audio is not ready yet")
		return
	}

	audio := models.BookAudio{URL: job.AudioURL}
	if job.BackgroundAudio {
		track := backgroundTrackURL(job.AudioURL)
		audio.BackgroundTrack = &track
	}
	respondJSON(ctx, w, http.StatusOK, audio)
}

func (h BookHandler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		respondMessage(ctx, w, http.StatusUnauthorized, "invalid or expired access token")
		return "", false
	}
	if h.Jobs == nil {
		logging.FromContext(ctx).Error("job store unavailable")
		respondMessage(ctx, w, http.StatusInternalServerError, "book services unavailable")
		return "", false
	}
	return userID, true
}

func (h BookHandler) load(w http.ResponseWriter, r *http.Request) (models.Job, bool) {
	ctx := r.Context()
	userID, ok := h.caller(w, r)
	if !ok {
		return models.Job{}, false
	}

	jobID := strings.TrimSpace(chi.URLParam(r, "id"))
	if jobID == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "book id is required")
		return models.Job{}, false
	}

	job, err := h.Jobs.Find(ctx, userID, jobID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondMessage(ctx, w, http.StatusNotFound, "book not found")
			return models.Job{}, false
		}
		logging.FromContext(ctx).Error("find job", "error", err, "jobId", jobID)
		respondMessage(ctx, w, http.StatusInternalServerError, "failed to load book")
		return models.Job{}, false
	}
	return job, true
}

func (h BookHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

// backgroundTrackURL places the ambient track next to the narration file.
func backgroundTrackURL(audioURL string) string {
	u, err := url.Parse(audioURL)
	if err != nil {
		return audioURL
	}
	u.Path = path.Join(path.Dir(u.Path), backgroundTrackFile)
	return u.String()
}
