package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/readaloud/client/internal/auth"
	"github.com/readaloud/client/internal/db"
	"github.com/readaloud/client/internal/models"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	if os.Getenv("READALOUD_SKIP_DB_TESTS") != "" {
		os.Exit(m.Run())
	}

	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server, skipping database tests: %v\n", err)
		os.Exit(m.Run())
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := db.ApplyUp(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresUserRepository_CreateFindAndUpdate(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresUserRepository(testPool)

	user := models.User{
		ID:               uuid.NewString(),
		Email:            "alice@example.com",
		PasswordHash:     "secret-hash",
		FirstName:        "Alice",
		CreditsRemaining: 2,
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}

	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	dup := user
	dup.ID = uuid.NewString()
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict when creating duplicate email, got %v", err)
	}

	fetched, err := repo.FindByEmail(ctx, user.Email)
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}

	if fetched.ID != user.ID || fetched.PasswordHash != user.PasswordHash || fetched.Role != "user" || fetched.CreditsRemaining != 2 {
		t.Fatalf("unexpected user fetched: %+v", fetched)
	}

	verified := time.Now().UTC().Truncate(time.Millisecond)
	updated := fetched
	updated.Email = "updated@example.com"
	updated.EmailVerifiedAt = &verified
	updated.UpdatedAt = time.Now().UTC().Add(time.Minute)

	if err := repo.Update(ctx, updated); err != nil {
		t.Fatalf("update user: %v", err)
	}

	fetched, err = repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}

	if fetched.Email != updated.Email || !fetched.EmailVerified() {
		t.Fatalf("expected updated fields to persist, got %+v", fetched)
	}

	missing := models.User{ID: uuid.NewString(), Email: "missing@example.com", UpdatedAt: time.Now().UTC()}
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating missing user, got %v", err)
	}
}

func TestPostgresUserRepository_ConsumeCredit(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresUserRepository(testPool)
	user := createTestUser(t, repo, "credits@example.com", 1)

	after, err := repo.ConsumeCredit(ctx, user.ID)
	if err != nil {
		t.Fatalf("consume credit: %v", err)
	}
	if after.CreditsRemaining != 0 {
		t.Fatalf("expected 0 credits, got %d", after.CreditsRemaining)
	}

	if _, err := repo.ConsumeCredit(ctx, user.ID); !errors.Is(err, ErrNoCredits) {
		t.Fatalf("expected ErrNoCredits, got %v", err)
	}
	if _, err := repo.ConsumeCredit(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresSessionStore_SaveFindAndDelete(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	userRepo := NewPostgresUserRepository(testPool)
	user := createTestUser(t, userRepo, "owner@example.com", 0)

	store := NewPostgresSessionStore(testPool)
	expires := time.Now().UTC().Add(24 * time.Hour)
	session := auth.Session{
		RefreshToken:    uuid.NewString(),
		AccessToken:     uuid.NewString(),
		UserID:          user.ID,
		ExpiresAt:       expires,
		AccessExpiresAt: expires.Add(-23 * time.Hour),
	}

	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	loaded, err := store.Find(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}

	if loaded.UserID != session.UserID || !timesClose(loaded.ExpiresAt, expires.UTC(), time.Millisecond) {
		t.Fatalf("unexpected session loaded: %+v", loaded)
	}

	byAccess, err := store.FindByAccessToken(ctx, session.AccessToken)
	if err != nil {
		t.Fatalf("find session by access token: %v", err)
	}
	if byAccess.RefreshToken != session.RefreshToken || !timesClose(byAccess.AccessExpiresAt, session.AccessExpiresAt, time.Millisecond) {
		t.Fatalf("unexpected session loaded by access token: %+v", byAccess)
	}

	updated := session
	updated.ExpiresAt = expires.Add(48 * time.Hour)
	if err := store.Save(ctx, updated); err != nil {
		t.Fatalf("update session: %v", err)
	}

	loaded, err = store.Find(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("find session after update: %v", err)
	}

	if !timesClose(loaded.ExpiresAt, updated.ExpiresAt.UTC(), time.Millisecond) {
		t.Fatalf("expected updated expiry, got %v", loaded.ExpiresAt)
	}

	if err := store.Delete(ctx, session.RefreshToken); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	if _, err := store.Find(ctx, session.RefreshToken); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}

	if err := store.Delete(ctx, session.RefreshToken); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound deleting twice, got %v", err)
	}
}

func TestPostgresJobRepository_CreateAdvanceAndFind(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	userRepo := NewPostgresUserRepository(testPool)
	owner := createTestUser(t, userRepo, "owner@example.com", 3)
	stranger := createTestUser(t, userRepo, "stranger@example.com", 3)

	repo := NewPostgresJobRepository(testPool)
	created := time.Now().UTC().Truncate(time.Millisecond)

	job := models.Job{
		ID:               uuid.NewString(),
		UserID:           owner.ID,
		OriginalFilename: "moby.pdf",
		SourcePDFURL:     "https://bucket/uploads/moby.pdf",
		Status:           models.StatusPending,
		CurrentStep:      models.StepUploadReceived,
		BackgroundAudio:  true,
		CreatedAt:        created,
		UpdatedAt:        created,
		Events: []models.JobEvent{{
			ID:        uuid.NewString(),
			Step:      models.StepUploadReceived,
			Status:    models.StatusPending,
			Message:   "Upload received",
			Progress:  5,
			CreatedAt: created,
		}},
	}
	job.Events[0].JobID = job.ID

	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	orphan := job
	orphan.ID = uuid.NewString()
	orphan.UserID = uuid.NewString()
	orphan.Events = nil
	if err := repo.Create(ctx, orphan); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown owner, got %v", err)
	}

	duration := 3600
	if err := repo.Advance(ctx, job.ID, JobUpdate{
		Event: models.JobEvent{
			ID:        uuid.NewString(),
			Step:      models.StepExtractingText,
			Status:    models.StatusProcessing,
			Message:   "Extracting text...",
			Progress:  20,
			CreatedAt: created.Add(time.Second),
		},
		TotalCharacters:   120000,
		EstimatedDuration: &duration,
	}); err != nil {
		t.Fatalf("advance job: %v", err)
	}

	if err := repo.Advance(ctx, job.ID, JobUpdate{
		Event: models.JobEvent{
			ID:        uuid.NewString(),
			Step:      models.StepCompleted,
			Status:    models.StatusCompleted,
			Message:   "Completed",
			Progress:  100,
			CreatedAt: created.Add(2 * time.Second),
		},
		AudioURL: "https://bucket/audio/moby.mp3",
	}); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	found, err := repo.Find(ctx, owner.ID, job.ID)
	if err != nil {
		t.Fatalf("find job: %v", err)
	}
	if err := found.Validate(); err != nil {
		t.Fatalf("inconsistent job: %v", err)
	}
	if found.TotalCharacters != 120000 || found.EstimatedDuration == nil || *found.EstimatedDuration != duration {
		t.Fatalf("expected extraction stats to persist, got %+v", found)
	}
	if found.AudioURL == "" || len(found.Events) != 3 || found.Events[2].Progress != 100 {
		t.Fatalf("unexpected job: %+v", found)
	}

	if _, err := repo.Find(ctx, stranger.ID, job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}

	listed, err := repo.ListForUser(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(listed) != 1 || listed[0].Events != nil || listed[0].Status != models.StatusCompleted {
		t.Fatalf("unexpected listing: %+v", listed)
	}

	if err := repo.Advance(ctx, uuid.NewString(), JobUpdate{Event: models.JobEvent{ID: uuid.NewString()}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound advancing unknown job, got %v", err)
	}
}

func resetDatabase(t *testing.T) {
	t.Helper()
	if testPool == nil {
		t.Skip("database tests need a cockroach test server")
	}
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE job_events, jobs, sessions, users CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestUser(t *testing.T, repo *PostgresUserRepository, email string, credits int) models.User {
	t.Helper()
	user := models.User{
		ID:               uuid.NewString(),
		Email:            email,
		PasswordHash:     "password-hash",
		CreditsRemaining: credits,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

func timesClose(a, b time.Time, delta time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= delta
}
