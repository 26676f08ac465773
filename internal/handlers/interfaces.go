package handlers

import (
	"context"

	"github.com/readaloud/client/internal/models"
	"github.com/readaloud/client/internal/repositories"
)

// UserStore captures the persistence operations required by the auth and book handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	Update(ctx context.Context, user models.User) error
	ConsumeCredit(ctx context.Context, id string) (models.User, error)
}

// SessionManager issues, validates and refreshes authentication tokens.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, string, error)
	Authenticate(ctx context.Context, accessToken string) (string, error)
	Revoke(ctx context.Context, refreshToken string)
}

// JobStore captures persistence for conversion jobs.
type JobStore interface {
	Create(ctx context.Context, job models.Job) error
	ListForUser(ctx context.Context, userID string) ([]models.Job, error)
	Find(ctx context.Context, userID, jobID string) (models.Job, error)
}

// JobQueue schedules background processing of submitted jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job models.Job) error
}

var _ UserStore = (repositories.UserRepository)(nil)
var _ JobStore = (repositories.JobRepository)(nil)
