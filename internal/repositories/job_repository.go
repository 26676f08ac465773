package repositories

import (
	"context"

	"github.com/readaloud/client/internal/models"
)

// JobUpdate moves a job to a new step and records the transition.
// Zero-valued optional fields leave the stored values untouched.
type JobUpdate struct {
	Event             models.JobEvent
	ErrorMessage      *string
	AudioURL          string
	TotalCharacters   int
	EstimatedDuration *int
}

// JobRepository defines the data access contract for conversion jobs.
type JobRepository interface {
	Create(ctx context.Context, job models.Job) error
	// ListForUser returns the user's jobs, newest first, without events.
	ListForUser(ctx context.Context, userID string) ([]models.Job, error)
	// Find returns one of the user's jobs with its events in order.
	Find(ctx context.Context, userID, jobID string) (models.Job, error)
	// Advance applies update.Event's step and status to the job and appends the event.
	Advance(ctx context.Context, jobID string, update JobUpdate) error
}
