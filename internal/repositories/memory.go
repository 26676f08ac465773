package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/readaloud/client/internal/models"
)

// MemoryUserRepository keeps users in process memory for local development.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]models.User
	byEmail map[string]string
}

// NewMemoryUserRepository returns an empty repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]models.User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, user models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, ok := r.byEmail[email]; ok {
		return ErrConflict
	}
	if _, ok := r.byID[user.ID]; ok {
		return ErrConflict
	}
	if user.Role == "" {
		user.Role = "user"
	}
	r.byID[user.ID] = user
	r.byEmail[email] = user.ID
	return nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) Update(_ context.Context, user models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[user.ID]
	if !ok {
		return ErrNotFound
	}
	email := strings.ToLower(user.Email)
	if owner, taken := r.byEmail[email]; taken && owner != user.ID {
		return ErrConflict
	}
	delete(r.byEmail, strings.ToLower(existing.Email))
	r.byEmail[email] = user.ID
	r.byID[user.ID] = user
	return nil
}

func (r *MemoryUserRepository) ConsumeCredit(_ context.Context, id string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	if user.CreditsRemaining <= 0 {
		return models.User{}, ErrNoCredits
	}
	user.CreditsRemaining--
	r.byID[id] = user
	return user, nil
}

// MemoryJobRepository keeps jobs and their events in process memory.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
}

// NewMemoryJobRepository returns an empty repository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]models.Job)}
}

func (r *MemoryJobRepository) Create(_ context.Context, job models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return ErrConflict
	}
	job.Events = append([]models.JobEvent(nil), job.Events...)
	r.jobs[job.ID] = job
	return nil
}

func (r *MemoryJobRepository) ListForUser(_ context.Context, userID string) ([]models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := []models.Job{}
	for _, job := range r.jobs {
		if job.UserID != userID {
			continue
		}
		job.Events = nil
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

func (r *MemoryJobRepository) Find(_ context.Context, userID, jobID string) (models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok || job.UserID != userID {
		return models.Job{}, ErrNotFound
	}
	events := make([]models.JobEvent, len(job.Events))
	copy(events, job.Events)
	job.Events = events
	return job, nil
}

func (r *MemoryJobRepository) Advance(_ context.Context, jobID string, update JobUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}

	ev := update.Event
	ev.JobID = jobID
	job.Status = ev.Status
	job.CurrentStep = ev.Step
	job.UpdatedAt = ev.CreatedAt
	if update.ErrorMessage != nil {
		job.ErrorMessage = update.ErrorMessage
	}
	if update.AudioURL != "" {
		job.AudioURL = update.AudioURL
	}
	if update.TotalCharacters != 0 {
		job.TotalCharacters = update.TotalCharacters
	}
	if update.EstimatedDuration != nil {
		job.EstimatedDuration = update.EstimatedDuration
	}
	job.Events = append(job.Events, ev)
	r.jobs[jobID] = job
	return nil
}

var _ UserRepository = (*MemoryUserRepository)(nil)
var _ JobRepository = (*MemoryJobRepository)(nil)
