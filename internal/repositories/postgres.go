package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/readaloud/client/internal/db"
	"github.com/readaloud/client/internal/models"
)

const userColumns = `id, email, password_hash, first_name, last_name, role, email_verified_at,
        credits_remaining, profile_photo_url, created_at, updated_at`

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	role := user.Role
	if strings.TrimSpace(role) == "" {
		role = "user"
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO users (`+userColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, role, user.EmailVerifiedAt,
		user.CreditsRemaining, user.ProfilePhotoURL, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// FindByEmail fetches a user by their email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, "email", email)
}

// FindByID fetches a user by id.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, "id", id)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, column, value string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by %s: %w", column, err)
	}
	return user, nil
}

// Update modifies an existing user record.
func (r *PostgresUserRepository) Update(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE users
        SET email = $2, password_hash = $3, first_name = $4, last_name = $5,
            email_verified_at = $6, credits_remaining = $7, profile_photo_url = $8, updated_at = $9
        WHERE id = $1
    `, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.EmailVerifiedAt, user.CreditsRemaining, user.ProfilePhotoURL, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update user: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ConsumeCredit atomically takes one credit from the user.
func (r *PostgresUserRepository) ConsumeCredit(ctx context.Context, id string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        UPDATE users
        SET credits_remaining = credits_remaining - 1, updated_at = NOW()
        WHERE id = $1 AND credits_remaining > 0
        RETURNING `+userColumns, id)
	user, err := scanUser(row)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, fmt.Errorf("consume credit: %w", err)
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return models.User{}, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return models.User{}, ErrNotFound
	}
	return models.User{}, ErrNoCredits
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &user.Role,
		&user.EmailVerifiedAt, &user.CreditsRemaining, &user.ProfilePhotoURL, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

// PostgresJobRepository provides PostgreSQL-backed persistence for conversion jobs.
type PostgresJobRepository struct {
	pool db.Pool
}

// NewPostgresJobRepository constructs a job repository backed by PostgreSQL.
func NewPostgresJobRepository(pool db.Pool) *PostgresJobRepository {
	return &PostgresJobRepository{pool: pool}
}

const jobColumns = `id, user_id, original_filename, source_pdf_url, status, current_step, total_characters,
        estimated_duration, error_message, background_audio, audio_url, created_at, updated_at`

// Create stores a new job together with any initial events.
func (r *PostgresJobRepository) Create(ctx context.Context, job models.Job) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin job insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
        INSERT INTO jobs (`+jobColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `, job.ID, job.UserID, job.OriginalFilename, job.SourcePDFURL, job.Status, job.CurrentStep, job.TotalCharacters,
		job.EstimatedDuration, job.ErrorMessage, job.BackgroundAudio, job.AudioURL, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503":
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert job: %w", err)
	}

	for _, ev := range job.Events {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job insert: %w", err)
	}
	return nil
}

// ListForUser returns the user's jobs, newest first.
func (r *PostgresJobRepository) ListForUser(ctx context.Context, userID string) ([]models.Job, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+jobColumns+`
        FROM jobs
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT 200
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, nil
}

// Find returns one of the user's jobs with its events.
func (r *PostgresJobRepository) Find(ctx context.Context, userID, jobID string) (models.Job, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Job{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	job, err := scanJob(conn.QueryRow(ctx, `
        SELECT `+jobColumns+`
        FROM jobs
        WHERE id = $1 AND user_id = $2
    `, jobID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, fmt.Errorf("select job: %w", err)
	}

	rows, err := conn.Query(ctx, `
        SELECT id, job_id, step, status, message, progress, created_at
        FROM job_events
        WHERE job_id = $1
        ORDER BY created_at, id
    `, jobID)
	if err != nil {
		return models.Job{}, fmt.Errorf("query job events: %w", err)
	}
	defer rows.Close()

	job.Events = []models.JobEvent{}
	for rows.Next() {
		var ev models.JobEvent
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Step, &ev.Status, &ev.Message, &ev.Progress, &ev.CreatedAt); err != nil {
			return models.Job{}, fmt.Errorf("scan job event: %w", err)
		}
		job.Events = append(job.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return models.Job{}, fmt.Errorf("iterate job events: %w", err)
	}

	return job, nil
}

// Advance updates the job's step and status and appends the event in one transaction.
func (r *PostgresJobRepository) Advance(ctx context.Context, jobID string, update JobUpdate) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin job advance: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ev := update.Event
	ev.JobID = jobID

	tag, err := tx.Exec(ctx, `
        UPDATE jobs
        SET status = $2,
            current_step = $3,
            error_message = COALESCE($4, error_message),
            audio_url = CASE WHEN $5 = '' THEN audio_url ELSE $5 END,
            total_characters = CASE WHEN $6 = 0 THEN total_characters ELSE $6 END,
            estimated_duration = COALESCE($7, estimated_duration),
            updated_at = $8
        WHERE id = $1
    `, jobID, ev.Status, ev.Step, update.ErrorMessage, update.AudioURL, update.TotalCharacters,
		update.EstimatedDuration, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job advance: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev models.JobEvent) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO job_events (id, job_id, step, status, message, progress, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, ev.ID, ev.JobID, ev.Step, ev.Status, ev.Message, ev.Progress, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	err := row.Scan(&job.ID, &job.UserID, &job.OriginalFilename, &job.SourcePDFURL, &job.Status, &job.CurrentStep,
		&job.TotalCharacters, &job.EstimatedDuration, &job.ErrorMessage, &job.BackgroundAudio, &job.AudioURL,
		&job.CreatedAt, &job.UpdatedAt)
	return job, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ UserRepository = (*PostgresUserRepository)(nil)
var _ JobRepository = (*PostgresJobRepository)(nil)
