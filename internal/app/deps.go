package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/readaloud/client/internal/auth"
	"github.com/readaloud/client/internal/config"
	"github.com/readaloud/client/internal/db"
	"github.com/readaloud/client/internal/handlers"
	"github.com/readaloud/client/internal/metrics"
	"github.com/readaloud/client/internal/middleware"
	"github.com/readaloud/client/internal/pipeline"
	"github.com/readaloud/client/internal/repositories"
)

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. A nil pool keeps all data in memory. The returned cleanup drains
// the conversion pipeline.
func buildDependencies(_ context.Context, pool db.Pool, cfg config.Config, rec metrics.Recorder, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	var (
		users        repositories.UserRepository
		jobs         repositories.JobRepository
		sessionStore auth.SessionStore
	)
	if pool != nil {
		users = repositories.NewPostgresUserRepository(pool)
		jobs = repositories.NewPostgresJobRepository(pool)
		sessionStore = repositories.NewPostgresSessionStore(pool)
	} else {
		users = repositories.NewMemoryUserRepository()
		jobs = repositories.NewMemoryJobRepository()
		sessionStore = auth.NewInMemorySessionStore()
	}

	pipe := pipeline.New(jobs, pipeline.Config{
		Workers:   cfg.Server.PipelineWorkers,
		StepDelay: cfg.Server.StepDelay,
	}, rec, logger)

	var loginLimiter handlers.RateLimiter
	if cfg.Server.LoginRate > 0 {
		loginLimiter = middleware.NewKeyedLimiter(middleware.RateLimit{
			Requests: cfg.Server.LoginRate,
			Window:   time.Minute,
			Burst:    cfg.Server.LoginRate,
			TTL:      10 * time.Minute,
		})
	}

	deps := handlers.Dependencies{
		Users:         users,
		Sessions:      auth.NewManager(cfg.Server.AccessTTL, cfg.Server.RefreshTTL, sessionStore),
		Jobs:          jobs,
		Queue:         pipe,
		SignupCredits: cfg.Server.SignupCredits,
		Recorder:      rec,
		LoginLimiter:  loginLimiter,
	}
	return deps, pipe.Shutdown, nil
}
