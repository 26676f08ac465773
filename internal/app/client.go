package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/readaloud/client/internal/api"
	"github.com/readaloud/client/internal/books"
	"github.com/readaloud/client/internal/metrics"
	"github.com/readaloud/client/internal/middleware"
	"github.com/readaloud/client/internal/progress"
	"github.com/readaloud/client/internal/session"
)

var errNotLoggedIn = errors.New("not logged in: run `readaloud login` first")

// clientApp holds the collaborators a client command works with.
type clientApp struct {
	env     *env
	api     *api.Client
	state   *session.State
	books   *books.ListCache
	metrics *metrics.Collector
	limiter *middleware.KeyedLimiter
	inv     progress.Invalidator
}

func (e *env) newClientApp(ctx context.Context) (*clientApp, error) {
	cfg, logger := e.cfg, e.logger

	collector := metrics.NewCollector(prometheus.NewRegistry())

	var store session.Store = session.NewMemoryStore()
	if cfg.API.SessionPath != "" {
		store = session.NewFileStore(cfg.API.SessionPath)
	}
	state := session.NewState(store, logger)
	if err := state.Load(ctx); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout:   cfg.API.RequestTimeout,
		Transport: middleware.Transport(nil, middleware.OutboundLogger(logger)),
	}

	client, err := api.New(api.Options{
		BaseURL:     cfg.API.BaseURL,
		Doer:        httpClient,
		State:       state,
		Coordinator: session.NewCoordinator(),
		Navigator: api.NavigatorFunc(func() {
			fmt.Fprintln(e.errOut, "Your session has ended. Please log in again.")
		}),
		Metrics: collector,
		Logger:  logger,

		RefreshTimeout: cfg.API.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	cache := books.NewListCache(client, cfg.API.BooksCacheTTL)
	client.OnLogout(cache.Reset)

	a := &clientApp{
		env:     e,
		api:     client,
		state:   state,
		books:   cache,
		metrics: collector,
		limiter: middleware.NewKeyedLimiter(middleware.RateLimit{
			Requests: cfg.Polling.Rate,
			Window:   time.Minute,
			Burst:    cfg.Polling.Burst,
		}),
	}
	a.inv = progress.InvalidatorFunc(a.invalidate)
	return a, nil
}

// invalidate drops cached books and refreshes the user record when credits may have changed.
func (a *clientApp) invalidate(tags ...string) {
	a.books.Invalidate(tags...)
	for _, tag := range tags {
		if tag != books.TagUser {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.env.cfg.API.RequestTimeout)
		if _, err := a.api.Me(ctx); err != nil {
			a.env.logger.Debug("refresh user after invalidation", "error", err)
		}
		cancel()
	}
}

func (a *clientApp) requireLogin() error {
	if !a.state.Get().LoggedIn() {
		return errNotLoggedIn
	}
	return nil
}

func (a *clientApp) pollerOptions(onUpdate func(string, progress.Display)) progress.PollerOptions {
	return progress.PollerOptions{
		Interval: a.env.cfg.Polling.Interval,
		Limiter:  a.limiter,
		OnUpdate: onUpdate,
		Metrics:  a.metrics,
		Logger:   a.env.logger,
	}
}
