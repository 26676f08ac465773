package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/readaloud/client/internal/db"
	"github.com/readaloud/client/internal/handlers"
	"github.com/readaloud/client/internal/httpserver"
	"github.com/readaloud/client/internal/metrics"
	"github.com/readaloud/client/internal/middleware"
)

func (e *env) serveCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development backend",
		Long:  `serve runs a local implementation of the readaloud API, including a simulated conversion pipeline. Data is kept in memory unless a database URL is configured.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port == 0 {
				port = e.cfg.Server.Port
			}
			return e.serve(cmd.Context(), port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "P", 0, "Port to listen on (defaults to server.port)")
	return cmd
}

func (e *env) serve(ctx context.Context, port int) error {
	cfg, logger := e.cfg, e.logger

	var pool db.Pool
	if cfg.Server.DatabaseURL != "" {
		pgPool, err := db.Connect(ctx, cfg.Server.DatabaseURL)
		if err != nil {
			return err
		}
		defer pgPool.Close()
		pool = pgPool
		logger.Info("using postgres storage")
	} else {
		logger.Warn("no database configured, data is kept in memory")
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	deps, cleanup, err := buildDependencies(ctx, pool, cfg, collector, logger)
	if err != nil {
		return err
	}
	deps.Middleware = []func(http.Handler) http.Handler{middleware.RequestLogger(logger)}
	if cfg.Server.MetricsEnabled {
		deps.MetricsHandler = metrics.Handler(registry)
	}

	srv := httpserver.New(port, handlers.NewRouter(deps), logger)
	logger.Info("starting http server", "port", port)
	runErr := srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()
	if err := cleanup(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("stop pipeline: %w", err))
	}
	return runErr
}

func (e *env) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg.Server.DatabaseURL == "" {
				return errors.New("migrate needs server.database_url (READALOUD_DATABASE_URL)")
			}
			command := "up"
			if len(args) > 0 {
				command = args[0]
			}
			summary, err := db.Migrate(e.cfg.Server.DatabaseURL, command)
			if err != nil {
				return err
			}
			fmt.Fprintln(e.out, summary)
			return nil
		},
	}
}
