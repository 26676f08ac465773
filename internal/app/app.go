// Package app wires configuration, logging and dependencies into the
// readaloud command tree.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/readaloud/client/internal/books"
	"github.com/readaloud/client/internal/config"
	"github.com/readaloud/client/internal/storage"
)

// Run executes the readaloud command line with args.
func Run(ctx context.Context, args []string) error {
	root := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// env is the state shared by every command of one invocation.
type env struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	errMu  sync.Mutex

	configPath string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger

	newUploader func(ctx context.Context, cfg config.ObjectStoreConfig) (books.Uploader, error)
}

// NewRootCommand builds the command tree reading from in and writing to out and errOut.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	e := &env{
		in:          in,
		out:         out,
		errOut:      errOut,
		newUploader: defaultUploader,
	}
	return e.rootCommand()
}

func (e *env) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "readaloud",
		Short:         "Turn PDFs into narrated audiobooks",
		Long:          `readaloud uploads PDFs for conversion, follows their progress, and resolves the finished audio. The serve command runs a local backend for development.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetIn(e.in)
	root.SetOut(e.out)
	root.SetErr(e.errOut)

	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	root.AddCommand(
		e.loginCommand(),
		e.registerCommand(),
		e.logoutCommand(),
		e.whoamiCommand(),
		e.forgotPasswordCommand(),
		e.profilePhotoCommand(),
		e.submitCommand(),
		e.booksCommand(),
		e.watchCommand(),
		e.showCommand(),
		e.audioCommand(),
		e.plansCommand(),
		e.checkoutCommand(),
		e.serveCommand(),
		e.migrateCommand(),
	)
	return root
}

func (e *env) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return err
	}
	if e.logLevel != "" {
		cfg.LogLevel = e.logLevel
	}
	e.cfg = cfg

	if cmd.Name() == "serve" {
		e.logger = newLogger(e.out, cfg.LogLevel, true)
	} else {
		e.logger = newLogger(e.errOut, cfg.LogLevel, false)
	}
	slog.SetDefault(e.logger)
	return nil
}

// newLogger returns a JSON logger for the server and a text logger for client commands.
func newLogger(w io.Writer, level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if json {
		opts.AddSource = true
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func defaultUploader(ctx context.Context, cfg config.ObjectStoreConfig) (books.Uploader, error) {
	up, err := storage.NewS3Uploader(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	return up, nil
}
