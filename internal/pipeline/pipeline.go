// Package pipeline simulates the backend conversion worker for local
// development. Each job walks the step sequence on a timer and records an
// event per transition, the same shape the real service produces.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/readaloud/client/internal/metrics"
	"github.com/readaloud/client/internal/models"
	"github.com/readaloud/client/internal/repositories"
)

// FailMarker in a source URL drives the job to ERROR after download.
const FailMarker = "fail"

// FailureMessage is recorded on jobs that fail in simulation.
const FailureMessage = "Could not read the PDF. The file may be corrupted or password protected."

// charsPerSecond approximates narration speed for duration estimates.
const charsPerSecond = 15

var errPipelineClosed = errors.New("pipeline closed")

// Advancer records step transitions.
type Advancer interface {
	Advance(ctx context.Context, jobID string, update repositories.JobUpdate) error
}

// Config controls the concurrency and pacing of the simulator.
type Config struct {
	QueueSize int
	Workers   int
	StepDelay time.Duration
}

// Pipeline runs queued jobs through the conversion steps on a worker pool.
type Pipeline struct {
	repo    Advancer
	delay   time.Duration
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time

	jobs   chan models.Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New starts cfg.Workers workers.
func New(repo Advancer, cfg Config, rec metrics.Recorder, logger *slog.Logger) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.StepDelay < 0 {
		cfg.StepDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pipeline{
		repo:    repo,
		delay:   cfg.StepDelay,
		metrics: metrics.OrNop(rec),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		jobs:    make(chan models.Job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	return p
}

// Enqueue schedules job for processing.
func (p *Pipeline) Enqueue(ctx context.Context, job models.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return errPipelineClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return errPipelineClosed
	case p.jobs <- job:
		return nil
	}
}

// Shutdown stops accepting jobs and waits for the workers to exit.
// In-flight jobs stop at their current step.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.once.Do(p.cancel)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			p.process(job)
		}
	}
}

func (p *Pipeline) process(job models.Job) {
	logger := p.logger.With(slog.String("jobId", job.ID))
	step := job.CurrentStep
	if !step.Known() {
		step = models.StepUploadReceived
	}

	for {
		next, ok := step.Next()
		if !ok {
			return
		}
		if !p.wait() {
			logger.Info("pipeline stopped mid-job", "step", step)
			return
		}

		if next == models.StepExtractingText && strings.Contains(strings.ToLower(job.SourcePDFURL), FailMarker) {
			msg := FailureMessage
			p.advance(logger, job.ID, repositories.JobUpdate{
				Event:        p.event(models.StepError, msg, 0),
				ErrorMessage: &msg,
			})
			return
		}

		update := repositories.JobUpdate{Event: p.event(next, "", baseline(next))}
		switch next {
		case models.StepExtractingText:
			chars := 1500 * (len(job.OriginalFilename) + 1)
			duration := chars / charsPerSecond
			update.TotalCharacters = chars
			update.EstimatedDuration = &duration
		case models.StepCompleted:
			update.AudioURL = audioURL(job.SourcePDFURL)
		}
		if !p.advance(logger, job.ID, update) {
			return
		}

		if next == models.StepGeneratingAudio {
			if !p.wait() {
				return
			}
			mid := (baseline(models.StepGeneratingAudio) + baseline(models.StepMixingAudio)) / 2
			if !p.advance(logger, job.ID, repositories.JobUpdate{
				Event: p.event(next, "Generating audio... 50%", mid),
			}) {
				return
			}
		}
		step = next
	}
}

func (p *Pipeline) advance(logger *slog.Logger, jobID string, update repositories.JobUpdate) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.repo.Advance(ctx, jobID, update); err != nil {
		logger.Error("record job step", "step", update.Event.Step, "error", err)
		return false
	}
	p.metrics.RecordJobStep(string(update.Event.Step))
	logger.Debug("job advanced", "step", update.Event.Step, "progress", update.Event.Progress)
	return true
}

func (p *Pipeline) event(step models.JobStep, message string, progress int) models.JobEvent {
	if message == "" {
		message, _ = step.Label()
	}
	return models.JobEvent{
		ID:        uuid.NewString(),
		Step:      step,
		Status:    models.StatusForStep(step),
		Message:   message,
		Progress:  progress,
		CreatedAt: p.now(),
	}
}

// wait sleeps one step delay and reports false once the pipeline is closing.
func (p *Pipeline) wait() bool {
	if p.delay == 0 {
		return p.ctx.Err() == nil
	}
	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-p.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func baseline(step models.JobStep) int {
	b, _ := step.Baseline()
	return b
}

func audioURL(source string) string {
	if i := strings.LastIndex(source, "."); i > strings.LastIndex(source, "/") {
		source = source[:i]
	}
	return fmt.Sprintf("%s.mp3", source)
}
