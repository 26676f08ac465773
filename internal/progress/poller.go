package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/readaloud/client/internal/api"
	"github.com/readaloud/client/internal/metrics"
	"github.com/readaloud/client/internal/middleware"
	"github.com/readaloud/client/internal/models"
)

// DefaultInterval is how often a focused job view re-fetches progress.
const DefaultInterval = 30 * time.Second

// PollLimitKey is the rate limiter key shared by every poller.
const PollLimitKey = "books/progress"

// ErrSessionEnded is returned by Run once the backend rejects a poll as
// unauthenticated. Polling without a session cannot recover.
var ErrSessionEnded = errors.New("progress: session ended")

// Source fetches the live progress of a job.
type Source interface {
	BookProgress(ctx context.Context, id string) (models.BookProgress, error)
}

// PollerOptions tunes a Poller.
type PollerOptions struct {
	Interval time.Duration
	// Limiter caps polling across all pollers sharing it. Throttled ticks are skipped.
	Limiter  middleware.RateLimiter
	OnUpdate func(jobID string, d Display)
	Metrics  metrics.Recorder
	Logger   *slog.Logger
}

// Poller re-fetches one job's progress on a fixed interval, but only while
// its consumer is focused. It stops once the job reaches a terminal state.
type Poller struct {
	source  Source
	tracker *Tracker
	opts    PollerOptions
	now     func() time.Time

	mu       sync.Mutex
	focused  bool
	lastPoll time.Time
	wake     chan struct{}
}

// NewPoller binds tracker to source.
func NewPoller(source Source, tracker *Tracker, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Metrics = metrics.OrNop(opts.Metrics)

	return &Poller{
		source:  source,
		tracker: tracker,
		opts:    opts,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// Tracker returns the tracker the poller feeds.
func (p *Poller) Tracker() *Tracker {
	return p.tracker
}

// SetFocused suspends or resumes polling. Resuming polls immediately when the
// last poll is older than one interval.
func (p *Poller) SetFocused(focused bool) {
	p.mu.Lock()
	changed := p.focused != focused
	p.focused = focused
	p.mu.Unlock()

	if !changed {
		return
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Focused reports the current focus state.
func (p *Poller) Focused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused
}

// Run polls until ctx is done or the job finishes. It polls once right away
// when started focused, and returns ErrSessionEnded once the backend stops
// accepting the session.
func (p *Poller) Run(ctx context.Context) error {
	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	start := func() {
		if ticker == nil {
			ticker = time.NewTicker(p.opts.Interval)
			tick = ticker.C
		}
	}
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer stop()

	if p.tracker.Current().Terminal() {
		return nil
	}

	// finished reports whether Run should return, and with what.
	finished := func() (bool, error) {
		d, err := p.poll(ctx)
		if err != nil {
			return true, err
		}
		return d.Terminal(), nil
	}

	if p.Focused() {
		if done, err := finished(); done {
			return err
		}
		start()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
			if !p.Focused() {
				stop()
				continue
			}
			if p.stale() {
				if done, err := finished(); done {
					return err
				}
			}
			start()
		case <-tick:
			if done, err := finished(); done {
				return err
			}
		}
	}
}

// Poll fetches progress once and returns the resulting display. Errors and
// throttled attempts return the last known display.
func (p *Poller) Poll(ctx context.Context) Display {
	d, _ := p.poll(ctx)
	return d
}

// poll is Poll that also returns ErrSessionEnded on a 401.
func (p *Poller) poll(ctx context.Context) (Display, error) {
	jobID := p.tracker.JobID()
	logger := p.opts.Logger.With(slog.String("jobId", jobID))

	if p.opts.Limiter != nil && !p.opts.Limiter.Allow(PollLimitKey) {
		p.opts.Metrics.RecordPoll(metrics.PollThrottle)
		logger.Debug("progress poll throttled")
		return p.tracker.Current(), nil
	}

	p.mu.Lock()
	p.lastPoll = p.now()
	p.mu.Unlock()

	snapshot, err := p.source.BookProgress(ctx, jobID)
	if err != nil {
		p.opts.Metrics.RecordPoll(metrics.PollError)
		if api.IsUnauthorized(err) {
			logger.Info("progress polling stopped, session ended")
			return p.tracker.Current(), ErrSessionEnded
		}
		logger.Warn("progress poll failed, keeping last display", "error", err)
		return p.tracker.Current(), nil
	}

	p.opts.Metrics.RecordPoll(metrics.PollOK)
	d := p.tracker.Observe(snapshot)
	if p.opts.OnUpdate != nil {
		p.opts.OnUpdate(jobID, d)
	}
	return d, nil
}

func (p *Poller) stale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPoll.IsZero() || p.now().Sub(p.lastPoll) >= p.opts.Interval
}
