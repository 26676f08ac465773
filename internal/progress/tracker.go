package progress

import (
	"sync"

	"github.com/readaloud/client/internal/metrics"
	"github.com/readaloud/client/internal/models"
)

// BooksTag names the cached job list invalidated when a job completes.
const BooksTag = "books"

// Invalidator drops cached data carrying any of the given tags.
type Invalidator interface {
	Invalidate(tags ...string)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(tags ...string)

func (f InvalidatorFunc) Invalidate(tags ...string) { f(tags...) }

// Tracker interprets successive snapshots of one job. The percentage it
// reports never decreases, and completion is signalled exactly once.
type Tracker struct {
	inv     Invalidator
	metrics metrics.Recorder

	mu        sync.Mutex
	job       models.Job
	current   Display
	completed bool
	failed    bool
}

// NewTracker starts tracking job from its listed state. A job that is already
// complete does not signal; the list it came from is current.
func NewTracker(job models.Job, inv Invalidator, rec metrics.Recorder) *Tracker {
	current := DisplayProgress(job, nil)
	return &Tracker{
		inv:       inv,
		metrics:   metrics.OrNop(rec),
		job:       job,
		current:   current,
		completed: current.Complete(),
		failed:    current.Failed(),
	}
}

// JobID returns the tracked job's id.
func (t *Tracker) JobID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job.ID
}

// Current returns the last computed display. A failed poll leaves it untouched.
func (t *Tracker) Current() Display {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Completed reports whether the completion signal has fired.
func (t *Tracker) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Observe folds a freshly polled snapshot into the display.
func (t *Tracker) Observe(snapshot models.BookProgress) Display {
	t.mu.Lock()

	if snapshot.Status != "" {
		t.job.Status = snapshot.Status
	}
	if snapshot.CurrentStep != "" {
		t.job.CurrentStep = snapshot.CurrentStep
	}
	if snapshot.Events != nil {
		t.job.Events = snapshot.Events
	}

	next := DisplayProgress(t.job, nil)
	if next.Percent < t.current.Percent {
		next.Percent = t.current.Percent
	}
	t.current = next

	fire := next.Complete() && !t.completed
	if fire {
		t.completed = true
	}
	// Failures refresh the list too, without signalling completion.
	failed := !fire && next.Failed() && !t.failed
	if failed {
		t.failed = true
	}
	t.mu.Unlock()

	if fire {
		t.metrics.RecordCompletion()
	}
	if (fire || failed) && t.inv != nil {
		t.inv.Invalidate(BooksTag)
	}
	return next
}
