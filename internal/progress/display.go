// Package progress turns server-reported job snapshots into a stable display
// percentage and label, and polls jobs while their view is focused.
package progress

import (
	"github.com/readaloud/client/internal/models"
)

// Fallback display used when neither an event nor the step table applies.
const (
	DefaultPercent = 5
	DefaultLabel   = "Processing..."
)

// Display is what a job card renders.
type Display struct {
	Percent int
	Label   string
	Step    models.JobStep
	Status  models.JobStatus
}

// Complete reports whether the display represents a finished job.
func (d Display) Complete() bool {
	return d.Percent >= 100 || d.Status == models.StatusCompleted
}

// Failed reports whether the job ended in error.
func (d Display) Failed() bool {
	return d.Status == models.StatusFailed || d.Step == models.StepError
}

// Terminal reports whether no further updates are expected.
func (d Display) Terminal() bool {
	return d.Status.Terminal() || d.Step.Terminal()
}

// DisplayProgress computes the progress shown for job. Fields present in
// snapshot take precedence over the job's own. The most recent event for the
// current step wins; otherwise the step's static baseline is used.
func DisplayProgress(job models.Job, snapshot *models.BookProgress) Display {
	step, status, events := job.CurrentStep, job.Status, job.Events
	if snapshot != nil {
		if snapshot.CurrentStep != "" {
			step = snapshot.CurrentStep
		}
		if snapshot.Status != "" {
			status = snapshot.Status
		}
		if snapshot.Events != nil {
			events = snapshot.Events
		}
	}

	d := Display{Step: step, Status: status}

	if ev, ok := latestEventFor(events, step); ok {
		d.Percent = clampPercent(ev.Progress)
		d.Label = ev.Message
		if d.Label == "" {
			d.Label = staticLabel(step)
		}
		return d
	}

	if baseline, ok := step.Baseline(); ok {
		d.Percent = baseline
		d.Label, _ = step.Label()
		return d
	}

	d.Percent = DefaultPercent
	d.Label = DefaultLabel
	return d
}

// latestEventFor returns the newest event for step. Ties on createdAt go to
// the later entry in the list.
func latestEventFor(events []models.JobEvent, step models.JobStep) (models.JobEvent, bool) {
	var (
		best  models.JobEvent
		found bool
	)
	for _, ev := range events {
		if ev.Step != step {
			continue
		}
		if !found || !ev.CreatedAt.Before(best.CreatedAt) {
			best = ev
			found = true
		}
	}
	return best, found
}

func staticLabel(step models.JobStep) string {
	if label, ok := step.Label(); ok {
		return label
	}
	return DefaultLabel
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
