package progress

import (
	"context"
	"errors"
	"sync"

	"github.com/readaloud/client/internal/models"
)

type boardEntry struct {
	poller *Poller
	cancel context.CancelFunc
}

// Board runs one Poller per in-progress job and fans focus changes out to
// all of them.
type Board struct {
	source Source
	inv    Invalidator
	opts   PollerOptions

	mu      sync.Mutex
	focused bool
	ended   bool
	entries map[string]*boardEntry
	wg      sync.WaitGroup
}

// NewBoard returns an empty, unfocused board.
func NewBoard(source Source, inv Invalidator, opts PollerOptions) *Board {
	return &Board{
		source:  source,
		inv:     inv,
		opts:    opts,
		entries: make(map[string]*boardEntry),
	}
}

// Track starts polling job unless it is already tracked or finished.
func (b *Board) Track(ctx context.Context, job models.Job) bool {
	if !job.InProgress() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[job.ID]; ok {
		return false
	}

	tracker := NewTracker(job, b.inv, b.opts.Metrics)
	poller := NewPoller(b.source, tracker, b.opts)
	pollCtx, cancel := context.WithCancel(ctx)
	b.entries[job.ID] = &boardEntry{poller: poller, cancel: cancel}

	poller.SetFocused(b.focused)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		err := poller.Run(pollCtx)
		b.remove(job.ID, poller)
		if errors.Is(err, ErrSessionEnded) {
			b.mu.Lock()
			b.ended = true
			b.mu.Unlock()
			b.stopAll()
		}
	}()
	return true
}

// Untrack stops polling the job.
func (b *Board) Untrack(jobID string) {
	b.mu.Lock()
	entry, ok := b.entries[jobID]
	if ok {
		delete(b.entries, jobID)
	}
	b.mu.Unlock()

	if ok {
		entry.cancel()
	}
}

// SetFocused propagates focus to every tracked job.
func (b *Board) SetFocused(focused bool) {
	b.mu.Lock()
	b.focused = focused
	pollers := make([]*Poller, 0, len(b.entries))
	for _, e := range b.entries {
		pollers = append(pollers, e.poller)
	}
	b.mu.Unlock()

	for _, p := range pollers {
		p.SetFocused(focused)
	}
}

// Tracked returns the ids of jobs still being polled.
func (b *Board) Tracked() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	return ids
}

// Displays returns the latest display of every tracked job.
func (b *Board) Displays() map[string]Display {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Display, len(b.entries))
	for id, e := range b.entries {
		out[id] = e.poller.Tracker().Current()
	}
	return out
}

// Close stops all pollers and waits for them to exit.
func (b *Board) Close() {
	b.stopAll()
	b.wg.Wait()
}

// SessionEnded reports whether polling stopped because the session ended.
func (b *Board) SessionEnded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ended
}

func (b *Board) stopAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, e := range b.entries {
		e.cancel()
		delete(b.entries, id)
	}
}

// Wait blocks until every tracked job has finished or been untracked.
func (b *Board) Wait() {
	b.wg.Wait()
}

func (b *Board) remove(jobID string, p *Poller) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[jobID]; ok && e.poller == p {
		e.cancel()
		delete(b.entries, jobID)
	}
}
