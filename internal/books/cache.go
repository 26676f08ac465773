package books

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/readaloud/client/internal/models"
	"github.com/readaloud/client/internal/progress"
)

// Cache tags understood by the book views.
const (
	TagBooks = progress.BooksTag
	TagUser  = "user"
)

// DefaultTTL bounds how long a fetched list is served without re-fetching.
const DefaultTTL = time.Minute

// Lister fetches the caller's jobs.
type Lister interface {
	ListBooks(ctx context.Context) ([]models.Job, error)
}

// ListCache wraps a Lister with a TTL-based in-memory cache. Concurrent
// misses share one fetch, and an invalidation discards any fetch already
// in flight.
type ListCache struct {
	base  Lister
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	jobs    []models.Job
	loaded  bool
	expires time.Time
	gen     uint64
}

// NewListCache returns a cache that serves lookups for the provided TTL.
func NewListCache(base Lister, ttl time.Duration) *ListCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ListCache{base: base, ttl: ttl, now: time.Now}
}

// List returns the cached jobs when fresh, otherwise it delegates to the
// underlying lister and stores the result.
func (c *ListCache) List(ctx context.Context) ([]models.Job, error) {
	if c == nil || c.base == nil {
		return nil, ErrListerUnavailable
	}

	c.mu.RLock()
	if c.loaded && c.now().Before(c.expires) {
		jobs := clone(c.jobs)
		c.mu.RUnlock()
		return jobs, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	// The shared fetch outlives any one caller's cancellation.
	fetch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		jobs, err := c.base.ListBooks(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gen == gen {
			c.jobs = jobs
			c.loaded = true
			c.expires = c.now().Add(c.ttl)
		}
		c.mu.Unlock()
		return jobs, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-fetch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]models.Job)), nil
	}
}

// InProgress lists jobs that are still being converted.
func (c *ListCache) InProgress(ctx context.Context) ([]models.Job, error) {
	jobs, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	return InProgress(jobs), nil
}

// Completed lists jobs with playable audio.
func (c *ListCache) Completed(ctx context.Context) ([]models.Job, error) {
	jobs, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	return Completed(jobs), nil
}

// Invalidate drops the cached list when TagBooks is among tags.
func (c *ListCache) Invalidate(tags ...string) {
	for _, tag := range tags {
		if tag == TagBooks {
			c.drop()
			return
		}
	}
}

// Reset drops everything. It has the shape of a logout hook.
func (c *ListCache) Reset(_ context.Context) {
	c.drop()
}

func (c *ListCache) drop() {
	c.mu.Lock()
	c.jobs = nil
	c.loaded = false
	c.expires = time.Time{}
	c.gen++
	c.mu.Unlock()
}

func clone(jobs []models.Job) []models.Job {
	if jobs == nil {
		return []models.Job{}
	}
	out := make([]models.Job, len(jobs))
	copy(out, jobs)
	return out
}
