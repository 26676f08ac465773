package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readaloud/client/internal/models"
)

func TestStateSetPersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	state := NewState(store, nil)

	var seen []models.Session
	unsubscribe := state.Subscribe(func(s models.Session) { seen = append(seen, s) })

	want := models.Session{AccessToken: "T1", RefreshToken: "R1", EmailVerified: true}
	require.NoError(t, state.Set(ctx, want))

	assert.Equal(t, want, state.Get())
	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, persisted)
	assert.Equal(t, []models.Session{want}, seen)

	unsubscribe()
	require.NoError(t, state.Set(ctx, models.Session{AccessToken: "T2", RefreshToken: "R2"}))
	assert.Len(t, seen, 1)
}

func TestStateClearPurgesSessionAndUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	state := NewState(store, nil)

	require.NoError(t, state.Set(ctx, models.Session{AccessToken: "T1", RefreshToken: "R1"}))
	state.SetUser(models.User{ID: "u1"})

	require.NoError(t, state.Clear(ctx))

	assert.False(t, state.Get().LoggedIn())
	_, ok := state.User()
	assert.False(t, ok)
	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Session{}, persisted)
}

func TestStateLoadRestoresFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	first := NewState(NewFileStore(path), nil)
	require.NoError(t, first.Set(ctx, models.Session{AccessToken: "T1", RefreshToken: "R1", EmailVerified: true}))

	second := NewState(NewFileStore(path), nil)
	require.NoError(t, second.Load(ctx))
	assert.Equal(t, "T1", second.Get().AccessToken)
	assert.True(t, second.Get().EmailVerified)

	require.NoError(t, second.Clear(ctx))
	third := NewState(NewFileStore(path), nil)
	require.NoError(t, third.Load(ctx))
	assert.False(t, third.Get().LoggedIn())
}

func TestFileStorePurgeMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, store.Purge(context.Background()))
}

func TestCoordinatorSingleSlot(t *testing.T) {
	c := NewCoordinator()

	require.True(t, c.TryAcquire())
	assert.True(t, c.Refreshing())
	assert.False(t, c.TryAcquire())

	c.Release()
	assert.False(t, c.Refreshing())
	assert.True(t, c.TryAcquire())
	c.Release()
	c.Release()
}

func TestCoordinatorWaitUntilFreeWakesAllWaiters(t *testing.T) {
	c := NewCoordinator()
	require.True(t, c.TryAcquire())

	var woke atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.WaitUntilFree(context.Background()); err == nil {
				woke.Add(1)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), woke.Load())

	c.Release()
	wg.Wait()
	assert.Equal(t, int32(5), woke.Load())
}

func TestCoordinatorWaitHonoursContext(t *testing.T) {
	c := NewCoordinator()
	require.True(t, c.TryAcquire())
	defer c.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.WaitUntilFree(ctx), context.DeadlineExceeded)
}

func TestCoordinatorWaitReturnsImmediatelyWhenFree(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.WaitUntilFree(context.Background()))
}

// countingStore records how often the state writes through to storage.
type countingStore struct {
	MemoryStore
	saves   atomic.Int32
	purges  atomic.Int32
	saveErr error
}

func (s *countingStore) Save(ctx context.Context, session models.Session) error {
	s.saves.Add(1)
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MemoryStore.Save(ctx, session)
}

func (s *countingStore) Purge(ctx context.Context) error {
	s.purges.Add(1)
	return s.MemoryStore.Purge(ctx)
}

func TestStateWritesThroughOncePerChange(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{}
	state := NewState(store, nil)

	require.NoError(t, state.Set(ctx, models.Session{AccessToken: "T1", RefreshToken: "R1"}))
	require.NoError(t, state.Set(ctx, models.Session{AccessToken: "T2", RefreshToken: "R2"}))
	require.NoError(t, state.Clear(ctx))

	assert.Equal(t, int32(2), store.saves.Load())
	assert.Equal(t, int32(1), store.purges.Load())
}

func TestStateSetKeepsSessionWhenSaveFails(t *testing.T) {
	store := &countingStore{saveErr: errors.New("disk full")}
	state := NewState(store, nil)

	want := models.Session{AccessToken: "T1", RefreshToken: "R1"}
	err := state.Set(context.Background(), want)

	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, want, state.Get())
	assert.Equal(t, int32(1), store.saves.Load())
}
