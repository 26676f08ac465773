package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readaloud/client/internal/models"
	"github.com/readaloud/client/internal/session"
)

// fakeBackend accepts a single valid access token and rotates it on refresh.
type fakeBackend struct {
	mu           sync.Mutex
	validToken   string
	validRefresh string
	nextAccess   string
	nextRefresh  string

	refreshCalls  atomic.Int32
	refreshStatus int
	refreshGate   func()
	booksCalls    atomic.Int32
	staleArrivals atomic.Int32
	booksStatus   int
}

// holdUntilStale delays the refresh until n callers have been rejected with
// the old token, or a short deadline passes.
func (b *fakeBackend) holdUntilStale(n int32) func() {
	return func() {
		deadline := time.Now().Add(200 * time.Millisecond)
		for b.staleArrivals.Load() < n && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		if b.refreshGate != nil {
			b.refreshGate()
		}
		if b.refreshStatus != 0 {
			writeJSON(w, b.refreshStatus, models.MessageResponse{Message: "refresh rejected"})
			return
		}
		var req models.RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		defer b.mu.Unlock()
		if req.RefreshToken != b.validRefresh {
			writeJSON(w, http.StatusUnauthorized, models.MessageResponse{Message: "refresh rejected"})
			return
		}
		b.validToken, b.validRefresh = b.nextAccess, b.nextRefresh
		now := time.Now()
		writeJSON(w, http.StatusOK, models.RefreshResponse{
			User:         models.User{ID: "u1", Email: "a@b.com", EmailVerifiedAt: &now},
			AccessToken:  b.nextAccess,
			RefreshToken: b.nextRefresh,
		})
	})
	mux.HandleFunc("/api/v1/books", func(w http.ResponseWriter, r *http.Request) {
		b.booksCalls.Add(1)
		if b.booksStatus != 0 {
			writeJSON(w, b.booksStatus, models.MessageResponse{Message: "books unavailable"})
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		b.mu.Lock()
		valid := token != "" && token == b.validToken
		b.mu.Unlock()
		if !valid {
			b.staleArrivals.Add(1)
			writeJSON(w, http.StatusUnauthorized, models.MessageResponse{Message: "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, models.BooksResponse{Jobs: []models.Job{{ID: "job-1", Status: models.StatusPending, CurrentStep: models.StepUploadReceived}}})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type countingNavigator struct{ calls atomic.Int32 }

func (n *countingNavigator) GoToLogin() { n.calls.Add(1) }

func newTestClient(t *testing.T, backend http.Handler, initial models.Session) (*Client, *session.State, *countingNavigator) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	state := session.NewState(session.NewMemoryStore(), nil)
	require.NoError(t, state.Set(context.Background(), initial))

	nav := &countingNavigator{}
	client, err := New(Options{
		BaseURL:   srv.URL + "/api/v1",
		Doer:      srv.Client(),
		State:     state,
		Navigator: nav,
	})
	require.NoError(t, err)
	return client, state, nav
}

func TestRefreshThenReplayWithNewToken(t *testing.T) {
	backend := &fakeBackend{validToken: "T0", validRefresh: "R1", nextAccess: "T2", nextRefresh: "R2"}
	client, state, nav := newTestClient(t, backend.handler(), models.Session{AccessToken: "T1", RefreshToken: "R1"})

	res, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "books"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(2), backend.booksCalls.Load())
	assert.Equal(t, models.Session{AccessToken: "T2", RefreshToken: "R2", EmailVerified: true}, state.Get())
	_, ok := state.User()
	assert.True(t, ok)
	assert.Equal(t, int32(0), nav.calls.Load())
}

func TestConcurrentFailuresShareOneRefresh(t *testing.T) {
	const callers = 8

	backend := &fakeBackend{validToken: "T0", validRefresh: "R1", nextAccess: "T2", nextRefresh: "R2"}
	backend.refreshGate = backend.holdUntilStale(callers)
	client, state, nav := newTestClient(t, backend.handler(), models.Session{AccessToken: "T1", RefreshToken: "R1"})

	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.Do(context.Background(), Request{Method: http.MethodGet, Path: "books"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, results[i].StatusCode, "caller %d", i)
	}
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.LessOrEqual(t, backend.booksCalls.Load(), int32(2*callers))
	assert.Equal(t, "T2", state.Get().AccessToken)
	assert.Equal(t, int32(0), nav.calls.Load())
}

func TestMissingRefreshTokenLogsOut(t *testing.T) {
	backend := &fakeBackend{validToken: "T0"}
	client, state, nav := newTestClient(t, backend.handler(), models.Session{AccessToken: "T1"})

	var hookCalls int
	client.OnLogout(func(context.Context) { hookCalls++ })

	res, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "books"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, int32(0), backend.refreshCalls.Load())
	assert.False(t, state.Get().LoggedIn())
	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, int32(1), nav.calls.Load())
}

func TestRefreshRejectionReturnsOriginal401(t *testing.T) {
	backend := &fakeBackend{validToken: "T0", validRefresh: "R1", refreshStatus: http.StatusForbidden}
	client, state, nav := newTestClient(t, backend.handler(), models.Session{AccessToken: "T1", RefreshToken: "R1"})

	res, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "books"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	apiErr := res.Err().(*APIError)
	assert.Equal(t, "token expired", apiErr.Message)
	assert.Equal(t, int32(1), backend.booksCalls.Load())
	assert.Equal(t, models.Session{}, state.Get())
	assert.Equal(t, int32(1), nav.calls.Load())
}

func TestConcurrentRefreshFailureNavigatesOnce(t *testing.T) {
	const callers = 6

	backend := &fakeBackend{validToken: "T0", validRefresh: "R1", refreshStatus: http.StatusUnauthorized}
	backend.refreshGate = backend.holdUntilStale(callers)
	client, state, nav := newTestClient(t, backend.handler(), models.Session{AccessToken: "T1", RefreshToken: "R1"})

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "books"})
			if assert.NoError(t, err) {
				assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(1), nav.calls.Load())
	assert.False(t, state.Get().LoggedIn())
}

type failingRefreshDoer struct {
	next Doer
}

func (d failingRefreshDoer) Do(r *http.Request) (*http.Response, error) {
	if strings.HasSuffix(r.URL.Path, "/auth/token/refresh") {
		return nil, errors.New("connection reset")
	}
	return d.next.Do(r)
}

func TestRefreshNetworkErrorLogsOut(t *testing.T) {
	backend := &fakeBackend{validToken: "T0", validRefresh: "R1"}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	state := session.NewState(nil, nil)
	require.NoError(t, state.Set(context.Background(), models.Session{AccessToken: "T1", RefreshToken: "R1"}))
	nav := &countingNavigator{}
	client, err := New(Options{
		BaseURL:   srv.URL + "/api/v1/",
		Doer:      failingRefreshDoer{next: srv.Client()},
		State:     state,
		Navigator: nav,
	})
	require.NoError(t, err)

	res, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "books"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.False(t, state.Get().LoggedIn())
	assert.Equal(t, int32(1), nav.calls.Load())
}

func TestCancelledCallerKeepsRefreshedSession(t *testing.T) {
	backend := &fakeBackend{validToken: "T0", validRefresh: "R1", nextAccess: "T2", nextRefresh: "R2"}
	client, state, nav := newTestClient(t, backend.handler(), models.Session{AccessToken: "T1", RefreshToken: "R1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend.refreshGate = cancel

	res, err := client.Do(ctx, Request{Method: http.MethodGet, Path: "books"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)

	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(1), backend.booksCalls.Load(), "a cancelled caller is not replayed")
	assert.Equal(t, models.Session{AccessToken: "T2", RefreshToken: "R2", EmailVerified: true}, state.Get())
	assert.Equal(t, int32(0), nav.calls.Load())
}

func TestRefreshTimeoutLogsOut(t *testing.T) {
	backend := &fakeBackend{validToken: "T0", validRefresh: "R1", nextAccess: "T2", nextRefresh: "R2"}
	backend.refreshGate = func() { time.Sleep(200 * time.Millisecond) }
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	state := session.NewState(nil, nil)
	require.NoError(t, state.Set(context.Background(), models.Session{AccessToken: "T1", RefreshToken: "R1"}))
	nav := &countingNavigator{}
	client, err := New(Options{
		BaseURL:        srv.URL + "/api/v1/",
		Doer:           srv.Client(),
		State:          state,
		Navigator:      nav,
		RefreshTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	res, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "books"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.False(t, state.Get().LoggedIn())
	assert.Equal(t, int32(1), nav.calls.Load())
}

func TestNonAuthErrorsPassThrough(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusInternalServerError} {
		backend := &fakeBackend{validToken: "T1", booksStatus: status}
		initial := models.Session{AccessToken: "T1", RefreshToken: "R1", EmailVerified: true}
		client, state, nav := newTestClient(t, backend.handler(), initial)

		res, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "books"})
		require.NoError(t, err)

		assert.Equal(t, status, res.StatusCode)
		assert.JSONEq(t, `{"message":"books unavailable"}`, string(res.Body))
		assert.Equal(t, int32(1), backend.booksCalls.Load())
		assert.Equal(t, int32(0), backend.refreshCalls.Load())
		assert.Equal(t, initial, state.Get())
		assert.Equal(t, int32(0), nav.calls.Load())
		assert.True(t, IsStatus(res.Err(), status))
	}
}

func TestReplayHappensAtMostOnce(t *testing.T) {
	backend := &fakeBackend{validToken: "T0", validRefresh: "R1", nextAccess: "T2", nextRefresh: "R2"}
	// Books rejects every token, including the refreshed one.
	mux := http.NewServeMux()
	mux.Handle("/api/v1/auth/token/refresh", backend.handler())
	mux.HandleFunc("/api/v1/books", func(w http.ResponseWriter, r *http.Request) {
		backend.booksCalls.Add(1)
		writeJSON(w, http.StatusUnauthorized, models.MessageResponse{Message: "nope"})
	})
	client, state, _ := newTestClient(t, mux, models.Session{AccessToken: "T1", RefreshToken: "R1"})

	res, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "books"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, int32(2), backend.booksCalls.Load())
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, "T2", state.Get().AccessToken)
}

func TestNoAuthorizationHeaderWhenLoggedOut(t *testing.T) {
	var header string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/billing/plans", func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, models.PlansResponse{})
	})
	client, _, _ := newTestClient(t, mux, models.Session{})

	_, err := client.Plans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, header)
}

func TestDoWaitsForInFlightRefresh(t *testing.T) {
	backend := &fakeBackend{validToken: "T1"}
	coord := session.NewCoordinator()
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	state := session.NewState(nil, nil)
	require.NoError(t, state.Set(context.Background(), models.Session{AccessToken: "T0", RefreshToken: "R0"}))
	client, err := New(Options{BaseURL: srv.URL + "/api/v1", Doer: srv.Client(), State: state, Coordinator: coord})
	require.NoError(t, err)

	require.True(t, coord.TryAcquire())
	done := make(chan *Result, 1)
	go func() {
		res, _ := client.Do(context.Background(), Request{Path: "books"})
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), backend.booksCalls.Load())

	require.NoError(t, state.Set(context.Background(), models.Session{AccessToken: "T1", RefreshToken: "R1"}))
	coord.Release()

	select {
	case res := <-done:
		require.NotNil(t, res)
		assert.Equal(t, http.StatusOK, res.StatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not resume after refresh")
	}
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "api/v1", State: session.NewState(nil, nil)})
	assert.Error(t, err)
}
