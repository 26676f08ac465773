package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestKeyedLimiterAllowsBurstPerKey(t *testing.T) {
	now := time.Unix(0, 0)
	limiter := NewKeyedLimiter(RateLimit{Requests: 1, Window: time.Minute, Burst: 2, TTL: time.Hour})
	limiter.WithNowFunc(func() time.Time { return now })

	if !limiter.Allow("books/progress") || !limiter.Allow("books/progress") {
		t.Fatal("expected burst of two to be allowed")
	}
	if limiter.Allow("books/progress") {
		t.Fatal("expected third request to be throttled")
	}
	if !limiter.Allow("auth/login") {
		t.Fatal("expected separate key to have its own bucket")
	}

	now = now.Add(time.Minute)
	if !limiter.Allow("books/progress") {
		t.Fatal("expected token to be replenished after the window")
	}
}

func TestKeyedLimiterExpiresIdleBuckets(t *testing.T) {
	now := time.Unix(0, 0)
	limiter := NewKeyedLimiter(RateLimit{Requests: 10, Window: time.Second, Burst: 1, TTL: time.Minute})
	limiter.WithNowFunc(func() time.Time { return now })

	limiter.Allow("a")
	now = now.Add(2 * time.Minute)
	limiter.Allow("b")

	if got := limiter.Len(); got != 1 {
		t.Fatalf("expected idle bucket to be collected, have %d", got)
	}
}

func TestOutboundLoggerSetsRequestID(t *testing.T) {
	var gotID string
	base := RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		gotID = r.Header.Get(RequestIDHeader)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("")), Request: r}, nil
	})

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rt := Transport(base, OutboundLogger(logger))

	req := httptest.NewRequest(http.MethodGet, "http://api.test/books", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	resp.Body.Close()

	if gotID == "" {
		t.Fatal("expected request id header to be set")
	}
	if strings.Contains(buf.String(), "secret-token") {
		t.Fatal("token leaked into logs")
	}
	if !strings.Contains(buf.String(), "hasToken=true") {
		t.Fatalf("expected token presence to be logged, got %s", buf.String())
	}
}

func TestRequestLoggerEchoesRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("expected request id to be echoed, got %q", rec.Header().Get(RequestIDHeader))
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
}

func TestRequestLoggerLevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "status=404") {
		t.Fatalf("expected 404 to log at warn, got %s", buf.String())
	}

	buf.Reset()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !strings.Contains(buf.String(), "level=INFO") || !strings.Contains(buf.String(), "status=200") {
		t.Fatalf("expected implicit 200 to log at info, got %s", buf.String())
	}
}
