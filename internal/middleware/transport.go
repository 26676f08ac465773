package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/readaloud/client/internal/logging"
)

// RequestIDHeader carries the correlation id between client and server.
const RequestIDHeader = "X-Request-Id"

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Transport wraps base with the given middleware, outermost first.
func Transport(base http.RoundTripper, mws ...func(http.RoundTripper) http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	for i := len(mws) - 1; i >= 0; i-- {
		base = mws[i](base)
	}
	return base
}

// OutboundLogger tags each outgoing request with a request id and logs the
// exchange. Authorization values are never logged.
func OutboundLogger(base *slog.Logger) func(http.RoundTripper) http.RoundTripper {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = logging.RequestIDFromContext(r.Context())
			}
			if requestID == "" {
				requestID = uuid.NewString()
			}
			r = r.Clone(r.Context())
			r.Header.Set(RequestIDHeader, requestID)

			logger := base
			if logger == nil {
				logger = logging.FromContext(r.Context())
			}
			logger = logger.With(
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Bool("hasToken", r.Header.Get("Authorization") != ""),
			)

			resp, err := next.RoundTrip(r)
			if err != nil {
				logger.Warn("request failed", "error", err, slog.Duration("duration", time.Since(start)))
				return nil, err
			}

			logger.Debug("request completed",
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", time.Since(start)),
			)
			return resp, nil
		})
	}
}
