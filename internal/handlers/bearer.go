package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/readaloud/client/internal/auth"
	"github.com/readaloud/client/internal/logging"
)

type userIDKey struct{}

// RequireAuth rejects requests without a valid bearer access token and
// stores the caller's user id on the request context.
func RequireAuth(sessions SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if sessions == nil {
				respondMessage(ctx, w, http.StatusInternalServerError, "session service unavailable")
				return
			}

			token := bearerToken(r)
			userID, err := sessions.Authenticate(ctx, token)
			if err != nil {
				if !errors.Is(err, auth.ErrAccessTokenInvalid) {
					logging.FromContext(ctx).Error("authenticate request", "error", err)
				}
				respondMessage(ctx, w, http.StatusUnauthorized, "invalid or expired access token")
				return
			}

			logger := logging.FromContext(ctx).With("userId", userID)
			ctx = logging.WithLogger(context.WithValue(ctx, userIDKey{}, userID), logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the authenticated caller set by RequireAuth.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
