package middleware

import (
	"context"
	"net/http"
	"strings"

	"go-tracker/logging"
	"go-tracker/metrics"
	"go-tracker/services"
	"go-tracker/utils/errors"
)

type contextKey int

const userIDKey contextKey = iota

// TokenParser verifies a bearer token and returns the user ID it carries.
type TokenParser interface {
	Parse(raw string) (string, error)
}

// SessionGuard rejects requests without a valid bearer token before the
// handler runs. All failures get the same 401; the reason is only logged.
func SessionGuard(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			raw := ""
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				scheme, token, ok := strings.Cut(authHeader, " ")
				if ok && strings.EqualFold(scheme, "Bearer") {
					raw = strings.TrimSpace(token)
				} else {
					raw = "-" // present but not a bearer credential
				}
			}

			userID, err := tokens.Parse(raw)
			if err != nil {
				reason := services.TokenFailureReason(err)
				metrics.AuthFailures.WithLabelValues(reason).Inc()
				logging.Ctx(r.Context()).Debug().Err(err).Str("reason", reason).Str("path", r.URL.Path).Msg("session rejected")
				WriteError(w, r, errors.ErrUnauthorized.WithDetails(reason))
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = logging.WithUserID(ctx, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the authenticated user ID set by SessionGuard.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
