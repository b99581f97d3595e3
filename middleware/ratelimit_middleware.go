package middleware

import (
	"net/http"
	"time"

	"go-tracker/metrics"
	"go-tracker/utils/errors"

	"github.com/go-chi/httprate"
)

// RateLimitByIP allows limit requests per window from one client address.
func RateLimitByIP(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.AuthFailures.WithLabelValues("rate_limited").Inc()
			WriteError(w, r, errors.ErrRateLimited)
		}),
	)
}
