package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/ayodele-m/fiatramp/internal/api/problem"
)

// RateLimit throttles by client IP. The limit is generous; it exists to
// blunt webhook storms and credential stuffing, not to shape traffic.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Render(w, r, problem.New(
				http.StatusTooManyRequests, "rate-limited", "Too many requests",
				"retry after the window resets"))
		}),
	)
}
