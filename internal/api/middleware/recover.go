package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/api/problem"
)

// Recover absorbs handler panics and renders a 500 problem.
func Recover(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("handler panicked",
						zap.String("path", r.URL.Path),
						zap.Any("panic", rec),
					)
					problem.Render(w, r, problem.New(
						http.StatusInternalServerError, "internal", "Internal server error", ""))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
