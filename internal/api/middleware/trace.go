package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ayodele-m/fiatramp/internal/api/problem"
)

const traceHeader = "X-Request-Id"

// Trace assigns every request an id, honoring one supplied by an upstream
// proxy.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(traceHeader, traceID)
		next.ServeHTTP(w, problem.WithTraceID(r, traceID))
	})
}
