// Package problem renders errors as RFC 7807 problem+json responses.
package problem

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
)

// Problem is an RFC 7807 document.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

const typeBase = "https://fiatramp.dev/problems/"

func New(status int, slug, title, detail string) *Problem {
	return &Problem{
		Type:   typeBase + slug,
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// FromError maps the domain error taxonomy onto HTTP problems. Unknown
// errors become an opaque 500 so internals never leak.
func FromError(err error) *Problem {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return New(http.StatusBadRequest, "validation", "Invalid request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return New(http.StatusNotFound, "not-found", "Resource not found", err.Error())
	case errors.Is(err, domain.ErrAuthorization):
		return New(http.StatusUnauthorized, "unauthorized", "Not authorized", err.Error())
	case errors.Is(err, domain.ErrAlreadyFinalized):
		return New(http.StatusConflict, "already-finalized", "Transaction already finalized", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return New(http.StatusConflict, "invalid-transition", "Illegal status transition", err.Error())
	case errors.Is(err, domain.ErrProvider):
		return New(http.StatusBadGateway, "provider", "Payment provider unavailable", "the payment rail did not accept the request")
	case errors.Is(err, domain.ErrChain):
		return New(http.StatusBadGateway, "chain", "Chain RPC unavailable", "the blockchain endpoint did not respond")
	default:
		return New(http.StatusInternalServerError, "internal", "Internal server error", "")
	}
}

// Render writes the problem document.
func Render(w http.ResponseWriter, r *http.Request, p *Problem) {
	p.Instance = r.URL.Path
	if traceID, ok := r.Context().Value(traceIDKey{}).(string); ok {
		p.TraceID = traceID
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		zap.L().Error("problem encode failed", zap.Error(err))
	}
}

// RenderError maps and writes in one step.
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	p := FromError(err)
	if p.Status >= 500 {
		zap.L().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	Render(w, r, p)
}

type traceIDKey struct{}

// WithTraceID stores the request trace id for inclusion in problems.
func WithTraceID(r *http.Request, traceID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), traceIDKey{}, traceID))
}

// TraceID returns the trace id stored on the context, if any.
func TraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(traceIDKey{}).(string)
	return traceID
}
