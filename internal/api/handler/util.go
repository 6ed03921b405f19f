package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
)

// envelope is the success response shape: {error, data, code}.
type envelope struct {
	Error *string `json:"error"`
	Data  any     `json:"data"`
	Code  int     `json:"code"`
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data, Code: status}); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", domain.ErrValidation)
	}
	return nil
}
