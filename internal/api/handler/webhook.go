package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/api/problem"
	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/observability"
	"github.com/ayodele-m/fiatramp/internal/service"
)

// signatureHeaders maps a provider name to the header carrying its webhook
// signature.
var signatureHeaders = map[string]string{
	"paystack":    "x-paystack-signature",
	"flutterwave": "verif-hash",
	"monnify":     "monnify-signature",
}

// WebhookHandler receives provider callbacks for funding and payout events.
type WebhookHandler struct {
	orders  *service.SettlementOrchestrator
	metrics *observability.Metrics
	log     *zap.Logger
}

func NewWebhookHandler(orders *service.SettlementOrchestrator, metrics *observability.Metrics, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{orders: orders, metrics: metrics, log: log}
}

// Receive verifies and processes one webhook delivery. Bad signatures get a
// 401 so the provider knows delivery is misconfigured; every other outcome
// is acknowledged with 200 because providers retry non-2xx responses and a
// replayed event cannot move a transaction twice.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	header, ok := signatureHeaders[providerName]
	if !ok {
		h.metrics.WebhookEvents.WithLabelValues(providerName, "unknown_provider").Inc()
		problem.Render(w, r, problem.New(http.StatusNotFound, "not_found", "Not Found", "unknown webhook provider"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		h.metrics.WebhookEvents.WithLabelValues(providerName, "body_error").Inc()
		problem.RenderError(w, r, domain.ErrValidation)
		return
	}

	err = h.orders.HandleProviderWebhook(r.Context(), providerName, r.Header.Get(header), body)
	switch {
	case err == nil:
		h.metrics.WebhookEvents.WithLabelValues(providerName, "ok").Inc()
	case errors.Is(err, domain.ErrAuthorization):
		h.metrics.WebhookEvents.WithLabelValues(providerName, "bad_signature").Inc()
		problem.RenderError(w, r, err)
		return
	default:
		// Acknowledged anyway: state is guarded by compare-and-set updates
		// and re-verification, so a retry of the same event is harmless.
		h.metrics.WebhookEvents.WithLabelValues(providerName, "error").Inc()
		h.log.Error("webhook processing failed",
			zap.String("provider", providerName),
			zap.Error(err))
	}
	respond(w, http.StatusOK, map[string]string{"status": "received"})
}
