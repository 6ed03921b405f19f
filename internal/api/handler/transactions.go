package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ayodele-m/fiatramp/internal/api/middleware"
	"github.com/ayodele-m/fiatramp/internal/api/problem"
	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/repository"
	"github.com/ayodele-m/fiatramp/internal/service"
)

// TransactionHandler serves order creation, quoting, and the operator
// lifecycle endpoints.
type TransactionHandler struct {
	orders *service.SettlementOrchestrator
	txns   *service.TransactionService
}

func NewTransactionHandler(orders *service.SettlementOrchestrator, txns *service.TransactionService) *TransactionHandler {
	return &TransactionHandler{orders: orders, txns: txns}
}

type quoteRequest struct {
	SendingCurrencyID   string          `json:"sending_currency_id"`
	ReceivingCurrencyID string          `json:"receiving_currency_id"`
	AmountInUSD         decimal.Decimal `json:"amount_in_usd"`
	Direction           string          `json:"direction"`
	AmountType          string          `json:"amount_type"`
}

func (h *TransactionHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		problem.RenderError(w, r, err)
		return
	}
	quote, err := h.orders.QuoteOnly(r.Context(), service.QuoteRequest{
		SendingCurrencyID:   req.SendingCurrencyID,
		ReceivingCurrencyID: req.ReceivingCurrencyID,
		AmountInUSD:         req.AmountInUSD,
		Direction:           req.Direction,
		AmountType:          req.AmountType,
	})
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusOK, quote)
}

type buyRequest struct {
	CustomerEmail          string          `json:"customer_email"`
	CustomerName           string          `json:"customer_name"`
	SendingCurrencyID      string          `json:"sending_currency_id"`
	ReceivingCurrencyID    string          `json:"receiving_currency_id"`
	AmountInUSD            decimal.Decimal `json:"amount_in_usd"`
	AmountType             string          `json:"amount_type"`
	PaymentType            string          `json:"payment_type"`
	ReceivingWalletAddress string          `json:"receiving_wallet_address"`
}

func (h *TransactionHandler) CreateBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		problem.RenderError(w, r, err)
		return
	}
	order, err := h.orders.CreateBuyOrder(r.Context(), service.BuyOrderRequest{
		UserID:                 middleware.UserID(r.Context()),
		CustomerEmail:          req.CustomerEmail,
		CustomerName:           req.CustomerName,
		SendingCurrencyID:      req.SendingCurrencyID,
		ReceivingCurrencyID:    req.ReceivingCurrencyID,
		AmountInUSD:            req.AmountInUSD,
		AmountType:             req.AmountType,
		PaymentType:            req.PaymentType,
		ReceivingWalletAddress: req.ReceivingWalletAddress,
	})
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, order)
}

type sellRequest struct {
	SendingCurrencyID   string          `json:"sending_currency_id"`
	ReceivingCurrencyID string          `json:"receiving_currency_id"`
	AmountInUSD         decimal.Decimal `json:"amount_in_usd"`
	AmountType          string          `json:"amount_type"`
}

func (h *TransactionHandler) CreateSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := decodeJSON(w, r, &req); err != nil {
		problem.RenderError(w, r, err)
		return
	}
	order, err := h.orders.CreateSellOrder(r.Context(), service.SellOrderRequest{
		UserID:              middleware.UserID(r.Context()),
		SendingCurrencyID:   req.SendingCurrencyID,
		ReceivingCurrencyID: req.ReceivingCurrencyID,
		AmountInUSD:         req.AmountInUSD,
		AmountType:          req.AmountType,
	})
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, order)
}

func (h *TransactionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	txns, err := h.txns.ListForUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusOK, txns)
}

func (h *TransactionHandler) GetMine(w http.ResponseWriter, r *http.Request) {
	txn, err := h.txns.GetForUser(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusOK, txn)
}

// AdminList filters across all users. Query params are optional.
func (h *TransactionHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txns, err := h.txns.List(r.Context(), repository.TransactionFilter{
		ProcessedBy: q.Get("processed_by"),
		UserID:      q.Get("user_id"),
		Type:        q.Get("type"),
	})
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusOK, txns)
}

func (h *TransactionHandler) AdminGet(w http.ResponseWriter, r *http.Request) {
	txn, err := h.txns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusOK, txn)
}

func (h *TransactionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(txnID, operatorID string) error {
		return h.txns.Claim(r.Context(), txnID, operatorID)
	})
}

func (h *TransactionHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(txnID, operatorID string) error {
		return h.txns.Release(r.Context(), txnID, operatorID)
	})
}

type completeRequest struct {
	SettlementProof string `json:"settlement_proof"`
}

func (h *TransactionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		problem.RenderError(w, r, err)
		return
	}
	if req.SettlementProof == "" {
		problem.RenderError(w, r, fmt.Errorf("settlement_proof is required: %w", domain.ErrValidation))
		return
	}
	h.lifecycle(w, r, func(txnID, operatorID string) error {
		return h.txns.Complete(r.Context(), txnID, req.SettlementProof, operatorID)
	})
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (h *TransactionHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeJSON(w, r, &req); err != nil {
		problem.RenderError(w, r, err)
		return
	}
	h.lifecycle(w, r, func(txnID, operatorID string) error {
		return h.txns.Fail(r.Context(), txnID, req.Reason, operatorID)
	})
}

func (h *TransactionHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(txnID, operatorID string) error) {
	txnID := chi.URLParam(r, "id")
	if err := op(txnID, middleware.UserID(r.Context())); err != nil {
		problem.RenderError(w, r, err)
		return
	}
	txn, err := h.txns.Get(r.Context(), txnID)
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusOK, txn)
}
