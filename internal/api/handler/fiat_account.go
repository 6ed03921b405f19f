package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ayodele-m/fiatramp/internal/api/middleware"
	"github.com/ayodele-m/fiatramp/internal/api/problem"
	"github.com/ayodele-m/fiatramp/internal/models"
	"github.com/ayodele-m/fiatramp/internal/service"
)

// FiatAccountHandler manages the caller's payout bank account.
type FiatAccountHandler struct {
	accounts *service.FiatAccountService
}

func NewFiatAccountHandler(accounts *service.FiatAccountService) *FiatAccountHandler {
	return &FiatAccountHandler{accounts: accounts}
}

func (h *FiatAccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.Get(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusOK, account)
}

type fiatAccountRequest struct {
	AccountName string `json:"account_name"`
	AccountNo   string `json:"account_no"`
	BankName    string `json:"bank_name"`
	BankCode    string `json:"bank_code"`
}

func (h *FiatAccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req fiatAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		problem.RenderError(w, r, err)
		return
	}
	account, err := h.accounts.Register(r.Context(), &models.UserFiatAccount{
		UserID:      middleware.UserID(r.Context()),
		AccountName: req.AccountName,
		AccountNo:   req.AccountNo,
		BankName:    req.BankName,
		BankCode:    req.BankCode,
	})
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, account)
}

func (h *FiatAccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.accounts.Delete(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}
