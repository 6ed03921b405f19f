package handler

import (
	"net/http"

	"github.com/ayodele-m/fiatramp/internal/service"
)

// WalletHandler exposes the admin view over the system settlement wallets.
type WalletHandler struct {
	wallets *service.SystemWalletService
}

func NewWalletHandler(wallets *service.SystemWalletService) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

func (h *WalletHandler) Balances(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.wallets.Balances(r.Context()))
}
