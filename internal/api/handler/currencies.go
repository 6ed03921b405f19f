package handler

import (
	"net/http"

	"github.com/ayodele-m/fiatramp/internal/api/problem"
	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/models"
	"github.com/ayodele-m/fiatramp/internal/repository"
)

// CurrencyHandler lists the currencies available for quoting.
type CurrencyHandler struct {
	store repository.Store
}

func NewCurrencyHandler(store repository.Store) *CurrencyHandler {
	return &CurrencyHandler{store: store}
}

func (h *CurrencyHandler) List(w http.ResponseWriter, r *http.Request) {
	cryptos, err := h.store.ListCryptoCurrencies(r.Context(), r.URL.Query().Get("network"))
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	fiat, err := h.store.GetFiatCurrency(r.Context(), domain.FiatSymbol)
	if err != nil {
		problem.RenderError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"fiat":   []models.Currency{*fiat},
		"crypto": cryptos,
	})
}
