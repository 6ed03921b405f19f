package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/api/handler"
	"github.com/ayodele-m/fiatramp/internal/api/middleware"
	"github.com/ayodele-m/fiatramp/internal/observability"
)

// Router assembles the HTTP surface from prebuilt handlers.
type Router struct {
	JWTSecret          string
	PublicRateLimitRPS int
	AuthRateLimitRPS   int

	Log     *zap.Logger
	Metrics *observability.Metrics

	Health       *handler.HealthHandler
	Currencies   *handler.CurrencyHandler
	Transactions *handler.TransactionHandler
	FiatAccounts *handler.FiatAccountHandler
	Settings     *handler.SettingsHandler
	Wallets      *handler.WalletHandler
	Webhooks     *handler.WebhookHandler
	Notify       *handler.NotifyHandler
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Trace)
	r.Use(middleware.Logging(api.Log))
	r.Use(middleware.Metrics(api.Metrics))
	r.Use(middleware.Recover(api.Log))

	r.Get("/healthz", api.Health.Live)
	r.Get("/readyz", api.Health.Ready)
	r.Method("GET", "/metrics", promhttp.HandlerFor(api.Metrics.Registry, promhttp.HandlerOpts{}))

	// Provider callbacks authenticate by signature, not JWT.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(api.PublicRateLimitRPS, time.Second))
		r.Post("/v1/webhooks/{provider}", api.Webhooks.Receive)
		r.Get("/v1/currencies", api.Currencies.List)
	})

	// User routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(api.AuthRateLimitRPS, time.Second))
		r.Use(middleware.Authenticate(api.JWTSecret))

		r.Post("/v1/quotes", api.Transactions.Quote)
		r.Post("/v1/orders/buy", api.Transactions.CreateBuy)
		r.Post("/v1/orders/sell", api.Transactions.CreateSell)
		r.Get("/v1/transactions", api.Transactions.ListMine)
		r.Get("/v1/transactions/{id}", api.Transactions.GetMine)

		r.Get("/v1/fiat-accounts", api.FiatAccounts.Get)
		r.Post("/v1/fiat-accounts", api.FiatAccounts.Register)
		r.Delete("/v1/fiat-accounts/{id}", api.FiatAccounts.Delete)

		r.Get("/v1/ws", api.Notify.Subscribe)
	})

	// Operator routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(api.AuthRateLimitRPS, time.Second))
		r.Use(middleware.Authenticate(api.JWTSecret))
		r.Use(middleware.RequireAdmin)

		r.Get("/v1/admin/transactions", api.Transactions.AdminList)
		r.Get("/v1/admin/transactions/{id}", api.Transactions.AdminGet)
		r.Post("/v1/admin/transactions/{id}/claim", api.Transactions.Claim)
		r.Post("/v1/admin/transactions/{id}/release", api.Transactions.Release)
		r.Post("/v1/admin/transactions/{id}/complete", api.Transactions.Complete)
		r.Post("/v1/admin/transactions/{id}/fail", api.Transactions.Fail)

		r.Get("/v1/admin/settings", api.Settings.Get)
		r.Put("/v1/admin/settings", api.Settings.Update)
		r.Get("/v1/admin/wallets", api.Wallets.Balances)
	})

	return r
}
