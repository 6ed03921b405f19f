package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/api"
	"github.com/ayodele-m/fiatramp/internal/api/handler"
	"github.com/ayodele-m/fiatramp/internal/chain"
	"github.com/ayodele-m/fiatramp/internal/config"
	"github.com/ayodele-m/fiatramp/internal/db"
	"github.com/ayodele-m/fiatramp/internal/idempotency"
	"github.com/ayodele-m/fiatramp/internal/notify"
	"github.com/ayodele-m/fiatramp/internal/observability"
	"github.com/ayodele-m/fiatramp/internal/provider"
	"github.com/ayodele-m/fiatramp/internal/repository"
	"github.com/ayodele-m/fiatramp/internal/service"
	"github.com/ayodele-m/fiatramp/internal/watcher"
	"github.com/ayodele-m/fiatramp/internal/worker"
)

// Run bootstraps the HTTP server, settlement pipeline and recovery worker,
// blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	store := repository.NewPostgresStore(pool)
	metrics := observability.NewMetrics()

	hub := notify.NewHub(logger)
	defer hub.CloseAll()
	registry := notify.NewRegistry(notify.NewRedisPairStore(redisClient), hub, logger)
	notifier := &meteredNotifier{sink: registry, metrics: metrics}

	audit := service.NewAuditService(store, logger)
	sm := service.NewTransactionStateMachine(store, audit, notifier, logger)
	rates := service.NewRateEngine(store, logger)
	txns := service.NewTransactionService(store, sm, logger)
	settings := service.NewSettingsService(store, audit, logger)
	accounts := service.NewFiatAccountService(store, audit, logger)

	chains, probes, err := buildChains(ctx, cfg, logger)
	if err != nil {
		return err
	}
	wallets := service.NewSystemWalletService(store, chains, probes, logger)

	providers := buildProviders(cfg, logger)

	taskPool := worker.NewPool(cfg.TaskPoolSize, logger)
	dedupe := idempotency.NewRedisDeduper(redisClient, cfg.WebhookDedupeTTL)
	orchestrator := service.NewSettlementOrchestrator(
		store, rates, sm, providers, chains, taskPool, dedupe, audit, logger)

	// Re-arm watchers for anything left in flight by the previous process,
	// then keep sweeping so a crashed task eventually gets picked back up.
	sweeper := &meteredSweeper{inner: orchestrator, metrics: metrics}
	recovery := worker.NewRecoveryWorker(sweeper, cfg.RecoveryInterval, logger)
	stopRecovery := recovery.Run(ctx)

	router := &api.Router{
		JWTSecret:          cfg.JWTSecret,
		PublicRateLimitRPS: cfg.PublicRateLimitRPS,
		AuthRateLimitRPS:   cfg.AuthRateLimitRPS,
		Log:                logger,
		Metrics:            metrics,
		Health:             handler.NewHealthHandler(pool, redisClient),
		Currencies:         handler.NewCurrencyHandler(store),
		Transactions:       handler.NewTransactionHandler(orchestrator, txns),
		FiatAccounts:       handler.NewFiatAccountHandler(accounts),
		Settings:           handler.NewSettingsHandler(settings),
		Wallets:            handler.NewWalletHandler(wallets),
		Webhooks:           handler.NewWebhookHandler(orchestrator, metrics, logger),
		Notify:             handler.NewNotifyHandler(hub, registry, txns, logger),
	}

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	stopRecovery()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	taskPool.Shutdown(30 * time.Second)

	logger.Info("shutdown complete")
	return nil
}

// buildChains dials every configured network and assembles its gateway.
func buildChains(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service.ChainSet, map[string]service.BalanceProbe, error) {
	watcherCfg := watcher.DefaultConfig()
	if cfg.WatcherLookaheadBlocks > 0 {
		watcherCfg.LookaheadBlocks = cfg.WatcherLookaheadBlocks
	}
	if cfg.WatcherMinConfirmations > 0 {
		watcherCfg.MinConfirmations = cfg.WatcherMinConfirmations
	}
	if cfg.WatcherPollInterval > 0 {
		watcherCfg.PollInterval = cfg.WatcherPollInterval
	}

	chains := make(service.ChainSet, len(cfg.Chains))
	probes := make(map[string]service.BalanceProbe, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		client, err := chain.Dial(ctx, cc.Network, cc.RPCURL)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", cc.Network, err)
		}
		wallet, err := chain.NewSystemWallet(ctx, client, cc.WalletPrivateKey, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("system wallet %s: %w", cc.Network, err)
		}
		chains[cc.Network] = service.ChainGateway{
			Wallet:            wallet,
			Watcher:           watcher.New(client, watcherCfg, logger),
			NewDepositAddress: chain.NewDepositAddress,
		}
		probes[cc.Network] = client
		logger.Info("chain gateway ready",
			zap.String("network", cc.Network),
			zap.String("wallet", wallet.Address()))
	}
	return chains, probes, nil
}

func buildProviders(cfg *config.Config, logger *zap.Logger) *provider.Registry {
	paystack := provider.NewPaystack(cfg.PaystackBaseURL, cfg.PaystackSecretKey, nil, logger)
	flutterwave := provider.NewFlutterwave(cfg.FlutterwaveBaseURL, cfg.FlutterwaveSecretKey, cfg.FlutterwaveVerifHash, nil, logger)
	monnify := provider.NewMonnify(cfg.MonnifyBaseURL, cfg.MonnifyAPIKey, cfg.MonnifyClientSecret,
		cfg.MonnifyContractCode, cfg.MonnifySourceAccount, nil, logger)

	// Monnify fronts receiving accounts, Paystack fronts card charges,
	// Flutterwave fronts payouts.
	return provider.NewRegistry(monnify, paystack, flutterwave)
}

// meteredNotifier counts transitions before fanning them out.
type meteredNotifier struct {
	sink    *notify.Registry
	metrics *observability.Metrics
}

func (n *meteredNotifier) NotifyStatus(ctx context.Context, txnID, status string) {
	n.metrics.Transitions.WithLabelValues(status).Inc()
	n.sink.NotifyStatus(ctx, txnID, status)
}

// meteredSweeper counts recovery sweeps.
type meteredSweeper struct {
	inner   *service.SettlementOrchestrator
	metrics *observability.Metrics
}

func (s *meteredSweeper) RecoverPending(ctx context.Context) error {
	s.metrics.RecoverySweeps.Inc()
	return s.inner.RecoverPending(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
