package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/adapter/gateway/paystack"
	httpHandler "wallet-ledger/internal/adapter/http/handler"
	"wallet-ledger/internal/adapter/metrics"
	"wallet-ledger/internal/adapter/storage/memory"
	pgStorage "wallet-ledger/internal/adapter/storage/postgres"
	redisStorage "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load(os.Getenv("WL_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Wallet Ledger")

	ctx := context.Background()

	// Metrics
	var (
		recorder       ports.MetricsRecorder = metrics.Noop{}
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.New(reg, cfg.Metrics.Namespace)
		metricsHandler = metrics.Handler(reg)
	}

	// Ledger store
	var (
		walletRepo ports.WalletRepository
		txRepo     ports.TransactionRepository
		transactor ports.DBTransactor
		storeCheck ports.HealthChecker
	)
	switch cfg.Database.Driver {
	case "memory":
		ledger := memory.NewLedger()
		walletRepo, txRepo, transactor, storeCheck = ledger.Wallets(), ledger.Transactions(), ledger, ledger
		log.Warn().Msg("Using in-memory ledger store; balances are lost on exit")
	default:
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		walletRepo = pgStorage.NewWalletRepo(pool)
		txRepo = pgStorage.NewTransactionRepo(pool)
		transactor = pgStorage.NewTransactor(pool)
		storeCheck = pgStorage.NewHealthCheck(pool)
	}

	// Primary Redis: reference cache + rate limiting
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Lock stores
	lockAddrs := cfg.Lock.StoreAddrs(cfg.Redis)
	locker, err := redisStorage.NewLockManager(ctx,
		redisStorage.NewLockStores(lockAddrs, cfg.Redis),
		redisStorage.LockConfig{
			Prefix:      cfg.Lock.Prefix,
			DriftFactor: cfg.Lock.DriftFactor,
			RetryDelay:  cfg.Lock.RetryDelay,
			RetryJitter: cfg.Lock.RetryJitter,
			DefaultTTL:  cfg.Lock.TransferTTL,
		},
		recorder,
		logger.Component(log, "locker"),
	)
	if err != nil {
		log.Fatal().Err(err).Strs("stores", lockAddrs).Msg("Lock manager failed its startup check")
	}
	defer func() {
		if err := locker.Close(); err != nil {
			log.Warn().Err(err).Msg("closing lock stores")
		}
	}()

	// Redis-backed stores
	refCache := redisStorage.NewReferenceCache(rdb, redisStorage.DefaultReferenceTTL)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Core services
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	gateway := paystack.NewClient(paystack.Config{
		BaseURL:       cfg.Paystack.BaseURL,
		SecretKey:     cfg.Paystack.SecretKey,
		WebhookSecret: cfg.Paystack.SigningSecret(),
		Timeout:       cfg.Paystack.Timeout,
	}, nil, sigSvc, logger.Component(log, "paystack"))

	locks := service.DefaultLockPolicy()
	locks.Fund = ports.LockOptions{TTL: cfg.Lock.FundTTL, MaxRetries: cfg.Lock.MaxRetries}
	locks.Transfer = ports.LockOptions{TTL: cfg.Lock.TransferTTL, MaxRetries: cfg.Lock.MaxRetries}
	locks.Payout = ports.LockOptions{TTL: cfg.Lock.PayoutTTL, MaxRetries: cfg.Lock.MaxRetries}

	// Business services
	walletSvc := service.NewWalletService(
		walletRepo,
		txRepo,
		transactor,
		locker,
		refCache,
		recorder,
		locks,
		logger.Component(log, "wallet"),
	)
	payoutSvc := service.NewPayoutService(
		walletRepo,
		txRepo,
		transactor,
		locker,
		gateway,
		refCache,
		recorder,
		locks.Payout,
		logger.Component(log, "payout"),
	)
	reconSvc := service.NewReconciliationService(
		walletRepo,
		txRepo,
		transactor,
		locker,
		recorder,
		locks.Payout,
		logger.Component(log, "reconciliation"),
	)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:         walletSvc,
		PayoutSvc:         payoutSvc,
		ReconciliationSvc: reconSvc,
		TokenSvc:          tokenSvc,
		Verifier:          gateway,
		RateLimitStore:    rateLimitStore,
		HealthCheckers: []ports.HealthChecker{
			storeCheck,
			redisStorage.NewHealthCheck(rdb),
			locker,
		},
		MetricsHandler: metricsHandler,
		Mode:           cfg.Server.Mode,
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	// In-flight critical sections finish on detached contexts; the grace
	// period covers the longest lease.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Lock.PayoutTTL+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
