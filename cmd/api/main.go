package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timebank/config"
	httpHandler "timebank/internal/adapter/http/handler"
	pgStorage "timebank/internal/adapter/storage/postgres"
	redisStorage "timebank/internal/adapter/storage/redis"
	"timebank/internal/core/ports"
	"timebank/internal/scheduler"
	"timebank/internal/service"
	"timebank/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Time Bank ledger service")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	accountRepo := pgStorage.NewAccountRepo(pool)
	walletRepo := pgStorage.NewWalletRepo(pool)
	ledgerRepo := pgStorage.NewLedgerRepo(pool)
	obligationRepo := pgStorage.NewObligationRepo(pool)
	idempotencyRepo := pgStorage.NewIdempotencyRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize business services
	engine := service.NewTransferEngine(walletRepo, ledgerRepo, transactor, cfg.Economy.Bank.UnlimitedIssuer, log)
	supportSvc := service.NewSupportService(walletRepo, engine, transactor, service.SupportPolicyFromConfig(cfg.Economy.Support), log)
	donationSvc := service.NewDonationService(engine, log)
	settlementSvc := service.NewSettlementService(
		walletRepo,
		ledgerRepo,
		obligationRepo,
		idempotencyRepo,
		idempotencyCache,
		engine,
		transactor,
		service.SettlementPolicyFromConfig(cfg.Economy.Settlement),
		log,
	)
	accountSvc := service.NewAccountService(accountRepo, walletRepo, engine, transactor, cfg.Economy.InitialGrant, log)
	walletSvc := service.NewWalletService(walletRepo, ledgerRepo, engine, log)

	// Seed the bank reserve before any grant can be paid
	if err := accountSvc.EnsureBank(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed bank reserve")
	}

	// Background reconciliation sweep
	if cfg.Reconcile.Enabled {
		reconciler := service.NewReconciler(walletRepo, ledgerRepo, transactor, cfg.Reconcile.Repair, log)
		sched := scheduler.New(reconciler, log)
		if err := sched.Start(cfg.Reconcile.Schedule); err != nil {
			log.Fatal().Err(err).Msg("Failed to start reconciliation scheduler")
		}
		defer sched.Stop()
	}

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      walletSvc,
		SupportSvc:     supportSvc,
		DonationSvc:    donationSvc,
		SettlementSvc:  settlementSvc,
		AccountSvc:     accountSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		JWT:            cfg.JWT,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
