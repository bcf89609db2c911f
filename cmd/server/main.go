// Package main is the entry point for the riskcore portfolio risk analytics
// engine. Startup sequence: configuration, logging, databases, the analysis
// engine and its tool registry, the HTTP server, and the maintenance
// scheduler, then block until a shutdown signal.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/riskcore/internal/baskets"
	"github.com/aristath/riskcore/internal/canonical"
	"github.com/aristath/riskcore/internal/config"
	"github.com/aristath/riskcore/internal/contracts"
	"github.com/aristath/riskcore/internal/database"
	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/events"
	"github.com/aristath/riskcore/internal/factor"
	"github.com/aristath/riskcore/internal/intelligence"
	"github.com/aristath/riskcore/internal/marketdata"
	"github.com/aristath/riskcore/internal/optimizer"
	"github.com/aristath/riskcore/internal/performance"
	"github.com/aristath/riskcore/internal/providers"
	"github.com/aristath/riskcore/internal/reliability"
	"github.com/aristath/riskcore/internal/risk"
	"github.com/aristath/riskcore/internal/scheduler"
	"github.com/aristath/riskcore/internal/server"
	"github.com/aristath/riskcore/internal/service"
	"github.com/aristath/riskcore/internal/tools"
	"github.com/aristath/riskcore/internal/trading"
	"github.com/aristath/riskcore/pkg/logger"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Msg("Starting riskcore")

	coreDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "core.db"),
		Profile: database.ProfileCore,
		Name:    "core",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open core database")
	}
	defer coreDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	if err := coreDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate core database")
	}
	if err := cacheDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate cache database")
	}

	// Price vendors. Primary is tried first, the fallback instance on failure.
	var primary, secondary marketdata.Vendor
	if cfg.PrimaryVendorKey != "" {
		primary = marketdata.NewTiingoVendor("tiingo", cfg.PrimaryVendorKey, log)
	} else {
		log.Warn().Msg("No price vendor API key configured; price fetches will fail")
	}
	if cfg.SecondaryVendorKey != "" {
		secondary = marketdata.NewTiingoVendor("tiingo-fallback", cfg.SecondaryVendorKey, log)
	}

	store := marketdata.NewStore(marketdata.Options{
		Primary:   primary,
		Secondary: secondary,
		CacheDB:   cacheDB.Conn(),
		CacheTTL:  cfg.PriceCacheTTL,
		Workers:   cfg.PriceWorkers,
	}, log)

	// Provider adapters are wired from gateway env vars; only configured
	// sources are registered. The IBKR gateway doubles as the futures
	// contract month lister.
	var ibkr *providers.IBKRAdapter
	var adapters []domain.ProviderAdapter
	if url := getEnv("SCHWAB_GATEWAY_URL", ""); url != "" {
		adapters = append(adapters, providers.NewSchwabAdapter(url, os.Getenv("SCHWAB_ACCESS_TOKEN"), log))
	}
	if url := getEnv("IBKR_GATEWAY_URL", ""); url != "" {
		ibkr = providers.NewIBKRAdapter(url, os.Getenv("IBKR_SESSION_TOKEN"), log)
		adapters = append(adapters, ibkr)
	}
	if url := getEnv("PLAID_GATEWAY_URL", ""); url != "" {
		adapters = append(adapters, providers.NewPlaidAdapter(url, os.Getenv("PLAID_CLIENT_ID"), os.Getenv("PLAID_SECRET"), log))
	}
	if url := getEnv("SNAPTRADE_GATEWAY_URL", ""); url != "" {
		adapters = append(adapters, providers.NewSnaptradeAdapter(url, os.Getenv("SNAPTRADE_CLIENT_ID"), os.Getenv("SNAPTRADE_CONSUMER_KEY"), log))
	}
	if path := getEnv("POSITIONS_IMPORT_FILE", ""); path != "" {
		adapters = append(adapters, providers.NewFileImportAdapter(path, log))
	}
	if len(adapters) == 0 {
		log.Warn().Msg("No provider gateways configured; portfolio analysis has no position sources")
	}
	registry := providers.NewRegistry(log, adapters...)

	var monthLister contracts.MonthLister
	if ibkr != nil {
		monthLister = ibkr
	}
	catalog := contracts.New(monthLister, log)

	basketRepo := baskets.NewRepository(coreDB.Conn(), log)
	factors := factor.NewEngine(store, cfg.MinRegressionObs, log)
	evaluator := risk.NewEvaluator(log)
	resultCache := service.NewResultCache(cacheDB.Conn(), cfg.ResultCacheTTL, log)
	desk := trading.NewDesk(coreDB.Conn(), store, catalog, basketRepo, trading.Options{
		PreviewTTL: cfg.PreviewTTL,
	}, log)

	svc := service.New(service.Config{
		Registry: registry,
		Canonicalizer: canonical.New(canonical.Options{
			Catalog:     catalog,
			RateClasses: cfg.RateFactorClasses,
		}, log),
		Store:     store,
		Factors:   factors,
		Evaluator: evaluator,
		Profiles:  risk.NewRepository(coreDB.Conn(), log),
		Performance: performance.NewEngine(store, performance.Options{
			RiskFreeRate: cfg.RiskFreeRate,
			SmallBaseNAV: cfg.SmallBaseNAV,
		}, log),
		Solver:        optimizer.NewSolver(log),
		WhatIf:        optimizer.NewWhatIf(factors, evaluator, log),
		Intelligence:  intelligence.NewEngine(store, basketRepo, log),
		Desk:          desk,
		Baskets:       basketRepo,
		Cache:         resultCache,
		Targets:       risk.NewTargetRepository(coreDB.Conn(), log),
		DataVersion:   getEnv("DATA_VERSION", "v1"),
		AnalysisYears: cfg.AnalysisWindowMonths / 12,
	}, log)

	toolRegistry := tools.DefaultRegistry(tools.Deps{
		Service: svc,
		Desk:    desk,
		Baskets: basketRepo,
		Catalog: catalog,
	}, log)

	hub := events.NewHub(log)

	// Off-site backups are disabled when no bucket is configured.
	var objectStore reliability.ObjectStore
	s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize backup storage")
	}
	if s3Client != nil {
		objectStore = s3Client
	}
	backupSvc := reliability.NewBackupService(objectStore, coreDB, cfg.DataDir, cfg.Backup.Prefix, log)
	if backupSvc.Enabled() {
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Off-site backups enabled")
	}

	sched := scheduler.New(log)
	err = scheduler.RegisterMaintenanceJobs(sched, scheduler.Deps{
		Previews:      desk,
		Cache:         resultCache,
		Databases:     []scheduler.Checkpointer{coreDB, cacheDB},
		Backup:        backupSvc,
		RetentionDays: cfg.Backup.RetentionDays,
		Hub:           hub,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance jobs")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:     log,
		Cfg:     cfg,
		CoreDB:  coreDB,
		CacheDB: cacheDB,
		Tools:   toolRegistry,
		Hub:     hub,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Flush WALs so the data directory is consistent on disk.
	if err := coreDB.WALCheckpoint("TRUNCATE"); err != nil {
		log.Error().Err(err).Msg("Failed to checkpoint core database")
	}
	if err := cacheDB.WALCheckpoint("TRUNCATE"); err != nil {
		log.Error().Err(err).Msg("Failed to checkpoint cache database")
	}
	log.Info().Msg("Stopped")
}
