package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gold-analysis-engine/config"
	"gold-analysis-engine/internal/api"
	"gold-analysis-engine/internal/events"
	"gold-analysis-engine/internal/history"
	"gold-analysis-engine/internal/logging"
	"gold-analysis-engine/internal/marketdata"
	"gold-analysis-engine/internal/pipeline"
	"gold-analysis-engine/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Provider API keys from Vault, config-file keys otherwise
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		log.Fatalf("Failed to create vault client: %v", err)
	}
	if vaultClient.IsEnabled() {
		if err := vaultClient.ApplyToConfig(ctx, &cfg.MarketDataConfig); err != nil {
			log.Fatalf("Failed to load provider keys from vault: %v", err)
		}
		logger.Info("Provider API keys loaded from vault")
	}

	// Optional shared Redis candle cache; in-memory only otherwise
	var shared *marketdata.RedisCandleCache
	if cfg.RedisConfig.Enabled {
		shared, err = marketdata.NewRedisCandleCache(cfg.RedisConfig)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, using in-memory cache only")
			shared = nil
		} else {
			defer shared.Close()
			logger.Info("Shared Redis candle cache enabled", "address", cfg.RedisConfig.Address)
		}
	}

	source := marketdata.NewSource(cfg.MarketDataConfig, shared)
	logger.Info("Market data source initialized",
		"symbol", cfg.MarketDataConfig.Symbol,
		"interval", cfg.MarketDataConfig.Interval,
		"providers", len(cfg.MarketDataConfig.Providers))

	// Event bus feeds the websocket hub and the history writer
	eventBus := events.NewEventBus(64)
	defer eventBus.Close()

	orch, err := pipeline.NewOrchestrator(cfg, source, eventBus)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	defer orch.Stop()

	// Optional recommendation history (pgx)
	var histRepo *history.Repository
	if cfg.DatabaseConfig.Enabled && cfg.AnalysisConfig.HistoryEnabled {
		zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		db, err := history.NewDB(cfg.DatabaseConfig, zlog)
		if err != nil {
			log.Fatalf("Failed to connect to history database: %v", err)
		}
		defer db.Close()

		histRepo = history.NewRepository(db, cfg.AnalysisConfig.HistoryRetention, zlog)
		go persistCompletedRuns(ctx, eventBus, histRepo, logger)
		logger.Info("Recommendation history enabled",
			"retention", cfg.AnalysisConfig.HistoryRetention)
	}

	// Bearer-token guard for the refresh endpoint
	var tokens *api.TokenManager
	if cfg.AuthConfig.Enabled {
		tokens = api.NewTokenManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.Issuer, 24*time.Hour)
		logger.Info("Refresh endpoint guarded by bearer token")
	}

	orch.StartAutoRefresh(ctx)
	if cfg.AnalysisConfig.AutoRefresh {
		logger.Info("Auto-refresh enabled", "interval", cfg.AnalysisConfig.RefreshInterval.String())
	}

	// Warm the first analysis so the API has data immediately
	go func() {
		if _, err := orch.RequestAnalysis(ctx, pipeline.Options{Force: true}); err != nil {
			logger.WithError(err).Warn("Initial analysis failed")
		}
	}()

	server := api.NewServer(cfg, orch, eventBus, histRepo, tokens)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("API server stopped")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown incomplete")
	}

	logger.Info("Shutdown complete")
}

// persistCompletedRuns writes every completed analysis to history.
// Persistence failures are logged and never reach the pipeline.
func persistCompletedRuns(ctx context.Context, bus *events.EventBus, repo *history.Repository, logger *logging.Logger) {
	sub := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			bus.Unsubscribe(sub)
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Type != events.EventAnalysisCompleted {
				continue
			}
			state, ok := ev.Payload.(*pipeline.AnalysisState)
			if !ok {
				continue
			}
			if err := repo.SaveAnalysis(ctx, state); err != nil {
				logger.WithError(err).Warn("Failed to persist analysis", "run_id", state.RunID)
			}
		}
	}
}
