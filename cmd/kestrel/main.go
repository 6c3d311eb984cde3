// Kestrel - Transaction risk decisions in real time.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/advisory"
	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/blocklist"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scenario"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Audit Recorder
	auditSink := audit.NewRecorder(repo, 1000)
	defer auditSink.Close()

	// Initialize Block Store and warm it from persisted state
	blocks := blocklist.NewStore(cfg.Block, repo, auditSink, busImpl)
	if err := blocks.WarmStart(ctx); err != nil {
		slog.Warn("block store warm start failed", "error", err)
	}
	blocks.Start()
	defer blocks.Stop()
	slog.Info("block store initialized",
		"max_attempts", cfg.Block.MaxAttempts,
		"duration", cfg.Block.Duration,
	)

	// Initialize Rule Scorer (includes operator-defined CEL rules)
	ruleScorer, err := rules.NewScorer(cfg.Scoring)
	if err != nil {
		slog.Error("failed to initialize rule scorer", "error", err)
		os.Exit(1)
	}
	slog.Info("rule scorer initialized", "custom_rules", len(cfg.Scoring.CustomRules))

	// Initialize Advisory Scorer, Scenario Matcher, and Resolver
	advisoryScorer := advisory.NewScorer()
	matcher := scenario.NewMatcher(cfg.Scoring.HomeCountries)
	resolver := decision.NewResolver(cfg.Scoring)

	// Initialize History Service
	historySvc := history.NewService(repo, cacheImpl, cfg.Scoring.VelocityWindow)

	// Initialize Alert Notifier
	alertSink := alert.NewNotifier(busImpl)

	// Initialize Engine
	eng := engine.New(
		repo,
		cacheImpl,
		busImpl,
		ruleScorer,
		advisoryScorer,
		matcher,
		resolver,
		blocks,
		historySvc,
		auditSink,
		alertSink,
	)
	slog.Info("decision engine initialized")

	// Initialize Analytics
	stats := analytics.NewService(repo)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, eng)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eng, blocks, stats, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║     Transaction Risk Decision Engine      ║")
	fmt.Println("  ║       Every transaction, decided.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions            - Evaluate a transaction")
	fmt.Println("    GET  /transactions/{id}       - Get transaction by ID")
	fmt.Println("    GET  /accounts/{id}/block     - Get account block status")
	fmt.Println("    POST /accounts/{id}/unblock   - Lift an account block")
	fmt.Println("    POST /blocklist/sweep         - Force an expiry sweep")
	fmt.Println("    GET  /analytics               - Aggregate decision stats")
	fmt.Println("    GET  /audit/{id}              - Audit trail for an entity")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println()
}
