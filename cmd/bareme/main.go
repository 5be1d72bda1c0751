// Bareme - Tariff and reduction computation for membership systems.
// Copyright (c) 2025 openmembership
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openmembership/bareme/internal/api"
	"github.com/openmembership/bareme/internal/bus"
	"github.com/openmembership/bareme/internal/cache"
	"github.com/openmembership/bareme/internal/domain"
	"github.com/openmembership/bareme/internal/engine"
	"github.com/openmembership/bareme/internal/preview"
	"github.com/openmembership/bareme/internal/repository"
	"github.com/openmembership/bareme/internal/rules"
	"github.com/openmembership/bareme/internal/tree"
	"github.com/openmembership/bareme/internal/worker"
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
	if os.Getenv("BAREME_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting bareme",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for clustered deployment via environment
	clustered := os.Getenv("BAREME_CLUSTER") == "true"
	if clustered {
		cfg = domain.ClusterConfig()
		slog.Info("running in clustered mode")
	}

	slog.Info("configuration loaded",
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

	// Initialize Rule Registry
	registry := rules.NewRegistry()

	// Load reduction rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, registry); err != nil {
		slog.Error("failed to load reduction rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule registry initialized", "rules_count", registry.Count())

	// Initialize Tree Engine
	treeEngine, err := tree.NewEngine()
	if err != nil {
		slog.Error("failed to initialize tree engine", "error", err)
		os.Exit(1)
	}

	// Load decision trees from database
	if err := loadTreesFromDatabase(ctx, repo, treeEngine); err != nil {
		slog.Error("failed to load decision trees", "error", err)
		os.Exit(1)
	}
	slog.Info("tree engine initialized", "trees_count", treeEngine.Count())

	// Initialize Computation Engine
	eng := engine.New(repo, registry, treeEngine)
	slog.Info("computation engine initialized", "engine_version", engine.EngineVersion)

	// Initialize Bounds Preview Service
	previewSvc := preview.NewService(eng, cacheImpl)
	slog.Info("preview service initialized")

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if clustered || os.Getenv("BAREME_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, eng)

		// Get organization IDs to process (from environment or default)
		orgIDs := []string{}
		if envOrgs := os.Getenv("BAREME_ORGS"); envOrgs != "" {
			orgIDs = strings.Split(envOrgs, ",")
		}

		workerCfg := worker.Config{
			OrgIDs:      orgIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "org_count", len(orgIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, busImpl, eng, previewSvc, registry, treeEngine, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("bareme is ready",
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

	slog.Info("bareme shutdown complete")
}

// loadRulesFromDatabase loads every organization's reduction rules into
// the registry. All rules must be configured via POST /rules API - no
// hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, registry *rules.Registry) error {
	dbRules, err := repo.ListAllReductionRules(ctx)
	if err != nil {
		slog.Warn("failed to list reduction rules from database", "error", err)
		return nil // Start with empty registry - rules can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading reduction rules from database", "count", len(dbRules))
		return registry.LoadRules(dbRules)
	}

	slog.Info("no reduction rules in database - configure via POST /rules API")
	return nil
}

// loadTreesFromDatabase loads and compiles decision trees into the engine.
func loadTreesFromDatabase(ctx context.Context, repo domain.Repository, engine *tree.Engine) error {
	trees, err := repo.ListDecisionTrees(ctx)
	if err != nil {
		slog.Warn("failed to list decision trees from database", "error", err)
		return nil // Start with empty engine - trees can be added via API
	}

	if len(trees) > 0 {
		slog.Info("loading decision trees from database", "count", len(trees))
		return engine.LoadTrees(trees)
	}

	slog.Info("no decision trees in database - configure via PUT /tariffs/{id}/tree")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═════════════════════════════════════════╗")
	fmt.Println("  ║               BAREME                    ║")
	fmt.Println("  ║   Tariff & Reduction Computation        ║")
	fmt.Println("  ║   Every amount explained.               ║")
	fmt.Println("  ╚═════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /fees/compute                    - Price a fee (preview or commit)")
	fmt.Println("    GET  /fees/computations/{id}          - Get a stored computation")
	fmt.Println("    GET  /tariffs/{id}/bounds             - Min/max preview for a tariff")
	fmt.Println("    GET  /tariffs/{id}/amounts            - List base amounts")
	fmt.Println("    PUT  /tariffs/{id}/amounts            - Configure base amounts")
	fmt.Println("    GET  /tariffs/{id}/tree               - Get the decision tree")
	fmt.Println("    PUT  /tariffs/{id}/tree               - Replace the decision tree")
	fmt.Println("    POST /tariffs/{id}/tree/duplicate     - Copy into a new unlocked version")
	fmt.Println("    POST /tariffs/{id}/tree/lock          - Lock the decision tree")
	fmt.Println("    GET  /rules                           - List reduction rules")
	fmt.Println("    POST /rules                           - Create a reduction rule")
	fmt.Println("    POST /rules/reload                    - Hot-reload rules from database")
	fmt.Println("    GET  /brackets                        - List bracket tables")
	fmt.Println("    POST /brackets                        - Create a bracket table")
	fmt.Println("    GET  /health                          - Health check")
	fmt.Println()
}
