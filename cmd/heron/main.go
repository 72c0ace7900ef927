// Heron - Learner identity duplication detection engine.
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

	"github.com/learnersafe/heron/internal/api"
	"github.com/learnersafe/heron/internal/audit"
	"github.com/learnersafe/heron/internal/bus"
	"github.com/learnersafe/heron/internal/cache"
	"github.com/learnersafe/heron/internal/domain"
	"github.com/learnersafe/heron/internal/flags"
	"github.com/learnersafe/heron/internal/repository"
	"github.com/learnersafe/heron/internal/rules"
	"github.com/learnersafe/heron/internal/scan"
	"github.com/learnersafe/heron/internal/verify"
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
	if os.Getenv("HERON_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HERON_TIER") == "pro" {
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

	// Initialize external verification adapter
	var verifier domain.Verifier
	if cfg.Verification.Enabled {
		verifier = verify.NewCachedVerifier(
			verify.NewHTTPVerifier(cfg.Verification),
			cacheImpl,
			cfg.Verification.CacheTTL,
		)
		slog.Info("external verification enabled",
			"provider", cfg.Verification.Provider,
			"endpoint", cfg.Verification.Endpoint,
		)
	}

	// Initialize Rule Engine
	engine, err := rules.NewEngine(cfg.Detection, verifier)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}

	if err := loadRules(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize flag manager with auditing and event publication
	auditSink := audit.NewSink(repo)
	mgr := flags.NewManager(repo, auditSink, busImpl)

	// Initialize scan orchestrator
	scanner := scan.NewScanner(repo, engine, mgr, cacheImpl, busImpl, cfg.Detection)
	slog.Info("scan orchestrator initialized",
		"population", cfg.Detection.Population,
		"workers", cfg.Detection.WorkerCount,
	)

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, engine, mgr, scanner, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop any active scan before closing the components it uses
	scanner.Cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("heron shutdown complete")
}

// loadRules loads match rules from the database, falling back to the
// built-in default rule set when none are configured yet.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListMatchRules(ctx)
	if err != nil {
		return err
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no rules in database, loading defaults")
	defaults := rules.DefaultRules()
	for _, rule := range defaults {
		if err := repo.SaveMatchRule(ctx, rule); err != nil {
			slog.Warn("failed to persist default rule", "rule_id", rule.ID, "error", err)
		}
	}
	return engine.LoadRules(defaults)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  HERON - Learner Duplication Detection")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /duplications/run-bulk-check         - Start a bulk scan")
	fmt.Println("    GET  /duplications/scans/{id}             - Get a scan report")
	fmt.Println("    GET  /duplications/check/{learnerId}      - Check one learner")
	fmt.Println("    GET  /duplications/flags/pending          - Flags awaiting review")
	fmt.Println("    GET  /duplications/flags/learner/{id}     - Flags for a learner")
	fmt.Println("    PUT  /duplications/flags/{id}/review      - Review a flag")
	fmt.Println("    GET  /rules                               - List match rules")
	fmt.Println("    POST /rules                               - Create a match rule")
	fmt.Println("    POST /rules/reload                        - Hot-reload rules")
	fmt.Println("    GET  /health                              - Health check")
	fmt.Println()
}
