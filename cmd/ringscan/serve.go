package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensource-finance/ringscan/internal/analysis"
	"github.com/opensource-finance/ringscan/internal/api"
	"github.com/opensource-finance/ringscan/internal/bus"
	"github.com/opensource-finance/ringscan/internal/cache"
	"github.com/opensource-finance/ringscan/internal/domain"
	"github.com/opensource-finance/ringscan/internal/repository"
	"github.com/opensource-finance/ringscan/internal/rules"
	"github.com/opensource-finance/ringscan/internal/worker"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(viper.GetViper())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().Int("port", 8080, "HTTP port")
	cmd.Flags().Bool("worker", false, "consume batches submitted on the event bus")
	_ = viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("worker.enabled", cmd.Flags().Lookup("worker"))

	return cmd
}

func serve(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting ringscan",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize detection pipeline
	pipeline, err := analysis.NewPipeline(cfg.Detection)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	slog.Info("pipeline initialized",
		"min_cycle_length", cfg.Detection.MinCycleLength,
		"max_cycle_length", cfg.Detection.MaxCycleLength,
		"workers", cfg.Detection.Workers,
	)

	// Initialize alert rules
	engine, err := rules.NewEngine(100)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	if err := engine.LoadRules(rules.DefaultAlertRules()); err != nil {
		return fmt.Errorf("failed to load alert rules: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	service := &analysis.Service{
		Pipeline: pipeline,
		Rules:    engine,
		Reports:  cache.NewReportCache(cacheImpl, cfg.Detection.ReportCacheTTL),
		Repo:     repo,
		Bus:      busImpl,
	}

	// Initialize async worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, service)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, service, repo, cacheImpl, busImpl, engine, Version, cfg.Detection.MaxUploadBytes)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("ringscan is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
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

	slog.Info("ringscan shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ringscan - money-laundering ring detection")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Worker:   %t\n", cfg.Worker.Enabled)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze               - Analyse a CSV ledger")
	fmt.Println("    POST /batches               - Queue a CSV ledger for the worker")
	fmt.Println("    GET  /analyses              - List archived analyses")
	fmt.Println("    GET  /analyses/{id}         - Get an archived analysis")
	fmt.Println("    GET  /analyses/{id}/alerts  - Alerts raised for an analysis")
	fmt.Println("    GET  /rules                 - List alert rules")
	fmt.Println("    POST /rules                 - Add an alert rule")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
