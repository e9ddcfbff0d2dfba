// Kestrel - Credit risk scoring for loan applications.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/assessment"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/tracing"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("kestrel stopped", "error", err)
		if errors.Is(err, domain.ErrConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.Options{File: os.Getenv("KESTREL_CONFIG")})
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"bundle", cfg.Model.Bundle,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	tp, err := tracing.New(cfg.Tracing, Version, logger)
	if err != nil {
		return err
	}
	if tp != nil {
		otel.SetTracerProvider(tp)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				slog.Warn("tracer shutdown failed", "error", err)
			}
		}()
		slog.Info("tracing enabled", "exporter", cfg.Tracing.ExporterType, "sample_ratio", cfg.Tracing.SampleRatio)
	}
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize bundle registry
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load the model bundle; failures here are configuration errors
	bundle, err := model.LoadLocation(ctx, cfg.Model.Bundle, model.Options{
		Store:      repo,
		S3Region:   cfg.Model.S3Region,
		S3Endpoint: cfg.Model.S3Endpoint,
	})
	if err != nil {
		return err
	}
	scorer := scoring.New(bundle, scoring.Scale{Base: cfg.Scoring.Base, Span: cfg.Scoring.Span})

	engine, err := rules.NewEngineFromFile(cfg.Rules.Path, cfg.Rules.MaxConcurrency)
	if err != nil {
		return err
	}
	defer engine.Close()
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount(), "path", cfg.Rules.Path)

	var velocitySvc *velocity.Service
	if cfg.Velocity.Enabled {
		velocitySvc = velocity.NewService(cacheImpl, cfg.Velocity.Window)
		slog.Info("velocity service initialized", "window", velocitySvc.Window())
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	svc, err := assessment.NewService(assessment.Deps{
		Scorer:    scorer,
		Engine:    engine,
		Processor: decision.NewProcessor("kestrel-" + Version),
		Cache:     cacheImpl,
		CacheTTL:  cfg.Scoring.CacheTTL,
		Velocity:  velocitySvc,
		Bus:       busImpl,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	if err := bus.PublishJSON(ctx, busImpl, domain.TopicBundleLoaded, bundle.Info()); err != nil {
		slog.Warn("failed to publish bundle loaded event", "error", err)
	}

	// Async scoring from the bus
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(); err != nil {
			return fmt.Errorf("start async worker: %w", err)
		}
		defer asyncWorker.Stop()
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Service:     svc,
		Store:       repo,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Metrics:     m,
		MetricsPath: cfg.Metrics.Path,
	}, Version)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("kestrel is ready",
			"addr", srv.Addr(),
			"bundle_id", bundle.ID(),
			"bundle_version", bundle.Version(),
		)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("kestrel shutdown complete")
	return nil
}
