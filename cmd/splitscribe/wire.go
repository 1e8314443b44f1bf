package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mmynk/splitscribe/internal/allocation"
	"github.com/mmynk/splitscribe/internal/config"
	"github.com/mmynk/splitscribe/internal/llm"
	"github.com/mmynk/splitscribe/internal/metrics"
	"github.com/mmynk/splitscribe/internal/pipeline"
	"github.com/mmynk/splitscribe/internal/roster"
	"github.com/mmynk/splitscribe/internal/storage"
	"github.com/mmynk/splitscribe/internal/storage/postgres"
	"github.com/mmynk/splitscribe/internal/storage/sqlite"
)

// app holds the long-lived components shared by the commands.
type app struct {
	store       storage.Store
	provisioner *roster.Provisioner
	pipeline    *pipeline.Service
	metrics     *metrics.Metrics
}

func (a *app) Close() error {
	return a.store.Close()
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newValidator(cfg config.ReconcileConfig, logger *slog.Logger) (*allocation.Validator, error) {
	policy, err := allocation.NewPolicy(cfg.Rule, cfg.ToleranceCents)
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile rule: %w", err)
	}
	return allocation.NewValidator(
		allocation.WithPolicy(policy),
		allocation.WithReconcileMode(allocation.ReconcileMode(cfg.Mode)),
		allocation.WithLogger(logger),
	), nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if cfg.Model.APIKey == "" {
		return nil, errors.New("a Gemini API key is required: set model.api_key or API_KEY")
	}

	validator, err := newValidator(cfg.Reconcile, logger)
	if err != nil {
		return nil, err
	}

	allocator, err := llm.NewGemini(ctx, llm.GeminiConfig{
		APIKey:  cfg.Model.APIKey,
		Model:   cfg.Model.Name,
		Timeout: cfg.Model.Timeout.Std(),
		Rate:    cfg.Model.Rate,
		Burst:   cfg.Model.Burst,
	}, logger)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	logger.Info("Storage initialized", "driver", cfg.Storage.Driver)

	m := metrics.New()
	provisioner := roster.NewProvisioner(store, cfg.Pipeline.DefaultMemberName, logger)
	svc := pipeline.NewService(
		pipeline.Config{
			AutoProvision:     cfg.Pipeline.AutoProvision,
			PreflightClassify: cfg.Pipeline.PreflightClassify,
			MaxAttempts:       cfg.Model.MaxAttempts,
		},
		store,
		allocator,
		validator,
		pipeline.NewCoordinator(store, logger),
		pipeline.WithProvisioner(provisioner),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(logger),
	)

	return &app{store: store, provisioner: provisioner, pipeline: svc, metrics: m}, nil
}
