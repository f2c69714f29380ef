package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-paynotify/internal/agent/config"
	"github.com/go-paynotify/internal/agent/outbox"
	"github.com/go-paynotify/internal/classifier"
	"github.com/go-paynotify/internal/pkg/logger"
)

// env is what every subcommand needs: the loaded config, a logger and the
// open outbox.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *outbox.Store
}

func openEnv(ctx context.Context, configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	store, err := outbox.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open outbox %s: %w", cfg.DBPath, err)
	}
	return &env{cfg: cfg, logger: log, store: store}, nil
}

func (e *env) Close() error { return e.store.Close() }

func (e *env) httpClient() *http.Client {
	return &http.Client{Timeout: e.cfg.Delivery.Timeout}
}

func (e *env) classifier() (*classifier.Classifier, error) {
	limit, err := e.cfg.MaxAmountDecimal()
	if err != nil {
		return nil, err
	}
	return classifier.New(classifier.WithMaxAmount(limit)), nil
}
