package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/wwwzy/sweepchat/internal/agent"
	"github.com/wwwzy/sweepchat/internal/config"
	"github.com/wwwzy/sweepchat/internal/messaging"
	"github.com/wwwzy/sweepchat/internal/service"
	"github.com/wwwzy/sweepchat/internal/storage"
	"github.com/wwwzy/sweepchat/internal/thread"
	"github.com/wwwzy/sweepchat/internal/tools"
)

// app holds the components shared by serve and chat.
type app struct {
	store   *storage.Storage
	service *service.Service
}

func newApp(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*app, error) {
	storeCfg := cfg.Storage
	storeCfg.Logger = log
	store, err := storage.Open(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a, err := wire(ctx, cfg, store, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, cfg *config.Config, store *storage.Storage, log logrus.FieldLogger) (*app, error) {
	threads, err := thread.NewSQLStore(store)
	if err != nil {
		return nil, err
	}

	registry, err := tools.NewDefaultRegistry(ctx, cfg.Tools, nil)
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	runnable, err := agent.New(ctx, cfg, agent.Models{}, registry, store, log)
	if err != nil {
		return nil, fmt.Errorf("build conversation graph: %w", err)
	}

	sender, err := messaging.New(cfg.Messaging, log)
	if err != nil {
		return nil, fmt.Errorf("init messaging: %w", err)
	}

	svc, err := service.New(service.Config{
		Store:       threads,
		Runner:      runnable,
		Notifier:    messaging.NewNotifier(sender, log),
		Logger:      log,
		TurnTimeout: cfg.Orchestration.TurnTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &app{store: store, service: svc}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
