package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seantiz/fnworker/internal/backend"
	"github.com/seantiz/fnworker/internal/backend/container"
	"github.com/seantiz/fnworker/internal/backend/wasm"
	"github.com/seantiz/fnworker/internal/bridge"
	"github.com/seantiz/fnworker/internal/config"
	"github.com/seantiz/fnworker/internal/store"
)

// services holds the components shared by the serve and run commands.
type services struct {
	store    store.Store
	registry *backend.Registry
	modules  *wasm.Registry
	bridge   *bridge.Bridge
	logger   *slog.Logger
}

// newServices opens the store at dbPath and registers both backends.
func newServices(cfg config.Config, dbPath string, logger *slog.Logger) (*services, error) {
	images, err := container.LoadImageTable(cfg.ImagesFile)
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	containers, err := container.NewBackend(container.Config{
		Images:            images,
		ProxyTimeout:      cfg.ProxyTimeout,
		ProxyReadyTimeout: cfg.ProxyReadyTimeout,
	}, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("container backend: %w", err)
	}

	modules := wasm.NewRegistry(wasm.EngineConfig{
		MemoryLimitPages: cfg.WasmMemoryPages,
		CacheDir:         cfg.WasmCacheDir,
	}, logger)

	reg := backend.NewRegistry()
	reg.Register(container.BackendName, containers)
	reg.Register(wasm.BackendName, wasm.NewBackend(modules, logger))

	return &services{
		store:    db,
		registry: reg,
		modules:  modules,
		bridge:   bridge.New(db, reg, logger),
		logger:   logger,
	}, nil
}

// close drains in-flight invocations, then releases the engine and the store.
func (s *services) close(ctx context.Context) error {
	s.bridge.Close()
	return errors.Join(s.modules.Close(ctx), s.store.Close())
}
