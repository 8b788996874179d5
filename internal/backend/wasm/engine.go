package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// EngineConfig configures the process-wide runtime.
type EngineConfig struct {
	// MemoryLimitPages caps linear memory per instance in 64KiB pages.
	// Zero keeps the wazero default.
	MemoryLimitPages uint32

	// CacheDir enables an on-disk compilation cache when set.
	CacheDir string
}

// Engine is the shared wazero runtime. It is read-only once created.
type Engine struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
}

func newEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("create compilation cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.MemoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		if cache != nil {
			cache.Close(ctx)
		}
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	return &Engine{runtime: rt, cache: cache}, nil
}

func (e *Engine) close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		if cerr := e.cache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}
