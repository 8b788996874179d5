package container

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"golang.org/x/sync/singleflight"

	"github.com/seantiz/fnworker/internal/backend"
	"github.com/seantiz/fnworker/internal/model"
)

// Default action proxy timeouts.
const (
	DefaultProxyTimeout      = 30 * time.Second
	DefaultProxyReadyTimeout = 10 * time.Second
)

// Config holds settings for the container backend. Per-call settings
// (engine endpoint, network, isolation mode) travel with each request instead.
type Config struct {
	// Images maps runtime names to images. Nil means DefaultImages.
	Images *ImageTable

	// Dial opens an engine client per call. Nil means DialEngine.
	Dial Dialer

	// HostConfig is merged into every created container's host configuration.
	HostConfig containertypes.HostConfig

	// ProxyTimeout bounds each action proxy request.
	ProxyTimeout time.Duration

	// ProxyReadyTimeout bounds the wait for the action proxy to accept
	// connections before /init.
	ProxyReadyTimeout time.Duration
}

// Backend implements backend.Backend on a container engine.
type Backend struct {
	images   *ImageTable
	dial     Dialer
	defaults containertypes.HostConfig
	proxy    *actionProxy
	pulls    singleflight.Group
	logger   *slog.Logger

	mu       sync.Mutex
	runtimes map[string]backend.Runtime // container name → descriptor
}

// NewBackend creates a container backend.
func NewBackend(cfg Config, logger *slog.Logger) (*Backend, error) {
	images := cfg.Images
	if images == nil {
		var err error
		if images, err = NewImageTable(DefaultImages); err != nil {
			return nil, fmt.Errorf("default image table: %w", err)
		}
	}
	dial := cfg.Dial
	if dial == nil {
		dial = DialEngine
	}
	timeout := cfg.ProxyTimeout
	if timeout <= 0 {
		timeout = DefaultProxyTimeout
	}
	ready := cfg.ProxyReadyTimeout
	if ready <= 0 {
		ready = DefaultProxyReadyTimeout
	}

	return &Backend{
		images:   images,
		dial:     dial,
		defaults: cfg.HostConfig,
		proxy:    newActionProxy(timeout, ready),
		logger:   logger,
		runtimes: make(map[string]backend.Runtime),
	}, nil
}

// manager dials endpoint and returns a lifecycle manager bound to it. The
// caller must close the returned client.
func (b *Backend) manager(endpoint string) (*Manager, EngineClient, error) {
	if endpoint == "" {
		return nil, nil, backend.Errorf(backend.KindInvalidRequest, nil, "engine endpoint is required")
	}
	cli, err := b.dial(endpoint)
	if err != nil {
		return nil, nil, backend.Errorf(backend.KindConnectionUnavailable, err, "connect to engine at "+endpoint)
	}
	return NewManager(cli, endpoint, b.images, &b.pulls, b.defaults, b.logger), cli, nil
}

// Prepare provisions a container for req.Function and, when the function
// carries code, loads it into the action proxy.
func (b *Backend) Prepare(ctx context.Context, req backend.PrepareRequest) (backend.Runtime, error) {
	m, cli, err := b.manager(req.Endpoint)
	if err != nil {
		return backend.Runtime{}, err
	}
	defer cli.Close()

	rt, err := m.Provision(ctx, req.Function, req.Name, req.Network, req.Rootless)
	if err != nil {
		return backend.Runtime{}, err
	}
	b.remember(rt)

	if len(req.Function.Code) > 0 {
		if err := b.proxy.Init(ctx, Endpoint{Host: rt.Host, Port: rt.Port}, req.Function); err != nil {
			return rt, err
		}
	}
	return rt, nil
}

// Invoke runs the action in a prepared container.
func (b *Backend) Invoke(ctx context.Context, ref backend.RuntimeRef, args []byte) ([]byte, error) {
	rt, ok := b.lookup(ref.Name)
	if !ok {
		return nil, backend.Errorf(backend.KindContainerNotFound, nil,
			fmt.Sprintf("no prepared container named %q", ref.Name))
	}
	return b.proxy.Run(ctx, Endpoint{Host: rt.Host, Port: rt.Port}, args)
}

// Logs returns the combined container log.
func (b *Backend) Logs(ctx context.Context, ref backend.RuntimeRef) ([]model.LogLine, error) {
	m, cli, err := b.manager(ref.Endpoint)
	if err != nil {
		return nil, err
	}
	defer cli.Close()
	return m.Logs(ctx, ref.Name)
}

// Wait blocks until the container exits and returns its exit code.
func (b *Backend) Wait(ctx context.Context, ref backend.RuntimeRef) (int64, error) {
	m, cli, err := b.manager(ref.Endpoint)
	if err != nil {
		return 0, err
	}
	defer cli.Close()
	return m.Wait(ctx, ref.Name)
}

// Cleanup kills and removes the container and drops its descriptor.
func (b *Backend) Cleanup(ctx context.Context, ref backend.RuntimeRef) error {
	m, cli, err := b.manager(ref.Endpoint)
	if err != nil {
		return err
	}
	defer cli.Close()

	if err := m.Cleanup(ctx, ref.Name); err != nil {
		return err
	}
	b.forget(ref.Name)
	return nil
}

// Capabilities reports the mapped runtimes and supported operations.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:              BackendName,
		SupportedRuntimes: b.images.Runtimes(),
		Operations: []string{
			string(model.OpPrepare),
			string(model.OpInvoke),
			string(model.OpLogs),
			string(model.OpWait),
			string(model.OpCleanup),
		},
	}
}

// Runtimes returns the descriptors of prepared containers sorted by name.
func (b *Backend) Runtimes() []backend.Runtime {
	b.mu.Lock()
	defer b.mu.Unlock()

	rts := make([]backend.Runtime, 0, len(b.runtimes))
	for _, rt := range b.runtimes {
		rts = append(rts, rt)
	}
	slices.SortFunc(rts, func(a, c backend.Runtime) int {
		return strings.Compare(a.Name, c.Name)
	})
	return rts
}

func (b *Backend) remember(rt backend.Runtime) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.runtimes[rt.Name]; !ok {
		liveContainers.Inc()
	}
	b.runtimes[rt.Name] = rt
}

func (b *Backend) lookup(name string) (backend.Runtime, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rt, ok := b.runtimes[name]
	return rt, ok
}

func (b *Backend) forget(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.runtimes[name]; ok {
		liveContainers.Dec()
		delete(b.runtimes, name)
	}
}
