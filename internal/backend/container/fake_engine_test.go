package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/docker/docker/api/types"
	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeEngine is an in-memory EngineClient that records the calls it receives.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string

	images   map[string]bool
	pullBody string

	inspectImageErr error
	pullErr         error
	createErr       error
	startErr        error
	connectErr      error
	inspectErr      error
	logsErr         error
	killErr         error
	removeErr       error

	settings *types.NetworkSettings
	logs     []byte
	wait     containertypes.WaitResponse
	waitErr  error

	config     *containertypes.Config
	hostConfig *containertypes.HostConfig
	name       string
	networks   []string
	signal     string
	closed     bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		images:   map[string]bool{},
		settings: bridgeSettings("172.17.0.2"),
	}
}

func bridgeSettings(ip string) *types.NetworkSettings {
	return &types.NetworkSettings{
		Networks: map[string]*network.EndpointSettings{
			DefaultNetwork: {IPAddress: ip},
		},
	}
}

func publishedSettings(bindings ...nat.PortBinding) *types.NetworkSettings {
	return &types.NetworkSettings{
		NetworkSettingsBase: types.NetworkSettingsBase{
			Ports: nat.PortMap{wellKnownPortKey: bindings},
		},
	}
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) ImageInspectWithRaw(_ context.Context, ref string) (types.ImageInspect, []byte, error) {
	f.record("image_inspect")
	if f.inspectImageErr != nil {
		return types.ImageInspect{}, nil, f.inspectImageErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.images[ref] {
		return types.ImageInspect{}, nil, errdefs.NotFound(errors.New("No such image: " + ref))
	}
	return types.ImageInspect{ID: "sha256:" + ref}, nil, nil
}

func (f *fakeEngine) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.record("image_pull")
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return io.NopCloser(bytes.NewBufferString(f.pullBody)), nil
}

func (f *fakeEngine) ContainerCreate(_ context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (containertypes.CreateResponse, error) {
	f.record("create")
	if f.createErr != nil {
		return containertypes.CreateResponse{}, f.createErr
	}
	f.mu.Lock()
	f.config, f.hostConfig, f.name = config, hostConfig, name
	f.mu.Unlock()
	return containertypes.CreateResponse{ID: "id-" + name}, nil
}

func (f *fakeEngine) ContainerStart(context.Context, string, containertypes.StartOptions) error {
	f.record("start")
	return f.startErr
}

func (f *fakeEngine) NetworkConnect(_ context.Context, networkID, _ string, _ *network.EndpointSettings) error {
	f.record("network_connect")
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.networks = append(f.networks, networkID)
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) ContainerInspect(context.Context, string) (types.ContainerJSON, error) {
	f.record("inspect")
	if f.inspectErr != nil {
		return types.ContainerJSON{}, f.inspectErr
	}
	return types.ContainerJSON{NetworkSettings: f.settings}, nil
}

func (f *fakeEngine) ContainerLogs(context.Context, string, containertypes.LogsOptions) (io.ReadCloser, error) {
	f.record("logs")
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	return io.NopCloser(bytes.NewReader(f.logs)), nil
}

func (f *fakeEngine) ContainerWait(context.Context, string, containertypes.WaitCondition) (<-chan containertypes.WaitResponse, <-chan error) {
	f.record("wait")
	statusCh := make(chan containertypes.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.waitErr != nil {
		errCh <- f.waitErr
	} else {
		statusCh <- f.wait
	}
	return statusCh, errCh
}

func (f *fakeEngine) ContainerKill(_ context.Context, _ string, signal string) error {
	f.record("kill")
	f.mu.Lock()
	f.signal = signal
	f.mu.Unlock()
	return f.killErr
}

func (f *fakeEngine) ContainerRemove(context.Context, string, containertypes.RemoveOptions) error {
	f.record("remove")
	return f.removeErr
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
