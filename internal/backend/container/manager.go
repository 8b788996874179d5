package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	networktypes "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"golang.org/x/sync/singleflight"

	"github.com/seantiz/fnworker/internal/backend"
	"github.com/seantiz/fnworker/internal/model"
)

// Manager drives the lifecycle of containers on one engine endpoint. A
// Manager is built per call around a short-lived engine client; the pull
// group and image table are shared across calls.
type Manager struct {
	engine   EngineClient
	endpoint string
	images   *ImageTable
	pulls    *singleflight.Group
	defaults containertypes.HostConfig
	logger   *slog.Logger
}

// NewManager creates a lifecycle manager. pulls may be nil, in which case
// concurrent pulls of one image are not collapsed.
func NewManager(engine EngineClient, endpoint string, images *ImageTable, pulls *singleflight.Group, defaults containertypes.HostConfig, logger *slog.Logger) *Manager {
	if pulls == nil {
		pulls = &singleflight.Group{}
	}
	return &Manager{
		engine:   engine,
		endpoint: endpoint,
		images:   images,
		pulls:    pulls,
		defaults: defaults,
		logger:   logger,
	}
}

// Provision brings up a container for fn named name and returns its
// descriptor. The steps run once, in order, and stop at the first failure:
// ensure image, create, start, attach network, inspect, resolve endpoint.
// A container left behind by a failed step is not removed; callers clean up
// by name.
func (m *Manager) Provision(ctx context.Context, fn model.Function, name, network string, rootless bool) (backend.Runtime, error) {
	start := time.Now()
	rt, err := m.provision(ctx, fn, name, network, rootless)
	provisionDuration.Observe(time.Since(start).Seconds())
	observeOp(opProvision, err)
	return rt, err
}

func (m *Manager) provision(ctx context.Context, fn model.Function, name, network string, rootless bool) (backend.Runtime, error) {
	if name == "" {
		return backend.Runtime{}, backend.Errorf(backend.KindInvalidRequest, nil, "container name is required")
	}

	// 1. Image.
	ref, err := m.images.Select(fn.Image)
	if err != nil {
		return backend.Runtime{}, err
	}
	if err := m.EnsureImage(ctx, ref); err != nil {
		return backend.Runtime{}, err
	}

	// 2. Create.
	cfg := &containertypes.Config{
		Image:        ref,
		ExposedPorts: nat.PortSet{wellKnownPortKey: struct{}{}},
		Labels: map[string]string{
			LabelFunction:  fn.Name,
			LabelNamespace: fn.Namespace,
		},
	}
	if _, err := m.engine.ContainerCreate(ctx, cfg, m.hostConfig(rootless), nil, nil, name); err != nil {
		return backend.Runtime{}, classify(err, subjectContainer, "create container "+name)
	}

	// 3. Start.
	if err := m.engine.ContainerStart(ctx, name, containertypes.StartOptions{}); err != nil {
		return backend.Runtime{}, classify(err, subjectContainer, "start container "+name)
	}

	// 4. Attach. The default bridge is joined at creation.
	if network != "" && network != DefaultNetwork {
		if err := m.engine.NetworkConnect(ctx, network, name, &networktypes.EndpointSettings{}); err != nil {
			if errdefs.IsNotFound(err) {
				return backend.Runtime{}, &backend.Error{
					Kind:       backend.KindNetworkConfigMissing,
					StatusCode: statusCode(err),
					Message:    fmt.Sprintf("attach %s to network %s", name, network),
					Cause:      err,
				}
			}
			return backend.Runtime{}, classify(err, subjectContainer, fmt.Sprintf("attach %s to network %s", name, network))
		}
	}

	// 5. Inspect.
	info, err := m.engine.ContainerInspect(ctx, name)
	if err != nil {
		return backend.Runtime{}, classify(err, subjectContainer, "inspect container "+name)
	}

	// 6. Resolve.
	ep, ok := ResolveEndpoint(info.NetworkSettings, rootless)
	if !ok {
		return backend.Runtime{}, backend.Errorf(backend.KindNetworkConfigMissing, nil,
			fmt.Sprintf("container %s has no reachable endpoint (rootless=%t)", name, rootless))
	}

	m.logger.Info("container provisioned",
		"container", name,
		"image", ref,
		"network", network,
		"host", ep.Host,
		"port", ep.Port,
		"rootless", rootless,
	)

	return backend.Runtime{
		Name:    name,
		Backend: BackendName,
		Image:   ref,
		Network: network,
		Host:    ep.Host,
		Port:    ep.Port,
	}, nil
}

// hostConfig merges the manager defaults with the isolation mode. Rootless
// engines have no bridge device to route to, so ports must be published.
func (m *Manager) hostConfig(rootless bool) *containertypes.HostConfig {
	hc := m.defaults
	hc.PublishAllPorts = hc.PublishAllPorts || rootless
	return &hc
}

// EnsureImage pulls ref unless the engine already has it. Pull progress is
// logged at debug level; only the final outcome is returned.
func (m *Manager) EnsureImage(ctx context.Context, ref string) error {
	_, _, err := m.engine.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return classify(err, subjectImage, "inspect image "+ref)
	}

	_, err, shared := m.pulls.Do(m.endpoint+"|"+ref, func() (any, error) {
		return nil, m.pull(ctx, ref)
	})
	if shared {
		m.logger.Debug("joined in-flight image pull", "image", ref)
	}
	observePull(err)
	return err
}

func (m *Manager) pull(ctx context.Context, ref string) error {
	m.logger.Info("pulling image", "image", ref, "endpoint", m.endpoint)

	rc, err := m.engine.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return classify(err, subjectImage, "pull image "+ref)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return classify(err, subjectImage, "read pull progress for "+ref)
		}
		if msg.Error != nil {
			return pullError(ref, msg.Error)
		}
		var progress string
		if msg.Progress != nil {
			progress = msg.Progress.String()
		}
		m.logger.Debug("pull progress", "image", ref, "id", msg.ID, "status", msg.Status, "progress", progress)
	}
}

// pullError classifies an error reported inside the pull progress stream.
func pullError(ref string, jerr *jsonmessage.JSONError) error {
	kind := backend.KindEngineProtocol
	lower := strings.ToLower(jerr.Message)
	if strings.Contains(lower, "not found") ||
		strings.Contains(lower, "manifest unknown") ||
		strings.Contains(lower, "pull access denied") {
		kind = backend.KindImageNotFound
	}
	return &backend.Error{
		Kind:       kind,
		StatusCode: jerr.Code,
		Message:    fmt.Sprintf("pull image %s: %s", ref, jerr.Message),
	}
}

// Logs fetches the full combined log of a container once, splitting it into
// lines tagged by origin stream. Lines keep the order the engine sent them.
func (m *Manager) Logs(ctx context.Context, name string) ([]model.LogLine, error) {
	rc, err := m.engine.ContainerLogs(ctx, name, containertypes.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		observeOp(opLogs, err)
		return nil, classify(err, subjectContainer, "logs of container "+name)
	}
	defer rc.Close()

	c := newLineCollector()
	if _, err := stdcopy.StdCopy(c.writer(model.StreamStdout), c.writer(model.StreamStderr), rc); err != nil {
		err = classify(err, subjectContainer, "read logs of container "+name)
		observeOp(opLogs, err)
		return nil, err
	}
	observeOp(opLogs, nil)
	return c.finish(), nil
}

// Wait blocks until the container is no longer running and returns its exit
// code. No timeout is imposed here; ctx bounds the wait.
func (m *Manager) Wait(ctx context.Context, name string) (int64, error) {
	code, err := m.wait(ctx, name)
	observeOp(opWait, err)
	return code, err
}

func (m *Manager) wait(ctx context.Context, name string) (int64, error) {
	statusCh, errCh := m.engine.ContainerWait(ctx, name, containertypes.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, classify(err, subjectContainer, "wait for container "+name)
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return st.StatusCode, backend.Errorf(backend.KindEngineProtocol, nil,
				fmt.Sprintf("wait for container %s: %s", name, st.Error.Message))
		}
		return st.StatusCode, nil
	}
}

// Cleanup kills then removes a container. A failed kill stops the sequence:
// remove is not attempted.
func (m *Manager) Cleanup(ctx context.Context, name string) error {
	err := m.cleanup(ctx, name)
	observeOp(opCleanup, err)
	return err
}

func (m *Manager) cleanup(ctx context.Context, name string) error {
	if err := m.engine.ContainerKill(ctx, name, killSignal); err != nil {
		return classify(err, subjectContainer, "kill container "+name)
	}
	if err := m.engine.ContainerRemove(ctx, name, containertypes.RemoveOptions{}); err != nil {
		return classify(err, subjectContainer, "remove container "+name)
	}
	m.logger.Info("container removed", "container", name)
	return nil
}

// lineCollector splits demultiplexed log frames into lines while keeping the
// interleaving between streams.
type lineCollector struct {
	lines   []model.LogLine
	partial map[string][]byte
	order   []string
}

func newLineCollector() *lineCollector {
	return &lineCollector{partial: make(map[string][]byte)}
}

func (c *lineCollector) writer(stream string) io.Writer {
	c.order = append(c.order, stream)
	return streamWriter{c: c, stream: stream}
}

func (c *lineCollector) write(stream string, p []byte) {
	pending := append(c.partial[stream], p...)
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		c.lines = append(c.lines, model.LogLine{Stream: stream, Line: string(pending[:i])})
		pending = pending[i+1:]
	}
	c.partial[stream] = pending
}

// finish flushes unterminated trailing output and returns the lines.
func (c *lineCollector) finish() []model.LogLine {
	for _, stream := range c.order {
		if rest := c.partial[stream]; len(rest) > 0 {
			c.lines = append(c.lines, model.LogLine{Stream: stream, Line: string(rest)})
			c.partial[stream] = nil
		}
	}
	if c.lines == nil {
		return []model.LogLine{}
	}
	return c.lines
}

type streamWriter struct {
	c      *lineCollector
	stream string
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.c.write(w.stream, p)
	return len(p), nil
}
