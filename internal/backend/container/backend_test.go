package container

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/seantiz/fnworker/internal/backend"
	"github.com/seantiz/fnworker/internal/model"
)

var (
	_ backend.Backend = (*Backend)(nil)
	_ backend.Waiter  = (*Backend)(nil)
	_ backend.Lister  = (*Backend)(nil)
)

// fakeProxy emulates the action proxy served by runtime images.
type fakeProxy struct {
	mu      sync.Mutex
	inits   []initValue
	runs    []json.RawMessage
	runCode int
	runBody string
}

func (p *fakeProxy) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /init", func(w http.ResponseWriter, r *http.Request) {
		var req initRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.inits = append(p.inits, req.Value)
		p.mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.runs = append(p.runs, req.Value)
		code, body := p.runCode, p.runBody
		p.mu.Unlock()
		if code != 0 {
			w.WriteHeader(code)
			io.WriteString(w, body)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"greeting":"hello"}`))
	})
	return mux
}

func (p *fakeProxy) Inits() []initValue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]initValue(nil), p.inits...)
}

func (p *fakeProxy) Runs() []json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]json.RawMessage(nil), p.runs...)
}

// newProxyServer starts a fake action proxy and returns it with its port.
func newProxyServer(t *testing.T) (*fakeProxy, string) {
	t.Helper()
	p := &fakeProxy{}
	srv := httptest.NewServer(p.handler())
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return p, u.Port()
}

func newTestBackend(t *testing.T, fe *fakeEngine) *Backend {
	t.Helper()
	b, err := NewBackend(Config{
		Dial:              func(string) (EngineClient, error) { return fe, nil },
		ProxyTimeout:      5 * time.Second,
		ProxyReadyTimeout: 2 * time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

// holds reports whether b lists a descriptor for name.
func holds(b *Backend, name string) bool {
	return slices.ContainsFunc(b.Runtimes(), func(rt backend.Runtime) bool { return rt.Name == name })
}

func rootlessEngine(port string) *fakeEngine {
	fe := newFakeEngine()
	fe.images[nodeImage] = true
	fe.settings = publishedSettings(nat.PortBinding{HostIP: "0.0.0.0", HostPort: port})
	return fe
}

func TestBackendPrepareInvokeCleanup(t *testing.T) {
	proxy, port := newProxyServer(t)
	fe := rootlessEngine(port)
	b := newTestBackend(t, fe)
	ctx := context.Background()

	fn := model.Function{Name: "hello", Image: "nodejs", Code: []byte("function main(a) { return a }")}
	rt, err := b.Prepare(ctx, backend.PrepareRequest{
		Function: fn,
		Name:     "wsk0_20",
		Endpoint: "unix:///run/user/1000/docker.sock",
		Rootless: true,
	})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if rt.Host != LocalhostHost || rt.Port != port {
		t.Errorf("endpoint = %s:%s, want localhost:%s", rt.Host, rt.Port, port)
	}
	if !fe.closed {
		t.Error("engine client was not closed after Prepare")
	}
	inits := proxy.Inits()
	if len(inits) != 1 {
		t.Fatalf("init calls = %d, want 1", len(inits))
	}
	if got := inits[0]; got.Code != string(fn.Code) || got.Binary || got.Main != "main" || got.Name != "hello" {
		t.Errorf("init value = %+v", got)
	}

	ref := backend.RuntimeRef{Name: "wsk0_20", Endpoint: "unix:///run/user/1000/docker.sock"}
	out, err := b.Invoke(ctx, ref, []byte(`{"name":"fn"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out) != `{"greeting":"hello"}` {
		t.Errorf("output = %s", out)
	}
	if runs := proxy.Runs(); len(runs) != 1 || string(runs[0]) != `{"name":"fn"}` {
		t.Errorf("run values = %s", runs)
	}

	if err := b.Cleanup(ctx, ref); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if holds(b, "wsk0_20") {
		t.Error("descriptor still held after cleanup")
	}
	_, err = b.Invoke(ctx, ref, nil)
	if !backend.IsKind(err, backend.KindContainerNotFound) {
		t.Errorf("Invoke after cleanup err = %v, want container_not_found", err)
	}
}

func TestBackendPrepareWithoutCodeSkipsInit(t *testing.T) {
	proxy, port := newProxyServer(t)
	b := newTestBackend(t, rootlessEngine(port))

	_, err := b.Prepare(context.Background(), backend.PrepareRequest{
		Function: model.Function{Name: "bare", Image: "nodejs"},
		Name:     "wsk0_21",
		Endpoint: "tcp://127.0.0.1:2375",
		Rootless: true,
	})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if n := len(proxy.Inits()); n != 0 {
		t.Errorf("init calls = %d, want 0", n)
	}
}

func TestBackendInvokeActionError(t *testing.T) {
	proxy, port := newProxyServer(t)
	proxy.runCode = http.StatusBadGateway
	proxy.runBody = `{"error":"boom"}`
	b := newTestBackend(t, rootlessEngine(port))
	ctx := context.Background()

	_, err := b.Prepare(ctx, backend.PrepareRequest{
		Function: model.Function{Name: "failing", Image: "nodejs"},
		Name:     "wsk0_22",
		Endpoint: "tcp://127.0.0.1:2375",
		Rootless: true,
	})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	_, err = b.Invoke(ctx, backend.RuntimeRef{Name: "wsk0_22"}, []byte(`{}`))
	var be *backend.Error
	if !errors.As(err, &be) {
		t.Fatalf("Invoke err = %v, want *backend.Error", err)
	}
	if be.Kind != backend.KindAction || be.StatusCode != http.StatusBadGateway {
		t.Errorf("error = %s/%d, want action_error/502", be.Kind, be.StatusCode)
	}
	if string(be.Output) != `{"error":"boom"}` {
		t.Errorf("output = %q", be.Output)
	}
}

func TestBackendInvokeRejectsInvalidArgs(t *testing.T) {
	_, port := newProxyServer(t)
	b := newTestBackend(t, rootlessEngine(port))
	ctx := context.Background()

	if _, err := b.Prepare(ctx, backend.PrepareRequest{
		Function: model.Function{Name: "f", Image: "nodejs"},
		Name:     "wsk0_23",
		Endpoint: "tcp://127.0.0.1:2375",
		Rootless: true,
	}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	_, err := b.Invoke(ctx, backend.RuntimeRef{Name: "wsk0_23"}, []byte(`{not json`))
	if !backend.IsKind(err, backend.KindInvalidRequest) {
		t.Errorf("err = %v, want invalid_request", err)
	}
}

func TestBackendDialFailure(t *testing.T) {
	b, err := NewBackend(Config{
		Dial: func(string) (EngineClient, error) { return nil, errors.New("dial unix: no such file") },
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	_, err = b.Prepare(context.Background(), backend.PrepareRequest{
		Function: model.Function{Name: "f", Image: "nodejs"},
		Name:     "wsk0_24",
		Endpoint: "/nonexistent.sock",
	})
	if !backend.IsKind(err, backend.KindConnectionUnavailable) {
		t.Errorf("err = %v, want connection_unavailable", err)
	}

	err = b.Cleanup(context.Background(), backend.RuntimeRef{Name: "wsk0_24"})
	if !backend.IsKind(err, backend.KindInvalidRequest) {
		t.Errorf("cleanup without endpoint err = %v, want invalid_request", err)
	}
}

func TestBackendLogs(t *testing.T) {
	fe := newFakeEngine()
	fe.logs = muxLogs(t, [2]string{model.StreamStdout, "ready\n"})
	b := newTestBackend(t, fe)

	lines, err := b.Logs(context.Background(), backend.RuntimeRef{Name: "wsk0_25", Endpoint: RootfulSocket})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if !slices.Equal(lines, []model.LogLine{{Stream: model.StreamStdout, Line: "ready"}}) {
		t.Errorf("lines = %v", lines)
	}
}

func TestBackendWait(t *testing.T) {
	fe := newFakeEngine()
	fe.wait = containertypes.WaitResponse{StatusCode: 137}
	b := newTestBackend(t, fe)

	code, err := b.Wait(context.Background(), backend.RuntimeRef{Name: "wsk0_27", Endpoint: RootfulSocket})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 137 {
		t.Errorf("exit code = %d, want 137", code)
	}
	if !fe.closed {
		t.Error("engine client was not closed after Wait")
	}
}

func TestBackendRuntimesSorted(t *testing.T) {
	_, port := newProxyServer(t)
	fe := rootlessEngine(port)
	b := newTestBackend(t, fe)
	ctx := context.Background()

	for _, name := range []string{"wsk0_29", "wsk0_28"} {
		if _, err := b.Prepare(ctx, backend.PrepareRequest{
			Function: model.Function{Name: "f", Image: "nodejs"},
			Name:     name,
			Endpoint: RootfulSocket,
			Rootless: true,
		}); err != nil {
			t.Fatalf("Prepare %s: %v", name, err)
		}
	}

	rts := b.Runtimes()
	if len(rts) != 2 || rts[0].Name != "wsk0_28" || rts[1].Name != "wsk0_29" {
		t.Fatalf("Runtimes() = %+v, want wsk0_28 then wsk0_29", rts)
	}
	if rts[0].Backend != BackendName || rts[0].Port != port {
		t.Errorf("descriptor = %+v", rts[0])
	}
}

func TestBackendCleanupFailureKeepsDescriptor(t *testing.T) {
	_, port := newProxyServer(t)
	fe := rootlessEngine(port)
	b := newTestBackend(t, fe)
	ctx := context.Background()

	if _, err := b.Prepare(ctx, backend.PrepareRequest{
		Function: model.Function{Name: "f", Image: "nodejs"},
		Name:     "wsk0_26",
		Endpoint: RootfulSocket,
		Rootless: true,
	}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	fe.killErr = errors.New("engine exploded")
	err := b.Cleanup(ctx, backend.RuntimeRef{Name: "wsk0_26", Endpoint: RootfulSocket})
	if !backend.IsKind(err, backend.KindEngineProtocol) {
		t.Errorf("err = %v, want engine_protocol_error", err)
	}
	if !holds(b, "wsk0_26") {
		t.Error("descriptor dropped after failed cleanup")
	}
}

func TestBackendCapabilities(t *testing.T) {
	b := newTestBackend(t, newFakeEngine())
	caps := b.Capabilities()
	if caps.Name != BackendName {
		t.Errorf("Name = %q", caps.Name)
	}
	if !slices.Equal(caps.SupportedRuntimes, []string{"nodejs", "python"}) {
		t.Errorf("SupportedRuntimes = %v", caps.SupportedRuntimes)
	}
	if !slices.Contains(caps.Operations, string(model.OpWait)) || len(caps.Operations) != 5 {
		t.Errorf("Operations = %v", caps.Operations)
	}
}

func TestProxyReadyTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	p := newActionProxy(time.Second, 150*time.Millisecond)
	err = p.Init(context.Background(), Endpoint{Host: "127.0.0.1", Port: port}, model.Function{Name: "f", Code: []byte("x")})
	if !backend.IsKind(err, backend.KindTimeout) {
		t.Errorf("err = %v, want timeout", err)
	}
}

func TestEncodeCode(t *testing.T) {
	code, binary := encodeCode([]byte("def main(args): return args"))
	if binary || code != "def main(args): return args" {
		t.Errorf("source encoded as %q binary=%v", code, binary)
	}

	code, binary = encodeCode([]byte("PK\x03\x04rest"))
	if !binary || code != "UEsDBHJlc3Q=" {
		t.Errorf("zip encoded as %q binary=%v", code, binary)
	}

	_, binary = encodeCode([]byte{0xff, 0xfe, 0x00})
	if !binary {
		t.Error("invalid UTF-8 should be sent as binary")
	}
}
