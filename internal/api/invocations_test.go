package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seantiz/fnworker/internal/backend"
	"github.com/seantiz/fnworker/internal/model"
)

func TestGetInvocation(t *testing.T) {
	srv := newTestServer(t)
	inv := createInvocation(t, srv, model.StatusFailed)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/invocations/" + inv.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got model.Invocation
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != inv.ID || got.Status != model.StatusFailed || got.Op != model.OpInvoke {
		t.Errorf("invocation = %+v", got)
	}
}

func TestGetInvocationNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/invocations/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListInvocationsPagination(t *testing.T) {
	srv := newTestServer(t)
	for range 5 {
		createInvocation(t, srv, model.StatusReceived)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		query     string
		wantLen   int
		wantLimit int
	}{
		{"", 5, defaultListLimit},
		{"?limit=2", 2, 2},
		{"?limit=2&offset=4", 1, 2},
		{"?limit=1000", 5, defaultListLimit},
		{"?limit=abc&offset=-3", 5, defaultListLimit},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/v1/invocations" + tt.query)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer resp.Body.Close()

			var body listInvocationsResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Invocations) != tt.wantLen || body.Total != 5 || body.Limit != tt.wantLimit {
				t.Errorf("got len=%d total=%d limit=%d", len(body.Invocations), body.Total, body.Limit)
			}
		})
	}
}

func TestListInvocationsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/invocations")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(body["invocations"]) != "[]" {
		t.Errorf("invocations = %s, want []", body["invocations"])
	}
}

func TestListBackendRuntimes(t *testing.T) {
	stub := &stubBackend{}
	srv := newTestServerWith(t, stub)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/runtimes/stub", "application/json",
		strings.NewReader(`{"name":"wsk0_7","function":{"name":"hello","image":"nodejs"}}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/v1/backends/stub/runtimes")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var rts []backend.Runtime
	if err := json.NewDecoder(resp.Body).Decode(&rts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rts) != 1 || rts[0].Name != "wsk0_7" {
		t.Errorf("runtimes = %+v", rts)
	}

	resp, err = http.Get(ts.URL + "/v1/backends/vm/runtimes")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown backend status = %d, want 404", resp.StatusCode)
	}
}

func TestListBackends(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/backends")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var infos []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "stub" {
		t.Errorf("backends = %+v", infos)
	}
}
