package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/pipeline"
)

func newTestServer(t *testing.T) (*server, *httptest.Server) {
	t.Helper()
	runner := pipeline.NewRunner(nil, nil, log.New(io.Discard))
	s, err := newServer(context.Background(), writeModel(t), runner, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newServer() error: %v", err)
	}
	ts := httptest.NewServer(s.handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestServeHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "OK" {
		t.Errorf("GET /healthz = %d %q", resp.StatusCode, body)
	}
}

func TestServeModel(t *testing.T) {
	_, ts := newTestServer(t)
	resp, body := do(t, http.MethodGet, ts.URL+"/api/model", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/model = %d: %s", resp.StatusCode, body)
	}

	var m modelJSON
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatal(err)
	}
	if len(m.Nodes) != 4 {
		t.Errorf("nodes = %d, want 4", len(m.Nodes))
	}
	for _, n := range m.Nodes {
		if n.Name == "y" && (!n.Observed || n.LnProbability == nil) {
			t.Errorf("y = %+v, want observed with a log-probability", n)
		}
	}
}

func TestServeNode(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/nodes/shift", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/nodes/shift = %d: %s", resp.StatusCode, body)
	}
	var n struct {
		Kind      string   `json:"kind"`
		Value     float64  `json:"value"`
		Parents   []string `json:"parents"`
		Structure string   `json:"structure"`
	}
	if err := json.Unmarshal(body, &n); err != nil {
		t.Fatal(err)
	}
	if n.Kind != "transform" || n.Value != 1 || len(n.Parents) != 2 || n.Structure == "" {
		t.Errorf("shift = %+v", n)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/api/nodes/missing", "")
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(body), "NOT_FOUND") {
		t.Errorf("GET /api/nodes/missing = %d %s", resp.StatusCode, body)
	}
}

func TestServeSetValue(t *testing.T) {
	s, ts := newTestServer(t)
	before := s.modelHash()

	resp, body := do(t, http.MethodPut, ts.URL+"/api/nodes/mu", `{"value": 2}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /api/nodes/mu = %d: %s", resp.StatusCode, body)
	}
	if s.modelHash() == before {
		t.Error("modelHash() did not change after a value change")
	}

	// The change flows to dependents.
	_, body = do(t, http.MethodGet, ts.URL+"/api/nodes/shift", "")
	if !strings.Contains(string(body), `"value":3`) {
		t.Errorf("shift after mu=2: %s", body)
	}

	tests := []struct {
		name   string
		node   string
		body   string
		status int
	}{
		{"transform", "shift", `{"value": 1}`, http.StatusConflict},
		{"observed without clamp", "y", `{"value": 1}`, http.StatusConflict},
		{"wrong type", "mu", `{"value": "high"}`, http.StatusBadRequest},
		{"no value", "mu", `{}`, http.StatusBadRequest},
		{"unknown node", "nope", `{"value": 1}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPut, ts.URL+"/api/nodes/"+tt.node, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("PUT /api/nodes/%s = %d, want %d: %s", tt.node, resp.StatusCode, tt.status, body)
			}
		})
	}
}

func TestServeGraph(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/graph/dot?values=true", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/graph/dot = %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/vnd.graphviz" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.HasPrefix(string(body), "digraph") {
		t.Errorf("body is not DOT: %s", body)
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/graph/gif", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("GET /api/graph/gif = %d, want 400", resp.StatusCode)
	}
}

func TestServeRun(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/runs", `{"iterations": 300, "burn_in": 50, "chains": 2}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/runs = %d: %s", resp.StatusCode, body)
	}
	var res struct {
		RunID  string             `json:"run_id"`
		Chains []json.RawMessage  `json:"chains"`
		Means  map[string]float64 `json:"means"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if res.RunID == "" || len(res.Chains) != 2 {
		t.Errorf("run = %+v", res)
	}
	if _, ok := res.Means["mu"]; !ok {
		t.Errorf("means = %v, want mu", res.Means)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/runs", `{"thin": -1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /api/runs with thin -1 = %d, want 400", resp.StatusCode)
	}
}

func TestServeMetrics(t *testing.T) {
	_, ts := newTestServer(t)
	resp, _ := do(t, http.MethodGet, ts.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics = %d", resp.StatusCode)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code errors.Code
		want int
	}{
		{errors.ErrCodeNotFound, http.StatusNotFound},
		{errors.ErrCodeTypeMismatch, http.StatusBadRequest},
		{errors.ErrCodeInvalidOperation, http.StatusConflict},
		{errors.ErrCodeUnsupported, http.StatusNotImplemented},
		{errors.ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := httpStatus(tt.code); got != tt.want {
			t.Errorf("httpStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
