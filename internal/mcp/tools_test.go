package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{float64(0), "0"},
		{float64(999), "999"},
		{float64(1000), "1,000"},
		{float64(1234567), "1,234,567"},
		{float64(12.5), "12.5"},
		{uint64(100000), "100,000"},
		{"n/a", "n/a"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

const statusJSON = `{
	"phase": "completed",
	"strategy": "recent_blocktxns_nearly:3,1",
	"cellsAvailable": 20000,
	"txGenerated": 10000,
	"txSent": 9990,
	"txFailed": 10,
	"tipNumber": 1042,
	"evaluations": 4,
	"lastEvaluation": {
		"metrics": {"tps": 3500, "average_block_time_ms": 1000, "average_block_transactions": 3500,
			"start_block_number": 1040, "end_block_number": 1042, "network_nodes": 4, "bench_nodes": 2},
		"spread": 1,
		"stable": true
	},
	"result": {"tps": 3500, "average_block_time_ms": 1000, "average_block_transactions": 3500,
		"start_block_number": 1040, "end_block_number": 1042, "network_nodes": 4, "bench_nodes": 2},
	"sendLatency": {"count": 9990, "min": 1, "max": 1250, "avg": 12.5, "p50": 8, "p90": 30, "p99": 400,
		"buckets": [{"label": "0-10ms", "count": 6000}, {"label": "1s+", "count": 3}]}
}`

func TestFormatStatus(t *testing.T) {
	out := formatStatus(json.RawMessage(statusJSON))

	for _, want := range []string{
		"## Benchmark Status",
		"completed",
		"recent_blocktxns_nearly:3,1",
		"9,990",
		"## Last Evaluation (stable)",
		"## Result",
		"3,500",
		"#1,040..#1,042",
		"4 network / 2 bench",
		"## Send Latency",
		"8ms / 30ms / 400ms",
		"0-10ms     6,000",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("formatStatus() missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Error:") {
		t.Errorf("formatStatus() reports an error for a healthy run:\n%s", out)
	}
}

func TestFormatStatusInvalid(t *testing.T) {
	if out := formatStatus(json.RawMessage(`not json`)); !strings.HasPrefix(out, "Error parsing status") {
		t.Errorf("formatStatus() = %q", out)
	}
}

func TestFormatHealth(t *testing.T) {
	raw := json.RawMessage(`{"ready": false, "latency_ms": 12, "checks": [
		{"name": "http://a:8114", "status": "ok"},
		{"name": "http://b:8114", "status": "failed", "error": "connection refused"}
	]}`)
	out := formatHealth(raw)

	if !strings.Contains(out, "NOT READY") {
		t.Errorf("formatHealth() missing state:\n%s", out)
	}
	if !strings.Contains(out, "http://b:8114") || !strings.Contains(out, "- connection refused") {
		t.Errorf("formatHealth() missing failed check:\n%s", out)
	}
}

func TestFormatEvaluations(t *testing.T) {
	out := formatEvaluations(json.RawMessage(`{"evaluations": [], "count": 0}`))
	if !strings.Contains(out, "No evaluations yet") {
		t.Errorf("formatEvaluations(empty) = %q", out)
	}

	raw := json.RawMessage(`{"count": 2, "evaluations": [
		{"metrics": {"tps": 10, "start_block_number": 1, "end_block_number": 3}, "spread": 9, "stable": false},
		{"metrics": {"tps": 20, "start_block_number": 2, "end_block_number": 4}, "spread": 0, "stable": true}
	]}`)
	out = formatEvaluations(raw)
	lines := strings.Split(out, "\n")
	if len(lines) != 4 {
		t.Fatalf("formatEvaluations() = %d lines, want 4:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "Evaluations (2)") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasSuffix(lines[3], "yes") || strings.HasSuffix(lines[2], "yes") {
		t.Errorf("stable column wrong:\n%s", out)
	}
}

func TestClientGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/status":
			w.Write([]byte(`{"phase":"idle"}`))
		case "/ready":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"ready":false}`))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	raw, err := c.Get(ctx, "/v1/status")
	if err != nil || string(raw) != `{"phase":"idle"}` {
		t.Errorf("Get(/v1/status) = %s, %v", raw, err)
	}
	if _, err := c.Get(ctx, "/ready"); err != nil {
		t.Errorf("Get(/ready) error = %v, want body of 503", err)
	}
	if _, err := c.Get(ctx, "/nope"); err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("Get(/nope) error = %v, want HTTP 404", err)
	}
}
