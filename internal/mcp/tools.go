package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all benchmark tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerEvaluations(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("cellbench_status",
		gomcp.WithDescription("Get current benchmark status: phase, stability strategy, cells loaded, TXs generated/sent/failed, confirmed tip, last evaluation, final result and send latency."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Benchmark unreachable: %v\n\nIs cellbench running with -listen set?", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("cellbench_health",
		gomcp.WithDescription("Check that every node RPC endpoint the benchmark drives is reachable."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/ready")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Benchmark unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerEvaluations(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("cellbench_evaluations",
		gomcp.WithDescription("List the most recent network stability evaluations (TPS, block time, transactions per block, spread) made by the monitor."),
		gomcp.WithNumber("limit",
			gomcp.Description("Number of evaluations to return (1-1000, default 20)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 || limit > 1000 {
			return gomcp.NewToolResultError("limit must be between 1 and 1000"), nil
		}
		raw, err := client.Get(ctx, fmt.Sprintf("/v1/evaluations?limit=%d", limit))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to get evaluations: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatEvaluations(raw)), nil
	})
}

func formatStatus(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	lines := joinLines(
		section("Benchmark Status"),
		kv("Phase", getStr(m, "phase")),
		kv("Strategy", getStr(m, "strategy")),
		kv("Cells", formatNumber(getNum(m, "cellsAvailable"))),
		kv("TXs Generated", formatNumber(getNum(m, "txGenerated"))),
		kv("TXs Sent", formatNumber(getNum(m, "txSent"))),
		kv("TXs Failed", formatNumber(getNum(m, "txFailed"))),
		kv("Confirmed Tip", formatNumber(getNum(m, "tipNumber"))),
		kv("Evaluations", formatNumber(getNum(m, "evaluations"))),
	)
	if e := getStr(m, "error"); e != "" {
		lines += "\n" + kv("Error", e)
	}

	if last, ok := m["lastEvaluation"].(map[string]any); ok {
		title := "Last Evaluation"
		if stable, _ := last["stable"].(bool); stable {
			title += " (stable)"
		}
		if metrics, ok := last["metrics"].(map[string]any); ok {
			lines += "\n\n" + formatMetrics(title, metrics)
			lines += "\n" + kv("Spread", formatNumber(getNum(last, "spread")))
		}
	}

	if result, ok := m["result"].(map[string]any); ok {
		lines += "\n\n" + formatMetrics("Result", result)
	}

	if lat, ok := m["sendLatency"].(map[string]any); ok {
		lines += "\n\n" + formatLatency(lat)
	}

	return lines
}

func formatLatency(m map[string]any) string {
	lines := joinLines(
		section("Send Latency"),
		kv("Samples", formatNumber(getNum(m, "count"))),
		kv("Min / Avg / Max", fmt.Sprintf("%s / %s / %s",
			formatMs(getNum(m, "min")), formatMs(getNum(m, "avg")), formatMs(getNum(m, "max")))),
		kv("P50 / P90 / P99", fmt.Sprintf("%s / %s / %s",
			formatMs(getNum(m, "p50")), formatMs(getNum(m, "p90")), formatMs(getNum(m, "p99")))),
	)
	if buckets, ok := m["buckets"].([]any); ok {
		for _, b := range buckets {
			if bucket, ok := b.(map[string]any); ok {
				lines += fmt.Sprintf("\n  %-10s %s", getStr(bucket, "label"), formatNumber(getNum(bucket, "count")))
			}
		}
	}
	return lines
}

func formatMetrics(title string, m map[string]any) string {
	return joinLines(
		section(title),
		kv("TPS", formatNumber(getNum(m, "tps"))),
		kv("Avg Block Time", formatMs(getNum(m, "average_block_time_ms"))),
		kv("Avg Block TXs", formatNumber(getNum(m, "average_block_transactions"))),
		kv("Blocks", formatBlocks(getNum(m, "start_block_number"), getNum(m, "end_block_number"))),
		kv("Nodes", fmt.Sprintf("%s network / %s bench",
			formatNumber(getNum(m, "network_nodes")), formatNumber(getNum(m, "bench_nodes")))),
	)
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	lines := section("Benchmark Health: " + state)
	lines += "\n" + kv("Check Latency", formatMs(getNum(m, "latency_ms")))

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			if check, ok := c.(map[string]any); ok {
				line := fmt.Sprintf("  %-30s %s", getStr(check, "name"), getStr(check, "status"))
				if errMsg := getStr(check, "error"); errMsg != "" {
					line += " - " + errMsg
				}
				lines += "\n" + line
			}
		}
	}

	return lines
}

func formatEvaluations(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing evaluations: %v", err)
	}

	evals, _ := m["evaluations"].([]any)
	lines := section(fmt.Sprintf("Evaluations (%d)", len(evals)))
	if len(evals) == 0 {
		return lines + "\nNo evaluations yet."
	}

	lines += fmt.Sprintf("\n%-22s %10s %12s %10s %8s %s", "Blocks", "TPS", "Block Time", "Block TXs", "Spread", "Stable")
	for _, e := range evals {
		eval, ok := e.(map[string]any)
		if !ok {
			continue
		}
		metrics, _ := eval["metrics"].(map[string]any)
		stable := ""
		if s, _ := eval["stable"].(bool); s {
			stable = "yes"
		}
		lines += fmt.Sprintf("\n%-22s %10s %12s %10s %8s %s",
			formatBlocks(getNum(metrics, "start_block_number"), getNum(metrics, "end_block_number")),
			formatNumber(getNum(metrics, "tps")),
			formatMs(getNum(metrics, "average_block_time_ms")),
			formatNumber(getNum(metrics, "average_block_transactions")),
			formatNumber(getNum(eval, "spread")),
			stable,
		)
	}
	return lines
}
