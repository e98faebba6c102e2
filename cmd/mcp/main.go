// cellbench MCP server.
// Exposes the benchmark status API as MCP tools over stdio.
package main

import (
	"fmt"
	"os"

	mcptools "github.com/gateway-fm/cellbench/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	cellbenchURL := os.Getenv("CELLBENCH_URL")
	if cellbenchURL == "" {
		cellbenchURL = "http://localhost:3001"
	}

	s := server.NewMCPServer(
		"cellbench",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(cellbenchURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
