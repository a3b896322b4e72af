// PodSwap MCP Server - exposes swap operations as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/podswap/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:     envOrDefault("PODSWAP_API_URL", "http://localhost:8080"),
		PrivateKey: os.Getenv("PODSWAP_PRIVATE_KEY"),
	}
	if cfg.PrivateKey == "" {
		fmt.Fprintln(os.Stderr, "PODSWAP_PRIVATE_KEY is required")
		os.Exit(1)
	}

	s, err := mcpserver.NewMCPServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "MCP server setup: %v\n", err)
		os.Exit(1)
	}
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
