// Package mcpserver exposes the PodSwap API as MCP tools so an LLM agent
// can propose, claim and refund swaps on behalf of one key.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// NewMCPServer creates a configured MCP server with all swap tools
// registered.
func NewMCPServer(cfg Config) (*server.MCPServer, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	h := NewHandlers(client)

	s := server.NewMCPServer("podswap", Version)
	s.AddTool(ToolGetSwap, h.HandleGetSwap)
	s.AddTool(ToolListSwaps, h.HandleListSwaps)
	s.AddTool(ToolSwapEvents, h.HandleSwapEvents)
	s.AddTool(ToolGenerateSecret, h.HandleGenerateSecret)
	s.AddTool(ToolProposeSwap, h.HandleProposeSwap)
	s.AddTool(ToolClaimSwap, h.HandleClaimSwap)
	s.AddTool(ToolRefundSwap, h.HandleRefundSwap)
	return s, nil
}
