package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/podswap/internal/idgen"
	"github.com/mbd888/podswap/internal/swap"
)

const defaultExpiry = time.Hour

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleGetSwap shows one swap.
func (h *Handlers) HandleGetSwap(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	class, id, errResult := swapArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	raw, err := h.client.GetSwap(ctx, class, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get swap: %v", err)), nil
	}
	text, err := formatSwapResponse(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse swap: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListSwaps lists a party's swaps.
func (h *Handlers) HandleListSwaps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", h.client.Address().Hex())
	limit := req.GetInt("limit", 0)

	raw, err := h.client.ListSwaps(ctx, address, limit, req.GetString("cursor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list swaps: %v", err)), nil
	}
	text, err := formatSwapList(raw, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse swaps: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleSwapEvents shows a swap's lifecycle.
func (h *Handlers) HandleSwapEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	class, id, errResult := swapArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	raw, err := h.client.SwapEvents(ctx, class, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get events: %v", err)), nil
	}
	text, err := formatEvents(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse events: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGenerateSecret creates a secret for a withdrawer. The secret is
// drawn and hashed locally and never sent to the swap server.
func (h *Handlers) HandleGenerateSecret(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr := req.GetString("withdrawer", h.client.Address().Hex())
	if !common.IsHexAddress(addr) {
		return mcp.NewToolResultError("withdrawer must be a 0x-prefixed address"), nil
	}
	withdrawer := common.HexToAddress(addr)

	secret, err := swap.NewSecret()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to generate secret: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Secret:      %s\n"+
			"Secret hash: %s\n"+
			"Withdrawer:  %s\n\n"+
			"Keep the secret private until you claim. Share only the hash with the proposer.",
		secret.Hex(), swap.SecretHash(secret, withdrawer).Hex(), withdrawer.Hex())), nil
}

// HandleProposeSwap escrows an asset in a new swap.
func (h *Handlers) HandleProposeSwap(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	class := req.GetString("class", "")
	token := req.GetString("token", "")
	withdrawer := req.GetString("withdrawer", "")
	secretHash := req.GetString("secret_hash", "")
	for _, arg := range [][2]string{{"class", class}, {"token", token}, {"withdrawer", withdrawer}, {"secret_hash", secretHash}} {
		if arg[1] == "" {
			return mcp.NewToolResultError(arg[0] + " is required"), nil
		}
	}

	expiresIn := time.Duration(req.GetFloat("expires_in", defaultExpiry.Seconds())) * time.Second
	if expiresIn <= 0 {
		return mcp.NewToolResultError("expires_in must be positive"), nil
	}
	id := req.GetString("swap_id", "")
	if id == "" {
		id = "0x" + idgen.Hex(32)
	}

	raw, err := h.client.Propose(ctx, class, ProposalParams{
		ID: id,
		Asset: ProposalAsset{
			Token:   token,
			TokenID: req.GetString("token_id", ""),
			Amount:  req.GetString("amount", ""),
		},
		Withdrawer: withdrawer,
		SecretHash: secretHash,
		Timelock:   h.client.now().Add(expiresIn).Unix(),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Proposal failed: %v", err)), nil
	}
	text, err := formatSwapResponse(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse swap: %v", err)), nil
	}
	return mcp.NewToolResultText("Swap proposed. Your asset is escrowed.\n\n" + text), nil
}

// HandleClaimSwap reveals the secret and takes the asset.
func (h *Handlers) HandleClaimSwap(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	class, id, errResult := swapArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	secret := req.GetString("secret", "")
	if secret == "" {
		return mcp.NewToolResultError("secret is required"), nil
	}

	raw, err := h.client.Claim(ctx, class, id, secret)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Claim failed: %v", err)), nil
	}
	text, err := formatSwapResponse(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse swap: %v", err)), nil
	}
	return mcp.NewToolResultText("Swap claimed. The asset has been sent to you.\n\n" + text), nil
}

// HandleRefundSwap returns an expired swap's asset to the proposer.
func (h *Handlers) HandleRefundSwap(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	class, id, errResult := swapArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.Refund(ctx, class, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Refund failed: %v", err)), nil
	}
	text, err := formatSwapResponse(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse swap: %v", err)), nil
	}
	return mcp.NewToolResultText("Swap refunded. The asset is back with you.\n\n" + text), nil
}

func swapArgs(req mcp.CallToolRequest) (class, id string, errResult *mcp.CallToolResult) {
	class = req.GetString("class", "")
	if class == "" {
		return "", "", mcp.NewToolResultError("class is required")
	}
	id = req.GetString("swap_id", "")
	if id == "" {
		return "", "", mcp.NewToolResultError("swap_id is required")
	}
	return class, id, nil
}

// --- Formatting helpers ---

func formatSwapResponse(raw json.RawMessage) (string, error) {
	var resp struct {
		Swap    map[string]any `json:"swap"`
		Expired *bool          `json:"expired"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Swap == nil {
		return "", fmt.Errorf("no swap in response")
	}
	text := formatSwap(resp.Swap)
	if resp.Expired != nil && *resp.Expired && getString(resp.Swap, "state") == "open" {
		text += "  Timelock passed: the proposer may refund\n"
	}
	return text, nil
}

func formatSwap(s map[string]any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Swap %s\n", getString(s, "id"))
	fmt.Fprintf(&sb, "  Engine:     %s (%s)\n", getString(s, "engine"), getString(s, "class"))
	fmt.Fprintf(&sb, "  Asset:      %s\n", describeAsset(s))
	fmt.Fprintf(&sb, "  Proposer:   %s\n", getString(s, "proposer"))
	fmt.Fprintf(&sb, "  Withdrawer: %s\n", getString(s, "withdrawer"))
	fmt.Fprintf(&sb, "  Timelock:   %s\n", getString(s, "timelock"))
	fmt.Fprintf(&sb, "  State:      %s\n", getString(s, "state"))
	if v := getString(s, "secret"); v != "" {
		fmt.Fprintf(&sb, "  Secret:     %s\n", v)
	}
	return sb.String()
}

func describeAsset(s map[string]any) string {
	asset, _ := s["asset"].(map[string]any)
	if asset == nil {
		return "unknown"
	}
	out := getString(asset, "token")
	if id := getString(asset, "tokenId"); id != "" {
		out += " #" + id
	}
	if amt := getString(asset, "amount"); amt != "" {
		out += " x " + amt
	}
	return out
}

func formatSwapList(raw json.RawMessage, address string) (string, error) {
	var resp struct {
		Swaps      []map[string]any `json:"swaps"`
		NextCursor string           `json:"nextCursor"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected swaps response format")
	}
	if len(resp.Swaps) == 0 {
		return "No swaps found for " + address + ".", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d swap(s) for %s:\n\n", len(resp.Swaps), address)
	for i, s := range resp.Swaps {
		role := "withdrawer"
		if strings.EqualFold(getString(s, "proposer"), address) {
			role = "proposer"
		}
		fmt.Fprintf(&sb, "%d. %s [%s] %s\n", i+1, getString(s, "id"), getString(s, "state"), getString(s, "class"))
		fmt.Fprintf(&sb, "   %s | you are %s | timelock %s\n", describeAsset(s), role, getString(s, "timelock"))
	}
	if resp.NextCursor != "" {
		fmt.Fprintf(&sb, "\nMore swaps available: call list_swaps with cursor %q.\n", resp.NextCursor)
	}
	return sb.String(), nil
}

func formatEvents(raw json.RawMessage) (string, error) {
	var resp struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected events response format")
	}
	if len(resp.Events) == 0 {
		return "No events recorded.", nil
	}
	var sb strings.Builder
	for _, ev := range resp.Events {
		fmt.Fprintf(&sb, "%s  %s\n", getString(ev, "timestamp"), getString(ev, "type"))
	}
	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch t := v.(type) {
			case string:
				return t
			case float64:
				return fmt.Sprintf("%g", t)
			}
		}
	}
	return ""
}
