package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the PodSwap MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var classArg = mcp.WithString("class",
	mcp.Required(),
	mcp.Description("Asset class of the swap engine: 'erc20' (fungible amount), 'erc721' (single token) or 'erc1155' (amount of one token id)"),
	mcp.Enum("erc20", "erc721", "erc1155"))

var swapIDArg = mcp.WithString("swap_id",
	mcp.Required(),
	mcp.Description("The 32-byte swap id as 0x-prefixed hex"))

var ToolGetSwap = mcp.NewTool("get_swap",
	mcp.WithDescription(
		"Look up a hash time-locked swap. Shows the asset, both parties, the timelock, "+
			"and whether it is open, claimed or refunded."),
	classArg,
	swapIDArg,
)

var ToolListSwaps = mcp.NewTool("list_swaps",
	mcp.WithDescription(
		"List swaps in which an address is the proposer or the withdrawer, newest first. "+
			"Defaults to your own address."),
	mcp.WithString("address",
		mcp.Description("Party address (e.g. '0x1234...'). Omit for your own swaps.")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of swaps to return (default 50)")),
	mcp.WithString("cursor",
		mcp.Description("Page cursor from a previous list_swaps result")),
)

var ToolSwapEvents = mcp.NewTool("swap_events",
	mcp.WithDescription("Show the lifecycle events (created, expired, claimed, refunded) of one swap."),
	classArg,
	swapIDArg,
)

var ToolGenerateSecret = mcp.NewTool("generate_secret",
	mcp.WithDescription(
		"Generate a random 32-byte secret and its hash bound to the withdrawer. "+
			"Both are computed locally; the secret is not sent to the swap server. "+
			"Keep the secret private; give the hash to the proposer. "+
			"Only the withdrawer can later claim with this secret."),
	mcp.WithString("withdrawer",
		mcp.Description("Address that will claim the swap. Omit to use your own address.")),
)

var ToolProposeSwap = mcp.NewTool("propose_swap",
	mcp.WithDescription(
		"Escrow one of your assets in a new swap. The withdrawer can claim it by revealing the secret "+
			"behind secret_hash before the timelock; after that you can refund it. "+
			"You must have approved the swap vault for the asset first."),
	classArg,
	mcp.WithString("token",
		mcp.Required(),
		mcp.Description("Token contract address")),
	mcp.WithString("token_id",
		mcp.Description("Token id, required for erc721 and erc1155")),
	mcp.WithString("amount",
		mcp.Description("Amount in base units, required for erc20 and erc1155")),
	mcp.WithString("withdrawer",
		mcp.Required(),
		mcp.Description("Address allowed to claim")),
	mcp.WithString("secret_hash",
		mcp.Required(),
		mcp.Description("Hash from generate_secret, bound to the withdrawer")),
	mcp.WithNumber("expires_in",
		mcp.Description("Seconds until the timelock (default 3600)")),
	mcp.WithString("swap_id",
		mcp.Description("Optional 32-byte swap id; a random one is generated when omitted")),
)

var ToolClaimSwap = mcp.NewTool("claim_swap",
	mcp.WithDescription(
		"Claim a swap addressed to you by revealing its secret. The escrowed asset is sent to you "+
			"and the secret becomes public on the swap record."),
	classArg,
	swapIDArg,
	mcp.WithString("secret",
		mcp.Required(),
		mcp.Description("The 32-byte secret as 0x-prefixed hex")),
)

var ToolRefundSwap = mcp.NewTool("refund_swap",
	mcp.WithDescription(
		"Take back the asset of a swap you proposed. Only possible once the timelock has passed "+
			"and nobody has claimed it."),
	classArg,
	swapIDArg,
)
