package mcpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/podswap/internal/auth"
)

// Config holds the settings for talking to a PodSwap server.
type Config struct {
	APIURL     string // Base URL, e.g. "http://localhost:8080"
	PrivateKey string // Hex key of the party the tools act for
}

// Client is an HTTP client for the PodSwap API. Mutating calls are signed
// with the configured key.
type Client struct {
	baseURL    string
	key        *ecdsa.PrivateKey
	address    common.Address
	httpClient *http.Client
	now        func() time.Time
}

// NewClient parses the key and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("API URL is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		key:        key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}, nil
}

// Address is the party the client signs for.
func (c *Client) Address() common.Address {
	return c.address
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, signed bool) (json.RawMessage, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if err := auth.SignRequest(req, c.key, c.now()); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d %s): %s", resp.StatusCode, apiErr.Error, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}
	return json.RawMessage(respBody), nil
}

// ProposalParams is the body of a proposal.
type ProposalParams struct {
	ID         string        `json:"id"`
	Asset      ProposalAsset `json:"asset"`
	Withdrawer string        `json:"withdrawer"`
	SecretHash string        `json:"secretHash"`
	Timelock   int64         `json:"timelock"`
}

// ProposalAsset identifies the escrowed token.
type ProposalAsset struct {
	Token   string `json:"token"`
	TokenID string `json:"tokenId,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

// GetSwap fetches one swap.
func (c *Client) GetSwap(ctx context.Context, class, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/swaps/"+class+"/"+id, nil, nil, false)
}

// ListSwaps lists swaps in which address is a party, newest first. cursor
// is the nextCursor of a previous page, or empty.
func (c *Client) ListSwaps(ctx context.Context, address string, limit int, cursor string) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.do(ctx, http.MethodGet, "/v1/agents/"+address+"/swaps", q, nil, false)
}

// SwapEvents returns the lifecycle events of a swap.
func (c *Client) SwapEvents(ctx context.Context, class, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/swaps/"+class+"/"+id+"/events", nil, nil, false)
}

// Propose opens a swap as the configured party.
func (c *Client) Propose(ctx context.Context, class string, p ProposalParams) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/swaps/"+class, nil, p, true)
}

// Claim reveals secret and takes the escrowed asset.
func (c *Client) Claim(ctx context.Context, class, id, secret string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/swaps/"+class+"/"+id+"/claim", nil, map[string]string{"secret": secret}, true)
}

// Refund returns an expired swap's asset to the proposer.
func (c *Client) Refund(ctx context.Context, class, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/swaps/"+class+"/"+id+"/refund", nil, nil, true)
}
