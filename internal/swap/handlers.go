package swap

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/podswap/internal/auth"
	"github.com/mbd888/podswap/internal/clock"
	"github.com/mbd888/podswap/internal/logging"
	"github.com/mbd888/podswap/internal/pagination"
	"github.com/mbd888/podswap/internal/validation"
)

// MaxListLimit caps the limit query parameter on listings.
const MaxListLimit = 200

// Handler provides HTTP endpoints for the swap engines.
type Handler struct {
	engines map[AssetClass]*Engine
	events  EventStore
	manual  *clock.Manual
}

// NewHandler creates a handler serving the given engines by asset class.
func NewHandler(engines ...*Engine) *Handler {
	h := &Handler{engines: make(map[AssetClass]*Engine, len(engines))}
	for _, e := range engines {
		h.engines[e.Class()] = e
	}
	return h
}

// WithEventStore exposes the swap event history.
func (h *Handler) WithEventStore(es EventStore) *Handler {
	h.events = es
	return h
}

// WithClockOverride enables POST /clock against a manual clock. Test
// deployments only.
func (h *Handler) WithClockOverride(m *clock.Manual) *Handler {
	h.manual = m
	return h
}

// RegisterRoutes sets up public (read-only) swap routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/swaps/:class/:id", h.GetSwap)
	r.GET("/agents/:address/swaps", h.ListSwaps)
	r.POST("/secrets", h.GenerateSecret)
	r.GET("/clock", h.GetClock)
	if h.events != nil {
		r.GET("/swaps/:class/:id/events", h.ListEvents)
	}
	if h.manual != nil {
		r.POST("/clock", h.SetClock)
	}
}

// RegisterProtectedRoutes sets up routes that need a signed caller.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/swaps/:class", h.CreateProposal)
	r.POST("/swaps/:class/:id/claim", h.ClaimFunds)
	r.POST("/swaps/:class/:id/refund", h.RefundFunds)
}

// CreateProposalRequest is the body of POST /v1/swaps/:class.
type CreateProposalRequest struct {
	ID         string `json:"id" binding:"required"`
	Asset      Asset  `json:"asset"`
	Withdrawer string `json:"withdrawer" binding:"required"`
	SecretHash string `json:"secretHash" binding:"required"`
	Timelock   int64  `json:"timelock" binding:"required"` // unix seconds
}

// ClaimRequest is the body of POST /v1/swaps/:class/:id/claim.
type ClaimRequest struct {
	Secret string `json:"secret" binding:"required"`
}

// SecretRequest is the body of POST /v1/secrets.
type SecretRequest struct {
	Withdrawer string `json:"withdrawer" binding:"required"`
	Secret     string `json:"secret,omitempty"`
}

// CreateProposal handles POST /v1/swaps/:class
func (h *Handler) CreateProposal(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req CreateProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}
	if !validation.Check(c,
		validation.ValidBytes32("id", req.ID),
		validation.ValidAddress("withdrawer", req.Withdrawer),
		validation.ValidBytes32("secretHash", req.SecretHash),
		validation.PositiveUnix("timelock", req.Timelock),
	) {
		return
	}

	rec, err := engine.CreateProposal(c.Request.Context(), caller, ProposalRequest{
		ID:         common.HexToHash(req.ID),
		Asset:      req.Asset,
		Withdrawer: common.HexToAddress(req.Withdrawer),
		SecretHash: common.HexToHash(req.SecretHash),
		Timelock:   time.Unix(req.Timelock, 0).UTC(),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"swap": rec})
}

// ClaimFunds handles POST /v1/swaps/:class/:id/claim
func (h *Handler) ClaimFunds(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	id, ok := swapIDParam(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "secret is required",
		})
		return
	}
	if !validation.Check(c, validation.ValidBytes32("secret", req.Secret)) {
		return
	}

	rec, err := engine.ClaimFunds(c.Request.Context(), caller, id, common.HexToHash(req.Secret))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swap": rec})
}

// RefundFunds handles POST /v1/swaps/:class/:id/refund
func (h *Handler) RefundFunds(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	id, ok := swapIDParam(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	rec, err := engine.RefundFunds(c.Request.Context(), caller, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swap": rec})
}

// GetSwap handles GET /v1/swaps/:class/:id
func (h *Handler) GetSwap(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	id, ok := swapIDParam(c)
	if !ok {
		return
	}

	rec, err := engine.GetSwap(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"swap":    rec,
		"expired": !engine.Clock().Now().Before(rec.Timelock),
	})
}

// ListEvents handles GET /v1/swaps/:class/:id/events
func (h *Handler) ListEvents(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	id, ok := swapIDParam(c)
	if !ok {
		return
	}

	events, err := h.events.ListBySwap(c.Request.Context(), engine.Name(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No events for this swap",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// ListSwaps handles GET /v1/agents/:address/swaps
func (h *Handler) ListSwaps(c *gin.Context) {
	address := c.Param("address")
	if !validation.IsValidEthAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
		})
		return
	}
	addr := common.HexToAddress(address)

	limit := DefaultListLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > MaxListLimit {
				limit = MaxListLimit
			}
		}
	}

	engines := make([]*Engine, 0, len(h.engines))
	if cls := c.Query("class"); cls != "" {
		class, err := ParseClass(cls)
		if err != nil || h.engines[class] == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_class",
				"message": "class must be one of erc20, erc721, erc1155",
			})
			return
		}
		engines = append(engines, h.engines[class])
	} else {
		for _, e := range h.engines {
			engines = append(engines, e)
		}
	}

	before, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor must be a value returned as nextCursor",
		})
		return
	}

	swaps, err := listAcross(c.Request.Context(), engines, addr, before, limit+1)
	if err != nil {
		writeError(c, err)
		return
	}
	swaps, next := pagination.ComputePage(swaps, limit, (*Record).pageKey)
	resp := gin.H{
		"swaps":   swaps,
		"count":   len(swaps),
		"hasMore": next != "",
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

func listAcross(ctx context.Context, engines []*Engine, addr common.Address, before *pagination.Cursor, limit int) ([]*Record, error) {
	var all []*Record
	for _, e := range engines {
		recs, err := e.ListByParty(ctx, addr, before, limit)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return pagination.Precedes(all[i].pageKey(), all[j].pageKey())
	})
	if len(all) > limit {
		all = all[:limit]
	}
	if all == nil {
		all = []*Record{}
	}
	return all, nil
}

// GenerateSecret handles POST /v1/secrets. It returns a fresh secret (or
// hashes the supplied one) bound to the withdrawer. The preimage passes
// through this server either way, so whoever runs it can see it; callers
// that do not trust the operator should draw and hash secrets locally.
func (h *Handler) GenerateSecret(c *gin.Context) {
	var req SecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "withdrawer is required",
		})
		return
	}
	if !validation.Check(c,
		validation.ValidAddress("withdrawer", req.Withdrawer),
		validation.ValidBytes32("secret", req.Secret),
	) {
		return
	}

	secret := common.HexToHash(req.Secret)
	if req.Secret == "" {
		var err error
		if secret, err = NewSecret(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to generate secret",
			})
			return
		}
	}

	withdrawer := common.HexToAddress(req.Withdrawer)
	c.JSON(http.StatusOK, gin.H{
		"secret":     secret,
		"secretHash": SecretHash(secret, withdrawer),
		"withdrawer": withdrawer,
	})
}

// GetClock handles GET /v1/clock
func (h *Handler) GetClock(c *gin.Context) {
	now := h.now()
	c.JSON(http.StatusOK, gin.H{
		"now":         now.Unix(),
		"time":        now,
		"overridable": h.manual != nil,
	})
}

// SetClockRequest is the body of POST /v1/clock. Exactly one of Now and
// AdvanceSeconds is used; Now wins when both are set.
type SetClockRequest struct {
	Now            int64 `json:"now,omitempty"`
	AdvanceSeconds int64 `json:"advanceSeconds,omitempty"`
}

// SetClock handles POST /v1/clock
func (h *Handler) SetClock(c *gin.Context) {
	var req SetClockRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Now <= 0 && req.AdvanceSeconds == 0) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "now or advanceSeconds is required",
		})
		return
	}

	var now time.Time
	if req.Now > 0 {
		now = time.Unix(req.Now, 0).UTC()
		h.manual.Set(now)
	} else {
		now = h.manual.Advance(time.Duration(req.AdvanceSeconds) * time.Second)
	}
	logging.L(c.Request.Context()).Warn("swap clock overridden", "now", now.Unix())

	c.JSON(http.StatusOK, gin.H{"now": now.Unix(), "time": now})
}

func (h *Handler) now() time.Time {
	if h.manual != nil {
		return h.manual.Now()
	}
	for _, e := range h.engines {
		return e.Clock().Now()
	}
	return clock.System{}.Now()
}

func (h *Handler) engine(c *gin.Context) (*Engine, bool) {
	class, err := ParseClass(c.Param("class"))
	if err == nil {
		if e, ok := h.engines[class]; ok {
			return e, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error":   "unknown_class",
		"message": "class must be one of erc20, erc721, erc1155",
	})
	return nil, false
}

func (h *Handler) caller(c *gin.Context) (common.Address, bool) {
	caller, ok := auth.GetCaller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Signed request required",
		})
		return common.Address{}, false
	}
	return caller, true
}

func swapIDParam(c *gin.Context) (common.Hash, bool) {
	id := c.Param("id")
	if !validation.IsValidBytes32(id) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "swap id must be 32 bytes of hex (0x + 64 hex chars)",
		})
		return common.Hash{}, false
	}
	return common.HexToHash(id), true
}

// writeError maps engine errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"

	var transferErr *TransferError
	switch {
	case errors.Is(err, ErrSwapNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrNotOpened):
		status, code = http.StatusConflict, "not_opened"
	case errors.Is(err, ErrSwapExists):
		status, code = http.StatusConflict, "swap_exists"
	case errors.Is(err, ErrNotWithdrawer):
		status, code = http.StatusForbidden, "not_withdrawer"
	case errors.Is(err, ErrNotProposer):
		status, code = http.StatusForbidden, "not_proposer"
	case errors.Is(err, ErrInvalidSecret):
		status, code = http.StatusBadRequest, "invalid_secret"
	case errors.Is(err, ErrNotExpired):
		status, code = http.StatusConflict, "not_expired"
	case errors.Is(err, ErrTimelockPassed):
		status, code = http.StatusBadRequest, "timelock_passed"
	case errors.Is(err, ErrAssetNotRegistered):
		status, code = http.StatusBadRequest, "asset_not_registered"
	case errors.Is(err, ErrInvalidAsset), errors.Is(err, ErrInvalidProposal):
		status, code = http.StatusBadRequest, "invalid_proposal"
	case errors.Is(err, ErrTransferUnconfirmed):
		status, code = http.StatusGatewayTimeout, "transfer_unconfirmed"
	case errors.As(err, &transferErr):
		status, code = http.StatusUnprocessableEntity, "transfer_failed"
	}

	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("swap request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": code, "message": "Internal error"})
		return
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
