package webhooks

import (
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/podswap/internal/auth"
	"github.com/mbd888/podswap/internal/idgen"
	"github.com/mbd888/podswap/internal/logging"
	"github.com/mbd888/podswap/internal/swap"
	"github.com/mbd888/podswap/internal/validation"
)

// MaxWebhooksPerOwner caps how many webhooks one address may register.
const MaxWebhooksPerOwner = 20

var knownEvents = map[swap.EventType]bool{
	swap.EventCreated:  true,
	swap.EventClaimed:  true,
	swap.EventRefunded: true,
	swap.EventExpired:  true,
}

// Handler provides HTTP endpoints for webhook management. Every route acts
// on the authenticated caller's own subscriptions.
type Handler struct {
	store        Store
	urlValidator func(string) error
}

// NewHandler creates a new webhook handler. validateURL is applied to
// registered URLs; nil accepts any URL.
func NewHandler(store Store, validateURL func(string) error) *Handler {
	if validateURL == nil {
		validateURL = func(string) error { return nil }
	}
	return &Handler{store: store, urlValidator: validateURL}
}

// RegisterProtectedRoutes sets up webhook routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/webhooks", h.ListWebhooks)
	r.DELETE("/webhooks/:id", h.DeleteWebhook)
}

// CreateWebhookRequest registers a webhook. An empty event list subscribes
// to every swap event.
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events"`
}

// CreateWebhook handles POST /v1/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}

	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "url is required",
		})
		return
	}
	if !validation.Check(c, validation.MaxLength("url", req.URL, 2048)) {
		return
	}
	if err := h.urlValidator(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url", "message": err.Error()})
		return
	}

	events := make([]swap.EventType, 0, len(req.Events))
	for _, e := range req.Events {
		et := swap.EventType(e)
		if !knownEvents[et] {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_event",
				"message": "unknown event type: " + e,
			})
			return
		}
		events = append(events, et)
	}

	existing, err := h.store.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		internalError(c, "list webhooks", err)
		return
	}
	if len(existing) >= MaxWebhooksPerOwner {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "limit_reached",
			"message": "too many webhooks registered for this address",
		})
		return
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		Owner:     owner,
		URL:       req.URL,
		Secret:    idgen.Hex(32),
		Events:    events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		internalError(c, "create webhook", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  sub.Secret,
		"usage": gin.H{
			"signature": "hex HMAC-SHA256(body, secret)",
			"header":    HeaderSignature,
		},
	})
}

// ListWebhooks handles GET /v1/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	subs, err := h.store.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		internalError(c, "list webhooks", err)
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": subs, "count": len(subs)})
}

// DeleteWebhook handles DELETE /v1/webhooks/:id
func (h *Handler) DeleteWebhook(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	err := h.store.Delete(c.Request.Context(), c.Param("id"), owner)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Webhook not found"})
		return
	}
	if err != nil {
		internalError(c, "delete webhook", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func caller(c *gin.Context) (common.Address, bool) {
	addr, ok := auth.GetCaller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Signed request required",
		})
	}
	return addr, ok
}

func internalError(c *gin.Context, op string, err error) {
	logging.L(c.Request.Context()).Error("webhook store failed", "op", op, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Failed to " + op,
	})
}
