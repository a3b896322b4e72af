package registry

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/podswap/internal/swap"
)

// Handler provides HTTP endpoints for the asset registry.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new registry handler.
func NewHandler(r *Registry) *Handler {
	return &Handler{registry: r}
}

// RegisterRoutes sets up public (read-only) registry routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/assets", h.ListAssets)
	r.GET("/assets/:class", h.ListAssets)
}

// ListAssets handles GET /v1/assets and GET /v1/assets/:class
func (h *Handler) ListAssets(c *gin.Context) {
	var class swap.AssetClass
	if raw := c.Param("class"); raw != "" {
		parsed, err := swap.ParseClass(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_class",
				"message": err.Error(),
			})
			return
		}
		class = parsed
	}

	assets, err := h.registry.List(c.Request.Context(), class)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assets",
		})
		return
	}
	if assets == nil {
		assets = []*Asset{}
	}

	c.JSON(http.StatusOK, gin.H{
		"assets": assets,
		"count":  len(assets),
	})
}
