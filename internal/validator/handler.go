package validator

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler serves the read-only diagnostics endpoints.
type Handler struct {
	node *Node
}

// NewHandler creates a diagnostics handler.
func NewHandler(node *Node) *Handler {
	return &Handler{node: node}
}

// RegisterRoutes registers diagnostics routes
func (h *Handler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", h.getHealth)
	router.GET("/stats", h.getStats)
}

// getHealth handles GET /health
func (h *Handler) getHealth(c *gin.Context) {
	report := h.node.Health()
	status := http.StatusOK
	if report.Status == "degraded" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// getStats handles GET /stats
func (h *Handler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.node.Stats())
}
