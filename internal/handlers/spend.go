package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"modelgate/internal/spend"
)

// SpendHandler exposes read-only spend ledger endpoints.
type SpendHandler struct {
	ledger *spend.Ledger
}

// NewSpendHandler creates a new SpendHandler.
func NewSpendHandler(ledger *spend.Ledger) *SpendHandler {
	return &SpendHandler{ledger: ledger}
}

// GetSummary returns the daily and monthly spend summary for one provider.
// GET /v1/spend/summary?provider=openai-main
func (h *SpendHandler) GetSummary(c *gin.Context) {
	providerID := c.Query("provider")
	if providerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "provider query parameter is required",
		})
		return
	}

	summary, err := h.ledger.Summary(providerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to get spend summary",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    summary,
	})
}

// GetBreakdown returns spend grouped by provider or model.
// GET /v1/spend/breakdown?group_by=model&day=2026-08-24
func (h *SpendHandler) GetBreakdown(c *gin.Context) {
	groupBy := c.DefaultQuery("group_by", "provider")
	if groupBy != "provider" && groupBy != "model" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "group_by must be provider or model",
		})
		return
	}

	items, err := h.ledger.Breakdown(groupBy, c.Query("day"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to get spend breakdown",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
	})
}

// RegisterRoutes registers the spend endpoints under the given router group.
func (h *SpendHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sg := rg.Group("/spend")
	{
		sg.GET("/summary", h.GetSummary)
		sg.GET("/breakdown", h.GetBreakdown)
	}
}
