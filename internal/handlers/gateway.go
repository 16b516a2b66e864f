// Package handlers exposes the gateway's HTTP surface: the OpenAI-compatible
// chat completions endpoint, the model listing, and health.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"modelgate/internal/engine"
	"modelgate/internal/logging"
	"modelgate/internal/providers"
	"modelgate/internal/router"
)

// modelCreated is the fixed creation timestamp reported for every model in
// the listing. OpenAI SDK clients require the field but ignore its value.
const modelCreated = 1686935002

// Gateway serves the OpenAI-compatible HTTP surface over an engine.
type Gateway struct {
	engine  *engine.Engine
	version string
}

// NewGateway creates the HTTP handler set.
func NewGateway(e *engine.Engine, version string) *Gateway {
	return &Gateway{engine: e, version: version}
}

// Register attaches the gateway routes to a Gin router.
func (g *Gateway) Register(r gin.IRouter) {
	r.POST("/v1/chat/completions", g.ChatCompletions)
	r.GET("/v1/models", g.ListModels)
	r.GET("/health", g.Health)
}

type chatRequest struct {
	Model    string              `json:"model" binding:"required"`
	Messages []providers.Message `json:"messages" binding:"required"`
	Stream   bool                `json:"stream"`
}

// ChatCompletions handles POST /v1/chat/completions.
func (g *Gateway) ChatCompletions(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: model and messages are required"})
		return
	}

	ctx := c.Request.Context()

	if req.Stream {
		err := g.engine.ChatStream(ctx, c.Writer, req.Model, req.Messages)
		if err != nil {
			g.writeError(c, req.Model, err)
		}
		return
	}

	resp, err := g.engine.ChatCompletion(ctx, req.Model, req.Messages)
	if err != nil {
		g.writeError(c, req.Model, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// writeError maps pipeline failures onto the HTTP error contract.
func (g *Gateway) writeError(c *gin.Context, model string, err error) {
	switch {
	case errors.Is(err, router.ErrNoProvider):
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("No configured provider found for model: %s", model),
		})
	case errors.Is(err, router.ErrAllRateLimited):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": fmt.Sprintf("All providers for model %s are rate limited", model),
		})
	default:
		logging.L().Error("chat completion failed",
			zap.String("model", model),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Provider request failed"})
	}
}

// ListModels handles GET /v1/models: the union of every client-facing model
// name across configured providers, in the OpenAI list shape.
func (g *Gateway) ListModels(c *gin.Context) {
	names := g.engine.ModelNames()

	data := make([]gin.H, 0, len(names))
	for _, name := range names {
		data = append(data, gin.H{
			"id":       name,
			"object":   "model",
			"created":  modelCreated,
			"owned_by": "ai",
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}

// Health handles GET /health.
func (g *Gateway) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   g.version,
	})
}
