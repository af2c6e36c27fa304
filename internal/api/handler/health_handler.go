package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/transcriber/internal/api/dto"
	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler serves the liveness, readiness and health endpoints
type HealthHandler struct {
	logger      *slog.Logger
	components  []Component
	version     string
	environment string
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger:      deps.Logger,
		components:  deps.Components,
		version:     deps.Version,
		environment: deps.Environment,
	}
}

// Health handles GET /v1/health. A failing component degrades the status
// but the endpoint itself still answers 200.
func (h *HealthHandler) Health(c *gin.Context) {
	components, healthy := h.check(c.Request.Context())

	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:      status,
		Version:     h.version,
		Environment: h.environment,
		Components:  components,
	})
}

// Ready handles GET /v1/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	_, healthy := h.check(c.Request.Context())
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ready": healthy})
}

// Live handles GET /v1/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": true})
}

func (h *HealthHandler) check(ctx context.Context) (map[string]dto.ComponentHealth, bool) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	healthy := true
	components := make(map[string]dto.ComponentHealth, len(h.components))
	for _, comp := range h.components {
		if err := comp.Checker.HealthCheck(ctx); err != nil {
			h.logger.Warn("Health check failed",
				slog.String("component", comp.Name),
				slog.String("error", err.Error()),
			)
			components[comp.Name] = dto.ComponentHealth{Status: "unhealthy", Error: err.Error()}
			healthy = false
			continue
		}
		components[comp.Name] = dto.ComponentHealth{Status: "healthy"}
	}
	return components, healthy
}
