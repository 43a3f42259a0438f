// Package health exposes Kubernetes-style liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/bus"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
)

// UpstreamChecker probes one dependency.
type UpstreamChecker interface {
	Check(ctx context.Context) string
}

// identityChecker verifies the identity service answers HTTP at all. Any
// response counts: an auth failure still proves the service is reachable.
type identityChecker struct {
	baseURL string
	client  *http.Client
}

// NewIdentityChecker builds the probe for the upstream identity service.
func NewIdentityChecker(baseURL string) UpstreamChecker {
	return &identityChecker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *identityChecker) Check(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return "unhealthy"
	}
	resp, err := c.client.Do(req)
	if err != nil {
		logging.Error(ctx, "identity service health check failed", zap.Error(err))
		return "unhealthy"
	}
	resp.Body.Close()
	return "healthy"
}

// Handler manages health check endpoints.
type Handler struct {
	redisService    *bus.Service
	identityChecker UpstreamChecker
}

// NewHandler creates a health check handler. redisService may be nil when the
// server runs without federation.
func NewHandler(redisService *bus.Service, identityChecker UpstreamChecker) *Handler {
	return &Handler{
		redisService:    redisService,
		identityChecker: identityChecker,
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 if the process is alive,
// with no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 only if all critical
// dependencies are healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	if h.identityChecker != nil {
		identityStatus := h.identityChecker.Check(ctx)
		checks["identity"] = identityStatus
		if identityStatus != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkRedis verifies Redis connectivity with a PING. Single-instance mode
// (no Redis) is always healthy.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return "healthy"
	}
	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
