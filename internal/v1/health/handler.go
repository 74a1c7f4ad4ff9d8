// Package health implements the HTTP-facing half of the Health Monitor
// (C8): liveness/readiness probes over the core's external dependencies
// (the gateway registers only the broker). The per-connection ping/pong and token
// revalidation loop lives in monitor.go.
//
// Grounded on internal/v1/health/handler.go: same Liveness/Readiness
// gin-handler split and the same gRPC health-check-protocol pattern for a
// named dependency, generalized from one hard-coded "rust_sfu" checker to
// a DependencyChecker registered per named dependency since this module
// has no SFU.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mythosmud/realtimecore/internal/v1/logging"

	"go.uber.org/zap"
)

// DependencyChecker reports "healthy" or "unhealthy" for one named external
// dependency.
type DependencyChecker interface {
	Check(ctx context.Context) string
}

// GRPCChecker checks a gRPC dependency via the standard health-check
// protocol, matching a DefaultSFUChecker-style named dependency probe.
type GRPCChecker struct {
	Addr string
}

// Check dials addr and queries its health service.
func (c *GRPCChecker) Check(ctx context.Context) string {
	conn, err := grpc.NewClient(c.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logging.Error(ctx, "failed to dial dependency for health check", zap.Error(err), zap.String("addr", c.Addr))
		return "unhealthy"
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ""})
	if err != nil {
		logging.Error(ctx, "dependency health check RPC failed", zap.Error(err))
		return "unhealthy"
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		logging.Warn(ctx, "dependency not serving", zap.String("status", resp.Status.String()))
		return "unhealthy"
	}
	return "healthy"
}

// PingChecker adapts any Ping(ctx) error-returning dependency (the broker
// client) into a DependencyChecker.
type PingChecker struct {
	Ping func(ctx context.Context) error
}

// Check invokes Ping and maps its result to a health string.
func (c *PingChecker) Check(ctx context.Context) string {
	if err := c.Ping(ctx); err != nil {
		logging.Error(ctx, "dependency ping failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// Handler serves liveness/readiness probes.
type Handler struct {
	deps map[string]DependencyChecker
}

// NewHandler constructs a Handler over the given named dependency checkers.
func NewHandler(deps map[string]DependencyChecker) *Handler {
	return &Handler{deps: deps}
}

// LivenessResponse is the liveness probe response body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe response body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness returns 200 if the process is alive, with no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness returns 200 only if every registered dependency is healthy.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.deps))
	allHealthy := true
	for name, checker := range h.deps {
		status := checker.Check(ctx)
		checks[name] = status
		if status != "healthy" {
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
