package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/ads-optimizer/internal/pkg/httputil"
)

// HealthStatus is the overall health of the process and its backends.
type HealthStatus struct {
	Status string                    `json:"status"`
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the health of a single backend.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthChecker probes the store and the lock backend. Redis may be
// nil; the check reports not_configured and degrades nothing.
type HealthChecker struct {
	db          *sql.DB
	redisClient *redis.Client
	startTime   time.Time
}

func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	return &HealthChecker{db: db, redisClient: redisClient, startTime: time.Now()}
}

// HandleHealth reports backend health. Always 200; the body carries the
// status, and /health/ready is the probe that turns failures into 503s.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runChecks(r.Context())

	overall := "healthy"
	if checks["database"].Status == "down" {
		overall = "unhealthy"
	} else if checks["redis"].Status == "down" {
		overall = "degraded"
	}

	httputil.OK(w, HealthStatus{
		Status: overall,
		Uptime: time.Since(hc.startTime).Round(time.Second).String(),
		Checks: checks,
	})
}

// HandleLiveness always returns 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "alive"})
}

// HandleReadiness returns 503 until the store is reachable.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runChecks(r.Context())
	if checks["database"].Status != "up" {
		httputil.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": checks,
		})
		return
	}
	httputil.OK(w, map[string]any{"status": "ready", "checks": checks})
}

func (hc *HealthChecker) runChecks(ctx context.Context) map[string]ComponentCheck {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	checks := map[string]ComponentCheck{
		"database": hc.checkDatabase(ctx),
		"redis":    hc.checkRedis(ctx),
	}
	return checks
}

func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	start := time.Now()
	if err := hc.db.PingContext(ctx); err != nil {
		return ComponentCheck{Status: "down", Message: err.Error()}
	}
	return ComponentCheck{Status: "up", Latency: fmt.Sprintf("%dms", time.Since(start).Milliseconds())}
}

func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redisClient == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	start := time.Now()
	if err := hc.redisClient.Ping(ctx).Err(); err != nil {
		return ComponentCheck{Status: "down", Message: err.Error()}
	}
	return ComponentCheck{Status: "up", Latency: fmt.Sprintf("%dms", time.Since(start).Milliseconds())}
}
