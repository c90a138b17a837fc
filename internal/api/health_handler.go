package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kitfc/litehook/internal/store"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status string `json:"status"` // "healthy" or "unhealthy"
	Uptime string `json:"uptime"`
}

// HealthChecker reports whether the store is reachable.
type HealthChecker struct {
	store     *store.Store
	startTime time.Time
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(st *store.Store) *HealthChecker {
	return &HealthChecker{store: st, startTime: time.Now()}
}

// HandleHealth returns the service's health status. Always answers
// 200; the status field in the body conveys health.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	if err := hc.store.Ping(ctx); err != nil {
		status = "unhealthy"
	}

	respondJSON(w, http.StatusOK, HealthStatus{
		Status: status,
		Uptime: formatUptime(time.Since(hc.startTime)),
	})
}

// formatUptime produces a human-readable uptime string like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
