package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is a named readiness probe.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
}

// HealthChecker manages health checks
type HealthChecker struct {
	checks map[string]*HealthCheck
	start  time.Time
	mu     sync.RWMutex
}

var defaultChecker = &HealthChecker{
	checks: make(map[string]*HealthCheck),
	start:  time.Now(),
}

// InitHealthChecker returns the process-wide health checker.
func InitHealthChecker() *HealthChecker {
	return defaultChecker
}

// RegisterCheck adds a health check.
func (h *HealthChecker) RegisterCheck(check *HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	h.checks[check.Name] = check
}

// CheckStatus reports one probe result.
type CheckStatus struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status        HealthStatus           `json:"status"`
	Timestamp     time.Time              `json:"timestamp"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Checks        map[string]CheckStatus `json:"checks,omitempty"`
	NumGoroutines int                    `json:"num_goroutines"`
}

// HealthHandler serves the aggregated health report.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := defaultChecker.run(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != HealthStatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (h *HealthChecker) run(ctx context.Context) *HealthResponse {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := &HealthResponse{
		Status:        HealthStatusHealthy,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: time.Since(h.start).Seconds(),
		Checks:        make(map[string]CheckStatus, len(h.checks)),
		NumGoroutines: runtime.NumGoroutine(),
	}

	for name, check := range h.checks {
		checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		err := check.CheckFunc(checkCtx)
		cancel()

		status := CheckStatus{Status: HealthStatusHealthy}
		if err != nil {
			status = CheckStatus{Status: HealthStatusUnhealthy, Message: err.Error()}
			resp.Status = HealthStatusUnhealthy
		}
		resp.Checks[name] = status
	}

	return resp
}
