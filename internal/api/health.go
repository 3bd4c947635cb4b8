//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f(ctx).
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Check names one dependency to ping. Required checks turn the service
// unhealthy when they fail; optional ones only degrade it.
type Check struct {
	Name     string
	Pinger   Pinger
	Required bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checks  []Check
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(timeout time.Duration, checks ...Check) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Evaluate runs every check and summarizes the result.
func (h *HealthHandler) Evaluate(ctx context.Context) (HealthReport, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	report := HealthReport{Status: "healthy", Checks: map[string]string{"api": "ok"}}
	serving := true
	for _, c := range h.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			slog.Warn("Health check failed", "check", c.Name, "error", err)
			report.Checks[c.Name] = "unreachable"
			if c.Required {
				serving = false
				report.Status = "unhealthy"
			} else if report.Status == "healthy" {
				report.Status = "degraded"
			}
			continue
		}
		report.Checks[c.Name] = "ok"
	}
	return report, serving
}

// Names returns the check names in sorted order.
func (h *HealthHandler) Names() []string {
	names := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	report, serving := h.Evaluate(r.Context())
	status := http.StatusOK
	if !serving {
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, report)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
