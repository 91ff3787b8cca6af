package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Version is reported by every health endpoint
const Version = "1.0.0"

// Check probes one dependency; a nil error means healthy.
type Check func(ctx context.Context) error

// HealthChecker aggregates named dependency checks
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]Check
	now    func() time.Time
}

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]Check),
		now:    time.Now,
	}
}

// Register adds or replaces the check called name
func (h *HealthChecker) Register(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// CheckAll runs every check and returns the failures keyed by name
func (h *HealthChecker) CheckAll(ctx context.Context) map[string]error {
	h.mu.RLock()
	checks := make(map[string]Check, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	failures := make(map[string]error)
	for name, check := range checks {
		if err := check(ctx); err != nil {
			failures[name] = err
		}
	}
	return failures
}

// Ready reports whether every registered check passes
func (h *HealthChecker) Ready(ctx context.Context) bool {
	return len(h.CheckAll(ctx)) == 0
}

// GetHealthStatus returns the current health status
func (h *HealthChecker) GetHealthStatus(ctx context.Context) map[string]interface{} {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	failures := h.CheckAll(ctx)
	checks := make(map[string]interface{}, len(names))
	for _, name := range names {
		if err, failed := failures[name]; failed {
			checks[name] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
			continue
		}
		checks[name] = map[string]interface{}{"status": "ok"}
	}

	overallStatus := "ok"
	if len(failures) > 0 {
		overallStatus = "degraded"
	}

	return map[string]interface{}{
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"version":   Version,
		"status":    overallStatus,
		"checks":    checks,
	}
}

// WithTimeout bounds check to d
func WithTimeout(check Check, d time.Duration) Check {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return check(ctx)
	}
}
