package monitoring

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ComponentChecker reports the health of one dependency.
type ComponentChecker func(ctx context.Context) error

type ComponentHealth struct {
	Status      string        `json:"status"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
	Error       string        `json:"error,omitempty"`
}

type HealthStatus struct {
	Status     string                      `json:"status"`
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     string                      `json:"uptime"`
	Components map[string]*ComponentHealth `json:"components"`
}

// HealthChecker aggregates dependency checks into a single status.
type HealthChecker struct {
	checkers  map[string]ComponentChecker
	startTime time.Time
	timeout   time.Duration
	mu        sync.RWMutex
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checkers:  make(map[string]ComponentChecker),
		startTime: time.Now(),
		timeout:   5 * time.Second,
	}
}

func (h *HealthChecker) RegisterCheck(name string, checker ComponentChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	h.mu.RLock()
	checkers := make(map[string]ComponentChecker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	h.mu.RUnlock()

	status := &HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Components: make(map[string]*ComponentHealth, len(checkers)),
	}

	for name, checker := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		started := time.Now()
		err := checker(checkCtx)
		cancel()

		component := &ComponentHealth{
			Status:      "healthy",
			LastChecked: time.Now(),
			Duration:    time.Since(started) / time.Millisecond,
		}
		if err != nil {
			component.Status = "unhealthy"
			component.Error = err.Error()
			status.Status = "unhealthy"
		}
		status.Components[name] = component
	}

	return status
}

// LivenessHandler answers as long as the process is up.
func (h *HealthChecker) LivenessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status": "alive",
			"uptime": time.Since(h.startTime).Round(time.Second).String(),
		})
	}
}

// ReadinessHandler verifies all registered dependencies.
func (h *HealthChecker) ReadinessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status := h.CheckHealth(ctx.Request.Context())

		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, status)
	}
}
