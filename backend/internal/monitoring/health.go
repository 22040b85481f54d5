package monitoring

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 5 * time.Second

type CheckFunc func(ctx context.Context) error

type HealthCheck struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
	check    CheckFunc
}

type healthChecker struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
}

var globalHealthChecker = &healthChecker{checks: make(map[string]HealthCheck)}

// RegisterHealthCheck adds or replaces a named dependency check.
func RegisterHealthCheck(name string, check CheckFunc) {
	globalHealthChecker.mu.Lock()
	defer globalHealthChecker.mu.Unlock()
	globalHealthChecker.checks[name] = HealthCheck{Name: name, check: check}
}

func RunHealthChecks(ctx context.Context) map[string]HealthCheck {
	globalHealthChecker.mu.RLock()
	checks := make([]HealthCheck, 0, len(globalHealthChecker.checks))
	for _, hc := range globalHealthChecker.checks {
		checks = append(checks, hc)
	}
	globalHealthChecker.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make(map[string]HealthCheck, len(checks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, hc := range checks {
		wg.Add(1)
		go func(hc HealthCheck) {
			defer wg.Done()
			start := time.Now()
			res := HealthCheck{Name: hc.Name, Status: "healthy"}
			if err := hc.check(ctx); err != nil {
				res.Status = "unhealthy"
				res.Message = err.Error()
			}
			res.Duration = time.Since(start)
			mu.Lock()
			results[hc.Name] = res
			mu.Unlock()
		}(hc)
	}
	wg.Wait()
	return results
}

func allHealthy(checks map[string]HealthCheck) bool {
	for _, c := range checks {
		if c.Status != "healthy" {
			return false
		}
	}
	return true
}

func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := RunHealthChecks(c.Request.Context())
		status, code := "healthy", http.StatusOK
		if !allHealthy(checks) {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"checks":    checks,
			"timestamp": time.Now().UTC(),
		})
	}
}

func ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := RunHealthChecks(c.Request.Context())
		if !allHealthy(checks) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": checks})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "alive",
			"uptime": GetSystemMetrics().Uptime.String(),
		})
	}
}
