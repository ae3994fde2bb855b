// Package health implements liveness and readiness checks for the
// facilitator HTTP server.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/x402go/facilitator/internal/cache"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

type Response struct {
	Status  Status  `json:"status"`
	Checks  []Check `json:"checks,omitempty"`
	Version string  `json:"version"`
}

// Checker runs readiness checks against the facilitator's dependencies.
// redis may be nil (rate limiting disabled); a nil redis is reported
// degraded, not unhealthy, since the facilitator still functions without
// it.
type Checker struct {
	redis   *cache.Client
	version string
}

func NewChecker(redisClient *cache.Client, version string) *Checker {
	return &Checker{redis: redisClient, version: version}
}

// HealthHandler answers liveness: the process is up and able to respond.
// It never touches dependencies.
func (c *Checker) HealthHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, Response{Status: StatusHealthy, Version: c.version})
	}
}

// ReadyHandler answers readiness: dependencies are reachable and the
// server should receive traffic.
func (c *Checker) ReadyHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
		defer cancel()

		checks := c.runChecks(checkCtx)
		status := calculateOverallStatus(checks)

		httpStatus := http.StatusOK
		if status == StatusUnhealthy {
			httpStatus = http.StatusServiceUnavailable
		}

		ctx.JSON(httpStatus, Response{Status: status, Checks: checks, Version: c.version})
	}
}

func (c *Checker) runChecks(ctx context.Context) []Check {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		checks []Check
	)

	add := func(chk Check) {
		mu.Lock()
		defer mu.Unlock()
		checks = append(checks, chk)
	}

	if c.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			add(c.checkRedis(ctx))
		}()
	} else {
		add(Check{Name: "redis", Status: StatusDegraded, Message: "rate limiting disabled, no redis configured"})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-ctx.Done():
		add(Check{Name: "redis", Status: StatusUnhealthy, Message: "check timed out"})
	}

	return checks
}

func (c *Checker) checkRedis(ctx context.Context) Check {
	if err := c.redis.Ping(ctx); err != nil {
		return Check{Name: "redis", Status: StatusUnhealthy, Message: err.Error()}
	}
	return Check{Name: "redis", Status: StatusHealthy}
}

func calculateOverallStatus(checks []Check) Status {
	status := StatusHealthy
	for _, chk := range checks {
		switch chk.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
