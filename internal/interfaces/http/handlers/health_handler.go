// Package handlers implements the admin HTTP endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appservice "github.com/turtacn/certforge/internal/application/service"
	"github.com/turtacn/certforge/pkg/logger"
)

// ReactorStatus reports the state of the connection loop.
type ReactorStatus interface {
	Running() bool
	ActiveSessions() int
}

// CacheStatus reports the coalescer cache.
type CacheStatus interface {
	Stats() appservice.CoalescerStats
}

// PoolStatus reports worker pool occupancy.
type PoolStatus interface {
	Size() int
	Busy() int
	Backlog() int
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	reactor ReactorStatus
	cache   CacheStatus
	pool    PoolStatus
	log     logger.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(reactor ReactorStatus, cache CacheStatus, pool PoolStatus, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		reactor: reactor,
		cache:   cache,
		pool:    pool,
		log:     log,
	}
}

// HealthCheck godoc
// @Summary      Health Check
// @Description  Reports service status with cache, pool and session statistics.
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]interface{}
// @Router       /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := "ok"
	httpStatus := http.StatusOK
	if !h.reactor.Running() {
		status = "unavailable"
		httpStatus = http.StatusServiceUnavailable
		h.log.Warn(c.Request.Context(), "Health check while reactor is not running")
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"sessions":  h.reactor.ActiveSessions(),
		"cache":     h.cache.Stats(),
		"pool": gin.H{
			"size":    h.pool.Size(),
			"busy":    h.pool.Busy(),
			"backlog": h.pool.Backlog(),
		},
	})
}

// LivenessCheck godoc
// @Summary      Liveness Check
// @Description  Checks if the process is alive.
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
