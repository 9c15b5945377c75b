package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/repairshop-worker/internal/api/dto"
)

// Health handles GET /health
func (h *StatusHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.HealthCheck(ctx); err != nil {
			h.logger.Warn("Health check failed",
				slog.String("component", name),
				slog.String("error", err.Error()),
			)
			components[name] = "unhealthy"
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "healthy"
	}

	c.JSON(code, dto.HealthResponse{
		Status:     status,
		Service:    h.serviceName,
		WorkerID:   h.workerID,
		Components: components,
	})
}

// Stats handles GET /api/v1/stats
func (h *StatusHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// TaskTypes handles GET /api/v1/task-types
func (h *StatusHandler) TaskTypes(c *gin.Context) {
	types := h.taskTypes()
	if types == nil {
		types = []string{}
	}
	c.JSON(http.StatusOK, dto.TaskTypesResponse{
		TaskTypes: types,
		Count:     len(types),
	})
}
