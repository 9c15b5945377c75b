package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/repairshop-worker/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	statusHandler := handler.NewStatusHandler(deps)
	webhookHandler := handler.NewWebhookHandler(deps)

	r.GET("/health", statusHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/stats - outcome and correlation counters
		v1.GET("/stats", statusHandler.Stats)

		// GET /api/v1/task-types - task types the worker subscribed to
		v1.GET("/task-types", statusHandler.TaskTypes)
	}

	webhooks := r.Group("/webhooks")
	{
		// POST /webhooks/calendly - booking webhook
		webhooks.POST("/calendly", webhookHandler.Calendly)

		// GET /webhooks/calendly/simulate - simulated booking
		webhooks.GET("/calendly/simulate", webhookHandler.SimulateBooking)
	}

	return r
}
