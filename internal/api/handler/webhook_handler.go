package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/repairshop-worker/internal/api/dto"
	"github.com/cuongbtq/repairshop-worker/internal/scheduling"
)

const maxWebhookBody = 1 << 20

// Calendly handles POST /webhooks/calendly
// Parses an invitee.created event into a booking
func (h *WebhookHandler) Calendly(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("Failed to read webhook body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read request body",
		})
		return
	}

	booking, err := scheduling.ParseWebhook(body)
	if err != nil {
		if errors.Is(err, scheduling.ErrUnhandledEvent) {
			// acknowledged so the provider does not redeliver it
			h.logger.Warn("Unhandled webhook event", slog.String("error", err.Error()))
			c.JSON(http.StatusOK, gin.H{
				"ignored": true,
				"reason":  err.Error(),
			})
			return
		}
		h.logger.Error("Invalid webhook payload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid webhook payload",
		})
		return
	}

	h.logger.Info("Booking received",
		slog.String("customer_name", booking.CustomerName),
		slog.Time("appointment_time", booking.AppointmentTime),
	)
	c.JSON(http.StatusOK, booking)
}

// SimulateBooking handles GET /webhooks/calendly/simulate
// Returns a simulated booking for development and testing
func (h *WebhookHandler) SimulateBooking(c *gin.Context) {
	if h.links == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Scheduling is not configured",
		})
		return
	}

	var req dto.SimulateBookingRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}
	if req.Email == "" {
		req.Email = "customer@example.com"
	}
	if req.Name == "" {
		req.Name = "Test Customer"
	}

	c.JSON(http.StatusOK, h.links.SimulateBooking(req.Email, req.Name))
}
