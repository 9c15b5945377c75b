// Package scheduling builds booking links for customers and interprets
// booking confirmations.
package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// DefaultBookingURL is used when no booking page is configured
const DefaultBookingURL = "https://calendly.com/your-repair-shop/vehicle-collection"

// EventInviteeCreated is the webhook event emitted when a customer books
const EventInviteeCreated = "invitee.created"

// ErrUnhandledEvent is returned for webhook events other than a new booking
var ErrUnhandledEvent = errors.New("unhandled webhook event")

// Booking is a confirmed appointment
type Booking struct {
	CustomerEmail       string    `json:"customerEmail"`
	CustomerName        string    `json:"customerName"`
	AppointmentTime     time.Time `json:"appointmentTime"`
	AppointmentEndTime  time.Time `json:"appointmentEndTime"`
	AppointmentLocation string    `json:"appointmentLocation,omitempty"`
	Confirmed           bool      `json:"bookingConfirmed"`
	Reference           string    `json:"bookingReference"`
}

// Config holds LinkBuilder settings
type Config struct {
	BookingURL string
	// SlotLength is the length of a simulated appointment
	SlotLength time.Duration
	Logger     *slog.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// LinkBuilder creates prefilled booking links
type LinkBuilder struct {
	bookingURL string
	slotLength time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewLinkBuilder creates a LinkBuilder
func NewLinkBuilder(cfg *Config) *LinkBuilder {
	bookingURL := cfg.BookingURL
	if bookingURL == "" {
		bookingURL = DefaultBookingURL
	}
	slot := cfg.SlotLength
	if slot <= 0 {
		slot = 30 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &LinkBuilder{
		bookingURL: bookingURL,
		slotLength: slot,
		logger:     cfg.Logger,
		now:        now,
	}
}

// CreateBookingLink returns the booking page URL prefilled with the
// customer's details, the subject (usually the vehicle) and the reason
func (b *LinkBuilder) CreateBookingLink(email, name, subject, reason string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("name", name)
	q.Set("custom", subject)
	q.Set("reason", reason)

	sep := "?"
	if strings.Contains(b.bookingURL, "?") {
		sep = "&"
	}
	link := b.bookingURL + sep + q.Encode()

	b.logger.Info("Booking link created",
		slog.String("customer_name", name),
		slog.String("reason", reason),
	)
	return link
}

// SimulateBooking confirms a booking for the next day at 10:00 UTC. It
// stands in for a webhook confirmation that never reached the process.
func (b *LinkBuilder) SimulateBooking(email, name string) Booking {
	now := b.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day()+1, 10, 0, 0, 0, time.UTC)

	booking := Booking{
		CustomerEmail:      email,
		CustomerName:       name,
		AppointmentTime:    start,
		AppointmentEndTime: start.Add(b.slotLength),
		Confirmed:          true,
		Reference:          fmt.Sprintf("simulated-booking-%d", now.UnixMilli()),
	}

	b.logger.Info("Simulated booking",
		slog.String("customer_name", name),
		slog.Time("appointment_time", start),
		slog.String("booking_reference", booking.Reference),
	)
	return booking
}

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Invitee struct {
			Email string `json:"email"`
			Name  string `json:"name"`
			URI   string `json:"uri"`
		} `json:"invitee"`
		Event struct {
			StartTime time.Time `json:"start_time"`
			EndTime   time.Time `json:"end_time"`
			Location  struct {
				Location string `json:"location"`
			} `json:"location"`
		} `json:"event"`
	} `json:"payload"`
}

// ParseWebhook extracts the booking from an invitee.created webhook body
func ParseWebhook(body []byte) (Booking, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Booking{}, fmt.Errorf("failed to decode webhook: %w", err)
	}
	if p.Event != EventInviteeCreated {
		return Booking{}, fmt.Errorf("%w: %q", ErrUnhandledEvent, p.Event)
	}

	return Booking{
		CustomerEmail:       p.Payload.Invitee.Email,
		CustomerName:        p.Payload.Invitee.Name,
		AppointmentTime:     p.Payload.Event.StartTime,
		AppointmentEndTime:  p.Payload.Event.EndTime,
		AppointmentLocation: p.Payload.Event.Location.Location,
		Confirmed:           true,
		Reference:           p.Payload.Invitee.URI,
	}, nil
}
