package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/registry"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

var errNoLinks = errors.New("scheduling links not configured")

// Booking reasons shown on the booking page
const (
	reasonAfterRepair   = "Vehicle collection after repair"
	reasonWithoutRepair = "Vehicle collection without repair"
	reasonCollection    = "Vehicle collection"
)

const (
	keyBookingLink       = "bookingLink"
	keyNotificationSent  = "notificationSent"
	keyBookingConfirmed  = "bookingConfirmed"
	keyAppointmentTime   = "appointmentTime"
	keyBookingReference  = "bookingReference"
	keyAppointmentEnd    = "appointmentEndTime"
	keyCollectionOffered = "collectionTimesOffered"
)

// bookingContext is the customer and vehicle a booking is for
type bookingContext struct {
	name, email, make, model string
}

func resolveBooking(in variables.Bag) bookingContext {
	return bookingContext{
		name:  variables.ResolveString(in, customerNameOrDefault),
		email: variables.ResolveString(in, customerEmailOrDefault),
		make:  variables.ResolveString(in, vehicleMakeOrDefault),
		model: variables.ResolveString(in, vehicleModelOrDefault),
	}
}

func (b bookingContext) set(out *variables.Builder) {
	out.SetString(keyVehicleMake, b.make).
		SetString(keyVehicleModel, b.model).
		SetString(keyCustomerName, b.name).
		SetString(keyCustomerEmail, b.email)
}

func (h *Handlers) bookingLink(b bookingContext, reason string) (string, error) {
	if h.deps.Links == nil {
		return "", errNoLinks
	}
	return h.deps.Links.CreateBookingLink(b.email, b.name, b.make+" "+b.model, reason), nil
}

// notifyBookAppointment sends the collection booking link once the repair
// is done.
//
// Output: bookingLink, notificationSent, notificationTimestamp, price fields.
func (h *Handlers) notifyBookAppointment(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables
	b := resolveBooking(in)

	link, err := h.bookingLink(b, reasonAfterRepair)
	if err != nil {
		return registry.Result{}, err
	}
	repairCost, final := storedPrices(in)

	out := variables.NewBuilder().
		SetString(keyBookingLink, link).
		SetBool(keyNotificationSent, true).
		SetNumber("notificationTimestamp", h.millis()).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey)
	b.set(out)
	setPrices(out, repairCost, final)
	out.SetIfPresent(in, keyIsMember)
	out.SetIfPresent(in, keyMembershipNumber)

	h.log(job).Info("Booking link sent", slog.String("customer_email", b.email))
	return registry.Result{Output: out.Build()}, nil
}

// offerCollectionTimes sends the booking link when the quote was declined.
//
// Output: bookingLink, collectionTimesOffered, price fields.
func (h *Handlers) offerCollectionTimes(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables
	b := resolveBooking(in)

	link, err := h.bookingLink(b, reasonWithoutRepair)
	if err != nil {
		return registry.Result{}, err
	}
	repairCost, final := storedPrices(in)

	out := variables.NewBuilder().
		SetString(keyBookingLink, link).
		SetBool(keyCollectionOffered, true).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey)
	b.set(out)
	setPrices(out, repairCost, final)
	out.SetIfPresent(in, keyIsMember)
	carryMembership(out, in)

	h.log(job).Info("Collection times offered", slog.String("customer_email", b.email))
	return registry.Result{Output: out.Build()}, nil
}

// arrangeCollection sends the booking link and signals the waiting branch.
//
// Output: bookingLink, notificationSent, isMember, price fields.
// Message: CollectionArranged.
func (h *Handlers) arrangeCollection(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables
	b := resolveBooking(in)

	link, err := h.bookingLink(b, reasonCollection)
	if err != nil {
		return registry.Result{}, err
	}
	repairCost, final := storedPrices(in)

	out := variables.NewBuilder().
		SetString(keyBookingLink, link).
		SetBool(keyNotificationSent, true).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey).
		SetBool(keyIsMember, isMember(in))
	b.set(out)
	setPrices(out, repairCost, final)
	out.SetIfPresent(in, keyMembershipNumber)

	msg := variables.NewBuilder().
		SetString(keyBookingLink, link).
		SetBool("collectionArranged", true).
		SetNumber("arrangedTimestamp", h.millis()).
		Build()

	h.log(job).Info("Collection arranged", slog.String("customer_email", b.email))
	return registry.Result{
		Output:   out.Build(),
		Messages: []domain.CorrelatedMessage{job.NewMessage(MessageCollectionArranged, msg)},
	}, nil
}

// processBooking records the booked appointment. Booking details delivered
// by the booking webhook are kept; without them a booking is simulated.
//
// Output: bookingConfirmed, appointmentTime, bookingReference, isMember,
// price fields.
func (h *Handlers) processBooking(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables
	b := resolveBooking(in)
	log := h.log(job)

	out := variables.NewBuilder()
	if variables.AnyTrue(in, keyBookingConfirmed) {
		log.Info("Using booking details from webhook")
		out.SetBool(keyBookingConfirmed, true)
		out.SetIfPresent(in, keyAppointmentTime)
		out.SetIfPresent(in, keyBookingReference)
	} else {
		if h.deps.Links == nil {
			return registry.Result{}, errNoLinks
		}
		log.Info("No booking details found, simulating booking")
		booking := h.deps.Links.SimulateBooking(b.email, b.name)
		out.SetBool(keyBookingConfirmed, booking.Confirmed).
			SetString(keyAppointmentTime, booking.AppointmentTime.Format(time.RFC3339)).
			SetString(keyAppointmentEnd, booking.AppointmentEndTime.Format(time.RFC3339)).
			SetString(keyBookingReference, booking.Reference)
	}

	repairCost, final := storedPrices(in)
	b.set(out)
	out.SetString(keyProcessInstanceKey, job.ProcessInstanceKey).
		SetBool(keyIsMember, isMember(in))
	setPrices(out, repairCost, final)
	carryMembership(out, in)

	return registry.Result{Output: out.Build()}, nil
}
