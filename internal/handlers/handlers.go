// Package handlers holds the repair-shop task handlers. Each handler reads
// the job's variables, does its piece of domain work and returns the output
// variables plus any follow-up messages; the registry reports the outcome.
package handlers

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/repairshop-worker/internal/invoicing"
	"github.com/cuongbtq/repairshop-worker/internal/membership"
	"github.com/cuongbtq/repairshop-worker/internal/scheduling"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/metrics"
	"github.com/cuongbtq/repairshop-worker/internal/worker/registry"
	"github.com/cuongbtq/repairshop-worker/internal/worker/storage"
)

// Task types
const (
	TaskInitialCostCheck       = "InitialCostCheck"
	TaskCheckMembership        = "CheckMembership"
	TaskCalculateFinalPrice    = "CalculateFinalPrice"
	TaskFinalQuote             = "FinalQuote"
	TaskInformCustomerInitCost = "inform-customer-init-cost"
	TaskNotifyReceptionCosting = "notify-reception-costing"
	TaskProcessApproval        = "process-approval"
	TaskProcessSatisfaction    = "process-satisfaction"
	TaskStripeInvoice          = "stripe-invoice"
	TaskNotifyBookAppointment  = "NotifyBookAppointment"
	TaskOfferCollectionTimes   = "OfferCollectionTimes"
	TaskArrangeCollection      = "ArrangeCollection"
	TaskProcessBooking         = "process-booking"
	TaskProcessTowRequest      = "process-tow-request"
	TaskTowRequest             = "TowRequest"
	TaskRepairCompleteNotify   = "repair-complete-notify"
	TaskNotifyWorkComplete     = "NotifyWorkComplete"
	TaskValidateTrips          = "validateTrips"
)

// Message names the process model waits on
const (
	MessageReceiveInitialCost = "ReceiveInitialCost"
	MessageTowingRequest      = "TowingRequest"
	MessageApproval           = "Approval"
	MessageWorksComplete      = "WorksComplete"
	MessageQuoteNotification  = "QuoteNotification"
	MessageCollectionArranged = "CollectionArranged"
	MessageInvoiceGenerated   = "InvoiceGenerated"
)

// Pricing holds the shop's price rules
type Pricing struct {
	Deposit               float64
	MemberDiscountPercent float64
	DefaultRepairCost     float64
}

// Eligibility holds the age rules for trips
type Eligibility struct {
	MinTripAge int
	AdultAge   int
}

// Deps are the collaborators and settings the handlers need
type Deps struct {
	Ledger      membership.Ledger
	Policy      membership.InvalidNumberPolicy
	Invoicing   *invoicing.Service
	Store       storage.Store
	Links       *scheduling.LinkBuilder
	Pricing     Pricing
	Eligibility Eligibility
	// TowArrival is the arrival estimate quoted to customers
	TowArrival string
	Logger     *slog.Logger
	Metrics    *metrics.Counters
	// Now defaults to time.Now
	Now func() time.Time
}

// Handlers implements every repair-shop task type
type Handlers struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New creates the handler set
func New(deps *Deps) *Handlers {
	d := *deps
	if d.Policy == "" {
		d.Policy = membership.PolicyProceed
	}
	if d.Pricing.Deposit == 0 {
		d.Pricing.Deposit = 150
	}
	if d.Pricing.MemberDiscountPercent == 0 {
		d.Pricing.MemberDiscountPercent = 10
	}
	if d.Pricing.DefaultRepairCost == 0 {
		d.Pricing.DefaultRepairCost = 500
	}
	if d.Eligibility.MinTripAge == 0 {
		d.Eligibility.MinTripAge = 3
	}
	if d.Eligibility.AdultAge == 0 {
		d.Eligibility.AdultAge = 18
	}
	if d.TowArrival == "" {
		d.TowArrival = "Within 60 minutes"
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	now := d.Now
	if now == nil {
		now = time.Now
	}

	return &Handlers{
		deps:   d,
		logger: d.Logger,
		now:    now,
	}
}

type route struct {
	taskType string
	handle   registry.HandlerFunc
}

func (h *Handlers) routes() []route {
	return []route{
		{TaskInitialCostCheck, h.initialCostCheck},
		{TaskCheckMembership, h.checkMembership},
		{TaskCalculateFinalPrice, h.calculateFinalPrice},
		{TaskFinalQuote, h.finalQuote},
		{TaskInformCustomerInitCost, h.informCustomerInitialCost},
		{TaskNotifyReceptionCosting, h.notifyReceptionCosting},
		{TaskProcessApproval, h.processApproval},
		{TaskProcessSatisfaction, h.processSatisfaction},
		{TaskStripeInvoice, h.stripeInvoice},
		{TaskNotifyBookAppointment, h.notifyBookAppointment},
		{TaskOfferCollectionTimes, h.offerCollectionTimes},
		{TaskArrangeCollection, h.arrangeCollection},
		{TaskProcessBooking, h.processBooking},
		{TaskProcessTowRequest, h.processTowRequest},
		{TaskTowRequest, h.towRequest},
		{TaskRepairCompleteNotify, h.repairCompleteNotify},
		{TaskNotifyWorkComplete, h.notifyWorkComplete},
		{TaskValidateTrips, h.validateTrips},
	}
}

// Register binds every task type to its handler
func (h *Handlers) Register(reg *registry.Registry) error {
	for _, r := range h.routes() {
		if err := reg.Register(r.taskType, r.handle); err != nil {
			return fmt.Errorf("failed to register %s: %w", r.taskType, err)
		}
	}
	return nil
}

// TaskTypes lists the task types Register binds
func (h *Handlers) TaskTypes() []string {
	routes := h.routes()
	types := make([]string, len(routes))
	for i, r := range routes {
		types[i] = r.taskType
	}
	return types
}

func (h *Handlers) log(job domain.Job) *slog.Logger {
	return h.logger.With(
		slog.String("job_key", job.Key),
		slog.String("task_type", job.Type),
	)
}

func (h *Handlers) millis() float64 {
	return float64(h.now().UnixMilli())
}
