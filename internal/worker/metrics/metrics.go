// Package metrics keeps the worker's outcome and correlation counters.
package metrics

import (
	"sync/atomic"

	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
)

// Counters is safe for concurrent use. The zero value is ready to use.
type Counters struct {
	received              atomic.Int64
	completed             atomic.Int64
	failed                atomic.Int64
	businessErrors        atomic.Int64
	reportErrors          atomic.Int64
	staleReports          atomic.Int64
	correlationsPublished atomic.Int64
	correlationMisses     atomic.Int64
	correlationErrors     atomic.Int64
	sideEffectsReused     atomic.Int64
	inFlight              atomic.Int64
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Received              int64 `json:"received"`
	Completed             int64 `json:"completed"`
	Failed                int64 `json:"failed"`
	BusinessErrors        int64 `json:"business_errors"`
	ReportErrors          int64 `json:"report_errors"`
	StaleReports          int64 `json:"stale_reports"`
	CorrelationsPublished int64 `json:"correlations_published"`
	CorrelationMisses     int64 `json:"correlation_misses"`
	CorrelationErrors     int64 `json:"correlation_errors"`
	SideEffectsReused     int64 `json:"side_effects_reused"`
	InFlight              int64 `json:"in_flight"`
}

// New creates a counter set
func New() *Counters {
	return &Counters{}
}

// JobStarted records a job handed to a handler
func (c *Counters) JobStarted() {
	c.received.Add(1)
	c.inFlight.Add(1)
}

// JobFinished records a job leaving the worker
func (c *Counters) JobFinished() {
	c.inFlight.Add(-1)
}

// OutcomeReported records an outcome accepted by the engine
func (c *Counters) OutcomeReported(kind domain.OutcomeKind) {
	switch kind {
	case domain.OutcomeCompleted:
		c.completed.Add(1)
	case domain.OutcomeFailed:
		c.failed.Add(1)
	case domain.OutcomeBusinessError:
		c.businessErrors.Add(1)
	}
}

// ReportError records an outcome the engine did not acknowledge
func (c *Counters) ReportError() { c.reportErrors.Add(1) }

// StaleReport records an outcome rejected because the job was no longer active
func (c *Counters) StaleReport() { c.staleReports.Add(1) }

// CorrelationPublished records a delivered message
func (c *Counters) CorrelationPublished() { c.correlationsPublished.Add(1) }

// CorrelationMiss records a message that found no waiting instance
func (c *Counters) CorrelationMiss() { c.correlationMisses.Add(1) }

// CorrelationError records a message lost to transport errors
func (c *Counters) CorrelationError() { c.correlationErrors.Add(1) }

// SideEffectReused records an external side effect served from the idempotency store
func (c *Counters) SideEffectReused() { c.sideEffectsReused.Add(1) }

// Snapshot returns the current values
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Received:              c.received.Load(),
		Completed:             c.completed.Load(),
		Failed:                c.failed.Load(),
		BusinessErrors:        c.businessErrors.Load(),
		ReportErrors:          c.reportErrors.Load(),
		StaleReports:          c.staleReports.Load(),
		CorrelationsPublished: c.correlationsPublished.Load(),
		CorrelationMisses:     c.correlationMisses.Load(),
		CorrelationErrors:     c.correlationErrors.Load(),
		SideEffectsReused:     c.sideEffectsReused.Load(),
		InFlight:              c.inFlight.Load(),
	}
}
