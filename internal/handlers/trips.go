package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/registry"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

const dateOfBirthLayout = "2006-01-02"

var dateOfBirth = variables.Keys("dob")

// ageOn returns the completed years between birth and now
func ageOn(birth, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age
}

// validateTrips checks a traveller's age. Children at or below the minimum
// trip age end the happy path with the no_trip business error.
//
// Output: age, isAdult.
func (h *Handlers) validateTrips(ctx context.Context, job domain.Job) (registry.Result, error) {
	raw := strings.TrimSpace(variables.ResolveString(job.Variables, dateOfBirth))
	birth, err := time.Parse(dateOfBirthLayout, raw)
	if err != nil {
		return registry.Result{}, fmt.Errorf("%w: date of birth %q: %v", domain.ErrInvalidPayload, raw, err)
	}

	age := ageOn(birth, h.now())
	log := h.log(job)
	log.Info("Checking traveller age", slog.Int("age", age))

	if age <= h.deps.Eligibility.MinTripAge {
		return registry.Result{}, domain.NewBusinessError(
			domain.ErrorCodeNoTrip,
			fmt.Sprintf("no trip available for children aged %d or younger", h.deps.Eligibility.MinTripAge),
		)
	}

	out := variables.NewBuilder().
		SetNumber("age", float64(age)).
		SetBool("isAdult", age >= h.deps.Eligibility.AdultAge).
		Build()
	return registry.Result{Output: out}, nil
}
