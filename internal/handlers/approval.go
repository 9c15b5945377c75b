package handlers

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/registry"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

var (
	approvalFlags     = variables.Keys("Approved", "approved", "approval")
	satisfactionFlags = variables.Keys("Satisfied", "satisfied", "customerSatisfied")
)

// quoteApproved reads the approval form. The form value may be a boolean or
// the string "true"; older forms used plain boolean fields.
func quoteApproved(in variables.Bag) bool {
	if v, ok := in.Get("QuoteApprovalForm"); ok {
		switch v.Kind() {
		case variables.KindBool:
			b, _ := v.Truth()
			return b
		case variables.KindString:
			s, _ := v.Text()
			return s == "true"
		default:
			return false
		}
	}
	return variables.AnyTrue(in, approvalFlags.Candidates()...)
}

// customerSatisfied reads the satisfaction radio buttons, falling back to
// boolean fields
func customerSatisfied(in variables.Bag) bool {
	if v, ok := in.Get("CustomerSatisfactionForm"); ok {
		s, _ := v.Text()
		return s == "Satisfied"
	}
	return variables.AnyTrue(in, satisfactionFlags.Candidates()...)
}

// processApproval records whether the customer accepted the quote.
//
// Output: QuoteApproved, formattedFinalPrice, finalPrice, TotalPrice,
// repairCost, RepairCosts, isMember. Message: Approval.
func (h *Handlers) processApproval(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables
	approved := quoteApproved(in)
	repairCost, final := storedPrices(in)

	out := variables.NewBuilder().
		SetBool("QuoteApproved", approved).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey)
	if in.Has("Approved") {
		out.SetBool("Approved", approved)
	}
	setPrices(out, repairCost, final)
	if v, ok := in.Get(keyFormattedPrice); ok {
		out.Set(keyFormattedPrice, v)
	} else {
		out.SetString(keyFormattedPrice, formatPrice(final))
	}
	out.SetBool(keyIsMember, isMember(in))
	carryMembership(out, in)
	carryVehicle(out, in)
	carryCustomer(out, in)

	msg := variables.NewBuilder().
		SetBool("QuoteApproved", approved).
		SetNumber("approvalTimestamp", h.millis()).
		Build()

	h.log(job).Info("Quote approval processed", slog.Bool("approved", approved))
	return registry.Result{
		Output:   out.Build(),
		Messages: []domain.CorrelatedMessage{job.NewMessage(MessageApproval, msg)},
	}, nil
}

// processSatisfaction records the customer's satisfaction answer.
//
// Output: CustomerSatisfied, customerSatisfied, plus customer, vehicle and
// price fields.
func (h *Handlers) processSatisfaction(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables
	satisfied := customerSatisfied(in)
	repairCost, final := storedPrices(in)

	out := variables.NewBuilder().
		SetBool("CustomerSatisfied", satisfied).
		SetBool("customerSatisfied", satisfied).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey).
		SetString(keyVehicleMake, variables.ResolveString(in, vehicleMakeOrDefault)).
		SetString(keyVehicleModel, variables.ResolveString(in, vehicleModelOrDefault)).
		SetString(keyCustomerName, variables.ResolveString(in, customerNameOrDefault)).
		SetString(keyCustomerEmail, variables.ResolveString(in, customerEmailOrDefault))
	setPrices(out, repairCost, final)
	out.SetIfPresent(in, keyIsMember)
	carryMembership(out, in)

	h.log(job).Info("Satisfaction processed", slog.Bool("satisfied", satisfied))
	return registry.Result{Output: out.Build()}, nil
}
