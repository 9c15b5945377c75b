package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/repairshop-worker/internal/membership"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/registry"
	"github.com/cuongbtq/repairshop-worker/internal/worker/storage"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

var errNoLedger = errors.New("membership ledger not configured")

// verifyMember checks the membership number of a customer who says they are
// a member. Under the reject policy an invalid number is a business error.
func (h *Handlers) verifyMember(ctx context.Context, in variables.Bag) (string, bool, error) {
	if h.deps.Ledger == nil {
		return "", false, errNoLedger
	}

	number := variables.ResolveString(in, membershipNumber)
	valid := false
	if number != "" {
		ok, err := h.deps.Ledger.Validate(ctx, number)
		if err != nil {
			return number, false, fmt.Errorf("failed to validate membership number: %w", err)
		}
		valid = ok
	}

	if !valid && h.deps.Policy == membership.PolicyReject {
		return number, false, domain.NewBusinessError(
			domain.ErrorCodeInvalidMembershipNumber,
			fmt.Sprintf("membership number %q is not valid", number),
		)
	}
	return number, valid, nil
}

// initialCostCheck sets the deposit and checks the membership claims made on
// the intake form.
//
// Output: depositAmount, MemberCheck, SignedUp, SigningUp, isMember,
// processInstanceKey, plus customer and vehicle fields.
func (h *Handlers) initialCostCheck(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables
	log := h.log(job)

	existing := variables.AnyTrue(in, keySignedUp)
	joining := variables.AnyTrue(in, keySigningUp)

	memberCheck := true
	number := ""
	if existing {
		var err error
		number, memberCheck, err = h.verifyMember(ctx, in)
		if err != nil {
			return registry.Result{}, err
		}
		if !memberCheck {
			log.Warn("Invalid membership number", slog.String("membership_number", number))
		}
	}

	member := (existing && memberCheck) || joining
	deposit := h.deps.Pricing.Deposit

	out := variables.NewBuilder().
		SetNumber(keyDepositAmount, deposit).
		SetBool(keyMemberCheck, memberCheck).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey).
		SetBool(keySignedUp, existing).
		SetBool(keySigningUp, joining).
		SetBool(keyIsMember, member)
	if existing && memberCheck {
		out.SetString(keyMembershipNumber, number)
	}
	carryVehicle(out, in)
	carryCustomer(out, in)

	log.Info("Deposit calculated",
		slog.String("deposit", formatPrice(deposit)),
		slog.Bool("member_check", memberCheck),
		slog.Bool("is_member", member),
	)
	return registry.Result{Output: out.Build()}, nil
}

// checkMembership validates an existing member or signs up a new one. The
// sign-up is stored by job key so a redelivered job reuses the number it
// was given the first time.
//
// Output: MemberCheck, isMember, SignedUp, SigningUp, plus MembershipNumber on
// sign-up or a valid number.
func (h *Handlers) checkMembership(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables
	log := h.log(job)

	existing := variables.AnyTrue(in, keySignedUp)
	joining := variables.AnyTrue(in, keySigningUp)
	name := variables.ResolveString(in, customerName)

	out := variables.NewBuilder()

	switch {
	case joining:
		rec, err := h.signUp(ctx, job, name)
		if err != nil {
			return registry.Result{}, err
		}
		out.SetBool(keyMemberCheck, true).
			SetBool(keyIsMember, true).
			SetString(keyMembershipNumber, rec.Number).
			SetBool(keySignedUp, false).
			SetBool(keySigningUp, true)
		log.Info("Member signed up", slog.String("membership_number", rec.Number))

	case existing:
		number, valid, err := h.verifyMember(ctx, in)
		if err != nil {
			return registry.Result{}, err
		}
		out.SetBool(keyMemberCheck, valid).
			SetBool(keyIsMember, valid).
			SetBool(keySignedUp, valid).
			SetBool(keySigningUp, false)
		if valid {
			out.SetString(keyMembershipNumber, number)
		} else {
			log.Warn("Invalid membership number", slog.String("membership_number", number))
		}

	default:
		out.SetBool(keyMemberCheck, true).
			SetBool(keyIsMember, false).
			SetBool(keySignedUp, false).
			SetBool(keySigningUp, false)
	}

	carryVehicle(out, in)
	carryCustomer(out, in)
	return registry.Result{Output: out.Build()}, nil
}

func (h *Handlers) signUp(ctx context.Context, job domain.Job, name string) (membership.Record, error) {
	if h.deps.Ledger == nil {
		return membership.Record{}, errNoLedger
	}
	register := func(ctx context.Context) (membership.Record, error) {
		return h.deps.Ledger.Register(ctx, name)
	}
	if h.deps.Store == nil {
		return register(ctx)
	}

	rec, reused, err := storage.Remember(ctx, h.deps.Store, storage.Key(job.Key, "membership"), job.Key, register)
	if err != nil {
		return membership.Record{}, fmt.Errorf("failed to register member: %w", err)
	}
	if reused {
		h.deps.Metrics.SideEffectReused()
		h.log(job).Info("Membership side effect reused", slog.String("membership_number", rec.Number))
	}
	return rec, nil
}

// calculateFinalPrice applies the member discount to the repair cost.
//
// Output: finalPrice, TotalPrice, formattedFinalPrice, repairCost,
// RepairCosts, discountApplied, discountPercentage, isMember.
func (h *Handlers) calculateFinalPrice(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables

	cost := variables.ResolveNumber(in, repairCostFromForm.WithDefault(variables.Number(h.deps.Pricing.DefaultRepairCost)))
	member := isMember(in)

	percent := 0.0
	if member {
		percent = h.deps.Pricing.MemberDiscountPercent
	}
	final := discounted(cost, percent)

	out := variables.NewBuilder()
	setPrices(out, cost, final)
	out.SetString(keyFormattedPrice, formatPrice(final)).
		SetBool("discountApplied", member).
		SetNumber("discountPercentage", percent).
		SetBool(keyIsMember, member).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey)
	carryMembership(out, in)
	carryVehicle(out, in)
	carryCustomer(out, in)

	h.log(job).Info("Final price calculated",
		slog.String("repair_cost", formatPrice(cost)),
		slog.Float64("discount_percentage", percent),
		slog.String("final_price", formatPrice(final)),
	)
	return registry.Result{Output: out.Build()}, nil
}

// finalQuote sends the quote, computing the price when no earlier task did.
//
// Output: quoteSent, quoteTimestamp, finalPrice, TotalPrice, repairCost,
// RepairCosts, formattedFinalPrice, isMember. Message: QuoteNotification.
func (h *Handlers) finalQuote(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables

	cost := variables.ResolveNumber(in, repairCostFromForm.WithDefault(variables.Number(h.deps.Pricing.DefaultRepairCost)))
	member := isMember(in)

	final := variables.ResolveNumber(in, variables.Keys(keyFinalPrice))
	if final < 0.01 {
		percent := 0.0
		if member {
			percent = h.deps.Pricing.MemberDiscountPercent
		}
		final = discounted(cost, percent)
	}
	formatted := formatPrice(final)
	now := h.millis()

	out := variables.NewBuilder().
		SetBool("quoteSent", true).
		SetNumber("quoteTimestamp", now).
		SetString(keyVehicleMake, variables.ResolveString(in, vehicleMakeOrDefault)).
		SetString(keyVehicleModel, variables.ResolveString(in, vehicleModelOrDefault)).
		SetString(keyCustomerName, variables.ResolveString(in, customerNameOrDefault)).
		SetString(keyCustomerEmail, variables.ResolveString(in, customerEmailOrDefault))
	setPrices(out, cost, final)
	out.SetString(keyFormattedPrice, formatted).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey).
		SetBool(keyIsMember, member)
	carryMembership(out, in)

	msg := variables.NewBuilder().
		SetNumber(keyFinalPrice, final).
		SetNumber(keyTotalPrice, final).
		SetString("formattedPrice", formatted).
		SetBool("quoteSent", true).
		SetNumber("quoteTimestamp", now).
		Build()

	h.log(job).Info("Final quote sent", slog.String("final_price", formatted))
	return registry.Result{
		Output:   out.Build(),
		Messages: []domain.CorrelatedMessage{job.NewMessage(MessageQuoteNotification, msg)},
	}, nil
}

// informCustomerInitialCost tells the customer the deposit and signals that
// the initial cost was received.
//
// Output: initialCostNotified, initialCostTimestamp, depositAmount, isMember.
// Message: ReceiveInitialCost.
func (h *Handlers) informCustomerInitialCost(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables

	deposit := variables.ResolveNumber(in, depositAmount)
	now := h.millis()

	out := variables.NewBuilder().
		SetBool("initialCostNotified", true).
		SetNumber("initialCostTimestamp", now).
		SetNumber(keyDepositAmount, deposit).
		SetBool(keyIsMember, isMember(in)).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey)
	carryMembership(out, in)
	carryVehicle(out, in)
	carryCustomer(out, in)

	msg := variables.NewBuilder().
		SetNumber(keyDepositAmount, deposit).
		SetNumber("paymentTimestamp", now).
		SetBool("initialCostReceived", true).
		Build()

	h.log(job).Info("Customer informed of initial cost",
		slog.String("customer_name", variables.ResolveString(in, customerName)),
		slog.String("deposit", formatPrice(deposit)),
	)
	return registry.Result{
		Output:   out.Build(),
		Messages: []domain.CorrelatedMessage{job.NewMessage(MessageReceiveInitialCost, msg)},
	}, nil
}

// notifyReceptionCosting tells reception what the repair will cost.
//
// Output: repairCostingNotified, costingTimestamp, repairCost, RepairCosts,
// isMember.
func (h *Handlers) notifyReceptionCosting(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables

	cost := variables.ResolveNumber(in, repairCostFromState.WithDefault(variables.Number(h.deps.Pricing.DefaultRepairCost)))

	out := variables.NewBuilder().
		SetNumber(keyRepairCost, cost).
		SetNumber(keyRepairCosts, cost).
		SetBool("repairCostingNotified", true).
		SetNumber("costingTimestamp", h.millis()).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey).
		SetBool(keyIsMember, isMember(in))
	out.SetIfPresent(in, keyMembershipNumber)
	carryVehicle(out, in)
	carryCustomer(out, in)

	h.log(job).Info("Reception notified of repair cost",
		slog.String("vehicle", vehicleLabel(variables.ResolveString(in, vehicleMake), variables.ResolveString(in, vehicleModel))),
		slog.String("repair_cost", formatPrice(cost)),
	)
	return registry.Result{Output: out.Build()}, nil
}
