package handlers

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/registry"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

const noDescription = "No description provided"

var (
	towLocation = breakdownLocation.WithDefault(variables.String("Unknown location"))
	towMake     = vehicleMake.WithDefault(variables.String("Unknown make"))
	towModel    = vehicleModel.WithDefault(variables.String("Unknown model"))
	towFault    = faultDescription.WithDefault(variables.String(noDescription))
	towExtra    = towInfo.WithDefault(variables.String(""))
)

func describeVehicle(mk, model, fault string) string {
	details := vehicleLabel(mk, model)
	if fault != "" && fault != noDescription {
		details += " - " + fault
	}
	return details
}

// processTowRequest takes in a breakdown report and sets the towing
// priority; members are towed first.
//
// Output: towRequestProcessed, vehicleDetails, towingPriority,
// estimatedTowArrival, towRequestTimestamp, isMember.
func (h *Handlers) processTowRequest(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables

	mk := variables.ResolveString(in, vehicleMake)
	model := variables.ResolveString(in, vehicleModel)
	fault := variables.ResolveString(in, faultDescription)
	location := variables.ResolveString(in, breakdownLocation)
	extra := variables.ResolveString(in, towInfo)

	existing := variables.AnyTrue(in, keyIsMember, keySignedUp)
	joining := variables.AnyTrue(in, "becomeMember", keySigningUp)
	member := existing || joining

	priority := "Standard"
	if member {
		priority = "High"
	}
	details := describeVehicle(mk, model, fault)

	out := variables.NewBuilder().
		SetBool("towRequestProcessed", true).
		SetString(keyVehicleDetails, details).
		SetString(keyVehicleMake, mk).
		SetString(keyVehicleModel, model).
		SetString(keyFaultDescription, fault).
		SetString(keyBreakdownLocation, location).
		SetString(keyTowInfo, extra).
		SetString("towingPriority", priority).
		SetString("estimatedTowArrival", h.deps.TowArrival).
		SetNumber("towRequestTimestamp", h.millis()).
		SetBool(keyIsMember, member).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey)
	if in.Has("VehicleLocation") {
		out.SetString("VehicleLocation", location)
	}
	if in.Has("extraInfo") {
		out.SetString("extraInfo", extra)
	}
	if in.Has("extraDetails") {
		out.SetString("extraDetails", fault)
	}
	if in.Has(keySignedUp) {
		out.SetBool(keySignedUp, existing)
	}
	if in.Has(keySigningUp) {
		out.SetBool(keySigningUp, joining)
	}
	out.SetIfPresent(in, keyMembershipNumber)

	h.log(job).Info("Tow request processed",
		slog.String("vehicle_details", details),
		slog.String("breakdown_location", location),
		slog.String("priority", priority),
	)
	return registry.Result{Output: out.Build()}, nil
}

// towRequest dispatches the tow truck.
//
// Output: towRequestSent, vehicleDetails, estimatedTowArrival,
// breakdownLocation, isMember. Message: TowingRequest.
func (h *Handlers) towRequest(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables

	location := variables.ResolveString(in, towLocation)
	mk := variables.ResolveString(in, towMake)
	model := variables.ResolveString(in, towModel)
	fault := variables.ResolveString(in, towFault)
	extra := variables.ResolveString(in, towExtra)
	details := describeVehicle(mk, model, fault)
	now := h.millis()

	out := variables.NewBuilder().
		SetBool("towRequestSent", true).
		SetString("estimatedTowArrival", h.deps.TowArrival).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey).
		SetString(keyBreakdownLocation, location).
		SetString(keyVehicleDetails, details).
		SetString(keyVehicleMake, mk).
		SetString(keyVehicleModel, model).
		SetString(keyFaultDescription, fault).
		SetString(keyTowInfo, extra).
		SetBool(keyIsMember, isMember(in))
	if in.Has("VehicleLocation") {
		out.SetString("VehicleLocation", location)
	}
	if in.Has("extraDetails") {
		out.SetString("extraDetails", fault)
	}
	if in.Has("extraInfo") {
		out.SetString("extraInfo", extra)
	}
	carryCustomer(out, in)
	carryMembership(out, in)

	msg := variables.NewBuilder().
		SetBool("towRequested", true).
		SetNumber("towRequestTimestamp", now).
		SetString(keyVehicleDetails, details).
		SetString(keyBreakdownLocation, location).
		Build()

	h.log(job).Info("Tow requested",
		slog.String("vehicle_details", details),
		slog.String("breakdown_location", location),
	)
	return registry.Result{
		Output:   out.Build(),
		Messages: []domain.CorrelatedMessage{job.NewMessage(MessageTowingRequest, msg)},
	}, nil
}

// repairCompleteNotify records that the repair is finished.
//
// Output: repairCompletionProcessed, repairCompletionTimestamp, price
// fields, isMember. Message: WorksComplete.
func (h *Handlers) repairCompleteNotify(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables

	mk := variables.ResolveString(in, vehicleMake)
	model := variables.ResolveString(in, vehicleModel)
	repairCost, final := storedPrices(in)
	now := h.millis()

	out := variables.NewBuilder().
		SetBool("repairCompletionProcessed", true).
		SetNumber("repairCompletionTimestamp", now).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey).
		SetString(keyVehicleMake, mk).
		SetString(keyVehicleModel, model).
		SetString(keyCustomerName, variables.ResolveString(in, customerName)).
		SetString(keyCustomerEmail, variables.ResolveString(in, customerEmail)).
		SetBool(keyIsMember, isMember(in))
	setPrices(out, repairCost, final)
	out.SetIfPresent(in, keyMembershipNumber)

	msg := variables.NewBuilder().
		SetBool("worksCompleted", true).
		SetNumber("completionTimestamp", now).
		SetString(keyVehicleDetails, vehicleLabel(mk, model)).
		Build()

	h.log(job).Info("Repair completion recorded", slog.String("vehicle", vehicleLabel(mk, model)))
	return registry.Result{
		Output:   out.Build(),
		Messages: []domain.CorrelatedMessage{job.NewMessage(MessageWorksComplete, msg)},
	}, nil
}

// notifyWorkComplete tells reception the work is done.
//
// Output: workCompleteNotificationSent, completionTimestamp, price fields,
// isMember. Message: WorksComplete.
func (h *Handlers) notifyWorkComplete(ctx context.Context, job domain.Job) (registry.Result, error) {
	in := job.Variables

	mk := variables.ResolveString(in, vehicleMakeOrDefault)
	model := variables.ResolveString(in, vehicleModelOrDefault)
	repairCost, final := storedPrices(in)
	now := h.millis()

	out := variables.NewBuilder().
		SetBool("workCompleteNotificationSent", true).
		SetNumber("completionTimestamp", now).
		SetString(keyVehicleMake, mk).
		SetString(keyVehicleModel, model).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey).
		SetBool(keyIsMember, isMember(in))
	carryCustomer(out, in)
	setPrices(out, repairCost, final)
	carryMembership(out, in)

	msg := variables.NewBuilder().
		SetBool("workComplete", true).
		SetNumber("completionTimestamp", now).
		SetString(keyVehicleDetails, vehicleLabel(mk, model)).
		Build()

	h.log(job).Info("Reception notified of completed work", slog.String("vehicle", vehicleLabel(mk, model)))
	return registry.Result{
		Output:   out.Build(),
		Messages: []domain.CorrelatedMessage{job.NewMessage(MessageWorksComplete, msg)},
	}, nil
}
