package handlers

import (
	"fmt"
	"math"

	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

// Canonical variable names
const (
	keyCustomerName       = "customerName"
	keyCustomerEmail      = "customerEmail"
	keyVehicleMake        = "VehicleMake"
	keyVehicleModel       = "VehicleModel"
	keyFaultDescription   = "DescriptionOfFault"
	keyBreakdownLocation  = "breakdownLocation"
	keyTowInfo            = "towInfoAdditional"
	keyIsMember           = "isMember"
	keySignedUp           = "SignedUp"
	keySigningUp          = "SigningUp"
	keyMemberCheck        = "MemberCheck"
	keyMembershipNumber   = "MembershipNumber"
	keyDepositAmount      = "depositAmount"
	keyRepairCost         = "repairCost"
	keyRepairCosts        = "RepairCosts"
	keyFinalPrice         = "finalPrice"
	keyTotalPrice         = "TotalPrice"
	keyFormattedPrice     = "formattedFinalPrice"
	keyProcessInstanceKey = "processInstanceKey"
	keyVehicleDetails     = "vehicleDetails"
)

var (
	customerName      = variables.Keys(keyCustomerName, "CustomerName", "name")
	customerEmail     = variables.Keys(keyCustomerEmail, "CustomerEmail", "email")
	vehicleMake       = variables.Keys(keyVehicleMake, "vehicleMake", "Make")
	vehicleModel      = variables.Keys(keyVehicleModel, "vehicleModel", "Model")
	faultDescription  = variables.Keys(keyFaultDescription, "extraDetails", "faultDescription", "description")
	breakdownLocation = variables.Keys(keyBreakdownLocation, "VehicleLocation", "vehicleLocation", "location")
	towInfo           = variables.Keys(keyTowInfo, "extraInfo", "additionalInfo", "towInfo")
	membershipNumber  = variables.Keys(keyMembershipNumber)
	depositAmount     = variables.Keys(keyDepositAmount)

	// form input first, then the value an earlier task stored
	repairCostFromForm = variables.Keys(keyRepairCosts, keyRepairCost)
	// stored value first, then the form input
	repairCostFromState = variables.Keys(keyRepairCost, keyRepairCosts)
	finalPrice          = variables.Keys(keyFinalPrice, keyTotalPrice)
)

// Legacy specs for customer-facing text: the last candidate is also the
// literal used when nothing matched.
var (
	customerNameOrDefault  = variables.KeysWithTrailingDefault(keyCustomerName, "CustomerName", "name", "Customer")
	customerEmailOrDefault = variables.KeysWithTrailingDefault(keyCustomerEmail, "CustomerEmail", "email", "customer@example.com")
	vehicleMakeOrDefault   = variables.KeysWithTrailingDefault(keyVehicleMake, "vehicleMake", "Make", "Vehicle")
	vehicleModelOrDefault  = variables.KeysWithTrailingDefault(keyVehicleModel, "vehicleModel", "Model")
	faultOrDefault         = variables.KeysWithTrailingDefault(keyFaultDescription, "extraDetails", "faultDescription", "Repair services")
)

// isMember reports the overall membership status
func isMember(in variables.Bag) bool {
	return variables.AnyTrue(in, keyIsMember, keySignedUp, keySigningUp)
}

// carryCustomer copies the customer fields that resolved, under their
// canonical names and under any legacy name the input used
func carryCustomer(out *variables.Builder, in variables.Bag) {
	if name, ok := variables.LookupString(in, customerName); ok {
		out.SetString(keyCustomerName, name)
		if in.Has("CustomerName") {
			out.SetString("CustomerName", name)
		}
	}
	if email, ok := variables.LookupString(in, customerEmail); ok {
		out.SetString(keyCustomerEmail, email)
		if in.Has("CustomerEmail") {
			out.SetString("CustomerEmail", email)
		}
	}
}

// carryVehicle copies the vehicle and breakdown fields that resolved
func carryVehicle(out *variables.Builder, in variables.Bag) {
	if mk, ok := variables.LookupString(in, vehicleMake); ok {
		out.SetString(keyVehicleMake, mk)
		if in.Has("vehicleMake") {
			out.SetString("vehicleMake", mk)
		}
	}
	if model, ok := variables.LookupString(in, vehicleModel); ok {
		out.SetString(keyVehicleModel, model)
		if in.Has("vehicleModel") {
			out.SetString("vehicleModel", model)
		}
	}
	if fault, ok := variables.LookupString(in, faultDescription); ok {
		out.SetString(keyFaultDescription, fault)
		for _, legacy := range []string{"faultDescription", "extraDetails"} {
			if in.Has(legacy) {
				out.SetString(legacy, fault)
			}
		}
	}
	if loc, ok := variables.LookupString(in, breakdownLocation); ok {
		out.SetString(keyBreakdownLocation, loc)
		if in.Has("VehicleLocation") {
			out.SetString("VehicleLocation", loc)
		}
	}
	if info, ok := variables.LookupString(in, variables.Keys("towInfoAdditional", "extraInfo")); ok {
		out.SetString("extraInfo", info)
	}
	out.SetIfPresent(in, "Breakdown")
}

// carryMembership copies the raw membership flags and number when present
func carryMembership(out *variables.Builder, in variables.Bag) {
	out.SetIfPresent(in, keySignedUp)
	out.SetIfPresent(in, keySigningUp)
	out.SetIfPresent(in, keyMembershipNumber)
}

// setPrices writes the cost fields under both of their names
func setPrices(out *variables.Builder, repairCost, final float64) {
	out.SetNumber(keyRepairCost, repairCost)
	out.SetNumber(keyRepairCosts, repairCost)
	out.SetNumber(keyFinalPrice, final)
	out.SetNumber(keyTotalPrice, final)
}

// storedPrices resolves the repair cost and the final price an earlier
// task computed, falling back to the repair cost
func storedPrices(in variables.Bag) (repairCost, final float64) {
	repairCost = variables.ResolveNumber(in, repairCostFromForm)
	final = variables.ResolveNumber(in, finalPrice.WithDefault(variables.Number(repairCost)))
	return repairCost, final
}

// discounted applies the member discount and rounds to whole pence
func discounted(cost, percent float64) float64 {
	return roundCents(cost * (1 - percent/100))
}

func roundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}

func formatPrice(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

func vehicleLabel(mk, model string) string {
	switch {
	case mk == "":
		return model
	case model == "":
		return mk
	default:
		return mk + " " + model
	}
}
