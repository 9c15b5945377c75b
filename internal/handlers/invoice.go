package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/repairshop-worker/internal/invoicing"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/registry"
	"github.com/cuongbtq/repairshop-worker/internal/worker/storage"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
)

var errNoInvoicing = errors.New("invoicing not configured")

// issuedInvoice is what the idempotency store keeps for an invoice
type issuedInvoice struct {
	Invoice  invoicing.Invoice `json:"invoice"`
	IssuedAt int64             `json:"issuedAt"`
}

// stripeInvoice issues the invoice for the final price. The invoice is
// stored under a key derived from the job key, and the same key is sent to
// the provider, so a redelivered job never invoices twice.
//
// Output: invoiceGenerated, invoiceId, invoiceUrl, invoicePdf, invoiceStatus,
// invoiceTimestamp, formattedInvoiceAmount, price, customer and vehicle
// fields. Message: InvoiceGenerated.
func (h *Handlers) stripeInvoice(ctx context.Context, job domain.Job) (registry.Result, error) {
	if h.deps.Invoicing == nil {
		return registry.Result{}, errNoInvoicing
	}
	in := job.Variables
	log := h.log(job)

	repairCost := variables.ResolveNumber(in, repairCostFromState)
	final := variables.ResolveNumber(in, finalPrice.WithDefault(variables.Number(repairCost)))
	if final < 0.01 && repairCost > 0 {
		final = repairCost
	}
	formatted := formatPrice(final)

	name := variables.ResolveString(in, customerNameOrDefault)
	email := variables.ResolveString(in, customerEmailOrDefault)
	mk := variables.ResolveString(in, vehicleMakeOrDefault)
	model := variables.ResolveString(in, vehicleModelOrDefault)
	fault := variables.ResolveString(in, faultOrDefault)

	description := "Auto Repair Services"
	if fault != "" {
		description += " - " + fault
	}

	key := storage.Key(job.Key, "invoice")
	issue := func(ctx context.Context) (issuedInvoice, error) {
		inv, err := h.deps.Invoicing.Issue(ctx, invoicing.Request{
			IdempotencyKey: key,
			CustomerEmail:  email,
			CustomerName:   name,
			Description:    description,
			VehicleDetails: mk + " " + model,
			Amount:         final,
		})
		if err != nil {
			return issuedInvoice{}, err
		}
		return issuedInvoice{Invoice: inv, IssuedAt: h.now().UnixMilli()}, nil
	}

	var issued issuedInvoice
	if h.deps.Store != nil {
		var reused bool
		var err error
		issued, reused, err = storage.Remember(ctx, h.deps.Store, key, job.Key, issue)
		if err != nil {
			return registry.Result{}, fmt.Errorf("failed to issue invoice: %w", err)
		}
		if reused {
			h.deps.Metrics.SideEffectReused()
			log.Info("Invoice side effect reused", slog.String("invoice_id", issued.Invoice.ID))
		}
	} else {
		var err error
		if issued, err = issue(ctx); err != nil {
			return registry.Result{}, fmt.Errorf("failed to issue invoice: %w", err)
		}
	}
	inv := issued.Invoice

	out := variables.NewBuilder().
		SetBool("invoiceGenerated", true).
		SetString("invoiceId", inv.ID).
		SetString("invoiceUrl", inv.HostedURL).
		SetString("invoicePdf", inv.PDFURL).
		SetString("invoiceStatus", string(inv.Status)).
		SetNumber("invoiceTimestamp", float64(issued.IssuedAt)).
		SetString("formattedInvoiceAmount", formatted).
		SetString(keyCustomerName, name).
		SetString(keyCustomerEmail, email).
		SetString(keyVehicleMake, mk).
		SetString(keyVehicleModel, model).
		SetString(keyFaultDescription, fault).
		SetString(keyProcessInstanceKey, job.ProcessInstanceKey).
		SetBool(keyIsMember, isMember(in))
	setPrices(out, repairCost, final)
	out.SetIfPresent(in, keyMembershipNumber)

	msg := variables.NewBuilder().
		SetString("invoiceId", inv.ID).
		SetBool("invoiceGenerated", true).
		SetString("invoiceUrl", inv.HostedURL).
		SetString("invoiceAmount", formatted).
		SetNumber("invoiceTimestamp", float64(issued.IssuedAt)).
		Build()

	log.Info("Invoice generated",
		slog.String("invoice_id", inv.ID),
		slog.String("status", string(inv.Status)),
		slog.String("amount", formatted),
	)
	return registry.Result{
		Output:   out.Build(),
		Messages: []domain.CorrelatedMessage{job.NewMessage(MessageInvoiceGenerated, msg)},
	}, nil
}
