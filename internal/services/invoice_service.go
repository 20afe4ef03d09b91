package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/checkout/internal/models"
	"example.com/storefront/services/checkout/internal/tracing"
)

// Actor is the caller of an invoice operation: an identity plus an
// admin flag. Owners are restricted to Draft invoices; admins are not.
type Actor struct {
	Identity models.Identity
	Admin    bool
}

// InvoiceService enforces the invoice lifecycle rules
type InvoiceService struct {
	invoices      InvoiceRepository
	notifications *NotificationService
	tracer        tracing.Tracer
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(invoices InvoiceRepository, notifications *NotificationService, tracer tracing.Tracer) *InvoiceService {
	return &InvoiceService{
		invoices:      invoices,
		notifications: notifications,
		tracer:        tracer,
	}
}

// Get returns an invoice visible to the actor
func (s *InvoiceService) Get(ctx context.Context, actor Actor, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && !invoice.OwnedBy(actor.Identity) {
		return nil, errors.Wrap(ErrForbidden, "invoice belongs to another identity")
	}
	return invoice, nil
}

// List returns the actor's invoices; admins see every invoice
func (s *InvoiceService) List(ctx context.Context, actor Actor) ([]models.Invoice, error) {
	if actor.Admin {
		return s.invoices.ListAll(ctx)
	}
	return s.invoices.ListForIdentity(ctx, actor.Identity)
}

// RemoveItem deletes one line item and returns the total recomputed
// from the remaining lines. Owners may only do this while the invoice
// is Draft.
func (s *InvoiceService) RemoveItem(ctx context.Context, actor Actor, invoiceID, itemID uuid.UUID) (float64, error) {
	txn := s.tracer.StartTransaction("invoice-remove-item")
	defer s.tracer.EndTransaction(txn)

	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return 0, err
	}
	if err := s.guardMutation(actor, invoice); err != nil {
		return 0, err
	}

	total, err := s.invoices.RemoveItem(ctx, invoiceID, itemID, sumLineTotals)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return 0, err
	}

	log.Info().
		Str("invoice_number", invoice.InvoiceNumber).
		Str("item_id", itemID.String()).
		Float64("new_total", total).
		Msg("Invoice item removed")

	return total, nil
}

// UpdateNotes edits the invoice notes. Owners may only do this while
// the invoice is Draft; admins may at any time.
func (s *InvoiceService) UpdateNotes(ctx context.Context, actor Actor, invoiceID uuid.UUID, notes string) error {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if err := s.guardMutation(actor, invoice); err != nil {
		return err
	}
	return s.invoices.UpdateNotes(ctx, invoiceID, notes)
}

// ChangeStatus moves the invoice to any defined status. Admin only;
// backward transitions are deliberately unrestricted for admins.
func (s *InvoiceService) ChangeStatus(ctx context.Context, actor Actor, invoiceID uuid.UUID, to models.InvoiceStatus) error {
	txn := s.tracer.StartTransaction("invoice-change-status")
	defer s.tracer.EndTransaction(txn)

	if !actor.Admin {
		return errors.Wrap(ErrForbidden, "only admins may change invoice status")
	}
	if !models.ValidInvoiceStatus(to) {
		return NewValidationError("status", fmt.Sprintf("unknown status %q", to))
	}

	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	from := invoice.Status
	if from == to {
		return nil
	}

	if err := s.invoices.UpdateStatus(ctx, invoiceID, to); err != nil {
		s.tracer.RecordError(txn, err)
		return err
	}

	log.Info().
		Str("invoice_number", invoice.InvoiceNumber).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Invoice status changed")

	s.notifyStatusChange(ctx, invoice, from, to)
	return nil
}

// Delete removes an invoice. Owners may delete only while Draft;
// admins may delete in any state.
func (s *InvoiceService) Delete(ctx context.Context, actor Actor, invoiceID uuid.UUID) error {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if !actor.Admin {
		if !invoice.OwnedBy(actor.Identity) {
			return errors.Wrap(ErrForbidden, "invoice belongs to another identity")
		}
		if invoice.Status != models.InvoiceDraft {
			return errors.Wrapf(ErrInvoiceLocked, "invoice is %s", invoice.Status)
		}
	}
	return s.invoices.Delete(ctx, invoiceID)
}

// sumLineTotals derives an invoice total from a live line collection.
// Removing the sole line therefore yields 0, never a stale cached sum.
func sumLineTotals(items []models.InvoiceItem) float64 {
	var total float64
	for i := range items {
		total += items[i].LineTotal
	}
	return total
}

// guardMutation applies the owner/admin asymmetry: admins mutate
// anything, owners only their own Draft invoices.
func (s *InvoiceService) guardMutation(actor Actor, invoice *models.Invoice) error {
	if actor.Admin {
		return nil
	}
	if !invoice.OwnedBy(actor.Identity) {
		return errors.Wrap(ErrForbidden, "invoice belongs to another identity")
	}
	if invoice.Status != models.InvoiceDraft {
		return errors.Wrapf(ErrInvoiceLocked, "invoice is %s", invoice.Status)
	}
	return nil
}

// notifyStatusChange tells the owning account about the transition.
// Anonymous-owned invoices have no notification center to target.
func (s *InvoiceService) notifyStatusChange(ctx context.Context, invoice *models.Invoice, from, to models.InvoiceStatus) {
	if s.notifications == nil || invoice.AccountID == nil {
		return
	}

	event := models.Event{
		Type:      models.EventInvoiceStatusChanged,
		Title:     "Order status updated",
		Message:   fmt.Sprintf("Invoice %s moved from %s to %s", invoice.InvoiceNumber, from, to),
		InvoiceID: &invoice.ID,
		Payload: models.InvoiceStatusChangedPayload{
			InvoiceID:     invoice.ID,
			InvoiceNumber: invoice.InvoiceNumber,
			From:          from,
			To:            to,
		},
	}

	if _, err := s.notifications.Dispatch(ctx, event, []uuid.UUID{*invoice.AccountID}); err != nil {
		log.Error().Err(err).
			Str("invoice_number", invoice.InvoiceNumber).
			Msg("Failed to dispatch status-change notification")
	}
}
