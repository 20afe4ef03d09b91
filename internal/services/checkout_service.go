package services

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/checkout/internal/models"
	"example.com/storefront/services/checkout/internal/tracing"
)

const (
	// DefaultMaxAllocationAttempts bounds the allocator retry loop.
	DefaultMaxAllocationAttempts = 5
	// DefaultAllocationBackoff is the per-attempt backoff base.
	DefaultAllocationBackoff = 100 * time.Millisecond
)

// CheckoutService turns a cart into a durable, uniquely numbered,
// stock-consistent invoice. The whole attempt runs in one database
// transaction: a failure leaves no invoice, no stock decrement and an
// intact cart.
type CheckoutService struct {
	products      ProductReader
	carts         CartRepository
	store         CheckoutStore
	notifications *NotificationService
	accounts      AccountDirectory
	tracer        tracing.Tracer

	maxAttempts int
	backoffBase time.Duration
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	products ProductReader,
	carts CartRepository,
	store CheckoutStore,
	notifications *NotificationService,
	accounts AccountDirectory,
	tracer tracing.Tracer,
	maxAttempts int,
	backoffBase time.Duration,
) *CheckoutService {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAllocationAttempts
	}
	if backoffBase <= 0 {
		backoffBase = DefaultAllocationBackoff
	}
	return &CheckoutService{
		products:      products,
		carts:         carts,
		store:         store,
		notifications: notifications,
		accounts:      accounts,
		tracer:        tracer,
		maxAttempts:   maxAttempts,
		backoffBase:   backoffBase,
		now:           time.Now,
		sleep:         sleepContext,
	}
}

// Checkout converts the identity's cart into a Draft invoice and, after
// the transaction commits, fans an invoice-created event out to admins.
func (s *CheckoutService) Checkout(ctx context.Context, identity models.Identity, settings models.SettingsSnapshot) (*models.Invoice, error) {
	txn := s.tracer.StartTransaction("checkout")
	defer s.tracer.EndTransaction(txn)

	if !identity.Valid() {
		return nil, NewValidationError("identity", "exactly one of account or session must be set")
	}
	if !identity.IsAccount() && !settings.GuestCheckoutEnabled {
		return nil, errors.Wrap(ErrForbidden, "guest checkout is disabled")
	}

	lines, err := s.carts.ListLines(ctx, identity)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to load cart")
	}
	if len(lines) == 0 {
		return nil, ErrCartEmpty
	}

	// Snapshot product names and descriptions up front. Prices come
	// from the cart lines; name and description are display fields and
	// carry no consistency requirement.
	snapshots := make(map[uuid.UUID]*models.Product, len(lines))
	for i := range lines {
		product, err := s.products.GetByID(ctx, lines[i].ProductID)
		if err != nil {
			s.tracer.RecordError(txn, err)
			return nil, errors.Wrapf(err, "failed to load product %s", lines[i].ProductID)
		}
		snapshots[lines[i].ProductID] = product
	}

	var invoice *models.Invoice
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		span := s.tracer.StartSpan("checkout-attempt", txn)
		invoice, err = s.tryCheckout(ctx, identity, lines, snapshots)
		span.End()

		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateInvoiceNumber) {
			s.tracer.RecordError(txn, err)
			return nil, err
		}
		if attempt == s.maxAttempts {
			err = errors.Wrapf(ErrAllocationExhausted, "%d allocation attempts collided", s.maxAttempts)
			break
		}

		// A concurrent transaction committed the same number between
		// our lock release and insert. Back off and rebuild the number
		// from the now-current rows.
		backoff := s.backoffBase*time.Duration(attempt) + time.Duration(rand.Int63n(int64(s.backoffBase)))
		log.Warn().
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Invoice number collision, retrying allocation")
		if err := s.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().
		Str("invoice_number", invoice.InvoiceNumber).
		Float64("total", invoice.TotalAmount).
		Int("items", len(invoice.Items)).
		Msg("Checkout completed")

	s.notifyAdmins(ctx, invoice)

	return invoice, nil
}

// tryCheckout is one allocation attempt: decrement stock, allocate the
// number under the year-prefix lock, insert the invoice and drain the
// cart, all in one transaction.
func (s *CheckoutService) tryCheckout(ctx context.Context, identity models.Identity, lines []models.CartItem, snapshots map[uuid.UUID]*models.Product) (*models.Invoice, error) {
	invoice := &models.Invoice{
		ID:        uuid.New(),
		AccountID: identity.AccountID,
		SessionID: identity.SessionID,
		Status:    models.InvoiceDraft,
	}

	err := s.store.WithinTransaction(ctx, func(tx CheckoutTx) error {
		var total float64
		for i := range lines {
			line := lines[i]
			if err := tx.DecrementStock(line.ProductID, line.Quantity); err != nil {
				return err
			}
			if err := tx.RefreshStockFlag(line.ProductID); err != nil {
				return err
			}

			product := snapshots[line.ProductID]
			item := models.InvoiceItem{
				ID:          uuid.New(),
				InvoiceID:   invoice.ID,
				ProductID:   line.ProductID,
				ProductName: product.Name,
				Description: product.Description,
				UnitPrice:   line.UnitPrice,
				Quantity:    line.Quantity,
				LineTotal:   line.LineTotal(),
			}
			invoice.Items = append(invoice.Items, item)
			total += item.LineTotal
		}
		invoice.TotalAmount = total

		number, err := s.allocateNumber(tx)
		if err != nil {
			return err
		}
		invoice.InvoiceNumber = number

		if err := tx.CreateInvoice(invoice); err != nil {
			return err
		}
		return tx.ClearCart(identity)
	})
	if err != nil {
		invoice.Items = nil
		return nil, err
	}
	return invoice, nil
}

// allocateNumber derives the next year-scoped sequence number from the
// existing rows while the caller's transaction holds the prefix lock.
// There is no counter state to keep in sync: a new year naturally
// starts a fresh sequence because the LIKE filter matches nothing.
func (s *CheckoutService) allocateNumber(tx CheckoutTx) (string, error) {
	year := s.now().Year()
	prefix := fmt.Sprintf("INV-%d-", year)

	current, err := tx.MaxInvoiceNumber(prefix)
	if err != nil {
		return "", errors.Wrap(err, "failed to read current invoice number")
	}

	seq := 1
	if current != "" {
		parsed, err := parseSequence(current)
		if err != nil {
			return "", err
		}
		seq = parsed + 1
	}
	return fmt.Sprintf("%s%04d", prefix, seq), nil
}

func parseSequence(number string) (int, error) {
	idx := strings.LastIndex(number, "-")
	if idx < 0 || idx == len(number)-1 {
		return 0, errors.Errorf("malformed invoice number %q", number)
	}
	seq, err := strconv.Atoi(number[idx+1:])
	if err != nil {
		return 0, errors.Wrapf(err, "malformed invoice number %q", number)
	}
	return seq, nil
}

// notifyAdmins fans the created invoice out to every admin account.
// Failures here are logged, never surfaced: the invoice has committed.
func (s *CheckoutService) notifyAdmins(ctx context.Context, invoice *models.Invoice) {
	if s.notifications == nil || s.accounts == nil {
		return
	}

	admins, err := s.accounts.ListAdminIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve admin recipients for invoice notification")
		return
	}

	event := models.Event{
		Type:      models.EventInvoiceCreated,
		Title:     "New order received",
		Message:   fmt.Sprintf("Invoice %s created for %.2f", invoice.InvoiceNumber, invoice.TotalAmount),
		InvoiceID: &invoice.ID,
		Payload: models.InvoiceCreatedPayload{
			InvoiceID:     invoice.ID,
			InvoiceNumber: invoice.InvoiceNumber,
			TotalAmount:   invoice.TotalAmount,
		},
	}

	report, err := s.notifications.Dispatch(ctx, event, admins)
	if err != nil {
		log.Error().Err(err).Msg("Failed to dispatch invoice-created notification")
		return
	}
	log.Info().
		Int("recipients", report.TotalRecipients).
		Int("push_successful", report.PushSuccessful).
		Int("push_failed", report.PushFailed).
		Msg("Invoice-created notification dispatched")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
