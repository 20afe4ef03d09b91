package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/storefront/services/checkout/internal/models"
)

// ProductReader provides read access to the catalog
type ProductReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// CartRepository persists cart lines
type CartRepository interface {
	GetLine(ctx context.Context, identity models.Identity, productID uuid.UUID) (*models.CartItem, error)
	GetLineByID(ctx context.Context, id uuid.UUID) (*models.CartItem, error)
	ListLines(ctx context.Context, identity models.Identity) ([]models.CartItem, error)
	CountLines(ctx context.Context, identity models.Identity) (int, error)
	Save(ctx context.Context, line *models.CartItem) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// InvoiceRepository persists invoices and their item snapshots
type InvoiceRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListForIdentity(ctx context.Context, identity models.Identity) ([]models.Invoice, error)
	ListAll(ctx context.Context) ([]models.Invoice, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.InvoiceStatus) error
	UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error
	// RemoveItem deletes one line and, in the same transaction, persists
	// the total the callback derives from the lines that remain. The
	// derivation itself belongs to the service layer.
	RemoveItem(ctx context.Context, invoiceID, itemID uuid.UUID, total func(remaining []models.InvoiceItem) float64) (float64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// CheckoutTx is the transactional surface of a single checkout attempt.
// Every mutation inside one attempt commits or rolls back together.
type CheckoutTx interface {
	// DecrementStock atomically subtracts n from the product's quantity,
	// failing with ErrOutOfStock when fewer than n units remain.
	DecrementStock(productID uuid.UUID, n int) error
	// RefreshStockFlag realigns in_stock with the current quantity.
	RefreshStockFlag(productID uuid.UUID) error
	// MaxInvoiceNumber takes a write lock over the year prefix and
	// returns the highest existing number, or "" when the year is fresh.
	MaxInvoiceNumber(prefix string) (string, error)
	// CreateInvoice inserts the invoice and its items, failing with
	// ErrDuplicateInvoiceNumber on a uniqueness violation.
	CreateInvoice(invoice *models.Invoice) error
	// ClearCart drains the identity's cart lines.
	ClearCart(identity models.Identity) error
}

// CheckoutStore runs a checkout attempt inside one database transaction
type CheckoutStore interface {
	WithinTransaction(ctx context.Context, fn func(tx CheckoutTx) error) error
}

// NotificationStore persists durable notification records
type NotificationStore interface {
	Create(ctx context.Context, record *models.Notification) error
	ListForRecipient(ctx context.Context, recipientID uuid.UUID) ([]models.Notification, error)
	DeleteForInvoice(ctx context.Context, recipientID, invoiceID uuid.UUID) (int64, error)
}

// ScheduledStore persists deferred notifications
type ScheduledStore interface {
	Create(ctx context.Context, item *models.ScheduledNotification) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScheduledNotification, error)
	Update(ctx context.Context, item *models.ScheduledNotification) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledNotification, error)
	RecordOutcome(ctx context.Context, id uuid.UUID, status models.ScheduledStatus, successCount, failCount int) error
}

// DeviceTokenStore resolves push delivery addresses
type DeviceTokenStore interface {
	Register(ctx context.Context, accountID uuid.UUID, token string) error
	Remove(ctx context.Context, accountID uuid.UUID, token string) error
	TokensFor(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID][]string, error)
}

// AccountDirectory resolves notification recipient sets
type AccountDirectory interface {
	ListAdminIDs(ctx context.Context) ([]uuid.UUID, error)
}

// PushPayload is the opaque body handed to the push gateway
type PushPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Data    []byte `json:"data,omitempty"`
}

// PushSender delivers a best-effort push to one address. Failures are
// recorded by the fan-out, never escalated.
type PushSender interface {
	Send(ctx context.Context, address string, payload PushPayload) error
}
