package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Account represents a registered storefront account
type Account struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `gorm:"not null;uniqueIndex" json:"email"`
	IsAdmin   bool           `gorm:"not null;default:false" json:"is_admin"`
}

// Product represents a catalog product with its stock columns.
// StockQuantity is the authoritative available quantity; InStock is
// maintained whenever the quantity crosses zero and may lag briefly.
type Product struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
	Name          string         `gorm:"not null" json:"name"`
	Description   string         `gorm:"type:text" json:"description"`
	SellingPrice  float64        `gorm:"type:decimal(10,2);not null" json:"selling_price"`
	DiscountPrice *float64       `gorm:"type:decimal(10,2)" json:"discount_price"`
	StockQuantity int            `gorm:"not null;default:0" json:"stock_quantity"`
	InStock       bool           `gorm:"not null;default:false" json:"in_stock"`
	Status        string         `gorm:"not null;default:'active'" json:"status"`
}

// PriceFor returns the unit price captured for a cart line: accounts get
// the post-discount price when one is set, anonymous sessions pay the
// selling price.
func (p *Product) PriceFor(identity Identity) float64 {
	if identity.IsAccount() && p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.SellingPrice
}

// Identity is the owner of a cart or invoice: either an authenticated
// account or an anonymous session, never both.
type Identity struct {
	AccountID *uuid.UUID
	SessionID *string
}

// AccountIdentity builds an account-backed identity
func AccountIdentity(id uuid.UUID) Identity {
	return Identity{AccountID: &id}
}

// SessionIdentity builds an anonymous-session identity
func SessionIdentity(sessionID string) Identity {
	return Identity{SessionID: &sessionID}
}

// IsAccount reports whether the identity is an authenticated account
func (i Identity) IsAccount() bool {
	return i.AccountID != nil
}

// Valid reports whether exactly one side of the identity is set
func (i Identity) Valid() bool {
	return (i.AccountID != nil) != (i.SessionID != nil)
}

// Owns reports whether the identity matches the given owner columns
func (i Identity) Owns(accountID *uuid.UUID, sessionID *string) bool {
	if i.AccountID != nil {
		return accountID != nil && *accountID == *i.AccountID
	}
	if i.SessionID != nil {
		return sessionID != nil && *sessionID == *i.SessionID
	}
	return false
}

// CartItem is a single cart line. At most one line exists per
// (identity, product). UnitPrice is snapshotted at add time and is not
// recomputed on read.
type CartItem struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	AccountID *uuid.UUID `gorm:"type:uuid;index:idx_cart_account_product" json:"account_id"`
	SessionID *string    `gorm:"index:idx_cart_session_product" json:"session_id"`
	ProductID uuid.UUID  `gorm:"type:uuid;not null;index:idx_cart_account_product;index:idx_cart_session_product" json:"product_id"`
	Quantity  int        `gorm:"not null" json:"quantity"`
	UnitPrice float64    `gorm:"type:decimal(10,2);not null" json:"unit_price"`
}

// LineTotal returns the snapshotted line total
func (c *CartItem) LineTotal() float64 {
	return c.UnitPrice * float64(c.Quantity)
}

// InvoiceStatus is the admin-facing invoice state
type InvoiceStatus string

const (
	InvoiceDraft          InvoiceStatus = "Draft"
	InvoiceApproved       InvoiceStatus = "Approved"
	InvoiceDispatch       InvoiceStatus = "Dispatch"
	InvoiceOutForDelivery InvoiceStatus = "OutForDelivery"
	InvoiceDelivered      InvoiceStatus = "Delivered"
	InvoiceReturn         InvoiceStatus = "Return"
)

// ValidInvoiceStatus reports whether s is a defined status
func ValidInvoiceStatus(s InvoiceStatus) bool {
	switch s {
	case InvoiceDraft, InvoiceApproved, InvoiceDispatch,
		InvoiceOutForDelivery, InvoiceDelivered, InvoiceReturn:
		return true
	}
	return false
}

// Invoice is a durable, uniquely numbered checkout record. Line items
// are snapshots independent of the live Product rows.
type Invoice struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	InvoiceNumber string         `gorm:"not null;uniqueIndex" json:"invoice_number"`
	AccountID     *uuid.UUID     `gorm:"type:uuid;index" json:"account_id"`
	SessionID     *string        `gorm:"index" json:"session_id"`
	TotalAmount   float64        `gorm:"type:decimal(10,2);not null" json:"total_amount"`
	Status        InvoiceStatus  `gorm:"not null;default:'Draft'" json:"status"`
	Notes         string         `gorm:"type:text" json:"notes"`
	Items         []InvoiceItem  `gorm:"foreignKey:InvoiceID" json:"items"`
}

// OwnedBy reports whether the invoice belongs to the given identity
func (inv *Invoice) OwnedBy(identity Identity) bool {
	return identity.Owns(inv.AccountID, inv.SessionID)
}

// InvoiceItem is a snapshot of a product at checkout time
type InvoiceItem struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	InvoiceID   uuid.UUID `gorm:"type:uuid;not null;index" json:"invoice_id"`
	ProductID   uuid.UUID `gorm:"type:uuid;not null" json:"product_id"`
	ProductName string    `gorm:"not null" json:"product_name"`
	Description string    `gorm:"type:text" json:"description"`
	UnitPrice   float64   `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	Quantity    int       `gorm:"not null" json:"quantity"`
	LineTotal   float64   `gorm:"type:decimal(10,2);not null" json:"line_total"`
}

// EventType tags a notification event with its payload schema
type EventType string

const (
	EventInvoiceCreated       EventType = "invoice.created"
	EventInvoiceStatusChanged EventType = "invoice.status_changed"
	EventScheduledCustom      EventType = "scheduled.custom"
)

// InvoiceCreatedPayload is the payload for EventInvoiceCreated
type InvoiceCreatedPayload struct {
	InvoiceID     uuid.UUID `json:"invoice_id"`
	InvoiceNumber string    `json:"invoice_number"`
	TotalAmount   float64   `json:"total_amount"`
}

// InvoiceStatusChangedPayload is the payload for EventInvoiceStatusChanged
type InvoiceStatusChangedPayload struct {
	InvoiceID     uuid.UUID     `json:"invoice_id"`
	InvoiceNumber string        `json:"invoice_number"`
	From          InvoiceStatus `json:"from"`
	To            InvoiceStatus `json:"to"`
}

// ScheduledCustomPayload is the payload for EventScheduledCustom
type ScheduledCustomPayload struct {
	ScheduledNotificationID uuid.UUID `json:"scheduled_notification_id"`
}

// Event is a notification event. Payload must be one of the typed
// payload structs above; it is encoded once when the durable record is
// written, never passed around as an untyped map.
type Event struct {
	Type      EventType
	Title     string
	Message   string
	InvoiceID *uuid.UUID
	Payload   interface{}
}

// EncodePayload serializes the typed payload for storage
func (e Event) EncodePayload() ([]byte, error) {
	if e.Payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode event payload")
	}
	return data, nil
}

// Notification is the durable per-recipient record behind the in-app
// notification center. It exists regardless of push delivery outcome.
type Notification struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	RecipientID uuid.UUID  `gorm:"type:uuid;not null;index" json:"recipient_id"`
	Title       string     `gorm:"not null" json:"title"`
	Message     string     `gorm:"type:text;not null" json:"message"`
	Type        EventType  `gorm:"not null" json:"type"`
	Payload     []byte     `gorm:"type:jsonb" json:"payload"`
	InvoiceID   *uuid.UUID `gorm:"type:uuid;index" json:"invoice_id"`
	Read        bool       `gorm:"not null;default:false" json:"read"`
}

// ScheduledStatus is the state of a deferred notification
type ScheduledStatus string

const (
	ScheduledPending   ScheduledStatus = "Pending"
	ScheduledSent      ScheduledStatus = "Sent"
	ScheduledFailed    ScheduledStatus = "Failed"
	ScheduledCancelled ScheduledStatus = "Cancelled"
)

// UUIDList stores a recipient set as a jsonb column
type UUIDList []uuid.UUID

// ScheduledNotification is a deferred fan-out. Only Pending items may be
// edited or cancelled; the worker sweep moves due items to Sent/Failed.
type ScheduledNotification struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	Title        string          `gorm:"not null" json:"title"`
	Message      string          `gorm:"type:text;not null" json:"message"`
	ScheduledFor time.Time       `gorm:"not null;index" json:"scheduled_for"`
	Status       ScheduledStatus `gorm:"not null;default:'Pending';index" json:"status"`
	RecipientIDs UUIDList        `gorm:"type:jsonb;serializer:json" json:"recipient_ids"`
	SuccessCount int             `gorm:"not null;default:0" json:"success_count"`
	FailCount    int             `gorm:"not null;default:0" json:"fail_count"`
}

// DeviceToken is a push delivery address registered by an account
type DeviceToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	AccountID uuid.UUID `gorm:"type:uuid;not null;index" json:"account_id"`
	Token     string    `gorm:"not null;uniqueIndex" json:"token"`
}

// StoreSettings is the single persisted settings row. It is resolved
// once per request into a SettingsSnapshot and injected explicitly;
// nothing reads it lazily through a global.
type StoreSettings struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	StoreName            string    `gorm:"not null;default:'storefront'" json:"store_name"`
	GuestCheckoutEnabled bool      `gorm:"not null;default:true" json:"guest_checkout_enabled"`
}

// SettingsSnapshot is the per-request view of StoreSettings
type SettingsSnapshot struct {
	StoreName            string `json:"store_name"`
	GuestCheckoutEnabled bool   `json:"guest_checkout_enabled"`
}

// Snapshot converts the persisted row to its request-scoped view
func (s *StoreSettings) Snapshot() SettingsSnapshot {
	return SettingsSnapshot{
		StoreName:            s.StoreName,
		GuestCheckoutEnabled: s.GuestCheckoutEnabled,
	}
}

// SetupModels runs migrations for all models
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Account{},
		&Product{},
		&CartItem{},
		&Invoice{},
		&InvoiceItem{},
		&Notification{},
		&ScheduledNotification{},
		&DeviceToken{},
		&StoreSettings{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run migrations")
	}
	return nil
}
