package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/storefront/services/checkout/internal/models"
	"example.com/storefront/services/checkout/internal/services"
)

// GormCheckoutStore runs checkout attempts inside a single database
// transaction. It is the only writer of stock quantities and invoice
// numbers.
type GormCheckoutStore struct {
	db *gorm.DB
}

// NewCheckoutStore creates a new checkout store
func NewCheckoutStore(db *gorm.DB) *GormCheckoutStore {
	return &GormCheckoutStore{db: db}
}

// WithinTransaction runs fn inside one transaction; everything fn does
// commits or rolls back together.
func (s *GormCheckoutStore) WithinTransaction(ctx context.Context, fn func(tx services.CheckoutTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormCheckoutTx{tx: tx})
	})
}

type gormCheckoutTx struct {
	tx *gorm.DB
}

// DecrementStock subtracts n from the product's quantity as a single
// guarded update. The quantity predicate is part of the UPDATE itself,
// never a separate read, so concurrent checkouts cannot oversell.
func (t *gormCheckoutTx) DecrementStock(productID uuid.UUID, n int) error {
	result := t.tx.
		Model(&models.Product{}).
		Where("id = ? AND stock_quantity >= ?", productID, n).
		Update("stock_quantity", gorm.Expr("stock_quantity - ?", n))
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to decrement stock")
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(services.ErrOutOfStock, "fewer than %d units of product %s remain", n, productID)
	}
	return nil
}

// RefreshStockFlag realigns in_stock with the quantity we just changed
func (t *gormCheckoutTx) RefreshStockFlag(productID uuid.UUID) error {
	err := t.tx.
		Model(&models.Product{}).
		Where("id = ?", productID).
		Update("in_stock", gorm.Expr("stock_quantity > 0")).Error
	if err != nil {
		return errors.Wrap(err, "failed to refresh stock flag")
	}
	return nil
}

// MaxInvoiceNumber takes a row-level write lock over the year prefix
// and returns the highest number, or "" when the year has no invoices
// yet. Ordering by length before the lexicographic compare keeps the
// read correct once a year's sequence outgrows the four-digit padding
// (INV-2026-10000 sorts above INV-2026-9999). Contention is scoped to
// one year prefix; different years never block each other.
func (t *gormCheckoutTx) MaxInvoiceNumber(prefix string) (string, error) {
	var invoice models.Invoice
	err := t.tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("invoice_number").
		Where("invoice_number LIKE ?", prefix+"%").
		Order("length(invoice_number) DESC, invoice_number DESC").
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to read max invoice number")
	}
	return invoice.InvoiceNumber, nil
}

// CreateInvoice inserts the invoice and its item snapshots. A
// uniqueness violation on invoice_number means a concurrent
// transaction won the number; the caller retries with a fresh read.
func (t *gormCheckoutTx) CreateInvoice(invoice *models.Invoice) error {
	if err := t.tx.Create(invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errors.Wrapf(services.ErrDuplicateInvoiceNumber, "number %s", invoice.InvoiceNumber)
		}
		return errors.Wrap(err, "failed to create invoice")
	}
	return nil
}

// ClearCart drains the identity's cart lines
func (t *gormCheckoutTx) ClearCart(identity models.Identity) error {
	query := t.tx.Scopes(identityScope(identity))
	if err := query.Delete(&models.CartItem{}).Error; err != nil {
		return errors.Wrap(err, "failed to clear cart")
	}
	return nil
}
