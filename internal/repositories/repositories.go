package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/storefront/services/checkout/internal/cache"
	"example.com/storefront/services/checkout/internal/models"
	"example.com/storefront/services/checkout/internal/services"
)

const productCacheTTL = 30 * time.Second

func translateNotFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(services.ErrNotFound, msg)
	}
	return errors.Wrap(err, msg)
}

// identityScope filters rows by the cart/invoice owner columns
func identityScope(identity models.Identity) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if identity.AccountID != nil {
			return db.Where("account_id = ?", *identity.AccountID)
		}
		return db.Where("session_id = ?", *identity.SessionID)
	}
}

// ProductRepository provides read access to the catalog with a Redis
// read-through, plus the stock-flag reconciliation sweep.
type ProductRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
	cache      *cache.RedisCache
}

// NewProductRepository creates a new product repository
func NewProductRepository(db, readOnlyDB *gorm.DB, c *cache.RedisCache) *ProductRepository {
	return &ProductRepository{db: db, readOnlyDB: readOnlyDB, cache: c}
}

// GetByID gets a product, consulting the cache first
func (r *ProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	key := cache.ProductKey(id)

	var product models.Product
	if r.cache != nil {
		if err := r.cache.Get(ctx, key, &product); err == nil {
			return &product, nil
		}
	}

	err := r.readOnlyDB.WithContext(ctx).First(&product, "id = ?", id).Error
	if err != nil {
		return nil, translateNotFound(err, "failed to get product")
	}

	if r.cache != nil {
		// Cache writes are best effort.
		_ = r.cache.Set(ctx, key, &product, productCacheTTL)
	}
	return &product, nil
}

// ReconcileStockFlags realigns in_stock with the current quantity for
// rows that have drifted. in_stock is only eventually consistent, so
// this runs periodically from the worker.
func (r *ProductRepository) ReconcileStockFlags(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("in_stock <> (stock_quantity > 0)").
		Update("in_stock", gorm.Expr("stock_quantity > 0"))
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to reconcile stock flags")
	}
	return result.RowsAffected, nil
}

// CartRepository persists cart lines
type CartRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewCartRepository creates a new cart repository
func NewCartRepository(db, readOnlyDB *gorm.DB) *CartRepository {
	return &CartRepository{db: db, readOnlyDB: readOnlyDB}
}

// GetLine gets the identity's line for a product
func (r *CartRepository) GetLine(ctx context.Context, identity models.Identity, productID uuid.UUID) (*models.CartItem, error) {
	var line models.CartItem
	err := r.readOnlyDB.WithContext(ctx).
		Scopes(identityScope(identity)).
		Where("product_id = ?", productID).
		First(&line).Error
	if err != nil {
		return nil, translateNotFound(err, "failed to get cart line")
	}
	return &line, nil
}

// GetLineByID gets a cart line by its id
func (r *CartRepository) GetLineByID(ctx context.Context, id uuid.UUID) (*models.CartItem, error) {
	var line models.CartItem
	err := r.readOnlyDB.WithContext(ctx).First(&line, "id = ?", id).Error
	if err != nil {
		return nil, translateNotFound(err, "failed to get cart line")
	}
	return &line, nil
}

// ListLines lists the identity's lines, oldest first
func (r *CartRepository) ListLines(ctx context.Context, identity models.Identity) ([]models.CartItem, error) {
	var lines []models.CartItem
	err := r.readOnlyDB.WithContext(ctx).
		Scopes(identityScope(identity)).
		Order("created_at ASC").
		Find(&lines).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cart lines")
	}
	return lines, nil
}

// CountLines counts the identity's lines
func (r *CartRepository) CountLines(ctx context.Context, identity models.Identity) (int, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.CartItem{}).
		Scopes(identityScope(identity)).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count cart lines")
	}
	return int(count), nil
}

// Save upserts a cart line
func (r *CartRepository) Save(ctx context.Context, line *models.CartItem) error {
	if err := r.db.WithContext(ctx).Save(line).Error; err != nil {
		return errors.Wrap(err, "failed to save cart line")
	}
	return nil
}

// Delete removes a cart line
func (r *CartRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&models.CartItem{}, "id = ?", id).Error; err != nil {
		return errors.Wrap(err, "failed to delete cart line")
	}
	return nil
}

// InvoiceRepository persists invoices and their item snapshots
type InvoiceRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db, readOnlyDB *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db, readOnlyDB: readOnlyDB}
}

// GetByID gets an invoice with its items
func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.readOnlyDB.WithContext(ctx).Preload("Items").First(&invoice, "id = ?", id).Error
	if err != nil {
		return nil, translateNotFound(err, "failed to get invoice")
	}
	return &invoice, nil
}

// ListForIdentity lists the identity's invoices, newest first
func (r *InvoiceRepository) ListForIdentity(ctx context.Context, identity models.Identity) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.readOnlyDB.WithContext(ctx).
		Preload("Items").
		Scopes(identityScope(identity)).
		Order("created_at DESC").
		Find(&invoices).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list invoices")
	}
	return invoices, nil
}

// ListAll lists every invoice, newest first
func (r *InvoiceRepository) ListAll(ctx context.Context) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.readOnlyDB.WithContext(ctx).
		Preload("Items").
		Order("created_at DESC").
		Find(&invoices).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list invoices")
	}
	return invoices, nil
}

// UpdateStatus sets the invoice status
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.InvoiceStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update invoice status")
	}
	if result.RowsAffected == 0 {
		return errors.Wrap(services.ErrNotFound, "invoice not found")
	}
	return nil
}

// UpdateNotes sets the invoice notes
func (r *InvoiceRepository) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("notes", notes)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update invoice notes")
	}
	if result.RowsAffected == 0 {
		return errors.Wrap(services.ErrNotFound, "invoice not found")
	}
	return nil
}

// RemoveItem deletes one line inside a single transaction and persists
// the total the caller derives from the lines that remain. The delete,
// the re-read and the total update commit together, so the stored total
// can never drift from the live line collection.
func (r *InvoiceRepository) RemoveItem(ctx context.Context, invoiceID, itemID uuid.UUID, total func(remaining []models.InvoiceItem) float64) (float64, error) {
	var newTotal float64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.InvoiceItem{}, "id = ? AND invoice_id = ?", itemID, invoiceID)
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to delete invoice item")
		}
		if result.RowsAffected == 0 {
			return errors.Wrap(services.ErrNotFound, "invoice item not found")
		}

		var remaining []models.InvoiceItem
		if err := tx.Find(&remaining, "invoice_id = ?", invoiceID).Error; err != nil {
			return errors.Wrap(err, "failed to load remaining invoice items")
		}
		newTotal = total(remaining)

		return tx.Model(&models.Invoice{}).
			Where("id = ?", invoiceID).
			Update("total_amount", newTotal).Error
	})
	if err != nil {
		return 0, err
	}
	return newTotal, nil
}

// Delete removes an invoice and its items
func (r *InvoiceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.InvoiceItem{}, "invoice_id = ?", id).Error; err != nil {
			return errors.Wrap(err, "failed to delete invoice items")
		}
		result := tx.Delete(&models.Invoice{}, "id = ?", id)
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to delete invoice")
		}
		if result.RowsAffected == 0 {
			return errors.Wrap(services.ErrNotFound, "invoice not found")
		}
		return nil
	})
}

// NotificationRepository persists durable notification records
type NotificationRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db, readOnlyDB *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db, readOnlyDB: readOnlyDB}
}

// Create inserts a notification record
func (r *NotificationRepository) Create(ctx context.Context, record *models.Notification) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return errors.Wrap(err, "failed to create notification record")
	}
	return nil
}

// ListForRecipient lists a recipient's records, newest first
func (r *NotificationRepository) ListForRecipient(ctx context.Context, recipientID uuid.UUID) ([]models.Notification, error) {
	var records []models.Notification
	err := r.readOnlyDB.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list notifications")
	}
	return records, nil
}

// DeleteForInvoice removes the recipient's records referencing an invoice
func (r *NotificationRepository) DeleteForInvoice(ctx context.Context, recipientID, invoiceID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Delete(&models.Notification{}, "recipient_id = ? AND invoice_id = ?", recipientID, invoiceID)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to clear notifications")
	}
	return result.RowsAffected, nil
}

// ScheduledNotificationRepository persists deferred notifications
type ScheduledNotificationRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewScheduledNotificationRepository creates a new repository
func NewScheduledNotificationRepository(db, readOnlyDB *gorm.DB) *ScheduledNotificationRepository {
	return &ScheduledNotificationRepository{db: db, readOnlyDB: readOnlyDB}
}

// Create inserts a scheduled notification
func (r *ScheduledNotificationRepository) Create(ctx context.Context, item *models.ScheduledNotification) error {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return errors.Wrap(err, "failed to create scheduled notification")
	}
	return nil
}

// GetByID gets a scheduled notification
func (r *ScheduledNotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ScheduledNotification, error) {
	var item models.ScheduledNotification
	err := r.readOnlyDB.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		return nil, translateNotFound(err, "failed to get scheduled notification")
	}
	return &item, nil
}

// Update saves a scheduled notification
func (r *ScheduledNotificationRepository) Update(ctx context.Context, item *models.ScheduledNotification) error {
	if err := r.db.WithContext(ctx).Save(item).Error; err != nil {
		return errors.Wrap(err, "failed to update scheduled notification")
	}
	return nil
}

// ListDue lists Pending items whose time has come
func (r *ScheduledNotificationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledNotification, error) {
	var items []models.ScheduledNotification
	err := r.readOnlyDB.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", models.ScheduledPending, now).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due scheduled notifications")
	}
	return items, nil
}

// RecordOutcome transitions a scheduled notification and stores its counts
func (r *ScheduledNotificationRepository) RecordOutcome(ctx context.Context, id uuid.UUID, status models.ScheduledStatus, successCount, failCount int) error {
	result := r.db.WithContext(ctx).
		Model(&models.ScheduledNotification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"success_count": successCount,
			"fail_count":    failCount,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to record scheduled notification outcome")
	}
	if result.RowsAffected == 0 {
		return errors.Wrap(services.ErrNotFound, "scheduled notification not found")
	}
	return nil
}

// DeviceTokenRepository persists push delivery addresses
type DeviceTokenRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewDeviceTokenRepository creates a new device token repository
func NewDeviceTokenRepository(db, readOnlyDB *gorm.DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db, readOnlyDB: readOnlyDB}
}

// Register stores a device token for an account
func (r *DeviceTokenRepository) Register(ctx context.Context, accountID uuid.UUID, token string) error {
	record := models.DeviceToken{
		ID:        uuid.New(),
		AccountID: accountID,
		Token:     token,
	}
	err := r.db.WithContext(ctx).Create(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return errors.Wrap(err, "failed to register device token")
	}
	return nil
}

// Remove deletes a device token
func (r *DeviceTokenRepository) Remove(ctx context.Context, accountID uuid.UUID, token string) error {
	err := r.db.WithContext(ctx).
		Delete(&models.DeviceToken{}, "account_id = ? AND token = ?", accountID, token).Error
	if err != nil {
		return errors.Wrap(err, "failed to remove device token")
	}
	return nil
}

// TokensFor resolves the delivery addresses for a recipient set
func (r *DeviceTokenRepository) TokensFor(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID][]string, error) {
	if len(accountIDs) == 0 {
		return map[uuid.UUID][]string{}, nil
	}

	var tokens []models.DeviceToken
	err := r.readOnlyDB.WithContext(ctx).
		Where("account_id IN ?", accountIDs).
		Find(&tokens).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load device tokens")
	}

	out := make(map[uuid.UUID][]string, len(accountIDs))
	for i := range tokens {
		out[tokens[i].AccountID] = append(out[tokens[i].AccountID], tokens[i].Token)
	}
	return out, nil
}

// AccountRepository resolves account recipient sets
type AccountRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db, readOnlyDB *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db, readOnlyDB: readOnlyDB}
}

// ListAdminIDs returns the ids of every admin account
func (r *AccountRepository) ListAdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Account{}).
		Where("is_admin = ?", true).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list admin accounts")
	}
	return ids, nil
}

// SettingsRepository resolves the per-request settings snapshot
type SettingsRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
	cache      *cache.RedisCache
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db, readOnlyDB *gorm.DB, c *cache.RedisCache) *SettingsRepository {
	return &SettingsRepository{db: db, readOnlyDB: readOnlyDB, cache: c}
}

// Snapshot loads the settings row, creating it with defaults on first
// use, and returns its request-scoped view.
func (r *SettingsRepository) Snapshot(ctx context.Context) (models.SettingsSnapshot, error) {
	var snapshot models.SettingsSnapshot
	if r.cache != nil {
		if err := r.cache.Get(ctx, cache.SettingsKey(), &snapshot); err == nil {
			return snapshot, nil
		}
	}

	var row models.StoreSettings
	err := r.db.WithContext(ctx).
		Where(models.StoreSettings{}).
		Attrs(models.StoreSettings{ID: uuid.New(), GuestCheckoutEnabled: true, StoreName: "storefront"}).
		FirstOrCreate(&row).Error
	if err != nil {
		return models.SettingsSnapshot{}, errors.Wrap(err, "failed to load store settings")
	}

	snapshot = row.Snapshot()
	if r.cache != nil {
		_ = r.cache.Set(ctx, cache.SettingsKey(), snapshot, productCacheTTL)
	}
	return snapshot, nil
}
