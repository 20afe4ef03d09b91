package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/storefront/services/checkout/config"
	"example.com/storefront/services/checkout/internal/models"
	"example.com/storefront/services/checkout/internal/tracing"
)

func newTestTracer(t *testing.T) tracing.Tracer {
	t.Helper()
	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)
	return tracer
}

// In-memory catalog for tests
type fakeProducts struct {
	mu       sync.Mutex
	products map[uuid.UUID]models.Product
}

func newFakeProducts(products ...models.Product) *fakeProducts {
	f := &fakeProducts{products: make(map[uuid.UUID]models.Product)}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeProducts) GetByID(_ context.Context, id uuid.UUID) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (f *fakeProducts) setStock(id uuid.UUID, quantity int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.products[id]
	p.StockQuantity = quantity
	p.InStock = quantity > 0
	f.products[id] = p
}

// In-memory cart repository preserving insertion order
type memCartRepo struct {
	mu    sync.Mutex
	lines []models.CartItem
}

func (m *memCartRepo) GetLine(_ context.Context, identity models.Identity, productID uuid.UUID) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lines {
		if m.lines[i].ProductID == productID && identity.Owns(m.lines[i].AccountID, m.lines[i].SessionID) {
			line := m.lines[i]
			return &line, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memCartRepo) GetLineByID(_ context.Context, id uuid.UUID) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lines {
		if m.lines[i].ID == id {
			line := m.lines[i]
			return &line, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memCartRepo) ListLines(_ context.Context, identity models.Identity) ([]models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CartItem
	for i := range m.lines {
		if identity.Owns(m.lines[i].AccountID, m.lines[i].SessionID) {
			out = append(out, m.lines[i])
		}
	}
	return out, nil
}

func (m *memCartRepo) CountLines(ctx context.Context, identity models.Identity) (int, error) {
	lines, err := m.ListLines(ctx, identity)
	return len(lines), err
}

func (m *memCartRepo) Save(_ context.Context, line *models.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lines {
		if m.lines[i].ID == line.ID {
			m.lines[i] = *line
			return nil
		}
	}
	m.lines = append(m.lines, *line)
	return nil
}

func (m *memCartRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lines {
		if m.lines[i].ID == id {
			m.lines = append(m.lines[:i], m.lines[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memCartRepo) clear(identity models.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.lines[:0]
	for i := range m.lines {
		if !identity.Owns(m.lines[i].AccountID, m.lines[i].SessionID) {
			kept = append(kept, m.lines[i])
		}
	}
	m.lines = kept
}

func testProduct(name string, price float64, stock int) models.Product {
	return models.Product{
		ID:            uuid.New(),
		Name:          name,
		SellingPrice:  price,
		StockQuantity: stock,
		InStock:       stock > 0,
		Status:        "active",
	}
}

func TestAddOrUpdateReplacesQuantity(t *testing.T) {
	product := testProduct("Widget", 50, 10)
	carts := &memCartRepo{}
	service := NewCartService(newFakeProducts(product), carts, newTestTracer(t))

	identity := models.SessionIdentity("sess-1")
	ctx := context.Background()

	line, err := service.AddOrUpdate(ctx, identity, product.ID, 2)
	require.NoError(t, err)
	require.Equal(t, 2, line.Quantity)

	// A second add for the same product replaces, not increments
	line, err = service.AddOrUpdate(ctx, identity, product.ID, 5)
	require.NoError(t, err)
	require.Equal(t, 5, line.Quantity)

	count, err := service.Count(ctx, identity)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	total, err := service.Total(ctx, identity)
	require.NoError(t, err)
	require.Equal(t, 250.0, total)
}

func TestAddOrUpdateRejectsOutOfStock(t *testing.T) {
	product := testProduct("Widget", 50, 3)
	service := NewCartService(newFakeProducts(product), &memCartRepo{}, newTestTracer(t))

	identity := models.SessionIdentity("sess-1")

	_, err := service.AddOrUpdate(context.Background(), identity, product.ID, 4)
	require.ErrorIs(t, err, ErrOutOfStock)

	empty := testProduct("Gone", 50, 0)
	service = NewCartService(newFakeProducts(empty), &memCartRepo{}, newTestTracer(t))
	_, err = service.AddOrUpdate(context.Background(), identity, empty.ID, 1)
	require.ErrorIs(t, err, ErrOutOfStock)
}

func TestAddOrUpdateSnapshotsDiscountPrice(t *testing.T) {
	discount := 40.0
	product := testProduct("Widget", 50, 10)
	product.DiscountPrice = &discount
	products := newFakeProducts(product)
	carts := &memCartRepo{}
	service := NewCartService(products, carts, newTestTracer(t))
	ctx := context.Background()

	accountLine, err := service.AddOrUpdate(ctx, models.AccountIdentity(uuid.New()), product.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 40.0, accountLine.UnitPrice)

	sessionLine, err := service.AddOrUpdate(ctx, models.SessionIdentity("sess-1"), product.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 50.0, sessionLine.UnitPrice)
}

func TestTotalUsesSnapshotPrices(t *testing.T) {
	product := testProduct("Widget", 50, 10)
	products := newFakeProducts(product)
	carts := &memCartRepo{}
	service := NewCartService(products, carts, newTestTracer(t))

	identity := models.SessionIdentity("sess-1")
	ctx := context.Background()

	_, err := service.AddOrUpdate(ctx, identity, product.ID, 2)
	require.NoError(t, err)

	// A later catalog price change does not move the cart total
	products.mu.Lock()
	changed := products.products[product.ID]
	changed.SellingPrice = 90
	products.products[product.ID] = changed
	products.mu.Unlock()

	total, err := service.Total(ctx, identity)
	require.NoError(t, err)
	require.Equal(t, 100.0, total)
}

func TestRemoveForbiddenForOtherIdentity(t *testing.T) {
	product := testProduct("Widget", 50, 10)
	carts := &memCartRepo{}
	service := NewCartService(newFakeProducts(product), carts, newTestTracer(t))
	ctx := context.Background()

	line, err := service.AddOrUpdate(ctx, models.SessionIdentity("sess-1"), product.ID, 1)
	require.NoError(t, err)

	err = service.Remove(ctx, models.SessionIdentity("sess-2"), line.ID)
	require.ErrorIs(t, err, ErrForbidden)

	err = service.Remove(ctx, models.SessionIdentity("sess-1"), line.ID)
	require.NoError(t, err)
}

func TestMergeCombinesAndClamps(t *testing.T) {
	productA := testProduct("Alpha", 10, 3)
	productB := testProduct("Beta", 20, 5)
	products := newFakeProducts(productA, productB)
	carts := &memCartRepo{}
	service := NewCartService(products, carts, newTestTracer(t))

	accountID := uuid.New()
	account := models.AccountIdentity(accountID)
	session := models.SessionIdentity("sess-1")
	ctx := context.Background()

	_, err := service.AddOrUpdate(ctx, account, productA.ID, 2)
	require.NoError(t, err)
	_, err = service.AddOrUpdate(ctx, session, productA.ID, 2)
	require.NoError(t, err)
	_, err = service.AddOrUpdate(ctx, session, productB.ID, 1)
	require.NoError(t, err)

	require.NoError(t, service.MergeAnonymousIntoAccount(ctx, "sess-1", accountID))

	// Shared product combined then clamped to stock; the session-only
	// line is re-owned by the account
	lines, err := service.Lines(ctx, account)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	byProduct := map[uuid.UUID]models.CartItem{}
	for _, line := range lines {
		byProduct[line.ProductID] = line
	}
	require.Equal(t, 3, byProduct[productA.ID].Quantity)
	require.Equal(t, 1, byProduct[productB.ID].Quantity)

	remaining, err := service.Lines(ctx, session)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestMergeKeepsZeroQuantityLine(t *testing.T) {
	product := testProduct("Alpha", 10, 5)
	products := newFakeProducts(product)
	carts := &memCartRepo{}
	service := NewCartService(products, carts, newTestTracer(t))

	accountID := uuid.New()
	account := models.AccountIdentity(accountID)
	ctx := context.Background()

	_, err := service.AddOrUpdate(ctx, account, product.ID, 2)
	require.NoError(t, err)
	_, err = service.AddOrUpdate(ctx, models.SessionIdentity("sess-1"), product.ID, 3)
	require.NoError(t, err)

	// Stock sells out between add and merge
	products.setStock(product.ID, 0)

	require.NoError(t, service.MergeAnonymousIntoAccount(ctx, "sess-1", accountID))

	lines, err := service.Lines(ctx, account)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, 0, lines[0].Quantity)
}

func TestMergeIsIdempotent(t *testing.T) {
	productA := testProduct("Alpha", 10, 10)
	productB := testProduct("Beta", 20, 10)
	products := newFakeProducts(productA, productB)
	carts := &memCartRepo{}
	service := NewCartService(products, carts, newTestTracer(t))

	accountID := uuid.New()
	account := models.AccountIdentity(accountID)
	session := models.SessionIdentity("sess-1")
	ctx := context.Background()

	_, err := service.AddOrUpdate(ctx, account, productA.ID, 2)
	require.NoError(t, err)
	_, err = service.AddOrUpdate(ctx, session, productA.ID, 1)
	require.NoError(t, err)
	_, err = service.AddOrUpdate(ctx, session, productB.ID, 4)
	require.NoError(t, err)

	require.NoError(t, service.MergeAnonymousIntoAccount(ctx, "sess-1", accountID))
	// The anonymous cart is drained, so a second run changes nothing
	require.NoError(t, service.MergeAnonymousIntoAccount(ctx, "sess-1", accountID))

	lines, err := service.Lines(ctx, account)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	byProduct := map[uuid.UUID]models.CartItem{}
	for _, line := range lines {
		byProduct[line.ProductID] = line
	}
	require.Equal(t, 3, byProduct[productA.ID].Quantity)
	require.Equal(t, 4, byProduct[productB.ID].Quantity)
}
