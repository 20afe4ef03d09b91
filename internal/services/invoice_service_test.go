package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/storefront/services/checkout/internal/models"
)

// Mock InvoiceRepository for testing
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) ListForIdentity(ctx context.Context, identity models.Identity) ([]models.Invoice, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).([]models.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) ListAll(ctx context.Context) ([]models.Invoice, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.InvoiceStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockInvoiceRepository) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	args := m.Called(ctx, id, notes)
	return args.Error(0)
}

// RemoveItem hands the configured remaining lines to the service's
// derivation callback, so tests execute the real total computation.
func (m *MockInvoiceRepository) RemoveItem(ctx context.Context, invoiceID, itemID uuid.UUID, total func(remaining []models.InvoiceItem) float64) (float64, error) {
	args := m.Called(ctx, invoiceID, itemID)
	if args.Error(1) != nil {
		return 0, args.Error(1)
	}
	return total(args.Get(0).([]models.InvoiceItem)), nil
}

func (m *MockInvoiceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func draftInvoice(accountID uuid.UUID) *models.Invoice {
	return &models.Invoice{
		ID:            uuid.New(),
		InvoiceNumber: "INV-2026-0007",
		AccountID:     &accountID,
		Status:        models.InvoiceDraft,
		TotalAmount:   150,
	}
}

func TestOwnerRemoveItemOnDraft(t *testing.T) {
	accountID := uuid.New()
	invoice := draftInvoice(accountID)
	itemID := uuid.New()

	remaining := []models.InvoiceItem{
		{ID: uuid.New(), InvoiceID: invoice.ID, UnitPrice: 25, Quantity: 4, LineTotal: 100},
	}
	repo := new(MockInvoiceRepository)
	repo.On("GetByID", mock.Anything, invoice.ID).Return(invoice, nil)
	repo.On("RemoveItem", mock.Anything, invoice.ID, itemID).Return(remaining, nil)

	service := NewInvoiceService(repo, nil, newTestTracer(t))
	actor := Actor{Identity: models.AccountIdentity(accountID)}

	// The total is derived from the lines that remain, not adjusted
	total, err := service.RemoveItem(context.Background(), actor, invoice.ID, itemID)
	require.NoError(t, err)
	require.Equal(t, 100.0, total)
	repo.AssertExpectations(t)
}

func TestAdminRemoveSoleItemZeroesTotal(t *testing.T) {
	accountID := uuid.New()
	invoice := draftInvoice(accountID)
	invoice.Status = models.InvoiceApproved
	itemID := uuid.New()

	repo := new(MockInvoiceRepository)
	repo.On("GetByID", mock.Anything, invoice.ID).Return(invoice, nil)
	repo.On("RemoveItem", mock.Anything, invoice.ID, itemID).Return([]models.InvoiceItem{}, nil)

	service := NewInvoiceService(repo, nil, newTestTracer(t))
	admin := Actor{Identity: models.AccountIdentity(uuid.New()), Admin: true}

	// Removing the sole line leaves an empty invoice with total 0
	total, err := service.RemoveItem(context.Background(), admin, invoice.ID, itemID)
	require.NoError(t, err)
	require.Zero(t, total)
	repo.AssertExpectations(t)
}

func TestOwnerMutationsLockedAfterApproval(t *testing.T) {
	accountID := uuid.New()
	invoice := draftInvoice(accountID)
	invoice.Status = models.InvoiceApproved

	repo := new(MockInvoiceRepository)
	repo.On("GetByID", mock.Anything, invoice.ID).Return(invoice, nil)

	service := NewInvoiceService(repo, nil, newTestTracer(t))
	actor := Actor{Identity: models.AccountIdentity(accountID)}
	ctx := context.Background()

	_, err := service.RemoveItem(ctx, actor, invoice.ID, uuid.New())
	require.ErrorIs(t, err, ErrInvoiceLocked)

	err = service.UpdateNotes(ctx, actor, invoice.ID, "please hurry")
	require.ErrorIs(t, err, ErrInvoiceLocked)

	err = service.Delete(ctx, actor, invoice.ID)
	require.ErrorIs(t, err, ErrInvoiceLocked)

	// None of the mutating repository calls happened
	repo.AssertNotCalled(t, "RemoveItem", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "UpdateNotes", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestAdminMutatesRegardlessOfStatus(t *testing.T) {
	accountID := uuid.New()
	invoice := draftInvoice(accountID)
	invoice.Status = models.InvoiceDelivered

	repo := new(MockInvoiceRepository)
	repo.On("GetByID", mock.Anything, invoice.ID).Return(invoice, nil)
	repo.On("UpdateNotes", mock.Anything, invoice.ID, "refund issued").Return(nil)
	repo.On("Delete", mock.Anything, invoice.ID).Return(nil)

	service := NewInvoiceService(repo, nil, newTestTracer(t))
	admin := Actor{Identity: models.AccountIdentity(uuid.New()), Admin: true}
	ctx := context.Background()

	require.NoError(t, service.UpdateNotes(ctx, admin, invoice.ID, "refund issued"))
	require.NoError(t, service.Delete(ctx, admin, invoice.ID))
	repo.AssertExpectations(t)
}

func TestChangeStatusAdminOnly(t *testing.T) {
	accountID := uuid.New()
	invoice := draftInvoice(accountID)

	repo := new(MockInvoiceRepository)
	service := NewInvoiceService(repo, nil, newTestTracer(t))

	owner := Actor{Identity: models.AccountIdentity(accountID)}
	err := service.ChangeStatus(context.Background(), owner, invoice.ID, models.InvoiceApproved)
	require.ErrorIs(t, err, ErrForbidden)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestChangeStatusAllowsBackwardTransition(t *testing.T) {
	accountID := uuid.New()
	invoice := draftInvoice(accountID)
	invoice.Status = models.InvoiceDelivered

	repo := new(MockInvoiceRepository)
	repo.On("GetByID", mock.Anything, invoice.ID).Return(invoice, nil)
	repo.On("UpdateStatus", mock.Anything, invoice.ID, models.InvoiceReturn).Return(nil)

	service := NewInvoiceService(repo, nil, newTestTracer(t))
	admin := Actor{Identity: models.AccountIdentity(uuid.New()), Admin: true}

	err := service.ChangeStatus(context.Background(), admin, invoice.ID, models.InvoiceReturn)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestChangeStatusRejectsUnknownStatus(t *testing.T) {
	repo := new(MockInvoiceRepository)
	service := NewInvoiceService(repo, nil, newTestTracer(t))
	admin := Actor{Identity: models.AccountIdentity(uuid.New()), Admin: true}

	err := service.ChangeStatus(context.Background(), admin, uuid.New(), models.InvoiceStatus("Shipped"))
	require.True(t, IsValidationError(err))
}

func TestChangeStatusSameStatusIsNoop(t *testing.T) {
	accountID := uuid.New()
	invoice := draftInvoice(accountID)

	repo := new(MockInvoiceRepository)
	repo.On("GetByID", mock.Anything, invoice.ID).Return(invoice, nil)

	service := NewInvoiceService(repo, nil, newTestTracer(t))
	admin := Actor{Identity: models.AccountIdentity(uuid.New()), Admin: true}

	err := service.ChangeStatus(context.Background(), admin, invoice.ID, models.InvoiceDraft)
	require.NoError(t, err)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetHidesOtherIdentitiesInvoices(t *testing.T) {
	accountID := uuid.New()
	invoice := draftInvoice(accountID)

	repo := new(MockInvoiceRepository)
	repo.On("GetByID", mock.Anything, invoice.ID).Return(invoice, nil)

	service := NewInvoiceService(repo, nil, newTestTracer(t))
	ctx := context.Background()

	_, err := service.Get(ctx, Actor{Identity: models.AccountIdentity(uuid.New())}, invoice.ID)
	require.ErrorIs(t, err, ErrForbidden)

	got, err := service.Get(ctx, Actor{Identity: models.AccountIdentity(accountID)}, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.ID, got.ID)

	got, err = service.Get(ctx, Actor{Identity: models.AccountIdentity(uuid.New()), Admin: true}, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.ID, got.ID)
}

func TestOwnerDeleteDraft(t *testing.T) {
	accountID := uuid.New()
	invoice := draftInvoice(accountID)

	repo := new(MockInvoiceRepository)
	repo.On("GetByID", mock.Anything, invoice.ID).Return(invoice, nil)
	repo.On("Delete", mock.Anything, invoice.ID).Return(nil)

	service := NewInvoiceService(repo, nil, newTestTracer(t))
	actor := Actor{Identity: models.AccountIdentity(accountID)}

	require.NoError(t, service.Delete(context.Background(), actor, invoice.ID))
	repo.AssertExpectations(t)
}
