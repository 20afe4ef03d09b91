package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/storefront/services/checkout/internal/models"
)

// In-memory notification record store
type memNotificationStore struct {
	mu      sync.Mutex
	records []models.Notification
	// failFor makes Create error for one recipient
	failFor *uuid.UUID
}

func (m *memNotificationStore) Create(_ context.Context, record *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor != nil && *m.failFor == record.RecipientID {
		return ErrNotFound
	}
	m.records = append(m.records, *record)
	return nil
}

func (m *memNotificationStore) ListForRecipient(_ context.Context, recipientID uuid.UUID) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, r := range m.records {
		if r.RecipientID == recipientID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memNotificationStore) DeleteForInvoice(_ context.Context, recipientID, invoiceID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	kept := m.records[:0]
	for _, r := range m.records {
		if r.RecipientID == recipientID && r.InvoiceID != nil && *r.InvoiceID == invoiceID {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

// In-memory scheduled notification store
type memScheduledStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]models.ScheduledNotification
}

func newMemScheduledStore() *memScheduledStore {
	return &memScheduledStore{items: make(map[uuid.UUID]models.ScheduledNotification)}
}

func (m *memScheduledStore) Create(_ context.Context, item *models.ScheduledNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = *item
	return nil
}

func (m *memScheduledStore) GetByID(_ context.Context, id uuid.UUID) (*models.ScheduledNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &item, nil
}

func (m *memScheduledStore) Update(_ context.Context, item *models.ScheduledNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		return ErrNotFound
	}
	m.items[item.ID] = *item
	return nil
}

func (m *memScheduledStore) ListDue(_ context.Context, now time.Time, limit int) ([]models.ScheduledNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.ScheduledNotification
	for _, item := range m.items {
		if item.Status == models.ScheduledPending && !item.ScheduledFor.After(now) {
			due = append(due, item)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (m *memScheduledStore) RecordOutcome(_ context.Context, id uuid.UUID, status models.ScheduledStatus, successCount, failCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	item.Status = status
	item.SuccessCount = successCount
	item.FailCount = failCount
	m.items[id] = item
	return nil
}

// Fake token registry mapping accounts to device tokens
type fakeTokens struct {
	tokens map[uuid.UUID][]string
}

func (f *fakeTokens) Register(_ context.Context, accountID uuid.UUID, token string) error {
	if f.tokens == nil {
		f.tokens = make(map[uuid.UUID][]string)
	}
	f.tokens[accountID] = append(f.tokens[accountID], token)
	return nil
}

func (f *fakeTokens) Remove(_ context.Context, accountID uuid.UUID, token string) error {
	kept := f.tokens[accountID][:0]
	for _, existing := range f.tokens[accountID] {
		if existing != token {
			kept = append(kept, existing)
		}
	}
	f.tokens[accountID] = kept
	return nil
}

func (f *fakeTokens) TokensFor(_ context.Context, accountIDs []uuid.UUID) (map[uuid.UUID][]string, error) {
	out := make(map[uuid.UUID][]string)
	for _, id := range accountIDs {
		if tokens := f.tokens[id]; len(tokens) > 0 {
			out[id] = tokens
		}
	}
	return out, nil
}

// Mock PushSender for testing
type MockPushSender struct {
	mock.Mock
}

func (m *MockPushSender) Send(ctx context.Context, address string, payload PushPayload) error {
	args := m.Called(ctx, address, payload)
	return args.Error(0)
}

func invoiceEvent(invoiceID uuid.UUID) models.Event {
	return models.Event{
		Type:      models.EventInvoiceCreated,
		Title:     "New order received",
		Message:   "Invoice INV-2026-0001 created for 200.00",
		InvoiceID: &invoiceID,
		Payload: models.InvoiceCreatedPayload{
			InvoiceID:     invoiceID,
			InvoiceNumber: "INV-2026-0001",
			TotalAmount:   200,
		},
	}
}

func TestDispatchSavesRecordsAndTracksPushOutcome(t *testing.T) {
	recipients := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	tokens := &fakeTokens{}
	ctx := context.Background()
	require.NoError(t, tokens.Register(ctx, recipients[0], "tok-0"))
	require.NoError(t, tokens.Register(ctx, recipients[1], "tok-1"))
	require.NoError(t, tokens.Register(ctx, recipients[2], "tok-2"))

	push := new(MockPushSender)
	push.On("Send", mock.Anything, "tok-0", mock.Anything).Return(nil)
	push.On("Send", mock.Anything, "tok-1", mock.Anything).Return(ErrNotFound)
	push.On("Send", mock.Anything, "tok-2", mock.Anything).Return(nil)

	records := &memNotificationStore{}
	service := NewNotificationService(records, newMemScheduledStore(), tokens, push, newTestTracer(t), time.Second)

	report, err := service.Dispatch(ctx, invoiceEvent(uuid.New()), recipients)
	require.NoError(t, err)

	require.Equal(t, 3, report.TotalRecipients)
	require.Equal(t, 3, report.SavedToDatabase)
	require.Equal(t, 2, report.PushSuccessful)
	require.Equal(t, 1, report.PushFailed)
	require.True(t, report.Success())

	// A failed push never loses the durable record
	failed, err := service.ListForRecipient(ctx, recipients[1])
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, models.EventInvoiceCreated, failed[0].Type)
	push.AssertExpectations(t)
}

func TestDispatchSkipsPushForFailedRecord(t *testing.T) {
	recipients := []uuid.UUID{uuid.New(), uuid.New()}

	tokens := &fakeTokens{}
	ctx := context.Background()
	require.NoError(t, tokens.Register(ctx, recipients[0], "tok-0"))
	require.NoError(t, tokens.Register(ctx, recipients[1], "tok-1"))

	push := new(MockPushSender)
	push.On("Send", mock.Anything, "tok-1", mock.Anything).Return(nil)

	records := &memNotificationStore{failFor: &recipients[0]}
	service := NewNotificationService(records, newMemScheduledStore(), tokens, push, newTestTracer(t), time.Second)

	report, err := service.Dispatch(ctx, invoiceEvent(uuid.New()), recipients)
	require.NoError(t, err)

	require.Equal(t, 1, report.SavedToDatabase)
	require.Equal(t, 1, report.PushSuccessful)
	push.AssertNotCalled(t, "Send", mock.Anything, "tok-0", mock.Anything)
}

func TestDispatchWithoutPushSender(t *testing.T) {
	recipients := []uuid.UUID{uuid.New()}
	tokens := &fakeTokens{}
	require.NoError(t, tokens.Register(context.Background(), recipients[0], "tok-0"))

	records := &memNotificationStore{}
	service := NewNotificationService(records, newMemScheduledStore(), tokens, nil, newTestTracer(t), time.Second)

	report, err := service.Dispatch(context.Background(), invoiceEvent(uuid.New()), recipients)
	require.NoError(t, err)
	require.Equal(t, 1, report.SavedToDatabase)
	require.Zero(t, report.PushSuccessful)
	require.Zero(t, report.PushFailed)
	require.True(t, report.Success())
}

func TestMarkAndClearForInvoice(t *testing.T) {
	recipient := uuid.New()
	invoiceID := uuid.New()

	records := &memNotificationStore{}
	service := NewNotificationService(records, newMemScheduledStore(), &fakeTokens{}, nil, newTestTracer(t), time.Second)
	ctx := context.Background()

	_, err := service.Dispatch(ctx, invoiceEvent(invoiceID), []uuid.UUID{recipient})
	require.NoError(t, err)
	_, err = service.Dispatch(ctx, invoiceEvent(uuid.New()), []uuid.UUID{recipient})
	require.NoError(t, err)

	cleared, err := service.MarkAndClearForInvoice(ctx, recipient, invoiceID)
	require.NoError(t, err)
	require.Equal(t, int64(1), cleared)

	remaining, err := service.ListForRecipient(ctx, recipient)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}

func TestScheduleValidation(t *testing.T) {
	service := NewNotificationService(&memNotificationStore{}, newMemScheduledStore(), &fakeTokens{}, nil, newTestTracer(t), time.Second)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	_, err := service.Schedule(ctx, ScheduleInput{Message: "m", ScheduledFor: future, RecipientIDs: []uuid.UUID{uuid.New()}})
	require.True(t, IsValidationError(err))

	_, err = service.Schedule(ctx, ScheduleInput{Title: "t", ScheduledFor: future})
	require.True(t, IsValidationError(err))

	_, err = service.Schedule(ctx, ScheduleInput{Title: "t", ScheduledFor: time.Now().Add(-time.Minute), RecipientIDs: []uuid.UUID{uuid.New()}})
	require.True(t, IsValidationError(err))

	item, err := service.Schedule(ctx, ScheduleInput{Title: "t", Message: "m", ScheduledFor: future, RecipientIDs: []uuid.UUID{uuid.New()}})
	require.NoError(t, err)
	require.Equal(t, models.ScheduledPending, item.Status)
}

func TestOnlyPendingSchedulesAreEditable(t *testing.T) {
	scheduled := newMemScheduledStore()
	service := NewNotificationService(&memNotificationStore{}, scheduled, &fakeTokens{}, nil, newTestTracer(t), time.Second)
	ctx := context.Background()

	item, err := service.Schedule(ctx, ScheduleInput{
		Title:        "Sale starts",
		Message:      "Everything must go",
		ScheduledFor: time.Now().Add(time.Hour),
		RecipientIDs: []uuid.UUID{uuid.New()},
	})
	require.NoError(t, err)

	updated, err := service.UpdateSchedule(ctx, item.ID, ScheduleInput{Title: "Sale starts early"})
	require.NoError(t, err)
	require.Equal(t, "Sale starts early", updated.Title)
	require.Equal(t, "Everything must go", updated.Message)

	// An edit cannot backdate the item so the sweep fires it early
	_, err = service.UpdateSchedule(ctx, item.ID, ScheduleInput{ScheduledFor: time.Now().Add(-time.Minute)})
	require.True(t, IsValidationError(err))

	require.NoError(t, scheduled.RecordOutcome(ctx, item.ID, models.ScheduledSent, 1, 0))

	_, err = service.UpdateSchedule(ctx, item.ID, ScheduleInput{Title: "Too late"})
	require.ErrorIs(t, err, ErrNotEditable)

	err = service.CancelSchedule(ctx, item.ID)
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestCancelPendingSchedule(t *testing.T) {
	scheduled := newMemScheduledStore()
	service := NewNotificationService(&memNotificationStore{}, scheduled, &fakeTokens{}, nil, newTestTracer(t), time.Second)
	ctx := context.Background()

	item, err := service.Schedule(ctx, ScheduleInput{
		Title:        "Sale starts",
		Message:      "Everything must go",
		ScheduledFor: time.Now().Add(time.Hour),
		RecipientIDs: []uuid.UUID{uuid.New()},
	})
	require.NoError(t, err)

	require.NoError(t, service.CancelSchedule(ctx, item.ID))

	got, err := scheduled.GetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, models.ScheduledCancelled, got.Status)
}

func TestProcessDueRecordsOutcomes(t *testing.T) {
	goodRecipient := uuid.New()
	badRecipient := uuid.New()

	scheduled := newMemScheduledStore()
	records := &memNotificationStore{failFor: &badRecipient}
	service := NewNotificationService(records, scheduled, &fakeTokens{}, nil, newTestTracer(t), time.Second)
	ctx := context.Background()

	base := time.Now()
	service.now = func() time.Time { return base.Add(2 * time.Hour) }

	good, err := service.Schedule(ctx, ScheduleInput{
		Title:        "Restock",
		Message:      "Back in stock",
		ScheduledFor: base.Add(3 * time.Hour),
		RecipientIDs: []uuid.UUID{goodRecipient},
	})
	require.NoError(t, err)
	bad, err := service.Schedule(ctx, ScheduleInput{
		Title:        "Restock",
		Message:      "Back in stock",
		ScheduledFor: base.Add(3 * time.Hour),
		RecipientIDs: []uuid.UUID{badRecipient},
	})
	require.NoError(t, err)

	// Advance past the scheduled time and sweep
	service.now = func() time.Time { return base.Add(4 * time.Hour) }
	require.NoError(t, service.ProcessDue(ctx, 10))

	gotGood, err := scheduled.GetByID(ctx, good.ID)
	require.NoError(t, err)
	require.Equal(t, models.ScheduledSent, gotGood.Status)
	require.Equal(t, 1, gotGood.SuccessCount)
	require.Zero(t, gotGood.FailCount)

	// No record could be written for the failing recipient
	gotBad, err := scheduled.GetByID(ctx, bad.ID)
	require.NoError(t, err)
	require.Equal(t, models.ScheduledFailed, gotBad.Status)
	require.Zero(t, gotBad.SuccessCount)
	require.Equal(t, 1, gotBad.FailCount)

	// A second sweep finds nothing Pending
	require.NoError(t, service.ProcessDue(ctx, 10))
	gotGood, err = scheduled.GetByID(ctx, good.ID)
	require.NoError(t, err)
	require.Equal(t, models.ScheduledSent, gotGood.Status)
}
