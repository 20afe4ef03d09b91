package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/checkout/internal/models"
	"example.com/storefront/services/checkout/internal/tracing"
)

// DefaultPushTimeout bounds each best-effort push attempt.
const DefaultPushTimeout = 5 * time.Second

// DeliveryReport aggregates the per-recipient outcomes of one fan-out.
// SavedToDatabase, not push delivery, decides overall success.
type DeliveryReport struct {
	TotalRecipients int `json:"total_recipients"`
	SavedToDatabase int `json:"saved_to_database"`
	PushSuccessful  int `json:"push_successful"`
	PushFailed      int `json:"push_failed"`
}

// Success reports whether the event was durably recorded for at least
// one recipient.
func (r DeliveryReport) Success() bool {
	return r.SavedToDatabase > 0
}

// NotificationService fans events out to recipients and runs the
// scheduled-notification state machine.
type NotificationService struct {
	records     NotificationStore
	scheduled   ScheduledStore
	tokens      DeviceTokenStore
	push        PushSender
	tracer      tracing.Tracer
	pushTimeout time.Duration
	now         func() time.Time
}

// NewNotificationService creates a new notification service
func NewNotificationService(
	records NotificationStore,
	scheduled ScheduledStore,
	tokens DeviceTokenStore,
	push PushSender,
	tracer tracing.Tracer,
	pushTimeout time.Duration,
) *NotificationService {
	if pushTimeout <= 0 {
		pushTimeout = DefaultPushTimeout
	}
	return &NotificationService{
		records:     records,
		scheduled:   scheduled,
		tokens:      tokens,
		push:        push,
		tracer:      tracer,
		pushTimeout: pushTimeout,
		now:         time.Now,
	}
}

// Dispatch writes one durable record per recipient, then attempts a
// best-effort push for every recipient with a registered device token.
// The record write always happens first and outside any push handling;
// a push failure for one recipient affects neither its own record nor
// any other recipient.
func (s *NotificationService) Dispatch(ctx context.Context, event models.Event, recipients []uuid.UUID) (DeliveryReport, error) {
	txn := s.tracer.StartTransaction("notification-dispatch")
	defer s.tracer.EndTransaction(txn)

	report := DeliveryReport{TotalRecipients: len(recipients)}

	payload, err := event.EncodePayload()
	if err != nil {
		s.tracer.RecordError(txn, err)
		return report, err
	}

	addresses := map[uuid.UUID][]string{}
	if s.tokens != nil {
		addresses, err = s.tokens.TokensFor(ctx, recipients)
		if err != nil {
			// Addresses are only needed for the best-effort push leg.
			log.Warn().Err(err).Msg("Failed to resolve device tokens, skipping push attempts")
			addresses = map[uuid.UUID][]string{}
		}
	}

	for _, recipient := range recipients {
		record := &models.Notification{
			ID:          uuid.New(),
			RecipientID: recipient,
			Title:       event.Title,
			Message:     event.Message,
			Type:        event.Type,
			Payload:     payload,
			InvoiceID:   event.InvoiceID,
		}
		if err := s.records.Create(ctx, record); err != nil {
			log.Error().Err(err).
				Str("recipient_id", recipient.String()).
				Msg("Failed to persist notification record")
			s.tracer.RecordError(txn, err)
			continue
		}
		report.SavedToDatabase++

		tokens := addresses[recipient]
		if s.push == nil || len(tokens) == 0 {
			continue
		}
		if s.pushRecipient(ctx, tokens, event, payload) {
			report.PushSuccessful++
		} else {
			report.PushFailed++
		}
	}

	return report, nil
}

// pushRecipient tries each of the recipient's addresses with a bounded
// timeout. The recipient counts as delivered if any address succeeds.
func (s *NotificationService) pushRecipient(ctx context.Context, tokens []string, event models.Event, payload []byte) bool {
	body := PushPayload{
		Title:   event.Title,
		Message: event.Message,
		Type:    string(event.Type),
		Data:    payload,
	}

	delivered := false
	for _, token := range tokens {
		pushCtx, cancel := context.WithTimeout(ctx, s.pushTimeout)
		err := s.push.Send(pushCtx, token, body)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("Push delivery failed")
			continue
		}
		delivered = true
	}
	return delivered
}

// ListForRecipient returns the recipient's durable records
func (s *NotificationService) ListForRecipient(ctx context.Context, recipientID uuid.UUID) ([]models.Notification, error) {
	return s.records.ListForRecipient(ctx, recipientID)
}

// MarkAndClearForInvoice removes the recipient's notifications that
// reference the invoice. Callers invoke it explicitly when the invoice
// is viewed; it is not a hidden side effect of the read itself.
func (s *NotificationService) MarkAndClearForInvoice(ctx context.Context, recipientID, invoiceID uuid.UUID) (int64, error) {
	return s.records.DeleteForInvoice(ctx, recipientID, invoiceID)
}

// ScheduleInput describes a deferred notification
type ScheduleInput struct {
	Title        string
	Message      string
	ScheduledFor time.Time
	RecipientIDs []uuid.UUID
}

// Schedule creates a Pending deferred notification
func (s *NotificationService) Schedule(ctx context.Context, input ScheduleInput) (*models.ScheduledNotification, error) {
	if input.Title == "" {
		return nil, NewValidationError("title", "must not be empty")
	}
	if len(input.RecipientIDs) == 0 {
		return nil, NewValidationError("recipient_ids", "must not be empty")
	}
	if !input.ScheduledFor.After(s.now()) {
		return nil, NewValidationError("scheduled_for", "must be in the future")
	}

	item := &models.ScheduledNotification{
		ID:           uuid.New(),
		Title:        input.Title,
		Message:      input.Message,
		ScheduledFor: input.ScheduledFor,
		Status:       models.ScheduledPending,
		RecipientIDs: input.RecipientIDs,
	}
	if err := s.scheduled.Create(ctx, item); err != nil {
		return nil, errors.Wrap(err, "failed to create scheduled notification")
	}
	return item, nil
}

// UpdateSchedule edits a scheduled notification. Only Pending items are
// editable.
func (s *NotificationService) UpdateSchedule(ctx context.Context, id uuid.UUID, input ScheduleInput) (*models.ScheduledNotification, error) {
	item, err := s.scheduled.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ScheduledPending {
		return nil, errors.Wrapf(ErrNotEditable, "scheduled notification is %s", item.Status)
	}

	if input.Title != "" {
		item.Title = input.Title
	}
	if input.Message != "" {
		item.Message = input.Message
	}
	if !input.ScheduledFor.IsZero() {
		if !input.ScheduledFor.After(s.now()) {
			return nil, NewValidationError("scheduled_for", "must be in the future")
		}
		item.ScheduledFor = input.ScheduledFor
	}
	if len(input.RecipientIDs) > 0 {
		item.RecipientIDs = input.RecipientIDs
	}

	if err := s.scheduled.Update(ctx, item); err != nil {
		return nil, errors.Wrap(err, "failed to update scheduled notification")
	}
	return item, nil
}

// CancelSchedule cancels a Pending scheduled notification
func (s *NotificationService) CancelSchedule(ctx context.Context, id uuid.UUID) error {
	item, err := s.scheduled.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != models.ScheduledPending {
		return errors.Wrapf(ErrNotEditable, "scheduled notification is %s", item.Status)
	}
	return s.scheduled.RecordOutcome(ctx, id, models.ScheduledCancelled, item.SuccessCount, item.FailCount)
}

// ProcessDue dispatches due Pending notifications through the same
// fan-out contract and records per-item outcomes. One failing item
// never stops the sweep.
func (s *NotificationService) ProcessDue(ctx context.Context, limit int) error {
	txn := s.tracer.StartTransaction("scheduled-notification-sweep")
	defer s.tracer.EndTransaction(txn)

	due, err := s.scheduled.ListDue(ctx, s.now(), limit)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return errors.Wrap(err, "failed to list due notifications")
	}
	if len(due) == 0 {
		return nil
	}

	log.Info().Int("due", len(due)).Msg("Processing due scheduled notifications")

	for i := range due {
		item := due[i]
		event := models.Event{
			Type:    models.EventScheduledCustom,
			Title:   item.Title,
			Message: item.Message,
			Payload: models.ScheduledCustomPayload{ScheduledNotificationID: item.ID},
		}

		report, err := s.Dispatch(ctx, event, item.RecipientIDs)
		if err != nil {
			log.Error().Err(err).
				Str("scheduled_id", item.ID.String()).
				Msg("Failed to dispatch scheduled notification")
			s.tracer.RecordError(txn, err)
		}

		status := models.ScheduledSent
		if !report.Success() {
			status = models.ScheduledFailed
		}
		// Counts track durable records, the same measure Success() uses.
		// Push is best-effort and may legitimately be absent entirely.
		saved := report.SavedToDatabase
		if err := s.scheduled.RecordOutcome(ctx, item.ID, status, saved, report.TotalRecipients-saved); err != nil {
			log.Error().Err(err).
				Str("scheduled_id", item.ID.String()).
				Msg("Failed to record scheduled notification outcome")
			s.tracer.RecordError(txn, err)
		}
	}
	return nil
}
