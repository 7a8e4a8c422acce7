package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tradelens/ms-go-billing/app/entity"
	"github.com/tradelens/ms-go-billing/app/gateway"
)

// HandleGatewayNotification persists the raw notification and tries to apply
// it. Errors never reach the gateway: the webhook endpoint answers 200
// regardless, and anything unresolved stays on the record for the sweeper.
func (s *BillingService) HandleGatewayNotification(ctx context.Context, notification *gateway.Notification, rawPayload string) {
	now := time.Now().UTC()
	record := &entity.WebhookRecord{
		Reference:   normalizeOptionalString(notification.Reference),
		PayloadJSON: rawPayload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.webhookRepo.Create(ctx, record); err != nil {
		s.logger.WithError(err).Error("Failed to persist webhook record")
		return
	}

	if err := s.processNotification(ctx, record, notification); err != nil {
		s.logger.WithError(err).
			WithField("reference", notification.Reference).
			WithField("webhook_id", record.ID).
			Warn("Webhook left unprocessed")
	}
}

// processNotification drives one webhook record through the reconciliation
// core and writes the attempt outcome back onto the record. Both the webhook
// receiver and the sweeper funnel through here.
func (s *BillingService) processNotification(ctx context.Context, record *entity.WebhookRecord, notification *gateway.Notification) error {
	record.Attempts++

	outcomeErr := s.resolveAndApply(ctx, record, notification)

	if outcomeErr != nil {
		result := truncate(outcomeErr.Error(), 1024)
		record.Result = &result
	}
	record.UpdatedAt = time.Now().UTC()
	if err := s.webhookRepo.Update(ctx, record); err != nil {
		s.logger.WithError(err).WithField("webhook_id", record.ID).Error("Failed to update webhook record")
	}

	return outcomeErr
}

func (s *BillingService) resolveAndApply(ctx context.Context, record *entity.WebhookRecord, notification *gateway.Notification) error {
	session, err := s.resolveSession(ctx, notification)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("%w: reference=%q", ErrUnknownSession, notification.Reference)
	}

	if entity.SessionStatusTerminal(session.Status) {
		s.attachLateInvoice(ctx, session, notification)
		s.markRecordApplied(record, "duplicate delivery for settled session")
		return nil
	}

	if !notification.SuccessFor(session.Operation) {
		reason := rejectionReason(notification)
		if err := s.markSessionFailed(ctx, session, reason); err != nil {
			return err
		}
		s.markRecordApplied(record, reason)
		return nil
	}

	userID := ""
	if session.UserID != nil {
		userID = *session.UserID
	} else if record.UserID != nil {
		userID = *record.UserID
	}
	if userID == "" {
		return fmt.Errorf("%w: reference=%q", ErrIdentityUnresolved, session.Reference)
	}

	if err := s.applyConfirmation(ctx, session, userID, &confirmation{
		Token:         notification.Token,
		TokenExpiry:   notification.TokenExpiry,
		TransactionID: notification.TransactionID,
		InvoiceNumber: notification.InvoiceNumber,
		CardBrand:     notification.CardBrand,
		CardLast4:     notification.CardLast4,
	}); err != nil {
		return err
	}

	s.markRecordApplied(record, "applied")
	return nil
}

func (s *BillingService) resolveSession(ctx context.Context, notification *gateway.Notification) (*entity.CheckoutSession, error) {
	if notification.Reference != "" {
		session, err := s.sessionRepo.FindByReference(ctx, notification.Reference)
		if err != nil || session != nil {
			return session, err
		}
	}
	if notification.LowProfileID != "" {
		return s.sessionRepo.FindByLowProfileID(ctx, notification.LowProfileID)
	}
	return nil, nil
}

// attachLateInvoice picks up the invoice document the gateway issues
// asynchronously. When another channel settled the session first, the
// webhook replay may be the only carrier of the document number.
func (s *BillingService) attachLateInvoice(ctx context.Context, session *entity.CheckoutSession, notification *gateway.Notification) {
	if notification.InvoiceNumber == "" || session.Status != entity.SessionStatusCompleted {
		return
	}

	entry, err := s.ledgerRepo.FindBySessionReference(ctx, session.Reference)
	if err != nil {
		s.logger.WithError(err).WithField("reference", session.Reference).Warn("Ledger lookup for late invoice failed")
		return
	}
	if entry == nil || entry.DocumentRef != nil {
		return
	}

	if err := s.ledgerRepo.AttachDocument(ctx, entry.ID, notification.InvoiceNumber); err != nil {
		s.logger.WithError(err).WithField("ledger_id", entry.ID).Warn("Failed to attach invoice document")
	}
}

func (s *BillingService) markRecordApplied(record *entity.WebhookRecord, result string) {
	record.Processed = true
	trimmed := truncate(result, 1024)
	record.Result = &trimmed
}

func rejectionReason(notification *gateway.Notification) string {
	return fmt.Sprintf("gateway rejection: operation=%s deal=%s token=%s",
		codeString(notification.OperationResponse),
		codeString(notification.DealResponse),
		codeString(notification.TokenResponse))
}

func codeString(code *int) string {
	if code == nil {
		return "absent"
	}
	return fmt.Sprintf("%d", *code)
}
