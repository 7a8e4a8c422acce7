package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tradelens/ms-go-billing/app/entity"
	"github.com/tradelens/ms-go-billing/app/gateway"
)

type SweepReport struct {
	Scanned int32
	Applied int32
	Failed  int32
}

// RunSweepWebhooksBatch retries webhook records that never mapped to a user
// or session. Identity is re-resolved first through the session, then by
// matching the payload email against the user directory; a match is patched
// onto the record before it is re-driven through the receiver path. Records
// are never deleted.
func (s *BillingService) RunSweepWebhooksBatch(ctx context.Context) (*SweepReport, error) {
	now := time.Now().UTC()
	since := now.Add(-s.billingCfg.SweepWindow)
	records, err := s.webhookRepo.ListUnprocessed(ctx, s.billingCfg.SweepMaxAttempts, since, s.batchSize())
	if err != nil {
		return nil, err
	}

	report := &SweepReport{}
	var firstErr error
	for _, record := range records {
		if record == nil {
			continue
		}
		report.Scanned++

		notification, err := gateway.ParseNotification(nil, "", []byte(record.PayloadJSON))
		if err != nil {
			report.Failed++
			result := truncate(err.Error(), 1024)
			record.Result = &result
			record.Attempts++
			record.UpdatedAt = time.Now().UTC()
			if updateErr := s.webhookRepo.Update(ctx, record); updateErr != nil {
				firstErr = keepFirstErr(firstErr, updateErr)
			}
			continue
		}

		if err := s.recoverIdentity(ctx, record, notification); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}

		if err := s.processNotification(ctx, record, notification); err != nil {
			report.Failed++
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		report.Applied++
	}

	s.logger.WithField("scanned", report.Scanned).
		WithField("applied", report.Applied).
		WithField("failed", report.Failed).
		Info("Webhook sweep finished")

	return report, firstErr
}

func (s *BillingService) recoverIdentity(ctx context.Context, record *entity.WebhookRecord, notification *gateway.Notification) error {
	if record.UserID != nil {
		return nil
	}

	if notification.Reference != "" {
		session, err := s.sessionRepo.FindByReference(ctx, notification.Reference)
		if err != nil {
			return err
		}
		if session != nil && session.UserID != nil {
			record.UserID = session.UserID
			return nil
		}
	}

	if notification.Email == "" {
		return nil
	}
	userID, err := s.users.FindIDByEmail(ctx, notification.Email)
	if err != nil {
		return err
	}
	if userID != "" {
		record.UserID = &userID
	}
	return nil
}

// RunRenewalsBatch charges stored tokens for subscriptions whose renewal is
// due. The renewal path follows the same one-transition-per-confirmation
// discipline as the purchase path: a success advances the period exactly
// once, and three consecutive failures suspend the subscription.
func (s *BillingService) RunRenewalsBatch(ctx context.Context) error {
	now := time.Now().UTC()
	subscriptions, err := s.subRepo.ListDueRenewal(ctx, now, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, subscription := range subscriptions {
		if subscription == nil {
			continue
		}
		if err := s.renewOne(ctx, subscription); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *BillingService) renewOne(ctx context.Context, subscription *entity.Subscription) error {
	plan, err := s.planRepo.FindByCode(ctx, subscription.PlanCode)
	if err != nil {
		return err
	}
	if plan == nil || !plan.Recurring() {
		return nil
	}

	if subscription.TokenRef == nil || *subscription.TokenRef == "" {
		return s.recordRenewalFailure(ctx, subscription, plan, "no stored payment token")
	}

	reference := fmt.Sprintf("rn_%d_%d", subscription.ID, time.Now().UTC().UnixNano())
	output, err := s.gateway.ChargeToken(ctx, &gateway.ChargeTokenInput{
		Token:     *subscription.TokenRef,
		Amount:    plan.Amount,
		Currency:  plan.Currency,
		Reference: reference,
	})
	if err != nil {
		return s.recordRenewalFailure(ctx, subscription, plan, truncate(err.Error(), 1024))
	}
	if output.ResponseCode != 0 {
		return s.recordRenewalFailure(ctx, subscription, plan,
			fmt.Sprintf("gateway rejection: code=%d description=%s", output.ResponseCode, output.Description))
	}

	now := time.Now().UTC()
	periodEnd := addPlanInterval(now, plan)
	subscription.Status = entity.SubscriptionStatusActive
	subscription.TrialEndsAt = nil
	subscription.CurrentPeriodEndsAt = &periodEnd
	subscription.NextChargeAt = &periodEnd
	subscription.FailCount = 0
	subscription.UpdatedAt = now
	if err := s.subRepo.Update(ctx, subscription); err != nil {
		return err
	}

	entry := &entity.LedgerEntry{
		UserID:         &subscription.UserID,
		SubscriptionID: &subscription.ID,
		Amount:         plan.Amount,
		Currency:       plan.Currency,
		Status:         entity.LedgerStatusRenewed,
		Description:    fmt.Sprintf("renewal charge for plan %s", plan.Code),
		TransactionID:  normalizeOptionalString(output.TransactionID),
		InvoiceNumber:  normalizeOptionalString(output.InvoiceNumber),
		CardBrand:      subscription.CardBrand,
		CardLast4:      subscription.CardLast4,
		CreatedAt:      now,
	}
	if err := s.ledgerRepo.Create(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("subscription_id", subscription.ID).Warn("Failed to record renewal")
	}

	return nil
}

func (s *BillingService) recordRenewalFailure(ctx context.Context, subscription *entity.Subscription, plan *entity.Plan, reason string) error {
	now := time.Now().UTC()
	subscription.FailCount++
	suspended := subscription.FailCount >= s.billingCfg.RenewalFailThreshold
	if suspended {
		subscription.Status = entity.SubscriptionStatusSuspended
		subscription.NextChargeAt = nil
	}
	subscription.UpdatedAt = now
	if err := s.subRepo.Update(ctx, subscription); err != nil {
		return err
	}

	entry := &entity.LedgerEntry{
		UserID:         &subscription.UserID,
		SubscriptionID: &subscription.ID,
		Amount:         plan.Amount,
		Currency:       plan.Currency,
		Status:         entity.LedgerStatusRenewalFailed,
		Description:    reason,
		CreatedAt:      now,
	}
	if err := s.ledgerRepo.Create(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("subscription_id", subscription.ID).Warn("Failed to record renewal failure")
	}

	s.logger.WithField("subscription_id", subscription.ID).
		WithField("fail_count", subscription.FailCount).
		WithField("suspended", suspended).
		Warn("Renewal charge failed")

	if suspended {
		email, err := s.users.FindEmailByID(ctx, subscription.UserID)
		if err != nil {
			s.logger.WithError(err).WithField("user_id", subscription.UserID).Warn("Owner lookup for suspension mail failed")
			return nil
		}
		s.sendMail(email, "Your subscription is suspended",
			"We could not renew your subscription after several attempts. Please update your payment details to restore access.")
	}

	return nil
}

// RunExpireSessionsBatch closes open sessions whose expiry has passed;
// sessions only ever expire logically, they are never deleted.
func (s *BillingService) RunExpireSessionsBatch(ctx context.Context) error {
	now := time.Now().UTC()
	sessions, err := s.sessionRepo.ListExpiredOpen(ctx, now, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, session := range sessions {
		if session == nil || entity.SessionStatusTerminal(session.Status) {
			continue
		}
		session.Status = entity.SessionStatusExpired
		session.UpdatedAt = now
		if err := s.sessionRepo.Update(ctx, session); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
