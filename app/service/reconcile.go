package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradelens/ms-go-billing/app/entity"
	"github.com/tradelens/ms-go-billing/app/repository"
)

// confirmation is a success event normalized from any channel (webhook,
// redirect verification, direct status query).
type confirmation struct {
	Token         string
	TokenExpiry   *time.Time
	TransactionID string
	InvoiceNumber string
	CardBrand     string
	CardLast4     string
	CardExpiry    string
}

// applyConfirmation is the shared mutation behind every confirmation
// channel. A session already in a terminal state is a no-op: the webhook,
// redirect, and poller race freely and only the first arrival mutates. Core
// writes (subscription, token, ledger, session) propagate errors and leave
// the session retryable; side effects are logged and swallowed.
func (s *BillingService) applyConfirmation(ctx context.Context, session *entity.CheckoutSession, userID string, conf *confirmation) error {
	if entity.SessionStatusTerminal(session.Status) {
		return nil
	}
	if userID == "" {
		return ErrIdentityUnresolved
	}

	plan, err := s.planRepo.FindByCode(ctx, session.PlanCode)
	if err != nil {
		return err
	}
	if plan == nil {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, session.PlanCode)
	}

	now := time.Now().UTC()

	subscription, err := s.subRepo.FindByUserID(ctx, userID)
	if err != nil {
		return err
	}

	created := subscription == nil
	if created {
		subscription = &entity.Subscription{
			UserID:    userID,
			CreatedAt: now,
		}
	}

	subscription.PlanCode = plan.Code
	subscription.FailCount = 0
	subscription.CancelledAt = nil
	applyPlanSchedule(subscription, plan, session.Operation, now)

	if conf.CardBrand != "" {
		subscription.CardBrand = &conf.CardBrand
	}
	if conf.CardLast4 != "" {
		subscription.CardLast4 = &conf.CardLast4
	}
	if conf.CardExpiry != "" {
		subscription.CardExpiry = &conf.CardExpiry
	}
	if conf.Token != "" {
		subscription.TokenRef = &conf.Token
	}
	subscription.UpdatedAt = now

	if created {
		if err := s.subRepo.Create(ctx, subscription); err != nil {
			if !errors.Is(err, repository.ErrSubscriptionAlreadyExists) {
				return err
			}
			// lost a race with another channel; the winner's state stands
			return nil
		}
	} else {
		if err := s.subRepo.Update(ctx, subscription); err != nil {
			return err
		}
	}

	if conf.Token != "" {
		if err := s.storeTokenOnce(ctx, userID, conf); err != nil {
			return err
		}
	}

	entry := &entity.LedgerEntry{
		UserID:           &userID,
		SubscriptionID:   &subscription.ID,
		SessionReference: &session.Reference,
		Amount:           session.Amount,
		Currency:         session.Currency,
		Status:           entity.LedgerStatusCompleted,
		Description:      fmt.Sprintf("payment confirmed for plan %s", plan.Code),
		TransactionID:    normalizeOptionalString(conf.TransactionID),
		InvoiceNumber:    normalizeOptionalString(conf.InvoiceNumber),
		CardBrand:        normalizeOptionalString(conf.CardBrand),
		CardLast4:        normalizeOptionalString(conf.CardLast4),
		CreatedAt:        now,
	}
	if err := s.ledgerRepo.Create(ctx, entry); err != nil {
		return err
	}

	session.UserID = &userID
	session.Status = entity.SessionStatusCompleted
	session.TransactionID = normalizeOptionalString(conf.TransactionID)
	session.InvoiceNumber = normalizeOptionalString(conf.InvoiceNumber)
	session.UpdatedAt = now
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		return err
	}

	s.sendMail(session.Email, "Your subscription is confirmed",
		fmt.Sprintf("Payment for plan %s was received. Thank you!", plan.Name))

	return nil
}

// storeTokenOnce guards on (user, token), not on request count: replays and
// racing channels insert the credential at most once.
func (s *BillingService) storeTokenOnce(ctx context.Context, userID string, conf *confirmation) error {
	existing, err := s.tokenRepo.FindByUserAndToken(ctx, userID, conf.Token)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	now := time.Now().UTC()
	err = s.tokenRepo.Create(ctx, &entity.PaymentToken{
		UserID:    userID,
		Token:     conf.Token,
		ExpiresAt: conf.TokenExpiry,
		CardBrand: normalizeOptionalString(conf.CardBrand),
		CardLast4: normalizeOptionalString(conf.CardLast4),
		Valid:     true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, repository.ErrTokenAlreadyExists) {
		return nil
	}
	return err
}

// markSessionFailed records a definitive gateway rejection. Terminal
// sessions are left untouched.
func (s *BillingService) markSessionFailed(ctx context.Context, session *entity.CheckoutSession, reason string) error {
	if entity.SessionStatusTerminal(session.Status) {
		return nil
	}

	now := time.Now().UTC()
	trimmed := truncate(reason, 1024)
	session.Status = entity.SessionStatusFailed
	session.FailureReason = &trimmed
	session.UpdatedAt = now
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		return err
	}

	entry := &entity.LedgerEntry{
		UserID:           session.UserID,
		SessionReference: &session.Reference,
		Amount:           session.Amount,
		Currency:         session.Currency,
		Status:           entity.LedgerStatusFailed,
		Description:      trimmed,
		CreatedAt:        now,
	}
	if err := s.ledgerRepo.Create(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("reference", session.Reference).Warn("Failed to record failed payment")
	}

	s.sendMail(session.Email, "Payment failed",
		"Your payment could not be completed. Please try again or contact support.")

	return nil
}

// applyPlanSchedule computes the subscription status and period fields from
// the plan duration table. Tokenize-only confirmations open a trial; any
// charging confirmation activates immediately. Lifetime plans never carry
// renewal fields.
func applyPlanSchedule(subscription *entity.Subscription, plan *entity.Plan, operation int32, now time.Time) {
	if !plan.Recurring() {
		subscription.Status = entity.SubscriptionStatusActive
		subscription.TrialEndsAt = nil
		subscription.CurrentPeriodEndsAt = nil
		subscription.NextChargeAt = nil
		return
	}

	periodEnd := addPlanInterval(now, plan)

	if operation == entity.OperationCreateTokenOnly {
		subscription.Status = entity.SubscriptionStatusTrial
		subscription.TrialEndsAt = &periodEnd
	} else {
		subscription.Status = entity.SubscriptionStatusActive
		subscription.TrialEndsAt = nil
	}
	subscription.CurrentPeriodEndsAt = &periodEnd
	subscription.NextChargeAt = &periodEnd
}

func addPlanInterval(from time.Time, plan *entity.Plan) time.Time {
	if plan.Interval != nil && *plan.Interval == entity.PlanIntervalYear {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}
