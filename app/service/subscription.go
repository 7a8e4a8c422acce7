package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradelens/ms-go-billing/app/entity"
)

func (s *BillingService) GetSubscription(ctx context.Context, userID string) (*entity.Subscription, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}

	subscription, err := s.subRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, ErrSubscriptionNotFound
	}
	return subscription, nil
}

// CancelSubscription closes the subscription and invalidates stored tokens.
// The row is kept with cancelled_at set; cancelled is terminal.
func (s *BillingService) CancelSubscription(ctx context.Context, userID string) (*entity.Subscription, error) {
	subscription, err := s.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	if entity.SubscriptionStatusTerminal(subscription.Status) {
		return nil, fmt.Errorf("%w: subscription is already cancelled", ErrInvalidStatus)
	}

	now := time.Now().UTC()
	subscription.Status = entity.SubscriptionStatusCancelled
	subscription.CancelledAt = &now
	subscription.NextChargeAt = nil
	subscription.UpdatedAt = now
	if err := s.subRepo.Update(ctx, subscription); err != nil {
		return nil, err
	}

	if err := s.tokenRepo.Invalidate(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to invalidate tokens")
	}

	currency := ""
	if plan, planErr := s.planRepo.FindByCode(ctx, subscription.PlanCode); planErr == nil && plan != nil {
		currency = plan.Currency
	}

	entry := &entity.LedgerEntry{
		UserID:         &userID,
		SubscriptionID: &subscription.ID,
		Amount:         decimal.Zero,
		Currency:       currency,
		Status:         entity.LedgerStatusCompleted,
		Description:    fmt.Sprintf("subscription cancelled for plan %s", subscription.PlanCode),
		CreatedAt:      now,
	}
	if err := s.ledgerRepo.Create(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to record cancellation")
	}

	return subscription, nil
}
