package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tradelens/ms-go-billing/app/entity"
	"github.com/tradelens/ms-go-billing/app/gateway"
	"github.com/tradelens/ms-go-billing/app/repository"
	"github.com/tradelens/ms-go-billing/app/types"
)

type CheckoutResult struct {
	Session     *entity.CheckoutSession
	CheckoutURL string
}

// CreateCheckout opens a hosted-payment session for a plan. An open
// not-yet-expired session for the same user and plan is returned as-is
// instead of creating a second pending session.
func (s *BillingService) CreateCheckout(ctx context.Context, req *types.CreateCheckoutRequest) (*CheckoutResult, error) {
	if req.Email == "" || req.PlanCode == "" {
		return nil, ErrInvalidRequest
	}

	plan, err := s.planRepo.FindByCode(ctx, req.PlanCode)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}

	now := time.Now().UTC()

	if req.UserID != "" {
		existing, err := s.sessionRepo.FindOpenByUserAndPlan(ctx, req.UserID, plan.Code, now)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return replayResult(existing), nil
		}
	}

	session := &entity.CheckoutSession{
		Reference: "cs_" + uuid.NewString(),
		UserID:    normalizeOptionalString(req.UserID),
		Email:     req.Email,
		FullName:  req.FullName,
		Phone:     normalizeOptionalString(req.Phone),
		PlanCode:  plan.Code,
		Amount:    plan.Amount,
		Currency:  plan.Currency,
		Operation: plan.Operation,
		Status:    entity.SessionStatusPending,
		ExpiresAt: now.Add(s.billingCfg.SessionTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(req.Registration) > 0 {
		raw := string(req.Registration)
		session.RegistrationJSON = &raw
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrSessionAlreadyExists) {
			replay, findErr := s.sessionRepo.FindByReference(ctx, session.Reference)
			if findErr != nil {
				return nil, findErr
			}
			if replay != nil {
				return replayResult(replay), nil
			}
		}
		return nil, err
	}

	output, err := s.gateway.CreateSession(ctx, &gateway.CreateSessionInput{
		Operation:  session.Operation,
		Reference:  session.Reference,
		Amount:     session.Amount,
		Currency:   session.Currency,
		Email:      session.Email,
		FullName:   session.FullName,
		Phone:      req.Phone,
		SuccessURL: s.billingCfg.SuccessRedirectURL,
		FailureURL: s.billingCfg.FailureRedirectURL,
		WebhookURL: s.billingCfg.WebhookURL,
	})
	if err != nil {
		reason := truncate(err.Error(), 1024)
		session.Status = entity.SessionStatusFailed
		session.FailureReason = &reason
		session.UpdatedAt = time.Now().UTC()
		if updateErr := s.sessionRepo.Update(ctx, session); updateErr != nil {
			s.logger.WithError(updateErr).WithField("reference", session.Reference).Error("Failed to mark session failed")
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}

	session.LowProfileID = &output.LowProfileID
	session.CheckoutURL = normalizeOptionalString(output.CheckoutURL)
	session.Status = entity.SessionStatusSubmitted
	session.UpdatedAt = time.Now().UTC()
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		return nil, err
	}

	return &CheckoutResult{Session: session, CheckoutURL: output.CheckoutURL}, nil
}

// replayResult rebuilds the caller-facing result from a stored session, so a
// replayed checkout still carries the hosted-page URL the buyer must visit.
func replayResult(session *entity.CheckoutSession) *CheckoutResult {
	result := &CheckoutResult{Session: session}
	if session.CheckoutURL != nil {
		result.CheckoutURL = *session.CheckoutURL
	}
	return result
}

// ListPlans returns the purchasable plans for the pricing page.
func (s *BillingService) ListPlans(ctx context.Context) ([]*entity.Plan, error) {
	return s.planRepo.ListActive(ctx)
}

// GetCheckout is the read path behind the browser status endpoint.
func (s *BillingService) GetCheckout(ctx context.Context, id uint64) (*entity.CheckoutSession, error) {
	session, err := s.sessionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}
