package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradelens/ms-go-billing/app/entity"
)

const (
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
	OutcomeExpired    = "expired"
	OutcomePending    = "pending"
	OutcomeProcessing = "processing"
)

// gateway codes reported while the hosted page has not finished
var inProgressStatusCodes = map[int]bool{
	608: true,
}

type CheckoutOutcome struct {
	Session       *entity.CheckoutSession
	Success       bool
	Status        string
	TransactionID string
	// Ambiguous marks an exhausted wait: the charge may still settle and
	// the caller should route the user to support, not assert failure.
	Ambiguous bool
}

// VerifyReturn resolves a session the browser came back with. Resolution
// order, cheapest first: a webhook already applied for this session, then a
// single gateway status call. Re-invocation on a settled session is a
// read-only replay.
func (s *BillingService) VerifyReturn(ctx context.Context, lowProfileID string) (*CheckoutOutcome, error) {
	session, err := s.sessionRepo.FindByLowProfileID(ctx, lowProfileID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if entity.SessionStatusTerminal(session.Status) {
		return outcomeFromSession(session), nil
	}

	record, err := s.webhookRepo.FindProcessedByReference(ctx, session.Reference)
	if err != nil {
		return nil, err
	}
	if record != nil {
		// webhook won the race; trust its result without asking the gateway
		refreshed, err := s.sessionRepo.FindByID(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		if refreshed != nil {
			session = refreshed
		}
		return outcomeFromSession(session), nil
	}

	return s.verifyWithGateway(ctx, session)
}

// verifyWithGateway asks the gateway once and persists whatever it says.
func (s *BillingService) verifyWithGateway(ctx context.Context, session *entity.CheckoutSession) (*CheckoutOutcome, error) {
	if session.LowProfileID == nil {
		return outcomeFromSession(session), nil
	}

	status, err := s.gateway.GetSessionStatus(ctx, *session.LowProfileID)
	if err != nil {
		// transient integration failure: stay pending, the poller or the
		// webhook will settle it
		s.logger.WithError(err).WithField("reference", session.Reference).Warn("Gateway status check failed")
		return outcomeFromSession(session), nil
	}

	if status.ResponseCode == 0 {
		userID := ""
		if session.UserID != nil {
			userID = *session.UserID
		}
		if err := s.applyConfirmation(ctx, session, userID, &confirmation{
			Token:         status.Token,
			TokenExpiry:   status.TokenExpiry,
			TransactionID: status.TransactionID,
			InvoiceNumber: status.InvoiceNumber,
			CardBrand:     status.CardBrand,
			CardLast4:     status.CardLast4,
			CardExpiry:    status.CardExpiry,
		}); err != nil {
			if errors.Is(err, ErrIdentityUnresolved) {
				// registration has not finished yet; the sweeper owns this
				s.logger.WithField("reference", session.Reference).Info("Confirmation deferred, owner unknown")
				return outcomeFromSession(session), nil
			}
			return nil, err
		}
		return outcomeFromSession(session), nil
	}

	if inProgressStatusCodes[status.ResponseCode] {
		return outcomeFromSession(session), nil
	}

	reason := fmt.Sprintf("gateway rejection: code=%d description=%s", status.ResponseCode, status.Description)
	if err := s.markSessionFailed(ctx, session, reason); err != nil {
		return nil, err
	}
	return outcomeFromSession(session), nil
}

// CheckStatus backs the browser status endpoint. When the session has no
// terminal state yet and live is set, it asks the gateway once.
func (s *BillingService) CheckStatus(ctx context.Context, sessionID uint64, live bool) (*CheckoutOutcome, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if entity.SessionStatusTerminal(session.Status) || !live {
		return outcomeFromSession(session), nil
	}

	return s.verifyWithGateway(ctx, session)
}

// AwaitOutcome polls for a settled state with a linear backoff (attempt
// number times the base interval) and a small attempt cap. Exhaustion
// reports an ambiguous processing state, never a hard failure.
func (s *BillingService) AwaitOutcome(ctx context.Context, sessionID uint64) (*CheckoutOutcome, error) {
	var outcome *CheckoutOutcome

	for attempt := int32(1); attempt <= s.billingCfg.PollMaxAttempts; attempt++ {
		result, err := s.CheckStatus(ctx, sessionID, true)
		if err != nil {
			return nil, err
		}
		outcome = result
		if entity.SessionStatusTerminal(result.Session.Status) {
			return result, nil
		}
		if attempt < s.billingCfg.PollMaxAttempts {
			s.sleep(time.Duration(attempt) * s.billingCfg.PollBaseInterval)
		}
	}

	outcome.Ambiguous = true
	outcome.Status = OutcomeProcessing
	return outcome, nil
}

func outcomeFromSession(session *entity.CheckoutSession) *CheckoutOutcome {
	outcome := &CheckoutOutcome{Session: session}

	switch session.Status {
	case entity.SessionStatusCompleted:
		outcome.Success = true
		outcome.Status = OutcomeCompleted
		if session.TransactionID != nil {
			outcome.TransactionID = *session.TransactionID
		}
	case entity.SessionStatusFailed:
		outcome.Status = OutcomeFailed
	case entity.SessionStatusExpired:
		outcome.Status = OutcomeExpired
	default:
		outcome.Status = OutcomePending
	}

	return outcome
}
