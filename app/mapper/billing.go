package mapper

import (
	"time"

	"github.com/tradelens/ms-go-billing/app/entity"
	"github.com/tradelens/ms-go-billing/app/types"
)

func CheckoutToResponse(item *entity.CheckoutSession, checkoutURL string) *types.CheckoutSession {
	if item == nil {
		return nil
	}

	return &types.CheckoutSession{
		Id:            item.ID,
		Reference:     item.Reference,
		PlanCode:      item.PlanCode,
		Amount:        item.Amount.StringFixed(2),
		Currency:      item.Currency,
		Operation:     OperationName(item.Operation),
		Status:        SessionStatusName(item.Status),
		CheckoutUrl:   checkoutURL,
		TransactionId: derefString(item.TransactionID),
		InvoiceNumber: derefString(item.InvoiceNumber),
		ExpiresAt:     item.ExpiresAt.UTC().Format(time.RFC3339),
		CreatedAt:     item.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func PlanToResponse(item *entity.Plan) *types.Plan {
	if item == nil {
		return nil
	}

	return &types.Plan{
		Code:     item.Code,
		Name:     item.Name,
		Amount:   item.Amount.StringFixed(2),
		Currency: item.Currency,
		Interval: derefString(item.Interval),
		Trial:    item.Trial,
	}
}

func SubscriptionToResponse(item *entity.Subscription) *types.Subscription {
	if item == nil {
		return nil
	}

	return &types.Subscription{
		Id:                  item.ID,
		PlanCode:            item.PlanCode,
		Status:              SubscriptionStatusName(item.Status),
		TrialEndsAt:         formatOptionalTime(item.TrialEndsAt),
		CurrentPeriodEndsAt: formatOptionalTime(item.CurrentPeriodEndsAt),
		NextChargeAt:        formatOptionalTime(item.NextChargeAt),
		CardBrand:           derefString(item.CardBrand),
		CardLast4:           derefString(item.CardLast4),
		CardExpiry:          derefString(item.CardExpiry),
		CancelledAt:         formatOptionalTime(item.CancelledAt),
		CreatedAt:           item.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func SessionStatusName(status int32) string {
	switch status {
	case entity.SessionStatusPending:
		return "pending"
	case entity.SessionStatusSubmitted:
		return "submitted"
	case entity.SessionStatusCompleted:
		return "completed"
	case entity.SessionStatusFailed:
		return "failed"
	case entity.SessionStatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

func SubscriptionStatusName(status int32) string {
	switch status {
	case entity.SubscriptionStatusTrial:
		return "trial"
	case entity.SubscriptionStatusActive:
		return "active"
	case entity.SubscriptionStatusCancelled:
		return "cancelled"
	case entity.SubscriptionStatusSuspended:
		return "suspended"
	case entity.SubscriptionStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func OperationName(operation int32) string {
	switch operation {
	case entity.OperationChargeOnly:
		return "charge"
	case entity.OperationChargeAndCreateToken:
		return "charge_and_tokenize"
	case entity.OperationCreateTokenOnly:
		return "tokenize"
	default:
		return "unknown"
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatOptionalTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
