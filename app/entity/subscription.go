package entity

import "time"

const (
	SubscriptionStatusTrial     int32 = 1
	SubscriptionStatusActive    int32 = 2
	SubscriptionStatusCancelled int32 = 20
	SubscriptionStatusSuspended int32 = 21
	SubscriptionStatusFailed    int32 = 22
)

// Subscription is the single authoritative billing state per user. Renewing
// plans always carry NextChargeAt; lifetime plans never do.
type Subscription struct {
	ID uint64

	UserID   string
	PlanCode string
	Status   int32

	TrialEndsAt         *time.Time
	CurrentPeriodEndsAt *time.Time
	NextChargeAt        *time.Time

	CardBrand  *string
	CardLast4  *string
	CardExpiry *string
	TokenRef   *string

	FailCount   int32
	CancelledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func SubscriptionStatusTerminal(status int32) bool {
	return status == SubscriptionStatusCancelled
}
