package entity

import "time"

// PaymentToken is a recurring-charge credential issued by the gateway.
// Invalidated tokens are flagged, never removed.
type PaymentToken struct {
	ID uint64

	UserID string
	Token  string

	ExpiresAt *time.Time
	CardBrand *string
	CardLast4 *string

	Valid bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
