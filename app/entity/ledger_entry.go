package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	LedgerStatusCompleted     = "completed"
	LedgerStatusFailed        = "failed"
	LedgerStatusRenewed       = "renewed"
	LedgerStatusRenewalFailed = "renewal_failed"
)

// LedgerEntry is an append-only payment history row. Only DocumentRef may be
// attached after insert.
type LedgerEntry struct {
	ID uint64

	UserID           *string
	SubscriptionID   *uint64
	SessionReference *string

	Amount   decimal.Decimal
	Currency string
	Status   string

	Description   string
	TransactionID *string
	InvoiceNumber *string
	CardBrand     *string
	CardLast4     *string

	DocumentRef *string

	CreatedAt time.Time
}
