package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OperationChargeOnly           int32 = 1
	OperationChargeAndCreateToken int32 = 2
	OperationCreateTokenOnly      int32 = 3
)

const (
	SessionStatusPending   int32 = 1
	SessionStatusSubmitted int32 = 2
	SessionStatusCompleted int32 = 10
	SessionStatusFailed    int32 = 20
	SessionStatusExpired   int32 = 30
)

// CheckoutSession is one hosted-payment attempt against the gateway. The
// Reference is ours and travels through the gateway as ReturnValue; the
// LowProfileID is the gateway's opaque handle for the same attempt.
type CheckoutSession struct {
	ID uint64

	Reference    string
	LowProfileID *string
	CheckoutURL  *string

	UserID   *string
	Email    string
	FullName string
	Phone    *string

	PlanCode  string
	Amount    decimal.Decimal
	Currency  string
	Operation int32

	Status        int32
	TransactionID *string
	InvoiceNumber *string
	FailureReason *string

	RegistrationJSON *string

	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func SessionStatusTerminal(status int32) bool {
	switch status {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusExpired:
		return true
	default:
		return false
	}
}
