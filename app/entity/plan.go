package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlanIntervalMonth = "month"
	PlanIntervalYear  = "year"
)

// Plan is a purchasable subscription plan. Interval is nil for lifetime
// plans, which never get renewal fields on the subscription.
type Plan struct {
	ID uint64

	Code string
	Name string

	Amount   decimal.Decimal
	Currency string

	Operation int32
	Interval  *string
	Trial     bool

	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Plan) Recurring() bool {
	return p.Interval != nil
}
