package types

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// UserIDContextKey is set by the auth middleware for authenticated calls.
const UserIDContextKey = "auth_user_id"

type CreateCheckoutRequest struct {
	UserID       string          `json:"-"`
	PlanCode     string          `json:"plan_code" validate:"required"`
	Email        string          `json:"email" validate:"required,email"`
	FullName     string          `json:"full_name" validate:"required"`
	Phone        string          `json:"phone" validate:"omitempty,min=7"`
	Registration json.RawMessage `json:"registration,omitempty"`
}

func NewCreateCheckoutRequestFromContext(ctx echo.Context) (*CreateCheckoutRequest, error) {
	var body CreateCheckoutRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.PlanCode = strings.TrimSpace(body.PlanCode)
	body.Email = strings.ToLower(strings.TrimSpace(body.Email))
	body.FullName = strings.TrimSpace(body.FullName)
	body.Phone = strings.TrimSpace(body.Phone)
	if userID, ok := ctx.Get(UserIDContextKey).(string); ok {
		body.UserID = strings.TrimSpace(userID)
	}

	return &body, nil
}

func (r *CreateCheckoutRequest) Validate() error {
	return validate.Struct(r)
}

type VerifyCheckoutRequest struct {
	LowProfileID string `json:"lowProfileId"`
}

func NewVerifyCheckoutRequestFromContext(ctx echo.Context) (*VerifyCheckoutRequest, error) {
	var body VerifyCheckoutRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.LowProfileID = strings.TrimSpace(body.LowProfileID)
	return &body, nil
}

func (r *VerifyCheckoutRequest) Validate() error {
	if r.LowProfileID == "" {
		return errors.New("lowProfileId is required")
	}
	return nil
}

type CheckoutSession struct {
	Id            uint64 `json:"id"`
	Reference     string `json:"reference"`
	PlanCode      string `json:"plan_code"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Operation     string `json:"operation"`
	Status        string `json:"status"`
	CheckoutUrl   string `json:"checkout_url,omitempty"`
	TransactionId string `json:"transaction_id,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	ExpiresAt     string `json:"expires_at"`
	CreatedAt     string `json:"created_at"`
}

type Subscription struct {
	Id                  uint64 `json:"id"`
	PlanCode            string `json:"plan_code"`
	Status              string `json:"status"`
	TrialEndsAt         string `json:"trial_ends_at,omitempty"`
	CurrentPeriodEndsAt string `json:"current_period_ends_at,omitempty"`
	NextChargeAt        string `json:"next_charge_at,omitempty"`
	CardBrand           string `json:"card_brand,omitempty"`
	CardLast4           string `json:"card_last4,omitempty"`
	CardExpiry          string `json:"card_expiry,omitempty"`
	CancelledAt         string `json:"cancelled_at,omitempty"`
	CreatedAt           string `json:"created_at"`
}

type Plan struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Interval string `json:"interval,omitempty"`
	Trial    bool   `json:"trial"`
}

type CheckoutEnvelopeResponse struct {
	Checkout *CheckoutSession `json:"checkout"`
}

type PlansEnvelopeResponse struct {
	Plans []*Plan `json:"plans"`
}

type SubscriptionEnvelopeResponse struct {
	Subscription *Subscription `json:"subscription"`
}

// CheckoutStatusResponse is what the browser polls while it waits for the
// webhook and redirect channels to settle.
type CheckoutStatusResponse struct {
	Success       bool   `json:"success"`
	Status        string `json:"status"`
	TransactionId string `json:"transactionId,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
