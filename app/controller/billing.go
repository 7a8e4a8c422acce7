package controller

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/tradelens/ms-go-billing/app/factory"
	"github.com/tradelens/ms-go-billing/app/gateway"
	"github.com/tradelens/ms-go-billing/app/mapper"
	"github.com/tradelens/ms-go-billing/app/service"
	"github.com/tradelens/ms-go-billing/app/types"
)

type BillingController struct {
	billingService *service.BillingService
	logger         logrus.FieldLogger
}

func NewBillingController(billingService *service.BillingService) *BillingController {
	return &BillingController{
		billingService: billingService,
		logger:         factory.NewModuleLogger("billing-controller"),
	}
}

func (c *BillingController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *BillingController) ListPlans(ctx echo.Context) error {
	plans, err := c.billingService.ListPlans(ctx.Request().Context())
	if err != nil {
		c.logger.WithError(err).Error("List plans failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	items := make([]*types.Plan, 0, len(plans))
	for _, plan := range plans {
		items = append(items, mapper.PlanToResponse(plan))
	}
	return ctx.JSON(http.StatusOK, &types.PlansEnvelopeResponse{Plans: items})
}

func (c *BillingController) CreateCheckout(ctx echo.Context) error {
	req, err := types.NewCreateCheckoutRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.billingService.CreateCheckout(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrPlanNotFound):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrGatewayRejected):
			c.logger.WithError(err).Error("Checkout creation rejected by gateway")
			return c.writeError(ctx, http.StatusBadGateway, "payment gateway unavailable")
		default:
			c.logger.WithError(err).Error("Create checkout failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.CheckoutEnvelopeResponse{
		Checkout: mapper.CheckoutToResponse(result.Session, result.CheckoutURL),
	})
}

// CheckoutStatus backs the browser poll while the hosted page settles.
// ?live=1 forces one gateway status check, ?wait=1 blocks until the session
// settles or the attempt cap runs out.
func (c *BillingController) CheckoutStatus(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.writeError(ctx, http.StatusBadRequest, "invalid checkout id")
	}

	var outcome *service.CheckoutOutcome
	if queryFlag(ctx, "wait") {
		outcome, err = c.billingService.AwaitOutcome(ctx.Request().Context(), id)
	} else {
		outcome, err = c.billingService.CheckStatus(ctx.Request().Context(), id, queryFlag(ctx, "live"))
	}
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "checkout not found")
		}
		c.logger.WithError(err).Error("Checkout status failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, statusResponse(outcome))
}

// VerifyCheckout handles the browser landing back from the hosted page with
// a LowProfileId. It resolves the session server-side; the redirect itself
// proves nothing.
func (c *BillingController) VerifyCheckout(ctx echo.Context) error {
	req, err := types.NewVerifyCheckoutRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	outcome, err := c.billingService.VerifyReturn(ctx.Request().Context(), req.LowProfileID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "checkout not found")
		}
		c.logger.WithError(err).Error("Verify checkout failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, statusResponse(outcome))
}

func (c *BillingController) GetSubscription(ctx echo.Context) error {
	userID, _ := ctx.Get(types.UserIDContextKey).(string)
	if userID == "" {
		return c.writeError(ctx, http.StatusUnauthorized, "unauthorized")
	}

	item, err := c.billingService.GetSubscription(ctx.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrSubscriptionNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "subscription not found")
		}
		c.logger.WithError(err).Error("Get subscription failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.SubscriptionEnvelopeResponse{Subscription: mapper.SubscriptionToResponse(item)})
}

func (c *BillingController) CancelSubscription(ctx echo.Context) error {
	userID, _ := ctx.Get(types.UserIDContextKey).(string)
	if userID == "" {
		return c.writeError(ctx, http.StatusUnauthorized, "unauthorized")
	}

	item, err := c.billingService.CancelSubscription(ctx.Request().Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSubscriptionNotFound):
			return c.writeError(ctx, http.StatusNotFound, "subscription not found")
		case errors.Is(err, service.ErrInvalidStatus):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			c.logger.WithError(err).Error("Cancel subscription failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.SubscriptionEnvelopeResponse{Subscription: mapper.SubscriptionToResponse(item)})
}

// HandleCardcomWebhook accepts gateway notifications in whatever shape they
// arrive: query string, JSON body or form body. It always answers 200 so the
// gateway never retries against a bug of ours; recovery runs through the
// stored records instead.
func (c *BillingController) HandleCardcomWebhook(ctx echo.Context) error {
	logger := factory.LoggerWithContext(c.logger, ctx)

	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		logger.WithError(err).Warn("Webhook body read failed")
		return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "ok"})
	}

	query := ctx.QueryParams()
	notification, err := gateway.ParseNotification(query, ctx.Request().Header.Get(echo.HeaderContentType), body)
	if err != nil {
		logger.WithError(err).WithField("remote_ip", ctx.RealIP()).Warn("Unrecognized webhook payload")
		return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "ok"})
	}

	c.billingService.HandleGatewayNotification(ctx.Request().Context(), notification, rawPayload(query, body))

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "ok"})
}

// rawPayload keeps whatever carried the gateway fields, so the sweeper's
// later reparse sees the same payload the receiver applied. Parse precedence
// gives the query the first look, so it wins here too.
func rawPayload(query url.Values, body []byte) string {
	if gateway.HasGatewayFields(query) {
		return query.Encode()
	}
	if len(body) > 0 {
		return string(body)
	}
	return query.Encode()
}

func queryFlag(ctx echo.Context, name string) bool {
	value := ctx.QueryParam(name)
	return value == "1" || value == "true"
}

func statusResponse(outcome *service.CheckoutOutcome) *types.CheckoutStatusResponse {
	return &types.CheckoutStatusResponse{
		Success:       outcome.Success,
		Status:        outcome.Status,
		TransactionId: outcome.TransactionID,
	}
}

func (c *BillingController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
