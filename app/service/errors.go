package service

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrSessionNotFound      = errors.New("checkout session not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrGatewayRejected      = errors.New("gateway rejected the request")
	ErrUnknownSession       = errors.New("notification references an unknown session")
	ErrIdentityUnresolved   = errors.New("notification owner could not be resolved")
)
