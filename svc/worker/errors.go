package worker

import "errors"

var (
	ErrUnknownGateway     = errors.New("webhook gateway is not configured")
	ErrGatewayUnavailable = errors.New("no payment gateway adapter is configured")
	ErrUnknownJob         = errors.New("unknown job")
)
