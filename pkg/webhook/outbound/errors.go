package outbound

import "errors"

var (
	ErrInvalidURL       = errors.New("invalid webhook url")
	ErrDeliveryFailed   = errors.New("webhook delivery failed")
	ErrPermanentFailure = errors.New("webhook endpoint rejected the delivery")
)
