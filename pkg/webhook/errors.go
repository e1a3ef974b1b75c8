package webhook

import (
	"errors"

	"github.com/dmitrymomot/billing/pkg/gateway"
)

// Domain errors for notification processing. Each maps to one HTTP status in
// Handler, which decides whether the provider retries the delivery.
var (
	// ErrSignatureInvalid means the signature did not verify with the provider secret.
	ErrSignatureInvalid = gateway.ErrInvalidSignature
	// ErrPayloadMalformed means the payload could not be decoded.
	ErrPayloadMalformed = gateway.ErrMalformedPayload
	// ErrUnknownOrganization means the notification could not be attributed to an
	// organization. The provider retries, which helps when the organization row lags.
	ErrUnknownOrganization = errors.New("notification references an unknown organization")
	ErrUnknownProvider     = errors.New("unknown notification provider")
)
