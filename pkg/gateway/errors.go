package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrGatewayUnavailable is a transient failure: network error, timeout,
	// provider 5xx or 429, or an open circuit. Another gateway may succeed.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayRejected is a permanent failure for this request.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")

	ErrPriceNotConfigured = errors.New("no price configured for plan")
	ErrOrderNotPaid       = errors.New("order is not paid")
	ErrOrderMismatch      = errors.New("order belongs to another organization")
	ErrMissingCredentials = errors.New("gateway credentials are not configured")

	ErrInvalidSignature = errors.New("invalid notification signature")
	ErrMalformedPayload = errors.New("malformed notification payload")
)

// APIError is a provider error response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

// IsUnavailable reports whether err is a transient gateway failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

// IsRejected reports whether err is a permanent gateway failure.
func IsRejected(err error) bool {
	return errors.Is(err, ErrGatewayRejected)
}

// classify tags err with ErrGatewayUnavailable or ErrGatewayRejected. Errors that
// cannot be attributed are treated as transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsUnavailable(err) || IsRejected(err) {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case errors.Is(err, ErrPriceNotConfigured),
		errors.Is(err, ErrOrderNotPaid),
		errors.Is(err, ErrOrderMismatch),
		errors.Is(err, ErrMissingCredentials):
		return fmt.Errorf("%s: %w", op, errors.Join(ErrGatewayRejected, err))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, errors.Join(ErrGatewayUnavailable, err))
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == 0 {
			return fmt.Errorf("%s: %w", op, errors.Join(ErrGatewayUnavailable, err))
		}
		return fmt.Errorf("%s: %w", op, errors.Join(ErrGatewayRejected, err))
	}

	// Network errors and anything the SDK does not describe.
	return fmt.Errorf("%s: %w", op, errors.Join(ErrGatewayUnavailable, err))
}
