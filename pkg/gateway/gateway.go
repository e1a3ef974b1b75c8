package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/subscription"
)

// Gateway is a remote payment provider.
type Gateway interface {
	Provider() subscription.Provider

	// CreateCheckoutSession starts a hosted checkout for the plan and returns the
	// page the customer is redirected to.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)

	// CaptureOrder confirms that a checkout identified by OrderID was paid and
	// returns the remote references it produced.
	CaptureOrder(ctx context.Context, req CaptureRequest) (*CaptureResult, error)

	// CancelRemote cancels the remote subscription, at period end or immediately.
	CancelRemote(ctx context.Context, req CancelRequest) error

	// FetchRemoteStatus returns the provider's current view of a subscription.
	FetchRemoteStatus(ctx context.Context, subscriptionRef string) (*RemoteSnapshot, error)
}

// NotificationParser verifies and decodes provider notifications.
type NotificationParser interface {
	Provider() subscription.Provider

	// SignatureHeader is the HTTP header carrying the notification signature.
	SignatureHeader() string

	// ParseNotification verifies the signature and maps the payload to at most one
	// canonical event. Returns ErrInvalidSignature or ErrMalformedPayload.
	ParseNotification(ctx context.Context, payload []byte, signature string) (*Notification, error)
}

// Adapter is a gateway that also receives notifications. Both built-in
// providers implement it.
type Adapter interface {
	Gateway
	NotificationParser
}

type CheckoutRequest struct {
	OrganizationID uuid.UUID
	Plan           subscription.Plan
	Email          string
	SuccessURL     string
	CancelURL      string
}

// Session is a hosted checkout page.
type Session struct {
	Provider  subscription.Provider
	ID        string
	URL       string
	ExpiresAt time.Time
}

type CaptureRequest struct {
	OrganizationID uuid.UUID
	Plan           subscription.Plan
	OrderID        string
}

// CaptureResult is a confirmed payment.
type CaptureResult struct {
	Refs       subscription.ProviderRefs
	Plan       subscription.Plan
	Period     *subscription.Window
	CapturedAt time.Time
}

type CancelRequest struct {
	OrganizationID uuid.UUID
	Plan           subscription.Plan
	SubscriptionID string
	AtPeriodEnd    bool
}

// RemoteSnapshot is the provider's view of a subscription at Sequence.
type RemoteSnapshot struct {
	Provider          subscription.Provider
	SubscriptionID    string
	CustomerID        string
	Status            subscription.Status
	Plan              subscription.Plan // Empty when the price is not mapped to a plan
	Period            *subscription.Window
	CancelAtPeriodEnd bool
	// Sequence orders snapshots against webhook events. It is the latest
	// provider timestamp known to have changed the subscription.
	Sequence time.Time
}

// Notification is a verified provider notification.
type Notification struct {
	Provider subscription.Provider
	EventID  string
	Type     string
	// OrganizationID comes from the metadata attached at checkout. Zero when the
	// payload carries none.
	OrganizationID uuid.UUID
	// SubscriptionRef is the remote subscription, used to resolve the organization
	// when metadata is missing.
	SubscriptionRef string
	// Event is nil for notification types that do not affect subscriptions.
	Event *subscription.Event
}

// Operations passed to IdempotencyKey.
const (
	OpCheckout = "checkout"
	OpCancel   = "cancel"
)

// IdempotencyKey derives the key sent with a mutating gateway call. Retries of the
// same operation for the same organization and plan share the key.
func IdempotencyKey(orgID uuid.UUID, operation string, plan subscription.Plan) string {
	sum := sha256.Sum256([]byte(orgID.String() + "|" + operation + "|" + string(plan)))
	return hex.EncodeToString(sum[:])
}

// PriceMap maps plans to provider price IDs.
type PriceMap map[subscription.Plan]string

// Price returns the price configured for plan or ErrPriceNotConfigured.
func (m PriceMap) Price(plan subscription.Plan) (string, error) {
	id, ok := m[plan]
	if !ok || id == "" {
		return "", ErrPriceNotConfigured
	}
	return id, nil
}

// Plan resolves a price ID back to its plan.
func (m PriceMap) Plan(priceID string) (subscription.Plan, bool) {
	for plan, id := range m {
		if id != "" && id == priceID {
			return plan, true
		}
	}
	return "", false
}

// withTimeout bounds a single outbound call.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
