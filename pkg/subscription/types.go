package subscription

import (
	"strings"
)

// Plan is the billing tier an organization is subscribed to.
type Plan string

const (
	PlanFree       Plan = "FREE"
	PlanPro        Plan = "PRO"
	PlanEnterprise Plan = "ENTERPRISE"
)

// Status is the lifecycle status of a subscription.
type Status string

const (
	// StatusNone is the state of an organization that has no record yet.
	StatusNone      Status = ""
	StatusTrial     Status = "TRIAL"
	StatusActive    Status = "ACTIVE"
	StatusPastDue   Status = "PAST_DUE"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Provider identifies the payment gateway that owns a subscription's remote side.
type Provider string

const (
	ProviderNone   Provider = ""
	ProviderStripe Provider = "stripe"
	ProviderPaddle Provider = "paddle"
)

// Feature represents a plan-specific capability that can be enabled or disabled.
type Feature string

const (
	FeatureAPI             Feature = "api"
	FeatureSSO             Feature = "sso"
	FeatureAuditLog        Feature = "audit_log"
	FeaturePrioritySupport Feature = "priority_support"
	FeatureCustomDomain    Feature = "custom_domain"
	FeatureAdvancedReports Feature = "advanced_reports"
)

var plans = []Plan{PlanFree, PlanPro, PlanEnterprise}

var statuses = []Status{StatusTrial, StatusActive, StatusPastDue, StatusCancelled, StatusExpired}

// Valid reports whether p is one of the known plans.
func (p Plan) Valid() bool {
	for _, known := range plans {
		if p == known {
			return true
		}
	}
	return false
}

func (p Plan) String() string { return string(p) }

// Valid reports whether s is one of the known statuses.
// StatusNone is not valid for a persisted record.
func (s Status) Valid() bool {
	for _, known := range statuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	if s == StatusNone {
		return "NONE"
	}
	return string(s)
}

// ParsePlan converts any historical spelling of a plan into its canonical value.
// Accepts "pro", "Pro", "PRO" and so on.
func ParsePlan(raw string) (Plan, error) {
	p := Plan(strings.ToUpper(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", ErrUnknownPlan
	}
	return p, nil
}

// ParseStatus converts any historical spelling of a status into its canonical value.
// Both the persisted upper-case values and the lower-case values used by providers
// ("active", "trialing", "canceled", "past-due") are accepted.
func ParseStatus(raw string) (Status, error) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	norm = strings.ReplaceAll(norm, "-", "_")

	switch norm {
	case "TRIAL", "TRIALING":
		return StatusTrial, nil
	case "ACTIVE":
		return StatusActive, nil
	case "PAST_DUE", "PASTDUE", "UNPAID":
		return StatusPastDue, nil
	case "CANCELLED", "CANCELED":
		return StatusCancelled, nil
	case "EXPIRED":
		return StatusExpired, nil
	}
	return StatusNone, ErrUnknownStatus
}

// ParseProvider converts a provider name into its canonical value.
func ParseProvider(raw string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderStripe:
		return ProviderStripe, nil
	case ProviderPaddle:
		return ProviderPaddle, nil
	}
	return ProviderNone, ErrUnknownProvider
}
