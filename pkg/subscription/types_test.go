package subscription_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billing/pkg/subscription"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want subscription.Status
	}{
		{"ACTIVE", subscription.StatusActive},
		{"active", subscription.StatusActive},
		{" Active ", subscription.StatusActive},
		{"trialing", subscription.StatusTrial},
		{"TRIAL", subscription.StatusTrial},
		{"past_due", subscription.StatusPastDue},
		{"past-due", subscription.StatusPastDue},
		{"unpaid", subscription.StatusPastDue},
		{"canceled", subscription.StatusCancelled},
		{"CANCELLED", subscription.StatusCancelled},
		{"expired", subscription.StatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := subscription.ParseStatus(tt.raw)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := subscription.ParseStatus("paused")
	assert.ErrorIs(t, err, subscription.ErrUnknownStatus)
}

func TestParsePlanAndProvider(t *testing.T) {
	t.Parallel()

	p, err := subscription.ParsePlan("enterprise")
	assert.NoError(t, err)
	assert.Equal(t, subscription.PlanEnterprise, p)

	_, err = subscription.ParsePlan("")
	assert.ErrorIs(t, err, subscription.ErrUnknownPlan)

	prov, err := subscription.ParseProvider("Stripe")
	assert.NoError(t, err)
	assert.Equal(t, subscription.ProviderStripe, prov)

	_, err = subscription.ParseProvider("paypal")
	assert.ErrorIs(t, err, subscription.ErrUnknownProvider)
}

func TestStatusString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "NONE", subscription.StatusNone.String())
	assert.Equal(t, "PAST_DUE", subscription.StatusPastDue.String())
	assert.False(t, subscription.StatusNone.Valid())
}
