package gateway

import (
	"time"

	"github.com/dmitrymomot/billing/pkg/subscription"
)

// StripeConfig configures the primary gateway.
type StripeConfig struct {
	SecretKey         string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret     string        `env:"STRIPE_WEBHOOK_SECRET"`
	ProPriceID        string        `env:"STRIPE_PRO_PRICE_ID"`
	EnterprisePriceID string        `env:"STRIPE_ENTERPRISE_PRICE_ID"`
	Timeout           time.Duration `env:"STRIPE_TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether API credentials are configured.
func (c StripeConfig) Enabled() bool {
	return c.SecretKey != ""
}

func (c StripeConfig) Prices() PriceMap {
	return PriceMap{
		subscription.PlanPro:        c.ProPriceID,
		subscription.PlanEnterprise: c.EnterprisePriceID,
	}
}

// PaddleConfig configures the secondary gateway.
type PaddleConfig struct {
	APIKey            string        `env:"PADDLE_API_KEY"`
	WebhookSecret     string        `env:"PADDLE_WEBHOOK_SECRET"`
	Environment       string        `env:"PADDLE_ENVIRONMENT" envDefault:"production"` // "sandbox" or "production"
	ProPriceID        string        `env:"PADDLE_PRO_PRICE_ID"`
	EnterprisePriceID string        `env:"PADDLE_ENTERPRISE_PRICE_ID"`
	Timeout           time.Duration `env:"PADDLE_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL    time.Duration `env:"PADDLE_IDEMPOTENCY_TTL" envDefault:"1h"`
}

func (c PaddleConfig) Enabled() bool {
	return c.APIKey != ""
}

func (c PaddleConfig) Sandbox() bool {
	return c.Environment == "sandbox"
}

func (c PaddleConfig) Prices() PriceMap {
	return PriceMap{
		subscription.PlanPro:        c.ProPriceID,
		subscription.PlanEnterprise: c.EnterprisePriceID,
	}
}
