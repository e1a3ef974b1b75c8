package checkout

import "errors"

var (
	// ErrCheckoutFailed means every configured gateway failed. It is joined with
	// each gateway's error.
	ErrCheckoutFailed = errors.New("checkout failed on all gateways")

	// ErrDowngradeRequiresLocalChange is returned when checkout is requested for a
	// lower plan. Downgrades never go through a gateway; use Downgrade.
	ErrDowngradeRequiresLocalChange = errors.New("downgrade must be applied locally")

	// ErrReactivationRequired is returned when checkout is requested for a
	// cancelled subscription. It must be reactivated first.
	ErrReactivationRequired = errors.New("cancelled subscription must be reactivated first")

	ErrNotDowngrade        = errors.New("target plan is not lower than the current plan")
	ErrGatewayNotAvailable = errors.New("no gateway configured for provider")
)
