package checkout

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/httpapi"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

type checkoutRequest struct {
	Plan       string `json:"plan" validate:"required"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
}

type completeRequest struct {
	Provider string `json:"provider" validate:"required,oneof=stripe paddle"`
	OrderID  string `json:"order_id" validate:"required"`
}

type planRequest struct {
	Plan string `json:"plan" validate:"required"`
}

type reactivateRequest struct {
	Plan string `json:"plan"`
}

type cancelRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

type checkoutResponse struct {
	Gateway     string `json:"gateway,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	NoOp        bool   `json:"no_op"`
}

type featureResponse struct {
	Feature string `json:"feature"`
	Enabled bool   `json:"enabled"`
}

type windowResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type subscriptionResponse struct {
	OrganizationID     uuid.UUID       `json:"organization_id"`
	Plan               string          `json:"plan"`
	Status             string          `json:"status"`
	TrialEndsAt        *time.Time      `json:"trial_ends_at,omitempty"`
	TrialDaysRemaining int             `json:"trial_days_remaining"`
	BillingPeriod      *windowResponse `json:"billing_period,omitempty"`
	CancelAtPeriodEnd  bool            `json:"cancel_at_period_end"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	Provider           string          `json:"provider,omitempty"`
	Version            int64           `json:"version"`
}

// Handler returns the plan management API, meant to be mounted at the root:
//
//	GET  /organizations/{orgID}/subscription
//	GET  /organizations/{orgID}/features/{feature}
//	POST /organizations/{orgID}/checkout
//	POST /organizations/{orgID}/checkout/complete
//	POST /organizations/{orgID}/downgrade
//	POST /organizations/{orgID}/cancel
//	POST /organizations/{orgID}/reactivate
func (o *Orchestrator) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/organizations/{orgID}", func(r chi.Router) {
		r.Use(withOrganization)
		r.Get("/subscription", o.serveSubscription)
		r.Get("/features/{feature}", o.serveFeature)
		r.Post("/checkout", o.serveCheckout)
		r.Post("/checkout/complete", o.serveComplete)
		r.Post("/downgrade", o.serveDowngrade)
		r.Post("/cancel", o.serveCancel)
		r.Post("/reactivate", o.serveReactivate)
	})
	return r
}

func (o *Orchestrator) serveSubscription(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organizationID(w, r)
	if !ok {
		return
	}
	sub, err := o.Subscription(r.Context(), orgID)
	o.respondSubscription(w, r, sub, err)
}

// serveFeature reports whether the organization's current plan grants a feature.
// Unknown features are reported as disabled.
func (o *Orchestrator) serveFeature(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organizationID(w, r)
	if !ok {
		return
	}
	feature := subscription.Feature(chi.URLParam(r, "feature"))
	httpapi.JSON(w, http.StatusOK, featureResponse{
		Feature: string(feature),
		Enabled: o.subs.HasFeature(r.Context(), orgID, feature),
	})
}

func (o *Orchestrator) serveCheckout(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organizationID(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}

	res, err := o.CreateCheckout(r.Context(), orgID, req.Plan, req.SuccessURL, req.CancelURL)
	if err != nil {
		o.fail(w, r, err)
		return
	}
	httpapi.JSON(w, http.StatusOK, checkoutResponse{
		Gateway:     string(res.Gateway),
		RedirectURL: res.RedirectURL,
		SessionID:   res.SessionID,
		NoOp:        res.NoOp,
	})
}

func (o *Orchestrator) serveComplete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organizationID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}
	provider, err := subscription.ParseProvider(req.Provider)
	if err != nil {
		httpapi.Error(w, httpapi.ErrBadRequest)
		return
	}

	sub, err := o.CompleteCheckout(r.Context(), orgID, provider, req.OrderID)
	o.respondSubscription(w, r, sub, err)
}

func (o *Orchestrator) serveDowngrade(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organizationID(w, r)
	if !ok {
		return
	}
	var req planRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}

	sub, err := o.Downgrade(r.Context(), orgID, req.Plan)
	o.respondSubscription(w, r, sub, err)
}

func (o *Orchestrator) serveCancel(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organizationID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}

	sub, err := o.Cancel(r.Context(), orgID, req.AtPeriodEnd)
	o.respondSubscription(w, r, sub, err)
}

func (o *Orchestrator) serveReactivate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organizationID(w, r)
	if !ok {
		return
	}
	var req reactivateRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, err)
		return
	}

	sub, err := o.Reactivate(r.Context(), orgID, req.Plan)
	o.respondSubscription(w, r, sub, err)
}

func (o *Orchestrator) respondSubscription(w http.ResponseWriter, r *http.Request, sub *subscription.Subscription, err error) {
	if err != nil {
		o.fail(w, r, err)
		return
	}
	httpapi.JSON(w, http.StatusOK, newSubscriptionResponse(sub, time.Now()))
}

func (o *Orchestrator) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := errorFor(err)
	if httpErr.Code >= http.StatusInternalServerError {
		o.logger.ErrorContext(r.Context(), "billing request failed",
			logger.Operation(r.URL.Path),
			logger.Error(err),
		)
	}
	httpapi.Error(w, httpErr)
}

func errorFor(err error) httpapi.HTTPError {
	switch {
	case errors.Is(err, subscription.ErrUnknownPlan):
		return httpapi.NewHTTPError(http.StatusUnprocessableEntity, "unknown_plan")
	case errors.Is(err, subscription.ErrOrganizationNotFound):
		return httpapi.NewHTTPError(http.StatusNotFound, "organization_not_found")
	case errors.Is(err, ErrDowngradeRequiresLocalChange):
		return httpapi.NewHTTPError(http.StatusConflict, "downgrade_requires_local_change")
	case errors.Is(err, ErrReactivationRequired):
		return httpapi.NewHTTPError(http.StatusConflict, "reactivation_required")
	case errors.Is(err, ErrNotDowngrade):
		return httpapi.NewHTTPError(http.StatusConflict, "not_a_downgrade")
	case errors.Is(err, subscription.ErrIllegalTransition):
		return httpapi.NewHTTPError(http.StatusConflict, "illegal_transition")
	case errors.Is(err, gateway.ErrOrderNotPaid):
		return httpapi.NewHTTPError(http.StatusConflict, "order_not_paid")
	case errors.Is(err, gateway.ErrOrderMismatch):
		return httpapi.ErrNotFound
	case errors.Is(err, ErrGatewayNotAvailable):
		return httpapi.NewHTTPError(http.StatusServiceUnavailable, "gateway_not_configured")
	case gateway.IsUnavailable(err):
		return httpapi.NewHTTPError(http.StatusServiceUnavailable, "gateway_unavailable")
	case gateway.IsRejected(err), errors.Is(err, ErrCheckoutFailed):
		return httpapi.NewHTTPError(http.StatusBadGateway, "gateway_rejected")
	}
	return httpapi.ErrInternalServerError
}

// withOrganization resolves the {orgID} path parameter into the request
// context so that log records carry it.
func withOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "orgID"))
		if err != nil {
			httpapi.Error(w, httpapi.ErrNotFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(subscription.SetOrganizationIDToContext(r.Context(), id)))
	})
}

func organizationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := subscription.GetOrganizationIDFromContext(r.Context())
	if !ok {
		httpapi.Error(w, httpapi.ErrNotFound)
		return uuid.Nil, false
	}
	return id, true
}

func newSubscriptionResponse(sub *subscription.Subscription, now time.Time) subscriptionResponse {
	res := subscriptionResponse{
		OrganizationID:     sub.OrganizationID,
		Plan:               sub.Plan.String(),
		Status:             sub.Status.String(),
		TrialDaysRemaining: sub.TrialDaysRemainingAt(now),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CancelledAt:        sub.CancelledAt,
		Provider:           string(sub.Refs.Provider),
		Version:            sub.Version,
	}
	if sub.TrialWindow != nil {
		end := sub.TrialWindow.End
		res.TrialEndsAt = &end
	}
	if sub.BillingPeriod != nil {
		res.BillingPeriod = &windowResponse{Start: sub.BillingPeriod.Start, End: sub.BillingPeriod.End}
	}
	return res
}
