package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/billing/pkg/httpapi"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

type response struct {
	Status  Status `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

// Handler returns the notification endpoint, meant to be mounted under /webhooks:
//
//	r.Mount("/webhooks", processor.Handler())
//
// POST /{provider} answers 200 for every processed notification, 400 for a bad
// signature or payload, 404 for an unknown provider or organization and 503 for
// storage failures, so providers retry only what can succeed later.
func (p *Processor) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/{provider}", p.serveNotification)
	return r
}

func (p *Processor) serveNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	provider, err := subscription.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		httpapi.Error(w, httpapi.ErrNotFound)
		return
	}
	parser, ok := p.parsers[provider]
	if !ok {
		httpapi.Error(w, httpapi.ErrNotFound)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.maxPayload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpapi.Error(w, httpapi.ErrRequestTooLarge)
			return
		}
		httpapi.Error(w, httpapi.ErrBadRequest)
		return
	}

	res, err := p.Handle(ctx, payload, r.Header.Get(parser.SignatureHeader()), provider)
	if err != nil {
		httpErr := statusFor(err)
		level := slog.LevelWarn
		if httpErr.Code >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		p.logger.Log(ctx, level, "notification not processed",
			logger.Provider(provider),
			logger.EventID(res.EventID),
			slog.Int("status_code", httpErr.Code),
			logger.Error(err),
		)
		httpapi.Error(w, httpErr)
		return
	}

	httpapi.JSON(w, http.StatusOK, response{Status: res.Status, EventID: res.EventID})
}

func statusFor(err error) httpapi.HTTPError {
	switch {
	case errors.Is(err, ErrSignatureInvalid):
		return httpapi.NewHTTPError(http.StatusBadRequest, "invalid_signature")
	case errors.Is(err, ErrPayloadMalformed):
		return httpapi.NewHTTPError(http.StatusBadRequest, "malformed_payload")
	case errors.Is(err, ErrUnknownOrganization):
		return httpapi.NewHTTPError(http.StatusNotFound, "unknown_organization")
	case errors.Is(err, ErrUnknownProvider):
		return httpapi.ErrNotFound
	}
	return httpapi.ErrServiceUnavailable
}
