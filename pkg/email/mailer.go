package email

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
)

// Sender delivers a rendered email.
type Sender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

// SendEmailParams represents the parameters for sending an email.
type SendEmailParams struct {
	SendTo   string `json:"send_to" validate:"required,email"`
	Subject  string `json:"subject" validate:"required"`
	BodyHTML string `json:"body_html" validate:"required"`
	Tag      string `json:"tag,omitempty"` // Optional, used for delivery analytics
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the message can be delivered.
func (p SendEmailParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return errors.Join(ErrInvalidParams, err)
	}
	return nil
}

// SenderFromConfig returns the Postmark sender when a server token is set, the
// on-disk sender when DevOutputDir is set, and nil otherwise.
func SenderFromConfig(cfg Config) (Sender, error) {
	switch {
	case cfg.PostmarkServerToken != "":
		return NewPostmarkClient(cfg)
	case cfg.DevOutputDir != "":
		return NewDevSender(cfg.DevOutputDir), nil
	}
	return nil, nil
}
