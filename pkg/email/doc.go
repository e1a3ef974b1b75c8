// Package email sends transactional email through Postmark, or writes it to
// disk during local development.
//
// Usage:
//
//	sender, err := email.SenderFromConfig(cfg)
//	if err != nil {
//	    return err
//	}
//	if sender != nil {
//	    err = sender.SendEmail(ctx, email.SendEmailParams{
//	        SendTo:   "owner@example.com",
//	        Subject:  "Payment failed",
//	        BodyHTML: body,
//	        Tag:      "payment_failed",
//	    })
//	}
//
// Every sender validates SendEmailParams before delivery and wraps failures in
// ErrInvalidParams or ErrFailedToSendEmail.
package email
