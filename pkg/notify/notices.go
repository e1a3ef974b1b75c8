package notify

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/billing/pkg/subscription"
)

// Kind identifies a billing notice. It doubles as the delivery tag.
type Kind string

const (
	KindTrialExpired   Kind = "trial_expired"
	KindPaymentFailed  Kind = "payment_failed"
	KindPaymentRecover Kind = "payment_recovered"
	KindActivated      Kind = "subscription_activated"
	KindCancelled      Kind = "subscription_cancelled"
)

// kindFor maps a persisted transition to the notice it triggers, if any.
func kindFor(from, to subscription.Status) (Kind, bool) {
	switch to {
	case subscription.StatusExpired:
		return KindTrialExpired, true
	case subscription.StatusPastDue:
		return KindPaymentFailed, true
	case subscription.StatusCancelled:
		return KindCancelled, true
	case subscription.StatusActive:
		if from == subscription.StatusPastDue {
			return KindPaymentRecover, true
		}
		return KindActivated, true
	}
	return "", false
}

type noticeData struct {
	OrganizationName string
	PlanName         string
	PeriodEnd        *time.Time
	SupportEmail     string
}

func subjectFor(k Kind, d noticeData) string {
	switch k {
	case KindTrialExpired:
		return "Your trial has ended"
	case KindPaymentFailed:
		return "We could not process your payment"
	case KindPaymentRecover:
		return "Your payment went through"
	case KindActivated:
		return fmt.Sprintf("Welcome to %s", d.PlanName)
	case KindCancelled:
		return "Your subscription has been cancelled"
	}
	return string(k)
}

func bodyFor(k Kind, d noticeData) []string {
	greeting := fmt.Sprintf("Hello %s,", d.OrganizationName)
	switch k {
	case KindTrialExpired:
		return []string{greeting,
			"Your free trial has ended. Choose a plan to keep using paid features."}
	case KindPaymentFailed:
		return []string{greeting,
			fmt.Sprintf("The latest payment for your %s plan failed. Please update your payment method.", d.PlanName),
			"Your account stays active while we retry the charge."}
	case KindPaymentRecover:
		return []string{greeting,
			fmt.Sprintf("Your %s plan is active again. Thank you for your payment.", d.PlanName)}
	case KindActivated:
		lines := []string{greeting, fmt.Sprintf("Your %s plan is now active.", d.PlanName)}
		if d.PeriodEnd != nil {
			lines = append(lines, fmt.Sprintf("The current billing period ends on %s.", d.PeriodEnd.Format("January 2, 2006")))
		}
		return lines
	case KindCancelled:
		return []string{greeting,
			"Your subscription has been cancelled. You can reactivate it at any time."}
	}
	return []string{greeting}
}

// noticeEmail renders a notice as a complete HTML document.
func noticeEmail(k Kind, d noticeData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>`+
			templ.EscapeString(subjectFor(k, d))+`</title></head><body style="font-family:sans-serif;line-height:1.5">`); err != nil {
			return err
		}
		for _, line := range bodyFor(k, d) {
			if _, err := io.WriteString(w, "<p>"+templ.EscapeString(line)+"</p>"); err != nil {
				return err
			}
		}
		if d.SupportEmail != "" {
			if _, err := io.WriteString(w, `<p style="color:#666">Questions? Reply to this email or write to `+
				templ.EscapeString(d.SupportEmail)+`.</p>`); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "</body></html>")
		return err
	})
}
