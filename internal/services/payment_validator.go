package services

import (
	"fmt"
	"strings"

	domain "github.com/shopforge/api/internal/domain"
)

// validateRefundable guards that a payment can accept refunds: only a
// settled payment has captured funds to return.
func validateRefundable(payment Payment) error {
	switch payment.Status {
	case domain.PaymentStatusCompleted:
		return nil
	case domain.PaymentStatusRefunded:
		return fmt.Errorf("%w: payment is already fully refunded", ErrPaymentInvalidState)
	default:
		return fmt.Errorf("%w: payment must be completed before refunding, current status %s", ErrPaymentInvalidState, payment.Status)
	}
}

// validatePaymentIntent guards that a provider payment intent was
// resolved before asking the gateway for money movement.
func validatePaymentIntent(intentID string) error {
	if strings.TrimSpace(intentID) == "" {
		return fmt.Errorf("%w: no payment intent found for this payment", ErrPaymentInvalidState)
	}
	return nil
}
