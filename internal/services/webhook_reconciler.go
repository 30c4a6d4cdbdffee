package services

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/payments"
)

const expiredSessionFailureReason = "checkout session expired"
const defaultPaymentFailureReason = "Payment failed"

// HandleWebhookEvent reconciles a verified provider notification against
// the payment ledger. Replayed deliveries are safe: state only moves
// forward along the payment lifecycle.
func (s *paymentService) HandleWebhookEvent(ctx context.Context, event payments.WebhookEvent) error {
	switch event.Kind {
	case payments.EventKindCheckoutCompleted:
		return s.reconcileCheckoutCompleted(ctx, event)
	case payments.EventKindCheckoutExpired:
		return s.reconcileCheckoutExpired(ctx, event)
	case payments.EventKindPaymentFailed:
		return s.reconcilePaymentFailed(ctx, event)
	case payments.EventKindIgnored:
		s.logger(ctx, "payment.webhook.ignored", map[string]any{
			"providerType": event.ProviderType,
		})
		return nil
	default:
		s.logger(ctx, "payment.webhook.unknown_kind", map[string]any{
			"kind":         string(event.Kind),
			"providerType": event.ProviderType,
		})
		return nil
	}
}

// reconcileCheckoutCompleted settles the payment and moves the order to
// processing. An unknown session is an error so the provider retries.
func (s *paymentService) reconcileCheckoutCompleted(ctx context.Context, event payments.WebhookEvent) error {
	sessionID := strings.TrimSpace(event.SessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: checkout completed event without session id", ErrPaymentInvalidInput)
	}

	payment, err := s.payments.FindByTransactionID(ctx, sessionID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	switch payment.Status {
	case domain.PaymentStatusRefunded, domain.PaymentStatusCompleted:
		s.logger(ctx, "payment.webhook.replay", map[string]any{
			"paymentId": payment.ID,
			"status":    string(payment.Status),
		})
		return nil
	}

	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	now := s.clock()
	payment.Status = domain.PaymentStatusCompleted
	payment.PaidAt = &now
	payment.FailureReason = ""
	if intentID := strings.TrimSpace(event.IntentID); intentID != "" {
		payment.ProviderPaymentID = intentID
	}
	payment.UpdatedAt = now

	// The payment settles regardless, but the order advances only along
	// the lifecycle map: a buyer-cancelled order stays cancelled and the
	// settled funds await an operator refund.
	moveOrder := order.Status != domain.OrderStatusProcessing &&
		domain.CanTransition(order.Status, domain.OrderStatusProcessing)
	if !moveOrder && order.Status != domain.OrderStatusProcessing {
		s.logger(ctx, "payment.webhook.order_transition_skipped", map[string]any{
			"orderId": order.ID,
			"from":    string(order.Status),
		})
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.payments.Update(txCtx, payment); err != nil {
			return err
		}
		if moveOrder {
			return s.orders.UpdateStatus(txCtx, payment.OrderID, domain.OrderStatusProcessing, now)
		}
		return nil
	})
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, "payment.webhook.completed", map[string]any{
		"paymentId": payment.ID,
		"orderId":   payment.OrderID,
		"sessionId": sessionID,
	})

	s.publishPaymentEvent(ctx, PaymentEvent{
		Type:       paymentEventCompleted,
		PaymentID:  payment.ID,
		OrderID:    payment.OrderID,
		UserID:     payment.UserID,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		OccurredAt: now,
	})
	return nil
}

// reconcileCheckoutExpired fails the pending payment. Sessions we never
// recorded, or payments that already settled, are left alone.
func (s *paymentService) reconcileCheckoutExpired(ctx context.Context, event payments.WebhookEvent) error {
	sessionID := strings.TrimSpace(event.SessionID)
	if sessionID == "" {
		return nil
	}

	payment, err := s.payments.FindByTransactionID(ctx, sessionID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "payment.webhook.expired.unknown_session", map[string]any{
				"sessionId": sessionID,
			})
			return nil
		}
		return s.mapRepositoryError(err)
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil
	}

	return s.failPayment(ctx, payment, expiredSessionFailureReason)
}

// reconcilePaymentFailed records the provider failure reason on the
// pending payment matched by intent id.
func (s *paymentService) reconcilePaymentFailed(ctx context.Context, event payments.WebhookEvent) error {
	intentID := strings.TrimSpace(event.IntentID)
	if intentID == "" {
		return nil
	}

	payment, err := s.payments.FindByProviderPaymentID(ctx, intentID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "payment.webhook.failed.unknown_intent", map[string]any{
				"paymentIntent": intentID,
			})
			return nil
		}
		return s.mapRepositoryError(err)
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil
	}

	reason := strings.TrimSpace(event.FailureMessage)
	if reason == "" {
		reason = defaultPaymentFailureReason
	}
	return s.failPayment(ctx, payment, reason)
}

func (s *paymentService) failPayment(ctx context.Context, payment Payment, reason string) error {
	now := s.clock()
	payment.Status = domain.PaymentStatusFailed
	payment.FailureReason = reason
	payment.UpdatedAt = now

	if err := s.payments.Update(ctx, payment); err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, "payment.webhook.failed", map[string]any{
		"paymentId": payment.ID,
		"orderId":   payment.OrderID,
		"reason":    reason,
	})
	return nil
}
