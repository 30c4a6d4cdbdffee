package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/payments"
)

func pendingPayment() domain.Payment {
	return domain.Payment{
		ID:                "pay_1",
		OrderID:           "ord_1",
		UserID:            "user_1",
		Amount:            65,
		Currency:          "usd",
		Status:            domain.PaymentStatusPending,
		TransactionID:     "cs_test_1",
		ProviderPaymentID: "pi_test_1",
	}
}

func TestWebhookCheckoutCompletedSettlesPayment(t *testing.T) {
	var updatedPayment domain.Payment
	var orderStatus domain.OrderStatus
	unit := &recordingUnitOfWork{}
	events := &stubPaymentEvents{}

	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByTransactionID: func(context.Context, string) (domain.Payment, error) { return pendingPayment(), nil },
			update: func(_ context.Context, payment domain.Payment) error {
				updatedPayment = payment
				return nil
			},
		}
		d.Orders = &stubOrderRepo{
			findByID: func(context.Context, string) (domain.Order, error) { return testOrder(), nil },
			updateStatus: func(_ context.Context, _ string, status domain.OrderStatus, _ time.Time) error {
				orderStatus = status
				return nil
			},
		}
		d.UnitOfWork = unit
		d.Events = events
	})

	err := svc.HandleWebhookEvent(context.Background(), payments.WebhookEvent{
		Kind:      payments.EventKindCheckoutCompleted,
		SessionID: "cs_test_1",
		IntentID:  "pi_from_event",
	})
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}

	if updatedPayment.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed payment, got %s", updatedPayment.Status)
	}
	if updatedPayment.PaidAt == nil || !updatedPayment.PaidAt.Equal(paymentTestNow) {
		t.Fatalf("expected paid timestamp, got %v", updatedPayment.PaidAt)
	}
	if updatedPayment.ProviderPaymentID != "pi_from_event" {
		t.Fatalf("expected intent id refreshed from event, got %s", updatedPayment.ProviderPaymentID)
	}
	if orderStatus != domain.OrderStatusProcessing {
		t.Fatalf("expected order moved to processing, got %s", orderStatus)
	}
	if unit.calls != 1 {
		t.Fatalf("expected one transaction, got %d", unit.calls)
	}
	if len(events.events) != 1 || events.events[0].Type != "payment.completed" {
		t.Fatalf("unexpected events: %+v", events.events)
	}
}

func TestWebhookCheckoutCompletedUnknownSessionFails(t *testing.T) {
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{findByTransactionID: func(context.Context, string) (domain.Payment, error) {
			return domain.Payment{}, repoError{msg: "no such session", notFound: true}
		}}
	})

	err := svc.HandleWebhookEvent(context.Background(), payments.WebhookEvent{
		Kind:      payments.EventKindCheckoutCompleted,
		SessionID: "cs_unknown",
	})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected not found for unknown session, got %v", err)
	}
}

func TestWebhookCheckoutCompletedReplayIsNoop(t *testing.T) {
	for _, status := range []domain.PaymentStatus{
		domain.PaymentStatusCompleted,
		domain.PaymentStatusRefunded,
	} {
		payment := pendingPayment()
		payment.Status = status

		updates := 0
		svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
			d.Payments = &stubPaymentRepo{
				findByTransactionID: func(context.Context, string) (domain.Payment, error) { return payment, nil },
				update: func(context.Context, domain.Payment) error {
					updates++
					return nil
				},
			}
		})

		err := svc.HandleWebhookEvent(context.Background(), payments.WebhookEvent{
			Kind:      payments.EventKindCheckoutCompleted,
			SessionID: "cs_test_1",
		})
		if err != nil {
			t.Fatalf("expected replay on %s payment to be a no-op, got %v", status, err)
		}
		if updates != 0 {
			t.Fatalf("expected no writes on replay of %s payment, got %d", status, updates)
		}
	}
}

func TestWebhookCheckoutCompletedLeavesCancelledOrderAlone(t *testing.T) {
	cancelled := testOrder()
	cancelled.Status = domain.OrderStatusCancelled

	var updatedPayment domain.Payment
	statusWrites := 0
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByTransactionID: func(context.Context, string) (domain.Payment, error) { return pendingPayment(), nil },
			update: func(_ context.Context, payment domain.Payment) error {
				updatedPayment = payment
				return nil
			},
		}
		d.Orders = &stubOrderRepo{
			findByID: func(context.Context, string) (domain.Order, error) { return cancelled, nil },
			updateStatus: func(context.Context, string, domain.OrderStatus, time.Time) error {
				statusWrites++
				return nil
			},
		}
	})

	err := svc.HandleWebhookEvent(context.Background(), payments.WebhookEvent{
		Kind:      payments.EventKindCheckoutCompleted,
		SessionID: "cs_test_1",
	})
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}

	if updatedPayment.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected payment settled, got %s", updatedPayment.Status)
	}
	if statusWrites != 0 {
		t.Fatalf("expected cancelled order to keep its status, got %d writes", statusWrites)
	}
}

func TestWebhookCheckoutCompletedRequiresSessionID(t *testing.T) {
	svc := newPaymentServiceForTest(t)

	err := svc.HandleWebhookEvent(context.Background(), payments.WebhookEvent{
		Kind: payments.EventKindCheckoutCompleted,
	})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected invalid input without session id, got %v", err)
	}
}

func TestWebhookCheckoutExpiredFailsPendingPayment(t *testing.T) {
	var updatedPayment domain.Payment
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByTransactionID: func(context.Context, string) (domain.Payment, error) { return pendingPayment(), nil },
			update: func(_ context.Context, payment domain.Payment) error {
				updatedPayment = payment
				return nil
			},
		}
	})

	err := svc.HandleWebhookEvent(context.Background(), payments.WebhookEvent{
		Kind:      payments.EventKindCheckoutExpired,
		SessionID: "cs_test_1",
	})
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}
	if updatedPayment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed payment, got %s", updatedPayment.Status)
	}
	if updatedPayment.FailureReason != "checkout session expired" {
		t.Fatalf("unexpected failure reason: %s", updatedPayment.FailureReason)
	}
}

func TestWebhookCheckoutExpiredIgnoresUnknownAndSettled(t *testing.T) {
	// Unknown session.
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{findByTransactionID: func(context.Context, string) (domain.Payment, error) {
			return domain.Payment{}, repoError{msg: "no such session", notFound: true}
		}}
	})
	err := svc.HandleWebhookEvent(context.Background(), payments.WebhookEvent{
		Kind:      payments.EventKindCheckoutExpired,
		SessionID: "cs_unknown",
	})
	if err != nil {
		t.Fatalf("expected unknown expired session to be ignored, got %v", err)
	}

	// Settled payment.
	payment := pendingPayment()
	payment.Status = domain.PaymentStatusCompleted
	updates := 0
	svc = newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByTransactionID: func(context.Context, string) (domain.Payment, error) { return payment, nil },
			update: func(context.Context, domain.Payment) error {
				updates++
				return nil
			},
		}
	})
	err = svc.HandleWebhookEvent(context.Background(), payments.WebhookEvent{
		Kind:      payments.EventKindCheckoutExpired,
		SessionID: "cs_test_1",
	})
	if err != nil || updates != 0 {
		t.Fatalf("expected expired event on settled payment to be ignored, err=%v updates=%d", err, updates)
	}
}

func TestWebhookPaymentFailedRecordsReason(t *testing.T) {
	var updatedPayment domain.Payment
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByProviderPaymentID: func(context.Context, string) (domain.Payment, error) { return pendingPayment(), nil },
			update: func(_ context.Context, payment domain.Payment) error {
				updatedPayment = payment
				return nil
			},
		}
	})

	err := svc.HandleWebhookEvent(context.Background(), payments.WebhookEvent{
		Kind:           payments.EventKindPaymentFailed,
		IntentID:       "pi_test_1",
		FailureMessage: "Your card was declined.",
	})
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}
	if updatedPayment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed payment, got %s", updatedPayment.Status)
	}
	if updatedPayment.FailureReason != "Your card was declined." {
		t.Fatalf("unexpected failure reason: %s", updatedPayment.FailureReason)
	}
}

func TestWebhookPaymentFailedDefaultsReason(t *testing.T) {
	var updatedPayment domain.Payment
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByProviderPaymentID: func(context.Context, string) (domain.Payment, error) { return pendingPayment(), nil },
			update: func(_ context.Context, payment domain.Payment) error {
				updatedPayment = payment
				return nil
			},
		}
	})

	err := svc.HandleWebhookEvent(context.Background(), payments.WebhookEvent{
		Kind:     payments.EventKindPaymentFailed,
		IntentID: "pi_test_1",
	})
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}
	if updatedPayment.FailureReason != "Payment failed" {
		t.Fatalf("unexpected failure reason: %s", updatedPayment.FailureReason)
	}
}

func TestWebhookPaymentFailedIgnoresUnknownIntent(t *testing.T) {
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{findByProviderPaymentID: func(context.Context, string) (domain.Payment, error) {
			return domain.Payment{}, repoError{msg: "no such intent", notFound: true}
		}}
	})

	err := svc.HandleWebhookEvent(context.Background(), payments.WebhookEvent{
		Kind:     payments.EventKindPaymentFailed,
		IntentID: "pi_unknown",
	})
	if err != nil {
		t.Fatalf("expected unknown intent to be ignored, got %v", err)
	}
}

func TestWebhookIgnoredKindIsNoop(t *testing.T) {
	svc := newPaymentServiceForTest(t)

	err := svc.HandleWebhookEvent(context.Background(), payments.WebhookEvent{
		Kind:         payments.EventKindIgnored,
		ProviderType: "invoice.paid",
	})
	if err != nil {
		t.Fatalf("expected ignored event to be a no-op, got %v", err)
	}
}
