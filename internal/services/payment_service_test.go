package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/payments"
)

type stubPaymentRepo struct {
	insert                  func(ctx context.Context, payment domain.Payment) error
	update                  func(ctx context.Context, payment domain.Payment) error
	findByOrderID           func(ctx context.Context, orderID string) (domain.Payment, error)
	findByTransactionID     func(ctx context.Context, transactionID string) (domain.Payment, error)
	findByProviderPaymentID func(ctx context.Context, providerPaymentID string) (domain.Payment, error)
}

func (s *stubPaymentRepo) Insert(ctx context.Context, payment domain.Payment) error {
	if s.insert == nil {
		return errors.New("unexpected payment Insert call")
	}
	return s.insert(ctx, payment)
}

func (s *stubPaymentRepo) Update(ctx context.Context, payment domain.Payment) error {
	if s.update == nil {
		return errors.New("unexpected payment Update call")
	}
	return s.update(ctx, payment)
}

func (s *stubPaymentRepo) FindByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	if s.findByOrderID == nil {
		return domain.Payment{}, errors.New("unexpected FindByOrderID call")
	}
	return s.findByOrderID(ctx, orderID)
}

func (s *stubPaymentRepo) FindByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error) {
	if s.findByTransactionID == nil {
		return domain.Payment{}, errors.New("unexpected FindByTransactionID call")
	}
	return s.findByTransactionID(ctx, transactionID)
}

func (s *stubPaymentRepo) FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (domain.Payment, error) {
	if s.findByProviderPaymentID == nil {
		return domain.Payment{}, errors.New("unexpected FindByProviderPaymentID call")
	}
	return s.findByProviderPaymentID(ctx, providerPaymentID)
}

type stubUserRepo struct {
	findByID func(ctx context.Context, userID string) (domain.UserProfile, error)
}

func (s *stubUserRepo) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if s.findByID == nil {
		return domain.UserProfile{}, errors.New("unexpected user FindByID call")
	}
	return s.findByID(ctx, userID)
}

type stubGateway struct {
	createCheckoutSession func(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	retrieveSession       func(ctx context.Context, sessionID string) (payments.SessionDetails, error)
	refund                func(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error)
}

func (s *stubGateway) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if s.createCheckoutSession == nil {
		return payments.CheckoutSession{}, errors.New("unexpected CreateCheckoutSession call")
	}
	return s.createCheckoutSession(ctx, req)
}

func (s *stubGateway) RetrieveSession(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
	if s.retrieveSession == nil {
		return payments.SessionDetails{}, errors.New("unexpected RetrieveSession call")
	}
	return s.retrieveSession(ctx, sessionID)
}

func (s *stubGateway) Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	if s.refund == nil {
		return payments.RefundResult{}, errors.New("unexpected Refund call")
	}
	return s.refund(ctx, req)
}

type stubPaymentEvents struct {
	events []PaymentEvent
	err    error
}

func (s *stubPaymentEvents) PublishPaymentEvent(_ context.Context, event PaymentEvent) error {
	s.events = append(s.events, event)
	return s.err
}

var paymentTestNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testOrder() domain.Order {
	return domain.Order{
		ID:          "ord_1",
		OrderNumber: "ORD-1714564800000-042",
		UserID:      "user_1",
		Status:      domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{
				ID: "itm_1", ProductID: "prod_mug", ProductName: "Mug",
				Description: "Stoneware mug", ImageURL: "https://cdn.example/mug.png",
				Price: 25, Quantity: 2, Subtotal: 50,
			},
		},
		Subtotal:     50,
		Tax:          5,
		ShippingCost: 10,
		Total:        65,
		Currency:     "usd",
	}
}

func newPaymentServiceForTest(t *testing.T, deps ...func(*PaymentServiceDeps)) PaymentService {
	t.Helper()

	d := PaymentServiceDeps{
		Payments: &stubPaymentRepo{},
		Orders: &stubOrderRepo{findByID: func(_ context.Context, orderID string) (domain.Order, error) {
			order := testOrder()
			if orderID != order.ID {
				return domain.Order{}, repoError{msg: "order missing", notFound: true}
			}
			return order, nil
		}},
		Gateway:     &stubGateway{},
		Clock:       fixedClock(paymentTestNow),
		IDGenerator: sequentialIDs("01PY"),
	}
	for _, apply := range deps {
		apply(&d)
	}

	svc, err := NewPaymentService(d)
	if err != nil {
		t.Fatalf("NewPaymentService returned error: %v", err)
	}
	return svc
}

func checkoutCmd() CheckoutCommand {
	return CheckoutCommand{
		UserID:     "user_1",
		OrderID:    "ord_1",
		SuccessURL: "https://shop.example/checkout/success",
		CancelURL:  "https://shop.example/checkout/cancel",
		IPAddress:  "203.0.113.7",
	}
}

func TestCreateCheckoutSessionRecordsPendingPayment(t *testing.T) {
	var inserted domain.Payment
	var gatewayReq payments.CheckoutSessionRequest

	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByOrderID: func(context.Context, string) (domain.Payment, error) {
				return domain.Payment{}, repoError{msg: "no payment", notFound: true}
			},
			insert: func(_ context.Context, payment domain.Payment) error {
				inserted = payment
				return nil
			},
		}
		d.Users = &stubUserRepo{findByID: func(context.Context, string) (domain.UserProfile, error) {
			return domain.UserProfile{ID: "user_1", Email: "buyer@example.com"}, nil
		}}
		d.Gateway = &stubGateway{createCheckoutSession: func(_ context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
			gatewayReq = req
			return payments.CheckoutSession{ID: "cs_test_1", RedirectURL: "https://pay.example/cs_test_1"}, nil
		}}
	})

	result, err := svc.CreateCheckoutSession(context.Background(), checkoutCmd())
	if err != nil {
		t.Fatalf("CreateCheckoutSession returned error: %v", err)
	}
	if result.SessionID != "cs_test_1" || result.URL != "https://pay.example/cs_test_1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	if gatewayReq.OrderID != "ord_1" || gatewayReq.CustomerEmail != "buyer@example.com" {
		t.Fatalf("unexpected gateway request: %+v", gatewayReq)
	}
	// Item line plus shipping and tax lines.
	if len(gatewayReq.Items) != 3 {
		t.Fatalf("expected 3 line items, got %d", len(gatewayReq.Items))
	}
	if gatewayReq.Items[0].Description != "Stoneware mug" || gatewayReq.Items[0].ImageURL != "https://cdn.example/mug.png" {
		t.Fatalf("expected product presentation on line item: %+v", gatewayReq.Items[0])
	}
	wantKey := fmt.Sprintf("order_ord_1_%d", paymentTestNow.UnixMilli())
	if gatewayReq.IdempotencyKey != wantKey {
		t.Fatalf("unexpected idempotency key: %s (want %s)", gatewayReq.IdempotencyKey, wantKey)
	}

	if inserted.Status != domain.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", inserted.Status)
	}
	if inserted.Amount != 65 || inserted.Currency != "usd" {
		t.Fatalf("unexpected payment amount: %+v", inserted)
	}
	if inserted.TransactionID != "cs_test_1" || inserted.Metadata.SessionID != "cs_test_1" {
		t.Fatalf("expected session recorded on payment: %+v", inserted)
	}
	if inserted.IPAddress != "203.0.113.7" {
		t.Fatalf("expected client ip recorded on payment, got %q", inserted.IPAddress)
	}
	if !strings.HasPrefix(inserted.ID, "pay_") {
		t.Fatalf("unexpected payment id: %s", inserted.ID)
	}
}

func TestCreateCheckoutSessionReplacesPendingPayment(t *testing.T) {
	existing := domain.Payment{
		ID:             "pay_existing",
		OrderID:        "ord_1",
		UserID:         "user_1",
		Status:         domain.PaymentStatusPending,
		TransactionID:  "cs_old",
		RefundedAmount: 0,
		CreatedAt:      paymentTestNow.Add(-time.Hour),
	}

	var updated domain.Payment
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByOrderID: func(context.Context, string) (domain.Payment, error) { return existing, nil },
			update: func(_ context.Context, payment domain.Payment) error {
				updated = payment
				return nil
			},
		}
		d.Gateway = &stubGateway{createCheckoutSession: func(context.Context, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
			return payments.CheckoutSession{ID: "cs_new", RedirectURL: "https://pay.example/cs_new"}, nil
		}}
	})

	if _, err := svc.CreateCheckoutSession(context.Background(), checkoutCmd()); err != nil {
		t.Fatalf("CreateCheckoutSession returned error: %v", err)
	}

	if updated.ID != "pay_existing" {
		t.Fatalf("expected existing payment row reused, got %s", updated.ID)
	}
	if !updated.CreatedAt.Equal(existing.CreatedAt) {
		t.Fatalf("expected original creation time preserved, got %v", updated.CreatedAt)
	}
	if updated.TransactionID != "cs_new" {
		t.Fatalf("expected session replaced, got %s", updated.TransactionID)
	}
}

func TestCreateCheckoutSessionRejectsCompletedPayment(t *testing.T) {
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{findByOrderID: func(context.Context, string) (domain.Payment, error) {
			return domain.Payment{ID: "pay_1", Status: domain.PaymentStatusCompleted}, nil
		}}
	})

	_, err := svc.CreateCheckoutSession(context.Background(), checkoutCmd())
	if !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected invalid state for completed payment, got %v", err)
	}
}

func TestCreateCheckoutSessionScopesOrderToOwner(t *testing.T) {
	svc := newPaymentServiceForTest(t)

	cmd := checkoutCmd()
	cmd.UserID = "someone_else"
	_, err := svc.CreateCheckoutSession(context.Background(), cmd)
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected foreign order to surface as not found, got %v", err)
	}
}

func TestCreateCheckoutSessionWrapsGatewayFailure(t *testing.T) {
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{findByOrderID: func(context.Context, string) (domain.Payment, error) {
			return domain.Payment{}, repoError{msg: "no payment", notFound: true}
		}}
		d.Gateway = &stubGateway{createCheckoutSession: func(context.Context, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
			return payments.CheckoutSession{}, errors.New("provider unreachable")
		}}
	})

	_, err := svc.CreateCheckoutSession(context.Background(), checkoutCmd())
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestGetByOrderScopesToOwner(t *testing.T) {
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{findByOrderID: func(context.Context, string) (domain.Payment, error) {
			return domain.Payment{ID: "pay_1", OrderID: "ord_1", UserID: "someone_else"}, nil
		}}
	})

	if _, err := svc.GetByOrder(context.Background(), "user_1", "ord_1"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected foreign payment to surface as not found, got %v", err)
	}
}

func completedPayment() domain.Payment {
	return domain.Payment{
		ID:                "pay_1",
		OrderID:           "ord_1",
		UserID:            "user_1",
		Amount:            65,
		Currency:          "usd",
		Status:            domain.PaymentStatusCompleted,
		TransactionID:     "cs_test_1",
		ProviderPaymentID: "pi_test_1",
	}
}

func TestRefundFullMarksPaymentAndOrderRefunded(t *testing.T) {
	var updatedPayment domain.Payment
	var orderStatus domain.OrderStatus
	unit := &recordingUnitOfWork{}
	events := &stubPaymentEvents{}
	var refundReq payments.RefundRequest

	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByOrderID: func(context.Context, string) (domain.Payment, error) { return completedPayment(), nil },
			update: func(_ context.Context, payment domain.Payment) error {
				updatedPayment = payment
				return nil
			},
		}
		d.Orders = &stubOrderRepo{
			findByID: func(context.Context, string) (domain.Order, error) {
				order := testOrder()
				order.Status = domain.OrderStatusProcessing
				return order, nil
			},
			updateStatus: func(_ context.Context, _ string, status domain.OrderStatus, _ time.Time) error {
				orderStatus = status
				return nil
			},
		}
		d.Gateway = &stubGateway{refund: func(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
			refundReq = req
			return payments.RefundResult{RefundID: "re_1", Status: "succeeded"}, nil
		}}
		d.UnitOfWork = unit
		d.Events = events
	})

	outcome, err := svc.Refund(context.Background(), RefundCommand{OrderID: "ord_1", Reason: "customer request"})
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}

	if outcome.Message != "Full refund processed successfully" {
		t.Fatalf("unexpected message: %s", outcome.Message)
	}
	if outcome.RefundedAmount != 65 || outcome.TotalRefunded != 65 || outcome.RefundID != "re_1" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	if refundReq.IntentID != "pi_test_1" || refundReq.Amount != 6500 {
		t.Fatalf("unexpected gateway request: %+v", refundReq)
	}

	if updatedPayment.Status != domain.PaymentStatusRefunded || updatedPayment.RefundedAmount != 65 {
		t.Fatalf("unexpected payment state: %+v", updatedPayment)
	}
	if updatedPayment.RefundedAt == nil || !updatedPayment.RefundedAt.Equal(paymentTestNow) {
		t.Fatalf("expected refund timestamp, got %v", updatedPayment.RefundedAt)
	}
	if len(updatedPayment.Metadata.Refunds) != 1 || updatedPayment.Metadata.Refunds[0].RefundID != "re_1" {
		t.Fatalf("expected refund recorded in metadata: %+v", updatedPayment.Metadata.Refunds)
	}
	if orderStatus != domain.OrderStatusRefunded {
		t.Fatalf("expected order marked refunded, got %s", orderStatus)
	}
	if unit.calls != 1 {
		t.Fatalf("expected one transaction, got %d", unit.calls)
	}
	if len(events.events) != 1 || events.events[0].Type != "payment.refunded" {
		t.Fatalf("unexpected events: %+v", events.events)
	}
}

func TestRefundPartialLeavesPaymentCompleted(t *testing.T) {
	var updatedPayment domain.Payment
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByOrderID: func(context.Context, string) (domain.Payment, error) { return completedPayment(), nil },
			update: func(_ context.Context, payment domain.Payment) error {
				updatedPayment = payment
				return nil
			},
		}
		d.Gateway = &stubGateway{refund: func(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
			return payments.RefundResult{RefundID: "re_2", Status: "succeeded"}, nil
		}}
	})

	amount := 20.0
	outcome, err := svc.Refund(context.Background(), RefundCommand{OrderID: "ord_1", Amount: &amount})
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}

	if outcome.Message != "Partial refund processed successfully" {
		t.Fatalf("unexpected message: %s", outcome.Message)
	}
	if outcome.RefundedAmount != 20 || outcome.TotalRefunded != 20 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if updatedPayment.Status != domain.PaymentStatusCompleted || updatedPayment.RefundedAmount != 20 {
		t.Fatalf("unexpected payment state: %+v", updatedPayment)
	}
	if updatedPayment.RefundedAt == nil {
		t.Fatal("expected refund timestamp on partial refund")
	}
}

func TestRefundFullKeepsCancelledOrderStatus(t *testing.T) {
	var updatedPayment domain.Payment
	statusWrites := 0
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByOrderID: func(context.Context, string) (domain.Payment, error) { return completedPayment(), nil },
			update: func(_ context.Context, payment domain.Payment) error {
				updatedPayment = payment
				return nil
			},
		}
		d.Orders = &stubOrderRepo{
			findByID: func(context.Context, string) (domain.Order, error) {
				order := testOrder()
				order.Status = domain.OrderStatusCancelled
				return order, nil
			},
			updateStatus: func(context.Context, string, domain.OrderStatus, time.Time) error {
				statusWrites++
				return nil
			},
		}
		d.Gateway = &stubGateway{refund: func(context.Context, payments.RefundRequest) (payments.RefundResult, error) {
			return payments.RefundResult{RefundID: "re_4", Status: "succeeded"}, nil
		}}
	})

	outcome, err := svc.Refund(context.Background(), RefundCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if outcome.Message != "Full refund processed successfully" {
		t.Fatalf("unexpected message: %s", outcome.Message)
	}
	if updatedPayment.Status != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded payment, got %s", updatedPayment.Status)
	}
	if statusWrites != 0 {
		t.Fatalf("expected cancelled order to keep its status, got %d writes", statusWrites)
	}
}

func TestRefundUnknownOrderFails(t *testing.T) {
	svc := newPaymentServiceForTest(t)

	_, err := svc.Refund(context.Background(), RefundCommand{OrderID: "ord_ghost"})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected not found for unknown order, got %v", err)
	}
}

func TestRefundScopesOrderToOwner(t *testing.T) {
	svc := newPaymentServiceForTest(t)

	_, err := svc.Refund(context.Background(), RefundCommand{OrderID: "ord_1", UserID: "someone_else"})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected foreign order to surface as not found, got %v", err)
	}
}

func TestRefundGatewayFailureLeavesStateUnchanged(t *testing.T) {
	updates := 0
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByOrderID: func(context.Context, string) (domain.Payment, error) { return completedPayment(), nil },
			update: func(context.Context, domain.Payment) error {
				updates++
				return nil
			},
		}
		d.Gateway = &stubGateway{refund: func(context.Context, payments.RefundRequest) (payments.RefundResult, error) {
			return payments.RefundResult{}, errors.New("refund declined")
		}}
	})

	_, err := svc.Refund(context.Background(), RefundCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if updates != 0 {
		t.Fatalf("expected no ledger writes after gateway failure, got %d", updates)
	}
}

func TestRefundResolvesIntentFromSession(t *testing.T) {
	payment := completedPayment()
	payment.ProviderPaymentID = ""

	var retrieved string
	var refundReq payments.RefundRequest
	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{
			findByOrderID: func(context.Context, string) (domain.Payment, error) { return payment, nil },
			update:        func(context.Context, domain.Payment) error { return nil },
		}
		d.Gateway = &stubGateway{
			retrieveSession: func(_ context.Context, sessionID string) (payments.SessionDetails, error) {
				retrieved = sessionID
				return payments.SessionDetails{ID: sessionID, IntentID: "pi_from_session"}, nil
			},
			refund: func(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
				refundReq = req
				return payments.RefundResult{RefundID: "re_3"}, nil
			},
		}
	})

	amount := 10.0
	if _, err := svc.Refund(context.Background(), RefundCommand{OrderID: "ord_1", Amount: &amount}); err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if retrieved != "cs_test_1" {
		t.Fatalf("expected session lookup, got %q", retrieved)
	}
	if refundReq.IntentID != "pi_from_session" {
		t.Fatalf("expected intent from session, got %s", refundReq.IntentID)
	}
}

func TestRefundWithoutAnyIntentReference(t *testing.T) {
	payment := completedPayment()
	payment.ProviderPaymentID = ""
	payment.TransactionID = ""

	svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
		d.Payments = &stubPaymentRepo{findByOrderID: func(context.Context, string) (domain.Payment, error) {
			return payment, nil
		}}
	})

	_, err := svc.Refund(context.Background(), RefundCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected invalid state without intent reference, got %v", err)
	}
}

func TestRefundRejectsNonRefundableStates(t *testing.T) {
	for _, status := range []domain.PaymentStatus{
		domain.PaymentStatusPending,
		domain.PaymentStatusFailed,
		domain.PaymentStatusRefunded,
	} {
		payment := completedPayment()
		payment.Status = status
		svc := newPaymentServiceForTest(t, func(d *PaymentServiceDeps) {
			d.Payments = &stubPaymentRepo{findByOrderID: func(context.Context, string) (domain.Payment, error) {
				return payment, nil
			}}
		})

		if _, err := svc.Refund(context.Background(), RefundCommand{OrderID: "ord_1"}); !errors.Is(err, ErrPaymentInvalidState) {
			t.Fatalf("expected invalid state refunding %s payment, got %v", status, err)
		}
	}
}
