package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/payments"
	"github.com/shopforge/api/internal/repositories"
)

const paymentIDPrefix = "pay_"
const paymentMethodCard = "card"

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the payment could not be located.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentInvalidState indicates the payment cannot accept the operation in its current state.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentGateway wraps provider-side failures.
	ErrPaymentGateway = errors.New("payment: gateway failure")
)

// PaymentServiceDeps bundles the dependencies for NewPaymentService.
type PaymentServiceDeps struct {
	Payments    repositories.PaymentRepository
	Orders      repositories.OrderRepository
	Users       repositories.UserRepository
	Gateway     payments.Gateway
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      PaymentEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments   repositories.PaymentRepository
	orders     repositories.OrderRepository
	users      repositories.UserRepository
	gateway    payments.Gateway
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     PaymentEventPublisher
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentService validates dependencies and constructs the payment service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		payments:   deps.Payments,
		orders:     deps.Orders,
		users:      deps.Users,
		gateway:    deps.Gateway,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// CreateCheckoutSession opens a hosted payment page for the order and
// records the pending payment. Re-invoking for the same order replaces
// the pending session instead of duplicating the ledger row.
func (s *paymentService) CreateCheckoutSession(ctx context.Context, cmd CheckoutCommand) (CheckoutSessionResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if userID == "" {
		return CheckoutSessionResult{}, fmt.Errorf("%w: user id is required", ErrPaymentInvalidInput)
	}
	if orderID == "" {
		return CheckoutSessionResult{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if strings.TrimSpace(cmd.SuccessURL) == "" || strings.TrimSpace(cmd.CancelURL) == "" {
		return CheckoutSessionResult{}, fmt.Errorf("%w: success and cancel urls are required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CheckoutSessionResult{}, s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return CheckoutSessionResult{}, fmt.Errorf("%w: order %s", ErrPaymentNotFound, orderID)
	}

	existing, err := s.payments.FindByOrderID(ctx, orderID)
	havePayment := err == nil
	if err != nil && !isRepoNotFound(err) {
		return CheckoutSessionResult{}, s.mapRepositoryError(err)
	}
	if havePayment && existing.Status == domain.PaymentStatusCompleted {
		return CheckoutSessionResult{}, fmt.Errorf("%w: payment already completed for this order", ErrPaymentInvalidState)
	}

	customerEmail := ""
	if s.users != nil {
		if profile, err := s.users.FindByID(ctx, userID); err == nil {
			customerEmail = profile.Email
		} else if !isRepoNotFound(err) {
			return CheckoutSessionResult{}, s.mapRepositoryError(err)
		}
	}

	lineInputs := make([]payments.LineItemInput, 0, len(order.Items))
	for _, item := range order.Items {
		lineInputs = append(lineInputs, payments.LineItemInput{
			Name:        item.ProductName,
			Description: item.Description,
			ImageURL:    item.ImageURL,
			Quantity:    item.Quantity,
			UnitPrice:   item.Price,
		})
	}

	now := s.clock()
	idempotencyKey := fmt.Sprintf("order_%s_%d", orderID, now.UnixMilli())

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		CustomerEmail:  customerEmail,
		Currency:       order.Currency,
		SuccessURL:     strings.TrimSpace(cmd.SuccessURL),
		CancelURL:      strings.TrimSpace(cmd.CancelURL),
		IdempotencyKey: idempotencyKey,
		Items:          payments.BuildLineItems(lineInputs, order.ShippingCost, order.Tax, order.Currency),
	})
	if err != nil {
		return CheckoutSessionResult{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	payment := Payment{
		ID:                paymentIDPrefix + s.newID(),
		OrderID:           order.ID,
		UserID:            order.UserID,
		Amount:            order.Total,
		Currency:          order.Currency,
		Status:            domain.PaymentStatusPending,
		Method:            paymentMethodCard,
		TransactionID:     session.ID,
		ProviderPaymentID: session.IntentID,
		IdempotencyKey:    idempotencyKey,
		IPAddress:         strings.TrimSpace(cmd.IPAddress),
		Metadata: PaymentMetadata{
			SessionID:  session.ID,
			SessionURL: session.RedirectURL,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if havePayment {
		// A superseded pending session keeps its row; only the session
		// references and bookkeeping move forward.
		payment.ID = existing.ID
		payment.CreatedAt = existing.CreatedAt
		payment.RefundedAmount = existing.RefundedAmount
		payment.RefundedAt = existing.RefundedAt
		payment.Metadata.Refunds = existing.Metadata.Refunds
		if payment.IPAddress == "" {
			payment.IPAddress = existing.IPAddress
		}
		if err := s.payments.Update(ctx, payment); err != nil {
			return CheckoutSessionResult{}, s.mapRepositoryError(err)
		}
	} else if err := s.payments.Insert(ctx, payment); err != nil {
		return CheckoutSessionResult{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "payment.checkout.session.created", map[string]any{
		"orderId":   order.ID,
		"paymentId": payment.ID,
		"sessionId": session.ID,
	})

	return CheckoutSessionResult{SessionID: session.ID, URL: session.RedirectURL}, nil
}

// GetByOrder returns the payment for an order the user owns.
func (s *paymentService) GetByOrder(ctx context.Context, userID, orderID string) (Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Payment{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	payment, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}
	if payment.UserID != strings.TrimSpace(userID) {
		return Payment{}, fmt.Errorf("%w: payment for order %s", ErrPaymentNotFound, orderID)
	}
	return payment, nil
}

// Refund executes a partial or full refund through the gateway and
// updates the ledger atomically. Gateway failures leave state unchanged.
func (s *paymentService) Refund(ctx context.Context, cmd RefundCommand) (RefundOutcome, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RefundOutcome{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return RefundOutcome{}, s.mapRepositoryError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return RefundOutcome{}, fmt.Errorf("%w: order %s", ErrPaymentNotFound, orderID)
	}

	payment, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		return RefundOutcome{}, s.mapRepositoryError(err)
	}

	if err := validateRefundable(payment); err != nil {
		return RefundOutcome{}, err
	}

	calc, err := calculateRefund(cmd.Amount, payment.Amount, payment.RefundedAmount)
	if err != nil {
		return RefundOutcome{}, err
	}

	intentID, err := s.resolvePaymentIntent(ctx, payment)
	if err != nil {
		return RefundOutcome{}, err
	}

	result, err := s.gateway.Refund(ctx, payments.RefundRequest{
		IntentID:       intentID,
		Amount:         payments.ToCents(calc.Amount),
		Reason:         cmd.Reason,
		IdempotencyKey: fmt.Sprintf("refund_%s_%d", payment.ID, s.clock().UnixMilli()),
		Metadata: map[string]string{
			"orderId":   payment.OrderID,
			"paymentId": payment.ID,
		},
	})
	if err != nil {
		return RefundOutcome{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	now := s.clock()
	payment.RefundedAmount = calc.TotalRefunded
	payment.ProviderPaymentID = intentID
	payment.RefundedAt = &now
	if calc.Full {
		payment.Status = domain.PaymentStatusRefunded
	}
	payment.Metadata.Refunds = append(payment.Metadata.Refunds, RefundRecord{
		RefundID:  result.RefundID,
		Amount:    calc.Amount,
		Reason:    strings.TrimSpace(cmd.Reason),
		CreatedAt: now,
	})
	payment.UpdatedAt = now

	// A full refund moves the order along the lifecycle map only where
	// that transition is legal; a cancelled order keeps its status.
	moveOrder := calc.Full && order.Status != domain.OrderStatusRefunded &&
		domain.CanTransition(order.Status, domain.OrderStatusRefunded)
	if calc.Full && !moveOrder && order.Status != domain.OrderStatusRefunded {
		s.logger(ctx, "payment.refund.order_transition_skipped", map[string]any{
			"orderId": order.ID,
			"from":    string(order.Status),
		})
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.payments.Update(txCtx, payment); err != nil {
			return err
		}
		if moveOrder {
			return s.orders.UpdateStatus(txCtx, payment.OrderID, domain.OrderStatusRefunded, now)
		}
		return nil
	})
	if err != nil {
		return RefundOutcome{}, s.mapRepositoryError(err)
	}

	s.publishPaymentEvent(ctx, PaymentEvent{
		Type:       paymentEventRefunded,
		PaymentID:  payment.ID,
		OrderID:    payment.OrderID,
		UserID:     payment.UserID,
		Amount:     calc.Amount,
		Currency:   payment.Currency,
		RefundID:   result.RefundID,
		OccurredAt: now,
	})

	message := "Partial refund processed successfully"
	if calc.Full {
		message = "Full refund processed successfully"
	}
	return RefundOutcome{
		Message:        message,
		RefundedAmount: calc.Amount,
		TotalRefunded:  calc.TotalRefunded,
		RefundID:       result.RefundID,
	}, nil
}

// resolvePaymentIntent prefers the stored intent id and falls back to
// re-reading the checkout session.
func (s *paymentService) resolvePaymentIntent(ctx context.Context, payment Payment) (string, error) {
	if strings.TrimSpace(payment.ProviderPaymentID) != "" {
		return payment.ProviderPaymentID, nil
	}

	if strings.TrimSpace(payment.TransactionID) != "" {
		details, err := s.gateway.RetrieveSession(ctx, payment.TransactionID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrPaymentGateway, err)
		}
		if err := validatePaymentIntent(details.IntentID); err != nil {
			return "", err
		}
		return details.IntentID, nil
	}

	return "", validatePaymentIntent("")
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *paymentService) publishPaymentEvent(ctx context.Context, event PaymentEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishPaymentEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"type":    event.Type,
			"payment": event.PaymentID,
			"error":   err.Error(),
		})
	}
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentInvalidState, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}

	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
