package services

import (
	"context"
	"time"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	Payment         = domain.Payment
	PaymentMetadata = domain.PaymentMetadata
	RefundRecord    = domain.RefundRecord
	Cart            = domain.Cart
	CartItem        = domain.CartItem
	Product         = domain.Product
	Address         = domain.Address
	UserProfile     = domain.UserProfile
)

// CreateOrderCommand captures the inputs for order creation.
type CreateOrderCommand struct {
	UserID            string
	ShippingAddressID string
	Notes             string
	Items             []CreateOrderItem
}

// CreateOrderItem references a product and desired quantity.
type CreateOrderItem struct {
	ProductID string
	Quantity  int
}

// UpdateOrderCommand carries the pre-settlement edits a buyer may make.
// Nil pointers leave the field unchanged.
type UpdateOrderCommand struct {
	OrderID           string
	UserID            string
	ShippingAddressID *string
	Notes             *string
}

// UpdateOrderStatusCommand is the admin-facing status transition request.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  domain.OrderStatus
}

// OrderService owns the order lifecycle from creation to cancellation.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	List(ctx context.Context, userID string) ([]Order, error)
	Get(ctx context.Context, userID, orderID string) (Order, error)
	GetByNumber(ctx context.Context, userID, orderNumber string) (Order, error)
	Update(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	Cancel(ctx context.Context, userID, orderID string) (Order, error)
}

// CheckoutCommand captures the inputs for creating a hosted checkout
// session. IPAddress is optional and recorded on the payment row.
type CheckoutCommand struct {
	UserID     string
	OrderID    string
	SuccessURL string
	CancelURL  string
	IPAddress  string
}

// CheckoutSessionResult is returned to the client for redirecting to the
// hosted payment page.
type CheckoutSessionResult struct {
	SessionID string
	URL       string
}

// RefundCommand requests a partial or full refund for an order's payment.
// A nil Amount refunds the remaining balance. A non-empty UserID scopes
// the order lookup to that owner; admins leave it empty.
type RefundCommand struct {
	OrderID string
	UserID  string
	Amount  *float64
	Reason  string
}

// RefundOutcome reports the executed refund.
type RefundOutcome struct {
	Message        string
	RefundedAmount float64
	TotalRefunded  float64
	RefundID       string
}

// PaymentService orchestrates checkout, webhook reconciliation and refunds.
type PaymentService interface {
	CreateCheckoutSession(ctx context.Context, cmd CheckoutCommand) (CheckoutSessionResult, error)
	GetByOrder(ctx context.Context, userID, orderID string) (Payment, error)
	Refund(ctx context.Context, cmd RefundCommand) (RefundOutcome, error)
	HandleWebhookEvent(ctx context.Context, event payments.WebhookEvent) error
}

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"

	paymentEventCompleted = "payment.completed"
	paymentEventRefunded  = "payment.refunded"
)

// OrderEvent is emitted on order creation and status transitions.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus domain.OrderStatus
	CurrentStatus  domain.OrderStatus
	Total          float64
	Currency       string
	OccurredAt     time.Time
}

// OrderEventPublisher fans order lifecycle events out to interested consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// PaymentEvent is emitted when a payment settles or is refunded.
type PaymentEvent struct {
	Type       string
	PaymentID  string
	OrderID    string
	UserID     string
	Amount     float64
	Currency   string
	RefundID   string
	OccurredAt time.Time
}

// PaymentEventPublisher fans payment events out to interested consumers.
type PaymentEventPublisher interface {
	PublishPaymentEvent(ctx context.Context, event PaymentEvent) error
}
