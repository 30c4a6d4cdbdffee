package domain

import "time"

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// PaymentStatus enumerates the payment lifecycle states.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Order is the settlement aggregate. Monetary fields carry decimal
// amounts; conversion to integer cents happens only at the payment
// gateway boundary.
type Order struct {
	ID                string
	UserID            string
	OrderNumber       string
	Status            OrderStatus
	Subtotal          float64
	Tax               float64
	ShippingCost      float64
	Total             float64
	Currency          string
	ShippingAddressID string
	ShippingAddress   *Address
	Notes             string
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderItem snapshots the product presentation and unit price at order
// time so later catalog edits do not rewrite history.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	Description string
	ImageURL    string
	Quantity    int
	Price       float64
	Subtotal    float64
}

// Payment tracks the single settlement attempt for an order.
// TransactionID holds the checkout session id; ProviderPaymentID holds
// the payment intent id once the provider reports it.
type Payment struct {
	ID                string
	OrderID           string
	UserID            string
	Amount            float64
	Currency          string
	Status            PaymentStatus
	Method            string
	TransactionID     string
	ProviderPaymentID string
	IdempotencyKey    string
	IPAddress         string
	RefundedAmount    float64
	FailureReason     string
	PaidAt            *time.Time
	RefundedAt        *time.Time
	Metadata          PaymentMetadata
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaymentMetadata is the closed set of provider bookkeeping attached to
// a payment. Refunds is append-only.
type PaymentMetadata struct {
	SessionID  string         `json:"sessionId,omitempty"`
	SessionURL string         `json:"sessionUrl,omitempty"`
	Refunds    []RefundRecord `json:"refunds,omitempty"`
}

// RefundRecord captures one executed refund against a payment.
type RefundRecord struct {
	RefundID  string    `json:"refundId"`
	Amount    float64   `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Cart holds the user's pending selection prior to order creation.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem references a product and desired quantity.
type CartItem struct {
	ProductID string
	Quantity  int
}

// Product is the catalog view settlement needs: the current price and
// presentation fields snapshotted onto order items and checkout lines.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       float64
	ImageURL    string
	Active      bool
}

// Address is a user-owned shipping destination.
type Address struct {
	ID         string
	UserID     string
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// UserProfile carries the identity fields settlement needs, primarily
// the billing email forwarded to the payment provider.
type UserProfile struct {
	ID    string
	Email string
	Name  string
}

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusRefunded, OrderStatusCancelled},
	OrderStatusCompleted:  {OrderStatusRefunded},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// CanTransition reports whether an order may move between the two
// statuses along the lifecycle map. Same-status moves are allowed.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range orderStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidOrderStatus reports whether the value is a known order status.
func ValidOrderStatus(status OrderStatus) bool {
	switch status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}
