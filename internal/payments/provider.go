package payments

import (
	"context"
	"math"
	"time"
)

// CheckoutLineItem describes a single purchasable line forwarded to the
// gateway. Amount is the unit price in the gateway's minor unit (cents).
type CheckoutLineItem struct {
	Name        string
	Description string
	ImageURL    string
	Quantity    int64
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest captures the inputs for a hosted checkout session.
type CheckoutSessionRequest struct {
	OrderID        string
	OrderNumber    string
	CustomerEmail  string
	Currency       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Items          []CheckoutLineItem
	Metadata       map[string]string
}

// CheckoutSession is the normalised result of creating a session.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// SessionDetails is the normalised view of a previously created session.
type SessionDetails struct {
	ID       string
	IntentID string
	Status   string
}

// RefundRequest asks the gateway to refund part or all of an intent.
// Amount is in cents; Reason carries the caller-supplied reason.
type RefundRequest struct {
	IntentID       string
	Amount         int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundResult reports the gateway-side refund identifier and status.
type RefundResult struct {
	RefundID string
	Status   string
}

// Gateway abstracts the payment provider used for settlement.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (SessionDetails, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// WebhookVerifier validates a raw webhook delivery and normalises it
// into the closed event enum.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

// ToCents converts a decimal amount to the gateway minor unit. This is
// the only boundary where decimal money becomes integer cents.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
