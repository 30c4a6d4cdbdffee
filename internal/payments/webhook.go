package payments

// EventKind is the closed set of webhook notifications the settlement
// flow reacts to. Anything else maps to EventKindIgnored.
type EventKind string

const (
	EventKindCheckoutCompleted EventKind = "checkout_session_completed"
	EventKindCheckoutExpired   EventKind = "checkout_session_expired"
	EventKindPaymentFailed     EventKind = "payment_failed"
	EventKindIgnored           EventKind = "ignored"
)

// WebhookEvent is the provider-neutral form of a verified webhook
// delivery. SessionID is set for checkout events, IntentID for payment
// intent events; FailureMessage accompanies EventKindPaymentFailed.
type WebhookEvent struct {
	Kind           EventKind
	ProviderType   string
	SessionID      string
	IntentID       string
	FailureMessage string
}
