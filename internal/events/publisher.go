package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shopforge/api/internal/services"
)

// DefaultExchange is the topic exchange order and payment events are
// published to. Consumers bind service queues per routing key.
const DefaultExchange = "shopforge.events"

const publishTimeout = 3 * time.Second

// envelope is the wire format shared by all published events. Payload
// carries the event-specific fields.
type envelope struct {
	EventID    string          `json:"eventId"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

type orderEventPayload struct {
	OrderID        string  `json:"orderId"`
	OrderNumber    string  `json:"orderNumber,omitempty"`
	UserID         string  `json:"userId"`
	PreviousStatus string  `json:"previousStatus,omitempty"`
	CurrentStatus  string  `json:"currentStatus,omitempty"`
	Total          float64 `json:"total"`
	Currency       string  `json:"currency"`
}

type paymentEventPayload struct {
	PaymentID string  `json:"paymentId"`
	OrderID   string  `json:"orderId"`
	UserID    string  `json:"userId"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	RefundID  string  `json:"refundId,omitempty"`
}

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// PublisherDeps bundles the dependencies for NewPublisher.
type PublisherDeps struct {
	Channel  channel
	Exchange string
	Clock    func() time.Time
	NewID    func() string
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Publisher fans order and payment lifecycle events out over a durable
// topic exchange. It satisfies both service publisher interfaces.
type Publisher struct {
	ch       channel
	exchange string
	clock    func() time.Time
	newID    func() string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

var _ services.OrderEventPublisher = (*Publisher)(nil)
var _ services.PaymentEventPublisher = (*Publisher)(nil)

// NewPublisher opens a channel on the connection and declares the
// exchange so publishing never fails on missing infrastructure.
func NewPublisher(conn *amqp.Connection, deps PublisherDeps) (*Publisher, error) {
	if conn == nil && deps.Channel == nil {
		return nil, errors.New("event publisher: connection is required")
	}

	ch := deps.Channel
	if ch == nil {
		opened, err := conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("event publisher: open channel: %w", err)
		}
		ch = opened
	}

	exchange := deps.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("event publisher: declare exchange %s: %w", exchange, err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Publisher{
		ch:       ch,
		exchange: exchange,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// Close releases the underlying channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}

// PublishOrderEvent emits an order lifecycle event. The routing key is
// the event type with a version suffix, e.g. order.created.v1.
func (p *Publisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	payload := orderEventPayload{
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		UserID:         event.UserID,
		PreviousStatus: string(event.PreviousStatus),
		CurrentStatus:  string(event.CurrentStatus),
		Total:          event.Total,
		Currency:       event.Currency,
	}
	return p.publish(ctx, event.Type, event.OccurredAt, payload)
}

// PublishPaymentEvent emits a payment settlement or refund event.
func (p *Publisher) PublishPaymentEvent(ctx context.Context, event services.PaymentEvent) error {
	payload := paymentEventPayload{
		PaymentID: event.PaymentID,
		OrderID:   event.OrderID,
		UserID:    event.UserID,
		Amount:    event.Amount,
		Currency:  event.Currency,
		RefundID:  event.RefundID,
	}
	return p.publish(ctx, event.Type, event.OccurredAt, payload)
}

func (p *Publisher) publish(ctx context.Context, eventType string, occurredAt time.Time, payload any) error {
	if eventType == "" {
		return errors.New("event publisher: event type is required")
	}
	if occurredAt.IsZero() {
		occurredAt = p.clock()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("event publisher: marshal %s payload: %w", eventType, err)
	}
	eventID := p.newID()
	body, err := json.Marshal(envelope{
		EventID:    eventID,
		Type:       eventType,
		OccurredAt: occurredAt.UTC(),
		Payload:    raw,
	})
	if err != nil {
		return fmt.Errorf("event publisher: marshal %s envelope: %w", eventType, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(
		pubCtx,
		p.exchange,
		routingKey(eventType),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    eventID,
			Timestamp:    occurredAt.UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("event publisher: publish %s: %w", eventType, err)
	}

	p.logger(ctx, "events.published", map[string]any{
		"type":       eventType,
		"routingKey": routingKey(eventType),
	})
	return nil
}

// routingKey versions the event type so consumer bindings survive
// payload evolution.
func routingKey(eventType string) string {
	return eventType + ".v1"
}
