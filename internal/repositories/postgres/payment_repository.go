package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shopforge/api/internal/domain"
)

// PaymentRepository persists the one-per-order payment ledger rows.
type PaymentRepository struct {
	provider *Provider
}

// NewPaymentRepository constructs the repository bound to the shared provider.
func NewPaymentRepository(provider *Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("postgres: provider is required")
	}
	return &PaymentRepository{provider: provider}, nil
}

const paymentColumns = `id, order_id, user_id, amount, currency, status, method, transaction_id, provider_payment_id, idempotency_key, ip_address, refunded_amount, failure_reason, paid_at, refunded_at, metadata, created_at, updated_at`

// Insert stores a new payment row. The unique order constraint turns a
// duplicate insert into a conflict error.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	metadata, err := encodeMetadata(payment.Metadata)
	if err != nil {
		return WrapError("postgres.payments.insert", err)
	}

	q := r.provider.querier(ctx)
	_, err = q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		payment.ID, payment.OrderID, payment.UserID, payment.Amount, payment.Currency,
		string(payment.Status), payment.Method, payment.TransactionID, payment.ProviderPaymentID,
		payment.IdempotencyKey, payment.IPAddress, payment.RefundedAmount, payment.FailureReason,
		nullableTime(payment.PaidAt), nullableTime(payment.RefundedAt), metadata,
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return WrapError("postgres.payments.insert", err)
	}
	return nil
}

// Update rewrites the payment row identified by id.
func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	metadata, err := encodeMetadata(payment.Metadata)
	if err != nil {
		return WrapError("postgres.payments.update", err)
	}

	q := r.provider.querier(ctx)
	res, err := q.ExecContext(ctx, `
		UPDATE payments
		SET amount = $2, currency = $3, status = $4, method = $5, transaction_id = $6,
		    provider_payment_id = $7, idempotency_key = $8, ip_address = $9,
		    refunded_amount = $10, failure_reason = $11, paid_at = $12,
		    refunded_at = $13, metadata = $14, updated_at = $15
		WHERE id = $1`,
		payment.ID, payment.Amount, payment.Currency, string(payment.Status), payment.Method,
		payment.TransactionID, payment.ProviderPaymentID, payment.IdempotencyKey,
		payment.IPAddress, payment.RefundedAmount, payment.FailureReason,
		nullableTime(payment.PaidAt), nullableTime(payment.RefundedAt),
		metadata, payment.UpdatedAt,
	)
	if err != nil {
		return WrapError("postgres.payments.update", err)
	}
	return requireRowAffected(res, "postgres.payments.update")
}

// FindByOrderID loads the payment for an order.
func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.findBy(ctx, "postgres.payments.find_by_order", `order_id = $1`, strings.TrimSpace(orderID))
}

// FindByTransactionID loads a payment by checkout session id.
func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error) {
	return r.findBy(ctx, "postgres.payments.find_by_transaction", `transaction_id = $1`, strings.TrimSpace(transactionID))
}

// FindByProviderPaymentID loads a payment by payment intent id.
func (r *PaymentRepository) FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (domain.Payment, error) {
	return r.findBy(ctx, "postgres.payments.find_by_provider_payment", `provider_payment_id = $1`, strings.TrimSpace(providerPaymentID))
}

func (r *PaymentRepository) findBy(ctx context.Context, op, where string, arg any) (domain.Payment, error) {
	q := r.provider.querier(ctx)
	row := q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, arg)

	var payment domain.Payment
	var status string
	var paidAt, refundedAt sql.NullTime
	var metadata []byte
	err := row.Scan(
		&payment.ID, &payment.OrderID, &payment.UserID, &payment.Amount, &payment.Currency,
		&status, &payment.Method, &payment.TransactionID, &payment.ProviderPaymentID,
		&payment.IdempotencyKey, &payment.IPAddress, &payment.RefundedAmount, &payment.FailureReason,
		&paidAt, &refundedAt, &metadata, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if err != nil {
		return domain.Payment{}, WrapError(op, err)
	}

	payment.Status = domain.PaymentStatus(status)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		payment.PaidAt = &t
	}
	if refundedAt.Valid {
		t := refundedAt.Time.UTC()
		payment.RefundedAt = &t
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &payment.Metadata); err != nil {
			return domain.Payment{}, WrapError(op, fmt.Errorf("decode metadata: %w", err))
		}
	}
	payment.CreatedAt = payment.CreatedAt.UTC()
	payment.UpdatedAt = payment.UpdatedAt.UTC()
	return payment, nil
}

func encodeMetadata(metadata domain.PaymentMetadata) ([]byte, error) {
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
