package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists idempotency records in the idempotency_keys
// table so replay protection survives restarts and spans replicas.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a store backed by the provided database handle.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("idempotency: database handle is required")
	}
	return &PostgresStore{db: db}, nil
}

// Reserve claims the key for the caller or reports the state of an
// existing reservation. Expired reservations are reclaimed in place.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	storageKey := compositeKey(key, fingerprint)
	now = now.UTC()
	expiresAt := now.Add(ttl)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: begin reserve: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, fingerprint, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $4, $5)
		ON CONFLICT (key) DO NOTHING`,
		storageKey, fingerprint, string(StatusPending), now, expiresAt)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve key: %w", err)
	}
	if inserted, err := res.RowsAffected(); err == nil && inserted == 1 {
		if err := tx.Commit(); err != nil {
			return Reservation{}, fmt.Errorf("idempotency: commit reserve: %w", err)
		}
		return Reservation{State: ReservationStateNew}, nil
	}

	record, err := scanRecord(tx.QueryRowContext(ctx, `
		SELECT key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at
		FROM idempotency_keys
		WHERE key = $1
		FOR UPDATE`,
		storageKey))
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: load reservation: %w", err)
	}

	if !record.ExpiresAt.After(now) {
		// Stale reservation, reclaim it for this request.
		if _, err := tx.ExecContext(ctx, `
			UPDATE idempotency_keys
			SET fingerprint = $2, status = $3, response_status = 0, response_headers = '{}', response_body = NULL,
			    created_at = $4, updated_at = $4, expires_at = $5
			WHERE key = $1`,
			storageKey, fingerprint, string(StatusPending), now, expiresAt); err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reclaim expired key: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Reservation{}, fmt.Errorf("idempotency: commit reclaim: %w", err)
		}
		return Reservation{State: ReservationStateNew}, nil
	}

	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}

	if err := tx.Commit(); err != nil {
		return Reservation{}, fmt.Errorf("idempotency: commit lookup: %w", err)
	}

	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

// SaveResponse stores the handler response so replays can be served
// without re-executing the request.
func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	storageKey := compositeKey(key, fingerprint)
	now = now.UTC()

	headers, err := json.Marshal(sanitizeHeaders(resp.Headers))
	if err != nil {
		return fmt.Errorf("idempotency: encode headers: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $3, response_status = $4, response_headers = $5, response_body = $6, updated_at = $7, expires_at = $8
		WHERE key = $1 AND fingerprint = $2`,
		storageKey, fingerprint, string(StatusCompleted), resp.Status, headers, resp.Body, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

// Release drops a pending reservation after a failed attempt so the
// caller can retry with the same key.
func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	storageKey := compositeKey(key, fingerprint)
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key = $1 AND fingerprint = $2 AND status = $3`,
		storageKey, fingerprint, string(StatusPending)); err != nil {
		return fmt.Errorf("idempotency: release key: %w", err)
	}
	return nil
}

// CleanupExpired removes up to limit expired records and returns how
// many were deleted.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE ctid IN (
			SELECT ctid FROM idempotency_keys WHERE expires_at <= $1 LIMIT $2
		)`,
		now.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup expired: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

func scanRecord(row *sql.Row) (Record, error) {
	var record Record
	var status string
	var headers []byte
	var body []byte
	if err := row.Scan(
		&record.Key,
		&record.Fingerprint,
		&status,
		&record.ResponseStatus,
		&headers,
		&body,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.ExpiresAt,
	); err != nil {
		return Record{}, err
	}
	record.Status = Status(status)
	record.ResponseBody = body
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &record.ResponseHeaders); err != nil {
			return Record{}, fmt.Errorf("decode headers: %w", err)
		}
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return record, nil
}
