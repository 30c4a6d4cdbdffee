package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/shopforge/api/internal/domain"
)

// CartRepository reads and clears the user's pending cart rows.
type CartRepository struct {
	provider *Provider
}

// NewCartRepository constructs the repository bound to the shared provider.
func NewCartRepository(provider *Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("postgres: provider is required")
	}
	return &CartRepository{provider: provider}, nil
}

// FindByUser returns the user's cart. An empty cart is not an error.
func (r *CartRepository) FindByUser(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	q := r.provider.querier(ctx)

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, quantity, updated_at
		FROM cart_items WHERE user_id = $1 ORDER BY product_id`,
		userID,
	)
	if err != nil {
		return domain.Cart{}, WrapError("postgres.carts.find_by_user", err)
	}
	defer rows.Close()

	cart := domain.Cart{UserID: userID}
	for rows.Next() {
		var item domain.CartItem
		var updatedAt time.Time
		if err := rows.Scan(&item.ProductID, &item.Quantity, &updatedAt); err != nil {
			return domain.Cart{}, WrapError("postgres.carts.find_by_user", err)
		}
		if updatedAt.After(cart.UpdatedAt) {
			cart.UpdatedAt = updatedAt.UTC()
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, WrapError("postgres.carts.find_by_user", err)
	}
	return cart, nil
}

// Clear removes every cart item for the user. Participates in the
// surrounding transaction when one is carried in ctx.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	q := r.provider.querier(ctx)
	if _, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, strings.TrimSpace(userID)); err != nil {
		return WrapError("postgres.carts.clear", err)
	}
	return nil
}
