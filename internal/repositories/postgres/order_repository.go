package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	domain "github.com/shopforge/api/internal/domain"
)

// OrderRepository persists orders and their line items in Postgres.
type OrderRepository struct {
	provider *Provider
}

// NewOrderRepository constructs the repository bound to the shared provider.
func NewOrderRepository(provider *Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("postgres: provider is required")
	}
	return &OrderRepository{provider: provider}, nil
}

const orderColumns = `id, user_id, order_number, status, subtotal, tax, shipping_cost, total, currency, shipping_address_id, notes, created_at, updated_at`

// Insert stores the order header and all line items.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	q := r.provider.querier(ctx)

	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		order.ID, order.UserID, order.OrderNumber, string(order.Status),
		order.Subtotal, order.Tax, order.ShippingCost, order.Total,
		order.Currency, order.ShippingAddressID, order.Notes,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return WrapError("postgres.orders.insert", err)
	}

	for _, item := range order.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, description, image_url, quantity, price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			item.ID, order.ID, item.ProductID, item.ProductName, item.Description, item.ImageURL,
			item.Quantity, item.Price, item.Subtotal,
		)
		if err != nil {
			return WrapError("postgres.orders.insert_item", err)
		}
	}

	return nil
}

// Update rewrites the mutable order header fields.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	q := r.provider.querier(ctx)

	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, shipping_address_id = $3, notes = $4, updated_at = $5
		WHERE id = $1`,
		order.ID, string(order.Status), order.ShippingAddressID, order.Notes, order.UpdatedAt,
	)
	if err != nil {
		return WrapError("postgres.orders.update", err)
	}
	return requireRowAffected(res, "postgres.orders.update")
}

// UpdateStatus moves the order to the given status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	q := r.provider.querier(ctx)

	res, err := q.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		orderID, string(status), updatedAt,
	)
	if err != nil {
		return WrapError("postgres.orders.update_status", err)
	}
	return requireRowAffected(res, "postgres.orders.update_status")
}

// FindByID loads an order with its items.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	q := r.provider.querier(ctx)

	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, strings.TrimSpace(orderID))
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, WrapError("postgres.orders.find_by_id", err)
	}

	if err := r.loadItems(ctx, q, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// FindByNumber loads an order by its human-facing number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	q := r.provider.querier(ctx)

	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, strings.TrimSpace(orderNumber))
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, WrapError("postgres.orders.find_by_number", err)
	}

	if err := r.loadItems(ctx, q, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListByUser returns the user's orders, newest first, items included.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	q := r.provider.querier(ctx)

	rows, err := q.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		strings.TrimSpace(userID),
	)
	if err != nil {
		return nil, WrapError("postgres.orders.list_by_user", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, WrapError("postgres.orders.list_by_user", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError("postgres.orders.list_by_user", err)
	}

	for i := range orders {
		if err := r.loadItems(ctx, q, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, q queryer, order *domain.Order) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, description, image_url, quantity, price, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY id`,
		order.ID,
	)
	if err != nil {
		return WrapError("postgres.orders.load_items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Description, &item.ImageURL, &item.Quantity, &item.Price, &item.Subtotal); err != nil {
			return WrapError("postgres.orders.load_items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return WrapError("postgres.orders.load_items", err)
	}

	order.Items = items
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	var status string
	err := row.Scan(
		&order.ID, &order.UserID, &order.OrderNumber, &status,
		&order.Subtotal, &order.Tax, &order.ShippingCost, &order.Total,
		&order.Currency, &order.ShippingAddressID, &order.Notes,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func requireRowAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return WrapError(op, err)
	}
	if affected == 0 {
		return notFoundError(op)
	}
	return nil
}
