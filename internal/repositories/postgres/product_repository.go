package postgres

import (
	"context"
	"errors"
	"strings"

	domain "github.com/shopforge/api/internal/domain"
)

// ProductRepository reads catalog entries for price snapshotting.
type ProductRepository struct {
	provider *Provider
}

// NewProductRepository constructs the repository bound to the shared provider.
func NewProductRepository(provider *Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("postgres: provider is required")
	}
	return &ProductRepository{provider: provider}, nil
}

// FindByID loads a product by id.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	q := r.provider.querier(ctx)
	row := q.QueryRowContext(ctx, `
		SELECT id, name, description, price, image_url, active
		FROM products WHERE id = $1`,
		strings.TrimSpace(productID),
	)

	var product domain.Product
	if err := row.Scan(&product.ID, &product.Name, &product.Description, &product.Price, &product.ImageURL, &product.Active); err != nil {
		return domain.Product{}, WrapError("postgres.products.find_by_id", err)
	}
	return product, nil
}
