package postgres

import (
	"context"
	"errors"

	"github.com/shopforge/api/internal/repositories"
)

// Registry bundles the Postgres repositories behind the repositories.Registry contract.
type Registry struct {
	provider  *Provider
	orders    *OrderRepository
	payments  *PaymentRepository
	carts     *CartRepository
	products  *ProductRepository
	addresses *AddressRepository
	users     *UserRepository
}

// NewRegistry wires every repository against the shared provider.
func NewRegistry(provider *Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("postgres: provider is required")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	addresses, err := NewAddressRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  provider,
		orders:    orders,
		payments:  payments,
		carts:     carts,
		products:  products,
		addresses: addresses,
		users:     users,
	}, nil
}

// Close releases the underlying connection pool.
func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Payments returns the payment repository.
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }

// Carts returns the cart repository.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Products returns the product repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Addresses returns the address repository.
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }

// Users returns the user repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// RunInTx delegates to the provider's transactional unit of work.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInTx(ctx, fn)
}

var _ repositories.Registry = (*Registry)(nil)
