package repositories

import (
	"context"
	"time"

	domain "github.com/shopforge/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Payments() PaymentRepository
	Carts() CartRepository
	Products() ProductRepository
	Addresses() AddressRepository
	Users() UserRepository

	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists settlement orders and their line items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	// UpdateStatus moves the order to the given status and refreshes updatedAt.
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
}

// PaymentRepository persists the one-per-order payment ledger rows.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment) error
	FindByOrderID(ctx context.Context, orderID string) (domain.Payment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error)
	FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (domain.Payment, error)
}

// CartRepository reads and clears the user's pending cart.
type CartRepository interface {
	FindByUser(ctx context.Context, userID string) (domain.Cart, error)
	// Clear removes every cart item for the user. Inside a unit of work it
	// participates in the surrounding transaction.
	Clear(ctx context.Context, userID string) error
}

// ProductRepository reads catalog entries for price snapshotting.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// AddressRepository reads user-owned shipping destinations.
type AddressRepository interface {
	// FindByID returns a RepositoryError with IsNotFound when the address is
	// absent or belongs to another user.
	FindByID(ctx context.Context, userID, addressID string) (domain.Address, error)
}

// UserRepository reads the profile fields forwarded to the payment provider.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
}
