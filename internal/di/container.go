package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/payments"
	"github.com/shopforge/api/internal/platform/config"
	"github.com/shopforge/api/internal/repositories"
	"github.com/shopforge/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Payments services.PaymentService
}

// Deps carries the infrastructure the container wires into the services.
type Deps struct {
	Registry      repositories.Registry
	Gateway       payments.Gateway
	OrderEvents   services.OrderEventPublisher
	PaymentEvents services.PaymentEventPublisher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring supplies real
// implementations, while tests can provide in-memory registries and stub gateways.
func NewContainer(ctx context.Context, cfg config.Config, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}

	svc, err := buildServices(cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients or connection pools.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, deps Deps) (Services, error) {
	reg := deps.Registry

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	pricing := domain.PricingPolicy{
		TaxRate:               cfg.Pricing.TaxRate,
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		FlatShippingFee:       cfg.Pricing.FlatShippingFee,
		Currency:              cfg.Pricing.Currency,
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Carts:      reg.Carts(),
		Products:   reg.Products(),
		Addresses:  reg.Addresses(),
		UnitOfWork: reg,
		Pricing:    pricing,
		Clock:      clock,
		Events:     deps.OrderEvents,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:   reg.Payments(),
		Orders:     reg.Orders(),
		Users:      reg.Users(),
		Gateway:    deps.Gateway,
		UnitOfWork: reg,
		Clock:      clock,
		Events:     deps.PaymentEvents,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}

	return Services{
		Orders:   orderSvc,
		Payments: paymentSvc,
	}, nil
}
