package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/repositories"
)

const orderIDPrefix = "ord_"
const orderItemIDPrefix = "itm_"

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order is not in a state that allows the operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates duplicate keys or concurrent updates.
	ErrOrderConflict = errors.New("order: conflict")
)

// OrderServiceDeps bundles the dependencies for NewOrderService.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Addresses   repositories.AddressRepository
	UnitOfWork  repositories.UnitOfWork
	Pricing     domain.PricingPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Random      func(n int) int
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	products   repositories.ProductRepository
	addresses  repositories.AddressRepository
	unitOfWork repositories.UnitOfWork
	pricing    domain.PricingPolicy
	clock      func() time.Time
	newID      func() string
	random     func(n int) int
	events     OrderEventPublisher
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService validates dependencies and constructs the order service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("order service: address repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	pricing := deps.Pricing
	if pricing == (domain.PricingPolicy{}) {
		pricing = domain.DefaultPricingPolicy()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	random := deps.Random
	if random == nil {
		random = rand.Intn
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		products:   deps.Products,
		addresses:  deps.Addresses,
		unitOfWork: unit,
		pricing:    pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		random: random,
		events: deps.Events,
		logger: logger,
	}, nil
}

// Create snapshots prices, derives totals, and atomically persists the
// order while clearing the user's cart.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.ShippingAddressID) == "" {
		return Order{}, fmt.Errorf("%w: shipping address id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return Order{}, fmt.Errorf("%w: item product id is required", ErrOrderInvalidInput)
		}
		if item.Quantity < 1 {
			return Order{}, fmt.Errorf("%w: item quantity must be at least 1", ErrOrderInvalidInput)
		}
	}

	address, err := s.addresses.FindByID(ctx, userID, strings.TrimSpace(cmd.ShippingAddressID))
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	orderID := s.nextOrderID()

	items := make([]OrderItem, 0, len(cmd.Items))
	var subtotal float64
	for _, line := range cmd.Items {
		product, err := s.products.FindByID(ctx, strings.TrimSpace(line.ProductID))
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		if !product.Active {
			return Order{}, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidState, product.ID)
		}

		lineSubtotal := domain.RoundMoney(product.Price * float64(line.Quantity))
		items = append(items, OrderItem{
			ID:          orderItemIDPrefix + s.newID(),
			OrderID:     orderID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Description: product.Description,
			ImageURL:    product.ImageURL,
			Quantity:    line.Quantity,
			Price:       product.Price,
			Subtotal:    lineSubtotal,
		})
		subtotal += lineSubtotal
	}

	totals := s.pricing.Totals(subtotal)

	order := Order{
		ID:                orderID,
		UserID:            userID,
		Status:            domain.OrderStatusPending,
		Subtotal:          totals.Subtotal,
		Tax:               totals.Tax,
		ShippingCost:      totals.ShippingCost,
		Total:             totals.Total,
		Currency:          s.pricing.Currency,
		ShippingAddressID: address.ID,
		ShippingAddress:   &address,
		Notes:             strings.TrimSpace(cmd.Notes),
		Items:             items,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// The generated number carries a random suffix; one retry absorbs the
	// rare collision against the unique constraint.
	for attempt := 0; ; attempt++ {
		order.OrderNumber = s.generateOrderNumber(now)

		err := s.runInTx(ctx, func(txCtx context.Context) error {
			if err := s.orders.Insert(txCtx, order); err != nil {
				return err
			}
			return s.carts.Clear(txCtx, userID)
		})
		if err == nil {
			break
		}

		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrOrderConflict) && attempt == 0 {
			s.logger(ctx, "order.number.collision", map[string]any{
				"orderNumber": order.OrderNumber,
			})
			continue
		}
		return Order{}, mapped
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: order.Status,
		Total:         order.Total,
		Currency:      order.Currency,
		OccurredAt:    now,
	})

	return order, nil
}

// List returns the user's orders, newest first.
func (s *orderService) List(ctx context.Context, userID string) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// Get loads an order scoped to its owner. Foreign orders surface as not found.
func (s *orderService) Get(ctx context.Context, userID, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.UserID != strings.TrimSpace(userID) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// GetByNumber loads an order by its human-facing number, owner-scoped.
func (s *orderService) GetByNumber(ctx context.Context, userID, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.UserID != strings.TrimSpace(userID) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderNumber)
	}
	return order, nil
}

// Update edits the shipping address or notes while the order is still pending.
func (s *orderService) Update(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	order, err := s.Get(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: only pending orders can be updated", ErrOrderInvalidState)
	}

	if cmd.ShippingAddressID != nil {
		address, err := s.addresses.FindByID(ctx, order.UserID, strings.TrimSpace(*cmd.ShippingAddressID))
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		order.ShippingAddressID = address.ID
	}
	if cmd.Notes != nil {
		order.Notes = strings.TrimSpace(*cmd.Notes)
	}
	order.UpdatedAt = s.clock()

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// UpdateStatus applies an administrative status transition.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !domain.ValidOrderStatus(cmd.Status) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	return s.transition(ctx, order, cmd.Status)
}

// Cancel moves a pending or processing order to cancelled.
func (s *orderService) Cancel(ctx context.Context, userID, orderID string) (Order, error) {
	order, err := s.Get(ctx, userID, orderID)
	if err != nil {
		return Order{}, err
	}

	switch order.Status {
	case domain.OrderStatusPending, domain.OrderStatusProcessing:
	default:
		return Order{}, fmt.Errorf("%w: cannot cancel order in status %s", ErrOrderInvalidState, order.Status)
	}

	return s.transition(ctx, order, domain.OrderStatusCancelled)
}

func (s *orderService) transition(ctx context.Context, order Order, to domain.OrderStatus) (Order, error) {
	if !domain.CanTransition(order.Status, to) {
		return Order{}, fmt.Errorf("%w: cannot move order from %s to %s", ErrOrderInvalidState, order.Status, to)
	}

	prev := order.Status
	now := s.clock()
	if err := s.orders.UpdateStatus(ctx, order.ID, to, now); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	order.Status = to
	order.UpdatedAt = now

	if prev != to {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			PreviousStatus: prev,
			CurrentStatus:  to,
			Total:          order.Total,
			Currency:       order.Currency,
			OccurredAt:     now,
		})
	}
	return order, nil
}

func (s *orderService) generateOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%03d", now.UnixMilli(), s.random(1000))
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
