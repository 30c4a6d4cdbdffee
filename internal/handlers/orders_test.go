package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shopforge/api/internal/domain"
	"github.com/shopforge/api/internal/platform/auth"
	"github.com/shopforge/api/internal/services"
)

type stubOrderService struct {
	createFn       func(context.Context, services.CreateOrderCommand) (services.Order, error)
	listFn         func(context.Context, string) ([]services.Order, error)
	getFn          func(context.Context, string, string) (services.Order, error)
	getByNumberFn  func(context.Context, string, string) (services.Order, error)
	updateFn       func(context.Context, services.UpdateOrderCommand) (services.Order, error)
	updateStatusFn func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	cancelFn       func(context.Context, string, string) (services.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) List(ctx context.Context, userID string) ([]services.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func (s *stubOrderService) Get(ctx context.Context, userID, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetByNumber(ctx context.Context, userID, orderNumber string) (services.Order, error) {
	if s.getByNumberFn != nil {
		return s.getByNumberFn(ctx, userID, orderNumber)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Update(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, userID, orderID string) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, userID, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func sampleOrder() services.Order {
	return services.Order{
		ID:          "ord_1",
		OrderNumber: "ORD-1714564800000-042",
		UserID:      "user_1",
		Status:      domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ID: "itm_1", ProductID: "prod_mug", ProductName: "Mug", Price: 25, Quantity: 2, Subtotal: 50},
		},
		Subtotal:          50,
		Tax:               5,
		ShippingCost:      10,
		Total:             65,
		Currency:          "usd",
		ShippingAddressID: "addr_1",
		ShippingAddress:   &domain.Address{ID: "addr_1", UserID: "user_1", Line1: "1 Main St", City: "Springfield"},
		CreatedAt:         time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newOrderRouter(service services.OrderService) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(nil, service).Routes)
	return router
}

func authenticatedRequest(method, target string, body []byte, roles ...string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	identity := &auth.Identity{UID: "user_1", Roles: roles}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	service := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
		captured = cmd
		return sampleOrder(), nil
	}}
	router := newOrderRouter(service)

	body := []byte(`{"shipping_address_id":"addr_1","notes":"ring twice","items":[{"product_id":"prod_mug","quantity":2}]}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/orders/", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.UserID != "user_1" || captured.ShippingAddressID != "addr_1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "prod_mug" || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items: %+v", captured.Items)
	}

	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Order.ID != "ord_1" || resp.Order.Total != 65 {
		t.Fatalf("unexpected response: %+v", resp.Order)
	}
	if resp.Order.ShippingAddress == nil || resp.Order.ShippingAddress.Line1 != "1 Main St" {
		t.Fatalf("expected shipping address in response: %+v", resp.Order.ShippingAddress)
	}
}

func TestOrderHandlersCreateOrderRequiresAuth(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestOrderHandlersCreateOrderInvalidJSON(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/orders/", []byte("{not json")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	service := &stubOrderService{listFn: func(_ context.Context, userID string) ([]services.Order, error) {
		if userID != "user_1" {
			t.Fatalf("unexpected user id: %s", userID)
		}
		return []services.Order{sampleOrder()}, nil
	}}
	router := newOrderRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/orders/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp orderListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].OrderNumber != "ORD-1714564800000-042" {
		t.Fatalf("unexpected response: %+v", resp.Items)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{getFn: func(context.Context, string, string) (services.Order, error) {
		return services.Order{}, services.ErrOrderNotFound
	}}
	router := newOrderRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/orders/ord_missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestOrderHandlersGetOrderByNumber(t *testing.T) {
	service := &stubOrderService{getByNumberFn: func(_ context.Context, _, number string) (services.Order, error) {
		order := sampleOrder()
		order.OrderNumber = number
		return order, nil
	}}
	router := newOrderRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/orders/number/ORD-1-001", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Order.OrderNumber != "ORD-1-001" {
		t.Fatalf("unexpected order number: %s", resp.Order.OrderNumber)
	}
}

func TestOrderHandlersUpdateOrderConflict(t *testing.T) {
	service := &stubOrderService{updateFn: func(context.Context, services.UpdateOrderCommand) (services.Order, error) {
		return services.Order{}, services.ErrOrderInvalidState
	}}
	router := newOrderRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPut, "/orders/ord_1", []byte(`{"notes":"updated"}`)))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestOrderHandlersUpdateStatusRequiresAdmin(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPatch, "/orders/ord_1/status", []byte(`{"status":"PROCESSING"}`)))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestOrderHandlersUpdateStatusAsAdmin(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	service := &stubOrderService{updateStatusFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
		captured = cmd
		order := sampleOrder()
		order.Status = cmd.Status
		return order, nil
	}}
	router := newOrderRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPatch, "/orders/ord_1/status", []byte(`{"status":"processing"}`), auth.RoleAdmin))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected uppercased status, got %s", captured.Status)
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	service := &stubOrderService{cancelFn: func(_ context.Context, userID, orderID string) (services.Order, error) {
		if userID != "user_1" || orderID != "ord_1" {
			t.Fatalf("unexpected cancel args: %s %s", userID, orderID)
		}
		order := sampleOrder()
		order.Status = domain.OrderStatusCancelled
		return order, nil
	}}
	router := newOrderRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPatch, "/orders/ord_1/cancel", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusCancelled) {
		t.Fatalf("unexpected status: %s", resp.Order.Status)
	}
}
