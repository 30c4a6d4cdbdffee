package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/api/internal/platform/auth"
	"github.com/shopforge/api/internal/platform/httpx"
	"github.com/shopforge/api/internal/services"
)

const maxPaymentBodySize = 8 * 1024

const (
	checkoutRateLimit  = 10
	checkoutRateWindow = time.Minute
)

type checkoutRequest struct {
	OrderID    string `json:"order_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	IPAddress  string `json:"ip_address"`
}

type checkoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type refundRequest struct {
	Amount *float64 `json:"amount"`
	Reason string   `json:"reason"`
}

type refundResponse struct {
	Message        string  `json:"message"`
	RefundID       string  `json:"refund_id"`
	RefundedAmount float64 `json:"refunded_amount"`
	TotalRefunded  float64 `json:"total_refunded"`
}

type paymentResponse struct {
	Payment paymentPayload `json:"payment"`
}

type paymentPayload struct {
	ID             string               `json:"id"`
	OrderID        string               `json:"order_id"`
	Amount         float64              `json:"amount"`
	RefundedAmount float64              `json:"refunded_amount,omitempty"`
	Currency       string               `json:"currency"`
	Status         string               `json:"status"`
	Method         string               `json:"method"`
	FailureReason  string               `json:"failure_reason,omitempty"`
	Refunds        []refundEntryPayload `json:"refunds,omitempty"`
	PaidAt         string               `json:"paid_at,omitempty"`
	RefundedAt     string               `json:"refunded_at,omitempty"`
	CreatedAt      string               `json:"created_at"`
	UpdatedAt      string               `json:"updated_at,omitempty"`
}

type refundEntryPayload struct {
	RefundID  string  `json:"refund_id"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// PaymentHandlers exposes checkout and refund endpoints.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
	limiter  rateLimiter
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:    authn,
		payments: payments,
		limiter:  newSimpleRateLimiter(checkoutRateLimit, checkoutRateWindow, time.Now),
	}
}

// Routes registers the /payment endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/checkout", h.createCheckoutSession)
	r.Get("/order/{orderID}", h.getPaymentByOrder)
	r.Post("/refund/{orderID}", h.refundOrder)
}

func (h *PaymentHandlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(uid) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts, retry later", http.StatusTooManyRequests))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(ctx, w, r, maxPaymentBodySize, &req) {
		return
	}

	result, err := h.payments.CreateCheckoutSession(ctx, services.CheckoutCommand{
		UserID:     uid,
		OrderID:    strings.TrimSpace(req.OrderID),
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
		IPAddress:  strings.TrimSpace(req.IPAddress),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutResponse{
		SessionID: result.SessionID,
		URL:       result.URL,
	})
}

func (h *PaymentHandlers) getPaymentByOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	payment, err := h.payments.GetByOrder(ctx, uid, orderID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

// refundOrder executes a partial or full refund and is restricted to
// operators with the admin role.
func (h *PaymentHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	if !requireAdmin(ctx, w) {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req refundRequest
	if body, err := readLimitedBody(r, maxPaymentBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	} else if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	outcome, err := h.payments.Refund(ctx, services.RefundCommand{
		OrderID: orderID,
		Amount:  req.Amount,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, refundResponse{
		Message:        outcome.Message,
		RefundID:       outcome.RefundID,
		RefundedAmount: outcome.RefundedAmount,
		TotalRefunded:  outcome.TotalRefunded,
	})
}

func (h *PaymentHandlers) requireUser(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	return requireIdentity(ctx, w)
}

func buildPaymentPayload(payment services.Payment) paymentPayload {
	var refunds []refundEntryPayload
	for _, record := range payment.Metadata.Refunds {
		refunds = append(refunds, refundEntryPayload{
			RefundID:  record.RefundID,
			Amount:    record.Amount,
			Reason:    record.Reason,
			CreatedAt: formatTime(record.CreatedAt),
		})
	}

	return paymentPayload{
		ID:             payment.ID,
		OrderID:        payment.OrderID,
		Amount:         payment.Amount,
		RefundedAmount: payment.RefundedAmount,
		Currency:       payment.Currency,
		Status:         string(payment.Status),
		Method:         payment.Method,
		FailureReason:  payment.FailureReason,
		Refunds:        refunds,
		PaidAt:         formatTime(pointerTime(payment.PaidAt)),
		RefundedAt:     formatTime(pointerTime(payment.RefundedAt)),
		CreatedAt:      formatTime(payment.CreatedAt),
		UpdatedAt:      formatTime(payment.UpdatedAt),
	}
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("payment_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment provider request failed", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
