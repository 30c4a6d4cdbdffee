package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/api/internal/payments"
	"github.com/shopforge/api/internal/platform/httpx"
	"github.com/shopforge/api/internal/services"
)

// Stripe truncates webhook payloads well below this limit.
const maxWebhookBodySize = 1 << 20

// WebhookHandlers receives provider notifications, verifies their
// signatures and hands them to the payment service for reconciliation.
type WebhookHandlers struct {
	verifier payments.WebhookVerifier
	payments services.PaymentService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(verifier payments.WebhookVerifier, svc services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{
		verifier: verifier,
		payments: svc,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}

	event, err := h.verifier.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	if err := h.payments.HandleWebhookEvent(ctx, event); err != nil {
		// Non-2xx prompts the provider to redeliver, so only failures
		// that a retry can fix surface as errors.
		switch {
		case errors.Is(err, services.ErrPaymentNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "no payment recorded for event", http.StatusNotFound))
		case errors.Is(err, services.ErrPaymentInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook event", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}
