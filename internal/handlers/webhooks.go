package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conceptdash/api/internal/payments"
	"github.com/conceptdash/api/internal/platform/auth"
	"github.com/conceptdash/api/internal/platform/httpx"
	"github.com/conceptdash/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// WebhookHandlers receives asynchronous provider callbacks. The provider is
// an at-least-once sender, so responses follow its retry contract: a success
// acknowledgement stops delivery, anything else is retried.
type WebhookHandlers struct {
	reconcile services.ReconciliationService
	logger    payments.Logger
}

// NewWebhookHandlers constructs the provider callback handlers.
func NewWebhookHandlers(reconcile services.ReconciliationService, logger payments.Logger) *WebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WebhookHandlers{
		reconcile: reconcile,
		logger:    logger,
	}
}

// Routes registers the webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/mpesa", h.mpesaCallback)
}

// darajaAck mirrors the acknowledgement envelope Daraja expects. ResultCode
// zero stops redelivery; anything else makes the provider retry.
type darajaAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func (h *WebhookHandlers) mpesaCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconcile == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "reconciliation service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		h.logger(ctx, "webhook.mpesa_unreadable", map[string]any{"error": err.Error()})
		writeJSONResponse(w, http.StatusBadRequest, darajaAck{ResultCode: 1, ResultDesc: "Rejected"})
		return
	}

	event, err := payments.ParseSTKCallback(body)
	if err != nil {
		// A malformed payload is never acknowledged; the provider keeps
		// retrying until it delivers something parseable.
		h.logger(ctx, "webhook.mpesa_malformed", map[string]any{"error": err.Error()})
		writeJSONResponse(w, http.StatusBadRequest, darajaAck{ResultCode: 1, ResultDesc: "Rejected"})
		return
	}

	switch err := h.reconcile.Reconcile(ctx, event); {
	case err == nil:
		fields := map[string]any{
			"correlationHandle": event.CorrelationHandle,
			"outcome":           string(event.Outcome),
		}
		if meta, ok := auth.HMACMetadataFromContext(ctx); ok {
			fields["signatureNonce"] = meta.Nonce
			fields["signedAt"] = meta.Timestamp.UTC().Format(time.RFC3339)
		}
		h.logger(ctx, "webhook.mpesa_reconciled", fields)
		writeJSONResponse(w, http.StatusOK, darajaAck{ResultCode: 0, ResultDesc: "Accepted"})
	case errors.Is(err, services.ErrReconcileOrderNotFound):
		// No order matches the handle. The callback is dropped after
		// logging; acknowledging stops pointless redelivery.
		h.logger(ctx, "webhook.mpesa_unknown_handle", map[string]any{
			"correlationHandle": event.CorrelationHandle,
			"outcome":           string(event.Outcome),
		})
		writeJSONResponse(w, http.StatusOK, darajaAck{ResultCode: 0, ResultDesc: "Accepted"})
	case errors.Is(err, services.ErrReconcileInvalidEvent):
		writeJSONResponse(w, http.StatusBadRequest, darajaAck{ResultCode: 1, ResultDesc: "Rejected"})
	default:
		// Transient failure. A non-success ack makes the provider retry
		// once the ledger is reachable again.
		h.logger(ctx, "webhook.mpesa_retryable", map[string]any{
			"correlationHandle": event.CorrelationHandle,
			"error":             err.Error(),
		})
		writeJSONResponse(w, http.StatusServiceUnavailable, darajaAck{ResultCode: 1, ResultDesc: "Service unavailable"})
	}
}
