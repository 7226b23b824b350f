package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/platform/httpx"
	"github.com/conceptdash/api/internal/services"
)

const maxTransitionBodySize = 4 * 1024

// FulfillmentHandlers exposes the back-office order transition endpoint.
// The routes are mounted under the internal group, which carries its own
// authentication middleware.
type FulfillmentHandlers struct {
	orders services.OrderService
}

// NewFulfillmentHandlers constructs the internal fulfillment handlers.
func NewFulfillmentHandlers(orders services.OrderService) *FulfillmentHandlers {
	return &FulfillmentHandlers{orders: orders}
}

// Routes registers the fulfillment endpoints under the provided router.
func (h *FulfillmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderNumber}/status", h.transitionOrder)
}

type transitionOrderRequest struct {
	Status  string `json:"status"`
	ActorID string `json:"actor_id"`
	Note    string `json:"note"`
}

func (h *FulfillmentHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxTransitionBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req transitionOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if _, known := validOrderStatuses[target]; !known {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionFulfillment(ctx, services.FulfillmentTransitionCommand{
		OrderNumber: orderNumber,
		To:          target,
		ActorID:     strings.TrimSpace(req.ActorID),
		Note:        strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
