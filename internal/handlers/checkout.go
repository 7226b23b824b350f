package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/platform/auth"
	"github.com/conceptdash/api/internal/platform/httpx"
	"github.com/conceptdash/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes the payment initiation endpoints for
// authenticated buyers, one route per rail, plus the redirect-rail
// confirmation poll.
type CheckoutHandlers struct {
	authn     *auth.Authenticator
	checkout  services.CheckoutService
	reconcile services.ReconciliationService
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, reconcile services.ReconciliationService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:     authn,
		checkout:  checkout,
		reconcile: reconcile,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/mpesa", h.initiateMpesa)
	group.Post("/card", h.initiateCard)
	group.Get("/card/confirm", h.confirmCard)
}

type checkoutLineRequest struct {
	ProductID string `json:"product_id"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

type checkoutAddressRequest struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type checkoutRequest struct {
	Lines    []checkoutLineRequest   `json:"lines"`
	Currency string                  `json:"currency"`
	Name     string                  `json:"name"`
	Email    string                  `json:"email"`
	Phone    string                  `json:"phone"`
	Address  *checkoutAddressRequest `json:"address"`

	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	Locale     string            `json:"locale"`
	Metadata   map[string]string `json:"metadata"`
}

type checkoutResponse struct {
	Order       orderPayload `json:"order"`
	RedirectURL string       `json:"redirect_url,omitempty"`
	ExpiresAt   string       `json:"expires_at,omitempty"`
}

func (h *CheckoutHandlers) initiateMpesa(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, domain.RailMpesa)
}

func (h *CheckoutHandlers) initiateCard(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, domain.RailCard)
}

func (h *CheckoutHandlers) initiate(w http.ResponseWriter, r *http.Request, rail domain.PaymentRail) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	if len(req.Lines) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "at least one cart line is required", http.StatusBadRequest))
		return
	}

	lineErrors := make(map[string]any)
	lines := make([]domain.CartLine, 0, len(req.Lines))
	for i, line := range req.Lines {
		switch {
		case strings.TrimSpace(line.ProductID) == "":
			lineErrors[fmt.Sprintf("lines[%d].product_id", i)] = "product_id is required"
		case line.Quantity <= 0:
			lineErrors[fmt.Sprintf("lines[%d].quantity", i)] = "quantity must be greater than zero"
		case line.UnitPrice < 0:
			lineErrors[fmt.Sprintf("lines[%d].unit_price", i)] = "unit_price must not be negative"
		}
		lines = append(lines, domain.CartLine{
			ProductID: strings.TrimSpace(line.ProductID),
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	if len(lineErrors) > 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart lines are invalid", http.StatusBadRequest).WithDetails(lineErrors))
		return
	}

	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		key := strings.TrimSpace(k)
		value := strings.TrimSpace(v)
		if key == "" || value == "" {
			continue
		}
		metadata[key] = value
	}

	customer := domain.Customer{
		ID:    identity.UID,
		Name:  strings.TrimSpace(req.Name),
		Email: firstNonEmptyString(req.Email, identity.Email),
		Phone: strings.TrimSpace(req.Phone),
	}
	if customer.Name == "" || customer.Email == "" || customer.Phone == "" {
		// Backfill missing contact details from the Firebase user profile.
		if record, err := identity.User(ctx); err == nil && record != nil && record.UserInfo != nil {
			customer.Name = firstNonEmptyString(customer.Name, record.DisplayName)
			customer.Email = firstNonEmptyString(customer.Email, record.Email)
			customer.Phone = firstNonEmptyString(customer.Phone, record.PhoneNumber)
		}
	}

	cmd := services.InitiateCheckoutCommand{
		UserID:   identity.UID,
		Rail:     rail,
		Lines:    lines,
		Currency: strings.TrimSpace(req.Currency),
		Customer: customer,
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
		Locale:     firstNonEmptyString(req.Locale, identity.Locale),
		Metadata:   metadata,
	}
	if req.Address != nil {
		cmd.Address = &domain.Address{
			Name:       strings.TrimSpace(req.Address.Name),
			Line1:      strings.TrimSpace(req.Address.Line1),
			City:       strings.TrimSpace(req.Address.City),
			State:      strings.TrimSpace(req.Address.State),
			PostalCode: strings.TrimSpace(req.Address.PostalCode),
			Country:    strings.ToUpper(strings.TrimSpace(req.Address.Country)),
		}
	}

	receipt, err := h.checkout.Initiate(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	payload := checkoutResponse{
		Order:       buildOrderPayload(receipt.Order),
		RedirectURL: strings.TrimSpace(receipt.RedirectURL),
		ExpiresAt:   formatTime(receipt.ExpiresAt),
	}
	writeJSONResponse(w, http.StatusCreated, payload)
}

// confirmCard polls the hosted checkout session after the buyer returns from
// the redirect. Callers may poll the endpoint; a still-unpaid session simply
// returns the pending order.
func (h *CheckoutHandlers) confirmCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconcile == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session_id is required", http.StatusBadRequest))
		return
	}

	order, err := h.reconcile.ConfirmRedirect(ctx, services.ConfirmRedirectCommand{
		SessionID: sessionID,
		UserID:    identity.UID,
	})
	if err != nil {
		h.writeConfirmError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart has no purchasable lines", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be initiated", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "checkout conflicted with a concurrent request", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

func (h *CheckoutHandlers) writeConfirmError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReconcileInvalidEvent):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReconcileOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "no order for checkout session", http.StatusNotFound))
	case errors.Is(err, services.ErrReconcileUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to confirm checkout session", http.StatusInternalServerError))
	}
}

func firstNonEmptyString(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
