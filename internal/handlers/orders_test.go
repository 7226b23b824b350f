package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/platform/auth"
	"github.com/conceptdash/api/internal/platform/pagination"
	"github.com/conceptdash/api/internal/services"
)

type stubOrderService struct {
	listFunc       func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFunc        func(ctx context.Context, query services.GetOrderQuery) (services.Order, error)
	transitionFunc func(ctx context.Context, cmd services.FulfillmentTransitionCommand) (services.Order, error)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.GetOrderQuery) (services.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, query)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) TransitionFulfillment(ctx context.Context, cmd services.FulfillmentTransitionCommand) (services.Order, error) {
	if s.transitionFunc != nil {
		return s.transitionFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func TestOrderHandlersListOrders(t *testing.T) {
	router := chi.NewRouter()
	var captured services.OrderListFilter
	service := &stubOrderService{
		listFunc: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{samplePendingOrder()},
				NextPageToken: "next-token",
			}, nil
		},
	}

	NewOrderHandlers(nil, service).Routes(router)

	token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{"2026-02-01T00:00:00Z", "order-9"}})
	if err != nil {
		t.Fatalf("encode page token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/?status=paid,shipped&rail=mpesa&page_size=500&page_token="+token, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.UserID != "user-1" {
		t.Fatalf("expected user scope, got %s", captured.UserID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusPaid || captured.Status[1] != domain.OrderStatusShipped {
		t.Fatalf("unexpected status filter %#v", captured.Status)
	}
	if captured.Rail == nil || *captured.Rail != domain.RailMpesa {
		t.Fatalf("expected mpesa rail filter, got %#v", captured.Rail)
	}
	if captured.Pagination.PageSize != maxOrderPageSize {
		t.Fatalf("expected page size clamped to %d, got %d", maxOrderPageSize, captured.Pagination.PageSize)
	}
	if captured.Pagination.PageToken != token {
		t.Fatalf("expected page token %s, got %s", token, captured.Pagination.PageToken)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].OrderNumber != "ORD-0001" {
		t.Fatalf("unexpected items %#v", resp.Items)
	}
	if resp.NextPageToken != "next-token" {
		t.Fatalf("expected next page token, got %s", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersRejectsMalformedPageToken(t *testing.T) {
	router := chi.NewRouter()
	NewOrderHandlers(nil, &stubOrderService{
		listFunc: func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			t.Fatal("service should not be called for a malformed page token")
			return domain.CursorPage[services.Order]{}, nil
		},
	}).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/?page_token=%21%21bad%21%21", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	router := chi.NewRouter()
	NewOrderHandlers(nil, &stubOrderService{}).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/?status=bogus", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersUnauthenticated(t *testing.T) {
	router := chi.NewRouter()
	NewOrderHandlers(nil, &stubOrderService{}).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	router := chi.NewRouter()
	service := &stubOrderService{
		getFunc: func(ctx context.Context, query services.GetOrderQuery) (services.Order, error) {
			if query.OrderNumber != "ORD-0001" {
				t.Fatalf("expected order number ORD-0001, got %s", query.OrderNumber)
			}
			if query.UserID != "user-1" {
				t.Fatalf("expected user scope, got %s", query.UserID)
			}
			order := samplePendingOrder()
			order.Status = domain.OrderStatusPaid
			order.ProviderReceipt = "NLJ7RT61SV"
			return order, nil
		},
	}

	NewOrderHandlers(nil, service).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/ORD-0001", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusPaid) {
		t.Fatalf("expected paid order, got %s", resp.Order.Status)
	}
	if resp.Order.ProviderReceipt != "NLJ7RT61SV" {
		t.Fatalf("expected provider receipt, got %s", resp.Order.ProviderReceipt)
	}
	if len(resp.Order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(resp.Order.Items))
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	router := chi.NewRouter()
	service := &stubOrderService{
		getFunc: func(context.Context, services.GetOrderQuery) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	NewOrderHandlers(nil, service).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/ORD-MISSING", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
