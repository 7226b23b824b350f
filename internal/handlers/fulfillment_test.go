package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/services"
)

func TestFulfillmentHandlersTransitionOrder(t *testing.T) {
	router := chi.NewRouter()
	var captured services.FulfillmentTransitionCommand
	service := &stubOrderService{
		transitionFunc: func(ctx context.Context, cmd services.FulfillmentTransitionCommand) (services.Order, error) {
			captured = cmd
			order := samplePendingOrder()
			order.Status = domain.OrderStatusProcessing
			return order, nil
		},
	}

	NewFulfillmentHandlers(service).Routes(router)

	payload := `{"status":"processing","actor_id":"ops-1","note":"picked"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ORD-0001/status", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.OrderNumber != "ORD-0001" {
		t.Fatalf("expected order number ORD-0001, got %s", captured.OrderNumber)
	}
	if captured.To != domain.OrderStatusProcessing {
		t.Fatalf("expected processing target, got %s", captured.To)
	}
	if captured.ActorID != "ops-1" || captured.Note != "picked" {
		t.Fatalf("unexpected actor or note %#v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusProcessing) {
		t.Fatalf("expected processing order, got %s", resp.Order.Status)
	}
}

func TestFulfillmentHandlersTransitionRejectsUnknownStatus(t *testing.T) {
	router := chi.NewRouter()
	NewFulfillmentHandlers(&stubOrderService{
		transitionFunc: func(context.Context, services.FulfillmentTransitionCommand) (services.Order, error) {
			t.Fatal("service should not be called for an unknown status")
			return services.Order{}, nil
		},
	}).Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/orders/ORD-0001/status", bytes.NewBufferString(`{"status":"teleported"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestFulfillmentHandlersTransitionMapsErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", services.ErrOrderNotFound, http.StatusNotFound},
		{"illegal move", services.ErrOrderInvalidTransition, http.StatusConflict},
		{"lost race", services.ErrOrderConflict, http.StatusConflict},
		{"outage", services.ErrOrderUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := chi.NewRouter()
			NewFulfillmentHandlers(&stubOrderService{
				transitionFunc: func(context.Context, services.FulfillmentTransitionCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}).Routes(router)

			req := httptest.NewRequest(http.MethodPost, "/orders/ORD-0001/status", bytes.NewBufferString(`{"status":"shipped"}`))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
		})
	}
}
