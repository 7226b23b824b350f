package services

import (
	"context"
	"errors"
	"testing"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/repositories"
)

func paidOrder() domain.Order {
	order := pendingOrder()
	order.Status = domain.OrderStatusPaid
	return order
}

func newOrderService(t *testing.T, orders *stubOrderRepository, events *stubEventPublisher) OrderService {
	t.Helper()
	deps := OrderServiceDeps{Orders: orders}
	if events != nil {
		deps.Events = events
	}
	service, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return service
}

func TestListOrdersRequiresUser(t *testing.T) {
	service := newOrderService(t, &stubOrderRepository{}, nil)
	if _, err := service.ListOrders(context.Background(), OrderListFilter{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestListOrdersPassesFilter(t *testing.T) {
	var captured repositories.OrderListFilter
	orders := &stubOrderRepository{
		listByUserFunc: func(_ context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user %q", userID)
			}
			captured = filter
			return domain.CursorPage[domain.Order]{Items: []domain.Order{paidOrder()}}, nil
		},
	}
	service := newOrderService(t, orders, nil)

	page, err := service.ListOrders(context.Background(), OrderListFilter{
		UserID:     "user-1",
		Status:     []OrderStatus{domain.OrderStatusPaid},
		Pagination: Pagination{PageSize: 20},
	})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 order, got %d", len(page.Items))
	}
	if len(captured.Status) != 1 || captured.Status[0] != domain.OrderStatusPaid {
		t.Fatalf("expected status filter forwarded, got %#v", captured.Status)
	}
	if captured.Pagination.PageSize != 20 {
		t.Fatalf("expected page size forwarded, got %d", captured.Pagination.PageSize)
	}
}

func TestGetOrderScopedToUser(t *testing.T) {
	orders := &stubOrderRepository{
		findByNumberFunc: func(context.Context, string) (domain.Order, error) {
			return paidOrder(), nil
		},
	}
	service := newOrderService(t, orders, nil)

	if _, err := service.GetOrder(context.Background(), GetOrderQuery{OrderNumber: "ORD-0001", UserID: "user-1"}); err != nil {
		t.Fatalf("get own order: %v", err)
	}
	if _, err := service.GetOrder(context.Background(), GetOrderQuery{OrderNumber: "ORD-0001", UserID: "intruder"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign order, got %v", err)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	service := newOrderService(t, &stubOrderRepository{}, nil)
	if _, err := service.GetOrder(context.Background(), GetOrderQuery{OrderNumber: "ORD-9999"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestTransitionFulfillmentHappyPath(t *testing.T) {
	order := paidOrder()
	var applied repositories.OrderTransition
	orders := &stubOrderRepository{
		findByNumberFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		transitionFunc: func(_ context.Context, orderID string, change repositories.OrderTransition) (domain.Order, error) {
			if orderID != order.ID {
				t.Fatalf("unexpected order id %q", orderID)
			}
			applied = change
			updated := order
			updated.Status = change.To
			return updated, nil
		},
	}
	events := &stubEventPublisher{}
	service := newOrderService(t, orders, events)

	updated, err := service.TransitionFulfillment(context.Background(), FulfillmentTransitionCommand{
		OrderNumber: "ORD-0001",
		To:          domain.OrderStatusProcessing,
		ActorID:     "ops-1",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", updated.Status)
	}
	if applied.From != domain.OrderStatusPaid {
		t.Fatalf("expected CAS from paid, got %s", applied.From)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.processing" {
		t.Fatalf("expected order.processing event, got %#v", events.events)
	}
}

func TestTransitionFulfillmentRejectsIllegalMoves(t *testing.T) {
	cases := []struct {
		name string
		from domain.OrderStatus
		to   domain.OrderStatus
	}{
		{name: "pending to shipped", from: domain.OrderStatusPending, to: domain.OrderStatusShipped},
		{name: "failed to processing", from: domain.OrderStatusFailed, to: domain.OrderStatusProcessing},
		{name: "paid to delivered", from: domain.OrderStatusPaid, to: domain.OrderStatusDelivered},
		{name: "delivered to cancelled", from: domain.OrderStatusDelivered, to: domain.OrderStatusCancelled},
		{name: "pending to paid", from: domain.OrderStatusPending, to: domain.OrderStatusPaid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := pendingOrder()
			order.Status = tc.from
			orders := &stubOrderRepository{
				findByNumberFunc: func(context.Context, string) (domain.Order, error) {
					return order, nil
				},
			}
			service := newOrderService(t, orders, nil)

			_, err := service.TransitionFulfillment(context.Background(), FulfillmentTransitionCommand{
				OrderNumber: "ORD-0001",
				To:          tc.to,
			})
			if !errors.Is(err, ErrOrderInvalidTransition) {
				t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
			}
		})
	}
}

func TestTransitionFulfillmentConflict(t *testing.T) {
	orders := &stubOrderRepository{
		findByNumberFunc: func(context.Context, string) (domain.Order, error) {
			return paidOrder(), nil
		},
		transitionFunc: func(context.Context, string, repositories.OrderTransition) (domain.Order, error) {
			return domain.Order{}, conflictErr()
		},
	}
	service := newOrderService(t, orders, nil)

	_, err := service.TransitionFulfillment(context.Background(), FulfillmentTransitionCommand{
		OrderNumber: "ORD-0001",
		To:          domain.OrderStatusProcessing,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}
