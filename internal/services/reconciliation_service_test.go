package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/payments"
	"github.com/conceptdash/api/internal/repositories"
)

func pendingOrder() domain.Order {
	return domain.Order{
		ID:                "order-1",
		OrderNumber:       "ORD-0001",
		UserID:            "user-1",
		Status:            domain.OrderStatusPending,
		Rail:              domain.RailMpesa,
		CorrelationHandle: "ws_CO_123",
		Currency:          "KES",
		Totals:            domain.OrderTotals{Subtotal: 2500, Total: 2500},
	}
}

func newReconciliationService(t *testing.T, orders *stubOrderRepository, rails *stubRails, events *stubEventPublisher) ReconciliationService {
	t.Helper()
	deps := ReconciliationServiceDeps{
		Orders: orders,
		Rails:  rails,
		Clock:  func() time.Time { return time.Date(2025, 2, 10, 10, 0, 0, 0, time.UTC) },
	}
	if events != nil {
		deps.Events = events
	}
	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("new reconciliation service: %v", err)
	}
	return service
}

func TestReconcileSuccessSettlesOrder(t *testing.T) {
	order := pendingOrder()
	var applied repositories.OrderTransition
	orders := &stubOrderRepository{
		findByHandleFunc: func(_ context.Context, handle string) (domain.Order, error) {
			if handle != order.CorrelationHandle {
				return domain.Order{}, notFoundErr()
			}
			return order, nil
		},
		transitionFunc: func(_ context.Context, orderID string, change repositories.OrderTransition) (domain.Order, error) {
			applied = change
			settled := order
			settled.Status = change.To
			settled.ProviderReceipt = change.ProviderReceipt
			return settled, nil
		},
	}
	events := &stubEventPublisher{}
	service := newReconciliationService(t, orders, nil, events)

	err := service.Reconcile(context.Background(), ReconciliationEvent{
		CorrelationHandle: "ws_CO_123",
		Rail:              domain.RailMpesa,
		Outcome:           domain.OutcomeSuccess,
		ProviderReference: "NLJ7RT61SV",
		Amount:            2500,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if applied.To != domain.OrderStatusPaid || applied.From != domain.OrderStatusPending {
		t.Fatalf("unexpected transition %+v", applied)
	}
	if applied.ProviderReceipt != "NLJ7RT61SV" {
		t.Fatalf("expected receipt to be recorded, got %q", applied.ProviderReceipt)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.paid" {
		t.Fatalf("expected order.paid event, got %#v", events.events)
	}
}

func TestReconcileFailureSettlesOrder(t *testing.T) {
	order := pendingOrder()
	var applied repositories.OrderTransition
	orders := &stubOrderRepository{
		findByHandleFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		transitionFunc: func(_ context.Context, _ string, change repositories.OrderTransition) (domain.Order, error) {
			applied = change
			settled := order
			settled.Status = change.To
			settled.FailureReason = change.FailureReason
			return settled, nil
		},
	}
	service := newReconciliationService(t, orders, nil, nil)

	err := service.Reconcile(context.Background(), ReconciliationEvent{
		CorrelationHandle: "ws_CO_123",
		Outcome:           domain.OutcomeFailure,
		FailureReason:     "Request cancelled by user.",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if applied.To != domain.OrderStatusFailed {
		t.Fatalf("expected failed transition, got %+v", applied)
	}
	if applied.FailureReason != "Request cancelled by user." {
		t.Fatalf("expected failure reason recorded, got %q", applied.FailureReason)
	}
}

func TestReconcileUnknownHandle(t *testing.T) {
	orders := &stubOrderRepository{
		findByHandleFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, notFoundErr()
		},
	}
	service := newReconciliationService(t, orders, nil, nil)

	err := service.Reconcile(context.Background(), ReconciliationEvent{
		CorrelationHandle: "ws_CO_unknown",
		Outcome:           domain.OutcomeSuccess,
		ProviderReference: "NLJ7RT61SV",
		Amount:            100,
	})
	if !errors.Is(err, ErrReconcileOrderNotFound) {
		t.Fatalf("expected ErrReconcileOrderNotFound, got %v", err)
	}
}

func TestReconcileReplayIsNoOp(t *testing.T) {
	settled := pendingOrder()
	settled.Status = domain.OrderStatusPaid
	transitions := 0
	orders := &stubOrderRepository{
		findByHandleFunc: func(context.Context, string) (domain.Order, error) {
			return settled, nil
		},
		transitionFunc: func(context.Context, string, repositories.OrderTransition) (domain.Order, error) {
			transitions++
			return domain.Order{}, conflictErr()
		},
	}
	service := newReconciliationService(t, orders, nil, nil)

	for i := 0; i < 3; i++ {
		if err := service.Reconcile(context.Background(), ReconciliationEvent{
			CorrelationHandle: "ws_CO_123",
			Outcome:           domain.OutcomeSuccess,
			ProviderReference: "NLJ7RT61SV",
			Amount:            2500,
		}); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}
	if transitions != 0 {
		t.Fatalf("expected no transitions for settled order, got %d", transitions)
	}
}

func TestReconcileConflictSwallowed(t *testing.T) {
	order := pendingOrder()
	orders := &stubOrderRepository{
		findByHandleFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		transitionFunc: func(context.Context, string, repositories.OrderTransition) (domain.Order, error) {
			// A racing delivery already settled the order.
			return domain.Order{}, conflictErr()
		},
	}
	service := newReconciliationService(t, orders, nil, nil)

	err := service.Reconcile(context.Background(), ReconciliationEvent{
		CorrelationHandle: "ws_CO_123",
		Outcome:           domain.OutcomeFailure,
		FailureReason:     "timeout",
	})
	if err != nil {
		t.Fatalf("expected conflict to be swallowed, got %v", err)
	}
}

func TestReconcileRepositoryOutage(t *testing.T) {
	orders := &stubOrderRepository{
		findByHandleFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, unavailableErr()
		},
	}
	service := newReconciliationService(t, orders, nil, nil)

	err := service.Reconcile(context.Background(), ReconciliationEvent{
		CorrelationHandle: "ws_CO_123",
		Outcome:           domain.OutcomeSuccess,
		ProviderReference: "NLJ7RT61SV",
		Amount:            100,
	})
	if !errors.Is(err, ErrReconcileUnavailable) {
		t.Fatalf("expected ErrReconcileUnavailable, got %v", err)
	}
}

func TestConfirmRedirectPaidSession(t *testing.T) {
	order := pendingOrder()
	order.Rail = domain.RailCard
	order.CorrelationHandle = "cs_test_1"

	orders := &stubOrderRepository{
		findByHandleFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		transitionFunc: func(_ context.Context, _ string, change repositories.OrderTransition) (domain.Order, error) {
			settled := order
			settled.Status = change.To
			settled.ProviderReceipt = change.ProviderReceipt
			return settled, nil
		},
	}
	rails := &stubRails{
		lookupFunc: func(_ context.Context, id domain.PaymentRail, sessionID string) (payments.SessionState, error) {
			if id != domain.RailCard || sessionID != "cs_test_1" {
				t.Fatalf("unexpected lookup %s/%s", id, sessionID)
			}
			return payments.SessionState{
				SessionID:        sessionID,
				Status:           payments.SessionPaid,
				PaymentReference: "pi_123",
			}, nil
		},
	}
	events := &stubEventPublisher{}
	service := newReconciliationService(t, orders, rails, events)

	settled, err := service.ConfirmRedirect(context.Background(), ConfirmRedirectCommand{
		SessionID: "cs_test_1",
		UserID:    "user-1",
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if settled.Status != domain.OrderStatusPaid || settled.ProviderReceipt != "pi_123" {
		t.Fatalf("unexpected settled order %+v", settled)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.paid" {
		t.Fatalf("expected order.paid event, got %#v", events.events)
	}
}

func TestConfirmRedirectPaidSessionWithoutReference(t *testing.T) {
	order := pendingOrder()
	order.Rail = domain.RailCard
	order.CorrelationHandle = "cs_test_1"

	var applied repositories.OrderTransition
	orders := &stubOrderRepository{
		findByHandleFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		transitionFunc: func(_ context.Context, _ string, change repositories.OrderTransition) (domain.Order, error) {
			applied = change
			settled := order
			settled.Status = change.To
			settled.ProviderReceipt = change.ProviderReceipt
			return settled, nil
		},
	}
	rails := &stubRails{
		lookupFunc: func(_ context.Context, _ domain.PaymentRail, sessionID string) (payments.SessionState, error) {
			return payments.SessionState{SessionID: sessionID, Status: payments.SessionPaid}, nil
		},
	}
	service := newReconciliationService(t, orders, rails, nil)

	settled, err := service.ConfirmRedirect(context.Background(), ConfirmRedirectCommand{
		SessionID: "cs_test_1",
		UserID:    "user-1",
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if applied.ProviderReceipt != "cs_test_1" {
		t.Fatalf("expected session id as receipt, got %q", applied.ProviderReceipt)
	}
	if settled.ProviderReceipt != "cs_test_1" {
		t.Fatalf("expected settled receipt, got %q", settled.ProviderReceipt)
	}
}

func TestReconcileSuccessWithoutReferenceUsesHandle(t *testing.T) {
	order := pendingOrder()
	var applied repositories.OrderTransition
	orders := &stubOrderRepository{
		findByHandleFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		transitionFunc: func(_ context.Context, _ string, change repositories.OrderTransition) (domain.Order, error) {
			applied = change
			settled := order
			settled.Status = change.To
			settled.ProviderReceipt = change.ProviderReceipt
			return settled, nil
		},
	}
	service := newReconciliationService(t, orders, nil, nil)

	err := service.Reconcile(context.Background(), ReconciliationEvent{
		CorrelationHandle: "ws_CO_123",
		Outcome:           domain.OutcomeSuccess,
		Amount:            2500,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if applied.To != domain.OrderStatusPaid {
		t.Fatalf("expected paid transition, got %+v", applied)
	}
	if applied.ProviderReceipt != "ws_CO_123" {
		t.Fatalf("expected correlation handle as receipt, got %q", applied.ProviderReceipt)
	}
}

func TestConfirmRedirectUnpaidLeavesPending(t *testing.T) {
	order := pendingOrder()
	order.Rail = domain.RailCard
	order.CorrelationHandle = "cs_test_1"

	transitions := 0
	orders := &stubOrderRepository{
		findByHandleFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		transitionFunc: func(context.Context, string, repositories.OrderTransition) (domain.Order, error) {
			transitions++
			return domain.Order{}, conflictErr()
		},
	}
	rails := &stubRails{
		lookupFunc: func(context.Context, domain.PaymentRail, string) (payments.SessionState, error) {
			return payments.SessionState{Status: payments.SessionUnpaid}, nil
		},
	}
	service := newReconciliationService(t, orders, rails, nil)

	result, err := service.ConfirmRedirect(context.Background(), ConfirmRedirectCommand{SessionID: "cs_test_1"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Status != domain.OrderStatusPending {
		t.Fatalf("expected order to stay pending, got %s", result.Status)
	}
	if transitions != 0 {
		t.Fatalf("expected no transition for unpaid session")
	}
}

func TestConfirmRedirectExpiredFailsOrder(t *testing.T) {
	order := pendingOrder()
	order.Rail = domain.RailCard
	order.CorrelationHandle = "cs_test_1"

	orders := &stubOrderRepository{
		findByHandleFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		transitionFunc: func(_ context.Context, _ string, change repositories.OrderTransition) (domain.Order, error) {
			if change.To != domain.OrderStatusFailed {
				t.Fatalf("expected failed transition, got %s", change.To)
			}
			settled := order
			settled.Status = change.To
			settled.FailureReason = change.FailureReason
			return settled, nil
		},
	}
	rails := &stubRails{
		lookupFunc: func(context.Context, domain.PaymentRail, string) (payments.SessionState, error) {
			return payments.SessionState{Status: payments.SessionExpired}, nil
		},
	}
	service := newReconciliationService(t, orders, rails, nil)

	settled, err := service.ConfirmRedirect(context.Background(), ConfirmRedirectCommand{SessionID: "cs_test_1"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if settled.Status != domain.OrderStatusFailed {
		t.Fatalf("expected failed status, got %s", settled.Status)
	}
}

func TestConfirmRedirectScopedToUser(t *testing.T) {
	order := pendingOrder()
	order.Rail = domain.RailCard
	order.CorrelationHandle = "cs_test_1"

	orders := &stubOrderRepository{
		findByHandleFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
	}
	service := newReconciliationService(t, orders, &stubRails{}, nil)

	_, err := service.ConfirmRedirect(context.Background(), ConfirmRedirectCommand{
		SessionID: "cs_test_1",
		UserID:    "someone-else",
	})
	if !errors.Is(err, ErrReconcileOrderNotFound) {
		t.Fatalf("expected ErrReconcileOrderNotFound, got %v", err)
	}
}

func TestConfirmRedirectAlreadySettled(t *testing.T) {
	order := pendingOrder()
	order.Rail = domain.RailCard
	order.CorrelationHandle = "cs_test_1"
	order.Status = domain.OrderStatusPaid

	lookups := 0
	orders := &stubOrderRepository{
		findByHandleFunc: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
	}
	rails := &stubRails{
		lookupFunc: func(context.Context, domain.PaymentRail, string) (payments.SessionState, error) {
			lookups++
			return payments.SessionState{}, nil
		},
	}
	service := newReconciliationService(t, orders, rails, nil)

	settled, err := service.ConfirmRedirect(context.Background(), ConfirmRedirectCommand{SessionID: "cs_test_1"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if settled.Status != domain.OrderStatusPaid {
		t.Fatalf("expected settled order returned, got %s", settled.Status)
	}
	if lookups != 0 {
		t.Fatalf("expected no session lookup for settled order")
	}
}
