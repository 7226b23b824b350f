package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/payments"
	"github.com/conceptdash/api/internal/repositories"
)

var (
	// ErrReconcileInvalidEvent indicates the event is missing required fields.
	ErrReconcileInvalidEvent = errors.New("reconcile: invalid event")
	// ErrReconcileOrderNotFound indicates no order exists for the correlation
	// handle. Callers log and drop the event.
	ErrReconcileOrderNotFound = errors.New("reconcile: order not found")
	// ErrReconcileUnavailable indicates the ledger could not be reached. The
	// event should be redelivered.
	ErrReconcileUnavailable = errors.New("reconcile: unavailable")
)

// sessionRails abstracts payments.Registry session polling for easier testing.
type sessionRails interface {
	LookupSession(ctx context.Context, id domain.PaymentRail, sessionID string) (payments.SessionState, error)
}

// ReconciliationServiceDeps wires the dependencies required by the reconciliation service.
type ReconciliationServiceDeps struct {
	Orders repositories.OrderRepository
	Rails  sessionRails
	Events OrderEventPublisher
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	orders repositories.OrderRepository
	rails  sessionRails
	events OrderEventPublisher
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewReconciliationService constructs a ReconciliationService validating required dependencies.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reconciliationService{
		orders: deps.Orders,
		rails:  deps.Rails,
		events: deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Reconcile settles the pending order matched by the event's correlation
// handle. Replays and already-settled orders are treated as no-ops so a
// provider may deliver the same outcome any number of times.
func (s *reconciliationService) Reconcile(ctx context.Context, event ReconciliationEvent) error {
	if s == nil || s.orders == nil {
		return ErrReconcileUnavailable
	}

	handle := strings.TrimSpace(event.CorrelationHandle)
	if handle == "" {
		return ErrReconcileInvalidEvent
	}

	order, err := s.orders.FindByCorrelationHandle(ctx, handle)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return ErrReconcileOrderNotFound
		}
		return ErrReconcileUnavailable
	}

	target := domain.OrderStatusFailed
	if event.Outcome == domain.OutcomeSuccess {
		target = domain.OrderStatusPaid
	}

	if order.Status.PaymentTerminal() {
		s.logger(ctx, "reconcile.replay_ignored", map[string]any{
			"orderNumber":       order.OrderNumber,
			"correlationHandle": handle,
			"status":            string(order.Status),
			"target":            string(target),
		})
		return nil
	}

	receipt := strings.TrimSpace(event.ProviderReference)
	if target == domain.OrderStatusPaid && receipt == "" {
		// A paid order always carries a receipt reference; the correlation
		// handle is the provider's identifier for this payment.
		receipt = handle
	}

	settled, err := s.orders.Transition(ctx, order.ID, repositories.OrderTransition{
		From:            domain.OrderStatusPending,
		To:              target,
		ProviderReceipt: receipt,
		FailureReason:   strings.TrimSpace(event.FailureReason),
		Now:             s.now(),
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			// A racing delivery settled the order first. The ledger keeps
			// the winner; this delivery becomes a no-op.
			s.logger(ctx, "reconcile.conflict_ignored", map[string]any{
				"orderNumber":       order.OrderNumber,
				"correlationHandle": handle,
				"target":            string(target),
			})
			return nil
		}
		return ErrReconcileUnavailable
	}

	s.logger(ctx, "reconcile.order_settled", map[string]any{
		"orderNumber":       settled.OrderNumber,
		"correlationHandle": handle,
		"status":            string(settled.Status),
		"providerReference": settled.ProviderReceipt,
	})
	s.publishEvent(ctx, settled)
	return nil
}

// ConfirmRedirect polls the redirect rail's hosted session and settles the
// matching order when the session has reached a terminal state. An unpaid
// session leaves the order pending.
func (s *reconciliationService) ConfirmRedirect(ctx context.Context, cmd ConfirmRedirectCommand) (Order, error) {
	if s == nil || s.orders == nil || s.rails == nil {
		return Order{}, ErrReconcileUnavailable
	}

	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return Order{}, ErrReconcileInvalidEvent
	}

	order, err := s.orders.FindByCorrelationHandle(ctx, sessionID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Order{}, ErrReconcileOrderNotFound
		}
		return Order{}, ErrReconcileUnavailable
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return Order{}, ErrReconcileOrderNotFound
	}

	if order.Status.PaymentTerminal() {
		return order, nil
	}

	state, err := s.rails.LookupSession(ctx, order.Rail, sessionID)
	if err != nil {
		s.logger(ctx, "reconcile.session_lookup_failed", map[string]any{
			"orderNumber":       order.OrderNumber,
			"correlationHandle": sessionID,
			"error":             err.Error(),
		})
		return Order{}, ErrReconcileUnavailable
	}

	change := repositories.OrderTransition{From: domain.OrderStatusPending, Now: s.now()}
	switch state.Status {
	case payments.SessionPaid:
		change.To = domain.OrderStatusPaid
		change.ProviderReceipt = strings.TrimSpace(state.PaymentReference)
		if change.ProviderReceipt == "" {
			change.ProviderReceipt = sessionID
		}
	case payments.SessionExpired:
		change.To = domain.OrderStatusFailed
		change.FailureReason = "checkout session expired"
	default:
		// Still open and unpaid; nothing to settle yet.
		return order, nil
	}

	settled, err := s.orders.Transition(ctx, order.ID, change)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			if current, findErr := s.orders.FindByID(ctx, order.ID); findErr == nil {
				return current, nil
			}
			return order, nil
		}
		return Order{}, ErrReconcileUnavailable
	}

	s.logger(ctx, "reconcile.redirect_settled", map[string]any{
		"orderNumber":       settled.OrderNumber,
		"correlationHandle": sessionID,
		"status":            string(settled.Status),
	})
	s.publishEvent(ctx, settled)
	return settled, nil
}

func (s *reconciliationService) publishEvent(ctx context.Context, order domain.Order) {
	if s.events == nil {
		return
	}
	eventType := "order.failed"
	if order.Status == domain.OrderStatusPaid {
		eventType = "order.paid"
	}
	_, err := s.events.PublishOrderEvent(ctx, OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Rail:        order.Rail,
		Total:       order.Totals.Total,
		Currency:    order.Currency,
		OccurredAt:  s.now(),
	})
	if err != nil {
		s.logger(ctx, "reconcile.event_publish_failed", map[string]any{
			"orderNumber": order.OrderNumber,
			"type":        eventType,
			"error":       err.Error(),
		})
	}
}
