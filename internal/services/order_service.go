package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input parameters.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrOrderNotFound indicates the requested order does not exist for the caller.
	ErrOrderNotFound = errors.New("orders: not found")
	// ErrOrderInvalidTransition indicates the requested fulfillment move is not allowed.
	ErrOrderInvalidTransition = errors.New("orders: invalid transition")
	// ErrOrderConflict indicates a concurrent modification won the transition.
	ErrOrderConflict = errors.New("orders: conflict")
	// ErrOrderUnavailable indicates order dependencies are currently unavailable.
	ErrOrderUnavailable = errors.New("orders: unavailable")
)

// fulfillmentTransitions lists the allowed moves after payment settles.
// Payment-side transitions (pending to paid or failed) belong to the
// reconciliation service and are not reachable here.
var fulfillmentTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPaid:       {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	Events OrderEventPublisher
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	events OrderEventPublisher
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders: deps.Orders,
		events: deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ListOrders returns the user's order history, most recent first.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, ErrOrderInvalidInput
	}

	repoFilter := repositories.OrderListFilter{
		Status:     filter.Status,
		Rail:       filter.Rail,
		Pagination: filter.Pagination,
	}
	repoFilter.DateRange.From = filter.From
	repoFilter.DateRange.To = filter.To

	page, err := s.orders.ListByUser(ctx, userID, repoFilter)
	if err != nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}
	return page, nil
}

// GetOrder fetches a single order by public number, scoped to the requesting
// user when one is supplied.
func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderNumber := strings.TrimSpace(query.OrderNumber)
	if orderNumber == "" {
		return Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, translateOrderLookupError(err)
	}
	if userID := strings.TrimSpace(query.UserID); userID != "" && order.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// TransitionFulfillment moves a settled order through the fulfillment
// lifecycle. The ledger's compare-and-set guards against racing operators.
func (s *orderService) TransitionFulfillment(ctx context.Context, cmd FulfillmentTransitionCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderNumber := strings.TrimSpace(cmd.OrderNumber)
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.To))))
	if orderNumber == "" || target == "" {
		return Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, translateOrderLookupError(err)
	}

	if !transitionAllowed(order.Status, target) {
		return Order{}, ErrOrderInvalidTransition
	}

	updated, err := s.orders.Transition(ctx, order.ID, repositories.OrderTransition{
		From: order.Status,
		To:   target,
		Now:  s.now(),
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return Order{}, ErrOrderConflict
		}
		return Order{}, ErrOrderUnavailable
	}

	s.logger(ctx, "orders.fulfillment_transition", map[string]any{
		"orderNumber": updated.OrderNumber,
		"from":        string(order.Status),
		"to":          string(updated.Status),
		"actorId":     strings.TrimSpace(cmd.ActorID),
		"note":        strings.TrimSpace(cmd.Note),
	})
	s.publishEvent(ctx, updated)
	return updated, nil
}

func (s *orderService) publishEvent(ctx context.Context, order domain.Order) {
	if s.events == nil {
		return
	}
	_, err := s.events.PublishOrderEvent(ctx, OrderEvent{
		Type:        "order." + string(order.Status),
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
		s.logger(ctx, "orders.event_publish_failed", map[string]any{
			"orderNumber": order.OrderNumber,
			"status":      string(order.Status),
			"error":       err.Error(),
		})
	}
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, allowed := range fulfillmentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func translateOrderLookupError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrOrderNotFound
		}
		return ErrOrderUnavailable
	}
	return ErrOrderUnavailable
}
