package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/payments"
	"github.com/conceptdash/api/internal/platform/textutil"
	"github.com/conceptdash/api/internal/repositories"
)

const (
	defaultCheckoutCurrency = "KES"
	orderNumberPrefix       = "ORD-"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates checkout was attempted with no purchasable lines.
	ErrCheckoutEmptyCart = errors.New("checkout: empty cart")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutPaymentFailed indicates the rail rejected the initiation. No
	// order exists when this is returned.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment initiation failed")
	// ErrCheckoutConflict indicates a concurrent modification prevented completing checkout.
	ErrCheckoutConflict = errors.New("checkout: conflict")
)

// checkoutRails abstracts payments.Registry for easier testing.
type checkoutRails interface {
	Start(ctx context.Context, id domain.PaymentRail, req payments.StartRequest) (payments.StartResult, error)
}

// OrderEvent is the message published when an order changes state.
type OrderEvent struct {
	Type        string      `json:"type"`
	OrderID     string      `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	UserID      string      `json:"userId"`
	Status      OrderStatus `json:"status"`
	Rail        PaymentRail `json:"rail"`
	Total       int64       `json:"total"`
	Currency    string      `json:"currency"`
	OccurredAt  time.Time   `json:"occurredAt"`
}

// OrderEventPublisher fans order lifecycle events out to interested consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders   repositories.OrderRepository
	Catalog  repositories.CatalogRepository
	Rails    checkoutRails
	Events   OrderEventPublisher
	Discount domain.DiscountRule
	Currency string
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
	IDGen    func() string
}

type checkoutService struct {
	orders   repositories.OrderRepository
	catalog  repositories.CatalogRepository
	rails    checkoutRails
	events   OrderEventPublisher
	discount domain.DiscountRule
	currency string
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	idGen    func() string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Rails == nil {
		return nil, errors.New("checkout service: payment rails are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	discount := deps.Discount
	if discount == nil {
		discount = domain.NoDiscount
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}

	return &checkoutService{
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		rails:    deps.Rails,
		events:   deps.Events,
		discount: discount,
		currency: currency,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		idGen:  idGen,
	}, nil
}

// Initiate aggregates the cart, starts the external payment, and records the
// pending order keyed by the provider's correlation handle. A rail rejection
// leaves no order behind.
func (s *checkoutService) Initiate(ctx context.Context, cmd InitiateCheckoutCommand) (CheckoutReceipt, error) {
	if s == nil || s.orders == nil || s.rails == nil {
		return CheckoutReceipt{}, ErrCheckoutUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutReceipt{}, ErrCheckoutInvalidInput
	}
	rail := domain.PaymentRail(strings.ToLower(strings.TrimSpace(string(cmd.Rail))))
	if rail == "" {
		return CheckoutReceipt{}, ErrCheckoutInvalidInput
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}

	intent, err := domain.AggregateCart(cmd.Lines, currency, s.discount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmptyCart):
			return CheckoutReceipt{}, ErrCheckoutEmptyCart
		case errors.Is(err, domain.ErrInvalidLine):
			return CheckoutReceipt{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		default:
			return CheckoutReceipt{}, ErrCheckoutInvalidInput
		}
	}

	if intent.Total <= 0 {
		return CheckoutReceipt{}, fmt.Errorf("%w: order total must be positive", ErrCheckoutInvalidInput)
	}

	items, err := s.resolveLineItems(ctx, intent)
	if err != nil {
		return CheckoutReceipt{}, err
	}

	now := s.now()
	order := domain.Order{
		ID:          s.idGen(),
		OrderNumber: orderNumberPrefix + s.idGen(),
		UserID:      userID,
		Status:      domain.OrderStatusPending,
		Rail:        rail,
		Currency:    currency,
		Totals: domain.OrderTotals{
			Subtotal: intent.Subtotal,
			Discount: intent.Discount,
			Total:    intent.Total,
		},
		Customer:  normaliseCustomer(cmd.Customer, userID),
		Address:   cmd.Address,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}

	startReq := payments.StartRequest{
		Amount:      order.Totals.Total,
		Currency:    currency,
		OrderNumber: order.OrderNumber,
		Customer:    order.Customer,
		AccountRef:  order.OrderNumber,
		SuccessURL:  strings.TrimSpace(cmd.SuccessURL),
		CancelURL:   strings.TrimSpace(cmd.CancelURL),
		Locale:      normaliseLocale(cmd.Locale),
		Items:       buildRailLineItems(items, currency),
		Metadata:    buildPaymentMetadata(cmd.Metadata, order),
	}

	result, err := s.rails.Start(ctx, rail, startReq)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrUnknownRail), errors.Is(err, payments.ErrInvalidPhone):
			return CheckoutReceipt{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		default:
			s.logger(ctx, "checkout.initiation_failed", map[string]any{
				"userID":      userID,
				"rail":        string(rail),
				"orderNumber": order.OrderNumber,
				"error":       err.Error(),
			})
			return CheckoutReceipt{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
		}
	}

	order.CorrelationHandle = result.CorrelationHandle

	if err := s.orders.Insert(ctx, order); err != nil {
		// The provider already accepted the payment request; losing the
		// order here orphans the handle, so the failure is logged loudly.
		s.logger(ctx, "checkout.order_persist_failed", map[string]any{
			"userID":            userID,
			"rail":              string(rail),
			"orderNumber":       order.OrderNumber,
			"correlationHandle": result.CorrelationHandle,
			"error":             err.Error(),
		})
		return CheckoutReceipt{}, translateOrderRepoError(err)
	}

	s.logger(ctx, "checkout.order_created", map[string]any{
		"userID":            userID,
		"rail":              string(rail),
		"orderNumber":       order.OrderNumber,
		"correlationHandle": result.CorrelationHandle,
		"total":             order.Totals.Total,
	})
	s.publishEvent(ctx, "order.created", order)

	return CheckoutReceipt{
		Order:       order,
		RedirectURL: result.RedirectURL,
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

// resolveLineItems hydrates display names from the catalog when available.
// A line whose product is unknown or unavailable fails validation.
func (s *checkoutService) resolveLineItems(ctx context.Context, intent domain.OrderIntent) ([]domain.OrderLineItem, error) {
	items := make([]domain.OrderLineItem, 0, len(intent.Lines))
	for _, line := range intent.Lines {
		item := domain.OrderLineItem{
			ProductRef: line.ProductID,
			Name:       line.ProductID,
			UnitPrice:  line.UnitPrice,
			Quantity:   line.Quantity,
			Total:      line.UnitPrice * int64(line.Quantity),
		}
		if s.catalog != nil {
			product, err := s.catalog.GetProduct(ctx, line.ProductID)
			if err != nil {
				var repoErr repositories.RepositoryError
				if errors.As(err, &repoErr) && repoErr.IsNotFound() {
					return nil, fmt.Errorf("%w: unknown product %s", ErrCheckoutInvalidInput, line.ProductID)
				}
				return nil, ErrCheckoutUnavailable
			}
			if !product.Available {
				return nil, fmt.Errorf("%w: product %s is unavailable", ErrCheckoutInvalidInput, line.ProductID)
			}
			item.Name = product.Name
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *checkoutService) publishEvent(ctx context.Context, eventType string, order domain.Order) {
	if s.events == nil {
		return
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
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"orderNumber": order.OrderNumber,
			"type":        eventType,
			"error":       err.Error(),
		})
	}
}

func normaliseCustomer(customer domain.Customer, userID string) domain.Customer {
	customer.ID = strings.TrimSpace(customer.ID)
	if customer.ID == "" {
		customer.ID = userID
	}
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Email = strings.TrimSpace(customer.Email)
	customer.Phone = strings.TrimSpace(customer.Phone)
	return customer
}

// normaliseLocale canonicalises a BCP 47 tag, dropping values that do not parse.
func normaliseLocale(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return ""
	}
	return tag.String()
}

func buildRailLineItems(items []domain.OrderLineItem, currency string) []payments.LineItem {
	lines := make([]payments.LineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, payments.LineItem{
			Name:      item.Name,
			Amount:    item.UnitPrice,
			Quantity:  int64(item.Quantity),
			Currency:  currency,
			Reference: item.ProductRef,
		})
	}
	return lines
}

func buildPaymentMetadata(cmdMeta map[string]string, order domain.Order) map[string]string {
	meta := map[string]string{
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
	}
	for k, v := range textutil.NormalizeStringMap(cmdMeta) {
		meta[k] = v
	}
	return meta
}

func translateOrderRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return ErrCheckoutConflict
		default:
			return ErrCheckoutUnavailable
		}
	}
	return ErrCheckoutUnavailable
}
