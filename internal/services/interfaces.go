package services

import (
	"context"
	"time"

	"github.com/conceptdash/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	OrderTotals         = domain.OrderTotals
	OrderLineItem       = domain.OrderLineItem
	CartLine            = domain.CartLine
	Customer            = domain.Customer
	Address             = domain.Address
	PaymentRail         = domain.PaymentRail
	ReconciliationEvent = domain.ReconciliationEvent
	Product             = domain.Product
	SystemHealthReport  = domain.SystemHealthReport
)

// CheckoutService validates a cart, initiates the external payment, and
// records the pending order keyed by the provider's correlation handle.
type CheckoutService interface {
	Initiate(ctx context.Context, cmd InitiateCheckoutCommand) (CheckoutReceipt, error)
}

// ReconciliationService settles pending orders from provider outcomes. Both
// entry points are idempotent: replays and races resolve to a single
// terminal status.
type ReconciliationService interface {
	Reconcile(ctx context.Context, event ReconciliationEvent) error
	ConfirmRedirect(ctx context.Context, cmd ConfirmRedirectCommand) (Order, error)
}

// OrderService serves order reads for buyers and fulfillment transitions for
// back-office callers.
type OrderService interface {
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	TransitionFulfillment(ctx context.Context, cmd FulfillmentTransitionCommand) (Order, error)
}

// CatalogService serves the published product listing.
type CatalogService interface {
	ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// Command/query DTOs ---------------------------------------------------------

// InitiateCheckoutCommand carries everything needed to start a payment.
type InitiateCheckoutCommand struct {
	UserID     string
	Rail       PaymentRail
	Lines      []CartLine
	Currency   string
	Customer   Customer
	Address    *Address
	SuccessURL string
	CancelURL  string
	Locale     string
	Metadata   map[string]string
}

// CheckoutReceipt is returned to the buyer after a successful initiation.
// RedirectURL is set only for redirect rails.
type CheckoutReceipt struct {
	Order       Order
	RedirectURL string
	ExpiresAt   time.Time
}

// ConfirmRedirectCommand asks for a redirect-rail session to be polled and,
// when settled, the matching order to be transitioned.
type ConfirmRedirectCommand struct {
	SessionID string
	UserID    string
}

// OrderListFilter narrows the order listing for a single user.
type OrderListFilter struct {
	UserID     string
	Status     []OrderStatus
	Rail       *PaymentRail
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// GetOrderQuery fetches one order by its public number. UserID, when set,
// restricts the read to that user's orders.
type GetOrderQuery struct {
	OrderNumber string
	UserID      string
}

// FulfillmentTransitionCommand moves a paid order through the fulfillment
// lifecycle on behalf of a back-office actor.
type FulfillmentTransitionCommand struct {
	OrderNumber string
	To          OrderStatus
	ActorID     string
	Note        string
}

// ProductListQuery narrows the catalog listing.
type ProductListQuery struct {
	OnlyAvailable bool
	Pagination    Pagination
}
