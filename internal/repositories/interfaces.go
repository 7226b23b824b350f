package repositories

import (
	"context"
	"time"

	"github.com/conceptdash/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Catalog() CatalogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderTransition describes an attempted status change. From is the status
// the caller observed; the repository applies the change only if the stored
// status still matches and is not terminal for payment purposes.
type OrderTransition struct {
	From            domain.OrderStatus
	To              domain.OrderStatus
	ProviderReceipt string
	FailureReason   string
	Now             time.Time
}

// OrderRepository persists the order ledger. Orders are keyed internally by
// ID, publicly by order number, and reconciliation reaches them through the
// provider correlation handle.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	// FindByCorrelationHandle returns a RepositoryError with IsNotFound when
	// no order was created for the handle.
	FindByCorrelationHandle(ctx context.Context, handle string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// Transition applies a compare-and-set status change. A stored status
	// that no longer matches the expected one yields a RepositoryError with
	// IsConflict; the stored order accompanies the error so callers can
	// decide whether the conflict is benign.
	Transition(ctx context.Context, orderID string, change OrderTransition) (domain.Order, error)
}

// CatalogRepository serves the published product listing backing checkout.
type CatalogRepository interface {
	ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[domain.Product], error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	Status     []domain.OrderStatus
	Rail       *domain.PaymentRail
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type ProductFilter struct {
	OnlyAvailable bool
	Pagination    domain.Pagination
}
