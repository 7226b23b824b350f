package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// PaymentRail identifies one of the independent payment methods.
type PaymentRail string

const (
	// RailMpesa is the push-based mobile-money rail (STK push + provider callback).
	RailMpesa PaymentRail = "mpesa"
	// RailCard is the redirect-based card rail (hosted checkout session).
	RailCard PaymentRail = "card"
)

// CartLine is a raw line selection owned by the active session. Lines are
// always aggregated into an OrderIntent before any payment use.
type CartLine struct {
	ProductID string
	UnitPrice int64
	Quantity  int
}

// OrderIntent is the priced, read-only view derived from cart lines. It is
// computed on demand and never persisted.
type OrderIntent struct {
	Lines    []CartLine
	Currency string
	Subtotal int64
	Discount int64
	Total    int64
}

// Customer carries the opaque identity snapshot read from the identity
// provider plus the contact fields the payment rails require.
type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// Address is the delivery address snapshot embedded on an order.
type Address struct {
	Name       string
	Line1      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// OrderStatus enumerates valid lifecycle states for orders. The payment
// sub-lifecycle is pending → paid|failed (terminal for payment fields); the
// fulfillment sub-lifecycle continues from paid.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits an external payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates the payment was confirmed by the provider.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed indicates the provider reported a payment failure.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusProcessing indicates a paid order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before shipment.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentTerminal reports whether the status ends the payment sub-lifecycle.
// Fulfillment states imply a previously settled payment and count as terminal
// for reconciliation purposes.
func (s OrderStatus) PaymentTerminal() bool {
	return s != OrderStatusPending
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Total    int64
}

// OrderLineItem mirrors an aggregated cart line at the time of checkout.
type OrderLineItem struct {
	ProductRef string
	Name       string
	UnitPrice  int64
	Quantity   int
	Total      int64
}

// Order is the durable order record. It is created pending by the payment
// initiator, keyed by the rail's correlation handle, and mutated afterwards
// only through the ledger's atomic transition.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	Status            OrderStatus
	Rail              PaymentRail
	CorrelationHandle string
	Currency          string
	Totals            OrderTotals
	Customer          Customer
	Address           *Address
	Items             []OrderLineItem
	ProviderReceipt   string
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ConfirmedAt       *time.Time
}

// ReconciliationOutcome is the binary result carried by a confirmation signal.
type ReconciliationOutcome string

const (
	// OutcomeSuccess maps to the paid terminal status.
	OutcomeSuccess ReconciliationOutcome = "success"
	// OutcomeFailure maps to the failed terminal status.
	OutcomeFailure ReconciliationOutcome = "failure"
)

// ReconciliationEvent is the transient confirmation signal delivered by a
// provider callback or a polled session lookup. It is consumed once; only the
// resulting order mutation is durable.
type ReconciliationEvent struct {
	CorrelationHandle string
	Rail              PaymentRail
	Outcome           ReconciliationOutcome
	ProviderReference string
	FailureReason     string
	Amount            int64
	PayerPhone        string
	OccurredAt        time.Time
}

// Product is the read-only catalog projection consumed by checkout and the
// public product endpoints. The catalog store is an external collaborator;
// this service never writes it.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       int64
	Currency    string
	ImageURL    string
	Available   bool
	UpdatedAt   time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
