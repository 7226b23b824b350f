package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/conceptdash/api/internal/domain"
)

// ErrUnknownRail is returned when the registry cannot locate a rail.
var ErrUnknownRail = errors.New("payments: unknown rail")

// ErrInitiation wraps provider-side rejections of a payment start. No local
// order may exist for a failed initiation.
var ErrInitiation = errors.New("payments: initiation rejected")

// Logger defines the logging contract for rail operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// LineItem describes a single priced line forwarded to a hosted session.
type LineItem struct {
	Name      string
	Amount    int64
	Quantity  int64
	Currency  string
	ImageURL  string
	Reference string
}

// StartRequest captures the payload required to start an external payment.
type StartRequest struct {
	Amount      int64
	Currency    string
	OrderNumber string
	Customer    domain.Customer
	AccountRef  string
	SuccessURL  string
	CancelURL   string
	Locale      string
	Items       []LineItem
	Metadata    map[string]string
}

// StartResult is the rail-specific outcome of a successful initiation. The
// correlation handle is the only link between the external transaction and
// the local order that will be keyed by it.
type StartResult struct {
	CorrelationHandle string
	ProviderRequestID string
	RedirectURL       string
	ExpiresAt         time.Time
}

// RailInfo describes a rail for display and routing purposes.
type RailInfo struct {
	ID          domain.PaymentRail
	DisplayName string
}

// Rail is the uniform initiate contract both payment methods implement.
// Start crosses the external boundary exactly once; idempotency against
// double initiation belongs to the caller, not the adapter.
type Rail interface {
	Start(ctx context.Context, req StartRequest) (StartResult, error)
	Describe() RailInfo
}

// SessionStatus enumerates the provider-reported states of a hosted session.
type SessionStatus string

const (
	// SessionPaid indicates the hosted session completed with a captured payment.
	SessionPaid SessionStatus = "paid"
	// SessionUnpaid indicates the session is still open and unpaid.
	SessionUnpaid SessionStatus = "unpaid"
	// SessionExpired indicates the session lapsed without a payment.
	SessionExpired SessionStatus = "expired"
)

// SessionState is the normalised result of polling a hosted session.
type SessionState struct {
	SessionID        string
	Status           SessionStatus
	PaymentReference string
	Amount           int64
	Currency         string
}

// SessionLookup is implemented by redirect rails whose confirmation is pulled
// by the client rather than pushed by the provider.
type SessionLookup interface {
	LookupSession(ctx context.Context, sessionID string) (SessionState, error)
}

// Registry resolves rails by identifier.
type Registry struct {
	rails map[domain.PaymentRail]Rail
}

// NewRegistry constructs a Registry over the supplied rails.
func NewRegistry(rails map[domain.PaymentRail]Rail) (*Registry, error) {
	if len(rails) == 0 {
		return nil, errors.New("payments: at least one rail is required")
	}
	copyMap := make(map[domain.PaymentRail]Rail, len(rails))
	for id, rail := range rails {
		if id == "" || rail == nil {
			return nil, fmt.Errorf("payments: invalid rail registration for key %q", id)
		}
		copyMap[id] = rail
	}
	return &Registry{rails: copyMap}, nil
}

// Rail returns the registered rail for the identifier.
func (r *Registry) Rail(id domain.PaymentRail) (Rail, error) {
	if r == nil || len(r.rails) == 0 {
		return nil, errors.New("payments: no rails registered")
	}
	rail, ok := r.rails[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRail, id)
	}
	return rail, nil
}

// Start delegates initiation to the resolved rail.
func (r *Registry) Start(ctx context.Context, id domain.PaymentRail, req StartRequest) (StartResult, error) {
	rail, err := r.Rail(id)
	if err != nil {
		return StartResult{}, err
	}
	return rail.Start(ctx, req)
}

// LookupSession resolves the rail and polls its hosted session when supported.
func (r *Registry) LookupSession(ctx context.Context, id domain.PaymentRail, sessionID string) (SessionState, error) {
	rail, err := r.Rail(id)
	if err != nil {
		return SessionState{}, err
	}
	lookup, ok := rail.(SessionLookup)
	if !ok {
		return SessionState{}, fmt.Errorf("payments: rail %s does not support session lookup", id)
	}
	return lookup.LookupSession(ctx, sessionID)
}

// Describe lists the registered rails.
func (r *Registry) Describe() []RailInfo {
	if r == nil {
		return nil
	}
	infos := make([]RailInfo, 0, len(r.rails))
	for _, rail := range r.rails {
		infos = append(infos, rail.Describe())
	}
	return infos
}
