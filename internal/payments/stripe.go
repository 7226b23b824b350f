package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conceptdash/api/internal/domain"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig configures the redirect rail.
type StripeConfig struct {
	APIKey     string
	AccountID  string
	Backends   *stripe.Backends
	SuccessURL string
	CancelURL  string
	Logger     Logger
	Clock      func() time.Time
	Sessions   stripeSessionAPI
}

// StripeRail implements the redirect rail using Stripe Checkout. The hosted
// session URL is the correlation handle's companion: the buyer completes the
// payment on Stripe's page and the session is later polled for its outcome.
type StripeRail struct {
	sessions   stripeSessionAPI
	account    string
	successURL string
	cancelURL  string
	clock      func() time.Time
	logger     Logger
}

// NewStripeRail constructs a Stripe-backed redirect rail.
func NewStripeRail(cfg StripeConfig) (*StripeRail, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeRail{
		sessions:   sessions,
		account:    strings.TrimSpace(cfg.AccountID),
		successURL: strings.TrimSpace(cfg.SuccessURL),
		cancelURL:  strings.TrimSpace(cfg.CancelURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Describe identifies the rail for routing and display.
func (r *StripeRail) Describe() RailInfo {
	return RailInfo{ID: domain.RailCard, DisplayName: "Card"}
}

// Start creates a hosted Checkout session. The session ID is the correlation
// handle; the caller redirects the buyer to the returned URL.
func (r *StripeRail) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	if r == nil {
		return StartResult{}, errors.New("stripe: rail is nil")
	}

	successURL := defaultString(req.SuccessURL, r.successURL)
	cancelURL := defaultString(req.CancelURL, r.cancelURL)
	if successURL == "" || cancelURL == "" {
		return StartResult{}, fmt.Errorf("%w: success and cancel urls are required", ErrInitiation)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.Context = ctx
	if r.account != "" {
		params.SetStripeAccount(r.account)
	}
	if req.Locale != "" {
		params.Locale = stripe.String(strings.ReplaceAll(strings.ToLower(req.Locale), "_", "-"))
	}

	metadata := map[string]string{"orderNumber": req.OrderNumber}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	params.Metadata = metadata
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata}

	if email := strings.TrimSpace(req.Customer.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(defaultString(item.Currency, req.Currency))),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.ImageURL != "" {
			line.PriceData.ProductData.Images = stripe.StringSlice([]string{item.ImageURL})
		}
		if item.Reference != "" {
			line.PriceData.ProductData.Metadata = map[string]string{"ref": item.Reference}
		}
		lineItems = append(lineItems, line)
	}
	if len(lineItems) == 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.OrderNumber),
				},
			},
		})
	}
	params.LineItems = lineItems

	session, err := r.sessions.New(params)
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: create checkout session: %v", ErrInitiation, err)
	}

	r.logger(ctx, "payments.stripe.session_created", map[string]any{
		"sessionId":   session.ID,
		"orderNumber": req.OrderNumber,
	})

	expiresAt := r.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return StartResult{
		CorrelationHandle: session.ID,
		ProviderRequestID: session.ID,
		RedirectURL:       session.URL,
		ExpiresAt:         expiresAt,
	}, nil
}

// LookupSession retrieves the current state of a hosted Checkout session.
func (r *StripeRail) LookupSession(ctx context.Context, sessionID string) (SessionState, error) {
	if r == nil {
		return SessionState{}, errors.New("stripe: rail is nil")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionState{}, errors.New("stripe: session id is required")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if r.account != "" {
		params.SetStripeAccount(r.account)
	}
	params.AddExpand("payment_intent")

	session, err := r.sessions.Get(sessionID, params)
	if err != nil {
		return SessionState{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}

	state := SessionState{
		SessionID: session.ID,
		Status:    SessionUnpaid,
		Amount:    session.AmountTotal,
		Currency:  strings.ToUpper(string(session.Currency)),
	}
	// The expanded intent can be absent even on a paid session; the session
	// ID still identifies the payment on the provider's side.
	state.PaymentReference = session.ID
	if session.PaymentIntent != nil {
		state.PaymentReference = session.PaymentIntent.ID
	}

	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		state.Status = SessionPaid
	case session.Status == stripe.CheckoutSessionStatusExpired:
		state.Status = SessionExpired
	}
	return state, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
