package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/conceptdash/api/internal/domain"
)

const (
	defaultMpesaBaseURL  = "https://sandbox.safaricom.co.ke"
	mpesaTokenPath       = "/oauth/v1/generate?grant_type=client_credentials"
	mpesaSTKPushPath     = "/mpesa/stkpush/v1/processrequest"
	mpesaTimestampLayout = "20060102150405"
	mpesaCountryPrefix   = "254"

	// Tokens are valid for an hour; refresh slightly early.
	mpesaTokenSlack = 2 * time.Minute
)

// ErrInvalidPhone is returned when a contact number cannot be normalised to
// the provider's international format.
var ErrInvalidPhone = errors.New("mpesa: invalid phone number")

// MpesaConfig configures the push rail against the Daraja API.
type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	BaseURL        string
	HTTPClient     *http.Client
	Clock          func() time.Time
	Logger         Logger
}

// MpesaRail implements the push rail: a synchronous STK push request returns
// a correlation handle immediately; the actual outcome arrives later through
// the provider callback.
type MpesaRail struct {
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	callbackURL    string
	baseURL        string
	httpClient     *http.Client
	clock          func() time.Time
	logger         Logger

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewMpesaRail constructs the push rail validating required credentials.
func NewMpesaRail(cfg MpesaConfig) (*MpesaRail, error) {
	key := strings.TrimSpace(cfg.ConsumerKey)
	secret := strings.TrimSpace(cfg.ConsumerSecret)
	shortCode := strings.TrimSpace(cfg.ShortCode)
	passkey := strings.TrimSpace(cfg.Passkey)
	callbackURL := strings.TrimSpace(cfg.CallbackURL)
	if key == "" || secret == "" {
		return nil, errors.New("mpesa: consumer credentials are required")
	}
	if shortCode == "" || passkey == "" {
		return nil, errors.New("mpesa: short code and passkey are required")
	}
	if callbackURL == "" {
		return nil, errors.New("mpesa: callback url is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultMpesaBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &MpesaRail{
		consumerKey:    key,
		consumerSecret: secret,
		shortCode:      shortCode,
		passkey:        passkey,
		callbackURL:    callbackURL,
		baseURL:        baseURL,
		httpClient:     httpClient,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Describe identifies the rail for routing and display.
func (r *MpesaRail) Describe() RailInfo {
	return RailInfo{ID: domain.RailMpesa, DisplayName: "M-Pesa"}
}

// NormalizeMSISDN converts a Kenyan subscriber number to the 2547XXXXXXXX
// format the provider requires. Accepted inputs are 07XXXXXXXX, 7XXXXXXXX,
// +2547XXXXXXXX and 2547XXXXXXXX (spaces and dashes ignored).
func NormalizeMSISDN(phone string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	cleaned = strings.TrimPrefix(cleaned, "+")

	switch {
	case strings.HasPrefix(cleaned, mpesaCountryPrefix):
	case strings.HasPrefix(cleaned, "0"):
		cleaned = mpesaCountryPrefix + cleaned[1:]
	case len(cleaned) == 9:
		cleaned = mpesaCountryPrefix + cleaned
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}

	if len(cleaned) != 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
		}
	}
	return cleaned, nil
}

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type mpesaSTKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type mpesaSTKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// Start sends the STK push and returns the CheckoutRequestID as the
// correlation handle. The push outcome is unknown until the provider calls
// back; a success here only means the prompt reached the subscriber's device.
func (r *MpesaRail) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	if r == nil {
		return StartResult{}, errors.New("mpesa: rail is nil")
	}
	if req.Amount <= 0 {
		return StartResult{}, fmt.Errorf("%w: amount must be positive", ErrInitiation)
	}

	msisdn, err := NormalizeMSISDN(req.Customer.Phone)
	if err != nil {
		return StartResult{}, err
	}

	token, err := r.accessTokenFor(ctx)
	if err != nil {
		return StartResult{}, err
	}

	now := r.clock()
	timestamp := now.Format(mpesaTimestampLayout)
	password := base64.StdEncoding.EncodeToString([]byte(r.shortCode + r.passkey + timestamp))

	accountRef := strings.TrimSpace(req.AccountRef)
	if accountRef == "" {
		accountRef = req.OrderNumber
	}

	payload := mpesaSTKPushRequest{
		BusinessShortCode: r.shortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount,
		PartyA:            msisdn,
		PartyB:            r.shortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       r.callbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   fmt.Sprintf("Payment for order %s", req.OrderNumber),
	}

	var resp mpesaSTKPushResponse
	if err := r.postJSON(ctx, r.baseURL+mpesaSTKPushPath, token, payload, &resp); err != nil {
		return StartResult{}, err
	}

	if resp.ErrorCode != "" || strings.TrimSpace(resp.CheckoutRequestID) == "" {
		message := strings.TrimSpace(resp.ErrorMessage)
		if message == "" {
			message = strings.TrimSpace(resp.ResponseDescription)
		}
		if message == "" {
			message = "stk push rejected"
		}
		r.logger(ctx, "payments.mpesa.stk_rejected", map[string]any{
			"errorCode": resp.ErrorCode,
			"message":   message,
		})
		return StartResult{}, fmt.Errorf("%w: %s", ErrInitiation, message)
	}

	r.logger(ctx, "payments.mpesa.stk_accepted", map[string]any{
		"checkoutRequestId": resp.CheckoutRequestID,
		"merchantRequestId": resp.MerchantRequestID,
	})

	return StartResult{
		CorrelationHandle: resp.CheckoutRequestID,
		ProviderRequestID: resp.MerchantRequestID,
	}, nil
}

func (r *MpesaRail) accessTokenFor(ctx context.Context) (string, error) {
	r.tokenMu.Lock()
	defer r.tokenMu.Unlock()

	now := r.clock()
	if r.accessToken != "" && now.Before(r.tokenExpiry.Add(-mpesaTokenSlack)) {
		return r.accessToken, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+mpesaTokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("mpesa: build token request: %w", err)
	}
	httpReq.SetBasicAuth(r.consumerKey, r.consumerSecret)

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("mpesa: fetch access token: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("mpesa: read token response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mpesa: token endpoint returned %d", httpResp.StatusCode)
	}

	var token mpesaTokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("mpesa: decode token response: %w", err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", errors.New("mpesa: token response missing access_token")
	}

	ttl := time.Hour
	if seconds, convErr := time.ParseDuration(strings.TrimSpace(token.ExpiresIn) + "s"); convErr == nil && seconds > 0 {
		ttl = seconds
	}

	r.accessToken = token.AccessToken
	r.tokenExpiry = now.Add(ttl)
	return r.accessToken, nil
}

func (r *MpesaRail) postJSON(ctx context.Context, url, token string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mpesa: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("mpesa: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("mpesa: send request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("mpesa: read response: %w", err)
	}
	// The gateway reports rejections inside the JSON body for both 200 and
	// 4xx responses; decode before judging the status code.
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("mpesa: decode response (status %d): %w", httpResp.StatusCode, err)
	}
	return nil
}
