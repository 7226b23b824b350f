package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mapSecretProvider map[string]string

func (m mapSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if secret, ok := m[name]; ok {
		return secret, nil
	}
	return "", fmt.Errorf("secret %s not found", name)
}

// newTestValidator pins the validator clock so signed timestamps stay inside
// the skew window for the duration of the test.
func newTestValidator(t *testing.T, provider SecretProvider, opts ...HMACOption) (*HMACValidator, time.Time) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	base := []HMACOption{
		WithHMACLogger(noopLogger{}),
		WithHMACClock(func() time.Time { return now }),
	}
	return NewHMACValidator(provider, NewInMemoryNonceStore(), append(base, opts...)...), now
}

// signRequest builds a webhook request carrying a valid signature over body
// with the given timestamp and nonce.
func signRequest(target string, body []byte, secret, timestamp, nonce string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	signature := computeHMAC([]byte(secret), buildCanonicalString(req, body, timestamp, nonce))
	req.Header.Set(defaultSignatureHeader, base64.StdEncoding.EncodeToString(signature))
	req.Header.Set(defaultTimestampHeader, timestamp)
	req.Header.Set(defaultNonceHeader, nonce)
	return req
}

func TestRequireHMAC_Success(t *testing.T) {
	const secretName = "webhooks/mpesa"
	const secretValue = "super-secret"

	metrics := &recordingMetrics{}
	validator, now := newTestValidator(t, mapSecretProvider{secretName: secretValue}, WithHMACMetrics(metrics))

	body := []byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`)
	req := signRequest("/webhooks/mpesa", body, secretValue, now.Format(time.RFC3339), "nonce-123")

	rr := httptest.NewRecorder()
	validator.RequireHMAC(secretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, ok := HMACMetadataFromContext(r.Context())
		if !ok {
			t.Fatal("expected hmac metadata in context")
		}
		if meta.SecretName != secretName {
			t.Fatalf("metadata secret name = %q, want %q", meta.SecretName, secretName)
		}
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.records) != 1 || !metrics.records[0].success {
		t.Fatalf("expected one success metric, got %+v", metrics.records)
	}
}

func TestRequireHMAC_ReplayRejected(t *testing.T) {
	const secretName = "webhooks/stripe"
	const secretValue = "another-secret"

	validator, now := newTestValidator(t, mapSecretProvider{secretName: secretValue})

	body := []byte(`{"type":"checkout.session.completed"}`)
	timestamp := now.Format(time.RFC3339)

	handler := validator.RequireHMAC(secretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signRequest("/webhooks/stripe", body, secretValue, timestamp, "nonce-replay"))
	if rr.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d, want 200", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, signRequest("/webhooks/stripe", body, secretValue, timestamp, "nonce-replay"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replayed delivery status = %d, want 401", rr.Code)
	}
}

func TestRequireHMAC_SignatureMismatch(t *testing.T) {
	const secretName = "webhooks/mpesa"
	const secretValue = "daraja-secret"

	validator, now := newTestValidator(t, mapSecretProvider{secretName: secretValue})

	// Sign the original callback, then deliver a body with a tampered amount.
	originalBody := []byte(`{"Body":{"stkCallback":{"ResultCode":0,"Amount":2500}}}`)
	signed := signRequest("/webhooks/mpesa", originalBody, secretValue, now.Format(time.RFC3339), "nonce-tampered")

	tampered := httptest.NewRequest(http.MethodPost, "/webhooks/mpesa",
		bytes.NewReader([]byte(`{"Body":{"stkCallback":{"ResultCode":0,"Amount":9999}}}`)))
	tampered.Header = signed.Header

	rr := httptest.NewRecorder()
	validator.RequireHMAC(secretName)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked on signature mismatch")
	})).ServeHTTP(rr, tampered)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRequireHMAC_TimestampSkewRejected(t *testing.T) {
	const secretName = "webhooks/mpesa"
	const secretValue = "callback-secret"

	validator, now := newTestValidator(t, mapSecretProvider{secretName: secretValue})

	body := []byte(`{"Body":{"stkCallback":{"ResultCode":1032}}}`)
	stale := now.Add(-10 * time.Minute).Format(time.RFC3339)
	req := signRequest("/webhooks/mpesa", body, secretValue, stale, "nonce-old")

	rr := httptest.NewRecorder()
	validator.RequireHMAC(secretName)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be called when timestamp is skewed")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRequireHMAC_SecretUnavailable(t *testing.T) {
	provider := SecretProviderFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("secret unavailable")
	})
	validator, _ := newTestValidator(t, provider)

	rr := httptest.NewRecorder()
	validator.RequireHMAC("missing/secret")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run when secret unavailable")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/test", bytes.NewReader(nil)))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestRequireHMACResolver(t *testing.T) {
	const secretName = "webhooks/mpesa"
	const secretValue = "resolver-secret"

	validator, now := newTestValidator(t, mapSecretProvider{secretName: secretValue})

	body := []byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`)
	req := signRequest("/webhooks/mpesa", body, secretValue, now.Format(time.RFC3339), "resolver-nonce")

	rr := httptest.NewRecorder()
	validator.RequireHMACResolver(func(*http.Request) (string, bool) {
		return secretName, true
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("resolver middleware status = %d, want 200", rr.Code)
	}

	unknown := httptest.NewRecorder()
	validator.RequireHMACResolver(func(*http.Request) (string, bool) {
		return "", false
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run for unknown provider")
	})).ServeHTTP(unknown, httptest.NewRequest(http.MethodPost, "/webhooks/unknown", nil))

	if unknown.Code != http.StatusUnauthorized {
		t.Fatalf("unknown provider status = %d, want 401", unknown.Code)
	}
}
