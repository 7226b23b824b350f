package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/conceptdash/api/internal/domain"
	"github.com/conceptdash/api/internal/services"
)

const webhookSuccessPayload = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_123",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 2500},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254712345678}
        ]
      }
    }
  }
}`

func newWebhookRouter(reconcile *stubReconciliationService) chi.Router {
	router := chi.NewRouter()
	NewWebhookHandlers(reconcile, nil).Routes(router)
	return router
}

func postMpesaCallback(t *testing.T, router chi.Router, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mpesa", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeAck(t *testing.T, rr *httptest.ResponseRecorder) darajaAck {
	t.Helper()
	var ack darajaAck
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	return ack
}

func TestWebhookHandlersMpesaSuccess(t *testing.T) {
	var captured services.ReconciliationEvent
	reconcile := &stubReconciliationService{
		reconcileFunc: func(ctx context.Context, event services.ReconciliationEvent) error {
			captured = event
			return nil
		},
	}

	rr := postMpesaCallback(t, newWebhookRouter(reconcile), webhookSuccessPayload)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ack := decodeAck(t, rr); ack.ResultCode != 0 {
		t.Fatalf("expected ResultCode 0, got %d", ack.ResultCode)
	}
	if captured.CorrelationHandle != "ws_CO_123" {
		t.Fatalf("expected handle ws_CO_123, got %s", captured.CorrelationHandle)
	}
	if captured.Outcome != domain.OutcomeSuccess {
		t.Fatalf("expected success outcome, got %s", captured.Outcome)
	}
	if captured.ProviderReference != "NLJ7RT61SV" {
		t.Fatalf("expected receipt NLJ7RT61SV, got %s", captured.ProviderReference)
	}
}

func TestWebhookHandlersMpesaUnknownHandleAcked(t *testing.T) {
	reconcile := &stubReconciliationService{
		reconcileFunc: func(context.Context, services.ReconciliationEvent) error {
			return services.ErrReconcileOrderNotFound
		},
	}

	rr := postMpesaCallback(t, newWebhookRouter(reconcile), webhookSuccessPayload)

	// Unknown handles are dropped after logging. Acknowledging stops the
	// provider from redelivering a callback nobody can match.
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ack := decodeAck(t, rr); ack.ResultCode != 0 {
		t.Fatalf("expected ResultCode 0, got %d", ack.ResultCode)
	}
}

func TestWebhookHandlersMpesaMalformedRejected(t *testing.T) {
	called := false
	reconcile := &stubReconciliationService{
		reconcileFunc: func(context.Context, services.ReconciliationEvent) error {
			called = true
			return nil
		},
	}

	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `not json at all`},
		{"missing callback body", `{"Body":{}}`},
		{"missing result code", `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_123"}}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := postMpesaCallback(t, newWebhookRouter(reconcile), tc.payload)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
			if ack := decodeAck(t, rr); ack.ResultCode == 0 {
				t.Fatalf("expected failure ack for malformed payload")
			}
		})
	}

	if called {
		t.Fatal("reconcile should not run for malformed callbacks")
	}
}

func TestWebhookHandlersMpesaOutageRetried(t *testing.T) {
	reconcile := &stubReconciliationService{
		reconcileFunc: func(context.Context, services.ReconciliationEvent) error {
			return services.ErrReconcileUnavailable
		},
	}

	rr := postMpesaCallback(t, newWebhookRouter(reconcile), webhookSuccessPayload)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if ack := decodeAck(t, rr); ack.ResultCode == 0 {
		t.Fatalf("expected failure ack so the provider retries")
	}
}
