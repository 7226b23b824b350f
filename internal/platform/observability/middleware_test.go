package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conceptdash/api/internal/platform/auth"
)

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return zap.New(core), logs
}

func TestRequestLoggerMiddlewareLogsCompletion(t *testing.T) {
	logger, logs := newObservedLogger()

	handler := InjectLoggerMiddleware(logger)(
		RequestLoggerMiddleware("conceptdash-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"ok":true}`))
		})),
	)

	req := httptest.NewRequest(http.MethodPost, "/checkout/mpesa", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-77"}))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	entry := completed[0]
	if entry.Level != zapcore.InfoLevel {
		t.Errorf("expected info level for 2xx, got %s", entry.Level)
	}

	fields := entry.ContextMap()
	if fields["status"] != int64(http.StatusCreated) {
		t.Errorf("status field = %v, want %d", fields["status"], http.StatusCreated)
	}
	if fields["method"] != "POST" {
		t.Errorf("method field = %v, want POST", fields["method"])
	}
	if fields["user_id"] != "user-77" {
		t.Errorf("user_id field = %v, want user-77", fields["user_id"])
	}
	if fields["bytes"] != int64(len(`{"ok":true}`)) {
		t.Errorf("bytes field = %v, want %d", fields["bytes"], len(`{"ok":true}`))
	}
}

func TestRequestLoggerMiddlewareWarnsOnClientError(t *testing.T) {
	logger, logs := newObservedLogger()

	handler := InjectLoggerMiddleware(logger)(
		RequestLoggerMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		})),
	)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	if completed[0].Level != zapcore.WarnLevel {
		t.Errorf("expected warn level for 4xx, got %s", completed[0].Level)
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	logger, logs := newObservedLogger()

	handler := InjectLoggerMiddleware(logger)(
		RecoveryMiddleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("payment rail exploded")
		})),
	)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/mpesa", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Errorf("error code = %v, want internal_server_error", body["error"])
	}

	recovered := logs.FilterMessage("panic recovered").All()
	if len(recovered) != 1 {
		t.Fatalf("expected one panic entry, got %d", len(recovered))
	}
}
