package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/conceptdash/api/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	const traceHex = "105445aa7843bc8bf206b12000100000"

	cases := []struct {
		name        string
		header      string
		wantOK      bool
		wantSampled bool
		wantSpanID  string
	}{
		{
			name:        "hex span sampled",
			header:      traceHex + "/00f067aa0ba902b7;o=1",
			wantOK:      true,
			wantSampled: true,
			wantSpanID:  "00f067aa0ba902b7",
		},
		{
			name:       "hex span unsampled",
			header:     traceHex + "/00f067aa0ba902b7;o=0",
			wantOK:     true,
			wantSpanID: "00f067aa0ba902b7",
		},
		{
			name:       "decimal span id",
			header:     traceHex + "/123456789",
			wantOK:     true,
			wantSpanID: "00000000075bcd15",
		},
		{
			name:       "short hex span padded",
			header:     traceHex + "/ab12",
			wantOK:     true,
			wantSpanID: "000000000000ab12",
		},
		{name: "missing span", header: traceHex},
		{name: "short trace id", header: "abc123/1;o=1"},
		{name: "empty", header: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info, spanCtx, ok := parseCloudTraceContext(tc.header)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !tc.wantOK {
				return
			}
			if info.TraceID != traceHex {
				t.Errorf("TraceID = %s, want %s", info.TraceID, traceHex)
			}
			if info.SpanID != tc.wantSpanID {
				t.Errorf("SpanID = %s, want %s", info.SpanID, tc.wantSpanID)
			}
			if info.Sampled != tc.wantSampled {
				t.Errorf("Sampled = %v, want %v", info.Sampled, tc.wantSampled)
			}
			if !spanCtx.IsRemote() {
				t.Error("expected remote span context")
			}
		})
	}
}

func TestFormatCloudTraceHeader(t *testing.T) {
	info := requestctx.TraceInfo{
		TraceID: "105445aa7843bc8bf206b12000100000",
		SpanID:  "00f067aa0ba902b7",
		Sampled: true,
	}
	want := "105445aa7843bc8bf206b12000100000/00f067aa0ba902b7;o=1"
	if got := formatCloudTraceHeader(info); got != want {
		t.Errorf("formatCloudTraceHeader = %s, want %s", got, want)
	}

	if got := formatCloudTraceHeader(requestctx.TraceInfo{}); got != "" {
		t.Errorf("expected empty header for zero info, got %s", got)
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	const header = "105445aa7843bc8bf206b12000100000/00f067aa0ba902b7;o=1"

	var seen requestctx.TraceInfo
	handler := TraceMiddleware("conceptdash-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := requestctx.Trace(r.Context())
		if !ok {
			t.Fatal("expected trace info on context")
		}
		seen = info
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(cloudTraceHeader, header)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if seen.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Errorf("TraceID = %s, want propagated trace id", seen.TraceID)
	}
	if seen.ProjectID != "conceptdash-prod" {
		t.Errorf("ProjectID = %s, want conceptdash-prod", seen.ProjectID)
	}
	if got := rr.Header().Get(cloudTraceHeader); got == "" {
		t.Error("expected trace header echoed on response")
	}
}
