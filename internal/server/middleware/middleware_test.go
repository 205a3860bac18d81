package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGenerated(t *testing.T) {
	var ctxID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/health-report", nil))

	respID := rr.Header().Get("X-Request-ID")
	if respID == "" || ctxID == "" {
		t.Fatal("request id missing from header or context")
	}
	if respID != ctxID {
		t.Errorf("header id %q differs from context id %q", respID, ctxID)
	}
	// UUIDs are 36 chars with dashes.
	if len(respID) != 36 {
		t.Errorf("got id %q (len=%d), want UUID length", respID, len(respID))
	}
}

func TestRequestIDClientProvidedWins(t *testing.T) {
	const clientID = "trace-abc-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetRequestID(r.Context()); got != clientID {
			t.Errorf("got context id %q, want %q", got, clientID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/scan", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != clientID {
		t.Errorf("got response id %q, want %q", got, clientID)
	}
}

func TestGetRequestIDBareContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("got %q from bare context, want empty", id)
	}
}

// ---------------------------------------------------------------------------
// Logger middleware tests
// ---------------------------------------------------------------------------

func TestStatusWriterCapturesStatus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK) // second call is ignored
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Errorf("expected first status to win, got %d", rr.Code)
	}
}

func TestStatusWriterDefaultsTo200(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok")) // implicit 200
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected implicit 200, got %d", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("body not passed through: %q", rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// RateLimit middleware tests
// ---------------------------------------------------------------------------

func TestRateLimitBlocksExcessRequests(t *testing.T) {
	handler := RateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/scan", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest("POST", "/scan", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after limit, got %d", rr.Code)
	}
}
