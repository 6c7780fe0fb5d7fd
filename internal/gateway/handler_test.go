package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_HandlePayments(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("proxies GET /products", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/products" {
				t.Errorf("expected /products, got %s", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[{"id":"ITEM-001"}]`))
		}))
		defer upstream.Close()

		handler := NewHandler(NewServiceProxy(upstream.URL, upstream.Client()), logger)

		rec := httptest.NewRecorder()
		handler.HandlePayments(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
		if rec.Header().Get("Content-Type") != "application/json" {
			t.Errorf("expected application/json, got %s", rec.Header().Get("Content-Type"))
		}
		if rec.Body.String() != `[{"id":"ITEM-001"}]` {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("passes through conflict with body", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"transaction_uuid":"txn-2500"}` {
				t.Errorf("unexpected body: %s", body)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"amount mismatch","reason":"AMOUNT_MISMATCH"}`))
		}))
		defer upstream.Close()

		handler := NewHandler(NewServiceProxy(upstream.URL, upstream.Client()), logger)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{"transaction_uuid":"txn-2500"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.HandlePayments(rec, req)

		if rec.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "AMOUNT_MISMATCH") {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("copies rate limit headers", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "42")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-Internal", "secret")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer upstream.Close()

		handler := NewHandler(NewServiceProxy(upstream.URL, upstream.Client()), logger)

		rec := httptest.NewRecorder()
		handler.HandlePayments(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`)))

		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("expected status 429, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") != "42" {
			t.Errorf("expected Retry-After 42, got %q", rec.Header().Get("Retry-After"))
		}
		if rec.Header().Get("X-Internal") != "" {
			t.Error("expected internal header to be dropped")
		}
	})

	t.Run("returns 502 when payments service unavailable", func(t *testing.T) {
		handler := NewHandler(NewServiceProxy("http://localhost:99999", &http.Client{}), logger)

		rec := httptest.NewRecorder()
		handler.HandlePayments(rec, httptest.NewRequest(http.MethodGet, "/orders/abc", nil))

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", rec.Code)
		}
	})
}
