package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{counts: make(map[string]int64)}
}

func (s *memoryStore) Increment(_ context.Context, key string, windowStart time.Time, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	k := key + "@" + windowStart.Format(time.RFC3339Nano)
	s.counts[k]++
	return s.counts[k], nil
}

type countingRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *countingRecorder) RecordRateLimited(_ context.Context, route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func TestLimiterAllow(t *testing.T) {
	t.Run("allows up to limit within window", func(t *testing.T) {
		limiter := NewLimiter(newMemoryStore(), 3, time.Minute)
		now := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
		limiter.now = func() time.Time { return now }

		for i := 1; i <= 3; i++ {
			d, err := limiter.Allow(context.Background(), "k")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !d.Allowed {
				t.Fatalf("request %d: expected allowed", i)
			}
			if d.Remaining != 3-i {
				t.Errorf("request %d: expected remaining %d, got %d", i, 3-i, d.Remaining)
			}
		}

		d, err := limiter.Allow(context.Background(), "k")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Allowed {
			t.Error("expected fourth request to be refused")
		}
		if d.Remaining != 0 {
			t.Errorf("expected remaining 0, got %d", d.Remaining)
		}
		want := time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)
		if !d.ResetAt.Equal(want) {
			t.Errorf("expected reset at %v, got %v", want, d.ResetAt)
		}
	})

	t.Run("new window resets count", func(t *testing.T) {
		limiter := NewLimiter(newMemoryStore(), 1, time.Minute)
		now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
		limiter.now = func() time.Time { return now }

		if d, _ := limiter.Allow(context.Background(), "k"); !d.Allowed {
			t.Fatal("expected first request allowed")
		}
		if d, _ := limiter.Allow(context.Background(), "k"); d.Allowed {
			t.Fatal("expected second request refused")
		}

		now = now.Add(time.Minute)
		if d, _ := limiter.Allow(context.Background(), "k"); !d.Allowed {
			t.Error("expected request in next window allowed")
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		limiter := NewLimiter(newMemoryStore(), 1, time.Minute)

		if d, _ := limiter.Allow(context.Background(), "a"); !d.Allowed {
			t.Fatal("expected a allowed")
		}
		if d, _ := limiter.Allow(context.Background(), "b"); !d.Allowed {
			t.Error("expected b allowed")
		}
	})

	t.Run("store error", func(t *testing.T) {
		store := newMemoryStore()
		store.err = errors.New("connection refused")
		limiter := NewLimiter(store, 1, time.Minute)

		if _, err := limiter.Allow(context.Background(), "k"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	byRemoteAddr := func(r *http.Request) string { return r.RemoteAddr }

	t.Run("refuses once limit is exceeded", func(t *testing.T) {
		recorder := &countingRecorder{}
		limiter := NewLimiter(newMemoryStore(), 2, time.Minute)
		h := Middleware(limiter, "webhook", byRemoteAddr, recorder, logger)(ok)

		codes := make([]int, 0, 3)
		var last *httptest.ResponseRecorder
		for range 3 {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", nil)
			req.RemoteAddr = "203.0.113.7"
			last = httptest.NewRecorder()
			h.ServeHTTP(last, req)
			codes = append(codes, last.Code)
		}

		if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
			t.Fatalf("expected first two allowed, got %v", codes)
		}
		if codes[2] != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", codes[2])
		}
		if last.Header().Get("Retry-After") == "" {
			t.Error("expected Retry-After header")
		}
		if len(recorder.routes) != 1 || recorder.routes[0] != "webhook" {
			t.Errorf("expected one webhook rejection recorded, got %v", recorder.routes)
		}
	})

	t.Run("clients are counted separately", func(t *testing.T) {
		limiter := NewLimiter(newMemoryStore(), 1, time.Minute)
		h := Middleware(limiter, "webhook", byRemoteAddr, nil, logger)(ok)

		for _, addr := range []string{"203.0.113.7", "203.0.113.8"} {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", nil)
			req.RemoteAddr = addr
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Errorf("client %s: expected 200, got %d", addr, rec.Code)
			}
		}
	})

	t.Run("fails open when store is down", func(t *testing.T) {
		store := newMemoryStore()
		store.err = errors.New("connection refused")
		h := Middleware(NewLimiter(store, 1, time.Minute), "webhook", byRemoteAddr, nil, logger)(ok)

		for range 3 {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/payment", nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
		}
	})
}
