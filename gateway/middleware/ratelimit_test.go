package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"rpc": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("rpc")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"rpc": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("rpc")(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/", nil)
	first.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	second := httptest.NewRequest(http.MethodPost, "/", nil)
	second = second.WithContext(context.WithValue(second.Context(), ContextKeySubject, "0xabc"))

	for _, req := range []*http.Request{first, second} {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected distinct clients to have their own budget, got %d", res.Code)
		}
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, second)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected subject budget to be exhausted, got %d", res.Code)
	}
}

func TestRateLimiterIgnoresUnknownKeys(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{}, nil)
	handler := limiter.Middleware("ws")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/ws/events", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("unlimited key throttled on request %d", i)
		}
	}
}
