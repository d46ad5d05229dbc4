package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/staybook/pkg/logger"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func TestIdempotencyMiddleware_ReplaysSuccessfulPost(t *testing.T) {
	calls := 0
	h := IdempotencyMiddleware(&memoryStore{data: map[string]string{}}, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"b-1"}`))
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/bookings", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated || rec.Body.String() != `{"id":"b-1"}` {
			t.Fatalf("attempt %d: %d %q", i, rec.Code, rec.Body.String())
		}
		if i == 1 && rec.Header().Get("Idempotent-Replayed") != "true" {
			t.Fatal("second attempt should be a replay")
		}
	}
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
}

func TestIdempotencyMiddleware_KeysAreScopedPerUser(t *testing.T) {
	calls := 0
	h := IdempotencyMiddleware(&memoryStore{data: map[string]string{}}, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"customer":"` + r.Context().Value(logger.UserIDKey).(string) + `"}`))
	}))

	send := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/bookings", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "shared-key")
		req = req.WithContext(context.WithValue(req.Context(), logger.UserIDKey, userID))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	alice := send("alice")
	bob := send("bob")
	if bob.Header().Get("Idempotent-Replayed") != "" || bob.Body.String() != `{"customer":"bob"}` {
		t.Fatalf("bob got %q replayed=%q", bob.Body.String(), bob.Header().Get("Idempotent-Replayed"))
	}
	if alice.Body.String() != `{"customer":"alice"}` || calls != 2 {
		t.Fatalf("alice got %q, handler calls = %d", alice.Body.String(), calls)
	}

	again := send("alice")
	if again.Header().Get("Idempotent-Replayed") != "true" || again.Body.String() != `{"customer":"alice"}` || calls != 2 {
		t.Fatalf("alice retry got %q, handler calls = %d", again.Body.String(), calls)
	}
}

func TestIdempotencyMiddleware_SkipsFailuresAndOtherMethods(t *testing.T) {
	calls := 0
	h := IdempotencyMiddleware(&memoryStore{data: map[string]string{}}, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
		req.Header.Set("Idempotency-Key", "abc")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/bookings", nil)
	req.Header.Set("Idempotency-Key", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if calls != 3 {
		t.Fatalf("handler calls = %d, want 3", calls)
	}
}

func TestRequestID(t *testing.T) {
	var seen interface{}
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Context().Value(logger.RequestIDKey)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-1" || rec.Header().Get("X-Request-ID") != "req-1" {
		t.Fatalf("seen = %v header = %q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("a request id should be generated")
	}
}

func TestHealth(t *testing.T) {
	h := Health(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("other = %d", rec.Code)
	}
}

type memoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *memoryCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func TestRateLimiter_BlocksPerClientAndPath(t *testing.T) {
	rl := NewRateLimiter(&memoryCounter{counts: map[string]int64{}}, RateLimitConfig{Requests: 2, Window: time.Minute})
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(path, ip string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("/v1/auth/login", "1.2.3.4"); code != http.StatusNoContent {
			t.Fatalf("attempt %d = %d", i, code)
		}
	}
	if code := send("/v1/auth/login", "1.2.3.4"); code != http.StatusTooManyRequests {
		t.Fatalf("third attempt = %d, want 429", code)
	}
	if code := send("/v1/auth/login", "5.6.7.8"); code != http.StatusNoContent {
		t.Fatalf("other client = %d", code)
	}
	if code := send("/v1/auth/register", "1.2.3.4"); code != http.StatusNoContent {
		t.Fatalf("other path = %d", code)
	}
}
