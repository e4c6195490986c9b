package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wolfman30/patientpal/internal/auth"
)

func TestRateLimitPerUser(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	frozen := time.Date(2025, 7, 5, 14, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return frozen }
	handler := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/chat/message", nil)
		req = req.WithContext(auth.WithUserID(req.Context(), user))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("alice"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := send("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", code)
	}
	if code := send("bob"); code != http.StatusOK {
		t.Fatalf("other users must have their own bucket, got %d", code)
	}
}

func TestRateLimiterEvict(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	now := time.Date(2025, 7, 5, 14, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	limiter.Allow("a")
	if n := limiter.Evict(now.Add(time.Minute)); n != 1 {
		t.Fatalf("expected 1 evicted bucket, got %d", n)
	}
	if n := limiter.Evict(now.Add(time.Minute)); n != 0 {
		t.Fatalf("expected nothing left to evict, got %d", n)
	}
}
