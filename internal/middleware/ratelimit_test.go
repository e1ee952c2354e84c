package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/analogview/internal/model"
)

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	var buf bytes.Buffer
	rl := NewRateLimiter(cfg, newTestLogger(&buf))
	t.Cleanup(rl.Stop)
	return rl
}

func serveFrom(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/feed/more", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPerMinute(t *testing.T) {
	cfg := PerMinute(240)
	if cfg.Rate != 4 {
		t.Errorf("Rate = %v, want 4", cfg.Rate)
	}
	if cfg.Burst != 240 {
		t.Errorf("Burst = %d, want 240", cfg.Burst)
	}
	if PerMinute(0).Burst != 1 {
		t.Error("0以下は1に切り上げるべき")
	}
}

func TestRateLimiter_AllowsWithinBurstThenRejects(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{Rate: 0.5, Burst: 3, CleanupInterval: time.Minute})

	calls := 0
	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for i := 0; i < 3; i++ {
		if w := serveFrom(handler, "203.0.113.7:5000"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := serveFrom(handler, "203.0.113.7:5001")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if calls != 3 {
		t.Errorf("handler calls = %d, want 3", calls)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{Rate: 1.0 / 60, Burst: 1, CleanupInterval: time.Minute})
	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	if w := serveFrom(handler, "198.51.100.1:1000"); w.Code != http.StatusOK {
		t.Errorf("client A: status = %d, want 200", w.Code)
	}
	if w := serveFrom(handler, "198.51.100.2:1000"); w.Code != http.StatusOK {
		t.Errorf("client B: status = %d, want 200", w.Code)
	}
	if w := serveFrom(handler, "198.51.100.1:1001"); w.Code != http.StatusTooManyRequests {
		t.Errorf("client A again: status = %d, want 429", w.Code)
	}
	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount() = %d, want 2", rl.LimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesIdleClients(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Minute})
	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	serveFrom(handler, "192.0.2.1:1")
	serveFrom(handler, "192.0.2.2:1")

	rl.cleanup(time.Now().Add(time.Minute))
	if rl.LimiterCount() != 2 {
		t.Errorf("期限内のエントリは残るべき: LimiterCount() = %d", rl.LimiterCount())
	}
	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.LimiterCount() != 0 {
		t.Errorf("期限切れのエントリは削除されるべき: LimiterCount() = %d", rl.LimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := newTestRateLimiter(t, PerMinute(60))
	rl.Stop()
	rl.Stop()
}
