package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func testContext(remote string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort(remote, "12345")
	c.Request = req
	return c
}

func TestKeyFuncs(t *testing.T) {
	c := testContext("203.0.113.9")

	if got := KeyByUserOrIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("anonymous key = %q", got)
	}

	c.Set(ctxKeyUserID, "u123")
	if got := KeyByUserOrIP()(c); got != "user:u123" {
		t.Fatalf("user key = %q", got)
	}
	if got := KeyByIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("KeyByIP must ignore the user, got %q", got)
	}
}

func TestNewRateLimiter_BurstCoercion_AndReuse(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, KeyByUserOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}
	lim := rl.getVisitor("k1")
	if got := rl.getVisitor("k1"); got != lim {
		t.Fatalf("expected same limiter instance to be reused")
	}
	if got := rl.getVisitor("k2"); got == lim {
		t.Fatalf("distinct keys must not share a bucket")
	}
}

func TestRateLimiter_getVisitor_EvictsIdle(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByUserOrIP())
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	rl.visitors["old"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-time.Hour)}
	rl.cleanupN = 4999
	rl.mu.Unlock()

	_ = rl.getVisitor("new")

	rl.mu.Lock()
	_, existsOld := rl.visitors["old"]
	_, existsNew := rl.visitors["new"]
	rl.mu.Unlock()
	if existsOld || !existsNew {
		t.Fatalf("old=%v new=%v; want old evicted, new created", existsOld, existsNew)
	}
}

func TestIsRateBypass(t *testing.T) {
	c := testContext("198.51.100.1")
	if IsRateBypass(c) {
		t.Fatalf("expected false by default")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatalf("expected true when set")
	}
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatalf("non-bool value must read as false")
	}
}

func TestRateLimiter_Handler_PerUserBuckets_And_Bypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1.0, 1, KeyByUserOrIP())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Header(requestIDHeader, "rid-1")
		if u := c.GetHeader("X-Test-User"); u != "" {
			c.Set(ctxKeyUserID, u)
		}
		if c.GetHeader("X-Test-Replay") != "" {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.GET("/queries", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	do := func(user string, replay bool) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/queries", nil)
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		if replay {
			req.Header.Set("X-Test-Replay", "1")
		}
		r.ServeHTTP(w, req)
		return w
	}

	if w := do("alice", false); w.Code != http.StatusOK {
		t.Fatalf("first alice request = %d", w.Code)
	}
	w := do("alice", false)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second alice request = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "rate_limited" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected body: %v", body)
	}

	if w := do("bob", false); w.Code != http.StatusOK {
		t.Fatalf("bob must get a separate bucket, got %d", w.Code)
	}
	if w := do("alice", true); w.Code != http.StatusOK {
		t.Fatalf("replay must bypass limiting, got %d", w.Code)
	}
}
