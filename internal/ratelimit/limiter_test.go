package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestPerUser_BurstThenRefill(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := NewPerUser(6, 2) // one token every 10s
	p.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := p.Allow("u"); !ok {
			t.Fatalf("request %d should fit the burst", i)
		}
	}
	ok, wait := p.Allow("u")
	if ok {
		t.Fatalf("expected third request to be limited")
	}
	if wait <= 0 || wait > 10*time.Second {
		t.Fatalf("unexpected wait %v", wait)
	}

	// other users have their own bucket
	if ok, _ := p.Allow("v"); !ok {
		t.Fatalf("expected v to be allowed")
	}

	now = now.Add(10 * time.Second)
	if ok, _ := p.Allow("u"); !ok {
		t.Fatalf("expected a refilled token")
	}
}

func TestPerUser_Prune(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := NewPerUser(60, 1)
	p.now = func() time.Time { return now }
	p.Allow("old")
	now = now.Add(time.Hour)
	p.Allow("new")

	if n := p.Prune(30 * time.Minute); n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if _, ok := p.buckets["new"]; !ok {
		t.Fatalf("active user must be kept")
	}
}

func TestMiddleware_Returns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := NewPerUser(1, 1)

	r := gin.New()
	r.POST("/calls", func(c *gin.Context) {
		c.Set("user_id", "u")
		c.Next()
	}, Middleware(p), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/calls", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/calls", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}
