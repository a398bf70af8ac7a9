package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestIPLimiter_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lim := NewIPLimiter(rate.Every(time.Hour), 2, time.Minute)
	defer lim.Stop()

	r := gin.New()
	r.Use(lim.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	want := []int{200, 200, 429}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}

	// a different client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("second client got %d, want 200", w.Code)
	}
}

func TestIPLimiter_Sweep(t *testing.T) {
	lim := NewIPLimiter(rate.Every(time.Second), 1, time.Minute)
	now := time.Now()
	lim.allow("a", now)
	lim.allow("b", now.Add(50*time.Second))
	if n := lim.sweep(now.Add(90 * time.Second)); n != 1 {
		t.Errorf("sweep() removed %d, want 1", n)
	}
	lim.Stop()
	lim.Stop()
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		env, origin, host string
		allowed           bool
	}{
		{"dev", "http://anything.test", "api.famly.test", true},
		{"prod", "https://api.famly.test", "api.famly.test", true},
		{"prod", "https://evil-api.famly.test", "api.famly.test", false},
		{"prod", "https://api.famly.test.evil.com", "api.famly.test", false},
	}
	for _, tt := range tests {
		r := gin.New()
		r.Use(CORS(tt.env))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Host = tt.host
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		got := w.Header().Get("Access-Control-Allow-Origin") != ""
		if got != tt.allowed {
			t.Errorf("CORS(%s) origin %s allowed = %v, want %v", tt.env, tt.origin, got, tt.allowed)
		}
	}

	r := gin.New()
	r.Use(CORS("dev"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://a.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
}
