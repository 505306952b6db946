package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/settlement_layer/internal/logging"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2, logging.NewNop())
	h := rl.Handler(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/claim", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first two requests should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", codes[2])
	}
}

func TestRateLimiter_KeysByClientHost(t *testing.T) {
	rl := NewRateLimiter(1, 1, logging.NewNop())
	h := rl.Handler(okHandler())

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", addr, rec.Code)
		}
	}
}

func TestRateLimiter_CleanupEvictsIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1, logging.NewNop())
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.getLimiter("a")

	rl.now = func() time.Time { return now.Add(time.Hour) }
	rl.Cleanup()

	if len(rl.limiters) != 0 {
		t.Fatalf("limiters = %d, want 0", len(rl.limiters))
	}
}

func TestTracingMiddleware_PropagatesHeader(t *testing.T) {
	var seen string
	h := NewTracingMiddleware(logging.NewNop()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "abc" || rec.Header().Get(TraceHeader) != "abc" {
		t.Fatalf("trace id not propagated: ctx=%q header=%q", seen, rec.Header().Get(TraceHeader))
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"exact", []string{"https://game.example"}, "https://game.example", "https://game.example"},
		{"subdomain", []string{".example"}, "https://play.example", "https://play.example"},
		{"wildcard", []string{"*"}, "https://any.site", "https://any.site"},
		{"denied", []string{"https://game.example"}, "https://evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCORSMiddleware(tt.allowed).Handler(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	h := NewCORSMiddleware([]string{"*"}).Handler(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/claim", nil)
	req.Header.Set("Origin", "https://game.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(MetricsMiddleware())
	r.HandleFunc("/accounts/{wallet}/balances", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"ok": "1"})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/abc/balances", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
