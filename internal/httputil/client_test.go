package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
	"github.com/R3E-Network/settlement_layer/internal/logging"
)

// =============================================================================
// Client Tests
// =============================================================================

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{})

	if client.maxRetries != 2 {
		t.Errorf("default maxRetries = %d, want 2", client.maxRetries)
	}
	if client.httpClient.Timeout != 15*time.Second {
		t.Errorf("default timeout = %v, want 15s", client.httpClient.Timeout)
	}
}

func TestClient_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", ct)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"echo":"` + body["msg"] + `"}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{})
	out, err := client.PostJSON(context.Background(), server.URL, map[string]string{"msg": "hi"})
	if err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if string(out) != `{"echo":"hi"}` {
		t.Errorf("body = %s", out)
	}
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{MaxRetries: 3, BaseBackoff: time.Millisecond})
	if _, err := client.PostJSON(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestClient_DoesNotRetryClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{MaxRetries: 3, BaseBackoff: time.Millisecond})
	_, err := client.PostJSON(context.Background(), server.URL, nil)

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("error = %v, want StatusError 400", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestClient_ContextCancelStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := NewClient(ClientConfig{MaxRetries: 10, BaseBackoff: 50 * time.Millisecond})
	if _, err := client.PostJSON(ctx, server.URL, nil); err == nil {
		t.Fatal("expected error after context deadline")
	}
}

// =============================================================================
// Bounded read Tests
// =============================================================================

func TestReadAllWithLimit(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("abcdef"), 4)
	if err != nil {
		t.Fatal(err)
	}
	if !truncated || string(data) != "abcd" {
		t.Errorf("got %q truncated=%v", data, truncated)
	}

	if _, err := ReadAllStrict(strings.NewReader("abcdef"), 4); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("ReadAllStrict() error = %v, want ErrBodyTooLarge", err)
	}
}

// =============================================================================
// Response Tests
// =============================================================================

func TestWriteError_Precondition(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/open-pack", nil)

	err := svcerrors.Precondition(svcerrors.CodeInsufficientFunds, "not enough bonds").
		WithDetail("need", 30).WithDetail("have", 10)
	WriteError(rec, req, logging.NewNop(), err)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != svcerrors.CodeInsufficientFunds || body["need"] != float64(30) {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_InternalHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/claim", nil)
	req = req.WithContext(logging.WithTraceID(req.Context(), "trace-1"))

	WriteError(rec, req, logging.NewNop(), errors.New("pq: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "pq:") {
		t.Errorf("internal detail leaked: %s", rec.Body.String())
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["correlation_id"] != "trace-1" {
		t.Errorf("correlation_id = %q, want trace-1", body["correlation_id"])
	}
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"wallet":"w"}`))
	var dst struct {
		Wallet string `json:"wallet"`
	}
	if err := DecodeJSON(req, &dst); err != nil || dst.Wallet != "w" {
		t.Fatalf("DecodeJSON() = %v, wallet=%q", err, dst.Wallet)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	if err := DecodeJSON(req, &dst); !svcerrors.IsKind(err, svcerrors.KindValidation) {
		t.Fatalf("DecodeJSON() error = %v, want validation", err)
	}
}
