package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestConstructorsStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *ServiceError
		status int
		kind   Kind
	}{
		{"validation", Validation("wallet required"), http.StatusBadRequest, KindValidation},
		{"precondition", Precondition(CodeInsufficientFunds, "need more"), http.StatusBadRequest, KindPrecondition},
		{"limited", Limited(CodeDailyLimitExceeded, "limit"), http.StatusTooManyRequests, KindPrecondition},
		{"verification", Verification("stale", "too old"), http.StatusForbidden, KindVerification},
		{"not found", NotFound(CodeAccountNotFound, "missing"), http.StatusNotFound, KindNotFound},
		{"duplicate", Duplicate("", "again"), http.StatusConflict, KindDuplicate},
		{"internal", Internal("db", stderrors.New("boom")), http.StatusInternalServerError, KindInternal},
		{"rate limit", RateLimitExceeded(10, "1s"), http.StatusTooManyRequests, KindRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.HTTPStatus != tt.status {
				t.Errorf("status = %d, want %d", tt.err.HTTPStatus, tt.status)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", tt.err.Kind, tt.kind)
			}
		})
	}
}

func TestAsThroughWrapping(t *testing.T) {
	base := Precondition(CodeMaxTier, "top tier").WithDetail("tier", "godspeed")
	wrapped := fmt.Errorf("recycle: %w", base)

	se, ok := As(wrapped)
	if !ok {
		t.Fatal("As() did not find ServiceError")
	}
	if se.Details["tier"] != "godspeed" {
		t.Fatalf("details lost: %v", se.Details)
	}
	if !HasCode(wrapped, CodeMaxTier) {
		t.Fatal("HasCode() = false")
	}
	if !IsKind(wrapped, KindPrecondition) {
		t.Fatal("IsKind() = false")
	}
}

func TestInternalUnwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Internal("update balance", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("cause not reachable via errors.Is")
	}
	if !err.Retryable() {
		t.Fatal("internal errors should be retryable")
	}
}
