package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	before := testutil.ToFloat64(claimsTotal)
	RecordClaim(2.5)
	if got := testutil.ToFloat64(claimsTotal); got != before+1 {
		t.Fatalf("claims_total = %v, want %v", got, before+1)
	}

	RecordGrant("beater")
	if got := testutil.ToFloat64(grantsTotal.WithLabelValues("beater")); got < 1 {
		t.Fatalf("grants_total{beater} = %v, want >= 1", got)
	}

	RecordReferralPayout("2", false)
	if got := testutil.ToFloat64(referralPayouts.WithLabelValues("2", "failed")); got < 1 {
		t.Fatalf("referral_payouts_total = %v, want >= 1", got)
	}

	SetReconcileDrift(3)
	if got := testutil.ToFloat64(reconcileDrift); got != 3 {
		t.Fatalf("drift gauge = %v, want 3", got)
	}
}

func TestHandlerExposesSettlementMetrics(t *testing.T) {
	RecordVerification("verified", 10*time.Millisecond)
	RecordHTTPRequest("post", "/claim", "200", time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"settlement_payments_verifications_total",
		`settlement_http_requests_total{method="POST",path="/claim",status="200"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
