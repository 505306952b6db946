package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "settlement",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	claimsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "economy",
			Name:      "claims_total",
			Help:      "Total number of successful reward claims.",
		},
	)

	claimedAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "economy",
			Name:      "claimed_amount_total",
			Help:      "Sum of primary currency credited by reward claims.",
		},
	)

	verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "payments",
			Name:      "verifications_total",
			Help:      "Payment verification outcomes.",
		},
		[]string{"status"},
	)

	verifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "payments",
			Name:      "verification_duration_seconds",
			Help:      "Time spent verifying a payment against the external ledger.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 11), // 50ms to ~50s
		},
	)

	grantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "economy",
			Name:      "grants_total",
			Help:      "Units granted, by tier.",
		},
		[]string{"tier"},
	)

	recyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "economy",
			Name:      "recycles_total",
			Help:      "Recycle outcomes.",
		},
		[]string{"outcome"},
	)

	referralPayouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "economy",
			Name:      "referral_payouts_total",
			Help:      "Referral cascade payouts, by generation and result.",
		},
		[]string{"generation", "status"},
	)

	balanceConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "storage",
			Name:      "balance_conflicts_total",
			Help:      "Compare-and-swap conflicts observed while debiting balances.",
		},
	)

	reconcileDrift = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "settlement",
			Subsystem: "reconcile",
			Name:      "drift_accounts",
			Help:      "Accounts whose balance disagrees with ledger history in the last run.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		claimsTotal,
		claimedAmount,
		verifications,
		verifyDuration,
		grantsTotal,
		recyclesTotal,
		referralPayouts,
		balanceConflicts,
		reconcileDrift,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight and DecInFlight track concurrent HTTP requests.
func IncInFlight() { httpInFlight.Inc() }

// DecInFlight decrements the in-flight gauge.
func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records a completed HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordClaim records a settled reward claim.
func RecordClaim(amount float64) {
	claimsTotal.Inc()
	if amount > 0 {
		claimedAmount.Add(amount)
	}
}

// RecordVerification records a payment verification outcome.
func RecordVerification(status string, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	verifications.WithLabelValues(status).Inc()
	if duration > 0 {
		verifyDuration.Observe(duration.Seconds())
	}
}

// RecordGrant records a unit grant of the given tier.
func RecordGrant(tier string) {
	grantsTotal.WithLabelValues(tier).Inc()
}

// RecordRecycle records a recycle outcome (promoted or burned).
func RecordRecycle(outcome string) {
	recyclesTotal.WithLabelValues(outcome).Inc()
}

// RecordReferralPayout records one cascade payout attempt.
func RecordReferralPayout(generation string, success bool) {
	status := "paid"
	if !success {
		status = "failed"
	}
	referralPayouts.WithLabelValues(generation, status).Inc()
}

// RecordBalanceConflict records a CAS retry.
func RecordBalanceConflict() {
	balanceConflicts.Inc()
}

// SetReconcileDrift publishes the drift count from the last reconciliation run.
func SetReconcileDrift(n int) {
	reconcileDrift.Set(float64(n))
}
