// Package verifier checks that an external ledger transaction paid the
// treasury the expected amount recently enough to grant account privileges.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/settlement_layer/internal/app/metrics"
	"github.com/R3E-Network/settlement_layer/internal/app/storage"
	"github.com/R3E-Network/settlement_layer/internal/chain"
	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
	"github.com/R3E-Network/settlement_layer/internal/logging"
)

// MockPrefix marks synthetic transaction ids accepted when mocks are allowed.
const MockPrefix = "mock_"

// DefaultTolerance is the accepted relative deviation from the expected amount.
const DefaultTolerance = 0.01

// DefaultTimeout bounds one verification including confirmation polling.
const DefaultTimeout = 45 * time.Second

// Status is the outcome of a verification.
type Status string

const (
	StatusVerified            Status = "verified"
	StatusPending             Status = "pending"
	StatusNotFoundDestination Status = "not_found_destination"
	StatusAmountMismatch      Status = "amount_mismatch"
	StatusStale               Status = "stale"
	StatusInstructionFailed   Status = "instruction_failed"
	StatusDuplicate           Status = "duplicate"
)

// Method names how the verified amount was established.
const (
	MethodMock   = "mock"
	MethodDelta  = "delta"
	MethodParsed = "parsed"
)

// LedgerClient is the subset of the external ledger RPC used for verification.
type LedgerClient interface {
	WaitForConfirmation(ctx context.Context, signature string) (*chain.SignatureStatus, error)
	GetTransaction(ctx context.Context, signature string) (*chain.Transaction, error)
	GetTransactionParsed(ctx context.Context, signature string) (*chain.ParsedTransaction, error)
}

// PaymentLookup reports previously processed payments.
type PaymentLookup interface {
	GetProcessedPayment(ctx context.Context, txID string) (ledger.ProcessedPayment, error)
}

// Request describes the payment to verify. ExpectedAmount is in whole units.
type Request struct {
	Wallet         string
	TxID           string
	Cluster        chain.Cluster
	ExpectedAmount float64
	MaxAge         time.Duration
}

// Verdict is the result of a verification. Only StatusVerified is valid.
type Verdict struct {
	Status         Status
	Reason         string
	TxID           string
	Cluster        chain.Cluster
	VerifiedAmount float64
	Timestamp      time.Time
	Method         string
}

// Valid reports whether the payment may be settled.
func (v Verdict) Valid() bool { return v.Status == StatusVerified }

// Err converts a non-valid verdict into the service error surfaced to callers.
// Pending is not an error and yields nil, as does a valid verdict.
func (v Verdict) Err() error {
	switch v.Status {
	case StatusVerified, StatusPending:
		return nil
	case StatusDuplicate:
		return svcerrors.Duplicate(svcerrors.CodeDuplicate, "payment already processed").
			WithDetail("tx_id", v.TxID)
	default:
		return svcerrors.Verification(string(v.Status), v.Reason).WithDetail("tx_id", v.TxID)
	}
}

// Config wires the per-cluster ledger clients and treasuries.
type Config struct {
	Clients    map[chain.Cluster]LedgerClient
	Treasuries map[chain.Cluster]string
	AllowMock  bool
	Timeout    time.Duration
	Tolerance  float64
}

// Verifier verifies external payments. It never writes state.
type Verifier struct {
	cfg      Config
	payments PaymentLookup
	log      *logging.Logger
	now      func() time.Time
}

// New creates a Verifier.
func New(cfg Config, payments PaymentLookup, log *logging.Logger) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if log == nil {
		log = logging.NewDefault("verifier")
	}
	return &Verifier{
		cfg:      cfg,
		payments: payments,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Verify checks req against the external ledger. Taxonomy outcomes are
// reported in the Verdict; the error is reserved for invalid input and
// infrastructure failures.
func (v *Verifier) Verify(ctx context.Context, req Request) (Verdict, error) {
	start := time.Now()
	verdict, err := v.verify(ctx, req)
	status := string(verdict.Status)
	if err != nil {
		status = "error"
	}
	metrics.RecordVerification(status, time.Since(start))

	entry := v.log.WithContext(ctx).
		WithField("wallet", req.Wallet).
		WithField("tx_id", req.TxID).
		WithField("cluster", req.Cluster)
	if err != nil {
		entry.WithError(err).Warn("payment verification failed")
	} else {
		entry.WithField("status", verdict.Status).
			WithField("amount", verdict.VerifiedAmount).
			WithField("method", verdict.Method).
			Info("payment verification finished")
	}
	return verdict, err
}

func (v *Verifier) verify(ctx context.Context, req Request) (Verdict, error) {
	if req.Wallet == "" || req.TxID == "" {
		return Verdict{}, svcerrors.Validation("wallet and tx_id are required")
	}
	if req.ExpectedAmount <= 0 {
		return Verdict{}, svcerrors.Validation("expected amount must be positive")
	}
	verdict := Verdict{TxID: req.TxID, Cluster: req.Cluster}

	isMock := strings.HasPrefix(req.TxID, MockPrefix)
	if isMock && !v.cfg.AllowMock {
		return Verdict{}, svcerrors.Validation("synthetic transaction ids are disabled")
	}
	if !isMock {
		if err := chain.ValidateSignature(req.TxID); err != nil {
			return Verdict{}, svcerrors.Validation(err.Error()).WithDetail("field", "tx_id")
		}
	}

	if _, err := v.payments.GetProcessedPayment(ctx, req.TxID); err == nil {
		verdict.Status = StatusDuplicate
		verdict.Reason = "transaction already processed"
		return verdict, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Verdict{}, svcerrors.Internal("lookup processed payment", err)
	}

	if isMock {
		verdict.Status = StatusVerified
		verdict.VerifiedAmount = req.ExpectedAmount
		verdict.Timestamp = v.now()
		verdict.Method = MethodMock
		return verdict, nil
	}

	client, ok := v.cfg.Clients[req.Cluster]
	if !ok {
		return Verdict{}, svcerrors.Validation(fmt.Sprintf("cluster %q is not configured", req.Cluster))
	}
	treasury := v.cfg.Treasuries[req.Cluster]
	if treasury == "" {
		return Verdict{}, svcerrors.Internal("treasury not configured", fmt.Errorf("no treasury for cluster %s", req.Cluster))
	}

	pollCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	if _, err := client.WaitForConfirmation(pollCtx, req.TxID); err != nil {
		switch {
		case errors.Is(err, chain.ErrTransactionFailed):
			verdict.Status = StatusInstructionFailed
			verdict.Reason = "transaction failed on the ledger"
			return verdict, nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			verdict.Status = StatusPending
			verdict.Reason = "transaction not confirmed yet"
			return verdict, nil
		default:
			return Verdict{}, svcerrors.Internal("wait for confirmation", err)
		}
	}

	tx, err := client.GetTransaction(pollCtx, req.TxID)
	if err != nil {
		if pollCtx.Err() != nil && ctx.Err() == nil {
			verdict.Status = StatusPending
			verdict.Reason = "transaction lookup timed out"
			return verdict, nil
		}
		return Verdict{}, svcerrors.Internal("get transaction", err)
	}
	if tx == nil {
		verdict.Status = StatusPending
		verdict.Reason = "transaction not found yet"
		return verdict, nil
	}
	if tx.Failed {
		verdict.Status = StatusInstructionFailed
		verdict.Reason = "transaction failed on the ledger"
		return verdict, nil
	}

	now := v.now()
	verdict.Timestamp = now
	if tx.BlockTime != nil {
		verdict.Timestamp = *tx.BlockTime
	}
	if req.MaxAge > 0 && now.Sub(verdict.Timestamp) > req.MaxAge {
		verdict.Status = StatusStale
		verdict.Reason = fmt.Sprintf("transaction is %.1f minutes old (max %.0f)",
			now.Sub(verdict.Timestamp).Minutes(), req.MaxAge.Minutes())
		return verdict, nil
	}

	deltaLamports, destinationSeen := treasuryDelta(tx, treasury)

	var parsedLamports uint64
	ptx, err := client.GetTransactionParsed(pollCtx, req.TxID)
	if err != nil {
		v.log.WithContext(ctx).WithError(err).WithField("tx_id", req.TxID).
			Warn("parsed transaction lookup failed; using balance delta only")
	} else if ptx != nil {
		for _, t := range ptx.Transfers {
			if t.Destination == treasury {
				parsedLamports += t.Lamports
				destinationSeen = true
			}
		}
	}

	received := float64(deltaLamports)
	verdict.Method = MethodDelta
	if float64(parsedLamports) > received {
		received = float64(parsedLamports)
		verdict.Method = MethodParsed
	}

	if !destinationSeen || received <= 0 {
		verdict.Status = StatusNotFoundDestination
		verdict.Reason = "transaction does not pay the treasury"
		verdict.Method = ""
		return verdict, nil
	}

	verdict.VerifiedAmount = received / chain.LamportsPerUnit
	expected := req.ExpectedAmount * chain.LamportsPerUnit
	if math.Abs(received-expected) > expected*v.cfg.Tolerance {
		verdict.Status = StatusAmountMismatch
		verdict.Reason = fmt.Sprintf("transfer amount mismatch: got %.9f, expected %.9f",
			verdict.VerifiedAmount, req.ExpectedAmount)
		return verdict, nil
	}

	verdict.Status = StatusVerified
	return verdict, nil
}

// treasuryDelta returns post-pre of the treasury balance, clamped at zero, and
// whether the treasury appears among the account keys.
func treasuryDelta(tx *chain.Transaction, treasury string) (int64, bool) {
	idx := tx.IndexOf(treasury)
	if idx < 0 || idx >= len(tx.PreBalances) || idx >= len(tx.PostBalances) {
		return 0, idx >= 0
	}
	delta := int64(tx.PostBalances[idx]) - int64(tx.PreBalances[idx])
	if delta < 0 {
		delta = 0
	}
	return delta, true
}
