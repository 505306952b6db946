package verifier

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/settlement_layer/internal/app/storage/memory"
	"github.com/R3E-Network/settlement_layer/internal/chain"
	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
	"github.com/R3E-Network/settlement_layer/internal/logging"
)

const (
	treasury = "Treasury"
	payer    = "Payer"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeLedger struct {
	waitErr   error
	tx        *chain.Transaction
	txErr     error
	parsed    *chain.ParsedTransaction
	parsedErr error
	block     bool
}

func (f *fakeLedger) WaitForConfirmation(ctx context.Context, _ string) (*chain.SignatureStatus, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	return &chain.SignatureStatus{ConfirmationStatus: "confirmed"}, nil
}

func (f *fakeLedger) GetTransaction(context.Context, string) (*chain.Transaction, error) {
	return f.tx, f.txErr
}

func (f *fakeLedger) GetTransactionParsed(context.Context, string) (*chain.ParsedTransaction, error) {
	return f.parsed, f.parsedErr
}

func signature(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 64))
}

func blockAt(t time.Time) *time.Time { return &t }

func balanceTx(pre, post uint64, age time.Duration) *chain.Transaction {
	return &chain.Transaction{
		AccountKeys:  []string{payer, treasury},
		PreBalances:  []uint64{10 * chain.LamportsPerUnit, pre},
		PostBalances: []uint64{9 * chain.LamportsPerUnit, post},
		BlockTime:    blockAt(testNow.Add(-age)),
	}
}

func newVerifier(client LedgerClient, payments PaymentLookup, allowMock bool) *Verifier {
	v := New(Config{
		Clients:    map[chain.Cluster]LedgerClient{chain.ClusterDevnet: client},
		Treasuries: map[chain.Cluster]string{chain.ClusterDevnet: treasury},
		AllowMock:  allowMock,
		Timeout:    50 * time.Millisecond,
	}, payments, logging.NewNop())
	v.now = func() time.Time { return testNow }
	return v
}

func request(txID string) Request {
	return Request{
		Wallet:         payer,
		TxID:           txID,
		Cluster:        chain.ClusterDevnet,
		ExpectedAmount: 0.5,
		MaxAge:         15 * time.Minute,
	}
}

func TestVerifyOutcomes(t *testing.T) {
	half := uint64(chain.LamportsPerUnit / 2)

	tests := []struct {
		name       string
		ledger     *fakeLedger
		wantStatus Status
		wantMethod string
	}{
		{
			name:       "delta match",
			ledger:     &fakeLedger{tx: balanceTx(0, half, time.Minute)},
			wantStatus: StatusVerified,
			wantMethod: MethodDelta,
		},
		{
			name:       "within tolerance",
			ledger:     &fakeLedger{tx: balanceTx(0, half-half/200, time.Minute)},
			wantStatus: StatusVerified,
			wantMethod: MethodDelta,
		},
		{
			name: "nested transfer only",
			ledger: &fakeLedger{
				tx: balanceTx(0, 0, time.Minute),
				parsed: &chain.ParsedTransaction{Transfers: []chain.Transfer{
					{Source: payer, Destination: treasury, Lamports: half, Inner: true},
				}},
			},
			wantStatus: StatusVerified,
			wantMethod: MethodParsed,
		},
		{
			name: "destination via parsed only",
			ledger: &fakeLedger{
				tx: &chain.Transaction{AccountKeys: []string{payer}, BlockTime: blockAt(testNow)},
				parsed: &chain.ParsedTransaction{Transfers: []chain.Transfer{
					{Source: payer, Destination: treasury, Lamports: half},
				}},
			},
			wantStatus: StatusVerified,
			wantMethod: MethodParsed,
		},
		{
			name:       "amount mismatch",
			ledger:     &fakeLedger{tx: balanceTx(0, half/2, time.Minute)},
			wantStatus: StatusAmountMismatch,
		},
		{
			name:       "treasury absent",
			ledger:     &fakeLedger{tx: &chain.Transaction{AccountKeys: []string{payer}, BlockTime: blockAt(testNow)}},
			wantStatus: StatusNotFoundDestination,
		},
		{
			name:       "treasury received nothing",
			ledger:     &fakeLedger{tx: balanceTx(half, half, time.Minute)},
			wantStatus: StatusNotFoundDestination,
		},
		{
			name:       "stale",
			ledger:     &fakeLedger{tx: balanceTx(0, half, 16*time.Minute)},
			wantStatus: StatusStale,
		},
		{
			name:       "failed on ledger",
			ledger:     &fakeLedger{waitErr: chain.ErrTransactionFailed},
			wantStatus: StatusInstructionFailed,
		},
		{
			name:       "failed flag in transaction",
			ledger:     &fakeLedger{tx: &chain.Transaction{Failed: true}},
			wantStatus: StatusInstructionFailed,
		},
		{
			name:       "not found yet",
			ledger:     &fakeLedger{},
			wantStatus: StatusPending,
		},
		{
			name:       "confirmation timeout",
			ledger:     &fakeLedger{block: true},
			wantStatus: StatusPending,
		},
		{
			name:       "parsed lookup error falls back to delta",
			ledger:     &fakeLedger{tx: balanceTx(0, half, time.Minute), parsedErr: errors.New("rpc down")},
			wantStatus: StatusVerified,
			wantMethod: MethodDelta,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVerifier(tt.ledger, memory.New(), false)
			verdict, err := v.Verify(context.Background(), request(signature(byte(i+1))))
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if verdict.Status != tt.wantStatus {
				t.Fatalf("status = %s (%s), want %s", verdict.Status, verdict.Reason, tt.wantStatus)
			}
			if tt.wantMethod != "" && verdict.Method != tt.wantMethod {
				t.Fatalf("method = %s, want %s", verdict.Method, tt.wantMethod)
			}
			if verdict.Valid() && verdict.VerifiedAmount < 0.49 {
				t.Fatalf("verified amount = %v", verdict.VerifiedAmount)
			}
		})
	}
}

func TestVerifyDuplicateIsDistinct(t *testing.T) {
	store := memory.New()
	sig := signature(9)
	if _, err := store.InsertProcessedPayment(context.Background(), ledger.ProcessedPayment{TxID: sig, Wallet: payer}); err != nil {
		t.Fatal(err)
	}

	v := newVerifier(&fakeLedger{}, store, false)
	verdict, err := v.Verify(context.Background(), request(sig))
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Status != StatusDuplicate {
		t.Fatalf("status = %s, want duplicate", verdict.Status)
	}
	if !svcerrors.IsKind(verdict.Err(), svcerrors.KindDuplicate) {
		t.Fatalf("Err() = %v, want duplicate kind", verdict.Err())
	}
}

func TestVerifyMockPrefix(t *testing.T) {
	v := newVerifier(&fakeLedger{}, memory.New(), true)
	verdict, err := v.Verify(context.Background(), request("mock_abc"))
	if err != nil {
		t.Fatal(err)
	}
	if !verdict.Valid() || verdict.Method != MethodMock || verdict.VerifiedAmount != 0.5 {
		t.Fatalf("verdict = %+v", verdict)
	}

	strict := newVerifier(&fakeLedger{}, memory.New(), false)
	if _, err := strict.Verify(context.Background(), request("mock_abc")); !svcerrors.IsKind(err, svcerrors.KindValidation) {
		t.Fatalf("mock with mocks disabled error = %v, want validation", err)
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	v := newVerifier(&fakeLedger{}, memory.New(), false)
	ctx := context.Background()

	if _, err := v.Verify(ctx, Request{TxID: signature(1), ExpectedAmount: 1}); !svcerrors.IsKind(err, svcerrors.KindValidation) {
		t.Fatalf("missing wallet error = %v", err)
	}
	if _, err := v.Verify(ctx, request("not-base58-0OIl")); !svcerrors.IsKind(err, svcerrors.KindValidation) {
		t.Fatalf("bad signature error = %v", err)
	}
	req := request(signature(1))
	req.Cluster = chain.ClusterMainnet
	if _, err := v.Verify(ctx, req); !svcerrors.IsKind(err, svcerrors.KindValidation) {
		t.Fatalf("unconfigured cluster error = %v", err)
	}
}

func TestVerdictErr(t *testing.T) {
	if (Verdict{Status: StatusPending}).Err() != nil {
		t.Fatal("pending must not be an error")
	}
	err := Verdict{Status: StatusStale, TxID: "x"}.Err()
	se, ok := svcerrors.As(err)
	if !ok || se.HTTPStatus != 403 || se.Code != string(StatusStale) {
		t.Fatalf("stale error = %+v", se)
	}
}
