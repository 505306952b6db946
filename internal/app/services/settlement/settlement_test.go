package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/account"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
	"github.com/R3E-Network/settlement_layer/internal/app/services/verifier"
	"github.com/R3E-Network/settlement_layer/internal/app/storage"
	"github.com/R3E-Network/settlement_layer/internal/app/storage/memory"
	"github.com/R3E-Network/settlement_layer/internal/config"
	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
	"github.com/R3E-Network/settlement_layer/internal/logging"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixedRoller float64

func (r fixedRoller) Float64() float64 { return float64(r) }

type fixture struct {
	svc   *Service
	store *memory.Store
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := memory.New()
	if opts.ClaimEpoch.IsZero() {
		opts.ClaimEpoch = testNow.Add(-10 * time.Hour)
	}
	pv := verifier.New(verifier.Config{AllowMock: true}, store, logging.NewNop())
	svc, err := New(store, memory.NewGuard(), pv, config.DefaultEconomy(), opts, logging.NewNop())
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow }
	return &fixture{svc: svc, store: store}
}

func (f *fixture) account(t *testing.T, wallet string, oil, bonds float64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.EnsureProfile(ctx, wallet)
	require.NoError(t, err)
	if oil > 0 {
		_, err = f.store.UpsertAdd(ctx, wallet, account.FieldOil, oil)
		require.NoError(t, err)
	}
	if bonds > 0 {
		_, err = f.store.UpsertAdd(ctx, wallet, account.FieldBonds, bonds)
		require.NoError(t, err)
	}
}

func (f *fixture) unit(t *testing.T, wallet, id string, tier unit.Tier) unit.Unit {
	t.Helper()
	u := unit.New(id, wallet, tier, f.svc.eco.TierStats(tier), testNow)
	created, err := f.store.CreateUnits(context.Background(), []unit.Unit{u})
	require.NoError(t, err)
	return created[0]
}

func (f *fixture) balance(t *testing.T, wallet string) account.Balance {
	t.Helper()
	bal, err := f.store.GetBalance(context.Background(), wallet)
	require.NoError(t, err)
	return bal
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	se, ok := svcerrors.As(err)
	require.True(t, ok, "expected service error, got %v", err)
	assert.Equal(t, code, se.Code)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil, nil, nil, nil, Options{}, nil)
	assert.Error(t, err)
}

func TestClaimConcurrentRequestsSettleOnce(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.account(t, "alice", 0, 0)
	f.unit(t, "alice", "u1", unit.TierBeater)
	require.NoError(t, f.store.SetEquipped(ctx, "alice", []string{"u1"}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		tooSoon int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Claim(ctx, "alice")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case svcerrors.HasCode(err, svcerrors.CodeClaimTooSoon):
				tooSoon++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 7, tooSoon)
	// Sole producer owns the whole network: 100/h for 10h.
	assert.InDelta(t, 1000, f.balance(t, "alice").Oil, 1e-9)

	claims, err := f.store.ListClaims(ctx, ledger.Query{Wallet: "alice"})
	require.NoError(t, err)
	assert.Len(t, claims, 1)
	assert.Zero(t, f.svc.locks.size())
}

func TestClaimRejections(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, "ghost")
	requireCode(t, err, svcerrors.CodeAccountNotFound)

	f.account(t, "idle", 0, 0)
	_, err = f.svc.Claim(ctx, "idle")
	requireCode(t, err, svcerrors.CodeNoMotorPower)

	_, err = f.svc.Claim(ctx, " ")
	requireCode(t, err, svcerrors.CodeInvalidInput)
}

func TestClaimReferralCascade(t *testing.T) {
	f := newFixture(t, Options{ClaimEpoch: testNow.Add(-time.Hour)})
	ctx := context.Background()
	for _, w := range []string{"grandparent", "parent", "child"} {
		f.account(t, w, 0, 0)
	}
	_, err := f.store.SetReferrer(ctx, "parent", "grandparent")
	require.NoError(t, err)
	_, err = f.store.SetReferrer(ctx, "child", "parent")
	require.NoError(t, err)
	f.unit(t, "child", "c1", unit.TierBeater)
	require.NoError(t, f.store.SetEquipped(ctx, "child", []string{"c1"}))

	res, err := f.svc.Claim(ctx, "child")
	require.NoError(t, err)
	assert.InDelta(t, 100, res.Amount, 1e-9)
	require.Len(t, res.Referrals, 2)
	assert.Equal(t, "parent", res.Referrals[0].ReferrerWallet)
	assert.True(t, res.Referrals[0].Paid)

	assert.InDelta(t, 2.5, f.balance(t, "parent").Oil, 1e-9)
	assert.InDelta(t, 1.25, f.balance(t, "grandparent").Oil, 1e-9)

	earnings, err := f.store.ListReferralEarnings(ctx, ledger.Query{})
	require.NoError(t, err)
	require.Len(t, earnings, 2)
	for _, e := range earnings {
		assert.Equal(t, res.ClaimID, e.SourceClaimID)
		assert.Equal(t, "child", e.ReferredWallet)
		assert.True(t, e.CreatedAt.Equal(testNow), "earning stamped %v", e.CreatedAt)
	}

	entries, err := f.store.ListEntries(ctx, ledger.Query{Kind: ledger.KindReferral})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.True(t, e.CreatedAt.Equal(testNow), "referral entry stamped %v", e.CreatedAt)
	}
}

// payoutFailStore rejects balance credits to one wallet.
type payoutFailStore struct {
	*memory.Store
	failWallet string
}

func (s *payoutFailStore) UpsertAdd(ctx context.Context, wallet string, field account.Field, delta float64) (account.Balance, error) {
	if wallet == s.failWallet {
		return account.Balance{}, errors.New("credit rejected")
	}
	return s.Store.UpsertAdd(ctx, wallet, field, delta)
}

func TestClaimReferralCascadePartialFailure(t *testing.T) {
	ctx := context.Background()
	store := &payoutFailStore{Store: memory.New()}
	svc, err := New(store, memory.NewGuard(), nil, config.DefaultEconomy(),
		Options{ClaimEpoch: testNow.Add(-time.Hour)}, logging.NewNop())
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow }

	for _, w := range []string{"grandparent", "parent", "child"} {
		_, err := svc.EnsureProfile(ctx, w)
		require.NoError(t, err)
	}
	_, err = store.SetReferrer(ctx, "parent", "grandparent")
	require.NoError(t, err)
	_, err = store.SetReferrer(ctx, "child", "parent")
	require.NoError(t, err)
	u := unit.New("c1", "child", unit.TierBeater, svc.eco.TierStats(unit.TierBeater), testNow)
	_, err = store.CreateUnits(ctx, []unit.Unit{u})
	require.NoError(t, err)
	require.NoError(t, store.SetEquipped(ctx, "child", []string{"c1"}))

	store.failWallet = "grandparent"
	res, err := svc.Claim(ctx, "child")
	require.NoError(t, err)
	assert.InDelta(t, 100, res.Amount, 1e-9)

	require.Len(t, res.Referrals, 2)
	assert.Equal(t, 1, res.Referrals[0].Generation)
	assert.Equal(t, "parent", res.Referrals[0].ReferrerWallet)
	assert.True(t, res.Referrals[0].Paid)
	assert.Equal(t, 2, res.Referrals[1].Generation)
	assert.Equal(t, "grandparent", res.Referrals[1].ReferrerWallet)
	assert.False(t, res.Referrals[1].Paid)

	parent, err := store.GetBalance(ctx, "parent")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, parent.Oil, 1e-9)
	grandparent, err := store.GetBalance(ctx, "grandparent")
	require.NoError(t, err)
	assert.Zero(t, grandparent.Oil)
	child, err := store.GetBalance(ctx, "child")
	require.NoError(t, err)
	assert.InDelta(t, 100, child.Oil, 1e-9)

	earnings, err := store.ListReferralEarnings(ctx, ledger.Query{})
	require.NoError(t, err)
	require.Len(t, earnings, 1)
	assert.Equal(t, "parent", earnings[0].ReferrerWallet)
	assert.Equal(t, res.ClaimID, earnings[0].SourceClaimID)
}

func TestOpenPackDailyLimitRejectsWholeBatch(t *testing.T) {
	f := newFixture(t, Options{Roller: fixedRoller(0)})
	ctx := context.Background()
	f.account(t, "alice", 0, 1000)

	used := make([]ledger.PackOpening, 9)
	for i := range used {
		used[i] = ledger.PackOpening{Wallet: "alice", PackType: "standard", Tier: unit.TierBeater, Cost: 100, CreatedAt: testNow.Add(-time.Hour)}
	}
	require.NoError(t, f.store.AppendPackOpenings(ctx, used))

	_, err := f.svc.OpenPack(ctx, "alice", "standard", 3)
	requireCode(t, err, svcerrors.CodeDailyLimitExceeded)
	assert.InDelta(t, 1000, f.balance(t, "alice").Bonds, 1e-9)
	units, err := f.store.ListUnits(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, units)

	res, err := f.svc.OpenPack(ctx, "alice", "standard", 1)
	require.NoError(t, err)
	assert.Equal(t, 10, res.DailyUsed)
	assert.InDelta(t, 900, res.Balance.Bonds, 1e-9)
	require.Len(t, res.Units, 1)
	assert.Equal(t, unit.TierBeater, res.Units[0].Tier)
}

func TestOpenPackValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.account(t, "alice", 0, 150)

	tests := []struct {
		name     string
		pack     string
		quantity int
		code     string
	}{
		{"unknown pack", "mythic", 1, svcerrors.CodePackNotFound},
		{"too many", "standard", MaxPackQuantity + 1, svcerrors.CodeInvalidInput},
		{"negative", "standard", -1, svcerrors.CodeInvalidInput},
		{"insufficient bonds", "standard", 2, svcerrors.CodeInsufficientFunds},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.OpenPack(ctx, "alice", tc.pack, tc.quantity)
			requireCode(t, err, tc.code)
		})
	}
	assert.InDelta(t, 150, f.balance(t, "alice").Bonds, 1e-9)
}

func TestOpenPackRecordsBondSplit(t *testing.T) {
	f := newFixture(t, Options{Roller: fixedRoller(0.995)})
	ctx := context.Background()
	f.account(t, "alice", 0, 300)

	res, err := f.svc.OpenPack(ctx, "alice", "premium", 1)
	require.NoError(t, err)
	assert.Equal(t, unit.TierPrototype, res.Units[0].Tier)

	totals, err := f.store.KindTotals(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -300, totals[ledger.KindPackSpend], 1e-9)
	assert.InDelta(t, 240, totals[ledger.KindBondBurn], 1e-9)
	assert.InDelta(t, 30, totals[ledger.KindBondReferralPool], 1e-9)
	assert.InDelta(t, 30, totals[ledger.KindBondTreasury], 1e-9)
	assert.InDelta(t, 1, totals[ledger.KindGrant], 1e-9)
}

func TestRecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("promoted", func(t *testing.T) {
		f := newFixture(t, Options{Roller: fixedRoller(0.1)})
		f.account(t, "alice", 0, 0)
		f.unit(t, "alice", "u1", unit.TierBeater)

		res, err := f.svc.Recycle(ctx, "alice", "u1")
		require.NoError(t, err)
		require.NotNil(t, res.Unit)
		assert.Equal(t, unit.TierStreet, res.Unit.Tier)
		assert.Equal(t, f.svc.eco.TierStats(unit.TierStreet).Fuel, res.Unit.Fuel)

		entries, err := f.store.ListEntries(ctx, ledger.Query{Wallet: "alice", Kind: ledger.KindRecycle})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].CreatedAt.Equal(testNow), "recycle entry stamped %v", entries[0].CreatedAt)
	})

	t.Run("burned", func(t *testing.T) {
		f := newFixture(t, Options{Roller: fixedRoller(0.5)})
		f.account(t, "alice", 0, 0)
		f.unit(t, "alice", "u1", unit.TierBeater)

		res, err := f.svc.Recycle(ctx, "alice", "u1")
		require.NoError(t, err)
		assert.Nil(t, res.Unit)
		_, err = f.store.GetUnit(ctx, "u1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("top tier rejected before the roll", func(t *testing.T) {
		f := newFixture(t, Options{Roller: fixedRoller(0.1)})
		f.account(t, "alice", 0, 0)
		f.unit(t, "alice", "u1", unit.TierGodspeed)

		_, err := f.svc.Recycle(ctx, "alice", "u1")
		requireCode(t, err, svcerrors.CodeMaxTier)
		_, err = f.store.GetUnit(ctx, "u1")
		assert.NoError(t, err)
	})

	t.Run("foreign unit", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.account(t, "alice", 0, 0)
		f.account(t, "bob", 0, 0)
		f.unit(t, "bob", "b1", unit.TierBeater)

		_, err := f.svc.Recycle(ctx, "alice", "b1")
		requireCode(t, err, svcerrors.CodeUnitNotFound)
	})
}

func TestTrain(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.account(t, "alice", 100, 0)
	f.unit(t, "alice", "u1", unit.TierBeater)

	res, err := f.svc.Train(ctx, "alice", "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ToLevel)
	assert.Equal(t, 2, res.LevelsGained)
	assert.InDelta(t, 50, res.Cost, 1e-9)
	assert.InDelta(t, 50, res.Balance.Oil, 1e-9)
	assert.InDelta(t, 6.0, res.Unit.GripPct, 1e-9)

	entries, err := f.store.ListEntries(ctx, ledger.Query{Wallet: "alice", Kind: ledger.KindTrainSpend})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CreatedAt.Equal(testNow), "train entry stamped %v", entries[0].CreatedAt)

	_, err = f.svc.Train(ctx, "alice", "u1", 1)
	requireCode(t, err, svcerrors.CodeMaxLevel)
	assert.InDelta(t, 50, f.balance(t, "alice").Oil, 1e-9)
}

func TestUpgradeProgression(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.account(t, "alice", 600, 0)

	res, err := f.svc.UpgradeProgression(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, res.ToLevel)
	assert.Equal(t, 5, res.Capacity)
	assert.InDelta(t, 100, res.Balance.Oil, 1e-9)

	_, err = f.svc.UpgradeProgression(ctx, "alice")
	requireCode(t, err, svcerrors.CodeCooldownActive)

	f.svc.now = func() time.Time { return testNow.Add(25 * time.Hour) }
	_, err = f.svc.UpgradeProgression(ctx, "alice")
	requireCode(t, err, svcerrors.CodeInsufficientFunds)

	acct, err := f.store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, acct.ProgressionLevel)
}

func TestUpgradeProgressionAtMax(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.store.CreateAccount(ctx, account.Account{Wallet: "whale", ProgressionLevel: 5})
	require.NoError(t, err)

	_, err = f.svc.UpgradeProgression(ctx, "whale")
	requireCode(t, err, svcerrors.CodeMaxProgression)
}

func TestEquip(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.account(t, "alice", 0, 0)
	f.account(t, "bob", 0, 0)
	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		f.unit(t, "alice", id, unit.TierBeater)
	}
	f.unit(t, "bob", "b1", unit.TierBeater)

	_, err := f.svc.Equip(ctx, "alice", []string{"a1", "a2", "a3", "a4"})
	requireCode(t, err, svcerrors.CodeCapacityExceeded)
	se, _ := svcerrors.As(err)
	assert.Equal(t, 3, se.Details["capacity"])

	_, err = f.svc.Equip(ctx, "alice", []string{"a1", "a1"})
	requireCode(t, err, svcerrors.CodeInvalidInput)

	_, err = f.svc.Equip(ctx, "alice", []string{"a1", "b1"})
	requireCode(t, err, svcerrors.CodeUnitNotFound)

	res, err := f.svc.Equip(ctx, "alice", []string{"a1", "a2", "a3"})
	require.NoError(t, err)
	assert.Len(t, res.Units, 3)
	assert.InDelta(t, 12.24, res.MotorPower, 1e-9)
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.VerifyPayment(ctx, "alice", "mock_tx1", "")
	require.NoError(t, err)
	assert.False(t, res.Pending)
	assert.Equal(t, verifier.StatusVerified, res.Status)
	assert.Len(t, res.Units, 3)
	assert.InDelta(t, 200, res.Balance.Bonds, 1e-9)

	acct, err := f.store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.Initialized)

	_, err = f.svc.VerifyPayment(ctx, "alice", "mock_tx1", "")
	requireCode(t, err, svcerrors.CodeDuplicate)
	assert.True(t, svcerrors.IsKind(err, svcerrors.KindDuplicate))
	assert.InDelta(t, 200, f.balance(t, "alice").Bonds, 1e-9)
}

func TestVerifyPaymentConcurrentSubmissions(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		settled    int
		duplicates int
		pending    int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.VerifyPayment(ctx, "alice", "mock_race", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Pending:
				pending++
			case err == nil:
				settled++
			case svcerrors.HasCode(err, svcerrors.CodeDuplicate):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Equal(t, 5, duplicates)
	assert.Zero(t, pending)
	assert.InDelta(t, 200, f.balance(t, "alice").Bonds, 1e-9)
}

// gatedVerifier holds the first Verify call until release is closed.
type gatedVerifier struct {
	next    PaymentVerifier
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedVerifier) Verify(ctx context.Context, req verifier.Request) (verifier.Verdict, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.next.Verify(ctx, req)
}

func TestVerifyPaymentSecondSubmissionWaitsForHolder(t *testing.T) {
	f := newFixture(t, Options{})
	gate := &gatedVerifier{next: f.svc.verifier, entered: make(chan struct{}), release: make(chan struct{})}
	f.svc.verifier = gate
	ctx := context.Background()

	type outcome struct {
		res PaymentResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := f.svc.VerifyPayment(ctx, "alice", "mock_held", "")
		first <- outcome{res, err}
	}()
	<-gate.entered

	second := make(chan outcome, 1)
	go func() {
		res, err := f.svc.VerifyPayment(ctx, "alice", "mock_held", "")
		second <- outcome{res, err}
	}()

	select {
	case <-second:
		t.Fatal("second submission returned while the first was still verifying")
	case <-time.After(100 * time.Millisecond):
	}
	close(gate.release)

	got := <-first
	require.NoError(t, got.err)
	assert.False(t, got.res.Pending)
	assert.Equal(t, verifier.StatusVerified, got.res.Status)

	got = <-second
	requireCode(t, got.err, svcerrors.CodeDuplicate)
	assert.InDelta(t, 200, f.balance(t, "alice").Bonds, 1e-9)
}

func TestVerifyPaymentWaitsOutPendingHolder(t *testing.T) {
	f := newFixture(t, Options{GuardTTL: 50 * time.Millisecond})
	f.svc.verifier = pendingVerifier{}
	ctx := context.Background()

	// A stale holder that never records the payment.
	ok, err := f.svc.guard.Acquire(ctx, "sig-held", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.svc.VerifyPayment(ctx, "alice", "sig-held", "")
	require.NoError(t, err)
	assert.True(t, res.Pending)
	assert.Equal(t, verifier.StatusPending, res.Status)

	require.NoError(t, f.svc.guard.Release(ctx, "sig-held"))
	res, err = f.svc.VerifyPayment(ctx, "alice", "sig-held", "")
	require.NoError(t, err)
	assert.True(t, res.Pending)
}

type pendingVerifier struct{}

func (pendingVerifier) Verify(_ context.Context, req verifier.Request) (verifier.Verdict, error) {
	return verifier.Verdict{Status: verifier.StatusPending, TxID: req.TxID, Cluster: req.Cluster}, nil
}

func TestVerifyPaymentPendingAppliesNothing(t *testing.T) {
	f := newFixture(t, Options{})
	f.svc.verifier = pendingVerifier{}
	ctx := context.Background()

	res, err := f.svc.VerifyPayment(ctx, "alice", "sig", "")
	require.NoError(t, err)
	assert.True(t, res.Pending)

	_, err = f.store.GetAccount(ctx, "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVerifyPaymentAttachesReferrer(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.account(t, "bob", 0, 0)

	res, err := f.svc.VerifyPayment(ctx, "alice", "mock_tx2", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", res.Referrer)

	res, err = f.svc.VerifyPayment(ctx, "carol", "mock_tx3", "nobody")
	require.NoError(t, err)
	assert.Empty(t, res.Referrer)
}

func TestVerifyPaymentMockDisabled(t *testing.T) {
	store := memory.New()
	pv := verifier.New(verifier.Config{}, store, logging.NewNop())
	svc, err := New(store, memory.NewGuard(), pv, nil, Options{}, logging.NewNop())
	require.NoError(t, err)

	_, err = svc.VerifyPayment(context.Background(), "alice", "mock_tx", "")
	requireCode(t, err, svcerrors.CodeInvalidInput)
}

func TestCaptureReferral(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.account(t, "alice", 0, 0)
	f.account(t, "bob", 0, 0)
	f.account(t, "carol", 0, 0)

	_, err := f.svc.CaptureReferral(ctx, "alice", "alice")
	requireCode(t, err, svcerrors.CodeInvalidInput)

	_, err = f.svc.CaptureReferral(ctx, "alice", "nobody")
	requireCode(t, err, svcerrors.CodeAccountNotFound)

	acct, err := f.svc.CaptureReferral(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", acct.ReferrerWallet)

	_, err = f.svc.CaptureReferral(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = f.svc.CaptureReferral(ctx, "alice", "carol")
	requireCode(t, err, svcerrors.CodeReferrerSet)
	se, _ := svcerrors.As(err)
	assert.Equal(t, 409, se.HTTPStatus)
}

// conflictStore loses the first n compare-and-swap writes.
type conflictStore struct {
	*memory.Store
	mu        sync.Mutex
	conflicts int
	attempts  int
}

func (s *conflictStore) SetAbsolute(ctx context.Context, wallet string, field account.Field, value float64, version int64) (account.Balance, error) {
	s.mu.Lock()
	s.attempts++
	lose := s.conflicts > 0
	if lose {
		s.conflicts--
	}
	s.mu.Unlock()
	if lose {
		return account.Balance{}, storage.ErrConflict
	}
	return s.Store.SetAbsolute(ctx, wallet, field, value, version)
}

func TestDebitRetriesVersionConflicts(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		conflicts int
		wantErr   bool
		attempts  int
	}{
		{"wins after retries", 2, false, 3},
		{"gives up", maxDebitAttempts, true, maxDebitAttempts},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &conflictStore{Store: memory.New(), conflicts: tc.conflicts}
			svc, err := New(store, nil, nil, nil, Options{}, logging.NewNop())
			require.NoError(t, err)
			_, err = store.UpsertAdd(ctx, "alice", account.FieldOil, 100)
			require.NoError(t, err)

			bal, err := svc.debit(ctx, "alice", account.FieldOil, 40)
			assert.Equal(t, tc.attempts, store.attempts)
			if tc.wantErr {
				assert.True(t, svcerrors.IsKind(err, svcerrors.KindInternal))
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, 60, bal.Oil, 1e-9)
		})
	}
}

func TestBalancesStatsAndLeaderboard(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.account(t, "alice", 0, 0)
	f.account(t, "bob", 0, 0)
	_, err := f.store.SetReferrer(ctx, "bob", "alice")
	require.NoError(t, err)
	f.unit(t, "alice", "a1", unit.TierStreet)
	require.NoError(t, f.store.SetEquipped(ctx, "alice", []string{"a1"}))

	_, err = f.svc.Claim(ctx, "alice")
	require.NoError(t, err)

	view, err := f.svc.Balances(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, view.Capacity)
	assert.Len(t, view.Equipped, 1)
	assert.InDelta(t, 12.36, view.MotorPower, 1e-9)

	board, err := f.svc.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, 1, board[0].Invites)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Players)
	assert.InDelta(t, 1000, stats.Totals[ledger.KindClaim], 1e-6)
	assert.NotEmpty(t, stats.Recent)

	claims, err := f.svc.AuditClaims(ctx, ledger.Query{Wallet: "alice", Kind: ledger.KindPayment})
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

func TestAttest(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.account(t, "alice", 0, 0)

	att, err := f.svc.Attest(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, att.Commitment)

	_, err = f.svc.Attest(ctx, "ghost")
	requireCode(t, err, svcerrors.CodeAccountNotFound)
}

func TestKeyedMutexDropsIdleKeys(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("w")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size())
}
