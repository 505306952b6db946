package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/account"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
	"github.com/R3E-Network/settlement_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	accounts  map[string]account.Account
	balances  map[string]account.Balance
	units     map[string]unit.Unit
	equipped  map[string][]string
	entries   []ledger.Entry
	claims    []ledger.ClaimRecord
	claimKeys map[string]bool
	referrals []ledger.ReferralEarning
	payments  map[string]ledger.ProcessedPayment
	openings  []ledger.PackOpening
	upgrades  []ledger.UpgradeRecord
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		now:       func() time.Time { return time.Now().UTC() },
		accounts:  make(map[string]account.Account),
		balances:  make(map[string]account.Balance),
		units:     make(map[string]unit.Unit),
		equipped:  make(map[string][]string),
		claimKeys: make(map[string]bool),
		payments:  make(map[string]ledger.ProcessedPayment),
	}
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acct.Wallet]; exists {
		return account.Account{}, storage.ErrDuplicate
	}
	now := s.now()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	s.accounts[acct.Wallet] = acct
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, wallet string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[wallet]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (s *Store) MarkInitialized(_ context.Context, wallet string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[wallet]
	if !ok {
		return false, storage.ErrNotFound
	}
	if acct.Initialized {
		return false, nil
	}
	acct.Initialized = true
	acct.UpdatedAt = s.now()
	s.accounts[wallet] = acct
	return true, nil
}

func (s *Store) SetReferrer(_ context.Context, wallet, referrer string) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[wallet]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	switch acct.ReferrerWallet {
	case referrer:
		return acct, nil
	case "":
		acct.ReferrerWallet = referrer
		acct.UpdatedAt = s.now()
		s.accounts[wallet] = acct
		return acct, nil
	default:
		return acct, storage.ErrConflict
	}
}

func (s *Store) SetProgressionLevel(_ context.Context, wallet string, from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[wallet]
	if !ok {
		return storage.ErrNotFound
	}
	if acct.ProgressionLevel != from {
		return storage.ErrConflict
	}
	acct.ProgressionLevel = to
	acct.UpdatedAt = s.now()
	s.accounts[wallet] = acct
	return nil
}

func (s *Store) CountAccounts(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts), nil
}

func (s *Store) CountReferred(_ context.Context, referrer string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, acct := range s.accounts {
		if acct.ReferrerWallet == referrer {
			n++
		}
	}
	return n, nil
}

// --- BalanceStore -----------------------------------------------------------

func (s *Store) GetBalance(_ context.Context, wallet string) (account.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal, ok := s.balances[wallet]
	if !ok {
		return account.Balance{}, storage.ErrNotFound
	}
	return bal, nil
}

func (s *Store) UpsertAdd(_ context.Context, wallet string, field account.Field, delta float64) (account.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[wallet]
	if !ok {
		bal = account.Balance{Wallet: wallet}
	}
	bal.Set(field, bal.Get(field)+delta)
	bal.Version++
	bal.UpdatedAt = s.now()
	s.balances[wallet] = bal
	return bal, nil
}

func (s *Store) SetAbsolute(_ context.Context, wallet string, field account.Field, value float64, expectedVersion int64) (account.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[wallet]
	if !ok {
		return account.Balance{}, storage.ErrNotFound
	}
	if bal.Version != expectedVersion {
		return account.Balance{}, storage.ErrConflict
	}
	bal.Set(field, value)
	bal.Version++
	bal.UpdatedAt = s.now()
	s.balances[wallet] = bal
	return bal, nil
}

func (s *Store) ListBalances(_ context.Context) ([]account.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]account.Balance, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out, nil
}

// --- UnitStore --------------------------------------------------------------

func (s *Store) CreateUnits(_ context.Context, units []unit.Unit) ([]unit.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]unit.Unit, len(units))
	for i, u := range units {
		if u.ID == "" {
			u.ID = uuid.NewString()
		} else if _, exists := s.units[u.ID]; exists {
			return nil, storage.ErrDuplicate
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		u.UpdatedAt = now
		s.units[u.ID] = u
		out[i] = u
	}
	return out, nil
}

func (s *Store) GetUnit(_ context.Context, id string) (unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.units[id]
	if !ok {
		return unit.Unit{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) UpdateUnit(_ context.Context, u unit.Unit) (unit.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.units[u.ID]
	if !ok {
		return unit.Unit{}, storage.ErrNotFound
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = s.now()
	s.units[u.ID] = u
	return u, nil
}

func (s *Store) DeleteUnit(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.units, id)

	slots := s.equipped[u.Wallet]
	kept := slots[:0:0]
	for _, sid := range slots {
		if sid != id {
			kept = append(kept, sid)
		}
	}
	s.equipped[u.Wallet] = kept
	return nil
}

func (s *Store) ListUnits(_ context.Context, wallet string) ([]unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []unit.Unit
	for _, u := range s.units {
		if u.Wallet == wallet {
			out = append(out, u)
		}
	}
	sortUnits(out)
	return out, nil
}

func (s *Store) SetEquipped(_ context.Context, wallet string, unitIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range unitIDs {
		u, ok := s.units[id]
		if !ok || u.Wallet != wallet {
			return storage.ErrNotFound
		}
	}
	s.equipped[wallet] = append([]string(nil), unitIDs...)
	return nil
}

func (s *Store) ListEquipped(_ context.Context, wallet string) ([]unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.equippedLocked(wallet), nil
}

func (s *Store) ListAllEquipped(_ context.Context) ([]unit.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []unit.Unit
	for wallet := range s.equipped {
		out = append(out, s.equippedLocked(wallet)...)
	}
	sortUnits(out)
	return out, nil
}

func (s *Store) equippedLocked(wallet string) []unit.Unit {
	var out []unit.Unit
	for _, id := range s.equipped[wallet] {
		if u, ok := s.units[id]; ok {
			out = append(out, u)
		}
	}
	return out
}

func sortUnits(units []unit.Unit) {
	sort.Slice(units, func(i, j int) bool {
		if units[i].CreatedAt.Equal(units[j].CreatedAt) {
			return units[i].ID < units[j].ID
		}
		return units[i].CreatedAt.Before(units[j].CreatedAt)
	})
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) AppendEntries(_ context.Context, entries ...ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.Meta = cloneMeta(e.Meta)
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *Store) ListEntries(_ context.Context, q ledger.Query) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q = q.Normalize()
	var out []ledger.Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < q.Limit; i-- {
		e := s.entries[i]
		if q.Matches(e.Wallet, e.Kind, e.CreatedAt) {
			e.Meta = cloneMeta(e.Meta)
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) BalanceTotals(_ context.Context) (map[string]account.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]account.Balance)
	for _, e := range s.entries {
		if !e.AffectsBalance() {
			continue
		}
		b := out[e.Wallet]
		b.Wallet = e.Wallet
		b.Set(e.Field, b.Get(e.Field)+e.Amount)
		out[e.Wallet] = b
	}
	return out, nil
}

func (s *Store) KindTotals(_ context.Context) (map[ledger.Kind]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[ledger.Kind]float64)
	for _, e := range s.entries {
		out[e.Kind] += e.Amount
	}
	return out, nil
}

func cloneMeta(src map[string]interface{}) map[string]interface{} {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// --- ClaimStore -------------------------------------------------------------

func claimKey(wallet string, prev time.Time) string {
	return wallet + "|" + prev.UTC().Format(time.RFC3339Nano)
}

func (s *Store) AppendClaim(_ context.Context, c ledger.ClaimRecord) (ledger.ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := claimKey(c.Wallet, c.PreviousClaimAt)
	if s.claimKeys[key] {
		return ledger.ClaimRecord{}, storage.ErrDuplicate
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.claimKeys[key] = true
	s.claims = append(s.claims, c)
	return c, nil
}

func (s *Store) LastClaim(_ context.Context, wallet string) (ledger.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		last  ledger.ClaimRecord
		found bool
	)
	for _, c := range s.claims {
		if c.Wallet == wallet && (!found || c.CreatedAt.After(last.CreatedAt)) {
			last = c
			found = true
		}
	}
	if !found {
		return ledger.ClaimRecord{}, storage.ErrNotFound
	}
	return last, nil
}

func (s *Store) ListClaims(_ context.Context, q ledger.Query) ([]ledger.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q = q.Normalize()
	var out []ledger.ClaimRecord
	for i := len(s.claims) - 1; i >= 0 && len(out) < q.Limit; i-- {
		c := s.claims[i]
		if q.Matches(c.Wallet, "", c.CreatedAt) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) TopClaimers(_ context.Context, limit int) ([]storage.ClaimTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]*storage.ClaimTotal)
	for _, c := range s.claims {
		t, ok := totals[c.Wallet]
		if !ok {
			t = &storage.ClaimTotal{Wallet: c.Wallet}
			totals[c.Wallet] = t
		}
		t.Total += c.Amount
		t.Claims++
	}
	for _, acct := range s.accounts {
		if t, ok := totals[acct.ReferrerWallet]; ok {
			t.Invites++
		}
	}

	out := make([]storage.ClaimTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total == out[j].Total {
			return out[i].Wallet < out[j].Wallet
		}
		return out[i].Total > out[j].Total
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- ReferralStore ----------------------------------------------------------

func (s *Store) AppendReferralEarning(_ context.Context, e ledger.ReferralEarning) (ledger.ReferralEarning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.referrals = append(s.referrals, e)
	return e, nil
}

func (s *Store) ListReferralEarnings(_ context.Context, q ledger.Query) ([]ledger.ReferralEarning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q = q.Normalize()
	var out []ledger.ReferralEarning
	for i := len(s.referrals) - 1; i >= 0 && len(out) < q.Limit; i-- {
		e := s.referrals[i]
		if q.Matches(e.ReferrerWallet, "", e.CreatedAt) {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- PaymentStore -----------------------------------------------------------

func (s *Store) InsertProcessedPayment(_ context.Context, p ledger.ProcessedPayment) (ledger.ProcessedPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.TxID]; exists {
		return ledger.ProcessedPayment{}, storage.ErrDuplicate
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.payments[p.TxID] = p
	return p, nil
}

func (s *Store) GetProcessedPayment(_ context.Context, txID string) (ledger.ProcessedPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[txID]
	if !ok {
		return ledger.ProcessedPayment{}, storage.ErrNotFound
	}
	return p, nil
}

// --- GrantStore -------------------------------------------------------------

func (s *Store) AppendPackOpenings(_ context.Context, openings []ledger.PackOpening) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, o := range openings {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		s.openings = append(s.openings, o)
	}
	return nil
}

func (s *Store) CountPackOpeningsSince(_ context.Context, wallet string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, o := range s.openings {
		if o.Wallet == wallet && !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendUpgrade(_ context.Context, r ledger.UpgradeRecord) (ledger.UpgradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.upgrades = append(s.upgrades, r)
	return r, nil
}

func (s *Store) LastUpgrade(_ context.Context, wallet string) (ledger.UpgradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		last  ledger.UpgradeRecord
		found bool
	)
	for _, r := range s.upgrades {
		if r.Wallet == wallet && (!found || r.CreatedAt.After(last.CreatedAt)) {
			last = r
			found = true
		}
	}
	if !found {
		return ledger.UpgradeRecord{}, storage.ErrNotFound
	}
	return last, nil
}
