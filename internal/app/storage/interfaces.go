package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/account"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a conditional update lost a race.
	ErrConflict = errors.New("storage: conflict")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("storage: duplicate")
)

// AccountStore persists player accounts.
type AccountStore interface {
	// CreateAccount inserts a new account, returning ErrDuplicate if the wallet exists.
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, wallet string) (account.Account, error)
	// MarkInitialized flips the initialized flag once. It reports whether this call flipped it.
	MarkInitialized(ctx context.Context, wallet string) (bool, error)
	// SetReferrer attaches a referrer if none is set. A different existing
	// referrer yields ErrConflict; the same referrer is a no-op.
	SetReferrer(ctx context.Context, wallet, referrer string) (account.Account, error)
	// SetProgressionLevel moves an account from one level to the next, returning
	// ErrConflict if the stored level is not from.
	SetProgressionLevel(ctx context.Context, wallet string, from, to int) error
	CountAccounts(ctx context.Context) (int, error)
	CountReferred(ctx context.Context, referrer string) (int, error)
}

// BalanceStore persists fungible balances.
type BalanceStore interface {
	// GetBalance returns ErrNotFound when the wallet has no balance row.
	GetBalance(ctx context.Context, wallet string) (account.Balance, error)
	// UpsertAdd atomically adds delta to field, creating the row if needed.
	UpsertAdd(ctx context.Context, wallet string, field account.Field, delta float64) (account.Balance, error)
	// SetAbsolute writes value to field only if the row is still at expectedVersion,
	// returning ErrConflict otherwise. Used for debits already validated against
	// the balance read at that version.
	SetAbsolute(ctx context.Context, wallet string, field account.Field, value float64, expectedVersion int64) (account.Balance, error)
	ListBalances(ctx context.Context) ([]account.Balance, error)
}

// UnitStore persists owned units and the equipped set.
type UnitStore interface {
	CreateUnits(ctx context.Context, units []unit.Unit) ([]unit.Unit, error)
	GetUnit(ctx context.Context, id string) (unit.Unit, error)
	UpdateUnit(ctx context.Context, u unit.Unit) (unit.Unit, error)
	// DeleteUnit removes the unit and unequips it.
	DeleteUnit(ctx context.Context, id string) error
	ListUnits(ctx context.Context, wallet string) ([]unit.Unit, error)
	// SetEquipped replaces the equipped set of wallet.
	SetEquipped(ctx context.Context, wallet string, unitIDs []string) error
	ListEquipped(ctx context.Context, wallet string) ([]unit.Unit, error)
	ListAllEquipped(ctx context.Context) ([]unit.Unit, error)
}

// LedgerStore is the append-only audit log.
type LedgerStore interface {
	AppendEntries(ctx context.Context, entries ...ledger.Entry) error
	ListEntries(ctx context.Context, q ledger.Query) ([]ledger.Entry, error)
	// BalanceTotals sums balance-affecting entries per wallet and field.
	BalanceTotals(ctx context.Context) (map[string]account.Balance, error)
	// KindTotals sums entry amounts per kind.
	KindTotals(ctx context.Context) (map[ledger.Kind]float64, error)
}

// ClaimTotal is a leaderboard row.
type ClaimTotal struct {
	Wallet  string
	Total   float64
	Claims  int
	Invites int
}

// ClaimStore persists reward claims.
type ClaimStore interface {
	// AppendClaim inserts a claim, returning ErrDuplicate if another claim for the
	// wallet was already computed from the same PreviousClaimAt.
	AppendClaim(ctx context.Context, c ledger.ClaimRecord) (ledger.ClaimRecord, error)
	LastClaim(ctx context.Context, wallet string) (ledger.ClaimRecord, error)
	ListClaims(ctx context.Context, q ledger.Query) ([]ledger.ClaimRecord, error)
	TopClaimers(ctx context.Context, limit int) ([]ClaimTotal, error)
}

// ReferralStore persists cascade payouts.
type ReferralStore interface {
	AppendReferralEarning(ctx context.Context, e ledger.ReferralEarning) (ledger.ReferralEarning, error)
	// ListReferralEarnings filters by referrer wallet when q.Wallet is set.
	ListReferralEarnings(ctx context.Context, q ledger.Query) ([]ledger.ReferralEarning, error)
}

// PaymentStore persists processed external payments.
type PaymentStore interface {
	// InsertProcessedPayment is the idempotency gate: it returns ErrDuplicate
	// if the transaction id was already recorded.
	InsertProcessedPayment(ctx context.Context, p ledger.ProcessedPayment) (ledger.ProcessedPayment, error)
	GetProcessedPayment(ctx context.Context, txID string) (ledger.ProcessedPayment, error)
}

// GrantStore persists pack openings and progression upgrades.
type GrantStore interface {
	AppendPackOpenings(ctx context.Context, openings []ledger.PackOpening) error
	CountPackOpeningsSince(ctx context.Context, wallet string, since time.Time) (int, error)
	AppendUpgrade(ctx context.Context, r ledger.UpgradeRecord) (ledger.UpgradeRecord, error)
	LastUpgrade(ctx context.Context, wallet string) (ledger.UpgradeRecord, error)
}

// Store aggregates every persistence concern of the settlement engine.
type Store interface {
	AccountStore
	BalanceStore
	UnitStore
	LedgerStore
	ClaimStore
	ReferralStore
	PaymentStore
	GrantStore
}

// InFlightGuard marks an external transaction as being verified so concurrent
// submissions of the same id short-circuit to pending instead of polling twice.
type InFlightGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
