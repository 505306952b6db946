// Package ledger defines the append-only records written by the settlement engine.
package ledger

import (
	"time"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/account"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindClaim        Kind = "claim"
	KindReferral     Kind = "referral"
	KindPayment      Kind = "payment"
	KindPackSpend    Kind = "pack_spend"
	KindTrainSpend   Kind = "train_spend"
	KindUpgradeSpend Kind = "upgrade_spend"

	// Informational kinds carry no balance field.
	KindGrant            Kind = "grant"
	KindRecycle          Kind = "recycle"
	KindBondBurn         Kind = "bond_burn"
	KindBondReferralPool Kind = "bond_referral_pool"
	KindBondTreasury     Kind = "bond_treasury"
)

// Entry is one immutable line of the audit log. Amount is signed: credits are
// positive, debits negative. Field is empty for informational entries.
type Entry struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	Wallet    string                 `json:"wallet"`
	Field     account.Field          `json:"field,omitempty"`
	Amount    float64                `json:"amount"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// AffectsBalance reports whether the entry explains a balance delta.
func (e Entry) AffectsBalance() bool {
	return e.Field != ""
}

// ClaimRecord is written once per successful reward claim. PreviousClaimAt
// names the record the elapsed time was measured from; it is unique per wallet.
type ClaimRecord struct {
	ID                  string    `db:"id" json:"id"`
	Wallet              string    `db:"wallet" json:"wallet"`
	SeasonID            string    `db:"season_id" json:"season_id"`
	Amount              float64   `db:"amount" json:"amount"`
	MotorPowerAtClaim   float64   `db:"motor_power_at_claim" json:"motor_power_at_claim"`
	NetworkSharePct     float64   `db:"network_share_pct" json:"network_share_pct"`
	HoursSinceLastClaim float64   `db:"hours_since_last_claim" json:"hours_since_last_claim"`
	PreviousClaimAt     time.Time `db:"previous_claim_at" json:"previous_claim_at"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// ReferralEarning is written once per cascade payout.
type ReferralEarning struct {
	ID             string    `db:"id" json:"id"`
	ReferrerWallet string    `db:"referrer_wallet" json:"referrer_wallet"`
	ReferredWallet string    `db:"referred_wallet" json:"referred_wallet"`
	Generation     int       `db:"generation" json:"generation"`
	Percentage     float64   `db:"percentage" json:"percentage"`
	Amount         float64   `db:"amount" json:"amount"`
	SourceClaimID  string    `db:"source_claim_id" json:"source_claim_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ProcessedPayment is the idempotency record for an external transaction.
type ProcessedPayment struct {
	TxID      string    `db:"tx_id" json:"tx_id"`
	Wallet    string    `db:"wallet" json:"wallet"`
	Amount    float64   `db:"amount" json:"amount"`
	Cluster   string    `db:"cluster" json:"cluster"`
	Method    string    `db:"method" json:"method"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PackOpening records one unit granted from a pack. Counting these per UTC day
// yields the daily grant counter.
type PackOpening struct {
	ID        string    `db:"id" json:"id"`
	Wallet    string    `db:"wallet" json:"wallet"`
	PackType  string    `db:"pack_type" json:"pack_type"`
	Tier      unit.Tier `db:"tier" json:"tier"`
	UnitID    string    `db:"unit_id" json:"unit_id"`
	Cost      float64   `db:"cost" json:"cost"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UpgradeRecord records a progression level upgrade. The latest one gates the cooldown.
type UpgradeRecord struct {
	ID        string    `db:"id" json:"id"`
	Wallet    string    `db:"wallet" json:"wallet"`
	FromLevel int       `db:"from_level" json:"from_level"`
	ToLevel   int       `db:"to_level" json:"to_level"`
	Cost      float64   `db:"cost" json:"cost"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DefaultQueryLimit and MaxQueryLimit bound audit queries.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Query filters audit collections. Zero values mean "no filter".
type Query struct {
	Wallet string
	Kind   Kind
	From   time.Time
	To     time.Time
	Limit  int
}

// Normalize clamps the limit into [1, MaxQueryLimit].
func (q Query) Normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	return q
}

// Matches reports whether a record with the given attributes passes the filter.
func (q Query) Matches(wallet string, kind Kind, at time.Time) bool {
	if q.Wallet != "" && q.Wallet != wallet {
		return false
	}
	if q.Kind != "" && q.Kind != kind {
		return false
	}
	if !q.From.IsZero() && at.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !at.Before(q.To) {
		return false
	}
	return true
}

// StartOfUTCDay returns midnight UTC of t's day.
func StartOfUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
