package account

import "time"

// Field names a fungible balance column.
type Field string

const (
	// FieldOil is the primary spendable currency earned by claims.
	FieldOil Field = "oil"
	// FieldBonds is the secondary currency granted on payment and spent on packs.
	FieldBonds Field = "bonds"
)

// Valid reports whether f names a known balance field.
func (f Field) Valid() bool {
	return f == FieldOil || f == FieldBonds
}

// Account is a player identified by an external wallet address.
// The referrer link is immutable once set.
type Account struct {
	Wallet           string    `db:"wallet" json:"wallet"`
	ReferrerWallet   string    `db:"referrer_wallet" json:"referrer_wallet,omitempty"`
	ProgressionLevel int       `db:"progression_level" json:"progression_level"`
	Initialized      bool      `db:"initialized" json:"initialized"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// HasReferrer reports whether a referrer has been attached.
func (a Account) HasReferrer() bool {
	return a.ReferrerWallet != ""
}

// Balance holds the mutable currency fields of one account.
// Version increments on every write and backs compare-and-swap debits.
type Balance struct {
	Wallet    string    `db:"wallet" json:"wallet"`
	Oil       float64   `db:"oil" json:"oil"`
	Bonds     float64   `db:"bonds" json:"bonds"`
	Version   int64     `db:"version" json:"version"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Get returns the value of field f.
func (b Balance) Get(f Field) float64 {
	switch f {
	case FieldOil:
		return b.Oil
	case FieldBonds:
		return b.Bonds
	default:
		return 0
	}
}

// Set assigns value to field f.
func (b *Balance) Set(f Field, value float64) {
	switch f {
	case FieldOil:
		b.Oil = value
	case FieldBonds:
		b.Bonds = value
	}
}
