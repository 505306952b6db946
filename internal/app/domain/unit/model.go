// Package unit models owned productive items and their motor power.
package unit

import (
	"fmt"
	"time"
)

// Tier is the ordered rarity class of a unit.
type Tier string

const (
	TierBeater    Tier = "beater"
	TierStreet    Tier = "street"
	TierSport     Tier = "sport"
	TierSupercar  Tier = "supercar"
	TierHypercar  Tier = "hypercar"
	TierPrototype Tier = "prototype"
	TierGodspeed  Tier = "godspeed"
)

// MaxLevel is the highest level a unit can reach within its tier.
const MaxLevel = 3

// Tiers lists every tier from lowest to highest.
var Tiers = []Tier{
	TierBeater,
	TierStreet,
	TierSport,
	TierSupercar,
	TierHypercar,
	TierPrototype,
	TierGodspeed,
}

// Rank returns the position of t in the tier ordering, or -1 if unknown.
func (t Tier) Rank() int {
	for i, tier := range Tiers {
		if tier == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

// Next returns the successor tier. The top tier has none.
func (t Tier) Next() (Tier, bool) {
	r := t.Rank()
	if r < 0 || r == len(Tiers)-1 {
		return "", false
	}
	return Tiers[r+1], true
}

// IsMax reports whether t is the top tier.
func (t Tier) IsMax() bool {
	return t == Tiers[len(Tiers)-1]
}

// ParseTier converts a string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Stats are the base attributes a freshly minted unit of a tier receives.
type Stats struct {
	HPBase  float64 `yaml:"hp_base" json:"hp_base"`
	Fuel    float64 `yaml:"fuel" json:"fuel"`
	GripPct float64 `yaml:"grip_pct" json:"grip_pct"`
}

// Unit is an owned item.
type Unit struct {
	ID        string    `db:"id" json:"id"`
	Wallet    string    `db:"wallet" json:"wallet"`
	Tier      Tier      `db:"tier" json:"tier"`
	Level     int       `db:"level" json:"level"`
	HPBase    float64   `db:"hp_base" json:"hp_base"`
	Fuel      float64   `db:"fuel" json:"fuel"`
	GripPct   float64   `db:"grip_pct" json:"grip_pct"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// New mints a level-1 unit with the given base stats.
func New(id, wallet string, tier Tier, stats Stats, now time.Time) Unit {
	return Unit{
		ID:        id,
		Wallet:    wallet,
		Tier:      tier,
		Level:     1,
		HPBase:    stats.HPBase,
		Fuel:      stats.Fuel,
		GripPct:   stats.GripPct,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LevelMultipliers scale hp_base by unit level.
type LevelMultipliers map[int]float64

// DefaultLevelMultipliers are the multipliers for levels 1..3.
func DefaultLevelMultipliers() LevelMultipliers {
	return LevelMultipliers{1: 1.00, 2: 1.15, 3: 1.30}
}

// For returns the multiplier for level, defaulting to 1.
func (m LevelMultipliers) For(level int) float64 {
	if v, ok := m[level]; ok {
		return v
	}
	return 1
}

// MotorPower returns hp_base * levelMultiplier(level) * (1 + grip_pct/100).
func (u Unit) MotorPower(mults LevelMultipliers) float64 {
	return u.HPBase * mults.For(u.Level) * (1 + u.GripPct/100)
}

// TotalMotorPower sums the motor power of units.
func TotalMotorPower(units []Unit, mults LevelMultipliers) float64 {
	var total float64
	for _, u := range units {
		total += u.MotorPower(mults)
	}
	return total
}
