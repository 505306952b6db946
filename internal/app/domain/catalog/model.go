// Package catalog holds the configurable tables of the play economy.
package catalog

import (
	"fmt"
	"sort"
	"time"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
)

// Season is an emission period. Exactly one season is active at a time.
type Season struct {
	ID              string     `yaml:"id" json:"id"`
	Name            string     `yaml:"name" json:"name"`
	EmissionPerHour float64    `yaml:"emission_per_hour" json:"emission_per_hour"`
	StartsAt        time.Time  `yaml:"starts_at" json:"starts_at"`
	EndsAt          *time.Time `yaml:"ends_at,omitempty" json:"ends_at,omitempty"`
	Active          bool       `yaml:"active" json:"active"`
}

// ActiveAt reports whether the season covers t.
func (s Season) ActiveAt(t time.Time) bool {
	if !s.Active {
		return false
	}
	if !s.StartsAt.IsZero() && t.Before(s.StartsAt) {
		return false
	}
	if s.EndsAt != nil && !t.Before(*s.EndsAt) {
		return false
	}
	return true
}

// Odds is one weighted outcome of a pack.
type Odds struct {
	Tier      unit.Tier `yaml:"tier" json:"tier"`
	WeightPct float64   `yaml:"weight_pct" json:"weight_pct"`
}

// PackType describes a purchasable pack.
type PackType struct {
	ID          string  `yaml:"id" json:"id"`
	DisplayName string  `yaml:"display_name" json:"display_name"`
	CostBonds   float64 `yaml:"cost_bonds" json:"cost_bonds"`
	Odds        []Odds  `yaml:"odds" json:"odds"`
}

// Validate checks the odds table.
func (p PackType) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pack id required")
	}
	if p.CostBonds < 0 {
		return fmt.Errorf("pack %s: negative cost", p.ID)
	}
	if len(p.Odds) == 0 {
		return fmt.Errorf("pack %s: no odds configured", p.ID)
	}
	for _, o := range p.Odds {
		if !o.Tier.Valid() {
			return fmt.Errorf("pack %s: unknown tier %q", p.ID, o.Tier)
		}
		if o.WeightPct < 0 {
			return fmt.Errorf("pack %s: negative weight for %s", p.ID, o.Tier)
		}
	}
	return nil
}

// ProgressionLevel is one row of the account progression table.
// UpgradeCostOil is the price of reaching this level from the previous one.
type ProgressionLevel struct {
	Level          int     `yaml:"level" json:"level"`
	Capacity       int     `yaml:"capacity" json:"capacity"`
	DailyPackLimit int     `yaml:"daily_pack_limit" json:"daily_pack_limit"`
	UpgradeCostOil float64 `yaml:"upgrade_cost_oil" json:"upgrade_cost_oil"`
}

// ProgressionTable is sorted by level ascending.
type ProgressionTable []ProgressionLevel

// NewProgressionTable sorts levels and checks that capacity, limits and costs never decrease.
func NewProgressionTable(levels []ProgressionLevel) (ProgressionTable, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("progression table is empty")
	}
	t := make(ProgressionTable, len(levels))
	copy(t, levels)
	sort.Slice(t, func(i, j int) bool { return t[i].Level < t[j].Level })

	for i := 1; i < len(t); i++ {
		prev, cur := t[i-1], t[i]
		if cur.Level == prev.Level {
			return nil, fmt.Errorf("duplicate progression level %d", cur.Level)
		}
		if cur.Capacity < prev.Capacity || cur.DailyPackLimit < prev.DailyPackLimit {
			return nil, fmt.Errorf("progression level %d must not reduce capacity or daily limit", cur.Level)
		}
		if i > 1 && cur.UpgradeCostOil < prev.UpgradeCostOil {
			return nil, fmt.Errorf("progression level %d upgrade cost decreases", cur.Level)
		}
	}
	return t, nil
}

// Lookup returns the row for level.
func (t ProgressionTable) Lookup(level int) (ProgressionLevel, bool) {
	for _, l := range t {
		if l.Level == level {
			return l, true
		}
	}
	return ProgressionLevel{}, false
}

// Next returns the row following level.
func (t ProgressionTable) Next(level int) (ProgressionLevel, bool) {
	for _, l := range t {
		if l.Level > level {
			return l, true
		}
	}
	return ProgressionLevel{}, false
}

// Min returns the starting level.
func (t ProgressionTable) Min() ProgressionLevel {
	return t[0]
}
