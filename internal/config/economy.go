package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/catalog"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
)

// Economy holds the tunable tables of the play economy.
type Economy struct {
	Tiers            map[unit.Tier]unit.Stats   `yaml:"tiers"`
	LevelMultipliers unit.LevelMultipliers      `yaml:"level_multipliers"`
	Packs            []catalog.PackType         `yaml:"packs"`
	Progression      []catalog.ProgressionLevel `yaml:"progression"`
	Seasons          []catalog.Season           `yaml:"seasons"`
	StarterUnits     int                        `yaml:"starter_units"`
	StarterBonds     float64                    `yaml:"starter_bonds"`
}

// LoadEconomy reads and validates the economy tables at path.
func LoadEconomy(path string) (*Economy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read economy config: %w", err)
	}

	var eco Economy
	if err := yaml.Unmarshal(data, &eco); err != nil {
		return nil, fmt.Errorf("failed to parse economy config: %w", err)
	}
	if err := eco.Validate(); err != nil {
		return nil, fmt.Errorf("invalid economy config %s: %w", path, err)
	}
	return &eco, nil
}

// LoadEconomyOrDefault loads path or returns DefaultEconomy if the file does
// not exist. A present but invalid file is still an error.
func LoadEconomyOrDefault(path string) (*Economy, error) {
	if path == "" {
		return DefaultEconomy(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultEconomy(), nil
	}
	return LoadEconomy(path)
}

// Validate checks that every table is complete and consistent.
func (e *Economy) Validate() error {
	for _, t := range unit.Tiers {
		stats, ok := e.Tiers[t]
		if !ok {
			return fmt.Errorf("tier %s: stats missing", t)
		}
		if stats.HPBase <= 0 {
			return fmt.Errorf("tier %s: hp_base must be positive", t)
		}
	}
	for tier := range e.Tiers {
		if !tier.Valid() {
			return fmt.Errorf("unknown tier %q", tier)
		}
	}
	for level := 1; level <= unit.MaxLevel; level++ {
		if m, ok := e.LevelMultipliers[level]; !ok || m <= 0 {
			return fmt.Errorf("level multiplier for level %d missing", level)
		}
	}
	if len(e.Packs) == 0 {
		return fmt.Errorf("no pack types configured")
	}
	seen := make(map[string]bool, len(e.Packs))
	for _, p := range e.Packs {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate pack type %s", p.ID)
		}
		seen[p.ID] = true
	}
	if _, err := catalog.NewProgressionTable(e.Progression); err != nil {
		return err
	}
	if len(e.Seasons) == 0 {
		return fmt.Errorf("no seasons configured")
	}
	for _, s := range e.Seasons {
		if s.ID == "" || s.EmissionPerHour <= 0 {
			return fmt.Errorf("season %q: id and positive emission_per_hour required", s.ID)
		}
	}
	if e.StarterUnits < 0 || e.StarterBonds < 0 {
		return fmt.Errorf("starter grant must not be negative")
	}
	return nil
}

// Pack returns the pack type with id.
func (e *Economy) Pack(id string) (catalog.PackType, bool) {
	for _, p := range e.Packs {
		if p.ID == id {
			return p, true
		}
	}
	return catalog.PackType{}, false
}

// ActiveSeason returns the first season active at now.
func (e *Economy) ActiveSeason(now time.Time) (catalog.Season, bool) {
	for _, s := range e.Seasons {
		if s.ActiveAt(now) {
			return s, true
		}
	}
	return catalog.Season{}, false
}

// TierStats returns the base stats of tier.
func (e *Economy) TierStats(tier unit.Tier) unit.Stats {
	return e.Tiers[tier]
}

// DefaultEconomy returns the built-in economy tables.
func DefaultEconomy() *Economy {
	return &Economy{
		Tiers: map[unit.Tier]unit.Stats{
			unit.TierBeater:    {HPBase: 4, Fuel: 2, GripPct: 2.0},
			unit.TierStreet:    {HPBase: 12, Fuel: 4, GripPct: 3.0},
			unit.TierSport:     {HPBase: 36, Fuel: 8, GripPct: 4.5},
			unit.TierSupercar:  {HPBase: 108, Fuel: 16, GripPct: 6.75},
			unit.TierHypercar:  {HPBase: 324, Fuel: 32, GripPct: 10.125},
			unit.TierPrototype: {HPBase: 972, Fuel: 64, GripPct: 15.1875},
			unit.TierGodspeed:  {HPBase: 2916, Fuel: 128, GripPct: 22.78125},
		},
		LevelMultipliers: unit.DefaultLevelMultipliers(),
		Packs: []catalog.PackType{
			{
				ID:          "standard",
				DisplayName: "Standard Crate",
				CostBonds:   100,
				Odds: []catalog.Odds{
					{Tier: unit.TierBeater, WeightPct: 60},
					{Tier: unit.TierStreet, WeightPct: 25},
					{Tier: unit.TierSport, WeightPct: 10},
					{Tier: unit.TierSupercar, WeightPct: 4},
					{Tier: unit.TierHypercar, WeightPct: 1},
				},
			},
			{
				ID:          "premium",
				DisplayName: "Premium Crate",
				CostBonds:   300,
				Odds: []catalog.Odds{
					{Tier: unit.TierStreet, WeightPct: 50},
					{Tier: unit.TierSport, WeightPct: 30},
					{Tier: unit.TierSupercar, WeightPct: 15},
					{Tier: unit.TierHypercar, WeightPct: 4},
					{Tier: unit.TierPrototype, WeightPct: 1},
				},
			},
		},
		Progression: []catalog.ProgressionLevel{
			{Level: 1, Capacity: 3, DailyPackLimit: 10, UpgradeCostOil: 0},
			{Level: 2, Capacity: 5, DailyPackLimit: 15, UpgradeCostOil: 500},
			{Level: 3, Capacity: 8, DailyPackLimit: 20, UpgradeCostOil: 1500},
			{Level: 4, Capacity: 12, DailyPackLimit: 30, UpgradeCostOil: 4000},
			{Level: 5, Capacity: 20, DailyPackLimit: 50, UpgradeCostOil: 10000},
		},
		Seasons: []catalog.Season{
			{ID: "season-1", Name: "Season 1", EmissionPerHour: 100, Active: true},
		},
		StarterUnits: 3,
		StarterBonds: 200,
	}
}
