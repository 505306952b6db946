package economy

import (
	"math/rand"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/catalog"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
)

// Roller produces uniform draws in [0, 1).
type Roller interface {
	Float64() float64
}

type defaultRoller struct{}

func (defaultRoller) Float64() float64 { return rand.Float64() }

// DefaultRoller is safe for concurrent use.
var DefaultRoller Roller = defaultRoller{}

// SelectWeighted returns the first entry whose cumulative weight reaches roll,
// where roll is in [0, 100). The walk skips zero-weight entries. If the weights
// sum short of roll, odds[0] is returned whatever its weight, zero included.
// odds must not be empty.
func SelectWeighted(odds []catalog.Odds, roll float64) catalog.Odds {
	var cumulative float64
	for _, o := range odds {
		if o.WeightPct <= 0 {
			continue
		}
		cumulative += o.WeightPct
		if roll <= cumulative {
			return o
		}
	}
	return odds[0]
}

// GrantResolver draws tiers from weight tables.
type GrantResolver struct {
	roller Roller
}

// NewGrantResolver creates a resolver. A nil roller uses DefaultRoller.
func NewGrantResolver(roller Roller) *GrantResolver {
	if roller == nil {
		roller = DefaultRoller
	}
	return &GrantResolver{roller: roller}
}

// Resolve draws one tier from odds.
func (g *GrantResolver) Resolve(odds []catalog.Odds) unit.Tier {
	return SelectWeighted(odds, g.roller.Float64()*100).Tier
}

// ResolveBatch draws qty tiers independently.
func (g *GrantResolver) ResolveBatch(odds []catalog.Odds, qty int) []unit.Tier {
	tiers := make([]unit.Tier, qty)
	for i := range tiers {
		tiers[i] = g.Resolve(odds)
	}
	return tiers
}

// CheckDailyLimit rejects the whole batch when used+requested exceeds limit.
func CheckDailyLimit(used, requested, limit int) error {
	if used+requested > limit {
		return svcerrors.Limited(svcerrors.CodeDailyLimitExceeded, "daily pack limit reached").
			WithDetail("limit", limit).
			WithDetail("used", used).
			WithDetail("requested", requested)
	}
	return nil
}

// =============================================================================
// Recycle
// =============================================================================

// PromoteProbability is the chance a recycled unit advances a tier.
const PromoteProbability = 0.20

// Promotion multipliers applied to the recycled unit's stats.
const (
	PromoteHPFactor   = 1.5
	PromoteGripFactor = 1.3
)

// RecycleOutcome is the result of a recycle roll.
type RecycleOutcome string

const (
	RecyclePromoted RecycleOutcome = "promoted"
	RecycleBurned   RecycleOutcome = "burned"
)

// RecycleResult describes what happens to a recycled unit.
// Unit is the promoted unit; it is zero when the outcome is burned.
type RecycleResult struct {
	Outcome RecycleOutcome
	Roll    float64
	Unit    unit.Unit
}

// ResolveRecycle rejects top-tier units before drawing, then promotes with
// probability PromoteProbability. nextFuel returns the fuel of the successor tier.
func (g *GrantResolver) ResolveRecycle(u unit.Unit, nextFuel func(unit.Tier) float64) (RecycleResult, error) {
	next, ok := u.Tier.Next()
	if !ok {
		return RecycleResult{}, svcerrors.Precondition(svcerrors.CodeMaxTier, "unit is already at the top tier").
			WithDetail("tier", string(u.Tier))
	}

	roll := g.roller.Float64()
	if roll >= PromoteProbability {
		return RecycleResult{Outcome: RecycleBurned, Roll: roll}, nil
	}

	promoted := u
	promoted.Tier = next
	promoted.Level = 1
	promoted.HPBase = u.HPBase * PromoteHPFactor
	promoted.GripPct = u.GripPct * PromoteGripFactor
	if nextFuel != nil {
		promoted.Fuel = nextFuel(next)
	}
	return RecycleResult{Outcome: RecyclePromoted, Roll: roll, Unit: promoted}, nil
}
