package economy

import (
	"math"
	"time"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
)

// TrainCostPerLevel scales the per-level training cost.
const TrainCostPerLevel = 10

// TrainGripBonusPct is added to grip_pct for every level gained by training.
const TrainGripBonusPct = 2

// UpgradeCooldown separates two progression upgrades of one account.
const UpgradeCooldown = 24 * time.Hour

// TrainQuote is the priced result of a training request.
type TrainQuote struct {
	FromLevel    int
	ToLevel      int
	LevelsGained int
	Cost         float64
}

// TrainCost returns Σ_{i=1..levels} 10*(from+i), truncated where from+i would
// exceed unit.MaxLevel. A unit already at the maximum is rejected.
func TrainCost(fromLevel, levelsToGain int) (TrainQuote, error) {
	if fromLevel < 1 || fromLevel > unit.MaxLevel {
		return TrainQuote{}, svcerrors.Validation("level out of range").WithDetail("level", fromLevel)
	}
	if levelsToGain < 1 {
		return TrainQuote{}, svcerrors.Validation("levels must be at least 1").WithDetail("levels", levelsToGain)
	}
	if fromLevel == unit.MaxLevel {
		return TrainQuote{}, svcerrors.Precondition(svcerrors.CodeMaxLevel, "unit is already at the maximum level").
			WithDetail("level", fromLevel).
			WithDetail("max_level", unit.MaxLevel)
	}

	q := TrainQuote{FromLevel: fromLevel, ToLevel: fromLevel}
	for i := 1; i <= levelsToGain; i++ {
		next := fromLevel + i
		if next > unit.MaxLevel {
			break
		}
		q.Cost += float64(TrainCostPerLevel * next)
		q.ToLevel = next
		q.LevelsGained++
	}
	return q, nil
}

// CheckUpgradeCooldown rejects an upgrade attempted within UpgradeCooldown of the last one.
// A nil lastUpgrade means the account never upgraded.
func CheckUpgradeCooldown(lastUpgrade *time.Time, now time.Time) error {
	if lastUpgrade == nil {
		return nil
	}
	elapsed := now.Sub(*lastUpgrade)
	if elapsed >= UpgradeCooldown {
		return nil
	}
	remaining := (UpgradeCooldown - elapsed).Hours()
	return svcerrors.Limited(svcerrors.CodeCooldownActive, "progression upgrade is on cooldown").
		WithDetail("hours_remaining", math.Ceil(remaining*100)/100).
		WithDetail("cooldown_hours", UpgradeCooldown.Hours())
}

// CheckFunds returns an insufficient-funds precondition error when have < need.
func CheckFunds(field string, need, have float64) error {
	if have >= need {
		return nil
	}
	return svcerrors.Precondition(svcerrors.CodeInsufficientFunds, "insufficient "+field).
		WithDetail("currency", field).
		WithDetail("need", RoundTo(need, 2)).
		WithDetail("have", RoundTo(have, 2)).
		WithDetail("shortfall", RoundTo(need-have, 2))
}
