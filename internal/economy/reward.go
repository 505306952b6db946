// Package economy implements the pure settlement math: reward accrual, referral
// cascades, weighted grants, recycle rolls, cost curves and claim attestations.
// Nothing in this package touches storage; callers inject state through arguments
// and read-only interfaces.
package economy

import (
	"time"

	"github.com/shopspring/decimal"

	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
)

// MinClaimHours is the elapsed-time floor below which a claim is rejected.
const MinClaimHours = 0.01

// RewardInput carries everything the reward formula depends on.
type RewardInput struct {
	UserMotorPower    float64
	NetworkMotorPower float64
	EmissionPerHour   float64
	LastClaimAt       time.Time
	Now               time.Time
}

// Reward is a computed, not yet applied, claim.
type Reward struct {
	Amount            float64
	HoursElapsed      float64
	SharePct          float64
	NetworkMotorPower float64
}

// ComputeClaimable returns (user / max(network, 1)) * emission * hours.
func ComputeClaimable(userMotorPower, networkMotorPower, emissionPerHour, hoursElapsed float64) float64 {
	return userMotorPower / effectiveNetwork(networkMotorPower) * emissionPerHour * hoursElapsed
}

// CalculateReward validates the claim preconditions and computes the reward.
// The elapsed-time floor is checked first, then motor power.
func CalculateReward(in RewardInput) (Reward, error) {
	hours := in.Now.Sub(in.LastClaimAt).Hours()
	if hours < MinClaimHours {
		return Reward{}, svcerrors.Limited(svcerrors.CodeClaimTooSoon, "claim requested too soon after the previous claim").
			WithDetail("hours_elapsed", RoundTo(hours, 4)).
			WithDetail("min_hours", MinClaimHours)
	}
	if in.UserMotorPower <= 0 {
		return Reward{}, svcerrors.Precondition(svcerrors.CodeNoMotorPower, "no motor power equipped").
			WithDetail("motor_power", 0)
	}

	network := effectiveNetwork(in.NetworkMotorPower)
	return Reward{
		Amount:            ComputeClaimable(in.UserMotorPower, network, in.EmissionPerHour, hours),
		HoursElapsed:      hours,
		SharePct:          in.UserMotorPower / network * 100,
		NetworkMotorPower: network,
	}, nil
}

func effectiveNetwork(network float64) float64 {
	if network < 1 {
		return 1
	}
	return network
}

// RoundTo rounds v half away from zero to places decimal places.
// Used only at the response boundary.
func RoundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
