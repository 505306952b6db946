package economy

import (
	"context"
	"fmt"
)

// MaxReferralDepth is the number of referrer generations paid per claim.
// Deeper chains exist but are not compensated.
const MaxReferralDepth = 2

// ReferralRates holds the commission fraction per generation, index 0 = generation 1.
var ReferralRates = [MaxReferralDepth]float64{0.025, 0.0125}

// ReferrerResolver looks up the referrer of a wallet. An empty result with a nil
// error means the wallet has no referrer or is unknown.
type ReferrerResolver interface {
	ReferrerOf(ctx context.Context, wallet string) (string, error)
}

// Payout is one planned commission.
type Payout struct {
	Generation     int
	ReferrerWallet string
	Percentage     float64
	Amount         float64
}

// PlanCascade walks the referrer chain of referred up to MaxReferralDepth and
// returns the commissions owed on claimAmount. A missing referrer truncates
// the walk. A lookup error also truncates it and is returned alongside the
// payouts planned so far, so callers can still pay earlier generations.
func PlanCascade(ctx context.Context, resolver ReferrerResolver, referred string, claimAmount float64) ([]Payout, error) {
	if claimAmount <= 0 {
		return nil, nil
	}

	payouts := make([]Payout, 0, MaxReferralDepth)
	seen := map[string]bool{referred: true}
	current := referred

	for gen := 1; gen <= MaxReferralDepth; gen++ {
		referrer, err := resolver.ReferrerOf(ctx, current)
		if err != nil {
			return payouts, fmt.Errorf("resolve generation %d referrer of %s: %w", gen, current, err)
		}
		if referrer == "" || seen[referrer] {
			break
		}
		seen[referrer] = true

		rate := ReferralRates[gen-1]
		payouts = append(payouts, Payout{
			Generation:     gen,
			ReferrerWallet: referrer,
			Percentage:     rate * 100,
			Amount:         claimAmount * rate,
		})
		current = referrer
	}
	return payouts, nil
}
