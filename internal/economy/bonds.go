package economy

import "github.com/shopspring/decimal"

// Bond split fractions applied to every bond spend.
var (
	BondBurnShare     = decimal.RequireFromString("0.80")
	BondReferralShare = decimal.RequireFromString("0.10")
	BondTreasuryShare = decimal.RequireFromString("0.10")
)

// BondSplit is the accounting breakdown of a bond spend.
type BondSplit struct {
	Burn         float64
	ReferralPool float64
	Treasury     float64
}

// SplitBonds divides total into burn, referral pool and treasury parts at six
// decimal places. Any rounding remainder goes to burn so the parts sum to total.
func SplitBonds(total float64) BondSplit {
	t := decimal.NewFromFloat(total)
	burn := t.Mul(BondBurnShare).Round(6)
	ref := t.Mul(BondReferralShare).Round(6)
	tre := t.Mul(BondTreasuryShare).Round(6)
	burn = burn.Add(t.Sub(burn.Add(ref).Add(tre)))

	b, _ := burn.Float64()
	r, _ := ref.Float64()
	tr, _ := tre.Float64()
	return BondSplit{Burn: b, ReferralPool: r, Treasury: tr}
}
