package settlement

import (
	"context"
	"errors"
	"strconv"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/account"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
	"github.com/R3E-Network/settlement_layer/internal/app/metrics"
	"github.com/R3E-Network/settlement_layer/internal/app/storage"
	"github.com/R3E-Network/settlement_layer/internal/economy"
	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
)

// ReferralPayout reports one cascade commission of a claim.
type ReferralPayout struct {
	Generation     int     `json:"generation"`
	ReferrerWallet string  `json:"referrer_wallet"`
	Percentage     float64 `json:"percentage"`
	Amount         float64 `json:"amount"`
	Paid           bool    `json:"paid"`
}

// ClaimResult is the settled outcome of a claim.
type ClaimResult struct {
	ClaimID           string           `json:"claim_id"`
	Wallet            string           `json:"wallet"`
	SeasonID          string           `json:"season_id"`
	Amount            float64          `json:"amount"`
	HoursElapsed      float64          `json:"hours_elapsed"`
	MotorPower        float64          `json:"motor_power"`
	NetworkMotorPower float64          `json:"network_motor_power"`
	SharePct          float64          `json:"share_pct"`
	Balance           account.Balance  `json:"balance"`
	Referrals         []ReferralPayout `json:"referrals"`
}

func (s *Service) motorPower(ctx context.Context, wallet string) (float64, float64, error) {
	equipped, err := s.store.ListEquipped(ctx, wallet)
	if err != nil {
		return 0, 0, svcerrors.Internal("list equipped units", err)
	}
	all, err := s.store.ListAllEquipped(ctx)
	if err != nil {
		return 0, 0, svcerrors.Internal("list network units", err)
	}
	return unit.TotalMotorPower(equipped, s.eco.LevelMultipliers), unit.TotalMotorPower(all, s.eco.LevelMultipliers), nil
}

// Claim accrues oil for the time elapsed since the previous claim,
// proportional to the account's share of network motor power.
func (s *Service) Claim(ctx context.Context, wallet string) (ClaimResult, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return ClaimResult{}, err
	}
	unlock := s.locks.Lock(wallet)
	defer unlock()

	if _, err := s.requireAccount(ctx, wallet); err != nil {
		return ClaimResult{}, err
	}

	now := s.now()
	season, ok := s.eco.ActiveSeason(now)
	if !ok {
		return ClaimResult{}, svcerrors.Internal("resolve season", errors.New("no active season"))
	}

	previous := s.opts.ClaimEpoch
	last, err := s.store.LastClaim(ctx, wallet)
	switch {
	case err == nil:
		previous = last.CreatedAt
	case errors.Is(err, storage.ErrNotFound):
	default:
		return ClaimResult{}, svcerrors.Internal("load last claim", err)
	}

	userMP, networkMP, err := s.motorPower(ctx, wallet)
	if err != nil {
		return ClaimResult{}, err
	}

	reward, err := economy.CalculateReward(economy.RewardInput{
		UserMotorPower:    userMP,
		NetworkMotorPower: networkMP,
		EmissionPerHour:   season.EmissionPerHour,
		LastClaimAt:       previous,
		Now:               now,
	})
	if err != nil {
		return ClaimResult{}, err
	}
	if reward.Amount <= 0 {
		return ClaimResult{}, svcerrors.Precondition(svcerrors.CodeNothingToClaim, "nothing to claim")
	}

	record, err := s.store.AppendClaim(ctx, ledger.ClaimRecord{
		Wallet:              wallet,
		SeasonID:            season.ID,
		Amount:              reward.Amount,
		MotorPowerAtClaim:   userMP,
		NetworkSharePct:     reward.SharePct,
		HoursSinceLastClaim: reward.HoursElapsed,
		PreviousClaimAt:     previous,
		CreatedAt:           now,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return ClaimResult{}, svcerrors.Duplicate(svcerrors.CodeDuplicate, "claim for this interval already settled")
	}
	if err != nil {
		return ClaimResult{}, svcerrors.Internal("record claim", err)
	}

	bal, err := s.credit(ctx, wallet, account.FieldOil, reward.Amount)
	if err != nil {
		return ClaimResult{}, err
	}
	s.appendLedger(ctx, ledger.Entry{
		Kind:   ledger.KindClaim,
		Wallet: wallet,
		Field:  account.FieldOil,
		Amount: reward.Amount,
		Meta: map[string]interface{}{
			"claim_id":      record.ID,
			"season_id":     season.ID,
			"hours_elapsed": reward.HoursElapsed,
			"motor_power":   userMP,
		},
		CreatedAt: now,
	})
	metrics.RecordClaim(reward.Amount)

	s.log.WithContext(ctx).
		WithField("wallet", wallet).
		WithField("action", "claim").
		WithField("amount", reward.Amount).
		WithField("hours", reward.HoursElapsed).
		Info("claim settled")

	return ClaimResult{
		ClaimID:           record.ID,
		Wallet:            wallet,
		SeasonID:          season.ID,
		Amount:            economy.RoundTo(reward.Amount, 2),
		HoursElapsed:      economy.RoundTo(reward.HoursElapsed, 4),
		MotorPower:        economy.RoundTo(userMP, 2),
		NetworkMotorPower: economy.RoundTo(reward.NetworkMotorPower, 2),
		SharePct:          economy.RoundTo(reward.SharePct, 4),
		Balance:           roundBalance(bal),
		Referrals:         s.cascade(ctx, wallet, record),
	}, nil
}

// cascade pays referral commissions on a settled claim. Failures are logged
// and never surfaced: the claim itself is already committed.
func (s *Service) cascade(ctx context.Context, wallet string, claim ledger.ClaimRecord) []ReferralPayout {
	log := s.log.WithContext(ctx).WithField("wallet", wallet).WithField("claim_id", claim.ID)

	planned, err := economy.PlanCascade(ctx, referrerResolver{accounts: s.store}, wallet, claim.Amount)
	if err != nil {
		log.WithError(err).Warn("referral chain lookup failed; cascade truncated")
	}

	out := make([]ReferralPayout, 0, len(planned))
	for _, p := range planned {
		gen := strconv.Itoa(p.Generation)
		payout := ReferralPayout{
			Generation:     p.Generation,
			ReferrerWallet: p.ReferrerWallet,
			Percentage:     p.Percentage,
			Amount:         economy.RoundTo(p.Amount, 2),
		}

		if _, err := s.store.UpsertAdd(ctx, p.ReferrerWallet, account.FieldOil, p.Amount); err != nil {
			log.WithError(err).WithField("generation", p.Generation).Warn("referral payout failed")
			metrics.RecordReferralPayout(gen, false)
			out = append(out, payout)
			continue
		}
		payout.Paid = true
		metrics.RecordReferralPayout(gen, true)

		if _, err := s.store.AppendReferralEarning(ctx, ledger.ReferralEarning{
			ReferrerWallet: p.ReferrerWallet,
			ReferredWallet: wallet,
			Generation:     p.Generation,
			Percentage:     p.Percentage,
			Amount:         p.Amount,
			SourceClaimID:  claim.ID,
			CreatedAt:      claim.CreatedAt,
		}); err != nil {
			log.WithError(err).WithField("generation", p.Generation).Error("referral earning record failed")
		}
		s.appendLedger(ctx, ledger.Entry{
			Kind:   ledger.KindReferral,
			Wallet: p.ReferrerWallet,
			Field:  account.FieldOil,
			Amount: p.Amount,
			Meta: map[string]interface{}{
				"claim_id":   claim.ID,
				"referred":   wallet,
				"generation": p.Generation,
			},
			CreatedAt: claim.CreatedAt,
		})
		out = append(out, payout)
	}
	return out
}

// Attest builds the claim attestation for wallet in the active season.
func (s *Service) Attest(ctx context.Context, wallet string) (economy.Attestation, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return economy.Attestation{}, err
	}
	if _, err := s.requireAccount(ctx, wallet); err != nil {
		return economy.Attestation{}, err
	}
	now := s.now()
	season, ok := s.eco.ActiveSeason(now)
	if !ok {
		return economy.Attestation{}, svcerrors.Internal("resolve season", errors.New("no active season"))
	}
	userMP, networkMP, err := s.motorPower(ctx, wallet)
	if err != nil {
		return economy.Attestation{}, err
	}
	att, err := economy.Attest(economy.ClaimPayload{
		Wallet:  wallet,
		Season:  season.ID,
		NowUnix: now.Unix(),
		MP:      userMP,
		TotalMP: networkMP,
	})
	if err != nil {
		return economy.Attestation{}, svcerrors.Internal("attest claim", err)
	}
	return att, nil
}

func roundBalance(b account.Balance) account.Balance {
	b.Oil = economy.RoundTo(b.Oil, 2)
	b.Bonds = economy.RoundTo(b.Bonds, 2)
	return b
}
