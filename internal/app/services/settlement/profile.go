package settlement

import (
	"context"
	"errors"
	"strings"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/account"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
	"github.com/R3E-Network/settlement_layer/internal/app/storage"
	"github.com/R3E-Network/settlement_layer/internal/economy"
	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
)

// Profile is the account view returned by profile operations.
type Profile struct {
	Account account.Account `json:"account"`
	Balance account.Balance `json:"balance"`
	Created bool            `json:"created"`
}

// EnsureProfile returns the account, creating it with zero balances on first touch.
func (s *Service) EnsureProfile(ctx context.Context, wallet string) (Profile, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return Profile{}, err
	}
	unlock := s.locks.Lock(wallet)
	defer unlock()

	acct, created, err := s.ensureAccount(ctx, wallet)
	if err != nil {
		return Profile{}, err
	}
	bal, err := s.balance(ctx, wallet)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Account: acct, Balance: roundBalance(bal), Created: created}, nil
}

// CaptureReferral attaches code as the referrer of wallet. The code is the
// referrer's wallet. Repeating the same referrer is a no-op.
func (s *Service) CaptureReferral(ctx context.Context, wallet, code string) (account.Account, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return account.Account{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return account.Account{}, svcerrors.Validation("referral code is required").WithDetail("field", "code")
	}
	if code == wallet {
		return account.Account{}, svcerrors.Validation("self-referral is not allowed")
	}

	unlock := s.locks.Lock(wallet)
	defer unlock()

	if _, err := s.requireAccount(ctx, wallet); err != nil {
		return account.Account{}, err
	}
	if _, err := s.requireAccount(ctx, code); err != nil {
		return account.Account{}, err
	}

	acct, err := s.store.SetReferrer(ctx, wallet, code)
	if errors.Is(err, storage.ErrConflict) {
		current, _ := s.store.GetAccount(ctx, wallet)
		return account.Account{}, svcerrors.Duplicate(svcerrors.CodeReferrerSet, "referrer already set").
			WithDetail("referrer", current.ReferrerWallet)
	}
	if err != nil {
		return account.Account{}, svcerrors.Internal("set referrer", err)
	}
	s.log.WithContext(ctx).
		WithField("wallet", wallet).
		WithField("action", "capture_referral").
		WithField("referrer", code).
		Info("referrer captured")
	return acct, nil
}

// BalanceView is the balance snapshot of one account.
type BalanceView struct {
	Wallet            string          `json:"wallet"`
	Balance           account.Balance `json:"balance"`
	ProgressionLevel  int             `json:"progression_level"`
	Capacity          int             `json:"capacity"`
	DailyPackLimit    int             `json:"daily_pack_limit"`
	MotorPower        float64         `json:"motor_power"`
	NetworkMotorPower float64         `json:"network_motor_power"`
	Units             []unit.Unit     `json:"units"`
	Equipped          []unit.Unit     `json:"equipped"`
}

// Balances returns the balances, units and motor power of wallet.
func (s *Service) Balances(ctx context.Context, wallet string) (BalanceView, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return BalanceView{}, err
	}
	acct, err := s.requireAccount(ctx, wallet)
	if err != nil {
		return BalanceView{}, err
	}
	level, err := s.progression(acct.ProgressionLevel)
	if err != nil {
		return BalanceView{}, err
	}
	bal, err := s.balance(ctx, wallet)
	if err != nil {
		return BalanceView{}, err
	}
	units, err := s.store.ListUnits(ctx, wallet)
	if err != nil {
		return BalanceView{}, svcerrors.Internal("list units", err)
	}
	equipped, err := s.store.ListEquipped(ctx, wallet)
	if err != nil {
		return BalanceView{}, svcerrors.Internal("list equipped units", err)
	}
	userMP, networkMP, err := s.motorPower(ctx, wallet)
	if err != nil {
		return BalanceView{}, err
	}
	return BalanceView{
		Wallet:            wallet,
		Balance:           roundBalance(bal),
		ProgressionLevel:  acct.ProgressionLevel,
		Capacity:          level.Capacity,
		DailyPackLimit:    level.DailyPackLimit,
		MotorPower:        economy.RoundTo(userMP, 2),
		NetworkMotorPower: economy.RoundTo(networkMP, 2),
		Units:             units,
		Equipped:          equipped,
	}, nil
}

// LeaderboardRow is one ranked claimer.
type LeaderboardRow struct {
	Rank    int     `json:"rank"`
	Wallet  string  `json:"wallet"`
	Claimed float64 `json:"claimed"`
	Claims  int     `json:"claims"`
	Invites int     `json:"invites"`
}

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

// Leaderboard ranks accounts by total claimed.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = defaultLeaderboardSize
	}
	if limit > maxLeaderboardSize {
		limit = maxLeaderboardSize
	}
	totals, err := s.store.TopClaimers(ctx, limit)
	if err != nil {
		return nil, svcerrors.Internal("load leaderboard", err)
	}
	rows := make([]LeaderboardRow, len(totals))
	for i, t := range totals {
		rows[i] = LeaderboardRow{
			Rank:    i + 1,
			Wallet:  t.Wallet,
			Claimed: economy.RoundTo(t.Total, 2),
			Claims:  t.Claims,
			Invites: t.Invites,
		}
	}
	return rows, nil
}

// recentEntryCount is the size of the recent activity feed in Stats.
const recentEntryCount = 25

// EconomyStats summarizes the economy from the ledger.
type EconomyStats struct {
	Players int                     `json:"players"`
	Totals  map[ledger.Kind]float64 `json:"totals"`
	Recent  []ledger.Entry          `json:"recent"`
}

// Stats returns totals per ledger kind, the player count and recent activity.
func (s *Service) Stats(ctx context.Context) (EconomyStats, error) {
	totals, err := s.store.KindTotals(ctx)
	if err != nil {
		return EconomyStats{}, svcerrors.Internal("load ledger totals", err)
	}
	for k, v := range totals {
		totals[k] = economy.RoundTo(v, 2)
	}
	players, err := s.store.CountAccounts(ctx)
	if err != nil {
		return EconomyStats{}, svcerrors.Internal("count accounts", err)
	}
	recent, err := s.store.ListEntries(ctx, ledger.Query{Limit: recentEntryCount})
	if err != nil {
		return EconomyStats{}, svcerrors.Internal("list recent entries", err)
	}
	return EconomyStats{Players: players, Totals: totals, Recent: recent}, nil
}

// AuditLedger exports ledger entries.
func (s *Service) AuditLedger(ctx context.Context, q ledger.Query) ([]ledger.Entry, error) {
	out, err := s.store.ListEntries(ctx, q.Normalize())
	if err != nil {
		return nil, svcerrors.Internal("list ledger entries", err)
	}
	return out, nil
}

// AuditClaims exports claim records. The kind filter does not apply.
func (s *Service) AuditClaims(ctx context.Context, q ledger.Query) ([]ledger.ClaimRecord, error) {
	q.Kind = ""
	out, err := s.store.ListClaims(ctx, q.Normalize())
	if err != nil {
		return nil, svcerrors.Internal("list claims", err)
	}
	return out, nil
}

// AuditReferrals exports referral earnings, filtered by referrer wallet.
func (s *Service) AuditReferrals(ctx context.Context, q ledger.Query) ([]ledger.ReferralEarning, error) {
	q.Kind = ""
	out, err := s.store.ListReferralEarnings(ctx, q.Normalize())
	if err != nil {
		return nil, svcerrors.Internal("list referral earnings", err)
	}
	return out, nil
}
