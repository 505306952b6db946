package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/account"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
	"github.com/R3E-Network/settlement_layer/internal/app/storage"
	"github.com/R3E-Network/settlement_layer/internal/economy"
	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
)

// TrainResult is the outcome of training a unit.
type TrainResult struct {
	Wallet       string          `json:"wallet"`
	Unit         unit.Unit       `json:"unit"`
	FromLevel    int             `json:"from_level"`
	ToLevel      int             `json:"to_level"`
	LevelsGained int             `json:"levels_gained"`
	Cost         float64         `json:"cost"`
	Balance      account.Balance `json:"balance"`
}

// Train raises a unit's level, paying oil along the cost curve.
func (s *Service) Train(ctx context.Context, wallet, unitID string, levels int) (TrainResult, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return TrainResult{}, err
	}
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		return TrainResult{}, svcerrors.Validation("unit_id is required").WithDetail("field", "unit_id")
	}
	if levels == 0 {
		levels = 1
	}

	unlock := s.locks.Lock(wallet)
	defer unlock()

	if _, err := s.requireAccount(ctx, wallet); err != nil {
		return TrainResult{}, err
	}
	u, err := s.ownedUnit(ctx, wallet, unitID)
	if err != nil {
		return TrainResult{}, err
	}

	quote, err := economy.TrainCost(u.Level, levels)
	if err != nil {
		return TrainResult{}, err
	}
	bal, err := s.debit(ctx, wallet, account.FieldOil, quote.Cost)
	if err != nil {
		return TrainResult{}, err
	}

	u.Level = quote.ToLevel
	u.GripPct += float64(economy.TrainGripBonusPct * quote.LevelsGained)
	updated, err := s.store.UpdateUnit(ctx, u)
	if err != nil {
		return TrainResult{}, svcerrors.Internal("update unit", err)
	}
	s.appendLedger(ctx, ledger.Entry{
		Kind:   ledger.KindTrainSpend,
		Wallet: wallet,
		Field:  account.FieldOil,
		Amount: -quote.Cost,
		Meta: map[string]interface{}{
			"unit_id":    u.ID,
			"from_level": quote.FromLevel,
			"to_level":   quote.ToLevel,
		},
		CreatedAt: s.now(),
	})

	s.log.WithContext(ctx).
		WithField("wallet", wallet).
		WithField("action", "train").
		WithField("unit_id", u.ID).
		WithField("cost", quote.Cost).
		Info("unit trained")

	return TrainResult{
		Wallet:       wallet,
		Unit:         updated,
		FromLevel:    quote.FromLevel,
		ToLevel:      quote.ToLevel,
		LevelsGained: quote.LevelsGained,
		Cost:         quote.Cost,
		Balance:      roundBalance(bal),
	}, nil
}

// UpgradeResult is the outcome of a progression upgrade.
type UpgradeResult struct {
	Wallet         string          `json:"wallet"`
	FromLevel      int             `json:"from_level"`
	ToLevel        int             `json:"to_level"`
	Cost           float64         `json:"cost"`
	Capacity       int             `json:"capacity"`
	DailyPackLimit int             `json:"daily_pack_limit"`
	NextUpgradeAt  time.Time       `json:"next_upgrade_at"`
	Balance        account.Balance `json:"balance"`
}

// UpgradeProgression moves the account to the next progression level.
func (s *Service) UpgradeProgression(ctx context.Context, wallet string) (UpgradeResult, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return UpgradeResult{}, err
	}

	unlock := s.locks.Lock(wallet)
	defer unlock()

	acct, err := s.requireAccount(ctx, wallet)
	if err != nil {
		return UpgradeResult{}, err
	}
	next, ok := s.levels.Next(acct.ProgressionLevel)
	if !ok {
		return UpgradeResult{}, svcerrors.Precondition(svcerrors.CodeMaxProgression, "account is at the highest progression level").
			WithDetail("level", acct.ProgressionLevel)
	}

	now := s.now()
	var lastAt *time.Time
	last, err := s.store.LastUpgrade(ctx, wallet)
	switch {
	case err == nil:
		lastAt = &last.CreatedAt
	case errors.Is(err, storage.ErrNotFound):
	default:
		return UpgradeResult{}, svcerrors.Internal("load last upgrade", err)
	}
	if err := economy.CheckUpgradeCooldown(lastAt, now); err != nil {
		return UpgradeResult{}, err
	}

	bal, err := s.debit(ctx, wallet, account.FieldOil, next.UpgradeCostOil)
	if err != nil {
		return UpgradeResult{}, err
	}
	if err := s.store.SetProgressionLevel(ctx, wallet, acct.ProgressionLevel, next.Level); err != nil {
		if _, refundErr := s.credit(ctx, wallet, account.FieldOil, next.UpgradeCostOil); refundErr != nil {
			s.log.WithContext(ctx).WithError(refundErr).WithField("wallet", wallet).Error("upgrade refund failed")
		}
		if errors.Is(err, storage.ErrConflict) {
			return UpgradeResult{}, svcerrors.Duplicate(svcerrors.CodeDuplicate, "progression level changed concurrently")
		}
		return UpgradeResult{}, svcerrors.Internal("set progression level", err)
	}

	if _, err := s.store.AppendUpgrade(ctx, ledger.UpgradeRecord{
		Wallet:    wallet,
		FromLevel: acct.ProgressionLevel,
		ToLevel:   next.Level,
		Cost:      next.UpgradeCostOil,
		CreatedAt: now,
	}); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("wallet", wallet).Error("upgrade record failed")
	}
	s.appendLedger(ctx, ledger.Entry{
		Kind:   ledger.KindUpgradeSpend,
		Wallet: wallet,
		Field:  account.FieldOil,
		Amount: -next.UpgradeCostOil,
		Meta: map[string]interface{}{
			"from_level": acct.ProgressionLevel,
			"to_level":   next.Level,
		},
		CreatedAt: now,
	})

	s.log.WithContext(ctx).
		WithField("wallet", wallet).
		WithField("action", "upgrade").
		WithField("to_level", next.Level).
		WithField("cost", next.UpgradeCostOil).
		Info("progression upgraded")

	return UpgradeResult{
		Wallet:         wallet,
		FromLevel:      acct.ProgressionLevel,
		ToLevel:        next.Level,
		Cost:           next.UpgradeCostOil,
		Capacity:       next.Capacity,
		DailyPackLimit: next.DailyPackLimit,
		NextUpgradeAt:  now.Add(economy.UpgradeCooldown),
		Balance:        roundBalance(bal),
	}, nil
}

// EquipResult is the equipped set after an equip request.
type EquipResult struct {
	Wallet     string      `json:"wallet"`
	Units      []unit.Unit `json:"units"`
	Capacity   int         `json:"capacity"`
	MotorPower float64     `json:"motor_power"`
}

// Equip replaces the equipped set of wallet. Units must be owned and distinct
// and fit the capacity of the current progression level.
func (s *Service) Equip(ctx context.Context, wallet string, unitIDs []string) (EquipResult, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return EquipResult{}, err
	}
	seen := make(map[string]bool, len(unitIDs))
	ids := make([]string, 0, len(unitIDs))
	for _, id := range unitIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return EquipResult{}, svcerrors.Validation("unit ids must not be empty")
		}
		if seen[id] {
			return EquipResult{}, svcerrors.Validation("unit ids must be distinct").WithDetail("unit_id", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}

	unlock := s.locks.Lock(wallet)
	defer unlock()

	acct, err := s.requireAccount(ctx, wallet)
	if err != nil {
		return EquipResult{}, err
	}
	level, err := s.progression(acct.ProgressionLevel)
	if err != nil {
		return EquipResult{}, err
	}
	if len(ids) > level.Capacity {
		return EquipResult{}, svcerrors.Precondition(svcerrors.CodeCapacityExceeded, "too many units for the garage capacity").
			WithDetail("capacity", level.Capacity).
			WithDetail("requested", len(ids))
	}

	err = s.store.SetEquipped(ctx, wallet, ids)
	if errors.Is(err, storage.ErrNotFound) {
		return EquipResult{}, svcerrors.NotFound(svcerrors.CodeUnitNotFound, "one or more units are not owned by this account")
	}
	if err != nil {
		return EquipResult{}, svcerrors.Internal("set equipped units", err)
	}

	equipped, err := s.store.ListEquipped(ctx, wallet)
	if err != nil {
		return EquipResult{}, svcerrors.Internal("list equipped units", err)
	}
	return EquipResult{
		Wallet:     wallet,
		Units:      equipped,
		Capacity:   level.Capacity,
		MotorPower: economy.RoundTo(unit.TotalMotorPower(equipped, s.eco.LevelMultipliers), 2),
	}, nil
}
