package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/account"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
	"github.com/R3E-Network/settlement_layer/internal/app/metrics"
	"github.com/R3E-Network/settlement_layer/internal/app/storage"
	"github.com/R3E-Network/settlement_layer/internal/economy"
	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
)

// MaxPackQuantity bounds one open-pack request.
const MaxPackQuantity = 10

// OpenPackResult is the settled outcome of opening packs.
type OpenPackResult struct {
	Wallet     string          `json:"wallet"`
	PackType   string          `json:"pack_type"`
	Quantity   int             `json:"quantity"`
	Cost       float64         `json:"cost"`
	Units      []unit.Unit     `json:"units"`
	DailyUsed  int             `json:"daily_used"`
	DailyLimit int             `json:"daily_limit"`
	Balance    account.Balance `json:"balance"`
}

// OpenPack debits bonds and grants quantity units drawn from the pack odds.
// The daily limit applies to the whole batch.
func (s *Service) OpenPack(ctx context.Context, wallet, packType string, quantity int) (OpenPackResult, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return OpenPackResult{}, err
	}
	packType = strings.TrimSpace(packType)
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 || quantity > MaxPackQuantity {
		return OpenPackResult{}, svcerrors.Validation("quantity out of range").
			WithDetail("quantity", quantity).
			WithDetail("max", MaxPackQuantity)
	}
	pack, ok := s.eco.Pack(packType)
	if !ok {
		return OpenPackResult{}, svcerrors.NotFound(svcerrors.CodePackNotFound, "unknown pack type").
			WithDetail("pack_type", packType)
	}

	unlock := s.locks.Lock(wallet)
	defer unlock()

	acct, err := s.requireAccount(ctx, wallet)
	if err != nil {
		return OpenPackResult{}, err
	}
	level, err := s.progression(acct.ProgressionLevel)
	if err != nil {
		return OpenPackResult{}, err
	}

	now := s.now()
	used, err := s.store.CountPackOpeningsSince(ctx, wallet, ledger.StartOfUTCDay(now))
	if err != nil {
		return OpenPackResult{}, svcerrors.Internal("count pack openings", err)
	}
	if err := economy.CheckDailyLimit(used, quantity, level.DailyPackLimit); err != nil {
		return OpenPackResult{}, err
	}

	cost := pack.CostBonds * float64(quantity)
	bal, err := s.debit(ctx, wallet, account.FieldBonds, cost)
	if err != nil {
		return OpenPackResult{}, err
	}

	tiers := s.grants.ResolveBatch(pack.Odds, quantity)
	units := make([]unit.Unit, len(tiers))
	for i, tier := range tiers {
		units[i] = unit.New(uuid.NewString(), wallet, tier, s.eco.TierStats(tier), now)
	}
	units, err = s.store.CreateUnits(ctx, units)
	if err != nil {
		return OpenPackResult{}, svcerrors.Internal("create units", err)
	}

	openings := make([]ledger.PackOpening, len(units))
	entries := []ledger.Entry{{
		Kind:      ledger.KindPackSpend,
		Wallet:    wallet,
		Field:     account.FieldBonds,
		Amount:    -cost,
		Meta:      map[string]interface{}{"pack_type": pack.ID, "quantity": quantity},
		CreatedAt: now,
	}}
	for i, u := range units {
		openings[i] = ledger.PackOpening{
			Wallet:    wallet,
			PackType:  pack.ID,
			Tier:      u.Tier,
			UnitID:    u.ID,
			Cost:      pack.CostBonds,
			CreatedAt: now,
		}
		entries = append(entries, ledger.Entry{
			Kind:      ledger.KindGrant,
			Wallet:    wallet,
			Amount:    1,
			Meta:      map[string]interface{}{"unit_id": u.ID, "tier": string(u.Tier), "pack_type": pack.ID},
			CreatedAt: now,
		})
		metrics.RecordGrant(string(u.Tier))
	}
	if err := s.store.AppendPackOpenings(ctx, openings); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("wallet", wallet).Error("pack opening record failed")
	}
	entries = append(entries, bondSplitEntries(wallet, cost, pack.ID, now)...)
	s.appendLedger(ctx, entries...)

	s.log.WithContext(ctx).
		WithField("wallet", wallet).
		WithField("action", "open_pack").
		WithField("pack_type", pack.ID).
		WithField("quantity", quantity).
		WithField("cost", cost).
		Info("packs opened")

	return OpenPackResult{
		Wallet:     wallet,
		PackType:   pack.ID,
		Quantity:   quantity,
		Cost:       economy.RoundTo(cost, 2),
		Units:      units,
		DailyUsed:  used + quantity,
		DailyLimit: level.DailyPackLimit,
		Balance:    roundBalance(bal),
	}, nil
}

// RecycleResult is the outcome of recycling a unit.
type RecycleResult struct {
	Wallet  string                 `json:"wallet"`
	UnitID  string                 `json:"unit_id"`
	Outcome economy.RecycleOutcome `json:"outcome"`
	Unit    *unit.Unit             `json:"unit,omitempty"`
}

// Recycle promotes a unit to the next tier with a fixed probability or burns it.
func (s *Service) Recycle(ctx context.Context, wallet, unitID string) (RecycleResult, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return RecycleResult{}, err
	}
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		return RecycleResult{}, svcerrors.Validation("unit_id is required").WithDetail("field", "unit_id")
	}

	unlock := s.locks.Lock(wallet)
	defer unlock()

	if _, err := s.requireAccount(ctx, wallet); err != nil {
		return RecycleResult{}, err
	}
	u, err := s.ownedUnit(ctx, wallet, unitID)
	if err != nil {
		return RecycleResult{}, err
	}

	res, err := s.grants.ResolveRecycle(u, func(t unit.Tier) float64 { return s.eco.TierStats(t).Fuel })
	if err != nil {
		return RecycleResult{}, err
	}

	out := RecycleResult{Wallet: wallet, UnitID: u.ID, Outcome: res.Outcome}
	meta := map[string]interface{}{
		"unit_id":   u.ID,
		"from_tier": string(u.Tier),
		"outcome":   string(res.Outcome),
		"roll":      res.Roll,
	}
	switch res.Outcome {
	case economy.RecyclePromoted:
		updated, err := s.store.UpdateUnit(ctx, res.Unit)
		if err != nil {
			return RecycleResult{}, svcerrors.Internal("promote unit", err)
		}
		out.Unit = &updated
		meta["to_tier"] = string(updated.Tier)
	default:
		if err := s.store.DeleteUnit(ctx, u.ID); err != nil {
			return RecycleResult{}, svcerrors.Internal("burn unit", err)
		}
	}
	metrics.RecordRecycle(string(res.Outcome))
	s.appendLedger(ctx, ledger.Entry{Kind: ledger.KindRecycle, Wallet: wallet, Amount: 1, Meta: meta, CreatedAt: s.now()})

	s.log.WithContext(ctx).
		WithField("wallet", wallet).
		WithField("action", "recycle").
		WithField("unit_id", u.ID).
		WithField("outcome", res.Outcome).
		Info("unit recycled")
	return out, nil
}

func (s *Service) ownedUnit(ctx context.Context, wallet, unitID string) (unit.Unit, error) {
	u, err := s.store.GetUnit(ctx, unitID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && u.Wallet != wallet) {
		return unit.Unit{}, svcerrors.NotFound(svcerrors.CodeUnitNotFound, "unit not found").
			WithDetail("unit_id", unitID)
	}
	if err != nil {
		return unit.Unit{}, svcerrors.Internal("load unit", err)
	}
	return u, nil
}

// bondSplitEntries records how a bond spend is divided. They are informational
// and carry no balance field.
func bondSplitEntries(wallet string, total float64, packType string, now time.Time) []ledger.Entry {
	split := economy.SplitBonds(total)
	meta := func() map[string]interface{} {
		return map[string]interface{}{"pack_type": packType, "total": total}
	}
	return []ledger.Entry{
		{Kind: ledger.KindBondBurn, Wallet: wallet, Amount: split.Burn, Meta: meta(), CreatedAt: now},
		{Kind: ledger.KindBondReferralPool, Wallet: wallet, Amount: split.ReferralPool, Meta: meta(), CreatedAt: now},
		{Kind: ledger.KindBondTreasury, Wallet: wallet, Amount: split.Treasury, Meta: meta(), CreatedAt: now},
	}
}
