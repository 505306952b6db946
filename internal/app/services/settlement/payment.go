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
	"github.com/R3E-Network/settlement_layer/internal/app/services/verifier"
	"github.com/R3E-Network/settlement_layer/internal/app/storage"
	"github.com/R3E-Network/settlement_layer/internal/economy"
	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
)

// PaymentResult is the outcome of an initialization payment. Pending is set
// when the external transaction is not yet confirmed; nothing was applied.
type PaymentResult struct {
	Wallet         string          `json:"wallet"`
	TxID           string          `json:"tx_id"`
	Status         verifier.Status `json:"status"`
	Pending        bool            `json:"pending"`
	Cluster        string          `json:"cluster"`
	VerifiedAmount float64         `json:"verified_amount,omitempty"`
	Method         string          `json:"method,omitempty"`
	Referrer       string          `json:"referrer,omitempty"`
	Units          []unit.Unit     `json:"units,omitempty"`
	Balance        account.Balance `json:"balance"`
}

// VerifyPayment verifies the initialization payment txID and, exactly once per
// transaction, initializes the account: starter bonds, starter units and an
// optional referrer.
func (s *Service) VerifyPayment(ctx context.Context, wallet, txID, referrer string) (PaymentResult, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return PaymentResult{}, err
	}
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return PaymentResult{}, svcerrors.Validation("tx_id is required").WithDetail("field", "tx_id")
	}
	if s.verifier == nil {
		return PaymentResult{}, svcerrors.Internal("verify payment", errors.New("no payment verifier configured"))
	}
	out := PaymentResult{Wallet: wallet, TxID: txID, Cluster: string(s.opts.Cluster)}

	if s.guard != nil {
		ok, err := s.awaitInFlight(ctx, txID)
		if err != nil {
			return PaymentResult{}, err
		}
		if !ok {
			out.Status, out.Pending = verifier.StatusPending, true
			return out, nil
		}
		defer func() {
			if err := s.guard.Release(context.WithoutCancel(ctx), txID); err != nil {
				s.log.WithContext(ctx).WithError(err).WithField("tx_id", txID).Warn("release in-flight guard failed")
			}
		}()
	}

	verdict, err := s.verifier.Verify(ctx, verifier.Request{
		Wallet:         wallet,
		TxID:           txID,
		Cluster:        s.opts.Cluster,
		ExpectedAmount: s.opts.InitPrice,
		MaxAge:         s.opts.PaymentMaxAge,
	})
	if err != nil {
		return PaymentResult{}, err
	}
	out.Status = verdict.Status
	out.Method = verdict.Method
	if verdict.Status == verifier.StatusPending {
		out.Pending = true
		return out, nil
	}
	if err := verdict.Err(); err != nil {
		return PaymentResult{}, err
	}

	now := s.now()
	if _, err := s.store.InsertProcessedPayment(ctx, ledger.ProcessedPayment{
		TxID:      txID,
		Wallet:    wallet,
		Amount:    verdict.VerifiedAmount,
		Cluster:   string(verdict.Cluster),
		Method:    verdict.Method,
		CreatedAt: now,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return PaymentResult{}, svcerrors.Duplicate(svcerrors.CodeDuplicate, "transaction already processed").
				WithDetail("tx_id", txID)
		}
		return PaymentResult{}, svcerrors.Internal("record processed payment", err)
	}

	unlock := s.locks.Lock(wallet)
	defer unlock()

	if _, _, err := s.ensureAccount(ctx, wallet); err != nil {
		return PaymentResult{}, err
	}
	if _, err := s.store.MarkInitialized(ctx, wallet); err != nil {
		return PaymentResult{}, svcerrors.Internal("initialize account", err)
	}

	bal, err := s.credit(ctx, wallet, account.FieldBonds, s.eco.StarterBonds)
	if err != nil {
		return PaymentResult{}, err
	}
	entries := []ledger.Entry{{
		Kind:   ledger.KindPayment,
		Wallet: wallet,
		Field:  account.FieldBonds,
		Amount: s.eco.StarterBonds,
		Meta: map[string]interface{}{
			"tx_id":           txID,
			"cluster":         string(verdict.Cluster),
			"method":          verdict.Method,
			"verified_amount": verdict.VerifiedAmount,
		},
		CreatedAt: now,
	}}

	units := s.starterUnits(wallet)
	if len(units) > 0 {
		created, err := s.store.CreateUnits(ctx, units)
		if err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("wallet", wallet).Error("starter unit grant failed")
		} else {
			units = created
			for _, u := range units {
				entries = append(entries, ledger.Entry{
					Kind:      ledger.KindGrant,
					Wallet:    wallet,
					Amount:    1,
					Meta:      map[string]interface{}{"unit_id": u.ID, "tier": string(u.Tier), "source": "starter"},
					CreatedAt: now,
				})
			}
		}
	}
	s.appendLedger(ctx, entries...)

	out.Referrer = s.attachReferrer(ctx, wallet, referrer)
	out.VerifiedAmount = economy.RoundTo(verdict.VerifiedAmount, 6)
	out.Units = units
	out.Balance = roundBalance(bal)

	s.log.WithContext(ctx).
		WithField("wallet", wallet).
		WithField("action", "verify_payment").
		WithField("tx_id", txID).
		WithField("method", verdict.Method).
		Info("payment settled")
	return out, nil
}

// inFlightPollInterval is how often a second submission of a transaction
// checks whether the first one settled.
const inFlightPollInterval = 25 * time.Millisecond

// awaitInFlight takes the in-flight guard for txID. While another request holds
// it, the caller waits: once the holder records the payment the wait ends with
// a duplicate error, and once the holder releases without settling the caller
// takes the guard and verifies on its own. It reports false only when the
// holder is still running after GuardTTL or ctx ends first.
func (s *Service) awaitInFlight(ctx context.Context, txID string) (bool, error) {
	deadline := time.NewTimer(s.opts.GuardTTL)
	defer deadline.Stop()
	ticker := time.NewTicker(inFlightPollInterval)
	defer ticker.Stop()

	for {
		ok, err := s.guard.Acquire(ctx, txID, s.opts.GuardTTL)
		if err != nil {
			return false, svcerrors.Internal("acquire in-flight guard", err)
		}
		if ok {
			return true, nil
		}
		_, err = s.store.GetProcessedPayment(ctx, txID)
		if err == nil {
			return false, svcerrors.Duplicate(svcerrors.CodeDuplicate, "transaction already processed").
				WithDetail("tx_id", txID)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return false, svcerrors.Internal("load processed payment", err)
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return false, nil
		case <-ctx.Done():
			return false, nil
		}
	}
}

func (s *Service) starterUnits(wallet string) []unit.Unit {
	if s.eco.StarterUnits <= 0 {
		return nil
	}
	now := s.now()
	tier := unit.Tiers[0]
	stats := s.eco.TierStats(tier)
	units := make([]unit.Unit, s.eco.StarterUnits)
	for i := range units {
		units[i] = unit.New(uuid.NewString(), wallet, tier, stats, now)
	}
	return units
}

// attachReferrer links an optional referrer captured at payment time. Unknown,
// self or conflicting referrers are ignored; the payment is already settled.
func (s *Service) attachReferrer(ctx context.Context, wallet, referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" || referrer == wallet {
		return ""
	}
	log := s.log.WithContext(ctx).WithField("wallet", wallet).WithField("referrer", referrer)
	if _, err := s.store.GetAccount(ctx, referrer); err != nil {
		log.WithError(err).Info("referrer not attached")
		return ""
	}
	acct, err := s.store.SetReferrer(ctx, wallet, referrer)
	if err != nil {
		log.WithError(err).Info("referrer not attached")
		return ""
	}
	return acct.ReferrerWallet
}
