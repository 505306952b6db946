// Package settlement coordinates every economic state transition: it validates
// preconditions, runs the pure economy math, applies balance mutations and
// appends the audit records.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/account"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/catalog"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/settlement_layer/internal/app/metrics"
	"github.com/R3E-Network/settlement_layer/internal/app/services/verifier"
	"github.com/R3E-Network/settlement_layer/internal/app/storage"
	"github.com/R3E-Network/settlement_layer/internal/chain"
	"github.com/R3E-Network/settlement_layer/internal/config"
	"github.com/R3E-Network/settlement_layer/internal/economy"
	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
	"github.com/R3E-Network/settlement_layer/internal/logging"
)

// maxDebitAttempts bounds compare-and-swap retries of one debit.
const maxDebitAttempts = 5

// PaymentVerifier checks external payments.
type PaymentVerifier interface {
	Verify(ctx context.Context, req verifier.Request) (verifier.Verdict, error)
}

// Options configures a Service.
type Options struct {
	Cluster       chain.Cluster
	InitPrice     float64
	PaymentMaxAge time.Duration
	ClaimEpoch    time.Time
	GuardTTL      time.Duration
	Roller        economy.Roller
}

// Service is the settlement coordinator.
type Service struct {
	store    storage.Store
	guard    storage.InFlightGuard
	verifier PaymentVerifier
	eco      *config.Economy
	levels   catalog.ProgressionTable
	grants   *economy.GrantResolver
	opts     Options
	locks    *keyedMutex
	log      *logging.Logger
	now      func() time.Time
}

// New constructs a settlement service. The economy tables must already be valid.
func New(store storage.Store, guard storage.InFlightGuard, pv PaymentVerifier, eco *config.Economy, opts Options, log *logging.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if eco == nil {
		eco = config.DefaultEconomy()
	}
	levels, err := catalog.NewProgressionTable(eco.Progression)
	if err != nil {
		return nil, fmt.Errorf("progression table: %w", err)
	}
	if log == nil {
		log = logging.NewDefault("settlement")
	}
	if opts.Cluster == "" {
		opts.Cluster = chain.ClusterDevnet
	}
	if opts.InitPrice <= 0 {
		opts.InitPrice = 0.5
	}
	if opts.PaymentMaxAge <= 0 {
		opts.PaymentMaxAge = 15 * time.Minute
	}
	if opts.ClaimEpoch.IsZero() {
		opts.ClaimEpoch = time.Unix(0, 0).UTC()
	}
	if opts.GuardTTL <= 0 {
		opts.GuardTTL = 2 * verifier.DefaultTimeout
	}
	return &Service{
		store:    store,
		guard:    guard,
		verifier: pv,
		eco:      eco,
		levels:   levels,
		grants:   economy.NewGrantResolver(opts.Roller),
		opts:     opts,
		locks:    newKeyedMutex(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Economy exposes the loaded economy tables.
func (s *Service) Economy() *config.Economy { return s.eco }

func normalizeWallet(wallet string) (string, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return "", svcerrors.Validation("wallet is required").WithDetail("field", "wallet")
	}
	return wallet, nil
}

func (s *Service) requireAccount(ctx context.Context, wallet string) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, wallet)
	if errors.Is(err, storage.ErrNotFound) {
		return account.Account{}, svcerrors.NotFound(svcerrors.CodeAccountNotFound, "account not found").
			WithDetail("wallet", wallet)
	}
	if err != nil {
		return account.Account{}, svcerrors.Internal("load account", err)
	}
	return acct, nil
}

// ensureAccount returns the account, creating it at the starting progression
// level with a zero balance row when missing.
func (s *Service) ensureAccount(ctx context.Context, wallet string) (account.Account, bool, error) {
	acct, err := s.store.GetAccount(ctx, wallet)
	if err == nil {
		return acct, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return account.Account{}, false, svcerrors.Internal("load account", err)
	}

	acct, err = s.store.CreateAccount(ctx, account.Account{
		Wallet:           wallet,
		ProgressionLevel: s.levels.Min().Level,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		acct, err = s.store.GetAccount(ctx, wallet)
		if err != nil {
			return account.Account{}, false, svcerrors.Internal("load account", err)
		}
		return acct, false, nil
	}
	if err != nil {
		return account.Account{}, false, svcerrors.Internal("create account", err)
	}
	if _, err := s.store.UpsertAdd(ctx, wallet, account.FieldOil, 0); err != nil {
		return account.Account{}, false, svcerrors.Internal("create balance", err)
	}
	s.log.WithContext(ctx).WithField("wallet", wallet).Info("account created")
	return acct, true, nil
}

func (s *Service) balance(ctx context.Context, wallet string) (account.Balance, error) {
	bal, err := s.store.GetBalance(ctx, wallet)
	if errors.Is(err, storage.ErrNotFound) {
		return account.Balance{Wallet: wallet}, nil
	}
	if err != nil {
		return account.Balance{}, svcerrors.Internal("load balance", err)
	}
	return bal, nil
}

func (s *Service) credit(ctx context.Context, wallet string, field account.Field, amount float64) (account.Balance, error) {
	bal, err := s.store.UpsertAdd(ctx, wallet, field, amount)
	if err != nil {
		return account.Balance{}, svcerrors.Internal("credit balance", err)
	}
	return bal, nil
}

// debit removes amount from field with a compare-and-swap on the balance
// version, re-reading and re-validating funds after every lost race.
func (s *Service) debit(ctx context.Context, wallet string, field account.Field, amount float64) (account.Balance, error) {
	for attempt := 1; attempt <= maxDebitAttempts; attempt++ {
		bal, err := s.balance(ctx, wallet)
		if err != nil {
			return account.Balance{}, err
		}
		have := bal.Get(field)
		if err := economy.CheckFunds(string(field), amount, have); err != nil {
			return account.Balance{}, err
		}
		if amount == 0 {
			return bal, nil
		}

		updated, err := s.store.SetAbsolute(ctx, wallet, field, have-amount, bal.Version)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return account.Balance{}, svcerrors.Internal("debit balance", err)
		}
		metrics.RecordBalanceConflict()
		s.log.WithContext(ctx).
			WithField("wallet", wallet).
			WithField("attempt", attempt).
			Debug("balance version conflict, retrying debit")
	}
	return account.Balance{}, svcerrors.Internal("debit balance", fmt.Errorf("%w after %d attempts", storage.ErrConflict, maxDebitAttempts))
}

// appendLedger writes audit entries after the balance is already committed.
// A failure is logged and left to reconciliation.
func (s *Service) appendLedger(ctx context.Context, entries ...ledger.Entry) {
	if err := s.store.AppendEntries(ctx, entries...); err != nil {
		s.log.WithContext(ctx).WithError(err).
			WithField("entries", len(entries)).
			Error("ledger append failed after balance mutation")
	}
}

func (s *Service) progression(level int) (catalog.ProgressionLevel, error) {
	row, ok := s.levels.Lookup(level)
	if !ok {
		return catalog.ProgressionLevel{}, svcerrors.Internal("progression lookup", fmt.Errorf("no progression row for level %d", level))
	}
	return row, nil
}

// referrerResolver adapts the account store to economy.ReferrerResolver.
type referrerResolver struct {
	accounts storage.AccountStore
}

func (r referrerResolver) ReferrerOf(ctx context.Context, wallet string) (string, error) {
	acct, err := r.accounts.GetAccount(ctx, wallet)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return acct.ReferrerWallet, nil
}
