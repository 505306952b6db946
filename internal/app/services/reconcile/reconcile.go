// Package reconcile recomputes balances from ledger history and reports drift.
// Drift is logged and exported; it is never corrected automatically.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/account"
	"github.com/R3E-Network/settlement_layer/internal/app/metrics"
	"github.com/R3E-Network/settlement_layer/internal/logging"
)

// DefaultSchedule runs reconciliation every fifteen minutes.
const DefaultSchedule = "@every 15m"

// Tolerance absorbs floating point noise between summed entries and stored balances.
const Tolerance = 1e-6

// Source is the subset of storage the job reads.
type Source interface {
	BalanceTotals(ctx context.Context) (map[string]account.Balance, error)
	ListBalances(ctx context.Context) ([]account.Balance, error)
}

// Drift is one mismatch between a stored balance and its ledger history.
type Drift struct {
	Wallet string        `json:"wallet"`
	Field  account.Field `json:"field"`
	Ledger float64       `json:"ledger"`
	Stored float64       `json:"stored"`
}

// Diff is stored minus ledger.
func (d Drift) Diff() float64 { return d.Stored - d.Ledger }

// Report is the outcome of one reconciliation pass.
type Report struct {
	Checked  int       `json:"checked"`
	Drifts   []Drift   `json:"drifts"`
	Accounts int       `json:"accounts_with_drift"`
	RanAt    time.Time `json:"ran_at"`
}

// Job runs reconciliation on a cron schedule.
type Job struct {
	source   Source
	schedule string
	log      *logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	last    Report
}

// New validates schedule and returns an idle job.
func New(source Source, schedule string, log *logging.Logger) (*Job, error) {
	if source == nil {
		return nil, fmt.Errorf("reconcile source is required")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse reconcile schedule %q: %w", schedule, err)
	}
	if log == nil {
		log = logging.NewDefault("reconcile")
	}
	return &Job{source: source, schedule: schedule, log: log}, nil
}

func (j *Job) Name() string { return "reconcile" }

// Start schedules the job. Calling Start on a running job is a no-op.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)

	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(runCtx); err != nil {
			j.log.WithError(err).Warn("reconciliation pass failed")
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule reconciliation: %w", err)
	}
	c.Start()

	j.cron = c
	j.cancel = cancel
	j.running = true
	j.log.WithField("schedule", j.schedule).Info("reconciliation job started")
	return nil
}

// Stop cancels any in-flight pass and waits for it, bounded by ctx.
func (j *Job) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	c, cancel := j.cron, j.cancel
	j.running = false
	j.cron, j.cancel = nil, nil
	j.mu.Unlock()

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Last returns the most recent report.
func (j *Job) Last() Report {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// RunOnce compares every stored balance with the sum of its ledger entries.
func (j *Job) RunOnce(ctx context.Context) (Report, error) {
	totals, err := j.source.BalanceTotals(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("sum ledger entries: %w", err)
	}
	balances, err := j.source.ListBalances(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list balances: %w", err)
	}

	stored := make(map[string]account.Balance, len(balances))
	for _, b := range balances {
		stored[b.Wallet] = b
	}
	wallets := make([]string, 0, len(stored)+len(totals))
	for w := range stored {
		wallets = append(wallets, w)
	}
	for w := range totals {
		if _, ok := stored[w]; !ok {
			wallets = append(wallets, w)
		}
	}
	sort.Strings(wallets)

	report := Report{Checked: len(wallets), RanAt: time.Now().UTC()}
	for _, w := range wallets {
		drifted := false
		for _, f := range []account.Field{account.FieldOil, account.FieldBonds} {
			d := Drift{Wallet: w, Field: f, Ledger: totals[w].Get(f), Stored: stored[w].Get(f)}
			if math.Abs(d.Diff()) <= Tolerance {
				continue
			}
			drifted = true
			report.Drifts = append(report.Drifts, d)
			j.log.WithContext(ctx).
				WithField("wallet", w).
				WithField("field", f).
				WithField("ledger", d.Ledger).
				WithField("stored", d.Stored).
				Warn("balance drift detected")
		}
		if drifted {
			report.Accounts++
		}
	}
	metrics.SetReconcileDrift(report.Accounts)

	j.mu.Lock()
	j.last = report
	j.mu.Unlock()

	j.log.WithContext(ctx).
		WithField("checked", report.Checked).
		WithField("drifted", report.Accounts).
		Info("reconciliation pass finished")
	return report, nil
}
