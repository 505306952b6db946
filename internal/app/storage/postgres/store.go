package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/settlement_layer/internal/app/domain/account"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/settlement_layer/internal/app/domain/unit"
	"github.com/R3E-Network/settlement_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:  sqlx.NewDb(db, "postgres"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

const uniqueViolation = "23505"

// mapErr translates driver errors into storage sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return storage.ErrDuplicate
	}
	return err
}

// --- AccountStore -----------------------------------------------------------

const accountColumns = `wallet, COALESCE(referrer_wallet, '') AS referrer_wallet, progression_level, initialized, created_at, updated_at`

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	now := s.now()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (wallet, referrer_wallet, progression_level, initialized, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
	`, acct.Wallet, acct.ReferrerWallet, acct.ProgressionLevel, acct.Initialized, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, mapErr(err)
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, wallet string) (account.Account, error) {
	var acct account.Account
	err := s.db.GetContext(ctx, &acct, `SELECT `+accountColumns+` FROM accounts WHERE wallet = $1`, wallet)
	if err != nil {
		return account.Account{}, mapErr(err)
	}
	return acct, nil
}

func (s *Store) MarkInitialized(ctx context.Context, wallet string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET initialized = TRUE, updated_at = $2
		WHERE wallet = $1 AND initialized = FALSE
	`, wallet, s.now())
	if err != nil {
		return false, err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return true, nil
	}
	if _, err := s.GetAccount(ctx, wallet); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) SetReferrer(ctx context.Context, wallet, referrer string) (account.Account, error) {
	var acct account.Account
	err := s.db.GetContext(ctx, &acct, `
		UPDATE accounts SET referrer_wallet = $2, updated_at = $3
		WHERE wallet = $1 AND referrer_wallet IS NULL
		RETURNING `+accountColumns, wallet, referrer, s.now())
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, err
	}

	existing, err := s.GetAccount(ctx, wallet)
	if err != nil {
		return account.Account{}, err
	}
	if existing.ReferrerWallet != referrer {
		return existing, storage.ErrConflict
	}
	return existing, nil
}

func (s *Store) SetProgressionLevel(ctx context.Context, wallet string, from, to int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET progression_level = $3, updated_at = $4
		WHERE wallet = $1 AND progression_level = $2
	`, wallet, from, to, s.now())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}
	if _, err := s.GetAccount(ctx, wallet); err != nil {
		return err
	}
	return storage.ErrConflict
}

func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM accounts`)
	return n, err
}

func (s *Store) CountReferred(ctx context.Context, referrer string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM accounts WHERE referrer_wallet = $1`, referrer)
	return n, err
}

// --- BalanceStore -----------------------------------------------------------

const balanceColumns = `wallet, oil, bonds, version, updated_at`

func (s *Store) GetBalance(ctx context.Context, wallet string) (account.Balance, error) {
	var bal account.Balance
	err := s.db.GetContext(ctx, &bal, `SELECT `+balanceColumns+` FROM balances WHERE wallet = $1`, wallet)
	if err != nil {
		return account.Balance{}, mapErr(err)
	}
	return bal, nil
}

func (s *Store) UpsertAdd(ctx context.Context, wallet string, field account.Field, delta float64) (account.Balance, error) {
	if !field.Valid() {
		return account.Balance{}, fmt.Errorf("unknown balance field %q", field)
	}
	var oil, bonds float64
	if field == account.FieldOil {
		oil = delta
	} else {
		bonds = delta
	}

	var bal account.Balance
	err := s.db.GetContext(ctx, &bal, `
		INSERT INTO balances (wallet, oil, bonds, version, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (wallet) DO UPDATE SET
			oil = balances.oil + EXCLUDED.oil,
			bonds = balances.bonds + EXCLUDED.bonds,
			version = balances.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING `+balanceColumns, wallet, oil, bonds, s.now())
	if err != nil {
		return account.Balance{}, err
	}
	return bal, nil
}

func (s *Store) SetAbsolute(ctx context.Context, wallet string, field account.Field, value float64, expectedVersion int64) (account.Balance, error) {
	if !field.Valid() {
		return account.Balance{}, fmt.Errorf("unknown balance field %q", field)
	}

	var bal account.Balance
	query := fmt.Sprintf(`
		UPDATE balances SET %s = $2, version = version + 1, updated_at = $4
		WHERE wallet = $1 AND version = $3
		RETURNING %s`, string(field), balanceColumns)
	err := s.db.GetContext(ctx, &bal, query, wallet, value, expectedVersion, s.now())
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return account.Balance{}, err
	}
	if _, err := s.GetBalance(ctx, wallet); err != nil {
		return account.Balance{}, err
	}
	return account.Balance{}, storage.ErrConflict
}

func (s *Store) ListBalances(ctx context.Context) ([]account.Balance, error) {
	var out []account.Balance
	err := s.db.SelectContext(ctx, &out, `SELECT `+balanceColumns+` FROM balances ORDER BY wallet`)
	return out, err
}

// --- UnitStore --------------------------------------------------------------

const unitColumns = `id, wallet, tier, level, hp_base, fuel, grip_pct, created_at, updated_at`

func (s *Store) CreateUnits(ctx context.Context, units []unit.Unit) ([]unit.Unit, error) {
	if len(units) == 0 {
		return nil, nil
	}
	now := s.now()
	out := make([]unit.Unit, len(units))
	for i, u := range units {
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		u.UpdatedAt = now
		out[i] = u
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO units (id, wallet, tier, level, hp_base, fuel, grip_pct, created_at, updated_at)
		VALUES (:id, :wallet, :tier, :level, :hp_base, :fuel, :grip_pct, :created_at, :updated_at)
	`, out)
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) GetUnit(ctx context.Context, id string) (unit.Unit, error) {
	var u unit.Unit
	err := s.db.GetContext(ctx, &u, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id)
	if err != nil {
		return unit.Unit{}, mapErr(err)
	}
	return u, nil
}

func (s *Store) UpdateUnit(ctx context.Context, u unit.Unit) (unit.Unit, error) {
	var out unit.Unit
	err := s.db.GetContext(ctx, &out, `
		UPDATE units
		SET tier = $2, level = $3, hp_base = $4, fuel = $5, grip_pct = $6, updated_at = $7
		WHERE id = $1
		RETURNING `+unitColumns, u.ID, u.Tier, u.Level, u.HPBase, u.Fuel, u.GripPct, s.now())
	if err != nil {
		return unit.Unit{}, mapErr(err)
	}
	return out, nil
}

func (s *Store) DeleteUnit(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM units WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListUnits(ctx context.Context, wallet string) ([]unit.Unit, error) {
	var out []unit.Unit
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+unitColumns+` FROM units
		WHERE wallet = $1
		ORDER BY created_at, id
	`, wallet)
	return out, err
}

func (s *Store) SetEquipped(ctx context.Context, wallet string, unitIDs []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(unitIDs) > 0 {
		var owned int
		if err := tx.GetContext(ctx, &owned, `
			SELECT COUNT(*) FROM units WHERE wallet = $1 AND id = ANY($2)
		`, wallet, pq.Array(unitIDs)); err != nil {
			return err
		}
		if owned != len(unitIDs) {
			return storage.ErrNotFound
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM equipped_units WHERE wallet = $1`, wallet); err != nil {
		return err
	}
	for slot, id := range unitIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO equipped_units (wallet, unit_id, slot) VALUES ($1, $2, $3)
		`, wallet, id, slot); err != nil {
			return mapErr(err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListEquipped(ctx context.Context, wallet string) ([]unit.Unit, error) {
	var out []unit.Unit
	err := s.db.SelectContext(ctx, &out, `
		SELECT u.id, u.wallet, u.tier, u.level, u.hp_base, u.fuel, u.grip_pct, u.created_at, u.updated_at
		FROM equipped_units e
		JOIN units u ON u.id = e.unit_id
		WHERE e.wallet = $1
		ORDER BY e.slot
	`, wallet)
	return out, err
}

func (s *Store) ListAllEquipped(ctx context.Context) ([]unit.Unit, error) {
	var out []unit.Unit
	err := s.db.SelectContext(ctx, &out, `
		SELECT u.id, u.wallet, u.tier, u.level, u.hp_base, u.fuel, u.grip_pct, u.created_at, u.updated_at
		FROM equipped_units e
		JOIN units u ON u.id = e.unit_id
		ORDER BY u.created_at, u.id
	`)
	return out, err
}

// --- LedgerStore ------------------------------------------------------------

type entryRow struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Wallet    string    `db:"wallet"`
	Field     string    `db:"field"`
	Amount    float64   `db:"amount"`
	Meta      []byte    `db:"meta"`
	CreatedAt time.Time `db:"created_at"`
}

func (r entryRow) toEntry() ledger.Entry {
	e := ledger.Entry{
		ID:        r.ID,
		Kind:      ledger.Kind(r.Kind),
		Wallet:    r.Wallet,
		Field:     account.Field(r.Field),
		Amount:    r.Amount,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Meta) > 0 {
		_ = json.Unmarshal(r.Meta, &e.Meta)
	}
	return e
}

func (s *Store) AppendEntries(ctx context.Context, entries ...ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := s.now()
	rows := make([]entryRow, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		var meta []byte
		if len(e.Meta) > 0 {
			raw, err := json.Marshal(e.Meta)
			if err != nil {
				return fmt.Errorf("marshal ledger meta: %w", err)
			}
			meta = raw
		}
		rows[i] = entryRow{
			ID:        e.ID,
			Kind:      string(e.Kind),
			Wallet:    e.Wallet,
			Field:     string(e.Field),
			Amount:    e.Amount,
			Meta:      meta,
			CreatedAt: e.CreatedAt,
		}
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO ledger_entries (id, kind, wallet, field, amount, meta, created_at)
		VALUES (:id, :kind, :wallet, :field, :amount, :meta, :created_at)
	`, rows)
	return mapErr(err)
}

func (s *Store) ListEntries(ctx context.Context, q ledger.Query) ([]ledger.Entry, error) {
	where, args := queryFilter(q, "wallet", "kind")
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, kind, wallet, field, amount, meta, created_at
		FROM ledger_entries`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT `+limitArg(&args, q), args...)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.toEntry()
	}
	return out, nil
}

func (s *Store) BalanceTotals(ctx context.Context) (map[string]account.Balance, error) {
	var rows []struct {
		Wallet string  `db:"wallet"`
		Field  string  `db:"field"`
		Total  float64 `db:"total"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT wallet, field, SUM(amount) AS total
		FROM ledger_entries
		WHERE field <> ''
		GROUP BY wallet, field
	`)
	if err != nil {
		return nil, err
	}
	out := make(map[string]account.Balance)
	for _, r := range rows {
		b := out[r.Wallet]
		b.Wallet = r.Wallet
		b.Set(account.Field(r.Field), r.Total)
		out[r.Wallet] = b
	}
	return out, nil
}

func (s *Store) KindTotals(ctx context.Context) (map[ledger.Kind]float64, error) {
	var rows []struct {
		Kind  string  `db:"kind"`
		Total float64 `db:"total"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT kind, SUM(amount) AS total FROM ledger_entries GROUP BY kind
	`)
	if err != nil {
		return nil, err
	}
	out := make(map[ledger.Kind]float64, len(rows))
	for _, r := range rows {
		out[ledger.Kind(r.Kind)] = r.Total
	}
	return out, nil
}

// queryFilter renders q as a WHERE clause. kindColumn may be empty for
// collections without a kind.
func queryFilter(q ledger.Query, walletColumn, kindColumn string) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Wallet != "" {
		add(walletColumn+" = $%d", q.Wallet)
	}
	if q.Kind != "" && kindColumn != "" {
		add(kindColumn+" = $%d", string(q.Kind))
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("created_at < $%d", q.To)
	}
	if len(conds) == 0 {
		return "", args
	}
	return "\n\t\tWHERE " + strings.Join(conds, " AND "), args
}

func limitArg(args *[]interface{}, q ledger.Query) string {
	*args = append(*args, q.Normalize().Limit)
	return fmt.Sprintf("$%d", len(*args))
}

// --- ClaimStore -------------------------------------------------------------

const claimColumns = `id, wallet, season_id, amount, motor_power_at_claim, network_share_pct, hours_since_last_claim, previous_claim_at, created_at`

func (s *Store) AppendClaim(ctx context.Context, c ledger.ClaimRecord) (ledger.ClaimRecord, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO claim_records (`+claimColumns+`)
		VALUES (:id, :wallet, :season_id, :amount, :motor_power_at_claim, :network_share_pct,
			:hours_since_last_claim, :previous_claim_at, :created_at)
	`, c)
	if err != nil {
		return ledger.ClaimRecord{}, mapErr(err)
	}
	return c, nil
}

func (s *Store) LastClaim(ctx context.Context, wallet string) (ledger.ClaimRecord, error) {
	var c ledger.ClaimRecord
	err := s.db.GetContext(ctx, &c, `
		SELECT `+claimColumns+` FROM claim_records
		WHERE wallet = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, wallet)
	if err != nil {
		return ledger.ClaimRecord{}, mapErr(err)
	}
	return c, nil
}

func (s *Store) ListClaims(ctx context.Context, q ledger.Query) ([]ledger.ClaimRecord, error) {
	where, args := queryFilter(q, "wallet", "")
	var out []ledger.ClaimRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+claimColumns+` FROM claim_records`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT `+limitArg(&args, q), args...)
	return out, err
}

func (s *Store) TopClaimers(ctx context.Context, limit int) ([]storage.ClaimTotal, error) {
	if limit <= 0 || limit > ledger.MaxQueryLimit {
		limit = ledger.MaxQueryLimit
	}
	var rows []struct {
		Wallet  string  `db:"wallet"`
		Total   float64 `db:"total"`
		Claims  int     `db:"claims"`
		Invites int     `db:"invites"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT c.wallet, SUM(c.amount) AS total, COUNT(*) AS claims,
			(SELECT COUNT(*) FROM accounts a WHERE a.referrer_wallet = c.wallet) AS invites
		FROM claim_records c
		GROUP BY c.wallet
		ORDER BY total DESC, c.wallet
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]storage.ClaimTotal, len(rows))
	for i, r := range rows {
		out[i] = storage.ClaimTotal{Wallet: r.Wallet, Total: r.Total, Claims: r.Claims, Invites: r.Invites}
	}
	return out, nil
}

// --- ReferralStore ----------------------------------------------------------

const referralColumns = `id, referrer_wallet, referred_wallet, generation, percentage, amount, source_claim_id, created_at`

func (s *Store) AppendReferralEarning(ctx context.Context, e ledger.ReferralEarning) (ledger.ReferralEarning, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO referral_earnings (`+referralColumns+`)
		VALUES (:id, :referrer_wallet, :referred_wallet, :generation, :percentage, :amount, :source_claim_id, :created_at)
	`, e)
	if err != nil {
		return ledger.ReferralEarning{}, mapErr(err)
	}
	return e, nil
}

func (s *Store) ListReferralEarnings(ctx context.Context, q ledger.Query) ([]ledger.ReferralEarning, error) {
	where, args := queryFilter(q, "referrer_wallet", "")
	var out []ledger.ReferralEarning
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+referralColumns+` FROM referral_earnings`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT `+limitArg(&args, q), args...)
	return out, err
}

// --- PaymentStore -----------------------------------------------------------

func (s *Store) InsertProcessedPayment(ctx context.Context, p ledger.ProcessedPayment) (ledger.ProcessedPayment, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO processed_payments (tx_id, wallet, amount, cluster, method, created_at)
		VALUES (:tx_id, :wallet, :amount, :cluster, :method, :created_at)
	`, p)
	if err != nil {
		return ledger.ProcessedPayment{}, mapErr(err)
	}
	return p, nil
}

func (s *Store) GetProcessedPayment(ctx context.Context, txID string) (ledger.ProcessedPayment, error) {
	var p ledger.ProcessedPayment
	err := s.db.GetContext(ctx, &p, `
		SELECT tx_id, wallet, amount, cluster, method, created_at
		FROM processed_payments WHERE tx_id = $1
	`, txID)
	if err != nil {
		return ledger.ProcessedPayment{}, mapErr(err)
	}
	return p, nil
}

// --- GrantStore -------------------------------------------------------------

func (s *Store) AppendPackOpenings(ctx context.Context, openings []ledger.PackOpening) error {
	if len(openings) == 0 {
		return nil
	}
	now := s.now()
	rows := make([]ledger.PackOpening, len(openings))
	for i, o := range openings {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		rows[i] = o
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO pack_openings (id, wallet, pack_type, tier, unit_id, cost, created_at)
		VALUES (:id, :wallet, :pack_type, :tier, :unit_id, :cost, :created_at)
	`, rows)
	return mapErr(err)
}

func (s *Store) CountPackOpeningsSince(ctx context.Context, wallet string, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM pack_openings WHERE wallet = $1 AND created_at >= $2
	`, wallet, since)
	return n, err
}

func (s *Store) AppendUpgrade(ctx context.Context, r ledger.UpgradeRecord) (ledger.UpgradeRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO upgrade_records (id, wallet, from_level, to_level, cost, created_at)
		VALUES (:id, :wallet, :from_level, :to_level, :cost, :created_at)
	`, r)
	if err != nil {
		return ledger.UpgradeRecord{}, mapErr(err)
	}
	return r, nil
}

func (s *Store) LastUpgrade(ctx context.Context, wallet string) (ledger.UpgradeRecord, error) {
	var r ledger.UpgradeRecord
	err := s.db.GetContext(ctx, &r, `
		SELECT id, wallet, from_level, to_level, cost, created_at
		FROM upgrade_records
		WHERE wallet = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, wallet)
	if err != nil {
		return ledger.UpgradeRecord{}, mapErr(err)
	}
	return r, nil
}
