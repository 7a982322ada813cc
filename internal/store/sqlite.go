package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shopspring/decimal"

	"github.com/foretell/marketex/internal/marketerr"
	"github.com/foretell/marketex/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    balance    TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS markets (
    id                  TEXT PRIMARY KEY,
    slug                TEXT NOT NULL UNIQUE,
    title               TEXT NOT NULL,
    category            TEXT NOT NULL,
    source_url          TEXT NOT NULL,
    resolution_criteria TEXT NOT NULL,
    creator_id          TEXT NOT NULL,
    q_yes               TEXT NOT NULL,
    q_no                TEXT NOT NULL,
    b                   TEXT NOT NULL,
    status              TEXT NOT NULL,
    outcome             TEXT,
    close_at            DATETIME NOT NULL,
    resolved_at         DATETIME,
    created_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    user_id   TEXT NOT NULL,
    market_id TEXT NOT NULL REFERENCES markets(id),
    side      TEXT NOT NULL,
    shares    TEXT NOT NULL,
    avg_price TEXT NOT NULL,
    PRIMARY KEY (user_id, market_id, side)
);

CREATE TABLE IF NOT EXISTS transactions (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    market_id       TEXT NOT NULL REFERENCES markets(id),
    side            TEXT NOT NULL,
    type            TEXT NOT NULL,
    shares          TEXT NOT NULL,
    price_per_share TEXT NOT NULL,
    total_cash      TEXT NOT NULL,
    timestamp       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_market_ts ON transactions(market_id, timestamp);

CREATE TABLE IF NOT EXISTS price_points (
    market_id TEXT NOT NULL REFERENCES markets(id),
    price_yes TEXT NOT NULL,
    price_no  TEXT NOT NULL,
    timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_points_market_ts ON price_points(market_id, timestamp);

CREATE TABLE IF NOT EXISTS resolutions (
    market_id         TEXT PRIMARY KEY REFERENCES markets(id),
    outcome           TEXT NOT NULL,
    source_url        TEXT NOT NULL,
    source_response   TEXT,
    calculation_steps TEXT,
    final_value       TEXT NOT NULL,
    resolved_by       TEXT NOT NULL,
    resolved_at       DATETIME NOT NULL
);
`

// SQLiteStore implements Store over an embedded modernc.org/sqlite
// database: a single process's source of truth, not a client/server
// RDBMS (spec §1's single-embedded-store constraint). WAL and foreign
// key enforcement are turned on once, in Open, on the pool's single
// connection.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens the sqlite database at path, applies the
// schema, and sets the single-writer pragmas.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: apply %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, balance, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Balance.String(), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create user %s: %w", u.ID, err)
	}
	return nil
}

func (s *SQLiteStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO markets
			(id, slug, title, category, source_url, resolution_criteria, creator_id,
			 q_yes, q_no, b, status, outcome, close_at, resolved_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Slug, m.Title, m.Category, m.SourceURL, m.ResolutionCriteria, m.CreatorID,
		m.QYes.String(), m.QNo.String(), m.B.String(), m.Status, outcomeValue(m.Outcome),
		m.CloseAt, m.ResolvedAt, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create market %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, balance, created_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return scanMarket(s.db.QueryRowContext(ctx, marketSelect+` WHERE id = ?`, id))
}

func (s *SQLiteStore) GetPosition(ctx context.Context, userID, marketID string, side model.Side) (*model.Position, error) {
	return scanPosition(s.db.QueryRowContext(ctx,
		positionSelect+` WHERE user_id = ? AND market_id = ? AND side = ?`, userID, marketID, side))
}

func (s *SQLiteStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.db.QueryContext(ctx, marketSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarkets(rows)
}

func (s *SQLiteStore) ListMarketsDue(ctx context.Context, now time.Time) ([]model.Market, error) {
	rows, err := s.db.QueryContext(ctx,
		marketSelect+` WHERE status = ? AND close_at <= ?`, model.StatusOpen, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarkets(rows)
}

func (s *SQLiteStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, positionSelect+` WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *SQLiteStore) ListPositionsBySide(ctx context.Context, marketID string, side model.Side) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		positionSelect+` WHERE market_id = ? AND side = ?`, marketID, side)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *SQLiteStore) ListTransactionsByMarket(ctx context.Context, marketID string) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, market_id, side, type, shares, price_per_share, total_cash, timestamp
		 FROM transactions WHERE market_id = ? ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *SQLiteStore) ListPricePointsByMarket(ctx context.Context, marketID string) ([]model.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT market_id, price_yes, price_no, timestamp
		 FROM price_points WHERE market_id = ? ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var yes, no string
		if err := rows.Scan(&p.MarketID, &yes, &no, &p.Timestamp); err != nil {
			return nil, err
		}
		p.PriceYes, _ = decimal.NewFromString(yes)
		p.PriceNo, _ = decimal.NewFromString(no)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetResolution(ctx context.Context, marketID string) (*model.Resolution, error) {
	var r model.Resolution
	var final string
	err := s.db.QueryRowContext(ctx,
		`SELECT market_id, outcome, source_url, source_response, calculation_steps,
		        final_value, resolved_by, resolved_at
		 FROM resolutions WHERE market_id = ?`, marketID).
		Scan(&r.MarketID, &r.Outcome, &r.SourceURL, &r.SourceResponse, &r.CalculationSteps,
			&final, &r.ResolvedBy, &r.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, marketerr.New(marketerr.KindNotFound, "resolution for market %s not found", marketID)
	}
	if err != nil {
		return nil, err
	}
	r.FinalValue.Scan(final)
	return &r, nil
}

// WithTx opens a *sql.Tx, runs fn against it, and commits or rolls
// back depending on fn's return value.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	if err := fn(&sqliteTx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(t.tx.QueryRowContext(ctx,
		`SELECT id, name, balance, created_at FROM users WHERE id = ?`, id))
}

func (t *sqliteTx) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return scanMarket(t.tx.QueryRowContext(ctx, marketSelect+` WHERE id = ?`, id))
}

func (t *sqliteTx) GetPosition(ctx context.Context, userID, marketID string, side model.Side) (*model.Position, error) {
	return scanPosition(t.tx.QueryRowContext(ctx,
		positionSelect+` WHERE user_id = ? AND market_id = ? AND side = ?`, userID, marketID, side))
}

func (t *sqliteTx) ListPositionsBySide(ctx context.Context, marketID string, side model.Side) ([]model.Position, error) {
	rows, err := t.tx.QueryContext(ctx,
		positionSelect+` WHERE market_id = ? AND side = ?`, marketID, side)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (t *sqliteTx) DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	u, err := t.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Balance.LessThan(amount) {
		return marketerr.New(marketerr.KindInsufficientFunds, "user %s balance %s below %s", userID, u.Balance, amount)
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE users SET balance = ? WHERE id = ?`,
		u.Balance.Sub(amount).String(), userID)
	return err
}

func (t *sqliteTx) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	u, err := t.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE users SET balance = ? WHERE id = ?`,
		u.Balance.Add(amount).String(), userID)
	return err
}

func (t *sqliteTx) UpdateMarketInventory(ctx context.Context, marketID string, qYes, qNo decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE markets SET q_yes = ?, q_no = ? WHERE id = ?`, qYes.String(), qNo.String(), marketID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, marketerr.KindNotFound, "market %s not found", marketID)
}

func (t *sqliteTx) MarkResolved(ctx context.Context, marketID string, outcome model.Side, resolvedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE markets SET status = ?, outcome = ?, resolved_at = ? WHERE id = ?`,
		model.StatusResolved, outcome, resolvedAt, marketID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, marketerr.KindNotFound, "market %s not found", marketID)
}

func (t *sqliteTx) MarkClosed(ctx context.Context, marketID string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE markets SET status = ? WHERE id = ?`, model.StatusClosed, marketID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, marketerr.KindNotFound, "market %s not found", marketID)
}

func (t *sqliteTx) UpsertPosition(ctx context.Context, pos *model.Position) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO positions (user_id, market_id, side, shares, avg_price)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, market_id, side) DO UPDATE SET
		   shares = excluded.shares, avg_price = excluded.avg_price`,
		pos.UserID, pos.MarketID, pos.Side, pos.Shares.String(), pos.AvgPrice.String())
	return err
}

func (t *sqliteTx) DeletePositionIfDust(ctx context.Context, userID, marketID string, side model.Side) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM positions
		 WHERE user_id = ? AND market_id = ? AND side = ? AND CAST(shares AS REAL) < ?`,
		userID, marketID, side, model.DustThreshold.InexactFloat64())
	return err
}

func (t *sqliteTx) AppendTransaction(ctx context.Context, tr *model.Transaction) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions
			(id, user_id, market_id, side, type, shares, price_per_share, total_cash, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.UserID, tr.MarketID, tr.Side, tr.Type,
		tr.Shares.String(), tr.PricePerShare.String(), tr.TotalCash.String(), tr.Timestamp)
	return err
}

func (t *sqliteTx) AppendPricePoint(ctx context.Context, p *model.PricePoint) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO price_points (market_id, price_yes, price_no, timestamp) VALUES (?, ?, ?, ?)`,
		p.MarketID, p.PriceYes.String(), p.PriceNo.String(), p.Timestamp)
	return err
}

func (t *sqliteTx) InsertResolution(ctx context.Context, r *model.Resolution) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO resolutions
			(market_id, outcome, source_url, source_response, calculation_steps,
			 final_value, resolved_by, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MarketID, r.Outcome, r.SourceURL, r.SourceResponse, r.CalculationSteps,
		r.FinalValue, r.ResolvedBy, r.ResolvedAt)
	return err
}

// --- shared scan helpers ---

const marketSelect = `SELECT id, slug, title, category, source_url, resolution_criteria, creator_id,
	q_yes, q_no, b, status, outcome, close_at, resolved_at, created_at FROM markets`

const positionSelect = `SELECT user_id, market_id, side, shares, avg_price FROM positions`

type row interface {
	Scan(dest ...any) error
}

func scanUser(r row) (*model.User, error) {
	var u model.User
	var balance string
	if err := r.Scan(&u.ID, &u.Name, &balance, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, marketerr.New(marketerr.KindNotFound, "user not found")
		}
		return nil, err
	}
	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

func scanMarket(r row) (*model.Market, error) {
	var m model.Market
	var qYes, qNo, b string
	var outcome sql.NullString
	var resolvedAt sql.NullTime
	if err := r.Scan(&m.ID, &m.Slug, &m.Title, &m.Category, &m.SourceURL, &m.ResolutionCriteria, &m.CreatorID,
		&qYes, &qNo, &b, &m.Status, &outcome, &m.CloseAt, &resolvedAt, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, marketerr.New(marketerr.KindNotFound, "market not found")
		}
		return nil, err
	}
	m.QYes, _ = decimal.NewFromString(qYes)
	m.QNo, _ = decimal.NewFromString(qNo)
	m.B, _ = decimal.NewFromString(b)
	if outcome.Valid {
		side := model.Side(outcome.String)
		m.Outcome = &side
	}
	if resolvedAt.Valid {
		m.ResolvedAt = &resolvedAt.Time
	}
	return &m, nil
}

func scanMarkets(rows *sql.Rows) ([]model.Market, error) {
	var out []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanPosition(r row) (*model.Position, error) {
	var p model.Position
	var shares, avg string
	if err := r.Scan(&p.UserID, &p.MarketID, &p.Side, &shares, &avg); err != nil {
		if err == sql.ErrNoRows {
			return nil, marketerr.New(marketerr.KindNotFound, "position not found")
		}
		return nil, err
	}
	p.Shares, _ = decimal.NewFromString(shares)
	p.AvgPrice, _ = decimal.NewFromString(avg)
	return &p, nil
}

func scanPositions(rows *sql.Rows) ([]model.Position, error) {
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var shares, price, total string
		if err := rows.Scan(&t.ID, &t.UserID, &t.MarketID, &t.Side, &t.Type,
			&shares, &price, &total, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Shares, _ = decimal.NewFromString(shares)
		t.PricePerShare, _ = decimal.NewFromString(price)
		t.TotalCash, _ = decimal.NewFromString(total)
		out = append(out, t)
	}
	return out, rows.Err()
}

func outcomeValue(s *model.Side) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func checkRowsAffected(res sql.Result, kind marketerr.Kind, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return marketerr.New(kind, format, args...)
	}
	return nil
}
