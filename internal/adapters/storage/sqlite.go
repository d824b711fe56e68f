package storage

// sqlite.go — record store plus escrow ledger in one database.
//
// Layout:
//   - `protocol`: the registry singleton, always row id=1.
//   - `duels`: one row per duel, upserted on every transition.
//   - `accounts`: external balances per identity (stands in for the
//     host ledger's native accounts).
//   - `escrows`: one isolated balance per duel.
//
// Keeping balances next to the records is what makes settlement atomic:
// fund movement, status flip and registry totals share one SQL transaction.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexgmz/dueld/internal/domain"
	"github.com/alexgmz/dueld/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS protocol (
    id           INTEGER PRIMARY KEY CHECK (id = 1),
    authority    TEXT    NOT NULL,
    treasury     TEXT    NOT NULL,
    oracle       TEXT    NOT NULL,
    fee_bps      INTEGER NOT NULL,
    total_duels  INTEGER NOT NULL DEFAULT 0,
    total_volume INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS duels (
    id                   TEXT PRIMARY KEY,
    creator              TEXT    NOT NULL,
    opponent             TEXT    NOT NULL DEFAULT '',
    stake_amount         INTEGER NOT NULL,
    created_at           TEXT    NOT NULL,
    start_time           TEXT    NOT NULL DEFAULT '',
    end_time             TEXT    NOT NULL DEFAULT '',
    duration_secs        INTEGER NOT NULL,
    status               TEXT    NOT NULL,
    winner               TEXT    NOT NULL,
    creator_deposited    INTEGER NOT NULL DEFAULT 0,
    opponent_deposited   INTEGER NOT NULL DEFAULT 0,
    allowed_tokens       TEXT    NOT NULL DEFAULT '[]',
    creator_start_value  INTEGER NOT NULL DEFAULT 0,
    opponent_start_value INTEGER NOT NULL DEFAULT 0,
    creator_final_value  INTEGER NOT NULL DEFAULT 0,
    opponent_final_value INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS accounts (
    identity TEXT PRIMARY KEY,
    balance  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS escrows (
    duel_id TEXT PRIMARY KEY,
    balance INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_duels_created ON duels(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_duels_status  ON duels(status);
`

// SQLiteStore implements ports.Store using SQLite (pure Go, no CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ExecTx runs fn inside one transaction; fn returning an error rolls
// everything back, leaving no partial effect.
func (s *SQLiteStore) ExecTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.ExecTx: begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.ExecTx: commit: %w", err)
	}
	return nil
}

// GetProtocol returns the registry singleton.
func (s *SQLiteStore) GetProtocol(ctx context.Context) (*domain.Protocol, error) {
	return getProtocol(ctx, s.db)
}

// GetDuel returns one duel by ID.
func (s *SQLiteStore) GetDuel(ctx context.Context, id string) (*domain.Duel, error) {
	return getDuel(ctx, s.db, id)
}

// ListDuels returns every duel, newest first.
func (s *SQLiteStore) ListDuels(ctx context.Context) ([]domain.Duel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+duelColumns+` FROM duels ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListDuels: query: %w", err)
	}
	defer rows.Close()

	var duels []domain.Duel
	for rows.Next() {
		d, err := scanDuel(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListDuels: %w", err)
		}
		duels = append(duels, *d)
	}
	return duels, rows.Err()
}

// AccountBalance returns the external balance of an identity. Unknown
// identities hold zero.
func (s *SQLiteStore) AccountBalance(ctx context.Context, identity string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE identity = ?`, identity,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage.AccountBalance: %w", err)
	}
	return balance, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- transactional view ---

// sqlTx implements ports.Tx on top of one *sql.Tx.
type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqlTx) GetProtocol() (*domain.Protocol, error) {
	return getProtocol(t.ctx, t.tx)
}

func (t *sqlTx) PutProtocol(p *domain.Protocol) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO protocol (id, authority, treasury, oracle, fee_bps, total_duels, total_volume)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			authority    = excluded.authority,
			treasury     = excluded.treasury,
			oracle       = excluded.oracle,
			fee_bps      = excluded.fee_bps,
			total_duels  = excluded.total_duels,
			total_volume = excluded.total_volume
	`, p.Authority, p.Treasury, p.Oracle, p.FeeBps, p.TotalDuels, p.TotalVolume)
	if err != nil {
		return fmt.Errorf("storage.PutProtocol: %w", err)
	}
	return nil
}

func (t *sqlTx) GetDuel(id string) (*domain.Duel, error) {
	return getDuel(t.ctx, t.tx, id)
}

func (t *sqlTx) PutDuel(d *domain.Duel) error {
	tokens, err := json.Marshal(d.AllowedTokens)
	if err != nil {
		return fmt.Errorf("storage.PutDuel: marshal tokens: %w", err)
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO duels
			(id, creator, opponent, stake_amount, created_at, start_time, end_time,
			 duration_secs, status, winner, creator_deposited, opponent_deposited,
			 allowed_tokens, creator_start_value, opponent_start_value,
			 creator_final_value, opponent_final_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			opponent             = excluded.opponent,
			start_time           = excluded.start_time,
			end_time             = excluded.end_time,
			status               = excluded.status,
			winner               = excluded.winner,
			creator_deposited    = excluded.creator_deposited,
			opponent_deposited   = excluded.opponent_deposited,
			creator_start_value  = excluded.creator_start_value,
			opponent_start_value = excluded.opponent_start_value,
			creator_final_value  = excluded.creator_final_value,
			opponent_final_value = excluded.opponent_final_value
	`,
		d.ID, d.Creator, d.Opponent, d.StakeAmount,
		encodeTime(d.CreatedAt), encodeTime(d.StartTime), encodeTime(d.EndTime),
		int64(d.Duration/time.Second), string(d.Status), string(d.Winner),
		boolToInt(d.CreatorDeposited), boolToInt(d.OpponentDeposited),
		string(tokens),
		d.CreatorStartValue, d.OpponentStartValue,
		d.CreatorFinalValue, d.OpponentFinalValue,
	)
	if err != nil {
		return fmt.Errorf("storage.PutDuel: upsert %s: %w", d.ID, err)
	}
	return nil
}

func (t *sqlTx) Credit(identity string, amount int64) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO accounts (identity, balance) VALUES (?, ?)
		ON CONFLICT(identity) DO UPDATE SET balance = balance + excluded.balance
	`, identity, amount)
	if err != nil {
		return fmt.Errorf("storage.Credit: %s: %w", identity, err)
	}
	return nil
}

// Deposit moves amount from the payer's account into the duel's escrow.
// The guarded UPDATE makes the balance check and the debit one statement.
func (t *sqlTx) Deposit(duelID, payer string, amount int64) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE accounts SET balance = balance - ? WHERE identity = ? AND balance >= ?`,
		amount, payer, amount,
	)
	if err != nil {
		return fmt.Errorf("storage.Deposit: debit %s: %w", payer, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInsufficientFunds
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO escrows (duel_id, balance) VALUES (?, ?)
		ON CONFLICT(duel_id) DO UPDATE SET balance = balance + excluded.balance
	`, duelID, amount)
	if err != nil {
		return fmt.Errorf("storage.Deposit: credit escrow %s: %w", duelID, err)
	}
	return nil
}

// Disburse pays amount out of the duel's escrow to the recipient, capped
// by the escrow's current balance.
func (t *sqlTx) Disburse(duelID, recipient string, amount int64) error {
	if amount == 0 {
		return nil
	}
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE escrows SET balance = balance - ? WHERE duel_id = ? AND balance >= ?`,
		amount, duelID, amount,
	)
	if err != nil {
		return fmt.Errorf("storage.Disburse: debit escrow %s: %w", duelID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInsufficientFunds
	}

	return t.Credit(recipient, amount)
}

func (t *sqlTx) EscrowBalance(duelID string) (int64, error) {
	var balance int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT balance FROM escrows WHERE duel_id = ?`, duelID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage.EscrowBalance: %w", err)
	}
	return balance, nil
}

// --- shared row helpers ---

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const duelColumns = `id, creator, opponent, stake_amount, created_at, start_time, end_time,
	duration_secs, status, winner, creator_deposited, opponent_deposited,
	allowed_tokens, creator_start_value, opponent_start_value,
	creator_final_value, opponent_final_value`

func getProtocol(ctx context.Context, q queryer) (*domain.Protocol, error) {
	var p domain.Protocol
	err := q.QueryRowContext(ctx,
		`SELECT authority, treasury, oracle, fee_bps, total_duels, total_volume FROM protocol WHERE id = 1`,
	).Scan(&p.Authority, &p.Treasury, &p.Oracle, &p.FeeBps, &p.TotalDuels, &p.TotalVolume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("storage.getProtocol: %w", err)
	}
	return &p, nil
}

func getDuel(ctx context.Context, q queryer, id string) (*domain.Duel, error) {
	row := q.QueryRowContext(ctx, `SELECT `+duelColumns+` FROM duels WHERE id = ?`, id)
	d, err := scanDuel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDuelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage.getDuel: %s: %w", id, err)
	}
	return d, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDuel(row scanner) (*domain.Duel, error) {
	var (
		d                              domain.Duel
		createdAt, startTime, endTime  string
		durationSecs                   int64
		status, winner, tokens         string
		creatorDeposited, oppDeposited int
	)
	err := row.Scan(
		&d.ID, &d.Creator, &d.Opponent, &d.StakeAmount,
		&createdAt, &startTime, &endTime,
		&durationSecs, &status, &winner,
		&creatorDeposited, &oppDeposited, &tokens,
		&d.CreatorStartValue, &d.OpponentStartValue,
		&d.CreatorFinalValue, &d.OpponentFinalValue,
	)
	if err != nil {
		return nil, err
	}

	d.CreatedAt = decodeTime(createdAt)
	d.StartTime = decodeTime(startTime)
	d.EndTime = decodeTime(endTime)
	d.Duration = time.Duration(durationSecs) * time.Second
	d.Status = domain.Status(status)
	d.Winner = domain.Winner(winner)
	d.CreatorDeposited = creatorDeposited == 1
	d.OpponentDeposited = oppDeposited == 1

	if err := json.Unmarshal([]byte(tokens), &d.AllowedTokens); err != nil {
		return nil, fmt.Errorf("unmarshal tokens: %w", err)
	}
	return &d, nil
}

// encodeTime stores timestamps as RFC3339; the zero time becomes "".
func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
