package settle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRepository persists accounts, matches and the transaction ledger.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(databaseURL string) (*PostgresRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates the tables on first boot. Idempotent.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			balance DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_wins INTEGER NOT NULL DEFAULT 0,
			total_losses INTEGER NOT NULL DEFAULT 0,
			level INTEGER NOT NULL DEFAULT 1,
			experience INTEGER NOT NULL DEFAULT 0,
			stats JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id BIGSERIAL PRIMARY KEY,
			session_code TEXT NOT NULL UNIQUE,
			game_type TEXT NOT NULL,
			players JSONB NOT NULL DEFAULT '[]',
			bet_amount DOUBLE PRECISION NOT NULL,
			total_pot DOUBLE PRECISION NOT NULL,
			commission DOUBLE PRECISION NOT NULL,
			winner_id TEXT,
			result TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES accounts(id),
			kind TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			balance_before DOUBLE PRECISION NOT NULL,
			balance_after DOUBLE PRECISION NOT NULL,
			reference TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			processed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, id DESC)`,
	}
	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) Account(ctx context.Context, userID string) (*UserAccount, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, display_name, balance, total_wins, total_losses,
		level, experience, stats, created_at, updated_at FROM accounts WHERE id = $1`, userID)
	return scanAccount(row)
}

func (r *PostgresRepository) UpsertAccount(ctx context.Context, acct *UserAccount) error {
	level := acct.Level
	if level < 1 {
		level = 1
	}
	statsRaw, _ := json.Marshal(acct.Stats)
	if acct.Stats == nil {
		statsRaw = []byte(`{}`)
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO accounts (id, display_name, balance, level, stats)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE accounts.display_name END,
			updated_at = now()`,
		acct.ID, acct.DisplayName, acct.Balance, level, string(statsRaw))
	return err
}

func (r *PostgresRepository) ApplySettlement(ctx context.Context, plan *Plan) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if plan.Match != nil {
		m := plan.Match
		playersRaw, _ := json.Marshal(m.Players)
		var id int64
		err := tx.QueryRowContext(ctx, `INSERT INTO matches
			(session_code, game_type, players, bet_amount, total_pot, commission, winner_id, result, status)
			VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9)
			ON CONFLICT (session_code) DO NOTHING
			RETURNING id`,
			strings.ToUpper(m.SessionCode), m.GameType, string(playersRaw),
			m.BetAmount, m.TotalPot, m.Commission, m.WinnerID, m.Result, m.Status,
		).Scan(&id)
		if err == sql.ErrNoRows {
			return ErrAlreadySettled
		}
		if err != nil {
			return err
		}
	}

	for _, e := range plan.Entries {
		if _, err := applyEntryTx(ctx, tx, e); err != nil {
			return err
		}
	}

	for _, d := range plan.Stats {
		acct, err := lockAccountOrCreate(ctx, tx, d.UserID)
		if err != nil {
			return err
		}
		applyStats(acct, d)
		statsRaw, _ := json.Marshal(acct.Stats)
		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET total_wins = $2, total_losses = $3,
			level = $4, experience = $5, stats = $6, updated_at = now() WHERE id = $1`,
			acct.ID, acct.TotalWins, acct.TotalLosses, acct.Level, acct.Experience, string(statsRaw)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PostgresRepository) CreatePending(ctx context.Context, txn *Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	acct, err := lockAccountOrCreate(ctx, tx, txn.UserID)
	if err != nil {
		return err
	}
	err = tx.QueryRowContext(ctx, `INSERT INTO transactions
		(user_id, kind, amount, balance_before, balance_after, reference, status, description)
		VALUES ($1,$2,$3,$4,$4,$5,$6,$7)
		ON CONFLICT (reference) DO NOTHING
		RETURNING id, created_at`,
		txn.UserID, txn.Kind, txn.Amount, acct.Balance, txn.Reference, TxPending, txn.Description,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err == sql.ErrNoRows {
		return ErrDuplicateRef
	}
	if err != nil {
		return err
	}
	txn.BalanceBefore = acct.Balance
	txn.BalanceAfter = acct.Balance
	txn.Status = TxPending
	return tx.Commit()
}

func (r *PostgresRepository) CompleteDeposit(ctx context.Context, reference string) (*Transaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT id, user_id, kind, amount, balance_before, balance_after,
		reference, status, description, created_at, processed_at
		FROM transactions WHERE reference = $1 FOR UPDATE`, reference)
	txn, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}
	if txn.Status == TxCompleted {
		return txn, nil
	}
	if txn.Status != TxPending {
		return nil, ErrNoTransaction
	}

	acct, err := lockAccount(ctx, tx, txn.UserID)
	if err != nil {
		return nil, err
	}
	txn.BalanceBefore = acct.Balance
	txn.BalanceAfter = acct.Balance + txn.Amount
	txn.Status = TxCompleted
	txn.ProcessedAt = time.Now()

	if _, err := tx.ExecContext(ctx, `UPDATE transactions SET balance_before = $2, balance_after = $3,
		status = $4, processed_at = $5 WHERE id = $1`,
		txn.ID, txn.BalanceBefore, txn.BalanceAfter, txn.Status, txn.ProcessedAt); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = $2, updated_at = now() WHERE id = $1`,
		acct.ID, txn.BalanceAfter); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *PostgresRepository) ApplyEntry(ctx context.Context, entry LedgerEntry) (*Transaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txn, err := applyEntryTx(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return txn, nil
}

// applyEntryTx writes one completed ledger entry and the paired balance
// update inside the caller's transaction. The account row stays locked until
// the caller commits, so multi-entry plans cannot interleave.
func applyEntryTx(ctx context.Context, tx *sql.Tx, entry LedgerEntry) (*Transaction, error) {
	acct, err := lockAccountOrCreate(ctx, tx, entry.UserID)
	if err != nil {
		return nil, err
	}
	after := acct.Balance + entry.Amount
	if after < 0 {
		return nil, ErrInsufficientFunds
	}

	now := time.Now()
	txn := &Transaction{
		UserID:        entry.UserID,
		Kind:          entry.Kind,
		Amount:        entry.Amount,
		BalanceBefore: acct.Balance,
		BalanceAfter:  after,
		Reference:     entry.Reference,
		Status:        TxCompleted,
		Description:   entry.Description,
		ProcessedAt:   now,
	}
	err = tx.QueryRowContext(ctx, `INSERT INTO transactions
		(user_id, kind, amount, balance_before, balance_after, reference, status, description, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (reference) DO NOTHING
		RETURNING id, created_at`,
		txn.UserID, txn.Kind, txn.Amount, txn.BalanceBefore, txn.BalanceAfter,
		txn.Reference, txn.Status, txn.Description, txn.ProcessedAt,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDuplicateRef
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = $2, updated_at = now() WHERE id = $1`,
		acct.ID, after); err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *PostgresRepository) TransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, user_id, kind, amount, balance_before, balance_after,
		reference, status, description, created_at, processed_at
		FROM transactions WHERE reference = $1`, reference)
	return scanTransaction(row)
}

func (r *PostgresRepository) TransactionsByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, kind, amount, balance_before, balance_after,
		reference, status, description, created_at, processed_at
		FROM transactions WHERE user_id = $1 ORDER BY id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, txn)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) MatchBySession(ctx context.Context, sessionCode string) (*Match, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, session_code, game_type, players, bet_amount,
		total_pot, commission, COALESCE(winner_id, ''), result, status, created_at
		FROM matches WHERE session_code = $1`, strings.ToUpper(sessionCode))

	m := &Match{}
	var playersRaw []byte
	err := row.Scan(&m.ID, &m.SessionCode, &m.GameType, &playersRaw, &m.BetAmount,
		&m.TotalPot, &m.Commission, &m.WinnerID, &m.Result, &m.Status, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(playersRaw) > 0 {
		_ = json.Unmarshal(playersRaw, &m.Players)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*UserAccount, error) {
	acct := &UserAccount{}
	var statsRaw []byte
	err := row.Scan(&acct.ID, &acct.DisplayName, &acct.Balance, &acct.TotalWins, &acct.TotalLosses,
		&acct.Level, &acct.Experience, &statsRaw, &acct.CreatedAt, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoAccount
	}
	if err != nil {
		return nil, err
	}
	acct.Stats = make(map[string]GameStats)
	if len(statsRaw) > 0 {
		_ = json.Unmarshal(statsRaw, &acct.Stats)
	}
	return acct, nil
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	txn := &Transaction{}
	var processed sql.NullTime
	err := row.Scan(&txn.ID, &txn.UserID, &txn.Kind, &txn.Amount, &txn.BalanceBefore, &txn.BalanceAfter,
		&txn.Reference, &txn.Status, &txn.Description, &txn.CreatedAt, &processed)
	if err == sql.ErrNoRows {
		return nil, ErrNoTransaction
	}
	if err != nil {
		return nil, err
	}
	if processed.Valid {
		txn.ProcessedAt = processed.Time
	}
	return txn, nil
}

func lockAccount(ctx context.Context, tx *sql.Tx, userID string) (*UserAccount, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, display_name, balance, total_wins, total_losses,
		level, experience, stats, created_at, updated_at FROM accounts WHERE id = $1 FOR UPDATE`, userID)
	return scanAccount(row)
}

func lockAccountOrCreate(ctx context.Context, tx *sql.Tx, userID string) (*UserAccount, error) {
	acct, err := lockAccount(ctx, tx, userID)
	if err != ErrNoAccount {
		return acct, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID); err != nil {
		return nil, err
	}
	return lockAccount(ctx, tx, userID)
}
