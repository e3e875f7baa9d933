package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mreyes/tradereflect/pkg/types"
	"go.uber.org/zap"
)

// SQLiteStore implements Store using a local SQLite file. This is the
// default single-node deployment; the schema mirrors the Postgres one.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id TEXT PRIMARY KEY,
	api_key    TEXT NOT NULL,
	api_secret TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id  TEXT NOT NULL,
	trade_id    TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	price       TEXT NOT NULL,
	quantity    TEXT NOT NULL,
	executed_at INTEGER NOT NULL,
	ingested_at TIMESTAMP NOT NULL,
	UNIQUE (account_id, trade_id)
);

CREATE TABLE IF NOT EXISTS reviews (
	fill_id      INTEGER PRIMARY KEY REFERENCES fills(id),
	user_thought TEXT,
	review_text  TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL DEFAULT '',
	resolved     INTEGER NOT NULL DEFAULT 0,
	claimed_at   TIMESTAMP NOT NULL,
	resolved_at  TIMESTAMP
);
`

// NewSQLiteStore opens (or creates) the SQLite database at path and ensures
// the schema exists.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer at a time; serializing through a single
	// connection keeps the claim insert atomic without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(sqliteSchema)
	if err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info("sqlite-store-opened", zap.String("path", path))

	return &SQLiteStore{
		db:     db,
		logger: logger,
	}, nil
}

// PersistIfAbsent inserts the fill unless (account_id, trade_id) exists.
func (s *SQLiteStore) PersistIfAbsent(ctx context.Context, fill *types.Fill) (bool, error) {
	if fill.IngestedAt.IsZero() {
		fill.IngestedAt = time.Now().UTC()
	}

	query := `
		INSERT OR IGNORE INTO fills (account_id, trade_id, symbol, side, price, quantity, executed_at, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		fill.AccountID,
		fill.TradeID,
		fill.Symbol,
		string(fill.Side),
		fill.Price.String(),
		fill.Quantity.String(),
		fill.ExecutedAt,
		fill.IngestedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert fill: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert rows affected: %w", err)
	}

	if affected == 0 {
		return false, nil
	}

	fill.ID, err = result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("insert last id: %w", err)
	}

	return true, nil
}

// GetFill returns the fill with the given surrogate ID.
func (s *SQLiteStore) GetFill(ctx context.Context, fillID int64) (*types.Fill, error) {
	query := `
		SELECT id, account_id, trade_id, symbol, side, price, quantity, executed_at, ingested_at
		FROM fills WHERE id = ?
	`

	var fill types.Fill
	err := s.db.QueryRowContext(ctx, query, fillID).Scan(
		&fill.ID, &fill.AccountID, &fill.TradeID, &fill.Symbol, &fill.Side,
		&fill.Price, &fill.Quantity, &fill.ExecutedAt, &fill.IngestedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select fill: %w", err)
	}

	return &fill, nil
}

// ListByAccount returns an account's fills, newest execution first.
func (s *SQLiteStore) ListByAccount(ctx context.Context, accountID string) ([]types.Fill, error) {
	query := `
		SELECT id, account_id, trade_id, symbol, side, price, quantity, executed_at, ingested_at
		FROM fills WHERE account_id = ?
		ORDER BY executed_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("select fills: %w", err)
	}
	defer rows.Close()

	return scanFills(rows)
}

// ListSince returns up to limit fills newer than afterID, newest first.
func (s *SQLiteStore) ListSince(ctx context.Context, accountID string, afterID int64, limit int) ([]types.Fill, error) {
	query := `
		SELECT id, account_id, trade_id, symbol, side, price, quantity, executed_at, ingested_at
		FROM fills WHERE account_id = ? AND id > ?
		ORDER BY executed_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, accountID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("select fills since: %w", err)
	}
	defer rows.Close()

	return scanFills(rows)
}

// Claim inserts the review row for the fill; the primary key makes a single
// winner under concurrent invocation.
func (s *SQLiteStore) Claim(ctx context.Context, fillID int64) (bool, error) {
	query := `INSERT OR IGNORE INTO reviews (fill_id, claimed_at) VALUES (?, ?)`

	result, err := s.db.ExecContext(ctx, query, fillID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim review: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}

	return affected == 1, nil
}

// Write resolves a previously claimed review. Refuses to overwrite.
func (s *SQLiteStore) Write(ctx context.Context, fillID int64, userThought *string, text string, kind types.ReviewKind) error {
	query := `
		UPDATE reviews
		SET user_thought = ?, review_text = ?, kind = ?, resolved = 1, resolved_at = ?
		WHERE fill_id = ? AND resolved = 0
	`

	result, err := s.db.ExecContext(ctx, query, userThought, text, string(kind), time.Now().UTC(), fillID)
	if err != nil {
		return fmt.Errorf("write review: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write rows affected: %w", err)
	}

	if affected != 1 {
		return fmt.Errorf("review for fill %d not claimed or already resolved", fillID)
	}

	return nil
}

// Get returns the fill's review, or (nil, nil) when no claim exists.
func (s *SQLiteStore) Get(ctx context.Context, fillID int64) (*types.Review, error) {
	query := `
		SELECT fill_id, user_thought, review_text, kind, resolved, claimed_at, resolved_at
		FROM reviews WHERE fill_id = ?
	`

	var review types.Review
	var kind string
	err := s.db.QueryRowContext(ctx, query, fillID).Scan(
		&review.FillID, &review.UserThought, &review.Text, &kind,
		&review.Resolved, &review.ClaimedAt, &review.ResolvedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select review: %w", err)
	}

	review.Kind = types.ReviewKind(kind)
	return &review, nil
}

// UpsertAccount registers or updates an account's credentials.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, account types.Account) error {
	query := `
		INSERT INTO accounts (account_id, api_key, api_secret, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE
		SET api_key = excluded.api_key, api_secret = excluded.api_secret, updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, account.ID, account.APIKey, account.APISecret, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}

	return nil
}

// GetAccount returns the account with the given ID, or (nil, nil).
func (s *SQLiteStore) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	query := `SELECT account_id, api_key, api_secret FROM accounts WHERE account_id = ?`

	var account types.Account
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(&account.ID, &account.APIKey, &account.APISecret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}

	return &account, nil
}

// ListAccounts returns every tracked account.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]types.Account, error) {
	query := `SELECT account_id, api_key, api_secret FROM accounts ORDER BY account_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var accounts []types.Account
	for rows.Next() {
		var account types.Account
		err = rows.Scan(&account.ID, &account.APIKey, &account.APISecret)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing-sqlite-store")
	return s.db.Close()
}
