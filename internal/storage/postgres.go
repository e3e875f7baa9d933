package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mreyes/tradereflect/pkg/types"
	"go.uber.org/zap"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id TEXT PRIMARY KEY,
	api_key    TEXT NOT NULL,
	api_secret TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fills (
	id          BIGSERIAL PRIMARY KEY,
	account_id  TEXT NOT NULL,
	trade_id    TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	price       NUMERIC NOT NULL,
	quantity    NUMERIC NOT NULL,
	executed_at BIGINT NOT NULL,
	ingested_at TIMESTAMPTZ NOT NULL,
	UNIQUE (account_id, trade_id)
);

CREATE TABLE IF NOT EXISTS reviews (
	fill_id      BIGINT PRIMARY KEY REFERENCES fills(id),
	user_thought TEXT,
	review_text  TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL DEFAULT '',
	resolved     BOOLEAN NOT NULL DEFAULT FALSE,
	claimed_at   TIMESTAMPTZ NOT NULL,
	resolved_at  TIMESTAMPTZ
);
`

// NewPostgresStore creates a new PostgreSQL store and ensures the schema
// exists.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	_, err = db.Exec(postgresSchema)
	if err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	cfg.Logger.Info("postgres-store-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresStore{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// PersistIfAbsent inserts the fill unless (account_id, trade_id) exists.
// Dedup rides on the unique constraint, so overlapping poll windows are safe
// even across processes.
func (p *PostgresStore) PersistIfAbsent(ctx context.Context, fill *types.Fill) (bool, error) {
	if fill.IngestedAt.IsZero() {
		fill.IngestedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO fills (account_id, trade_id, symbol, side, price, quantity, executed_at, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, trade_id) DO NOTHING
		RETURNING id
	`

	err := p.db.QueryRowContext(ctx, query,
		fill.AccountID,
		fill.TradeID,
		fill.Symbol,
		string(fill.Side),
		fill.Price,
		fill.Quantity,
		fill.ExecutedAt,
		fill.IngestedAt,
	).Scan(&fill.ID)

	if errors.Is(err, sql.ErrNoRows) {
		// Conflict: the fill is already known.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert fill: %w", err)
	}

	return true, nil
}

// GetFill returns the fill with the given surrogate ID.
func (p *PostgresStore) GetFill(ctx context.Context, fillID int64) (*types.Fill, error) {
	query := `
		SELECT id, account_id, trade_id, symbol, side, price, quantity, executed_at, ingested_at
		FROM fills WHERE id = $1
	`

	var fill types.Fill
	err := p.db.QueryRowContext(ctx, query, fillID).Scan(
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
func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string) ([]types.Fill, error) {
	query := `
		SELECT id, account_id, trade_id, symbol, side, price, quantity, executed_at, ingested_at
		FROM fills WHERE account_id = $1
		ORDER BY executed_at DESC
	`

	rows, err := p.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("select fills: %w", err)
	}
	defer rows.Close()

	return scanFills(rows)
}

// ListSince returns up to limit fills newer than afterID, newest first.
func (p *PostgresStore) ListSince(ctx context.Context, accountID string, afterID int64, limit int) ([]types.Fill, error) {
	query := `
		SELECT id, account_id, trade_id, symbol, side, price, quantity, executed_at, ingested_at
		FROM fills WHERE account_id = $1 AND id > $2
		ORDER BY executed_at DESC
		LIMIT $3
	`

	rows, err := p.db.QueryContext(ctx, query, accountID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("select fills since: %w", err)
	}
	defer rows.Close()

	return scanFills(rows)
}

func scanFills(rows *sql.Rows) ([]types.Fill, error) {
	var fills []types.Fill
	for rows.Next() {
		var fill types.Fill
		err := rows.Scan(
			&fill.ID, &fill.AccountID, &fill.TradeID, &fill.Symbol, &fill.Side,
			&fill.Price, &fill.Quantity, &fill.ExecutedAt, &fill.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		fills = append(fills, fill)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate fills: %w", err)
	}

	return fills, nil
}

// Claim inserts the review row for the fill. The primary key makes this a
// single-winner operation under concurrent invocation.
func (p *PostgresStore) Claim(ctx context.Context, fillID int64) (bool, error) {
	query := `
		INSERT INTO reviews (fill_id, claimed_at)
		VALUES ($1, $2)
		ON CONFLICT (fill_id) DO NOTHING
	`

	result, err := p.db.ExecContext(ctx, query, fillID, time.Now().UTC())
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
func (p *PostgresStore) Write(ctx context.Context, fillID int64, userThought *string, text string, kind types.ReviewKind) error {
	query := `
		UPDATE reviews
		SET user_thought = $2, review_text = $3, kind = $4, resolved = TRUE, resolved_at = $5
		WHERE fill_id = $1 AND NOT resolved
	`

	result, err := p.db.ExecContext(ctx, query, fillID, userThought, text, string(kind), time.Now().UTC())
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
func (p *PostgresStore) Get(ctx context.Context, fillID int64) (*types.Review, error) {
	query := `
		SELECT fill_id, user_thought, review_text, kind, resolved, claimed_at, resolved_at
		FROM reviews WHERE fill_id = $1
	`

	var review types.Review
	var kind string
	err := p.db.QueryRowContext(ctx, query, fillID).Scan(
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
func (p *PostgresStore) UpsertAccount(ctx context.Context, account types.Account) error {
	query := `
		INSERT INTO accounts (account_id, api_key, api_secret, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (account_id) DO UPDATE
		SET api_key = EXCLUDED.api_key, api_secret = EXCLUDED.api_secret, updated_at = now()
	`

	_, err := p.db.ExecContext(ctx, query, account.ID, account.APIKey, account.APISecret)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}

	return nil
}

// GetAccount returns the account with the given ID, or (nil, nil).
func (p *PostgresStore) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	query := `SELECT account_id, api_key, api_secret FROM accounts WHERE account_id = $1`

	var account types.Account
	err := p.db.QueryRowContext(ctx, query, accountID).Scan(&account.ID, &account.APIKey, &account.APISecret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}

	return &account, nil
}

// ListAccounts returns every tracked account.
func (p *PostgresStore) ListAccounts(ctx context.Context) ([]types.Account, error) {
	query := `SELECT account_id, api_key, api_secret FROM accounts ORDER BY account_id`

	rows, err := p.db.QueryContext(ctx, query)
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
func (p *PostgresStore) Close() error {
	p.logger.Info("closing-postgres-store")
	return p.db.Close()
}
