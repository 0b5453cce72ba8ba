// Package postgres implements the persistence collaborator on PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/matisarralde/finanzas-pwa/pkg/api"
	"github.com/matisarralde/finanzas-pwa/pkg/rules"
)

//go:embed 001_schema.sql
var migrationSQL string

// uniqueViolation is the PostgreSQL error code for unique-constraint
// violations.
const uniqueViolation = "23505"

// Config holds the PostgreSQL store configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

// Store persists accounts, transactions, rules and categories.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ api.Store = (*Store)(nil)

// New connects to PostgreSQL and runs migrations.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
	)

	s := &Store{pool: pool, logger: logger}

	if _, err := pool.Exec(ctx, migrationSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("closed PostgreSQL connection pool")
	}
}

// EnsureUser creates the user row if it does not exist yet.
func (s *Store) EnsureUser(ctx context.Context, userID, email string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, userID, email)
	if err != nil {
		return fmt.Errorf("ensuring user: %w", err)
	}
	return nil
}

// InsertTransaction persists a transaction. A unique violation on the
// fingerprint column is reported as api.ErrDuplicate so a racing worker's
// losing insert is distinguishable from a real failure.
func (s *Store) InsertTransaction(ctx context.Context, txn *api.Transaction) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (
			user_id, account_id, txn_date, amount, currency, description,
			merchant, category_id, subcategory_id, payment_method, source, hash_dedupe
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`,
		txn.UserID,
		txn.AccountID,
		txn.Date,
		txn.Amount.String(),
		txn.Currency,
		txn.Description,
		nullString(txn.Merchant),
		txn.CategoryID,
		txn.SubcategoryID,
		nullString(txn.PaymentMethod),
		string(txn.Source),
		txn.Fingerprint,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return api.ErrDuplicate
		}
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

// FingerprintExists reports whether a transaction with the given
// fingerprint is already stored. Fast path only; the unique index on
// hash_dedupe remains the authority.
func (s *Store) FingerprintExists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE hash_dedupe = $1)
	`, fingerprint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking fingerprint: %w", err)
	}
	return exists, nil
}

// GetOrCreateAccount returns the account for (user, institution), creating
// it on first sight. The insert uses ON CONFLICT DO NOTHING so concurrent
// first-sight resolution for the same pair converges on a single row.
func (s *Store) GetOrCreateAccount(ctx context.Context, userID, institution string) (*api.Account, error) {
	account := &api.Account{
		UserID:      userID,
		Name:        fmt.Sprintf("Cuenta %s", institution),
		Institution: institution,
		Type:        "credit",
		Currency:    "CLP",
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, name, institution, type, currency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, institution) DO NOTHING
		RETURNING id, created_at
	`, userID, account.Name, institution, account.Type, account.Currency).
		Scan(&account.ID, &account.CreatedAt)
	if err == nil {
		s.logger.Info("created account", "user_id", userID, "institution", institution)
		return account, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	// Lost the insert race or the account already existed: read it back.
	err = s.pool.QueryRow(ctx, `
		SELECT id, name, type, currency, created_at
		FROM accounts
		WHERE user_id = $1 AND institution = $2
	`, userID, institution).
		Scan(&account.ID, &account.Name, &account.Type, &account.Currency, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("fetching account: %w", err)
	}
	return account, nil
}

// CreateRule validates and persists a categorization rule. Invalid
// patterns, unknown fields and unknown actions are rejected here, at
// creation time.
func (s *Store) CreateRule(ctx context.Context, rule *api.Rule) error {
	if err := rules.Validate(*rule); err != nil {
		return err
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO rules (user_id, pattern, field, action, value, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`,
		rule.UserID,
		rule.Pattern,
		string(rule.Field),
		string(rule.Action),
		rule.Value,
		rule.Priority,
	).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// ListRules returns the user's rules in creation order. The rule engine
// sorts by priority itself; creation order here preserves the documented
// tie-break for equal priorities.
func (s *Store) ListRules(ctx context.Context, userID string) ([]api.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, pattern, field, action, value, priority, created_at
		FROM rules
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer rows.Close()

	var out []api.Rule
	for rows.Next() {
		var r api.Rule
		var field, action string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Pattern, &field, &action, &r.Value, &r.Priority, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		r.Field = api.RuleField(field)
		r.Action = api.RuleAction(action)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListTransactions returns all of the user's transactions.
func (s *Store) ListTransactions(ctx context.Context, userID string) ([]*api.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, account_id, txn_date, amount::text, currency, description,
		       merchant, category_id, subcategory_id, payment_method, source,
		       hash_dedupe, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY txn_date DESC, created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var out []*api.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

// UpdateTransactionCategory assigns the category and subcategory of one
// transaction.
func (s *Store) UpdateTransactionCategory(ctx context.Context, txnID int64, categoryID, subcategoryID *int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE transactions
		SET category_id = $2, subcategory_id = $3
		WHERE id = $1
	`, txnID, categoryID, subcategoryID)
	if err != nil {
		return fmt.Errorf("updating transaction category: %w", err)
	}
	return nil
}

func scanTransaction(rows pgx.Rows) (*api.Transaction, error) {
	var (
		txn           api.Transaction
		amount        string
		merchant      *string
		paymentMethod *string
		source        string
	)
	err := rows.Scan(
		&txn.ID, &txn.UserID, &txn.AccountID, &txn.Date, &amount, &txn.Currency,
		&txn.Description, &merchant, &txn.CategoryID, &txn.SubcategoryID,
		&paymentMethod, &source, &txn.Fingerprint, &txn.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}

	txn.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parsing stored amount %q: %w", amount, err)
	}
	if merchant != nil {
		txn.Merchant = *merchant
	}
	if paymentMethod != nil {
		txn.PaymentMethod = *paymentMethod
	}
	txn.Source = api.TransactionSource(source)
	return &txn, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
