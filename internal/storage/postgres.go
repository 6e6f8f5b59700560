package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/blockadesystems/acmeforge/internal/model"
)

// Querier defines common methods implemented by *sql.DB and *sql.Tx, so the
// helper functions below work with either a pool or a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgreSQLStorage is the durable backend, substitutable for the in-memory
// store without touching the pipeline or the engines.
type PostgreSQLStorage struct {
	db *sql.DB
}

var _ Storage = (*PostgreSQLStorage)(nil)

// NewPostgreSQLStorage creates a new PostgreSQLStorage instance and ensures the schema exists.
func NewPostgreSQLStorage(dbHost string, dbUser string, dbPassword string, dbName string, dbPort int, dbSSLMode string) (*PostgreSQLStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		dbHost, dbUser, dbPassword, dbName, dbPort, dbSSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		logger.Error("Failed to open PostgreSQL connection", zap.Error(err))
		return nil, fmt.Errorf("storage: failed to open PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		logger.Error("Failed to ping PostgreSQL database", zap.Error(err), zap.String("host", dbHost), zap.Int("port", dbPort), zap.String("dbname", dbName))
		return nil, fmt.Errorf("storage: failed to connect to PostgreSQL database: %w", err)
	}

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer schemaCancel()
	if err := ensureSchema(schemaCtx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &PostgreSQLStorage{db: db}
	logger.Info("PostgreSQLStorage initialized", zap.String("host", dbHost), zap.String("dbname", dbName))
	return s, nil
}

// ensureSchema creates tables and indexes if they don't exist.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS acme_nonces ( value TEXT PRIMARY KEY, issued_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE INDEX IF NOT EXISTS idx_acme_nonces_issued_at ON acme_nonces (issued_at);`,
		`CREATE TABLE IF NOT EXISTS acme_accounts ( id BIGSERIAL PRIMARY KEY, thumbprint TEXT NOT NULL UNIQUE, public_key_jwk JSONB NOT NULL, contact TEXT[], status TEXT NOT NULL, tos_agreed BOOLEAN NOT NULL DEFAULT false, eab JSONB, created_at TIMESTAMP WITH TIME ZONE NOT NULL, updated_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE TABLE IF NOT EXISTS acme_orders ( id TEXT PRIMARY KEY, account_id TEXT NOT NULL, status TEXT NOT NULL, expires_at TIMESTAMP WITH TIME ZONE NOT NULL, identifiers_json JSONB NOT NULL, authorizations TEXT[] NOT NULL, finalize_url TEXT NOT NULL, certificate_url TEXT, created_at TIMESTAMP WITH TIME ZONE NOT NULL, updated_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE INDEX IF NOT EXISTS idx_acme_orders_account_id ON acme_orders (account_id);`,
		`CREATE TABLE IF NOT EXISTS acme_authorizations ( id TEXT PRIMARY KEY, order_id TEXT NOT NULL, identifier_json JSONB NOT NULL, status TEXT NOT NULL, expires_at TIMESTAMP WITH TIME ZONE NOT NULL, challenges_json JSONB NOT NULL, wildcard BOOLEAN NOT NULL DEFAULT false, created_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE INDEX IF NOT EXISTS idx_acme_authorizations_order_id ON acme_authorizations (order_id);`,
	}

	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			logger.Error("Failed to execute schema statement", zap.Error(err), zap.Int("statement_index", i), zap.String("statement", stmt))
			return fmt.Errorf("storage: failed to initialize database schema: %w", err)
		}
	}
	logger.Info("Database schema initialization check complete")
	return nil
}

// Close shuts down the database connection pool.
func (s *PostgreSQLStorage) Close() error {
	logger.Info("Closing database connection pool")
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- Nonces ---

func (s *PostgreSQLStorage) SaveNonce(ctx context.Context, nonce *model.Nonce) error {
	return saveNonce(ctx, s.db, nonce)
}
func (s *PostgreSQLStorage) TakeNonce(ctx context.Context, value string) (*model.Nonce, error) {
	return takeNonce(ctx, s.db, value)
}
func (s *PostgreSQLStorage) GetNonce(ctx context.Context, value string) (*model.Nonce, error) {
	return getNonce(ctx, s.db, value)
}
func (s *PostgreSQLStorage) DeleteNoncesIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return deleteNoncesIssuedBefore(ctx, s.db, cutoff)
}
func (s *PostgreSQLStorage) DeleteOldestNonce(ctx context.Context) error {
	return deleteOldestNonce(ctx, s.db)
}
func (s *PostgreSQLStorage) CountNonces(ctx context.Context) (int, error) {
	return countNonces(ctx, s.db)
}

func saveNonce(ctx context.Context, q Querier, nonce *model.Nonce) error {
	query := `INSERT INTO acme_nonces (value, issued_at) VALUES ($1, $2)`
	if _, err := q.ExecContext(ctx, query, nonce.Value, nonce.IssuedAt); err != nil {
		return fmt.Errorf("storage: failed to save nonce: %w", err)
	}
	return nil
}

// takeNonce deletes unconditionally: expiry is judged by the caller, and a
// nonce is never revalidated once removed.
func takeNonce(ctx context.Context, q Querier, value string) (*model.Nonce, error) {
	query := `DELETE FROM acme_nonces WHERE value = $1 RETURNING value, issued_at`
	var nonce model.Nonce
	err := q.QueryRowContext(ctx, query, value).Scan(&nonce.Value, &nonce.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // unknown or already consumed
		}
		return nil, fmt.Errorf("storage: failed to take nonce: %w", err)
	}
	return &nonce, nil
}

func getNonce(ctx context.Context, q Querier, value string) (*model.Nonce, error) {
	query := `SELECT value, issued_at FROM acme_nonces WHERE value = $1`
	var nonce model.Nonce
	err := q.QueryRowContext(ctx, query, value).Scan(&nonce.Value, &nonce.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: failed to get nonce: %w", err)
	}
	return &nonce, nil
}

func deleteNoncesIssuedBefore(ctx context.Context, q Querier, cutoff time.Time) (int64, error) {
	query := `DELETE FROM acme_nonces WHERE issued_at < $1`
	res, err := q.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: failed to delete expired nonces: %w", err)
	}
	rowsAffected, _ := res.RowsAffected()
	if rowsAffected > 0 {
		logger.Info("Deleted expired nonces", zap.Int64("count", rowsAffected))
	}
	return rowsAffected, nil
}

func deleteOldestNonce(ctx context.Context, q Querier) error {
	query := `DELETE FROM acme_nonces WHERE value IN (SELECT value FROM acme_nonces ORDER BY issued_at ASC LIMIT 1)`
	if _, err := q.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("storage: failed to delete oldest nonce: %w", err)
	}
	return nil
}

func countNonces(ctx context.Context, q Querier) (int, error) {
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM acme_nonces`).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage: failed to count nonces: %w", err)
	}
	return count, nil
}

// --- Accounts ---

func (s *PostgreSQLStorage) CreateAccount(ctx context.Context, acct *model.Account) (*model.Account, bool, error) {
	return createAccount(ctx, s.db, acct)
}
func (s *PostgreSQLStorage) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return getAccountWhere(ctx, s.db, `id::text = $1`, id)
}
func (s *PostgreSQLStorage) GetAccountByThumbprint(ctx context.Context, thumbprint string) (*model.Account, error) {
	return getAccountWhere(ctx, s.db, `thumbprint = $1`, thumbprint)
}

// createAccount relies on the unique thumbprint constraint for the
// exactly-once guarantee: the insert either wins and returns the new row's id,
// or loses the race and the existing row is fetched instead.
func createAccount(ctx context.Context, q Querier, acct *model.Account) (*model.Account, bool, error) {
	query := `
        INSERT INTO acme_accounts (thumbprint, public_key_jwk, contact, status, tos_agreed, eab, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (thumbprint) DO NOTHING
        RETURNING id::text`
	var eabArg interface{}
	if len(acct.ExternalAccountBinding) > 0 {
		eabArg = []byte(acct.ExternalAccountBinding)
	}
	var id string
	err := q.QueryRowContext(ctx, query,
		acct.Thumbprint,
		[]byte(acct.PublicKeyJWK),
		pq.Array(acct.Contact),
		acct.Status,
		acct.TermsOfServiceAgreed,
		eabArg,
		acct.CreatedAt,
		acct.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			existing, getErr := getAccountWhere(ctx, q, `thumbprint = $1`, acct.Thumbprint)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing == nil {
				return nil, false, fmt.Errorf("storage: account insert conflicted but no row found for thumbprint")
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("storage: failed to create account: %w", err)
	}
	stored := *acct
	stored.ID = id
	logger.Debug("Account created", zap.String("accountID", stored.ID))
	return &stored, true, nil
}

func getAccountWhere(ctx context.Context, q Querier, where string, arg interface{}) (*model.Account, error) {
	query := `SELECT id::text, thumbprint, public_key_jwk, contact, status, tos_agreed, eab, created_at, updated_at FROM acme_accounts WHERE ` + where
	var acct model.Account
	var contacts pq.StringArray
	var jwkJSON, eabJSON []byte
	err := q.QueryRowContext(ctx, query, arg).Scan(&acct.ID, &acct.Thumbprint, &jwkJSON, &contacts, &acct.Status, &acct.TermsOfServiceAgreed, &eabJSON, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: failed to get account: %w", err)
	}
	acct.Contact = []string(contacts)
	acct.PublicKeyJWK = json.RawMessage(jwkJSON)
	if len(eabJSON) > 0 {
		acct.ExternalAccountBinding = json.RawMessage(eabJSON)
	}
	return &acct, nil
}

// --- Orders ---

func (s *PostgreSQLStorage) SaveOrder(ctx context.Context, order *model.Order) error {
	return saveOrder(ctx, s.db, order)
}
func (s *PostgreSQLStorage) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return getOrder(ctx, s.db, id)
}
func (s *PostgreSQLStorage) GetOrdersByAccountID(ctx context.Context, accountID string) ([]*model.Order, error) {
	return getOrdersByAccountID(ctx, s.db, accountID)
}

func saveOrder(ctx context.Context, q Querier, order *model.Order) error {
	identifiersJSON, err := json.Marshal(order.Identifiers)
	if err != nil {
		return fmt.Errorf("storage: failed to marshal order identifiers: %w", err)
	}
	query := `
        INSERT INTO acme_orders (id, account_id, status, expires_at, identifiers_json, authorizations, finalize_url, certificate_url, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status, certificate_url = EXCLUDED.certificate_url, updated_at = EXCLUDED.updated_at`
	var certURL sql.NullString
	if order.CertificateURL != "" {
		certURL = sql.NullString{String: order.CertificateURL, Valid: true}
	}
	_, err = q.ExecContext(ctx, query, order.ID, order.AccountID, order.Status, order.Expires,
		identifiersJSON, pq.Array(order.Authorizations), order.FinalizeURL, certURL, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save order '%s': %w", order.ID, err)
	}
	logger.Debug("Order saved", zap.String("orderID", order.ID))
	return nil
}

func getOrder(ctx context.Context, q Querier, id string) (*model.Order, error) {
	query := `SELECT id, account_id, status, expires_at, identifiers_json, authorizations, finalize_url, certificate_url, created_at, updated_at FROM acme_orders WHERE id = $1`
	row := q.QueryRowContext(ctx, query, id)
	order, err := scanOrder(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: failed to get order '%s': %w", id, err)
	}
	return order, nil
}

func getOrdersByAccountID(ctx context.Context, q Querier, accountID string) ([]*model.Order, error) {
	query := `SELECT id, account_id, status, expires_at, identifiers_json, authorizations, finalize_url, certificate_url, created_at, updated_at FROM acme_orders WHERE account_id = $1 ORDER BY created_at`
	rows, err := q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to query orders for account '%s': %w", accountID, err)
	}
	defer rows.Close()
	orders := make([]*model.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: failed to scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: error iterating order rows: %w", err)
	}
	return orders, nil
}

func scanOrder(scan func(dest ...interface{}) error) (*model.Order, error) {
	var order model.Order
	var identifiersJSON []byte
	var authorizations pq.StringArray
	var certURL sql.NullString
	err := scan(&order.ID, &order.AccountID, &order.Status, &order.Expires, &identifiersJSON,
		&authorizations, &order.FinalizeURL, &certURL, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(identifiersJSON, &order.Identifiers); err != nil {
		return nil, fmt.Errorf("unmarshal identifiers: %w", err)
	}
	order.Authorizations = []string(authorizations)
	if certURL.Valid {
		order.CertificateURL = certURL.String
	}
	return &order, nil
}

// --- Authorizations ---

func (s *PostgreSQLStorage) SaveAuthorization(ctx context.Context, authz *model.Authorization) error {
	return saveAuthorization(ctx, s.db, authz)
}
func (s *PostgreSQLStorage) GetAuthorization(ctx context.Context, id string) (*model.Authorization, error) {
	return getAuthorization(ctx, s.db, id)
}
func (s *PostgreSQLStorage) GetAuthorizationsByOrderID(ctx context.Context, orderID string) ([]*model.Authorization, error) {
	return getAuthorizationsByOrderID(ctx, s.db, orderID)
}

func saveAuthorization(ctx context.Context, q Querier, authz *model.Authorization) error {
	identifierJSON, err := json.Marshal(authz.Identifier)
	if err != nil {
		return fmt.Errorf("storage: failed to marshal authorization identifier: %w", err)
	}
	challengesJSON, err := json.Marshal(authz.Challenges)
	if err != nil {
		return fmt.Errorf("storage: failed to marshal authorization challenges: %w", err)
	}
	query := `
        INSERT INTO acme_authorizations (id, order_id, identifier_json, status, expires_at, challenges_json, wildcard, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status, challenges_json = EXCLUDED.challenges_json`
	_, err = q.ExecContext(ctx, query, authz.ID, authz.OrderID, identifierJSON, authz.Status,
		authz.Expires, challengesJSON, authz.Wildcard, authz.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save authorization '%s': %w", authz.ID, err)
	}
	logger.Debug("Authorization saved", zap.String("authzID", authz.ID))
	return nil
}

func getAuthorization(ctx context.Context, q Querier, id string) (*model.Authorization, error) {
	query := `SELECT id, order_id, identifier_json, status, expires_at, challenges_json, wildcard, created_at FROM acme_authorizations WHERE id = $1`
	row := q.QueryRowContext(ctx, query, id)
	authz, err := scanAuthorization(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: failed to get authorization '%s': %w", id, err)
	}
	return authz, nil
}

func getAuthorizationsByOrderID(ctx context.Context, q Querier, orderID string) ([]*model.Authorization, error) {
	query := `SELECT id, order_id, identifier_json, status, expires_at, challenges_json, wildcard, created_at FROM acme_authorizations WHERE order_id = $1 ORDER BY created_at`
	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to query authorizations for order '%s': %w", orderID, err)
	}
	defer rows.Close()
	authzs := make([]*model.Authorization, 0)
	for rows.Next() {
		authz, err := scanAuthorization(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: failed to scan authorization row: %w", err)
		}
		authzs = append(authzs, authz)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: error iterating authorization rows: %w", err)
	}
	return authzs, nil
}

func scanAuthorization(scan func(dest ...interface{}) error) (*model.Authorization, error) {
	var authz model.Authorization
	var identifierJSON, challengesJSON []byte
	err := scan(&authz.ID, &authz.OrderID, &identifierJSON, &authz.Status, &authz.Expires,
		&challengesJSON, &authz.Wildcard, &authz.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(identifierJSON, &authz.Identifier); err != nil {
		return nil, fmt.Errorf("unmarshal identifier: %w", err)
	}
	if err := json.Unmarshal(challengesJSON, &authz.Challenges); err != nil {
		return nil, fmt.Errorf("unmarshal challenges: %w", err)
	}
	return &authz, nil
}
