/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements consigne.Store and consigne.TxStore using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  operations: The four operation collections in one table, keyed by
              (kind, id). Draft rows are mutable behind a version check;
              validated rows are frozen by WHERE status = 'draft' guards.
  balances:   One row per (client_code, site_code), written only through
              UpsertBalance.

ORDERING:
  created_at is stored as a fixed-width UTC timestamp (nanosecond
  precision, constant fractional digits) so lexicographic ORDER BY
  matches chronological order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection so the
  ":memory:" database is shared across the pool. WithTx holds the write
  lock for the whole transaction; the engine's per-key locks serialize
  writers on the same balance key above this layer.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers
  don't block, single writer at a time, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/consigne.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  svc := consigne.NewService(st, logger)

SEE ALSO:
  - consigne/store.go: Interface definitions
  - consigne/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/palletdesk/consigne-engine/consigne"
)

// tsFormat keeps a constant fractional width so stored timestamps sort
// lexicographically in chronological order.
const tsFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements consigne.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: ":memory:" databases are per-connection, and the
	// single-writer model needs no pool.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- The four operation collections. IDs are unique within a kind.
	CREATE TABLE IF NOT EXISTS operations (
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		client_code TEXT NOT NULL,
		site_code TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		created_at TEXT NOT NULL,
		business_date TEXT,
		amount TEXT NOT NULL DEFAULT '0',
		pallets_out INTEGER NOT NULL DEFAULT 0,
		pallets_returned INTEGER NOT NULL DEFAULT 0,
		pallets_to_deconsign INTEGER NOT NULL DEFAULT 0,
		pallets_deconsigned INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (kind, id)
	);

	-- Aggregate scans and statement loads (hot path)
	CREATE INDEX IF NOT EXISTS idx_operations_key_kind_status
		ON operations(client_code, site_code, kind, status, created_at);

	CREATE INDEX IF NOT EXISTS idx_operations_status
		ON operations(status);

	-- Authoritative recomputed balance per (client, site)
	CREATE TABLE IF NOT EXISTS balances (
		client_code TEXT NOT NULL,
		site_code TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (client_code, site_code)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// OPERATION REPOSITORY (consigne.OperationRepository interface)
// =============================================================================

func (s *Store) Cautions(ctx context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOps(ctx, s.db, consigne.KindCaution, key, filter)
}

func (s *Store) Consignations(ctx context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOps(ctx, s.db, consigne.KindConsignation, key, filter)
}

func (s *Store) Deconsignations(ctx context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOps(ctx, s.db, consigne.KindDeconsignation, key, filter)
}

func (s *Store) Restitutions(ctx context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOps(ctx, s.db, consigne.KindRestitution, key, filter)
}

const opColumns = `id, kind, client_code, site_code, status, created_at, business_date,
       amount, pallets_out, pallets_returned, pallets_to_deconsign, pallets_deconsigned, version`

func listOps(ctx context.Context, db dbtx, kind consigne.Kind, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	query := `
		SELECT ` + opColumns + `
		FROM operations
		WHERE kind = ? AND client_code = ? AND site_code = ?`
	args := []any{kind, key.Client, key.Site}

	switch filter {
	case consigne.ValidatedOnly:
		query += ` AND status = ?`
		args = append(args, consigne.StatusValidated)
	case consigne.DraftOnly:
		query += ` AND status = ?`
		args = append(args, consigne.StatusDraft)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []consigne.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanOperation(rows *sql.Rows) (consigne.Operation, error) {
	var (
		op           consigne.Operation
		createdAt    string
		businessDate sql.NullString
		amount       string
	)

	err := rows.Scan(
		&op.ID, &op.Kind, &op.Client, &op.Site, &op.Status,
		&createdAt, &businessDate, &amount,
		&op.PalletsOut, &op.PalletsReturned, &op.PalletsToDeconsign, &op.PalletsDeconsigned,
		&op.Version,
	)
	if err != nil {
		return op, fmt.Errorf("failed to scan operation: %w", err)
	}

	op.CreatedAt, err = time.Parse(tsFormat, createdAt)
	if err != nil {
		return op, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if businessDate.Valid && businessDate.String != "" {
		op.BusinessDate, _ = time.Parse(tsFormat, businessDate.String)
	}
	op.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return op, fmt.Errorf("failed to parse amount: %w", err)
	}

	return op, nil
}

// =============================================================================
// OPERATION STORE (consigne.OperationStore interface)
// =============================================================================

func (s *Store) Get(ctx context.Context, kind consigne.Kind, id consigne.OperationID) (consigne.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getOp(ctx, s.db, kind, id)
}

func getOp(ctx context.Context, db dbtx, kind consigne.Kind, id consigne.OperationID) (consigne.Operation, error) {
	query := `
		SELECT ` + opColumns + `
		FROM operations
		WHERE kind = ? AND id = ?`

	rows, err := db.QueryContext(ctx, query, kind, id)
	if err != nil {
		return consigne.Operation{}, fmt.Errorf("failed to query operation: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return consigne.Operation{}, err
		}
		return consigne.Operation{}, consigne.ErrOperationNotFound
	}
	return scanOperation(rows)
}

func (s *Store) Insert(ctx context.Context, op consigne.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertOp(ctx, s.db, op)
}

func insertOp(ctx context.Context, db dbtx, op consigne.Operation) error {
	query := `
		INSERT INTO operations
		(id, kind, client_code, site_code, status, created_at, business_date,
		 amount, pallets_out, pallets_returned, pallets_to_deconsign, pallets_deconsigned, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		op.ID,
		op.Kind,
		op.Client,
		op.Site,
		op.Status,
		op.CreatedAt.UTC().Format(tsFormat),
		formatBusinessDate(op.BusinessDate),
		op.Amount.String(),
		op.PalletsOut,
		op.PalletsReturned,
		op.PalletsToDeconsign,
		op.PalletsDeconsigned,
		op.Version,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("operation %s/%s already exists: %w", op.Kind, op.ID, err)
		}
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, op consigne.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateOp(ctx, s.db, op)
}

func updateOp(ctx context.Context, db dbtx, op consigne.Operation) error {
	query := `
		UPDATE operations
		SET amount = ?, pallets_out = ?, pallets_returned = ?,
		    pallets_to_deconsign = ?, pallets_deconsigned = ?,
		    business_date = ?, version = version + 1
		WHERE kind = ? AND id = ? AND version = ? AND status = ?
	`

	res, err := db.ExecContext(ctx, query,
		op.Amount.String(),
		op.PalletsOut,
		op.PalletsReturned,
		op.PalletsToDeconsign,
		op.PalletsDeconsigned,
		formatBusinessDate(op.BusinessDate),
		op.Kind, op.ID, op.Version, consigne.StatusDraft,
	)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return writeFailure(ctx, db, op.Kind, op.ID, consigne.ErrConcurrentModification)
	}
	return nil
}

// writeFailure reports why a status/version-guarded write matched no row.
func writeFailure(ctx context.Context, db dbtx, kind consigne.Kind, id consigne.OperationID, draftErr error) error {
	existing, err := getOp(ctx, db, kind, id)
	if err != nil {
		return err
	}
	if existing.Status == consigne.StatusValidated {
		return consigne.ErrOperationImmutable
	}
	return draftErr
}

func (s *Store) Delete(ctx context.Context, kind consigne.Kind, id consigne.OperationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteOp(ctx, s.db, kind, id)
}

func deleteOp(ctx context.Context, db dbtx, kind consigne.Kind, id consigne.OperationID) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM operations WHERE kind = ? AND id = ? AND status = ?`,
		kind, id, consigne.StatusDraft,
	)
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return writeFailure(ctx, db, kind, id, consigne.ErrOperationNotFound)
	}
	return nil
}

func (s *Store) MarkValidated(ctx context.Context, kind consigne.Kind, id consigne.OperationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markValidated(ctx, s.db, kind, id)
}

func markValidated(ctx context.Context, db dbtx, kind consigne.Kind, id consigne.OperationID) error {
	res, err := db.ExecContext(ctx,
		`UPDATE operations SET status = ? WHERE kind = ? AND id = ?`,
		consigne.StatusValidated, kind, id,
	)
	if err != nil {
		return fmt.Errorf("failed to validate operation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return consigne.ErrOperationNotFound
	}
	return nil
}

// =============================================================================
// BALANCE STORE (consigne.BalanceStore interface)
// =============================================================================

func (s *Store) Balance(ctx context.Context, key consigne.BalanceKey) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, key)
}

func getBalance(ctx context.Context, db dbtx, key consigne.BalanceKey) (decimal.Decimal, error) {
	var value string
	err := db.QueryRowContext(ctx,
		`SELECT value FROM balances WHERE client_code = ? AND site_code = ?`,
		key.Client, key.Site,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query balance: %w", err)
	}

	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance: %w", err)
	}
	return parsed, nil
}

func (s *Store) UpsertBalance(ctx context.Context, key consigne.BalanceKey, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertBalance(ctx, s.db, key, value)
}

func upsertBalance(ctx context.Context, db dbtx, key consigne.BalanceKey, value decimal.Decimal) error {
	query := `
		INSERT INTO balances (client_code, site_code, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(client_code, site_code)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		key.Client, key.Site, value.String(), time.Now().UTC().Format(tsFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert balance: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (consigne.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The write lock is
// held for the whole transaction.
func (s *Store) WithTx(ctx context.Context, fn func(consigne.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs the same queries against a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) Cautions(ctx context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	return listOps(ctx, t.tx, consigne.KindCaution, key, filter)
}

func (t *txStore) Consignations(ctx context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	return listOps(ctx, t.tx, consigne.KindConsignation, key, filter)
}

func (t *txStore) Deconsignations(ctx context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	return listOps(ctx, t.tx, consigne.KindDeconsignation, key, filter)
}

func (t *txStore) Restitutions(ctx context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	return listOps(ctx, t.tx, consigne.KindRestitution, key, filter)
}

func (t *txStore) Get(ctx context.Context, kind consigne.Kind, id consigne.OperationID) (consigne.Operation, error) {
	return getOp(ctx, t.tx, kind, id)
}

func (t *txStore) Insert(ctx context.Context, op consigne.Operation) error {
	return insertOp(ctx, t.tx, op)
}

func (t *txStore) Update(ctx context.Context, op consigne.Operation) error {
	return updateOp(ctx, t.tx, op)
}

func (t *txStore) Delete(ctx context.Context, kind consigne.Kind, id consigne.OperationID) error {
	return deleteOp(ctx, t.tx, kind, id)
}

func (t *txStore) MarkValidated(ctx context.Context, kind consigne.Kind, id consigne.OperationID) error {
	return markValidated(ctx, t.tx, kind, id)
}

func (t *txStore) Balance(ctx context.Context, key consigne.BalanceKey) (decimal.Decimal, error) {
	return getBalance(ctx, t.tx, key)
}

func (t *txStore) UpsertBalance(ctx context.Context, key consigne.BalanceKey, value decimal.Decimal) error {
	return upsertBalance(ctx, t.tx, key, value)
}

// =============================================================================
// HELPERS
// =============================================================================

func formatBusinessDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(tsFormat)
}

// isUniqueConstraintError reports whether err is a SQLite uniqueness
// violation (duplicate operation ID).
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
