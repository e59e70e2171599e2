package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/siavashoutadi/pishro-lib/internal/core/state"
	"github.com/siavashoutadi/pishro-lib/internal/core/values"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// SQLite allows one writer at a time, and a :memory: database exists
	// per connection. A single pooled connection serves both.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Record Operations
// =============================================================================

// recordRow represents an installed package row in the database.
type recordRow struct {
	Name         string  `db:"name"`
	Version      string  `db:"version"`
	Stack        string  `db:"stack"`
	Environment  string  `db:"environment"`
	Values       *string `db:"values_json"`
	ManifestHash string  `db:"manifest_hash"`
	Dependencies *string `db:"dependencies"`
	Status       string  `db:"status"`
	ErrorMessage string  `db:"error_message"`
	InstalledAt  string  `db:"installed_at"`
	UpdatedAt    string  `db:"updated_at"`
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, record *state.Record) error {
	return createRecord(ctx, s.db, record)
}

func (s *SQLiteStore) GetRecord(ctx context.Context, name string) (*state.Record, error) {
	return getRecord(ctx, s.db, name)
}

func (s *SQLiteStore) UpdateRecord(ctx context.Context, record *state.Record) error {
	return updateRecord(ctx, s.db, record)
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, name string) error {
	return deleteRecord(ctx, s.db, name)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, opts ListOptions) ([]state.Record, error) {
	return listRecords(ctx, s.db, opts)
}

func (s *SQLiteStore) ListRecordsByStatus(ctx context.Context, status state.Status) ([]state.Record, error) {
	return listRecordsByStatus(ctx, s.db, status)
}

// =============================================================================
// Event Operations
// =============================================================================

// eventRow represents a package event row in the database.
type eventRow struct {
	ID         int64  `db:"id"`
	Package    string `db:"package"`
	PlanID     string `db:"plan_id"`
	FromStatus string `db:"from_status"`
	ToStatus   string `db:"to_status"`
	Message    string `db:"message"`
	CreatedAt  string `db:"created_at"`
}

func (s *SQLiteStore) CreateEvent(ctx context.Context, event *state.Event) error {
	return createEvent(ctx, s.db, event)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, packageName string, limit int) ([]state.Event, error) {
	return listEvents(ctx, s.db, packageName, limit)
}

// =============================================================================
// Lock Operations
// =============================================================================

// lockRow represents the singleton lease row in the database.
type lockRow struct {
	ID         int64  `db:"id"`
	Holder     string `db:"holder"`
	AcquiredAt string `db:"acquired_at"`
	ExpiresAt  string `db:"expires_at"`
}

func (s *SQLiteStore) AcquireLock(ctx context.Context, holder string, ttl time.Duration) error {
	return acquireLock(ctx, s.db, holder, ttl)
}

func (s *SQLiteStore) ReleaseLock(ctx context.Context, holder string) error {
	return releaseLock(ctx, s.db, holder)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateRecord(ctx context.Context, record *state.Record) error {
	return createRecord(ctx, s.tx, record)
}

func (s *txSQLiteStore) GetRecord(ctx context.Context, name string) (*state.Record, error) {
	return getRecord(ctx, s.tx, name)
}

func (s *txSQLiteStore) UpdateRecord(ctx context.Context, record *state.Record) error {
	return updateRecord(ctx, s.tx, record)
}

func (s *txSQLiteStore) DeleteRecord(ctx context.Context, name string) error {
	return deleteRecord(ctx, s.tx, name)
}

func (s *txSQLiteStore) ListRecords(ctx context.Context, opts ListOptions) ([]state.Record, error) {
	return listRecords(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListRecordsByStatus(ctx context.Context, status state.Status) ([]state.Record, error) {
	return listRecordsByStatus(ctx, s.tx, status)
}

func (s *txSQLiteStore) CreateEvent(ctx context.Context, event *state.Event) error {
	return createEvent(ctx, s.tx, event)
}

func (s *txSQLiteStore) ListEvents(ctx context.Context, packageName string, limit int) ([]state.Event, error) {
	return listEvents(ctx, s.tx, packageName, limit)
}

func (s *txSQLiteStore) AcquireLock(ctx context.Context, holder string, ttl time.Duration) error {
	return acquireLock(ctx, s.tx, holder, ttl)
}

func (s *txSQLiteStore) ReleaseLock(ctx context.Context, holder string) error {
	return releaseLock(ctx, s.tx, holder)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createRecord(ctx context.Context, exec executor, record *state.Record) error {
	row, err := recordToRow("CreateRecord", record)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO installed_packages (
			name, version, stack, environment, values_json, manifest_hash,
			dependencies, status, error_message, installed_at, updated_at
		) VALUES (
			:name, :version, :stack, :environment, :values_json, :manifest_hash,
			:dependencies, :status, :error_message, :installed_at, :updated_at
		)`

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: installed_packages.name") {
			return NewStoreError("CreateRecord", "record", record.Name, "package is already recorded", ErrDuplicate)
		}
		return NewStoreError("CreateRecord", "record", record.Name, err.Error(), err)
	}

	return nil
}

func getRecord(ctx context.Context, exec executor, name string) (*state.Record, error) {
	query := `SELECT * FROM installed_packages WHERE name = ?`

	var row recordRow
	err := exec.GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRecord", "record", name, "package is not installed", ErrNotFound)
		}
		return nil, NewStoreError("GetRecord", "record", name, err.Error(), err)
	}

	return rowToRecord("GetRecord", &row)
}

func updateRecord(ctx context.Context, exec executor, record *state.Record) error {
	row, err := recordToRow("UpdateRecord", record)
	if err != nil {
		return err
	}

	query := `
		UPDATE installed_packages SET
			version = :version,
			stack = :stack,
			environment = :environment,
			values_json = :values_json,
			manifest_hash = :manifest_hash,
			dependencies = :dependencies,
			status = :status,
			error_message = :error_message,
			updated_at = :updated_at
		WHERE name = :name`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateRecord", "record", record.Name, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateRecord", "record", record.Name, "package is not installed", ErrNotFound)
	}

	return nil
}

func deleteRecord(ctx context.Context, exec executor, name string) error {
	query := `DELETE FROM installed_packages WHERE name = ?`

	result, err := exec.ExecContext(ctx, query, name)
	if err != nil {
		return NewStoreError("DeleteRecord", "record", name, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteRecord", "record", name, "package is not installed", ErrNotFound)
	}

	return nil
}

func listRecords(ctx context.Context, exec executor, opts ListOptions) ([]state.Record, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM installed_packages ORDER BY name ASC LIMIT ? OFFSET ?`

	var rows []recordRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRecords", "record", "", err.Error(), err)
	}

	records := make([]state.Record, 0, len(rows))
	for _, row := range rows {
		record, err := rowToRecord("ListRecords", &row)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, nil
}

func listRecordsByStatus(ctx context.Context, exec executor, status state.Status) ([]state.Record, error) {
	query := `SELECT * FROM installed_packages WHERE status = ? ORDER BY name ASC`

	var rows []recordRow
	err := exec.SelectContext(ctx, &rows, query, string(status))
	if err != nil {
		return nil, NewStoreError("ListRecordsByStatus", "record", "", err.Error(), err)
	}

	records := make([]state.Record, 0, len(rows))
	for _, row := range rows {
		record, err := rowToRecord("ListRecordsByStatus", &row)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, nil
}

func createEvent(ctx context.Context, exec executor, event *state.Event) error {
	query := `
		INSERT INTO package_events (package, plan_id, from_status, to_status, message, created_at)
		VALUES (:package, :plan_id, :from_status, :to_status, :message, :created_at)`

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := exec.NamedExecContext(ctx, query, map[string]any{
		"package":     event.Package,
		"plan_id":     event.PlanID,
		"from_status": string(event.FromStatus),
		"to_status":   string(event.ToStatus),
		"message":     event.Message,
		"created_at":  createdAt.Format(time.RFC3339),
	})
	if err != nil {
		return NewStoreError("CreateEvent", "event", event.Package, err.Error(), err)
	}

	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

func listEvents(ctx context.Context, exec executor, packageName string, limit int) ([]state.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM package_events WHERE package = ? ORDER BY id DESC LIMIT ?`

	var rows []eventRow
	err := exec.SelectContext(ctx, &rows, query, packageName, limit)
	if err != nil {
		return nil, NewStoreError("ListEvents", "event", packageName, err.Error(), err)
	}

	events := make([]state.Event, 0, len(rows))
	for _, row := range rows {
		createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
		if err != nil {
			return nil, NewStoreError("ListEvents", "event", packageName, "invalid created_at timestamp", ErrInvalidData)
		}
		events = append(events, state.Event{
			ID:         row.ID,
			Package:    row.Package,
			PlanID:     row.PlanID,
			FromStatus: state.Status(row.FromStatus),
			ToStatus:   state.Status(row.ToStatus),
			Message:    row.Message,
			CreatedAt:  createdAt,
		})
	}

	return events, nil
}

func acquireLock(ctx context.Context, exec executor, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	var row lockRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM store_locks WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := exec.ExecContext(ctx,
			`INSERT INTO store_locks (id, holder, acquired_at, expires_at) VALUES (1, ?, ?, ?)`,
			holder, now.Format(time.RFC3339), expires.Format(time.RFC3339))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
				strings.Contains(err.Error(), "PRIMARY KEY") {
				return NewStoreError("AcquireLock", "lock", holder, "lock was taken concurrently", ErrLocked)
			}
			return NewStoreError("AcquireLock", "lock", holder, err.Error(), err)
		}
		return nil
	}
	if err != nil {
		return NewStoreError("AcquireLock", "lock", holder, err.Error(), err)
	}

	expiresAt, parseErr := time.Parse(time.RFC3339, row.ExpiresAt)
	if parseErr != nil {
		return NewStoreError("AcquireLock", "lock", holder, "invalid expires_at timestamp", ErrInvalidData)
	}
	if row.Holder != holder && now.Before(expiresAt) {
		return NewStoreError("AcquireLock", "lock", holder,
			fmt.Sprintf("held by %s until %s", row.Holder, row.ExpiresAt), ErrLocked)
	}

	// Same holder refresh, or takeover of an expired lease. The guard keeps
	// the update atomic when two processes race for an expiring lock.
	result, err := exec.ExecContext(ctx,
		`UPDATE store_locks SET holder = ?, acquired_at = ?, expires_at = ?
		 WHERE id = 1 AND (holder = ? OR expires_at <= ?)`,
		holder, now.Format(time.RFC3339), expires.Format(time.RFC3339),
		row.Holder, now.Format(time.RFC3339))
	if err != nil {
		return NewStoreError("AcquireLock", "lock", holder, err.Error(), err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("AcquireLock", "lock", holder, "lock was taken concurrently", ErrLocked)
	}

	return nil
}

func releaseLock(ctx context.Context, exec executor, holder string) error {
	// Deleting only the caller's lease makes release idempotent and safe
	// against another process that took over an expired lock.
	_, err := exec.ExecContext(ctx, `DELETE FROM store_locks WHERE id = 1 AND holder = ?`, holder)
	if err != nil {
		return NewStoreError("ReleaseLock", "lock", holder, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Row Conversion
// =============================================================================

func recordToRow(op string, record *state.Record) (map[string]any, error) {
	var valuesJSON *string
	if record.Values != nil {
		data, err := json.Marshal(record.Values)
		if err != nil {
			return nil, NewStoreError(op, "record", record.Name, "failed to serialize values", ErrInvalidData)
		}
		s := string(data)
		valuesJSON = &s
	}

	var depsJSON *string
	if record.Dependencies != nil {
		data, err := json.Marshal(record.Dependencies)
		if err != nil {
			return nil, NewStoreError(op, "record", record.Name, "failed to serialize dependencies", ErrInvalidData)
		}
		s := string(data)
		depsJSON = &s
	}

	return map[string]any{
		"name":          record.Name,
		"version":       record.Version,
		"stack":         record.Stack,
		"environment":   record.Environment,
		"values_json":   valuesJSON,
		"manifest_hash": record.ManifestHash,
		"dependencies":  depsJSON,
		"status":        string(record.Status),
		"error_message": record.ErrorMessage,
		"installed_at":  record.InstalledAt.Format(time.RFC3339),
		"updated_at":    record.UpdatedAt.Format(time.RFC3339),
	}, nil
}

func rowToRecord(op string, row *recordRow) (*state.Record, error) {
	record := &state.Record{
		Name:         row.Name,
		Version:      row.Version,
		Stack:        row.Stack,
		Environment:  row.Environment,
		ManifestHash: row.ManifestHash,
		Status:       state.Status(row.Status),
		ErrorMessage: row.ErrorMessage,
	}

	if row.Values != nil && *row.Values != "" {
		var vals values.Values
		if err := json.Unmarshal([]byte(*row.Values), &vals); err != nil {
			return nil, NewStoreError(op, "record", row.Name, "failed to deserialize values", ErrInvalidData)
		}
		record.Values = vals
	}

	if row.Dependencies != nil && *row.Dependencies != "" {
		var deps []string
		if err := json.Unmarshal([]byte(*row.Dependencies), &deps); err != nil {
			return nil, NewStoreError(op, "record", row.Name, "failed to deserialize dependencies", ErrInvalidData)
		}
		record.Dependencies = deps
	}

	installedAt, err := time.Parse(time.RFC3339, row.InstalledAt)
	if err != nil {
		return nil, NewStoreError(op, "record", row.Name, "invalid installed_at timestamp", ErrInvalidData)
	}
	record.InstalledAt = installedAt

	updatedAt, err := time.Parse(time.RFC3339, row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError(op, "record", row.Name, "invalid updated_at timestamp", ErrInvalidData)
	}
	record.UpdatedAt = updatedAt

	return record, nil
}
