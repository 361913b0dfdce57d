package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	sqlLedgerTableName    = "meetsync_ledger"
	sqlLedgerKey          = "default"
	sqlOperationTimeout   = 5 * time.Second
	postgresDriverName    = "postgres"
	sqliteDriverName      = "sqlite3"
	sqliteDefaultPragmaQS = "_busy_timeout=5000&_journal_mode=WAL"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// sqlDialect holds the statements that differ between database engines.
type sqlDialect struct {
	driver      string
	createTable string
	selectRow   string
	upsertRow   string
}

var postgresDialect = sqlDialect{
	driver: postgresDriverName,
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			ledger_key TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	selectRow: "SELECT snapshot FROM %s WHERE ledger_key = $1",
	upsertRow: `
		INSERT INTO %s (ledger_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (ledger_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`,
}

var sqliteDialect = sqlDialect{
	driver: sqliteDriverName,
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			ledger_key TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	selectRow: "SELECT snapshot FROM %s WHERE ledger_key = ?",
	upsertRow: `
		INSERT INTO %s (ledger_key, snapshot, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (ledger_key)
		DO UPDATE SET snapshot = excluded.snapshot, updated_at = CURRENT_TIMESTAMP`,
}

// SQLBackend keeps the snapshot in a single row keyed by ledger_key.
type SQLBackend struct {
	dsn       string
	location  string
	tableName string
	ledgerKey string
	dialect   sqlDialect
	openDB    sqlOpenFunc

	initMu sync.Mutex
	db     *sql.DB
}

func NewPostgresBackend(dsn string) (*SQLBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLBackend{
		dsn:       dsn,
		location:  redactDSN(dsn),
		tableName: sqlLedgerTableName,
		ledgerKey: sqlLedgerKey,
		dialect:   postgresDialect,
		openDB:    sql.Open,
	}, nil
}

func NewSQLiteBackend(path string) (*SQLBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?" + sqliteDefaultPragmaQS
	}
	return &SQLBackend{
		dsn:       dsn,
		location:  "sqlite://" + path,
		tableName: sqlLedgerTableName,
		ledgerKey: sqlLedgerKey,
		dialect:   sqliteDialect,
		openDB:    sql.Open,
	}, nil
}

func (b *SQLBackend) Location() string {
	if b == nil {
		return ""
	}
	return b.location
}

func (b *SQLBackend) Load() (*Snapshot, error) {
	if b == nil {
		return nil, nil
	}
	db, err := b.ensureReady()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(b.dialect.selectRow, quoteIdentifier(b.tableName))
	var payload string
	err = db.QueryRowContext(ctx, query, b.ledgerKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, b.location, err)
	}
	return &snapshot, nil
}

func (b *SQLBackend) Save(snapshot *Snapshot) error {
	if b == nil || snapshot == nil {
		return nil
	}
	db, err := b.ensureReady()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(b.dialect.upsertRow, quoteIdentifier(b.tableName))
	_, err = db.ExecContext(ctx, query, b.ledgerKey, string(payload))
	return err
}

func (b *SQLBackend) Close() error {
	if b == nil {
		return nil
	}
	b.initMu.Lock()
	defer b.initMu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// ensureReady opens the database and creates the table. A failed attempt is
// retried on the next call so the ledger recovers once the database is back.
func (b *SQLBackend) ensureReady() (*sql.DB, error) {
	if b == nil {
		return nil, ErrInvalidInput
	}
	b.initMu.Lock()
	defer b.initMu.Unlock()
	if b.db != nil {
		return b.db, nil
	}
	db, err := b.openDB(b.dialect.driver, b.dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(b.dialect.createTable, quoteIdentifier(b.tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		_ = db.Close()
		return nil, err
	}
	b.db = db
	return db, nil
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// redactDSN drops credentials so the location can be logged.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}
