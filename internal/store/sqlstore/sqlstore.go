// Package sqlstore implements store.Store over database/sql using sqlx,
// working against either a SQLite writer connection (WAL, single-writer)
// or a Postgres pool, selected by the driver name of the handed-in *sql.DB.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/agentcore/internal/store"
)

// queryer is the subset of *sqlx.DB / *sqlx.Tx every CRUD method needs.
// Both satisfy it, which lets the same method set serve the pooled Store
// and the single-transaction Store WithTx hands to its callback.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Rebind(query string) string
}

// Store is the sqlx-backed store.Store implementation.
type Store struct {
	db     queryer // writer (or the active transaction, inside WithTx)
	ro     queryer // reader; equals db inside a transaction
	driver string
	inTx   bool
	closer func() error
}

// Open wraps existing writer/reader *sql.DB handles (shared ownership with
// the caller) into a Store, initializing schema on the writer handle.
func Open(writer, reader *sql.DB, driverName string) (*Store, error) {
	writerX := sqlx.NewDb(writer, driverName)
	readerX := sqlx.NewDb(reader, driverName)
	s := &Store{
		db:     writerX,
		ro:     readerX,
		driver: driverName,
		closer: writerX.Close,
	}
	if err := s.initSchema(writerX); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// WithTx runs fn against a Store bound to a single transaction, committing
// on success and rolling back if fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if s.inTx {
		// Already inside a transaction (nested WithTx): reuse it so the
		// whole call chain commits or rolls back atomically.
		return fn(ctx, s)
	}

	writerDB, ok := s.db.(*sqlx.DB)
	if !ok {
		return fmt.Errorf("withtx: store is not a pooled writer")
	}
	tx, err := writerDB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := &Store{db: tx, ro: tx, driver: s.driver, inTx: true}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) initSchema(writer *sqlx.DB) error {
	stmts := []string{
		schemaSessions(s.driver),
		schemaMessages(s.driver),
		schemaTasks(s.driver),
		schemaMailbox(s.driver),
		schemaWorkflows(s.driver),
	}
	for _, stmt := range stmts {
		if _, err := writer.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
