package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"stacc-go/internal/database/migrations"
	"stacc-go/internal/stacc"
)

// SQLDatabase implements the ledger Database, the domain Catalog and a
// table-backed BlobStore on top of SQLite or PostgreSQL.
//
// Queries are written with ? placeholders and rebound for the dialect.
type SQLDatabase struct {
	db      *sqlx.DB
	dialect string
	path    string
}

var (
	_ stacc.Database  = (*SQLDatabase)(nil)
	_ stacc.Catalog   = (*SQLDatabase)(nil)
	_ stacc.BlobStore = (*SQLDatabase)(nil)
)

// NewSQLDatabaseFromDB wraps an existing connection. dialect is the
// database/sql driver name: "sqlite3" or "postgres".
func NewSQLDatabaseFromDB(db *sqlx.DB, path string) *SQLDatabase {
	return &SQLDatabase{db: db, dialect: db.DriverName(), path: path}
}

// DB exposes the underlying connection for tools and tests.
func (s *SQLDatabase) DB() *sqlx.DB { return s.db }

func (s *SQLDatabase) Dialect() string { return s.dialect }

// Path returns the SQLite file path or the PostgreSQL DSN.
func (s *SQLDatabase) Path() string { return s.path }

// CheckMigrations reports an error unless the schema is at the latest version.
func (s *SQLDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db.DB, s.dialect)
}

// Migrate applies every pending migration.
func (s *SQLDatabase) Migrate() error {
	return migrations.MigrateUp(s.db.DB, s.dialect)
}

// SchemaVersion returns the applied migration version.
func (s *SQLDatabase) SchemaVersion() (uint, bool, error) {
	return migrations.Version(s.db.DB, s.dialect)
}

func (s *SQLDatabase) Close() error {
	return s.db.Close()
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *SQLDatabase) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// lockClause returns the row lock suffix for the dialect. SQLite
// transactions start with BEGIN IMMEDIATE and already hold the write lock.
func (s *SQLDatabase) lockClause() string {
	if s.dialect == migrations.Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// in expands a query with a slice argument and rebinds it for q.
func in(q sqlx.ExtContext, query string, args ...any) (string, []any, error) {
	expanded, params, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("expanding query: %w", err)
	}
	return q.Rebind(expanded), params, nil
}

// chunks splits ids into slices of at most n.
func chunks(ids []string, n int) [][]string {
	var out [][]string
	for len(ids) > n {
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// maxParams keeps IN lists under SQLite's bound parameter limit.
const maxParams = 500
