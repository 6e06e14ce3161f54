package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"stacc-go/internal/database/migrations"
)

// NewPostgresDatabase connects to PostgreSQL using a lib/pq DSN or URL.
func NewPostgresDatabase(dsn string) (*SQLDatabase, error) {
	db, err := sqlx.Connect(migrations.Postgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewSQLDatabaseFromDB(db, dsn), nil
}
