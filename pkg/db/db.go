package db

import (
	"embed"

	"github.com/influence20/bluerocksite-sub000/pkg/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// MigrationFS embeds the SQL migrations applied by cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS

// Connect opens and pings a Postgres pool sized from cfg.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}
