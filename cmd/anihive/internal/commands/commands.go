package commands

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type Globals struct {
	Debug   bool
	Version string
}

// DatabaseFlags selects the profile database.
type DatabaseFlags struct {
	Driver string `help:"database driver (postgres or sqlite)" default:"postgres" env:"ANIHIVE_DB_DRIVER" enum:"postgres,sqlite"`
	DSN    string `help:"database connection string" env:"POSTGRES_CONNECTION_STRING"`
}

func (d *DatabaseFlags) Validate() error {
	if d.DSN == "" {
		return errors.New("database connection string is required (--db-dsn or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (d *DatabaseFlags) Open() (*bun.DB, error) {
	switch d.Driver {
	case "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, d.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	default:
		sqldb, err := sql.Open("pgx", d.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}
}
