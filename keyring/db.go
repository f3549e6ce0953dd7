package keyring

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// OpenDB opens a database handle for the driver and wraps it in a bun.DB
// with the matching dialect. The result feeds straight into NewSQLStore.
func OpenDB(driver string, dsn string) (*bun.DB, error) {
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("keyring: open %s database: %w", driver, err)
	}
	switch driver {
	case DriverPostgres:
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	case DriverSQLite:
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	default:
		sqlDB.Close()
		return nil, fmt.Errorf("keyring: unsupported sql driver %q", driver)
	}
}
