package subjects

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Supported database/sql drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	Driver      string
	DSN         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Open connects to the configured database, sizes the pool and verifies the
// connection with a ping
func Open(ctx context.Context, config ConnectionConfig) (*sql.DB, error) {
	switch config.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", config.Driver, err)
	}

	maxConns := config.MaxConns
	if config.Driver == DriverSQLite {
		// SQLite allows a single writer
		maxConns = 1
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if config.MinConns > 0 {
		db.SetMaxIdleConns(config.MinConns)
	}
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", config.Driver, err)
	}

	return db, nil
}
