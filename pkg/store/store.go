// Package store opens SQL database handles for the persistent stores
// (flows, trigger registrations, webhook events, usage). PostgreSQL,
// MySQL, and SQLite are supported via database/sql.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects with dialect-appropriate driver naming and verifies the
// connection with a ping.
func Open(driver, dsn string) (*sql.DB, error) {
	driverName := driver
	// go-sqlite3 registers as "sqlite3"
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	switch driver {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported driver: %s (supported: sqlite, postgres, mysql)", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Rebind converts ?-style placeholders to $n for postgres. MySQL and
// SQLite take ? as is.
func Rebind(dialect, query string) string {
	if dialect != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
