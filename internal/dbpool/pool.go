// Package dbpool wraps the shared MySQL connection pool every repository
// operates against. A Pool is a cheaply-cloneable, internally-synchronized
// handle: repositories hold a copy of it, never a borrow, the same way the
// teacher's Applier holds a *sql.DB it owns outright.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Options configures how the pool is opened.
type Options struct {
	DSN         string
	MinConns    int
	MaxConns    int
	ConnTimeout time.Duration
}

// Pool wraps *sql.DB. database/sql connection pools are already safe for
// concurrent use by multiple goroutines, so copying a Pool value just copies
// the pointer; there is nothing else to synchronize.
type Pool struct {
	db *sql.DB
}

// Open validates pool bounds, opens the underlying *sql.DB, and pings it
// once so configuration errors surface at startup rather than on first use.
func Open(ctx context.Context, opts Options) (Pool, error) {
	if opts.MinConns > opts.MaxConns {
		return Pool{}, fmt.Errorf("dbpool: MYSQL_POOL_MIN (%d) must not exceed MYSQL_POOL_MAX (%d)", opts.MinConns, opts.MaxConns)
	}

	db, err := sql.Open("mysql", opts.DSN)
	if err != nil {
		return Pool{}, fmt.Errorf("dbpool: open: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxConns)
	db.SetMaxIdleConns(opts.MinConns)

	pingCtx := ctx
	if opts.ConnTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.ConnTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return Pool{}, fmt.Errorf("dbpool: ping: %w", err)
	}
	return Pool{db: db}, nil
}

// DB returns the underlying *sql.DB for repositories to issue queries and
// begin transactions against.
func (p Pool) DB() *sql.DB {
	return p.db
}

// Close releases every connection held by the pool.
func (p Pool) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
