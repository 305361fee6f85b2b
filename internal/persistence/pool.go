// Package persistence implements the two-database model of §4.1: a system
// database (users, global config, cross-user audit) and one user database
// per principal (sessions, agent configs, conversations, containers,
// intelligence state). Connection pooling is grounded on the teacher's
// pkg/config/dbpool.go; schema application and CRUD are new, built to the
// table list of §6.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBConfig describes one logical database connection.
type DBConfig struct {
	Driver        string // sqlite3 | postgres | mysql
	DSN           string
	MaxConns      int
	MaxIdle       int
	BusyTimeoutMS int
}

// DBPool manages shared *sql.DB handles keyed by DSN, exactly as the
// teacher's DBPool does, so two logical databases that resolve to the same
// DSN (e.g. a shared sqlite file for system+user in dev) share one handle.
type DBPool struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewDBPool creates an empty pool manager.
func NewDBPool() *DBPool {
	return &DBPool{pools: make(map[string]*sql.DB)}
}

// Get returns the shared *sql.DB for cfg, creating it on first use.
func (p *DBPool) Get(cfg DBConfig) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.pools[cfg.DSN]; ok {
		return db, nil
	}

	db, err := p.createPool(cfg)
	if err != nil {
		return nil, err
	}
	p.pools[cfg.DSN] = db
	return db, nil
}

func (p *DBPool) createPool(cfg DBConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite3" {
		// SQLite supports one writer at a time; a single connection
		// serializes access and avoids "database is locked" errors.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.MaxIdle)
		}
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: ping %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite3" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("persistence: enable WAL failed", "error", err)
		}
		busy := cfg.BusyTimeoutMS
		if busy == 0 {
			busy = 10000
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", busy)); err != nil {
			slog.Warn("persistence: set busy_timeout failed", "error", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			slog.Warn("persistence: enable foreign_keys failed", "error", err)
		}
	}

	return db, nil
}

// Close closes every pooled connection.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for dsn, db := range p.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("persistence: close %s: %w", dsn, err)
		}
	}
	p.pools = make(map[string]*sql.DB)
	return firstErr
}
