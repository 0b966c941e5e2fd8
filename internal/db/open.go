package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const pragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

type Config struct {
	Path string // e.g. "./data/keyledger.db"
	Env  string // "dev" | "prod"

	// InMemory opens a named shared-cache in-memory database instead of a
	// file. Path is used as the database name.
	InMemory bool
}

// DSN builds the modernc.org/sqlite connection string for cfg.
func (cfg Config) DSN() string {
	if cfg.InMemory {
		return fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", cfg.Path, pragmas)
	}
	return fmt.Sprintf("file:%s?%s", cfg.Path, pragmas)
}

func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/keyledger.db"
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}

	if !cfg.InMemory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("sqlx.Open: %w", err)
	}

	// Single connection: the write worker and readers share it, so reads
	// only ever see committed transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
