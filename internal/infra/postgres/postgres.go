// Package postgres is the relational store backend. Reads are spread over
// an optional read replica; every unit of work runs on the primary.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

// Config holds connection settings.
type Config struct {
	PrimaryDSN      string
	ReplicaDSN      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *Config) initDefaults() {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
}

// Connect opens the primary (and replica, when configured) through the pgx
// driver, checks connectivity and returns the resolver over them.
func Connect(ctx context.Context, cfg Config) (dbresolver.DB, *sql.DB, error) {
	cfg.initDefaults()

	primary, err := sql.Open("pgx", cfg.PrimaryDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("Connect: opening primary: %w", err)
	}

	opts := []dbresolver.OptionFunc{dbresolver.WithPrimaryDBs(primary)}
	if cfg.ReplicaDSN != "" {
		replica, err := sql.Open("pgx", cfg.ReplicaDSN)
		if err != nil {
			_ = primary.Close()
			return nil, nil, fmt.Errorf("Connect: opening replica: %w", err)
		}
		opts = append(opts,
			dbresolver.WithReplicaDBs(replica),
			dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
		)
	}

	db := dbresolver.New(opts...)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("Connect: ping: %w", err)
	}

	return db, primary, nil
}

// Open connects and returns a ready Store. When migrate is set, pending
// schema migrations are applied to the primary first.
func Open(ctx context.Context, cfg Config, migrate bool) (*Store, error) {
	db, primary, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := MigrateUp(primary); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return NewStore(db), nil
}
