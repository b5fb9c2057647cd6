// Package db opens the ama database. SQLite needs no external process;
// Postgres is reached through pgx/v5 and additionally backs the River queue.
package db

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/d9705996/ama/internal/config"
	"github.com/d9705996/ama/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePragmas are applied to every pooled SQLite connection.
const sqlitePragmas = "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Conn is a migrated database. Pool is nil unless the driver is postgres.
type Conn struct {
	Gorm *gorm.DB
	Pool *pgxpool.Pool
}

// Open connects with cfg and brings the schema up to date.
func Open(ctx context.Context, cfg *config.DBConfig) (*Conn, error) {
	if cfg.Driver == "postgres" {
		return openPostgres(ctx, cfg)
	}
	g, err := gorm.Open(sqlite.Open(cfg.File+sqlitePragmas), gormOptions())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.File, err)
	}
	if err := g.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return nil, fmt.Errorf("sqlite automigrate: %w", err)
	}
	return &Conn{Gorm: g}, nil
}

// gormOptions translates driver unique violations into gorm.ErrDuplicatedKey.
func gormOptions() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
}

func openPostgres(ctx context.Context, cfg *config.DBConfig) (*Conn, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DB_DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		if cfg.MaxConns > math.MaxInt32 {
			return nil, fmt.Errorf("DB_MAX_CONNS %d is out of range", cfg.MaxConns)
		}
		pcfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reach postgres: %w", err)
	}
	if err := migrateUp(pcfg); err != nil {
		pool.Close()
		return nil, err
	}

	g, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), gormOptions())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("gorm on postgres: %w", err)
	}
	return &Conn{Gorm: g, Pool: pool}, nil
}

// Name labels the database in readiness output.
func (c *Conn) Name() string { return "database" }

// Ping reports whether the database answers.
func (c *Conn) Ping(ctx context.Context) error {
	sqlDB, err := c.Gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the GORM handle and, for postgres, the pool.
func (c *Conn) Close() error {
	var errs []error
	if sqlDB, err := c.Gorm.DB(); err != nil {
		errs = append(errs, err)
	} else {
		errs = append(errs, sqlDB.Close())
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
	return errors.Join(errs...)
}
