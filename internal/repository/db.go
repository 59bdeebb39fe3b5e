package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mushrhyme/rebate/internal/common"
)

// Open creates a pgx pool, wraps it for GORM, and returns both.
// The pool is sized independently of the worker pool; each store call
// acquires and releases a connection for its own transaction only.
func Open(ctx context.Context, cfg common.DatabaseConfig, log *slog.Logger) (*gorm.DB, *pgxpool.Pool, error) {
	dsn := cfg.DSN()
	log.Info("connecting to database", "host", cfg.Host, "port", cfg.Port, "name", cfg.Name)
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		log.Error("failed to parse database config", "error", err)
		return nil, nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "rebate"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return nil, nil, err
	}

	// Wrap the pool as *sql.DB for GORM.
	db := stdlib.OpenDBFromPool(pool)
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		pool.Close()
		log.Error("failed to initialize orm", "error", err)
		return nil, nil, err
	}

	log.Info("successfully connected to database")
	return gdb, pool, nil
}

// OpenLite opens a SQLite database at path (":memory:" for in-memory).
// Used by the -inmem batch mode and by tests; schema and queries are kept
// portable between the two dialects.
func OpenLite(path string, log *slog.Logger) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	// A single connection keeps in-memory databases coherent.
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if log != nil {
		log.Info("opened sqlite database", "path", path)
	}
	return gdb, nil
}

// Close closes the database connections gracefully.
func Close(pool *pgxpool.Pool, log *slog.Logger) {
	log.Info("closing database connections")
	if pool != nil {
		pool.Close()
	}
	log.Info("database connections closed")
}

// HealthCheck pings the pool to catch connection issues early.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return pool.Ping(ctx)
}
