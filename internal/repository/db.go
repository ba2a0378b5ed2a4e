package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is an open connection to the invoices store, either postgres
// (pgx pool) or sqlite.
type DB struct {
	drv     *entsql.Driver
	pool    *pgxpool.Pool
	dialect string
	logger  *slog.Logger
}

// Driver returns the ent SQL driver backing the store.
func (d *DB) Driver() *entsql.Driver { return d.drv }

// Dialect is dialect.Postgres or dialect.SQLite.
func (d *DB) Dialect() string { return d.dialect }

// Open connects to the DSN. postgres:// and postgresql:// go through a pgx
// pool; sqlite://, file: and :memory: open an embedded sqlite database.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d, source, err := backendFor(cfg.DSN)
	if err != nil {
		return nil, err
	}
	logger.Info("connecting to database", "dialect", d, "dsn", redact(cfg.DSN))

	switch d {
	case dialect.SQLite:
		return openSQLite(ctx, source, logger)
	default:
		return openPostgres(ctx, cfg, logger)
	}
}

func backendFor(dsn string) (string, string, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return dialect.Postgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return dialect.SQLite, strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return dialect.SQLite, dsn, nil
	}
	return "", "", fmt.Errorf("unsupported database url %q: want postgres://, sqlite://, file: or :memory:", redact(dsn))
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database url", "error", err)
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "invoice-pipeline"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	// Wrap pool as *sql.DB for the ent driver
	db := stdlib.OpenDBFromPool(pool)
	drv := entsql.OpenDB(dialect.Postgres, db)

	logger.Info("successfully connected to database")
	return &DB{drv: drv, pool: pool, dialect: dialect.Postgres, logger: logger}, nil
}

func openSQLite(ctx context.Context, source string, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", source)
	if err != nil {
		logger.Error("failed to open sqlite", "error", err)
		return nil, err
	}
	// one writer; also keeps a :memory: database alive across calls
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		logger.Error("failed to open sqlite", "error", err)
		return nil, err
	}
	drv := entsql.OpenDB(dialect.SQLite, db)

	logger.Info("successfully connected to database")
	return &DB{drv: drv, dialect: dialect.SQLite, logger: logger}, nil
}

// Close closes the database connections gracefully
func (d *DB) Close() {
	if d == nil {
		return
	}
	d.logger.Info("closing database connections")
	if d.drv != nil {
		if err := d.drv.Close(); err != nil {
			d.logger.Error("failed to close sql driver", "error", err)
		}
	}
	if d.pool != nil {
		d.pool.Close()
	}
	d.logger.Info("database connections closed")
}

// HealthCheck pings the database to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	d.logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var err error
	if d.pool != nil {
		err = d.pool.Ping(ctx)
	} else {
		err = d.drv.DB().PingContext(ctx)
	}
	if err != nil {
		return mapError(err, "ping")
	}
	d.logger.Debug("database ping successful")
	return nil
}

// redact hides the password of a URL-style DSN.
func redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
