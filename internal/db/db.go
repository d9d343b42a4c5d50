package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/edms/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"

	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Handle is the single storage handle of the process. Exactly one of the
// pgx pool or the sqlite *sql.DB is set.
type Handle struct {
	driver string
	pool   *pgxpool.Pool
	sqlDB  *sql.DB
}

// Open connects to the configured engine, verifies it answers and applies the schema.
func Open(ctx context.Context, cfg config.DBConfig) (*Handle, error) {
	var (
		h   *Handle
		err error
	)

	switch cfg.Driver {
	case DriverPostgres:
		var pool *pgxpool.Pool
		pool, err = NewPool(ctx, cfg.URL, cfg.MaxConns)
		h = &Handle{driver: DriverPostgres, pool: pool}
	case DriverSQLite:
		var sqlDB *sql.DB
		sqlDB, err = OpenSQLite(ctx, cfg.SQLiteDSN)
		h = &Handle{driver: DriverSQLite, sqlDB: sqlDB}
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := h.Migrate(ctx); err != nil {
		h.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return h, nil
}

func NewPool(ctx context.Context, dbURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)

	if err != nil {
		return nil, err
	}

	if maxConns <= 0 {
		maxConns = 5
	}
	cfg.MaxConns = maxConns
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)

	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)

	if err != nil {
		return nil, err
	}

	err = pool.Ping(ctx)

	if err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// OpenSQLite opens dsn with the modernc driver. In-memory databases are
// pinned to one connection since every connection would get its own database.
func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = ":memory:"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if isMemoryDSN(dsn) {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return sqlDB, nil
}

// NewSQLiteHandle wraps an already opened sqlite database.
func NewSQLiteHandle(sqlDB *sql.DB) *Handle {
	return &Handle{driver: DriverSQLite, sqlDB: sqlDB}
}

// NewPostgresHandle wraps an already opened pgx pool.
func NewPostgresHandle(pool *pgxpool.Pool) *Handle {
	return &Handle{driver: DriverPostgres, pool: pool}
}

func (h *Handle) Driver() string {
	return h.driver
}

func (h *Handle) Pool() *pgxpool.Pool {
	return h.pool
}

func (h *Handle) SQL() *sql.DB {
	return h.sqlDB
}

func (h *Handle) Ping(ctx context.Context) error {
	switch {
	case h.pool != nil:
		return h.pool.Ping(ctx)
	case h.sqlDB != nil:
		return h.sqlDB.PingContext(ctx)
	default:
		return errors.New("storage handle is not open")
	}
}

func (h *Handle) Close() {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.sqlDB != nil {
		_ = h.sqlDB.Close()
	}
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
