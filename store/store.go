// Package store provides the database handle and row-level access used by
// the DailyFuel backend. The handle is constructed explicitly and passed
// down to the components that need it; there is no package-level singleton.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect identifies the SQL dialect the handle speaks.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// DB wraps *sql.DB with the dialect resolved from the connection URL.
type DB struct {
	sqldb   *sql.DB
	dialect Dialect
}

// Open connects to the database identified by the URL. The driver is chosen
// from the URL scheme: postgres:// and postgresql:// use the pgx stdlib
// driver, mysql:// uses go-sql-driver. The connection is verified with a
// ping before the handle is returned.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return nil, fmt.Errorf("invalid database URL: missing scheme")
	}

	var (
		driver  string
		dialect Dialect
		dsn     string
	)
	switch scheme {
	case "postgres", "postgresql":
		driver = "pgx"
		dialect = DialectPostgres
		dsn = databaseURL
	case "mysql":
		driver = "mysql"
		dialect = DialectMySQL
		// The mysql driver expects user:pass@tcp(host:port)/db, not a URL.
		var err error
		dsn, err = mysqlDSN(databaseURL)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database scheme: %s", scheme)
	}

	sqldb, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{sqldb: sqldb, dialect: dialect}, nil
}

// mysqlDSN converts a mysql:// URL into the driver's DSN form. parseTime is
// forced on so TIMESTAMP columns scan into time.Time.
func mysqlDSN(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	if u.User != nil {
		cfg.User = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			cfg.Passwd = pass
		}
	}
	for key, values := range u.Query() {
		if len(values) == 0 || strings.EqualFold(key, "parseTime") {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = make(map[string]string)
		}
		cfg.Params[key] = values[0]
	}
	cfg.ParseTime = true

	return cfg.FormatDSN(), nil
}

// Dialect returns the dialect resolved from the connection URL.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.sqldb.Close()
}

// ExecContext executes a statement, rebinding placeholders for the dialect.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.sqldb.ExecContext(ctx, d.Rebind(query), args...)
}

// QueryContext executes a query returning rows. The caller must close them.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.sqldb.QueryContext(ctx, d.Rebind(query), args...)
}

// QueryRowContext executes a query expected to return at most one row.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.sqldb.QueryRowContext(ctx, d.Rebind(query), args...)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rebind rewrites $N placeholders to the dialect's placeholder style.
// Queries in this codebase are written with postgres-style placeholders;
// for mysql they are rewritten to ?.
func (d *DB) Rebind(query string) string {
	if d.dialect == DialectPostgres {
		return query
	}
	return RebindMySQL(query)
}

// RebindMySQL converts $N placeholders to ?. Placeholder numbers must be in
// order of use, which holds for every query in this codebase.
func RebindMySQL(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			b.WriteByte(query[i])
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte(query[i])
			continue
		}
		// Validate the number to keep malformed placeholders visible.
		if _, err := strconv.Atoi(query[i+1 : j]); err == nil {
			b.WriteByte('?')
			i = j - 1
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
