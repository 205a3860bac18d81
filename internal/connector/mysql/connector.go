package mysql

import (
	"context"
	"fmt"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/healdb/heal/internal/connector"
)

// MySQLConnector implements connector.Connector for MySQL targets.
type MySQLConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new MySQLConnector.
func New() connector.Connector {
	return &MySQLConnector{}
}

// Connect opens a connection pool. The DSN is normalized to the tcp()
// wrapper form required by go-sql-driver, and the target schema is taken
// from the DSN database name unless overridden in the config.
func (c *MySQLConnector) Connect(cfg connector.Config) error {
	dsn := sanitizeDSN(cfg.DSN)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	c.schemaName = cfg.SchemaName
	if c.schemaName == "" {
		if parsed, err := mysqldriver.ParseDSN(dsn); err == nil {
			c.schemaName = parsed.DBName
		}
	}

	c.db = db
	return nil
}

// sanitizeDSN normalizes a MySQL DSN so go-sql-driver can parse it. The
// driver requires user:pass@tcp(host:port)/dbname; users commonly omit the
// tcp() wrapper or the "tcp" keyword.
func sanitizeDSN(dsn string) string {
	if cfg, err := mysqldriver.ParseDSN(dsn); err == nil && (cfg.Net == "tcp" || cfg.Net == "unix") {
		return cfg.FormatDSN()
	}

	// user:pass@(host:port)/db — missing "tcp" keyword.
	if idx := strings.LastIndex(dsn, "@("); idx >= 0 {
		fixed := dsn[:idx] + "@tcp" + dsn[idx+1:]
		if cfg, err := mysqldriver.ParseDSN(fixed); err == nil {
			return cfg.FormatDSN()
		}
	}

	// Nothing worked; let the connect call give a clear error.
	return dsn
}

// Close closes the connection pool.
func (c *MySQLConnector) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MySQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier.
func (c *MySQLConnector) DriverName() string { return "mysql" }

// QuoteIdentifier wraps a SQL identifier in backticks, escaping any embedded
// backticks.
func (c *MySQLConnector) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// SupportsTransactionalDDL reports false: MySQL DDL statements commit
// implicitly, so the executor falls back to sequential execution with
// compensating statements on failure.
func (c *MySQLConnector) SupportsTransactionalDDL() bool { return false }
