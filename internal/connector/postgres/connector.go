package postgres

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/healdb/heal/internal/connector"
)

// PostgresConnector implements connector.Connector for PostgreSQL targets.
type PostgresConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new PostgresConnector defaulting to the public schema.
func New() connector.Connector {
	return &PostgresConnector{schemaName: "public"}
}

// Connect opens a connection pool using the pgx stdlib driver.
func (c *PostgresConnector) Connect(cfg connector.Config) error {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
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
	if cfg.SchemaName != "" {
		c.schemaName = cfg.SchemaName
	}

	c.db = db
	return nil
}

// Close closes the connection pool.
func (c *PostgresConnector) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *PostgresConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *PostgresConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier.
func (c *PostgresConnector) DriverName() string { return "postgres" }

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double quotes.
func (c *PostgresConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// qualify prefixes a table name with the configured schema.
func (c *PostgresConnector) qualify(table string) string {
	return c.QuoteIdentifier(c.schemaName) + "." + c.QuoteIdentifier(table)
}

// SupportsTransactionalDDL reports that PostgreSQL runs DDL inside
// transactions.
func (c *PostgresConnector) SupportsTransactionalDDL() bool { return true }
