package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/healdb/heal/internal/connector"
)

// MSSQLConnector implements connector.Connector for SQL Server targets.
type MSSQLConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new MSSQLConnector defaulting to the dbo schema.
func New() connector.Connector {
	return &MSSQLConnector{schemaName: "dbo"}
}

// Connect opens a connection pool using the sqlserver driver.
func (c *MSSQLConnector) Connect(cfg connector.Config) error {
	db, err := sqlx.Connect("sqlserver", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
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
func (c *MSSQLConnector) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MSSQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MSSQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier.
func (c *MSSQLConnector) DriverName() string { return "sqlserver" }

// QuoteIdentifier wraps a SQL identifier in brackets, escaping any embedded
// closing bracket.
func (c *MSSQLConnector) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// qualify prefixes a table name with the configured schema.
func (c *MSSQLConnector) qualify(table string) string {
	return c.QuoteIdentifier(c.schemaName) + "." + c.QuoteIdentifier(table)
}

// SupportsTransactionalDDL reports that SQL Server runs DDL inside
// transactions.
func (c *MSSQLConnector) SupportsTransactionalDDL() bool { return true }
