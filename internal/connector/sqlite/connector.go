package sqlite

import (
	"context"
	"strings"

	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/healdb/heal/internal/connector"
)

// SQLiteConnector implements connector.Connector for SQLite targets.
type SQLiteConnector struct {
	db *sqlx.DB
}

// New creates a new SQLiteConnector.
func New() connector.Connector {
	return &SQLiteConnector{}
}

// Connect opens the SQLite database file specified in the DSN. The DSN is a
// file path or ":memory:"; query parameters like ?_journal_mode=WAL pass
// through to the driver.
func (c *SQLiteConnector) Connect(cfg connector.Config) error {
	db, err := sqlx.Connect("sqlite", cfg.DSN)
	if err != nil {
		return fmt.Errorf("sqlite connect: %w", err)
	}

	// SQLite doesn't support concurrent writers; a single connection also
	// guarantees the introspection pass sees one consistent view.
	db.SetMaxOpenConns(1)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	c.db = db
	return nil
}

// Close closes the database connection.
func (c *SQLiteConnector) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *SQLiteConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *SQLiteConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier.
func (c *SQLiteConnector) DriverName() string { return "sqlite" }

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double quotes.
func (c *SQLiteConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SupportsTransactionalDDL reports that SQLite runs DDL inside transactions.
func (c *SQLiteConnector) SupportsTransactionalDDL() bool { return true }
