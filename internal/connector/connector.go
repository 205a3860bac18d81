// Package connector abstracts the target database engine behind a single
// interface: one-session catalog introspection, identifier quoting, and
// existence-guarded DDL builders used by the fix planner. Each supported
// engine lives in its own subpackage.
package connector

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/healdb/heal/internal/model"
)

// Config holds target database connection parameters.
type Config struct {
	Driver          string
	DSN             string
	SchemaName      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Connector is the interface every target engine must implement.
type Connector interface {
	// Connection management
	Connect(cfg Config) error
	Close() error
	Ping(ctx context.Context) error
	DB() *sqlx.DB

	// Snapshot reads tables, columns, constraints, and indexes in a single
	// logically-consistent session, so concurrent DDL elsewhere cannot
	// produce a torn view. System/internal schemas are excluded.
	Snapshot(ctx context.Context) (*model.CatalogSnapshot, error)

	// DDL builders. Every creation statement carries an existence guard so
	// concurrent reapplication is a no-op. Each builder returns the apply
	// statements and their reversal.
	BuildCreateTable(table string, cols []model.ColumnDef) (apply, rollback []model.Statement, err error)
	BuildAddColumn(table string, col model.ColumnDef) (apply, rollback []model.Statement, err error)
	BuildCreateIndex(table, index string, cols []string, unique bool) (apply, rollback []model.Statement, err error)
	BuildAddForeignKey(table, column, refTable, refColumn string) (apply, rollback []model.Statement, err error)

	// BuildTypeMigration produces the data-preserving multi-step plan for a
	// type change: backup the table, add a correctly-typed column, copy with
	// an explicit cast, swap, and retain the backup. The rollback restores
	// the table from the backup copy.
	BuildTypeMigration(table string, col model.ColumnDescriptor, targetType, backupTable string) (apply, rollback []model.Statement, err error)

	// Metadata
	DriverName() string
	QuoteIdentifier(name string) string
	SupportsTransactionalDDL() bool
}

// identifierPattern validates SQL identifiers. Must start with a letter or
// underscore, followed by alphanumerics or underscores.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// sqlReservedWords rejects SQL keywords as identifiers. Parameterization
// covers values; this covers the names the planner has to interpolate.
var sqlReservedWords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"EXEC": true, "EXECUTE": true, "UNION": true, "INTO": true,
	"FROM": true, "WHERE": true, "TABLE": true, "DATABASE": true,
	"GRANT": true, "REVOKE": true, "INDEX": true, "VIEW": true,
	"PROCEDURE": true, "FUNCTION": true, "TRIGGER": true, "SCHEMA": true,
}

// ValidateIdentifier ensures a table, column, or index name is safe to quote
// and emit. It rejects empty strings, strings over 128 characters, strings
// outside the identifier pattern, and SQL reserved words.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("identifier too long (max 128 chars): %q", name)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	if sqlReservedWords[strings.ToUpper(name)] {
		return fmt.Errorf("identifier %q is a SQL reserved word", name)
	}
	return nil
}

// ValidateIdentifiers validates multiple identifiers, returning the first
// error found.
func ValidateIdentifiers(names ...string) error {
	for _, name := range names {
		if err := ValidateIdentifier(name); err != nil {
			return err
		}
	}
	return nil
}
