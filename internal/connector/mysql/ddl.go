package mysql

import (
	"fmt"
	"strings"

	"github.com/healdb/heal/internal/connector"
	"github.com/healdb/heal/internal/model"
)

func (c *MySQLConnector) tableGuard(table string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		Args:  []interface{}{c.schemaName, table},
	}
}

func (c *MySQLConnector) columnGuard(table, column string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = ? AND table_name = ? AND column_name = ?`,
		Args:  []interface{}{c.schemaName, table, column},
	}
}

func (c *MySQLConnector) indexGuard(table, index string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM information_schema.statistics WHERE table_schema = ? AND table_name = ? AND index_name = ?`,
		Args:  []interface{}{c.schemaName, table, index},
	}
}

func (c *MySQLConnector) constraintGuard(table, constraint string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM information_schema.table_constraints
			WHERE table_schema = ? AND table_name = ? AND constraint_name = ?`,
		Args: []interface{}{c.schemaName, table, constraint},
	}
}

func (c *MySQLConnector) columnSQL(col model.ColumnDef) string {
	var b strings.Builder
	b.WriteString(c.QuoteIdentifier(col.Name))
	b.WriteString(" ")
	b.WriteString(col.Type)
	if !col.Nullable {
		b.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(*col.Default)
	}
	return b.String()
}

// BuildCreateTable emits a guarded CREATE TABLE IF NOT EXISTS.
func (c *MySQLConnector) BuildCreateTable(table string, cols []model.ColumnDef) (apply, rollback []model.Statement, err error) {
	if err := connector.ValidateIdentifier(table); err != nil {
		return nil, nil, err
	}
	defs := make([]string, 0, len(cols))
	for _, col := range cols {
		if err := connector.ValidateIdentifier(col.Name); err != nil {
			return nil, nil, err
		}
		defs = append(defs, c.columnSQL(col))
	}

	drop := model.Statement{SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", c.QuoteIdentifier(table))}
	apply = []model.Statement{{
		SQL:   fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", c.QuoteIdentifier(table), strings.Join(defs, ", ")),
		Guard: c.tableGuard(table),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildAddColumn emits a guarded ADD COLUMN. MySQL has no IF NOT EXISTS for
// columns; the guard supplies the idempotence.
func (c *MySQLConnector) BuildAddColumn(table string, col model.ColumnDef) (apply, rollback []model.Statement, err error) {
	if err := connector.ValidateIdentifiers(table, col.Name); err != nil {
		return nil, nil, err
	}

	drop := model.Statement{SQL: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", c.QuoteIdentifier(table), c.QuoteIdentifier(col.Name))}
	apply = []model.Statement{{
		SQL:   fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", c.QuoteIdentifier(table), c.columnSQL(col)),
		Guard: c.columnGuard(table, col.Name),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildCreateIndex emits a guarded CREATE INDEX.
func (c *MySQLConnector) BuildCreateIndex(table, index string, cols []string, unique bool) (apply, rollback []model.Statement, err error) {
	if err := connector.ValidateIdentifiers(append([]string{table, index}, cols...)...); err != nil {
		return nil, nil, err
	}

	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = c.QuoteIdentifier(col)
	}
	uniqueKw := ""
	if unique {
		uniqueKw = "UNIQUE "
	}

	drop := model.Statement{SQL: fmt.Sprintf("DROP INDEX %s ON %s", c.QuoteIdentifier(index), c.QuoteIdentifier(table))}
	apply = []model.Statement{{
		SQL: fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
			uniqueKw, c.QuoteIdentifier(index), c.QuoteIdentifier(table), strings.Join(quoted, ", ")),
		Guard: c.indexGuard(table, index),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildAddForeignKey emits a guarded ADD CONSTRAINT.
func (c *MySQLConnector) BuildAddForeignKey(table, column, refTable, refColumn string) (apply, rollback []model.Statement, err error) {
	if err := connector.ValidateIdentifiers(table, column, refTable, refColumn); err != nil {
		return nil, nil, err
	}

	constraint := fmt.Sprintf("fk_%s_%s", table, column)
	drop := model.Statement{SQL: fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", c.QuoteIdentifier(table), c.QuoteIdentifier(constraint))}
	apply = []model.Statement{{
		SQL: fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			c.QuoteIdentifier(table), c.QuoteIdentifier(constraint), c.QuoteIdentifier(column),
			c.QuoteIdentifier(refTable), c.QuoteIdentifier(refColumn)),
		Guard: c.constraintGuard(table, constraint),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildTypeMigration produces the backup → add → cast-copy → swap sequence.
// MySQL DDL commits implicitly, so the executor compensates step by step on
// failure instead of relying on a transaction.
func (c *MySQLConnector) BuildTypeMigration(table string, col model.ColumnDescriptor, targetType, backupTable string) (apply, rollback []model.Statement, err error) {
	if err := connector.ValidateIdentifiers(table, col.Name, backupTable); err != nil {
		return nil, nil, err
	}

	qTable := c.QuoteIdentifier(table)
	qCol := c.QuoteIdentifier(col.Name)
	tmpCol := col.Name + "__migrated"
	qTmp := c.QuoteIdentifier(tmpCol)

	// The wholesale restore is only a valid compensation once the original
	// column has been dropped; before that point each statement undoes itself.
	restore := []model.Statement{
		{SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", qTable), Guard: c.tableGuard(table)},
		{SQL: fmt.Sprintf("ALTER TABLE %s RENAME TO %s", c.QuoteIdentifier(backupTable), qTable), Guard: c.tableGuard(backupTable)},
	}

	apply = []model.Statement{
		{
			SQL:   fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", c.QuoteIdentifier(backupTable), qTable),
			Guard: c.tableGuard(backupTable),
			Undo: []model.Statement{
				{SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", c.QuoteIdentifier(backupTable)), Guard: c.tableGuard(backupTable)},
			},
		},
		{
			SQL:   fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", qTable, qTmp, targetType),
			Guard: c.columnGuard(table, tmpCol),
			Undo: []model.Statement{
				{SQL: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", qTable, qTmp), Guard: c.columnGuard(table, tmpCol)},
			},
		},
		{
			SQL: fmt.Sprintf("UPDATE %s SET %s = CAST(%s AS %s)", qTable, qTmp, qCol, castType(targetType)),
		},
		{
			SQL:  fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", qTable, qCol),
			Undo: restore,
		},
		{
			SQL: fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", qTable, qTmp, qCol),
		},
	}
	rollback = []model.Statement{
		{SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", qTable)},
		{SQL: fmt.Sprintf("ALTER TABLE %s RENAME TO %s", c.QuoteIdentifier(backupTable), qTable)},
	}
	return apply, rollback, nil
}

// castType maps a column type to the restricted set of types MySQL CAST
// accepts (CAST AS INT/VARCHAR(...) etc. differ from column declarations).
func castType(declared string) string {
	switch model.Canonicalize(declared) {
	case model.CanonicalInteger, model.CanonicalBoolean:
		return "SIGNED"
	case model.CanonicalReal:
		return "DECIMAL(65,10)"
	case model.CanonicalTimestamp:
		return "DATETIME"
	case model.CanonicalBlob:
		return "BINARY"
	default:
		return "CHAR"
	}
}
