package postgres

import (
	"fmt"
	"strings"

	"github.com/healdb/heal/internal/connector"
	"github.com/healdb/heal/internal/model"
)

func (c *PostgresConnector) tableGuard(table string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`,
		Args:  []interface{}{c.schemaName, table},
	}
}

func (c *PostgresConnector) columnGuard(table, column string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 AND column_name = $3`,
		Args:  []interface{}{c.schemaName, table, column},
	}
}

func (c *PostgresConnector) indexGuard(index string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM pg_indexes WHERE schemaname = $1 AND indexname = $2`,
		Args:  []interface{}{c.schemaName, index},
	}
}

func (c *PostgresConnector) constraintGuard(table, constraint string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM information_schema.table_constraints
			WHERE table_schema = $1 AND table_name = $2 AND constraint_name = $3`,
		Args: []interface{}{c.schemaName, table, constraint},
	}
}

func (c *PostgresConnector) columnSQL(col model.ColumnDef) string {
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
func (c *PostgresConnector) BuildCreateTable(table string, cols []model.ColumnDef) (apply, rollback []model.Statement, err error) {
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

	drop := model.Statement{SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", c.qualify(table))}
	apply = []model.Statement{{
		SQL:   fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", c.qualify(table), strings.Join(defs, ", ")),
		Guard: c.tableGuard(table),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildAddColumn emits a guarded ADD COLUMN IF NOT EXISTS.
func (c *PostgresConnector) BuildAddColumn(table string, col model.ColumnDef) (apply, rollback []model.Statement, err error) {
	if err := connector.ValidateIdentifiers(table, col.Name); err != nil {
		return nil, nil, err
	}

	drop := model.Statement{SQL: fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", c.qualify(table), c.QuoteIdentifier(col.Name))}
	apply = []model.Statement{{
		SQL:   fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", c.qualify(table), c.columnSQL(col)),
		Guard: c.columnGuard(table, col.Name),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildCreateIndex emits a guarded CREATE INDEX IF NOT EXISTS.
func (c *PostgresConnector) BuildCreateIndex(table, index string, cols []string, unique bool) (apply, rollback []model.Statement, err error) {
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

	drop := model.Statement{SQL: fmt.Sprintf("DROP INDEX IF EXISTS %s", c.QuoteIdentifier(index))}
	apply = []model.Statement{{
		SQL: fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
			uniqueKw, c.QuoteIdentifier(index), c.qualify(table), strings.Join(quoted, ", ")),
		Guard: c.indexGuard(index),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildAddForeignKey emits a guarded ADD CONSTRAINT with a conventional
// constraint name, so the guard can probe for prior application.
func (c *PostgresConnector) BuildAddForeignKey(table, column, refTable, refColumn string) (apply, rollback []model.Statement, err error) {
	if err := connector.ValidateIdentifiers(table, column, refTable, refColumn); err != nil {
		return nil, nil, err
	}

	constraint := fmt.Sprintf("fk_%s_%s", table, column)
	drop := model.Statement{SQL: fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", c.qualify(table), c.QuoteIdentifier(constraint))}
	apply = []model.Statement{{
		SQL: fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			c.qualify(table), c.QuoteIdentifier(constraint), c.QuoteIdentifier(column),
			c.qualify(refTable), c.QuoteIdentifier(refColumn)),
		Guard: c.constraintGuard(table, constraint),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildTypeMigration produces the backup → add → cast-copy → swap sequence.
// A CAST that cannot represent a value fails the statement, which aborts the
// transaction; data is never silently truncated.
func (c *PostgresConnector) BuildTypeMigration(table string, col model.ColumnDescriptor, targetType, backupTable string) (apply, rollback []model.Statement, err error) {
	if err := connector.ValidateIdentifiers(table, col.Name, backupTable); err != nil {
		return nil, nil, err
	}

	qTable := c.qualify(table)
	qCol := c.QuoteIdentifier(col.Name)
	tmpCol := col.Name + "__migrated"
	qTmp := c.QuoteIdentifier(tmpCol)

	// Statements before the DROP COLUMN undo themselves; from the DROP COLUMN
	// on, the verified backup is restored wholesale.
	restore := []model.Statement{
		{SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", qTable), Guard: c.tableGuard(table)},
		{SQL: fmt.Sprintf("ALTER TABLE %s RENAME TO %s", c.qualify(backupTable), c.QuoteIdentifier(table)), Guard: c.tableGuard(backupTable)},
	}

	apply = []model.Statement{
		{
			SQL:   fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", c.qualify(backupTable), qTable),
			Guard: c.tableGuard(backupTable),
			Undo: []model.Statement{
				{SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", c.qualify(backupTable)), Guard: c.tableGuard(backupTable)},
			},
		},
		{
			SQL:   fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", qTable, qTmp, targetType),
			Guard: c.columnGuard(table, tmpCol),
			Undo: []model.Statement{
				{SQL: fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", qTable, qTmp), Guard: c.columnGuard(table, tmpCol)},
			},
		},
		{
			SQL: fmt.Sprintf("UPDATE %s SET %s = CAST(%s AS %s)", qTable, qTmp, qCol, targetType),
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
		{SQL: fmt.Sprintf("ALTER TABLE %s RENAME TO %s", c.qualify(backupTable), c.QuoteIdentifier(table))},
	}
	return apply, rollback, nil
}
