package mssql

import (
	"fmt"
	"strings"

	"github.com/healdb/heal/internal/connector"
	"github.com/healdb/heal/internal/model"
)

func (c *MSSQLConnector) tableGuard(table string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = @p1 AND table_name = @p2`,
		Args:  []interface{}{c.schemaName, table},
	}
}

func (c *MSSQLConnector) columnGuard(table, column string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = @p1 AND table_name = @p2 AND column_name = @p3`,
		Args:  []interface{}{c.schemaName, table, column},
	}
}

func (c *MSSQLConnector) indexGuard(table, index string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM sys.indexes i
			JOIN sys.tables t ON t.object_id = i.object_id
			JOIN sys.schemas s ON s.schema_id = t.schema_id
			WHERE s.name = @p1 AND t.name = @p2 AND i.name = @p3`,
		Args: []interface{}{c.schemaName, table, index},
	}
}

func (c *MSSQLConnector) constraintGuard(table, constraint string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM information_schema.table_constraints
			WHERE table_schema = @p1 AND table_name = @p2 AND constraint_name = @p3`,
		Args: []interface{}{c.schemaName, table, constraint},
	}
}

func (c *MSSQLConnector) columnSQL(col model.ColumnDef) string {
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

// BuildCreateTable emits a guarded CREATE TABLE. SQL Server has no
// IF NOT EXISTS clause; the guard alone supplies the idempotence.
func (c *MSSQLConnector) BuildCreateTable(table string, cols []model.ColumnDef) (apply, rollback []model.Statement, err error) {
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
		SQL:   fmt.Sprintf("CREATE TABLE %s (%s)", c.qualify(table), strings.Join(defs, ", ")),
		Guard: c.tableGuard(table),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildAddColumn emits a guarded ADD. Note SQL Server uses ADD, not
// ADD COLUMN.
func (c *MSSQLConnector) BuildAddColumn(table string, col model.ColumnDef) (apply, rollback []model.Statement, err error) {
	if err := connector.ValidateIdentifiers(table, col.Name); err != nil {
		return nil, nil, err
	}

	drop := model.Statement{SQL: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", c.qualify(table), c.QuoteIdentifier(col.Name))}
	apply = []model.Statement{{
		SQL:   fmt.Sprintf("ALTER TABLE %s ADD %s", c.qualify(table), c.columnSQL(col)),
		Guard: c.columnGuard(table, col.Name),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildCreateIndex emits a guarded CREATE INDEX.
func (c *MSSQLConnector) BuildCreateIndex(table, index string, cols []string, unique bool) (apply, rollback []model.Statement, err error) {
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

	drop := model.Statement{SQL: fmt.Sprintf("DROP INDEX %s ON %s", c.QuoteIdentifier(index), c.qualify(table))}
	apply = []model.Statement{{
		SQL: fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
			uniqueKw, c.QuoteIdentifier(index), c.qualify(table), strings.Join(quoted, ", ")),
		Guard: c.indexGuard(table, index),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildAddForeignKey emits a guarded ADD CONSTRAINT with a conventional
// constraint name, so the guard can probe for prior application.
func (c *MSSQLConnector) BuildAddForeignKey(table, column, refTable, refColumn string) (apply, rollback []model.Statement, err error) {
	if err := connector.ValidateIdentifiers(table, column, refTable, refColumn); err != nil {
		return nil, nil, err
	}

	constraint := fmt.Sprintf("fk_%s_%s", table, column)
	drop := model.Statement{SQL: fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", c.qualify(table), c.QuoteIdentifier(constraint))}
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
// Column renames go through sp_rename, which takes the unbracketed
// schema.table.column path as its first argument.
func (c *MSSQLConnector) BuildTypeMigration(table string, col model.ColumnDescriptor, targetType, backupTable string) (apply, rollback []model.Statement, err error) {
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
		{SQL: fmt.Sprintf("EXEC sp_rename '%s.%s', '%s'", c.schemaName, backupTable, table), Guard: c.tableGuard(backupTable)},
	}

	apply = []model.Statement{
		{
			SQL:   fmt.Sprintf("SELECT * INTO %s FROM %s", c.qualify(backupTable), qTable),
			Guard: c.tableGuard(backupTable),
			Undo: []model.Statement{
				{SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", c.qualify(backupTable)), Guard: c.tableGuard(backupTable)},
			},
		},
		{
			SQL:   fmt.Sprintf("ALTER TABLE %s ADD %s %s", qTable, qTmp, targetType),
			Guard: c.columnGuard(table, tmpCol),
			Undo: []model.Statement{
				{SQL: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", qTable, qTmp), Guard: c.columnGuard(table, tmpCol)},
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
			SQL: fmt.Sprintf("EXEC sp_rename '%s.%s.%s', '%s', 'COLUMN'",
				c.schemaName, table, tmpCol, col.Name),
		},
	}
	rollback = []model.Statement{
		{SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", qTable)},
		{SQL: fmt.Sprintf("EXEC sp_rename '%s.%s', '%s'", c.schemaName, backupTable, table)},
	}
	return apply, rollback, nil
}
