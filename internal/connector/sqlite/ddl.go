package sqlite

import (
	"fmt"
	"strings"

	"github.com/healdb/heal/internal/connector"
	"github.com/healdb/heal/internal/model"
)

func tableGuard(table string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		Args:  []interface{}{table},
	}
}

func columnGuard(table, column string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		Args:  []interface{}{table, column},
	}
}

func indexGuard(index string) *model.Guard {
	return &model.Guard{
		Query: `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`,
		Args:  []interface{}{index},
	}
}

// columnSQL renders a column definition. A NOT NULL column added via ALTER
// needs a default in SQLite, so one is synthesized from the type class when
// the rule supplies none.
func (c *SQLiteConnector) columnSQL(col model.ColumnDef) string {
	var b strings.Builder
	b.WriteString(c.QuoteIdentifier(col.Name))
	b.WriteString(" ")
	b.WriteString(col.Type)
	if !col.Nullable {
		b.WriteString(" NOT NULL")
		if col.Default == nil {
			b.WriteString(" DEFAULT ")
			b.WriteString(zeroLiteral(col.Type))
		}
	}
	if col.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(*col.Default)
	}
	return b.String()
}

func zeroLiteral(declaredType string) string {
	switch model.Canonicalize(declaredType) {
	case model.CanonicalInteger, model.CanonicalReal, model.CanonicalBoolean:
		return "0"
	case model.CanonicalBlob:
		return "x''"
	default:
		return "''"
	}
}

// BuildCreateTable emits an IF NOT EXISTS creation, doubly guarded so a
// concurrent reapplication is a no-op.
func (c *SQLiteConnector) BuildCreateTable(table string, cols []model.ColumnDef) (apply, rollback []model.Statement, err error) {
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
		Guard: tableGuard(table),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildAddColumn emits a guarded ADD COLUMN. SQLite has no native
// IF NOT EXISTS for columns; the guard supplies the idempotence.
func (c *SQLiteConnector) BuildAddColumn(table string, col model.ColumnDef) (apply, rollback []model.Statement, err error) {
	if err := connector.ValidateIdentifiers(table, col.Name); err != nil {
		return nil, nil, err
	}

	drop := model.Statement{SQL: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", c.QuoteIdentifier(table), c.QuoteIdentifier(col.Name))}
	apply = []model.Statement{{
		SQL:   fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", c.QuoteIdentifier(table), c.columnSQL(col)),
		Guard: columnGuard(table, col.Name),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildCreateIndex emits a guarded CREATE INDEX.
func (c *SQLiteConnector) BuildCreateIndex(table, index string, cols []string, unique bool) (apply, rollback []model.Statement, err error) {
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
			uniqueKw, c.QuoteIdentifier(index), c.QuoteIdentifier(table), strings.Join(quoted, ", ")),
		Guard: indexGuard(index),
		Undo:  []model.Statement{drop},
	}}
	rollback = []model.Statement{drop}
	return apply, rollback, nil
}

// BuildAddForeignKey is unsupported: SQLite cannot attach a foreign key to an
// existing table without a full rebuild, which is not a safe online repair.
func (c *SQLiteConnector) BuildAddForeignKey(table, column, refTable, refColumn string) (apply, rollback []model.Statement, err error) {
	return nil, nil, fmt.Errorf("sqlite: adding a foreign key to %s.%s requires a table rebuild; fix manually", table, column)
}

// BuildTypeMigration produces the backup → add → cast-copy → swap sequence.
// The backup table survives under backupTable for the retention period; the
// rollback restores the table wholesale from that backup.
func (c *SQLiteConnector) BuildTypeMigration(table string, col model.ColumnDescriptor, targetType, backupTable string) (apply, rollback []model.Statement, err error) {
	if err := connector.ValidateIdentifiers(table, col.Name, backupTable); err != nil {
		return nil, nil, err
	}

	qTable := c.QuoteIdentifier(table)
	qCol := c.QuoteIdentifier(col.Name)
	tmpCol := col.Name + "__migrated"
	qTmp := c.QuoteIdentifier(tmpCol)

	// Once the original column is gone, the only safe compensation is the
	// wholesale restore from the verified backup; its guards skip the earlier
	// undos that the swap makes moot.
	restore := []model.Statement{
		{SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", qTable), Guard: tableGuard(table)},
		{SQL: fmt.Sprintf("ALTER TABLE %s RENAME TO %s", c.QuoteIdentifier(backupTable), qTable), Guard: tableGuard(backupTable)},
	}

	apply = []model.Statement{
		{
			SQL:   fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", c.QuoteIdentifier(backupTable), qTable),
			Guard: tableGuard(backupTable),
			Undo: []model.Statement{
				{SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", c.QuoteIdentifier(backupTable)), Guard: tableGuard(backupTable)},
			},
		},
		{
			SQL:   fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", qTable, qTmp, targetType),
			Guard: columnGuard(table, tmpCol),
			Undo: []model.Statement{
				{SQL: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", qTable, qTmp), Guard: columnGuard(table, tmpCol)},
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
		{SQL: fmt.Sprintf("ALTER TABLE %s RENAME TO %s", c.QuoteIdentifier(backupTable), qTable)},
	}
	return apply, rollback, nil
}
