package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/healdb/heal/internal/model"
)

type columnRow struct {
	TableName  string  `db:"table_name"`
	ColumnName string  `db:"column_name"`
	DataType   string  `db:"data_type"`
	IsNullable string  `db:"is_nullable"`
	Default    *string `db:"column_default"`
	Position   int     `db:"ordinal_position"`
}

type constraintRow struct {
	TableName        string  `db:"table_name"`
	ConstraintName   string  `db:"constraint_name"`
	ConstraintType   string  `db:"constraint_type"`
	ColumnName       string  `db:"column_name"`
	ReferencedTable  *string `db:"referenced_table_name"`
	ReferencedColumn *string `db:"referenced_column_name"`
}

type indexRow struct {
	TableName  string `db:"table_name"`
	IndexName  string `db:"index_name"`
	NonUnique  int    `db:"non_unique"`
	ColumnName string `db:"column_name"`
}

type tableRow struct {
	TableName string `db:"table_name"`
	TableRows int64  `db:"table_rows"`
}

// Snapshot reads the full catalog in one REPEATABLE READ read-only
// transaction against information_schema.
func (c *MySQLConnector) Snapshot(ctx context.Context) (*model.CatalogSnapshot, error) {
	tx, err := c.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin introspection tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	tables, err := c.fetchTables(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}
	columns, err := c.fetchColumns(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}
	constraints, err := c.fetchConstraints(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("introspect constraints: %w", err)
	}
	indexes, err := c.fetchIndexes(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("introspect indexes: %w", err)
	}

	colMap := make(map[string][]model.ColumnDescriptor)
	for _, col := range columns {
		colMap[col.TableName] = append(colMap[col.TableName], model.ColumnDescriptor{
			Name:         col.ColumnName,
			DeclaredType: col.DataType,
			Nullable:     col.IsNullable == "YES",
			Default:      col.Default,
		})
	}

	conMap := make(map[string][]model.ConstraintDescriptor)
	conIndex := make(map[string]int)
	for _, row := range constraints {
		var kind model.ConstraintKind
		switch row.ConstraintType {
		case "PRIMARY KEY":
			kind = model.ConstraintPrimaryKey
		case "FOREIGN KEY":
			kind = model.ConstraintForeignKey
		case "UNIQUE":
			kind = model.ConstraintUnique
		default:
			continue
		}
		key := row.TableName + "|" + row.ConstraintName
		if pos, seen := conIndex[key]; seen {
			conMap[row.TableName][pos].Columns = append(conMap[row.TableName][pos].Columns, row.ColumnName)
			continue
		}
		desc := model.ConstraintDescriptor{Kind: kind, Columns: []string{row.ColumnName}}
		if row.ReferencedTable != nil {
			desc.ReferencedTable = *row.ReferencedTable
		}
		if row.ReferencedColumn != nil {
			desc.ReferencedColumn = *row.ReferencedColumn
		}
		conIndex[key] = len(conMap[row.TableName])
		conMap[row.TableName] = append(conMap[row.TableName], desc)
	}

	idxMap := make(map[string][]model.IndexDescriptor)
	idxIndex := make(map[string]int)
	for _, row := range indexes {
		if row.IndexName == "PRIMARY" {
			continue
		}
		key := row.TableName + "|" + row.IndexName
		if pos, seen := idxIndex[key]; seen {
			idxMap[row.TableName][pos].Columns = append(idxMap[row.TableName][pos].Columns, row.ColumnName)
			continue
		}
		idxIndex[key] = len(idxMap[row.TableName])
		idxMap[row.TableName] = append(idxMap[row.TableName], model.IndexDescriptor{
			Name:    row.IndexName,
			Columns: []string{row.ColumnName},
			Unique:  row.NonUnique == 0,
		})
	}

	snap := &model.CatalogSnapshot{
		Engine:  c.DriverName(),
		TakenAt: time.Now().UTC(),
		Tables:  make([]model.TableDescriptor, 0, len(tables)),
	}
	for _, t := range tables {
		td := model.TableDescriptor{
			Name:             t.TableName,
			Columns:          colMap[t.TableName],
			Constraints:      conMap[t.TableName],
			Indexes:          idxMap[t.TableName],
			RowCountEstimate: t.TableRows,
		}
		if td.Columns == nil {
			td.Columns = []model.ColumnDescriptor{}
		}
		if td.Constraints == nil {
			td.Constraints = []model.ConstraintDescriptor{}
		}
		if td.Indexes == nil {
			td.Indexes = []model.IndexDescriptor{}
		}
		snap.Tables = append(snap.Tables, td)
	}

	return snap, nil
}

func (c *MySQLConnector) fetchTables(ctx context.Context, tx *sqlx.Tx) ([]tableRow, error) {
	const query = `SELECT table_name, COALESCE(table_rows, 0) AS table_rows
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	var rows []tableRow
	if err := tx.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *MySQLConnector) fetchColumns(ctx context.Context, tx *sqlx.Tx) ([]columnRow, error) {
	const query = `SELECT table_name, column_name, data_type, is_nullable, column_default, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = ?
		ORDER BY table_name, ordinal_position`

	var rows []columnRow
	if err := tx.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *MySQLConnector) fetchConstraints(ctx context.Context, tx *sqlx.Tx) ([]constraintRow, error) {
	const query = `SELECT
			tc.table_name,
			tc.constraint_name,
			tc.constraint_type,
			kcu.column_name,
			kcu.referenced_table_name,
			kcu.referenced_column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.table_schema = ?
			AND tc.constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY', 'UNIQUE')
		ORDER BY tc.table_name, tc.constraint_name, kcu.ordinal_position`

	var rows []constraintRow
	if err := tx.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *MySQLConnector) fetchIndexes(ctx context.Context, tx *sqlx.Tx) ([]indexRow, error) {
	const query = `SELECT table_name, index_name, non_unique, column_name
		FROM information_schema.statistics
		WHERE table_schema = ?
		ORDER BY table_name, index_name, seq_in_index`

	var rows []indexRow
	if err := tx.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}
