package mssql

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
	ReferencedTable  *string `db:"referenced_table"`
	ReferencedColumn *string `db:"referenced_column"`
}

type indexRow struct {
	TableName  string `db:"table_name"`
	IndexName  string `db:"index_name"`
	IsUnique   bool   `db:"is_unique"`
	IsPrimary  bool   `db:"is_primary"`
	ColumnName string `db:"column_name"`
}

type estimateRow struct {
	TableName string `db:"table_name"`
	Estimate  int64  `db:"estimate"`
}

// Snapshot reads the full catalog within one SNAPSHOT-isolation read-only
// transaction against information_schema and the sys catalog views.
func (c *MSSQLConnector) Snapshot(ctx context.Context) (*model.CatalogSnapshot, error) {
	tx, err := c.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSnapshot, ReadOnly: true})
	if err != nil {
		// Snapshot isolation is opt-in per database; fall back to the default
		// level rather than failing the scan.
		tx, err = c.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin introspection tx: %w", err)
		}
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
	estimates, err := c.fetchEstimates(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("introspect row estimates: %w", err)
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
		if row.IsPrimary {
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
			Unique:  row.IsUnique,
		})
	}

	estMap := make(map[string]int64, len(estimates))
	for _, e := range estimates {
		estMap[e.TableName] = e.Estimate
	}

	snap := &model.CatalogSnapshot{
		Engine:  c.DriverName(),
		TakenAt: time.Now().UTC(),
		Tables:  make([]model.TableDescriptor, 0, len(tables)),
	}
	for _, name := range tables {
		t := model.TableDescriptor{
			Name:             name,
			Columns:          colMap[name],
			Constraints:      conMap[name],
			Indexes:          idxMap[name],
			RowCountEstimate: estMap[name],
		}
		if t.Columns == nil {
			t.Columns = []model.ColumnDescriptor{}
		}
		if t.Constraints == nil {
			t.Constraints = []model.ConstraintDescriptor{}
		}
		if t.Indexes == nil {
			t.Indexes = []model.IndexDescriptor{}
		}
		snap.Tables = append(snap.Tables, t)
	}

	return snap, nil
}

func (c *MSSQLConnector) fetchTables(ctx context.Context, tx *sqlx.Tx) ([]string, error) {
	const query = `SELECT table_name FROM information_schema.tables
		WHERE table_schema = @p1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	var names []string
	if err := tx.SelectContext(ctx, &names, query, c.schemaName); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *MSSQLConnector) fetchColumns(ctx context.Context, tx *sqlx.Tx) ([]columnRow, error) {
	const query = `SELECT table_name, column_name, data_type, is_nullable, column_default, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = @p1
		ORDER BY table_name, ordinal_position`

	var rows []columnRow
	if err := tx.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *MSSQLConnector) fetchConstraints(ctx context.Context, tx *sqlx.Tx) ([]constraintRow, error) {
	const query = `SELECT
			tc.table_name,
			tc.constraint_name,
			tc.constraint_type,
			kcu.column_name,
			ccu.table_name AS referenced_table,
			ccu.column_name AS referenced_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		LEFT JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.constraint_type = 'FOREIGN KEY'
		WHERE tc.table_schema = @p1
			AND tc.constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY', 'UNIQUE')
		ORDER BY tc.table_name, tc.constraint_name, kcu.ordinal_position`

	var rows []constraintRow
	if err := tx.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *MSSQLConnector) fetchIndexes(ctx context.Context, tx *sqlx.Tx) ([]indexRow, error) {
	const query = `SELECT
			t.name AS table_name,
			i.name AS index_name,
			i.is_unique,
			i.is_primary_key AS is_primary,
			col.name AS column_name
		FROM sys.indexes i
		JOIN sys.tables t ON t.object_id = i.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns col ON col.object_id = ic.object_id AND col.column_id = ic.column_id
		WHERE s.name = @p1 AND i.name IS NOT NULL
		ORDER BY t.name, i.name, ic.key_ordinal`

	var rows []indexRow
	if err := tx.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *MSSQLConnector) fetchEstimates(ctx context.Context, tx *sqlx.Tx) ([]estimateRow, error) {
	const query = `SELECT t.name AS table_name, SUM(p.rows) AS estimate
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.partitions p ON p.object_id = t.object_id AND p.index_id IN (0, 1)
		WHERE s.name = @p1
		GROUP BY t.name`

	var rows []estimateRow
	if err := tx.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}
