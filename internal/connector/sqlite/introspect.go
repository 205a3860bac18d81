package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/healdb/heal/internal/model"
)

// tableInfoRow holds a row from PRAGMA table_info().
type tableInfoRow struct {
	CID     int     `db:"cid"`
	Name    string  `db:"name"`
	Type    string  `db:"type"`
	NotNull int     `db:"notnull"`
	Default *string `db:"dflt_value"`
	PK      int     `db:"pk"`
}

// foreignKeyRow holds a row from PRAGMA foreign_key_list().
type foreignKeyRow struct {
	ID       int    `db:"id"`
	Seq      int    `db:"seq"`
	Table    string `db:"table"`
	From     string `db:"from"`
	To       string `db:"to"`
	OnUpdate string `db:"on_update"`
	OnDelete string `db:"on_delete"`
	Match    string `db:"match"`
}

// indexListRow holds a row from PRAGMA index_list().
type indexListRow struct {
	Seq     int    `db:"seq"`
	Name    string `db:"name"`
	Unique  int    `db:"unique"`
	Origin  string `db:"origin"`
	Partial int    `db:"partial"`
}

// indexInfoRow holds a row from PRAGMA index_info().
type indexInfoRow struct {
	SeqNo int     `db:"seqno"`
	CID   int     `db:"cid"`
	Name  *string `db:"name"`
}

// Snapshot reads the full catalog in one pass. The pool is capped at a single
// connection, so every PRAGMA below runs in the same session.
func (c *SQLiteConnector) Snapshot(ctx context.Context) (*model.CatalogSnapshot, error) {
	const query = `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	var names []string
	if err := c.db.SelectContext(ctx, &names, query); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	snap := &model.CatalogSnapshot{
		Engine:  c.DriverName(),
		TakenAt: time.Now().UTC(),
		Tables:  make([]model.TableDescriptor, 0, len(names)),
	}

	for _, name := range names {
		t, err := c.describeTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe table %q: %w", name, err)
		}
		snap.Tables = append(snap.Tables, *t)
	}

	return snap, nil
}

func (c *SQLiteConnector) describeTable(ctx context.Context, tableName string) (*model.TableDescriptor, error) {
	var cols []tableInfoRow
	pragma := fmt.Sprintf("PRAGMA table_info(%s)", c.QuoteIdentifier(tableName))
	if err := c.db.SelectContext(ctx, &cols, pragma); err != nil {
		return nil, fmt.Errorf("table_info: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q not found", tableName)
	}

	t := &model.TableDescriptor{
		Name:        tableName,
		Columns:     make([]model.ColumnDescriptor, 0, len(cols)),
		Constraints: []model.ConstraintDescriptor{},
		Indexes:     []model.IndexDescriptor{},
	}

	var pkCols []string
	for _, col := range cols {
		if col.PK > 0 {
			pkCols = append(pkCols, col.Name)
		}
		t.Columns = append(t.Columns, model.ColumnDescriptor{
			Name:         col.Name,
			DeclaredType: col.Type,
			Nullable:     col.NotNull == 0 && col.PK == 0,
			Default:      col.Default,
		})
	}
	if len(pkCols) > 0 {
		t.Constraints = append(t.Constraints, model.ConstraintDescriptor{
			Kind:    model.ConstraintPrimaryKey,
			Columns: pkCols,
		})
	}

	var fks []foreignKeyRow
	fkPragma := fmt.Sprintf("PRAGMA foreign_key_list(%s)", c.QuoteIdentifier(tableName))
	if err := c.db.SelectContext(ctx, &fks, fkPragma); err != nil {
		return nil, fmt.Errorf("foreign_key_list: %w", err)
	}
	for _, fk := range fks {
		t.Constraints = append(t.Constraints, model.ConstraintDescriptor{
			Kind:             model.ConstraintForeignKey,
			Columns:          []string{fk.From},
			ReferencedTable:  fk.Table,
			ReferencedColumn: fk.To,
		})
	}

	var idxRows []indexListRow
	idxPragma := fmt.Sprintf("PRAGMA index_list(%s)", c.QuoteIdentifier(tableName))
	if err := c.db.SelectContext(ctx, &idxRows, idxPragma); err != nil {
		return nil, fmt.Errorf("index_list: %w", err)
	}
	for _, idx := range idxRows {
		if idx.Origin == "pk" {
			continue
		}

		var infoRows []indexInfoRow
		infoPragma := fmt.Sprintf("PRAGMA index_info(%s)", c.QuoteIdentifier(idx.Name))
		if err := c.db.SelectContext(ctx, &infoRows, infoPragma); err != nil {
			continue
		}

		idxCols := make([]string, 0, len(infoRows))
		for _, info := range infoRows {
			if info.Name != nil {
				idxCols = append(idxCols, *info.Name)
			}
		}

		t.Indexes = append(t.Indexes, model.IndexDescriptor{
			Name:    idx.Name,
			Columns: idxCols,
			Unique:  idx.Unique == 1,
		})
		if idx.Unique == 1 && idx.Origin == "u" {
			t.Constraints = append(t.Constraints, model.ConstraintDescriptor{
				Kind:    model.ConstraintUnique,
				Columns: idxCols,
			})
		}
	}

	// SQLite keeps no row-count statistics; an exact count here would scan
	// every table on every cycle. The executor counts exactly where it
	// matters (backup verification).
	t.RowCountEstimate = -1

	return t, nil
}
