package catalog

import (
	"testing"

	"github.com/healdb/heal/internal/model"
)

func snapWith(tables ...model.TableDescriptor) *model.CatalogSnapshot {
	return &model.CatalogSnapshot{Engine: "sqlite", Tables: tables}
}

func usersTable() model.TableDescriptor {
	return model.TableDescriptor{
		Name: "users",
		Columns: []model.ColumnDescriptor{
			{Name: "id", DeclaredType: "INTEGER"},
			{Name: "email", DeclaredType: "TEXT", Nullable: true},
		},
	}
}

func TestDiffNoChanges(t *testing.T) {
	if changes := Diff(snapWith(usersTable()), snapWith(usersTable())); len(changes) != 0 {
		t.Errorf("identical snapshots should produce no changes, got %+v", changes)
	}
}

func TestDiffTableAddedAndRemoved(t *testing.T) {
	prev := snapWith(usersTable())
	curr := snapWith(model.TableDescriptor{Name: "orders"})

	changes := Diff(prev, curr)
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2: %+v", len(changes), changes)
	}

	var removed, added *Change
	for i := range changes {
		switch changes[i].Category {
		case "table_removed":
			removed = &changes[i]
		case "table_added":
			added = &changes[i]
		}
	}
	if removed == nil || removed.Type != ChangeBreaking || removed.Table != "users" {
		t.Errorf("table removal should be breaking: %+v", removed)
	}
	if added == nil || added.Type != ChangeAdditive || added.Table != "orders" {
		t.Errorf("table addition should be additive: %+v", added)
	}
}

func TestDiffColumnChanges(t *testing.T) {
	prev := snapWith(usersTable())

	changed := usersTable()
	changed.Columns = []model.ColumnDescriptor{
		{Name: "id", DeclaredType: "INTEGER"},
		{Name: "email", DeclaredType: "VARCHAR(100)", Nullable: true}, // same canonical class
		{Name: "age", DeclaredType: "INTEGER"},
	}
	curr := snapWith(changed)

	changes := Diff(prev, curr)
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1: %+v", len(changes), changes)
	}
	if changes[0].Category != "column_added" || changes[0].Column != "age" {
		t.Errorf("got %+v", changes[0])
	}
}

func TestDiffTypeChangeIsBreaking(t *testing.T) {
	prev := snapWith(usersTable())

	changed := usersTable()
	changed.Columns[1].DeclaredType = "INTEGER" // email TEXT -> INTEGER
	curr := snapWith(changed)

	changes := Diff(prev, curr)
	if len(changes) != 1 || changes[0].Category != "type_changed" || changes[0].Type != ChangeBreaking {
		t.Fatalf("got %+v", changes)
	}
	if changes[0].OldValue != "TEXT" || changes[0].NewValue != "INTEGER" {
		t.Errorf("change values: %+v", changes[0])
	}
}

func TestDiffNullability(t *testing.T) {
	prev := snapWith(usersTable())

	tightened := usersTable()
	tightened.Columns[1].Nullable = false
	changes := Diff(prev, snapWith(tightened))
	if len(changes) != 1 || changes[0].Type != ChangeBreaking {
		t.Fatalf("tightening nullability is breaking, got %+v", changes)
	}

	// The reverse direction is additive.
	changes = Diff(snapWith(tightened), prev)
	if len(changes) != 1 || changes[0].Type != ChangeAdditive {
		t.Fatalf("loosening nullability is additive, got %+v", changes)
	}
}

func TestBreakingFilter(t *testing.T) {
	changes := []Change{
		{Type: ChangeAdditive, Category: "column_added"},
		{Type: ChangeBreaking, Category: "column_removed"},
		{Type: ChangeBreaking, Category: "type_changed"},
	}
	breaking := Breaking(changes)
	if len(breaking) != 2 {
		t.Errorf("got %d breaking changes, want 2", len(breaking))
	}
	if len(Breaking(nil)) != 0 {
		t.Error("empty input should yield no breaking changes")
	}
}
