package model

import (
	"strings"
	"time"
)

// CatalogSnapshot is an immutable point-in-time view of the target database's
// structure. A fresh snapshot is produced on every scan cycle and compared
// against the expected-shape ruleset, never against a previous snapshot.
type CatalogSnapshot struct {
	Engine  string            `json:"engine"`
	TakenAt time.Time         `json:"taken_at"`
	Tables  []TableDescriptor `json:"tables"`
}

// TableDescriptor describes the structure of a single table.
type TableDescriptor struct {
	Name             string                 `json:"name"`
	Columns          []ColumnDescriptor     `json:"columns"`
	Constraints      []ConstraintDescriptor `json:"constraints"`
	Indexes          []IndexDescriptor      `json:"indexes"`
	RowCountEstimate int64                  `json:"row_count_estimate"`
}

// ColumnDescriptor describes a single column within a table.
type ColumnDescriptor struct {
	Name         string  `json:"name"`
	DeclaredType string  `json:"declared_type"`
	Nullable     bool    `json:"nullable"`
	Default      *string `json:"default,omitempty"`
}

// ConstraintKind enumerates the constraint types tracked in a snapshot.
type ConstraintKind string

const (
	ConstraintPrimaryKey ConstraintKind = "PRIMARY_KEY"
	ConstraintForeignKey ConstraintKind = "FOREIGN_KEY"
	ConstraintUnique     ConstraintKind = "UNIQUE"
	ConstraintCheck      ConstraintKind = "CHECK"
)

// ConstraintDescriptor describes a table constraint.
type ConstraintDescriptor struct {
	Kind             ConstraintKind `json:"kind"`
	Columns          []string       `json:"columns"`
	ReferencedTable  string         `json:"referenced_table,omitempty"`
	ReferencedColumn string         `json:"referenced_column,omitempty"`
}

// IndexDescriptor describes a database index on one or more columns.
type IndexDescriptor struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// Table returns the descriptor for the named table, or nil. Lookups fold
// case: rules and scanned queries are normalized to lower case, while
// case-preserving engines report names as declared.
func (s *CatalogSnapshot) Table(name string) *TableDescriptor {
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			return &s.Tables[i]
		}
	}
	return nil
}

// HasIdentifier reports whether name appears in the snapshot as a table,
// column, or index name. The planner refuses to interpolate any identifier
// that is neither snapshot-known nor rule-supplied and pattern-validated.
func (s *CatalogSnapshot) HasIdentifier(name string) bool {
	for i := range s.Tables {
		t := &s.Tables[i]
		if strings.EqualFold(t.Name, name) {
			return true
		}
		for _, c := range t.Columns {
			if strings.EqualFold(c.Name, name) {
				return true
			}
		}
		for _, ix := range t.Indexes {
			if strings.EqualFold(ix.Name, name) {
				return true
			}
		}
	}
	return false
}

// Column returns the descriptor for the named column, or nil. Case folds the
// same way Table does.
func (t *TableDescriptor) Column(name string) *ColumnDescriptor {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i]
		}
	}
	return nil
}

// HasIndexOn reports whether an index (or a PRIMARY KEY / UNIQUE constraint)
// covers exactly the given column list, order-insensitive.
func (t *TableDescriptor) HasIndexOn(columns []string) bool {
	want := columnSet(columns)
	for _, ix := range t.Indexes {
		if equalSets(columnSet(ix.Columns), want) {
			return true
		}
	}
	for _, c := range t.Constraints {
		if c.Kind != ConstraintPrimaryKey && c.Kind != ConstraintUnique {
			continue
		}
		if equalSets(columnSet(c.Columns), want) {
			return true
		}
	}
	return false
}

// HasForeignKeyTo reports whether column carries a FOREIGN KEY constraint
// referencing the given table.
func (t *TableDescriptor) HasForeignKeyTo(column, referencedTable string) bool {
	for _, c := range t.Constraints {
		if c.Kind != ConstraintForeignKey {
			continue
		}
		if !strings.EqualFold(c.ReferencedTable, referencedTable) {
			continue
		}
		for _, col := range c.Columns {
			if strings.EqualFold(col, column) {
				return true
			}
		}
	}
	return false
}

func columnSet(cols []string) map[string]bool {
	m := make(map[string]bool, len(cols))
	for _, c := range cols {
		m[strings.ToLower(c)] = true
	}
	return m
}

func equalSets(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
