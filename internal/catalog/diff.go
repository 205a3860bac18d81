package catalog

import (
	"fmt"

	"github.com/healdb/heal/internal/model"
)

// ChangeType classifies the impact of a structural change between two scan
// cycles.
type ChangeType string

const (
	// ChangeAdditive means a table or column appeared. Safe for running code.
	ChangeAdditive ChangeType = "additive"
	// ChangeBreaking means a table or column disappeared or changed type.
	ChangeBreaking ChangeType = "breaking"
)

// Change describes a single difference between two catalog snapshots.
type Change struct {
	Type        ChangeType `json:"type"`
	Category    string     `json:"category"` // "table_added", "table_removed", "column_added", "column_removed", "type_changed", "nullable_changed"
	Table       string     `json:"table"`
	Column      string     `json:"column,omitempty"`
	OldValue    string     `json:"old_value,omitempty"`
	NewValue    string     `json:"new_value,omitempty"`
	Description string     `json:"description"`
}

// Diff reports the structural changes between two snapshots of the same
// target, previous first. It sees everything that moved underneath the
// engine between cycles, including the engine's own applied fixes.
func Diff(prev, curr *model.CatalogSnapshot) []Change {
	var changes []Change

	prevTables := make(map[string]*model.TableDescriptor, len(prev.Tables))
	for i := range prev.Tables {
		prevTables[prev.Tables[i].Name] = &prev.Tables[i]
	}
	currTables := make(map[string]*model.TableDescriptor, len(curr.Tables))
	for i := range curr.Tables {
		currTables[curr.Tables[i].Name] = &curr.Tables[i]
	}

	for i := range prev.Tables {
		pt := &prev.Tables[i]
		ct, ok := currTables[pt.Name]
		if !ok {
			changes = append(changes, Change{
				Type:        ChangeBreaking,
				Category:    "table_removed",
				Table:       pt.Name,
				Description: fmt.Sprintf("table %q no longer present", pt.Name),
			})
			continue
		}
		changes = append(changes, diffTable(pt, ct)...)
	}

	for i := range curr.Tables {
		ct := &curr.Tables[i]
		if _, ok := prevTables[ct.Name]; !ok {
			changes = append(changes, Change{
				Type:        ChangeAdditive,
				Category:    "table_added",
				Table:       ct.Name,
				Description: fmt.Sprintf("table %q appeared", ct.Name),
			})
		}
	}

	return changes
}

func diffTable(prev, curr *model.TableDescriptor) []Change {
	var changes []Change

	for i := range prev.Columns {
		pc := &prev.Columns[i]
		cc := curr.Column(pc.Name)
		if cc == nil {
			changes = append(changes, Change{
				Type:        ChangeBreaking,
				Category:    "column_removed",
				Table:       prev.Name,
				Column:      pc.Name,
				OldValue:    pc.DeclaredType,
				Description: fmt.Sprintf("column %q dropped from table %q", pc.Name, prev.Name),
			})
			continue
		}

		if model.Canonicalize(pc.DeclaredType) != model.Canonicalize(cc.DeclaredType) {
			changes = append(changes, Change{
				Type:        ChangeBreaking,
				Category:    "type_changed",
				Table:       prev.Name,
				Column:      pc.Name,
				OldValue:    pc.DeclaredType,
				NewValue:    cc.DeclaredType,
				Description: fmt.Sprintf("column %q type changed from %q to %q", pc.Name, pc.DeclaredType, cc.DeclaredType),
			})
		}

		// Tightening nullability breaks writers that send NULLs; loosening
		// is additive.
		if pc.Nullable && !cc.Nullable {
			changes = append(changes, Change{
				Type:        ChangeBreaking,
				Category:    "nullable_changed",
				Table:       prev.Name,
				Column:      pc.Name,
				OldValue:    "nullable",
				NewValue:    "not null",
				Description: fmt.Sprintf("column %q changed from nullable to NOT NULL", pc.Name),
			})
		} else if !pc.Nullable && cc.Nullable {
			changes = append(changes, Change{
				Type:        ChangeAdditive,
				Category:    "nullable_changed",
				Table:       prev.Name,
				Column:      pc.Name,
				OldValue:    "not null",
				NewValue:    "nullable",
				Description: fmt.Sprintf("column %q changed from NOT NULL to nullable", pc.Name),
			})
		}
	}

	for i := range curr.Columns {
		cc := &curr.Columns[i]
		if prev.Column(cc.Name) == nil {
			changes = append(changes, Change{
				Type:        ChangeAdditive,
				Category:    "column_added",
				Table:       prev.Name,
				Column:      cc.Name,
				NewValue:    cc.DeclaredType,
				Description: fmt.Sprintf("column %q added to table %q", cc.Name, prev.Name),
			})
		}
	}

	return changes
}

// Breaking filters a change list down to the breaking entries.
func Breaking(changes []Change) []Change {
	var out []Change
	for _, c := range changes {
		if c.Type == ChangeBreaking {
			out = append(out, c)
		}
	}
	return out
}
