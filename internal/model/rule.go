package model

// ExpectedShapeRule is a static description of what a table or column should
// look like. Rules are loaded once at startup from the rule source and are
// read-only during a scan cycle.
type ExpectedShapeRule struct {
	Table              string   `json:"table" yaml:"table"`
	Column             string   `json:"column,omitempty" yaml:"column,omitempty"`
	ExpectedType       string   `json:"expected_type,omitempty" yaml:"expected_type,omitempty"`
	ExpectedNullable   *bool    `json:"expected_nullable,omitempty" yaml:"expected_nullable,omitempty"`
	DefaultValue       *string  `json:"default,omitempty" yaml:"default,omitempty"`
	RequiredIndexOn    []string `json:"required_index_on,omitempty" yaml:"required_index_on,omitempty"`
	RequiredFKTo       string   `json:"required_fk_to,omitempty" yaml:"required_fk_to,omitempty"`
	RequiredFKToColumn string   `json:"required_fk_to_column,omitempty" yaml:"required_fk_to_column,omitempty"`
}

// ColumnDef is the shape the planner asks a dialect to create, derived from
// an ExpectedShapeRule rather than from the live catalog.
type ColumnDef struct {
	Name     string
	Type     string
	Nullable bool
	Default  *string
}
