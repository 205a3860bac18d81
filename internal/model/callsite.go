package model

// CallSite is a located database-access expression found in application
// source. Call sites are ephemeral: recomputed every scan, never persisted
// beyond the current cycle.
type CallSite struct {
	File     string         `json:"file"`
	Line     int            `json:"line"`
	Column   int            `json:"column"`
	Table    string         `json:"table,omitempty"`
	Query    string         `json:"query"`
	Bindings []ParamBinding `json:"bindings,omitempty"`
}

// ParamBinding pairs a bound parameter expression with the column its
// placeholder refers to. When the expression is wrapped in a recognized
// type-coercion helper, Coercion holds the wrapper's literal text and
// CoercedType the type class it forces the value into.
type ParamBinding struct {
	ColumnName  string        `json:"column"`
	Expr        string        `json:"expr"`
	Coercion    string        `json:"coercion,omitempty"`
	Inner       string        `json:"inner,omitempty"`
	CoercedType CanonicalType `json:"coerced_type,omitempty"`
}

// ScanFailure records a source file the scanner could not parse. Failures
// are fail-soft: each becomes an INFO-level issue and the scan continues.
type ScanFailure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}
