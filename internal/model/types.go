package model

import "strings"

// CanonicalType buckets engine-specific declared types into comparable
// classes, so a rule saying "INTEGER" matches int4/bigint/INT alike.
type CanonicalType string

const (
	CanonicalInteger   CanonicalType = "integer"
	CanonicalText      CanonicalType = "text"
	CanonicalReal      CanonicalType = "real"
	CanonicalBoolean   CanonicalType = "boolean"
	CanonicalTimestamp CanonicalType = "timestamp"
	CanonicalBlob      CanonicalType = "blob"
	CanonicalUnknown   CanonicalType = "unknown"
)

// Canonicalize maps a declared SQL type to its canonical class. The rules
// follow SQLite's affinity heuristics, which happen to classify the common
// type names of every supported engine correctly.
func Canonicalize(declared string) CanonicalType {
	upper := strings.ToUpper(strings.TrimSpace(declared))

	// Strip parenthesized length/precision (VARCHAR(255) -> VARCHAR).
	if idx := strings.IndexByte(upper, '('); idx >= 0 {
		upper = strings.TrimSpace(upper[:idx])
	}

	switch {
	case strings.Contains(upper, "BOOL"):
		return CanonicalBoolean
	case strings.Contains(upper, "INT") || upper == "SERIAL" || upper == "BIGSERIAL" || upper == "SMALLSERIAL":
		return CanonicalInteger
	case strings.Contains(upper, "CHAR"),
		strings.Contains(upper, "CLOB"),
		strings.Contains(upper, "TEXT"),
		upper == "UUID", upper == "CITEXT", upper == "NAME",
		upper == "ENUM", upper == "JSON", upper == "JSONB", upper == "XML":
		return CanonicalText
	case strings.Contains(upper, "BLOB"),
		strings.Contains(upper, "BINARY"),
		upper == "BYTEA", upper == "IMAGE":
		return CanonicalBlob
	case strings.Contains(upper, "REAL"),
		strings.Contains(upper, "FLOA"),
		strings.Contains(upper, "DOUB"),
		strings.Contains(upper, "NUMERIC"),
		strings.Contains(upper, "DECIMAL"),
		upper == "MONEY":
		return CanonicalReal
	case strings.Contains(upper, "DATE"),
		strings.Contains(upper, "TIME"):
		return CanonicalTimestamp
	default:
		return CanonicalUnknown
	}
}
