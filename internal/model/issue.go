package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// IssueKind enumerates every structural defect the detector can report.
// Each kind maps to exactly one handling branch in the planner.
type IssueKind string

const (
	IssueTypeMismatch  IssueKind = "TYPE_MISMATCH"
	IssueMissingTable  IssueKind = "MISSING_TABLE"
	IssueMissingColumn IssueKind = "MISSING_COLUMN"
	IssueMissingIndex  IssueKind = "MISSING_INDEX"
	IssueMissingFK     IssueKind = "MISSING_FK"
	IssueCodePattern   IssueKind = "CODE_PATTERN"
)

// Severity classifies how urgently an issue needs attention.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// Target identifies the schema element an issue is about.
type Target struct {
	Table  string `json:"table"`
	Column string `json:"column,omitempty"`
}

// Issue is a detected discrepancy between the live catalog (or scanned
// source) and the expected shape. Identity is derived deterministically from
// (kind, table, column) so repeated scans recognize the same issue rather
// than creating duplicates.
type Issue struct {
	ID              string     `json:"id"`
	Kind            IssueKind  `json:"kind"`
	Severity        Severity   `json:"severity"`
	Target          Target     `json:"target"`
	Evidence        string     `json:"evidence"`
	ExpectedType    string     `json:"expected_type,omitempty"`
	ActualType      string     `json:"actual_type,omitempty"`
	File            string     `json:"file,omitempty"`
	CallSites       []CallSite `json:"call_sites,omitempty"`
	Related         []string   `json:"related,omitempty"`
	FirstDetectedAt time.Time  `json:"first_detected_at"`
}

// IssueID computes the deterministic identity for an issue.
func IssueID(kind IssueKind, table, column string) string {
	h := sha256.Sum256([]byte(string(kind) + "|" + table + "|" + column))
	return hex.EncodeToString(h[:])[:12]
}
