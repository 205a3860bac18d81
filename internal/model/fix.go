package model

import "time"

// Guard is an existence probe attached to a creation statement. The executor
// runs the guard query first and skips the statement when the count is
// non-zero, making every additive plan idempotent by construction even on
// engines without native IF NOT EXISTS forms.
type Guard struct {
	Query string        `json:"query"`
	Args  []interface{} `json:"args,omitempty"`
}

// Statement is one schema-mutating operation within a fix plan. Undo carries
// the statement's own inverse: after a mid-plan failure on an engine without
// transactional DDL, the executor runs the undos of the statements that
// actually applied, newest first, and never anything else. A Guard on an undo
// statement is a presence probe; the undo runs only while the object it
// removes still exists.
type Statement struct {
	SQL   string        `json:"sql"`
	Args  []interface{} `json:"args,omitempty"`
	Guard *Guard        `json:"guard,omitempty"`
	Undo  []Statement   `json:"undo,omitempty"`
}

// SourcePatch is a minimal text-level edit anchored to a call site. It is
// never a full-file rewrite: Old must match at or after the anchor line and
// is replaced exactly once.
type SourcePatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// BackupVerify asks the executor to compare row counts between a table and
// its backup copy immediately before the swap step of a type migration.
type BackupVerify struct {
	Table       string `json:"table"`
	BackupTable string `json:"backup_table"`
}

// FixPlan is a reversible, ordered set of operations designed to resolve one
// issue. Plans are generated fresh per issue per cycle and discarded when the
// issue is inside its cooldown window.
type FixPlan struct {
	IssueID             string        `json:"issue_id"`
	IssueKind           IssueKind     `json:"issue_kind"`
	Target              Target        `json:"target"`
	Statements          []Statement   `json:"statements,omitempty"`
	RollbackStatements  []Statement   `json:"rollback_statements,omitempty"`
	SourcePatches       []SourcePatch `json:"source_patches,omitempty"`
	BackupRef           string        `json:"backup_ref,omitempty"`
	Verify              *BackupVerify `json:"verify,omitempty"`
	RequiresTransaction bool          `json:"requires_transaction"`
	RetainUntil         time.Time     `json:"retain_until,omitempty"`
}

// FixOutcome is the terminal state of a fix attempt.
type FixOutcome string

const (
	FixSuccess    FixOutcome = "SUCCESS"
	FixFailed     FixOutcome = "FAILED"
	FixRolledBack FixOutcome = "ROLLED_BACK"
)

// FixRecord is the durable, append-only account of one fix attempt. It is
// owned by the history ledger and drives both audit and cooldown
// suppression.
type FixRecord struct {
	ID                 string      `json:"id"`
	IssueID            string      `json:"issue_id"`
	IssueKind          IssueKind   `json:"issue_kind"`
	Target             Target      `json:"target"`
	AppliedAt          time.Time   `json:"applied_at"`
	Outcome            FixOutcome  `json:"outcome"`
	BackupRef          string      `json:"backup_ref,omitempty"`
	StatementsApplied  []string    `json:"statements_applied,omitempty"`
	RollbackStatements []Statement `json:"-"`
	PatchBackups       []string    `json:"patch_backups,omitempty"`
	ReversalOf         string      `json:"reversal_of,omitempty"`
	Error              string      `json:"error,omitempty"`
	RetainUntil        time.Time   `json:"retain_until,omitempty"`
}
