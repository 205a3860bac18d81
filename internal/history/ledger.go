// Package history persists the append-only record of fix attempts and
// answers the cooldown and rollback-eligibility questions that gate the
// planner and executor.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/healdb/heal/internal/model"
)

// ErrNotFound is returned when no fix record exists for the given id.
var ErrNotFound = errors.New("fix record not found")

// ErrAlreadyRolledBack is returned when a rollback is requested for a fix
// that was already reversed, or for a record that is itself a reversal.
var ErrAlreadyRolledBack = errors.New("fix already rolled back")

// Ledger is the durable fix history backed by SQLite.
type Ledger struct {
	db *sqlx.DB
}

// NewLedger opens (or creates) the history database. Pass empty string for
// in-memory.
func NewLedger(dataDir string) (*Ledger, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "heal.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return l, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	const schema = `CREATE TABLE IF NOT EXISTS fix_history (
		id             TEXT PRIMARY KEY,
		issue_id       TEXT NOT NULL,
		issue_kind     TEXT NOT NULL,
		target_table   TEXT NOT NULL,
		target_column  TEXT NOT NULL DEFAULT '',
		applied_at     TIMESTAMP NOT NULL,
		outcome        TEXT NOT NULL,
		backup_ref     TEXT NOT NULL DEFAULT '',
		statements     TEXT NOT NULL DEFAULT '[]',
		rollback_stmts TEXT NOT NULL DEFAULT '[]',
		patch_backups  TEXT NOT NULL DEFAULT '[]',
		reversal_of    TEXT NOT NULL DEFAULT '',
		error          TEXT NOT NULL DEFAULT '',
		retain_until   TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fix_history_issue ON fix_history(issue_id, applied_at);
	CREATE INDEX IF NOT EXISTS idx_fix_history_table ON fix_history(target_table, applied_at);`

	if _, err := l.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// fixRow maps 1:1 to the fix_history table. Statement lists are stored as
// JSON columns.
type fixRow struct {
	ID            string     `db:"id"`
	IssueID       string     `db:"issue_id"`
	IssueKind     string     `db:"issue_kind"`
	TargetTable   string     `db:"target_table"`
	TargetColumn  string     `db:"target_column"`
	AppliedAt     time.Time  `db:"applied_at"`
	Outcome       string     `db:"outcome"`
	BackupRef     string     `db:"backup_ref"`
	Statements    string     `db:"statements"`
	RollbackStmts string     `db:"rollback_stmts"`
	PatchBackups  string     `db:"patch_backups"`
	ReversalOf    string     `db:"reversal_of"`
	Error         string     `db:"error"`
	RetainUntil   *time.Time `db:"retain_until"`
}

func rowFromRecord(rec *model.FixRecord) (fixRow, error) {
	statements, err := json.Marshal(rec.StatementsApplied)
	if err != nil {
		return fixRow{}, fmt.Errorf("marshal statements: %w", err)
	}
	rollback, err := json.Marshal(rec.RollbackStatements)
	if err != nil {
		return fixRow{}, fmt.Errorf("marshal rollback statements: %w", err)
	}
	patches, err := json.Marshal(rec.PatchBackups)
	if err != nil {
		return fixRow{}, fmt.Errorf("marshal patch backups: %w", err)
	}

	row := fixRow{
		ID:            rec.ID,
		IssueID:       rec.IssueID,
		IssueKind:     string(rec.IssueKind),
		TargetTable:   rec.Target.Table,
		TargetColumn:  rec.Target.Column,
		AppliedAt:     rec.AppliedAt,
		Outcome:       string(rec.Outcome),
		BackupRef:     rec.BackupRef,
		Statements:    string(statements),
		RollbackStmts: string(rollback),
		PatchBackups:  string(patches),
		ReversalOf:    rec.ReversalOf,
		Error:         rec.Error,
	}
	if !rec.RetainUntil.IsZero() {
		t := rec.RetainUntil
		row.RetainUntil = &t
	}
	return row, nil
}

func (r fixRow) toRecord() (model.FixRecord, error) {
	rec := model.FixRecord{
		ID:         r.ID,
		IssueID:    r.IssueID,
		IssueKind:  model.IssueKind(r.IssueKind),
		Target:     model.Target{Table: r.TargetTable, Column: r.TargetColumn},
		AppliedAt:  r.AppliedAt,
		Outcome:    model.FixOutcome(r.Outcome),
		BackupRef:  r.BackupRef,
		ReversalOf: r.ReversalOf,
		Error:      r.Error,
	}
	if r.RetainUntil != nil {
		rec.RetainUntil = *r.RetainUntil
	}
	if err := json.Unmarshal([]byte(r.Statements), &rec.StatementsApplied); err != nil {
		return model.FixRecord{}, fmt.Errorf("unmarshal statements: %w", err)
	}
	if err := json.Unmarshal([]byte(r.RollbackStmts), &rec.RollbackStatements); err != nil {
		return model.FixRecord{}, fmt.Errorf("unmarshal rollback statements: %w", err)
	}
	if err := json.Unmarshal([]byte(r.PatchBackups), &rec.PatchBackups); err != nil {
		return model.FixRecord{}, fmt.Errorf("unmarshal patch backups: %w", err)
	}
	return rec, nil
}

// Record appends a fix record. The ID and AppliedAt fields are populated when
// unset. Records are never updated afterwards.
func (l *Ledger) Record(ctx context.Context, rec *model.FixRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.AppliedAt.IsZero() {
		rec.AppliedAt = time.Now().UTC()
	}

	row, err := rowFromRecord(rec)
	if err != nil {
		return err
	}

	const q = `INSERT INTO fix_history
		(id, issue_id, issue_kind, target_table, target_column, applied_at, outcome,
		 backup_ref, statements, rollback_stmts, patch_backups, reversal_of, error, retain_until)
		VALUES
		(:id, :issue_id, :issue_kind, :target_table, :target_column, :applied_at, :outcome,
		 :backup_ref, :statements, :rollback_stmts, :patch_backups, :reversal_of, :error, :retain_until)`

	if _, err := l.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert fix record: %w", err)
	}
	return nil
}

// Get returns a fix record by id.
func (l *Ledger) Get(ctx context.Context, id string) (*model.FixRecord, error) {
	var row fixRow
	if err := l.db.GetContext(ctx, &row, "SELECT * FROM fix_history WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get fix record: %w", err)
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Filter narrows List results.
type Filter struct {
	Since  time.Time
	Table  string
	Limit  int
	Offset int
}

// List returns fix records newest first, optionally filtered by time and
// target table.
func (l *Ledger) List(ctx context.Context, f Filter) ([]model.FixRecord, error) {
	query := "SELECT * FROM fix_history WHERE 1=1"
	var args []interface{}
	if !f.Since.IsZero() {
		query += " AND applied_at >= ?"
		args = append(args, f.Since)
	}
	if f.Table != "" {
		query += " AND target_table = ?"
		args = append(args, f.Table)
	}
	query += " ORDER BY applied_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	var rows []fixRow
	if err := l.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list fix records: %w", err)
	}

	records := make([]model.FixRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// HasRecentAttempt reports whether any attempt (success or failure) against
// the issue happened within the cooldown window. Reversals do not count; a
// rollback should not block re-detection of the underlying issue longer than
// its own attempt already does.
func (l *Ledger) HasRecentAttempt(ctx context.Context, issueID string, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)
	var count int
	const q = `SELECT COUNT(*) FROM fix_history
		WHERE issue_id = ? AND applied_at >= ? AND reversal_of = ''`
	if err := l.db.GetContext(ctx, &count, q, issueID, cutoff); err != nil {
		return false, fmt.Errorf("count recent attempts: %w", err)
	}
	return count > 0, nil
}

// HasReversal reports whether a fix id has already been rolled back.
func (l *Ledger) HasReversal(ctx context.Context, fixID string) (bool, error) {
	var count int
	if err := l.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM fix_history WHERE reversal_of = ?", fixID); err != nil {
		return false, fmt.Errorf("count reversals: %w", err)
	}
	return count > 0, nil
}

// PurgeBefore deletes records older than the cutoff, returning how many were
// removed. Housekeeping only; the caller decides the retention policy.
func (l *Ledger) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, "DELETE FROM fix_history WHERE applied_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge fix records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}
