// Package executor applies fix plans. Schema mutations run in one
// transaction where the engine supports transactional DDL, otherwise
// sequentially with compensating statements on failure. Every attempt is
// appended to the history ledger before returning.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/healdb/heal/internal/connector"
	"github.com/healdb/heal/internal/history"
	"github.com/healdb/heal/internal/model"
)

// ErrVerifyFailed signals the backup row count did not match the original
// table before the swap.
var ErrVerifyFailed = errors.New("backup verification failed")

const defaultStatementTimeout = 15 * time.Second

// Executor applies fix plans against the target database and source tree.
type Executor struct {
	conn    connector.Connector
	ledger  *history.Ledger
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithStatementTimeout overrides the per-statement timeout.
func WithStatementTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New creates an Executor.
func New(conn connector.Connector, ledger *history.Ledger, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		conn:    conn,
		ledger:  ledger,
		logger:  logger,
		timeout: defaultStatementTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies a plan and records the outcome. The returned record
// reflects what actually happened; err is non-nil only for infrastructure
// failures (e.g. the ledger itself), never for a fix that merely failed.
func (e *Executor) Execute(ctx context.Context, plan *model.FixPlan) (*model.FixRecord, error) {
	rec := &model.FixRecord{
		IssueID:            plan.IssueID,
		IssueKind:          plan.IssueKind,
		Target:             plan.Target,
		AppliedAt:          time.Now().UTC(),
		Outcome:            model.FixSuccess,
		BackupRef:          plan.BackupRef,
		RollbackStatements: plan.RollbackStatements,
		RetainUntil:        plan.RetainUntil,
	}

	if len(plan.Statements) > 0 {
		applied, err := e.applyStatements(ctx, plan)
		rec.StatementsApplied = applied
		if err != nil {
			rec.Outcome = model.FixFailed
			rec.Error = err.Error()
			e.logger.Error("fix execution failed",
				"issue_id", plan.IssueID,
				"kind", plan.IssueKind,
				"error", err)
		}
	}

	if rec.Outcome == model.FixSuccess && len(plan.SourcePatches) > 0 {
		backups, err := e.applyPatches(plan.SourcePatches)
		rec.PatchBackups = backups
		if err != nil {
			rec.Outcome = model.FixRolledBack
			rec.Error = err.Error()
			e.logger.Error("source patch rolled back",
				"issue_id", plan.IssueID,
				"error", err)
		}
	}

	if err := e.ledger.Record(ctx, rec); err != nil {
		return nil, fmt.Errorf("record fix outcome: %w", err)
	}

	if rec.Outcome == model.FixSuccess {
		e.logger.Info("fix applied",
			"fix_id", rec.ID,
			"issue_id", plan.IssueID,
			"kind", plan.IssueKind,
			"table", plan.Target.Table,
			"statements", len(rec.StatementsApplied),
			"patches", len(plan.SourcePatches))
	}
	return rec, nil
}

// applyStatements runs the plan's DDL. Inside a transaction when the engine
// allows it; otherwise sequentially, compensating already-applied statements
// on failure so no partial state is left behind.
func (e *Executor) applyStatements(ctx context.Context, plan *model.FixPlan) ([]string, error) {
	if plan.RequiresTransaction && e.conn.SupportsTransactionalDDL() {
		return e.applyTransactional(ctx, plan)
	}
	return e.applySequential(ctx, plan)
}

func (e *Executor) applyTransactional(ctx context.Context, plan *model.FixPlan) ([]string, error) {
	tx, err := e.conn.DB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fix tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var applied []string
	for i, stmt := range plan.Statements {
		ok, err := e.runStatement(ctx, tx, stmt)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i+1, err)
		}
		if ok {
			applied = append(applied, stmt.SQL)
		}

		// Verification covers the guard-skipped case too: a pre-existing
		// backup table must still hold a full copy before we proceed.
		if i == 0 && plan.Verify != nil {
			if err := e.verifyBackup(ctx, tx, plan.Verify); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fix tx: %w", err)
	}
	return applied, nil
}

// applySequential is the non-transactional path. Each applied statement
// contributes its own undo; on failure only those undos run, newest first.
// The plan-level rollback statements are never used here: for a type
// migration they restore the table wholesale from the backup, which is only
// safe once the backup has been created and verified.
func (e *Executor) applySequential(ctx context.Context, plan *model.FixPlan) ([]string, error) {
	db := e.conn.DB()
	var (
		applied []string
		undo    []model.Statement
	)
	for i, stmt := range plan.Statements {
		ok, err := e.runStatement(ctx, db, stmt)
		if err == nil && i == 0 && plan.Verify != nil {
			err = e.verifyBackup(ctx, db, plan.Verify)
		}
		if err != nil {
			e.compensate(ctx, undo)
			return applied, fmt.Errorf("statement %d: %w", i+1, err)
		}
		if ok {
			applied = append(applied, stmt.SQL)
			undo = append(append([]model.Statement(nil), stmt.Undo...), undo...)
		}
	}
	return applied, nil
}

// queryExecer covers both *sqlx.DB and *sqlx.Tx.
type queryExecer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// runStatement evaluates the guard and executes the statement. Returns false
// when the guard reported the object already exists and the statement was
// skipped.
func (e *Executor) runStatement(ctx context.Context, db queryExecer, stmt model.Statement) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if stmt.Guard != nil {
		var count int
		if err := db.GetContext(opCtx, &count, stmt.Guard.Query, stmt.Guard.Args...); err != nil {
			return false, fmt.Errorf("evaluate guard: %w", err)
		}
		if count > 0 {
			e.logger.Debug("statement skipped by existence guard", "sql", stmt.SQL)
			return false, nil
		}
	}

	if _, err := db.ExecContext(opCtx, stmt.SQL, stmt.Args...); err != nil {
		return false, fmt.Errorf("exec %q: %w", stmt.SQL, err)
	}
	return true, nil
}

// verifyBackup compares row counts between the live table and its freshly
// created backup. Identifier safety: both names were produced by this
// engine's own planner, never user input.
func (e *Executor) verifyBackup(ctx context.Context, db queryExecer, v *model.BackupVerify) error {
	opCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var original, backup int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", e.conn.QuoteIdentifier(v.Table))
	if err := db.GetContext(opCtx, &original, q); err != nil {
		return fmt.Errorf("count original rows: %w", err)
	}
	q = fmt.Sprintf("SELECT COUNT(*) FROM %s", e.conn.QuoteIdentifier(v.BackupTable))
	if err := db.GetContext(opCtx, &backup, q); err != nil {
		return fmt.Errorf("count backup rows: %w", err)
	}
	if original != backup {
		return fmt.Errorf("%w: table %s has %d rows, backup %s has %d",
			ErrVerifyFailed, v.Table, original, v.BackupTable, backup)
	}
	return nil
}

// compensate best-effort reverses the applied statements after a mid-plan
// failure on a non-transactional engine. A guard here is a presence probe:
// an earlier undo may already have removed the object (a restore swap renames
// the backup away, for instance), so a zero count skips the statement.
func (e *Executor) compensate(ctx context.Context, undo []model.Statement) {
	db := e.conn.DB()
	for _, stmt := range undo {
		opCtx, cancel := context.WithTimeout(ctx, e.timeout)
		if stmt.Guard != nil {
			var count int
			err := db.GetContext(opCtx, &count, stmt.Guard.Query, stmt.Guard.Args...)
			if err != nil {
				e.logger.Error("undo guard failed", "sql", stmt.SQL, "error", err)
			}
			if err != nil || count == 0 {
				cancel()
				continue
			}
		}
		_, err := db.ExecContext(opCtx, stmt.SQL, stmt.Args...)
		cancel()
		if err != nil {
			e.logger.Error("compensating statement failed", "sql", stmt.SQL, "error", err)
		}
	}
}

// Rollback reverses a previously applied fix: runs its stored rollback
// statements, restores any patched source files, and appends a reversal
// record. Rollback of a rollback is rejected.
func (e *Executor) Rollback(ctx context.Context, fixID string) (*model.FixRecord, error) {
	rec, err := e.ledger.Get(ctx, fixID)
	if err != nil {
		return nil, err
	}
	if rec.ReversalOf != "" {
		return nil, history.ErrAlreadyRolledBack
	}
	if rec.Outcome != model.FixSuccess {
		return nil, fmt.Errorf("fix %s has outcome %s, nothing to roll back", fixID, rec.Outcome)
	}
	reversed, err := e.ledger.HasReversal(ctx, fixID)
	if err != nil {
		return nil, err
	}
	if reversed {
		return nil, history.ErrAlreadyRolledBack
	}

	reversal := &model.FixRecord{
		IssueID:    rec.IssueID,
		IssueKind:  rec.IssueKind,
		Target:     rec.Target,
		AppliedAt:  time.Now().UTC(),
		Outcome:    model.FixRolledBack,
		BackupRef:  rec.BackupRef,
		ReversalOf: rec.ID,
	}

	for i, stmt := range rec.RollbackStatements {
		ok, err := e.runStatement(ctx, e.conn.DB(), stmt)
		if err != nil {
			reversal.Outcome = model.FixFailed
			reversal.Error = fmt.Sprintf("rollback statement %d: %s", i+1, err)
			break
		}
		if ok {
			reversal.StatementsApplied = append(reversal.StatementsApplied, stmt.SQL)
		}
	}

	if reversal.Outcome == model.FixRolledBack {
		if err := restorePatchBackups(rec.PatchBackups); err != nil {
			reversal.Outcome = model.FixFailed
			reversal.Error = fmt.Sprintf("restore patched sources: %s", err)
		}
	}

	if err := e.ledger.Record(ctx, reversal); err != nil {
		return nil, fmt.Errorf("record rollback: %w", err)
	}

	e.logger.Info("fix rolled back",
		"fix_id", rec.ID,
		"reversal_id", reversal.ID,
		"outcome", reversal.Outcome)
	return reversal, nil
}
