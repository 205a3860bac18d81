package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/healdb/heal/internal/catalog"
	"github.com/healdb/heal/internal/connector"
	"github.com/healdb/heal/internal/connector/sqlite"
	"github.com/healdb/heal/internal/detector"
	"github.com/healdb/heal/internal/executor"
	"github.com/healdb/heal/internal/history"
	"github.com/healdb/heal/internal/model"
	"github.com/healdb/heal/internal/planner"
	"github.com/healdb/heal/internal/rules"
	"github.com/healdb/heal/internal/scanner"
)

type testEnv struct {
	mon  *Monitor
	conn connector.Connector
}

// newTestEnv wires a monitor over an in-memory target. The interval is long
// enough that only explicit triggers drive cycles.
func newTestEnv(t *testing.T, ruleDoc string, autoFix []string) *testEnv {
	t.Helper()

	conn := sqlite.New()
	if err := conn.Connect(connector.Config{DSN: ":memory:"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	ledger, err := history.NewLedger("")
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	rs := rules.Empty()
	if ruleDoc != "" {
		rs, err = rules.Parse([]byte(ruleDoc))
		if err != nil {
			t.Fatalf("parse rules: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mon := New(
		catalog.NewIntrospector(conn, logger),
		scanner.New(logger),
		detector.New(detector.Config{}),
		planner.New(conn, ledger, rs, logger, planner.Config{AutoFixTables: autoFix}),
		executor.New(conn, ledger, logger),
		ledger,
		rs,
		logger,
		Config{Interval: time.Hour, SourceRoots: []string{t.TempDir()}},
	)
	return &testEnv{mon: mon, conn: conn}
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go e.mon.Run(ctx)
	t.Cleanup(func() {
		e.mon.Stop()
		cancel()
	})
}

// waitForScan blocks until a cycle newer than prev has published, or fails.
func (e *testEnv) waitForScan(t *testing.T, prev string) model.HealthReport {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		report := e.mon.Report()
		if report.LastScanAt != "" && report.LastScanAt != prev {
			return report
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no scan cycle completed before deadline")
	return model.HealthReport{}
}

const deletedAtRule = `
rules:
  - table: users
    column: deleted_at
    expected_type: TIMESTAMP
`

func TestTriggerCoalescing(t *testing.T) {
	env := newTestEnv(t, "", nil)
	// Run is not started, so the first trigger stays pending and the second
	// must coalesce into it.
	accepted, coalesced := env.mon.Trigger()
	if !accepted || coalesced {
		t.Errorf("first trigger: accepted=%v coalesced=%v", accepted, coalesced)
	}
	accepted, coalesced = env.mon.Trigger()
	if !accepted || !coalesced {
		t.Errorf("second trigger should coalesce: accepted=%v coalesced=%v", accepted, coalesced)
	}
}

func TestCycleDetectsAndFixes(t *testing.T) {
	env := newTestEnv(t, deletedAtRule, []string{"users"})
	if _, err := env.conn.DB().Exec("CREATE TABLE users (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatal(err)
	}
	env.start(t)

	env.mon.Trigger()
	report := env.waitForScan(t, "")

	// The missing column was detected, planned, and executed in one cycle;
	// the report reflects detection at scan time.
	if len(report.Warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %+v", len(report.Warnings), report)
	}
	if report.Warnings[0].Kind != model.IssueMissingColumn {
		t.Errorf("got kind %q", report.Warnings[0].Kind)
	}

	var count int
	if err := env.conn.DB().Get(&count,
		"SELECT COUNT(*) FROM pragma_table_info('users') WHERE name = 'deleted_at'"); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Error("auto-fix did not add the column")
	}

	// Next cycle sees a healthy schema.
	env.mon.Trigger()
	report = env.waitForScan(t, report.LastScanAt)
	if len(report.Warnings) != 0 {
		t.Errorf("issue should be resolved, got %+v", report.Warnings)
	}
	if report.SystemStatus != model.StatusHealthy {
		t.Errorf("got status %q", report.SystemStatus)
	}
}

func TestFirstDetectedAtPreserved(t *testing.T) {
	// No allow-list: the issue is detected but never fixed, so it persists.
	env := newTestEnv(t, deletedAtRule, nil)
	if _, err := env.conn.DB().Exec("CREATE TABLE users (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatal(err)
	}
	env.start(t)

	env.mon.Trigger()
	first := env.waitForScan(t, "")
	if len(first.Warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(first.Warnings))
	}
	seen := first.Warnings[0].FirstDetectedAt

	env.mon.Trigger()
	second := env.waitForScan(t, first.LastScanAt)
	if len(second.Warnings) != 1 {
		t.Fatalf("got %d warnings after second cycle, want 1", len(second.Warnings))
	}
	if !second.Warnings[0].FirstDetectedAt.Equal(seen) {
		t.Errorf("first-detected time changed across cycles: %v vs %v",
			second.Warnings[0].FirstDetectedAt, seen)
	}
}

func TestStopIsTerminal(t *testing.T) {
	env := newTestEnv(t, "", nil)
	env.start(t)

	env.mon.Stop()
	if got := env.mon.State(); got != StateStopped {
		t.Errorf("got state %q, want STOPPED", got)
	}

	if accepted, _ := env.mon.Trigger(); accepted {
		t.Error("stopped monitor must reject triggers")
	}
	if _, err := env.mon.FixIssue(context.Background(), "any"); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if _, err := env.mon.Rollback(context.Background(), "any"); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}

	// Stop is idempotent.
	env.mon.Stop()
}

func TestFixIssueTargeted(t *testing.T) {
	// Table not allow-listed: the cycle reports the issue without fixing it,
	// then a targeted fix bypasses the allow-list.
	env := newTestEnv(t, deletedAtRule, nil)
	if _, err := env.conn.DB().Exec("CREATE TABLE users (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatal(err)
	}
	env.start(t)

	env.mon.Trigger()
	report := env.waitForScan(t, "")
	if len(report.Warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(report.Warnings))
	}

	rec, err := env.mon.FixIssue(context.Background(), report.Warnings[0].ID)
	if err != nil {
		t.Fatalf("FixIssue: %v", err)
	}
	if rec.Outcome != model.FixSuccess {
		t.Fatalf("got outcome %q: %s", rec.Outcome, rec.Error)
	}

	var count int
	if err := env.conn.DB().Get(&count,
		"SELECT COUNT(*) FROM pragma_table_info('users') WHERE name = 'deleted_at'"); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Error("targeted fix did not add the column")
	}

	// Rollback through the monitor reverses it.
	reversal, err := env.mon.Rollback(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if reversal.Outcome != model.FixRolledBack {
		t.Errorf("got outcome %q: %s", reversal.Outcome, reversal.Error)
	}

	if _, err := env.mon.FixIssue(context.Background(), "unknown-issue"); !errors.Is(err, ErrIssueNotFound) {
		t.Errorf("expected ErrIssueNotFound, got %v", err)
	}
}

func TestHistoryThroughMonitor(t *testing.T) {
	env := newTestEnv(t, deletedAtRule, []string{"users"})
	if _, err := env.conn.DB().Exec("CREATE TABLE users (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatal(err)
	}
	env.start(t)

	env.mon.Trigger()
	env.waitForScan(t, "")

	records, err := env.mon.History(context.Background(), history.Filter{Table: "users"})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d history records, want 1", len(records))
	}
	if records[0].Outcome != model.FixSuccess {
		t.Errorf("got outcome %q", records[0].Outcome)
	}
}
