package history

import (
	"context"
	"testing"
	"time"

	"github.com/healdb/heal/internal/model"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger("") // in-memory
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndGet(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	rec := &model.FixRecord{
		IssueID:           "abc123",
		IssueKind:         model.IssueMissingColumn,
		Target:            model.Target{Table: "users", Column: "deleted_at"},
		Outcome:           model.FixSuccess,
		StatementsApplied: []string{`ALTER TABLE "users" ADD COLUMN "deleted_at" TIMESTAMP`},
		RollbackStatements: []model.Statement{
			{SQL: `ALTER TABLE "users" DROP COLUMN "deleted_at"`},
		},
	}
	if err := l.Record(ctx, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Record should assign an id")
	}
	if rec.AppliedAt.IsZero() {
		t.Fatal("Record should stamp applied_at")
	}

	got, err := l.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IssueID != "abc123" {
		t.Errorf("got issue id %q", got.IssueID)
	}
	if got.Target.Table != "users" || got.Target.Column != "deleted_at" {
		t.Errorf("got target %+v", got.Target)
	}
	if len(got.RollbackStatements) != 1 {
		t.Errorf("rollback statements not round-tripped: %+v", got.RollbackStatements)
	}

	if _, err := l.Get(ctx, "nope"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	for i, table := range []string{"users", "orders", "users"} {
		rec := &model.FixRecord{
			IssueID:   "issue",
			IssueKind: model.IssueMissingIndex,
			Target:    model.Target{Table: table},
			AppliedAt: base.Add(time.Duration(i) * time.Hour),
			Outcome:   model.FixSuccess,
		}
		if err := l.Record(ctx, rec); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	all, err := l.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}
	if !all[0].AppliedAt.After(all[2].AppliedAt) {
		t.Error("List should return newest first")
	}

	users, err := l.List(ctx, Filter{Table: "users"})
	if err != nil {
		t.Fatalf("List users: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("got %d users records, want 2", len(users))
	}

	since, err := l.List(ctx, Filter{Since: base.Add(90 * time.Minute)})
	if err != nil {
		t.Fatalf("List since: %v", err)
	}
	if len(since) != 1 {
		t.Errorf("got %d records since cutoff, want 1", len(since))
	}

	paged, err := l.List(ctx, Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List paged: %v", err)
	}
	if len(paged) != 1 {
		t.Fatalf("got %d paged records, want 1", len(paged))
	}
	if !paged[0].AppliedAt.Equal(all[1].AppliedAt) {
		t.Errorf("offset skipped the wrong record")
	}
}

func TestCooldownWindow(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	recent, err := l.HasRecentAttempt(ctx, "issue-1", time.Hour)
	if err != nil {
		t.Fatalf("HasRecentAttempt: %v", err)
	}
	if recent {
		t.Error("no attempts yet, cooldown should be inactive")
	}

	// A failed attempt still counts against the cooldown.
	if err := l.Record(ctx, &model.FixRecord{
		IssueID: "issue-1", IssueKind: model.IssueMissingColumn,
		Target: model.Target{Table: "users"}, Outcome: model.FixFailed,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	recent, err = l.HasRecentAttempt(ctx, "issue-1", time.Hour)
	if err != nil {
		t.Fatalf("HasRecentAttempt: %v", err)
	}
	if !recent {
		t.Error("failed attempt within the window should activate cooldown")
	}

	// An attempt outside the window does not.
	if err := l.Record(ctx, &model.FixRecord{
		IssueID: "issue-2", IssueKind: model.IssueMissingColumn,
		Target:    model.Target{Table: "users"},
		AppliedAt: time.Now().UTC().Add(-2 * time.Hour),
		Outcome:   model.FixSuccess,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	recent, _ = l.HasRecentAttempt(ctx, "issue-2", time.Hour)
	if recent {
		t.Error("attempt older than the window should not activate cooldown")
	}
}

func TestCooldownIgnoresReversals(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if err := l.Record(ctx, &model.FixRecord{
		IssueID: "issue-1", IssueKind: model.IssueMissingColumn,
		Target: model.Target{Table: "users"}, Outcome: model.FixRolledBack,
		ReversalOf: "some-fix-id",
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	recent, err := l.HasRecentAttempt(ctx, "issue-1", time.Hour)
	if err != nil {
		t.Fatalf("HasRecentAttempt: %v", err)
	}
	if recent {
		t.Error("reversal records must not extend the cooldown")
	}
}

func TestHasReversal(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	fix := &model.FixRecord{
		IssueID: "issue-1", IssueKind: model.IssueMissingIndex,
		Target: model.Target{Table: "users"}, Outcome: model.FixSuccess,
	}
	if err := l.Record(ctx, fix); err != nil {
		t.Fatalf("Record fix: %v", err)
	}

	reversed, err := l.HasReversal(ctx, fix.ID)
	if err != nil {
		t.Fatalf("HasReversal: %v", err)
	}
	if reversed {
		t.Error("no reversal recorded yet")
	}

	if err := l.Record(ctx, &model.FixRecord{
		IssueID: "issue-1", IssueKind: model.IssueMissingIndex,
		Target: model.Target{Table: "users"}, Outcome: model.FixRolledBack,
		ReversalOf: fix.ID,
	}); err != nil {
		t.Fatalf("Record reversal: %v", err)
	}

	reversed, _ = l.HasReversal(ctx, fix.ID)
	if !reversed {
		t.Error("reversal should be visible")
	}
}

func TestPurgeBefore(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	old := &model.FixRecord{
		IssueID: "old", IssueKind: model.IssueMissingIndex,
		Target:    model.Target{Table: "users"},
		AppliedAt: time.Now().UTC().Add(-48 * time.Hour),
		Outcome:   model.FixSuccess,
	}
	fresh := &model.FixRecord{
		IssueID: "fresh", IssueKind: model.IssueMissingIndex,
		Target: model.Target{Table: "users"}, Outcome: model.FixSuccess,
	}
	if err := l.Record(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	n, err := l.PurgeBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d records, want 1", n)
	}
	if _, err := l.Get(ctx, old.ID); err != ErrNotFound {
		t.Error("old record should be gone")
	}
	if _, err := l.Get(ctx, fresh.ID); err != nil {
		t.Errorf("fresh record should remain: %v", err)
	}
}
