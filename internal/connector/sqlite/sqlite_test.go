package sqlite

import (
	"context"
	"strings"
	"testing"

	"github.com/healdb/heal/internal/connector"
	"github.com/healdb/heal/internal/model"
)

func newTestConnector(t *testing.T) connector.Connector {
	t.Helper()
	c := New()
	if err := c.Connect(connector.Config{DSN: ":memory:"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSnapshot(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	stmts := []string{
		`CREATE TABLE orgs (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY,
			org_id INTEGER REFERENCES orgs(id),
			email TEXT NOT NULL DEFAULT '',
			age TEXT
		)`,
		`CREATE UNIQUE INDEX idx_users_email ON users(email)`,
	}
	for _, s := range stmts {
		if _, err := c.DB().Exec(s); err != nil {
			t.Fatalf("setup %q: %v", s, err)
		}
	}

	snap, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Tables) != 2 {
		t.Fatalf("got %d tables, want 2", len(snap.Tables))
	}
	if snap.Engine != "sqlite" {
		t.Errorf("got engine %q", snap.Engine)
	}

	users := snap.Table("users")
	if users == nil {
		t.Fatal("users table missing from snapshot")
	}
	if len(users.Columns) != 4 {
		t.Errorf("got %d columns, want 4", len(users.Columns))
	}

	email := users.Column("email")
	if email == nil {
		t.Fatal("email column missing")
	}
	if email.Nullable {
		t.Error("email is NOT NULL")
	}
	if email.Default == nil || *email.Default != "''" {
		t.Errorf("email default not captured: %v", email.Default)
	}

	id := users.Column("id")
	if id == nil || id.Nullable {
		t.Error("primary key column must be non-nullable")
	}

	if !users.HasForeignKeyTo("org_id", "orgs") {
		t.Error("FK org_id -> orgs not captured")
	}
	if !users.HasIndexOn([]string{"email"}) {
		t.Error("unique index on email not captured")
	}

	// System tables are excluded.
	for _, tbl := range snap.Tables {
		if strings.HasPrefix(tbl.Name, "sqlite_") {
			t.Errorf("system table %q leaked into snapshot", tbl.Name)
		}
	}
}

func TestBuildAddColumnRejectsBadIdentifiers(t *testing.T) {
	c := New().(*SQLiteConnector)

	if _, _, err := c.BuildAddColumn("users; DROP TABLE x", model.ColumnDef{Name: "a", Type: "TEXT"}); err == nil {
		t.Error("malicious table name must be rejected")
	}
	if _, _, err := c.BuildAddColumn("users", model.ColumnDef{Name: "bad name", Type: "TEXT"}); err == nil {
		t.Error("malicious column name must be rejected")
	}
	if _, _, err := c.BuildCreateIndex("users", "SELECT", []string{"a"}, false); err == nil {
		t.Error("reserved-word index name must be rejected")
	}
}

func TestBuildAddColumnNotNullSynthesizesDefault(t *testing.T) {
	c := New().(*SQLiteConnector)

	apply, _, err := c.BuildAddColumn("users", model.ColumnDef{
		Name: "age", Type: "INTEGER", Nullable: false,
	})
	if err != nil {
		t.Fatalf("BuildAddColumn: %v", err)
	}
	sql := apply[0].SQL
	if !strings.Contains(sql, "NOT NULL DEFAULT 0") {
		t.Errorf("NOT NULL column without a default needs a synthesized one: %q", sql)
	}
}

func TestBuildersRoundTripAgainstDatabase(t *testing.T) {
	c := newTestConnector(t).(*SQLiteConnector)
	ctx := context.Background()

	apply, rollback, err := c.BuildCreateTable("events", []model.ColumnDef{
		{Name: "id", Type: "INTEGER", Nullable: false},
		{Name: "payload", Type: "TEXT", Nullable: true},
	})
	if err != nil {
		t.Fatalf("BuildCreateTable: %v", err)
	}
	for _, stmt := range apply {
		if _, err := c.DB().ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			t.Fatalf("apply %q: %v", stmt.SQL, err)
		}
	}

	snap, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Table("events") == nil {
		t.Fatal("events table not created")
	}

	for _, stmt := range rollback {
		if _, err := c.DB().ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			t.Fatalf("rollback %q: %v", stmt.SQL, err)
		}
	}
	snap, _ = c.Snapshot(ctx)
	if snap.Table("events") != nil {
		t.Fatal("rollback did not drop the table")
	}
}

func TestGuardQueriesAnswer(t *testing.T) {
	c := newTestConnector(t)
	if _, err := c.DB().Exec("CREATE TABLE users (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatal(err)
	}

	var count int
	g := tableGuard("users")
	if err := c.DB().Get(&count, g.Query, g.Args...); err != nil {
		t.Fatalf("table guard: %v", err)
	}
	if count != 1 {
		t.Errorf("table guard count = %d, want 1", count)
	}

	g = columnGuard("users", "id")
	if err := c.DB().Get(&count, g.Query, g.Args...); err != nil {
		t.Fatalf("column guard: %v", err)
	}
	if count != 1 {
		t.Errorf("column guard count = %d, want 1", count)
	}

	g = columnGuard("users", "ghost")
	if err := c.DB().Get(&count, g.Query, g.Args...); err != nil {
		t.Fatalf("column guard: %v", err)
	}
	if count != 0 {
		t.Errorf("guard for missing column = %d, want 0", count)
	}
}
