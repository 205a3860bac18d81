package scanner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/healdb/heal/internal/model"
)

func newTestScanner(t *testing.T) *Scanner {
	t.Helper()
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeSource(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

const coercedSource = `package app

import (
	"database/sql"
	"strconv"
)

func save(db *sql.DB, age int) error {
	_, err := db.Exec("UPDATE users SET age = ? WHERE id = ?", strconv.Itoa(age), 1)
	return err
}
`

func TestScanFindsCoercedCallSite(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "app.go", coercedSource)

	sites, failures, err := newTestScanner(t).Scan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(sites) != 1 {
		t.Fatalf("got %d call sites, want 1", len(sites))
	}

	site := sites[0]
	if site.Table != "users" {
		t.Errorf("got table %q, want users", site.Table)
	}
	if len(site.Bindings) != 2 {
		t.Fatalf("got %d bindings, want 2", len(site.Bindings))
	}

	age := site.Bindings[0]
	if age.ColumnName != "age" {
		t.Errorf("got column %q, want age", age.ColumnName)
	}
	if age.Coercion != "strconv.Itoa(age)" {
		t.Errorf("got coercion %q", age.Coercion)
	}
	if age.Inner != "age" {
		t.Errorf("got inner %q, want age", age.Inner)
	}
	if age.CoercedType != model.CanonicalText {
		t.Errorf("got coerced type %q, want text", age.CoercedType)
	}

	id := site.Bindings[1]
	if id.ColumnName != "id" {
		t.Errorf("got column %q, want id", id.ColumnName)
	}
	if id.Coercion != "" {
		t.Errorf("plain literal should carry no coercion, got %q", id.Coercion)
	}
}

func TestScanBuiltinConversion(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "app.go", `package app

import "database/sql"

func load(db *sql.DB, id string) (*sql.Rows, error) {
	return db.Query("SELECT * FROM orders WHERE user_id = ?", int64(parse(id)))
}

func parse(s string) int { return 0 }
`)

	sites, _, err := newTestScanner(t).Scan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(sites) != 1 {
		t.Fatalf("got %d call sites, want 1", len(sites))
	}
	b := sites[0].Bindings[0]
	if b.CoercedType != model.CanonicalInteger {
		t.Errorf("int64() conversion should coerce to integer, got %q", b.CoercedType)
	}
	if b.Inner != "parse(id)" {
		t.Errorf("got inner %q", b.Inner)
	}
}

func TestScanConcatenatedQuery(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "app.go", `package app

import "database/sql"

func load(db *sql.DB) (*sql.Rows, error) {
	return db.Query("SELECT id, name " + "FROM customers WHERE active = ?", true)
}
`)

	sites, _, err := newTestScanner(t).Scan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(sites) != 1 || sites[0].Table != "customers" {
		t.Fatalf("concatenated literal query not resolved: %+v", sites)
	}
}

func TestScanFailSoft(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "broken.go", "package app\n\nfunc oops( {")
	writeSource(t, dir, "ok.go", coercedSource)

	sites, failures, err := newTestScanner(t).Scan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Scan should not fail on a parse error: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
	if filepath.Base(failures[0].File) != "broken.go" {
		t.Errorf("failure names %q, want broken.go", failures[0].File)
	}
	if len(sites) != 1 {
		t.Errorf("healthy file should still be scanned, got %d sites", len(sites))
	}
}

func TestScanSkipsVendorAndTests(t *testing.T) {
	dir := t.TempDir()
	vendored := filepath.Join(dir, "vendor", "dep")
	if err := os.MkdirAll(vendored, 0755); err != nil {
		t.Fatal(err)
	}
	writeSource(t, vendored, "dep.go", coercedSource)
	writeSource(t, dir, "app_test.go", coercedSource)

	sites, failures, err := newTestScanner(t).Scan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(sites) != 0 || len(failures) != 0 {
		t.Errorf("vendor and _test.go files must be skipped, got %d sites %d failures", len(sites), len(failures))
	}
}

func TestScanIgnoresDynamicQueries(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "app.go", `package app

import "database/sql"

func load(db *sql.DB, q string) (*sql.Rows, error) {
	return db.Query(q, 1)
}
`)

	sites, _, err := newTestScanner(t).Scan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(sites) != 0 {
		t.Errorf("variable-built queries are not statically resolvable, got %d sites", len(sites))
	}
}
