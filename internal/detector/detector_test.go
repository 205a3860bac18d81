package detector

import (
	"strings"
	"testing"

	"github.com/healdb/heal/internal/model"
	"github.com/healdb/heal/internal/rules"
)

func testSnapshot() *model.CatalogSnapshot {
	return &model.CatalogSnapshot{
		Engine: "sqlite",
		Tables: []model.TableDescriptor{
			{
				Name: "users",
				Columns: []model.ColumnDescriptor{
					{Name: "id", DeclaredType: "INTEGER"},
					{Name: "age", DeclaredType: "TEXT"},
					{Name: "email", DeclaredType: "TEXT"},
				},
				Constraints: []model.ConstraintDescriptor{
					{Kind: model.ConstraintPrimaryKey, Columns: []string{"id"}},
				},
			},
			{
				Name: "orders",
				Columns: []model.ColumnDescriptor{
					{Name: "id", DeclaredType: "INTEGER"},
					{Name: "user_id", DeclaredType: "INTEGER"},
				},
			},
		},
	}
}

func mustParse(t *testing.T, doc string) *rules.RuleSet {
	t.Helper()
	rs, err := rules.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse rules: %v", err)
	}
	return rs
}

func findIssue(issues []model.Issue, kind model.IssueKind, table, column string) *model.Issue {
	id := model.IssueID(kind, table, column)
	for i := range issues {
		if issues[i].ID == id {
			return &issues[i]
		}
	}
	return nil
}

func TestDetectRuleViolations(t *testing.T) {
	rs := mustParse(t, `
rules:
  - table: users
    column: age
    expected_type: INTEGER
  - table: users
    column: deleted_at
    expected_type: TIMESTAMP
  - table: users
    column: email
    expected_type: TEXT
    required_index_on: [email]
  - table: orders
    column: user_id
    expected_type: INTEGER
    required_fk_to: users
  - table: invoices
    column: id
    expected_type: INTEGER
`)
	d := New(Config{})
	issues := d.Detect(testSnapshot(), nil, nil, rs)

	if issue := findIssue(issues, model.IssueTypeMismatch, "users", "age"); issue == nil {
		t.Error("expected TYPE_MISMATCH for users.age (TEXT vs INTEGER)")
	} else {
		if issue.ExpectedType != "INTEGER" || issue.ActualType != "TEXT" {
			t.Errorf("mismatch types: expected=%q actual=%q", issue.ExpectedType, issue.ActualType)
		}
	}
	if findIssue(issues, model.IssueMissingColumn, "users", "deleted_at") == nil {
		t.Error("expected MISSING_COLUMN for users.deleted_at")
	}
	if findIssue(issues, model.IssueMissingIndex, "users", "email") == nil {
		t.Error("expected MISSING_INDEX for users(email)")
	}
	if findIssue(issues, model.IssueMissingFK, "orders", "user_id") == nil {
		t.Error("expected MISSING_FK for orders.user_id")
	}
	if findIssue(issues, model.IssueMissingTable, "invoices", "") == nil {
		t.Error("expected MISSING_TABLE for invoices")
	}

	// users.email type matches; no mismatch for it.
	if findIssue(issues, model.IssueTypeMismatch, "users", "email") != nil {
		t.Error("users.email matches its rule, no issue expected")
	}
}

func TestDetectFoldsTableNameCase(t *testing.T) {
	// Case-preserving engines can report "Users" where rules say "users".
	snap := &model.CatalogSnapshot{
		Engine: "postgres",
		Tables: []model.TableDescriptor{
			{
				Name: "Users",
				Columns: []model.ColumnDescriptor{
					{Name: "ID", DeclaredType: "INTEGER"},
					{Name: "Age", DeclaredType: "INTEGER"},
				},
			},
		},
	}
	rs := mustParse(t, `
rules:
  - table: users
    column: age
    expected_type: INTEGER
`)

	issues := New(Config{}).Detect(snap, nil, nil, rs)
	if issue := findIssue(issues, model.IssueMissingTable, "users", ""); issue != nil {
		t.Errorf("false MISSING_TABLE for a table that differs only by case: %+v", issue)
	}
	if issue := findIssue(issues, model.IssueMissingColumn, "users", "age"); issue != nil {
		t.Errorf("false MISSING_COLUMN for a column that differs only by case: %+v", issue)
	}
	if len(issues) != 0 {
		t.Errorf("got %d issues, want 0: %+v", len(issues), issues)
	}
}

func TestDetectLinkedCoercionIssues(t *testing.T) {
	sites := []model.CallSite{{
		File:  "app/save.go",
		Line:  42,
		Table: "users",
		Query: "UPDATE users SET age = ? WHERE id = ?",
		Bindings: []model.ParamBinding{
			{
				ColumnName:  "age",
				Expr:        "strconv.Itoa(age)",
				Coercion:    "strconv.Itoa(age)",
				Inner:       "age",
				CoercedType: model.CanonicalText,
			},
			{ColumnName: "id", Expr: "id"},
		},
	}}

	rs := mustParse(t, "rules:\n  - table: users\n    column: age\n    expected_type: INTEGER\n")
	d := New(Config{})

	// The column is declared TEXT and the code coerces to text: the code and
	// schema agree with each other but both fight the rule. The rule produces
	// the TYPE_MISMATCH; the call-site pass adds nothing because coercion
	// matches the declared type.
	issues := d.Detect(testSnapshot(), sites, nil, rs)
	if findIssue(issues, model.IssueCodePattern, "users", "age") != nil {
		t.Error("coercion matching the declared type is not a code pattern issue")
	}

	// Declare the column INTEGER instead: now the text coercion fights the
	// schema and both linked issues appear.
	snap := testSnapshot()
	snap.Table("users").Column("age").DeclaredType = "INTEGER"
	issues = d.Detect(snap, sites, nil, rs)

	code := findIssue(issues, model.IssueCodePattern, "users", "age")
	if code == nil {
		t.Fatal("expected CODE_PATTERN for users.age")
	}
	mismatch := findIssue(issues, model.IssueTypeMismatch, "users", "age")
	if mismatch == nil {
		t.Fatal("expected linked TYPE_MISMATCH for users.age")
	}
	if !contains(code.Related, mismatch.ID) || !contains(mismatch.Related, code.ID) {
		t.Error("linked issues must reference each other")
	}
	if len(code.CallSites) != 1 || code.CallSites[0].Line != 42 {
		t.Errorf("code issue should carry its call site, got %+v", code.CallSites)
	}
}

func TestDetectDeduplicatesAcrossSightings(t *testing.T) {
	site := model.CallSite{
		Table: "users",
		Query: "SELECT * FROM users WHERE age = ?",
		Bindings: []model.ParamBinding{{
			ColumnName:  "age",
			Coercion:    "strconv.Atoi(s)",
			Inner:       "s",
			CoercedType: model.CanonicalInteger,
		}},
	}
	rs := mustParse(t, "rules:\n  - table: users\n    column: age\n    expected_type: INTEGER\n")

	// Rule says INTEGER, column is TEXT, call sites coerce to integer: the
	// rule pass and the call-site pass both want a TYPE_MISMATCH with the same
	// identity. Exactly one must survive, carrying the code-pattern link.
	issues := New(Config{}).Detect(testSnapshot(), []model.CallSite{site, site}, nil, rs)

	var mismatches int
	for _, issue := range issues {
		if issue.Kind == model.IssueTypeMismatch && issue.Target.Table == "users" && issue.Target.Column == "age" {
			mismatches++
		}
	}
	if mismatches != 1 {
		t.Errorf("got %d TYPE_MISMATCH issues for users.age, want 1", mismatches)
	}

	mismatch := findIssue(issues, model.IssueTypeMismatch, "users", "age")
	codeID := model.IssueID(model.IssueCodePattern, "users", "age")
	if !contains(mismatch.Related, codeID) {
		t.Error("deduplicated mismatch should have gained the code-pattern link")
	}
}

func TestDetectParseFailuresAsInfo(t *testing.T) {
	failures := []model.ScanFailure{{File: "app/broken.go", Error: "expected '}'"}}
	issues := New(Config{}).Detect(testSnapshot(), nil, failures, rules.Empty())

	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	if issues[0].Severity != model.SeverityInfo {
		t.Errorf("parse failures are INFO, got %q", issues[0].Severity)
	}
	if issues[0].Kind != model.IssueCodePattern {
		t.Errorf("got kind %q", issues[0].Kind)
	}
	if !strings.Contains(issues[0].Evidence, "expected '}'") {
		t.Errorf("evidence should carry the parse error, got %q", issues[0].Evidence)
	}
}

func TestCriticalTablePolicy(t *testing.T) {
	rs := mustParse(t, `
rules:
  - table: users
    column: deleted_at
    expected_type: TIMESTAMP
  - table: orders
    column: note
    expected_type: TEXT
`)
	d := New(Config{CriticalTables: []string{"Users"}})
	issues := d.Detect(testSnapshot(), nil, nil, rs)

	if issue := findIssue(issues, model.IssueMissingColumn, "users", "deleted_at"); issue == nil || issue.Severity != model.SeverityCritical {
		t.Error("issues on critical tables must be CRITICAL")
	}
	if issue := findIssue(issues, model.IssueMissingColumn, "orders", "note"); issue == nil || issue.Severity != model.SeverityWarning {
		t.Error("issues on other tables default to WARNING")
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	rs := mustParse(t, "rules:\n  - table: users\n    column: age\n    expected_type: INTEGER\n")
	d := New(Config{})

	a := d.Detect(testSnapshot(), nil, nil, rs)
	b := d.Detect(testSnapshot(), nil, nil, rs)
	if len(a) != len(b) {
		t.Fatalf("issue counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("issue %d id differs: %q vs %q", i, a[i].ID, b[i].ID)
		}
	}
}
