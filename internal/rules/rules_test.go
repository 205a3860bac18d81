package rules

import (
	"strings"
	"testing"
)

func TestParseValid(t *testing.T) {
	doc := []byte(`
rules:
  - table: users
    column: age
    expected_type: INTEGER
    expected_nullable: false
  - table: users
    column: email
    expected_type: TEXT
    required_index_on: [email]
  - table: orders
    column: user_id
    expected_type: INTEGER
    required_fk_to: users
`)
	rs, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := len(rs.All()); got != 3 {
		t.Fatalf("got %d rules, want 3", got)
	}
	if got := len(rs.ForTable("users")); got != 2 {
		t.Errorf("got %d users rules, want 2", got)
	}

	rule, ok := rs.ForColumn("users", "age")
	if !ok {
		t.Fatal("ForColumn(users, age) not found")
	}
	if rule.ExpectedType != "INTEGER" {
		t.Errorf("got type %q, want INTEGER", rule.ExpectedType)
	}
	if rule.ExpectedNullable == nil || *rule.ExpectedNullable {
		t.Error("expected_nullable: false not honored")
	}

	if _, ok := rs.ForColumn("users", "missing"); ok {
		t.Error("ForColumn should miss for undeclared column")
	}
	if got := len(rs.Tables()); got != 2 {
		t.Errorf("got %d tables, want 2", got)
	}
}

func TestParseNormalizesCase(t *testing.T) {
	rs, err := Parse([]byte("rules:\n  - table: Users\n    column: Email\n    expected_type: TEXT\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := rs.ForColumn("USERS", "EMAIL"); !ok {
		t.Error("lookups should be case-insensitive")
	}
}

func TestParseRejectsConflict(t *testing.T) {
	doc := []byte(`
rules:
  - table: users
    column: age
    expected_type: INTEGER
  - table: users
    column: age
    expected_type: TEXT
`)
	_, err := Parse(doc)
	if err == nil {
		t.Fatal("conflicting types for the same column must be rejected")
	}
	if !strings.Contains(err.Error(), "conflict") {
		t.Errorf("error should name the conflict, got: %v", err)
	}
}

func TestParseRejectsNullabilityConflict(t *testing.T) {
	doc := []byte(`
rules:
  - table: users
    column: age
    expected_nullable: true
  - table: users
    column: age
    expected_nullable: false
`)
	if _, err := Parse(doc); err == nil {
		t.Fatal("conflicting nullability for the same column must be rejected")
	}
}

func TestParseAllowsCompatibleDuplicates(t *testing.T) {
	doc := []byte(`
rules:
  - table: users
    column: age
    expected_type: INTEGER
  - table: users
    column: age
    required_index_on: [age]
`)
	rs, err := Parse(doc)
	if err != nil {
		t.Fatalf("compatible duplicate rules should parse: %v", err)
	}
	if got := len(rs.ForTable("users")); got != 2 {
		t.Errorf("got %d rules, want 2", got)
	}
}

func TestParseRequiresTable(t *testing.T) {
	if _, err := Parse([]byte("rules:\n  - column: age\n")); err == nil {
		t.Fatal("rule without a table must be rejected")
	}
}

func TestEmpty(t *testing.T) {
	rs := Empty()
	if len(rs.All()) != 0 {
		t.Error("Empty rule set should have no rules")
	}
	if _, ok := rs.ForColumn("users", "age"); ok {
		t.Error("Empty rule set should miss every lookup")
	}
}
