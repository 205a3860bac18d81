package connector

import (
	"strings"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"users", "user_accounts", "_private", "Table1", "a"}
	for _, name := range valid {
		if err := ValidateIdentifier(name); err != nil {
			t.Errorf("ValidateIdentifier(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{
		"",
		"1users",
		"user-accounts",
		"users; DROP TABLE x",
		`users"`,
		"user name",
		"SELECT",
		"drop",
		strings.Repeat("a", 129),
	}
	for _, name := range invalid {
		if err := ValidateIdentifier(name); err == nil {
			t.Errorf("ValidateIdentifier(%q) = nil, want error", name)
		}
	}
}

func TestValidateIdentifiersStopsAtFirst(t *testing.T) {
	if err := ValidateIdentifiers("users", "email"); err != nil {
		t.Errorf("valid list rejected: %v", err)
	}
	if err := ValidateIdentifiers("users", "bad name"); err == nil {
		t.Error("invalid member should be rejected")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Open(Config{Driver: "nope", DSN: "x"}); err == nil {
		t.Error("unknown driver should error")
	}
	if got := len(r.Drivers()); got != 0 {
		t.Errorf("got %d drivers, want 0", got)
	}
}
