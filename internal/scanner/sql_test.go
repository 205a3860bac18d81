package scanner

import (
	"reflect"
	"testing"
)

func TestExtractTable(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT * FROM users WHERE id = ?", "users"},
		{"select name from Orders o join users u on u.id = o.user_id", "orders"},
		{"INSERT INTO sessions (token) VALUES (?)", "sessions"},
		{"UPDATE accounts SET balance = ? WHERE id = ?", "accounts"},
		{"DELETE FROM `events` WHERE ts < ?", "events"},
		{`SELECT 1 FROM "audit_log"`, "audit_log"},
		{"SELECT 1 FROM [dbo_users]", "dbo_users"},
		{"SELECT 1", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := extractTable(tt.query); got != tt.want {
			t.Errorf("extractTable(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestPlaceholderColumnsComparisons(t *testing.T) {
	got := placeholderColumns("SELECT * FROM users WHERE age = ? AND name LIKE ? AND id IN (?)")
	want := []string{"age", "name", "id"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPlaceholderColumnsInsert(t *testing.T) {
	got := placeholderColumns("INSERT INTO users (name, age, email) VALUES (?, ?, ?)")
	want := []string{"name", "age", "email"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPlaceholderColumnsNumbered(t *testing.T) {
	// $n placeholders bind by number, not position in the text.
	got := placeholderColumns("UPDATE users SET name = $2 WHERE id = $1")
	want := []string{"id", "name"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPlaceholderColumnsMSSQL(t *testing.T) {
	got := placeholderColumns("SELECT * FROM users WHERE age = @p1 AND email = @p2")
	want := []string{"age", "email"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPlaceholderColumnsNamed(t *testing.T) {
	got := placeholderColumns("SELECT * FROM users WHERE age = :age AND name = :name")
	want := []string{"age", "name"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPlaceholderColumnsUnpairable(t *testing.T) {
	got := placeholderColumns("SELECT * FROM users LIMIT ?")
	want := []string{""}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unpairable placeholder should yield empty column, got %v", got)
	}

	if got := placeholderColumns("SELECT * FROM users"); got != nil {
		t.Errorf("no placeholders should yield nil, got %v", got)
	}
}
