package scanner

import (
	"regexp"
	"strconv"
	"strings"
)

// Table references in the statement forms the engine cares about. Quoting
// styles across engines (double quotes, backticks, brackets) are stripped.
var (
	tablePattern = regexp.MustCompile(`(?is)\b(?:from|into|update|join)\s+["\x60\[]?(\w+)["\x60\]]?`)

	// A positional or named placeholder anywhere in the query.
	placeholderPattern = regexp.MustCompile(`\?|\$\d+|@p\d+|:\w+`)

	// A comparison of a (possibly quoted) column immediately preceding a
	// placeholder, e.g. `age = ?` or `id >= $2`.
	comparisonTail = regexp.MustCompile(`(?i)["\x60\[]?(\w+)["\x60\]]?\s*(?:=|!=|<>|<=|>=|<|>|like|in)\s*\(?\s*$`)

	insertPattern = regexp.MustCompile(`(?is)insert\s+into\s+["\x60\[]?\w+["\x60\]]?\s*\(([^)]+)\)\s*values\s*\(([^)]+)\)`)
)

// extractTable returns the first table a query reads or writes, or "" when
// none is recognizable.
func extractTable(query string) string {
	m := tablePattern.FindStringSubmatch(query)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// placeholderColumns pairs each positional argument slot with the column it
// binds. Index i of the result names the column for the i-th argument after
// the query; empty string means the pairing could not be determined.
func placeholderColumns(query string) []string {
	// Column list for INSERT ... VALUES pairing, when present.
	var insertCols []string
	var valuesStart, valuesEnd int
	if m := insertPattern.FindStringSubmatchIndex(query); m != nil {
		for _, col := range strings.Split(query[m[2]:m[3]], ",") {
			insertCols = append(insertCols, cleanIdentifier(col))
		}
		valuesStart, valuesEnd = m[4], m[5]
	}

	occurrences := placeholderPattern.FindAllStringIndex(query, -1)
	if len(occurrences) == 0 {
		return nil
	}

	slots := make(map[int]string)
	maxSlot := -1
	ordinal := 0
	for _, occ := range occurrences {
		text := query[occ[0]:occ[1]]
		slot := ordinal
		switch {
		case strings.HasPrefix(text, "$"):
			n, err := strconv.Atoi(text[1:])
			if err != nil || n < 1 {
				continue
			}
			slot = n - 1
		case strings.HasPrefix(text, "@p"):
			n, err := strconv.Atoi(text[2:])
			if err != nil || n < 1 {
				continue
			}
			slot = n - 1
		}
		ordinal++

		column := ""
		switch {
		case strings.HasPrefix(text, ":"):
			column = strings.ToLower(text[1:])
		case valuesEnd > 0 && occ[0] >= valuesStart && occ[1] <= valuesEnd:
			// Position within the VALUES list maps to the column list.
			idx := strings.Count(query[valuesStart:occ[0]], ",")
			if idx < len(insertCols) {
				column = insertCols[idx]
			}
		default:
			if m := comparisonTail.FindStringSubmatch(query[:occ[0]]); m != nil {
				column = strings.ToLower(m[1])
			}
		}

		slots[slot] = column
		if slot > maxSlot {
			maxSlot = slot
		}
	}

	if maxSlot < 0 {
		return nil
	}
	columns := make([]string, maxSlot+1)
	for slot, col := range slots {
		columns[slot] = col
	}
	return columns
}

func cleanIdentifier(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"`[]")
	return strings.ToLower(s)
}
