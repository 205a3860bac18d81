// Package rules loads the expected-shape rule set that tells the detector
// what the schema is supposed to look like, beyond what the source scan can
// infer.
package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/healdb/heal/internal/model"
)

// RuleSet is a validated collection of expected-shape rules, indexed for the
// detector's lookups.
type RuleSet struct {
	rules   []model.ExpectedShapeRule
	byTable map[string][]model.ExpectedShapeRule
}

// ruleFile is the on-disk document shape.
type ruleFile struct {
	Rules []model.ExpectedShapeRule `yaml:"rules"`
}

// Load reads and validates a rule file. Two rules that disagree about the
// same column are a configuration error and rejected here, before any scan
// runs against them.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Parse validates a rule document held in memory.
func Parse(data []byte) (*RuleSet, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rs := &RuleSet{byTable: make(map[string][]model.ExpectedShapeRule)}
	seen := make(map[string]int) // table|column -> index of first rule

	for i, rule := range doc.Rules {
		if rule.Table == "" {
			return nil, fmt.Errorf("rule %d: table is required", i+1)
		}
		rule.Table = strings.ToLower(rule.Table)
		rule.Column = strings.ToLower(rule.Column)

		if rule.Column != "" {
			key := rule.Table + "|" + rule.Column
			if prev, dup := seen[key]; dup {
				if conflict := rulesConflict(doc.Rules[prev], rule); conflict != "" {
					return nil, fmt.Errorf("rules %d and %d conflict for %s.%s: %s",
						prev+1, i+1, rule.Table, rule.Column, conflict)
				}
			} else {
				seen[key] = i
			}
		}

		rs.rules = append(rs.rules, rule)
		rs.byTable[rule.Table] = append(rs.byTable[rule.Table], rule)
	}
	return rs, nil
}

// rulesConflict reports the first disagreement between two rules for the same
// column, or "" when they are compatible.
func rulesConflict(a, b model.ExpectedShapeRule) string {
	if a.ExpectedType != "" && b.ExpectedType != "" && a.ExpectedType != b.ExpectedType {
		return fmt.Sprintf("expected type %q vs %q", a.ExpectedType, b.ExpectedType)
	}
	if a.ExpectedNullable != nil && b.ExpectedNullable != nil && *a.ExpectedNullable != *b.ExpectedNullable {
		return fmt.Sprintf("nullability %v vs %v", *a.ExpectedNullable, *b.ExpectedNullable)
	}
	return ""
}

// ForTable returns the rules declared for a table.
func (rs *RuleSet) ForTable(table string) []model.ExpectedShapeRule {
	return rs.byTable[strings.ToLower(table)]
}

// ForColumn returns the first rule declared for a table column, if any.
func (rs *RuleSet) ForColumn(table, column string) (model.ExpectedShapeRule, bool) {
	for _, rule := range rs.byTable[strings.ToLower(table)] {
		if rule.Column == strings.ToLower(column) {
			return rule, true
		}
	}
	return model.ExpectedShapeRule{}, false
}

// All returns every loaded rule.
func (rs *RuleSet) All() []model.ExpectedShapeRule {
	return rs.rules
}

// Tables returns the distinct tables the rule set covers.
func (rs *RuleSet) Tables() []string {
	tables := make([]string, 0, len(rs.byTable))
	for t := range rs.byTable {
		tables = append(tables, t)
	}
	return tables
}

// Empty creates a rule set with no rules, used when no rule file is
// configured.
func Empty() *RuleSet {
	return &RuleSet{byTable: make(map[string][]model.ExpectedShapeRule)}
}
