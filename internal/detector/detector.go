// Package detector compares a catalog snapshot and the scanned call sites
// against the expected-shape rules and emits typed issues. Detection is pure:
// same inputs, same issue list.
package detector

import (
	"fmt"
	"strings"
	"time"

	"github.com/healdb/heal/internal/model"
	"github.com/healdb/heal/internal/rules"
)

// Config holds detection policy.
type Config struct {
	// CriticalTables elevates any issue touching a listed table to CRITICAL.
	CriticalTables []string
}

// Detector evaluates rules and call sites against snapshots.
type Detector struct {
	critical map[string]bool
}

// New creates a Detector with the given policy.
func New(cfg Config) *Detector {
	critical := make(map[string]bool, len(cfg.CriticalTables))
	for _, t := range cfg.CriticalTables {
		critical[strings.ToLower(t)] = true
	}
	return &Detector{critical: critical}
}

// collector deduplicates issues by identity while keeping emission order.
type collector struct {
	issues []model.Issue
	seen   map[string]int
	now    time.Time
}

// add inserts an issue unless its identity was already emitted, and returns
// the stored issue either way so callers can attach evidence to it. On a
// duplicate, Related links from the new sighting are merged into the stored
// issue, so a rule-detected TYPE_MISMATCH still gains its CODE_PATTERN link.
func (c *collector) add(issue model.Issue) *model.Issue {
	if idx, dup := c.seen[issue.ID]; dup {
		stored := &c.issues[idx]
		for _, rel := range issue.Related {
			if !contains(stored.Related, rel) {
				stored.Related = append(stored.Related, rel)
			}
		}
		return stored
	}
	issue.FirstDetectedAt = c.now
	c.seen[issue.ID] = len(c.issues)
	c.issues = append(c.issues, issue)
	return &c.issues[len(c.issues)-1]
}

// Detect returns the issues present in this cycle, deduplicated by identity.
// Rule violations come first, then call-site coercion findings, then parse
// failures as INFO.
func (d *Detector) Detect(snap *model.CatalogSnapshot, callsites []model.CallSite, failures []model.ScanFailure, rs *rules.RuleSet) []model.Issue {
	c := &collector{seen: make(map[string]int), now: time.Now().UTC()}

	for _, rule := range rs.All() {
		d.checkRule(c, snap, rule)
	}
	d.checkCallSites(c, snap, callsites, rs)

	for _, failure := range failures {
		c.add(model.Issue{
			ID:       model.IssueID(model.IssueCodePattern, failure.File, ""),
			Kind:     model.IssueCodePattern,
			Severity: model.SeverityInfo,
			Evidence: fmt.Sprintf("source file failed to parse: %s", failure.Error),
			File:     failure.File,
		})
	}

	return c.issues
}

// checkRule evaluates one expected-shape rule against the snapshot.
func (d *Detector) checkRule(c *collector, snap *model.CatalogSnapshot, rule model.ExpectedShapeRule) {
	table := snap.Table(rule.Table)
	if table == nil {
		c.add(model.Issue{
			ID:       model.IssueID(model.IssueMissingTable, rule.Table, ""),
			Kind:     model.IssueMissingTable,
			Severity: d.severity(rule.Table),
			Target:   model.Target{Table: rule.Table},
			Evidence: fmt.Sprintf("table %q not present in catalog", rule.Table),
		})
		return
	}

	if rule.Column != "" {
		col := table.Column(rule.Column)
		switch {
		case col == nil:
			c.add(model.Issue{
				ID:           model.IssueID(model.IssueMissingColumn, rule.Table, rule.Column),
				Kind:         model.IssueMissingColumn,
				Severity:     d.severity(rule.Table),
				Target:       model.Target{Table: rule.Table, Column: rule.Column},
				Evidence:     fmt.Sprintf("column %s.%s not present in catalog", rule.Table, rule.Column),
				ExpectedType: rule.ExpectedType,
			})
		case rule.ExpectedType != "" &&
			model.Canonicalize(col.DeclaredType) != model.Canonicalize(rule.ExpectedType):
			c.add(model.Issue{
				ID:       model.IssueID(model.IssueTypeMismatch, rule.Table, rule.Column),
				Kind:     model.IssueTypeMismatch,
				Severity: d.severity(rule.Table),
				Target:   model.Target{Table: rule.Table, Column: rule.Column},
				Evidence: fmt.Sprintf("column %s.%s declared %q, rule expects %q",
					rule.Table, rule.Column, col.DeclaredType, rule.ExpectedType),
				ExpectedType: rule.ExpectedType,
				ActualType:   col.DeclaredType,
			})
		}
	}

	if len(rule.RequiredIndexOn) > 0 && !table.HasIndexOn(rule.RequiredIndexOn) {
		cols := strings.Join(rule.RequiredIndexOn, ",")
		c.add(model.Issue{
			ID:       model.IssueID(model.IssueMissingIndex, rule.Table, cols),
			Kind:     model.IssueMissingIndex,
			Severity: d.severity(rule.Table),
			Target:   model.Target{Table: rule.Table, Column: cols},
			Evidence: fmt.Sprintf("no index on %s(%s)", rule.Table, strings.Join(rule.RequiredIndexOn, ", ")),
		})
	}

	if rule.RequiredFKTo != "" && rule.Column != "" && !table.HasForeignKeyTo(rule.Column, rule.RequiredFKTo) {
		c.add(model.Issue{
			ID:       model.IssueID(model.IssueMissingFK, rule.Table, rule.Column),
			Kind:     model.IssueMissingFK,
			Severity: d.severity(rule.Table),
			Target:   model.Target{Table: rule.Table, Column: rule.Column},
			Evidence: fmt.Sprintf("%s.%s has no foreign key to %s", rule.Table, rule.Column, rule.RequiredFKTo),
		})
	}
}

// checkCallSites cross-references coercion helpers against declared column
// types. A coercion to a type the column does not hold yields a CODE_PATTERN
// issue linked to a TYPE_MISMATCH for the column itself, so one plan can
// address both.
func (d *Detector) checkCallSites(c *collector, snap *model.CatalogSnapshot, callsites []model.CallSite, rs *rules.RuleSet) {
	for _, site := range callsites {
		table := snap.Table(site.Table)
		if table == nil {
			continue
		}
		for _, binding := range site.Bindings {
			if binding.Coercion == "" || binding.ColumnName == "" {
				continue
			}
			col := table.Column(binding.ColumnName)
			if col == nil {
				continue
			}
			declared := model.Canonicalize(col.DeclaredType)
			if binding.CoercedType == declared || binding.CoercedType == model.CanonicalUnknown {
				continue
			}

			expectedType := col.DeclaredType
			if rule, ok := rs.ForColumn(site.Table, binding.ColumnName); ok && rule.ExpectedType != "" {
				expectedType = rule.ExpectedType
			}

			codeID := model.IssueID(model.IssueCodePattern, site.Table, binding.ColumnName)
			typeID := model.IssueID(model.IssueTypeMismatch, site.Table, binding.ColumnName)

			code := c.add(model.Issue{
				ID:       codeID,
				Kind:     model.IssueCodePattern,
				Severity: d.severity(site.Table),
				Target:   model.Target{Table: site.Table, Column: binding.ColumnName},
				Evidence: fmt.Sprintf("call site coerces %s.%s to %s but column is declared %q",
					site.Table, binding.ColumnName, binding.CoercedType, col.DeclaredType),
				ExpectedType: expectedType,
				ActualType:   col.DeclaredType,
				File:         site.File,
				Related:      []string{typeID},
			})
			code.CallSites = append(code.CallSites, site)

			c.add(model.Issue{
				ID:       typeID,
				Kind:     model.IssueTypeMismatch,
				Severity: d.severity(site.Table),
				Target:   model.Target{Table: site.Table, Column: binding.ColumnName},
				Evidence: fmt.Sprintf("column %s.%s declared %q but call sites use it as %s",
					site.Table, binding.ColumnName, col.DeclaredType, binding.CoercedType),
				ExpectedType: expectedType,
				ActualType:   col.DeclaredType,
				Related:      []string{codeID},
			})
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// severity applies the critical-table policy.
func (d *Detector) severity(table string) model.Severity {
	if d.critical[strings.ToLower(table)] {
		return model.SeverityCritical
	}
	return model.SeverityWarning
}
