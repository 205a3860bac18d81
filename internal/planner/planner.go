// Package planner turns detected issues into reversible fix plans. Planning
// is gated twice: a cooldown window per issue id, and an auto-fix allow-list
// of tables considered safe to repair without human review.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/healdb/heal/internal/connector"
	"github.com/healdb/heal/internal/history"
	"github.com/healdb/heal/internal/model"
	"github.com/healdb/heal/internal/rules"
)

// ErrCooldownActive signals the issue was attempted within the cooldown
// window. Not a failure; the caller simply produces no plan.
var ErrCooldownActive = errors.New("issue is within its cooldown window")

// ErrNotAllowListed signals the target table is not approved for automatic
// fixing and needs a human-reviewed plan.
var ErrNotAllowListed = errors.New("table not on auto-fix allow-list")

// ErrUnplannable signals the issue kind cannot be repaired online on this
// engine; it stays on the report for human review.
var ErrUnplannable = errors.New("no automatic plan for issue")

// Config holds planning policy.
type Config struct {
	// Cooldown suppresses re-planning an issue after any attempt.
	Cooldown time.Duration
	// AutoFixTables lists the tables approved for automatic repair.
	AutoFixTables []string
	// BackupRetention is how long type-migration backups are kept.
	BackupRetention time.Duration
}

const (
	defaultCooldown  = time.Hour
	defaultRetention = 7 * 24 * time.Hour
)

// Planner builds fix plans using the target engine's DDL builders.
type Planner struct {
	conn    connector.Connector
	ledger  *history.Ledger
	rules   *rules.RuleSet
	logger  *slog.Logger
	allowed map[string]bool

	cooldown  time.Duration
	retention time.Duration
}

// New creates a Planner.
func New(conn connector.Connector, ledger *history.Ledger, rs *rules.RuleSet, logger *slog.Logger, cfg Config) *Planner {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.BackupRetention <= 0 {
		cfg.BackupRetention = defaultRetention
	}
	allowed := make(map[string]bool, len(cfg.AutoFixTables))
	for _, t := range cfg.AutoFixTables {
		allowed[strings.ToLower(t)] = true
	}
	return &Planner{
		conn:      conn,
		ledger:    ledger,
		rules:     rs,
		logger:    logger,
		allowed:   allowed,
		cooldown:  cfg.Cooldown,
		retention: cfg.BackupRetention,
	}
}

// Plan builds a fix plan for an issue, honoring the cooldown window and the
// auto-fix allow-list.
func (p *Planner) Plan(ctx context.Context, issue model.Issue, snap *model.CatalogSnapshot, callsites []model.CallSite) (*model.FixPlan, error) {
	return p.plan(ctx, issue, snap, callsites, false)
}

// PlanManual builds a plan for an operator-requested fix. The allow-list is
// bypassed (the operator is the review), the cooldown is not.
func (p *Planner) PlanManual(ctx context.Context, issue model.Issue, snap *model.CatalogSnapshot, callsites []model.CallSite) (*model.FixPlan, error) {
	return p.plan(ctx, issue, snap, callsites, true)
}

func (p *Planner) plan(ctx context.Context, issue model.Issue, snap *model.CatalogSnapshot, callsites []model.CallSite, manual bool) (*model.FixPlan, error) {
	recent, err := p.ledger.HasRecentAttempt(ctx, issue.ID, p.cooldown)
	if err != nil {
		return nil, fmt.Errorf("cooldown lookup: %w", err)
	}
	if recent {
		return nil, ErrCooldownActive
	}
	if !manual && issue.Target.Table != "" && !p.allowed[strings.ToLower(issue.Target.Table)] {
		return nil, ErrNotAllowListed
	}

	switch issue.Kind {
	case model.IssueMissingTable:
		return p.planCreateTable(issue)
	case model.IssueMissingColumn:
		return p.planAddColumn(issue)
	case model.IssueMissingIndex:
		return p.planCreateIndex(issue)
	case model.IssueMissingFK:
		return p.planAddForeignKey(issue)
	case model.IssueTypeMismatch:
		return p.planTypeMigration(issue, snap, callsites)
	case model.IssueCodePattern:
		return p.planSourcePatch(issue, callsites)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrUnplannable, issue.Kind)
	}
}

func (p *Planner) planCreateTable(issue model.Issue) (*model.FixPlan, error) {
	cols := columnDefs(p.rules.ForTable(issue.Target.Table))
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: no column rules for table %q", ErrUnplannable, issue.Target.Table)
	}

	apply, rollback, err := p.conn.BuildCreateTable(issue.Target.Table, cols)
	if err != nil {
		return nil, fmt.Errorf("build create table: %w", err)
	}
	return &model.FixPlan{
		IssueID:             issue.ID,
		IssueKind:           issue.Kind,
		Target:              issue.Target,
		Statements:          apply,
		RollbackStatements:  rollback,
		RequiresTransaction: true,
	}, nil
}

func (p *Planner) planAddColumn(issue model.Issue) (*model.FixPlan, error) {
	rule, ok := p.rules.ForColumn(issue.Target.Table, issue.Target.Column)
	if !ok || rule.ExpectedType == "" {
		return nil, fmt.Errorf("%w: no typed rule for %s.%s", ErrUnplannable, issue.Target.Table, issue.Target.Column)
	}

	apply, rollback, err := p.conn.BuildAddColumn(issue.Target.Table, columnDef(rule))
	if err != nil {
		return nil, fmt.Errorf("build add column: %w", err)
	}
	return &model.FixPlan{
		IssueID:             issue.ID,
		IssueKind:           issue.Kind,
		Target:              issue.Target,
		Statements:          apply,
		RollbackStatements:  rollback,
		RequiresTransaction: true,
	}, nil
}

func (p *Planner) planCreateIndex(issue model.Issue) (*model.FixPlan, error) {
	cols := strings.Split(issue.Target.Column, ",")
	index := fmt.Sprintf("idx_%s_%s", issue.Target.Table, strings.Join(cols, "_"))

	apply, rollback, err := p.conn.BuildCreateIndex(issue.Target.Table, index, cols, false)
	if err != nil {
		return nil, fmt.Errorf("build create index: %w", err)
	}
	return &model.FixPlan{
		IssueID:             issue.ID,
		IssueKind:           issue.Kind,
		Target:              issue.Target,
		Statements:          apply,
		RollbackStatements:  rollback,
		RequiresTransaction: true,
	}, nil
}

func (p *Planner) planAddForeignKey(issue model.Issue) (*model.FixPlan, error) {
	rule, ok := p.rules.ForColumn(issue.Target.Table, issue.Target.Column)
	if !ok || rule.RequiredFKTo == "" {
		return nil, fmt.Errorf("%w: no FK rule for %s.%s", ErrUnplannable, issue.Target.Table, issue.Target.Column)
	}
	refColumn := rule.RequiredFKToColumn
	if refColumn == "" {
		refColumn = "id"
	}

	apply, rollback, err := p.conn.BuildAddForeignKey(issue.Target.Table, issue.Target.Column, rule.RequiredFKTo, refColumn)
	if err != nil {
		return nil, fmt.Errorf("build add foreign key: %w", err)
	}
	return &model.FixPlan{
		IssueID:             issue.ID,
		IssueKind:           issue.Kind,
		Target:              issue.Target,
		Statements:          apply,
		RollbackStatements:  rollback,
		RequiresTransaction: true,
	}, nil
}

// planTypeMigration builds the data-preserving column retype. The plan also
// carries source patches for linked CODE_PATTERN call sites, so one execution
// fixes the schema and the code that fights it.
func (p *Planner) planTypeMigration(issue model.Issue, snap *model.CatalogSnapshot, callsites []model.CallSite) (*model.FixPlan, error) {
	table := snap.Table(issue.Target.Table)
	if table == nil {
		return nil, fmt.Errorf("%w: table %q not in snapshot", ErrUnplannable, issue.Target.Table)
	}
	col := table.Column(issue.Target.Column)
	if col == nil {
		return nil, fmt.Errorf("%w: column %s.%s not in snapshot", ErrUnplannable, issue.Target.Table, issue.Target.Column)
	}
	if issue.ExpectedType == "" {
		return nil, fmt.Errorf("%w: no expected type for %s.%s", ErrUnplannable, issue.Target.Table, issue.Target.Column)
	}

	backup := fmt.Sprintf("heal_backup_%s_%d", issue.Target.Table, time.Now().UTC().Unix())
	apply, rollback, err := p.conn.BuildTypeMigration(issue.Target.Table, *col, issue.ExpectedType, backup)
	if err != nil {
		return nil, fmt.Errorf("build type migration: %w", err)
	}

	plan := &model.FixPlan{
		IssueID:            issue.ID,
		IssueKind:          issue.Kind,
		Target:             issue.Target,
		Statements:         apply,
		RollbackStatements: rollback,
		BackupRef:          backup,
		Verify: &model.BackupVerify{
			Table:       issue.Target.Table,
			BackupTable: backup,
		},
		RequiresTransaction: p.conn.SupportsTransactionalDDL(),
		RetainUntil:         time.Now().UTC().Add(p.retention),
	}
	plan.SourcePatches = coercionPatches(issue, callsites)
	return plan, nil
}

// planSourcePatch builds a minimal text edit removing the offending coercion
// from each call site, never a full-file rewrite.
func (p *Planner) planSourcePatch(issue model.Issue, callsites []model.CallSite) (*model.FixPlan, error) {
	patches := coercionPatches(issue, callsites)
	if len(patches) == 0 {
		return nil, fmt.Errorf("%w: no call sites to patch for %s.%s", ErrUnplannable, issue.Target.Table, issue.Target.Column)
	}
	return &model.FixPlan{
		IssueID:       issue.ID,
		IssueKind:     issue.Kind,
		Target:        issue.Target,
		SourcePatches: patches,
	}, nil
}

// coercionPatches collects one patch per call site binding the issue's column
// through a coercion helper: replace the wrapper call with its inner
// expression.
func coercionPatches(issue model.Issue, callsites []model.CallSite) []model.SourcePatch {
	var patches []model.SourcePatch
	for _, site := range callsites {
		if !strings.EqualFold(site.Table, issue.Target.Table) {
			continue
		}
		for _, binding := range site.Bindings {
			if binding.Coercion == "" || binding.Inner == "" {
				continue
			}
			if !strings.EqualFold(binding.ColumnName, issue.Target.Column) {
				continue
			}
			patches = append(patches, model.SourcePatch{
				File: site.File,
				Line: site.Line,
				Old:  binding.Coercion,
				New:  binding.Inner,
			})
		}
	}
	return patches
}

func columnDef(rule model.ExpectedShapeRule) model.ColumnDef {
	nullable := true
	if rule.ExpectedNullable != nil {
		nullable = *rule.ExpectedNullable
	}
	return model.ColumnDef{
		Name:     rule.Column,
		Type:     rule.ExpectedType,
		Nullable: nullable,
		Default:  rule.DefaultValue,
	}
}

func columnDefs(tableRules []model.ExpectedShapeRule) []model.ColumnDef {
	var cols []model.ColumnDef
	for _, rule := range tableRules {
		if rule.Column == "" || rule.ExpectedType == "" {
			continue
		}
		cols = append(cols, columnDef(rule))
	}
	return cols
}
