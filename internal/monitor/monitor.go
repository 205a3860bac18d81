// Package monitor owns the scan/fix cycle: a single supervising goroutine
// runs introspection and source scanning concurrently, correlates them into
// issues, plans and executes fixes, and publishes the resulting report.
// Explicit state is passed through the cycle; nothing lives in globals.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/healdb/heal/internal/catalog"
	"github.com/healdb/heal/internal/detector"
	"github.com/healdb/heal/internal/executor"
	"github.com/healdb/heal/internal/history"
	"github.com/healdb/heal/internal/model"
	"github.com/healdb/heal/internal/planner"
	"github.com/healdb/heal/internal/rules"
	"github.com/healdb/heal/internal/scanner"
)

// State is the scheduler's current phase.
type State string

const (
	StateIdle      State = "IDLE"
	StateScanning  State = "SCANNING"
	StatePlanning  State = "PLANNING"
	StateExecuting State = "EXECUTING"
	StateStopped   State = "STOPPED"
)

// ErrStopped is returned for operations against a stopped monitor.
var ErrStopped = errors.New("monitor is stopped")

// ErrIssueNotFound is returned when a targeted fix names an unknown issue.
var ErrIssueNotFound = errors.New("issue not found in last report")

const defaultInterval = 5 * time.Minute

// Config holds scheduler settings.
type Config struct {
	// Interval between automatic cycles.
	Interval time.Duration
	// SourceRoots are the directories the scanner walks each cycle.
	SourceRoots []string
}

// Monitor runs the introspect → detect → plan → execute pipeline.
type Monitor struct {
	introspector *catalog.Introspector
	scanner      *scanner.Scanner
	detector     *detector.Detector
	planner      *planner.Planner
	executor     *executor.Executor
	ledger       *history.Ledger
	rules        *rules.RuleSet
	logger       *slog.Logger

	interval    time.Duration
	sourceRoots []string

	// trigger has capacity one: a trigger arriving while a run is pending
	// (or in progress) coalesces into it instead of queueing.
	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}

	// cycleMu serializes the pipeline with targeted fixes and rollbacks.
	cycleMu sync.Mutex

	mu        sync.RWMutex
	state     State
	issues    []model.Issue
	snapshot  *model.CatalogSnapshot
	callsites []model.CallSite
	lastScan  time.Time
	firstSeen map[string]time.Time
	stopped   bool
}

// New creates a Monitor. Call Run to start the loop.
func New(introspector *catalog.Introspector, scn *scanner.Scanner, det *detector.Detector, pln *planner.Planner, exe *executor.Executor, ledger *history.Ledger, rs *rules.RuleSet, logger *slog.Logger, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Monitor{
		introspector: introspector,
		scanner:      scn,
		detector:     det,
		planner:      pln,
		executor:     exe,
		ledger:       ledger,
		rules:        rs,
		logger:       logger,
		interval:     cfg.Interval,
		sourceRoots:  cfg.SourceRoots,
		trigger:      make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		state:        StateIdle,
		firstSeen:    make(map[string]time.Time),
	}
}

// Run drives the cycle until Stop is called or the context ends. It blocks;
// start it in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)
	defer m.setState(StateStopped)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.runCycle(ctx)
		case <-m.trigger:
			m.runCycle(ctx)
		}
	}
}

// Trigger requests a manual cycle. The call never blocks: it reports whether
// the request was accepted and whether it coalesced into an already-pending
// run.
func (m *Monitor) Trigger() (accepted, coalesced bool) {
	m.mu.RLock()
	stopped := m.stopped
	m.mu.RUnlock()
	if stopped {
		return false, false
	}

	select {
	case m.trigger <- struct{}{}:
		return true, false
	default:
		return true, true
	}
}

// Stop halts the loop permanently and waits for an in-flight cycle to end.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stop)
	<-m.done
}

// State returns the scheduler's current phase.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	// STOPPED is terminal.
	if m.state != StateStopped {
		m.state = s
	}
	m.mu.Unlock()
}

// Report returns the health report built from the last completed cycle.
// Safe to call concurrently with a running cycle; never returns partial
// results.
func (m *Monitor) Report() model.HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return model.BuildHealthReport(m.issues, m.lastScan)
}

// Issues returns the issues from the last completed cycle.
func (m *Monitor) Issues() []model.Issue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Issue, len(m.issues))
	copy(out, m.issues)
	return out
}

// runCycle executes one full pipeline pass. Any phase failure logs and
// returns the monitor to IDLE; only Stop halts the loop.
func (m *Monitor) runCycle(ctx context.Context) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	defer m.setState(StateIdle)

	start := time.Now()
	m.setState(StateScanning)

	snap, sites, failures, err := m.gather(ctx)
	if err != nil {
		m.logger.Error("cycle aborted", "phase", "scanning", "error", err)
		return
	}

	issues := m.detector.Detect(snap, sites, failures, m.rules)
	m.preserveFirstSeen(issues)

	m.setState(StatePlanning)
	executed := m.planAndExecute(ctx, issues, snap, sites)

	m.publish(snap, sites, issues)
	m.logger.Info("cycle complete",
		"issues", len(issues),
		"fixes_executed", executed,
		"duration", time.Since(start).Round(time.Millisecond))
}

// gather runs introspection and source scanning concurrently; both must
// finish before detection correlates their outputs.
func (m *Monitor) gather(ctx context.Context) (*model.CatalogSnapshot, []model.CallSite, []model.ScanFailure, error) {
	var (
		wg       sync.WaitGroup
		snap     *model.CatalogSnapshot
		snapErr  error
		sites    []model.CallSite
		failures []model.ScanFailure
		scanErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		snap, snapErr = m.introspector.Snapshot(ctx)
	}()
	go func() {
		defer wg.Done()
		sites, failures, scanErr = m.scanner.Scan(ctx, m.sourceRoots)
	}()
	wg.Wait()

	if snapErr != nil {
		return nil, nil, nil, snapErr
	}
	if scanErr != nil {
		return nil, nil, nil, scanErr
	}
	return snap, sites, failures, nil
}

// planAndExecute attempts an automatic fix for each issue, honoring the
// planner's gates. Returns how many fixes were executed.
func (m *Monitor) planAndExecute(ctx context.Context, issues []model.Issue, snap *model.CatalogSnapshot, sites []model.CallSite) int {
	executed := 0
	for _, issue := range issues {
		if issue.Severity == model.SeverityInfo {
			continue
		}
		plan, err := m.planner.Plan(ctx, issue, snap, sites)
		switch {
		case errors.Is(err, planner.ErrCooldownActive):
			m.logger.Debug("planning skipped: cooldown", "issue_id", issue.ID)
			continue
		case errors.Is(err, planner.ErrNotAllowListed):
			m.logger.Debug("planning skipped: table not allow-listed",
				"issue_id", issue.ID, "table", issue.Target.Table)
			continue
		case errors.Is(err, planner.ErrUnplannable):
			m.logger.Warn("issue needs human review", "issue_id", issue.ID, "reason", err)
			continue
		case err != nil:
			m.logger.Error("planning failed", "issue_id", issue.ID, "error", err)
			continue
		}

		m.setState(StateExecuting)
		rec, err := m.executor.Execute(ctx, plan)
		m.setState(StatePlanning)
		if err != nil {
			m.logger.Error("execution infrastructure failure", "issue_id", issue.ID, "error", err)
			continue
		}
		if rec.Outcome == model.FixSuccess {
			executed++
		}
	}
	return executed
}

// preserveFirstSeen keeps the original first-detection time for issues that
// persist across cycles, so repeated scans report the same issue, not a new
// one.
func (m *Monitor) preserveFirstSeen(issues []model.Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]time.Time, len(issues))
	for i := range issues {
		if first, ok := m.firstSeen[issues[i].ID]; ok {
			issues[i].FirstDetectedAt = first
		}
		next[issues[i].ID] = issues[i].FirstDetectedAt
	}
	m.firstSeen = next
}

// publish swaps in the results of a completed cycle, logging any structural
// drift observed since the previous one.
func (m *Monitor) publish(snap *model.CatalogSnapshot, sites []model.CallSite, issues []model.Issue) {
	m.mu.Lock()
	prev := m.snapshot
	m.snapshot = snap
	m.callsites = sites
	m.issues = issues
	m.lastScan = time.Now().UTC()
	m.mu.Unlock()

	if prev == nil {
		return
	}
	changes := catalog.Diff(prev, snap)
	if len(changes) == 0 {
		return
	}
	breaking := catalog.Breaking(changes)
	m.logger.Info("catalog drift since previous cycle",
		"changes", len(changes), "breaking", len(breaking))
	for _, c := range breaking {
		m.logger.Warn("breaking catalog change",
			"category", c.Category, "table", c.Table, "column", c.Column,
			"detail", c.Description)
	}
}

// FixIssue runs a targeted fix for one issue from the last report. The
// allow-list is bypassed (the caller is the review); the cooldown is not.
func (m *Monitor) FixIssue(ctx context.Context, issueID string) (*model.FixRecord, error) {
	m.mu.RLock()
	if m.stopped {
		m.mu.RUnlock()
		return nil, ErrStopped
	}
	var issue *model.Issue
	for i := range m.issues {
		if m.issues[i].ID == issueID {
			issue = &m.issues[i]
			break
		}
	}
	snap := m.snapshot
	sites := m.callsites
	m.mu.RUnlock()

	if issue == nil {
		return nil, ErrIssueNotFound
	}

	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	plan, err := m.planner.PlanManual(ctx, *issue, snap, sites)
	if err != nil {
		return nil, err
	}
	return m.executor.Execute(ctx, plan)
}

// Rollback reverses a prior fix, serialized with the cycle.
func (m *Monitor) Rollback(ctx context.Context, fixID string) (*model.FixRecord, error) {
	m.mu.RLock()
	if m.stopped {
		m.mu.RUnlock()
		return nil, ErrStopped
	}
	m.mu.RUnlock()

	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	return m.executor.Rollback(ctx, fixID)
}

// History lists fix records through the ledger.
func (m *Monitor) History(ctx context.Context, f history.Filter) ([]model.FixRecord, error) {
	return m.ledger.List(ctx, f)
}
