package model

import "time"

// SystemStatus summarizes overall schema health for the external dashboard.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
)

// HealthReport is the read-path payload of the control surface. All
// timestamps are RFC3339 strings; no engine-specific types leak through.
type HealthReport struct {
	CriticalIssues []Issue      `json:"critical_issues"`
	Warnings       []Issue      `json:"warnings"`
	Infos          []Issue      `json:"infos"`
	LastScanAt     string       `json:"last_scan_at,omitempty"`
	SystemStatus   SystemStatus `json:"system_status"`
}

// BuildHealthReport segments issues by severity and derives the overall
// status. Degraded means at least one CRITICAL issue is open.
func BuildHealthReport(issues []Issue, lastScanAt time.Time) HealthReport {
	report := HealthReport{
		CriticalIssues: []Issue{},
		Warnings:       []Issue{},
		Infos:          []Issue{},
		SystemStatus:   StatusHealthy,
	}
	if !lastScanAt.IsZero() {
		report.LastScanAt = lastScanAt.UTC().Format(time.RFC3339)
	}
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			report.CriticalIssues = append(report.CriticalIssues, issue)
		case SeverityInfo:
			report.Infos = append(report.Infos, issue)
		default:
			report.Warnings = append(report.Warnings, issue)
		}
	}
	if len(report.CriticalIssues) > 0 {
		report.SystemStatus = StatusDegraded
	}
	return report
}

// ScanAck acknowledges a manual scan trigger. The caller learns that a run
// was scheduled or coalesced, never the run's eventual result.
type ScanAck struct {
	Accepted  bool `json:"accepted"`
	Coalesced bool `json:"coalesced"`
}
