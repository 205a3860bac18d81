package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/healdb/heal/internal/model"
)

func newCheckCmd() *cobra.Command {
	var (
		verbose bool
		output  string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one detection cycle and print the health report",
		Long: `Introspects the target database, scans the configured source roots, runs
issue detection, and prints the resulting health report. No fixes are planned
or applied. Exits non-zero when critical issues are found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)

			eng, err := buildEngine(logger)
			if err != nil {
				return err
			}
			defer eng.close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			snap, err := eng.introspector.Snapshot(ctx)
			if err != nil {
				return fmt.Errorf("introspect target: %w", err)
			}
			sites, failures, err := eng.scanner.Scan(ctx, eng.cfg.Scanner.SourceRoots)
			if err != nil {
				return fmt.Errorf("scan source roots: %w", err)
			}

			issues := eng.detector.Detect(snap, sites, failures, eng.rules)
			report := model.BuildHealthReport(issues, time.Now())

			switch output {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			case "table":
				printReportTable(cmd, report)
			default:
				return fmt.Errorf("unknown output format %q (want json or table)", output)
			}

			if report.SystemStatus == model.StatusDegraded {
				os.Exit(2)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or json")
	return cmd
}

func printReportTable(cmd *cobra.Command, report model.HealthReport) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEVERITY\tKIND\tTARGET\tID\tEVIDENCE")
	rows := func(severity string, issues []model.Issue) {
		for _, issue := range issues {
			target := issue.Target.Table
			if issue.Target.Column != "" {
				target += "." + issue.Target.Column
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				severity, issue.Kind, target, issue.ID, issue.Evidence)
		}
	}
	rows("CRITICAL", report.CriticalIssues)
	rows("WARNING", report.Warnings)
	rows("INFO", report.Infos)
	w.Flush() //nolint:errcheck

	fmt.Fprintf(cmd.OutOrStdout(), "\nstatus: %s (%d critical, %d warnings, %d infos)\n",
		report.SystemStatus,
		len(report.CriticalIssues), len(report.Warnings), len(report.Infos))
}
