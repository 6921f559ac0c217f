package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
)

// waitCmd returns the command that polls an asynchronous scan to completion.
func waitCmd() *cobra.Command {
	var (
		scanID   string
		reportID string
		attempts int
		interval time.Duration
	)

	defaults := aisecurity.DefaultRetryBudget()

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Poll an asynchronous scan until it completes",
		Long: `Poll scan status until a record reports complete, then poll the report
until detection results appear. Each phase runs under the same retry
budget. Exhausting the budget is not an error: the scan is simply still
processing, and the command says so and exits cleanly.

Examples:
  panaisec wait --scan-id 123e4567-e89b-12d3-a456-426614174000
  panaisec wait --scan-id 123e... --report-id R123e... --attempts 5 --interval 2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if scanID == "" && reportID == "" {
				return fmt.Errorf("--scan-id or --report-id is required")
			}

			budget := aisecurity.RetryBudget{MaxAttempts: attempts, WaitInterval: interval}
			svc, cleanup, err := newScanService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			if scanID != "" {
				fmt.Fprintf(out, "Polling scan %s (up to %d queries, %v apart)\n", scanID, budget.MaxAttempts, budget.WaitInterval)
				query := 0
				results, completed, err := aisecurity.Poll(ctx, aisecurity.ScanHandle{ScanID: scanID},
					func(ctx context.Context, h aisecurity.ScanHandle) ([]aisecurity.ScanIDResult, error) {
						query++
						fmt.Fprintf(out, "   query %d/%d\n", query, budget.MaxAttempts)
						return svc.QueryByScanIDs(ctx, []string{h.ScanID})
					}, aisecurity.ScanComplete, budget)
				if err != nil {
					return fmt.Errorf("scan status poll failed: %w", err)
				}
				if completed {
					fmt.Fprintln(out, "✅ Scan complete")
				} else {
					fmt.Fprintln(out, "⏳ Scan status: Processing (budget exhausted)")
				}
				renderStatusTable(out, results)
			}

			if reportID != "" {
				fmt.Fprintf(out, "Polling report %s (up to %d queries, %v apart)\n", reportID, budget.MaxAttempts, budget.WaitInterval)
				query := 0
				reports, completed, err := aisecurity.Poll(ctx, aisecurity.ScanHandle{ReportID: reportID},
					func(ctx context.Context, h aisecurity.ScanHandle) ([]aisecurity.ThreatScanReportObject, error) {
						query++
						fmt.Fprintf(out, "   query %d/%d\n", query, budget.MaxAttempts)
						return svc.QueryByReportIDs(ctx, []string{h.ReportID})
					}, aisecurity.ReportHasResults, budget)
				if err != nil {
					return fmt.Errorf("report poll failed: %w", err)
				}
				if completed {
					fmt.Fprintln(out, "✅ Report results ready")
					for _, report := range reports {
						fmt.Fprintf(out, "Report %s (req %d)\n", report.ReportID, report.ReqID)
						renderReportTable(out, report.DetectionResults)
					}
				} else {
					fmt.Fprintln(out, "⏳ Report status: Submitted (no results yet)")
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&scanID, "scan-id", "", "Scan ID to poll for completion")
	cmd.Flags().StringVar(&reportID, "report-id", "", "Report ID to poll for detection results")
	cmd.Flags().IntVar(&attempts, "attempts", defaults.MaxAttempts, "Maximum queries per phase")
	cmd.Flags().DurationVar(&interval, "interval", defaults.WaitInterval, "Wait between queries")

	return cmd
}
