package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
)

// statusCmd returns the command querying scan status by scan ID.
func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <scan-id> [scan-id ...]",
		Short: "Query processing status by scan ID",
		Long: `Look up the processing status of up to 5 scans. Completed records carry
the verdict; records still processing show a pending status.

Examples:
  panaisec status 123e4567-e89b-12d3-a456-426614174000`,
		Args: cobra.RangeArgs(1, aisecurity.MaxScanIDsPerQuery),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := newScanService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := svc.QueryByScanIDs(cmd.Context(), args)
			if err != nil {
				return fmt.Errorf("status query failed: %w", err)
			}

			renderStatusTable(cmd.OutOrStdout(), results)
			return nil
		},
	}

	return cmd
}

// reportCmd returns the command querying detection results by report ID.
func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <report-id> [report-id ...]",
		Short: "Query detection results by report ID",
		Long: `Look up per-service detection results for up to 5 reports. Reports
still processing come back without results.

Examples:
  panaisec report R123e4567-e89b-12d3-a456-426614174000`,
		Args: cobra.RangeArgs(1, aisecurity.MaxReportIDsPerQuery),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := newScanService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			reports, err := svc.QueryByReportIDs(cmd.Context(), args)
			if err != nil {
				return fmt.Errorf("report query failed: %w", err)
			}

			out := cmd.OutOrStdout()
			for i, report := range reports {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "Report %s (req %d, scan %s)\n", report.ReportID, report.ReqID, report.ScanID)
				if !report.HasResults() {
					fmt.Fprintln(out, "   No detection results yet.")
					continue
				}
				renderReportTable(out, report.DetectionResults)
			}
			return nil
		},
	}

	return cmd
}

func renderStatusTable(w io.Writer, results []aisecurity.ScanIDResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"SCAN ID", "STATUS", "CATEGORY", "ACTION"})
	table.SetAutoWrapText(false)
	table.SetRowLine(true)
	for _, res := range results {
		status := res.Status
		if status == "" {
			status = "unknown"
		}
		category, action := "-", "-"
		if res.Result != nil {
			category, action = res.Result.Category, res.Result.Action
		}
		table.Append([]string{res.ScanID, status, category, action})
	}
	table.Render()
}

func renderReportTable(w io.Writer, results []aisecurity.DetectionServiceResultObject) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"DATA TYPE", "SERVICE", "VERDICT", "ACTION"})
	table.SetAutoWrapText(false)
	table.SetRowLine(true)
	for _, res := range results {
		table.Append([]string{res.DataType, res.DetectionService, res.Verdict, res.Action})
	}
	table.Render()
}
