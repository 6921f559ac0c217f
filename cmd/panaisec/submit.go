package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
)

// submitCmd returns the command for asynchronous batch submission.
func submitCmd() *cobra.Command {
	var prompts []string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a batch of prompts for asynchronous scanning",
		Long: `Submit up to 5 prompts as one asynchronous batch and print the returned
scan handle. Poll the handle with "panaisec status" and "panaisec report",
or block until results arrive with "panaisec wait".

Examples:
  panaisec submit --prompt "first question" --prompt "second question"
  panaisec submit --mock --prompt "bank account 8775664322"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(prompts) == 0 {
				return fmt.Errorf("at least one --prompt is required")
			}
			if len(prompts) > aisecurity.MaxAsyncScanObjects {
				return fmt.Errorf("%d prompts exceeds the batch limit of %d", len(prompts), aisecurity.MaxAsyncScanObjects)
			}

			profile, err := loadProfile()
			if err != nil {
				return err
			}
			svc, cleanup, err := newScanService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			objects := make([]aisecurity.AsyncScanObject, len(prompts))
			for i, p := range prompts {
				objects[i] = aisecurity.AsyncScanObject{
					ReqID: i + 1,
					ScanReq: aisecurity.ScanRequest{
						AIProfile: profile,
						Contents:  []aisecurity.ScanContent{{Prompt: p}},
					},
				}
			}

			handle, err := svc.AsyncScan(cmd.Context(), objects)
			if err != nil {
				return fmt.Errorf("submit failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ Batch of %d accepted\n", len(objects))
			fmt.Fprintf(out, "   Scan ID:   %s\n", handle.ScanID)
			fmt.Fprintf(out, "   Report ID: %s\n", handle.ReportID)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Check progress with:")
			fmt.Fprintf(out, "  panaisec status %s\n", handle.ScanID)
			fmt.Fprintf(out, "  panaisec wait --scan-id %s --report-id %s\n", handle.ScanID, handle.ReportID)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&prompts, "prompt", "p", nil, "Prompt to scan (repeat for a batch)")

	return cmd
}
