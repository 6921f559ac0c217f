package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
)

// scanCmd returns the command for synchronous scans.
func scanCmd() *cobra.Command {
	var (
		prompt   string
		response string
		trID     string
		appName  string
		appUser  string
		aiModel  string
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a prompt/response pair synchronously",
		Long: `Submit content for synchronous evaluation and print the verdict.

The exit code is 0 when the content is allowed and 2 when it is blocked,
so shell pipelines can gate on the verdict directly.

Examples:
  panaisec scan --prompt "tell me a joke"
  panaisec scan --mock --prompt "bank account 8775664322" --json
  panaisec scan --prompt "summarize this" --response "..." --app-name chatbot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" && response == "" {
				return fmt.Errorf("--prompt or --response is required")
			}

			profile, err := loadProfile()
			if err != nil {
				return err
			}
			svc, cleanup, err := newScanService(cmd.Context())
			if err != nil {
				return err
			}

			req := aisecurity.ScanRequest{
				TrID:      trID,
				AIProfile: profile,
				Contents:  []aisecurity.ScanContent{{Prompt: prompt, Response: response}},
			}
			if appName != "" || appUser != "" || aiModel != "" {
				req.Metadata = &aisecurity.Metadata{AppName: appName, AppUser: appUser, AIModel: aiModel}
			}

			verdict, scanErr := svc.SyncScan(cmd.Context(), req)
			cleanup()
			if scanErr != nil {
				return fmt.Errorf("scan failed: %w", scanErr)
			}

			if jsonOut {
				data, err := json.MarshalIndent(verdict, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			} else {
				printVerdict(cmd.OutOrStdout(), verdict)
			}

			if verdict.IsBlocked() {
				os.Exit(2)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt text to scan")
	cmd.Flags().StringVarP(&response, "response", "r", "", "Model response text to scan")
	cmd.Flags().StringVar(&trID, "tr-id", "", "Transaction ID to stamp on the request")
	cmd.Flags().StringVar(&appName, "app-name", "", "Calling application name (metadata)")
	cmd.Flags().StringVar(&appUser, "app-user", "", "Calling application user (metadata)")
	cmd.Flags().StringVar(&aiModel, "ai-model", "", "Model the content is bound for (metadata)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw verdict JSON")

	return cmd
}

// printVerdict renders a verdict with a colored action line and a detection
// summary.
func printVerdict(w io.Writer, verdict *aisecurity.ScanResponse) {
	if verdict.IsBlocked() {
		header := color.New(color.FgRed, color.Bold).Sprint("🚫 BLOCK")
		fmt.Fprintf(w, "%s  category=%s\n", header, verdict.Category)
	} else {
		header := color.New(color.FgGreen, color.Bold).Sprint("✅ ALLOW")
		fmt.Fprintf(w, "%s  category=%s\n", header, verdict.Category)
	}
	fmt.Fprintf(w, "   Scan ID:    %s\n", verdict.ScanID)
	fmt.Fprintf(w, "   Report ID:  %s\n", verdict.ReportID)
	fmt.Fprintf(w, "   Detections: %s\n", detectionSummary(verdict))
}

// detectionSummary names the detection services that fired, or "none".
func detectionSummary(verdict *aisecurity.ScanResponse) string {
	var fired []string
	if d := verdict.PromptDetected; d != nil {
		if d.URLCats {
			fired = append(fired, "prompt:url_cats")
		}
		if d.DLP {
			fired = append(fired, "prompt:dlp")
		}
		if d.Injection {
			fired = append(fired, "prompt:injection")
		}
	}
	if d := verdict.ResponseDetected; d != nil {
		if d.URLCats {
			fired = append(fired, "response:url_cats")
		}
		if d.DLP {
			fired = append(fired, "response:dlp")
		}
	}
	if len(fired) == 0 {
		return "none"
	}
	return strings.Join(fired, ", ")
}
