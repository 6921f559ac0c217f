// Package main implements the panaisec CLI for driving AI Runtime Security
// scans from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
	"github.com/cdot65/pan-ai-runtime-security/aisecurity/mock"
	"github.com/cdot65/pan-ai-runtime-security/secrets"
)

var version = "1.0.0"

// Persistent flags shared by every subcommand.
var (
	envFile     string
	endpoint    string
	profileID   string
	profileName string
	mockMode    bool
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "panaisec",
		Short: "AI Runtime Security scan CLI",
		Long: `panaisec drives the Palo Alto Networks AI Runtime Security scan service
from the command line: synchronous scans, asynchronous batches, result
polling, and a small HTTP facade over all of it.

Credentials come from the environment (PANW_AI_SEC_API_KEY, or a Secrets
Manager reference in PANW_AI_SEC_API_KEY_SECRET_ARN); --mock needs none.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := aisecurity.LoadDotEnv(envFile); err != nil {
					return fmt.Errorf("loading %s: %w", envFile, err)
				}
			}
			configureLogging()
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", "", "Load environment variables from this file first")
	flags.StringVar(&endpoint, "endpoint", "", "Scan service endpoint (overrides "+aisecurity.EnvAPIEndpoint+")")
	flags.StringVar(&profileID, "profile-id", "", "AI profile ID (overrides "+aisecurity.EnvProfileID+")")
	flags.StringVar(&profileName, "profile-name", "", "AI profile name (overrides "+aisecurity.EnvProfileName+")")
	flags.BoolVar(&mockMode, "mock", false, "Use the offline mock scan service")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(waitCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configureLogging sets the log level from LOG_LEVEL, with --verbose winning.
func configureLogging() {
	level := logrus.WarnLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
}

// scanService is the slice of the scan client the CLI drives. Both the live
// client and the offline mock satisfy it.
type scanService interface {
	SyncScan(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error)
	AsyncScan(ctx context.Context, objects []aisecurity.AsyncScanObject) (*aisecurity.AsyncScanResponse, error)
	QueryByScanIDs(ctx context.Context, scanIDs []string) ([]aisecurity.ScanIDResult, error)
	QueryByReportIDs(ctx context.Context, reportIDs []string) ([]aisecurity.ThreatScanReportObject, error)
}

// newScanService builds the scan client the command will use: the offline
// mock under --mock, otherwise the live client configured from flags and
// environment. The returned cleanup releases the client.
func newScanService(ctx context.Context) (scanService, func(), error) {
	if mockMode {
		c := mock.NewClient()
		return c, c.Close, nil
	}

	cfg, err := aisecurity.NewConfigFromEnv()
	if errors.Is(err, aisecurity.ErrMissingAPIKey) && os.Getenv(aisecurity.EnvAPIKeySecret) != "" {
		// The key lives in Secrets Manager, not the environment.
		store, storeErr := secrets.NewAWSStore(ctx, secrets.AWSStoreOptions{})
		if storeErr != nil {
			return nil, nil, storeErr
		}
		apiKey, keyErr := secrets.ResolveAPIKey(ctx, store)
		if keyErr != nil {
			return nil, nil, keyErr
		}
		cfg = aisecurity.Config{
			APIKey:   apiKey,
			Endpoint: os.Getenv(aisecurity.EnvAPIEndpoint),
		}
		err = nil
	}
	if err != nil {
		return nil, nil, err
	}

	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	cfg.UserAgent = "panaisec/" + version

	client, err := aisecurity.NewClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// loadProfile resolves the scan profile from flags, then the environment.
// Mock mode falls back to the mock's own profile name so offline runs need
// no configuration at all.
func loadProfile() (aisecurity.AIProfile, error) {
	profile := aisecurity.AIProfile{ProfileID: profileID, ProfileName: profileName}
	if !profile.IsZero() {
		return profile, nil
	}

	profile, err := aisecurity.LoadProfileFromEnv()
	if err == nil {
		return profile, nil
	}
	if mockMode {
		return aisecurity.AIProfile{ProfileName: mock.ProfileName}, nil
	}
	return aisecurity.AIProfile{}, err
}

// versionCmd returns the command printing the CLI version.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the panaisec version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "panaisec %s\n", version)
		},
	}
}
