package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cdot65/pan-ai-runtime-security/server"
)

// serveCmd returns the command running the HTTP facade.
func serveCmd() *cobra.Command {
	var (
		configPath    string
		exampleConfig bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan HTTP service",
		Long: `Run the HTTP facade over the scan client: sync and async scan endpoints,
poller-backed waiting, scan history, health, and Prometheus metrics.

Configuration comes from a YAML file plus PANW_AISEC_SERVER_* environment
overrides; --example-config prints a starting point.

Examples:
  panaisec serve --config server.yaml
  panaisec serve --example-config > server.yaml
  PANW_AISEC_SERVER_MOCK=true panaisec serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if exampleConfig {
				fmt.Fprint(cmd.OutOrStdout(), server.ExampleConfig())
				return nil
			}

			cfg, err := server.Load(configPath)
			if err != nil {
				return err
			}

			log := logrus.StandardLogger()
			if !verbose {
				if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
					log.SetLevel(level)
				}
			}

			srv, err := server.NewFromConfig(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Server config file (YAML)")
	cmd.Flags().BoolVar(&exampleConfig, "example-config", false, "Print an example config file and exit")

	return cmd
}
