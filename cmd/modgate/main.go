package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ibero-data/modgate/internal/api"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// cliOptions holds the global flags.
type cliOptions struct {
	configPath string
	dataDir    string
	listenAddr string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "modgate",
		Short: "modgate - license and module access control",
		Long: `modgate gates an administrative application behind a time-limited
license and per-module feature flags.

It provides:
  - A license with expiry, kill switch and a grace period
  - Per-module enable/disable with access guards
  - An admin API with an audit trail

Get started:
  modgate init     # Interactive setup wizard
  modgate serve    # Start the server`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: run serve command
			return runServe(cmd, opts)
		},
	}

	// Global flags available to all commands
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML config file (default $MODGATE_CONFIG or config.yaml)")
	root.PersistentFlags().StringVarP(&opts.dataDir, "data", "d", "./data", "Data directory for the database and GeoIP files")
	root.PersistentFlags().StringVarP(&opts.listenAddr, "listen", "l", ":3456", "Address to listen on")

	root.AddCommand(
		newServeCmd(opts),
		newInitCmd(opts),
		newVersionCmd(),
		newLicenseCmd(opts),
		newModulesCmd(opts),
		newUserCmd(opts),
		newGeoIPCmd(opts),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modgate %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}

func main() {
	// Set version in API package for /api/version endpoint
	api.Version = Version

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
