package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when --config is not given and ORCHESTRATOR_CONFIG
// is unset.
const defaultConfigPath = "orchestrator.yaml"

// buildServeCmd creates the "serve" command that starts the orchestrator
// process: registry REST surface, sweeper, and the orchestrator runtime loop.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator process",
		Long: `Start the orchestrator process.

The process will:
1. Load and validate configuration
2. Open the agent registry store and start its sweeper
3. Serve the registry REST surface over HTTP
4. Connect the messaging fabric and context engine
5. Run the orchestrator runtime loop against its mailbox

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  orchestrator serve

  # Start with a custom config
  orchestrator serve --config /etc/prp/orchestrator.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}

// resolveConfigPath falls back to ORCHESTRATOR_CONFIG, then defaultConfigPath
// in the working directory, when path is empty.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("ORCHESTRATOR_CONFIG"); env != "" {
		return env
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, defaultConfigPath)
	}
	return defaultConfigPath
}
