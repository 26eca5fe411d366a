package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when --config is not given and AGENT_CONFIG is
// unset.
const defaultConfigPath = "agent.yaml"

// buildServeCmd creates the "serve" command that registers this agent
// against the orchestrator and runs its runtime loop.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		agentID    string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a worker agent process",
		Long: `Start a worker agent process.

The process will:
1. Load and validate configuration
2. Connect the messaging fabric and context engine
3. Register against the orchestrator's agent registry (retrying until
   startup_timeout elapses)
4. Run the agent runtime loop against its own mailbox

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with a generated agent_id
  agent serve --config agent.yaml

  # Start with a fixed agent_id (useful for hotpath agents)
  agent serve --config agent.yaml --agent-id agent-0a1b2c3d`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, agentID, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Fixed agent_id (default: generated agent-<8 hex>)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}

// resolveConfigPath falls back to AGENT_CONFIG, then defaultConfigPath in
// the working directory, when path is empty.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("AGENT_CONFIG"); env != "" {
		return env
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, defaultConfigPath)
	}
	return defaultConfigPath
}
