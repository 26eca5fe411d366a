// Package main is the CLI entry point for a Perpetual Refinement Protocol
// worker agent process.
//
// An agent process registers against the orchestrator's registry, then
// drives the "agent" runtime profile: it reads its own mailbox, executes
// workspace and ledger tool calls, and routes replies back to its sender
// (escalating to the human recipient only when the autonomous routing
// policy calls for it) (spec §4.7, §6).
//
// # Basic Usage
//
//	agent serve --config agent.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agent",
		Short:        "PRP worker agent process",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}
