// Package main is the CLI entry point for the Perpetual Refinement Protocol
// orchestrator process.
//
// The orchestrator hosts the agent registry's REST surface, runs the
// registry sweeper, and drives the "orchestrator" runtime profile: it reads
// its own mailbox, assigns work to agents, and relays PRP ledger/supervisor
// traffic back to chat owners (spec §4.7, §4.2).
//
// # Basic Usage
//
//	orchestrator serve --config orchestrator.yaml
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
		Use:          "orchestrator",
		Short:        "PRP orchestrator process",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}
