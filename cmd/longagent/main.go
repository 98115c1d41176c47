// Package main implements the longagent CLI: a thin cobra wrapper that
// wires internal/orchestrator against the demo collaborators in
// internal/demo for manual exercise. It is demonstration plumbing, not
// part of the orchestrator core — the core treats LLM providers, tool
// execution, and session storage as external collaborators (spec.md §1);
// this binary only parses which demo to run, following the shape of the
// teacher's cmd/nerd/main.go (rootCmd, persistent flags, subcommands split
// across files) without inheriting any of its chat/TUI responsibilities.
//
// # File Index
//   - main.go      - entry point, rootCmd, global flags
//   - cmd_run.go   - run command, demo collaborator wiring
//   - cmd_resume.go - resume command
//   - cmd_status.go - status command
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"longagent/internal/logging"
)

var (
	workspace  string
	verbose    bool
	gitEnabled bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "longagent",
	Short: "Hybrid LongAgent orchestrator demo CLI",
	Long: `longagent drives the Hybrid Orchestrator's H0-H7 state machine against
an in-memory scripted sub-agent and a local-filesystem tool executor, for
manually exercising the orchestrator core without a real LLM provider wired
in.

Examples:
  longagent run --force "add a health check endpoint"
  longagent resume <sessionId>
  longagent status <sessionId>`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			os.Setenv("LONGAGENT_DEBUG_CATEGORIES", "*")
			logging.Initialize()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging for every category")
	rootCmd.PersistentFlags().BoolVar(&gitEnabled, "git", false, "Enable the H2.5/H7 VCS branch-and-merge lifecycle")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a longagent.yaml (default: <workspace>/.longagent/config.yaml)")

	rootCmd.AddCommand(runCmd, resumeCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return workspace, nil
	}
	return os.Getwd()
}

func defaultConfigPath(ws string) string {
	if configPath != "" {
		return configPath
	}
	return ws + "/.longagent/config.yaml"
}
