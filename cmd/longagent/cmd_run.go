package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"longagent/internal/checkpoint"
	"longagent/internal/classifier"
	"longagent/internal/config"
	"longagent/internal/contracts"
	"longagent/internal/demo"
	"longagent/internal/orchestrator"
	"longagent/internal/vcs"
)

var forceLongagent bool

var runCmd = &cobra.Command{
	Use:   "run [objective]",
	Short: "Start a new Hybrid Orchestrator run for objective",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().BoolVar(&forceLongagent, "force", false, "Run even if the objective classifier doesn't recommend longagent mode")
}

func runRun(cmd *cobra.Command, args []string) error {
	objective := joinArgs(args)

	result := classifier.Classify(objective)
	fmt.Fprintf(os.Stdout, "classifier: mode=%s confidence=%s reason=%q\n", result.Mode, result.Confidence, result.Reason)
	if result.Mode != classifier.ModeLongAgent && !forceLongagent {
		return fmt.Errorf("objective classified as %q, not %q; pass --force to run the Hybrid Orchestrator anyway", result.Mode, classifier.ModeLongAgent)
	}

	orch, ws, err := buildOrchestrator()
	if err != nil {
		return err
	}

	res, err := orch.Run(context.Background(), "", objective)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	fmt.Fprintf(os.Stdout, "workspace: %s\n", ws)
	return printResult(res)
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func printResult(res orchestrator.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

// buildOrchestrator wires an *orchestrator.Orchestrator against the demo
// collaborators: a scripted sub-agent per role, a local-filesystem tool
// executor, a shell-backed gate runner using the workspace's detected
// project commands, an in-memory session store, and a console event sink.
func buildOrchestrator() (*orchestrator.Orchestrator, string, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, "", fmt.Errorf("resolve workspace: %w", err)
	}

	cfg, err := config.Load(defaultConfigPath(ws))
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	cfg.GitEnabled = gitEnabled

	registry := contracts.NewRegistry()
	for name, script := range demoScripts() {
		registry.Register(name, demo.NewStubAgent(name, script, func(name string, call int, prompt string) {
			if verbose {
				fmt.Fprintf(os.Stderr, "[%s call %d] %s\n", name, call, prompt)
			}
		}))
	}

	tools := demo.NewFileToolExecutor(ws)
	sessions := demo.NewMemorySessionStore()
	events := demo.ConsolePrinter{Write: func(line string) { fmt.Fprintln(os.Stdout, line) }}

	projectCmds := config.DetectProjectCommands(ws)
	gates := demo.NewShellGateRunner(ws, map[string]string{
		"build": projectCmds.Build,
		"test":  projectCmds.Test,
		"lint":  cfg.LintAutoFixCommand,
	})

	checkpoints := checkpoint.New(filepath.Join(ws, ".longagent", "checkpoints"))
	vcsShim := vcs.New(ws)
	gatePrefs := config.LoadGatePreferences(filepath.Join(ws, ".longagent", "gate_preferences.json"))

	orch := orchestrator.New(cfg, registry, tools, sessions, events, gates, checkpoints, vcsShim, gatePrefs)
	return orch, ws, nil
}

// demoScripts returns one canned reply sequence per sub-agent role,
// sufficient to drive a single-stage happy path end to end: the blueprint
// agent emits a one-stage plan, the scaffold/coding agents emit the
// SCAFFOLD_FILE protocol, and the debugging/preview/intake agents each
// report enough information to let the corresponding phase conclude
// immediately.
func demoScripts() map[string][]string {
	return map[string][]string{
		"intake-agent": {
			`{"enough": true, "summary": "objective understood"}`,
		},
		"preview-agent": {
			"No existing relevant code found; this is a fresh addition.",
		},
		"blueprint-agent": {
			"Plan:\n[STAGE_PLAN]\n" + demoStagePlanJSON() + "\n[/STAGE_PLAN]",
		},
		"scaffold-agent": {
			"[SCAFFOLD_FILE: demo_output.txt]\n// stub\n[/SCAFFOLD_FILE]",
		},
		"coding-agent": {
			"[SCAFFOLD_FILE: demo_output.txt]\nhello from longagent\n[/SCAFFOLD_FILE]\n[TASK_COMPLETE]",
		},
		"debugging-agent": {
			"[STAGE 1/1: demo - COMPLETE]",
		},
		"compression-agent": {
			"Prior context compressed: no decisions, files, or errors recorded yet.",
		},
	}
}

func demoStagePlanJSON() string {
	return `{
  "objective": "demo",
  "stages": [
    {
      "stageId": "stage-1",
      "name": "demo",
      "tasks": [
        {
          "taskId": "task-1",
          "prompt": "Write hello from longagent to demo_output.txt.",
          "plannedFiles": ["demo_output.txt"],
          "complexity": "low",
          "timeoutMs": 60000,
          "maxRetries": 1
        }
      ]
    }
  ]
}`
}
