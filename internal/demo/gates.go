package demo

import (
	"context"
	"strings"

	"longagent/internal/contracts"
)

// ShellGateRunner is a contracts.GateRunner that runs one shell command per
// enabled gate name and reports failure when the command exits non-zero,
// mirroring internal/vcs.Shim's os/exec usage rather than shelling out
// through a test framework's own runner abstraction.
type ShellGateRunner struct {
	Dir      string
	Commands map[string]string // gate name -> shell command
}

// NewShellGateRunner returns a runner rooted at dir with the given gate ->
// command table (e.g. {"build": "go build ./...", "test": "go test ./...",
// "lint": "gofmt -l ."}).
func NewShellGateRunner(dir string, commands map[string]string) *ShellGateRunner {
	return &ShellGateRunner{Dir: dir, Commands: commands}
}

func (g *ShellGateRunner) RunUsabilityGates(ctx context.Context, in contracts.GateRunnerInput) (contracts.GateRunnerResult, error) {
	result := contracts.GateRunnerResult{AllPassed: true}
	for gate, enabled := range in.GatesConfig {
		if !enabled {
			continue
		}
		command, ok := g.Commands[gate]
		if !ok || strings.TrimSpace(command) == "" {
			continue
		}
		out, err := runShell(ctx, g.Dir, command)
		if err != nil {
			result.AllPassed = false
			result.Failures = append(result.Failures, contracts.GateFailure{Gate: gate, Reason: err.Error(), Output: out})
		}
	}
	return result, nil
}
