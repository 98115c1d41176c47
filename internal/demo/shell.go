package demo

import (
	"context"
	"os/exec"
)

// runShell runs command through "sh -c" with dir as its working directory,
// the same os/exec.CommandContext + CombinedOutput shape internal/vcs.Shim
// uses for git subcommands.
func runShell(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
