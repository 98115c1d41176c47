package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"longagent/internal/config"
	"longagent/internal/contracts"
	"longagent/internal/failure"
	"longagent/internal/vcs"
)

// fileToolExecutor writes under root for real, so a conflict-resolution
// write lands in the working tree a git commit can pick up.
type fileToolExecutor struct {
	root string
}

func (f *fileToolExecutor) Invoke(ctx context.Context, toolName string, args map[string]interface{}) (contracts.ToolResult, error) {
	if toolName != "write" {
		return contracts.ToolResult{OK: false}, nil
	}
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if err := os.WriteFile(filepath.Join(f.root, path), []byte(content), 0o644); err != nil {
		return contracts.ToolResult{OK: false, Output: err.Error()}, nil
	}
	return contracts.ToolResult{OK: true, FileChanges: []contracts.FileChange{{Path: path, AddedLines: 1}}}, nil
}

type oneShotAgent struct {
	mu    sync.Mutex
	reply string
}

func (a *oneShotAgent) Run(ctx context.Context, prompt string) (string, contracts.Usage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reply, contracts.Usage{Input: 1, Output: 1}, nil
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

// setupConflictingRepo builds a repo with a "main" branch and a "feature"
// branch that both diverged from the same file, guaranteeing a merge
// conflict when feature is merged back into main.
func setupConflictingRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")
	runGit(t, dir, "checkout", "-b", "main")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("base\n"), 0o644))
	runGit(t, dir, "add", "file.txt")
	runGit(t, dir, "commit", "-m", "base")

	runGit(t, dir, "checkout", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("feature change\n"), 0o644))
	runGit(t, dir, "add", "file.txt")
	runGit(t, dir, "commit", "-m", "feature change")

	runGit(t, dir, "checkout", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("main change\n"), 0o644))
	runGit(t, dir, "add", "file.txt")
	runGit(t, dir, "commit", "-m", "main change")

	runGit(t, dir, "checkout", "feature")
	return dir
}

func TestRunVCSMerge_ConflictSelfHealResolves(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := setupConflictingRepo(t)

	registry := contracts.NewRegistry()
	registry.Register("coding-agent", &oneShotAgent{
		reply: "[SCAFFOLD_FILE: file.txt]\nresolved content\n[/SCAFFOLD_FILE]\n[TASK_COMPLETE]",
	})

	cfg := config.DefaultConfig()
	cfg.GitEnabled = true
	shim := vcs.New(dir)
	tools := &fileToolExecutor{root: dir}

	orch := New(cfg, registry, tools, nil, nil, nil, nil, shim, config.DefaultGatePreferences())

	sess := newSession("merge-test", "resolve a merge conflict", failure.NewChain("", "", false, 1))
	sess.GitActive = true
	sess.GitBranch = "feature"
	sess.GitBaseBranch = "main"

	err := orch.runVCSMerge(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, "pass", sess.GateStatus.GitMerge.Status)
	require.True(t, sess.GateStatus.GitMerge.ConflictsResolved)

	got, err := os.ReadFile(filepath.Join(dir, "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "resolved content\n", string(got))

	runGit(t, dir, "checkout", "main")
	branches, err := exec.Command("git", "-C", dir, "branch").CombinedOutput()
	require.NoError(t, err)
	require.NotContains(t, string(branches), "feature")
}

func TestRunVCSMerge_CleanMergeNeedsNoResolution(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")
	runGit(t, dir, "checkout", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("base\n"), 0o644))
	runGit(t, dir, "add", "file.txt")
	runGit(t, dir, "commit", "-m", "base")

	runGit(t, dir, "checkout", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("new\n"), 0o644))
	runGit(t, dir, "add", "other.txt")
	runGit(t, dir, "commit", "-m", "add other file")

	registry := contracts.NewRegistry()
	cfg := config.DefaultConfig()
	cfg.GitEnabled = true
	shim := vcs.New(dir)
	tools := &fileToolExecutor{root: dir}
	orch := New(cfg, registry, tools, nil, nil, nil, nil, shim, config.DefaultGatePreferences())

	sess := newSession("merge-test-2", "merge a clean branch", failure.NewChain("", "", false, 1))
	sess.GitActive = true
	sess.GitBranch = "feature"
	sess.GitBaseBranch = "main"

	err := orch.runVCSMerge(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, "pass", sess.GateStatus.GitMerge.Status)
	require.False(t, sess.GateStatus.GitMerge.ConflictsResolved)
}
