package demo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"longagent/internal/contracts"
)

// FileToolExecutor is a contracts.ToolExecutor scoped to one base
// directory, supporting the "write" and "exec" tool names the orchestrator
// calls (scaffold stubs, coding-agent edits, lint auto-fix commands).
// Paths are resolved relative to Dir and rejected if they would escape it.
type FileToolExecutor struct {
	Dir string
}

// NewFileToolExecutor returns an executor rooted at dir.
func NewFileToolExecutor(dir string) *FileToolExecutor {
	return &FileToolExecutor{Dir: dir}
}

func (f *FileToolExecutor) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.Join(f.Dir, path))
	rel, err := filepath.Rel(f.Dir, clean)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes workspace %q", path, f.Dir)
	}
	return clean, nil
}

func (f *FileToolExecutor) Invoke(ctx context.Context, toolName string, args map[string]interface{}) (contracts.ToolResult, error) {
	switch toolName {
	case "write":
		return f.write(args)
	case "exec":
		return f.exec(ctx, args)
	default:
		return contracts.ToolResult{OK: false, Output: "unknown tool: " + toolName}, nil
	}
}

func (f *FileToolExecutor) write(args map[string]interface{}) (contracts.ToolResult, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return contracts.ToolResult{OK: false, Output: "write: missing path"}, nil
	}

	full, err := f.resolve(path)
	if err != nil {
		return contracts.ToolResult{OK: false, Output: err.Error()}, nil
	}

	existing, readErr := os.ReadFile(full)
	added, removed := lineDelta(string(existing), content)

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return contracts.ToolResult{}, fmt.Errorf("mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return contracts.ToolResult{}, fmt.Errorf("write %s: %w", path, err)
	}
	if readErr != nil && !os.IsNotExist(readErr) {
		return contracts.ToolResult{}, fmt.Errorf("read existing %s: %w", path, readErr)
	}

	return contracts.ToolResult{
		OK:          true,
		Output:      "wrote " + path,
		FileChanges: []contracts.FileChange{{Path: path, AddedLines: added, RemovedLines: removed}},
	}, nil
}

func (f *FileToolExecutor) exec(ctx context.Context, args map[string]interface{}) (contracts.ToolResult, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return contracts.ToolResult{OK: false, Output: "exec: missing command"}, nil
	}
	out, err := runShell(ctx, f.Dir, command)
	if err != nil {
		return contracts.ToolResult{OK: false, Output: out}, nil
	}
	return contracts.ToolResult{OK: true, Output: out}, nil
}

// lineDelta is a coarse line-count delta, not a real diff: good enough for
// the FileChange.addedLines/removedLines bookkeeping this demo executor
// needs to satisfy, without pulling in a diff library the teacher never
// uses for this purpose.
func lineDelta(before, after string) (added, removed int) {
	beforeLines := splitNonEmpty(before)
	afterLines := splitNonEmpty(after)
	if len(afterLines) > len(beforeLines) {
		added = len(afterLines) - len(beforeLines)
	} else {
		removed = len(beforeLines) - len(afterLines)
	}
	return added, removed
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
