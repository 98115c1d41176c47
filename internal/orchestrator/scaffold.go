package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"longagent/internal/logging"
)

// runScaffold implements H3 Scaffold (spec.md §4.6): a scaffold sub-agent
// creates stub files — inline comments describing signature and intent,
// no implementation — for every plannedFiles entry across the frozen
// plan. Files actually created are merged into sess.FileChanges via the
// tool executor, the same collaborator the Stage Barrier uses for H4.
func (o *Orchestrator) runScaffold(ctx context.Context, sess *Session) error {
	agent, ok := o.registry.Lookup("scaffold-agent")
	if !ok || o.tools == nil {
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	var plannedFiles []string
	for _, stage := range sess.Plan.Stages {
		for _, task := range stage.Tasks {
			plannedFiles = append(plannedFiles, task.PlannedFiles...)
		}
	}
	if len(plannedFiles) == 0 {
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	prompt := fmt.Sprintf(
		"Create stub files for the following paths. Each stub must contain only "+
			"inline comments describing the intended signatures and behavior, no "+
			"implementation. Emit one block per file as:\n[SCAFFOLD_FILE: <path>]\n<content>\n[/SCAFFOLD_FILE]\n\nPaths:\n%s",
		strings.Join(plannedFiles, "\n"))

	reply, usage, err := agent.Run(ctx, prompt)
	if err != nil {
		return err
	}
	addUsage(&sess.Usage, usage)

	files := ParseScaffoldFiles(reply)
	for _, f := range files {
		result, err := o.tools.Invoke(ctx, "write", map[string]interface{}{"path": f.Path, "content": f.Content})
		if err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("session %s: scaffold write %s failed: %v", sess.SessionID, f.Path, err)
			continue
		}
		if !result.OK {
			logging.Get(logging.CategoryOrchestrator).Warn("session %s: scaffold write %s not ok: %s", sess.SessionID, f.Path, result.Output)
			continue
		}
		sess.FileChanges = append(sess.FileChanges, result.FileChanges...)
	}

	o.emit(sess.SessionID, "SCAFFOLD_COMPLETE", map[string]interface{}{"fileCount": len(files)})

	sess.Phase = nextPhase(sess.Phase)
	return nil
}
