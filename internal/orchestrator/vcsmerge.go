package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"longagent/internal/logging"
	"longagent/internal/vcs"
)

// runVCSMerge implements H7 VCS-Merge (spec.md §4.6): commit outstanding
// work on the session branch, check out the base branch, and merge. A
// content conflict is given one self-heal attempt via the coding sub-agent
// before the merge is abandoned.
func (o *Orchestrator) runVCSMerge(ctx context.Context, sess *Session) error {
	if !sess.GitActive || o.vcsShim == nil {
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	o.vcsShim.CommitAll(ctx, fmt.Sprintf("longagent: finish %s", sess.SessionID))

	if err := o.vcsShim.CheckoutBranch(ctx, sess.GitBaseBranch); err != nil {
		sess.GateStatus.GitMerge = GateOutcome{Status: "fail", Reason: err.Error()}
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	err := o.vcsShim.MergeBranch(ctx, sess.GitBranch)
	if err == nil {
		o.vcsShim.DeleteBranch(ctx, sess.GitBranch)
		sess.GateStatus.GitMerge = GateOutcome{Status: "pass"}
		o.emit(sess.SessionID, "GIT_MERGED", map[string]interface{}{"branch": sess.GitBranch, "base": sess.GitBaseBranch})
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	if !vcs.IsConflictError(err) {
		sess.GateStatus.GitMerge = GateOutcome{Status: "fail", Reason: err.Error()}
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	resolved := o.attemptConflictResolution(ctx, sess)
	if resolved {
		o.vcsShim.DeleteBranch(ctx, sess.GitBranch)
		sess.GateStatus.GitMerge = GateOutcome{Status: "pass", ConflictsResolved: true}
		o.emit(sess.SessionID, "GIT_MERGED", map[string]interface{}{"branch": sess.GitBranch, "base": sess.GitBaseBranch, "conflictsResolved": true})
	} else {
		o.vcsShim.MergeAbort(ctx)
		sess.GateStatus.GitMerge = GateOutcome{Status: "fail", Reason: "merge conflict could not be resolved automatically"}
		logging.OrchestratorWarn("session %s: merge conflict on %s into %s left unresolved, merge aborted", sess.SessionID, sess.GitBranch, sess.GitBaseBranch)
	}

	sess.Phase = nextPhase(sess.Phase)
	return nil
}

// attemptConflictResolution gives the coding sub-agent one shot at
// resolving a failed merge's conflicted files (spec.md §4.6 "merge-conflict
// self-heal").
func (o *Orchestrator) attemptConflictResolution(ctx context.Context, sess *Session) bool {
	agent, ok := o.registry.Lookup("coding-agent")
	if !ok {
		return false
	}
	files, err := o.vcsShim.GetConflictFiles(ctx)
	if err != nil || len(files) == 0 {
		return false
	}

	prompt := fmt.Sprintf(
		"A git merge produced conflicts in the following files:\n%s\n\nResolve each conflict, "+
			"keeping both sides' intent where possible, and emit the resolved content as:\n"+
			"[SCAFFOLD_FILE: <path>]\n<content>\n[/SCAFFOLD_FILE]\n\nRemove all conflict markers.",
		strings.Join(files, "\n"))

	reply, usage, err := agent.Run(ctx, prompt)
	if err != nil {
		return false
	}
	sess.addUsageSafe(usage)

	resolvedAny := false
	for _, f := range ParseScaffoldFiles(reply) {
		if o.tools == nil {
			continue
		}
		result, err := o.tools.Invoke(ctx, "write", map[string]interface{}{"path": f.Path, "content": f.Content})
		if err != nil || !result.OK {
			continue
		}
		resolvedAny = true
	}
	if !resolvedAny {
		return false
	}

	for _, f := range files {
		o.vcsShim.CommitAll(ctx, fmt.Sprintf("longagent: resolve conflict in %s", f))
	}
	commit := o.vcsShim.CommitAll(ctx, fmt.Sprintf("longagent: merge %s into %s", sess.GitBranch, sess.GitBaseBranch))
	_ = commit
	return true
}
