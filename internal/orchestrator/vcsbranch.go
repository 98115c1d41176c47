package orchestrator

import (
	"context"
	"fmt"

	"longagent/internal/logging"
)

// runVCSBranch implements H2.5 VCS-Branch (spec.md §4.6): optional branch
// creation for the session's work, always restoring any stash on exit,
// regardless of which path out of this phase is taken.
func (o *Orchestrator) runVCSBranch(ctx context.Context, sess *Session) error {
	if !sess.GitEnabled || o.vcsShim == nil {
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}
	if !o.vcsShim.IsGitRepo(ctx) {
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	base, err := o.vcsShim.CurrentBranch(ctx)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("session %s: could not read current branch: %v", sess.SessionID, err)
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	clean, err := o.vcsShim.IsClean(ctx)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("session %s: could not check working tree: %v", sess.SessionID, err)
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	stashed := false
	if !clean {
		res := o.vcsShim.Stash(ctx, "longagent:"+sess.SessionID)
		if res.OK {
			stashed = true
		}
	}

	restoreStash := func() {
		if stashed {
			o.vcsShim.StashPop(ctx)
		}
	}

	branchName := fmt.Sprintf("longagent/%s", sess.SessionID)
	res := o.vcsShim.CreateBranch(ctx, branchName)
	if !res.OK {
		restoreStash()
		sess.GateStatus.GitBranch = GateOutcome{Status: "fail", Reason: res.Message}
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	sess.GitActive = true
	sess.GitBranch = branchName
	sess.GitBaseBranch = base
	sess.GateStatus.GitBranch = GateOutcome{Status: "pass"}
	o.emit(sess.SessionID, "GIT_BRANCH_CREATED", map[string]interface{}{"branch": branchName, "base": base})

	restoreStash()

	sess.Phase = nextPhase(sess.Phase)
	return nil
}
