package orchestrator

import (
	"context"
	"fmt"
	"time"

	"longagent/internal/barrier"
	"longagent/internal/logging"
)

func isFailingStatus(s barrier.Status) bool {
	return s == barrier.StatusError || s == barrier.StatusSkipped
}

// runDebugging implements H5 Debugging (spec.md §4.6): a debugging sub-agent
// is given the session's failed/incomplete task output and iterates up to
// cfg.MaxDebugIterations times, either emitting the stage-complete marker
// (exit forward to H5.5), a return-to-coding marker (rollback into H4 for
// the named tasks), or running out of iterations (proceed regardless, with
// whatever progress exists).
func (o *Orchestrator) runDebugging(ctx context.Context, sess *Session) error {
	agent, ok := o.registry.Lookup("debugging-agent")
	if !ok {
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	failing := failingTasks(sess)
	if len(failing) == 0 {
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	stageNum, stageName := failingStageLocation(sess, failing)

	prompt := fmt.Sprintf(
		"The following tasks did not complete successfully:\n%s\n\nDiagnose and fix the "+
			"underlying issue. When the stage is fully fixed, reply with "+
			"[STAGE %d/%d: %s - COMPLETE]. If the fix requires redoing coding work, reply "+
			"with [RETURN TO STAGE %d] and list the tasks to redo as [FAILED_TASK: id] lines.",
		describeFailing(failing), stageNum, len(sess.Plan.Stages), stageName, stageNum)

	maxIterations := o.cfg.MaxDebugIterations
	if maxIterations < 1 {
		maxIterations = 1
	}

	phaseCtx := ctx
	if o.cfg.DebuggingPhaseTimeoutMs > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.DebuggingPhaseTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	for iter := 1; iter <= maxIterations; iter++ {
		reply, usage, err := agent.Run(phaseCtx, prompt)
		if err != nil {
			if phaseCtx.Err() == context.DeadlineExceeded {
				logging.OrchestratorWarn("session %s: debugging phase timeout exceeded, degrading", sess.SessionID)
				o.applyDegradationOrStop(sess)
				break
			}
			logging.Get(logging.CategoryOrchestrator).Warn("session %s: debugging-agent error: %v", sess.SessionID, err)
			break
		}
		sess.addUsageSafe(usage)

		semanticResult := sess.semantic.Track(reply)
		if semanticResult.IsRepeated {
			o.emit(sess.SessionID, "SEMANTIC_ERROR_REPEATED", map[string]interface{}{
				"errorClass": semanticResult.ErrorClass, "streak": semanticResult.Streak,
			})
		}

		if HasStageCompleteMarker(reply) {
			o.emit(sess.SessionID, "HYBRID_DEBUG_RESOLVED", map[string]interface{}{"iteration": iter})
			sess.Phase = nextPhase(sess.Phase)
			return nil
		}

		if _, rollback := ParseReturnToStage(reply); rollback {
			ids := ParseFailedTaskIDs(reply)
			sess.CodingRollbackCount++
			if sess.CodingRollbackCount > o.cfg.MaxCodingRollbacks {
				logging.OrchestratorWarn("session %s: coding rollback budget exhausted, proceeding with partial progress", sess.SessionID)
				break
			}
			resetTasksForRollback(sess, ids)
			targetIDs := ids
			if len(targetIDs) == 0 {
				targetIDs = failing
			}
			if idx, ok := stageIndexContaining(sess, targetIDs); ok {
				sess.StageIndex = idx
			}
			o.emit(sess.SessionID, "HYBRID_CODING_ROLLBACK", map[string]interface{}{"stageIndex": sess.StageIndex, "taskIds": ids})
			sess.Phase = PhaseCoding
			return nil
		}

		prompt = reply + "\n\nContinue debugging. Reply with the stage-complete marker once fixed."
	}

	logging.OrchestratorWarn("session %s: debugging iterations exhausted at stage %d", sess.SessionID, sess.StageIndex)
	sess.Phase = nextPhase(sess.Phase)
	return nil
}

// failingTasks returns every task across the whole plan whose progress is
// error or skipped (spec.md §4.6: H5 only runs when H4 left work
// unfinished). It scans the entire plan rather than sess.Plan.Stages
// [sess.StageIndex]: by the time the phase machine reaches H5, runCoding
// has already advanced StageIndex past every stage it attempted (including
// one it gave up on after exhausting recovery), so the failing stage is no
// longer "current" in the stage-index sense.
func failingTasks(sess *Session) []string {
	var ids []string
	for _, stage := range sess.Plan.Stages {
		for _, t := range stage.Tasks {
			p, ok := sess.TaskProgress[t.TaskID]
			if ok && isFailingStatus(p.Status) {
				ids = append(ids, t.TaskID)
			}
		}
	}
	return ids
}

// failingStageLocation returns the 1-based stage number and name of the
// stage containing the first entry of failing (for the debugging prompt's
// stage-complete/return-to-stage marker text). Falls back to the last
// stage in the plan if, somehow, none of failing's ids are found.
func failingStageLocation(sess *Session, failing []string) (int, string) {
	if idx, ok := stageIndexContaining(sess, failing); ok {
		return idx + 1, sess.Plan.Stages[idx].Name
	}
	if n := len(sess.Plan.Stages); n > 0 {
		return n, sess.Plan.Stages[n-1].Name
	}
	return 1, ""
}

// stageIndexContaining returns the 0-based index of the first stage owning
// any of ids, so a coding rollback can rewind sess.StageIndex to the stage
// that actually needs to be redone instead of leaving it past the end of
// the plan (where runCoding would treat the run as already finished).
func stageIndexContaining(sess *Session, ids []string) (int, bool) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	for i, stage := range sess.Plan.Stages {
		for _, t := range stage.Tasks {
			if want[t.TaskID] {
				return i, true
			}
		}
	}
	return 0, false
}

func describeFailing(ids []string) string {
	var out string
	for _, id := range ids {
		out += "- " + id + "\n"
	}
	return out
}

// resetTasksForRollback resets the named tasks (or, if ids is empty, every
// error task) back to retrying so the next H4 pass picks them back up.
// Tasks left as skipped — by resetRetryableTasks' permanent/unknown
// handling (coding.go) or by the reduce_scope degradation strategy — are
// deliberately not retry-eligible and must stay skipped.
func resetTasksForRollback(sess *Session, ids []string) {
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	for id, p := range sess.TaskProgress {
		if len(ids) > 0 && !set[id] {
			continue
		}
		if p.Status == barrier.StatusError {
			p.Status = barrier.StatusRetrying
			p.LastError = ""
		}
	}
}
