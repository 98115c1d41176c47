package orchestrator

import (
	"fmt"

	"longagent/internal/barrier"
	"longagent/internal/failure"
)

// RecoverySuggestions is the user-visible failure report spec.md §7
// requires on non-completion. The advice table itself (one line of
// guidance per failure category) is this implementation's own content —
// spec.md names the fields but not the copy (SPEC_FULL.md §4 "Recovery
// suggestions detail").
type RecoverySuggestions struct {
	Phase          Phase          `json:"phase"`
	CompletedTasks []string       `json:"completedTasks"`
	FailedTasks    []FailedTask   `json:"failedTasks"`
	ManualSteps    []string       `json:"manualSteps"`
	ResumeHint     string         `json:"resumeHint"`
	Summary        string         `json:"summary"`
}

// FailedTask is one entry of RecoverySuggestions.FailedTasks.
type FailedTask struct {
	TaskID   string        `json:"taskId"`
	Category failure.Class `json:"category"`
	Advice   string         `json:"advice"`
}

var categoryAdvice = map[failure.Class]string{
	failure.ClassTransient: "the environment was likely unreachable or overloaded; re-run the turn, the same task should now succeed",
	failure.ClassPermanent: "a required file, permission, or module is missing; fix the underlying environment before resuming",
	failure.ClassLogic:     "the generated code itself was wrong; review the task's plannedFiles and consider narrowing its prompt",
	failure.ClassUnknown:   "the failure didn't match a known pattern; inspect lastError on the task and retry manually",
}

// buildRecoverySuggestions assembles spec.md §7's recoverySuggestions
// structure from the session's current task-progress map.
func buildRecoverySuggestions(s *Session) *RecoverySuggestions {
	rs := &RecoverySuggestions{Phase: s.Phase}

	for taskID, p := range s.TaskProgress {
		switch p.Status {
		case barrier.StatusCompleted:
			rs.CompletedTasks = append(rs.CompletedTasks, taskID)
		case barrier.StatusError:
			category := failure.ClassifyError(p.LastError, "")
			rs.FailedTasks = append(rs.FailedTasks, FailedTask{
				TaskID:   taskID,
				Category: category,
				Advice:   categoryAdvice[category],
			})
		}
	}

	for _, gate := range gateFailureSteps(s.GateStatus) {
		rs.ManualSteps = append(rs.ManualSteps, gate)
	}

	rs.ResumeHint = fmt.Sprintf("resume session %s; it will restart from phase %s, stage %d", s.SessionID, s.Phase, s.StageIndex)
	rs.Summary = fmt.Sprintf("%d task(s) completed, %d failed at phase %s", len(rs.CompletedTasks), len(rs.FailedTasks), s.Phase)
	return rs
}

// gateFailureSteps turns any non-passing recorded gate into a manual-step
// suggestion.
func gateFailureSteps(gs GateStatus) []string {
	var steps []string
	for name, outcome := range gs.PerGate {
		if outcome.Status != "pass" && outcome.Status != "disabled" && outcome.Status != "not_applicable" {
			steps = append(steps, fmt.Sprintf("gate %q did not pass (%s): %s", name, outcome.Status, outcome.Reason))
		}
	}
	if gs.UsabilityGates.Status == "fail" {
		steps = append(steps, "usability gates failed: "+gs.UsabilityGates.Reason)
	}
	if gs.GitMerge.Status == "fail" {
		steps = append(steps, "git merge left unresolved conflicts; resolve manually and re-merge")
	}
	return steps
}
