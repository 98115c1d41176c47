package orchestrator

import (
	"context"
	"fmt"

	"longagent/internal/contracts"
	"longagent/internal/logging"
)

// runCompletionValidation implements H5.5 Completion-Validation (spec.md
// §4.6, optional): an external validator checks syntax/build/test status;
// on BLOCK the coding sub-agent gets one shot at the failure report before
// the orchestrator moves on regardless.
func (o *Orchestrator) runCompletionValidation(ctx context.Context, sess *Session) error {
	if o.gates == nil {
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	result, err := o.gates.RunUsabilityGates(ctx, contracts.GateRunnerInput{
		Objective:   sess.Objective,
		FileChanges: sess.FileChanges,
		GatesConfig: map[string]bool{"syntax": true, "build": true, "test": true},
	})
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("session %s: completion validator error: %v", sess.SessionID, err)
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}
	if result.Usage != nil {
		sess.addUsageSafe(*result.Usage)
	}

	if result.AllPassed {
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	o.emit(sess.SessionID, "HYBRID_COMPLETION_BLOCKED", map[string]interface{}{"failures": summarizeFailures(result.Failures)})
	o.runFixAgent(ctx, sess, "coding-agent", fmt.Sprintf(
		"Completion validation reported the following before this work can be considered done:\n%s\n\nFix these issues.",
		summarizeFailures(result.Failures)))

	sess.Phase = nextPhase(sess.Phase)
	return nil
}
