package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"longagent/internal/contracts"
	"longagent/internal/logging"
)

// gatesConfigFromPrefs turns the persisted gate-preferences toggle set into
// the GatesConfig map contracts.GateRunner expects (spec.md §6).
func (o *Orchestrator) gatesConfigFromPrefs() map[string]bool {
	return map[string]bool{
		"build":  o.gatePrefs.Build,
		"test":   o.gatePrefs.Test,
		"review": o.gatePrefs.Review,
		"health": o.gatePrefs.Health,
		"budget": o.gatePrefs.Budget,
	}
}

// runGates implements H6 Gates (spec.md §4.6): run every enabled usability
// gate, and on failure select a fix strategy by which gate category failed,
// retrying up to cfg.MaxGateAttempts times before giving up with the
// failures recorded.
func (o *Orchestrator) runGates(ctx context.Context, sess *Session) error {
	if o.gates == nil {
		sess.GateStatus.UsabilityGates = GateOutcome{Status: "not_applicable"}
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	gatesConfig := o.gatesConfigFromPrefs()
	maxAttempts := o.cfg.MaxGateAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := o.gates.RunUsabilityGates(ctx, contracts.GateRunnerInput{
			Objective:   sess.Objective,
			FileChanges: sess.FileChanges,
			GatesConfig: gatesConfig,
		})
		if err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("session %s: gate runner error: %v", sess.SessionID, err)
			sess.GateStatus.UsabilityGates = GateOutcome{Status: "fail", Reason: err.Error(), Attempt: attempt}
			break
		}
		if result.Usage != nil {
			sess.addUsageSafe(*result.Usage)
		}

		o.recordPerGate(sess, result, attempt)

		if result.AllPassed {
			sess.GateStatus.UsabilityGates = GateOutcome{Status: "pass", Attempt: attempt}
			o.emit(sess.SessionID, "HYBRID_GATES_PASSED", map[string]interface{}{"attempt": attempt})
			sess.Phase = nextPhase(sess.Phase)
			return nil
		}

		sess.GateStatus.UsabilityGates = GateOutcome{Status: "fail", Reason: summarizeFailures(result.Failures), Attempt: attempt}
		o.emit(sess.SessionID, "HYBRID_GATES_FAILED", map[string]interface{}{"attempt": attempt, "failures": summarizeFailures(result.Failures)})

		if attempt == maxAttempts {
			break
		}
		o.attemptGateFix(ctx, sess, result.Failures)
	}

	sess.Phase = nextPhase(sess.Phase)
	return nil
}

func (o *Orchestrator) recordPerGate(sess *Session, result contracts.GateRunnerResult, attempt int) {
	if sess.GateStatus.PerGate == nil {
		sess.GateStatus.PerGate = map[string]GateOutcome{}
	}
	failedGates := map[string]string{}
	for _, f := range result.Failures {
		failedGates[f.Gate] = f.Reason
	}
	enabled := o.gatesConfigFromPrefs()
	for gate, on := range enabled {
		if !on {
			continue
		}
		if reason, failed := failedGates[gate]; failed {
			sess.GateStatus.PerGate[gate] = GateOutcome{Status: "fail", Reason: reason, Attempt: attempt}
		} else {
			sess.GateStatus.PerGate[gate] = GateOutcome{Status: "pass", Attempt: attempt}
		}
	}
}

func summarizeFailures(failures []contracts.GateFailure) string {
	var parts []string
	for _, f := range failures {
		parts = append(parts, f.Gate+": "+f.Reason)
	}
	return strings.Join(parts, "; ")
}

// attemptGateFix selects a fix strategy by which gate category failed
// (spec.md §4.6 H6: test failures go to the debugging-agent, build-only
// failures and lint-only failures each get a targeted coding-agent prompt,
// a configured lint auto-fix command runs first when available).
func (o *Orchestrator) attemptGateFix(ctx context.Context, sess *Session, failures []contracts.GateFailure) {
	kinds := map[string]bool{}
	for _, f := range failures {
		kinds[f.Gate] = true
	}

	switch {
	case kinds["test"]:
		o.runFixAgent(ctx, sess, "debugging-agent", fmt.Sprintf(
			"The test gate failed:\n%s\n\nAnalyze the test failures and fix them.", summarizeFailures(failures)))

	case kinds["lint"] && len(kinds) == 1:
		if o.cfg.LintAutoFixCommand != "" && o.tools != nil {
			o.tools.Invoke(ctx, "exec", map[string]interface{}{"command": o.cfg.LintAutoFixCommand})
		}
		o.runFixAgent(ctx, sess, "coding-agent", fmt.Sprintf(
			"The lint gate failed:\n%s\n\nFix the remaining lint errors.", summarizeFailures(failures)))

	case kinds["build"] && len(kinds) == 1:
		o.runFixAgent(ctx, sess, "coding-agent", fmt.Sprintf(
			"The build gate failed:\n%s\n\nFix the build errors.", summarizeFailures(failures)))

	default:
		o.runFixAgent(ctx, sess, "coding-agent", fmt.Sprintf(
			"The following gates failed:\n%s\n\nFix the gate failures.", summarizeFailures(failures)))
	}
}

func (o *Orchestrator) runFixAgent(ctx context.Context, sess *Session, agentName, prompt string) {
	agent, ok := o.registry.Lookup(agentName)
	if !ok {
		return
	}
	reply, usage, err := agent.Run(ctx, prompt)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("session %s: %s gate-fix error: %v", sess.SessionID, agentName, err)
		return
	}
	sess.addUsageSafe(usage)

	for _, f := range ParseScaffoldFiles(reply) {
		if o.tools == nil {
			continue
		}
		result, err := o.tools.Invoke(ctx, "write", map[string]interface{}{"path": f.Path, "content": f.Content})
		if err != nil || !result.OK {
			continue
		}
		sess.FileChanges = mergeFileChanges(sess.FileChanges, result.FileChanges)
	}
}
