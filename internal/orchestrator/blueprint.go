package orchestrator

import (
	"context"

	"longagent/internal/plan"
)

// runBlueprint implements H2 Blueprint (spec.md §4.6): a read-only
// sub-agent produces architecture prose plus a fenced JSON stage plan,
// which is parsed with ExtractBlueprintPlan's three-tier fallback, run
// through the Plan Validator, and frozen on success.
func (o *Orchestrator) runBlueprint(ctx context.Context, sess *Session) error {
	agent, ok := o.registry.Lookup("blueprint-agent")
	if !ok {
		return &fatalError{reason: "no blueprint-agent registered"}
	}

	o.emit(sess.SessionID, "HYBRID_BLUEPRINT_START", map[string]interface{}{"objective": sess.Objective})

	prompt := sess.Objective
	if sess.PreviewFindings != "" {
		prompt = sess.PreviewFindings + "\n\n" + prompt
	}

	reply, usage, err := agent.Run(ctx, prompt)
	if err != nil {
		sess.GateStatus.Blueprint = GateOutcome{Status: "fail", Reason: err.Error()}
		return err
	}
	addUsage(&sess.Usage, usage)
	o.emit(sess.SessionID, "HYBRID_BLUEPRINT_COMPLETE", map[string]interface{}{"replyLength": len(reply)})

	raw, ok := ExtractBlueprintPlan(reply)
	if !ok {
		raw = plan.StagePlan{Objective: sess.Objective}
	} else if raw.Objective == "" {
		raw.Objective = sess.Objective
	}

	validated := plan.Validate(raw)
	sess.Plan = validated.Plan
	o.emit(sess.SessionID, "HYBRID_BLUEPRINT_VALIDATED", map[string]interface{}{
		"stageCount":   len(validated.Plan.Stages),
		"errorCount":   len(validated.Errors),
		"warningCount": len(validated.Warnings),
		"qualityScore": validated.QualityScore,
	})
	if len(validated.Warnings) > 0 {
		o.emit(sess.SessionID, "HYBRID_BLUEPRINT_REVIEW", map[string]interface{}{"warnings": len(validated.Warnings)})
	}

	sess.GateStatus.Blueprint = GateOutcome{Status: "pass"}
	o.emit(sess.SessionID, "PLAN_FROZEN", map[string]interface{}{"planId": sess.Plan.PlanID, "stageCount": len(sess.Plan.Stages)})

	sess.Phase = nextPhase(sess.Phase)
	return nil
}

// applyReplan re-validates a mid-stage [REPLAN:{...}] marker and, only on
// success, refreezes the plan and re-emits PLAN_FROZEN (spec.md §9: "the
// source sometimes mutates the supposedly frozen plan via a REPLAN marker
// parsed mid-stage; implementers must re-run the validator and re-emit a
// PLAN_FROZEN event or reject the replan").
func (o *Orchestrator) applyReplan(sess *Session, payload string) bool {
	var raw plan.StagePlan
	if ok := decodeReplanPayload(payload, &raw); !ok {
		return false
	}
	if raw.Objective == "" {
		raw.Objective = sess.Objective
	}
	validated := plan.Validate(raw)
	if len(validated.Errors) > 0 {
		return false
	}

	sess.planMu.Lock()
	sess.Plan = validated.Plan
	sess.planMu.Unlock()

	o.emit(sess.SessionID, "PLAN_FROZEN", map[string]interface{}{"planId": validated.Plan.PlanID, "stageCount": len(validated.Plan.Stages), "replanned": true})
	return true
}
