package orchestrator

import (
	"context"
	"encoding/json"

	"longagent/internal/logging"
)

// intakeTurn is the structured reply shape the "ask"-role sub-agent is
// expected to produce each round (spec.md §4.6 H0): a clarifying question
// while still gathering context, or enough=true with a synthesized
// technical summary once it has what it needs.
type intakeTurn struct {
	Enough  bool   `json:"enough"`
	Summary string `json:"summary"`
}

// runIntake implements H0 Intake (spec.md §4.6): up to cfg.MaxIntakeRounds
// turns with the "ask"-role sub-agent, terminating as soon as it reports
// enough=true (never before round 2). H0 is optional: if no intake-agent
// is registered the phase is a no-op, matching every other optional phase
// in this state machine.
func (o *Orchestrator) runIntake(ctx context.Context, sess *Session) error {
	agent, ok := o.registry.Lookup("intake-agent")
	if !ok {
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	maxRounds := o.cfg.MaxIntakeRounds
	if maxRounds < 1 {
		maxRounds = 1
	}

	prompt := sess.Objective
	for round := 1; round <= maxRounds; round++ {
		reply, usage, err := agent.Run(ctx, prompt)
		if err != nil {
			return err
		}
		addUsage(&sess.Usage, usage)

		turn := parseIntakeTurn(reply)
		sess.IntakeSummary = turn.Summary
		if turn.Summary == "" {
			sess.IntakeSummary = reply
		}

		if turn.Enough && round >= 2 {
			logging.Orchestrator("session %s: intake concluded after %d round(s)", sess.SessionID, round)
			break
		}
		prompt = reply
	}

	sess.Phase = nextPhase(sess.Phase)
	return nil
}

func parseIntakeTurn(reply string) intakeTurn {
	obj, ok := extractFirstJSONObject(reply)
	if !ok {
		return intakeTurn{}
	}
	var turn intakeTurn
	if err := json.Unmarshal([]byte(obj), &turn); err != nil {
		return intakeTurn{}
	}
	return turn
}

// runPreview implements H1 Preview (spec.md §4.6): a read-only sub-agent
// exploration pass whose findings seed the blueprint phase's context.
func (o *Orchestrator) runPreview(ctx context.Context, sess *Session) error {
	agent, ok := o.registry.Lookup("preview-agent")
	if !ok {
		sess.GateStatus.Preview = GateOutcome{Status: "not_applicable"}
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}

	o.emit(sess.SessionID, "HYBRID_PREVIEW_START", map[string]interface{}{"objective": sess.Objective})

	prompt := sess.Objective
	if sess.IntakeSummary != "" {
		prompt = sess.IntakeSummary + "\n\n" + prompt
	}

	reply, usage, err := agent.Run(ctx, prompt)
	if err != nil {
		sess.GateStatus.Preview = GateOutcome{Status: "fail", Reason: err.Error()}
		return err
	}
	addUsage(&sess.Usage, usage)

	sess.PreviewFindings = reply
	sess.GateStatus.Preview = GateOutcome{Status: "pass"}
	o.emit(sess.SessionID, "HYBRID_PREVIEW_COMPLETE", map[string]interface{}{"findingsLength": len(reply)})

	sess.Phase = nextPhase(sess.Phase)
	return nil
}
