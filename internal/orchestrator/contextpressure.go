package orchestrator

import (
	"context"
	"fmt"

	"longagent/internal/logging"
)

// maybeCompressPriorContext implements spec.md §4.6's "Context pressure
// control": whenever sess.PriorContext grows past cfg.PressureLimit, a
// compression-agent sub-agent is given one shot at replacing it with a
// shorter summary that keeps concrete decisions, file paths/signatures,
// errors/resolutions, cross-task dependencies, and test outcomes, while
// dropping exploration logs and reasoning chains. force bypasses the
// length check for the context_overflow signal a tool/LLM adapter error
// can carry (spec.md §6): that flag means compaction is needed regardless
// of the configured threshold. A missing compression-agent, like every
// other optional sub-agent role, leaves priorContext untouched rather than
// failing the run.
func (o *Orchestrator) maybeCompressPriorContext(ctx context.Context, sess *Session, force bool) {
	if !force && (o.cfg.PressureLimit <= 0 || len(sess.PriorContext) <= o.cfg.PressureLimit) {
		return
	}

	agent, ok := o.registry.Lookup("compression-agent")
	if !ok {
		return
	}

	before := len(sess.PriorContext)
	prompt := fmt.Sprintf(
		"Compress the following accumulated task context. Preserve concrete decisions, file "+
			"paths and signatures, errors and their resolutions, cross-task dependencies, and "+
			"test outcomes. Discard exploration logs, reasoning chains, and repetition.\n\n%s",
		sess.PriorContext)

	reply, usage, err := agent.Run(ctx, prompt)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("session %s: compression-agent error: %v", sess.SessionID, err)
		return
	}
	sess.addUsageSafe(usage)
	sess.PriorContext = reply

	o.emit(sess.SessionID, "HYBRID_CONTEXT_COMPRESSED", map[string]interface{}{
		"beforeLength": before, "afterLength": len(reply), "forced": force,
	})
}
