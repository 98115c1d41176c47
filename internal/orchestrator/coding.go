package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"longagent/internal/barrier"
	"longagent/internal/contracts"
	"longagent/internal/failure"
	"longagent/internal/logging"
	"longagent/internal/plan"
)

// maxStageBackoff caps the exponential backoff between stage recovery
// attempts (spec.md §4.6 "exponential backoff capped at 30s").
const maxStageBackoff = 30 * time.Second

// codingTaskRunner adapts a contracts.SubAgent + contracts.ToolExecutor
// pair into barrier.TaskRunner, the seam barrier.go's doc comment
// describes. The agent is expected to emit one `[SCAFFOLD_FILE: path]`
// block per file it changes — the same per-file stub protocol H3 uses,
// reused here for actual implementation content — which the runner applies
// through the tool executor's "write" tool to produce contracts.FileChange
// entries.
type codingTaskRunner struct {
	orch  *Orchestrator
	agent contracts.SubAgent
	tools contracts.ToolExecutor
	sess  *Session
}

func (r *codingTaskRunner) RunTask(ctx context.Context, task plan.Task, prompt string) (string, []contracts.FileChange, error) {
	reply, usage, err := r.agent.Run(ctx, prompt)
	if err != nil {
		var llmErr *contracts.LLMError
		if errors.As(err, &llmErr) && llmErr.Class == contracts.ErrorContextOverflow {
			r.orch.maybeCompressPriorContext(ctx, r.sess, true)
		}
		return "", nil, err
	}
	r.sess.addUsageSafe(usage)

	if payload, ok := ParseReplan(reply); ok {
		if !r.orch.applyReplan(r.sess, payload) {
			r.orch.emit(r.sess.SessionID, "ALERT", map[string]interface{}{"reason": "replan rejected; frozen plan kept"})
		}
	}

	var changes []contracts.FileChange
	for _, f := range ParseScaffoldFiles(reply) {
		if r.tools == nil {
			continue
		}
		result, err := r.tools.Invoke(ctx, "write", map[string]interface{}{"path": f.Path, "content": f.Content})
		if err != nil || !result.OK {
			continue
		}
		changes = append(changes, result.FileChanges...)
	}
	return reply, changes, nil
}

// runCoding implements one iteration of H4's Coding loop (spec.md §4.6):
// it processes exactly sess.Plan.Stages[sess.StageIndex] to either success
// or an exhausted recovery budget, then advances StageIndex. Leaving
// sess.Phase unchanged signals runLoop to call this again for the next
// stage; only once every stage has been handled does it advance to H5.
func (o *Orchestrator) runCoding(ctx context.Context, sess *Session) error {
	if sess.StageIndex >= len(sess.Plan.Stages) {
		sess.Phase = nextPhase(sess.Phase)
		return nil
	}
	if sess.Budget == nil {
		sess.Budget = NewBudgetTracker(o.cfg.TokenBudget, len(sess.Plan.Stages))
	}
	if sess.CodingPhaseStartedAt.IsZero() {
		sess.CodingPhaseStartedAt = time.Now()
	}

	agent, ok := o.registry.Lookup("coding-agent")
	if !ok {
		return &fatalError{reason: "no coding-agent registered"}
	}

	stage := sess.Plan.Stages[sess.StageIndex]
	bus := newBus(o.cfg)
	runner := &codingTaskRunner{orch: o, agent: agent, tools: o.tools, sess: sess}
	stuckTracker := sess.stuckTrackerFor(stage.StageID)

	anchor := advancePlanAnchor(sess, sess.StageIndex)
	sess.PriorContext = anchor + "\n" + sess.PriorContext
	o.maybeCompressPriorContext(ctx, sess, false)

	seed := seedFromSession(sess, stage)

	var result barrier.Result
	for {
		maxParallel := sess.Degradation.MaxParallelTasks
		if maxParallel <= 0 {
			maxParallel = o.cfg.MaxParallelTasks
		}
		scheduler := barrier.New(runner, bus, maxParallel)

		var err error
		result, err = scheduler.RunStage(ctx, stage, seed, sess.PriorContext, stuckTracker, o.onTaskCheckpoint(sess))
		if err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("session %s stage %s: checkpoint error: %v", sess.SessionID, stage.StageID, err)
		}

		mergeTaskProgress(sess, result)
		sess.FileChanges = mergeFileChanges(sess.FileChanges, result.FileChanges)
		if result.CompletionMarkerSeen {
			sess.CompletionMarkerSeen = true
		}

		if result.AllSuccess {
			break
		}

		sess.RecoveryCount++
		seed = resetRetryableTasks(result)

		if sess.RecoveryCount > o.cfg.MaxStageRecoveries {
			if !sess.Degradation.CanDegrade() {
				logging.OrchestratorWarn("session %s stage %s: recovery exhausted, aborting stage with partial completion", sess.SessionID, stage.StageID)
				break
			}
			d := o.applyDegradationOrStop(sess)
			if sess.ShouldStop {
				return nil
			}
			if d.Strategy == failure.StrategyReduceScope {
				seed = skipNonCompleted(seed, stage)
			}
		}

		if o.cfg.CodingPhaseTimeoutMs > 0 && time.Since(sess.CodingPhaseStartedAt) > time.Duration(o.cfg.CodingPhaseTimeoutMs)*time.Millisecond {
			o.applyDegradationOrStop(sess)
			sess.CodingPhaseStartedAt = time.Now()
			if sess.ShouldStop {
				return nil
			}
		}

		backoff := stageBackoff(sess.RecoveryCount)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	sess.Budget.Add(sumUsage(result, sess))
	sess.LastProgress = fmt.Sprintf("%d%%", ((sess.StageIndex+1)*100)/len(sess.Plan.Stages))

	if sess.GitActive && o.vcsShim != nil {
		o.vcsShim.CommitAll(ctx, fmt.Sprintf("longagent: stage %s", stage.StageID))
	}
	o.runIncrementalGate(ctx, sess, stage)
	o.checkBudget(sess)

	sess.StageIndex++
	o.saveStageCheckpoint(sess)

	if sess.StageIndex >= len(sess.Plan.Stages) {
		sess.Phase = nextPhase(sess.Phase)
		sess.CodingPhaseStartedAt = time.Time{}
	}
	return nil
}

// seedFromSession builds the barrier seed map for stage from any
// already-known progress (e.g. after a resumed checkpoint).
func seedFromSession(sess *Session, stage plan.Stage) map[string]*barrier.Progress {
	seed := map[string]*barrier.Progress{}
	for _, t := range stage.Tasks {
		if p, ok := sess.TaskProgress[t.TaskID]; ok {
			seed[t.TaskID] = p
		}
	}
	return seed
}

func mergeTaskProgress(sess *Session, result barrier.Result) {
	for id, p := range result.TaskProgress {
		sess.TaskProgress[id] = p
	}
}

func mergeFileChanges(existing []contracts.FileChange, incoming []contracts.FileChange) []contracts.FileChange {
	type key struct{ path, stage, task string }
	index := map[key]int{}
	out := append([]contracts.FileChange(nil), existing...)
	for i, fc := range out {
		index[key{fc.Path, fc.StageID, fc.TaskID}] = i
	}
	for _, fc := range incoming {
		k := key{fc.Path, fc.StageID, fc.TaskID}
		if i, ok := index[k]; ok {
			out[i].AddedLines += fc.AddedLines
			out[i].RemovedLines += fc.RemovedLines
			continue
		}
		index[k] = len(out)
		out = append(out, fc)
	}
	return out
}

// resetRetryableTasks implements spec.md §4.6 H4's rollback-reset rule:
// tasks left in error status are reset to retrying unless their classified
// error category is permanent or unknown, which are left as-is (skipped
// with the category recorded as the reason).
func resetRetryableTasks(result barrier.Result) map[string]*barrier.Progress {
	seed := map[string]*barrier.Progress{}
	for id, p := range result.TaskProgress {
		cp := *p
		if p.Status == barrier.StatusError {
			category := failure.ClassifyError(p.LastError, "")
			if category == failure.ClassPermanent || category == failure.ClassUnknown {
				cp.Status = barrier.StatusSkipped
				cp.SkipReason = fmt.Sprintf("%s error not eligible for retry: %s", category, p.LastError)
			} else {
				cp.Status = barrier.StatusRetrying
			}
		}
		seed[id] = &cp
	}
	return seed
}

// skipNonCompleted applies the reduce_scope degradation strategy (spec.md
// §4.6): mark every non-completed task in stage as skipped.
func skipNonCompleted(seed map[string]*barrier.Progress, stage plan.Stage) map[string]*barrier.Progress {
	for _, t := range stage.Tasks {
		p, ok := seed[t.TaskID]
		if !ok || p.Status == barrier.StatusCompleted {
			continue
		}
		p.Status = barrier.StatusSkipped
		p.SkipReason = "reduce_scope degradation"
	}
	return seed
}

func stageBackoff(recoveryCount int) time.Duration {
	backoff := time.Duration(1<<uint(recoveryCount-1)) * time.Second
	if backoff > maxStageBackoff || backoff <= 0 {
		backoff = maxStageBackoff
	}
	return backoff
}

// runIncrementalGate runs an optional lint/typecheck-only gate after a
// stage completes (spec.md §4.6 "optional incremental gate").
func (o *Orchestrator) runIncrementalGate(ctx context.Context, sess *Session, stage plan.Stage) {
	if o.gates == nil {
		return
	}
	gatesConfig := map[string]bool{"lint": true, "typecheck": true}
	result, err := o.gates.RunUsabilityGates(ctx, contracts.GateRunnerInput{
		Objective:   sess.Objective,
		FileChanges: sess.FileChanges,
		GatesConfig: gatesConfig,
	})
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("session %s: incremental gate error: %v", sess.SessionID, err)
		return
	}
	outcome := GateOutcome{Status: "pass"}
	if !result.AllPassed {
		var reasons []string
		for _, f := range result.Failures {
			reasons = append(reasons, f.Gate+": "+f.Reason)
		}
		outcome = GateOutcome{Status: "fail", Reason: strings.Join(reasons, "; ")}
	}
	sess.GateStatus.Incremental = append(sess.GateStatus.Incremental, outcome)
	o.emit(sess.SessionID, "HYBRID_INCREMENTAL_GATE", map[string]interface{}{"stageId": stage.StageID, "status": outcome.Status})
}

// checkBudget applies spec.md §5's budget thresholds after each stage.
func (o *Orchestrator) checkBudget(sess *Session) {
	switch sess.Budget.Check() {
	case BudgetWarning:
		o.emit(sess.SessionID, "HYBRID_BUDGET_WARNING", map[string]interface{}{"forecast": false, "usage": sess.Budget.Total()})
	case BudgetForecast:
		o.emit(sess.SessionID, "HYBRID_BUDGET_WARNING", map[string]interface{}{"forecast": true, "usage": sess.Budget.Total()})
	case BudgetExceeded:
		o.emit(sess.SessionID, "HYBRID_BUDGET_WARNING", map[string]interface{}{"forecast": false, "exceeded": true, "usage": sess.Budget.Total()})
		o.applyDegradationOrStop(sess)
	}
}

// applyDegradationOrStop applies the next degradation strategy and returns
// it, or sets sess.ShouldStop and returns a zero DegradeResult once none
// remain (spec.md §4.6/§7): the shared response to budget exhaustion and,
// via runCoding/runDebugging's phase-level timeouts (spec.md §5), to a
// phase overrunning codingPhaseTimeoutMs/debuggingPhaseTimeoutMs.
func (o *Orchestrator) applyDegradationOrStop(sess *Session) failure.DegradeResult {
	if !sess.Degradation.CanDegrade() {
		sess.ShouldStop = true
		return failure.DegradeResult{}
	}
	d := sess.Degradation.Apply()
	o.emit(sess.SessionID, "DEGRADATION_APPLIED", map[string]interface{}{"strategy": string(d.Strategy), "detail": d.Detail})
	if sess.Degradation.ShouldStop {
		sess.ShouldStop = true
	}
	return d
}

func sumUsage(result barrier.Result, sess *Session) contracts.Usage {
	// Usage is already folded into sess.Usage by codingTaskRunner as each
	// task completes, so sess.Usage is the running session total; the
	// BudgetTracker already holds what earlier stages added, so only the
	// difference is this stage's usage.
	prev := sess.Budget.Total()
	return contracts.Usage{
		Input:      sess.Usage.Input - prev.Input,
		Output:     sess.Usage.Output - prev.Output,
		CacheRead:  sess.Usage.CacheRead - prev.CacheRead,
		CacheWrite: sess.Usage.CacheWrite - prev.CacheWrite,
	}
}
