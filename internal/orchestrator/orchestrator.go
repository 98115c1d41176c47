package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"longagent/internal/barrier"
	"longagent/internal/checkpoint"
	"longagent/internal/config"
	"longagent/internal/contracts"
	"longagent/internal/failure"
	"longagent/internal/logging"
	"longagent/internal/taskbus"
	"longagent/internal/vcs"
)

// Orchestrator wires every internal component (classifier, plan validator,
// checkpoint store, task bus, stage barrier, failure primitives) against
// the external collaborators of internal/contracts and drives one turn
// through the H0-H7 state machine. Process-wide configuration is supplied
// once at construction time and held immutably thereafter (spec.md §9
// "Process-wide configuration"); the only runtime mutation is the
// degradation chain's explicit writes, which live on the per-run Session,
// not here.
type Orchestrator struct {
	cfg *config.Config

	registry *contracts.Registry
	tools    contracts.ToolExecutor
	sessions contracts.SessionStore
	events   contracts.EventSink
	gates    contracts.GateRunner

	checkpoints *checkpoint.Store
	vcsShim     *vcs.Shim
	gatePrefs   config.GatePreferences
}

// New returns an Orchestrator. gates, events, sessions may be nil; a nil
// EventSink behaves as contracts.NopEventSink, a nil GateRunner disables
// H6 entirely (every gate reports not_applicable). gatePrefs selects which
// named gates H6 asks the GateRunner to run (spec.md §6 "Gate-preferences
// JSON"); the zero value runs none, so callers typically pass
// config.LoadGatePreferences(path) or config.DefaultGatePreferences().
func New(
	cfg *config.Config,
	registry *contracts.Registry,
	tools contracts.ToolExecutor,
	sessions contracts.SessionStore,
	events contracts.EventSink,
	gates contracts.GateRunner,
	checkpoints *checkpoint.Store,
	vcsShim *vcs.Shim,
	gatePrefs config.GatePreferences,
) *Orchestrator {
	if events == nil {
		events = contracts.NopEventSink{}
	}
	return &Orchestrator{
		cfg:         cfg,
		registry:    registry,
		tools:       tools,
		sessions:    sessions,
		events:      events,
		gates:       gates,
		checkpoints: checkpoints,
		vcsShim:     vcsShim,
		gatePrefs:   gatePrefs,
	}
}

func (o *Orchestrator) emit(sessionID, eventType string, payload map[string]interface{}) {
	o.events.Emit(contracts.Event{Type: eventType, SessionID: sessionID, Payload: payload, At: time.Now()})
}

// Run drives sessionID (a fresh uuid if empty) from objective through every
// phase, returning the structured turn result spec.md §4.6's Finalization
// step names. Cancellation of ctx is the single cooperative signal
// threaded into every sub-call (spec.md §9 "Cancellation"): on cancel the
// orchestrator persists its latest checkpoint and returns status=stopped.
func (o *Orchestrator) Run(ctx context.Context, sessionID, objective string) (Result, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	timer := logging.StartTimer(logging.CategoryOrchestrator, fmt.Sprintf("Run(%s)", sessionID))
	defer timer.StopWithInfo()

	degradation := failure.NewChain("", o.cfg.FallbackModel, o.cfg.SkipNonCritical, o.cfg.MaxParallelTasks)
	sess := newSession(sessionID, objective, degradation)
	sess.GitEnabled = o.cfg.GitEnabled
	sess.StartedAt = time.Now()

	if o.sessions != nil {
		_ = o.sessions.TouchSession(ctx, sessionID, map[string]interface{}{"objective": objective})
	}

	status := o.runLoop(ctx, sess)

	if o.sessions != nil {
		_ = o.sessions.MarkSessionStatus(ctx, sessionID, status)
	}

	result := o.finalize(sess, status)
	return result, nil
}

// Resume loads sessionID's latest checkpoint and continues from its
// recorded phase/stage instead of starting at H0. A missing or invalid
// checkpoint (spec.md §8 "Resume validation") falls back to a fresh start.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (Result, error) {
	rec := o.checkpoints.LoadCheckpoint(sessionID, "latest")
	if !checkpoint.ValidateCheckpoint(rec) {
		o.emit(sessionID, "HYBRID_CHECKPOINT_INVALID", map[string]interface{}{"sessionId": sessionID})
		return o.Run(ctx, sessionID, "")
	}
	o.emit(sessionID, "HYBRID_CHECKPOINT_RESUMED", map[string]interface{}{"sessionId": sessionID, "phase": rec.Phase})

	degradation := failure.NewChain("", o.cfg.FallbackModel, o.cfg.SkipNonCritical, o.cfg.MaxParallelTasks)
	sess := newSession(sessionID, rec.StagePlan.Objective, degradation)
	sess.GitEnabled = o.cfg.GitEnabled
	sess.StartedAt = time.Now()
	sess.Plan = rec.StagePlan
	sess.StageIndex = rec.StageIndex
	sess.Phase = Phase(rec.Phase)
	sess.LastProgress = rec.LastProgress
	if len(rec.TaskProgress) > 0 {
		var seed map[string]*barrier.Progress
		if err := unmarshalTaskProgress(rec.TaskProgress, &seed); err == nil {
			sess.TaskProgress = seed
		}
	}

	status := o.runLoop(ctx, sess)
	if o.sessions != nil {
		_ = o.sessions.MarkSessionStatus(ctx, sessionID, status)
	}
	return o.finalize(sess, status), nil
}

// runLoop advances sess through phaseOrder, checking cancellation at every
// iteration boundary (spec.md §5 "Phases check the signal at every
// iteration boundary").
func (o *Orchestrator) runLoop(ctx context.Context, sess *Session) string {
	for sess.Phase != PhaseDone {
		select {
		case <-ctx.Done():
			o.saveStageCheckpoint(sess)
			return "stopped"
		default:
		}

		if sess.ShouldStop {
			o.saveStageCheckpoint(sess)
			return "stopped"
		}

		prevPhase := sess.Phase
		o.emit(sess.SessionID, "PHASE_CHANGED", map[string]interface{}{"phase": string(sess.Phase)})

		var err error
		switch sess.Phase {
		case PhaseIntake:
			err = o.runIntake(ctx, sess)
		case PhasePreview:
			err = o.runPreview(ctx, sess)
		case PhaseBlueprint:
			err = o.runBlueprint(ctx, sess)
		case PhaseVCSBranch:
			err = o.runVCSBranch(ctx, sess)
		case PhaseScaffold:
			err = o.runScaffold(ctx, sess)
		case PhaseCoding:
			err = o.runCoding(ctx, sess)
		case PhaseDebugging:
			err = o.runDebugging(ctx, sess)
		case PhaseCompletionValidation:
			err = o.runCompletionValidation(ctx, sess)
		case PhaseGates:
			err = o.runGates(ctx, sess)
		case PhaseVCSMerge:
			err = o.runVCSMerge(ctx, sess)
		}

		if err != nil {
			if blocked, ok := err.(*blockedError); ok {
				logging.OrchestratorWarn("session %s blocked at %s: %v", sess.SessionID, sess.Phase, blocked)
				return "blocked"
			}
			if isFatal(err) {
				logging.Get(logging.CategoryOrchestrator).Error("session %s fatal error at %s: %v", sess.SessionID, sess.Phase, err)
				return "error"
			}
			logging.OrchestratorWarn("session %s error at %s: %v", sess.SessionID, sess.Phase, err)
			return "error"
		}

		if sess.Phase == prevPhase {
			// A phase requested an explicit reentry (rollback/gate-retry);
			// it owns the transition itself and left Phase unchanged to
			// signal "run me again", which the loop above already did.
			continue
		}
	}
	return "completed"
}

// blockedError marks an early, non-actionable turn (spec.md §7
// "User/blocked").
type blockedError struct{ reason string }

func (e *blockedError) Error() string { return e.reason }

// fatalError marks an orchestrator-level condition that ends the turn
// immediately (spec.md §7 "Fatal").
type fatalError struct{ reason string }

func (e *fatalError) Error() string { return e.reason }

func isFatal(err error) bool {
	_, ok := err.(*fatalError)
	return ok
}

func (o *Orchestrator) finalize(sess *Session, status string) Result {
	finalStatus := status
	if status == "completed" {
		if sess.CompletionMarkerSeen {
			finalStatus = "completed"
		} else {
			finalStatus = "done"
		}
	}

	result := Result{
		SessionID:     sess.SessionID,
		Status:        finalStatus,
		Phase:         sess.Phase,
		StageIndex:    sess.StageIndex,
		StageCount:    len(sess.Plan.Stages),
		TaskProgress:  sess.TaskProgress,
		FileChanges:   sess.FileChanges,
		GateStatus:    sess.GateStatus,
		Usage:         sess.Usage,
		LastProgress:  sess.LastProgress,
		GitBranch:     sess.GitBranch,
		GitBaseBranch: sess.GitBaseBranch,
		ElapsedSeconds: time.Since(sess.StartedAt).Seconds(),
	}

	if finalStatus != "completed" {
		result.RecoverySuggestions = buildRecoverySuggestions(sess)
	}
	return result
}

// saveStageCheckpoint persists sess at a stage boundary (spec.md §5
// "Checkpoints are written at stage boundaries").
func (o *Orchestrator) saveStageCheckpoint(sess *Session) {
	if o.checkpoints == nil {
		return
	}
	tp, err := marshalTaskProgress(sess.TaskProgress)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Error("marshal task progress for session %s: %v", sess.SessionID, err)
		return
	}
	rec := checkpoint.Record{
		Iteration:    sess.RecoveryCount + sess.CodingRollbackCount,
		Phase:        string(sess.Phase),
		StageIndex:   sess.StageIndex,
		StagePlan:    sess.Plan,
		TaskProgress: tp,
		LastProgress: sess.LastProgress,
	}
	if err := o.checkpoints.SaveCheckpoint(sess.SessionID, rec); err != nil {
		logging.Get(logging.CategoryOrchestrator).Error("save checkpoint for session %s: %v", sess.SessionID, err)
	}
}

// onTaskCheckpoint is passed to barrier.Scheduler.RunStage as the
// onTaskComplete hook (spec.md §4.5), persisting one task_<stage>_<task>
// checkpoint per completed task.
func (o *Orchestrator) onTaskCheckpoint(sess *Session) func(stageID string, p *barrier.Progress) error {
	return func(stageID string, p *barrier.Progress) error {
		if o.checkpoints == nil {
			return nil
		}
		return o.checkpoints.SaveTaskCheckpoint(sess.SessionID, stageID, p.TaskID, p)
	}
}

func advancePlanAnchor(sess *Session, stageIdx int) string {
	var anchor string
	anchor = fmt.Sprintf("Objective: %s\nStage %d/%d\n", sess.Objective, stageIdx+1, len(sess.Plan.Stages))
	for i, stage := range sess.Plan.Stages {
		mark := " "
		switch {
		case i < stageIdx:
			mark = "✓"
		case i == stageIdx:
			mark = "→"
		}
		anchor += fmt.Sprintf("[%s] stage %d: %s\n", mark, i+1, stage.Name)
	}
	return anchor
}

// bus is recreated per run with the configured bound, matching taskbus's
// own per-stage-run scoping rather than a single process-wide singleton
// (spec.md §9 avoids global singletons).
func newBus(cfg *config.Config) *taskbus.Bus {
	return taskbus.New(cfg.TaskBusMaxMessages, nil)
}
