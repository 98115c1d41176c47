// Package orchestrator implements the Hybrid Orchestrator (spec.md §4.6,
// §5): the H0-H7 phase state machine that drives one turn from a raw
// objective string to a structured result, composing the Objective
// Classifier, Plan Model & Validator, Checkpoint Store, Task Bus, Stage
// Barrier Scheduler and failure-detection primitives against the external
// collaborators named in internal/contracts. Phase bookkeeping follows the
// teacher's internal/campaign/orchestrator_execution.go (Run main loop,
// heartbeat ticker, cancellation) and orchestrator_phases.go (phase
// transition helpers), generalized from the teacher's Mangle-kernel-driven
// phase queries to a plain in-memory state machine — the kernel facts
// (current_phase, eligible_task, phase_eligible, …) become direct field
// reads since this module has no Datalog kernel (see DESIGN.md).
package orchestrator

import (
	"sync"
	"time"

	"longagent/internal/barrier"
	"longagent/internal/contracts"
	"longagent/internal/failure"
	"longagent/internal/plan"
)

// Phase names one state of the top-level state machine (spec.md §4.6).
type Phase string

const (
	PhaseIntake               Phase = "H0_intake"
	PhasePreview              Phase = "H1_preview"
	PhaseBlueprint            Phase = "H2_blueprint"
	PhaseVCSBranch            Phase = "H2.5_vcs_branch"
	PhaseScaffold             Phase = "H3_scaffold"
	PhaseCoding               Phase = "H4_coding"
	PhaseDebugging            Phase = "H5_debugging"
	PhaseCompletionValidation Phase = "H5.5_completion_validation"
	PhaseGates                Phase = "H6_gates"
	PhaseVCSMerge             Phase = "H7_vcs_merge"
	PhaseDone                 Phase = "done"
)

// phaseOrder is the strict sequence spec.md §4.6 names, sans the two
// reentry edges (H5 -> H4 rollback, H6's own internal fix-and-retry loop)
// which are modeled as explicit jumps inside runCoding/runGates rather than
// as forward progression through this slice.
var phaseOrder = []Phase{
	PhaseIntake,
	PhasePreview,
	PhaseBlueprint,
	PhaseVCSBranch,
	PhaseScaffold,
	PhaseCoding,
	PhaseDebugging,
	PhaseCompletionValidation,
	PhaseGates,
	PhaseVCSMerge,
}

func nextPhase(p Phase) Phase {
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return PhaseDone
}

// GateOutcome is one entry of spec.md §3's GateOutcome entity, reused both
// for individual gates (build/test/...) and for the coarser preview/
// blueprint/git-merge milestones the orchestrator itself records.
type GateOutcome struct {
	Status            string `json:"status"` // pass, fail, warn, skip, disabled, not_applicable
	Reason            string `json:"reason,omitempty"`
	Output            string `json:"output,omitempty"`
	Attempt           int    `json:"attempt,omitempty"`
	ConflictsResolved bool   `json:"conflictsResolved,omitempty"`
}

// GateStatus is the session-wide scoreboard of every milestone/gate the
// orchestrator has recorded (spec.md §4.6's gateStatus.* references).
type GateStatus struct {
	Preview        GateOutcome            `json:"preview,omitempty"`
	Blueprint      GateOutcome            `json:"blueprint,omitempty"`
	Incremental    []GateOutcome          `json:"incremental,omitempty"`
	UsabilityGates GateOutcome            `json:"usabilityGates,omitempty"`
	GitBranch      GateOutcome            `json:"gitBranch,omitempty"`
	GitMerge       GateOutcome            `json:"gitMerge,omitempty"`
	PerGate        map[string]GateOutcome `json:"perGate,omitempty"`
}

// Session is the full mutable state of one orchestrator run, the
// in-memory counterpart of checkpoint.Record (spec.md §3's Checkpoint
// entity plus everything spec.md §4.6 names but leaves out of the
// persisted snapshot, e.g. GateStatus).
type Session struct {
	SessionID string
	Objective string
	Phase     Phase
	StartedAt time.Time

	Plan       plan.StagePlan
	StageIndex int
	planMu     sync.Mutex

	TaskProgress map[string]*barrier.Progress
	FileChanges  []contracts.FileChange
	PriorContext string
	LastProgress string

	IntakeSummary   string
	PreviewFindings string

	GateStatus GateStatus
	Usage      contracts.Usage
	usageMu    sync.Mutex

	Budget *BudgetTracker

	RecoveryCount       int
	CodingRollbackCount int
	CompletionMarkerSeen bool

	CodingPhaseStartedAt time.Time

	GitEnabled     bool
	GitActive      bool
	GitBranch      string
	GitBaseBranch  string

	Degradation *failure.Chain
	ShouldStop  bool

	stuck    map[string]*failure.StuckTracker
	semantic *failure.SemanticErrorTracker
}

// addUsageSafe folds u into s.Usage, safe for concurrent callers (the
// Stage Barrier runs multiple tasks in parallel, each of which may report
// usage through a TaskRunner wrapping sess).
func (s *Session) addUsageSafe(u contracts.Usage) {
	s.usageMu.Lock()
	defer s.usageMu.Unlock()
	addUsage(&s.Usage, u)
}

// Result is the structured turn result spec.md §4.6's "Finalization" step
// returns.
type Result struct {
	SessionID      string        `json:"sessionId"`
	Status         string        `json:"status"` // completed, done, error, stopped, budget_exceeded, aborted, blocked
	Phase          Phase         `json:"phase"`
	StageIndex     int           `json:"stageIndex"`
	StageCount     int           `json:"stageCount"`
	TaskProgress   map[string]*barrier.Progress `json:"taskProgress"`
	FileChanges    []contracts.FileChange       `json:"fileChanges"`
	GateStatus     GateStatus    `json:"gateStatus"`
	Usage          contracts.Usage `json:"usage"`
	LastProgress   string        `json:"lastProgress"`
	GitBranch      string        `json:"gitBranch,omitempty"`
	GitBaseBranch  string        `json:"gitBaseBranch,omitempty"`
	ElapsedSeconds float64       `json:"elapsedSeconds"`

	RecoverySuggestions *RecoverySuggestions `json:"recoverySuggestions,omitempty"`
}

func newSession(sessionID, objective string, degradation *failure.Chain) *Session {
	return &Session{
		SessionID:    sessionID,
		Objective:    objective,
		Phase:        PhaseIntake,
		TaskProgress: map[string]*barrier.Progress{},
		Degradation:  degradation,
		stuck:        map[string]*failure.StuckTracker{},
		semantic:     failure.NewSemanticErrorTracker(3),
	}
}

// stuckTrackerFor returns the per-stage stuck tracker, creating one on
// first use — spec.md §4.6 scopes the stuck-tracker window to "the last N
// tool-call signatures", which only makes sense within one stage's run.
func (s *Session) stuckTrackerFor(stageID string) *failure.StuckTracker {
	t, ok := s.stuck[stageID]
	if !ok {
		t = failure.NewStuckTracker(failure.DefaultWindowSize)
		s.stuck[stageID] = t
	}
	return t
}

func addUsage(total *contracts.Usage, u contracts.Usage) {
	total.Input += u.Input
	total.Output += u.Output
	total.CacheRead += u.CacheRead
	total.CacheWrite += u.CacheWrite
}
