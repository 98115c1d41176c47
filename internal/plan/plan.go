// Package plan implements the Plan Model & Validator (spec.md §3, §4.2):
// the StagePlan/Stage/Task data types and a pure validation pass over a
// loosely-typed blueprint payload. The entity shapes follow the teacher's
// internal/campaign/types.go (Phase -> Stage, Task -> Task, with the same
// id/order/status fields renamed to this spec's vocabulary); the
// validation pass replaces the teacher's Mangle-kernel-driven
// validatePlan/PlanValidationIssue (internal/campaign/decomposer.go) with
// direct Go logic, since the Datalog kernel does not survive into this
// module (see DESIGN.md).
package plan

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"longagent/internal/logging"
)

// Complexity is a coarse task-size hint.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Task is one unit of work within a Stage (spec.md §3).
type Task struct {
	TaskID       string     `json:"taskId"`
	Prompt       string     `json:"prompt"`
	PlannedFiles []string   `json:"plannedFiles"`
	Acceptance   []string   `json:"acceptance"`
	Complexity   Complexity `json:"complexity"`
	TimeoutMs    int        `json:"timeoutMs"`
	MaxRetries   int        `json:"maxRetries"`
	DependsOn    []string   `json:"dependsOn,omitempty"`
}

// PassRuleAllSuccess is the only pass rule this spec supports (spec.md §3:
// "passRule = all_success").
const PassRuleAllSuccess = "all_success"

// Stage is an ordered group of Tasks executed under one barrier (spec.md §3).
type Stage struct {
	StageID  string `json:"stageId"`
	Name     string `json:"name"`
	PassRule string `json:"passRule"`
	Tasks    []Task `json:"tasks"`
}

// StagePlan is the top-level plan produced by H2 (spec.md §3).
type StagePlan struct {
	PlanID    string  `json:"planId"`
	Objective string  `json:"objective"`
	Stages    []Stage `json:"stages"`
}

// Limits mirror spec.md §4.2's normalization caps.
const (
	MaxPlannedFiles = 80
	MaxAcceptance   = 50
	MinTimeoutMs    = 1000
)

// IssueCategory distinguishes a validation error from a warning, following
// the shape of the teacher's PlanValidationIssue (internal/campaign/
// types.go) generalized to this spec's error/warning split.
type IssueCategory string

const (
	IssueError   IssueCategory = "error"
	IssueWarning IssueCategory = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Category    IssueCategory
	Description string
}

// ValidationResult is the output of Validate (spec.md §4.2).
type ValidationResult struct {
	Plan         StagePlan
	Errors       []Issue
	Warnings     []Issue
	QualityScore int
}

// Validate normalizes raw (a loosely-typed decode of the blueprint agent's
// JSON output) into a StagePlan and scores it per spec.md §4.2.
func Validate(raw StagePlan) ValidationResult {
	logging.PlanDebug("validating plan for objective %q with %d raw stages", raw.Objective, len(raw.Stages))

	normalized := normalize(raw)

	var errs []Issue
	if normalized.Objective == "" {
		errs = append(errs, Issue{Category: IssueError, Description: "objective is empty"})
	}
	if len(normalized.Stages) == 0 {
		errs = append(errs, Issue{Category: IssueError, Description: "plan has no stages"})
	}

	fileOwner := map[string]string{} // path -> first stageId that claimed it
	var warnings []Issue
	var keptStages []Stage

	for _, stage := range normalized.Stages {
		if len(stage.Tasks) == 0 {
			errs = append(errs, Issue{Category: IssueError, Description: fmt.Sprintf("stage %s has zero tasks", stage.StageID)})
			continue
		}

		sameStageFiles := map[string]string{} // path -> taskId within this stage
		for _, task := range stage.Tasks {
			for _, path := range task.PlannedFiles {
				if owner, ok := sameStageFiles[path]; ok && owner != task.TaskID {
					errs = append(errs, Issue{Category: IssueError, Description: fmt.Sprintf(
						"stage %s: tasks %s and %s both claim file %s", stage.StageID, owner, task.TaskID, path)})
					continue
				}
				sameStageFiles[path] = task.TaskID

				if firstStage, ok := fileOwner[path]; ok && firstStage != stage.StageID {
					warnings = append(warnings, Issue{Category: IssueWarning, Description: fmt.Sprintf(
						"file %s first claimed in stage %s reappears in stage %s", path, firstStage, stage.StageID)})
				} else if !ok {
					fileOwner[path] = stage.StageID
				}
			}
		}
		keptStages = append(keptStages, stage)
	}

	if len(errs) > 0 {
		if len(keptStages) > 0 {
			normalized.Stages = dropEmptyStages(keptStages)
			return finalize(normalized, errs, warnings)
		}
		return finalize(defaultFallbackPlan(normalized.Objective), errs, warnings)
	}

	normalized.Stages = keptStages
	return finalize(normalized, errs, warnings)
}

func finalize(p StagePlan, errs, warnings []Issue) ValidationResult {
	score := 100
	for _, stage := range p.Stages {
		for _, task := range stage.Tasks {
			if len(task.PlannedFiles) == 0 {
				score -= 15
			}
			if len(task.Acceptance) == 0 {
				score -= 10
			}
		}
	}
	score -= 5 * len(warnings)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return ValidationResult{Plan: p, Errors: errs, Warnings: warnings, QualityScore: score}
}

func dropEmptyStages(stages []Stage) []Stage {
	var out []Stage
	for _, s := range stages {
		if len(s.Tasks) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// normalize applies spec.md §4.2's per-stage/per-task coercions.
func normalize(raw StagePlan) StagePlan {
	p := raw
	p.Stages = append([]Stage(nil), raw.Stages...)

	for i := range p.Stages {
		stage := &p.Stages[i]
		if stage.StageID == "" {
			stage.StageID = "stage_" + uuid.NewString()[:8]
		}
		stage.PassRule = PassRuleAllSuccess

		var kept []Task
		for _, task := range stage.Tasks {
			if task.Prompt == "" {
				continue
			}
			normalizeTask(&task)
			kept = append(kept, task)
		}
		stage.Tasks = kept
	}
	return p
}

func normalizeTask(t *Task) {
	t.PlannedFiles = dedupeCapped(t.PlannedFiles, MaxPlannedFiles)
	if len(t.Acceptance) > MaxAcceptance {
		t.Acceptance = t.Acceptance[:MaxAcceptance]
	}
	if t.TimeoutMs < MinTimeoutMs {
		t.TimeoutMs = MinTimeoutMs
	}
	if t.MaxRetries < 0 {
		t.MaxRetries = 0
	}
	switch t.Complexity {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
	default:
		t.Complexity = ComplexityMedium
	}
}

func dedupeCapped(paths []string, maxLen int) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if len(out) >= maxLen {
			break
		}
	}
	return out
}

// defaultFallbackPlan builds the single-stage fallback plan spec.md §4.2
// requires when validation leaves no usable stage.
func defaultFallbackPlan(objective string) StagePlan {
	taskID := "task_" + uuid.NewString()[:8]
	return StagePlan{
		PlanID:    "plan_" + uuid.NewString()[:8],
		Objective: objective,
		Stages: []Stage{
			{
				StageID:  "stage_0",
				Name:     "default",
				PassRule: PassRuleAllSuccess,
				Tasks: []Task{
					{
						TaskID:     taskID,
						Prompt:     objective,
						Complexity: ComplexityMedium,
						TimeoutMs:  MinTimeoutMs,
						MaxRetries: 1,
					},
				},
			},
		},
	}
}

// SortedStageIDs returns the plan's stage IDs sorted lexicographically (not
// in execution order), useful for deterministic logging/assertions.
func (p StagePlan) SortedStageIDs() []string {
	ids := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		ids[i] = s.StageID
	}
	sort.Strings(ids)
	return ids
}
