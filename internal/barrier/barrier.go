// Package barrier implements the Stage Barrier Scheduler (spec.md §4.5):
// given one Stage, it launches every task concurrently under a bounded
// parallelism limit, retries each task per its own classified-failure
// policy, and returns only once every task has reached a terminal state.
//
// Concurrency follows the teacher's intelligence_gatherer.go pattern of
// fanning out independent work under golang.org/x/sync/errgroup, with a
// golang.org/x/sync/semaphore.Weighted added to cap how many tasks run at
// once (the teacher bounds its gatherers implicitly by how many it starts;
// this scheduler must bound an arbitrary, plan-supplied task count).
package barrier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"longagent/internal/contracts"
	"longagent/internal/failure"
	"longagent/internal/logging"
	"longagent/internal/plan"
	"longagent/internal/taskbus"
)

// Status is TaskProgress.status (spec.md §3), a DAG rooted at pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// Progress is one task's mutable scheduling state, persisted into
// checkpoints by the caller (spec.md §3 TaskProgress).
type Progress struct {
	TaskID         string   `json:"taskId"`
	Status         Status   `json:"status"`
	Attempt        int      `json:"attempt"`
	LastReply      string   `json:"lastReply,omitempty"`
	LastError      string   `json:"lastError,omitempty"`
	RemainingFiles []string `json:"remainingFiles,omitempty"`
	SkipReason     string   `json:"skipReason,omitempty"`
}

func (p Progress) clone() *Progress {
	cp := p
	if p.RemainingFiles != nil {
		cp.RemainingFiles = append([]string(nil), p.RemainingFiles...)
	}
	return &cp
}

// TaskRunner is the boundary to the external LLM-adapter + tool-executor
// collaborators (spec.md §6): given a task and its fully composed prompt,
// it drives the sub-agent/tool loop for that one task to completion and
// returns the agent's final text output, plus any contracts.FileChange the
// tool executor reported along the way. The scheduler never talks to an
// LLM or a tool directly; the orchestrator composes a TaskRunner out of a
// contracts.SubAgent and a contracts.ToolExecutor.
type TaskRunner interface {
	RunTask(ctx context.Context, task plan.Task, prompt string) (output string, changes []contracts.FileChange, err error)
}

// Result is what runStageBarrier returns once every task is terminal
// (spec.md §4.5).
type Result struct {
	TaskProgress         map[string]*Progress
	SuccessCount         int
	FailCount            int
	AllSuccess           bool
	CompletionMarkerSeen bool
	FileChanges          []contracts.FileChange
}

// Scheduler runs one stage's tasks under a bounded-parallelism barrier.
type Scheduler struct {
	runner      TaskRunner
	bus         *taskbus.Bus
	maxParallel int
}

// New returns a Scheduler. maxParallel <= 0 is treated as 1 (serial).
func New(runner TaskRunner, bus *taskbus.Bus, maxParallel int) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Scheduler{runner: runner, bus: bus, maxParallel: maxParallel}
}

// RunStage launches stage.Tasks concurrently (bounded by maxParallel),
// seeding TaskProgress from a prior checkpoint when seed is non-nil, and
// blocks until every task reaches a terminal status. onTaskComplete, when
// non-nil, is invoked once per task as soon as it terminates (the caller
// uses this to write a per-task checkpoint); it must not panic and its
// error, if any, is folded into the returned error via multierr so one
// failing checkpoint write doesn't hide another.
func (s *Scheduler) RunStage(
	ctx context.Context,
	stage plan.Stage,
	seed map[string]*Progress,
	priorContext string,
	stuck *failure.StuckTracker,
	onTaskComplete func(stageID string, p *Progress) error,
) (Result, error) {
	timer := logging.StartTimer(logging.CategoryBarrier, fmt.Sprintf("RunStage(%s)", stage.StageID))
	defer timer.StopWithInfo()

	progress := make(map[string]*Progress, len(stage.Tasks))
	for _, t := range stage.Tasks {
		if seed != nil {
			if p, ok := seed[t.TaskID]; ok && p != nil {
				progress[t.TaskID] = p.clone()
				continue
			}
		}
		progress[t.TaskID] = &Progress{TaskID: t.TaskID, Status: StatusPending}
	}

	var (
		mu             sync.Mutex
		fileChanges    []contracts.FileChange
		completionSeen bool
		checkpointErrs []error
	)

	complete := func(task plan.Task, p *Progress) {
		mu.Lock()
		snapshot := p.clone()
		mu.Unlock()
		if onTaskComplete == nil {
			return
		}
		if err := onTaskComplete(stage.StageID, snapshot); err != nil {
			mu.Lock()
			checkpointErrs = append(checkpointErrs, fmt.Errorf("checkpoint task %s: %w", task.TaskID, err))
			mu.Unlock()
		}
	}

	sem := semaphore.NewWeighted(int64(s.maxParallel))
	g, gctx := errgroup.WithContext(ctx)

	logging.Barrier("stage %s: scheduling %d task(s), maxParallel=%d", stage.StageID, len(stage.Tasks), s.maxParallel)

	for _, t := range stage.Tasks {
		task := t
		p := progress[task.TaskID]
		if p.Status == StatusCompleted || p.Status == StatusSkipped {
			continue
		}
		if p.Status == StatusError {
			// Left for the caller's rollback logic (spec.md §4.6 H4) to
			// reset to retrying before the barrier runs again; an error
			// task handed to us unchanged is treated as already terminal.
			continue
		}

		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				mu.Lock()
				p.Status = StatusCancelled
				p.LastError = err.Error()
				mu.Unlock()
				complete(task, p)
				return nil
			}
			defer sem.Release(1)

			s.runOne(gctx, stage, task, p, &mu, priorContext, stuck, &fileChanges, &completionSeen)
			complete(task, p)
			return nil
		})
	}

	_ = g.Wait()

	// Cancellation sweep: any task that never got scheduled (context
	// already done before its goroutine acquired the semaphore) may still
	// be pending; the barrier must still return a coherent status map.
	if ctx.Err() != nil {
		for _, p := range progress {
			if p.Status == StatusPending || p.Status == StatusRunning || p.Status == StatusRetrying {
				p.Status = StatusCancelled
				p.LastError = ctx.Err().Error()
			}
		}
	}

	result := Result{TaskProgress: progress, FileChanges: fileChanges, CompletionMarkerSeen: completionSeen}
	for _, p := range progress {
		switch p.Status {
		case StatusCompleted:
			result.SuccessCount++
		case StatusSkipped:
			// Neither a success nor a failure for allSuccess purposes;
			// the caller's degradation logic decided to drop this task.
		default:
			result.FailCount++
		}
	}
	result.AllSuccess = result.FailCount == 0

	logging.Barrier("stage %s: done success=%d fail=%d allSuccess=%t", stage.StageID, result.SuccessCount, result.FailCount, result.AllSuccess)

	var combined error
	for _, e := range checkpointErrs {
		combined = multierr.Append(combined, e)
	}
	return result, combined
}

// runOne drives a single task through its timeout/retry policy (spec.md
// §4.5, §7): transient failures retry freely up to task.MaxRetries; logic
// failures retry at most once with an error-annotated prompt; permanent
// and unknown failures fail fast.
func (s *Scheduler) runOne(
	ctx context.Context,
	stage plan.Stage,
	task plan.Task,
	p *Progress,
	mu *sync.Mutex,
	priorContext string,
	stuck *failure.StuckTracker,
	fileChanges *[]contracts.FileChange,
	completionSeen *bool,
) {
	mu.Lock()
	p.Status = StatusRunning
	mu.Unlock()

	logicRetried := false
	var promptSuffix string

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			p.Status = StatusCancelled
			p.LastError = ctx.Err().Error()
			mu.Unlock()
			return
		default:
		}

		taskCtx := ctx
		var cancel context.CancelFunc
		if task.TimeoutMs > 0 {
			taskCtx, cancel = context.WithTimeout(ctx, time.Duration(task.TimeoutMs)*time.Millisecond)
		}

		prompt := composePrompt(task, priorContext, s.bus, promptSuffix)

		mu.Lock()
		p.Attempt++
		attempt := p.Attempt
		mu.Unlock()

		logging.BarrierDebug("task %s attempt=%d", task.TaskID, attempt)
		output, changes, err := s.runner.RunTask(taskCtx, task, prompt)
		if cancel != nil {
			cancel()
		}
		if ctx.Err() != nil {
			mu.Lock()
			p.Status = StatusCancelled
			p.LastError = ctx.Err().Error()
			mu.Unlock()
			return
		}

		if err != nil {
			errMsg := err.Error()
			if taskCtx.Err() == context.DeadlineExceeded {
				errMsg = "timeout: " + errMsg
			}
			category := failure.ClassifyError(errMsg, "")

			mu.Lock()
			p.LastError = errMsg
			mu.Unlock()

			retry := false
			switch category {
			case failure.ClassTransient:
				retry = attempt <= task.MaxRetries
			case failure.ClassLogic:
				if !logicRetried {
					retry = true
					logicRetried = true
					promptSuffix = fmt.Sprintf("\n\nThe previous attempt failed with:\n%s\nFix this specific error.", errMsg)
				}
			}

			if retry {
				mu.Lock()
				p.Status = StatusRetrying
				mu.Unlock()
				logging.Barrier("task %s: %s failure, retrying (attempt=%d)", task.TaskID, category, attempt)
				continue
			}

			mu.Lock()
			p.Status = StatusError
			mu.Unlock()
			logging.Get(logging.CategoryBarrier).Error("task %s: terminal %s failure: %s", task.TaskID, category, errMsg)
			return
		}

		if stuck != nil {
			stuck.Track("task_output", map[string]interface{}{"taskId": task.TaskID, "path": task.TaskID})
		}

		broadcasts, taskComplete := taskbus.ParseTaskOutput(output)
		for _, b := range broadcasts {
			s.bus.Publish(task.TaskID, b.Key, b.Value, b.Topic)
		}

		mu.Lock()
		if taskComplete {
			*completionSeen = true
		}
		for i := range changes {
			changes[i].StageID = stage.StageID
			changes[i].TaskID = task.TaskID
		}
		*fileChanges = append(*fileChanges, changes...)
		p.Status = StatusCompleted
		p.LastReply = output
		mu.Unlock()
		return
	}
}

// composePrompt builds a task's input as task.prompt prefixed by the
// task-bus delta and the prior-stage context, plus an optional
// error-annotated suffix for a logic-error retry (spec.md §4.5).
func composePrompt(task plan.Task, priorContext string, bus *taskbus.Bus, suffix string) string {
	var delta string
	if bus != nil {
		delta = bus.ToDeltaString(0)
	}
	prompt := task.Prompt
	if delta != "" {
		prompt = delta + "\n\n" + prompt
	}
	if priorContext != "" {
		prompt = priorContext + "\n\n" + prompt
	}
	return prompt + suffix
}
