package barrier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"longagent/internal/contracts"
	"longagent/internal/failure"
	"longagent/internal/plan"
	"longagent/internal/taskbus"
)

// fakeRunner drives RunTask from a caller-supplied function per task ID.
type fakeRunner struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(taskID string, attempt int) (string, []contracts.FileChange, error)
}

func newFakeRunner(fn func(taskID string, attempt int) (string, []contracts.FileChange, error)) *fakeRunner {
	return &fakeRunner{calls: map[string]int{}, fn: fn}
}

func (f *fakeRunner) RunTask(ctx context.Context, task plan.Task, prompt string) (string, []contracts.FileChange, error) {
	f.mu.Lock()
	f.calls[task.TaskID]++
	attempt := f.calls[task.TaskID]
	f.mu.Unlock()
	return f.fn(task.TaskID, attempt)
}

func basicTask(id string, maxRetries int) plan.Task {
	return plan.Task{TaskID: id, Prompt: "do " + id, MaxRetries: maxRetries, TimeoutMs: 5000}
}

func TestRunStage_AllSucceed(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := newFakeRunner(func(taskID string, attempt int) (string, []contracts.FileChange, error) {
		return "[TASK_COMPLETE]", nil, nil
	})
	bus := taskbus.New(0, nil)
	sched := New(runner, bus, 4)

	stage := plan.Stage{StageID: "s0", Tasks: []plan.Task{basicTask("t1", 0), basicTask("t2", 0)}}

	result, err := sched.RunStage(context.Background(), stage, nil, "", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.AllSuccess)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailCount)
	assert.True(t, result.CompletionMarkerSeen)
	assert.Equal(t, StatusCompleted, result.TaskProgress["t1"].Status)
	assert.Equal(t, StatusCompleted, result.TaskProgress["t2"].Status)
}

func TestRunStage_TransientFailureThenRetrySucceeds(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := newFakeRunner(func(taskID string, attempt int) (string, []contracts.FileChange, error) {
		if taskID == "flaky" && attempt == 1 {
			return "", nil, fmt.Errorf("ECONNRESET while calling tool")
		}
		return "ok", nil, nil
	})
	bus := taskbus.New(0, nil)
	sched := New(runner, bus, 2)

	stage := plan.Stage{StageID: "s0", Tasks: []plan.Task{basicTask("flaky", 2), basicTask("stable", 0)}}

	result, err := sched.RunStage(context.Background(), stage, nil, "", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.AllSuccess)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 2, result.TaskProgress["flaky"].Attempt)
	assert.Equal(t, StatusCompleted, result.TaskProgress["flaky"].Status)
}

func TestRunStage_PermanentFailureFailsFast(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := newFakeRunner(func(taskID string, attempt int) (string, []contracts.FileChange, error) {
		return "", nil, fmt.Errorf("ENOENT: no such file or directory")
	})
	bus := taskbus.New(0, nil)
	sched := New(runner, bus, 1)

	stage := plan.Stage{StageID: "s0", Tasks: []plan.Task{basicTask("t1", 5)}}

	result, err := sched.RunStage(context.Background(), stage, nil, "", nil, nil)
	require.NoError(t, err)
	assert.False(t, result.AllSuccess)
	assert.Equal(t, 1, result.FailCount)
	assert.Equal(t, 1, result.TaskProgress["t1"].Attempt)
	assert.Equal(t, StatusError, result.TaskProgress["t1"].Status)
}

func TestRunStage_LogicFailureRetriesOnceThenFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := newFakeRunner(func(taskID string, attempt int) (string, []contracts.FileChange, error) {
		return "", nil, fmt.Errorf("TypeError: x is not a function")
	})
	bus := taskbus.New(0, nil)
	sched := New(runner, bus, 1)

	stage := plan.Stage{StageID: "s0", Tasks: []plan.Task{basicTask("t1", 5)}}

	result, err := sched.RunStage(context.Background(), stage, nil, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.TaskProgress["t1"].Status)
	assert.Equal(t, 2, result.TaskProgress["t1"].Attempt, "logic errors retry exactly once")
}

func TestRunStage_BoundedParallelism(t *testing.T) {
	defer goleak.VerifyNone(t)

	var inFlight, maxInFlight int32
	runner := newFakeRunner(func(taskID string, attempt int) (string, []contracts.FileChange, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return "ok", nil, nil
	})
	bus := taskbus.New(0, nil)
	sched := New(runner, bus, 2)

	var tasks []plan.Task
	for i := 0; i < 8; i++ {
		tasks = append(tasks, basicTask(fmt.Sprintf("t%d", i), 0))
	}
	stage := plan.Stage{StageID: "s0", Tasks: tasks}

	result, err := sched.RunStage(context.Background(), stage, nil, "", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.AllSuccess)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}

func TestRunStage_BroadcastsPublishedToBus(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := newFakeRunner(func(taskID string, attempt int) (string, []contracts.FileChange, error) {
		if taskID == "producer" {
			return "[TASK_BROADCAST: interfaceName=AddFn]", nil, nil
		}
		return "consumed", nil, nil
	})
	bus := taskbus.New(0, nil)
	sched := New(runner, bus, 2)

	stage := plan.Stage{StageID: "s0", Tasks: []plan.Task{basicTask("producer", 0), basicTask("consumer", 0)}}

	_, err := sched.RunStage(context.Background(), stage, nil, "", nil, nil)
	require.NoError(t, err)

	v, ok := bus.Get("interfaceName")
	require.True(t, ok)
	assert.Equal(t, "AddFn", v)
}

func TestRunStage_CancellationMarksRemainingCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	runner := newFakeRunner(func(taskID string, attempt int) (string, []contracts.FileChange, error) {
		<-release
		return "ok", nil, nil
	})
	bus := taskbus.New(0, nil)
	sched := New(runner, bus, 3)

	stage := plan.Stage{StageID: "s0", Tasks: []plan.Task{basicTask("t1", 0), basicTask("t2", 0)}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
		close(release)
	}()

	result, err := sched.RunStage(ctx, stage, nil, "", nil, nil)
	require.NoError(t, err)
	assert.False(t, result.AllSuccess)
	for _, p := range result.TaskProgress {
		assert.Contains(t, []Status{StatusCancelled, StatusCompleted}, p.Status)
	}
}

func TestRunStage_OnTaskCompleteCalledPerTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := newFakeRunner(func(taskID string, attempt int) (string, []contracts.FileChange, error) {
		return "ok", nil, nil
	})
	bus := taskbus.New(0, nil)
	sched := New(runner, bus, 2)

	stage := plan.Stage{StageID: "s0", Tasks: []plan.Task{basicTask("t1", 0), basicTask("t2", 0)}}

	var mu sync.Mutex
	seen := map[string]bool{}
	onComplete := func(stageID string, p *Progress) error {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "s0", stageID)
		seen[p.TaskID] = true
		return nil
	}

	_, err := sched.RunStage(context.Background(), stage, nil, "", nil, onComplete)
	require.NoError(t, err)
	assert.True(t, seen["t1"])
	assert.True(t, seen["t2"])
}

func TestRunStage_OnTaskCompleteErrorsAreAggregated(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := newFakeRunner(func(taskID string, attempt int) (string, []contracts.FileChange, error) {
		return "ok", nil, nil
	})
	bus := taskbus.New(0, nil)
	sched := New(runner, bus, 2)

	stage := plan.Stage{StageID: "s0", Tasks: []plan.Task{basicTask("t1", 0), basicTask("t2", 0)}}

	onComplete := func(stageID string, p *Progress) error {
		return fmt.Errorf("disk full writing %s", p.TaskID)
	}

	_, err := sched.RunStage(context.Background(), stage, nil, "", nil, onComplete)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "t1")
	assert.Contains(t, err.Error(), "t2")
}

func TestRunStage_SeedSkipsAlreadyTerminalTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := newFakeRunner(func(taskID string, attempt int) (string, []contracts.FileChange, error) {
		return "ok", nil, nil
	})
	bus := taskbus.New(0, nil)
	sched := New(runner, bus, 2)

	stage := plan.Stage{StageID: "s0", Tasks: []plan.Task{basicTask("t1", 0), basicTask("t2", 0)}}
	seed := map[string]*Progress{
		"t1": {TaskID: "t1", Status: StatusCompleted, Attempt: 1, LastReply: "already done"},
	}

	result, err := sched.RunStage(context.Background(), stage, seed, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, runner.calls["t1"], "seeded completed task must not re-run")
	assert.Equal(t, 1, runner.calls["t2"])
	assert.Equal(t, "already done", result.TaskProgress["t1"].LastReply)
}

func TestRunStage_RunsWithStuckTracker(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := newFakeRunner(func(taskID string, attempt int) (string, []contracts.FileChange, error) {
		return "ok", nil, nil
	})
	bus := taskbus.New(0, nil)
	sched := New(runner, bus, 1)
	tracker := failure.NewStuckTracker(0)

	stage := plan.Stage{StageID: "s0", Tasks: []plan.Task{basicTask("t1", 0)}}

	_, err := sched.RunStage(context.Background(), stage, nil, "", tracker, nil)
	require.NoError(t, err)
}
