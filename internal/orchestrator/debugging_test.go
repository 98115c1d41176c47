package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"longagent/internal/barrier"
	"longagent/internal/failure"
)

// TestResetTasksForRollback_LeavesSkippedTasksSkipped guards against a
// regression where an empty-ids rollback (no [FAILED_TASK: …] lines)
// resurrected skipped tasks into the retry pool. spec.md's rollback rule
// only resets error tasks; skipped is a terminal, non-retry-eligible
// status regardless of whether the rollback names specific ids.
func TestResetTasksForRollback_LeavesSkippedTasksSkipped(t *testing.T) {
	sess := newSession("s1", "objective", failure.NewChain("", "", false, 1))
	sess.TaskProgress["task-error"] = &barrier.Progress{TaskID: "task-error", Status: barrier.StatusError, LastError: "boom"}
	sess.TaskProgress["task-skipped"] = &barrier.Progress{TaskID: "task-skipped", Status: barrier.StatusSkipped, SkipReason: "permanent error not eligible for retry"}

	resetTasksForRollback(sess, nil)

	require.Equal(t, barrier.StatusRetrying, sess.TaskProgress["task-error"].Status)
	require.Empty(t, sess.TaskProgress["task-error"].LastError)
	require.Equal(t, barrier.StatusSkipped, sess.TaskProgress["task-skipped"].Status)
	require.Equal(t, "permanent error not eligible for retry", sess.TaskProgress["task-skipped"].SkipReason)
}

// TestResetTasksForRollback_NamedIdsIgnoreSkipped mirrors the same rule
// when the rollback does name specific ids: a named but skipped task is
// not resurrected either.
func TestResetTasksForRollback_NamedIdsIgnoreSkipped(t *testing.T) {
	sess := newSession("s2", "objective", failure.NewChain("", "", false, 1))
	sess.TaskProgress["task-error"] = &barrier.Progress{TaskID: "task-error", Status: barrier.StatusError, LastError: "boom"}
	sess.TaskProgress["task-skipped"] = &barrier.Progress{TaskID: "task-skipped", Status: barrier.StatusSkipped, SkipReason: "reduce_scope degradation"}

	resetTasksForRollback(sess, []string{"task-error", "task-skipped"})

	require.Equal(t, barrier.StatusRetrying, sess.TaskProgress["task-error"].Status)
	require.Equal(t, barrier.StatusSkipped, sess.TaskProgress["task-skipped"].Status)
}
