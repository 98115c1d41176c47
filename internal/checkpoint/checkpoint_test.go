package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"longagent/internal/plan"
)

func samplePlan() plan.StagePlan {
	return plan.StagePlan{
		PlanID:    "plan_1",
		Objective: "do the thing",
		Stages: []plan.Stage{
			{StageID: "stage_0", Name: "only", PassRule: plan.PassRuleAllSuccess, Tasks: []plan.Task{
				{TaskID: "t1", Prompt: "do it"},
			}},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := New(t.TempDir())

	rec := Record{
		Iteration:    1,
		Phase:        "H4",
		StageIndex:   0,
		StagePlan:    samplePlan(),
		LastProgress: "stage 1 in progress",
	}
	require.NoError(t, store.SaveCheckpoint("sess-1", rec))

	loaded := store.LoadCheckpoint("sess-1", "latest")
	require.NotNil(t, loaded)
	assert.Equal(t, "sess-1", loaded.SessionID)
	assert.Equal(t, 1, loaded.Iteration)
	assert.Equal(t, "H4", loaded.Phase)
	assert.Equal(t, "stage 1 in progress", loaded.LastProgress)
	assert.Equal(t, rec.StagePlan.Objective, loaded.StagePlan.Objective)

	numbered := store.LoadCheckpoint("sess-1", "cp_1")
	require.NotNil(t, numbered)
	assert.Equal(t, loaded.SavedAt.Unix(), numbered.SavedAt.Unix())
}

func TestLoadCheckpoint_MissingReturnsNil(t *testing.T) {
	store := New(t.TempDir())
	assert.Nil(t, store.LoadCheckpoint("nonexistent", "latest"))
}

func TestLoadCheckpoint_CorruptReturnsNil(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	sessDir := filepath.Join(dir, "sess-2")
	require.NoError(t, store.writeAtomic(filepath.Join(sessDir, "latest.json"), []byte("not json")))

	assert.Nil(t, store.LoadCheckpoint("sess-2", "latest"))
}

func TestTaskCheckpointRoundTrip(t *testing.T) {
	store := New(t.TempDir())

	require.NoError(t, store.SaveTaskCheckpoint("sess-1", "stage_0", "t1", map[string]string{"status": "completed"}))
	require.NoError(t, store.SaveTaskCheckpoint("sess-1", "stage_0", "t2", map[string]string{"status": "error"}))
	require.NoError(t, store.SaveTaskCheckpoint("sess-1", "stage_1", "t3", map[string]string{"status": "completed"}))

	byTask := store.LoadTaskCheckpoints("sess-1", "stage_0")
	require.Len(t, byTask, 2)
	assert.Contains(t, byTask, "t1")
	assert.Contains(t, byTask, "t2")
	assert.NotContains(t, byTask, "t3")
}

func TestListCheckpoints_SortedAndIncludesLatest(t *testing.T) {
	store := New(t.TempDir())

	require.NoError(t, store.SaveCheckpoint("sess-1", Record{Iteration: 1, StagePlan: samplePlan()}))
	require.NoError(t, store.SaveCheckpoint("sess-1", Record{Iteration: 2, StagePlan: samplePlan()}))

	names := store.ListCheckpoints("sess-1")
	require.Contains(t, names, "latest")
	assert.True(t, isSorted(names))
}

func isSorted(xs []string) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i-1] > xs[i] {
			return false
		}
	}
	return true
}

func TestCleanupCheckpoints_KeepsMaxKeepAndLatest(t *testing.T) {
	store := New(t.TempDir())

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.SaveCheckpoint("sess-1", Record{Iteration: i, StagePlan: samplePlan()}))
	}
	require.NoError(t, store.SaveTaskCheckpoint("sess-1", "stage_0", "t1", map[string]string{"status": "completed"}))

	require.NoError(t, store.CleanupCheckpoints("sess-1", CleanupOptions{MaxKeep: 2, KeepStageCheckpoints: true}))

	names := store.ListCheckpoints("sess-1")
	assert.Contains(t, names, "latest")
	assert.Contains(t, names, "cp_5")
	assert.Contains(t, names, "cp_4")
	assert.NotContains(t, names, "cp_3")
	assert.NotContains(t, names, "cp_1")
	assert.Contains(t, names, "task_stage_0_t1")
}

func TestCleanupCheckpoints_DropsTaskCheckpointsWhenNotKept(t *testing.T) {
	store := New(t.TempDir())

	require.NoError(t, store.SaveCheckpoint("sess-1", Record{Iteration: 1, StagePlan: samplePlan()}))
	require.NoError(t, store.SaveTaskCheckpoint("sess-1", "stage_0", "t1", map[string]string{"status": "completed"}))

	require.NoError(t, store.CleanupCheckpoints("sess-1", CleanupOptions{MaxKeep: 5, KeepStageCheckpoints: false}))

	names := store.ListCheckpoints("sess-1")
	assert.NotContains(t, names, "task_stage_0_t1")
}

func TestValidateCheckpoint(t *testing.T) {
	p := samplePlan()

	assert.True(t, ValidateCheckpoint(&Record{StageIndex: 0, StagePlan: p}))
	assert.True(t, ValidateCheckpoint(&Record{StageIndex: 1, StagePlan: p}))
	assert.False(t, ValidateCheckpoint(&Record{StageIndex: 2, StagePlan: p}))
	assert.False(t, ValidateCheckpoint(nil))
}
