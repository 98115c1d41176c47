package failure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"longagent/internal/contracts"
)

func TestStuckTracker_ExcessiveReadOnlyExploration(t *testing.T) {
	tr := NewStuckTracker(DefaultWindowSize)

	var last StuckTrackResult
	for i := 0; i < 3; i++ {
		last = tr.Track(contracts.ToolRead, map[string]interface{}{"path": "a.go"})
		assert.False(t, last.IsStuck, "round %d should not yet be stuck", i+1)
	}
	last = tr.Track(contracts.ToolGrep, map[string]interface{}{"query": "foo"})
	require.True(t, last.IsStuck)
	assert.Equal(t, ReasonExcessiveReadOnly, last.Reason)
	assert.NotEmpty(t, last.Warning)
}

func TestStuckTracker_WriteLoopDetected(t *testing.T) {
	tr := NewStuckTracker(DefaultWindowSize)

	tr.Track(contracts.ToolEdit, map[string]interface{}{"path": "src/app.go"})
	tr.Track(contracts.ToolEdit, map[string]interface{}{"path": "src/app.go"})
	last := tr.Track(contracts.ToolEdit, map[string]interface{}{"path": "src/app.go"})

	require.True(t, last.IsStuck)
	assert.Equal(t, ReasonWriteLoop, last.Reason)
}

func TestStuckTracker_EditCycleDetected(t *testing.T) {
	tr := NewStuckTracker(DefaultWindowSize)

	tr.Track(contracts.ToolWrite, map[string]interface{}{"path": "src/app.go"})
	tr.Track(contracts.ToolEdit, map[string]interface{}{"path": "src/app.go"})
	tr.Track(contracts.ToolWrite, map[string]interface{}{"path": "src/app.go"})
	last := tr.Track(contracts.ToolEdit, map[string]interface{}{"path": "src/app.go"})

	require.True(t, last.IsStuck)
	assert.Equal(t, ReasonEditCycle, last.Reason)
}

func TestStuckTracker_RepeatedConfigFileGlob(t *testing.T) {
	tr := NewStuckTracker(DefaultWindowSize)

	patterns := []string{"*.json", "*.yaml", "tsconfig.json", ".env", "*.yaml", "*.json"}
	var last StuckTrackResult
	for _, p := range patterns {
		last = tr.Track(contracts.ToolGlob, map[string]interface{}{"pattern": p})
	}
	require.True(t, last.IsStuck)
	assert.Equal(t, ReasonRepeatedConfigGlob, last.Reason)
}

func TestStuckTracker_ToolCycleDetected(t *testing.T) {
	tr := NewStuckTracker(DefaultWindowSize)

	var last StuckTrackResult
	for i := 0; i < 6; i++ {
		last = tr.Track(contracts.ToolGrep, map[string]interface{}{"query": "foo"})
	}
	require.True(t, last.IsStuck)
	assert.Equal(t, ReasonToolCycle, last.Reason)
}

func TestStuckTracker_WarningInjectedOnlyOnce(t *testing.T) {
	tr := NewStuckTracker(DefaultWindowSize)

	for i := 0; i < 3; i++ {
		tr.Track(contracts.ToolRead, map[string]interface{}{"path": "a.go"})
	}
	first := tr.Track(contracts.ToolRead, map[string]interface{}{"path": "b.go"})
	require.True(t, first.IsStuck)
	require.NotEmpty(t, first.Warning)

	second := tr.Track(contracts.ToolRead, map[string]interface{}{"path": "c.go"})
	require.True(t, second.IsStuck)
	assert.Empty(t, second.Warning, "warning must not repeat while the same condition stays active")
}

func TestStuckTracker_NoFalsePositiveOnMixedActivity(t *testing.T) {
	tr := NewStuckTracker(DefaultWindowSize)

	tr.Track(contracts.ToolRead, map[string]interface{}{"path": "a.go"})
	tr.Track(contracts.ToolEdit, map[string]interface{}{"path": "a.go"})
	last := tr.Track(contracts.ToolRead, map[string]interface{}{"path": "b.go"})

	assert.False(t, last.IsStuck)
}
