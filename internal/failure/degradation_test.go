package failure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_FixedOrderAndMonotonic(t *testing.T) {
	c := NewChain("claude-opus", "claude-haiku", true, 4)

	require.True(t, c.CanDegrade())
	r1 := c.Apply()
	require.True(t, r1.Applied)
	assert.Equal(t, StrategySwitchModel, r1.Strategy)
	assert.Equal(t, "claude-haiku", c.CurrentModel)

	r2 := c.Apply()
	require.True(t, r2.Applied)
	assert.Equal(t, StrategyReduceScope, r2.Strategy)

	r3 := c.Apply()
	require.True(t, r3.Applied)
	assert.Equal(t, StrategySerialMode, r3.Strategy)
	assert.Equal(t, 1, c.MaxParallelTasks)

	require.True(t, c.CanDegrade())
	r4 := c.Apply()
	require.True(t, r4.Applied)
	assert.Equal(t, StrategyGracefulStop, r4.Strategy)
	assert.True(t, c.ShouldStop)

	assert.False(t, c.CanDegrade())
	r5 := c.Apply()
	assert.False(t, r5.Applied, "chain must never rewind or repeat past graceful_stop")
}

func TestChain_SkipsSwitchModelWhenNoFallbackConfigured(t *testing.T) {
	c := NewChain("claude-opus", "", true, 4)

	r1 := c.Apply()
	require.True(t, r1.Applied)
	assert.Equal(t, StrategyReduceScope, r1.Strategy, "switch_model must be skipped with no distinct fallback model")
	assert.Equal(t, "claude-opus", c.CurrentModel)
}
