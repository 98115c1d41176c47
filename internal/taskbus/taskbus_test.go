package taskbus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClock() func() int64 {
	n := int64(0)
	return func() int64 {
		n++
		return n
	}
}

func TestPublishAndGet(t *testing.T) {
	bus := New(0, fakeClock())
	bus.Publish("t1", "interface", "func Add(a, b int) int", "")

	v, ok := bus.Get("interface")
	require.True(t, ok)
	assert.Equal(t, "func Add(a, b int) int", v)

	_, ok = bus.Get("missing")
	assert.False(t, ok)
}

func TestGetByTopic(t *testing.T) {
	bus := New(0, fakeClock())
	bus.Publish("t1", "schema", "User{id,name}", "db")
	bus.Publish("t2", "unrelated", "x", "other")
	bus.Publish("t3", "migration", "001_init", "db")

	byTopic := bus.GetByTopic("db")
	assert.Len(t, byTopic, 2)
	assert.Equal(t, "User{id,name}", byTopic["schema"])
	assert.Equal(t, "001_init", byTopic["migration"])
}

func TestBus_BoundInvariant(t *testing.T) {
	bus := New(10, fakeClock())
	for i := 0; i < 100; i++ {
		bus.Publish("t1", fmt.Sprintf("key%d", i), "v", "")
		assert.LessOrEqual(t, bus.Len(), 10)
	}
}

func TestBus_DeltaCompleteness(t *testing.T) {
	bus := New(0, fakeClock())

	bus.Publish("t1", "a", "1", "")
	bus.Publish("t2", "b", "2", "")
	delta1 := bus.ToDeltaString(0)
	assert.Contains(t, delta1, "a = 1")
	assert.Contains(t, delta1, "b = 2")

	empty := bus.ToDeltaString(0)
	assert.Empty(t, empty, "immediately repeated delta call must return empty")

	bus.Publish("t3", "c", "3", "")
	delta2 := bus.ToDeltaString(0)
	assert.Contains(t, delta2, "c = 3")
	assert.NotContains(t, delta2, "a = 1", "delta must not repeat already-flushed messages")
}

func TestBus_EvictionShiftsFlushIndexBack(t *testing.T) {
	bus := New(5, fakeClock())
	for i := 0; i < 5; i++ {
		bus.Publish("t1", fmt.Sprintf("k%d", i), "v", "")
	}
	// Flush everything so far.
	bus.ToDeltaString(0)

	// Force eviction; remaining flush index must never go negative and
	// must still only surface genuinely new messages afterward.
	for i := 5; i < 9; i++ {
		bus.Publish("t1", fmt.Sprintf("k%d", i), "v", "")
	}
	delta := bus.ToDeltaString(0)
	assert.NotEmpty(t, delta)
	assert.NotContains(t, delta, "k4 = v", "already-flushed message surviving eviction must not repeat")
}

func TestParseTaskOutput_SimpleValue(t *testing.T) {
	text := "Implemented the change. [TASK_BROADCAST: interfaceName=AddFn] Done."
	broadcasts, complete := ParseTaskOutput(text)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, "interfaceName", broadcasts[0].Key)
	assert.Equal(t, "AddFn", broadcasts[0].Value)
	assert.False(t, complete)
}

func TestParseTaskOutput_TopicScopedKey(t *testing.T) {
	text := "[TASK_BROADCAST: schema@db=User{id,name}]"
	broadcasts, _ := ParseTaskOutput(text)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, "schema", broadcasts[0].Key)
	assert.Equal(t, "db", broadcasts[0].Topic)
	assert.Equal(t, "User{id,name}", broadcasts[0].Value)
}

func TestParseTaskOutput_NestedJSONValue(t *testing.T) {
	text := `[TASK_BROADCAST: config={"retries": 3, "items": [1, 2, 3]}] trailing text`
	broadcasts, _ := ParseTaskOutput(text)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, "config", broadcasts[0].Key)
	assert.Equal(t, `{"retries": 3, "items": [1, 2, 3]}`, broadcasts[0].Value)
}

func TestParseTaskOutput_TaskCompleteMarker(t *testing.T) {
	_, complete := ParseTaskOutput("All tests pass. [TASK_COMPLETE]")
	assert.True(t, complete)
}

func TestParseTaskOutput_UnterminatedMarkerIsSkipped(t *testing.T) {
	text := "partial output [TASK_BROADCAST: key=value without closing bracket"
	broadcasts, _ := ParseTaskOutput(text)
	assert.Empty(t, broadcasts)
}

func TestParseTaskOutput_MultipleMarkers(t *testing.T) {
	text := "[TASK_BROADCAST: a=1] middle text [TASK_BROADCAST: b=2]"
	broadcasts, _ := ParseTaskOutput(text)
	require.Len(t, broadcasts, 2)
	assert.Equal(t, "a", broadcasts[0].Key)
	assert.Equal(t, "b", broadcasts[1].Key)
}
