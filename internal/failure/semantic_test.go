package failure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractErrorClass(t *testing.T) {
	assert.Equal(t, "TypeError", ExtractErrorClass("TypeError: x is not a function"))
	assert.Equal(t, "", ExtractErrorClass("everything compiled cleanly"))
}

func TestSemanticErrorTracker_RepeatsAfterThreshold(t *testing.T) {
	tr := NewSemanticErrorTracker(3)

	r1 := tr.Track("TypeError: x.foo is not a function at line 12")
	assert.False(t, r1.IsRepeated)

	r2 := tr.Track("TypeError: x.foo is not a function at line 14")
	assert.False(t, r2.IsRepeated)

	r3 := tr.Track("TypeError: x.foo is not a function at line 20")
	require.True(t, r3.IsRepeated)
	assert.Equal(t, 3, r3.Streak)
}

func TestSemanticErrorTracker_DifferentClassResetsStreak(t *testing.T) {
	tr := NewSemanticErrorTracker(2)

	tr.Track("TypeError: x is not a function")
	r := tr.Track("ReferenceError: y is not defined")
	assert.False(t, r.IsRepeated)
	assert.Equal(t, 1, r.Streak)
}

func TestJaccardSimilarity(t *testing.T) {
	a := tokenize("Cannot read property foo of undefined object")
	b := tokenize("Cannot read property bar of undefined object")
	sim := jaccardSimilarity(a, b)
	assert.GreaterOrEqual(t, sim, 0.6)
}
