package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_EmptyInput(t *testing.T) {
	r := Classify("   ")
	assert.Equal(t, ModeAsk, r.Mode)
	assert.Equal(t, ConfidenceHigh, r.Confidence)
	assert.Equal(t, "empty_input", r.Reason)
}

func TestClassify_TrivialGreetings(t *testing.T) {
	for _, prompt := range []string{"hi", "你好"} {
		r := Classify(prompt)
		assert.Equal(t, ModeAsk, r.Mode, "prompt %q", prompt)
		assert.Contains(t, []Confidence{ConfidenceLow, ConfidenceHigh}, r.Confidence, "prompt %q", prompt)
		assert.NotEqual(t, ModeLongAgent, r.Mode)
	}
}

func TestClassify_RefactorEntireCodebase(t *testing.T) {
	r := Classify("Please refactor the entire codebase to use the new logging API")
	assert.Equal(t, ModeLongAgent, r.Mode)
	assert.Equal(t, ConfidenceHigh, r.Confidence)
}

func TestClassify_InterrogativeWithExplain(t *testing.T) {
	r := Classify("What does this function do?")
	assert.Equal(t, ModeAsk, r.Mode)
	assert.Equal(t, ConfidenceHigh, r.Confidence)
}

func TestClassify_ShortInterrogative(t *testing.T) {
	r := Classify("Where is the config file?")
	assert.Equal(t, ModeAsk, r.Mode)
	assert.Equal(t, ConfidenceMedium, r.Confidence)
}

func TestClassify_PlanningKeyword(t *testing.T) {
	r := Classify("Design an approach for adding rate limiting to the API")
	assert.Equal(t, ModePlan, r.Mode)
	assert.Equal(t, ConfidenceMedium, r.Confidence)
}

func TestClassify_LongAgentKeywords(t *testing.T) {
	cases := []string{
		"Migrate the auth service to the new token format",
		"Implement a system for background job scheduling end-to-end",
		"This change needs to be multi-file across services",
	}
	for _, prompt := range cases {
		r := Classify(prompt)
		assert.Equal(t, ModeLongAgent, r.Mode, "prompt %q", prompt)
		assert.Equal(t, ConfidenceHigh, r.Confidence, "prompt %q", prompt)
	}
}

func TestClassify_LongNonInterrogativeFallsToLongAgent(t *testing.T) {
	long := strings.Repeat("context about the system and its constraints. ", 10)
	r := Classify(long)
	assert.Equal(t, ModeLongAgent, r.Mode)
	assert.Equal(t, ConfidenceMedium, r.Confidence)
}

func TestClassify_ImperativeAction(t *testing.T) {
	r := Classify("Fix the failing test in payment_test.go")
	assert.Equal(t, ModeAgent, r.Mode)
	assert.Equal(t, ConfidenceMedium, r.Confidence)
}

func TestClassify_LongNonInterrogativeAgentFallback(t *testing.T) {
	prompt := strings.Repeat("some descriptive context without a verb keyword here ", 2)
	r := Classify(prompt)
	assert.Equal(t, ModeAgent, r.Mode)
	assert.Equal(t, ConfidenceLow, r.Confidence)
}

func TestClassify_DefaultFallback(t *testing.T) {
	r := Classify("ok")
	assert.Equal(t, ModeAsk, r.Mode)
	assert.Equal(t, ConfidenceLow, r.Confidence)
}

func TestClassify_Deterministic(t *testing.T) {
	prompt := "Refactor the entire codebase to remove deprecated APIs"
	first := Classify(prompt)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Classify(prompt))
	}
}
