// Package classifier implements the Objective Classifier (spec.md §4.1): a
// pure text-in, classification-out function with no side effects, state,
// or I/O. It follows the teacher's rule-cascade shape from
// internal/core/intent_inference.go (ordered keyword matching, first-match
// wins, explicit verb/keyword tables) generalized from verb inference to
// mode+confidence classification.
package classifier

import (
	"strings"
	"unicode/utf8"
)

// Mode is the routing decision fed to the Engine (spec.md §2).
type Mode string

const (
	ModeAsk       Mode = "ask"
	ModePlan      Mode = "plan"
	ModeAgent     Mode = "agent"
	ModeLongAgent Mode = "longagent"
)

// Confidence is the classifier's self-reported certainty.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Result is the classifier's output (spec.md §4.1).
type Result struct {
	Mode       Mode
	Confidence Confidence
	Reason     string
}

// interrogativeOpeners are question forms, English and CJK, checked
// case-insensitively against the trimmed prompt: first as a prompt
// prefix, then anywhere in the prompt.
var interrogativeOpeners = []string{
	"what", "why", "how", "when", "where", "who", "which", "can you", "could you", "is it", "are there", "do you",
	"什么", "为什么", "怎么", "怎样", "哪个", "哪里", "谁", "是否", "可以吗", "能不能",
}

// explainIntentKeywords signal the user wants an explanation rather than a
// change.
var explainIntentKeywords = []string{
	"explain", "describe", "what does", "what is", "how does", "understand", "clarify", "walk me through",
	"解释", "说明", "讲解", "理解",
}

// planningIntentKeywords signal the user wants a plan/design artifact
// without execution.
var planningIntentKeywords = []string{
	"plan", "design", "architect", "blueprint", "roadmap", "proposal",
	"计划", "设计", "架构", "蓝图", "方案",
}

// longAgentKeywords signal a large multi-file, multi-stage objective.
var longAgentKeywords = []string{
	"multi-file", "multi file", "refactor", "migrate", "migration", "overhaul", "end-to-end", "end to end",
	"multi-stage", "multi stage", "rewrite the", "implement a system", "implement the system", "implement a module",
	"implement the module", "implement a platform", "implement the platform", "across the codebase",
	"entire codebase",
	"重构", "迁移", "端到端", "多阶段", "整个代码库", "多文件",
}

// imperativeActionKeywords signal a bounded, single-turn action.
var imperativeActionKeywords = []string{
	"fix", "debug", "update", "run", "add", "remove", "delete", "rename", "bump", "patch", "install",
	"修复", "调试", "更新", "运行", "添加", "删除", "重命名", "安装",
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func hasInterrogativeOpener(lower string) bool {
	trimmed := strings.TrimSpace(lower)
	for _, opener := range interrogativeOpeners {
		if strings.HasPrefix(trimmed, opener) {
			return true
		}
	}
	return containsAny(trimmed, interrogativeOpeners)
}

// runeLen returns the length of s in runes, since CJK prompts pack far more
// meaning per byte than the length thresholds (tuned for ASCII) intend.
func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Classify applies spec.md §4.1's ordered rule cascade to prompt and
// returns the first matching rule's result.
func Classify(prompt string) Result {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return Result{Mode: ModeAsk, Confidence: ConfidenceHigh, Reason: "empty_input"}
	}

	lower := strings.ToLower(trimmed)
	length := runeLen(trimmed)
	interrogative := hasInterrogativeOpener(lower)

	if interrogative && containsAny(lower, explainIntentKeywords) {
		return Result{Mode: ModeAsk, Confidence: ConfidenceHigh, Reason: "interrogative_and_explain_keyword"}
	}
	if interrogative && length < 80 {
		return Result{Mode: ModeAsk, Confidence: ConfidenceMedium, Reason: "interrogative_opener"}
	}

	isLongAgent := containsAny(lower, longAgentKeywords)

	if containsAny(lower, planningIntentKeywords) && length < 200 && !isLongAgent {
		return Result{Mode: ModePlan, Confidence: ConfidenceMedium, Reason: "planning_keyword"}
	}
	if isLongAgent {
		return Result{Mode: ModeLongAgent, Confidence: ConfidenceHigh, Reason: "longagent_keyword"}
	}
	if length > 400 && !interrogative {
		return Result{Mode: ModeLongAgent, Confidence: ConfidenceMedium, Reason: "long_prompt"}
	}
	if containsAny(lower, imperativeActionKeywords) && length < 250 {
		return Result{Mode: ModeAgent, Confidence: ConfidenceMedium, Reason: "imperative_action_keyword"}
	}
	if length > 50 && !interrogative {
		return Result{Mode: ModeAgent, Confidence: ConfidenceLow, Reason: "long_non_interrogative"}
	}

	return Result{Mode: ModeAsk, Confidence: ConfidenceLow, Reason: "default"}
}
