// Package failure implements the failure-detection primitives of spec.md
// §4.6/§7: an error classifier, a stuck-loop tracker, a semantic error
// tracker, and a monotonic degradation chain. The classification heuristics
// follow the teacher's campaign.classifyTaskError
// (internal/campaign/orchestrator_failure.go) generalized from the
// teacher's two-way {transient, logic} split to the spec's four-way
// taxonomy.
package failure

import "strings"

// Class is the four-way error taxonomy used for retry gating (spec.md §7).
// It is distinct from contracts.ErrorClass, which classifies LLM-adapter
// HTTP-style failures; Class classifies the text of a task/tool error.
type Class string

const (
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
	ClassLogic     Class = "logic"
	ClassUnknown   Class = "unknown"
)

var transientHints = []string{
	"econnreset",
	"timeout",
	"context deadline",
	"rate limit",
	"too many requests",
	"temporar",
	"connection",
	"unavailable",
	"network",
	"i/o",
	"econnrefused",
	"epipe",
	"worker interrupted",
}

var permanentHints = []string{
	"enoent",
	"permission denied",
	"eacces",
	"no such file",
	"missing configuration",
	"missing module",
	"cannot find module",
	"cancelled",
	"canceled",
}

var logicHints = []string{
	"syntaxerror",
	"typeerror",
	"referenceerror",
	"rangeerror",
	"assertionerror",
}

// ClassifyError maps error text to the four-way taxonomy using
// case-insensitive substring matching, per spec.md §7/§8. statusHint is an
// optional background-status string (e.g. an HTTP-adapter class) consulted
// when the message text alone is inconclusive; pass "" when unavailable.
func ClassifyError(message string, statusHint string) Class {
	msg := strings.ToLower(message)

	for _, h := range permanentHints {
		if strings.Contains(msg, h) {
			return ClassPermanent
		}
	}
	for _, h := range transientHints {
		if strings.Contains(msg, h) {
			return ClassTransient
		}
	}
	for _, h := range logicHints {
		if strings.Contains(msg, h) {
			return ClassLogic
		}
	}

	switch strings.ToLower(statusHint) {
	case "transient", "server", "rate_limit":
		return ClassTransient
	case "permanent", "bad_request":
		return ClassPermanent
	}

	return ClassUnknown
}

// IsRetryable reports whether class is eligible for any retry at all.
// Permanent and unknown errors are never retried (spec.md §7); transient
// and logic errors are retried under their own budgets.
func IsRetryable(c Class) bool {
	return c == ClassTransient || c == ClassLogic
}
