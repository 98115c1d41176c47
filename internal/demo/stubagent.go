// Package demo provides the in-memory stand-ins cmd/longagent wires the
// orchestrator against for manual exercise (SPEC_FULL.md §3): a scripted
// sub-agent, a local-filesystem tool executor, a shell-backed gate runner,
// and a console event sink. None of this is part of the orchestrator core
// — spec.md §1 places LLM providers, tool execution, and session storage
// out of scope as external collaborators; this package exists only so
// `longagent run` has something runnable to drive without a real LLM
// provider wired in.
package demo

import (
	"context"
	"fmt"
	"sync"

	"longagent/internal/contracts"
)

// StubAgent is a contracts.SubAgent that replies from a fixed script: one
// canned reply per call index, repeating the last entry once exhausted.
// Real deployments replace this with an adapter over internal/contracts.LLMAdapter
// and a genuine system prompt; this one exists purely to exercise the
// orchestrator's marker protocol end to end without a network call.
type StubAgent struct {
	mu      sync.Mutex
	name    string
	script  []string
	calls   int
	onCall  func(name string, call int, prompt string) // optional hook for CLI tracing
}

// NewStubAgent returns a StubAgent bound to name, replying with each of
// script's entries in order and repeating the final entry thereafter.
func NewStubAgent(name string, script []string, onCall func(name string, call int, prompt string)) *StubAgent {
	return &StubAgent{name: name, script: script, onCall: onCall}
}

func (a *StubAgent) Run(ctx context.Context, prompt string) (string, contracts.Usage, error) {
	a.mu.Lock()
	idx := a.calls
	a.calls++
	a.mu.Unlock()

	if len(a.script) == 0 {
		return "", contracts.Usage{}, fmt.Errorf("demo agent %s: empty script", a.name)
	}
	if idx >= len(a.script) {
		idx = len(a.script) - 1
	}
	reply := a.script[idx]
	if a.onCall != nil {
		a.onCall(a.name, idx, prompt)
	}

	usage := contracts.Usage{Input: len(prompt) / 4, Output: len(reply) / 4}
	select {
	case <-ctx.Done():
		return "", contracts.Usage{}, ctx.Err()
	default:
	}
	return reply, usage, nil
}
