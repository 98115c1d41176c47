package failure

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"longagent/internal/contracts"
	"longagent/internal/logging"
)

// StuckReason names one of the five trigger patterns the stuck tracker
// recognizes (spec.md §4.6).
type StuckReason string

const (
	ReasonRepeatedConfigGlob  StuckReason = "repeated_config_file_glob"
	ReasonToolCycle           StuckReason = "tool_cycle_detected"
	ReasonExcessiveReadOnly   StuckReason = "excessive_read_only_exploration"
	ReasonWriteLoop           StuckReason = "write_loop_detected"
	ReasonEditCycle           StuckReason = "edit_cycle_detected"
)

// DefaultWindowSize is the default number of recent tool-call signatures
// the tracker retains, per spec.md §4.6 ("last N (default 10)").
const DefaultWindowSize = 10

type toolEvent struct {
	tool      string
	signature string
	readOnly  bool
	writing   bool
	path      string
}

// StuckTrackResult is the outcome of one StuckTracker.Track call.
type StuckTrackResult struct {
	IsStuck bool
	Reason  StuckReason
	Warning string
}

// StuckTracker detects tool-call patterns indicating the sub-agent has
// ceased making forward progress. Track and Reset take an internal mutex,
// so one tracker may be shared by concurrent callers; the orchestrator
// hands the barrier one tracker per stage, shared by that stage's tasks.
type StuckTracker struct {
	mu         sync.Mutex
	windowSize int
	events     []toolEvent
	writes     []toolEvent
	pending    string
	warned     bool
}

// NewStuckTracker returns a tracker retaining the last windowSize
// tool-call signatures. windowSize <= 0 uses DefaultWindowSize.
func NewStuckTracker(windowSize int) *StuckTracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &StuckTracker{windowSize: windowSize}
}

func signatureFor(tool string, args map[string]interface{}) string {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	return fmt.Sprintf("%s:%s", tool, argsJSON)
}

func pathFromArgs(args map[string]interface{}) string {
	for _, key := range []string{"path", "file", "filePath", "notebook_path"} {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

var configFileHints = []string{
	".json", ".yaml", ".yml", ".toml", ".ini", ".env", "config", "tsconfig", ".eslintrc", ".babelrc",
}

func looksLikeConfigGlob(args map[string]interface{}) bool {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		pattern, _ = args["query"].(string)
	}
	p := strings.ToLower(pattern)
	for _, hint := range configFileHints {
		if strings.Contains(p, hint) {
			return true
		}
	}
	return false
}

// Track records one tool invocation and re-evaluates every stuck pattern.
// On trigger it returns IsStuck=true and a Warning string intended for
// injection into the next sub-agent prompt. While successive Track calls
// stay stuck (for any reason) no further Warning is returned; the latch
// clears on the next Track call that is not stuck, or on Reset
// (spec.md: "injected ... exactly once").
func (t *StuckTracker) Track(tool string, args map[string]interface{}) StuckTrackResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev := toolEvent{
		tool:      tool,
		signature: signatureFor(tool, args),
		readOnly:  contracts.ReadOnlyTools[tool],
		writing:   contracts.WritingTools[tool],
	}
	if ev.writing {
		ev.path = pathFromArgs(args)
	}

	t.events = append(t.events, ev)
	if len(t.events) > t.windowSize {
		t.events = t.events[len(t.events)-t.windowSize:]
	}
	if ev.writing {
		t.writes = append(t.writes, ev)
		if len(t.writes) > t.windowSize {
			t.writes = t.writes[len(t.writes)-t.windowSize:]
		}
	}

	if reason, ok := t.evaluate(tool, args); ok {
		if t.warned {
			return StuckTrackResult{IsStuck: true, Reason: reason}
		}
		t.warned = true
		warning := warningFor(reason)
		t.pending = warning
		logging.FailureDebug("stuck pattern detected: %s", reason)
		return StuckTrackResult{IsStuck: true, Reason: reason, Warning: warning}
	}

	t.warned = false
	return StuckTrackResult{}
}

// Reset clears the "already warned" latch so a future trigger of the same
// condition re-emits its warning. Call this once forward progress (a
// successful task completion) is observed.
func (t *StuckTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warned = false
	t.pending = ""
}

func (t *StuckTracker) evaluate(latestTool string, latestArgs map[string]interface{}) (StuckReason, bool) {
	if reason, ok := t.checkRepeatedConfigGlob(); ok {
		return reason, true
	}
	if reason, ok := t.checkToolCycle(); ok {
		return reason, true
	}
	if reason, ok := t.checkExcessiveReadOnly(); ok {
		return reason, true
	}
	if reason, ok := t.checkEditCycle(); ok {
		return reason, true
	}
	if reason, ok := t.checkWriteLoop(); ok {
		return reason, true
	}
	return "", false
}

// checkRepeatedConfigGlob: >= 4 distinct config-file glob patterns among
// the last >= 6 glob calls.
func (t *StuckTracker) checkRepeatedConfigGlob() (StuckReason, bool) {
	var globs []toolEvent
	for i := len(t.events) - 1; i >= 0 && len(globs) < 6; i-- {
		if t.events[i].tool == contracts.ToolGlob {
			globs = append(globs, t.events[i])
		}
	}
	if len(globs) < 6 {
		return "", false
	}
	distinct := map[string]bool{}
	for _, g := range globs {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(g.signature, contracts.ToolGlob+":")), &args); err != nil {
			continue
		}
		if looksLikeConfigGlob(args) {
			distinct[g.signature] = true
		}
	}
	if len(distinct) >= 4 {
		return ReasonRepeatedConfigGlob, true
	}
	return "", false
}

// checkToolCycle: 6 same read-only calls in a row, or split-half equality
// of sorted read-only signatures.
func (t *StuckTracker) checkToolCycle() (StuckReason, bool) {
	var readOnly []string
	for _, e := range t.events {
		if e.readOnly {
			readOnly = append(readOnly, e.signature)
		}
	}
	if len(readOnly) >= 6 {
		last6 := readOnly[len(readOnly)-6:]
		same := true
		for _, s := range last6 {
			if s != last6[0] {
				same = false
				break
			}
		}
		if same {
			return ReasonToolCycle, true
		}
	}
	if n := len(readOnly); n >= 6 && n%2 == 0 {
		half := n / 2
		first := append([]string(nil), readOnly[:half]...)
		second := append([]string(nil), readOnly[half:]...)
		sort.Strings(first)
		sort.Strings(second)
		equal := true
		for i := range first {
			if first[i] != second[i] {
				equal = false
				break
			}
		}
		if equal {
			return ReasonToolCycle, true
		}
	}
	return "", false
}

// checkExcessiveReadOnly: >= 4 consecutive read-only rounds (a round is
// one tool call, so 4 trailing read-only calls with no writer between).
func (t *StuckTracker) checkExcessiveReadOnly() (StuckReason, bool) {
	run := 0
	for i := len(t.events) - 1; i >= 0; i-- {
		if !t.events[i].readOnly {
			break
		}
		run++
	}
	if run >= 4 {
		return ReasonExcessiveReadOnly, true
	}
	return "", false
}

// checkWriteLoop: 3 consecutive write/edit operations on the same path.
func (t *StuckTracker) checkWriteLoop() (StuckReason, bool) {
	n := len(t.writes)
	if n < 3 {
		return "", false
	}
	last3 := t.writes[n-3:]
	path := last3[0].path
	if path == "" {
		return "", false
	}
	for _, w := range last3 {
		if w.path != path {
			return "", false
		}
	}
	return ReasonWriteLoop, true
}

// checkEditCycle: 4 write/edit alternations on the same path — the last 4
// writes touch the same path but alternate between two distinct tool
// names (e.g. write, edit, write, edit).
func (t *StuckTracker) checkEditCycle() (StuckReason, bool) {
	n := len(t.writes)
	if n < 4 {
		return "", false
	}
	last4 := t.writes[n-4:]
	path := last4[0].path
	if path == "" {
		return "", false
	}
	toolsSeen := map[string]bool{}
	for i, w := range last4 {
		if w.path != path {
			return "", false
		}
		toolsSeen[w.tool] = true
		if i >= 1 && w.tool == last4[i-1].tool {
			return "", false
		}
	}
	if len(toolsSeen) == 2 {
		return ReasonEditCycle, true
	}
	return "", false
}

func warningFor(reason StuckReason) string {
	switch reason {
	case ReasonRepeatedConfigGlob:
		return "You have searched for config files repeatedly without acting on the results. Stop globbing for configuration and work with what you have already found."
	case ReasonToolCycle:
		return "You are repeating the same tool calls without making progress. Try a different approach or report what is blocking you."
	case ReasonExcessiveReadOnly:
		return "You have spent several rounds reading without writing any changes. Make an edit or explain what additional information you still need."
	case ReasonWriteLoop:
		return "You have edited the same file three times in a row without verifying the result. Run the acceptance check before editing again."
	case ReasonEditCycle:
		return "You are alternating edits on the same file without converging. Re-read the file in full before your next change."
	default:
		return "No forward progress detected; reconsider your approach."
	}
}
