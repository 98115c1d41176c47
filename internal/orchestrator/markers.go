package orchestrator

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"longagent/internal/plan"
)

// The text-protocol markers are the agent <-> orchestrator control channel
// (spec.md §9 "Dynamic dispatch by marker"). Fenced-block and depth-aware
// extraction mirror taskbus.ParseTaskOutput's scanner rather than a single
// do-everything regex, per spec.md §9's explicit "not regex engines where
// depth-aware scanning is required" guidance; the markers below that are
// fixed-shape (a bare integer or identifier) use a small anchored regex
// since no nesting is possible there.

var returnToStagePattern = regexp.MustCompile(`(?i)\[RETURN TO STAGE (\d+)\]`)

// ParseReturnToStage reports whether text requests a coding rollback and,
// if so, the 1-based stage number named (spec.md §4.6 H5 "return-to-coding
// marker").
func ParseReturnToStage(text string) (stageNumber int, ok bool) {
	m := returnToStagePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

var failedTaskPattern = regexp.MustCompile(`(?i)\[FAILED_TASK:\s*([^\]]+)\]`)

// ParseFailedTaskIDs extracts every `[FAILED_TASK: taskId]` entry, matched
// case-insensitively per spec.md §9's explicit correction ("the source
// matches case-insensitively in the source but only uppercase in the
// marker definition; the specification requires case-insensitive
// matching").
func ParseFailedTaskIDs(text string) []string {
	matches := failedTaskPattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		id := strings.TrimSpace(m[1])
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

var taskCompleteWord = regexp.MustCompile(`(?i)\btask complete\b`)

// HasTaskCompleteMarker reports whether text carries the explicit
// `[TASK_COMPLETE]` marker or a word-boundary match of "task complete",
// per spec.md §9's correction to the source's bare substring match
// ("anywhere in any reply" is too permissive; this specification requires
// a word-boundary match or the explicit marker).
func HasTaskCompleteMarker(text string) bool {
	if strings.Contains(text, "[TASK_COMPLETE]") {
		return true
	}
	return taskCompleteWord.MatchString(text)
}

var stageCompletePattern = regexp.MustCompile(`(?i)\[STAGE \d+/\d+:[^\]]*COMPLETE\]`)

// HasStageCompleteMarker reports whether text contains the stage-complete
// marker spec.md §4.6 H5 checks for before treating the debugging loop as
// finished.
func HasStageCompleteMarker(text string) bool {
	return stageCompletePattern.MatchString(text)
}

const replanMarkerOpen = "[REPLAN:"

// ParseReplan scans text for a `[REPLAN: {...}]` marker using the same
// depth-aware bracket scan as taskbus.ParseTaskOutput (a JSON object value
// can itself contain brackets), returning the raw JSON payload found.
func ParseReplan(text string) (payload string, ok bool) {
	start := strings.Index(text, replanMarkerOpen)
	if start == -1 {
		return "", false
	}
	bodyStart := start + len(replanMarkerOpen)
	openIdx := strings.IndexByte(text[bodyStart:], '{')
	if openIdx == -1 {
		return "", false
	}
	scanStart := bodyStart + openIdx
	depth := 0
	for i := scanStart; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[scanStart : i+1], true
			}
		}
	}
	return "", false
}

// blueprintMarkerFences are the fenced-marker openers the blueprint
// sub-agent is expected to use, tried in order before falling back to any
// JSON block (spec.md §4.6 H2: "parse with fallbacks: fenced-marker block
// -> any JSON block -> default single-stage").
var blueprintMarkerFences = []string{"[STAGE_PLAN]", "```json", "```"}

// ExtractBlueprintPlan implements spec.md §4.6 H2's three-tier parse
// fallback over a blueprint agent's raw reply, returning the decoded raw
// plan (pre-validation) or false if no JSON object could be found at all.
func ExtractBlueprintPlan(text string) (plan.StagePlan, bool) {
	for _, fence := range blueprintMarkerFences {
		if body, ok := extractFencedBody(text, fence); ok {
			if p, ok := decodeStagePlan(body); ok {
				return p, true
			}
		}
	}
	if body, ok := extractFirstJSONObject(text); ok {
		if p, ok := decodeStagePlan(body); ok {
			return p, true
		}
	}
	return plan.StagePlan{}, false
}

func extractFencedBody(text, fence string) (string, bool) {
	start := strings.Index(text, fence)
	if start == -1 {
		return "", false
	}
	bodyStart := start + len(fence)
	var closer string
	if strings.HasPrefix(fence, "```") {
		closer = "```"
	} else {
		closer = "[/" + strings.TrimPrefix(strings.TrimSuffix(fence, "]"), "[") + "]"
	}
	end := strings.Index(text[bodyStart:], closer)
	if end == -1 {
		// Unterminated fence: take everything to end of text.
		return strings.TrimSpace(text[bodyStart:]), true
	}
	return strings.TrimSpace(text[bodyStart : bodyStart+end]), true
}

// extractFirstJSONObject finds the first top-level `{...}` span using a
// depth-aware scan, the same style taskbus.extractValue uses for
// TASK_BROADCAST payloads.
func extractFirstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func decodeStagePlan(body string) (plan.StagePlan, bool) {
	var p plan.StagePlan
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return plan.StagePlan{}, false
	}
	return p, true
}

// decodeReplanPayload decodes a [REPLAN:{...}] marker's JSON body into out.
func decodeReplanPayload(payload string, out *plan.StagePlan) bool {
	return json.Unmarshal([]byte(payload), out) == nil
}

// ScaffoldFile is one stub file extracted from a scaffold sub-agent's
// reply (spec.md §4.6 H3).
type ScaffoldFile struct {
	Path    string
	Content string
}

const scaffoldFileMarker = "[SCAFFOLD_FILE:"

// ParseScaffoldFiles scans text for `[SCAFFOLD_FILE: path]...[/SCAFFOLD_FILE]`
// blocks, the scaffold sub-agent's per-file stub protocol. Each block's
// content is trimmed of surrounding whitespace and, when non-empty, ends
// with a single newline.
func ParseScaffoldFiles(text string) []ScaffoldFile {
	fileContent := func(body string) string {
		body = strings.TrimSpace(body)
		if body == "" {
			return body
		}
		return body + "\n"
	}
	var out []ScaffoldFile
	idx := 0
	for {
		start := strings.Index(text[idx:], scaffoldFileMarker)
		if start == -1 {
			break
		}
		start += idx
		headerEnd := strings.IndexByte(text[start:], ']')
		if headerEnd == -1 {
			break
		}
		headerEnd += start
		path := strings.TrimSpace(text[start+len(scaffoldFileMarker) : headerEnd])

		bodyStart := headerEnd + 1
		closer := "[/SCAFFOLD_FILE]"
		closeIdx := strings.Index(text[bodyStart:], closer)
		if closeIdx == -1 {
			out = append(out, ScaffoldFile{Path: path, Content: fileContent(text[bodyStart:])})
			break
		}
		content := fileContent(text[bodyStart : bodyStart+closeIdx])
		out = append(out, ScaffoldFile{Path: path, Content: content})
		idx = bodyStart + closeIdx + len(closer)
	}
	return out
}
