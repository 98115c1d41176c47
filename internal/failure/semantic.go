package failure

import "strings"

// knownErrorClasses is the set of well-known error class names the
// semantic tracker extracts from response text, in the order spec.md §4.6
// lists them (first match wins when several appear).
var knownErrorClasses = []string{
	"TypeError", "ReferenceError", "SyntaxError", "RangeError", "AssertionError", "Error",
}

// ExtractErrorClass returns the first well-known error class name found in
// text, or "" if none appears.
func ExtractErrorClass(text string) string {
	for _, class := range knownErrorClasses {
		if strings.Contains(text, class) {
			return class
		}
	}
	return ""
}

// SemanticErrorTracker counts consecutive semantically-similar error
// messages and flags repetition once a configured threshold is reached
// (spec.md §4.6).
type SemanticErrorTracker struct {
	threshold int
	last      string
	streak    int
}

// NewSemanticErrorTracker returns a tracker that signals isRepeated after
// threshold consecutive similar messages. threshold <= 0 defaults to 3.
func NewSemanticErrorTracker(threshold int) *SemanticErrorTracker {
	if threshold <= 0 {
		threshold = 3
	}
	return &SemanticErrorTracker{threshold: threshold}
}

// SemanticTrackResult is the outcome of one SemanticErrorTracker.Track call.
type SemanticTrackResult struct {
	ErrorClass string
	IsRepeated bool
	Streak     int
}

// Track records one response's text, extracting its error class and
// updating the similarity streak against the previous message.
func (t *SemanticErrorTracker) Track(text string) SemanticTrackResult {
	class := ExtractErrorClass(text)
	if class == "" {
		t.last = ""
		t.streak = 0
		return SemanticTrackResult{}
	}

	if t.last != "" && messagesSimilar(t.last, text) {
		t.streak++
	} else {
		t.streak = 1
	}
	t.last = text

	return SemanticTrackResult{
		ErrorClass: class,
		IsRepeated: t.streak >= t.threshold,
		Streak:     t.streak,
	}
}

// messagesSimilar implements spec.md §4.6's three-way similarity test:
// exact equality, "short-equal" (both under 10 chars and identical), or
// Jaccard token similarity >= 0.6 over tokens longer than 2 characters.
func messagesSimilar(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) < 10 && len(b) < 10 && a == b {
		return true
	}
	return jaccardSimilarity(tokenize(a), tokenize(b)) >= 0.6
}

func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
	tokens := map[string]bool{}
	for _, f := range fields {
		if len(f) > 2 {
			tokens[strings.ToLower(f)] = true
		}
	}
	return tokens
}

func jaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}
