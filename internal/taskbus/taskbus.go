// Package taskbus implements the Task Bus (spec.md §4.4): a bounded
// in-memory pub/sub for cross-task messages, with a "shared-latest" view
// and an incremental "delta since last flush" view. Its eviction strategy
// mirrors the teacher's insertion-ordered taskResults cache
// (internal/campaign/orchestrator_task_results.go: taskResults +
// taskResultOrder, prune-oldest-first), generalized from an LRU result
// cache keyed by taskId to an index-addressed message log keyed by
// publish order, per spec.md §9's explicit correction to use index-based
// (not timestamp-based) eviction.
package taskbus

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultMaxMessages is the constructor default (spec.md §4.4).
const DefaultMaxMessages = 500

// Message is one published entry (spec.md §3 TaskBusMessage).
type Message struct {
	Index  int
	TaskID string
	Key    string
	Value  string
	Topic  string
	Ts     int64
}

// sharedEntry is the "latest value wins" view keyed by key.
type sharedEntry struct {
	Value string
	From  string
	Topic string
	Ts    int64
}

// Bus is a bounded pub/sub shared between a stage's parallel tasks and the
// orchestrator. Safe for concurrent use.
type Bus struct {
	mu            sync.Mutex
	maxMessages   int
	messages      []Message
	shared        map[string]sharedEntry
	lastFlushedAt int
	nextIndex     int
	clock         func() int64
}

// New returns a Bus bounded at maxMessages (<=0 uses DefaultMaxMessages).
// clock lets tests supply a deterministic timestamp source; pass nil to
// use a monotonically increasing counter (this package never calls
// time.Now so it stays usable from code paths that must avoid wall-clock
// reads).
func New(maxMessages int, clock func() int64) *Bus {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if clock == nil {
		counter := int64(0)
		clock = func() int64 {
			counter++
			return counter
		}
	}
	return &Bus{
		maxMessages: maxMessages,
		shared:      map[string]sharedEntry{},
		clock:       clock,
	}
}

// Publish appends a message and updates the shared-latest mapping for key.
// When the queue exceeds maxMessages it truncates to 80% of capacity and
// shifts the flush index back by however many entries were removed
// (spec.md §4.4), never below 0.
func (b *Bus) Publish(taskID, key, value, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.clock()
	msg := Message{Index: b.nextIndex, TaskID: taskID, Key: key, Value: value, Topic: topic, Ts: ts}
	b.nextIndex++
	b.messages = append(b.messages, msg)
	b.shared[key] = sharedEntry{Value: value, From: taskID, Topic: topic, Ts: ts}

	if len(b.messages) > b.maxMessages {
		target := (b.maxMessages * 80) / 100
		if target < 1 {
			target = 1
		}
		removed := len(b.messages) - target
		b.messages = b.messages[removed:]
		b.lastFlushedAt -= removed
		if b.lastFlushedAt < 0 {
			b.lastFlushedAt = 0
		}
	}
}

// Get returns the shared value for key, or ("", false) if none.
func (b *Bus) Get(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.shared[key]
	if !ok {
		return "", false
	}
	return e.Value, true
}

// GetByTopic returns all key -> value entries whose last publisher used
// topic.
func (b *Bus) GetByTopic(topic string) map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[string]string{}
	for key, e := range b.shared {
		if e.Topic == topic {
			out[key] = e.Value
		}
	}
	return out
}

// Len returns the current message count, for the bound-invariant test.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// ToContextString renders the entire shared mapping as one labeled block,
// truncated to maxLen runes (0 = unbounded).
func (b *Bus) ToContextString(maxLen int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("[TASK_BUS_CONTEXT]\n")
	for key, e := range b.shared {
		fmt.Fprintf(&sb, "%s = %s (from %s", key, e.Value, e.From)
		if e.Topic != "" {
			fmt.Fprintf(&sb, ", topic=%s", e.Topic)
		}
		sb.WriteString(")\n")
	}
	return truncate(sb.String(), maxLen)
}

// ToDeltaString renders only the messages queued at or after the flush
// position (which Publish shifts back on eviction), then advances the
// flush position to the end of the queue so an immediately following call
// returns empty (spec.md §8 "Task Bus delta").
func (b *Bus) ToDeltaString(maxLen int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	for _, m := range b.messages[b.lastFlushedAt:] {
		label := m.Key
		if m.Topic != "" {
			label = m.Key + "@" + m.Topic
		}
		fmt.Fprintf(&sb, "[%s] %s = %s\n", m.TaskID, label, m.Value)
	}
	b.lastFlushedAt = len(b.messages)
	return truncate(sb.String(), maxLen)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// ParsedBroadcast is one [TASK_BROADCAST:...] marker extracted from a
// task's output text.
type ParsedBroadcast struct {
	Key   string
	Topic string
	Value string
}

const broadcastMarker = "[TASK_BROADCAST:"

// ParseTaskOutput scans text for every [TASK_BROADCAST:...] marker and
// returns the broadcasts found plus whether a [TASK_COMPLETE] marker was
// present, per spec.md §4.4/§4.6. Values are extracted with a depth-aware
// bracket scanner (not a regex) so nested JSON objects/arrays in the value
// don't truncate early, per spec.md §9's explicit scanner guidance.
func ParseTaskOutput(text string) (broadcasts []ParsedBroadcast, taskComplete bool) {
	taskComplete = strings.Contains(text, "[TASK_COMPLETE]")

	idx := 0
	for {
		start := strings.Index(text[idx:], broadcastMarker)
		if start == -1 {
			break
		}
		start += idx
		bodyStart := start + len(broadcastMarker)

		end := strings.IndexByte(text[bodyStart:], ']')
		if end == -1 {
			// Unterminated marker: advance past the opener and continue.
			idx = bodyStart
			continue
		}

		kv := text[bodyStart : bodyStart+end]
		eq := strings.Index(kv, "=")
		if eq == -1 {
			idx = bodyStart + end + 1
			continue
		}
		keyTopic := strings.TrimSpace(kv[:eq])
		rawValue := kv[eq+1:]

		key, topic := keyTopic, ""
		if at := strings.Index(keyTopic, "@"); at != -1 {
			key = keyTopic[:at]
			topic = keyTopic[at+1:]
		}

		value, consumed := extractValue(text, bodyStart+eq+1, rawValue)
		broadcasts = append(broadcasts, ParsedBroadcast{Key: key, Topic: topic, Value: value})

		if consumed > 0 {
			idx = bodyStart + eq + 1 + consumed
		} else {
			idx = bodyStart + end + 1
		}
	}
	return broadcasts, taskComplete
}

// extractValue implements spec.md §4.4's value-extraction rule: a value
// starting with '{' or '[' is scanned to its matching close bracket with a
// depth counter (attempting a JSON parse is the caller's concern, not
// this scanner's — the scanner only finds the substring boundary);
// otherwise the value ends at the next ']'. Returns the extracted value
// and the number of bytes consumed from valueStart, or 0 if the caller
// should fall back to the simple ']'-bounded slice already computed.
func extractValue(text string, valueStart int, fallback string) (string, int) {
	trimmedFallback := strings.TrimSpace(fallback)
	if trimmedFallback == "" {
		return "", 0
	}
	open := trimmedFallback[0]
	if open != '{' && open != '[' {
		return strings.TrimSpace(fallback), 0
	}

	close := byte('}')
	if open == '[' {
		close = ']'
	}

	offset := strings.IndexByte(text[valueStart:], open)
	if offset == -1 {
		return strings.TrimSpace(fallback), 0
	}
	scanStart := valueStart + offset

	depth := 0
	for i := scanStart; i < len(text); i++ {
		switch text[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[scanStart : i+1], (i + 1) - valueStart
			}
		}
	}
	return strings.TrimSpace(fallback), 0
}

