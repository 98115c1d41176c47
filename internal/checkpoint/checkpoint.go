// Package checkpoint implements the Checkpoint Store (spec.md §4.3): a
// pure file-backed, single-writer-per-session persistence layer with no
// concurrency model beyond that. Persistence shape and logging follow the
// teacher's internal/campaign/orchestrator_lifecycle.go (saveCampaign /
// LoadCampaign: os.MkdirAll + json.MarshalIndent + os.WriteFile under a
// per-entity directory); atomic write-then-rename follows the
// write-then-rename idiom in internal/tactile/audit.go's log rotation.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"longagent/internal/logging"
	"longagent/internal/plan"
)

func joinErrors(errs []error) error {
	var combined error
	for _, e := range errs {
		combined = multierr.Append(combined, e)
	}
	return combined
}

// Record is the envelope every checkpoint file carries (spec.md §6:
// "Each file is JSON with a sessionId field").
type Record struct {
	SessionID     string          `json:"sessionId"`
	SavedAt       time.Time       `json:"savedAt"`
	Iteration     int             `json:"iteration"`
	Phase         string          `json:"phase"`
	StageIndex    int             `json:"stageIndex"`
	StagePlan     plan.StagePlan  `json:"stagePlan"`
	TaskProgress  json.RawMessage `json:"taskProgress,omitempty"`
	LastProgress  string          `json:"lastProgress,omitempty"`
}

// Store is a per-workspace checkpoint store; each session gets its own
// subdirectory under Dir.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir (e.g. ".longagent/checkpoints").
func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.Dir, sessionID)
}

func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp checkpoint file into place: %w", err)
	}
	return nil
}

// SaveCheckpoint writes both latest.json and a numbered cp_<iteration>.json
// file, per spec.md §4.3. Both writes are atomic (temp file + rename).
func (s *Store) SaveCheckpoint(sessionID string, record Record) error {
	timer := logging.StartTimer(logging.CategoryCheckpoint, "SaveCheckpoint")
	defer timer.Stop()

	record.SessionID = sessionID
	record.SavedAt = time.Now()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := s.sessionDir(sessionID)
	latestPath := filepath.Join(dir, "latest.json")
	numberedPath := filepath.Join(dir, fmt.Sprintf("cp_%d.json", record.Iteration))

	if err := s.writeAtomic(latestPath, data); err != nil {
		return err
	}
	if err := s.writeAtomic(numberedPath, data); err != nil {
		return err
	}
	logging.CheckpointDebug("saved checkpoint session=%s iteration=%d (%d bytes)", sessionID, record.Iteration, len(data))
	return nil
}

// LoadCheckpoint returns the parsed record named name ("latest" by
// default), or nil if missing or corrupt — readers tolerate missing or
// malformed files by returning null (spec.md §6).
func (s *Store) LoadCheckpoint(sessionID string, name string) *Record {
	if name == "" {
		name = "latest"
	}
	path := filepath.Join(s.sessionDir(sessionID), name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		logging.CheckpointDebug("checkpoint %s missing for session %s: %v", name, sessionID, err)
		return nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		logging.Get(logging.CategoryCheckpoint).Warn("checkpoint %s for session %s is corrupt: %v", name, sessionID, err)
		return nil
	}
	return &rec
}

// SaveTaskCheckpoint writes task_<stageId>_<taskId>.json (spec.md §4.3).
func (s *Store) SaveTaskCheckpoint(sessionID, stageID, taskID string, data interface{}) error {
	payload, err := json.MarshalIndent(struct {
		SessionID string      `json:"sessionId"`
		SavedAt   time.Time   `json:"savedAt"`
		StageID   string      `json:"stageId"`
		TaskID    string      `json:"taskId"`
		Data      interface{} `json:"data"`
	}{sessionID, time.Now(), stageID, taskID, data}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task checkpoint: %w", err)
	}
	path := filepath.Join(s.sessionDir(sessionID), fmt.Sprintf("task_%s_%s.json", stageID, taskID))
	return s.writeAtomic(path, payload)
}

// TaskCheckpointRecord is one entry returned by LoadTaskCheckpoints.
type TaskCheckpointRecord struct {
	SessionID string          `json:"sessionId"`
	SavedAt   time.Time       `json:"savedAt"`
	StageID   string          `json:"stageId"`
	TaskID    string          `json:"taskId"`
	Data      json.RawMessage `json:"data"`
}

// LoadTaskCheckpoints returns a mapping taskId -> record for all task
// files matching the given stage prefix (spec.md §4.3).
func (s *Store) LoadTaskCheckpoints(sessionID, stageID string) map[string]TaskCheckpointRecord {
	out := map[string]TaskCheckpointRecord{}
	dir := s.sessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	prefix := fmt.Sprintf("task_%s_", stageID)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		taskID := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var rec TaskCheckpointRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out[taskID] = rec
	}
	return out
}

// CleanupOptions configures CleanupCheckpoints.
type CleanupOptions struct {
	MaxKeep              int
	KeepStageCheckpoints bool
}

// CleanupCheckpoints deletes numbered checkpoints beyond the last MaxKeep,
// always retaining latest.json, any hybrid_stage_* entries, and any
// task_* entries when KeepStageCheckpoints holds (spec.md §4.3). Deletion
// failures are aggregated with multierr so one bad file doesn't stop the
// rest of the sweep.
func (s *Store) CleanupCheckpoints(sessionID string, opts CleanupOptions) error {
	dir := s.sessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read checkpoint dir %s: %w", dir, err)
	}

	type numbered struct {
		name string
		n    int
	}
	var nums []numbered
	var toDelete []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "latest.json" {
			continue
		}
		if strings.HasPrefix(name, "hybrid_stage_") {
			continue
		}
		if strings.HasPrefix(name, "task_") {
			if !opts.KeepStageCheckpoints {
				toDelete = append(toDelete, name)
			}
			continue
		}
		if strings.HasPrefix(name, "cp_") && strings.HasSuffix(name, ".json") {
			n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "cp_"), ".json"))
			if err != nil {
				continue
			}
			nums = append(nums, numbered{name: name, n: n})
		}
	}

	sort.Slice(nums, func(i, j int) bool { return nums[i].n > nums[j].n })

	maxKeep := opts.MaxKeep
	if maxKeep < 0 {
		maxKeep = 0
	}

	var names []string
	if len(nums) > maxKeep {
		for _, entry := range nums[maxKeep:] {
			names = append(names, entry.name)
		}
	}
	names = append(names, toDelete...)

	var errs []error
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	logging.CheckpointDebug("cleaned up %d checkpoints for session %s (kept %d numbered)", len(names), sessionID, maxKeep)
	return joinErrors(errs)
}

// ListCheckpoints returns the checkpoint base names (without .json) present
// for sessionID, lexicographically sorted, including "latest" when present
// (spec.md §8 "Checkpoint round-trip").
func (s *Store) ListCheckpoints(sessionID string) []string {
	dir := s.sessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names
}

// ValidateCheckpoint implements spec.md §8's resume validation: a
// checkpoint with stageIndex > len(stagePlan.stages) is rejected; a
// checkpoint with stageIndex = 0 is treated as a fresh start (valid, no
// prior stage to check); otherwise stage index stageIndex-1 must exist.
func ValidateCheckpoint(rec *Record) bool {
	if rec == nil {
		return false
	}
	n := len(rec.StagePlan.Stages)
	if rec.StageIndex < 0 || rec.StageIndex > n {
		return false
	}
	if rec.StageIndex == 0 {
		return true
	}
	return rec.StageIndex-1 < n
}
