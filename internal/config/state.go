package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"longagent/internal/logging"
)

// GatePreferences is the per-user persisted gate toggle set (spec.md §6
// "Gate-preferences JSON: persisted once per user with
// {build, test, review, health, budget} booleans").
type GatePreferences struct {
	Build  bool `json:"build"`
	Test   bool `json:"test"`
	Review bool `json:"review"`
	Health bool `json:"health"`
	Budget bool `json:"budget"`
}

// DefaultGatePreferences enables the cheap, always-safe gates and leaves
// the heavier ones (review, a full LLM pass; budget, which needs usage
// history to be meaningful) off until a user opts in.
func DefaultGatePreferences() GatePreferences {
	return GatePreferences{Build: true, Test: true}
}

// LoadGatePreferences reads path, returning DefaultGatePreferences() if it
// doesn't exist or is malformed (spec.md §6: readers tolerate missing or
// malformed files).
func LoadGatePreferences(path string) GatePreferences {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultGatePreferences()
	}
	var prefs GatePreferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		logging.Get(logging.CategoryConfig).Warn("gate preferences %s corrupt, using defaults: %v", path, err)
		return DefaultGatePreferences()
	}
	return prefs
}

// SaveGatePreferences writes prefs as JSON to path.
func SaveGatePreferences(path string, prefs GatePreferences) error {
	return writeJSON(path, prefs)
}

// ProjectMemory is the optional persisted cross-session memory (spec.md §6
// "Project-memory JSON (optional): {techStack, patterns, conventions}
// capped at 20 entries each").
type ProjectMemory struct {
	TechStack   []string `json:"techStack"`
	Patterns    []string `json:"patterns"`
	Conventions []string `json:"conventions"`
}

// MaxMemoryEntries is the per-category cap spec.md §6 names.
const MaxMemoryEntries = 20

// LoadProjectMemory reads path, returning an empty ProjectMemory if it
// doesn't exist or is malformed.
func LoadProjectMemory(path string) ProjectMemory {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProjectMemory{}
	}
	var mem ProjectMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		logging.Get(logging.CategoryConfig).Warn("project memory %s corrupt, starting empty: %v", path, err)
		return ProjectMemory{}
	}
	return mem
}

// SaveProjectMemory writes mem as JSON to path.
func SaveProjectMemory(path string, mem ProjectMemory) error {
	return writeJSON(path, mem)
}

// AddTechStack appends entry if not already present, capping the list at
// MaxMemoryEntries by dropping the oldest.
func (m *ProjectMemory) AddTechStack(entry string) {
	m.TechStack = appendCapped(m.TechStack, entry)
}

// AddPattern appends entry, capped at MaxMemoryEntries.
func (m *ProjectMemory) AddPattern(entry string) {
	m.Patterns = appendCapped(m.Patterns, entry)
}

// AddConvention appends entry, capped at MaxMemoryEntries.
func (m *ProjectMemory) AddConvention(entry string) {
	m.Conventions = appendCapped(m.Conventions, entry)
}

func appendCapped(list []string, entry string) []string {
	for _, e := range list {
		if e == entry {
			return list
		}
	}
	list = append(list, entry)
	if len(list) > MaxMemoryEntries {
		list = list[len(list)-MaxMemoryEntries:]
	}
	return list
}

func writeJSON(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
