package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGatePreferences_MissingReturnsDefaults(t *testing.T) {
	prefs := LoadGatePreferences(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, DefaultGatePreferences(), prefs)
}

func TestGatePreferencesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	prefs := GatePreferences{Build: true, Test: true, Review: true}
	require.NoError(t, SaveGatePreferences(path, prefs))

	loaded := LoadGatePreferences(path)
	assert.Equal(t, prefs, loaded)
}

func TestLoadGatePreferences_CorruptReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))
	assert.Equal(t, DefaultGatePreferences(), LoadGatePreferences(path))
}

func TestProjectMemory_AddCapsAt20(t *testing.T) {
	var mem ProjectMemory
	for i := 0; i < 25; i++ {
		mem.AddTechStack(fmt.Sprintf("lang-%d", i))
	}
	assert.Len(t, mem.TechStack, MaxMemoryEntries)
	assert.Equal(t, "lang-5", mem.TechStack[0], "oldest entries are dropped first")
	assert.Equal(t, "lang-24", mem.TechStack[len(mem.TechStack)-1])
}

func TestProjectMemory_AddDeduplicates(t *testing.T) {
	var mem ProjectMemory
	mem.AddPattern("repository-pattern")
	mem.AddPattern("repository-pattern")
	assert.Len(t, mem.Patterns, 1)
}

func TestProjectMemoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	var mem ProjectMemory
	mem.AddTechStack("go")
	mem.AddConvention("table-driven tests")
	require.NoError(t, SaveProjectMemory(path, mem))

	loaded := LoadProjectMemory(path)
	assert.Equal(t, mem, loaded)
}

func TestLoadProjectMemory_MissingReturnsEmpty(t *testing.T) {
	mem := LoadProjectMemory(filepath.Join(t.TempDir(), "missing.json"))
	assert.Empty(t, mem.TechStack)
}
