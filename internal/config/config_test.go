package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxParallelTasks, cfg.MaxParallelTasks)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.MaxParallelTasks = 8
	cfg.FallbackModel = "fallback-model"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.MaxParallelTasks)
	assert.Equal(t, "fallback-model", loaded.FallbackModel)
}

func TestLoad_MalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: valid: yaml: ["), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestTaskTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TaskTimeoutMs = 5000
	assert.Equal(t, 5000e6, float64(cfg.TaskTimeout()))
}

func TestDetectProjectCommands_GoModule(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0644))

	cmds := DetectProjectCommands(dir)
	assert.Equal(t, "go test ./...", cmds.Test)
	assert.Equal(t, "go build ./...", cmds.Build)
}

func TestDetectProjectCommands_NodeModule(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0644))

	cmds := DetectProjectCommands(dir)
	assert.Equal(t, "npm test", cmds.Test)
	assert.Equal(t, "npm run build", cmds.Build)
}

func TestDetectProjectCommands_NoMarkersFallsBackToGo(t *testing.T) {
	cmds := DetectProjectCommands(t.TempDir())
	assert.Equal(t, "go test ./...", cmds.Test)
	assert.Equal(t, "go build ./...", cmds.Build)
}
