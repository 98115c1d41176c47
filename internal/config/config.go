// Package config implements spec.md §9's "process-wide configuration":
// an immutable Config supplied at orchestrator-construction time, plus
// the gate-preferences and project-memory JSON the orchestrator consumes
// per spec.md §6. Loading/saving follows the teacher's internal/config
// (Config.Load/Save: os.ReadFile + yaml.Unmarshal, defaults-on-missing-file,
// os.MkdirAll + yaml.Marshal + os.WriteFile to save); project-command
// detection follows internal/campaign/checkpoint.go's detectTestCommand/
// detectBuildCommand file-presence cascade.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"longagent/internal/logging"
)

// Config is the immutable process-wide configuration an orchestrator is
// constructed with (spec.md §9: "supplied at construction time ... avoid
// global singletons"). Callers must treat a loaded Config as read-only;
// the only in-run mutation spec.md permits is the degradation chain's own
// state, which lives in internal/failure.Chain, not here.
type Config struct {
	MaxParallelTasks int `yaml:"max_parallel_tasks"`

	TaskTimeoutMs           int `yaml:"task_timeout_ms"`
	CodingPhaseTimeoutMs    int `yaml:"coding_phase_timeout_ms"`
	DebuggingPhaseTimeoutMs int `yaml:"debugging_phase_timeout_ms"`
	MaxStageRecoveries      int `yaml:"max_stage_recoveries"`
	MaxDebugIterations      int `yaml:"max_debug_iterations"`
	MaxCodingRollbacks      int `yaml:"max_coding_rollbacks"`
	MaxGateAttempts         int `yaml:"max_gate_attempts"`
	MaxIntakeRounds         int `yaml:"max_intake_rounds"`

	TokenBudget int `yaml:"token_budget"`

	PressureLimit int `yaml:"pressure_limit"`

	FallbackModel   string `yaml:"fallback_model"`
	SkipNonCritical bool   `yaml:"skip_non_critical"`

	GitEnabled    bool `yaml:"git_enabled"`
	GitAskConsent bool `yaml:"git_ask_consent"`

	LintAutoFixCommand string `yaml:"lint_auto_fix_command"`

	TaskBusMaxMessages int `yaml:"task_bus_max_messages"`

	CheckpointMaxKeep int `yaml:"checkpoint_max_keep"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig mirrors the teacher's LoggingConfig shape. internal/logging
// does not read it: debug categories come from the
// LONGAGENT_DEBUG_CATEGORIES environment variable.
type LoggingConfig struct {
	DebugCategories []string `yaml:"debug_categories"`
}

// DefaultConfig returns the baseline configuration, following the
// teacher's DefaultConfig() constructor shape.
func DefaultConfig() *Config {
	return &Config{
		MaxParallelTasks: 4,

		TaskTimeoutMs:           10 * 60 * 1000,
		CodingPhaseTimeoutMs:    30 * 60 * 1000,
		DebuggingPhaseTimeoutMs: 15 * 60 * 1000,
		MaxStageRecoveries:      3,
		MaxDebugIterations:      5,
		MaxCodingRollbacks:      3,
		MaxGateAttempts:         3,
		MaxIntakeRounds:         3,

		TokenBudget: 200000,

		PressureLimit: 60000,

		FallbackModel:   "",
		SkipNonCritical: true,

		GitEnabled:    true,
		GitAskConsent: true,

		LintAutoFixCommand: "",

		TaskBusMaxMessages: 500,

		CheckpointMaxKeep: 5,
	}
}

// Load reads a YAML config file, falling back to DefaultConfig() if the
// file does not exist (the teacher's Load does the same for its own
// config.yaml).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Config("config file not found, using defaults: %s", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	logging.Config("config loaded from %s", path)
	return cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir %s: %w", dir, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// TaskTimeout returns TaskTimeoutMs as a time.Duration.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMs) * time.Millisecond
}

// ProjectCommands is the detected test/build command pair for a workspace
// (spec.md §4.6 H6's gate runner and §4's auto-fix supplement).
type ProjectCommands struct {
	Test  string
	Build string
}

// projectTypeCommand is one file-presence -> command mapping, shared by
// DetectProjectCommands' test and build cascades.
type projectTypeCommand struct {
	file    string
	command string
}

var testCommandsByProjectFile = []projectTypeCommand{
	{"go.mod", "go test ./..."},
	{"package.json", "npm test"},
	{"Cargo.toml", "cargo test"},
	{"requirements.txt", "pytest"},
	{"setup.py", "python -m pytest"},
	{"pom.xml", "mvn test"},
	{"build.gradle", "gradle test"},
	{"Makefile", "make test"},
}

var buildCommandsByProjectFile = []projectTypeCommand{
	{"go.mod", "go build ./..."},
	{"package.json", "npm run build"},
	{"Cargo.toml", "cargo build"},
	{"pom.xml", "mvn compile"},
	{"build.gradle", "gradle build"},
	{"Makefile", "make build"},
}

// DetectProjectCommands inspects workspace for recognized project marker
// files and returns the test/build commands the build/test gates should
// run when the caller hasn't configured one explicitly (spec.md §4 "Gate
// auto-fix command" supplement), generalizing the teacher's
// detectTestCommand/detectBuildCommand pair into one call.
func DetectProjectCommands(workspace string) ProjectCommands {
	return ProjectCommands{
		Test:  firstMatch(workspace, testCommandsByProjectFile, "go test ./..."),
		Build: firstMatch(workspace, buildCommandsByProjectFile, "go build ./..."),
	}
}

func firstMatch(workspace string, candidates []projectTypeCommand, fallback string) string {
	for _, c := range candidates {
		if fileExists(workspace, c.file) {
			return c.command
		}
	}
	return fallback
}

func fileExists(workspace, name string) bool {
	_, err := os.Stat(filepath.Join(workspace, name))
	return err == nil
}
