// Package logging provides a category-keyed structured logger used across
// the longagent module. Every package logs through a small named category
// rather than a single global logger, so a deployment can enable verbose
// output for e.g. just the barrier or just the orchestrator.
package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryClassifier   Category = "classifier"
	CategoryPlan         Category = "plan"
	CategoryCheckpoint   Category = "checkpoint"
	CategoryTaskBus      Category = "taskbus"
	CategoryBarrier      Category = "barrier"
	CategoryOrchestrator Category = "orchestrator"
	CategoryFailure      Category = "failure"
	CategoryVCS          Category = "vcs"
	CategoryConfig       Category = "config"
)

var (
	mu          sync.RWMutex
	base        *zap.Logger
	loggers     = map[Category]*Logger{}
	debugCats   = map[Category]bool{}
	debugAll    bool
	initialized bool
)

// Logger wraps a zap.SugaredLogger scoped to one Category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

func init() {
	Initialize()
}

// Initialize (re)builds the base zap logger and reads the
// LONGAGENT_DEBUG_CATEGORIES env var ("*" or a comma-separated category
// list) to decide which categories emit Debug-level output.
func Initialize() {
	mu.Lock()
	defer mu.Unlock()

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	built, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		built = zap.NewNop()
	}
	base = built

	debugCats = map[Category]bool{}
	debugAll = false
	spec := strings.TrimSpace(os.Getenv("LONGAGENT_DEBUG_CATEGORIES"))
	if spec == "*" {
		debugAll = true
	} else if spec != "" {
		for _, c := range strings.Split(spec, ",") {
			debugCats[Category(strings.TrimSpace(c))] = true
		}
	}

	loggers = map[Category]*Logger{}
	initialized = true
}

// Get returns (creating if needed) the Logger for category.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	if base == nil {
		Initialize()
	}
	l := &Logger{category: category, sugar: base.Sugar().With("category", string(category))}
	loggers[category] = l
	return l
}

// IsDebugEnabled reports whether category emits Debug-level logs.
func IsDebugEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugAll || debugCats[category]
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if !IsDebugEnabled(l.category) {
		return
	}
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Timer measures and logs the duration of a named operation.
type Timer struct {
	logger    *Logger
	label     string
	startedAt time.Time
}

// StartTimer begins timing label under category; call Stop or StopWithInfo
// when the operation completes.
func StartTimer(category Category, label string) *Timer {
	return &Timer{logger: Get(category), label: label, startedAt: time.Now()}
}

// Stop logs the elapsed duration at Debug level.
func (t *Timer) Stop() {
	t.logger.Debug("%s took %s", t.label, time.Since(t.startedAt))
}

// StopWithInfo logs the elapsed duration at Info level.
func (t *Timer) StopWithInfo() {
	t.logger.Info("%s took %s", t.label, time.Since(t.startedAt))
}

// CloseAll flushes the underlying zap core. Call once at process shutdown.
func CloseAll() {
	mu.RLock()
	defer mu.RUnlock()
	if base != nil {
		_ = base.Sync()
	}
}

// Convenience per-category helpers, in the teacher's style of one pair of
// functions (Info + Debug) per subsystem so call sites read as
// logging.Orchestrator("...") rather than logging.Get(Category).Info("...").

func Classifier(format string, args ...interface{})      { Get(CategoryClassifier).Info(format, args...) }
func ClassifierDebug(format string, args ...interface{}) { Get(CategoryClassifier).Debug(format, args...) }

func Plan(format string, args ...interface{})      { Get(CategoryPlan).Info(format, args...) }
func PlanDebug(format string, args ...interface{}) { Get(CategoryPlan).Debug(format, args...) }

func Checkpoint(format string, args ...interface{})      { Get(CategoryCheckpoint).Info(format, args...) }
func CheckpointDebug(format string, args ...interface{}) { Get(CategoryCheckpoint).Debug(format, args...) }

func TaskBus(format string, args ...interface{})      { Get(CategoryTaskBus).Info(format, args...) }
func TaskBusDebug(format string, args ...interface{}) { Get(CategoryTaskBus).Debug(format, args...) }

func Barrier(format string, args ...interface{})      { Get(CategoryBarrier).Info(format, args...) }
func BarrierDebug(format string, args ...interface{}) { Get(CategoryBarrier).Debug(format, args...) }

func Orchestrator(format string, args ...interface{})      { Get(CategoryOrchestrator).Info(format, args...) }
func OrchestratorDebug(format string, args ...interface{}) { Get(CategoryOrchestrator).Debug(format, args...) }
func OrchestratorWarn(format string, args ...interface{})  { Get(CategoryOrchestrator).Warn(format, args...) }

func Failure(format string, args ...interface{})      { Get(CategoryFailure).Info(format, args...) }
func FailureDebug(format string, args ...interface{}) { Get(CategoryFailure).Debug(format, args...) }

func VCS(format string, args ...interface{})      { Get(CategoryVCS).Info(format, args...) }
func VCSDebug(format string, args ...interface{}) { Get(CategoryVCS).Debug(format, args...) }

func Config(format string, args ...interface{})      { Get(CategoryConfig).Info(format, args...) }
func ConfigDebug(format string, args ...interface{}) { Get(CategoryConfig).Debug(format, args...) }
