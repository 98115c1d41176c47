package failure

import "longagent/internal/logging"

// Strategy names one step of the degradation chain (spec.md §4.6).
type Strategy string

const (
	StrategySwitchModel  Strategy = "switch_model"
	StrategyReduceScope  Strategy = "reduce_scope"
	StrategySerialMode   Strategy = "serial_mode"
	StrategyGracefulStop Strategy = "graceful_stop"
)

// degradationOrder is the fixed strategy order; the chain applies at most
// one step per invocation and never rewinds (spec.md §3's DegradationChain
// invariant, §4.6).
var degradationOrder = []Strategy{
	StrategySwitchModel,
	StrategyReduceScope,
	StrategySerialMode,
	StrategyGracefulStop,
}

// Chain tracks the current degradation level and the effects already
// applied. It is not safe for concurrent use; the orchestrator only calls
// it from its single phase-loop goroutine.
type Chain struct {
	level int // index into degradationOrder already applied; -1 = nothing applied yet

	FallbackModel    string
	CurrentModel     string
	SkipNonCritical  bool
	MaxParallelTasks int
	ShouldStop       bool
}

// NewChain returns a chain at level -1 (no strategy applied), configured
// with the current model and parallelism so switch_model/serial_mode have
// something to compare against and mutate.
func NewChain(currentModel, fallbackModel string, skipNonCritical bool, maxParallelTasks int) *Chain {
	return &Chain{
		level:            -1,
		FallbackModel:    fallbackModel,
		CurrentModel:     currentModel,
		SkipNonCritical:  skipNonCritical,
		MaxParallelTasks: maxParallelTasks,
	}
}

// CanDegrade reports whether a further strategy remains available.
// canDegrade() returns false once the last strategy (graceful_stop) has
// applied, per spec.md §4.6.
func (c *Chain) CanDegrade() bool {
	return c.level < len(degradationOrder)-1
}

// DegradeResult describes the single strategy step Apply performed, if
// any.
type DegradeResult struct {
	Applied  bool
	Strategy Strategy
	Detail   string
}

// Apply advances the chain by exactly one strategy step — the next one in
// fixed order that is actually applicable — and mutates the chain's state
// accordingly. switch_model is passed over when no fallback model is
// configured or it already matches CurrentModel (spec.md: "only if a
// configured fallback model differs from current"), and reduce_scope is
// passed over when SkipNonCritical is false. A passed-over strategy still
// consumes its level, so it is never offered again.
func (c *Chain) Apply() DegradeResult {
	for c.level+1 < len(degradationOrder) {
		next := degradationOrder[c.level+1]
		switch next {
		case StrategySwitchModel:
			if c.FallbackModel == "" || c.FallbackModel == c.CurrentModel {
				c.level++
				continue
			}
			c.level++
			prev := c.CurrentModel
			c.CurrentModel = c.FallbackModel
			logging.Failure("degradation: switch_model %s -> %s", prev, c.CurrentModel)
			return DegradeResult{Applied: true, Strategy: next, Detail: "switched model from " + prev + " to " + c.CurrentModel}

		case StrategyReduceScope:
			c.level++
			if !c.SkipNonCritical {
				continue
			}
			logging.Failure("degradation: reduce_scope (marking non-critical tasks skipped)")
			return DegradeResult{Applied: true, Strategy: next, Detail: "non-completed, non-critical tasks marked skipped"}

		case StrategySerialMode:
			c.level++
			c.MaxParallelTasks = 1
			logging.Failure("degradation: serial_mode (max parallel tasks = 1)")
			return DegradeResult{Applied: true, Strategy: next, Detail: "max parallel tasks reduced to 1"}

		case StrategyGracefulStop:
			c.level++
			c.ShouldStop = true
			logging.Failure("degradation: graceful_stop")
			return DegradeResult{Applied: true, Strategy: next, Detail: "graceful stop requested"}
		}
	}
	return DegradeResult{}
}

// Level returns the index of the last applied strategy, or -1 if none.
func (c *Chain) Level() int { return c.level }
