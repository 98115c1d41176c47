package orchestrator

import "longagent/internal/contracts"

// BudgetTracker accumulates per-stage token usage and reports the
// warning/forecast/stop thresholds spec.md §5 requires, in the style of
// the teacher's TokenCounts.Add accumulator — a plain running total with
// no separate metering subsystem, since usage metering and pricing are
// explicitly out of scope (spec.md §1).
type BudgetTracker struct {
	budget       int
	total        contracts.Usage
	stagesSeen   int
	stagesTotal  int
	warnedAt90   bool
	warnedForecast bool
}

// NewBudgetTracker returns a tracker against budget total tokens
// (input+output) over stagesTotal stages. budget <= 0 disables every
// threshold check (Check always reports BudgetOK).
func NewBudgetTracker(budget, stagesTotal int) *BudgetTracker {
	return &BudgetTracker{budget: budget, stagesTotal: stagesTotal}
}

// Add folds one stage's usage into the running total and marks one more
// stage as seen, for the average-per-stage forecast.
func (b *BudgetTracker) Add(u contracts.Usage) {
	addUsage(&b.total, u)
	b.stagesSeen++
}

// Total returns the aggregate usage recorded so far.
func (b *BudgetTracker) Total() contracts.Usage { return b.total }

// BudgetSignal is the outcome of one Check call.
type BudgetSignal string

const (
	BudgetOK       BudgetSignal = "ok"
	BudgetWarning  BudgetSignal = "warning"   // >= 90% of budget consumed
	BudgetForecast BudgetSignal = "forecast"  // projected to exceed budget before completion
	BudgetExceeded BudgetSignal = "exceeded"  // >= 100% of budget consumed
)

// Check implements spec.md §5's budget rule and §8 scenario 6's forecast
// math: at 90% of token_budget, warn; if the projected total (average
// usage per stage so far, times remaining stages) exceeds the budget while
// consumption itself is still under 90%, emit a forecast warning; at 100%,
// signal exceeded so the caller triggers degradation. Each of the 90% and
// forecast signals fires at most once per tracker (spec.md's "emit a
// warning" reads as an edge-triggered event, not a level that resignals
// every stage).
func (b *BudgetTracker) Check() BudgetSignal {
	if b.budget <= 0 {
		return BudgetOK
	}
	consumed := b.total.Input + b.total.Output

	if consumed >= b.budget {
		return BudgetExceeded
	}

	pct := float64(consumed) / float64(b.budget) * 100
	if pct >= 90 {
		if !b.warnedAt90 {
			b.warnedAt90 = true
			return BudgetWarning
		}
		return BudgetOK
	}

	if b.stagesSeen > 0 && b.stagesTotal > b.stagesSeen {
		avgPerStage := float64(consumed) / float64(b.stagesSeen)
		remaining := float64(b.stagesTotal - b.stagesSeen)
		forecast := float64(consumed) + avgPerStage*remaining
		if forecast > float64(b.budget) && !b.warnedForecast {
			b.warnedForecast = true
			return BudgetForecast
		}
	}

	return BudgetOK
}
