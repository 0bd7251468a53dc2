// Package tokens implements per-call cost estimation and per-session
// rolling token/cost accounting (spec.md §4.8 TokenAccounting).
package tokens

import (
	"github.com/jason9075/invisibrow/internal/config"
	"github.com/jason9075/invisibrow/internal/eventbus"
	"github.com/jason9075/invisibrow/internal/llm"
)

// Usage is the per-call token/cost record attached to a TaskStep and
// accumulated into a Task's aggregate tokenUsage (spec.md §3).
type Usage struct {
	InputTokens  int     `json:"inputTokens"`
	CachedTokens int     `json:"cachedTokens"`
	OutputTokens int     `json:"outputTokens"`
	Cost         float64 `json:"cost"`
}

// Add returns the element-wise sum of u and o, used to fold a step's
// usage into a task's running aggregate.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		CachedTokens: u.CachedTokens + o.CachedTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		Cost:         u.Cost + o.Cost,
	}
}

// SessionStats are the rolling counters owned by a Session (spec.md §3).
// Mutated only through Accounting.Record, which is the sole side effect
// LLM calls within a session's tasks have on it.
type SessionStats struct {
	Tokens           int     `json:"tokens"`
	CachedTokens     int     `json:"cachedTokens"`
	Cost             float64 `json:"cost"`
	LastPromptTokens int     `json:"lastPromptTokens"`
}

// Accounting estimates per-call cost from a pricing table and publishes
// session:stats-updated after every mutation (spec.md §4.8, §6).
type Accounting struct {
	pricing *config.PricingTable
	bus     *eventbus.Bus
}

// New builds an Accounting against a loaded pricing table and event bus.
// bus may be nil in tests that don't care about the stats-updated signal.
func New(pricing *config.PricingTable, bus *eventbus.Bus) *Accounting {
	return &Accounting{pricing: pricing, bus: bus}
}

// EstimateCost applies the three-rate model (non-cached input, cached
// input, output) spec.md §4.8 requires, falling back to the highest-tier
// rate for models the pricing table doesn't name.
func (a *Accounting) EstimateCost(model string, promptTokens, cachedTokens, completionTokens int) float64 {
	rate := a.pricing.RateFor(model)
	nonCached := promptTokens - cachedTokens
	if nonCached < 0 {
		nonCached = 0
	}
	const perMillion = 1_000_000.0
	return float64(nonCached)/perMillion*rate.Input +
		float64(cachedTokens)/perMillion*rate.CachedInput +
		float64(completionTokens)/perMillion*rate.Output
}

// Record folds one LLM call's usage into stats (the caller must hold
// whatever per-session lock guards stats — see spec.md §5) and publishes
// session:stats-updated. It returns the Usage value callers attach to
// the originating TaskStep/Task aggregate.
func (a *Accounting) Record(sessionID, model string, stats *SessionStats, usage *llm.Usage) Usage {
	if usage == nil {
		return Usage{}
	}
	cost := a.EstimateCost(model, usage.PromptTokens, usage.CachedTokens, usage.CompletionTokens)

	stats.Tokens += usage.PromptTokens + usage.CompletionTokens
	stats.CachedTokens += usage.CachedTokens
	stats.Cost += cost
	stats.LastPromptTokens = usage.PromptTokens

	if a.bus != nil {
		a.bus.Publish(eventbus.SignalSessionStatsUpdated, eventbus.SessionStatsUpdatedPayload{
			SessionID:   sessionID,
			DeltaTokens: usage.PromptTokens + usage.CompletionTokens,
			DeltaCost:   cost,
		})
	}

	return Usage{
		InputTokens:  usage.PromptTokens,
		CachedTokens: usage.CachedTokens,
		OutputTokens: usage.CompletionTokens,
		Cost:         cost,
	}
}
