package agent

import (
	"github.com/jason9075/invisibrow/internal/llm"
	"github.com/jason9075/invisibrow/internal/store"
	"github.com/jason9075/invisibrow/internal/tokens"
)

// TaskHooks bundles the per-call callbacks spec.md §9 describes as
// threaded from Scheduler down through Planner, Executor, and Watchdog:
// "model this as a TaskHooks value passed by reference through the call
// chain". The Scheduler constructs one per task, closing over that
// task's id and session id.
type TaskHooks struct {
	// RecordStep appends step to the task's durable step trace
	// (spec.md §4.1 "Step callback").
	RecordStep func(step store.TaskStep)

	// RecordUsage accounts one LLM call's usage against both the task's
	// aggregate tokenUsage and the owning session's SessionStats
	// (spec.md §4.1 "Token-usage callback", §4.8). It returns the
	// tokens.Usage value the caller should attach to a TaskStep, if any.
	RecordUsage func(model string, usage *llm.Usage) tokens.Usage

	// AppendSessionHistory appends a timestamped summary entry to the
	// session's history on a successful finish (spec.md §4.2 step 4 "finish").
	AppendSessionHistory func(entry string)

	// SessionHistory returns the session's prior summaries, formatted
	// for the Planner's context block (spec.md §4.2 step 3).
	SessionHistory func() []string

	// SetVerifying flips the session's isVerifying flag for the duration
	// of the intervention handshake (spec.md §4.6, §5).
	SetVerifying func(verifying bool)
}
