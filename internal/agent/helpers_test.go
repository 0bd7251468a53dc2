package agent

import (
	"github.com/jason9075/invisibrow/internal/llm"
	"github.com/jason9075/invisibrow/internal/store"
	"github.com/jason9075/invisibrow/internal/tokens"
)

// testHooks builds a minimal in-memory TaskHooks for tests that exercise
// Planner/Executor/Watchdog without a Scheduler or durable stores.
func testHooks() *TaskHooks {
	return &TaskHooks{
		RecordStep: func(store.TaskStep) {},
		RecordUsage: func(_ string, usage *llm.Usage) tokens.Usage {
			if usage == nil {
				return tokens.Usage{}
			}
			return tokens.Usage{InputTokens: usage.PromptTokens, CachedTokens: usage.CachedTokens, OutputTokens: usage.CompletionTokens}
		},
		AppendSessionHistory: func(string) {},
		SessionHistory:       func() []string { return nil },
		SetVerifying:         func(bool) {},
	}
}

// recordingHooks additionally captures steps and history for assertions.
func recordingHooks() (*TaskHooks, *[]store.TaskStep, *[]string) {
	steps := []store.TaskStep{}
	history := []string{}
	hooks := &TaskHooks{
		RecordStep: func(step store.TaskStep) { steps = append(steps, step) },
		RecordUsage: func(_ string, usage *llm.Usage) tokens.Usage {
			if usage == nil {
				return tokens.Usage{}
			}
			return tokens.Usage{InputTokens: usage.PromptTokens, OutputTokens: usage.CompletionTokens}
		},
		AppendSessionHistory: func(entry string) { history = append(history, entry) },
		SessionHistory:       func() []string { return history },
		SetVerifying:         func(bool) {},
	}
	return hooks, &steps, &history
}
