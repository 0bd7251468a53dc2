package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jason9075/invisibrow/internal/browser"
	"github.com/jason9075/invisibrow/internal/llm"
)

func TestExecutorManualLoginIsCancellable(t *testing.T) {
	driver := browser.NewMockDriver(nil)
	mem := openTestMemory(t)
	watchdog := NewWatchdog(&llm.MockClient{}, mem, testHooks())
	exec := NewExecutor("sess-1", &llm.MockClient{}, watchdog, driver, testHooks(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := exec.Run(ctx, ManualLoginGoal); !errors.Is(err, ErrUserAborted) {
		t.Fatalf("expected ErrUserAborted, got %v", err)
	}
}

func TestExecutorFinishesOnFinishDecision(t *testing.T) {
	driver := browser.NewMockDriver(map[string]*browser.PageSnapshot{
		"https://example.com": {Title: "Example", ContentSnippet: "hello world"},
	})
	mem := openTestMemory(t)

	watchdogClient := &llm.MockClient{Responder: func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"isStuck":false,"needsIntervention":false}`, Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
	}}
	watchdog := NewWatchdog(watchdogClient, mem, testHooks())

	decisionClient := &llm.MockClient{Responder: func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		switch req.SchemaName {
		case "executor_decision":
			return &llm.ChatResponse{Content: `{"thought":"done","action":"finish","answer":"found it"}`, Usage: &llm.Usage{PromptTokens: 20, CompletionTokens: 10}}, nil
		case "executor_summary":
			return &llm.ChatResponse{Content: `{"summary":"found it on example.com","extracted":{"value":"42"}}`, Usage: &llm.Usage{PromptTokens: 15, CompletionTokens: 5}}, nil
		default:
			t.Fatalf("unexpected schema %q", req.SchemaName)
			return nil, nil
		}
	}}

	exec := NewExecutor("sess-1", decisionClient, watchdog, driver, testHooks(), true)
	if err := driver.Acquire(context.Background(), "sess-1", true); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := driver.Goto(context.Background(), "sess-1", "https://example.com"); err != nil {
		t.Fatalf("seeding driver failed: %v", err)
	}

	outcome, err := exec.Run(context.Background(), "find the value")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %v (fail=%q)", outcome.Outcome, outcome.FailMessage)
	}
	if outcome.BrowserResult.Summary != "found it on example.com" {
		t.Errorf("unexpected summary: %q", outcome.BrowserResult.Summary)
	}
	if outcome.BrowserResult.Extracted["value"] != "42" {
		t.Errorf("expected extracted value to survive, got %+v", outcome.BrowserResult.Extracted)
	}
}

func TestExecutorReturnsInterventionOnTier1Hit(t *testing.T) {
	driver := browser.NewMockDriver(map[string]*browser.PageSnapshot{
		"about:blank": {Title: "Please verify you are human"},
	})
	mem := openTestMemory(t)
	watchdog := NewWatchdog(&llm.MockClient{}, mem, testHooks())
	decisionClient := &llm.MockClient{Responder: func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		t.Fatal("decision LLM should not be called once tier 1 flags intervention")
		return nil, nil
	}}
	exec := NewExecutor("sess-1", decisionClient, watchdog, driver, testHooks(), true)

	outcome, err := exec.Run(context.Background(), "log in")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome.Outcome != OutcomeIntervention {
		t.Fatalf("expected intervention, got %v", outcome.Outcome)
	}
}

func TestExecutorSummarizationFailureFallsBackNonFatally(t *testing.T) {
	driver := browser.NewMockDriver(map[string]*browser.PageSnapshot{
		"about:blank": {Title: "Example"},
	})
	mem := openTestMemory(t)
	watchdog := NewWatchdog(&llm.MockClient{Responder: func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"isStuck":false,"needsIntervention":false}`}, nil
	}}, mem, testHooks())

	decisionClient := &llm.MockClient{Responder: func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		switch req.SchemaName {
		case "executor_decision":
			return &llm.ChatResponse{Content: `{"thought":"done","action":"answer","answer":"42"}`}, nil
		case "executor_summary":
			return nil, errors.New("transport error")
		default:
			t.Fatalf("unexpected schema %q", req.SchemaName)
			return nil, nil
		}
	}}

	exec := NewExecutor("sess-1", decisionClient, watchdog, driver, testHooks(), true)
	outcome, err := exec.Run(context.Background(), "answer the question")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome.Outcome != OutcomeSuccess {
		t.Fatalf("expected a non-fatal fallback success, got %v (fail=%q)", outcome.Outcome, outcome.FailMessage)
	}
	if outcome.BrowserResult.Summary != "42" {
		t.Errorf("expected fallback summary to use decision.answer, got %q", outcome.BrowserResult.Summary)
	}
}
