package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jason9075/invisibrow/internal/browser"
	"github.com/jason9075/invisibrow/internal/eventbus"
	"github.com/jason9075/invisibrow/internal/llm"
)

func keywordResponse() *llm.ChatResponse {
	return &llm.ChatResponse{Content: `{"keywords":["acme","pricing","plan"]}`, Usage: &llm.Usage{PromptTokens: 8, CompletionTokens: 3}}
}

func TestPlannerFinishOnFirstStepSavesMemoryAndHistory(t *testing.T) {
	mem := openTestMemory(t)
	plannerClient := &llm.MockClient{Responder: func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		switch req.SchemaName {
		case "keyword_extraction":
			return keywordResponse(), nil
		case "plan_step":
			return &llm.ChatResponse{Content: `{"thought":"already known","command":"finish","input":{"answer":"the plan costs $10/mo"}}`}, nil
		default:
			t.Fatalf("unexpected schema %q", req.SchemaName)
			return nil, nil
		}
	}}

	hooks, steps, history := recordingHooks()
	driver := browser.NewMockDriver(nil)
	watchdog := NewWatchdog(&llm.MockClient{}, mem, hooks)
	exec := NewExecutor("sess-1", &llm.MockClient{}, watchdog, driver, hooks, true)
	p := NewPlanner("task-1", "sess-1", "find pricing", true, plannerClient, mem, eventbus.New(), driver, hooks, exec)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Answer != "the plan costs $10/mo" {
		t.Errorf("unexpected answer: %q", result.Answer)
	}
	if len(*history) != 1 {
		t.Fatalf("expected exactly one session history entry, got %v", *history)
	}
	if len(*steps) == 0 {
		t.Fatal("expected at least one recorded step")
	}

	records, err := mem.Search([]string{"pricing"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "task-1" {
		t.Fatalf("expected the finished task to be recalled by keyword, got %+v", records)
	}
}

func TestPlannerInterventionHandshakeDecrementsStepAndContinues(t *testing.T) {
	mem := openTestMemory(t)
	planCalls := 0
	plannerClient := &llm.MockClient{Responder: func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		switch req.SchemaName {
		case "keyword_extraction":
			return keywordResponse(), nil
		case "plan_step":
			planCalls++
			if planCalls == 1 {
				return &llm.ChatResponse{Content: `{"thought":"log in first","command":"browser","input":{"goal":"log in to the account"}}`}, nil
			}
			return &llm.ChatResponse{Content: `{"thought":"logged in","command":"finish","input":{"answer":"logged in successfully"}}`}, nil
		default:
			t.Fatalf("unexpected schema %q", req.SchemaName)
			return nil, nil
		}
	}}

	driver := browser.NewMockDriver(map[string]*browser.PageSnapshot{
		"about:blank": {Title: "Please sign in to continue"},
	})
	bus := eventbus.New()
	hooks, steps, _ := recordingHooks()
	watchdog := NewWatchdog(&llm.MockClient{}, mem, hooks)
	exec := NewExecutor("sess-1", &llm.MockClient{}, watchdog, driver, hooks, true)
	p := NewPlanner("task-1", "sess-1", "log into the account", true, plannerClient, mem, bus, driver, hooks, exec)

	go func() {
		time.Sleep(10 * time.Millisecond)
		bus.Publish(eventbus.SignalVerificationResolved, eventbus.VerificationResolvedPayload{SessionID: "sess-1"})
	}()

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Answer != "logged in successfully" {
		t.Errorf("unexpected answer: %q", result.Answer)
	}
	if planCalls != 2 {
		t.Fatalf("expected exactly 2 plan-step calls (the intervention iteration plus the retry), got %d", planCalls)
	}

	plannerSteps := 0
	for _, s := range *steps {
		if s.Agent == "planner" && s.Step == 1 {
			plannerSteps++
		}
	}
	if plannerSteps != 2 {
		t.Errorf("expected the intervention iteration to be recorded but not advance the step counter, got %d planner steps at index 1", plannerSteps)
	}
}

func TestPlannerCancellationReturnsErrUserAborted(t *testing.T) {
	mem := openTestMemory(t)
	plannerClient := &llm.MockClient{Responder: func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return keywordResponse(), nil
	}}
	driver := browser.NewMockDriver(nil)
	hooks := testHooks()
	watchdog := NewWatchdog(&llm.MockClient{}, mem, hooks)
	exec := NewExecutor("sess-1", &llm.MockClient{}, watchdog, driver, hooks, true)
	p := NewPlanner("task-1", "sess-1", "goal", true, plannerClient, mem, eventbus.New(), driver, hooks, exec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Run(ctx); !errors.Is(err, ErrUserAborted) {
		t.Fatalf("expected ErrUserAborted, got %v", err)
	}
}

func TestPlannerMaxStepsReached(t *testing.T) {
	mem := openTestMemory(t)
	plannerClient := &llm.MockClient{Responder: func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		switch req.SchemaName {
		case "keyword_extraction":
			return keywordResponse(), nil
		case "plan_step":
			return &llm.ChatResponse{Content: `{"thought":"keep going","command":"browser","input":{"goal":"check again"}}`}, nil
		default:
			t.Fatalf("unexpected schema %q", req.SchemaName)
			return nil, nil
		}
	}}

	driver := browser.NewMockDriver(map[string]*browser.PageSnapshot{
		"about:blank": {Title: "ok"},
	})
	watchdogClient := &llm.MockClient{Responder: func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"isStuck":false,"needsIntervention":false}`}, nil
	}}
	decisionClient := &llm.MockClient{Responder: func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		switch req.SchemaName {
		case "executor_decision":
			return &llm.ChatResponse{Content: `{"thought":"done here","action":"answer","answer":"partial"}`}, nil
		case "executor_summary":
			return &llm.ChatResponse{Content: `{"summary":"partial result","extracted":{}}`}, nil
		default:
			t.Fatalf("unexpected schema %q", req.SchemaName)
			return nil, nil
		}
	}}

	hooks := testHooks()
	watchdog := NewWatchdog(watchdogClient, mem, hooks)
	exec := NewExecutor("sess-1", decisionClient, watchdog, driver, hooks, true)
	p := NewPlanner("task-1", "sess-1", "never finishes", true, plannerClient, mem, eventbus.New(), driver, hooks, exec)

	_, err := p.Run(context.Background())
	if !errors.Is(err, ErrMaxStepsReached) {
		t.Fatalf("expected ErrMaxStepsReached, got %v", err)
	}
}
