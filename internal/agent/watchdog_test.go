package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jason9075/invisibrow/internal/browser"
	"github.com/jason9075/invisibrow/internal/llm"
	"github.com/jason9075/invisibrow/internal/memory"
)

func openTestMemory(t *testing.T) *memory.MemoryStore {
	t.Helper()
	m, err := memory.Open(filepath.Join(t.TempDir(), "memory.sqlite"))
	if err != nil {
		t.Fatalf("memory.Open failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestWatchdogTier1KeywordScanDetectsBlockWithoutCallingLLM(t *testing.T) {
	mem := openTestMemory(t)
	client := &llm.MockClient{Responder: func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		t.Fatal("tier 1 hit should short-circuit before any LLM call")
		return nil, nil
	}}
	w := NewWatchdog(client, mem, nil)

	snapshot := &browser.PageSnapshot{Title: "Please verify you are human", URL: "https://example.com"}
	outcome, err := w.Check(context.Background(), "log in", snapshot, nil)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !outcome.NeedsIntervention {
		t.Fatal("expected tier 1 keyword scan to flag intervention")
	}
}

func TestWatchdogTier1URLCheckDetectsSorryPage(t *testing.T) {
	mem := openTestMemory(t)
	w := NewWatchdog(&llm.MockClient{}, mem, nil)

	snapshot := &browser.PageSnapshot{Title: "Before you continue", URL: "https://www.google.com/sorry/index"}
	outcome, err := w.Check(context.Background(), "search something", snapshot, nil)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !outcome.NeedsIntervention {
		t.Fatal("expected the sorry-url pattern to flag intervention")
	}
}

func TestWatchdogTier2NoInterventionOnOrdinaryPage(t *testing.T) {
	mem := openTestMemory(t)
	client := &llm.MockClient{Responder: func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"isStuck":false,"needsIntervention":false}`, Usage: &llm.Usage{PromptTokens: 12, CompletionTokens: 4}}, nil
	}}
	hooks := testHooks()
	w := NewWatchdog(client, mem, hooks)

	snapshot := &browser.PageSnapshot{Title: "Acme Corp — Products", URL: "https://acme.example", ContentSnippet: "Welcome to Acme."}
	outcome, err := w.Check(context.Background(), "find pricing", snapshot, nil)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if outcome.NeedsIntervention {
		t.Fatal("expected an ordinary page not to require intervention")
	}
}

func TestWatchdogIsStuckTreatedAsIntervention(t *testing.T) {
	mem := openTestMemory(t)
	client := &llm.MockClient{Responder: func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"isStuck":true,"needsIntervention":false}`}, nil
	}}
	w := NewWatchdog(client, mem, testHooks())

	snapshot := &browser.PageSnapshot{Title: "Dashboard", URL: "https://acme.example"}
	history := []string{"1: click button", "2: click button", "3: click button"}
	outcome, err := w.Check(context.Background(), "do the thing", snapshot, history)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !outcome.NeedsIntervention {
		t.Fatal("expected isStuck=true to be treated as requiring intervention")
	}
}

func TestWatchdogTier2LLMFaultIsNonIntervention(t *testing.T) {
	mem := openTestMemory(t)
	client := &llm.MockClient{Responder: func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, context.DeadlineExceeded
	}}
	w := NewWatchdog(client, mem, testHooks())

	snapshot := &browser.PageSnapshot{Title: "Acme", URL: "https://acme.example"}
	outcome, err := w.Check(context.Background(), "goal", snapshot, nil)
	if err != nil {
		t.Fatalf("expected LLM faults to be swallowed, got error: %v", err)
	}
	if outcome.NeedsIntervention {
		t.Fatal("expected LLM fault to be treated as non-intervention per spec.md §7")
	}
}

func TestWatchdogSelfLearnsNewBlockKeywords(t *testing.T) {
	mem := openTestMemory(t)
	client := &llm.MockClient{Responder: func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"isStuck":false,"needsIntervention":true,"reason":"custom block widget","newBlockKeywords":["zorp shield"]}`}, nil
	}}
	w := NewWatchdog(client, mem, testHooks())

	snapshot := &browser.PageSnapshot{Title: "Protected by Zorp", URL: "https://acme.example"}
	outcome, err := w.Check(context.Background(), "goal", snapshot, nil)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !outcome.NeedsIntervention {
		t.Fatal("expected intervention")
	}

	kws, err := mem.GetBotKeywords()
	if err != nil {
		t.Fatalf("GetBotKeywords failed: %v", err)
	}
	found := false
	for _, kw := range kws {
		if kw == "zorp shield" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected self-learned keyword %q among %v", "zorp shield", kws)
	}
}
