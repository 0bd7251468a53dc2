package agent

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/jason9075/invisibrow/internal/browser"
	"github.com/jason9075/invisibrow/internal/llm"
	"github.com/jason9075/invisibrow/internal/store"
	"github.com/jason9075/invisibrow/internal/tokens"
)

// ExecutorOutcome classifies Executor.Run's three possible results
// (spec.md §4.3 Contract: "success | intervention | failed").
type ExecutorOutcome int

const (
	OutcomeSuccess ExecutorOutcome = iota
	OutcomeIntervention
	OutcomeFailed
)

// ExecutorResult is Executor.Run's return value.
type ExecutorResult struct {
	Outcome        ExecutorOutcome
	BrowserResult  *browser.BrowserResult
	InterventionReason string
	FailMessage    string
}

// Executor drives the page-action loop for one Planner-issued goal
// (spec.md §4.3), never returning raw DOM across its boundary — only a
// BrowserResult, an intervention reason, or a failure message.
type Executor struct {
	sessionID string
	client    llm.Client
	watchdog  *Watchdog
	driver    browser.PageDriver
	hooks     *TaskHooks
	headless  bool
	rnd       *rand.Rand
	now       func() time.Time
}

// NewExecutor builds an Executor bound to one task's session and hooks.
func NewExecutor(sessionID string, client llm.Client, watchdog *Watchdog, driver browser.PageDriver, hooks *TaskHooks, headless bool) *Executor {
	return &Executor{
		sessionID: sessionID,
		client:    client,
		watchdog:  watchdog,
		driver:    driver,
		hooks:     hooks,
		headless:  headless,
		rnd:       rand.New(rand.NewSource(1)),
		now:       time.Now,
	}
}

// Run executes goal, bounded at MaxSteps iterations (spec.md §4.3).
func (e *Executor) Run(ctx context.Context, goal string) (*ExecutorResult, error) {
	if err := e.driver.Acquire(ctx, e.sessionID, e.headless); err != nil {
		return &ExecutorResult{Outcome: OutcomeFailed, FailMessage: fmt.Sprintf("acquiring browser: %v", err)}, nil
	}

	if goal == ManualLoginGoal {
		return e.runManualLogin(ctx)
	}

	var history []string

	for i := 1; i <= MaxSteps; i++ {
		if ctx.Err() != nil {
			return nil, ErrUserAborted
		}

		snapshot, err := e.snapshotWithRetry(ctx)
		if err != nil {
			return &ExecutorResult{Outcome: OutcomeFailed, FailMessage: fmt.Sprintf("reading page state: %v", err)}, nil
		}

		tail := historyTail(history, 5)
		watchdogOutcome, err := e.watchdog.Check(ctx, goal, snapshot, tail)
		if err != nil {
			return nil, err
		}
		if watchdogOutcome.NeedsIntervention {
			usage := watchdogOutcome.Usage
			e.hooks.RecordStep(store.TaskStep{
				Agent:      store.RoleExecutor,
				Step:       i,
				Thought:    "watchdog flagged intervention: " + watchdogOutcome.Reason,
				Command:    "intervention",
				Timestamp:  e.now(),
				TokenUsage: &usage,
			})
			return &ExecutorResult{Outcome: OutcomeIntervention, InterventionReason: watchdogOutcome.Reason}, nil
		}

		decision, decisionUsage, err := e.decide(ctx, goal, snapshot, history)
		if err != nil {
			return &ExecutorResult{Outcome: OutcomeFailed, FailMessage: fmt.Sprintf("decision call: %v", err)}, nil
		}
		combined := watchdogOutcome.Usage.Add(decisionUsage)

		history = append(history, fmt.Sprintf("%d: %s", i, decision.Thought))

		if decision.Action == actionFinish || decision.Action == actionAnswer {
			summary, extracted, sumUsage := e.summarize(ctx, goal, snapshot, decision.Answer)
			combined = combined.Add(sumUsage)
			e.hooks.RecordStep(store.TaskStep{
				Agent:      store.RoleExecutor,
				Step:       i,
				Thought:    decision.Thought,
				Command:    decision.Action,
				Timestamp:  e.now(),
				TokenUsage: &combined,
			})
			return &ExecutorResult{
				Outcome: OutcomeSuccess,
				BrowserResult: &browser.BrowserResult{
					Summary:   summary,
					Extracted: extracted,
					URL:       snapshot.URL,
				},
			}, nil
		}

		e.hooks.RecordStep(store.TaskStep{
			Agent:      store.RoleExecutor,
			Step:       i,
			Thought:    decision.Thought,
			Command:    decision.Action,
			Timestamp:  e.now(),
			TokenUsage: &combined,
		})

		e.performAction(ctx, decision)
		if err := e.sleepJitter(ctx, 2*time.Second, 4*time.Second); err != nil {
			return nil, err
		}
	}

	return &ExecutorResult{Outcome: OutcomeFailed, FailMessage: "max steps reached"}, nil
}

// runManualLogin implements the MANUAL_LOGIN goal (spec.md §8 S1): a
// single cancellable 300s wait for a human to drive the real browser
// directly, with no decision loop and no LLM calls.
func (e *Executor) runManualLogin(ctx context.Context) (*ExecutorResult, error) {
	if err := e.driver.Wait(ctx, ManualLoginDuration); err != nil {
		return nil, ErrUserAborted
	}
	return &ExecutorResult{
		Outcome: OutcomeSuccess,
		BrowserResult: &browser.BrowserResult{
			Summary: "manual session ended",
		},
	}, nil
}

// snapshotWithRetry applies the one-retry-on-detached-frame policy
// spec.md §7 prescribes for opaque page-state reads.
func (e *Executor) snapshotWithRetry(ctx context.Context) (*browser.PageSnapshot, error) {
	snapshot, err := e.driver.Snapshot(ctx, e.sessionID)
	if err == nil {
		return snapshot, nil
	}
	log.Printf("[executor] snapshot failed, retrying once: %v", err)
	return e.driver.Snapshot(ctx, e.sessionID)
}

func (e *Executor) decide(ctx context.Context, goal string, snapshot *browser.PageSnapshot, history []string) (*decisionResult, tokens.Usage, error) {
	system := fmt.Sprintf(`You are operating a real browser to accomplish this goal:
%s

Choose exactly one action per turn: goto, click, type, search, wait, finish, or answer.
- goto: param is a full URL to navigate to.
- search: param is a search query to run on the default search engine.
- click: param is the numeric index of an interactive element from the page snapshot.
- type: param is "index:text" — the interactive element index, a colon, then the text to enter.
- wait: no param; pauses 5 seconds for the page to settle.
- finish: the goal is fully accomplished; set answer to the final result.
- answer: you have the information requested but more of the task remains; set answer to what was found.

Loop history so far:
%s`, goal, strings.Join(history, "\n"))

	user := snapshotToText(snapshot)

	resp, err := e.client.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseSchema: decisionSchema,
		SchemaName:     "executor_decision",
	})
	if err != nil {
		return nil, tokens.Usage{}, fmt.Errorf("calling executor model: %w", err)
	}

	var result decisionResult
	if err := decodeJSONMode(resp.Content, &result); err != nil {
		return nil, tokens.Usage{}, fmt.Errorf("parsing executor decision: %w", err)
	}

	usage := e.hooks.RecordUsage(e.client.ModelInfo().ID, resp.Usage)
	return &result, usage, nil
}

// summarize compresses the raw snapshot into the only form that crosses
// the Executor->Planner boundary (spec.md §4.3 step 6). Failure here is
// non-fatal per spec.md §7: it falls back to a minimal summary instead
// of failing the task.
func (e *Executor) summarize(ctx context.Context, goal string, snapshot *browser.PageSnapshot, answer string) (string, map[string]any, tokens.Usage) {
	system := fmt.Sprintf("Summarize the outcome of this browser task for a planner that never sees the raw page:\ngoal: %s\nfinal answer given: %s", goal, answer)
	user := snapshotToText(snapshot)

	resp, err := e.client.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseSchema: summarizationSchema,
		SchemaName:     "executor_summary",
	})
	if err != nil {
		log.Printf("[executor] summarization failed, falling back: %v", err)
		return fallbackSummary(answer), map[string]any{}, tokens.Usage{}
	}

	var result summarizationResult
	if err := decodeJSONMode(resp.Content, &result); err != nil {
		log.Printf("[executor] summarization response malformed, falling back: %v", err)
		return fallbackSummary(answer), map[string]any{}, tokens.Usage{}
	}

	usage := e.hooks.RecordUsage(e.client.ModelInfo().ID, resp.Usage)
	if result.Extracted == nil {
		result.Extracted = map[string]any{}
	}
	return result.Summary, result.Extracted, usage
}

func fallbackSummary(answer string) string {
	if answer != "" {
		return answer
	}
	return "task complete"
}

// performAction runs one PageDriver action. All failures are caught and
// logged without aborting the loop (spec.md §4.3).
func (e *Executor) performAction(ctx context.Context, decision *decisionResult) {
	var err error
	switch decision.Action {
	case actionGoto:
		gotoCtx, cancel := context.WithTimeout(ctx, browser.NavigationTimeout)
		err = e.driver.Goto(gotoCtx, e.sessionID, decision.Param)
		cancel()
	case actionSearch:
		searchCtx, cancel := context.WithTimeout(ctx, browser.SearchNavigationTimeout)
		err = e.driver.Search(searchCtx, e.sessionID, decision.Param)
		cancel()
	case actionClick:
		index, perr := strconv.Atoi(strings.TrimSpace(decision.Param))
		if perr != nil {
			err = fmt.Errorf("invalid click index %q: %w", decision.Param, perr)
			break
		}
		err = e.driver.Click(ctx, e.sessionID, index)
	case actionType:
		idxStr, text, found := strings.Cut(decision.Param, ":")
		if !found {
			err = fmt.Errorf("invalid type param %q: expected \"index:text\"", decision.Param)
			break
		}
		index, perr := strconv.Atoi(strings.TrimSpace(idxStr))
		if perr != nil {
			err = fmt.Errorf("invalid type index %q: %w", idxStr, perr)
			break
		}
		err = e.driver.Type(ctx, e.sessionID, index, text)
	case actionWait:
		err = e.driver.Wait(ctx, browser.WaitActionDuration)
	default:
		err = fmt.Errorf("unknown action %q", decision.Action)
	}
	if err != nil {
		log.Printf("[executor] action %s(%s) failed, continuing: %v", decision.Action, decision.Param, err)
	}
}

func (e *Executor) sleepJitter(ctx context.Context, min, max time.Duration) error {
	d := min + time.Duration(e.rnd.Int63n(int64(max-min)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrUserAborted
	case <-timer.C:
		return nil
	}
}

func historyTail(history []string, n int) []string {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func snapshotToText(snapshot *browser.PageSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "url: %s\ntitle: %s\n", snapshot.URL, snapshot.Title)
	fmt.Fprintf(&b, "interactive elements:\n")
	for _, el := range snapshot.InteractiveElements {
		fmt.Fprintf(&b, "  [%d] <%s> %s\n", el.Index, el.Tag, el.Text)
	}
	fmt.Fprintf(&b, "content: %s\n", snapshot.ContentSnippet)
	return b.String()
}
