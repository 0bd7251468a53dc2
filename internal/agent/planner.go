package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jason9075/invisibrow/internal/browser"
	"github.com/jason9075/invisibrow/internal/eventbus"
	"github.com/jason9075/invisibrow/internal/llm"
	"github.com/jason9075/invisibrow/internal/memory"
	"github.com/jason9075/invisibrow/internal/store"
	"github.com/jason9075/invisibrow/internal/tokens"
)

// PlanResult is Planner.Run's success value (spec.md §4.2 Contract: Output
// "{answer, url} or failure").
type PlanResult struct {
	Answer string
	URL    string
}

// Planner drives one task's state machine (spec.md §4.2). It never touches
// PageDriver itself except for the SetHeadless/Acquire calls that toggle
// and restore headless mode in the intervention handshake (spec.md §9) —
// everything else about the live page
// goes through its owned Executor.
type Planner struct {
	taskID    string
	sessionID string
	goal      string
	headless  bool // the session's preferred headless mode, restored after intervention

	client   llm.Client
	memory   *memory.MemoryStore
	bus      *eventbus.Bus
	driver   browser.PageDriver
	hooks    *TaskHooks
	executor *Executor
	now      func() time.Time
}

// NewPlanner builds a Planner for one task. executor is the single
// Executor instance this Planner owns for the task's lifetime (the task
// is bound to exactly one session, so there is no "re-create on session
// change" concern to implement here).
func NewPlanner(taskID, sessionID, goal string, headless bool, client llm.Client, mem *memory.MemoryStore, bus *eventbus.Bus, driver browser.PageDriver, hooks *TaskHooks, executor *Executor) *Planner {
	return &Planner{
		taskID:    taskID,
		sessionID: sessionID,
		goal:      goal,
		headless:  headless,
		client:    client,
		memory:    mem,
		bus:       bus,
		driver:    driver,
		hooks:     hooks,
		executor:  executor,
		now:       time.Now,
	}
}

// Run executes the full recall -> loop state machine (spec.md §4.2).
func (p *Planner) Run(ctx context.Context) (*PlanResult, error) {
	keywords, err := p.extractKeywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("extracting keywords: %w", err)
	}

	recallBlock := p.recallBlock(keywords)
	historyBlock := p.sessionHistoryBlock()

	var lastResult *browser.BrowserResult
	var loopTrace []string

	for i := 1; i <= MaxSteps; i++ {
		if ctx.Err() != nil {
			return nil, ErrUserAborted
		}

		step, usage, err := p.planStep(ctx, recallBlock, historyBlock, loopTrace, lastResult)
		if err != nil {
			return nil, fmt.Errorf("plan step: %w", err)
		}

		p.hooks.RecordStep(store.TaskStep{
			Agent:      store.RolePlanner,
			Step:       i,
			Thought:    step.Thought,
			Command:    step.Command,
			Timestamp:  p.now(),
			TokenUsage: &usage,
		})
		loopTrace = append(loopTrace, fmt.Sprintf("%d: %s -> %s", i, step.Thought, step.Command))

		switch step.Command {
		case planCommandFinish:
			return p.finish(step, lastResult, keywords)

		case planCommandWait:
			if err := p.cancellableSleep(ctx, 5*time.Second); err != nil {
				return nil, err
			}

		case planCommandBrowser:
			outcome, err := p.executor.Run(ctx, step.Input.Goal)
			if err != nil {
				return nil, err
			}
			switch outcome.Outcome {
			case OutcomeIntervention:
				i-- // the intervention iteration does not count (spec.md §4.2 step 4)
				if err := p.handleIntervention(ctx, outcome.InterventionReason, lastURL(lastResult)); err != nil {
					return nil, err
				}
			case OutcomeFailed:
				return nil, fmt.Errorf("%s", outcome.FailMessage)
			default:
				lastResult = outcome.BrowserResult
			}

		default:
			return nil, fmt.Errorf("planner returned unknown command %q", step.Command)
		}
	}

	return nil, ErrMaxStepsReached
}

func (p *Planner) finish(step *planStepResult, lastResult *browser.BrowserResult, keywords []string) (*PlanResult, error) {
	answer := step.Input.Answer
	if answer == "" && lastResult != nil {
		answer = lastResult.Summary
	}
	url := lastURL(lastResult)

	var artifacts map[string]any
	if lastResult != nil {
		artifacts = lastResult.Extracted
	}

	record := memory.MemoryRecord{
		ID:        p.taskID,
		Goal:      p.goal,
		Keywords:  keywords,
		Summary:   answer,
		Artifacts: artifacts,
		Status:    memory.StatusSuccess,
		Timestamp: p.now(),
	}
	if err := p.memory.Save(record); err != nil {
		log.Printf("[planner] saving memory record for task %s failed: %v", p.taskID, err)
	}

	entry := fmt.Sprintf("%s goal: %s / result: %s", p.now().Format(time.RFC3339), p.goal, answer)
	p.hooks.AppendSessionHistory(entry)

	return &PlanResult{Answer: answer, URL: url}, nil
}

func lastURL(r *browser.BrowserResult) string {
	if r == nil {
		return ""
	}
	return r.URL
}

func (p *Planner) extractKeywords(ctx context.Context) ([]string, error) {
	resp, err := p.client.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "Extract 3-5 lowercase keywords that best summarize the following browsing goal. Prefer concrete nouns over verbs."},
			{Role: "user", Content: p.goal},
		},
		ResponseSchema: keywordExtractionSchema,
		SchemaName:     "keyword_extraction",
	})
	if err != nil {
		return nil, err
	}

	var result keywordExtractionResult
	if err := decodeJSONMode(resp.Content, &result); err != nil {
		return nil, err
	}

	usage := p.hooks.RecordUsage(p.client.ModelInfo().ID, resp.Usage)
	p.hooks.RecordStep(store.TaskStep{
		Agent:      store.RolePlanner,
		Step:       0,
		Thought:    "extracted keywords for recall",
		Command:    "keywords",
		Timestamp:  p.now(),
		TokenUsage: &usage,
	})

	return result.Keywords, nil
}

// recallBlock formats up to 5 prior successful records into a bounded
// context block (spec.md §4.2 step 2).
func (p *Planner) recallBlock(keywords []string) string {
	records, err := p.memory.Search(keywords)
	if err != nil {
		log.Printf("[planner] memory search failed: %v", err)
		return ""
	}
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant prior results:\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "- [%s] goal: %s / result: %s\n", rec.Timestamp.Format(time.RFC3339), rec.Goal, rec.Summary)
	}
	return b.String()
}

// sessionHistoryBlock formats the session's prior summaries (spec.md §4.2
// step 3).
func (p *Planner) sessionHistoryBlock() string {
	history := p.hooks.SessionHistory()
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Session history:\n")
	for _, entry := range history {
		fmt.Fprintf(&b, "- %s\n", entry)
	}
	return b.String()
}

// planStep calls the plan-step LLM with the goal, the two context blocks,
// the prior loop trace, and a user message carrying the last BrowserResult
// (or a sentinel on the first iteration) — the Planner never sees a page
// snapshot directly (spec.md §4.2 step 4).
func (p *Planner) planStep(ctx context.Context, recallBlock, historyBlock string, loopTrace []string, lastResult *browser.BrowserResult) (*planStepResult, tokens.Usage, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", p.goal)
	if recallBlock != "" {
		b.WriteString(recallBlock)
		b.WriteString("\n")
	}
	if historyBlock != "" {
		b.WriteString(historyBlock)
		b.WriteString("\n")
	}
	b.WriteString(`Respond with one of:
- command="browser": input.goal is a self-contained instruction for a browser-driving agent
  that never sees this conversation. If any known value from the prior results or session
  history above is relevant, you MUST include it verbatim in input.goal so the browser agent
  does not have to re-discover it.
- command="finish": the goal is fully accomplished; input.answer is the final result.
- command="wait": pause and re-evaluate in 5 seconds.

Loop so far:
`)
	b.WriteString(strings.Join(loopTrace, "\n"))

	system := b.String()

	user := "No browser action has been taken yet."
	if lastResult != nil {
		user = fmt.Sprintf("Last browser result — summary: %s / url: %s", lastResult.Summary, lastResult.URL)
	}

	resp, err := p.client.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseSchema: planStepSchema,
		SchemaName:     "plan_step",
	})
	if err != nil {
		return nil, tokens.Usage{}, err
	}

	var result planStepResult
	if err := decodeJSONMode(resp.Content, &result); err != nil {
		return nil, tokens.Usage{}, err
	}

	usage := p.hooks.RecordUsage(p.client.ModelInfo().ID, resp.Usage)
	return &result, usage, nil
}

// cancellableSleep implements the "wait" command's 5s pause, racing the
// timer against cancellation (spec.md §4.2 step 4 "wait", §5).
func (p *Planner) cancellableSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrUserAborted
	case <-timer.C:
		return nil
	}
}

// handleIntervention implements the handshake of spec.md §4.6: publish
// verification_needed, toggle to non-headless, wait for resolution or
// cancellation, then restore the session's preferred headless mode.
func (p *Planner) handleIntervention(ctx context.Context, reason, url string) error {
	p.bus.Publish(eventbus.SignalVerificationNeeded, eventbus.VerificationNeededPayload{
		SessionID: p.sessionID,
		Reason:    reason,
		URL:       url,
	})
	p.hooks.SetVerifying(true)
	defer p.hooks.SetVerifying(false)

	if err := p.driver.SetHeadless(ctx, p.sessionID, false); err != nil {
		log.Printf("[planner] switching session %s to non-headless failed: %v", p.sessionID, err)
	}
	if err := p.driver.Acquire(ctx, p.sessionID, false); err != nil {
		log.Printf("[planner] re-acquiring non-headless browser for session %s failed: %v", p.sessionID, err)
	}

	resolved := p.bus.WaitForVerificationResolved(p.sessionID, ctx.Done())
	if !resolved {
		return ErrVerificationCancelled
	}

	if err := p.driver.SetHeadless(ctx, p.sessionID, p.headless); err != nil {
		log.Printf("[planner] restoring headless=%v for session %s failed: %v", p.headless, p.sessionID, err)
	}
	if err := p.driver.Acquire(ctx, p.sessionID, p.headless); err != nil {
		log.Printf("[planner] re-acquiring browser for session %s failed: %v", p.sessionID, err)
	}
	return nil
}
