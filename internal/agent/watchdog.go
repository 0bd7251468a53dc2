package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jason9075/invisibrow/internal/browser"
	"github.com/jason9075/invisibrow/internal/llm"
	"github.com/jason9075/invisibrow/internal/memory"
	"github.com/jason9075/invisibrow/internal/tokens"
)

// Watchdog implements the two-tier, low-cost-first block detector spec.md
// §4.4 describes: a free keyword scan first, an LLM check only if that misses.
type Watchdog struct {
	client llm.Client
	memory *memory.MemoryStore
	hooks  *TaskHooks
}

// NewWatchdog builds a Watchdog bound to one task's hooks.
func NewWatchdog(client llm.Client, mem *memory.MemoryStore, hooks *TaskHooks) *Watchdog {
	return &Watchdog{client: client, memory: mem, hooks: hooks}
}

// WatchdogOutcome is Watchdog.Check's result.
type WatchdogOutcome struct {
	NeedsIntervention bool
	Reason            string
	Usage             tokens.Usage // zero when Tier 1 resolved it (no LLM call made)
}

// Check runs Tier 1 then, if that misses, Tier 2, against the given
// snapshot and the last 5 entries of the Executor's loop history
// (spec.md §4.4).
func (w *Watchdog) Check(ctx context.Context, goal string, snapshot *browser.PageSnapshot, historyTail []string) (*WatchdogOutcome, error) {
	if ctx.Err() != nil {
		return nil, ErrUserAborted
	}

	if reason, hit := w.keywordScan(snapshot); hit {
		return &WatchdogOutcome{NeedsIntervention: true, Reason: reason}, nil
	}

	return w.llmCheck(ctx, goal, snapshot, historyTail)
}

// keywordScan is Tier 1: a case-insensitive containment check against the
// snapshot's title and content snippet, plus the hard-coded sorry/challenge
// URL pattern, against the self-learned bot-keyword list.
func (w *Watchdog) keywordScan(snapshot *browser.PageSnapshot) (string, bool) {
	if strings.Contains(snapshot.URL, browser.BlockedSorryURLSubstring) {
		return fmt.Sprintf("navigated to a blocked url: %s", snapshot.URL), true
	}

	keywords, err := w.memory.GetBotKeywords()
	if err != nil {
		log.Printf("[watchdog] loading bot keywords failed, skipping tier 1: %v", err)
		return "", false
	}

	haystack := strings.ToLower(snapshot.Title + " " + snapshot.ContentSnippet)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, kw) {
			return fmt.Sprintf("page matched known block keyword %q", kw), true
		}
	}
	return "", false
}

// llmCheck is Tier 2. The prompt rules below are reproduced faithfully
// from spec.md §4.4 to avoid false positives on optional logins, soft
// engagement nudges, and signed-out-but-readable content.
func (w *Watchdog) llmCheck(ctx context.Context, goal string, snapshot *browser.PageSnapshot, historyTail []string) (*WatchdogOutcome, error) {
	system := fmt.Sprintf(`You are a watchdog monitoring a browser automation agent pursuing this goal:
%s

Decide two independent things from the page state given to you:

1. needsIntervention: true ONLY if ALL of the following hold:
   - a CAPTCHA, a forced login wall, or an explicit block message is visibly present
   - that block prevents the agent from making progress on the goal
   - the block covers the MAIN CONTENT AREA of the page, not merely a header/banner login button
   Explicitly return false for: an optional login prompt the agent can dismiss, a soft
   engagement nudge ("sign up for updates"), or content that is fully readable while
   signed out. When in doubt, prefer false.

2. isStuck: true if the recent action history below shows the same action repeated
   at least 3 times with no resulting change to the page.

Recent action history (most recent last):
%s

If needsIntervention is true, also return newBlockKeywords: short literal phrases from
the page (1-4 words each) that reliably identify this specific block, so it can be
recognized instantly next time without another LLM call.`, goal, strings.Join(historyTail, "\n"))

	user := fmt.Sprintf("title: %s\nurl: %s\ncontent: %s", snapshot.Title, snapshot.URL, snapshot.ContentSnippet)

	resp, err := w.client.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseSchema: watchdogSchema,
		SchemaName:     "watchdog_check",
	})
	if err != nil {
		// LLM fault within the Watchdog's LLM tier returns failed with
		// empty flags, treated as non-intervention by the Planner (spec.md §7).
		log.Printf("[watchdog] tier 2 call failed, treating as non-intervention: %v", err)
		return &WatchdogOutcome{}, nil
	}

	var result watchdogResult
	if err := decodeJSONMode(resp.Content, &result); err != nil {
		log.Printf("[watchdog] tier 2 response malformed, treating as non-intervention: %v", err)
		return &WatchdogOutcome{}, nil
	}

	usage := tokens.Usage{}
	if w.hooks != nil && w.hooks.RecordUsage != nil {
		usage = w.hooks.RecordUsage(w.client.ModelInfo().ID, resp.Usage)
	}

	// isStuck is treated as requiring intervention (spec.md §9 open question
	// decision: a dead agent is worth a human look, same as a hard block).
	intervenes := result.NeedsIntervention || result.IsStuck
	reason := result.Reason
	if reason == "" && result.IsStuck {
		reason = "agent appears stuck: same action repeated with no page change"
	}

	if intervenes {
		w.learn(result.NewBlockKeywords, snapshot.Title, reason)
	}

	return &WatchdogOutcome{NeedsIntervention: intervenes, Reason: reason, Usage: usage}, nil
}

// learn folds a confirmed intervention back into the self-learning
// keyword store (spec.md §4.4 "Self-learning").
func (w *Watchdog) learn(newKeywords []string, title, reason string) {
	for _, kw := range newKeywords {
		if err := w.memory.AddBotKeyword(kw); err != nil {
			log.Printf("[watchdog] learning keyword %q failed: %v", kw, err)
		}
	}
	if err := w.memory.AddBotKeywordsFromText(title + " " + reason); err != nil {
		log.Printf("[watchdog] learning from title/reason failed: %v", err)
	}
}
