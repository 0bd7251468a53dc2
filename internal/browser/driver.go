// Package browser defines the PageDriver contract spec.md §1 and §4.7
// describe as an opaque external collaborator, and ships one concrete
// implementation backed by go-rod/rod (headless Chrome via CDP).
package browser

import (
	"context"
	"time"
)

// InteractiveElement is one entry in a PageSnapshot's element list
// (spec.md §4.7). Index is stable within a single snapshot only — a
// fresh snapshot must be taken before the next decision.
type InteractiveElement struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Text  string `json:"text"` // up to 50 chars: visible text, placeholder, or accessible label
}

// PageSnapshot is the Executor's bounded view of the live page
// (spec.md §3, §4.7). Raw DOM never crosses the Executor->Planner
// boundary; only a BrowserResult does.
type PageSnapshot struct {
	URL                 string                `json:"url"`
	Title               string                `json:"title"`
	InteractiveElements []InteractiveElement  `json:"interactiveElements"` // capped at 100
	ContentSnippet      string                `json:"contentSnippet"`     // first 1500 chars of visible body text
}

// BrowserResult is the only information the Executor returns to the
// Planner after a task segment (spec.md §3). Invariant: raw DOM never
// crosses this boundary; Extracted is the structured bag the Executor's
// summarization step produces.
type BrowserResult struct {
	Summary   string         `json:"summary"`
	Extracted map[string]any `json:"extracted"`
	URL       string         `json:"url"`
}

// Contract constants referenced by the Executor's action semantics
// (spec.md §4.3) and the snapshot contract (spec.md §4.7).
const (
	MaxInteractiveElements = 100
	MaxElementTextChars    = 50
	MaxContentSnippetChars = 1500

	NavigationTimeout       = 30 * time.Second
	SearchNavigationTimeout = 45 * time.Second
	WaitActionDuration      = 5 * time.Second

	// SearchEngineHomeURL is the default search engine's home page the
	// `search` action simulates human use of (spec.md §4.3).
	SearchEngineHomeURL = "https://www.google.com"
	// SearchEngineQueryURLTemplate is the fallback direct query-string
	// navigation when simulated typing fails (spec.md §4.3 "Fallback").
	SearchEngineQueryURLTemplate = "https://www.google.com/search?q=%s"
	// BlockedSorryURLSubstring flags the major search engine's
	// sorry/challenge URL for Watchdog's Tier 1 keyword scan (spec.md §4.4).
	BlockedSorryURLSubstring = "google.com/sorry"
)

// PageDriver is the opaque browser control contract spec.md §1 treats as
// an external collaborator: headless toggle, navigation, snapshotting,
// and the small action vocabulary the Executor drives through.
//
// Implementations must support restart-with-same-profile-directory
// (spec.md §9): SetHeadless tears down and relaunches the underlying
// browser against the same profile path so cookies and logged-in state
// survive the toggle.
type PageDriver interface {
	// Acquire ensures a page exists for sessionID, launching the browser
	// against that session's profile directory at the given headless
	// mode if it isn't already running.
	Acquire(ctx context.Context, sessionID string, headless bool) error

	// SetHeadless restarts sessionID's browser at the given headless
	// mode, reusing the same profile directory.
	SetHeadless(ctx context.Context, sessionID string, headless bool) error

	// Snapshot captures the current page state per the §4.7 contract.
	Snapshot(ctx context.Context, sessionID string) (*PageSnapshot, error)

	// Goto performs a full navigation, waiting for network-idle.
	Goto(ctx context.Context, sessionID, url string) error

	// Search simulates a human search on the default search engine.
	Search(ctx context.Context, sessionID, query string) error

	// Click clicks the interactive element at the given snapshot index.
	Click(ctx context.Context, sessionID string, index int) error

	// Type focuses the element at index, inserts text, and presses Enter.
	Type(ctx context.Context, sessionID string, index int, text string) error

	// Wait pauses for d, honoring ctx cancellation.
	Wait(ctx context.Context, d time.Duration) error

	// Close releases sessionID's browser and page resources. It does not
	// delete the profile directory.
	Close(sessionID string) error
}
