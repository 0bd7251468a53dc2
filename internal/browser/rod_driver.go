package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// interactiveSelector is the fixed selector set spec.md §4.7 names.
// snapshotJS and elementByIndex both filter matches through this same
// string plus the same zero-bounding-box check, so a snapshot's indices
// and a later Click/Type's re-query of "the Nth visible match" can never
// diverge.
const interactiveSelector = `a, button, input, textarea, [contenteditable], [role="button"], [role="link"], [role="tab"], [role="textbox"]`

// snapshotJS queries the live page for interactiveSelector, filters to
// non-zero bounding boxes, and returns at most MaxInteractiveElements
// entries plus a bounded content snippet, all in one round trip rather
// than one rod.Element call per node.
const snapshotJS = `() => {
	const SEL = '%s';
	const nodes = Array.from(document.querySelectorAll(SEL));
	const elements = [];
	for (const el of nodes) {
		if (elements.length >= %d) break;
		const rect = el.getBoundingClientRect();
		if (rect.width <= 0 || rect.height <= 0) continue;
		const text = (el.innerText || el.getAttribute('placeholder') || el.getAttribute('aria-label') || el.value || '').trim();
		elements.push({ tag: el.tagName.toLowerCase(), text: text.slice(0, %d) });
	}
	const body = (document.body.innerText || '').trim().slice(0, %d);
	return JSON.stringify({ title: document.title, elements, body });
}`

// elementVisibleJS re-applies snapshotJS's own zero-bounding-box check to
// one already-matched element, evaluated with `this` bound to that element.
const elementVisibleJS = `function() {
	const rect = this.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
}`

type rawSnapshot struct {
	Title    string `json:"title"`
	Elements []struct {
		Tag  string `json:"tag"`
		Text string `json:"text"`
	} `json:"elements"`
	Body string `json:"body"`
}

// sessionBrowser pairs a launched rod.Browser with its current page and
// the headless mode it was launched at, keyed by session id.
type sessionBrowser struct {
	browser  *rod.Browser
	page     *rod.Page
	headless bool
}

// RodDriver is the concrete PageDriver implementation (spec.md §1, §4.7)
// backed by go-rod/rod over the Chrome DevTools Protocol. One browser
// process per session, launched against that session's profile directory.
type RodDriver struct {
	profileDir func(sessionID string) string

	mu       sync.Mutex
	sessions map[string]*sessionBrowser
	rnd      *rand.Rand
}

// NewRodDriver builds a driver that resolves each session's profile
// directory via profileDir (grounded on config.SessionProfileDir).
func NewRodDriver(profileDir func(sessionID string) string) *RodDriver {
	return &RodDriver{
		profileDir: profileDir,
		sessions:   make(map[string]*sessionBrowser),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *RodDriver) Acquire(ctx context.Context, sessionID string, headless bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sb, ok := d.sessions[sessionID]; ok && sb.headless == headless {
		return nil
	}
	if sb, ok := d.sessions[sessionID]; ok {
		d.teardownLocked(sb)
		delete(d.sessions, sessionID)
	}
	sb, err := d.launchLocked(sessionID, headless)
	if err != nil {
		return err
	}
	d.sessions[sessionID] = sb
	return nil
}

// SetHeadless restarts the session's browser at the new headless mode
// against the same profile directory, per spec.md §9's
// restart-with-same-profile-directory requirement.
func (d *RodDriver) SetHeadless(ctx context.Context, sessionID string, headless bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sb, ok := d.sessions[sessionID]; ok {
		d.teardownLocked(sb)
		delete(d.sessions, sessionID)
	}
	sb, err := d.launchLocked(sessionID, headless)
	if err != nil {
		return err
	}
	d.sessions[sessionID] = sb
	log.Printf("[browser] session %s relaunched headless=%v", sessionID, headless)
	return nil
}

func (d *RodDriver) launchLocked(sessionID string, headless bool) (*sessionBrowser, error) {
	profile := d.profileDir(sessionID)
	l := launcher.New().
		Headless(headless).
		UserDataDir(profile).
		Set("disable-blink-features", "AutomationControlled")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser for session %s: %w", sessionID, err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to browser for session %s: %w", sessionID, err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("opening initial page for session %s: %w", sessionID, err)
	}

	return &sessionBrowser{browser: browser, page: page, headless: headless}, nil
}

func (d *RodDriver) teardownLocked(sb *sessionBrowser) {
	if sb.browser != nil {
		_ = sb.browser.Close()
	}
}

func (d *RodDriver) get(sessionID string) (*sessionBrowser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sb, ok := d.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no browser acquired for session %s", sessionID)
	}
	return sb, nil
}

func (d *RodDriver) Snapshot(ctx context.Context, sessionID string) (*PageSnapshot, error) {
	sb, err := d.get(sessionID)
	if err != nil {
		return nil, err
	}
	page := sb.page.Context(ctx)

	js := fmt.Sprintf(snapshotJS, interactiveSelector, MaxInteractiveElements, MaxElementTextChars, MaxContentSnippetChars)
	result, err := page.Eval(js)
	if err != nil {
		return nil, fmt.Errorf("snapshotting session %s: %w", sessionID, err)
	}

	var raw rawSnapshot
	if err := json.Unmarshal([]byte(result.Value.String()), &raw); err != nil {
		return nil, fmt.Errorf("parsing snapshot for session %s: %w", sessionID, err)
	}

	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("reading page info for session %s: %w", sessionID, err)
	}

	snap := &PageSnapshot{
		URL:            info.URL,
		Title:          raw.Title,
		ContentSnippet: raw.Body,
	}
	for i, el := range raw.Elements {
		snap.InteractiveElements = append(snap.InteractiveElements, InteractiveElement{
			Index: i,
			Tag:   el.Tag,
			Text:  el.Text,
		})
	}
	return snap, nil
}

func (d *RodDriver) Goto(ctx context.Context, sessionID, url string) error {
	sb, err := d.get(sessionID)
	if err != nil {
		return err
	}
	page := sb.page.Context(ctx).Timeout(NavigationTimeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigating session %s to %s: %w", sessionID, url, err)
	}
	if err := page.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)(); err != nil {
		return fmt.Errorf("waiting for network idle on session %s: %w", sessionID, err)
	}
	return nil
}

// Search simulates a human search: navigate to the engine home, locate
// the primary search input, focus/click/type with per-character jitter,
// pause, press Enter, and wait for navigation. Falls back to a direct
// query-string navigation on any failure (spec.md §4.3).
func (d *RodDriver) Search(ctx context.Context, sessionID, query string) error {
	sb, err := d.get(sessionID)
	if err != nil {
		return err
	}
	page := sb.page.Context(ctx)

	if err := d.simulateSearch(page, query); err != nil {
		log.Printf("[browser] simulated search failed for session %s, falling back to direct navigation: %v", sessionID, err)
		return d.Goto(ctx, sessionID, fmt.Sprintf(SearchEngineQueryURLTemplate, encodeQuery(query)))
	}
	return nil
}

func (d *RodDriver) simulateSearch(page *rod.Page, query string) error {
	navPage := page.Timeout(NavigationTimeout)
	if err := navPage.Navigate(SearchEngineHomeURL); err != nil {
		return fmt.Errorf("navigating to search engine home: %w", err)
	}
	if err := navPage.WaitLoad(); err != nil {
		return fmt.Errorf("waiting for search engine home to load: %w", err)
	}

	searchBox, err := page.Timeout(5 * time.Second).Element(`input[name="q"], textarea[name="q"]`)
	if err != nil {
		return fmt.Errorf("locating search input: %w", err)
	}
	if err := searchBox.Focus(); err != nil {
		return fmt.Errorf("focusing search input: %w", err)
	}
	if err := searchBox.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("clicking search input: %w", err)
	}

	for _, r := range query {
		if err := searchBox.Input(string(r)); err != nil {
			return fmt.Errorf("typing search query: %w", err)
		}
		d.sleepJitter(150*time.Millisecond, 350*time.Millisecond)
	}
	d.sleepJitter(500*time.Millisecond, 1000*time.Millisecond)

	if err := searchBox.Type(enterKey()...); err != nil {
		return fmt.Errorf("submitting search: %w", err)
	}

	searchPage := page.Timeout(SearchNavigationTimeout)
	return searchPage.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)()
}

func (d *RodDriver) Click(ctx context.Context, sessionID string, index int) error {
	sb, err := d.get(sessionID)
	if err != nil {
		return err
	}
	page := sb.page.Context(ctx)

	el, err := elementByIndex(page, index)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scrolling to element %d: %w", index, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("clicking element %d: %w", index, err)
	}
	return nil
}

// Type focuses the element at index, scrolls it into view, inserts text,
// and presses Enter (spec.md §4.3). The "id:text" split is done by the
// caller.
func (d *RodDriver) Type(ctx context.Context, sessionID string, index int, text string) error {
	sb, err := d.get(sessionID)
	if err != nil {
		return err
	}
	page := sb.page.Context(ctx)

	el, err := elementByIndex(page, index)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scrolling to element %d: %w", index, err)
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focusing element %d: %w", index, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("typing into element %d: %w", index, err)
	}
	if err := el.Type(enterKey()...); err != nil {
		return fmt.Errorf("pressing enter after typing into element %d: %w", index, err)
	}
	return nil
}

func (d *RodDriver) Wait(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *RodDriver) Close(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sb, ok := d.sessions[sessionID]
	if !ok {
		return nil
	}
	d.teardownLocked(sb)
	delete(d.sessions, sessionID)
	return nil
}

func (d *RodDriver) sleepJitter(min, max time.Duration) {
	span := max - min
	if span <= 0 {
		time.Sleep(min)
		return
	}
	time.Sleep(min + time.Duration(d.rnd.Int63n(int64(span))))
}

// elementByIndex re-queries interactiveSelector and filters through the
// same zero-bounding-box check snapshotJS applies, so the re-query's index
// space matches the snapshot's exactly instead of drifting whenever the
// page has a hidden or zero-size node matching the selector (spec.md §4.7:
// snapshot indices are "stable within the snapshot").
func elementByIndex(page *rod.Page, index int) (*rod.Element, error) {
	if index < 0 {
		return nil, fmt.Errorf("element index %d out of range", index)
	}
	elements, err := page.Elements(interactiveSelector)
	if err != nil {
		return nil, fmt.Errorf("re-querying interactive elements: %w", err)
	}

	visible := make([]*rod.Element, 0, len(elements))
	for _, el := range elements {
		result, err := el.Eval(elementVisibleJS)
		if err != nil {
			continue
		}
		if result.Value.Bool() {
			visible = append(visible, el)
		}
	}

	if index >= len(visible) {
		return nil, fmt.Errorf("element index %d out of range (%d visible elements)", index, len(visible))
	}
	return visible[index], nil
}

func enterKey() []input.Key {
	return []input.Key{input.Enter}
}

func encodeQuery(q string) string {
	return strings.ReplaceAll(strings.TrimSpace(q), " ", "+")
}
