package browser

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockDriver is a deterministic, non-network PageDriver used under
// UI_TEST mode (spec.md §6 Env) and directly in unit tests. Pages is
// consulted by URL; Snapshot returns whatever Pages[sessionURL] holds
// (or a default blank page if unset).
type MockDriver struct {
	mu       sync.Mutex
	current  map[string]string // sessionID -> current url
	pages    map[string]*PageSnapshot
	headless map[string]bool
}

// NewMockDriver builds an empty mock driver. pages maps URL to the
// snapshot a test wants returned once the driver is "at" that URL.
func NewMockDriver(pages map[string]*PageSnapshot) *MockDriver {
	return &MockDriver{
		current:  make(map[string]string),
		pages:    pages,
		headless: make(map[string]bool),
	}
}

func (m *MockDriver) Acquire(_ context.Context, sessionID string, headless bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.current[sessionID]; !ok {
		m.current[sessionID] = "about:blank"
	}
	m.headless[sessionID] = headless
	return nil
}

func (m *MockDriver) SetHeadless(_ context.Context, sessionID string, headless bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headless[sessionID] = headless
	return nil
}

func (m *MockDriver) Snapshot(_ context.Context, sessionID string) (*PageSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	url, ok := m.current[sessionID]
	if !ok {
		return nil, fmt.Errorf("no browser acquired for session %s", sessionID)
	}
	if snap, ok := m.pages[url]; ok {
		cp := *snap
		cp.URL = url
		return &cp, nil
	}
	return &PageSnapshot{URL: url, Title: "blank"}, nil
}

func (m *MockDriver) Goto(_ context.Context, sessionID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[sessionID] = url
	return nil
}

func (m *MockDriver) Search(ctx context.Context, sessionID, query string) error {
	return m.Goto(ctx, sessionID, fmt.Sprintf(SearchEngineQueryURLTemplate, encodeQuery(query)))
}

func (m *MockDriver) Click(context.Context, string, int) error { return nil }

func (m *MockDriver) Type(context.Context, string, int, string) error { return nil }

func (m *MockDriver) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *MockDriver) Close(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.current, sessionID)
	delete(m.headless, sessionID)
	return nil
}
