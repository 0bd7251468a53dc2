package memory

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.sqlite")
	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestGetBotKeywordsNeverEmpty(t *testing.T) {
	m := openTestStore(t)

	kws, err := m.GetBotKeywords()
	if err != nil {
		t.Fatalf("GetBotKeywords failed: %v", err)
	}
	if len(kws) == 0 {
		t.Fatal("expected default keywords to be seeded")
	}

	for _, kw := range kws {
		if err := m.DeleteBotKeyword(kw); err != nil {
			t.Fatalf("DeleteBotKeyword(%q) failed: %v", kw, err)
		}
	}

	kws2, err := m.GetBotKeywords()
	if err != nil {
		t.Fatalf("GetBotKeywords after wipe failed: %v", err)
	}
	if len(kws2) == 0 {
		t.Fatal("expected defaults to be re-seeded after the table was emptied")
	}
}

func TestAddBotKeywordsFromTextInvalidatesCache(t *testing.T) {
	m := openTestStore(t)
	if _, err := m.GetBotKeywords(); err != nil {
		t.Fatalf("GetBotKeywords failed: %v", err)
	}
	before := m.KeywordCacheVersion()

	if err := m.AddBotKeywordsFromText("Unusual CAPTCHA4321 detected on sorry page"); err != nil {
		t.Fatalf("AddBotKeywordsFromText failed: %v", err)
	}
	after := m.KeywordCacheVersion()
	if after == before {
		t.Error("expected cache version to change after self-learning write")
	}

	kws, err := m.GetBotKeywords()
	if err != nil {
		t.Fatalf("GetBotKeywords failed: %v", err)
	}
	found := false
	for _, kw := range kws {
		if kw == "captcha4321" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected learned token %q among %v", "captcha4321", kws)
	}
}

func TestTokenizeCapsAndFiltersShortTokens(t *testing.T) {
	tokens := tokenize("ab CAPTCHA 验证码robot12 a bb ccc dddd", 4, 2)
	if len(tokens) != 2 {
		t.Fatalf("expected tokenize to cap at 2 tokens, got %v", tokens)
	}
	if tokens[0] != "captcha" {
		t.Errorf("expected first token %q, got %q", "captcha", tokens[0])
	}
}

func TestSaveAndSearchOnlyReturnsSuccess(t *testing.T) {
	m := openTestStore(t)
	now := time.Now()

	if err := m.Save(MemoryRecord{
		ID: "task-1", Goal: "find weather", Keywords: []string{"Weather", "Forecast"},
		Summary: "sunny", Artifacts: map[string]any{"tempF": 72.0}, Status: StatusSuccess, Timestamp: now,
	}); err != nil {
		t.Fatalf("Save success record failed: %v", err)
	}
	if err := m.Save(MemoryRecord{
		ID: "task-2", Goal: "find weather again", Keywords: []string{"weather"},
		Summary: "failed", Status: "failed", Timestamp: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("Save failed record failed: %v", err)
	}

	results, err := m.Search([]string{"weather"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "task-1" {
		t.Errorf("expected task-1, got %s", results[0].ID)
	}
	if results[0].Status != StatusSuccess {
		t.Errorf("Search returned a non-success record: %+v", results[0])
	}
}

func TestSaveUpsertsById(t *testing.T) {
	m := openTestStore(t)
	now := time.Now()
	rec := MemoryRecord{ID: "task-1", Goal: "g", Keywords: []string{"a"}, Summary: "s1", Status: StatusSuccess, Timestamp: now}
	if err := m.Save(rec); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	rec.Summary = "s2"
	if err := m.Save(rec); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	results, err := m.Search([]string{"a"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected upsert to keep exactly 1 row, got %d", len(results))
	}
	if results[0].Summary != "s2" {
		t.Errorf("expected updated summary %q, got %q", "s2", results[0].Summary)
	}
}
