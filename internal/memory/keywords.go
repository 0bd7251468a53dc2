package memory

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
)

// defaultBotKeywords seeds a fresh store (spec.md §3 BotKeyword: "a fixed
// default set is seeded on first initialization").
var defaultBotKeywords = []string{
	"captcha",
	"verify you are human",
	"unusual traffic",
	"are you a robot",
	"please sign in to continue",
	"access denied",
	"security check",
}

// hanSet classifies CJK runes for the self-learning tokenizer's
// alphanumeric-or-CJK rule (spec.md §4.4). Built on x/text/runes over the
// standard library's Han range table, rather than reimplementing a
// Unicode script classifier by hand.
var hanSet = runes.In(unicode.Han)

func (m *MemoryStore) ensureSeeded() error {
	row := m.db.QueryRow(`SELECT COUNT(*) FROM bot_keywords`)
	var count int
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("counting bot keywords: %w", err)
	}
	if count > 0 {
		return nil
	}
	return m.seedDefaults()
}

func (m *MemoryStore) seedDefaults() error {
	now := time.Now()
	for _, kw := range defaultBotKeywords {
		if _, err := m.db.Exec(
			`INSERT OR IGNORE INTO bot_keywords (keyword, created_at) VALUES (?, ?)`, kw, now,
		); err != nil {
			return fmt.Errorf("seeding bot keyword %q: %w", kw, err)
		}
	}
	return nil
}

func (m *MemoryStore) invalidateCache() {
	m.mu.Lock()
	m.liveVersion++
	m.cachedKeywords = nil
	m.mu.Unlock()
}

// KeywordCacheVersion exposes the invalidation counter for tests that
// assert a self-learning write invalidated the cache (spec.md §9).
func (m *MemoryStore) KeywordCacheVersion() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveVersion
}

// GetBotKeywords returns the cached keyword list, refreshing from the
// database if the cache was invalidated. Invariant: never returns empty —
// if the table is empty (e.g. an operator deleted every row), defaults
// are re-seeded (spec.md §3, §4.5, §8 invariant 6).
func (m *MemoryStore) GetBotKeywords() ([]string, error) {
	m.mu.Lock()
	if m.cachedKeywords != nil {
		cached := append([]string(nil), m.cachedKeywords...)
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	all, err := m.GetAllBotKeywords()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		if err := m.seedDefaults(); err != nil {
			return nil, err
		}
		all, err = m.GetAllBotKeywords()
		if err != nil {
			return nil, err
		}
	}

	list := make([]string, len(all))
	for i, kw := range all {
		list[i] = kw.Keyword
	}

	m.mu.Lock()
	m.cachedKeywords = list
	m.mu.Unlock()
	return append([]string(nil), list...), nil
}

// GetAllBotKeywords returns every stored keyword with its creation time,
// for admin use (spec.md §4.5).
func (m *MemoryStore) GetAllBotKeywords() ([]BotKeyword, error) {
	rows, err := m.db.Query(`SELECT keyword, created_at FROM bot_keywords ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing bot keywords: %w", err)
	}
	defer rows.Close()

	var list []BotKeyword
	for rows.Next() {
		var kw BotKeyword
		if err := rows.Scan(&kw.Keyword, &kw.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning bot keyword: %w", err)
		}
		list = append(list, kw)
	}
	return list, rows.Err()
}

// AddBotKeyword inserts one normalized keyword, skipping empties and
// duplicates, and invalidates the read cache.
func (m *MemoryStore) AddBotKeyword(kw string) error {
	kw = strings.ToLower(strings.TrimSpace(kw))
	if kw == "" {
		return nil
	}
	if _, err := m.db.Exec(
		`INSERT OR IGNORE INTO bot_keywords (keyword, created_at) VALUES (?, ?)`, kw, time.Now(),
	); err != nil {
		return fmt.Errorf("adding bot keyword %q: %w", kw, err)
	}
	m.invalidateCache()
	return nil
}

// DeleteBotKeyword removes a keyword for admin use.
func (m *MemoryStore) DeleteBotKeyword(kw string) error {
	kw = strings.ToLower(strings.TrimSpace(kw))
	if _, err := m.db.Exec(`DELETE FROM bot_keywords WHERE keyword = ?`, kw); err != nil {
		return fmt.Errorf("deleting bot keyword %q: %w", kw, err)
	}
	m.invalidateCache()
	return nil
}

// AddBotKeywordsFromText tokenizes text into alphanumeric/CJK runs,
// keeps tokens of rune-length >= 4, caps at 12 per call, dedupes, and
// adds each as a bot keyword (spec.md §4.4 self-learning rule).
func (m *MemoryStore) AddBotKeywordsFromText(text string) error {
	tokens := tokenize(text, 4, 12)
	for _, tok := range tokens {
		if err := m.AddBotKeyword(tok); err != nil {
			return err
		}
	}
	if len(tokens) > 0 {
		slog.Debug("watchdog learned new keywords", "tokens", tokens)
	}
	return nil
}

// tokenize splits s into maximal runs of alphanumeric-or-Han runes,
// keeps those with at least minLen runes, lowercases them, dedupes
// (first occurrence wins), and returns at most maxTokens.
func tokenize(s string, minLen, maxTokens int) []string {
	var tokens []string
	seen := make(map[string]bool)

	flush := func(run []rune) {
		if len(run) < minLen {
			return
		}
		tok := strings.ToLower(string(run))
		if seen[tok] {
			return
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}

	var current []rune
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || hanSet.Contains(r) {
			current = append(current, r)
			continue
		}
		if len(current) > 0 {
			flush(current)
			current = nil
		}
		if len(tokens) >= maxTokens {
			return tokens
		}
	}
	if len(current) > 0 {
		flush(current)
	}
	if len(tokens) > maxTokens {
		tokens = tokens[:maxTokens]
	}
	return tokens
}
