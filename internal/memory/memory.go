// Package memory implements the long-term MemoryStore spec.md §4.5
// describes: per-record task-summary recall backed by an embedded SQLite
// database, plus a self-learning bot-keyword list the Watchdog uses as a
// fast pre-LLM filter (spec.md §4.4 Tier 1).
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryRecord is a long-term recall entry (spec.md §3). Keywords are
// normalized to lowercase on Save and split back out on read; Artifacts
// is an opaque key/value bag produced by the Executor's summarization step.
type MemoryRecord struct {
	ID        string         `json:"id"`
	Goal      string         `json:"goal"`
	Keywords  []string       `json:"keywords"`
	Summary   string         `json:"summary"`
	Artifacts map[string]any `json:"artifacts"`
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

// StatusSuccess is the only status MemoryStore.Search considers.
const StatusSuccess = "success"

// BotKeyword is a self-learned intervention signal (spec.md §3, §4.4).
type BotKeyword struct {
	Keyword   string    `json:"keyword"`
	CreatedAt time.Time `json:"createdAt"`
}

const createMemoriesSchemaSQL = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	goal TEXT NOT NULL,
	keywords TEXT NOT NULL,
	summary TEXT NOT NULL,
	artifacts_json TEXT NOT NULL,
	status TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL
)`

const createMemoriesKeywordsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_memories_keywords ON memories(keywords)`

const createBotKeywordsSchemaSQL = `
CREATE TABLE IF NOT EXISTS bot_keywords (
	keyword TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL
)`

// MemoryStore is the embedded-SQLite-backed implementation of spec.md
// §4.5. The in-memory keyword cache is cleared on every keyword write; a
// version counter bumped alongside is exposed via KeywordCacheVersion.
type MemoryStore struct {
	db *sql.DB

	mu             sync.Mutex
	cachedKeywords []string
	cacheVersion   int
	liveVersion    int
}

// Open opens (or creates) the memory.sqlite database at path and ensures
// its schema and default bot-keyword seed exist.
func Open(path string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	for _, stmt := range []string{createMemoriesSchemaSQL, createMemoriesKeywordsIndexSQL, createBotKeywordsSchemaSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing schema: %w", err)
		}
	}

	m := &MemoryStore{db: db}
	if err := m.ensureSeeded(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the underlying database handle.
func (m *MemoryStore) Close() error {
	return m.db.Close()
}

// Save upserts record by id, storing keywords lowercased and comma-joined.
func (m *MemoryStore) Save(record MemoryRecord) error {
	lowered := make([]string, len(record.Keywords))
	for i, k := range record.Keywords {
		lowered[i] = strings.ToLower(strings.TrimSpace(k))
	}
	artifacts, err := json.Marshal(record.Artifacts)
	if err != nil {
		return fmt.Errorf("marshaling artifacts for %s: %w", record.ID, err)
	}

	_, err = m.db.Exec(`
		INSERT INTO memories (id, goal, keywords, summary, artifacts_json, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			goal=excluded.goal, keywords=excluded.keywords, summary=excluded.summary,
			artifacts_json=excluded.artifacts_json, status=excluded.status, timestamp=excluded.timestamp
	`, record.ID, record.Goal, strings.Join(lowered, ","), record.Summary, string(artifacts), record.Status, record.Timestamp)
	if err != nil {
		return fmt.Errorf("saving memory record %s: %w", record.ID, err)
	}
	slog.Debug("memory record saved", "id", record.ID, "keywords", lowered)
	return nil
}

// Search returns up to 5 most-recent status=success records whose
// keywords column matches any of ks (disjunctive LIKE), per spec.md §4.5.
// An empty ks yields no results rather than matching everything.
func (m *MemoryStore) Search(ks []string) ([]MemoryRecord, error) {
	if len(ks) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(ks))
	args := make([]any, 0, len(ks)+1)
	for _, k := range ks {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		clauses = append(clauses, "keywords LIKE ?")
		args = append(args, "%"+k+"%")
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, goal, keywords, summary, artifacts_json, status, timestamp
		FROM memories
		WHERE status = ? AND (%s)
		ORDER BY timestamp DESC
		LIMIT 5
	`, strings.Join(clauses, " OR "))
	args = append([]any{StatusSuccess}, args...)

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()

	var results []MemoryRecord
	for rows.Next() {
		var rec MemoryRecord
		var keywords, artifactsJSON string
		if err := rows.Scan(&rec.ID, &rec.Goal, &keywords, &rec.Summary, &artifactsJSON, &rec.Status, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		if keywords != "" {
			rec.Keywords = strings.Split(keywords, ",")
		}
		if artifactsJSON != "" {
			if err := json.Unmarshal([]byte(artifactsJSON), &rec.Artifacts); err != nil {
				return nil, fmt.Errorf("unmarshaling artifacts for %s: %w", rec.ID, err)
			}
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}
