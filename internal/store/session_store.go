package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// SessionStore persists sessions.json (spec.md §6). A single mutex
// serializes every mutation, matching spec.md §5 ("a simple mutex per
// store suffices"); an advisory file lock additionally guards the file
// itself against another process (e.g. a `invisibrow session` CLI
// invocation) touching it while the server is running.
type SessionStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time

	sessions map[string]*Session
	order    []string // insertion order, newest last
}

// NewSessionStore opens (or creates) sessions.json under dir.
func NewSessionStore(dir string) (*SessionStore, error) {
	s := &SessionStore{
		path:     filepath.Join(dir, "sessions.json"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SessionStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}
	var list []*Session
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}
	for _, sess := range list {
		s.sessions[sess.ID] = sess
		s.order = append(s.order, sess.ID)
	}
	return nil
}

func (s *SessionStore) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating storage dir: %w", err)
	}
	fl := flock.New(s.path + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", s.path, err)
	}
	defer fl.Unlock()

	list := make([]*Session, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, s.sessions[id])
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sessions: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

// Create adds a new session and persists it.
func (s *SessionStore) Create(name string, headless bool) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := NewSession(uuid.NewString(), name, headless, s.now())
	s.sessions[sess.ID] = sess
	s.order = append(s.order, sess.ID)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	log.Printf("[store] created session %s (%s)", sess.ID, sess.Name)
	return sess, nil
}

// Get returns a copy-free pointer to the session (callers must not retain
// it across unrelated mutations; use Mutate for read-modify-write).
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// List returns sessions newest-created-first.
func (s *SessionStore) List() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Session, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, s.sessions[id])
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// Rename updates a session's display name.
func (s *SessionStore) Rename(id, name string) error {
	return s.Mutate(id, func(sess *Session) { sess.Name = name })
}

// ToggleHeadless sets a session's preferred headless flag.
func (s *SessionStore) ToggleHeadless(id string, headless bool) error {
	return s.Mutate(id, func(sess *Session) { sess.Headless = headless })
}

// Delete removes a session. Sessions are never auto-deleted (spec.md §3);
// this is the only removal path, driven by the user.
func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %s not found", id)
	}
	delete(s.sessions, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return s.persistLocked()
}

// Mutate applies fn to the session under the store's lock, bumps
// UpdatedAt, and persists before returning — the single entry point for
// the "stats, sessionHistory, isVerifying" writes spec.md §5 describes.
func (s *SessionStore) Mutate(id string, fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	fn(sess)
	sess.UpdatedAt = s.now()
	return s.persistLocked()
}
