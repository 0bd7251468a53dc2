// Package store implements the persisted JSON state spec.md §6 names:
// sessions.json and tasks.json under <data-home>/invisibrow/storage/,
// each guarded by an advisory file lock so concurrent Scheduler workers
// can safely read-modify-write the same file.
package store

import (
	"time"

	"github.com/jason9075/invisibrow/internal/tokens"
)

// Session is the unit of browser identity (spec.md §3).
type Session struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Headless       bool               `json:"headless"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	IsVerifying    bool               `json:"isVerifying"`
	Stats          tokens.SessionStats `json:"stats"`
	SessionHistory []string           `json:"sessionHistory"`
}

// NewSession constructs a Session with the given id and zeroed stats.
func NewSession(id, name string, headless bool, now time.Time) *Session {
	return &Session{
		ID:             id,
		Name:           name,
		Headless:       headless,
		CreatedAt:      now,
		UpdatedAt:      now,
		SessionHistory: []string{},
	}
}

// AppendHistory appends a timestamped summary entry, matching the format
// the Planner's finish step uses (spec.md §4.2 step 4 "finish"):
// "<time> goal: <goal> / result: <summary>".
func (s *Session) AppendHistory(entry string, now time.Time) {
	s.SessionHistory = append(s.SessionHistory, entry)
	s.UpdatedAt = now
}
