// Package eventbus implements the process-wide pub/sub fan-out spec.md §5
// and §9 describe: typed channels per event name, with filtered listeners
// that remove themselves once satisfied so long sessions don't accumulate
// unbounded subscribers.
package eventbus

import (
	"sync"
)

// Signal names the event types the core emits and consumes (spec.md §6).
type Signal string

const (
	SignalLog                  Signal = "log"
	SignalVerificationNeeded   Signal = "verification_needed"
	SignalVerificationResolved Signal = "verification_resolved"
	SignalSessionStatsUpdated  Signal = "session:stats-updated"
)

// LogLevel mirrors the level field of a "log" event payload.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogPayload is the payload of a "log" event.
type LogPayload struct {
	Message   string
	Level     LogLevel
	Timestamp int64 // unix seconds
}

// VerificationNeededPayload is the payload of a "verification_needed" event.
type VerificationNeededPayload struct {
	SessionID string
	Reason    string
	URL       string
}

// VerificationResolvedPayload is the payload of a "verification_resolved" event.
type VerificationResolvedPayload struct {
	SessionID string
}

// SessionStatsUpdatedPayload is the payload of a "session:stats-updated"
// event. DeltaTokens/DeltaCost carry the increment from the single call
// that triggered this event, not the session's running totals, so
// subscribers (e.g. internal/telemetry) can feed a counter without
// tracking per-session state themselves.
type SessionStatsUpdatedPayload struct {
	SessionID   string
	DeltaTokens int
	DeltaCost   float64
}

type subscriber struct {
	id     uint64
	filter func(payload any) bool
	ch     chan any
}

// Bus is a many-to-many in-process publish/subscribe hub, one set of
// subscriber lists per Signal name.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[Signal][]*subscriber
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{subs: make(map[Signal][]*subscriber)}
}

// Publish fans payload out to every current subscriber of signal whose
// filter (if any) accepts it. Publish never blocks on a slow subscriber
// for long: each subscriber channel is buffered, and a full channel drops
// the event for that subscriber rather than stalling the publisher.
func (b *Bus) Publish(signal Signal, payload any) {
	b.mu.Lock()
	subs := append([]*subscriber(nil), b.subs[signal]...)
	b.mu.Unlock()

	for _, s := range subs {
		if s.filter != nil && !s.filter(payload) {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
}

// Subscription is a live subscription; call Close to stop receiving and
// free the subscriber slot.
type Subscription struct {
	bus    *Bus
	signal Signal
	id     uint64
	ch     chan any
}

// C returns the channel payloads are delivered on.
func (s *Subscription) C() <-chan any { return s.ch }

// Close removes the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	list := s.bus.subs[s.signal]
	for i, sub := range list {
		if sub.id == s.id {
			s.bus.subs[s.signal] = append(list[:i], list[i+1:]...)
			break
		}
	}
	close(s.ch)
}

// Subscribe registers a listener for signal. If filter is non-nil, only
// payloads for which filter returns true are delivered.
func (b *Bus) Subscribe(signal Signal, filter func(payload any) bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan any, 32),
	}
	b.subs[signal] = append(b.subs[signal], sub)

	return &Subscription{bus: b, signal: signal, id: sub.id, ch: sub.ch}
}

// WaitForVerificationResolved blocks until a "verification_resolved" event
// for sessionID is published or done is closed. It returns true only on
// resolution. This is the
// one-shot filtered-listener pattern spec.md §4.6 and §9 require: the
// subscription is always closed before returning, satisfied or not.
func (b *Bus) WaitForVerificationResolved(sessionID string, done <-chan struct{}) bool {
	sub := b.Subscribe(SignalVerificationResolved, func(payload any) bool {
		p, ok := payload.(VerificationResolvedPayload)
		return ok && p.SessionID == sessionID
	})
	defer sub.Close()

	select {
	case <-sub.C():
		return true
	case <-done:
		return false
	}
}
