package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jason9075/invisibrow/internal/browser"
	"github.com/jason9075/invisibrow/internal/eventbus"
	"github.com/jason9075/invisibrow/internal/llm"
	"github.com/jason9075/invisibrow/internal/memory"
	"github.com/jason9075/invisibrow/internal/store"
	"github.com/jason9075/invisibrow/internal/telemetry"
	"github.com/jason9075/invisibrow/internal/tokens"
)

// DefaultConcurrency is the number of tasks the Scheduler runs at once
// when the caller doesn't override it (spec.md §4.1).
const DefaultConcurrency = 2

// Scheduler implements the bounded-concurrency job queue of spec.md §4.1:
// a buffered-channel semaphore bounds concurrent tasks; a per-task cancel
// token covers both queued and running tasks through the same mechanism;
// a per-session mutex serializes same-session tasks (spec.md §5, §9).
type Scheduler struct {
	sem chan struct{}

	mu           sync.Mutex
	cancels      map[string]context.CancelFunc
	sessionLocks map[string]*sync.Mutex

	taskStore    *store.TaskStore
	sessionStore *store.SessionStore
	memoryStore  *memory.MemoryStore
	accounting   *tokens.Accounting
	bus          *eventbus.Bus
	driver       browser.PageDriver

	plannerClient  llm.Client
	executorClient llm.Client
	watchdogClient llm.Client

	// auditDir resolves the message-audit directory for one session+role
	// pair (spec.md §6 message/<sessionId>/<agent_type>/...). Nil disables
	// per-task audit wrapping, which tests rely on to keep mock clients
	// undecorated.
	auditDir func(sessionID, agentType string) string

	// telemetry reports the active-task gauge. Nil unless SetTelemetry is
	// called, so callers that never start telemetry (e.g. task submit's
	// one-off runtime) pay nothing.
	telemetry *telemetry.Telemetry
}

// SetTelemetry attaches a Telemetry instance so the Scheduler reports the
// active-task gauge around each task's running-state transition. Call
// before Submit; nil is safe and leaves the gauge unreported.
func (s *Scheduler) SetTelemetry(tel *telemetry.Telemetry) {
	s.telemetry = tel
}

// NewScheduler wires a Scheduler to its durable stores, the event bus, the
// browser driver, and the three role-specific LLM clients (spec.md §6
// models.plannerAgent/executorAgent/watchdogAgent).
func NewScheduler(
	concurrency int,
	taskStore *store.TaskStore,
	sessionStore *store.SessionStore,
	memoryStore *memory.MemoryStore,
	accounting *tokens.Accounting,
	bus *eventbus.Bus,
	driver browser.PageDriver,
	plannerClient, executorClient, watchdogClient llm.Client,
	auditDir func(sessionID, agentType string) string,
) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		sem:            make(chan struct{}, concurrency),
		cancels:        make(map[string]context.CancelFunc),
		sessionLocks:   make(map[string]*sync.Mutex),
		taskStore:      taskStore,
		sessionStore:   sessionStore,
		memoryStore:    memoryStore,
		accounting:     accounting,
		bus:            bus,
		driver:         driver,
		plannerClient:  plannerClient,
		executorClient: executorClient,
		watchdogClient: watchdogClient,
		auditDir:       auditDir,
	}
}

// Submit creates a pending task, persists it, and enqueues a cooperative
// job for it (spec.md §4.1 `submit`). It returns immediately with the
// task's id; the job itself runs on a background goroutine.
func (s *Scheduler) Submit(sessionID, goal string) (string, error) {
	task, err := s.taskStore.Create(sessionID, goal)
	if err != nil {
		return "", fmt.Errorf("creating task: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[task.ID] = cancel
	s.mu.Unlock()

	go s.run(ctx, task.ID, sessionID, goal)

	return task.ID, nil
}

// Stop cancels a task's token, whichever phase it is in (spec.md §4.1
// `stop`): queued tasks short-circuit at the Gate, running tasks observe
// the cancellation at their next loop boundary.
func (s *Scheduler) Stop(taskID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s not found or already finished", taskID)
	}
	cancel()
	return nil
}

// Tasks returns every task newest-first (spec.md §4.1 `tasks`).
func (s *Scheduler) Tasks() []*store.Task {
	return s.taskStore.List()
}

func (s *Scheduler) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.sessionLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.sessionLocks[sessionID] = lock
	}
	return lock
}

// run is the job's two-phase Gate/Run structure (spec.md §4.1).
func (s *Scheduler) run(ctx context.Context, taskID, sessionID, goal string) {
	defer func() {
		s.mu.Lock()
		delete(s.cancels, taskID)
		s.mu.Unlock()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.finalize(taskID, store.TaskCancelled, "", "", "", time.Now())
		return
	}
	defer func() { <-s.sem }()

	// Gate: the task may have been cancelled while queued, between
	// Submit and acquiring a semaphore slot.
	if ctx.Err() != nil {
		s.finalize(taskID, store.TaskCancelled, "", "", "", time.Now())
		return
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if ctx.Err() != nil {
		s.finalize(taskID, store.TaskCancelled, "", "", "", time.Now())
		return
	}

	if err := s.taskStore.Mutate(taskID, func(t *store.Task) { t.Status = store.TaskRunning }); err != nil {
		log.Printf("[scheduler] marking task %s running failed: %v", taskID, err)
	}

	if s.telemetry != nil {
		s.telemetry.TaskStarted(context.Background())
		defer s.telemetry.TaskFinished(context.Background())
	}

	result, err := s.runTask(ctx, taskID, sessionID, goal)
	s.finalizeFromResult(taskID, result, err)
}

func (s *Scheduler) runTask(ctx context.Context, taskID, sessionID, goal string) (*PlanResult, error) {
	session, ok := s.sessionStore.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	headless := session.Headless

	hooks := s.hooksFor(taskID, sessionID)

	watchdogClient := s.auditedClient(s.watchdogClient, sessionID, "watchdog")
	executorClient := s.auditedClient(s.executorClient, sessionID, "executor")
	plannerClient := s.auditedClient(s.plannerClient, sessionID, "planner")

	watchdog := NewWatchdog(watchdogClient, s.memoryStore, hooks)
	executor := NewExecutor(sessionID, executorClient, watchdog, s.driver, hooks, headless)
	planner := NewPlanner(taskID, sessionID, goal, headless, plannerClient, s.memoryStore, s.bus, s.driver, hooks, executor)

	return planner.Run(ctx)
}

// auditedClient wraps client with a per-session, per-role message audit
// trail (spec.md §6) when the Scheduler was built with an auditDir
// resolver. The underlying client is shared across every session, so the
// decorator is re-applied per task rather than baked in at construction.
func (s *Scheduler) auditedClient(client llm.Client, sessionID, agentType string) llm.Client {
	if s.auditDir == nil {
		return client
	}
	return llm.WithAudit(client, s.auditDir(sessionID, agentType))
}

// hooksFor builds the TaskHooks closure bundle spec.md §9 describes,
// closing over one task's id and session id.
func (s *Scheduler) hooksFor(taskID, sessionID string) *TaskHooks {
	return &TaskHooks{
		RecordStep: func(step store.TaskStep) {
			if err := s.taskStore.Mutate(taskID, func(t *store.Task) { t.AppendStep(step) }); err != nil {
				log.Printf("[scheduler] recording step for task %s failed: %v", taskID, err)
			}
		},
		RecordUsage: func(model string, usage *llm.Usage) tokens.Usage {
			var result tokens.Usage
			if err := s.sessionStore.Mutate(sessionID, func(sess *store.Session) {
				result = s.accounting.Record(sessionID, model, &sess.Stats, usage)
			}); err != nil {
				log.Printf("[scheduler] recording usage for session %s failed: %v", sessionID, err)
			}
			return result
		},
		AppendSessionHistory: func(entry string) {
			if err := s.sessionStore.Mutate(sessionID, func(sess *store.Session) {
				sess.AppendHistory(entry, time.Now())
			}); err != nil {
				log.Printf("[scheduler] appending session history for %s failed: %v", sessionID, err)
			}
		},
		SessionHistory: func() []string {
			sess, ok := s.sessionStore.Get(sessionID)
			if !ok {
				return nil
			}
			return append([]string(nil), sess.SessionHistory...)
		},
		SetVerifying: func(verifying bool) {
			if err := s.sessionStore.Mutate(sessionID, func(sess *store.Session) { sess.IsVerifying = verifying }); err != nil {
				log.Printf("[scheduler] setting isVerifying for session %s failed: %v", sessionID, err)
			}
		},
	}
}

// finalizeFromResult maps a Planner.Run outcome to a terminal task status
// (spec.md §4.1, §7): cancellation errors become "cancelled", everything
// else becomes "failed" with the error's message, success becomes
// "completed".
func (s *Scheduler) finalizeFromResult(taskID string, result *PlanResult, err error) {
	now := time.Now()
	switch {
	case err == nil:
		s.finalize(taskID, store.TaskCompleted, result.Answer, result.URL, "", now)
	case errors.Is(err, ErrUserAborted), errors.Is(err, ErrVerificationCancelled),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.finalize(taskID, store.TaskCancelled, "", "", err.Error(), now)
	default:
		s.finalize(taskID, store.TaskFailed, "", "", err.Error(), now)
	}
}

func (s *Scheduler) finalize(taskID string, status store.TaskStatus, answer, url, errMsg string, now time.Time) {
	if err := s.taskStore.Mutate(taskID, func(t *store.Task) {
		t.Finish(status, answer, url, errMsg, now)
	}); err != nil {
		log.Printf("[scheduler] finalizing task %s as %s failed: %v", taskID, status, err)
	}
}
