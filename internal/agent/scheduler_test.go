package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jason9075/invisibrow/internal/browser"
	"github.com/jason9075/invisibrow/internal/config"
	"github.com/jason9075/invisibrow/internal/eventbus"
	"github.com/jason9075/invisibrow/internal/llm"
	"github.com/jason9075/invisibrow/internal/store"
	"github.com/jason9075/invisibrow/internal/tokens"
)

type schedulerFixture struct {
	sched        *Scheduler
	taskStore    *store.TaskStore
	sessionStore *store.SessionStore
}

// gateClient counts Chat calls in flight and records the peak in max, so
// tests can observe how many tasks are in-flight at once (spec.md §8 S4).
type gateClient struct {
	mu      sync.Mutex
	current int
	max     int
}

func (g *gateClient) enter() func() {
	g.mu.Lock()
	g.current++
	if g.current > g.max {
		g.max = g.current
	}
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		g.current--
		g.mu.Unlock()
	}
}

func newSchedulerFixture(t *testing.T, concurrency int, plannerClient, executorClient, watchdogClient llm.Client, driver browser.PageDriver) *schedulerFixture {
	t.Helper()
	dir := t.TempDir()
	taskStore, err := store.NewTaskStore(dir)
	if err != nil {
		t.Fatalf("NewTaskStore failed: %v", err)
	}
	sessionStore, err := store.NewSessionStore(dir)
	if err != nil {
		t.Fatalf("NewSessionStore failed: %v", err)
	}
	mem := openTestMemory(t)
	pricing := &config.PricingTable{}
	accounting := tokens.New(pricing, eventbus.New())

	sched := NewScheduler(concurrency, taskStore, sessionStore, mem, accounting, eventbus.New(), driver, plannerClient, executorClient, watchdogClient, nil)
	return &schedulerFixture{sched: sched, taskStore: taskStore, sessionStore: sessionStore}
}

func waitForTerminal(t *testing.T, taskStore *store.TaskStore, taskID string, timeout time.Duration) *store.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, ok := taskStore.Get(taskID)
		if ok && task.Status.IsTerminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state within %s", taskID, timeout)
	return nil
}

// instantFinishClient always extracts keywords then finishes on the first
// plan-step, for scenarios that just need a task to complete quickly.
func instantFinishClient() *llm.MockClient {
	return &llm.MockClient{Responder: func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		switch req.SchemaName {
		case "keyword_extraction":
			return keywordResponse(), nil
		case "plan_step":
			return &llm.ChatResponse{Content: `{"thought":"done","command":"finish","input":{"answer":"ok"}}`}, nil
		default:
			return &llm.ChatResponse{Content: `{}`}, nil
		}
	}}
}

func TestSchedulerRunsTaskToCompletion(t *testing.T) {
	driver := browser.NewMockDriver(nil)
	fx := newSchedulerFixture(t, 2, instantFinishClient(), &llm.MockClient{}, &llm.MockClient{}, driver)

	sess, err := fx.sessionStore.Create("default", true)
	if err != nil {
		t.Fatalf("Create session failed: %v", err)
	}

	taskID, err := fx.sched.Submit(sess.ID, "find something")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	task := waitForTerminal(t, fx.taskStore, taskID, 2*time.Second)
	if task.Status != store.TaskCompleted {
		t.Fatalf("expected completed, got %s (error=%q)", task.Status, task.Error)
	}
	if task.Result != "ok" {
		t.Errorf("expected result %q, got %q", "ok", task.Result)
	}

	updatedSess, ok := fx.sessionStore.Get(sess.ID)
	if !ok {
		t.Fatal("session vanished")
	}
	if len(updatedSess.SessionHistory) != 1 {
		t.Errorf("expected one session history entry, got %v", updatedSess.SessionHistory)
	}
}

func TestSchedulerNeverExceedsConcurrencyLimit(t *testing.T) {
	gate := &gateClient{}
	blockingPlanner := &llm.MockClient{Responder: func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		switch req.SchemaName {
		case "keyword_extraction":
			release := gate.enter()
			time.Sleep(40 * time.Millisecond)
			release()
			return keywordResponse(), nil
		case "plan_step":
			return &llm.ChatResponse{Content: `{"thought":"done","command":"finish","input":{"answer":"ok"}}`}, nil
		default:
			return &llm.ChatResponse{Content: `{}`}, nil
		}
	}}

	driver := browser.NewMockDriver(nil)
	fx := newSchedulerFixture(t, 2, blockingPlanner, &llm.MockClient{}, &llm.MockClient{}, driver)

	var taskIDs []string
	for i := 0; i < 4; i++ {
		sess, err := fx.sessionStore.Create("session", true)
		if err != nil {
			t.Fatalf("Create session failed: %v", err)
		}
		taskID, err := fx.sched.Submit(sess.ID, "goal")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		taskIDs = append(taskIDs, taskID)
	}

	for _, id := range taskIDs {
		waitForTerminal(t, fx.taskStore, id, 2*time.Second)
	}

	gate.mu.Lock()
	defer gate.mu.Unlock()
	if gate.max > 2 {
		t.Errorf("expected at most 2 concurrently-running tasks, observed %d", gate.max)
	}
}

func TestSchedulerStopQueuedTaskNeverRuns(t *testing.T) {
	unblock := make(chan struct{})
	blockingPlanner := &llm.MockClient{Responder: func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		if req.SchemaName == "keyword_extraction" {
			<-unblock
		}
		switch req.SchemaName {
		case "keyword_extraction":
			return keywordResponse(), nil
		case "plan_step":
			return &llm.ChatResponse{Content: `{"thought":"done","command":"finish","input":{"answer":"ok"}}`}, nil
		default:
			return &llm.ChatResponse{Content: `{}`}, nil
		}
	}}

	driver := browser.NewMockDriver(nil)
	fx := newSchedulerFixture(t, 1, blockingPlanner, &llm.MockClient{}, &llm.MockClient{}, driver)

	sessA, _ := fx.sessionStore.Create("a", true)
	sessB, _ := fx.sessionStore.Create("b", true)

	taskA, err := fx.sched.Submit(sessA.ID, "a")
	if err != nil {
		t.Fatalf("Submit a failed: %v", err)
	}
	taskB, err := fx.sched.Submit(sessB.ID, "b")
	if err != nil {
		t.Fatalf("Submit b failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond) // let A claim the only concurrency slot
	if err := fx.sched.Stop(taskB); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	close(unblock)

	taskADone := waitForTerminal(t, fx.taskStore, taskA, 2*time.Second)
	if taskADone.Status != store.TaskCompleted {
		t.Fatalf("expected task A to complete, got %s", taskADone.Status)
	}
	taskBDone := waitForTerminal(t, fx.taskStore, taskB, 2*time.Second)
	if taskBDone.Status != store.TaskCancelled {
		t.Fatalf("expected task B to be cancelled while queued, got %s", taskBDone.Status)
	}
}

func TestSchedulerStopRunningTaskCancels(t *testing.T) {
	started := make(chan struct{})
	blockingPlanner := &llm.MockClient{Responder: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		if req.SchemaName == "keyword_extraction" {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &llm.ChatResponse{Content: `{}`}, nil
	}}

	driver := browser.NewMockDriver(nil)
	fx := newSchedulerFixture(t, 1, blockingPlanner, &llm.MockClient{}, &llm.MockClient{}, driver)

	sess, _ := fx.sessionStore.Create("a", true)
	taskID, err := fx.sched.Submit(sess.ID, "goal")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	<-started
	if err := fx.sched.Stop(taskID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	task := waitForTerminal(t, fx.taskStore, taskID, 2*time.Second)
	if task.Status != store.TaskCancelled {
		t.Fatalf("expected cancelled, got %s (error=%q)", task.Status, task.Error)
	}
}
