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

// TaskStore persists tasks.json, including each task's embedded step
// trace and aggregate token usage (spec.md §6).
type TaskStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time

	tasks map[string]*Task
	order []string
}

// NewTaskStore opens (or creates) tasks.json under dir and applies the
// restart rewrite: any task loaded in pending/running state is rewritten
// to failed with RestartInterruptedReason (spec.md §3, §4.1, §7). This is
// the only non-idempotent step of initialization.
func NewTaskStore(dir string) (*TaskStore, error) {
	t := &TaskStore{
		path:  filepath.Join(dir, "tasks.json"),
		now:   time.Now,
		tasks: make(map[string]*Task),
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	if err := t.rewriteInterrupted(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TaskStore) load() error {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", t.path, err)
	}
	var list []*Task
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parsing %s: %w", t.path, err)
	}
	for _, task := range list {
		t.tasks[task.ID] = task
		t.order = append(t.order, task.ID)
	}
	return nil
}

func (t *TaskStore) rewriteInterrupted() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	dirty := false
	for _, task := range t.tasks {
		if task.Status == TaskPending || task.Status == TaskRunning {
			task.Finish(TaskFailed, "", task.URL, RestartInterruptedReason, t.now())
			dirty = true
			log.Printf("[store] task %s interrupted by restart, marked failed", task.ID)
		}
	}
	if !dirty {
		return nil
	}
	return t.persistLocked()
}

func (t *TaskStore) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("creating storage dir: %w", err)
	}
	fl := flock.New(t.path + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", t.path, err)
	}
	defer fl.Unlock()

	list := make([]*Task, 0, len(t.order))
	for _, id := range t.order {
		list = append(list, t.tasks[id])
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tasks: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, t.path)
}

// Create adds a new pending task and persists it, returning the new task.
func (t *TaskStore) Create(sessionID, goal string) (*Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task := NewTask(uuid.NewString(), sessionID, goal, t.now())
	t.tasks[task.ID] = task
	t.order = append([]string{task.ID}, t.order...) // newest first
	if err := t.persistLocked(); err != nil {
		return nil, err
	}
	return task, nil
}

// Get returns the task by id.
func (t *TaskStore) Get(id string) (*Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	return task, ok
}

// List returns tasks newest-first by CreatedAt (spec.md §4.1 `tasks()`).
func (t *TaskStore) List() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := make([]*Task, 0, len(t.order))
	for _, id := range t.order {
		list = append(list, t.tasks[id])
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// Mutate applies fn to a task under the store's lock and persists
// synchronously before returning — the durable-write half of the
// Scheduler's step/usage/terminal-transition callbacks (spec.md §4.1).
func (t *TaskStore) Mutate(id string, fn func(*Task)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	fn(task)
	return t.persistLocked()
}
