package store

import "testing"

func TestTaskStoreCreateAndFinish(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTaskStore(dir)
	if err != nil {
		t.Fatalf("NewTaskStore failed: %v", err)
	}

	task, err := ts.Create("sess-1", "find the weather")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if task.Status != TaskPending {
		t.Fatalf("expected pending, got %s", task.Status)
	}

	if err := ts.Mutate(task.ID, func(task *Task) {
		task.Status = TaskRunning
	}); err != nil {
		t.Fatalf("Mutate to running failed: %v", err)
	}

	if err := ts.Mutate(task.ID, func(task *Task) {
		task.Finish(TaskCompleted, "it is sunny", "https://example.com", "", ts.now())
	}); err != nil {
		t.Fatalf("Mutate to completed failed: %v", err)
	}

	got, _ := ts.Get(task.ID)
	if got.Status != TaskCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set on terminal transition")
	}

	// Finish is a no-op once terminal (at-most-once invariant, spec.md §3).
	if err := ts.Mutate(task.ID, func(task *Task) {
		task.Finish(TaskFailed, "", "", "should not apply", ts.now())
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	got, _ = ts.Get(task.ID)
	if got.Status != TaskCompleted {
		t.Errorf("terminal status changed after second Finish: %s", got.Status)
	}
}

func TestTaskStoreRestartRewritesInterrupted(t *testing.T) {
	dir := t.TempDir()
	ts, err := NewTaskStore(dir)
	if err != nil {
		t.Fatalf("NewTaskStore failed: %v", err)
	}
	running, _ := ts.Create("sess-1", "in flight")
	_ = ts.Mutate(running.ID, func(task *Task) { task.Status = TaskRunning })

	// Simulate a process restart by reopening the store against the same dir.
	ts2, err := NewTaskStore(dir)
	if err != nil {
		t.Fatalf("reopening task store failed: %v", err)
	}
	got, ok := ts2.Get(running.ID)
	if !ok {
		t.Fatal("expected task to survive restart")
	}
	if got.Status != TaskFailed {
		t.Errorf("expected restart to mark task failed, got %s", got.Status)
	}
	if got.Error != RestartInterruptedReason {
		t.Errorf("expected restart reason %q, got %q", RestartInterruptedReason, got.Error)
	}
}

func TestTaskStoreListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	ts, _ := NewTaskStore(dir)
	first, _ := ts.Create("sess-1", "first")
	second, _ := ts.Create("sess-1", "second")

	list := ts.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("expected newest-first order [%s, %s], got [%s, %s]", second.ID, first.ID, list[0].ID, list[1].ID)
	}
}
