package store

import (
	"time"

	"github.com/jason9075/invisibrow/internal/tokens"
)

// TaskStatus is a Task's lifecycle state (spec.md §3).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether status is one a task cannot leave.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// AgentRole names which agent produced a TaskStep.
type AgentRole string

const (
	RolePlanner  AgentRole = "planner"
	RoleExecutor AgentRole = "executor"
)

// TaskStep is one unit of agent work within a task (spec.md §3). Steps
// are append-only and persisted eagerly by the Scheduler's step hook.
type TaskStep struct {
	Agent     AgentRole      `json:"agent"`
	Step      int            `json:"step"` // 1-based within the agent; 0 for the Planner's keyword-extraction call
	Thought   string         `json:"thought"`
	Command   string         `json:"command"`
	Timestamp time.Time      `json:"timestamp"`
	TokenUsage *tokens.Usage `json:"tokenUsage,omitempty"`
}

// Task is the unit of work the Scheduler drives through the Planner
// (spec.md §3). Invariant: TerminalStatus set at most once; CompletedAt
// is present iff Status is terminal.
type Task struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	Goal        string     `json:"goal"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	URL         string     `json:"url,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Steps       []TaskStep `json:"steps"`
	TokenUsage  tokens.Usage `json:"tokenUsage"`
}

// NewTask constructs a pending task.
func NewTask(id, sessionID, goal string, now time.Time) *Task {
	return &Task{
		ID:        id,
		SessionID: sessionID,
		Goal:      goal,
		Status:    TaskPending,
		CreatedAt: now,
		Steps:     []TaskStep{},
	}
}

// AppendStep appends a step record and folds its usage into the task's
// running aggregate (spec.md §4.1 "Step callback").
func (t *Task) AppendStep(step TaskStep) {
	t.Steps = append(t.Steps, step)
	if step.TokenUsage != nil {
		t.TokenUsage = t.TokenUsage.Add(*step.TokenUsage)
	}
}

// Finish transitions the task to a terminal status exactly once. Calling
// Finish on an already-terminal task is a no-op, enforcing the
// at-most-once invariant (spec.md §3).
func (t *Task) Finish(status TaskStatus, result, url, errMsg string, now time.Time) {
	if t.Status.IsTerminal() {
		return
	}
	t.Status = status
	t.Result = result
	t.URL = url
	t.Error = errMsg
	completed := now
	t.CompletedAt = &completed
}

// RestartInterruptedReason is the fixed restart-reason message spec.md
// §3/§7 requires for tasks loaded in a non-terminal state.
const RestartInterruptedReason = "interrupted by process restart"
