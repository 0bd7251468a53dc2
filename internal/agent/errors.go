// Package agent implements the three-role agent control loop spec.md
// §4.1-§4.6 describes: Scheduler, Planner, Executor, and Watchdog.
package agent

import (
	"errors"
	"time"
)

// Sentinel errors named in spec.md §7, exported so callers can
// errors.Is against them the way the teacher exports LoopState
// constants instead of comparing against magic strings.
var (
	// ErrUserAborted is returned when a cancel token fires during the
	// Planner loop (spec.md §4.2 step 4a, §7).
	ErrUserAborted = errors.New("User aborted")

	// ErrMaxStepsReached is returned when the Planner or Executor loop
	// exceeds its 15-iteration step budget (spec.md §4.2 step 5, §4.3 step 8).
	ErrMaxStepsReached = errors.New("max steps reached")

	// ErrVerificationCancelled is returned when a task is cancelled while
	// awaiting intervention resolution (spec.md §4.6 step 5).
	ErrVerificationCancelled = errors.New("User cancelled verification")
)

// MaxSteps is the hard iteration cap applied independently to the
// Planner and Executor loops (spec.md GLOSSARY "Step budget").
const MaxSteps = 15

// ManualLoginGoal is the sentinel Executor goal that bypasses the normal
// decision loop for a human-driven login session (spec.md §8 S1).
const ManualLoginGoal = "MANUAL_LOGIN"

// ManualLoginDuration is how long the Executor waits, cancellably, during
// a manual-login session before reporting back to the Planner.
const ManualLoginDuration = 300 * time.Second
