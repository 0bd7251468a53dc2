// Command invisibrow runs the orchestration core of the agentic
// browser-automation platform spec.md describes: a bounded-concurrency
// task scheduler driving a Planner/Executor/Watchdog agent loop over
// long-lived browser sessions.
package main

import "github.com/jason9075/invisibrow/internal/cmd"

func main() {
	cmd.Execute()
}
