package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jason9075/invisibrow/internal/config"
	"github.com/jason9075/invisibrow/internal/store"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit and inspect browser-automation tasks",
	RunE:  requireSubcommand,
}

var taskSessionID string

var taskSubmitCmd = &cobra.Command{
	Use:   "submit <goal>",
	Short: "Submit a task and wait for it to finish (foreground; Ctrl-C stops it)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskSubmit,
}

func runTaskSubmit(cmd *cobra.Command, args []string) error {
	if taskSessionID == "" {
		return fmt.Errorf("--session is required")
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	taskID, err := rt.scheduler.Submit(taskSessionID, args[0])
	if err != nil {
		return fmt.Errorf("submitting task: %w", err)
	}
	fmt.Printf("submitted task %s\n", taskID)

	for {
		select {
		case <-ctx.Done():
			_ = rt.scheduler.Stop(taskID)
			waitForStop(rt, taskID)
			return nil
		case <-time.After(200 * time.Millisecond):
			task, ok := rt.taskStore.Get(taskID)
			if !ok {
				return fmt.Errorf("task %s vanished", taskID)
			}
			if task.Status.IsTerminal() {
				printTaskResult(task)
				return nil
			}
		}
	}
}

func waitForStop(rt *runtime, taskID string) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if task, ok := rt.taskStore.Get(taskID); ok && task.Status.IsTerminal() {
			printTaskResult(task)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func printTaskResult(task *store.Task) {
	fmt.Printf("task %s: %s\n", task.ID, task.Status)
	if task.Result != "" {
		fmt.Printf("result: %s\n", task.Result)
	}
	if task.Error != "" {
		fmt.Printf("error: %s\n", task.Error)
	}
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

func runTaskList(cmd *cobra.Command, args []string) error {
	st, err := store.NewTaskStore(config.StorageDir())
	if err != nil {
		return err
	}
	for _, task := range st.List() {
		fmt.Printf("%s\tsession=%s\t%s\tgoal=%q\n", task.ID, task.SessionID, task.Status, task.Goal)
	}
	return nil
}

func init() {
	taskSubmitCmd.Flags().StringVar(&taskSessionID, "session", "", "session id to run the task under")
	taskCmd.AddCommand(taskSubmitCmd, taskListCmd)
	rootCmd.AddCommand(taskCmd)
}
