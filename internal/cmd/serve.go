package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jason9075/invisibrow/internal/telemetry"
	"github.com/jason9075/invisibrow/internal/tui"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration core as a long-lived process",
	RunE:  runServe,
}

// runServe keeps the Scheduler's stores and event bus alive for the
// process lifetime, the way internal/cmd/mcp.go's serve command keeps its
// listener alive under signal.NotifyContext until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx)
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	rt.scheduler.SetTelemetry(tel)
	statsSub := tel.SubscribeSessionStats(rt.bus)
	defer statsSub.Close()
	defer tel.Shutdown(context.Background())

	fmt.Fprintln(os.Stderr, "invisibrow: serving — Ctrl-C to stop")

	if serveWatch {
		return tui.Run(ctx, rt.bus, os.Stdout)
	}

	<-ctx.Done()
	return nil
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "run the interactive watch console in this process instead of blocking silently")
	rootCmd.AddCommand(serveCmd)
}
