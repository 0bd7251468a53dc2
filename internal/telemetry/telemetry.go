// Package telemetry wires the core's process metrics into OpenTelemetry.
// Metrics are ambient, not a feature (SPEC_FULL.md §2): this package never
// gates functionality and is a safe no-op whenever no OTLP endpoint is
// configured, matching the teacher's own "don't make observability a hard
// dependency" stance for its optional Nostr publishing.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jason9075/invisibrow/internal/eventbus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry owns the meter and instruments the Scheduler and TokenAccounting
// report into. The zero value is not usable; construct with New.
type Telemetry struct {
	shutdown func(context.Context) error

	activeTasks metric.Int64UpDownCounter
	tokens      metric.Int64Counter
	cost        metric.Float64Counter
}

// New builds a Telemetry. When OTEL_EXPORTER_OTLP_ENDPOINT is unset, the
// returned Telemetry records against OpenTelemetry's global no-op provider:
// every call below becomes a harmless no-op, and Shutdown does nothing.
func New(ctx context.Context) (*Telemetry, error) {
	var provider metric.MeterProvider
	shutdown := func(context.Context) error { return nil }

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exporter, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("building otlp metric exporter: %w", err)
		}
		reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
		sdkProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		provider = sdkProvider
		shutdown = sdkProvider.Shutdown
	} else {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("invisibrow")

	activeTasks, err := meter.Int64UpDownCounter("invisibrow.tasks.active",
		metric.WithDescription("Number of tasks currently running in the Scheduler"))
	if err != nil {
		return nil, fmt.Errorf("creating active-tasks instrument: %w", err)
	}
	tokens, err := meter.Int64Counter("invisibrow.tokens.total",
		metric.WithDescription("Total LLM tokens consumed across all sessions"))
	if err != nil {
		return nil, fmt.Errorf("creating tokens instrument: %w", err)
	}
	cost, err := meter.Float64Counter("invisibrow.cost.usd",
		metric.WithDescription("Estimated cumulative LLM cost in USD"))
	if err != nil {
		return nil, fmt.Errorf("creating cost instrument: %w", err)
	}

	return &Telemetry{shutdown: shutdown, activeTasks: activeTasks, tokens: tokens, cost: cost}, nil
}

// Shutdown flushes and closes the exporter, if one was started.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// TaskStarted increments the active-task gauge; call when the Scheduler
// transitions a task to running.
func (t *Telemetry) TaskStarted(ctx context.Context) {
	t.activeTasks.Add(ctx, 1)
}

// TaskFinished decrements the active-task gauge; call from the Scheduler's
// finalize path regardless of terminal status.
func (t *Telemetry) TaskFinished(ctx context.Context) {
	t.activeTasks.Add(ctx, -1)
}

// ObserveUsage feeds one TokenAccounting.Record result into the token and
// cost counters. Subscribe this to eventbus.SignalSessionStatsUpdated so
// metrics stay in lock-step with the durable SessionStats the bus already
// reports (spec.md §6).
func (t *Telemetry) ObserveUsage(ctx context.Context, deltaTokens int, deltaCost float64) {
	t.tokens.Add(ctx, int64(deltaTokens))
	t.cost.Add(ctx, deltaCost)
}

// SubscribeSessionStats wires ObserveUsage to the bus's stats-updated
// signal so every TokenAccounting.Record call is reflected in the
// cumulative counters.
func (t *Telemetry) SubscribeSessionStats(bus *eventbus.Bus) *eventbus.Subscription {
	sub := bus.Subscribe(eventbus.SignalSessionStatsUpdated, nil)
	go func() {
		for raw := range sub.C() {
			payload, ok := raw.(eventbus.SessionStatsUpdatedPayload)
			if !ok {
				continue
			}
			t.ObserveUsage(context.Background(), payload.DeltaTokens, payload.DeltaCost)
		}
	}()
	return sub
}
