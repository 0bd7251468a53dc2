package cmd

import (
	"fmt"

	"github.com/jason9075/invisibrow/internal/agent"
	"github.com/jason9075/invisibrow/internal/browser"
	"github.com/jason9075/invisibrow/internal/config"
	"github.com/jason9075/invisibrow/internal/eventbus"
	"github.com/jason9075/invisibrow/internal/llm"
	"github.com/jason9075/invisibrow/internal/memory"
	"github.com/jason9075/invisibrow/internal/store"
	"github.com/jason9075/invisibrow/internal/tokens"
)

// runtime bundles every long-lived collaborator the Scheduler needs. It is
// built fresh by each subcommand that touches durable state, grounded on
// the teacher's own per-command wiring in internal/cmd/agentloop.go (which
// constructs an Executor/AgentLoop/LLM client afresh per invocation rather
// than sharing a global).
type runtime struct {
	cfg          *config.Config
	pricing      *config.PricingTable
	bus          *eventbus.Bus
	sessionStore *store.SessionStore
	taskStore    *store.TaskStore
	memoryStore  *memory.MemoryStore
	accounting   *tokens.Accounting
	driver       browser.PageDriver
	scheduler    *agent.Scheduler
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load(config.ConfigFilePath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	pricing, err := config.LoadPricing(config.PricingOverridePath())
	if err != nil {
		return nil, fmt.Errorf("loading pricing table: %w", err)
	}

	storageDir := config.StorageDir()
	sessionStore, err := store.NewSessionStore(storageDir)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	taskStore, err := store.NewTaskStore(storageDir)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}
	memoryStore, err := memory.Open(config.MemoryDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}

	bus := eventbus.New()
	accounting := tokens.New(pricing, bus)

	driver, err := newDriver()
	if err != nil {
		return nil, err
	}

	plannerClient, err := newAgentClient(cfg.Models.PlannerAgent)
	if err != nil {
		return nil, fmt.Errorf("building planner LLM client: %w", err)
	}
	executorClient, err := newAgentClient(cfg.Models.ExecutorAgent)
	if err != nil {
		return nil, fmt.Errorf("building executor LLM client: %w", err)
	}
	watchdogClient, err := newAgentClient(cfg.Models.WatchdogAgent)
	if err != nil {
		return nil, fmt.Errorf("building watchdog LLM client: %w", err)
	}

	sched := agent.NewScheduler(0, taskStore, sessionStore, memoryStore, accounting, bus, driver,
		plannerClient, executorClient, watchdogClient, config.MessageLogDir)

	return &runtime{
		cfg:          cfg,
		pricing:      pricing,
		bus:          bus,
		sessionStore: sessionStore,
		taskStore:    taskStore,
		memoryStore:  memoryStore,
		accounting:   accounting,
		driver:       driver,
		scheduler:    sched,
	}, nil
}

func (r *runtime) Close() {
	r.memoryStore.Close()
}

func newDriver() (browser.PageDriver, error) {
	if config.IsUITest() {
		return browser.NewMockDriver(nil), nil
	}
	return browser.NewRodDriver(config.SessionProfileDir), nil
}

// newAgentClient resolves one role's API config into an llm.Client. It
// passes a zero RetryConfig to WithRetry, which then returns the client
// unwrapped, so LLM faults surface on the first failure. Message-audit
// wrapping happens per task inside
// the Scheduler, since the message path is keyed by session id and these
// role clients are shared across every session (spec.md §6).
func newAgentClient(apiCfg config.APIConfig) (llm.Client, error) {
	resolvedKey, err := config.ResolveAPIKey(apiCfg.APIKey)
	if err != nil {
		return nil, err
	}
	apiCfg.APIKey = resolvedKey

	client, err := llm.NewClient(&apiCfg)
	if err != nil {
		return nil, err
	}
	return llm.WithRetry(client, llm.RetryConfig{}), nil
}
