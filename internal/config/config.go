// Package config loads Invisibrow's JSON configuration file and resolves
// the XDG-style data/config directories the rest of the core reads and
// writes under.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProviderType names the wire protocol an agent's model speaks.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
)

// APIConfig describes how to reach one model endpoint.
// Mirrors the shape the teacher's agents-api.json used for a single agent,
// generalized to the three named roles (planner, executor, watchdog).
type APIConfig struct {
	APIType        string            `json:"api_type"`
	Model          string            `json:"model"`
	APIKey         string            `json:"api_key,omitempty"`
	BaseURL        string            `json:"base_url,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ContextWindow  int               `json:"context_window,omitempty"`
	SupportsTools  bool              `json:"supports_tools,omitempty"`
	SupportsVision bool              `json:"supports_vision,omitempty"`
}

// ModelsConfig names the model used by each of the three agent roles.
type ModelsConfig struct {
	PlannerAgent  APIConfig `json:"plannerAgent"`
	ExecutorAgent APIConfig `json:"executorAgent"`
	WatchdogAgent APIConfig `json:"watchdogAgent"`
}

// Config is the top-level shape of <config-home>/invisibrow.json.
type Config struct {
	Models ModelsConfig `json:"models"`
}

// DefaultAPIConfig is substituted for any role left unset in the config file.
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		APIType:       string(ProviderAnthropic),
		Model:         "claude-3-5-sonnet-latest",
		ContextWindow: 200000,
		SupportsTools: true,
		MaxTokens:     4096,
	}
}

// Load reads the JSON config file at path, filling unset fields with
// documented defaults. Beyond JSON parsing it checks no required fields. A missing file is not an error — it
// yields an all-defaults Config, matching spec.md §6 ("unset keys take
// documented defaults").
func Load(path string) (*Config, error) {
	cfg := &Config{
		Models: ModelsConfig{
			PlannerAgent:  DefaultAPIConfig(),
			ExecutorAgent: DefaultAPIConfig(),
			WatchdogAgent: DefaultAPIConfig(),
		},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var onDisk struct {
		Models struct {
			PlannerAgent  json.RawMessage `json:"plannerAgent"`
			ExecutorAgent json.RawMessage `json:"executorAgent"`
			WatchdogAgent json.RawMessage `json:"watchdogAgent"`
		} `json:"models"`
	}
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for _, role := range []struct {
		raw json.RawMessage
		dst *APIConfig
	}{
		{onDisk.Models.PlannerAgent, &cfg.Models.PlannerAgent},
		{onDisk.Models.ExecutorAgent, &cfg.Models.ExecutorAgent},
		{onDisk.Models.WatchdogAgent, &cfg.Models.WatchdogAgent},
	} {
		if len(role.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(role.raw, role.dst); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	return cfg, nil
}

// ResolveAPIKey resolves api_key values of the form "$ENV_NAME" against
// the environment, the way the teacher's factory.resolveAPIKey did.
func ResolveAPIKey(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	if strings.HasPrefix(s, "$") {
		name := strings.TrimPrefix(s, "$")
		if name == "" {
			return "", fmt.Errorf("invalid api_key: %q", raw)
		}
		return os.Getenv(name), nil
	}
	return s, nil
}

// DataHome returns <data-home>/invisibrow, honoring XDG_DATA_HOME.
func DataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "invisibrow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".local", "share", "invisibrow")
}

// ConfigHome returns <config-home>, honoring XDG_CONFIG_HOME.
func ConfigHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config")
}

// ConfigFilePath returns the path to invisibrow.json.
func ConfigFilePath() string {
	return filepath.Join(ConfigHome(), "invisibrow.json")
}

// StorageDir returns <data-home>/invisibrow/storage.
func StorageDir() string {
	return filepath.Join(DataHome(), "storage")
}

// SessionProfileDir returns the browser profile directory owned by a session.
func SessionProfileDir(sessionID string) string {
	return filepath.Join(StorageDir(), "session", sessionID)
}

// MessageLogDir returns the audit directory for one session+agent-role pair.
func MessageLogDir(sessionID, agentType string) string {
	return filepath.Join(StorageDir(), "message", sessionID, agentType)
}

// MemoryDBPath returns the path to the embedded long-term memory database.
func MemoryDBPath() string {
	return filepath.Join(StorageDir(), "memory.sqlite")
}

// PricingOverridePath returns the optional operator override for the
// embedded per-model pricing table (SPEC_FULL.md §1 Configuration).
func PricingOverridePath() string {
	return filepath.Join(ConfigHome(), "invisibrow-pricing.toml")
}

// IsUITest reports whether UI_TEST mode is enabled (spec.md §6 Env):
// deterministic mock execution without a real driver or LLM.
func IsUITest() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("UI_TEST")))
	return v == "1" || v == "true"
}
