// Package config provides configuration types and loading for wsagent.
package config

import "time"

// Config is the root configuration struct.
type Config struct {
	Model        ModelConfig        `json:"model"`
	Provider     ProviderConfig     `json:"provider"`
	Ledger       LedgerConfig       `json:"ledger"`
	Store        StoreConfig        `json:"store"`
	Processor    ProcessorConfig    `json:"processor"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Gateway      GatewayConfig      `json:"gateway"`
	Tools        ToolsConfig        `json:"tools"`
	Alerts       AlertsConfig       `json:"alerts"`
	Workers      []WorkerConfig     `json:"workers,omitempty"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups model and agent-loop settings.
type ModelConfig struct {
	Name          string  `json:"name" split_words:"true"`
	MaxIterations int     `json:"maxIterations" split_words:"true"`
	MaxTokens     int     `json:"maxTokens" split_words:"true"`
	Temperature   float64 `json:"temperature" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Provider – upstream LLM endpoint
// ---------------------------------------------------------------------------

// ProviderConfig configures the OpenAI-compatible endpoint and its retry
// policy.
type ProviderConfig struct {
	APIKey           string `json:"apiKey" split_words:"true"`
	APIBase          string `json:"apiBase" split_words:"true"`
	TimeoutSeconds   int    `json:"timeoutSeconds" split_words:"true"`
	MaxRetries       int    `json:"maxRetries" split_words:"true"`
	InitialBackoffMs int    `json:"initialBackoffMs" split_words:"true"`
	MaxBackoffMs     int    `json:"maxBackoffMs" split_words:"true"`
}

// Timeout is the per-attempt request deadline.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// InitialBackoff is the delay before the first retry.
func (c ProviderConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff caps the exponential retry delay.
func (c ProviderConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

// ---------------------------------------------------------------------------
// Ledger – processed-message bookkeeping
// ---------------------------------------------------------------------------

// LedgerConfig locates the processed-message database.
type LedgerConfig struct {
	Path string `json:"path" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Store – workspace event logs
// ---------------------------------------------------------------------------

// Store backends.
const (
	StoreBackendKafka  = "kafka"
	StoreBackendMemory = "memory"
)

// StoreConfig selects and configures the workspace store backend.
type StoreConfig struct {
	Backend              string   `json:"backend" split_words:"true"`
	Brokers              []string `json:"brokers" split_words:"true"`
	TopicPrefix          string   `json:"topicPrefix" split_words:"true"`
	ConsumerGroup        string   `json:"consumerGroup" split_words:"true"`
	HistoryLimit         int      `json:"historyLimit" split_words:"true"`
	ReconnectIntervalMs  int      `json:"reconnectIntervalMs" split_words:"true"`
	MaxReconnectAttempts int      `json:"maxReconnectAttempts" split_words:"true"`
}

// ReconnectInterval is the wait between failed open attempts.
func (c StoreConfig) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalMs) * time.Millisecond
}

// ---------------------------------------------------------------------------
// Processor – message intake
// ---------------------------------------------------------------------------

// ProcessorConfig bounds per-conversation and global work.
type ProcessorConfig struct {
	MaxQueueDepth int `json:"maxQueueDepth" split_words:"true"`
	MaxConcurrent int `json:"maxConcurrent" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Orchestrator – workspace lifecycle
// ---------------------------------------------------------------------------

// OrchestratorConfig lists the workspaces monitored at boot and the
// reconcile sweep schedule (cron syntax, "" disables the sweep).
type OrchestratorConfig struct {
	SweepSchedule string   `json:"sweepSchedule" split_words:"true"`
	Workspaces    []string `json:"workspaces" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Gateway – health HTTP surface
// ---------------------------------------------------------------------------

// GatewayConfig configures the health/admin HTTP listener.
type GatewayConfig struct {
	Host string `json:"host" split_words:"true"`
	Port int    `json:"port" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Tools
// ---------------------------------------------------------------------------

// ToolsConfig lists tools that stay registered but refuse to run.
type ToolsConfig struct {
	Disabled []string `json:"disabled" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

// AlertsConfig configures operator notifications. Empty token disables them.
type AlertsConfig struct {
	SlackToken   string `json:"slackToken" split_words:"true"`
	SlackChannel string `json:"slackChannel" split_words:"true"`
	SlackAPIURL  string `json:"slackApiUrl,omitempty" split_words:"true"`
}

// Enabled reports whether Slack alerts are configured.
func (c AlertsConfig) Enabled() bool {
	return c.SlackToken != "" && c.SlackChannel != ""
}

// ---------------------------------------------------------------------------
// Workers – personas selected by a message's workerId
// ---------------------------------------------------------------------------

// WorkerConfig describes one worker persona. A non-empty SystemPrompt
// replaces the default prompt for messages addressed to the worker.
type WorkerConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name:          "anthropic/claude-sonnet-4-5",
			MaxIterations: 10,
			MaxTokens:     8192,
			Temperature:   0.7,
		},
		Provider: ProviderConfig{
			TimeoutSeconds:   60,
			MaxRetries:       3,
			InitialBackoffMs: 500,
			MaxBackoffMs:     8000,
		},
		Ledger: LedgerConfig{
			Path: "~/.wsagent/ledger.db",
		},
		Store: StoreConfig{
			Backend:              StoreBackendKafka,
			Brokers:              []string{"localhost:9092"},
			TopicPrefix:          "wsagent.workspace.",
			ConsumerGroup:        "wsagent",
			HistoryLimit:         50,
			ReconnectIntervalMs:  2000,
			MaxReconnectAttempts: 5,
		},
		Processor: ProcessorConfig{
			MaxQueueDepth: 64,
			MaxConcurrent: 8,
		},
		Orchestrator: OrchestratorConfig{
			SweepSchedule: "@every 30s",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1", // Secure default
			Port: 18890,
		},
	}
}
