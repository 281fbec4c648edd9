package provider

import (
	"log/slog"
	"time"

	"github.com/KafClaw/wsagent/internal/config"
)

// Resolve builds the LLM described by cfg: an OpenAI-compatible transport
// wrapped in the configured timeout and retry policy.
func Resolve(cfg *config.Config) *LLM {
	chat := NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Model.Name)

	policy := DefaultRetryPolicy()
	policy.MaxRetries = cfg.Provider.MaxRetries
	if d := cfg.Provider.InitialBackoff(); d > 0 {
		policy.InitialBackoff = d
	}
	if d := cfg.Provider.MaxBackoff(); d > 0 {
		policy.MaxBackoff = d
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		slog.Debug("llm retry scheduled", "model", cfg.Model.Name, "attempt", attempt, "delay", delay, "error", err)
	}

	return NewLLM(chat,
		WithRetryPolicy(policy),
		WithTimeout(cfg.Provider.Timeout()),
		WithSampling(cfg.Model.MaxTokens, cfg.Model.Temperature),
	)
}
