package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/KafClaw/wsagent/internal/agent"
	"github.com/KafClaw/wsagent/internal/alert"
	"github.com/KafClaw/wsagent/internal/config"
	"github.com/KafClaw/wsagent/internal/ledger"
	"github.com/KafClaw/wsagent/internal/orchestrator"
	"github.com/KafClaw/wsagent/internal/processor"
	"github.com/KafClaw/wsagent/internal/provider"
	"github.com/KafClaw/wsagent/internal/store"
	"github.com/KafClaw/wsagent/internal/tools"
)

// runtime is the wired set of components behind `wsagent serve`.
type runtime struct {
	cfg       *config.Config
	ledger    *ledger.Tracker
	stores    *store.Manager
	processor *processor.Processor
	orch      *orchestrator.Orchestrator
}

func newOpener(cfg config.StoreConfig) (store.Opener, error) {
	switch cfg.Backend {
	case config.StoreBackendKafka:
		return &store.KafkaOpener{
			Brokers:       cfg.Brokers,
			TopicPrefix:   cfg.TopicPrefix,
			ConsumerGroup: cfg.ConsumerGroup,
			DialTimeout:   5 * time.Second,
		}, nil
	case config.StoreBackendMemory:
		return store.NewMemoryOpener(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// buildRuntime wires every component from cfg. A nil llm resolves the
// configured provider.
func buildRuntime(cfg *config.Config, llm agent.Caller) (*runtime, error) {
	opener, err := newOpener(cfg.Store)
	if err != nil {
		return nil, err
	}
	if llm == nil {
		llm = provider.Resolve(cfg)
	}

	registry := tools.NewRegistry()
	tools.RegisterBoardTools(registry)
	dispatcher := tools.NewDispatcher(registry, cfg.Tools.Disabled)

	workers := make(map[string]provider.WorkerContext, len(cfg.Workers))
	for _, w := range cfg.Workers {
		if w.ID == "" {
			continue
		}
		workers[w.ID] = provider.WorkerContext{ID: w.ID, Name: w.Name, SystemPrompt: w.SystemPrompt}
	}

	tracker := ledger.NewTracker(cfg.Ledger.Path)
	stores := store.NewManager(opener, store.WithReconnect(cfg.Store.ReconnectInterval(), cfg.Store.MaxReconnectAttempts))
	proc := processor.New(processor.Options{
		Ledger:        tracker,
		LLM:           llm,
		Dispatcher:    dispatcher,
		Model:         cfg.Model.Name,
		MaxIterations: cfg.Model.MaxIterations,
		HistoryLimit:  cfg.Store.HistoryLimit,
		MaxQueueDepth: cfg.Processor.MaxQueueDepth,
		MaxConcurrent: cfg.Processor.MaxConcurrent,
		Notifier:      alert.FromConfig(cfg.Alerts),
		Activity:      stores,
		Workers:       workers,
	})
	orch := orchestrator.New(orchestrator.Options{
		Stores:        stores,
		Processor:     proc,
		Ledger:        tracker,
		SweepSchedule: cfg.Orchestrator.SweepSchedule,
		Workspaces:    cfg.Orchestrator.Workspaces,
	})

	slog.Debug("Runtime wired",
		"backend", cfg.Store.Backend,
		"model", cfg.Model.Name,
		"tools", registry.Names(),
		"disabled_tools", cfg.Tools.Disabled,
		"alerts", cfg.Alerts.Enabled(),
	)
	return &runtime{cfg: cfg, ledger: tracker, stores: stores, processor: proc, orch: orch}, nil
}
