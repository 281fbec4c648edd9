package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/KafClaw/wsagent/internal/processor"
	"github.com/KafClaw/wsagent/internal/store"
	"github.com/robfig/cron/v3"
)

// Ledger is the part of *ledger.Tracker the orchestrator manages.
type Ledger interface {
	Initialize(ctx context.Context) error
	Initialized() bool
	Close() error
}

// Options configures an Orchestrator.
type Options struct {
	Stores    *store.Manager
	Processor *processor.Processor
	Ledger    Ledger
	// SweepSchedule is a cron spec (descriptors such as "@every 30s" are
	// accepted). Empty disables the sweep.
	SweepSchedule string
	// Workspaces are ensured by Start.
	Workspaces []string
}

// Orchestrator composes the store manager and the processor into idempotent
// ensure/stop/shutdown operations.
type Orchestrator struct {
	stores    *store.Manager
	processor *processor.Processor
	ledger    Ledger
	schedule  string
	initial   []string

	mu       sync.Mutex
	meta     map[string]*Meta
	desired  map[string]bool
	counters Counters
	cron     *cron.Cron
	running  bool
	shutdown bool
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		stores:    opts.Stores,
		processor: opts.Processor,
		ledger:    opts.Ledger,
		schedule:  opts.SweepSchedule,
		initial:   opts.Workspaces,
		meta:      make(map[string]*Meta),
		desired:   make(map[string]bool),
	}
}

// Start initializes the ledger, ensures the configured workspaces and
// schedules the reconcile sweep. A ledger failure trips the processor
// breaker instead of failing Start, so the health surface stays up and
// reports it.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	o.mu.Unlock()

	if err := o.ledger.Initialize(ctx); err != nil {
		slog.Error("Ledger initialization failed: message processing disabled", "critical", true, "error", err)
		o.processor.TripBreaker(err)
	}

	for _, id := range o.initial {
		if err := o.EnsureMonitored(ctx, id); err != nil {
			slog.Warn("Initial workspace not monitored yet", "store_id", id, "error", err)
		}
	}

	if o.schedule != "" {
		c := cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		)))
		if _, err := c.AddFunc(o.schedule, func() { o.Sweep(context.Background()) }); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", o.schedule, err)
		}
		c.Start()
		o.mu.Lock()
		o.cron = c
		o.mu.Unlock()
	}

	slog.Info("Orchestrator started", "workspaces", len(o.initial), "sweep", o.schedule, "ledger_ok", o.ledger.Initialized())
	return nil
}

// EnsureMonitored opens (or reuses) the workspace store and starts
// monitoring it. Counters move only on the transition into monitoring. A
// failed ensure is remembered and retried by the sweep.
func (o *Orchestrator) EnsureMonitored(ctx context.Context, storeID string) error {
	if storeID == "" {
		return errors.New("empty store id")
	}
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return errors.New("orchestrator is shut down")
	}
	o.desired[storeID] = true
	o.mu.Unlock()

	st, err := o.stores.AddStore(ctx, storeID)
	if err != nil {
		return fmt.Errorf("ensure %s: %w", storeID, err)
	}
	if err := o.processor.StartMonitoring(ctx, storeID, st); err != nil {
		o.stores.RecordError(storeID, err)
		return fmt.Errorf("ensure %s: %w", storeID, err)
	}

	now := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	m := o.metaLocked(storeID)
	m.LastEnsuredAt = now
	if m.FirstMonitoredAt.IsZero() {
		m.FirstMonitoredAt = now
	}
	if !m.Monitored {
		m.Monitored = true
		m.Status = StatusMonitoring
		m.MonitoredSince = now
		m.Provisioned++
		o.counters.TotalProvisioned++
		slog.Info("Workspace provisioned", "store_id", storeID)
	}
	return nil
}

// StopMonitoring stops the processor for the workspace, waits for its
// in-flight run to commit, then closes its store. When ctx ends first the
// store is closed anyway and the wait error is returned. Counters move only
// on the transition out of monitoring.
func (o *Orchestrator) StopMonitoring(ctx context.Context, storeID string) error {
	o.mu.Lock()
	delete(o.desired, storeID)
	o.mu.Unlock()

	var errs []error
	select {
	case <-o.processor.StopMonitoring(storeID):
	case <-ctx.Done():
		slog.Warn("Closing store before its in-flight run finished", "store_id", storeID, "error", ctx.Err())
		errs = append(errs, fmt.Errorf("wait for in-flight run: %w", ctx.Err()))
	}
	if err := o.stores.RemoveStore(storeID); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)

	o.mu.Lock()
	if m, ok := o.meta[storeID]; ok && m.Monitored {
		m.Monitored = false
		m.Status = StatusStopped
		m.MonitoredSince = time.Time{}
		m.LastStoppedAt = time.Now()
		m.Deprovisioned++
		o.counters.TotalDeprovisioned++
		slog.Info("Workspace deprovisioned", "store_id", storeID)
	}
	o.mu.Unlock()

	if err != nil {
		return fmt.Errorf("stop %s: %w", storeID, err)
	}
	return nil
}

// Sweep re-ensures every desired workspace that is not currently monitored.
func (o *Orchestrator) Sweep(ctx context.Context) {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return
	}
	var pending []string
	for id := range o.desired {
		if o.processor.State(id) != processor.StateMonitoring {
			pending = append(pending, id)
		} else if _, ok := o.stores.GetStore(id); !ok {
			pending = append(pending, id)
		}
	}
	o.mu.Unlock()
	sort.Strings(pending)

	for _, id := range pending {
		if err := o.EnsureMonitored(ctx, id); err != nil {
			slog.Warn("Sweep could not restore workspace", "store_id", id, "error", err)
			continue
		}
		slog.Info("Sweep restored workspace", "store_id", id)
	}
}

// Shutdown stops every monitored workspace, continuing past failures, then
// tears down the processor, the store manager and the ledger.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return nil
	}
	o.shutdown = true
	c := o.cron
	o.cron = nil
	var ids []string
	for id, m := range o.meta {
		if m.Monitored {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()
	sort.Strings(ids)

	if c != nil {
		<-c.Stop().Done()
	}

	var errs []error
	for _, id := range ids {
		if err := o.StopMonitoring(ctx, id); err != nil {
			slog.Error("Failed to stop workspace during shutdown", "store_id", id, "error", err)
			errs = append(errs, err)
		}
	}

	o.processor.StopAll()
	if err := o.processor.Wait(ctx); err != nil {
		slog.Warn("Shutdown did not wait for in-flight runs", "error", err)
		errs = append(errs, fmt.Errorf("wait for in-flight runs: %w", err))
	}
	if err := o.stores.Close(); err != nil {
		slog.Error("Failed to close stores", "error", err)
		errs = append(errs, err)
	}
	if err := o.ledger.Close(); err != nil {
		slog.Error("Failed to close ledger", "error", err)
		errs = append(errs, err)
	}
	slog.Info("Orchestrator stopped", "workspaces", len(ids), "errors", len(errs))
	return errors.Join(errs...)
}

// Health reports ledger, breaker, store and processor state.
func (o *Orchestrator) Health() Health {
	sh := o.stores.HealthStatus()
	h := Health{
		LedgerOK:       o.ledger.Initialized(),
		BreakerTripped: o.processor.BreakerTripped(),
		Stores:         sh.Stores,
		Processor:      o.processor.Stats(),
		Counters:       o.Counters(),
	}
	if cause := o.processor.BreakerCause(); cause != nil {
		h.BreakerCause = cause.Error()
	}
	h.Healthy = sh.Healthy && h.LedgerOK && !h.BreakerTripped
	return h
}

// Meta returns the orchestration record for one workspace.
func (o *Orchestrator) Meta(storeID string) (Meta, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.meta[storeID]
	if !ok {
		return Meta{}, false
	}
	return *m, true
}

// AllMeta returns every orchestration record, sorted by id.
func (o *Orchestrator) AllMeta() []Meta {
	o.mu.Lock()
	out := make([]Meta, 0, len(o.meta))
	for _, m := range o.meta {
		out = append(out, *m)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StoreID < out[j].StoreID })
	return out
}

// Counters returns the provisioning totals.
func (o *Orchestrator) Counters() Counters {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters
}

func (o *Orchestrator) metaLocked(storeID string) *Meta {
	m, ok := o.meta[storeID]
	if !ok {
		m = &Meta{StoreID: storeID}
		o.meta[storeID] = m
	}
	return m
}
