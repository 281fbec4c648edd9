// Package processor watches workspace stores for new user messages and
// drives the agent loop for each one exactly once.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KafClaw/wsagent/internal/agent"
	"github.com/KafClaw/wsagent/internal/alert"
	"github.com/KafClaw/wsagent/internal/provider"
	"github.com/KafClaw/wsagent/internal/queue"
	"github.com/KafClaw/wsagent/internal/store"
	"github.com/KafClaw/wsagent/internal/tools"
	"github.com/google/uuid"
)

// Ledger records which messages have been claimed. *ledger.Tracker
// implements it.
type Ledger interface {
	IsProcessed(ctx context.Context, messageID, storeID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID, storeID string) (bool, error)
}

// ActivityRecorder receives per-store heartbeats and failures.
// *store.Manager implements it.
type ActivityRecorder interface {
	UpdateActivity(storeID string)
	RecordError(storeID string, err error)
}

// State is the monitoring state of one store.
type State string

const (
	StateNotMonitored State = "not_monitored"
	StateMonitoring   State = "monitoring"
	StateStopped      State = "stopped"
)

// maxIterationsReply is committed when the loop stops at its cap without an
// answer.
const maxIterationsReply = "Max iterations reached. Please try a simpler request."

// Options configures a Processor.
type Options struct {
	Ledger        Ledger
	LLM           agent.Caller
	Dispatcher    *tools.Dispatcher
	Model         string
	MaxIterations int
	// HistoryLimit bounds how many prior chat events seed the loop.
	HistoryLimit  int
	MaxQueueDepth int
	MaxConcurrent int
	Notifier      alert.Notifier
	Activity      ActivityRecorder
	// Workers maps worker IDs to personas. Unknown IDs get a bare context.
	Workers map[string]provider.WorkerContext
}

// Stats are cumulative counters since the processor was created.
type Stats struct {
	Received            int64 `json:"received"`
	SkippedDuplicates   int64 `json:"skippedDuplicates"`
	Rejected            int64 `json:"rejected"`
	Dropped             int64 `json:"dropped"`
	Processed           int64 `json:"processed"`
	Failed              int64 `json:"failed"`
	ActiveConversations int   `json:"activeConversations"`
	InFlight            int   `json:"inFlight"`
	MaxConcurrent       int   `json:"maxConcurrent"`
}

type counters struct {
	received, skipped, rejected, dropped, processed, failed atomic.Int64
}

type monitor struct {
	storeID string
	store   store.Store
	ctx     context.Context
	sub     store.Subscription

	mu     sync.Mutex
	queues map[string]*queue.Processor[*agent.Outcome]
	closed bool
	// inflight counts this store's accepted messages until their futures
	// resolve. Adds happen under mu while the monitor is open.
	inflight sync.WaitGroup
}

// Processor subscribes to workspace stores and processes each user message
// on a per-conversation queue.
type Processor struct {
	opts Options
	sem  *Semaphore

	breaker      atomic.Bool
	alerted      atomic.Bool
	breakerMu    sync.Mutex
	breakerCause error

	stats counters

	mu       sync.Mutex
	monitors map[string]*monitor
	states   map[string]State
	inflight sync.WaitGroup
}

// New creates a processor.
func New(opts Options) *Processor {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = agent.DefaultMaxIterations
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.Notifier == nil {
		opts.Notifier = alert.Noop{}
	}
	return &Processor{
		opts:     opts,
		sem:      NewSemaphore(opts.MaxConcurrent),
		monitors: make(map[string]*monitor),
		states:   make(map[string]State),
	}
}

// TripBreaker stops all message processing. It is called when the ledger
// cannot be initialized: without it duplicates cannot be detected, so the
// processor refuses work rather than risk repeated side effects.
func (p *Processor) TripBreaker(cause error) {
	p.breakerMu.Lock()
	p.breakerCause = cause
	p.breakerMu.Unlock()
	if p.breaker.CompareAndSwap(false, true) {
		slog.Error("Processing breaker tripped: all messages will be rejected", "critical", true, "error", cause)
	}
}

// BreakerTripped reports whether processing is halted.
func (p *Processor) BreakerTripped() bool {
	return p.breaker.Load()
}

// BreakerCause returns the error that tripped the breaker.
func (p *Processor) BreakerCause() error {
	p.breakerMu.Lock()
	defer p.breakerMu.Unlock()
	return p.breakerCause
}

// StartMonitoring subscribes to st's user messages. It is a no-op when the
// store is already monitored.
func (p *Processor) StartMonitoring(ctx context.Context, storeID string, st store.Store) error {
	p.mu.Lock()
	if _, ok := p.monitors[storeID]; ok {
		p.mu.Unlock()
		return nil
	}
	m := &monitor{
		storeID: storeID,
		store:   st,
		ctx:     context.WithoutCancel(ctx),
		queues:  make(map[string]*queue.Processor[*agent.Outcome]),
	}
	p.monitors[storeID] = m
	p.mu.Unlock()

	sub, err := st.SubscribeUserMessages(m.ctx, func(ctx context.Context, msg store.Message) {
		p.handleMessage(ctx, m, msg)
	})
	if err != nil {
		p.mu.Lock()
		if p.monitors[storeID] == m {
			delete(p.monitors, storeID)
		}
		p.mu.Unlock()
		return fmt.Errorf("subscribe to store %s: %w", storeID, err)
	}

	m.mu.Lock()
	m.sub = sub
	closed := m.closed
	m.mu.Unlock()
	if closed {
		sub.Unsubscribe()
		return nil
	}

	p.mu.Lock()
	p.states[storeID] = StateMonitoring
	p.mu.Unlock()
	slog.Info("Monitoring store", "store_id", storeID)
	return nil
}

// StopMonitoring unsubscribes from the store and rejects its pending work.
// A run already in progress keeps its context and finishes; the returned
// channel is closed once it has. Stopping an unmonitored store is a no-op
// and returns a closed channel.
func (p *Processor) StopMonitoring(storeID string) <-chan struct{} {
	drained := make(chan struct{})
	p.mu.Lock()
	m, ok := p.monitors[storeID]
	delete(p.monitors, storeID)
	if ok {
		p.states[storeID] = StateStopped
	}
	p.mu.Unlock()
	if !ok {
		close(drained)
		return drained
	}

	m.mu.Lock()
	m.closed = true
	sub := m.sub
	queues := m.queues
	m.queues = make(map[string]*queue.Processor[*agent.Outcome])
	m.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	cleared := 0
	for _, q := range queues {
		cleared += q.Len()
		q.Destroy()
	}
	slog.Info("Stopped monitoring store", "store_id", storeID, "conversations", len(queues), "cleared_tasks", cleared)

	go func() {
		m.inflight.Wait()
		close(drained)
	}()
	return drained
}

// StopAll stops monitoring every store.
func (p *Processor) StopAll() {
	for _, id := range p.Monitored() {
		p.StopMonitoring(id)
	}
}

// Wait blocks until runs already in progress have finished or ctx is done.
// It must follow StopAll so no new work is admitted while it waits.
func (p *Processor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the monitoring state of storeID.
func (p *Processor) State(storeID string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.states[storeID]; ok {
		return s
	}
	return StateNotMonitored
}

// Monitored returns the ids of monitored stores, sorted.
func (p *Processor) Monitored() []string {
	p.mu.Lock()
	ids := make([]string, 0, len(p.monitors))
	for id := range p.monitors {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	s := Stats{
		Received:          p.stats.received.Load(),
		SkippedDuplicates: p.stats.skipped.Load(),
		Rejected:          p.stats.rejected.Load(),
		Dropped:           p.stats.dropped.Load(),
		Processed:         p.stats.processed.Load(),
		Failed:            p.stats.failed.Load(),
		InFlight:          p.sem.InUse(),
		MaxConcurrent:     p.sem.Cap(),
	}
	p.mu.Lock()
	monitors := make([]*monitor, 0, len(p.monitors))
	for _, m := range p.monitors {
		monitors = append(monitors, m)
	}
	p.mu.Unlock()
	for _, m := range monitors {
		m.mu.Lock()
		s.ActiveConversations += len(m.queues)
		m.mu.Unlock()
	}
	return s
}

// admit returns the conversation queue for a new message and counts the
// message as in flight, or nil once the monitor is closed.
func (p *Processor) admit(m *monitor, conversationID string) *queue.Processor[*agent.Outcome] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.inflight.Add(1)
	p.inflight.Add(1)
	return m.queueFor(conversationID, p.opts.MaxQueueDepth)
}

// queueFor must be called with m.mu held.
func (m *monitor) queueFor(conversationID string, depth int) *queue.Processor[*agent.Outcome] {
	q, ok := m.queues[conversationID]
	if !ok {
		q = queue.New[*agent.Outcome](
			queue.WithMaxDepth(depth),
			queue.WithName(m.storeID+"/"+conversationID),
		)
		m.queues[conversationID] = q
	}
	return q
}

// handleMessage runs on the subscription goroutine and must not block on
// processing.
func (p *Processor) handleMessage(ctx context.Context, m *monitor, msg store.Message) {
	p.stats.received.Add(1)
	log := slog.With("store_id", m.storeID, "conversation_id", msg.ConversationID, "message_id", msg.ID, "trace_id", msg.TraceID)

	if p.breaker.Load() {
		p.stats.rejected.Add(1)
		log.Error("Rejecting message: processing breaker is tripped", "critical", true, "error", p.BreakerCause())
		p.alertBreaker(m.storeID)
		return
	}

	processed, err := p.opts.Ledger.IsProcessed(ctx, msg.ID, m.storeID)
	if err != nil {
		log.Error("Ledger lookup failed", "error", err)
		p.recordError(m.storeID, err)
		return
	}
	if processed {
		p.stats.skipped.Add(1)
		log.Debug("Skipping already processed message")
		return
	}

	q := p.admit(m, msg.ConversationID)
	if q == nil {
		return
	}
	// Runs use the monitor's context, not the subscription's: unsubscribing
	// must not cancel a run that already claimed its message.
	fut := q.Enqueue(m.ctx, msg.ID, func(ctx context.Context) (*agent.Outcome, error) {
		return p.process(ctx, m, msg)
	})
	go func() {
		defer p.inflight.Done()
		defer m.inflight.Done()
		_, err := fut.Wait(context.Background())
		switch {
		case errors.Is(err, queue.ErrFull), errors.Is(err, queue.ErrDestroyed):
			p.stats.dropped.Add(1)
			log.Warn("Message not queued", "error", err)
		case errors.Is(err, queue.ErrCleared):
			p.stats.dropped.Add(1)
			log.Info("Queued message cleared before processing")
		}
	}()
}

// process is the queue task for one message. Errors are logged here and
// returned only to the future; nothing waits on it.
func (p *Processor) process(ctx context.Context, m *monitor, msg store.Message) (*agent.Outcome, error) {
	log := slog.With("store_id", m.storeID, "conversation_id", msg.ConversationID, "message_id", msg.ID)

	claimed, err := p.opts.Ledger.MarkProcessed(ctx, msg.ID, m.storeID)
	if err != nil {
		p.stats.failed.Add(1)
		log.Error("Ledger claim failed", "error", err)
		p.recordError(m.storeID, err)
		return nil, err
	}
	if !claimed {
		p.stats.skipped.Add(1)
		log.Debug("Message claimed by another worker")
		return nil, nil
	}

	if err := p.sem.Acquire(ctx); err != nil {
		p.stats.failed.Add(1)
		return nil, err
	}
	defer p.sem.Release()

	traceID := msg.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	log = log.With("trace_id", traceID)
	start := time.Now()

	out, err := p.run(ctx, m, msg, traceID)
	if err != nil {
		p.stats.failed.Add(1)
		log.Error("Message processing failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		p.recordError(m.storeID, err)
		if provider.IsTransient(err) {
			p.notify(alert.Alert{
				Severity: alert.SeverityWarning,
				Title:    "LLM provider unavailable after retries",
				Detail:   err.Error(),
				StoreID:  m.storeID,
			})
		}
		return nil, err
	}

	p.stats.processed.Add(1)
	if p.opts.Activity != nil {
		p.opts.Activity.UpdateActivity(m.storeID)
	}
	log.Info("Message processed",
		"iterations", out.Iterations,
		"tool_calls", out.ToolCalls,
		"exhausted", out.Exhausted,
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (p *Processor) run(ctx context.Context, m *monitor, msg store.Message, traceID string) (*agent.Outcome, error) {
	if msg.StoreID == "" {
		msg.StoreID = m.storeID
	}
	events, err := m.store.History(ctx, msg.ConversationID, p.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	board, err := m.store.Board(ctx)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}

	call := tools.CallContext{
		StoreID:        m.storeID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		WorkerID:       msg.WorkerID,
		TraceID:        traceID,
		Store:          m.store,
	}
	var (
		dispatcher agent.Dispatcher
		defs       []provider.ToolDefinition
	)
	if p.opts.Dispatcher != nil {
		dispatcher = p.opts.Dispatcher
		defs = p.opts.Dispatcher.Registry().Definitions()
	}

	rec := &recorder{p: p, ctx: ctx, store: m.store, msg: msg, traceID: traceID}
	loop := agent.NewLoop(agent.LoopOptions{
		Caller:        p.opts.LLM,
		Dispatcher:    dispatcher,
		Tools:         defs,
		Model:         p.opts.Model,
		MaxIterations: p.opts.MaxIterations,
		Board:         boardContext(board),
		Worker:        p.worker(msg.WorkerID),
		Navigation:    navigationContext(msg),
		Call:          call,
		OnEvent:       rec.onEvent,
	})
	loop.Seed(historyMessages(events, msg)...)

	out, err := loop.Run(ctx, msg.Content)
	if err != nil {
		return nil, err
	}

	reply := out.Message
	if reply == "" && out.Exhausted {
		reply = maxIterationsReply
	}
	if reply != "" {
		if err := rec.commit(store.EventMessageCreated, store.MessagePayload{
			Role:     store.RoleAssistant,
			Content:  reply,
			WorkerID: msg.WorkerID,
			View:     msg.View,
			BoardID:  msg.BoardID,
			TaskID:   msg.TaskID,
		}); err != nil {
			return nil, fmt.Errorf("commit reply: %w", err)
		}
	}
	return out, nil
}

func (p *Processor) worker(id string) *provider.WorkerContext {
	if id == "" {
		return nil
	}
	if w, ok := p.opts.Workers[id]; ok {
		if w.ID == "" {
			w.ID = id
		}
		return &w
	}
	return &provider.WorkerContext{ID: id, Name: id}
}

func (p *Processor) recordError(storeID string, err error) {
	if p.opts.Activity != nil {
		p.opts.Activity.RecordError(storeID, err)
	}
}

// alertBreaker notifies operators the first time a message is rejected.
func (p *Processor) alertBreaker(storeID string) {
	if !p.alerted.CompareAndSwap(false, true) {
		return
	}
	detail := "ledger unavailable"
	if cause := p.BreakerCause(); cause != nil {
		detail = cause.Error()
	}
	p.notify(alert.Alert{
		Severity: alert.SeverityCritical,
		Title:    "Message processing halted: duplicate protection unavailable",
		Detail:   detail,
		StoreID:  storeID,
	})
}

func (p *Processor) notify(a alert.Alert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.opts.Notifier.Notify(ctx, a); err != nil {
			slog.Warn("Alert delivery failed", "title", a.Title, "error", err)
		}
	}()
}
