package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KafClaw/wsagent/internal/ledger"
	"github.com/KafClaw/wsagent/internal/processor"
	"github.com/KafClaw/wsagent/internal/provider"
	"github.com/KafClaw/wsagent/internal/store"
)

type echoLLM struct{}

func (echoLLM) Call(_ context.Context, req provider.CallRequest) (*provider.Response, error) {
	last := req.Messages[len(req.Messages)-1]
	return &provider.Response{Message: "re: " + last.Content}, nil
}

type harness struct {
	orch   *Orchestrator
	proc   *processor.Processor
	stores *store.Manager
	ledger *ledger.Tracker
}

func newHarness(t *testing.T, opener store.Opener, ledgerPath string, workspaces ...string) *harness {
	t.Helper()
	if ledgerPath == "" {
		ledgerPath = filepath.Join(t.TempDir(), "ledger.db")
	}
	tr := ledger.NewTracker(ledgerPath)
	stores := store.NewManager(opener, store.WithReconnect(time.Millisecond, 0))
	proc := processor.New(processor.Options{Ledger: tr, LLM: echoLLM{}, Activity: stores})
	orch := New(Options{
		Stores:     stores,
		Processor:  proc,
		Ledger:     tr,
		Workspaces: workspaces,
	})
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })
	return &harness{orch: orch, proc: proc, stores: stores, ledger: tr}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartProcessesInitialWorkspaces(t *testing.T) {
	ctx := context.Background()
	opener := store.NewMemoryOpener()
	seed, _ := opener.Open(ctx, "ws1")
	msg, _ := store.NewEvent("ws1", "c1", store.EventMessageCreated, store.MessagePayload{Role: store.RoleUser, Content: "status?"})
	if err := seed.Commit(ctx, msg); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h := newHarness(t, opener, "", "ws1")
	if err := h.orch.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.orch.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}

	waitFor(t, "reply", func() bool {
		events, _ := seed.History(ctx, "c1", 0)
		return len(events) == 2
	})
	events, _ := seed.History(ctx, "c1", 0)
	reply, _ := events[1].AsMessage()
	if reply.Role != store.RoleAssistant || reply.Content != "re: status?" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	health := h.orch.Health()
	if !health.Healthy || !health.LedgerOK || health.BreakerTripped {
		t.Fatalf("expected healthy, got %+v", health)
	}
	if health.Counters.TotalProvisioned != 1 || len(health.Stores) != 1 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestEnsureMonitoredCountsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, store.NewMemoryOpener(), "")
	if err := h.orch.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.orch.EnsureMonitored(ctx, "ws1"); err != nil {
				t.Errorf("ensure: %v", err)
			}
		}()
	}
	wg.Wait()
	_ = h.orch.EnsureMonitored(ctx, "ws1")

	if c := h.orch.Counters(); c.TotalProvisioned != 1 {
		t.Fatalf("expected one provisioning, got %+v", c)
	}
	m, ok := h.orch.Meta("ws1")
	if !ok || !m.Monitored || m.Provisioned != 1 || m.MonitoredSince.IsZero() {
		t.Fatalf("unexpected meta %+v", m)
	}
	if m.Status != StatusMonitoring || m.FirstMonitoredAt.IsZero() || m.LastEnsuredAt.Before(m.FirstMonitoredAt) {
		t.Fatalf("unexpected timestamps %+v", m)
	}
	if h.proc.State("ws1") != processor.StateMonitoring {
		t.Fatalf("expected processor monitoring, got %s", h.proc.State("ws1"))
	}
	if err := h.orch.EnsureMonitored(ctx, ""); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestStopMonitoringCountsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, store.NewMemoryOpener(), "")
	_ = h.orch.Start(ctx)
	_ = h.orch.EnsureMonitored(ctx, "ws1")

	if err := h.orch.StopMonitoring(ctx, "ws1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := h.orch.StopMonitoring(ctx, "ws1"); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := h.orch.StopMonitoring(ctx, "never-seen"); err != nil {
		t.Fatalf("stop unknown: %v", err)
	}
	c := h.orch.Counters()
	if c.TotalDeprovisioned != 1 {
		t.Fatalf("expected one deprovisioning, got %+v", c)
	}
	if _, ok := h.stores.GetStore("ws1"); ok {
		t.Fatal("expected store removed")
	}
	if h.proc.State("ws1") != processor.StateStopped {
		t.Fatalf("expected processor stopped, got %s", h.proc.State("ws1"))
	}
	stopped, _ := h.orch.Meta("ws1")
	if stopped.Status != StatusStopped || stopped.LastStoppedAt.IsZero() || stopped.Monitored {
		t.Fatalf("unexpected meta after stop %+v", stopped)
	}

	_ = h.orch.EnsureMonitored(ctx, "ws1")
	m, _ := h.orch.Meta("ws1")
	if m.Provisioned != 2 || m.Deprovisioned != 1 || !m.Monitored || m.Status != StatusMonitoring {
		t.Fatalf("unexpected meta after re-ensure %+v", m)
	}
	if !m.FirstMonitoredAt.Equal(stopped.FirstMonitoredAt) {
		t.Fatalf("first monitored time moved: %v -> %v", stopped.FirstMonitoredAt, m.FirstMonitoredAt)
	}
	if all := h.orch.AllMeta(); len(all) != 1 {
		t.Fatalf("expected one meta record, got %d", len(all))
	}
}

// gatedLLM blocks each call until release is closed.
type gatedLLM struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedLLM) Call(context.Context, provider.CallRequest) (*provider.Response, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return &provider.Response{Message: "late answer"}, nil
}

func TestStopMonitoringWaitsForRunningReply(t *testing.T) {
	ctx := context.Background()
	opener := store.NewMemoryOpener()
	llm := &gatedLLM{started: make(chan struct{}), release: make(chan struct{})}
	tr := ledger.NewTracker(filepath.Join(t.TempDir(), "ledger.db"))
	stores := store.NewManager(opener)
	proc := processor.New(processor.Options{Ledger: tr, LLM: llm, Activity: stores})
	orch := New(Options{Stores: stores, Processor: proc, Ledger: tr})
	defer orch.Shutdown(context.Background())

	if err := orch.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := orch.EnsureMonitored(ctx, "ws1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	view, _ := opener.Open(ctx, "ws1")
	msg, _ := store.NewEvent("ws1", "c1", store.EventMessageCreated, store.MessagePayload{Role: store.RoleUser, Content: "slow one"})
	if err := view.Commit(ctx, msg); err != nil {
		t.Fatalf("commit: %v", err)
	}
	select {
	case <-llm.started:
	case <-time.After(3 * time.Second):
		t.Fatal("run did not start")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- orch.StopMonitoring(ctx, "ws1") }()
	select {
	case err := <-stopped:
		t.Fatalf("stop returned before the running reply was committed: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(llm.release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not return")
	}

	events, _ := view.History(ctx, "c1", 0)
	if len(events) != 2 {
		t.Fatalf("expected user message and reply, got %d events", len(events))
	}
	if reply, _ := events[1].AsMessage(); reply.Content != "late answer" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if s := proc.Stats(); s.Processed != 1 || s.Failed != 0 {
		t.Fatalf("unexpected processor stats %+v", s)
	}
}

func TestStopMonitoringHonoursDeadline(t *testing.T) {
	ctx := context.Background()
	opener := store.NewMemoryOpener()
	llm := &gatedLLM{started: make(chan struct{}), release: make(chan struct{})}
	tr := ledger.NewTracker(filepath.Join(t.TempDir(), "ledger.db"))
	stores := store.NewManager(opener)
	proc := processor.New(processor.Options{Ledger: tr, LLM: llm})
	orch := New(Options{Stores: stores, Processor: proc, Ledger: tr})
	defer orch.Shutdown(context.Background())
	defer close(llm.release)

	_ = orch.Start(ctx)
	_ = orch.EnsureMonitored(ctx, "ws1")
	view, _ := opener.Open(ctx, "ws1")
	msg, _ := store.NewEvent("ws1", "c1", store.EventMessageCreated, store.MessagePayload{Role: store.RoleUser, Content: "stuck"})
	_ = view.Commit(ctx, msg)
	<-llm.started

	stopCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := orch.StopMonitoring(stopCtx, "ws1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if _, ok := stores.GetStore("ws1"); ok {
		t.Fatal("store should be closed after the deadline")
	}
	if m, _ := orch.Meta("ws1"); m.Monitored {
		t.Fatal("workspace should be deprovisioned")
	}
}

func TestLedgerFailureTripsBreaker(t *testing.T) {
	ctx := context.Background()
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	h := newHarness(t, store.NewMemoryOpener(), filepath.Join(blocker, "ledger.db"))

	if err := h.orch.Start(ctx); err != nil {
		t.Fatalf("start must not fail on ledger error: %v", err)
	}
	if !h.proc.BreakerTripped() {
		t.Fatal("expected breaker tripped")
	}
	var initErr *ledger.InitError
	if !errors.As(h.proc.BreakerCause(), &initErr) {
		t.Fatalf("expected InitError cause, got %v", h.proc.BreakerCause())
	}
	health := h.orch.Health()
	if health.Healthy || health.LedgerOK || !health.BreakerTripped || health.BreakerCause == "" {
		t.Fatalf("expected unhealthy report, got %+v", health)
	}
}

// gatedOpener fails until open is set.
type gatedOpener struct {
	inner *store.MemoryOpener
	open  atomic.Bool
}

func (g *gatedOpener) Open(ctx context.Context, id string) (store.Store, error) {
	if !g.open.Load() {
		return nil, errors.New("broker unavailable")
	}
	return g.inner.Open(ctx, id)
}

func TestSweepRestoresFailedWorkspace(t *testing.T) {
	ctx := context.Background()
	opener := &gatedOpener{inner: store.NewMemoryOpener()}
	h := newHarness(t, opener, "")
	_ = h.orch.Start(ctx)

	if err := h.orch.EnsureMonitored(ctx, "ws1"); err == nil {
		t.Fatal("expected ensure to fail while broker is down")
	}
	if h.orch.Health().Healthy {
		t.Fatal("expected unhealthy while store is in error")
	}
	if c := h.orch.Counters(); c.TotalProvisioned != 0 {
		t.Fatalf("failed ensure must not count, got %+v", c)
	}

	opener.open.Store(true)
	h.orch.Sweep(ctx)

	if m, ok := h.orch.Meta("ws1"); !ok || !m.Monitored {
		t.Fatalf("expected sweep to restore ws1, got %+v", m)
	}
	if !h.orch.Health().Healthy {
		t.Fatal("expected healthy after sweep")
	}

	// A stopped workspace is no longer desired and stays stopped.
	_ = h.orch.StopMonitoring(ctx, "ws1")
	h.orch.Sweep(ctx)
	if m, _ := h.orch.Meta("ws1"); m.Monitored {
		t.Fatal("sweep must not restore a stopped workspace")
	}
}

type badCloseStore struct {
	store.Store
}

func (b badCloseStore) Close() error {
	_ = b.Store.Close()
	return errors.New("close failed")
}

func TestShutdownContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryOpener()
	opener := store.OpenerFunc(func(ctx context.Context, id string) (store.Store, error) {
		s, err := mem.Open(ctx, id)
		if err != nil || id != "bad" {
			return s, err
		}
		return badCloseStore{s}, nil
	})
	h := newHarness(t, opener, "")
	_ = h.orch.Start(ctx)
	for _, id := range []string{"bad", "good"} {
		if err := h.orch.EnsureMonitored(ctx, id); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
	}

	err := h.orch.Shutdown(ctx)
	if err == nil {
		t.Fatal("expected shutdown to report the failed close")
	}
	for _, id := range []string{"bad", "good"} {
		if m, _ := h.orch.Meta(id); m.Monitored {
			t.Fatalf("%s still monitored after shutdown", id)
		}
	}
	if c := h.orch.Counters(); c.TotalDeprovisioned != 2 {
		t.Fatalf("expected both workspaces deprovisioned, got %+v", c)
	}
	if h.ledger.Initialized() {
		t.Fatal("expected ledger closed")
	}
	if err := h.orch.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if err := h.orch.EnsureMonitored(ctx, "late"); err == nil {
		t.Fatal("expected ensure after shutdown to fail")
	}
}

func TestInvalidSweepSchedule(t *testing.T) {
	tr := ledger.NewTracker(filepath.Join(t.TempDir(), "ledger.db"))
	stores := store.NewManager(store.NewMemoryOpener())
	proc := processor.New(processor.Options{Ledger: tr, LLM: echoLLM{}})
	orch := New(Options{Stores: stores, Processor: proc, Ledger: tr, SweepSchedule: "not a schedule"})
	defer orch.Shutdown(context.Background())

	if err := orch.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
