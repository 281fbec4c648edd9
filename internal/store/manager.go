package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Status is the connection state of a workspace handle.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// ErrUnknownStore is returned for workspaces the manager has no handle for.
var ErrUnknownStore = errors.New("store: unknown workspace")

// Info describes one managed workspace handle.
type Info struct {
	StoreID           string    `json:"storeId"`
	Status            Status    `json:"status"`
	ConnectedAt       time.Time `json:"connectedAt,omitempty"`
	LastActivity      time.Time `json:"lastActivity,omitempty"`
	ErrorCount        int       `json:"errorCount"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	LastError         string    `json:"lastError,omitempty"`
}

// Health summarizes every managed handle. Healthy is false when any handle
// is in the error state.
type Health struct {
	Healthy bool   `json:"healthy"`
	Stores  []Info `json:"stores"`
}

type handle struct {
	store Store
	info  Info
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithReconnect sets the wait between failed opens and how many extra
// attempts are made before AddStore gives up.
func WithReconnect(interval time.Duration, maxAttempts int) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.reconnectInterval = interval
		}
		if maxAttempts >= 0 {
			m.maxReconnectAttempts = maxAttempts
		}
	}
}

// WithOpenTimeout bounds a shared open, retries included.
func WithOpenTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.openTimeout = d
		}
	}
}

// Manager keeps at most one open handle per workspace. Concurrent AddStore
// calls for the same workspace share a single open.
type Manager struct {
	opener               Opener
	reconnectInterval    time.Duration
	maxReconnectAttempts int
	openTimeout          time.Duration

	inflight singleflight.Group

	mu      sync.RWMutex
	handles map[string]*handle
}

// NewManager creates a manager over opener.
func NewManager(opener Opener, opts ...ManagerOption) *Manager {
	m := &Manager{
		opener:               opener,
		reconnectInterval:    2 * time.Second,
		maxReconnectAttempts: 5,
		openTimeout:          time.Minute,
		handles:              make(map[string]*handle),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AddStore returns the open handle for storeID, opening it if needed.
//
// The open is shared by every concurrent caller, so it runs detached from
// any one caller's cancellation and is bounded by the open timeout instead.
// A caller whose ctx ends first gets ctx's error while the open carries on.
func (m *Manager) AddStore(ctx context.Context, storeID string) (Store, error) {
	if s, ok := m.connected(storeID); ok {
		return s, nil
	}
	ch := m.inflight.DoChan(storeID, func() (any, error) {
		if s, ok := m.connected(storeID); ok {
			return s, nil
		}
		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.openTimeout)
		defer cancel()
		return m.open(openCtx, storeID)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("open store %s: %w", storeID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.Debug("store open shared with concurrent caller", "store_id", storeID)
		}
		return res.Val.(Store), nil
	}
}

func (m *Manager) connected(storeID string) (Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[storeID]
	if !ok || h.store == nil || h.info.Status != StatusConnected {
		return nil, false
	}
	return h.store, true
}

func (m *Manager) open(ctx context.Context, storeID string) (Store, error) {
	m.mu.Lock()
	h, ok := m.handles[storeID]
	if !ok {
		h = &handle{info: Info{StoreID: storeID}}
		m.handles[storeID] = h
	}
	stale := h.store
	h.store = nil
	h.info.Status = StatusConnecting
	m.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		s, err := m.opener.Open(ctx, storeID)
		if err == nil {
			now := time.Now()
			m.mu.Lock()
			if m.handles[storeID] != h {
				m.mu.Unlock()
				_ = s.Close()
				return nil, fmt.Errorf("open store %s: removed while opening", storeID)
			}
			h.store = s
			h.info.Status = StatusConnected
			h.info.ConnectedAt = now
			h.info.LastActivity = now
			h.info.LastError = ""
			m.mu.Unlock()
			slog.Info("store connected", "store_id", storeID, "attempts", attempt+1)
			return s, nil
		}

		lastErr = err
		m.mu.Lock()
		h.info.ErrorCount++
		h.info.LastError = err.Error()
		h.info.Status = StatusError
		m.mu.Unlock()
		slog.Warn("store open failed", "store_id", storeID, "attempt", attempt+1, "error", err)

		if attempt >= m.maxReconnectAttempts || ctx.Err() != nil {
			break
		}

		m.mu.Lock()
		h.info.ReconnectAttempts++
		h.info.Status = StatusConnecting
		m.mu.Unlock()

		timer := time.NewTimer(m.reconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = errors.Join(lastErr, ctx.Err())
			m.mu.Lock()
			h.info.Status = StatusError
			m.mu.Unlock()
			return nil, fmt.Errorf("open store %s: %w", storeID, lastErr)
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("open store %s: %w", storeID, lastErr)
}

// GetStore returns the connected handle for storeID.
func (m *Manager) GetStore(storeID string) (Store, bool) {
	return m.connected(storeID)
}

// RemoveStore closes and forgets the handle. Removing an unknown workspace
// is a no-op.
func (m *Manager) RemoveStore(storeID string) error {
	m.mu.Lock()
	h, ok := m.handles[storeID]
	delete(m.handles, storeID)
	m.mu.Unlock()
	if !ok || h.store == nil {
		return nil
	}
	if err := h.store.Close(); err != nil {
		return fmt.Errorf("close store %s: %w", storeID, err)
	}
	slog.Info("store removed", "store_id", storeID)
	return nil
}

// UpdateActivity records a liveness heartbeat for storeID.
func (m *Manager) UpdateActivity(storeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[storeID]; ok {
		h.info.LastActivity = time.Now()
	}
}

// RecordError counts a runtime failure against storeID. It does not change
// the connection status.
func (m *Manager) RecordError(storeID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[storeID]; ok {
		h.info.ErrorCount++
		if err != nil {
			h.info.LastError = err.Error()
		}
	}
}

// Info returns the info for one workspace.
func (m *Manager) Info(storeID string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[storeID]
	if !ok {
		return Info{}, false
	}
	return h.info, true
}

// AllStoreInfo returns a snapshot of every handle, sorted by id.
func (m *Manager) AllStoreInfo() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h.info)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StoreID < out[j].StoreID })
	return out
}

// HealthStatus reports overall health plus per-handle info.
func (m *Manager) HealthStatus() Health {
	stores := m.AllStoreInfo()
	healthy := true
	for _, s := range stores {
		if s.Status == StatusError {
			healthy = false
		}
	}
	return Health{Healthy: healthy, Stores: stores}
}

// Close closes every handle and forgets them.
func (m *Manager) Close() error {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*handle)
	m.mu.Unlock()

	var errs []error
	for id, h := range handles {
		if h.store == nil {
			continue
		}
		if err := h.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
