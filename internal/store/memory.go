package store

import (
	"context"
	"sync"
)

// MemoryOpener opens in-process stores. Logs outlive handles, so closing and
// reopening a workspace sees the same events.
type MemoryOpener struct {
	mu   sync.Mutex
	logs map[string]*eventLog
}

// NewMemoryOpener creates an empty in-process backend.
func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{logs: make(map[string]*eventLog)}
}

// Open returns a new handle on the workspace log, creating it if needed.
func (o *MemoryOpener) Open(ctx context.Context, storeID string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	l, ok := o.logs[storeID]
	if !ok {
		l = newEventLog(storeID)
		o.logs[storeID] = l
	}
	o.mu.Unlock()
	return &MemoryStore{id: storeID, log: l}, nil
}

// MemoryStore is a Store backed by an in-process log.
type MemoryStore struct {
	id  string
	log *eventLog

	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

// NewMemoryStore creates a standalone in-process store.
func NewMemoryStore(storeID string) *MemoryStore {
	return &MemoryStore{id: storeID, log: newEventLog(storeID)}
}

// ID returns the workspace id.
func (s *MemoryStore) ID() string { return s.id }

// SubscribeUserMessages implements Store.
func (s *MemoryStore) SubscribeUserMessages(ctx context.Context, handler MessageHandler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	sub := s.log.subscribe(ctx, handler)
	s.subs = append(s.subs, sub)
	return sub, nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(ctx context.Context, events ...Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	s.log.append(stamp(s.id, events)...)
	return nil
}

// History implements Store.
func (s *MemoryStore) History(ctx context.Context, conversationID string, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.log.history(conversationID, limit), nil
}

// Board implements Store.
func (s *MemoryStore) Board(ctx context.Context) (*Board, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.log.board(), nil
}

// Events returns a copy of the whole log.
func (s *MemoryStore) Events() []Event {
	return s.log.all()
}

// Close ends this handle's subscriptions. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.closed = true
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

// stamp fills in the store id on events that lack one.
func stamp(storeID string, events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		if e.StoreID == "" {
			e.StoreID = storeID
		}
		out[i] = e
	}
	return out
}
