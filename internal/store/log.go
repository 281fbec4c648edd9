package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// eventLog is the in-process view of a workspace log shared by both
// backends. Appends are deduplicated by event ID so a Kafka backend can
// apply its own writes locally and again when they are consumed.
type eventLog struct {
	storeID string

	mu      sync.RWMutex
	events  []Event
	seen    map[string]struct{}
	subs    map[int]*subscription
	nextSub int
}

func newEventLog(storeID string) *eventLog {
	return &eventLog{
		storeID: storeID,
		seen:    make(map[string]struct{}),
		subs:    make(map[int]*subscription),
	}
}

// append stores events not seen before and fans new user messages out to
// subscribers. It returns the events that were actually added.
func (l *eventLog) append(events ...Event) []Event {
	l.mu.Lock()
	added := make([]Event, 0, len(events))
	for _, e := range events {
		if _, dup := l.seen[e.ID]; dup {
			continue
		}
		l.seen[e.ID] = struct{}{}
		l.events = append(l.events, e)
		added = append(added, e)
	}
	subs := make([]*subscription, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	msgs := userMessages(added)
	if len(msgs) > 0 {
		for _, s := range subs {
			s.push(msgs...)
		}
	}
	return added
}

func (l *eventLog) all() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) history(conversationID string, limit int) []Event {
	l.mu.RLock()
	var out []Event
	for _, e := range l.events {
		if e.ConversationID != conversationID {
			continue
		}
		switch e.Type {
		case EventMessageCreated, EventToolCallRecorded, EventToolResultRecorded:
			out = append(out, e)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (l *eventLog) board() *Board {
	return ProjectBoard(l.storeID, l.all())
}

// subscribe registers handler and queues every existing user message for
// replay before any live message.
func (l *eventLog) subscribe(ctx context.Context, handler MessageHandler) *subscription {
	sctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		log:     l,
		ctx:     sctx,
		cancel:  cancel,
		handler: handler,
		wake:    make(chan struct{}, 1),
	}

	l.mu.Lock()
	s.id = l.nextSub
	l.nextSub++
	l.subs[s.id] = s
	s.queue = userMessages(l.events)
	l.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	go s.run()
	return s
}

func (l *eventLog) remove(id int) {
	l.mu.Lock()
	delete(l.subs, id)
	l.mu.Unlock()
}

func userMessages(events []Event) []Message {
	var out []Message
	for _, e := range events {
		m, ok := e.AsMessage()
		if ok && m.Role == RoleUser {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// subscription delivers messages to one handler on its own goroutine so
// committers never block on handler work.
type subscription struct {
	log     *eventLog
	id      int
	ctx     context.Context
	cancel  context.CancelFunc
	handler MessageHandler

	mu    sync.Mutex
	queue []Message
	wake  chan struct{}
	once  sync.Once
}

func (s *subscription) push(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, msgs...)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			msg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			if s.ctx.Err() != nil {
				return
			}
			s.deliver(msg)
		}
	}
}

func (s *subscription) deliver(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("store subscriber panicked", "store_id", msg.StoreID, "message_id", msg.ID, "panic", r)
		}
	}()
	s.handler(s.ctx, msg)
}

// Unsubscribe stops delivery. Messages still queued are dropped.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		s.log.remove(s.id)
	})
}
