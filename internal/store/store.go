package store

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store handle.
var ErrClosed = errors.New("store: closed")

// MessageHandler receives user chat messages. Calls for one subscription are
// sequential and ordered by creation time.
type MessageHandler func(ctx context.Context, msg Message)

// Subscription is an active user-message subscription.
type Subscription interface {
	Unsubscribe()
}

// Store is an open handle on one workspace's event log.
type Store interface {
	ID() string
	// SubscribeUserMessages replays existing user messages and then delivers
	// new ones as they are committed.
	SubscribeUserMessages(ctx context.Context, handler MessageHandler) (Subscription, error)
	// Commit appends events to the workspace log.
	Commit(ctx context.Context, events ...Event) error
	// History returns the last limit chat events of a conversation, oldest
	// first. limit <= 0 returns everything.
	History(ctx context.Context, conversationID string, limit int) ([]Event, error)
	// Board returns the current board projection.
	Board(ctx context.Context) (*Board, error)
	Close() error
}

// Opener opens store handles by workspace id.
type Opener interface {
	Open(ctx context.Context, storeID string) (Store, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, storeID string) (Store, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, storeID string) (Store, error) {
	return f(ctx, storeID)
}
