package processor

import (
	"context"
	"log/slog"

	"github.com/KafClaw/wsagent/internal/agent"
	"github.com/KafClaw/wsagent/internal/store"
)

// recorder writes the loop's tool activity back into the conversation as it
// happens.
type recorder struct {
	p       *Processor
	ctx     context.Context
	store   store.Store
	msg     store.Message
	traceID string
}

func (r *recorder) commit(typ store.EventType, payload any) error {
	e, err := store.NewEvent(r.msg.StoreID, r.msg.ConversationID, typ, payload)
	if err != nil {
		return err
	}
	e.TraceID = r.traceID
	return r.store.Commit(r.ctx, e)
}

func (r *recorder) onEvent(e agent.Event) {
	switch e.Kind {
	case agent.EventToolsExecuting:
		for _, tc := range e.ToolCalls {
			r.record(store.EventToolCallRecorded, store.ToolCallPayload{
				CallID:    tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
	case agent.EventToolsComplete:
		for _, tc := range e.ToolCalls {
			r.record(store.EventToolResultRecorded, store.ToolResultPayload{
				CallID: tc.ID,
				Name:   tc.Name,
				Result: e.Results[tc.ID],
			})
		}
	case agent.EventError:
		slog.Debug("Agent loop error", "iteration", e.Iteration, "error", e.Err,
			"store_id", r.msg.StoreID, "conversation_id", r.msg.ConversationID)
	}
}

// record commits one tool event. A failed commit is logged and counted but
// does not stop the run.
func (r *recorder) record(typ store.EventType, payload any) {
	if err := r.commit(typ, payload); err != nil {
		slog.Warn("Failed to record tool event", "type", typ, "error", err,
			"store_id", r.msg.StoreID, "conversation_id", r.msg.ConversationID, "trace_id", r.traceID)
		r.p.recordError(r.msg.StoreID, err)
	}
}
