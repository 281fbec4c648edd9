// Package store defines the workspace event-log contract, its Kafka and
// in-memory backends, and the Manager that keeps one open handle per
// workspace.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names an entry in a workspace log.
type EventType string

// Workspace event types.
const (
	EventMessageCreated     EventType = "chat.message.created"
	EventToolCallRecorded   EventType = "chat.tool_call.recorded"
	EventToolResultRecorded EventType = "chat.tool_result.recorded"
	EventTaskCreated        EventType = "board.task.created"
	EventTaskUpdated        EventType = "board.task.updated"
)

// Message roles carried by chat.message.created.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Event is one immutable entry in a workspace log.
type Event struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"type"`
	StoreID        string          `json:"storeId"`
	ConversationID string          `json:"conversationId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	TraceID        string          `json:"traceId,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// MessagePayload is the body of chat.message.created.
type MessagePayload struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	AuthorID string `json:"authorId,omitempty"`
	WorkerID string `json:"workerId,omitempty"`
	View     string `json:"view,omitempty"`
	BoardID  string `json:"boardId,omitempty"`
	TaskID   string `json:"taskId,omitempty"`
}

// ToolCallPayload is the body of chat.tool_call.recorded.
type ToolCallPayload struct {
	CallID    string         `json:"callId"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResultPayload is the body of chat.tool_result.recorded.
type ToolResultPayload struct {
	CallID string         `json:"callId"`
	Name   string         `json:"name"`
	Result map[string]any `json:"result"`
}

// TaskPayload is the body of board.task.created and board.task.updated.
// On update, empty fields leave the current value unchanged.
type TaskPayload struct {
	TaskID      string `json:"taskId"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(storeID, conversationID string, typ EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:             uuid.NewString(),
		Type:           typ,
		StoreID:        storeID,
		ConversationID: conversationID,
		CreatedAt:      time.Now().UTC(),
		Payload:        raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s event %s: %w", e.Type, e.ID, err)
	}
	return nil
}

// Message is a chat message as delivered to subscribers.
type Message struct {
	ID             string
	StoreID        string
	ConversationID string
	CreatedAt      time.Time
	TraceID        string
	MessagePayload
}

// AsMessage returns the chat message carried by e, if any.
func (e Event) AsMessage() (Message, bool) {
	if e.Type != EventMessageCreated {
		return Message{}, false
	}
	var p MessagePayload
	if err := e.Decode(&p); err != nil {
		return Message{}, false
	}
	return Message{
		ID:             e.ID,
		StoreID:        e.StoreID,
		ConversationID: e.ConversationID,
		CreatedAt:      e.CreatedAt,
		TraceID:        e.TraceID,
		MessagePayload: p,
	}, true
}

// IsUserMessage reports whether e is a chat message authored by a user.
func (e Event) IsUserMessage() bool {
	m, ok := e.AsMessage()
	return ok && m.Role == RoleUser
}
