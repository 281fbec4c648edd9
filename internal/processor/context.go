package processor

import (
	"github.com/KafClaw/wsagent/internal/provider"
	"github.com/KafClaw/wsagent/internal/store"
)

// historyMessages turns prior chat events into model turns. The message
// being processed and anything recorded after it are left out. Tool events
// are skipped: replaying them without the originating assistant turn is
// rejected by chat APIs.
func historyMessages(events []store.Event, current store.Message) []provider.Message {
	var out []provider.Message
	for _, e := range events {
		if e.ID == current.ID {
			break
		}
		if e.CreatedAt.After(current.CreatedAt) {
			break
		}
		m, ok := e.AsMessage()
		if !ok || m.Content == "" {
			continue
		}
		switch m.Role {
		case store.RoleUser:
			out = append(out, provider.Message{Role: provider.RoleUser, Content: m.Content})
		case store.RoleAssistant:
			out = append(out, provider.Message{Role: provider.RoleAssistant, Content: m.Content})
		}
	}
	return out
}

func boardContext(b *store.Board) *provider.BoardContext {
	if b == nil {
		return nil
	}
	bc := &provider.BoardContext{ID: b.StoreID, Title: "Workspace board"}
	for _, t := range b.Tasks {
		bc.Tasks = append(bc.Tasks, provider.BoardTask{
			ID:       t.ID,
			Title:    t.Title,
			Status:   t.Status,
			Assignee: t.Assignee,
		})
	}
	return bc
}

func navigationContext(m store.Message) *provider.NavigationContext {
	if m.View == "" && m.BoardID == "" && m.TaskID == "" {
		return nil
	}
	return &provider.NavigationContext{View: m.View, BoardID: m.BoardID, TaskID: m.TaskID}
}
