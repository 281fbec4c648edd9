package provider

import (
	"fmt"
	"strings"
)

const defaultSystemPrompt = `You are the workspace assistant. You help the team manage their board and answer questions about ongoing work.
Use the available tools to read or change the board instead of guessing. When the request is complete, reply with a short summary of what you did.`

// WorkerContext selects a worker persona. A non-empty SystemPrompt replaces
// the default prompt.
type WorkerContext struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// NavigationContext describes where the user currently is in the UI.
type NavigationContext struct {
	View    string `json:"view,omitempty"`
	BoardID string `json:"boardId,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
}

// BoardContext is a snapshot of the workspace board.
type BoardContext struct {
	ID    string      `json:"id"`
	Title string      `json:"title,omitempty"`
	Tasks []BoardTask `json:"tasks,omitempty"`
}

// BoardTask is one card on the board.
type BoardTask struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Assignee string `json:"assignee,omitempty"`
}

// BuildSystemPrompt composes the system message for a call.
func BuildSystemPrompt(req CallRequest) string {
	var sb strings.Builder

	if req.Worker != nil && strings.TrimSpace(req.Worker.SystemPrompt) != "" {
		sb.WriteString(strings.TrimSpace(req.Worker.SystemPrompt))
	} else {
		sb.WriteString(defaultSystemPrompt)
		if req.Worker != nil && req.Worker.Name != "" {
			fmt.Fprintf(&sb, "\nYou are acting as the worker %q.", req.Worker.Name)
		}
	}

	if len(req.Tools) > 0 {
		sb.WriteString("\n\n## Available tools\n")
		for _, t := range req.Tools {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Function.Name, t.Function.Description)
		}
	}

	if nav := req.Navigation; nav != nil && (nav.View != "" || nav.BoardID != "" || nav.TaskID != "") {
		sb.WriteString("\n## Current location\n")
		if nav.View != "" {
			fmt.Fprintf(&sb, "- view: %s\n", nav.View)
		}
		if nav.BoardID != "" {
			fmt.Fprintf(&sb, "- board: %s\n", nav.BoardID)
		}
		if nav.TaskID != "" {
			fmt.Fprintf(&sb, "- task: %s\n", nav.TaskID)
		}
	}

	if b := req.Board; b != nil {
		sb.WriteString("\n## Board")
		if b.Title != "" {
			fmt.Fprintf(&sb, " %q", b.Title)
		}
		sb.WriteString("\n")
		if len(b.Tasks) == 0 {
			sb.WriteString("(no tasks)\n")
		}
		for _, t := range b.Tasks {
			fmt.Fprintf(&sb, "- [%s] %s (id: %s", t.Status, t.Title, t.ID)
			if t.Assignee != "" {
				fmt.Fprintf(&sb, ", assignee: %s", t.Assignee)
			}
			sb.WriteString(")\n")
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}
