package provider

import (
	"strings"
	"testing"
)

func TestBuildSystemPromptDefault(t *testing.T) {
	got := BuildSystemPrompt(CallRequest{
		Tools: []ToolDefinition{
			{Type: "function", Function: FunctionDef{Name: "get_board", Description: "Read the board"}},
			{Type: "function", Function: FunctionDef{Name: "create_task", Description: "Create a task"}},
		},
		Navigation: &NavigationContext{View: "board", BoardID: "b1"},
		Board: &BoardContext{
			ID:    "b1",
			Title: "Launch",
			Tasks: []BoardTask{{ID: "t1", Title: "Write docs", Status: "todo", Assignee: "sam"}},
		},
	})

	for _, want := range []string{
		"workspace assistant",
		"- get_board: Read the board",
		"- create_task: Create a task",
		"- view: board",
		"- board: b1",
		`## Board "Launch"`,
		"- [todo] Write docs (id: t1, assignee: sam)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestBuildSystemPromptWorker(t *testing.T) {
	custom := BuildSystemPrompt(CallRequest{Worker: &WorkerContext{ID: "w", SystemPrompt: "  Custom persona.  "}})
	if custom != "Custom persona." {
		t.Errorf("expected worker prompt verbatim, got %q", custom)
	}

	named := BuildSystemPrompt(CallRequest{Worker: &WorkerContext{ID: "w", Name: "Planner"}})
	if !strings.Contains(named, `worker "Planner"`) || !strings.Contains(named, "workspace assistant") {
		t.Errorf("expected default prompt with worker name, got %q", named)
	}
}

func TestBuildSystemPromptEmptyBoard(t *testing.T) {
	got := BuildSystemPrompt(CallRequest{Board: &BoardContext{ID: "b"}})
	if !strings.Contains(got, "(no tasks)") {
		t.Errorf("expected empty board marker, got %q", got)
	}
	if strings.Contains(got, "Current location") {
		t.Errorf("navigation section should be omitted, got %q", got)
	}
}
