package agent

import (
	"github.com/KafClaw/wsagent/internal/provider"
	"github.com/KafClaw/wsagent/internal/tools"
)

// EventKind names a loop lifecycle event.
type EventKind string

const (
	EventIterationStart    EventKind = "iteration_start"
	EventIterationComplete EventKind = "iteration_complete"
	EventToolsExecuting    EventKind = "tools_executing"
	EventToolsComplete     EventKind = "tools_complete"
	EventFinalMessage      EventKind = "final_message"
	EventComplete          EventKind = "complete"
	EventError             EventKind = "error"
)

// Event is emitted by Loop.Run. Fields beyond Kind and Iteration are set
// only where they apply: Message on IterationComplete and FinalMessage,
// ToolCalls on IterationComplete, ToolsExecuting and ToolsComplete, Results
// on ToolsComplete and Err on Error. On the tool events every call carries a
// non-empty ID unique within its turn, and Results is keyed by that ID.
type Event struct {
	Kind      EventKind
	Iteration int
	Message   string
	ToolCalls []provider.ToolCall
	Results   map[string]tools.Result
	Err       error
}
