// Package agent implements the core agent loop.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/KafClaw/wsagent/internal/provider"
	"github.com/KafClaw/wsagent/internal/tools"
)

// DefaultMaxIterations bounds a run when the caller sets no limit.
const DefaultMaxIterations = 10

// Caller performs one model turn. *provider.LLM implements it.
type Caller interface {
	Call(ctx context.Context, req provider.CallRequest) (*provider.Response, error)
}

// Dispatcher executes tool calls. *tools.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any, call tools.CallContext) (tools.Result, error)
}

// LoopOptions contains configuration for the agent loop.
type LoopOptions struct {
	Caller        Caller
	Dispatcher    Dispatcher
	Tools         []provider.ToolDefinition
	Model         string
	MaxIterations int
	Board         *provider.BoardContext
	Worker        *provider.WorkerContext
	Navigation    *provider.NavigationContext
	// Call is passed to every tool dispatch.
	Call tools.CallContext
	// OnEvent receives lifecycle events synchronously, in order.
	OnEvent func(Event)
}

// Outcome summarizes a finished run.
type Outcome struct {
	Message    string
	Iterations int
	ToolCalls  int
	// Exhausted is set when the run stopped at the iteration cap while the
	// model was still requesting tools.
	Exhausted bool
}

// Loop drives the model/tool cycle for one conversation. History is
// instance state: each Run appends to it.
type Loop struct {
	caller        Caller
	dispatcher    Dispatcher
	tools         []provider.ToolDefinition
	model         string
	maxIterations int
	board         *provider.BoardContext
	worker        *provider.WorkerContext
	navigation    *provider.NavigationContext
	call          tools.CallContext
	onEvent       func(Event)

	mu      sync.Mutex
	history []provider.Message
}

// NewLoop creates a new agent loop.
func NewLoop(opts LoopOptions) *Loop {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Loop{
		caller:        opts.Caller,
		dispatcher:    opts.Dispatcher,
		tools:         opts.Tools,
		model:         opts.Model,
		maxIterations: maxIter,
		board:         opts.Board,
		worker:        opts.Worker,
		navigation:    opts.Navigation,
		call:          opts.Call,
		onEvent:       opts.OnEvent,
	}
}

// Seed appends prior conversation turns ahead of the next prompt.
func (l *Loop) Seed(messages ...provider.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, messages...)
}

// ClearHistory drops all history.
func (l *Loop) ClearHistory() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = nil
}

// MessageCount returns the number of history entries.
func (l *Loop) MessageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// History returns a copy of the history.
func (l *Loop) History() []provider.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]provider.Message, len(l.history))
	copy(out, l.history)
	return out
}

func (l *Loop) appendHistory(msgs ...provider.Message) {
	l.mu.Lock()
	l.history = append(l.history, msgs...)
	l.mu.Unlock()
}

func (l *Loop) emit(e Event) {
	if l.onEvent != nil {
		l.onEvent(e)
	}
}

// Run appends prompt as a user turn and iterates until the model answers
// without tool calls or the iteration cap is reached. A provider error ends
// the run immediately and is returned.
func (l *Loop) Run(ctx context.Context, prompt string) (*Outcome, error) {
	if strings.TrimSpace(prompt) != "" {
		l.appendHistory(provider.Message{Role: provider.RoleUser, Content: prompt})
	}

	out := &Outcome{}
	for iteration := 1; ; iteration++ {
		out.Iterations = iteration
		l.emit(Event{Kind: EventIterationStart, Iteration: iteration})

		llmStart := time.Now()
		resp, err := l.caller.Call(ctx, provider.CallRequest{
			Messages:   l.History(),
			Board:      l.board,
			Model:      l.model,
			Worker:     l.worker,
			Navigation: l.navigation,
			Tools:      l.tools,
		})
		if err != nil {
			l.emit(Event{Kind: EventError, Iteration: iteration, Err: err})
			return out, fmt.Errorf("LLM call failed at iteration %d: %w", iteration, err)
		}
		l.emit(Event{Kind: EventIterationComplete, Iteration: iteration, Message: resp.Message, ToolCalls: resp.ToolCalls})
		slog.Debug("LLM turn complete",
			"iteration", iteration,
			"tool_calls", len(resp.ToolCalls),
			"attempts", resp.Attempts,
			"total_tokens", resp.Usage.TotalTokens,
			"duration_ms", time.Since(llmStart).Milliseconds(),
			"store_id", l.call.StoreID,
			"conversation_id", l.call.ConversationID)

		if len(resp.ToolCalls) == 0 {
			if resp.Message != "" {
				l.appendHistory(provider.Message{Role: provider.RoleAssistant, Content: resp.Message})
				out.Message = resp.Message
				l.emit(Event{Kind: EventFinalMessage, Iteration: iteration, Message: resp.Message})
			}
			l.emit(Event{Kind: EventComplete, Iteration: iteration})
			return out, nil
		}

		calls := uniqueCallIDs(resp.ToolCalls, iteration)
		l.appendHistory(provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Message,
			ToolCalls: calls,
		})
		l.emit(Event{Kind: EventToolsExecuting, Iteration: iteration, ToolCalls: calls})

		results := l.executeTools(ctx, calls)
		for _, tc := range calls {
			l.appendHistory(provider.Message{
				Role:       provider.RoleTool,
				Content:    encodeResult(results[tc.ID]),
				ToolCallID: tc.ID,
			})
		}
		out.ToolCalls += len(calls)
		l.emit(Event{Kind: EventToolsComplete, Iteration: iteration, ToolCalls: calls, Results: results})

		if iteration >= l.maxIterations {
			slog.Warn("Agent loop hit iteration cap",
				"max_iterations", l.maxIterations,
				"store_id", l.call.StoreID,
				"conversation_id", l.call.ConversationID)
			out.Iterations = l.maxIterations
			out.Exhausted = true
			l.emit(Event{Kind: EventComplete, Iteration: l.maxIterations})
			return out, nil
		}
	}
}

// uniqueCallIDs returns a copy of calls in which every ID is set and
// distinct. Results and tool history entries are keyed by call ID, and some
// upstream shapes omit or repeat it.
func uniqueCallIDs(calls []provider.ToolCall, iteration int) []provider.ToolCall {
	out := make([]provider.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, tc := range calls {
		if tc.ID == "" || seen[tc.ID] {
			tc.ID = fmt.Sprintf("call_%d_%d", iteration, i+1)
			for seen[tc.ID] {
				tc.ID += "_"
			}
		}
		seen[tc.ID] = true
		out[i] = tc
	}
	return out
}

// executeTools runs each call in order. A failing call is captured as a
// failure result and never stops its siblings.
func (l *Loop) executeTools(ctx context.Context, calls []provider.ToolCall) map[string]tools.Result {
	results := make(map[string]tools.Result, len(calls))
	for _, tc := range calls {
		if l.dispatcher == nil {
			results[tc.ID] = tools.Result{"success": false, "error": "no tool dispatcher configured"}
			continue
		}
		toolStart := time.Now()
		res, err := l.dispatcher.Dispatch(ctx, tc.Name, tc.Arguments, l.call)
		if err != nil {
			slog.Warn("Tool call failed", "tool", tc.Name, "call_id", tc.ID, "error", err,
				"store_id", l.call.StoreID, "conversation_id", l.call.ConversationID)
			res = tools.ErrorResult(err)
		}
		if res == nil {
			res = tools.Result{"success": false, "error": "tool returned no result"}
		}
		results[tc.ID] = res
		slog.Debug("Tool executed", "name", tc.Name, "success", res.Success(), "duration_ms", time.Since(toolStart).Milliseconds())
	}
	return results
}

func encodeResult(r tools.Result) string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}
