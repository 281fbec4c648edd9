package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Result is the JSON object returned to the model for one tool call. It
// always carries a boolean "success".
type Result map[string]any

// Success reports the "success" field.
func (r Result) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// ErrorResult builds the failure shape the model sees for a failed call.
func ErrorResult(err error) Result {
	return Result{"success": false, "error": err.Error()}
}

// UnknownToolError is returned when a call names no registered tool.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// ExecutionError wraps a failure raised while a tool was running.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Dispatcher routes tool calls to registered tools.
type Dispatcher struct {
	registry *Registry
	disabled map[string]bool
}

// NewDispatcher creates a dispatcher over registry. Tools named in disabled
// stay registered but answer every call with a failure result.
func NewDispatcher(registry *Registry, disabled []string) *Dispatcher {
	d := &Dispatcher{registry: registry, disabled: make(map[string]bool, len(disabled))}
	for _, name := range disabled {
		name = strings.TrimSpace(name)
		if name != "" {
			d.disabled[name] = true
		}
	}
	return d
}

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Disabled reports whether name is disabled.
func (d *Dispatcher) Disabled(name string) bool { return d.disabled[name] }

// Dispatch runs one tool call. An unknown name yields *UnknownToolError and
// a tool that fails to run yields *ExecutionError; both are for the caller
// to fold into a failure Result. Validation failures reported by the tool
// itself come back as a Result with success false and no error.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any, call CallContext) (Result, error) {
	tool, ok := d.registry.Get(name)
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	if d.disabled[name] {
		slog.Info("Tool call rejected: disabled", "tool", name, "store_id", call.StoreID, "conversation_id", call.ConversationID)
		return Result{"success": false, "error": fmt.Sprintf("tool %s is disabled", name)}, nil
	}

	res, err := d.handle(ctx, tool, name, args, call)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Err: err}
	}
	return toResult(res), nil
}

func (d *Dispatcher) handle(ctx context.Context, tool Tool, name string, args map[string]any, call CallContext) (res *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	res, err = tool.Handle(ctx, call, newRequest(name, args))
	if err == nil && res == nil {
		err = fmt.Errorf("tool returned no result")
	}
	return res, err
}

// toResult flattens an mcp result into the Result shape.
func toResult(res *mcp.CallToolResult) Result {
	text := resultText(res)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return Result{"success": false, "error": text}
	}

	out := Result{}
	if res.StructuredContent != nil {
		if raw, err := json.Marshal(res.StructuredContent); err == nil {
			var m map[string]any
			if json.Unmarshal(raw, &m) == nil {
				for k, v := range m {
					out[k] = v
				}
			} else {
				out["result"] = res.StructuredContent
			}
		}
	} else if text != "" {
		out["result"] = text
	}
	out["success"] = true
	return out
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
