// Package tools provides the tool framework and the board tools the agent
// can call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/KafClaw/wsagent/internal/provider"
	"github.com/KafClaw/wsagent/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// CallContext identifies where a tool call originates.
type CallContext struct {
	StoreID        string
	ConversationID string
	MessageID      string
	WorkerID       string
	TraceID        string
	// Store is the open workspace handle tools write to.
	Store store.Store
}

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Definition returns the tool name, description and input schema.
	Definition() mcp.Tool
	// Handle runs the tool. Validation failures are reported as an error
	// result; a returned error means the tool could not run at all.
	Handle(ctx context.Context, call CallContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Registry manages tool registration.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry, replacing any tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition().Name] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Definitions returns tool definitions in OpenAI function format, sorted by
// name. Names listed in skip are left out.
func (r *Registry) Definitions(skip ...string) []provider.ToolDefinition {
	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipped[name] = true
	}

	var result []provider.ToolDefinition
	for _, name := range r.Names() {
		if skipped[name] {
			continue
		}
		tool, ok := r.Get(name)
		if !ok {
			continue
		}
		def := tool.Definition()
		result = append(result, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schemaMap(def),
			},
		})
	}
	return result
}

// schemaMap converts the mcp input schema into the plain JSON Schema object
// chat APIs expect.
func schemaMap(def mcp.Tool) map[string]any {
	var raw []byte
	var err error
	if def.RawInputSchema != nil {
		raw = def.RawInputSchema
	} else {
		raw, err = json.Marshal(def.InputSchema)
	}
	out := map[string]any{}
	if err == nil {
		err = json.Unmarshal(raw, &out)
	}
	if err != nil || len(out) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// newRequest builds the mcp request a tool handler receives.
func newRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

// jsonResult returns v as structured content with a JSON text fallback.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	res, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return res, nil
}
