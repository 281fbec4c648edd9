package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIBase = "https://api.openai.com/v1"
	defaultModel   = "anthropic/claude-sonnet-4-5"
	// maxResponseBytes bounds how much of an upstream body is read.
	maxResponseBytes = 8 << 20
)

// OpenAIProvider talks to any /chat/completions endpoint (OpenAI,
// OpenRouter, LiteLLM and similar relays). Each Chat call is exactly one
// HTTP attempt; retries live in LLM.
type OpenAIProvider struct {
	apiKey       string
	apiBase      string
	defaultModel string
	httpClient   *http.Client
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(apiKey, apiBase, model string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAIProvider{
		apiKey:       apiKey,
		apiBase:      strings.TrimSuffix(apiBase, "/"),
		defaultModel: model,
		// Per-attempt deadlines come from the caller's context; this is
		// only a backstop for callers that pass none.
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// DefaultModel returns the configured default model.
func (p *OpenAIProvider) DefaultModel() string {
	return p.defaultModel
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type completionRequest struct {
	Model       string           `json:"model"`
	Messages    []wireMessage    `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
}

func (p *OpenAIProvider) buildRequest(req *ChatRequest) completionRequest {
	out := completionRequest{
		Model:       req.Model,
		Messages:    toWireMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if out.Model == "" {
		out.Model = p.defaultModel
	}
	if len(req.Tools) > 0 {
		out.Tools = req.Tools
		out.ToolChoice = "auto"
	}
	return out
}

// Chat performs one completion attempt. Non-2xx answers become a *Error
// classified by status; transport failures are classified by LLM.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	payload, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, &Error{Kind: KindTerminal, Err: fmt.Errorf("encode completion request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindTerminal, Err: fmt.Errorf("build completion request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", p.apiBase, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read completion body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, StatusError(resp.StatusCode, string(body))
	}

	parsed, err := ParseChatBody(body)
	if err != nil {
		return nil, &Error{Kind: KindTerminal, Err: err}
	}
	return parsed, nil
}

// toWireMessages encodes history for the API. Tool call arguments travel
// as a JSON string.
func toWireMessages(messages []Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wm := wireMessage{Role: msg.Role, Content: msg.Content, ToolCallID: msg.ToolCallID}
		for _, tc := range msg.ToolCalls {
			args := "{}"
			if len(tc.Arguments) > 0 {
				if b, err := json.Marshal(tc.Arguments); err == nil {
					args = string(b)
				}
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunctionCall{Name: tc.Name, Arguments: args},
			})
		}
		out = append(out, wm)
	}
	return out
}
