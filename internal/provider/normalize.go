package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseChatBody normalizes an upstream response body into a ChatResponse.
// Three shapes are understood: OpenAI-style choices, Anthropic-style content
// blocks, and a flat {message, tool_calls|toolCalls} envelope used by relay
// gateways.
func ParseChatBody(body []byte) (*ChatResponse, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	switch {
	case len(env.Choices) > 0:
		return env.fromChoices()
	case isJSONArray(env.Content):
		return env.fromContentBlocks()
	case len(env.Message) > 0 || len(env.ToolCalls) > 0 || len(env.ToolCallsCamel) > 0:
		return env.fromFlat()
	}
	return nil, fmt.Errorf("no choices in response")
}

type envelope struct {
	Choices []openAIChoice `json:"choices"`

	// Anthropic messages API.
	Content    json.RawMessage `json:"content"`
	StopReason string          `json:"stop_reason"`

	// Flat relay envelope.
	Message        json.RawMessage `json:"message"`
	ToolCalls      []flatToolCall  `json:"tool_calls"`
	ToolCallsCamel []flatToolCall  `json:"toolCalls"`

	Usage rawUsage `json:"usage"`
}

type rawUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
}

func (u rawUsage) normalize() Usage {
	out := Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if out.PromptTokens == 0 {
		out.PromptTokens = u.InputTokens
	}
	if out.CompletionTokens == 0 {
		out.CompletionTokens = u.OutputTokens
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []flatToolCall `json:"tool_calls,omitempty"`
}

// flatToolCall accepts both the OpenAI {id, function:{name, arguments}} form
// and the flattened {id, name, arguments} form. Arguments may be a JSON
// object or a JSON-encoded string.
type flatToolCall struct {
	ID        string          `json:"id"`
	Type      string          `json:"type,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Function  *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function,omitempty"`
}

func (tc flatToolCall) toToolCall() ToolCall {
	name, args := tc.Name, tc.Arguments
	if tc.Function != nil {
		if tc.Function.Name != "" {
			name = tc.Function.Name
		}
		if len(tc.Function.Arguments) > 0 {
			args = tc.Function.Arguments
		}
	}
	return ToolCall{ID: tc.ID, Name: name, Arguments: decodeArguments(args)}
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (e *envelope) fromChoices() (*ChatResponse, error) {
	choice := e.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        e.Usage.normalize(),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, tc.toToolCall())
	}
	return out, nil
}

func (e *envelope) fromContentBlocks() (*ChatResponse, error) {
	var blocks []contentBlock
	if err := json.Unmarshal(e.Content, &blocks); err != nil {
		return nil, fmt.Errorf("parse content blocks: %w", err)
	}
	out := &ChatResponse{FinishReason: e.StopReason, Usage: e.Usage.normalize()}
	var text []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				text = append(text, b.Text)
			}
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: decodeArguments(b.Input),
			})
		}
	}
	out.Content = strings.Join(text, "\n")
	return out, nil
}

func (e *envelope) fromFlat() (*ChatResponse, error) {
	out := &ChatResponse{Usage: e.Usage.normalize()}
	calls := e.ToolCalls
	if len(calls) == 0 {
		calls = e.ToolCallsCamel
	}

	if len(e.Message) > 0 {
		var text string
		if err := json.Unmarshal(e.Message, &text); err == nil {
			out.Content = text
		} else {
			var msg openAIMessage
			if err := json.Unmarshal(e.Message, &msg); err != nil {
				return nil, fmt.Errorf("parse message: %w", err)
			}
			out.Content = msg.Content
			if len(calls) == 0 {
				calls = msg.ToolCalls
			}
		}
	}
	for _, tc := range calls {
		out.ToolCalls = append(out.ToolCalls, tc.toToolCall())
	}
	return out, nil
}

// decodeArguments accepts an object or a string holding an object. Anything
// unparseable is preserved under "raw".
func decodeArguments(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return map[string]any{"raw": string(raw)}
		}
		if strings.TrimSpace(s) == "" {
			return map[string]any{}
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return map[string]any{"raw": s}
		}
		return args
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return args
}

func isJSONArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}
