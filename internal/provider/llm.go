package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultCallTimeout bounds a single upstream attempt.
const DefaultCallTimeout = 60 * time.Second

// CallRequest is one model turn as seen by the agent loop.
type CallRequest struct {
	Messages   []Message
	Board      *BoardContext
	Model      string
	Worker     *WorkerContext
	Navigation *NavigationContext
	Tools      []ToolDefinition
}

// Response is the normalized model output.
type Response struct {
	Message   string
	ToolCalls []ToolCall
	Usage     Usage
	Attempts  int
}

// LLM wraps a ChatProvider with prompt composition, a per-attempt timeout
// and the retry policy.
type LLM struct {
	chat        ChatProvider
	policy      RetryPolicy
	timeout     time.Duration
	maxTokens   int
	temperature float64
}

// Option configures an LLM.
type Option func(*LLM)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(l *LLM) { l.policy = p }
}

// WithTimeout sets the per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(l *LLM) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithSampling sets max tokens and temperature for every call.
func WithSampling(maxTokens int, temperature float64) Option {
	return func(l *LLM) {
		l.maxTokens = maxTokens
		l.temperature = temperature
	}
}

// WithOnRetry installs a retry observer on the current policy.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(l *LLM) { l.policy.OnRetry = fn }
}

// NewLLM creates an LLM over chat.
func NewLLM(chat ChatProvider, opts ...Option) *LLM {
	l := &LLM{
		chat:    chat,
		policy:  DefaultRetryPolicy(),
		timeout: DefaultCallTimeout,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// DefaultModel returns the underlying provider's default model.
func (l *LLM) DefaultModel() string { return l.chat.DefaultModel() }

// Call composes the system prompt, sends the request and normalizes the
// answer. Transient failures are retried per the policy; the last error is
// returned once retries are exhausted.
func (l *LLM) Call(ctx context.Context, req CallRequest) (*Response, error) {
	model := req.Model
	if model == "" {
		model = l.chat.DefaultModel()
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: BuildSystemPrompt(req)})
	messages = append(messages, req.Messages...)

	chatReq := &ChatRequest{
		Messages:    messages,
		Tools:       req.Tools,
		Model:       model,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	}

	attempts := 0
	resp, err := Retry(ctx, l.policy, func(ctx context.Context, attempt int) (*ChatResponse, error) {
		attempts = attempt
		return l.attempt(ctx, chatReq)
	})
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) && pe.Kind == KindTerminal {
			slog.Warn("non-retryable LLM error, failing immediately", "model", model, "status", pe.StatusCode, "attempts", attempts)
		}
		return nil, err
	}

	return &Response{
		Message:   resp.Content,
		ToolCalls: resp.ToolCalls,
		Usage:     resp.Usage,
		Attempts:  attempts,
	}, nil
}

func (l *LLM) attempt(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	actx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.chat.Chat(actx, req)
	if err == nil {
		return resp, nil
	}
	// Caller cancellation is never retried.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(actx.Err(), context.DeadlineExceeded) {
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("attempt timed out after %s: %w", l.timeout, err)}
	}
	return nil, classifyTransportError(err)
}
