package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// scriptedChat replays a fixed sequence of outcomes.
type scriptedChat struct {
	steps []func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	calls int32
	last  *ChatRequest
}

func (s *scriptedChat) DefaultModel() string { return "scripted-model" }

func (s *scriptedChat) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	n := atomic.AddInt32(&s.calls, 1)
	s.last = req
	step := s.steps[len(s.steps)-1]
	if int(n) <= len(s.steps) {
		step = s.steps[n-1]
	}
	return step(ctx, req)
}

func respond(text string) func(context.Context, *ChatRequest) (*ChatResponse, error) {
	return func(context.Context, *ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{Content: text}, nil
	}
}

func fail(err error) func(context.Context, *ChatRequest) (*ChatResponse, error) {
	return func(context.Context, *ChatRequest) (*ChatResponse, error) {
		return nil, err
	}
}

func TestLLMCallRetriesConnectTimeouts(t *testing.T) {
	chat := &scriptedChat{steps: []func(context.Context, *ChatRequest) (*ChatResponse, error){
		fail(timeoutErr{}),
		fail(timeoutErr{}),
		respond("finally"),
	}}
	llm := NewLLM(chat, WithRetryPolicy(fastPolicy()))

	resp, err := llm.Call(context.Background(), CallRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Message != "finally" {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if chat.calls != 3 || resp.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got calls=%d attempts=%d", chat.calls, resp.Attempts)
	}
}

func TestLLMCallDoesNotRetryClientErrors(t *testing.T) {
	chat := &scriptedChat{steps: []func(context.Context, *ChatRequest) (*ChatResponse, error){
		fail(StatusError(400, "invalid")),
	}}
	llm := NewLLM(chat, WithRetryPolicy(fastPolicy()))

	_, err := llm.Call(context.Background(), CallRequest{})
	if chat.calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", chat.calls)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindTerminal || pe.StatusCode != 400 {
		t.Fatalf("expected terminal 400, got %v", err)
	}
}

func TestLLMCallPerAttemptTimeout(t *testing.T) {
	chat := &scriptedChat{steps: []func(context.Context, *ChatRequest) (*ChatResponse, error){
		func(ctx context.Context, _ *ChatRequest) (*ChatResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		respond("second try"),
	}}
	llm := NewLLM(chat, WithRetryPolicy(fastPolicy()), WithTimeout(20*time.Millisecond))

	resp, err := llm.Call(context.Background(), CallRequest{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Message != "second try" || chat.calls != 2 {
		t.Fatalf("expected success on second attempt, got %q after %d", resp.Message, chat.calls)
	}
}

func TestLLMCallCallerCancellationNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chat := &scriptedChat{steps: []func(context.Context, *ChatRequest) (*ChatResponse, error){
		func(ctx context.Context, _ *ChatRequest) (*ChatResponse, error) {
			cancel()
			return nil, ctx.Err()
		},
	}}
	llm := NewLLM(chat, WithRetryPolicy(fastPolicy()))

	_, err := llm.Call(ctx, CallRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if chat.calls != 1 {
		t.Fatalf("expected one attempt, got %d", chat.calls)
	}
}

func TestLLMCallInjectsSystemPromptAndModel(t *testing.T) {
	chat := &scriptedChat{steps: []func(context.Context, *ChatRequest) (*ChatResponse, error){respond("ok")}}
	var retried int32
	llm := NewLLM(chat, WithSampling(256, 0.2), WithOnRetry(func(int, error, time.Duration) { atomic.AddInt32(&retried, 1) }))

	_, err := llm.Call(context.Background(), CallRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
		Worker:   &WorkerContext{ID: "w1", SystemPrompt: "You are the release bot."},
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	req := chat.last
	if req.Model != "scripted-model" {
		t.Errorf("expected default model, got %q", req.Model)
	}
	if req.MaxTokens != 256 || req.Temperature != 0.2 {
		t.Errorf("sampling not applied: %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem {
		t.Fatalf("expected system + user messages, got %+v", req.Messages)
	}
	if !strings.HasPrefix(req.Messages[0].Content, "You are the release bot.") {
		t.Errorf("worker prompt not used: %q", req.Messages[0].Content)
	}
	if retried != 0 {
		t.Errorf("unexpected retries: %d", retried)
	}
}

func TestLLMCallOverHTTPRetries5xx(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("overloaded"))
			return
		}
		w.Write([]byte(`{"message":"recovered","toolCalls":[]}`))
	}))
	defer server.Close()

	llm := NewLLM(NewOpenAIProvider("k", server.URL, "m"), WithRetryPolicy(fastPolicy()))
	resp, err := llm.Call(context.Background(), CallRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Message != "recovered" || hits != 2 {
		t.Fatalf("expected recovery on second hit, got %q after %d", resp.Message, hits)
	}
}
