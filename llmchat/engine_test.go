package llmchat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petal-labs/nodeflow/toolregistry"
)

type fakeBackend struct {
	chatFn         func(ctx context.Context, req ChatRequest) (ChatResponse, error)
	modelInfo      ModelInfo
	modelInfoOK    bool
	calls          int
	modelInfoCalls int
}

func (f *fakeBackend) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	f.calls++
	return f.chatFn(ctx, req)
}

func (f *fakeBackend) ModelInfo(ctx context.Context, host, model string) (ModelInfo, error) {
	f.modelInfoCalls++
	if !f.modelInfoOK {
		return ModelInfo{}, errors.New("no model info")
	}
	return f.modelInfo, nil
}

func (f *fakeBackend) Close() {}

func TestResolveSeedFixed(t *testing.T) {
	e := newEngine(config{SeedMode: SeedFixed, Seed: 42}, nil, nil)
	if got := e.resolveSeed(); got != 42 {
		t.Errorf("resolveSeed() = %d, want 42", got)
	}
	if got := e.resolveSeed(); got != 42 {
		t.Errorf("fixed seed should stay 42, got %d", got)
	}
}

func TestResolveSeedIncrement(t *testing.T) {
	e := newEngine(config{SeedMode: SeedIncrement, Seed: 10}, nil, nil)
	first := e.resolveSeed()
	second := e.resolveSeed()
	third := e.resolveSeed()
	if first != 10 || second != 11 || third != 12 {
		t.Errorf("increment seeds = %d, %d, %d, want 10, 11, 12", first, second, third)
	}
}

func TestResolveSeedRandomVaries(t *testing.T) {
	e := newEngine(config{SeedMode: SeedRandom}, nil, nil)
	a := e.resolveSeed()
	b := e.resolveSeed()
	if a < 0 || b < 0 {
		t.Error("random seeds should be non-negative")
	}
}

func TestClampContextWindowCachesAcrossCalls(t *testing.T) {
	backend := &fakeBackend{modelInfoOK: true, modelInfo: ModelInfo{ContextLengths: []int{4096}}}
	e := newEngine(config{}, nil, backend)

	opts := map[string]any{}
	e.clampContextWindow(context.Background(), "host-1", "model-x", opts)
	if opts["num_ctx"] != 4096 {
		t.Fatalf("num_ctx = %v, want 4096", opts["num_ctx"])
	}

	// Second call for the same (host, model) must not re-query the backend.
	opts2 := map[string]any{}
	e.clampContextWindow(context.Background(), "host-1", "model-x", opts2)
	if backend.modelInfoCalls != 1 {
		t.Errorf("ModelInfo should be queried once and then cached, got %d calls", backend.modelInfoCalls)
	}
	if opts2["num_ctx"] != 4096 {
		t.Errorf("cached num_ctx = %v, want 4096", opts2["num_ctx"])
	}
}

func TestClampContextWindowClampsUserValue(t *testing.T) {
	backend := &fakeBackend{modelInfoOK: true, modelInfo: ModelInfo{ContextLengths: []int{2048}}}
	e := newEngine(config{}, nil, backend)

	opts := map[string]any{"num_ctx": 8192}
	e.clampContextWindow(context.Background(), "host-clamp", "model-clamp", opts)
	if opts["num_ctx"] != 2048 {
		t.Errorf("num_ctx = %v, want clamped to 2048", opts["num_ctx"])
	}
}

func TestClampContextWindowLeavesOptionsOnMiss(t *testing.T) {
	backend := &fakeBackend{modelInfoOK: false}
	e := newEngine(config{}, nil, backend)

	opts := map[string]any{"temperature": 0.5}
	e.clampContextWindow(context.Background(), "host-miss", "model-miss", opts)
	if _, ok := opts["num_ctx"]; ok {
		t.Error("num_ctx should not be set when the backend cannot discover a context length")
	}
}

func TestRunBoundsToolLoopToMaxIterationsPlusOne(t *testing.T) {
	registry := toolregistry.New()
	_ = registry.RegisterHandler("noop", func(ctx context.Context, args map[string]any, callCtx toolregistry.CallContext) (any, error) {
		return "ok", nil
	})

	backend := &fakeBackend{modelInfoOK: false}
	backend.chatFn = func(ctx context.Context, req ChatRequest) (ChatResponse, error) {
		// Every call with tools requests another tool call, so the loop only
		// terminates via the MaxToolIters bound.
		if len(req.Tools) > 0 {
			return ChatResponse{Message: ChatMessage{
				Role: "assistant",
				ToolCalls: []ToolCall{{
					Function: ToolCallFunc{Name: "noop", Arguments: map[string]any{}},
				}},
			}}, nil
		}
		return ChatResponse{Message: ChatMessage{Role: "assistant", Content: "done"}}, nil
	}

	e := newEngine(config{MaxToolIters: 2}, registry, backend)
	tools := []map[string]any{{"type": "function"}}

	outcome, err := e.run(context.Background(), "host", "model", []ChatMessage{{Role: "user", Content: "hi"}}, tools, nil)
	if err != nil {
		t.Fatalf("run() error: %v", err)
	}

	// MaxToolIters+1 tool-bearing calls, plus one final tools=nil call.
	if outcome.BackendCalls != 4 {
		t.Errorf("BackendCalls = %d, want 4 (3 tool rounds + 1 final)", outcome.BackendCalls)
	}
	if len(outcome.ToolHistory) != 3 {
		t.Errorf("len(ToolHistory) = %d, want 3", len(outcome.ToolHistory))
	}
	if outcome.Final.Content != "done" {
		t.Errorf("Final.Content = %v, want done", outcome.Final.Content)
	}
}

func TestRunStopsWhenNoToolCallsRequested(t *testing.T) {
	backend := &fakeBackend{modelInfoOK: false}
	backend.chatFn = func(ctx context.Context, req ChatRequest) (ChatResponse, error) {
		return ChatResponse{Message: ChatMessage{Role: "assistant", Content: "hello"}}, nil
	}
	e := newEngine(config{MaxToolIters: 4}, toolregistry.New(), backend)

	outcome, err := e.run(context.Background(), "h", "m", []ChatMessage{{Role: "user", Content: "hi"}}, []map[string]any{{"type": "function"}}, nil)
	if err != nil {
		t.Fatalf("run() error: %v", err)
	}
	// The first call already comes back with no tool_calls, so that
	// response is the user-facing message: no further call is made.
	if outcome.BackendCalls != 1 {
		t.Errorf("BackendCalls = %d, want 1", outcome.BackendCalls)
	}
	if outcome.Final.Content != "hello" {
		t.Errorf("Final.Content = %q, want %q", outcome.Final.Content, "hello")
	}
}

func TestRunCapturesBackendErrorInMetrics(t *testing.T) {
	backend := &fakeBackend{modelInfoOK: false}
	backend.chatFn = func(ctx context.Context, req ChatRequest) (ChatResponse, error) {
		return ChatResponse{}, errors.New("connection refused")
	}
	e := newEngine(config{}, toolregistry.New(), backend)

	outcome, err := e.run(context.Background(), "h", "m", []ChatMessage{{Role: "user", Content: "hi"}}, nil, nil)
	if err != nil {
		t.Fatalf("run() should not propagate backend errors, got %v", err)
	}
	if outcome.Metrics.Error == "" {
		t.Error("expected Metrics.Error to capture the backend failure")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	backend := &fakeBackend{modelInfoOK: false}
	backend.chatFn = func(ctx context.Context, req ChatRequest) (ChatResponse, error) {
		t.Fatal("backend should not be called once the context is already cancelled")
		return ChatResponse{}, nil
	}
	e := newEngine(config{}, toolregistry.New(), backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.run(ctx, "h", "m", []ChatMessage{{Role: "user", Content: "hi"}}, nil, nil)
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
}

func TestInvokeToolUnknownToolName(t *testing.T) {
	e := newEngine(config{ToolTimeout: time.Second}, toolregistry.New(), &fakeBackend{})
	result := e.invokeTool(context.Background(), "h", "m", ToolCall{Function: ToolCallFunc{Name: "nope"}})
	m := result.(map[string]any)
	if m["error"] != "unknown_tool" {
		t.Errorf("result = %v, want unknown_tool", m)
	}
}

func TestInvokeToolTimeout(t *testing.T) {
	registry := toolregistry.New()
	_ = registry.RegisterHandler("slow", func(ctx context.Context, args map[string]any, callCtx toolregistry.CallContext) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newEngine(config{ToolTimeout: 10 * time.Millisecond}, registry, &fakeBackend{})

	result := e.invokeTool(context.Background(), "h", "m", ToolCall{Function: ToolCallFunc{Name: "slow"}})
	m := result.(map[string]any)
	if m["error"] != "timeout" {
		t.Errorf("result = %v, want timeout", m)
	}
}

func TestInvokeToolPanicIsRecovered(t *testing.T) {
	registry := toolregistry.New()
	_ = registry.RegisterHandler("explodes", func(ctx context.Context, args map[string]any, callCtx toolregistry.CallContext) (any, error) {
		panic("boom")
	})
	e := newEngine(config{ToolTimeout: time.Second}, registry, &fakeBackend{})

	result := e.invokeTool(context.Background(), "h", "m", ToolCall{Function: ToolCallFunc{Name: "explodes"}})
	m := result.(map[string]any)
	if m["error"] != "exception" {
		t.Errorf("result = %v, want exception", m)
	}
}

func TestPostProcessJSONMode(t *testing.T) {
	e := newEngine(config{JSONMode: true}, toolregistry.New(), &fakeBackend{})
	msg := &ChatMessage{Content: `{"a": 1}`}
	metrics := &Metrics{}
	e.postProcess(msg, metrics)
	parsed, ok := msg.Content.(map[string]any)
	if !ok {
		t.Fatalf("Content = %T, want map[string]any", msg.Content)
	}
	if parsed["a"] != float64(1) {
		t.Errorf("parsed[a] = %v, want 1", parsed["a"])
	}
	if metrics.ParseError != "" {
		t.Errorf("ParseError = %q, want empty", metrics.ParseError)
	}
}

func TestPostProcessJSONModeParseFailureRecordsError(t *testing.T) {
	e := newEngine(config{JSONMode: true}, toolregistry.New(), &fakeBackend{})
	msg := &ChatMessage{Content: "not json"}
	metrics := &Metrics{}
	e.postProcess(msg, metrics)
	if metrics.ParseError == "" {
		t.Error("expected ParseError to be recorded for invalid JSON")
	}
}

func TestPostProcessScansInlineToolMarker(t *testing.T) {
	e := newEngine(config{}, toolregistry.New(), &fakeBackend{})
	msg := &ChatMessage{Content: "thinking... _TOOL_WEB_SEARCH_: weather today _RESULT_: ..."}
	metrics := &Metrics{}
	e.postProcess(msg, metrics)
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("expected a synthesized tool call, got %v", msg.ToolCalls)
	}
	if msg.ToolCalls[0].Function.Arguments["query"] != "weather today" {
		t.Errorf("query = %v, want \"weather today\"", msg.ToolCalls[0].Function.Arguments["query"])
	}
	if msg.ToolName != "web_search" {
		t.Errorf("ToolName = %q, want web_search", msg.ToolName)
	}
}

func TestConfigFromParamsDefaults(t *testing.T) {
	c := configFromParams(nil)
	if c.Temperature != 0.7 || c.SeedMode != SeedFixed || c.MaxToolIters != 4 || c.ToolTimeout != 30*time.Second {
		t.Errorf("defaults = %+v", c)
	}
}

func TestConfigFromParamsOverrides(t *testing.T) {
	c := configFromParams(map[string]any{
		"temperature":    0.2,
		"seed_mode":      "random",
		"max_tool_iters": 9,
		"tool_timeout_s": 5,
		"json_mode":      true,
	})
	if c.Temperature != 0.2 || c.SeedMode != SeedRandom || c.MaxToolIters != 9 || c.ToolTimeout != 5*time.Second || !c.JSONMode {
		t.Errorf("overridden config = %+v", c)
	}
}
