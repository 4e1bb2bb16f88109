package llmchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/petal-labs/nodeflow/core"
	"github.com/petal-labs/nodeflow/toolregistry"
)

// ErrNoMessagesOrPrompt is returned when a chat call has neither messages
// nor a prompt to work from.
var ErrNoMessagesOrPrompt = errors.New("llmchat: neither messages nor prompt provided")

// SeedMode selects how the effective seed for each backend call is derived.
type SeedMode string

const (
	SeedFixed     SeedMode = "fixed"
	SeedRandom    SeedMode = "random"
	SeedIncrement SeedMode = "increment"
)

// contextCacheEntry is the process-wide, per-(host,model) context-window
// cache.
var contextCache = struct {
	mu      sync.Mutex
	maxCtx  map[string]int
}{maxCtx: make(map[string]int)}

func contextCacheKey(host, model string) string { return host + "\x00" + model }

func cachedMaxCtx(host, model string) (int, bool) {
	contextCache.mu.Lock()
	defer contextCache.mu.Unlock()
	v, ok := contextCache.maxCtx[contextCacheKey(host, model)]
	return v, ok
}

func storeMaxCtx(host, model string, maxCtx int) {
	contextCache.mu.Lock()
	defer contextCache.mu.Unlock()
	contextCache.maxCtx[contextCacheKey(host, model)] = maxCtx
}

// config is the effective, overlaid parameter set for one LLM chat node.
type config struct {
	Temperature  float64
	SeedMode     SeedMode
	Seed         int64
	MaxToolIters int
	ToolTimeout  time.Duration
	Think        bool
	JSONMode     bool
	KeepAlive    any
	Options      map[string]any
}

func configFromParams(params map[string]any) config {
	c := config{
		Temperature:  0.7,
		SeedMode:     SeedFixed,
		Seed:         0,
		MaxToolIters: 4,
		ToolTimeout:  30 * time.Second,
	}
	if v, ok := params["temperature"].(float64); ok {
		c.Temperature = v
	}
	if v, ok := params["seed_mode"].(string); ok {
		c.SeedMode = SeedMode(v)
	}
	if v, ok := toInt64(params["seed"]); ok {
		c.Seed = v
	}
	if v, ok := toInt64(params["max_tool_iters"]); ok {
		c.MaxToolIters = int(v)
	}
	if v, ok := toInt64(params["tool_timeout_s"]); ok {
		c.ToolTimeout = time.Duration(v) * time.Second
	}
	if v, ok := params["think"].(bool); ok {
		c.Think = v
	}
	if v, ok := params["json_mode"].(bool); ok {
		c.JSONMode = v
	}
	c.KeepAlive = params["keep_alive"]
	if v, ok := params["options"].(map[string]any); ok {
		c.Options = cloneOptions(v)
	} else {
		c.Options = map[string]any{}
	}
	return c
}

func cloneOptions(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// engine holds the logic shared between the batch and streaming node
// variants: seed resolution, the context-window clamp, the tool
// orchestration loop, and content post-processing. It carries no node
// identity of its own.
type engine struct {
	cfg      config
	registry *toolregistry.Registry
	backend  Backend

	mu          sync.Mutex
	seedCounter int64
	seeded      bool
}

func newEngine(cfg config, registry *toolregistry.Registry, backend Backend) *engine {
	return &engine{cfg: cfg, registry: registry, backend: backend}
}

// resolveSeed computes the effective seed for the next backend call,
// honoring the configured SeedMode.
func (e *engine) resolveSeed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.cfg.SeedMode {
	case SeedRandom:
		return rand.Int63n(1 << 31)
	case SeedIncrement:
		if !e.seeded {
			e.seedCounter = e.cfg.Seed
			e.seeded = true
		} else {
			e.seedCounter++
		}
		return e.seedCounter
	default: // SeedFixed
		return e.cfg.Seed
	}
}

// clampContextWindow queries (and caches) the backend's discovered
// context-length values for (host, model), then sets/clamps
// options["num_ctx"] in place.
func (e *engine) clampContextWindow(ctx context.Context, host, model string, options map[string]any) {
	if host == "" || model == "" {
		return
	}

	maxCtx, ok := cachedMaxCtx(host, model)
	if !ok {
		info, err := e.backend.ModelInfo(ctx, host, model)
		if err != nil || len(info.ContextLengths) == 0 {
			return // cache miss with no discoverable value: leave options untouched
		}
		maxCtx = info.ContextLengths[0]
		for _, n := range info.ContextLengths {
			if n > maxCtx {
				maxCtx = n
			}
		}
		storeMaxCtx(host, model, maxCtx)
	}

	if userCtx, ok := toInt64(options["num_ctx"]); ok {
		if int(userCtx) > maxCtx {
			options["num_ctx"] = maxCtx
		}
	} else {
		options["num_ctx"] = maxCtx
	}
}

// toolLoopOutcome is the result of running the tool orchestration protocol
// to completion.
type toolLoopOutcome struct {
	Final           ChatMessage
	Metrics         Metrics
	ToolHistory     []ToolHistoryEntry
	ThinkingHistory []ThinkingEntry
	BackendCalls    int
}

// onRoundFunc is called after every backend round-trip (including the
// final tools=nil call) with a snapshot suitable for progressive emission
// in streaming mode.
type onRoundFunc func(round int, partial toolLoopOutcome)

// run executes the tool orchestration protocol: up to MaxToolIters+1
// backend chat calls, dispatching every requested tool call through the
// registry, bounded by ToolTimeout per call. If the loop is cut off by
// MaxToolIters with tool calls still unresolved, one further tools=nil
// call is issued to obtain a user-facing message; if the assistant itself
// ends the loop by returning a response with no tool calls, that response
// already is the user-facing message and no further call is made.
func (e *engine) run(ctx context.Context, host, model string, messages []ChatMessage, tools []map[string]any, onRound onRoundFunc) (toolLoopOutcome, error) {
	out := toolLoopOutcome{}
	seed := e.resolveSeed()

	options := cloneOptions(e.cfg.Options)
	e.clampContextWindow(ctx, host, model, options)
	options["temperature"] = e.cfg.Temperature
	options["seed"] = seed

	round := 0
	current := append([]ChatMessage(nil), messages...)
	haveTools := len(tools) > 0
	unresolved := false

	for {
		if err := checkCancelled(ctx); err != nil {
			return out, err
		}

		var reqTools []map[string]any
		if haveTools {
			reqTools = tools
		}

		resp, metrics, err := e.call(ctx, host, model, current, reqTools, options, seed)
		out.BackendCalls++
		out.Metrics = metrics
		if err != nil {
			out.Metrics.Error = err.Error()
			out.Final = ChatMessage{Role: "assistant", Content: ""}
			return out, nil // backend errors are captured in metrics.error, not propagated
		}
		if resp.Message.Thinking != "" {
			out.ThinkingHistory = append(out.ThinkingHistory, ThinkingEntry{Thinking: resp.Message.Thinking, Iteration: round})
		}

		if onRound != nil {
			onRound(round, out)
		}

		if !haveTools || len(resp.Message.ToolCalls) == 0 {
			out.Final = resp.Message
			break
		}

		current = append(current, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			result := e.invokeTool(ctx, host, model, call)
			out.ToolHistory = append(out.ToolHistory, ToolHistoryEntry{Call: call, Result: result})
			content, _ := json.Marshal(result)
			current = append(current, ChatMessage{Role: "tool", Content: string(content), ToolName: call.Function.Name})
		}

		round++
		if round > e.cfg.MaxToolIters {
			out.Final = resp.Message
			unresolved = true
			break
		}
	}

	if unresolved {
		// The loop was cut off with tool results still pending: issue a
		// final call with tools=nil to obtain the user-facing message.
		if err := checkCancelled(ctx); err != nil {
			return out, err
		}
		finalResp, metrics, err := e.call(ctx, host, model, current, nil, options, seed)
		out.BackendCalls++
		out.Metrics = metrics
		if err != nil {
			out.Metrics.Error = err.Error()
			out.Final = ChatMessage{Role: "assistant", Content: ""}
			return out, nil
		}
		out.Final = finalResp.Message
	}

	e.postProcess(&out.Final, &out.Metrics)
	if onRound != nil {
		onRound(round, out)
	}
	return out, nil
}

func (e *engine) call(ctx context.Context, host, model string, messages []ChatMessage, tools []map[string]any, options map[string]any, seed int64) (ChatResponse, Metrics, error) {
	resp, err := e.backend.Chat(ctx, ChatRequest{
		Host: host, Model: model, Messages: messages, Tools: tools,
		Stream: false, Format: e.format(), Options: options,
		KeepAlive: e.cfg.KeepAlive, Think: e.cfg.Think,
	})
	metrics := Metrics{Seed: seed, Temperature: e.cfg.Temperature}
	if err != nil {
		return ChatResponse{}, metrics, fmt.Errorf("backend call: %w", err)
	}
	metrics.TotalDuration = resp.TotalDuration
	metrics.LoadDuration = resp.LoadDuration
	metrics.PromptEvalCount = resp.PromptEvalCount
	metrics.PromptEvalDuration = resp.PromptEvalDuration
	metrics.EvalCount = resp.EvalCount
	metrics.EvalDuration = resp.EvalDuration
	return resp, metrics, nil
}

func (e *engine) format() string {
	if e.cfg.JSONMode {
		return "json"
	}
	return ""
}

// invokeTool dispatches one requested tool call to its registered handler,
// bounded by ToolTimeout, producing structured {error, message} bodies for
// unknown tools, timeouts, and recovered panics.
func (e *engine) invokeTool(ctx context.Context, host, model string, call ToolCall) any {
	handler, ok := e.registry.Handler(call.Function.Name)
	if !ok {
		return map[string]any{
			"error":   "unknown_tool",
			"message": fmt.Sprintf("no handler registered for tool %q", call.Function.Name),
		}
	}

	callCtx := toolregistry.CallContext{Model: model, Host: host, Credentials: e.registry}
	toolCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()

	resultCh := make(chan toolInvocationResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- toolInvocationResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := handler(toolCtx, call.Function.Arguments, callCtx)
		resultCh <- toolInvocationResult{result: res, err: err}
	}()

	select {
	case <-toolCtx.Done():
		return map[string]any{
			"error":   "timeout",
			"message": fmt.Sprintf("Tool %s timed out after %ds", call.Function.Name, int(e.cfg.ToolTimeout.Seconds())),
		}
	case r := <-resultCh:
		if r.err != nil {
			return map[string]any{"error": "exception", "message": r.err.Error()}
		}
		return r.result
	}
}

type toolInvocationResult struct {
	result any
	err    error
}

// postProcess applies json_mode parsing, then inline tool-marker scanning.
func (e *engine) postProcess(msg *ChatMessage, metrics *Metrics) {
	content, ok := msg.Content.(string)
	if !ok {
		return
	}

	if e.cfg.JSONMode {
		var parsed any
		if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
			metrics.ParseError = err.Error()
		} else {
			msg.Content = parsed
			content = "" // already replaced; marker scan below only applies to string content
		}
	}

	if content == "" {
		return
	}
	if call, found := scanInlineToolMarkers(content); found {
		msg.ToolCalls = append(msg.ToolCalls, call)
	}
	if len(msg.ToolCalls) > 0 {
		msg.ToolName = msg.ToolCalls[0].Function.Name
	} else {
		msg.ToolName = ""
	}
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return core.ErrCancelled
	default:
		return nil
	}
}
