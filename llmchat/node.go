package llmchat

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/petal-labs/nodeflow/core"
	"github.com/petal-labs/nodeflow/toolregistry"
)

// TypeName is the catalog type name registered for this node.
const TypeName = "llm_chat"

func inputSchema() []core.InputSlot {
	return []core.InputSlot{
		{Name: "messages", Type: core.TypeLLMChatMsg, Optional: true},
		{Name: "prompt", Type: core.TypeString, Optional: true},
		{Name: "system", Type: core.TypeString, Optional: true},
		{Name: "tools", Type: core.TypeToolSchema, Optional: true},
		{Name: "tool", Type: core.TypeToolSchema, Optional: true, Multi: true},
		{Name: "host", Type: core.TypeString, Optional: true},
		{Name: "model", Type: core.TypeString, Optional: true},
	}
}

func outputSchema() []core.OutputSlot {
	return []core.OutputSlot{
		{Name: "message", Type: core.TypeLLMChatMsg},
		{Name: "metrics", Type: core.TypeAny},
		{Name: "tool_history", Type: core.TypeAny},
		{Name: "thinking_history", Type: core.TypeAny},
	}
}

// shared holds the bookkeeping common to both capability variants: schema,
// params, the shared engine, and the cooperative-cancellation flag.
type shared struct {
	core.BaseNode
	engine *engine

	progress  core.ProgressFunc
	cancelled atomic.Bool
}

func newShared(id int, params map[string]any, registry *toolregistry.Registry, backend Backend) *shared {
	cfg := configFromParams(params)
	return &shared{
		BaseNode: core.NewBaseNode(id, inputSchema(), outputSchema(), params),
		engine:   newEngine(cfg, registry, backend),
	}
}

// SetProgressFunc implements core.ProgressReporter.
func (s *shared) SetProgressFunc(f core.ProgressFunc) { s.progress = f }

// Stop implements core.Stopper: cooperative cancellation. Idempotent.
func (s *shared) Stop() {
	s.cancelled.Store(true)
}

// ForceStop implements core.ForceStopper: calls the backend's Close and
// fires best-effort external process cleanup. For OllamaBackend, Close
// only marks the handle; the pooled HTTP client is not closed.
func (s *shared) ForceStop() {
	s.cancelled.Store(true)
	s.engine.backend.Close()
	host, _ := s.Params()["host"].(string)
	model, _ := s.Params()["model"].(string)
	forceCleanup(host, model)
}

func (s *shared) report(percent float64, text string) {
	if s.progress != nil {
		s.progress(percent, text)
	}
}

// buildConversation assembles the message list, tool schema union, and
// host/model from the node's assembled inputs.
func buildConversation(inputs core.Inputs, params map[string]any) ([]ChatMessage, []map[string]any, string, string, error) {
	var messages []ChatMessage
	if raw, ok := inputs["messages"]; ok {
		messages = coerceMessages(raw)
	}

	hasPrompt := false
	if prompt, ok := inputs["prompt"].(string); ok && prompt != "" {
		messages = append(messages, ChatMessage{Role: "user", Content: prompt})
		hasPrompt = true
	}

	if len(messages) == 0 && !hasPrompt {
		return nil, nil, "", "", ErrNoMessagesOrPrompt
	}

	if sys, ok := inputs["system"].(string); ok && sys != "" {
		hasSystem := false
		for _, m := range messages {
			if m.Role == "system" {
				hasSystem = true
				break
			}
		}
		if !hasSystem {
			messages = append([]ChatMessage{{Role: "system", Content: sys}}, messages...)
		}
	}

	var tools []map[string]any
	if raw, ok := inputs["tools"]; ok {
		tools = append(tools, coerceToolSchemas(raw)...)
	}
	if raw, ok := inputs["tool"]; ok {
		if seq, ok := raw.([]any); ok {
			for _, item := range seq {
				tools = append(tools, coerceToolSchemas(item)...)
			}
		}
	}

	host, _ := inputs["host"].(string)
	if host == "" {
		host, _ = params["host"].(string)
	}
	model, _ := inputs["model"].(string)
	if model == "" {
		model, _ = params["model"].(string)
	}

	return messages, tools, host, model, nil
}

func coerceMessages(raw any) []ChatMessage {
	switch v := raw.(type) {
	case []ChatMessage:
		return append([]ChatMessage(nil), v...)
	case []any:
		out := make([]ChatMessage, 0, len(v))
		for _, item := range v {
			out = append(out, coerceMessages(item)...)
		}
		return out
	case ChatMessage:
		return []ChatMessage{v}
	case map[string]any:
		msg := ChatMessage{}
		if r, ok := v["role"].(string); ok {
			msg.Role = r
		}
		msg.Content = v["content"]
		return []ChatMessage{msg}
	}
	return nil
}

func coerceToolSchemas(raw any) []map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return []map[string]any{v}
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			out = append(out, coerceToolSchemas(item)...)
		}
		return out
	}
	return nil
}

func resultFromOutcome(outcome toolLoopOutcome) core.Result {
	return core.Result{
		"message":          outcome.Final,
		"metrics":          outcome.Metrics,
		"tool_history":     outcome.ToolHistory,
		"thinking_history": outcome.ThinkingHistory,
	}
}

func cancelledResult() core.Result {
	return core.Result{
		"message":          ChatMessage{Role: "assistant", Content: ""},
		"metrics":          Metrics{Error: "Cancelled"},
		"tool_history":     []ToolHistoryEntry{},
		"thinking_history": []ThinkingEntry{},
	}
}

// BatchNode is the one-shot capability variant.
type BatchNode struct{ *shared }

// NewBatchNode constructs the batch-mode LLM chat node.
func NewBatchNode(id int, params map[string]any, registry *toolregistry.Registry, backend Backend) *BatchNode {
	return &BatchNode{shared: newShared(id, params, registry, backend)}
}

// Execute implements core.BatchNode.
func (n *BatchNode) Execute(ctx context.Context, inputs core.Inputs) (core.Result, error) {
	messages, tools, host, model, err := buildConversation(inputs, n.Params())
	if err != nil {
		return nil, err
	}

	n.report(0, "calling backend")
	outcome, err := n.engine.run(ctx, host, model, messages, tools, func(round int, partial toolLoopOutcome) {
		n.report(50, fmt.Sprintf("round %d: %d tool call(s) so far", round, len(partial.ToolHistory)))
	})
	if err != nil {
		if n.cancelled.Load() {
			return nil, core.ErrCancelled
		}
		return nil, err
	}
	if n.cancelled.Load() {
		return cancelledResult(), core.ErrCancelled
	}
	n.report(100, "done")
	return resultFromOutcome(outcome), nil
}

// StreamNode is the incremental capability variant: emits one partial result per tool-loop round, then a final
// Done item carrying the user-facing message.
type StreamNode struct{ *shared }

// NewStreamNode constructs the streaming-mode LLM chat node.
func NewStreamNode(id int, params map[string]any, registry *toolregistry.Registry, backend Backend) *StreamNode {
	return &StreamNode{shared: newShared(id, params, registry, backend)}
}

// Start implements core.StreamingNode.
func (n *StreamNode) Start(ctx context.Context, inputs core.Inputs) (<-chan core.StreamItem, error) {
	messages, tools, host, model, err := buildConversation(inputs, n.Params())
	if err != nil {
		return nil, err
	}

	out := make(chan core.StreamItem, 4)
	go func() {
		defer close(out)

		outcome, err := n.engine.run(ctx, host, model, messages, tools, func(round int, partial toolLoopOutcome) {
			select {
			case out <- core.StreamItem{Result: resultFromOutcome(partial)}:
			case <-ctx.Done():
			}
		})

		if n.cancelled.Load() || (err != nil && isCancelledErr(err)) {
			select {
			case out <- core.StreamItem{Result: cancelledResult(), Done: true}:
			default:
			}
			return
		}
		if err != nil {
			select {
			case out <- core.StreamItem{Err: err, Done: true}:
			default:
			}
			return
		}

		select {
		case out <- core.StreamItem{Result: resultFromOutcome(outcome), Done: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func isCancelledErr(err error) bool {
	return err == core.ErrCancelled
}
