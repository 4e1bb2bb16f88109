// Package llmchat implements the LLM streaming chat node with tool
// orchestration: a state machine that iterates
// chat -> tool-call -> tool-exec rounds up to a bound, with cooperative
// cancellation and forced external-process cleanup.
package llmchat

import (
	"context"
	"time"
)

// ChatMessage is a chat-style message.
type ChatMessage struct {
	Role      string         `json:"role"`
	Content   any            `json:"content"` // string, or parsed JSON when json_mode is set
	Images    []string       `json:"images,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	Meta      map[string]any `json:"-"`
}

// ToDict implements wire.ToDicter so a ChatMessage serializes to a mapping
// instead of its Go struct representation.
func (m ChatMessage) ToDict() map[string]any {
	out := map[string]any{
		"role":    m.Role,
		"content": m.Content,
	}
	if len(m.Images) > 0 {
		out["images"] = m.Images
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]any, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			calls[i] = c
		}
		out["tool_calls"] = calls
	}
	if m.ToolName != "" {
		out["tool_name"] = m.ToolName
	}
	if m.Thinking != "" {
		out["thinking"] = m.Thinking
	}
	return out
}

// ToolCall is one model-requested tool invocation.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function ToolCallFunc `json:"function"`
}

// ToDict implements wire.ToDicter.
func (c ToolCall) ToDict() map[string]any {
	return map[string]any{
		"id":       c.ID,
		"function": map[string]any{"name": c.Function.Name, "arguments": c.Function.Arguments},
	}
}

// ToolCallFunc is the {name, arguments} body of a ToolCall.
type ToolCallFunc struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolHistoryEntry records one tool round-trip.
type ToolHistoryEntry struct {
	Call   ToolCall `json:"call"`
	Result any      `json:"result"`
}

// ToDict implements wire.ToDicter.
func (h ToolHistoryEntry) ToDict() map[string]any {
	return map[string]any{"call": h.Call, "result": h.Result}
}

// ThinkingEntry records one round's "thinking" output.
type ThinkingEntry struct {
	Thinking  string `json:"thinking"`
	Iteration int    `json:"iteration"`
}

// ToDict implements wire.ToDicter.
func (t ThinkingEntry) ToDict() map[string]any {
	return map[string]any{"thinking": t.Thinking, "iteration": t.Iteration}
}

// Metrics is the node's metrics output.
type Metrics struct {
	TotalDuration      time.Duration `json:"total_duration"`
	LoadDuration       time.Duration `json:"load_duration"`
	PromptEvalCount    int           `json:"prompt_eval_count"`
	PromptEvalDuration time.Duration `json:"prompt_eval_duration"`
	EvalCount          int           `json:"eval_count"`
	EvalDuration       time.Duration `json:"eval_duration"`
	Seed               int64         `json:"seed"`
	Temperature        float64       `json:"temperature"`
	Error              string        `json:"error,omitempty"`
	ParseError         string        `json:"parse_error,omitempty"`
}

// ToDict implements wire.ToDicter so Metrics serializes to a mapping
// instead of its Go struct representation.
func (m Metrics) ToDict() map[string]any {
	out := map[string]any{
		"total_duration":       m.TotalDuration.Seconds(),
		"load_duration":        m.LoadDuration.Seconds(),
		"prompt_eval_count":    m.PromptEvalCount,
		"prompt_eval_duration": m.PromptEvalDuration.Seconds(),
		"eval_count":           m.EvalCount,
		"eval_duration":        m.EvalDuration.Seconds(),
		"seed":                 m.Seed,
		"temperature":          m.Temperature,
	}
	if m.Error != "" {
		out["error"] = m.Error
	}
	if m.ParseError != "" {
		out["parse_error"] = m.ParseError
	}
	return out
}

// ChatRequest is what Backend.Chat sends to the chat backend.
type ChatRequest struct {
	Host      string
	Model     string
	Messages  []ChatMessage
	Tools     []map[string]any
	Stream    bool
	Format    string // "json" when json_mode is set
	Options   map[string]any
	KeepAlive any
	Think     bool
}

// ChatResponse is Backend.Chat's result.
type ChatResponse struct {
	Message            ChatMessage
	TotalDuration      time.Duration
	LoadDuration       time.Duration
	PromptEvalCount    int
	PromptEvalDuration time.Duration
	EvalCount          int
	EvalDuration       time.Duration
}

// ModelInfo is Backend.ModelInfo's result.
type ModelInfo struct {
	ContextLengths []int // every discovered num_ctx-shaped integer
}

// Backend abstracts the chat backend HTTP surface so the node can be
// tested without a live Ollama-shaped server.
type Backend interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ModelInfo(ctx context.Context, host, model string) (ModelInfo, error)
	Close()
}
