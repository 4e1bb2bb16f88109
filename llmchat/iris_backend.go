package llmchat

import (
	"context"
	"encoding/json"
	"fmt"

	iriscore "github.com/petal-labs/iris/core"
)

// IrisBackend adapts an iris core.Provider to Backend, the way the
// teacher's irisadapter.ProviderAdapter bridges iris to its own LLM client
// interface. Unlike OllamaBackend it cannot report context-window sizes —
// iris providers don't expose num_ctx/model_info — so ModelInfo always
// returns a zero-value ModelInfo and the context-window clamp becomes a
// no-op for this backend (see DESIGN.md).
type IrisBackend struct {
	provider iriscore.Provider
}

// NewIrisBackend wraps provider as a Backend.
func NewIrisBackend(provider iriscore.Provider) *IrisBackend {
	return &IrisBackend{provider: provider}
}

func (b *IrisBackend) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	chatReq := &iriscore.ChatRequest{
		Model:    iriscore.ModelID(req.Model),
		Messages: toIrisMessages(req.Messages),
	}

	resp, err := b.provider.Chat(ctx, chatReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("iris backend chat: %w", err)
	}
	return fromIrisResponse(resp), nil
}

// ModelInfo always reports no known context length: iris does not surface
// the per-model num_ctx metadata the clamp in engine.go relies on.
func (b *IrisBackend) ModelInfo(ctx context.Context, host, model string) (ModelInfo, error) {
	return ModelInfo{}, nil
}

func (b *IrisBackend) Close() {}

func toIrisMessages(messages []ChatMessage) []iriscore.Message {
	out := make([]iriscore.Message, 0, len(messages))
	for _, m := range messages {
		content, ok := m.Content.(string)
		if !ok {
			if b, err := json.Marshal(m.Content); err == nil {
				content = string(b)
			}
		}
		out = append(out, iriscore.Message{
			Role:    toIrisRole(m.Role),
			Content: content,
		})
	}
	return out
}

// toIrisRole maps a chat message role onto an iris role. Unrecognized
// roles (including our "tool" role, which iris has no direct equivalent
// for) default to RoleUser rather than erroring.
func toIrisRole(role string) iriscore.Role {
	switch role {
	case "system":
		return iriscore.RoleSystem
	case "user":
		return iriscore.RoleUser
	case "assistant":
		return iriscore.RoleAssistant
	default:
		return iriscore.RoleUser
	}
}

func fromIrisResponse(resp *iriscore.ChatResponse) ChatResponse {
	return ChatResponse{
		Message: ChatMessage{
			Role:    "assistant",
			Content: resp.Output,
		},
		PromptEvalCount: resp.Usage.PromptTokens,
		EvalCount:       resp.Usage.CompletionTokens,
	}
}

var _ Backend = (*IrisBackend)(nil)
