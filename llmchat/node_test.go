package llmchat

import (
	"context"
	"testing"

	"github.com/petal-labs/nodeflow/core"
	"github.com/petal-labs/nodeflow/toolregistry"
)

func TestBuildConversationRequiresMessagesOrPrompt(t *testing.T) {
	_, _, _, _, err := buildConversation(core.Inputs{}, nil)
	if err != ErrNoMessagesOrPrompt {
		t.Fatalf("err = %v, want ErrNoMessagesOrPrompt", err)
	}
}

func TestBuildConversationPromptBecomesUserMessage(t *testing.T) {
	messages, _, _, _, err := buildConversation(core.Inputs{"prompt": "hello"}, nil)
	if err != nil {
		t.Fatalf("buildConversation() error: %v", err)
	}
	if len(messages) != 1 || messages[0].Role != "user" || messages[0].Content != "hello" {
		t.Errorf("messages = %+v", messages)
	}
}

func TestBuildConversationPrependsSystemOnce(t *testing.T) {
	inputs := core.Inputs{
		"prompt": "hi",
		"system": "be terse",
	}
	messages, _, _, _, err := buildConversation(inputs, nil)
	if err != nil {
		t.Fatalf("buildConversation() error: %v", err)
	}
	if len(messages) != 2 || messages[0].Role != "system" || messages[0].Content != "be terse" {
		t.Errorf("messages = %+v", messages)
	}
}

func TestBuildConversationHostModelFallsBackToParams(t *testing.T) {
	inputs := core.Inputs{"prompt": "hi"}
	params := map[string]any{"host": "http://localhost:11434", "model": "llama3"}
	_, _, host, model, err := buildConversation(inputs, params)
	if err != nil {
		t.Fatalf("buildConversation() error: %v", err)
	}
	if host != "http://localhost:11434" || model != "llama3" {
		t.Errorf("host, model = %q, %q", host, model)
	}
}

func TestBuildConversationInputHostOverridesParams(t *testing.T) {
	inputs := core.Inputs{"prompt": "hi", "host": "http://override:1"}
	params := map[string]any{"host": "http://localhost:11434"}
	_, _, host, _, err := buildConversation(inputs, params)
	if err != nil {
		t.Fatalf("buildConversation() error: %v", err)
	}
	if host != "http://override:1" {
		t.Errorf("host = %q, want override", host)
	}
}

func TestBuildConversationCoercesToolInputs(t *testing.T) {
	inputs := core.Inputs{
		"prompt": "hi",
		"tools":  map[string]any{"type": "function", "function": map[string]any{"name": "a"}},
		"tool": []any{
			map[string]any{"type": "function", "function": map[string]any{"name": "b"}},
		},
	}
	_, tools, _, _, err := buildConversation(inputs, nil)
	if err != nil {
		t.Fatalf("buildConversation() error: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("len(tools) = %d, want 2", len(tools))
	}
}

func TestBatchNodeExecuteSuccess(t *testing.T) {
	backend := &fakeBackend{modelInfoOK: false}
	backend.chatFn = func(ctx context.Context, req ChatRequest) (ChatResponse, error) {
		return ChatResponse{Message: ChatMessage{Role: "assistant", Content: "hi there"}}, nil
	}
	n := NewBatchNode(1, map[string]any{"host": "h", "model": "m"}, toolregistry.New(), backend)

	result, err := n.Execute(context.Background(), core.Inputs{"prompt": "hello"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	msg := result["message"].(ChatMessage)
	if msg.Content != "hi there" {
		t.Errorf("message.Content = %v, want \"hi there\"", msg.Content)
	}
}

func TestBatchNodeExecutePropagatesInputError(t *testing.T) {
	n := NewBatchNode(1, nil, toolregistry.New(), &fakeBackend{})
	_, err := n.Execute(context.Background(), core.Inputs{})
	if err != ErrNoMessagesOrPrompt {
		t.Fatalf("err = %v, want ErrNoMessagesOrPrompt", err)
	}
}

func TestBatchNodeExecuteAfterStopReturnsCancelled(t *testing.T) {
	backend := &fakeBackend{modelInfoOK: false}
	backend.chatFn = func(ctx context.Context, req ChatRequest) (ChatResponse, error) {
		<-ctx.Done()
		return ChatResponse{}, ctx.Err()
	}
	n := NewBatchNode(1, map[string]any{"host": "h", "model": "m"}, toolregistry.New(), backend)

	ctx, cancel := context.WithCancel(context.Background())
	n.Stop()
	cancel()

	_, err := n.Execute(ctx, core.Inputs{"prompt": "hi"})
	if err != core.ErrCancelled {
		t.Fatalf("err = %v, want core.ErrCancelled", err)
	}
}

func TestStreamNodeStartEmitsDoneItem(t *testing.T) {
	backend := &fakeBackend{modelInfoOK: false}
	backend.chatFn = func(ctx context.Context, req ChatRequest) (ChatResponse, error) {
		return ChatResponse{Message: ChatMessage{Role: "assistant", Content: "streamed"}}, nil
	}
	n := NewStreamNode(1, map[string]any{"host": "h", "model": "m"}, toolregistry.New(), backend)

	ch, err := n.Start(context.Background(), core.Inputs{"prompt": "hi"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	var last core.StreamItem
	for item := range ch {
		last = item
	}
	if !last.Done {
		t.Fatal("final stream item should be Done")
	}
	msg := last.Result["message"].(ChatMessage)
	if msg.Content != "streamed" {
		t.Errorf("message.Content = %v, want streamed", msg.Content)
	}
}
