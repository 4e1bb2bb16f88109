package llmchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// errNoLocalModels is returned by Tags when the backend host reports no
// installed models.
var errNoLocalModels = errors.New("backend host reports no installed models")

// httpClientPool pools one *http.Client per distinct timeout, reused across
// calls instead of building a fresh transport per request.
type httpClientPool struct {
	mu      sync.Mutex
	clients map[time.Duration]*http.Client
}

var sharedHTTPClientPool = &httpClientPool{clients: map[time.Duration]*http.Client{}}

func (p *httpClientPool) client(timeout time.Duration) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.clients[timeout]; ok {
		return existing
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{Timeout: timeout, Transport: transport}
	p.clients[timeout] = client
	return client
}

// modelInfoQueryTimeout is the short fixed timeout for backend
// model-metadata queries.
const modelInfoQueryTimeout = time.Second

// OllamaBackend is the default, fully spec'd Backend implementation: a
// direct net/http client against an Ollama-shaped host. It is
// not swapped for iris's Provider interface because iris does not expose
// the num_ctx/model_info plumbing the context-window clamp requires (see
// DESIGN.md).
type OllamaBackend struct {
	client *http.Client
	mu     sync.Mutex
	closed bool
}

// NewOllamaBackend creates a Backend whose HTTP calls share the pooled
// transport keyed by callTimeout.
func NewOllamaBackend(callTimeout time.Duration) *OllamaBackend {
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	return &OllamaBackend{client: sharedHTTPClientPool.client(callTimeout)}
}

type chatWireRequest struct {
	Model     string           `json:"model"`
	Messages  []chatWireMsg    `json:"messages"`
	Tools     []map[string]any `json:"tools,omitempty"`
	Stream    bool             `json:"stream"`
	Format    string           `json:"format,omitempty"`
	Options   map[string]any   `json:"options,omitempty"`
	KeepAlive any              `json:"keep_alive,omitempty"`
	Think     bool             `json:"think,omitempty"`
}

type chatWireMsg struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Images    []string       `json:"images,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
}

type chatWireResponse struct {
	Message struct {
		Role      string     `json:"role"`
		Content   string     `json:"content"`
		ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		Thinking  string     `json:"thinking,omitempty"`
	} `json:"message"`
	TotalDuration      int64 `json:"total_duration"`
	LoadDuration       int64 `json:"load_duration"`
	PromptEvalCount    int   `json:"prompt_eval_count"`
	PromptEvalDuration int64 `json:"prompt_eval_duration"`
	EvalCount          int   `json:"eval_count"`
	EvalDuration       int64 `json:"eval_duration"`
}

// Chat implements Backend by POSTing to host/api/chat.
func (b *OllamaBackend) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	wireMsgs := make([]chatWireMsg, 0, len(req.Messages))
	for _, m := range req.Messages {
		content := ""
		if s, ok := m.Content.(string); ok {
			content = s
		} else if m.Content != nil {
			if data, err := json.Marshal(m.Content); err == nil {
				content = string(data)
			}
		}
		wireMsgs = append(wireMsgs, chatWireMsg{
			Role: m.Role, Content: content, Images: m.Images,
			ToolCalls: m.ToolCalls, ToolName: m.ToolName, Thinking: m.Thinking,
		})
	}

	body, err := json.Marshal(chatWireRequest{
		Model: req.Model, Messages: wireMsgs, Tools: req.Tools,
		Stream: false, Format: req.Format, Options: req.Options,
		KeepAlive: req.KeepAlive, Think: req.Think,
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("encoding chat request: %w", err)
	}

	var wire chatWireResponse
	if err := b.postJSON(ctx, req.Host, "/api/chat", body, &wire); err != nil {
		return ChatResponse{}, err
	}

	return ChatResponse{
		Message: ChatMessage{
			Role: wire.Message.Role, Content: wire.Message.Content,
			ToolCalls: wire.Message.ToolCalls, Thinking: wire.Message.Thinking,
		},
		TotalDuration:      time.Duration(wire.TotalDuration),
		LoadDuration:       time.Duration(wire.LoadDuration),
		PromptEvalCount:    wire.PromptEvalCount,
		PromptEvalDuration: time.Duration(wire.PromptEvalDuration),
		EvalCount:          wire.EvalCount,
		EvalDuration:       time.Duration(wire.EvalDuration),
	}, nil
}

type showWireResponse struct {
	ModelInfo  map[string]any `json:"model_info"`
	Parameters string         `json:"parameters"`
}

// ModelInfo implements Backend by POSTing to host/api/show and extracting
// every integer context-length-shaped field: keys in model_info containing "context_length", plus any
// "num_ctx N" token found in the parameters blob.
func (b *OllamaBackend) ModelInfo(ctx context.Context, host, model string) (ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, modelInfoQueryTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"model": model, "verbose": false})
	if err != nil {
		return ModelInfo{}, err
	}

	var wire showWireResponse
	if err := b.postJSON(ctx, host, "/api/show", body, &wire); err != nil {
		return ModelInfo{}, err
	}

	var lengths []int
	for k, v := range wire.ModelInfo {
		if !strings.Contains(strings.ToLower(k), "context_length") {
			continue
		}
		if n, ok := toInt(v); ok {
			lengths = append(lengths, n)
		}
	}
	if n, ok := parseNumCtx(wire.Parameters); ok {
		lengths = append(lengths, n)
	}
	return ModelInfo{ContextLengths: lengths}, nil
}

func parseNumCtx(parameters string) (int, bool) {
	idx := strings.Index(parameters, "num_ctx")
	if idx < 0 {
		return 0, false
	}
	fields := strings.Fields(parameters[idx:])
	if len(fields) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return 0, false
	}
	return n, true
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func (b *OllamaBackend) postJSON(ctx context.Context, host, path string, body []byte, out any) error {
	url := strings.TrimRight(host, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Tags fetches installed model names, used
// for the registry's dynamic model-list UI option.
func (b *OllamaBackend) Tags(ctx context.Context, host string) ([]string, error) {
	url := strings.TrimRight(host, "/") + "/api/tags"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(wire.Models))
	for _, m := range wire.Models {
		names = append(names, m.Name)
	}
	if len(names) == 0 {
		return nil, errNoLocalModels
	}
	return names, nil
}

// Close releases the backend's resources. The shared transport is pooled
// process-wide, so Close only marks this handle as no longer in use —
// idempotent and safe to call from a cancellation path.
func (b *OllamaBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
