package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const tavilySearchURL = "https://api.tavily.com/search"

// TavilyWebSearchTool implements Tool by calling the Tavily search API. It
// reads its API key from the "tavily_api_key" credential at call time, never
// at construction, so a single registered instance can serve callers whose
// credential provider is swapped out underneath it (e.g. a node that
// registers the credential from a runtime input).
type TavilyWebSearchTool struct {
	client  *http.Client
	baseURL string
}

// NewTavilyWebSearchTool returns a tool bound to client. A nil client gets a
// 15s-timeout default.
func NewTavilyWebSearchTool(client *http.Client) *TavilyWebSearchTool {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TavilyWebSearchTool{client: client, baseURL: tavilySearchURL}
}

// Name implements Tool.
func (t *TavilyWebSearchTool) Name() string { return "web_search" }

// Schema implements Tool, with the catalog-wide default parameter values.
func (t *TavilyWebSearchTool) Schema() map[string]any {
	return TavilyWebSearchSchema(5, "month", "general", "en")
}

// TavilyWebSearchSchema builds the web_search function schema with the
// given values baked in as each parameter's JSON-schema default, so a node
// that wraps this tool with its own configured defaults can publish a
// customized schema without duplicating the parameter shape.
func TavilyWebSearchSchema(defaultK int, defaultTimeRange, defaultTopic, defaultLang string) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        "web_search",
			"description": "Search the web for the given query and return a short summary of results.",
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query.",
					},
					"k": map[string]any{
						"type":        "integer",
						"description": "Number of results to return (1-10).",
						"minimum":     1,
						"maximum":     10,
						"default":     defaultK,
					},
					"time_range": map[string]any{
						"type":    "string",
						"enum":    []any{"day", "week", "month", "year"},
						"default": defaultTimeRange,
					},
					"topic": map[string]any{
						"type":    "string",
						"enum":    []any{"general", "news", "finance"},
						"default": defaultTopic,
					},
					"lang": map[string]any{
						"type":    "string",
						"default": defaultLang,
					},
				},
				"required": []any{"query"},
			},
		},
	}
}

type tavilyRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	TimeRange  string `json:"time_range,omitempty"`
	Topic      string `json:"topic,omitempty"`
}

type tavilyResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
}

// Execute implements Tool. Missing or failing credential/network conditions
// are reported as a {error, message} result rather than a Go error, matching
// the rest of the registry's "tool call failures are data" convention.
func (t *TavilyWebSearchTool) Execute(ctx context.Context, args map[string]any, callCtx CallContext) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return map[string]any{"error": "invalid_arguments", "message": "query is required"}, nil
	}
	k := 5
	if v, ok := args["k"].(float64); ok && v > 0 {
		k = int(v)
	}
	timeRange, _ := args["time_range"].(string)
	topic, _ := args["topic"].(string)

	apiKey := ""
	if callCtx.Credentials != nil {
		apiKey, _ = callCtx.Credentials.Credential("tavily_api_key")
	}
	if apiKey == "" {
		return map[string]any{"error": "missing_credential", "message": "tavily_api_key is not configured"}, nil
	}

	body, err := json.Marshal(tavilyRequest{Query: query, MaxResults: k, TimeRange: timeRange, Topic: topic})
	if err != nil {
		return nil, fmt.Errorf("encoding tavily request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return map[string]any{"error": "request_failed", "message": err.Error()}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return map[string]any{"error": "request_failed", "message": fmt.Sprintf("tavily returned status %d", resp.StatusCode)}, nil
	}
	var parsed tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return map[string]any{"error": "invalid_response", "message": err.Error()}, nil
	}
	results := make([]map[string]any, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, map[string]any{"title": r.Title, "url": r.URL, "snippet": r.Content})
	}
	return map[string]any{"results": results, "used_provider": "tavily"}, nil
}

// RegisterTavilyWebSearch overrides the "handler_not_configured" web_search
// stub NewWithBuiltins seeds with a live Tavily-backed implementation.
func RegisterTavilyWebSearch(r *Registry, client *http.Client) error {
	return r.RegisterObject(NewTavilyWebSearchTool(client))
}
