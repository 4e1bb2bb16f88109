package toolregistry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTavilyWebSearchExecuteMissingCredential(t *testing.T) {
	tool := NewTavilyWebSearchTool(nil)
	out, err := tool.Execute(context.Background(), map[string]any{"query": "go modules"}, CallContext{})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok || m["error"] != "missing_credential" {
		t.Errorf("expected missing_credential result, got %v", out)
	}
}

func TestTavilyWebSearchExecuteRejectsEmptyQuery(t *testing.T) {
	tool := NewTavilyWebSearchTool(nil)
	out, err := tool.Execute(context.Background(), map[string]any{}, CallContext{})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	m := out.(map[string]any)
	if m["error"] != "invalid_arguments" {
		t.Errorf("expected invalid_arguments result, got %v", out)
	}
}

func TestTavilyWebSearchExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization header = %q", got)
		}
		var req tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		if req.Query != "go modules" {
			t.Errorf("query = %q", req.Query)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tavilyResponse{Results: []tavilyResult{
			{Title: "Go Modules Reference", URL: "https://go.dev/ref/mod", Content: "..."},
		}})
	}))
	defer srv.Close()

	tool := NewTavilyWebSearchTool(srv.Client())
	tool.baseURL = srv.URL

	registry := New()
	if err := registry.RegisterCredential("tavily_api_key", func() (string, error) { return "sk-test", nil }); err != nil {
		t.Fatalf("RegisterCredential() error: %v", err)
	}
	callCtx := CallContext{Credentials: registry}

	out, err := tool.Execute(context.Background(), map[string]any{"query": "go modules"}, callCtx)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	m := out.(map[string]any)
	if m["used_provider"] != "tavily" {
		t.Errorf("used_provider = %v", m["used_provider"])
	}
	results, ok := m["results"].([]map[string]any)
	if !ok || len(results) != 1 || results[0]["title"] != "Go Modules Reference" {
		t.Errorf("unexpected results: %v", m["results"])
	}
}

func TestTavilyWebSearchExecuteRequestFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tool := NewTavilyWebSearchTool(srv.Client())
	tool.baseURL = srv.URL

	registry := New()
	_ = registry.RegisterCredential("tavily_api_key", func() (string, error) { return "sk-test", nil })

	out, err := tool.Execute(context.Background(), map[string]any{"query": "x"}, CallContext{Credentials: registry})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	m := out.(map[string]any)
	if m["error"] != "request_failed" {
		t.Errorf("expected request_failed result, got %v", out)
	}
}

func TestRegisterTavilyWebSearchOverridesStub(t *testing.T) {
	registry := NewWithBuiltins()
	if err := RegisterTavilyWebSearch(registry, nil); err != nil {
		t.Fatalf("RegisterTavilyWebSearch() error: %v", err)
	}

	handler, ok := registry.Handler("web_search")
	if !ok {
		t.Fatal("expected web_search handler to be registered")
	}
	out, err := handler(context.Background(), map[string]any{"query": ""}, CallContext{})
	if err != nil {
		t.Fatalf("handler() error: %v", err)
	}
	m := out.(map[string]any)
	if m["error"] == "handler_not_configured" {
		t.Error("expected the stub handler to be overridden")
	}
}

func TestTavilyWebSearchSchemaCarriesDefaults(t *testing.T) {
	schema := TavilyWebSearchSchema(3, "week", "news", "fr")
	fn := schema["function"].(map[string]any)
	params := fn["parameters"].(map[string]any)
	props := params["properties"].(map[string]any)
	if got := props["k"].(map[string]any)["default"]; got != 3 {
		t.Errorf("k default = %v, want 3", got)
	}
	if got := props["time_range"].(map[string]any)["default"]; got != "week" {
		t.Errorf("time_range default = %v, want week", got)
	}
}
