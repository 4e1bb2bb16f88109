package toolregistry

import "context"

// NewWithBuiltins returns a Registry pre-seeded with well-known tool
// schemas whose handlers are unimplemented stubs.
func NewWithBuiltins() *Registry {
	r := New()
	_ = r.RegisterSchema("web_search", webSearchSchema())
	_ = r.RegisterHandler("web_search", notConfiguredHandler("web_search"))
	return r
}

func webSearchSchema() map[string]any {
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
					"max_results": map[string]any{
						"type":    "integer",
						"enum":    []any{3, 5, 10},
						"default": 5,
					},
				},
				"required": []any{"query"},
			},
		},
	}
}

func notConfiguredHandler(name string) Handler {
	return func(ctx context.Context, arguments map[string]any, callCtx CallContext) (any, error) {
		return map[string]any{
			"error":   "handler_not_configured",
			"message": name + " has no handler configured for this deployment",
		}, nil
	}
}
