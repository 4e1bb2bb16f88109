// Package toolnodes provides catalog node types that operate on the
// process-wide tool registry itself, rather than on market or chat data:
// selecting a subset of registered tools for a downstream llm_chat node,
// and wiring a runtime credential into a tool's schema. These mirror the
// registry-facing nodes of the distillation this engine was built from,
// which exposed tool selection and credential wiring as graph nodes
// instead of as startup-only configuration.
package toolnodes

import (
	"context"
	"net/http"

	"github.com/petal-labs/nodeflow/catalog"
	"github.com/petal-labs/nodeflow/core"
	"github.com/petal-labs/nodeflow/toolregistry"
)

// SelectorTypeName is the catalog type name for ToolsSelectorNode.
const SelectorTypeName = "tools_selector"

// ToolsSelectorNode has no inputs; it filters registry against
// params["selected"] (a list of tool names) and outputs the matching
// schemas plus the full list of names the registry currently knows, so a
// UI can populate a selection control.
type ToolsSelectorNode struct {
	core.BaseNode
	registry *toolregistry.Registry
}

// NewToolsSelectorNode constructs a ToolsSelectorNode bound to registry.
func NewToolsSelectorNode(id int, params map[string]any, registry *toolregistry.Registry) *ToolsSelectorNode {
	outputs := []core.OutputSlot{
		{Name: "tools", Type: core.TypeToolSchema, Optional: false},
		{Name: "available", Type: core.TypeAny},
	}
	return &ToolsSelectorNode{
		BaseNode: core.NewBaseNode(id, nil, outputs, params),
		registry: registry,
	}
}

// Execute implements core.BatchNode.
func (n *ToolsSelectorNode) Execute(ctx context.Context, inputs core.Inputs) (core.Result, error) {
	available := n.registry.Names()

	var selected []string
	if raw, ok := n.Params()["selected"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				selected = append(selected, s)
			}
		}
	} else if raw, ok := n.Params()["selected"].([]string); ok {
		selected = raw
	}

	tools := make([]map[string]any, 0, len(selected))
	for _, name := range selected {
		if schema, ok := n.registry.Schema(name); ok {
			tools = append(tools, schema)
		}
	}

	return core.Result{"tools": tools, "available": available}, nil
}

// WebSearchToolTypeName is the catalog type name for WebSearchToolNode.
const WebSearchToolTypeName = "web_search_tool"

// WebSearchToolNode takes an API key input and registers it as the
// "tavily_api_key" credential provider at execute time, then publishes a
// web_search tool schema customized with this node's configured defaults.
// Registering the credential on Execute (rather than at catalog wiring
// time) lets the key come from anywhere upstream in the graph -- a secrets
// node, a user-entered value, a fetched vault entry.
type WebSearchToolNode struct {
	core.BaseNode
	registry *toolregistry.Registry
}

// NewWebSearchToolNode constructs a WebSearchToolNode bound to registry.
func NewWebSearchToolNode(id int, params map[string]any, registry *toolregistry.Registry) *WebSearchToolNode {
	inputs := []core.InputSlot{{Name: "api_key", Type: core.TypeAPIKey}}
	outputs := []core.OutputSlot{{Name: "tool", Type: core.TypeToolSchema}}
	return &WebSearchToolNode{
		BaseNode: core.NewBaseNode(id, inputs, outputs, params),
		registry: registry,
	}
}

// Execute implements core.BatchNode.
func (n *WebSearchToolNode) Execute(ctx context.Context, inputs core.Inputs) (core.Result, error) {
	apiKey, _ := inputs["api_key"].(string)

	if err := n.registry.RegisterCredential("tavily_api_key", func() (string, error) {
		return apiKey, nil
	}); err != nil {
		return nil, err
	}

	k := 5
	if v, ok := n.Params()["default_k"].(int); ok && v > 0 {
		k = v
	} else if v, ok := n.Params()["default_k"].(float64); ok && v > 0 {
		k = int(v)
	}
	timeRange, _ := n.Params()["time_range"].(string)
	if timeRange == "" {
		timeRange = "month"
	}
	topic, _ := n.Params()["topic"].(string)
	if topic == "" {
		topic = "general"
	}
	lang, _ := n.Params()["lang"].(string)
	if lang == "" {
		lang = "en"
	}

	schema := toolregistry.TavilyWebSearchSchema(k, timeRange, topic, lang)
	return core.Result{"tool": schema}, nil
}

// Register installs both node types in this package into cat, sharing
// registry (the process-wide tool/credential catalog). It also overrides
// the registry's default "handler_not_configured" web_search stub with a
// live Tavily-backed handler, matching the registration-time default
// established for the catalog's built-in tool set.
func Register(cat *catalog.Catalog, registry *toolregistry.Registry) {
	_ = toolregistry.RegisterTavilyWebSearch(registry, &http.Client{})

	cat.Register(SelectorTypeName, func(id int, params map[string]any) (core.Node, error) {
		return NewToolsSelectorNode(id, params, registry), nil
	})
	cat.Register(WebSearchToolTypeName, func(id int, params map[string]any) (core.Node, error) {
		return NewWebSearchToolNode(id, params, registry), nil
	})
}
