package llmchat

import (
	"github.com/petal-labs/nodeflow/catalog"
	"github.com/petal-labs/nodeflow/core"
	"github.com/petal-labs/nodeflow/toolregistry"
)

// Register installs the llm_chat node type into cat. Every instance shares
// registry (the process-wide tool/credential catalog) and backend (the
// chat backend client); per-node configuration comes entirely from each
// node's own params.
//
// A node's params["streaming"] (default true, matching this node's name
// and its primary mode in interactive use) selects between the Streaming
// and Batch capability variants.
func Register(cat *catalog.Catalog, registry *toolregistry.Registry, backend Backend) {
	cat.Register(TypeName, func(id int, params map[string]any) (core.Node, error) {
		streaming := true
		if v, ok := params["streaming"].(bool); ok {
			streaming = v
		}
		if streaming {
			return NewStreamNode(id, params, registry, backend), nil
		}
		return NewBatchNode(id, params, registry, backend), nil
	})
}
