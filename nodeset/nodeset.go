package nodeset

import "github.com/petal-labs/nodeflow/catalog"

// RegisterAll installs every node type this package provides into cat. The
// llm_chat node type is registered separately by llmchat.Register, since it
// needs a tool registry and backend handed to it at wiring time.
func RegisterAll(cat *catalog.Catalog) {
	Register(cat)
	RegisterMarket(cat)
	RegisterStreaming(cat)
}
