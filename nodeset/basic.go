// Package nodeset provides the catalog's built-in concrete node
// implementations: simple constants/transforms exercised by the engine's
// own test scenarios, plus domain-representative market-data nodes.
package nodeset

import (
	"context"

	"github.com/petal-labs/nodeflow/catalog"
	"github.com/petal-labs/nodeflow/core"
)

// ConstAType is a zero-input node that always produces a fixed string
// output named "x".
const ConstAType = "ConstA"

type constANode struct {
	core.BaseNode
}

// NewConstA constructs a ConstA node. It ignores params beyond an optional
// "value" override.
func NewConstA(id int, params map[string]any) core.Node {
	return &constANode{BaseNode: core.NewBaseNode(id, nil, []core.OutputSlot{{Name: "x", Type: core.TypeString}}, params)}
}

func (n *constANode) Execute(ctx context.Context, inputs core.Inputs) (core.Result, error) {
	value := "mock_data"
	if v, ok := n.Params()["value"].(string); ok && v != "" {
		value = v
	}
	return core.Result{"x": value}, nil
}

// AppendType is a one-input, one-output node appending a configured suffix
// to its input string.
const AppendType = "Append"

type appendNode struct {
	core.BaseNode
}

// NewAppend constructs an Append node; params["suffix"] is appended to
// input "a" to produce output "y".
func NewAppend(id int, params map[string]any) core.Node {
	inputs := []core.InputSlot{{Name: "a", Type: core.TypeString}}
	outputs := []core.OutputSlot{{Name: "y", Type: core.TypeString}}
	return &appendNode{BaseNode: core.NewBaseNode(id, inputs, outputs, params)}
}

func (n *appendNode) Execute(ctx context.Context, inputs core.Inputs) (core.Result, error) {
	a, _ := inputs["a"].(string)
	suffix, _ := n.Params()["suffix"].(string)
	return core.Result{"y": a + suffix}, nil
}

// Register installs every node type in this file into cat.
func Register(cat *catalog.Catalog) {
	cat.Register(ConstAType, func(id int, params map[string]any) (core.Node, error) {
		return NewConstA(id, params), nil
	})
	cat.Register(AppendType, func(id int, params map[string]any) (core.Node, error) {
		return NewAppend(id, params), nil
	})
}
