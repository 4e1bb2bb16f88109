package catalog

import (
	"errors"
	"testing"

	"github.com/petal-labs/nodeflow/core"
)

type stubNode struct {
	core.BaseNode
}

func TestBuildUnknownType(t *testing.T) {
	cat := New()
	_, err := cat.Build(1, "nope", nil)
	if err == nil {
		t.Fatal("expected error for unregistered type")
	}
	var unknown *core.UnknownNodeTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *core.UnknownNodeTypeError, got %T", err)
	}
}

func TestBuildAndHas(t *testing.T) {
	cat := New()
	cat.Register("stub", func(id int, params map[string]any) (core.Node, error) {
		return &stubNode{BaseNode: core.NewBaseNode(id, nil, nil, params)}, nil
	})

	if !cat.Has("stub") {
		t.Error("Has should report true for a registered type")
	}
	node, err := cat.Build(5, "stub", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if node.ID() != 5 {
		t.Errorf("node.ID() = %d, want 5", node.ID())
	}
}

func TestTypeNamesSorted(t *testing.T) {
	cat := New()
	cat.Register("zeta", func(id int, params map[string]any) (core.Node, error) { return nil, nil })
	cat.Register("alpha", func(id int, params map[string]any) (core.Node, error) { return nil, nil })
	names := cat.TypeNames()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("TypeNames() = %v, want [alpha zeta]", names)
	}
}
