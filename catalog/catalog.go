// Package catalog provides process-wide discovery of concrete node
// implementations, registered under stable string identifiers. The
// executor never constructs a node directly; it always goes through a
// Catalog so new node types can be added without touching executor code.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petal-labs/nodeflow/core"
)

// Factory builds a live node instance from its id and effective parameters
// (default_params already overlaid with the descriptor's properties).
type Factory func(id int, params map[string]any) (core.Node, error)

// Catalog maps a node type name to the factory that constructs it.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for a node type name.
func (c *Catalog) Register(typeName string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[typeName] = factory
}

// Build instantiates a node of the given type. It returns
// *core.UnknownNodeTypeError (wrapped) when typeName has no registration.
func (c *Catalog) Build(id int, typeName string, properties map[string]any) (core.Node, error) {
	c.mu.RLock()
	factory, ok := c.factories[typeName]
	c.mu.RUnlock()
	if !ok {
		return nil, &core.UnknownNodeTypeError{NodeID: id, Type: typeName}
	}
	node, err := factory(id, properties)
	if err != nil {
		return nil, fmt.Errorf("constructing node %d (type %q): %w", id, typeName, err)
	}
	return node, nil
}

// Has reports whether typeName is registered.
func (c *Catalog) Has(typeName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.factories[typeName]
	return ok
}

// TypeNames returns every registered type name in sorted order.
func (c *Catalog) TypeNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultCatalog is the process-wide catalog used when callers do not
// construct their own. Nothing registers into it automatically; built-in
// node types are installed by calling nodeset.RegisterAll on a catalog.
var DefaultCatalog = New()
