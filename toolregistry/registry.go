// Package toolregistry implements the process-wide tool and credential
// catalog: schema/handler/factory/object registration for
// LLM-callable tools, and lazy credential providers consumed by tool
// handlers and nodes that need secrets.
package toolregistry

import (
	"context"
	"sort"
	"sync"

	"github.com/petal-labs/nodeflow/core"
)

// Handler is the async function signature every registered tool ultimately
// resolves to: (arguments, context) -> result. Results are arbitrary
// JSON-serializable values; handlers never panic across this boundary —
// callers wrap handler errors as {error, message} themselves.
type Handler func(ctx context.Context, arguments map[string]any, callCtx CallContext) (any, error)

// CallContext is passed to every tool handler invocation.
type CallContext struct {
	Model       string
	Host        string
	Credentials *Registry
}

// Factory returns a fresh Tool instance per call; used when a tool needs
// per-invocation state.
type Factory func() Tool

// Tool is the object shape register_factory/register_object expect.
type Tool interface {
	Name() string
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any, callCtx CallContext) (any, error)
}

// CredentialProvider resolves a secret value at call time. A failing
// provider yields no credential rather than propagating an error upward.
type CredentialProvider func() (string, error)

// Registry is the process-wide, mutable tool/credential catalog: writes
// are serialized by a single lock, and reads see a consistent snapshot
// per call.
type Registry struct {
	mu          sync.RWMutex
	schemas     map[string]map[string]any
	handlers    map[string]Handler
	credentials map[string]CredentialProvider
	store       *SQLiteStore
}

// New returns an empty Registry. Use NewWithBuiltins for the default
// registrations.
func New() *Registry {
	return &Registry{
		schemas:     make(map[string]map[string]any),
		handlers:    make(map[string]Handler),
		credentials: make(map[string]CredentialProvider),
	}
}

// RegisterSchema records the JSON schema for name. name must be non-empty
// and schema must be a non-empty JSON object.
func (r *Registry) RegisterSchema(name string, schema map[string]any) error {
	if name == "" {
		return &core.RegistryMisuseError{Reason: "tool name must not be empty"}
	}
	if len(schema) == 0 {
		return &core.RegistryMisuseError{Reason: "tool schema must be a non-empty object"}
	}
	r.mu.Lock()
	r.schemas[name] = schema
	store := r.store
	r.mu.Unlock()
	if store != nil {
		_ = store.SaveToolSchema(context.Background(), name, schema)
	}
	return nil
}

// RegisterHandler binds an async handler to name. A later call for the
// same name overrides the previous registration (used to replace the
// built-in "handler_not_configured" stubs).
func (r *Registry) RegisterHandler(name string, handler Handler) error {
	if name == "" {
		return &core.RegistryMisuseError{Reason: "tool name must not be empty"}
	}
	if handler == nil {
		return &core.RegistryMisuseError{Reason: "handler must be callable"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
	return nil
}

// RegisterFactory registers a tool factory: it records the tool's schema
// (extracted from a throwaway instance) and an auto-generated handler that
// constructs a fresh instance per call.
func (r *Registry) RegisterFactory(name string, factory Factory) error {
	if name == "" {
		return &core.RegistryMisuseError{Reason: "tool name must not be empty"}
	}
	if factory == nil {
		return &core.RegistryMisuseError{Reason: "factory must be callable"}
	}
	sample := factory()
	if sample != nil {
		if schema := sample.Schema(); len(schema) > 0 {
			if err := r.RegisterSchema(name, schema); err != nil {
				return err
			}
		}
	}
	return r.RegisterHandler(name, func(ctx context.Context, args map[string]any, callCtx CallContext) (any, error) {
		return factory().Execute(ctx, args, callCtx)
	})
}

// RegisterObject is a convenience wrapper for a single, shared Tool
// instance: it registers the tool's schema and a handler bound to its
// Execute method.
func (r *Registry) RegisterObject(t Tool) error {
	if t == nil {
		return &core.RegistryMisuseError{Reason: "tool must not be nil"}
	}
	if err := r.RegisterSchema(t.Name(), t.Schema()); err != nil {
		return err
	}
	return r.RegisterHandler(t.Name(), func(ctx context.Context, args map[string]any, callCtx CallContext) (any, error) {
		return t.Execute(ctx, args, callCtx)
	})
}

// RegisterCredential binds a named provider callable. Registering the same
// name twice overrides the previous provider.
func (r *Registry) RegisterCredential(name string, provider CredentialProvider) error {
	if name == "" {
		return &core.RegistryMisuseError{Reason: "credential name must not be empty"}
	}
	if provider == nil {
		return &core.RegistryMisuseError{Reason: "credential provider must be callable"}
	}
	r.mu.Lock()
	r.credentials[name] = provider
	store := r.store
	r.mu.Unlock()
	if store != nil {
		_ = store.SaveCredentialName(context.Background(), name)
	}
	return nil
}

// Schema looks up a tool's schema by exact name. A missing entry returns
// (nil, false) — lookup never errors.
func (r *Registry) Schema(name string) (map[string]any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Handler looks up a tool's handler by exact name.
func (r *Registry) Handler(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Credential resolves a named credential provider and invokes it. Absence
// or a failing provider both yield ("", false) rather than an error.
func (r *Registry) Credential(name string) (string, bool) {
	r.mu.RLock()
	provider, ok := r.credentials[name]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	val, err := provider()
	if err != nil {
		return "", false
	}
	return val, true
}

// Names returns every registered tool's name in sorted order, used by nodes
// that let a caller pick tools by name (e.g. a selector UI control).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolSchemas returns the JSON schema for every registered tool, in the
// {type: "function", function: {...}} shape, used to build an
// LLM chat node's `tools` request field.
func (r *Registry) ToolSchemas() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]map[string]any, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	return out
}
