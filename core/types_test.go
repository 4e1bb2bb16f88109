package core

import (
	"errors"
	"testing"
)

func TestTypeRegistryAssignability(t *testing.T) {
	r := NewTypeRegistry()
	if !r.Assignable(TypeString, TypeString) {
		t.Error("identical types should be assignable")
	}
	if !r.Assignable(TypeString, TypeAny) {
		t.Error("everything should be assignable to Any")
	}
	if r.Assignable(TypeString, TypeNumber) {
		t.Error("unrelated types should not be assignable without registration")
	}
	r.RegisterAssignable(TypeIndicatorLine, TypeNumber)
	if !r.Assignable(TypeIndicatorLine, TypeNumber) {
		t.Error("explicitly registered assignability should hold")
	}
}

func TestNodeExecutionErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &NodeExecutionError{NodeID: 3, Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("NodeExecutionError should unwrap to its cause")
	}
	if err.Kind() != KindNodeExecution {
		t.Errorf("Kind() = %v, want %v", err.Kind(), KindNodeExecution)
	}
}

func TestErrCancelledIs(t *testing.T) {
	wrapped := errors.New("wrap")
	if errors.Is(wrapped, ErrCancelled) {
		t.Error("unrelated error should not match ErrCancelled")
	}
	if !errors.Is(ErrCancelled, ErrCancelled) {
		t.Error("ErrCancelled should match itself")
	}
}
