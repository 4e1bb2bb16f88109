package transport

import (
	"context"
	"testing"

	"github.com/petal-labs/nodeflow/wire"
)

func TestLocalSendAndFrames(t *testing.T) {
	l := NewLocal(context.Background())
	if err := l.Send(wire.StatusMessage(wire.StatusWaiting)); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	select {
	case msg := <-l.Frames():
		if msg.Message != wire.StatusWaiting {
			t.Errorf("frame message = %q, want %q", msg.Message, wire.StatusWaiting)
		}
	default:
		t.Fatal("expected a buffered frame")
	}
}

func TestLocalCloseSignalsDone(t *testing.T) {
	l := NewLocal(context.Background())
	select {
	case <-l.Done():
		t.Fatal("Done() should not be closed before Close()")
	default:
	}

	l.Close()

	select {
	case <-l.Done():
	default:
		t.Fatal("Done() should be closed after Close()")
	}

	if err := l.Send(wire.StatusMessage(wire.StatusStopped)); err == nil {
		t.Fatal("Send() after Close() should report the session as gone")
	}
}

func TestLocalParentCancelClosesDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLocal(ctx)
	cancel()
	select {
	case <-l.Done():
	default:
		t.Fatal("Done() should be closed when the parent context is cancelled")
	}
}
