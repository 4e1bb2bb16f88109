// Package transport defines the boundary between the worker and the
// transport shell. Anything that can accept
// wire.Message frames and detect client disconnect satisfies ClientSession.
package transport

import (
	"context"

	"github.com/petal-labs/nodeflow/wire"
)

// ClientSession is the worker's view of a submitting client: a sink for
// outbound frames and a liveness signal. A real transport shell (WebSocket,
// SSE, ...) implements this; tests and the CLI use the Local session below.
type ClientSession interface {
	// Send delivers one frame to the client. An error return is treated as
	// a disconnect.
	Send(msg wire.Message) error
	// Done is closed when the client disconnects.
	Done() <-chan struct{}
}

// Local is an in-process ClientSession that delivers frames to a Go
// channel, used by the CLI recurring runner and by tests that drive the
// queue/worker without a real network transport.
type Local struct {
	ctx    context.Context
	cancel context.CancelFunc
	frames chan wire.Message
}

// NewLocal creates a Local session bound to ctx; cancelling ctx (or calling
// Close) simulates a client disconnect.
func NewLocal(ctx context.Context) *Local {
	ctx, cancel := context.WithCancel(ctx)
	return &Local{ctx: ctx, cancel: cancel, frames: make(chan wire.Message, 64)}
}

// Send implements ClientSession.
func (l *Local) Send(msg wire.Message) error {
	if err := l.ctx.Err(); err != nil {
		return err
	}
	select {
	case l.frames <- msg:
		return nil
	case <-l.ctx.Done():
		return l.ctx.Err()
	}
}

// Done implements ClientSession.
func (l *Local) Done() <-chan struct{} { return l.ctx.Done() }

// Frames returns the channel of frames sent to this session.
func (l *Local) Frames() <-chan wire.Message { return l.frames }

// Close simulates a client disconnect. The frames channel is not closed
// here (a concurrent Send could still be in flight); Done() is the signal
// consumers should select on.
func (l *Local) Close() { l.cancel() }
