package queue

import (
	"github.com/petal-labs/nodeflow/core"
	"github.com/petal-labs/nodeflow/transport"
	"github.com/petal-labs/nodeflow/wire"
)

// Submit enqueues graph on behalf of session and immediately sends the
// "Waiting for available slot" status. This is the entry point a transport
// shell calls when it infers an incoming payload as a graph submission.
func Submit(q *Queue, session transport.ClientSession, graph core.GraphDescription) *Job {
	job := q.Enqueue(session, graph)
	_ = session.Send(wire.StatusMessage(wire.StatusWaiting))
	return job
}
