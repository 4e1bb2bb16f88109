package core

import "time"

// EventKind identifies the type of an engine event. The executor's batch
// Run emits the run and node kinds and the queue emits the queue enqueue
// and cancel kinds; the streaming path, the worker and the LLM chat node
// emit none, and no code in this module emits EventNodeTick,
// EventRouteDecision, EventToolCall, EventToolResult or EventQueuePosition.
// These are the structured-logging substrate of the whole engine: nothing
// in this module calls log.Printf directly.
type EventKind string

const (
	EventRunStarted    EventKind = "run_started"
	EventRunProgress   EventKind = "run_progress"
	EventRunFinished   EventKind = "run_finished"
	EventNodeStarted   EventKind = "node_started"
	EventNodeFinished  EventKind = "node_finished"
	EventNodeFailed    EventKind = "node_failed"
	EventNodeProgress  EventKind = "node_progress"
	EventNodeTick      EventKind = "node_tick" // streaming node partial output
	EventRouteDecision EventKind = "route_decision"
	EventToolCall      EventKind = "tool_call"
	EventToolResult    EventKind = "tool_result"
	EventQueueEnqueued EventKind = "queue_enqueued"
	EventQueuePosition EventKind = "queue_position"
	EventQueueCancel   EventKind = "queue_cancel"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string { return string(k) }

// Event is a structured, streamable record of what happened during a run.
// Keep Payload small; large values belong in the result mapping, not here.
type Event struct {
	Kind     EventKind
	RunID    string
	JobID    int64
	NodeID   int
	NodeType string
	Time     time.Time
	Elapsed  time.Duration
	Payload  map[string]any
}

// NewEvent creates an Event stamped with the current time.
func NewEvent(kind EventKind, runID string) Event {
	return Event{Kind: kind, RunID: runID, Time: time.Now(), Payload: map[string]any{}}
}

func (e Event) WithNode(nodeID int, nodeType string) Event {
	e.NodeID = nodeID
	e.NodeType = nodeType
	return e
}

func (e Event) WithJob(jobID int64) Event {
	e.JobID = jobID
	return e
}

func (e Event) WithElapsed(d time.Duration) Event {
	e.Elapsed = d
	return e
}

func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	e.Payload[key] = value
	return e
}

// EventEmitter is the function type every subsystem accepts to emit events.
// A nil emitter is always safe to call through EmitEvent.
type EventEmitter func(Event)

// EmitEvent calls emit if non-nil; callers use this instead of checking
// for nil at every call site.
func EmitEvent(emit EventEmitter, e Event) {
	if emit != nil {
		emit(e)
	}
}

// EventHandler consumes events for logging, storage, or forwarding.
type EventHandler func(Event)

// MultiEventHandler fans one event out to several handlers.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}
