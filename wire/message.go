// Package wire implements the transport-facing wire protocol:
// the JSON message shapes exchanged between the worker and a client
// session, and the serialization rules that turn arbitrary node output
// values into JSON-safe data.
package wire

// Message is the single JSON envelope every engine-to-client frame uses,
// discriminated by Type ("status", "data", or "error").
type Message struct {
	Type    string                    `json:"type"`
	Message string                    `json:"message,omitempty"`
	Stream  bool                      `json:"stream,omitempty"`
	Results map[string]map[string]any `json:"results,omitempty"`
}

// Status message text constants.
const (
	StatusWaiting        = "Waiting for available slot"
	StatusStarting       = "Starting execution"
	StatusExecutingBatch = "Executing batch"
	StatusStreamStarting = "Stream starting"
	StatusBatchFinished  = "Batch finished"
	StatusStreamFinished = "Stream finished"
	StatusStopped        = "Stopped"
)

// StatusMessage builds a {type: "status"} frame.
func StatusMessage(text string) Message {
	return Message{Type: "status", Message: text}
}

// ErrorMessage builds a {type: "error"} frame.
func ErrorMessage(text string) Message {
	return Message{Type: "error", Message: text}
}

// DataMessage builds a {type: "data"} frame from a whole-graph result
// (node id -> per-node result mapping), applying the value serialization
// rules and stringifying node ids.
func DataMessage(stream bool, results map[int]map[string]any) Message {
	return Message{Type: "data", Stream: stream, Results: SerializeGraphResult(results)}
}
