package comfy

import "encoding/json"

// Event types the monitor acts on. Any other type passes through unhandled.
const (
	EventExecuting      = "executing"
	EventExecutionError = "execution_error"
)

// Event is one structured frame from the engine's event stream.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`

	// Raw is the undecoded data payload, kept so execution_error details
	// reach the caller verbatim.
	Raw json.RawMessage `json:"-"`
}

// EventData is the envelope payload shared by executing and execution_error
// events. Node is nil on the final executing event of a drained graph, which
// is the engine's completion convention.
type EventData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

// ParseEvent decodes a text frame into an Event. ok is false for frames that
// are not JSON event envelopes; the stream multiplexes binary preview frames
// and other noise on the same channel, and those are simply skipped.
func ParseEvent(frame []byte) (Event, bool) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil || envelope.Type == "" {
		return Event{}, false
	}

	ev := Event{Type: envelope.Type, Raw: envelope.Data}
	if len(envelope.Data) > 0 {
		// A data payload that is not an object is fine; the event just
		// carries no node/prompt correlation.
		_ = json.Unmarshal(envelope.Data, &ev.Data)
	}
	return ev, true
}

// OutputFile is one artifact reference as reported in a history record.
type OutputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the per-node output mapping of a history record. Values are
// kept raw because output shapes are heterogeneous: media collections are
// []OutputFile, but nodes also emit text, numbers, and custom structures.
type NodeOutput map[string]json.RawMessage

// History is the engine's persisted record of a finished job. A zero History
// means the job has no recorded outputs (yet).
type History struct {
	Outputs map[string]NodeOutput `json:"outputs"`
}
