package wire

import "encoding/json"

// Event is one Anthropic SSE event. Only the fields relevant to Type are
// populated; the rest stay at their zero value.
type Event struct {
	Type string `json:"type"`

	// message_start
	Message *EventMessage `json:"message,omitempty"`

	// content_block_start
	Index        *int          `json:"index,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`

	// content_block_delta
	Delta *Delta `json:"delta,omitempty"`

	// message_delta
	Usage *Usage `json:"usage,omitempty"`

	// error (synthetic, emitted mid-stream on a translation failure)
	Error *ErrorDetail `json:"error,omitempty"`

	// Raw holds the exact upstream "data:" payload bytes when an adapter is
	// doing byte-for-byte passthrough (the Anthropic-native adapter's SSE
	// stream). When set, SSEWriter.Send emits Raw
	// verbatim instead of re-marshaling the struct above it — this is the
	// "keep the raw JSON around as an escape hatch" design note from
	// , applied to the stream as well as the request/response body.
	Raw json.RawMessage `json:"-"`
}

// EventMessage is the message_start envelope: an AnthropicResponse with
// empty content and zero output tokens
type EventMessage struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Role    string         `json:"role"`
	Model   string         `json:"model"`
	Content []ContentBlock `json:"content"`
	Usage   Usage          `json:"usage"`
}

// Delta carries one of text_delta, input_json_delta, thinking_delta
// (content_block_delta) or stop_reason/usage (message_delta).
type Delta struct {
	Type         string `json:"type,omitempty"`
	Text         string `json:"text,omitempty"`          // text_delta
	PartialJSON  string `json:"partial_json,omitempty"`   // input_json_delta
	Thinking     string `json:"thinking,omitempty"`       // thinking_delta
	Signature    string `json:"signature,omitempty"`      // signature_delta
	StopReason   string `json:"stop_reason,omitempty"`    // message_delta
	StopSequence string `json:"stop_sequence,omitempty"`  // message_delta
}

// Event type names
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
	EventPing              = "ping"
)

// Delta type names.
const (
	DeltaText        = "text_delta"
	DeltaInputJSON   = "input_json_delta"
	DeltaThinking    = "thinking_delta"
	DeltaSignature   = "signature_delta"
)
