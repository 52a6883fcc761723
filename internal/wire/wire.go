// Package wire is the typed representation of the Anthropic Messages API
// wire format: requests, responses, and the content-block union that both
// carry. Every provider adapter translates to and from these types; the
// dispatcher never sees a provider-native shape.
package wire

import "encoding/json"

// Request is the canonical inbound shape for POST /v1/messages and
// POST /v1/messages/count_tokens. Unknown top-level fields are not
// preserved: they are dropped on decode, and adapters (the Anthropic-native
// one included) marshal this struct, so they do not reach the upstream.
// Unknown fields inside content blocks survive through ContentBlock's raw
// JSON.
type Request struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Messages      []Message       `json:"messages"`
	System        *SystemField    `json:"system,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking      *Thinking       `json:"thinking,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// Thinking carries Anthropic's extended-thinking / reasoning configuration.
type Thinking struct {
	Type         string `json:"type"` // "enabled" | "disabled"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Tool is a single tool declaration in AnthropicRequest.Tools.
type Tool struct {
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice mirrors Anthropic's {type, name} tool_choice object.
type ToolChoice struct {
	Type string `json:"type"` // "auto" | "any" | "tool" | "none"
	Name string `json:"name,omitempty"`
}

// Message is one turn in the conversation. Content is either a plain string
// or a sequence of ContentBlock; MarshalJSON/UnmarshalJSON on ContentOrBlocks pick
// the right shape based on what was actually on the wire.
type Message struct {
	Role    string         `json:"role"`
	Content ContentOrBlocks `json:"content"`
}

// SystemField mirrors Message.Content: a bare string or a sequence of
// SystemBlock (each of which may itself carry cache_control).
type SystemField struct {
	Text   string
	Blocks []SystemBlock
}

// SystemBlock is one element of a structured system prompt.
type SystemBlock struct {
	Type         string          `json:"type"`
	Text         string          `json:"text"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

// ConcatText returns the system prompt as a single string, concatenating
// block text in order. Used by the router's subagent-marker scan and by
// adapters (like OpenAI's) that only understand a flat system string.
func (s *SystemField) ConcatText() string {
	if s == nil {
		return ""
	}
	if s.Blocks == nil {
		return s.Text
	}
	out := ""
	for _, b := range s.Blocks {
		out += b.Text
	}
	return out
}

func (s *SystemField) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	if s.Blocks != nil {
		return json.Marshal(s.Blocks)
	}
	return json.Marshal(s.Text)
}

func (s *SystemField) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Text = str
		s.Blocks = nil
		return nil
	}
	var blocks []SystemBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	s.Blocks = blocks
	return nil
}

// ContentOrBlocks mirrors Message.Content: either a bare string (the common
// single-turn-text shape) or a sequence of ContentBlock.
type ContentOrBlocks struct {
	Text   string
	Blocks []ContentBlock
	IsText bool
}

func (c ContentOrBlocks) MarshalJSON() ([]byte, error) {
	if c.IsText {
		return json.Marshal(c.Text)
	}
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

func (c *ContentOrBlocks) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		c.Text = str
		c.IsText = true
		c.Blocks = nil
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	c.Blocks = blocks
	c.IsText = false
	return nil
}

// FlattenText flattens any ContentOrBlocks down to its text content, concatenating
// text blocks and ignoring non-text ones. Used by adapters that need a flat
// string (OpenAI, Gemini) rather than Anthropic's structured blocks.
func (c ContentOrBlocks) FlattenText() string {
	if c.IsText {
		return c.Text
	}
	out := ""
	for _, b := range c.Blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// BlockType enumerates the ContentBlock tagged-union discriminants this
// proxy understands. Anything else is preserved via Raw on passthrough.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockThinking   = "thinking"
)

// ContentBlock is the open tagged union of Anthropic content block variants.
// Raw retains the original JSON for this block so Anthropic-native
// passthrough adapters can re-emit unknown/future block types and arbitrary
// unknown fields byte-identically (modulo key order) rather than dropping
// them on a round trip.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text         string          `json:"text,omitempty"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   *ToolResultContent `json:"content,omitempty"`
	IsError   bool             `json:"is_error,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Raw holds the exact bytes this block was decoded from, used by
	// Anthropic-native passthrough to re-marshal byte-identically instead
	// of round-tripping through the typed fields above (which would drop
	// any field this struct doesn't know about).
	Raw json.RawMessage `json:"-"`
}

// ToolResultContent mirrors tool_result's content: string or block sequence.
type ToolResultContent struct {
	Text   string
	Blocks []ContentBlock
	IsText bool
}

func (t ToolResultContent) MarshalJSON() ([]byte, error) {
	if t.IsText {
		return json.Marshal(t.Text)
	}
	return json.Marshal(t.Blocks)
}

func (t *ToolResultContent) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		t.Text = str
		t.IsText = true
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	t.Blocks = blocks
	t.IsText = false
	return nil
}

// ImageSource is the {type, media_type, data|url} object on an image block.
type ImageSource struct {
	Type      string `json:"type"` // "base64" | "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// contentBlockAlias avoids infinite recursion in (Un)MarshalJSON below.
type contentBlockAlias ContentBlock

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	if b.Raw != nil {
		return b.Raw, nil
	}
	return json.Marshal(contentBlockAlias(b))
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var alias contentBlockAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*b = ContentBlock(alias)
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	b.Raw = raw
	return nil
}

// Response is the AnthropicResponse shape returned by POST /v1/messages
// for non-streaming requests, and the logical accumulation target for
// streamed ones.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"` // "message"
	Role         string         `json:"role"` // "assistant"
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// Stop reason values.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopStopSequence = "stop_sequence"
	StopToolUse      = "tool_use"
)

// Usage is the Anthropic usage envelope.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// CountTokensResponse is the body of POST /v1/messages/count_tokens.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// ErrorEnvelope is Anthropic's error response shape, used for every
// user-visible failure so the pinned client's error handling is unchanged
// regardless of which upstream actually failed.
type ErrorEnvelope struct {
	Type  string      `json:"type"` // always "error"
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the Anthropic error `type` (authentication_error,
// permission_error, not_found_error, rate_limit_error, invalid_request_error,
// api_error) plus a human-readable message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
