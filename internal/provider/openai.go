package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ccrouter/ccrouter/internal/rerr"
	"github.com/ccrouter/ccrouter/internal/tokenizer"
	"github.com/ccrouter/ccrouter/internal/wire"
)

// OpenAIAdapter is the `type = openai` adapter: it translates
// between internal/wire's Anthropic-shaped types and OpenAI's chat
// completions wire format, in both directions, for both request bodies and
// SSE streams. Unlike the Anthropic-native adapter this one
// can never do byte-for-byte passthrough — every field has to be understood
// and remapped, so cache_control and thinking configuration have nowhere to
// go and are dropped.
type OpenAIAdapter struct {
	name         string
	baseURL      string
	apiKey       string
	extraHeaders map[string]string
	estimator    *tokenizer.Estimator
	client       *http.Client
}

// OpenAIConfig configures an OpenAIAdapter.
type OpenAIConfig struct {
	Name         string
	BaseURL      string
	APIKey       string
	ExtraHeaders map[string]string
}

// NewOpenAIAdapter builds an OpenAIAdapter. estimator is used for
// CountTokens, since OpenAI-compatible upstreams have no equivalent of
// Anthropic's /messages/count_tokens endpoint.
func NewOpenAIAdapter(cfg OpenAIConfig, estimator *tokenizer.Estimator, client *http.Client) *OpenAIAdapter {
	return &OpenAIAdapter{
		name:         cfg.Name,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		extraHeaders: cfg.ExtraHeaders,
		estimator:    estimator,
		client:       client,
	}
}

func (o *OpenAIAdapter) Name() string { return o.name }

func (o *OpenAIAdapter) Supports(string) bool { return true }

// CountTokens estimates input tokens locally — OpenAI-compatible upstreams
// don't expose a dry-run counting endpoint, so the count comes from
// internal/tokenizer (as it does for the Gemini adapter).
func (o *OpenAIAdapter) CountTokens(_ context.Context, req *wire.Request, upstreamModel string) (wire.CountTokensResponse, error) {
	var sb strings.Builder
	sb.WriteString(req.System.ConcatText())
	for _, m := range req.Messages {
		sb.WriteString(m.Content.FlattenText())
	}
	est := o.estimator.Count(upstreamModel, sb.String())
	return wire.CountTokensResponse{InputTokens: est.InputTokens}, nil
}

// ---------------------------------------------------------------------------
// OpenAI chat-completions wire types (unexported — only this file uses them)
// ---------------------------------------------------------------------------

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	ToolChoice  any             `json:"tool_choice,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"` // string or []openaiContentPart
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openaiToolCall struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function openaiToolCallFunction `json:"function"`
}

type openaiToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiChatResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int            `json:"index"`
	Message      openaiMessage  `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage"`
}

type openaiStreamChoice struct {
	Index        int               `json:"index"`
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content   string                `json:"content,omitempty"`
	ToolCalls []openaiToolCallDelta `json:"tool_calls,omitempty"`
}

type openaiToolCallDelta struct {
	Index    int                         `json:"index"`
	ID       string                      `json:"id,omitempty"`
	Type     string                      `json:"type,omitempty"`
	Function openaiToolCallFunctionDelta `json:"function,omitempty"`
}

type openaiToolCallFunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toOpenAIRequest translates an Anthropic-shaped Request into OpenAI's chat
// completions format. thinking and cache_control have no OpenAI equivalent
// and are silently dropped.
func toOpenAIRequest(req *wire.Request, upstreamModel string) openaiChatRequest {
	out := openaiChatRequest{
		Model:         upstreamModel,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		Stop:          req.StopSequences,
	}

	if sysText := req.System.ConcatText(); sysText != "" {
		out.Messages = append(out.Messages, openaiMessage{Role: "system", Content: sysText})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, translateMessageToOpenAI(m)...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	if req.ToolChoice != nil {
		out.ToolChoice = translateToolChoice(req.ToolChoice)
	}
	return out
}

func translateToolChoice(tc *wire.ToolChoice) any {
	switch tc.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "none":
		return "none"
	case "tool":
		return map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tc.Name},
		}
	default:
		return "auto"
	}
}

// translateMessageToOpenAI turns one Anthropic message into zero or more
// OpenAI messages: tool_result blocks become standalone {role: "tool"}
// messages (OpenAI has no equivalent of an inline tool result block), and
// tool_use blocks become ToolCalls on the enclosing assistant message.
func translateMessageToOpenAI(m wire.Message) []openaiMessage {
	if m.Content.IsText {
		return []openaiMessage{{Role: m.Role, Content: m.Content.Text}}
	}

	var parts []openaiContentPart
	var toolCalls []openaiToolCall
	var toolMessages []openaiMessage

	for _, b := range m.Content.Blocks {
		switch b.Type {
		case wire.BlockText:
			parts = append(parts, openaiContentPart{Type: "text", Text: b.Text})
		case wire.BlockImage:
			parts = append(parts, openaiContentPart{Type: "image_url", ImageURL: &openaiImageURL{URL: imageDataURL(b.Source)}})
		case wire.BlockToolUse:
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, openaiToolCall{
				ID:   b.ID,
				Type: "function",
				Function: openaiToolCallFunction{
					Name:      b.Name,
					Arguments: args,
				},
			})
		case wire.BlockToolResult:
			toolMessages = append(toolMessages, openaiMessage{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    toolResultText(b.Content),
			})
		case wire.BlockThinking:
			// no OpenAI equivalent; dropped.
		}
	}

	var out []openaiMessage
	if len(parts) > 0 || len(toolCalls) > 0 {
		msg := openaiMessage{Role: m.Role, ToolCalls: toolCalls}
		switch {
		case len(parts) == 1 && parts[0].Type == "text":
			msg.Content = parts[0].Text
		case len(parts) > 0:
			msg.Content = parts
		}
		out = append(out, msg)
	}
	out = append(out, toolMessages...)
	return out
}

func imageDataURL(src *wire.ImageSource) string {
	if src == nil {
		return ""
	}
	if src.Type == "url" {
		return src.URL
	}
	return fmt.Sprintf("data:%s;base64,%s", src.MediaType, src.Data)
}

func toolResultText(c *wire.ToolResultContent) string {
	if c == nil {
		return ""
	}
	if c.IsText {
		return c.Text
	}
	var sb strings.Builder
	for _, b := range c.Blocks {
		if b.Type == wire.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Response translation
// ---------------------------------------------------------------------------

// finishReasonToStopReason maps OpenAI's finish_reason to Anthropic's
// stop_reason.
func finishReasonToStopReason(finish string) string {
	switch finish {
	case "length":
		return wire.StopMaxTokens
	case "tool_calls":
		return wire.StopToolUse
	case "content_filter":
		return wire.StopEndTurn
	default:
		return wire.StopEndTurn
	}
}

// toAnthropicResponse translates a non-streaming OpenAI response into
// Anthropic's Response shape: one text block (if any) followed by one
// tool_use block per tool call, in index order.
func toAnthropicResponse(resp openaiChatResponse, model string) *wire.Response {
	out := &wire.Response{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: model,
		Usage: wire.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.StopReason = finishReasonToStopReason(choice.FinishReason)

	if text, ok := choice.Message.Content.(string); ok && text != "" {
		out.Content = append(out.Content, wire.ContentBlock{Type: wire.BlockText, Text: text})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Content = append(out.Content, wire.ContentBlock{
			Type:  wire.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	if len(choice.Message.ToolCalls) > 0 {
		out.StopReason = wire.StopToolUse
	}
	return out
}

// ---------------------------------------------------------------------------
// Send / SendStream
// ---------------------------------------------------------------------------

func (o *OpenAIAdapter) Send(ctx context.Context, req *wire.Request, upstreamModel, _ string) (*wire.Response, error) {
	outbound := toOpenAIRequest(req, upstreamModel)
	outbound.Stream = false

	body, err := json.Marshal(outbound)
	if err != nil {
		return nil, fmt.Errorf("marshaling openai request: %w", err)
	}

	httpResp, err := o.do(ctx, body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if err := o.checkStatus(httpResp); err != nil {
		return nil, err
	}

	var parsed openaiChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, rerr.Protocol("decoding openai response", err)
	}
	return toAnthropicResponse(parsed, req.Model), nil
}

// SendStream translates the OpenAI SSE stream into Anthropic SSE events
// through the accumulation state machine in streamTranslator. Every
// wire.Event here is fully structured (no Raw passthrough) — unlike the
// Anthropic-native adapter, this one reconstructs every event.
func (o *OpenAIAdapter) SendStream(ctx context.Context, req *wire.Request, upstreamModel, _ string) (<-chan wire.Event, error) {
	outbound := toOpenAIRequest(req, upstreamModel)
	outbound.Stream = true

	body, err := json.Marshal(outbound)
	if err != nil {
		return nil, fmt.Errorf("marshaling openai request: %w", err)
	}

	httpResp, err := o.do(ctx, body)
	if err != nil {
		return nil, err
	}
	if err := o.checkStatus(httpResp); err != nil {
		httpResp.Body.Close()
		return nil, err
	}

	ch := make(chan wire.Event)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

		tr := newStreamTranslator(req.Model)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				break
			}

			var chunk openaiStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				emit(ctx, ch, wire.Event{Type: wire.EventError, Error: &wire.ErrorDetail{Type: "api_error", Message: err.Error()}})
				return
			}
			for _, ev := range tr.onChunk(chunk) {
				if !emit(ctx, ch, ev) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			emit(ctx, ch, wire.Event{Type: wire.EventError, Error: &wire.ErrorDetail{Type: "api_error", Message: err.Error()}})
			return
		}
		for _, ev := range tr.finish() {
			if !emit(ctx, ch, ev) {
				return
			}
		}
	}()

	return ch, nil
}

func emit(ctx context.Context, ch chan<- wire.Event, ev wire.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *OpenAIAdapter) do(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range o.extraHeaders {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, rerr.Transient(o.name, err)
	}
	return httpResp, nil
}

func (o *OpenAIAdapter) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	raw := make([]byte, 0, 512)
	buf := bytes.NewBuffer(raw)
	buf.ReadFrom(io.LimitReader(resp.Body, 64*1024))

	var envelope openaiErrorEnvelope
	message := buf.String()
	if err := json.Unmarshal(buf.Bytes(), &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	if resp.StatusCode >= 500 {
		return rerr.Transient(o.name, fmt.Errorf("status %d: %s", resp.StatusCode, message))
	}
	return rerr.Rejected(resp.StatusCode, rerr.AnthropicTypeForStatus(resp.StatusCode), message, nil)
}

// ---------------------------------------------------------------------------
// Streaming accumulation state machine
// ---------------------------------------------------------------------------

// streamTranslator owns the per-stream state needed to turn OpenAI's flat
// delta stream into Anthropic's indexed content-block grammar: a text block
// opens lazily on the first content delta, and each distinct tool_calls[i]
// index opens its own tool_use block the first time it's seen, buffering
// function.arguments chunks as input_json_delta events.
type streamTranslator struct {
	model string

	started      bool
	nextIndex    int
	textIndex    int
	textOpen     bool
	toolIndex    map[int]int // openai tool_calls[i].Index -> our content block index
	toolOpen     map[int]bool
	finishReason string
	usage        *openaiUsage
}

func newStreamTranslator(model string) *streamTranslator {
	return &streamTranslator{
		model:     model,
		textIndex: -1,
		toolIndex: make(map[int]int),
		toolOpen:  make(map[int]bool),
	}
}

func (tr *streamTranslator) onChunk(chunk openaiStreamChunk) []wire.Event {
	var events []wire.Event

	if !tr.started {
		tr.started = true
		events = append(events, wire.Event{
			Type: wire.EventMessageStart,
			Message: &wire.EventMessage{
				ID:      chunk.ID,
				Type:    "message",
				Role:    "assistant",
				Model:   tr.model,
				Content: []wire.ContentBlock{},
			},
		})
	}

	if chunk.Usage != nil {
		tr.usage = chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return events
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if !tr.textOpen {
			tr.textIndex = tr.nextIndex
			tr.nextIndex++
			tr.textOpen = true
			idx := tr.textIndex
			events = append(events, wire.Event{
				Type:         wire.EventContentBlockStart,
				Index:        &idx,
				ContentBlock: &wire.ContentBlock{Type: wire.BlockText},
			})
		}
		idx := tr.textIndex
		events = append(events, wire.Event{
			Type:  wire.EventContentBlockDelta,
			Index: &idx,
			Delta: &wire.Delta{Type: wire.DeltaText, Text: choice.Delta.Content},
		})
	}

	for _, tc := range choice.Delta.ToolCalls {
		idx, known := tr.toolIndex[tc.Index]
		if !known {
			idx = tr.nextIndex
			tr.nextIndex++
			tr.toolIndex[tc.Index] = idx
			tr.toolOpen[tc.Index] = true
			blockIdx := idx
			events = append(events, wire.Event{
				Type:  wire.EventContentBlockStart,
				Index: &blockIdx,
				ContentBlock: &wire.ContentBlock{
					Type: wire.BlockToolUse,
					ID:   tc.ID,
					Name: tc.Function.Name,
				},
			})
		}
		if tc.Function.Arguments != "" {
			blockIdx := idx
			events = append(events, wire.Event{
				Type:  wire.EventContentBlockDelta,
				Index: &blockIdx,
				Delta: &wire.Delta{Type: wire.DeltaInputJSON, PartialJSON: tc.Function.Arguments},
			})
		}
	}

	if choice.FinishReason != nil {
		tr.finishReason = *choice.FinishReason
	}
	return events
}

// finish closes every open content block in the order it was opened and
// emits the terminal message_delta/message_stop pair.
func (tr *streamTranslator) finish() []wire.Event {
	var events []wire.Event

	var ordered []int
	if tr.textOpen {
		ordered = append(ordered, tr.textIndex)
	}
	for oaiIdx, idx := range tr.toolIndex {
		if tr.toolOpen[oaiIdx] {
			ordered = append(ordered, idx)
		}
	}
	sortInts(ordered)
	for _, idx := range ordered {
		i := idx
		events = append(events, wire.Event{Type: wire.EventContentBlockStop, Index: &i})
	}

	stopReason := wire.StopEndTurn
	switch {
	case len(tr.toolIndex) > 0:
		stopReason = wire.StopToolUse
	case tr.finishReason == "length":
		stopReason = wire.StopMaxTokens
	}

	var usage *wire.Usage
	if tr.usage != nil {
		usage = &wire.Usage{InputTokens: tr.usage.PromptTokens, OutputTokens: tr.usage.CompletionTokens}
	}
	events = append(events, wire.Event{
		Type:  wire.EventMessageDelta,
		Delta: &wire.Delta{StopReason: stopReason},
		Usage: usage,
	})
	events = append(events, wire.Event{Type: wire.EventMessageStop})
	return events
}

// sortInts is a tiny insertion sort — content blocks are always single
// digits in practice (one text block plus a handful of tool calls), so
// pulling in sort.Ints for this would be overkill.
func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
