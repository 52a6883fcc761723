package openaiwire

import (
	"encoding/json"
	"fmt"

	"github.com/ccrouter/ccrouter/internal/wire"
)

// ToWireRequest translates an inbound OpenAI-shaped chat completion request
// into the canonical wire.Request the dispatcher and every provider adapter
// understand. This is the inverse of internal/provider/openai.go's
// toOpenAIRequest — the same translation, run backwards, for clients that
// speak OpenAI chat-completions against a model mapping instead of the
// pinned Anthropic client.
func ToWireRequest(req *ChatRequest) (*wire.Request, error) {
	out := &wire.Request{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Stream:        req.Stream,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = 4096
	}

	toolResults := map[string]string{} // tool_call_id -> result text, folded into a trailing user turn

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			out.System = &wire.SystemField{Text: m.Content}
		case "tool":
			toolResults[m.ToolCallID] = m.Content
		case "assistant":
			msg := wire.Message{Role: "assistant"}
			var blocks []wire.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, wire.ContentBlock{Type: wire.BlockText, Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, wire.ContentBlock{
					Type:  wire.BlockToolUse,
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: json.RawMessage(tc.Function.Arguments),
				})
			}
			msg.Content = wire.ContentOrBlocks{Blocks: blocks}
			out.Messages = append(out.Messages, msg)
		default: // "user"
			msg := wire.Message{Role: "user", Content: wire.ContentOrBlocks{Text: m.Content, IsText: true}}
			out.Messages = append(out.Messages, msg)
		}
	}

	// Fold any tool results collected above into standalone tool_result
	// blocks on a trailing user turn — OpenAI's flat {role: "tool"}
	// messages have no Anthropic equivalent role, so they become
	// tool_result content blocks on a synthetic user message instead.
	if len(toolResults) > 0 {
		var blocks []wire.ContentBlock
		for id, text := range toolResults {
			blocks = append(blocks, wire.ContentBlock{
				Type:      wire.BlockToolResult,
				ToolUseID: id,
				Content:   &wire.ToolResultContent{Text: text, IsText: true},
			})
		}
		out.Messages = append(out.Messages, wire.Message{Role: "user", Content: wire.ContentOrBlocks{Blocks: blocks}})
	}

	for _, t := range req.Tools {
		schema, err := json.Marshal(t.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshaling tool parameters: %w", err)
		}
		out.Tools = append(out.Tools, wire.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}

	return out, nil
}

// FromWireResponse translates a complete wire.Response into the OpenAI
// chat-completion shape the secondary endpoint's non-streaming callers
// expect.
func FromWireResponse(resp *wire.Response) ChatResponse {
	msg := Message{Role: "assistant"}
	var toolCalls []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case wire.BlockText:
			msg.Content += block.Text
		case wire.BlockToolUse:
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}
	msg.ToolCalls = toolCalls

	return ChatResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []ChatChoice{
			{Index: 0, Message: msg, FinishReason: stopReasonToFinishReason(resp.StopReason)},
		},
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func stopReasonToFinishReason(stopReason string) string {
	switch stopReason {
	case wire.StopMaxTokens:
		return "length"
	case wire.StopToolUse:
		return "tool_calls"
	default:
		return "stop"
	}
}

// eventTranslator accumulates Anthropic SSE events and re-emits them as
// OpenAI StreamChunks, the mirror image of provider.streamTranslator's job
// (wire.Event in, StreamChunk out, instead of the reverse).
type eventTranslator struct {
	messageID    string
	model        string
	usage        Usage
	openToolCall bool
	toolCallIdx  int
	finished     bool
}

// TranslateStream drains wire events and emits OpenAI-shaped StreamChunks,
// closing the output channel once the input is drained. Run in its own
// goroutine by the httpapi handler, same producer/consumer shape the
// provider adapters use for their own streaming translation.
func TranslateStream(events <-chan wire.Event) <-chan StreamChunk {
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		tr := &eventTranslator{}
		for ev := range events {
			if ev.Raw != nil {
				// Anthropic-native adapters pass the upstream payload through
				// in Raw only; decode it so the typed fields are populated.
				_ = json.Unmarshal(ev.Raw, &ev)
			}
			for _, chunk := range tr.onEvent(ev) {
				out <- chunk
			}
		}
	}()
	return out
}

func (t *eventTranslator) onEvent(ev wire.Event) []StreamChunk {
	switch ev.Type {
	case wire.EventMessageStart:
		if ev.Message != nil {
			t.messageID = ev.Message.ID
			t.model = ev.Message.Model
			t.usage.PromptTokens = ev.Message.Usage.InputTokens
		}
		return nil

	case wire.EventContentBlockStart:
		if ev.ContentBlock != nil && ev.ContentBlock.Type == wire.BlockToolUse {
			t.openToolCall = true
			chunk := StreamChunk{
				ID: t.messageID, Model: t.model,
				ToolCallDelta: &ToolCallDelta{Index: t.toolCallIdx, ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name},
			}
			return []StreamChunk{chunk}
		}
		return nil

	case wire.EventContentBlockDelta:
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []StreamChunk{{ID: t.messageID, Model: t.model, Delta: ev.Delta.Text}}
		case "input_json_delta":
			return []StreamChunk{{
				ID: t.messageID, Model: t.model,
				ToolCallDelta: &ToolCallDelta{Index: t.toolCallIdx, ArgumentsAdd: ev.Delta.PartialJSON},
			}}
		}
		return nil

	case wire.EventContentBlockStop:
		if t.openToolCall {
			t.openToolCall = false
			t.toolCallIdx++
		}
		return nil

	case wire.EventMessageDelta:
		if ev.Usage != nil {
			t.usage.CompletionTokens = ev.Usage.OutputTokens
			t.usage.TotalTokens = t.usage.PromptTokens + t.usage.CompletionTokens
		}
		finish := ""
		if ev.Delta != nil {
			finish = stopReasonToFinishReason(ev.Delta.StopReason)
		}
		t.finished = true
		return []StreamChunk{{ID: t.messageID, Model: t.model, Done: true, FinishReason: finish, Usage: &t.usage}}

	case wire.EventMessageStop:
		// A stream that carried no message_delta still ends with one
		// finishing chunk.
		if t.finished {
			return nil
		}
		t.finished = true
		return []StreamChunk{{ID: t.messageID, Model: t.model, Done: true, FinishReason: "stop", Usage: &t.usage}}

	case wire.EventError:
		msg := "upstream stream error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		return []StreamChunk{{ID: t.messageID, Model: t.model, Error: fmt.Errorf("%s", msg)}}

	default:
		return nil
	}
}
