package openaiwire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccrouter/ccrouter/internal/wire"
)

func TestToWireRequest_SystemAndUserMessages(t *testing.T) {
	req := &ChatRequest{
		Model:     "gpt-4o",
		MaxTokens: 256,
		Messages: []Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
		},
	}

	out, err := ToWireRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "be terse", out.System.ConcatText())
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "hello", out.Messages[0].Content.FlattenText())
}

func TestToWireRequest_ToolCallsAndToolResults(t *testing.T) {
	req := &ChatRequest{
		Model: "gpt-4o",
		Messages: []Message{
			{Role: "user", Content: "what's the weather in nyc"},
			{Role: "assistant", ToolCalls: []ToolCall{
				{ID: "call_1", Type: "function", Function: ToolCallFunction{Name: "get_weather", Arguments: `{"city":"nyc"}`}},
			}},
			{Role: "tool", ToolCallID: "call_1", Content: "sunny, 72F"},
		},
		Tools: []ChatTool{
			{Type: "function", Function: ChatFunction{Name: "get_weather", Parameters: map[string]any{"type": "object"}}},
		},
	}

	out, err := ToWireRequest(req)
	require.NoError(t, err)
	require.Len(t, out.Tools, 1)
	assert.Equal(t, "get_weather", out.Tools[0].Name)

	// assistant's tool_use block and the trailing tool_result message
	require.Len(t, out.Messages, 3)
	assistantMsg := out.Messages[1]
	require.Len(t, assistantMsg.Content.Blocks, 1)
	assert.Equal(t, wire.BlockToolUse, assistantMsg.Content.Blocks[0].Type)
	assert.Equal(t, "call_1", assistantMsg.Content.Blocks[0].ID)

	toolResultMsg := out.Messages[2]
	require.Len(t, toolResultMsg.Content.Blocks, 1)
	assert.Equal(t, wire.BlockToolResult, toolResultMsg.Content.Blocks[0].Type)
	assert.Equal(t, "call_1", toolResultMsg.Content.Blocks[0].ToolUseID)
}

func TestFromWireResponse_TextAndToolCalls(t *testing.T) {
	resp := &wire.Response{
		ID:         "msg_1",
		Model:      "claude-x",
		StopReason: wire.StopToolUse,
		Content: []wire.ContentBlock{
			{Type: wire.BlockText, Text: "let me check"},
			{Type: wire.BlockToolUse, ID: "call_1", Name: "get_weather", Input: json.RawMessage(`{"city":"nyc"}`)},
		},
		Usage: wire.Usage{InputTokens: 10, OutputTokens: 5},
	}

	out := FromWireResponse(resp)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "let me check", out.Choices[0].Message.Content)
	require.Len(t, out.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", out.Choices[0].Message.ToolCalls[0].Function.Name)
	assert.Equal(t, "tool_calls", out.Choices[0].FinishReason)
	assert.Equal(t, 15, out.Usage.TotalTokens)
}

func TestTranslateStream_TextDeltas(t *testing.T) {
	events := make(chan wire.Event, 8)
	events <- wire.Event{Type: wire.EventMessageStart, Message: &wire.EventMessage{ID: "msg_1", Model: "claude-x", Usage: wire.Usage{InputTokens: 3}}}
	events <- wire.Event{Type: wire.EventContentBlockStart, Index: intPtr(0), ContentBlock: &wire.ContentBlock{Type: wire.BlockText}}
	events <- wire.Event{Type: wire.EventContentBlockDelta, Delta: &wire.Delta{Type: "text_delta", Text: "hi"}}
	events <- wire.Event{Type: wire.EventContentBlockStop}
	events <- wire.Event{Type: wire.EventMessageDelta, Delta: &wire.Delta{StopReason: wire.StopEndTurn}, Usage: &wire.Usage{OutputTokens: 2}}
	events <- wire.Event{Type: wire.EventMessageStop}
	close(events)

	var chunks []StreamChunk
	for c := range TranslateStream(events) {
		chunks = append(chunks, c)
	}

	require.NotEmpty(t, chunks)
	assert.Equal(t, "hi", chunks[0].Delta)
	last := chunks[len(chunks)-1]
	assert.True(t, last.Done)
	assert.Equal(t, "stop", last.FinishReason)
	assert.Equal(t, 5, last.Usage.TotalTokens)
}

func TestTranslateStream_ToolCallAccumulation(t *testing.T) {
	events := make(chan wire.Event, 8)
	events <- wire.Event{Type: wire.EventMessageStart, Message: &wire.EventMessage{ID: "msg_1", Model: "claude-x"}}
	events <- wire.Event{Type: wire.EventContentBlockStart, ContentBlock: &wire.ContentBlock{Type: wire.BlockToolUse, ID: "call_1", Name: "get_weather"}}
	events <- wire.Event{Type: wire.EventContentBlockDelta, Delta: &wire.Delta{Type: "input_json_delta", PartialJSON: `{"city":`}}
	events <- wire.Event{Type: wire.EventContentBlockDelta, Delta: &wire.Delta{Type: "input_json_delta", PartialJSON: `"nyc"}`}}
	events <- wire.Event{Type: wire.EventContentBlockStop}
	events <- wire.Event{Type: wire.EventMessageDelta, Delta: &wire.Delta{StopReason: wire.StopToolUse}}
	events <- wire.Event{Type: wire.EventMessageStop}
	close(events)

	var gotName string
	var gotArgs string
	for c := range TranslateStream(events) {
		if c.ToolCallDelta != nil {
			if c.ToolCallDelta.Name != "" {
				gotName = c.ToolCallDelta.Name
			}
			gotArgs += c.ToolCallDelta.ArgumentsAdd
		}
	}

	assert.Equal(t, "get_weather", gotName)
	assert.Equal(t, `{"city":"nyc"}`, gotArgs)
}

func intPtr(i int) *int { return &i }
