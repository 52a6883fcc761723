package openaiwire

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
)

func sendChunks(chunks ...StreamChunk) <-chan StreamChunk {
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			ch <- c
		}
	}()
	return ch
}

func parseSSEEvents(body string) []string {
	var events []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			payload := strings.TrimPrefix(line, "data: ")
			if payload != "[DONE]" {
				events = append(events, payload)
			}
		}
	}
	return events
}

func TestWrite_MultipleChunks(t *testing.T) {
	ch := sendChunks(
		StreamChunk{Model: "test-model", Delta: "Hello"},
		StreamChunk{Model: "test-model", Delta: " world"},
		StreamChunk{Model: "test-model", Done: true, Usage: &Usage{
			PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7,
		}},
	)

	w := httptest.NewRecorder()
	if err := Write(w, ch); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want %q", cc, "no-cache")
	}

	body := w.Body.String()
	if !strings.Contains(body, "data: [DONE]") {
		t.Error("missing [DONE] sentinel")
	}

	events := parseSSEEvents(body)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	var first sseChunk
	if err := json.Unmarshal([]byte(events[0]), &first); err != nil {
		t.Fatalf("failed to parse event 0: %v", err)
	}
	if first.Choices[0].Delta.Content != "Hello" {
		t.Errorf("event 0 content = %q, want %q", first.Choices[0].Delta.Content, "Hello")
	}
	if first.Choices[0].FinishReason != nil {
		t.Errorf("event 0 finish_reason = %v, want nil", *first.Choices[0].FinishReason)
	}

	var third sseChunk
	if err := json.Unmarshal([]byte(events[2]), &third); err != nil {
		t.Fatalf("failed to parse event 2: %v", err)
	}
	if third.Choices[0].FinishReason == nil || *third.Choices[0].FinishReason != "stop" {
		t.Error("event 2 should have finish_reason=stop")
	}
	if third.Usage == nil || third.Usage.TotalTokens != 7 {
		t.Error("event 2 should have usage with total_tokens=7")
	}
}

func TestWrite_FinalChunkWithContent(t *testing.T) {
	ch := sendChunks(
		StreamChunk{
			Model: "test-model",
			Delta: "Paris is the capital.",
			Done:  true,
			Usage: &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	)

	w := httptest.NewRecorder()
	if err := Write(w, ch); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	events := parseSSEEvents(w.Body.String())
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	var content sseChunk
	if err := json.Unmarshal([]byte(events[0]), &content); err != nil {
		t.Fatalf("failed to parse content event: %v", err)
	}
	if content.Choices[0].Delta.Content != "Paris is the capital." {
		t.Errorf("content = %q, want %q", content.Choices[0].Delta.Content, "Paris is the capital.")
	}
	if content.Choices[0].FinishReason != nil {
		t.Error("content event should not have finish_reason")
	}

	var finish sseChunk
	if err := json.Unmarshal([]byte(events[1]), &finish); err != nil {
		t.Fatalf("failed to parse finish event: %v", err)
	}
	if finish.Choices[0].FinishReason == nil || *finish.Choices[0].FinishReason != "stop" {
		t.Error("finish event should have finish_reason=stop")
	}
	if finish.Usage == nil || finish.Usage.TotalTokens != 15 {
		t.Error("finish event should have usage with total_tokens=15")
	}
}

func TestWrite_MidStreamError(t *testing.T) {
	ch := sendChunks(
		StreamChunk{Model: "test-model", Delta: "partial"},
		StreamChunk{Done: true, Error: fmt.Errorf("connection reset")},
	)

	w := httptest.NewRecorder()
	err := Write(w, ch)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("error = %q, want it to contain %q", err.Error(), "connection reset")
	}
	if strings.Contains(w.Body.String(), "[DONE]") {
		t.Error("errored stream should not contain [DONE]")
	}
}

func TestWrite_ToolCallDelta(t *testing.T) {
	ch := sendChunks(
		StreamChunk{Model: "m", ToolCallDelta: &ToolCallDelta{Index: 0, ID: "call_1", Name: "get_weather"}},
		StreamChunk{Model: "m", ToolCallDelta: &ToolCallDelta{Index: 0, ArgumentsAdd: `{"city":"SF"}`}},
		StreamChunk{Model: "m", Done: true, FinishReason: "tool_calls"},
	)

	w := httptest.NewRecorder()
	if err := Write(w, ch); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	events := parseSSEEvents(w.Body.String())
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	var first sseChunk
	if err := json.Unmarshal([]byte(events[0]), &first); err != nil {
		t.Fatalf("failed to parse event 0: %v", err)
	}
	if len(first.Choices[0].Delta.ToolCalls) != 1 || first.Choices[0].Delta.ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("event 0 should carry the tool call name, got %+v", first.Choices[0].Delta.ToolCalls)
	}

	var last sseChunk
	if err := json.Unmarshal([]byte(events[2]), &last); err != nil {
		t.Fatalf("failed to parse event 2: %v", err)
	}
	if last.Choices[0].FinishReason == nil || *last.Choices[0].FinishReason != "tool_calls" {
		t.Error("final event should have finish_reason=tool_calls")
	}
}

func TestWrite_SSEFormat(t *testing.T) {
	ch := sendChunks(
		StreamChunk{Model: "m", Delta: "hi"},
		StreamChunk{Model: "m", Done: true},
	)

	w := httptest.NewRecorder()
	if err := Write(w, ch); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	body := w.Body.String()
	if !strings.Contains(body, "data: [DONE]\n\n") {
		t.Error("missing properly formatted [DONE] sentinel")
	}

	parts := strings.Split(body, "\n\n")
	nonEmpty := 0
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty++
		}
	}
	if nonEmpty != 3 {
		t.Errorf("got %d SSE events, want 3 (content + finish + DONE)", nonEmpty)
	}
}
