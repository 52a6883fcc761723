package openaiwire

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// sseChunk is the top-level JSON object OpenAI-compatible clients expect in
// each SSE event:
//   data: {"id":"...","object":"chat.completion.chunk","choices":[{"delta":{"content":"Hi"}}]}
type sseChunk struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Model   string      `json:"model"`
	Choices []sseChoice `json:"choices"`
	Usage   *sseUsage   `json:"usage,omitempty"`
}

type sseChoice struct {
	Index        int      `json:"index"`
	Delta        sseDelta `json:"delta"`
	FinishReason *string  `json:"finish_reason"`
}

type sseDelta struct {
	Content   string          `json:"content,omitempty"`
	ToolCalls []sseToolCallDelta `json:"tool_calls,omitempty"`
}

type sseToolCallDelta struct {
	Index    int                  `json:"index"`
	ID       string               `json:"id,omitempty"`
	Type     string               `json:"type,omitempty"`
	Function sseToolCallFunction `json:"function"`
}

type sseToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type sseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Write reads StreamChunks from the channel and writes them to w as
// OpenAI-compatible Server-Sent Events, terminating with the "[DONE]"
// sentinel every OpenAI SDK looks for.
func Write(w http.ResponseWriter, chunks <-chan StreamChunk) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for chunk := range chunks {
		if chunk.Error != nil {
			slog.Error("openai stream error", "error", chunk.Error)
			return chunk.Error
		}

		event := sseChunk{
			ID:     chunk.ID,
			Object: "chat.completion.chunk",
			Model:  chunk.Model,
			Choices: []sseChoice{
				{Index: 0, Delta: buildDelta(chunk)},
			},
		}

		if chunk.Done {
			if chunk.Delta != "" || chunk.ToolCallDelta != nil {
				if err := writeEvent(w, flusher, event); err != nil {
					return err
				}
			}

			reason := chunk.FinishReason
			if reason == "" {
				reason = "stop"
			}
			event.Choices[0].FinishReason = &reason
			event.Choices[0].Delta = sseDelta{}

			if chunk.Usage != nil {
				event.Usage = &sseUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
		}

		if err := writeEvent(w, flusher, event); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("writing SSE done marker: %w", err)
	}
	flusher.Flush()

	return nil
}

func buildDelta(chunk StreamChunk) sseDelta {
	d := sseDelta{Content: chunk.Delta}
	if tc := chunk.ToolCallDelta; tc != nil {
		d.ToolCalls = []sseToolCallDelta{{
			Index: tc.Index,
			ID:    tc.ID,
			Type:  "function",
			Function: sseToolCallFunction{
				Name:      tc.Name,
				Arguments: tc.ArgumentsAdd,
			},
		}}
	}
	return d
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event sseChunk) error {
	jsonBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling SSE chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonBytes); err != nil {
		return fmt.Errorf("writing SSE event: %w", err)
	}
	flusher.Flush()
	return nil
}
