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

// GeminiAdapter is the `type = gemini` adapter, mapped onto Google's
// generateContent/streamGenerateContent surface. Shape
// mirrors OpenAIAdapter closely — same lazy-block streaming state machine —
// but the wire format and auth placement (API key as a query parameter,
// not a header) are Gemini's own.
type GeminiAdapter struct {
	name      string
	baseURL   string
	apiKey    string
	estimator *tokenizer.Estimator
	client    *http.Client
}

// GeminiConfig configures a GeminiAdapter.
type GeminiConfig struct {
	Name    string
	BaseURL string
	APIKey  string
}

func NewGeminiAdapter(cfg GeminiConfig, estimator *tokenizer.Estimator, client *http.Client) *GeminiAdapter {
	return &GeminiAdapter{
		name:      cfg.Name,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		estimator: estimator,
		client:    client,
	}
}

func (g *GeminiAdapter) Name() string { return g.name }

func (g *GeminiAdapter) Supports(string) bool { return true }

func (g *GeminiAdapter) CountTokens(_ context.Context, req *wire.Request, upstreamModel string) (wire.CountTokensResponse, error) {
	var sb strings.Builder
	sb.WriteString(req.System.ConcatText())
	for _, m := range req.Messages {
		sb.WriteString(m.Content.FlattenText())
	}
	est := g.estimator.Count(upstreamModel, sb.String())
	return wire.CountTokensResponse{InputTokens: est.InputTokens}, nil
}

// ---------------------------------------------------------------------------
// Gemini wire types (unexported — only this file uses them)
// ---------------------------------------------------------------------------

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiToolDecl        `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiInlineData       `json:"inline_data,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiToolDecl struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

func toGeminiRequest(req *wire.Request) *geminiRequest {
	gr := &geminiRequest{}

	if sysText := req.System.ConcatText(); sysText != "" {
		gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sysText}}}
	}

	for _, m := range req.Messages {
		gr.Contents = append(gr.Contents, translateContentToGemini(m))
	}

	for _, t := range req.Tools {
		gr.Tools = append(gr.Tools, geminiToolDecl{
			FunctionDeclarations: []geminiFunctionDecl{{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			}},
		})
	}

	if req.MaxTokens > 0 || req.Temperature != nil || req.TopP != nil || len(req.StopSequences) > 0 {
		gr.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			StopSequences:   req.StopSequences,
		}
	}
	return gr
}

// translateContentToGemini maps one Anthropic message to one Gemini content
// entry. tool_result blocks become functionResponse parts and tool_use
// blocks become functionCall parts, both inline in the same content (Gemini,
// unlike OpenAI, has no separate "tool" role).
func translateContentToGemini(m wire.Message) geminiContent {
	role := m.Role
	if role == "assistant" {
		role = "model"
	}

	if m.Content.IsText {
		return geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content.Text}}}
	}

	var parts []geminiPart
	for _, b := range m.Content.Blocks {
		switch b.Type {
		case wire.BlockText:
			parts = append(parts, geminiPart{Text: b.Text})
		case wire.BlockImage:
			if b.Source != nil && b.Source.Type == "base64" {
				parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: b.Source.MediaType, Data: b.Source.Data}})
			}
		case wire.BlockToolUse:
			parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: b.Name, Args: b.Input}})
		case wire.BlockToolResult:
			resp := toolResultText(b.Content)
			parts = append(parts, geminiPart{FunctionResponse: &geminiFunctionResponse{
				Name:     b.ToolUseID,
				Response: json.RawMessage(fmt.Sprintf(`{"result":%q}`, resp)),
			}})
		case wire.BlockThinking:
			// no Gemini equivalent; dropped.
		}
	}
	return geminiContent{Role: role, Parts: parts}
}

// ---------------------------------------------------------------------------
// Response translation
// ---------------------------------------------------------------------------

func geminiFinishToStopReason(finish string) string {
	switch finish {
	case "MAX_TOKENS":
		return wire.StopMaxTokens
	case "SAFETY":
		return wire.StopEndTurn
	default:
		return wire.StopEndTurn
	}
}

func toAnthropicResponseFromGemini(resp geminiResponse, model string) *wire.Response {
	out := &wire.Response{Type: "message", Role: "assistant", Model: model, StopReason: wire.StopEndTurn}
	if resp.UsageMetadata != nil {
		out.Usage = wire.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}
	if len(resp.Candidates) == 0 {
		return out
	}
	candidate := resp.Candidates[0]
	out.StopReason = geminiFinishToStopReason(candidate.FinishReason)

	hasToolCall := false
	for _, p := range candidate.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			hasToolCall = true
			out.Content = append(out.Content, wire.ContentBlock{
				Type:  wire.BlockToolUse,
				Name:  p.FunctionCall.Name,
				Input: p.FunctionCall.Args,
			})
		case p.Text != "":
			out.Content = append(out.Content, wire.ContentBlock{Type: wire.BlockText, Text: p.Text})
		}
	}
	if hasToolCall {
		out.StopReason = wire.StopToolUse
	}
	return out
}

// ---------------------------------------------------------------------------
// Send / SendStream
// ---------------------------------------------------------------------------

func (g *GeminiAdapter) Send(ctx context.Context, req *wire.Request, upstreamModel, _ string) (*wire.Response, error) {
	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, upstreamModel, g.apiKey)
	httpResp, err := g.do(ctx, url, body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if err := g.checkStatus(httpResp); err != nil {
		return nil, err
	}

	var parsed geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, rerr.Protocol("decoding gemini response", err)
	}
	return toAnthropicResponseFromGemini(parsed, req.Model), nil
}

func (g *GeminiAdapter) SendStream(ctx context.Context, req *wire.Request, upstreamModel, _ string) (<-chan wire.Event, error) {
	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", g.baseURL, upstreamModel, g.apiKey)
	httpResp, err := g.do(ctx, url, body)
	if err != nil {
		return nil, err
	}
	if err := g.checkStatus(httpResp); err != nil {
		httpResp.Body.Close()
		return nil, err
	}

	ch := make(chan wire.Event)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

		tr := newGeminiStreamTranslator(req.Model)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")

			var chunk geminiResponse
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

func (g *GeminiAdapter) do(ctx context.Context, url string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, rerr.Transient(g.name, err)
	}
	return httpResp, nil
}

func (g *GeminiAdapter) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var envelope geminiErrorEnvelope
	message := string(raw)
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	if resp.StatusCode >= 500 {
		return rerr.Transient(g.name, fmt.Errorf("status %d: %s", resp.StatusCode, message))
	}
	return rerr.Rejected(resp.StatusCode, rerr.AnthropicTypeForStatus(resp.StatusCode), message, nil)
}

// ---------------------------------------------------------------------------
// Streaming accumulation state machine
// ---------------------------------------------------------------------------

// geminiStreamTranslator mirrors streamTranslator's shape for Gemini's
// per-candidate part stream: each streamGenerateContent chunk carries the
// full accumulated-so-far parts list for some SDKs, but the ?alt=sse REST
// surface sends incremental parts per chunk, so the same lazy block-open
// logic applies one part at a time in the order Gemini emits them.
type geminiStreamTranslator struct {
	model string

	started      bool
	nextIndex    int
	textIndex    int
	textOpen     bool
	toolOpenIdx  []int
	finishReason string
	usage        *geminiUsageMetadata
}

func newGeminiStreamTranslator(model string) *geminiStreamTranslator {
	return &geminiStreamTranslator{model: model, textIndex: -1}
}

func (tr *geminiStreamTranslator) onChunk(chunk geminiResponse) []wire.Event {
	var events []wire.Event

	if !tr.started {
		tr.started = true
		events = append(events, wire.Event{
			Type: wire.EventMessageStart,
			Message: &wire.EventMessage{
				Type:    "message",
				Role:    "assistant",
				Model:   tr.model,
				Content: []wire.ContentBlock{},
			},
		})
	}

	if chunk.UsageMetadata != nil {
		tr.usage = chunk.UsageMetadata
	}
	if len(chunk.Candidates) == 0 {
		return events
	}
	candidate := chunk.Candidates[0]
	if candidate.FinishReason != "" {
		tr.finishReason = candidate.FinishReason
	}

	for _, p := range candidate.Content.Parts {
		switch {
		case p.Text != "":
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
				Delta: &wire.Delta{Type: wire.DeltaText, Text: p.Text},
			})
		case p.FunctionCall != nil:
			idx := tr.nextIndex
			tr.nextIndex++
			tr.toolOpenIdx = append(tr.toolOpenIdx, idx)
			blockIdx := idx
			events = append(events, wire.Event{
				Type:  wire.EventContentBlockStart,
				Index: &blockIdx,
				ContentBlock: &wire.ContentBlock{
					Type: wire.BlockToolUse,
					Name: p.FunctionCall.Name,
				},
			})
			if len(p.FunctionCall.Args) > 0 {
				events = append(events, wire.Event{
					Type:  wire.EventContentBlockDelta,
					Index: &blockIdx,
					Delta: &wire.Delta{Type: wire.DeltaInputJSON, PartialJSON: string(p.FunctionCall.Args)},
				})
			}
		}
	}
	return events
}

func (tr *geminiStreamTranslator) finish() []wire.Event {
	var events []wire.Event

	var ordered []int
	if tr.textOpen {
		ordered = append(ordered, tr.textIndex)
	}
	ordered = append(ordered, tr.toolOpenIdx...)
	sortInts(ordered)
	for _, idx := range ordered {
		i := idx
		events = append(events, wire.Event{Type: wire.EventContentBlockStop, Index: &i})
	}

	stopReason := geminiFinishToStopReason(tr.finishReason)
	if len(tr.toolOpenIdx) > 0 {
		stopReason = wire.StopToolUse
	}

	var usage *wire.Usage
	if tr.usage != nil {
		usage = &wire.Usage{InputTokens: tr.usage.PromptTokenCount, OutputTokens: tr.usage.CandidatesTokenCount}
	}
	events = append(events, wire.Event{
		Type:  wire.EventMessageDelta,
		Delta: &wire.Delta{StopReason: stopReason},
		Usage: usage,
	})
	events = append(events, wire.Event{Type: wire.EventMessageStop})
	return events
}
