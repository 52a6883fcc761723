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
	"time"

	"github.com/ccrouter/ccrouter/internal/rerr"
	"github.com/ccrouter/ccrouter/internal/tokenstore"
	"github.com/ccrouter/ccrouter/internal/wire"
)

const anthropicAPIVersion = "2023-06-01"

// claudeCodeSystemPrompt is the fixed system-prompt prefix Anthropic's
// OAuth token class for this client is authorized against.
const claudeCodeSystemPrompt = "You are Claude Code, Anthropic's official CLI for Claude."

// AnthropicAdapter is the `type = anthropic | anthropic_compatible` adapter:
// pure passthrough with `model` rewritten to upstreamModel.
// Unknown fields inside content blocks, and cache_control, survive because
// internal/wire.Request's content blocks keep a raw-JSON escape hatch and we
// marshal the struct as-is rather than rebuilding it field by field. Unknown
// top-level request fields are not kept: wire.Request has no place for them.
type AnthropicAdapter struct {
	name         string
	baseURL      string
	apiKey       string
	authMode     string // api_key | oauth | bearer
	extraHeaders map[string]string
	injectOAuthSystemPrompt bool

	tokenStore  tokenstore.Store
	refreshFunc func() (tokenstore.Token, error)
	client      *http.Client
}

// AnthropicConfig configures an AnthropicAdapter.
type AnthropicConfig struct {
	Name         string
	BaseURL      string
	APIKey       string
	AuthMode     string
	ExtraHeaders map[string]string
}

// NewAnthropicAdapter builds an AnthropicAdapter. tokenStore is only
// consulted when cfg.AuthMode == "oauth"; it may be nil otherwise.
func NewAnthropicAdapter(cfg AnthropicConfig, tokenStore tokenstore.Store, client *http.Client) *AnthropicAdapter {
	return &AnthropicAdapter{
		name:                    cfg.Name,
		baseURL:                 strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:                  cfg.APIKey,
		authMode:                cfg.AuthMode,
		extraHeaders:            cfg.ExtraHeaders,
		injectOAuthSystemPrompt: cfg.AuthMode == "oauth",
		tokenStore:              tokenStore,
		client:                  client,
	}
}

// WithRefreshFunc installs the callback used to mint a new access token when
// the stored one is within the expiry skew. The actual browser-based OAuth
// flow that produces refresh is out of scope; this hook is how
// a caller wires one in without the adapter itself knowing the flow.
func (a *AnthropicAdapter) WithRefreshFunc(fn func() (tokenstore.Token, error)) *AnthropicAdapter {
	a.refreshFunc = fn
	return a
}

func (a *AnthropicAdapter) Name() string { return a.name }

func (a *AnthropicAdapter) Supports(string) bool { return true }

// CountTokens delegates to the upstream's own count_tokens endpoint — the
// Anthropic-native adapter is the one adapter that doesn't need the
// internal/tokenizer estimator.
func (a *AnthropicAdapter) CountTokens(ctx context.Context, req *wire.Request, upstreamModel string) (wire.CountTokensResponse, error) {
	outbound := a.prepareOutbound(req, upstreamModel)
	body, err := json.Marshal(outbound)
	if err != nil {
		return wire.CountTokensResponse{}, fmt.Errorf("marshaling count_tokens request: %w", err)
	}

	httpResp, err := a.do(ctx, "/messages/count_tokens", body)
	if err != nil {
		return wire.CountTokensResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := a.checkStatus(httpResp); err != nil {
		return wire.CountTokensResponse{}, err
	}

	var out wire.CountTokensResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return wire.CountTokensResponse{}, rerr.Protocol("decoding count_tokens response", err)
	}
	return out, nil
}

func (a *AnthropicAdapter) Send(ctx context.Context, req *wire.Request, upstreamModel, betaHeader string) (*wire.Response, error) {
	outbound := a.prepareOutbound(req, upstreamModel)
	outbound.Stream = false

	body, err := json.Marshal(outbound)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpResp, err := a.doWithBeta(ctx, "/messages", body, betaHeader)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if err := a.checkStatus(httpResp); err != nil {
		return nil, err
	}

	var resp wire.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, rerr.Protocol("decoding anthropic response", err)
	}
	return &resp, nil
}

// SendStream copies the upstream SSE stream byte-for-byte. It still decodes
// each event's "type" line so the dispatcher can
// observe stream shape (e.g. to log), but the payload forwarded to the
// client is the untouched upstream bytes (wire.Event.Raw).
func (a *AnthropicAdapter) SendStream(ctx context.Context, req *wire.Request, upstreamModel, betaHeader string) (<-chan wire.Event, error) {
	outbound := a.prepareOutbound(req, upstreamModel)
	outbound.Stream = true

	body, err := json.Marshal(outbound)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpResp, err := a.doWithBeta(ctx, "/messages", body, betaHeader)
	if err != nil {
		return nil, err
	}

	if err := a.checkStatus(httpResp); err != nil {
		httpResp.Body.Close()
		return nil, err
	}

	ch := make(chan wire.Event)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

		var eventType string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				eventType = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				payload := strings.TrimPrefix(line, "data: ")
				select {
				case ch <- wire.Event{Type: eventType, Raw: json.RawMessage(payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			select {
			case ch <- wire.Event{Type: wire.EventError, Error: &wire.ErrorDetail{Type: "api_error", Message: err.Error()}}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// prepareOutbound clones req (so fallback retries on a different adapter
// never see a mutated request) and rewrites model, injecting the
// Claude-Code system prompt ahead of the caller's own when in OAuth mode.
func (a *AnthropicAdapter) prepareOutbound(req *wire.Request, upstreamModel string) wire.Request {
	outbound := *req
	outbound.Model = upstreamModel

	if a.injectOAuthSystemPrompt {
		outbound.System = prependSystemPrompt(req.System, claudeCodeSystemPrompt)
	}

	return outbound
}

func prependSystemPrompt(sys *wire.SystemField, prefix string) *wire.SystemField {
	if sys == nil {
		return &wire.SystemField{Text: prefix}
	}
	if sys.Blocks != nil {
		blocks := make([]wire.SystemBlock, 0, len(sys.Blocks)+1)
		blocks = append(blocks, wire.SystemBlock{Type: "text", Text: prefix})
		blocks = append(blocks, sys.Blocks...)
		return &wire.SystemField{Blocks: blocks}
	}
	return &wire.SystemField{Text: prefix + "\n\n" + sys.Text}
}

func (a *AnthropicAdapter) doWithBeta(ctx context.Context, path string, body []byte, betaHeader string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	a.setHeaders(httpReq, betaHeader)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, rerr.Transient(a.name, err)
	}
	return httpResp, nil
}

func (a *AnthropicAdapter) do(ctx context.Context, path string, body []byte) (*http.Response, error) {
	return a.doWithBeta(ctx, path, body, "")
}

func (a *AnthropicAdapter) setHeaders(httpReq *http.Request, betaHeader string) {
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	if betaHeader != "" {
		httpReq.Header.Set("anthropic-beta", betaHeader)
	}

	// extra_headers are applied before the auth headers below so a
	// provider-specific header can never shadow x-api-key/Authorization
	// — auth always has the last word.
	for k, v := range a.extraHeaders {
		httpReq.Header.Set(k, v)
	}

	switch a.authMode {
	case "oauth", "bearer":
		httpReq.Header.Set("Authorization", "Bearer "+a.authToken())
	default:
		httpReq.Header.Set("x-api-key", a.apiKey)
	}
}

// authToken returns a valid access token, refreshing through the shared
// TokenStore if the cached one is within the expiry skew.
// In bearer mode, and in oauth mode with no stored token, the static apiKey
// is used directly as the bearer value. api_key mode never calls this; it
// sends apiKey as x-api-key instead.
func (a *AnthropicAdapter) authToken() string {
	if a.authMode != "oauth" || a.tokenStore == nil {
		return a.apiKey
	}

	tok, ok, err := a.tokenStore.Load(a.name)
	if err != nil || !ok {
		return a.apiKey
	}
	if !tok.NeedsRefresh(time.Now()) || a.refreshFunc == nil {
		return tok.AccessToken
	}

	refreshed, err := a.tokenStore.RefreshLocked(a.name, time.Now(), a.refreshFunc)
	if err != nil {
		return tok.AccessToken // best effort: stale token beats no token
	}
	return refreshed.AccessToken
}

func (a *AnthropicAdapter) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var envelope wire.ErrorEnvelope
	message := string(raw)
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	if resp.StatusCode >= 500 {
		return rerr.Transient(a.name, fmt.Errorf("status %d: %s", resp.StatusCode, message))
	}
	anthType := envelope.Error.Type
	if anthType == "" {
		anthType = rerr.AnthropicTypeForStatus(resp.StatusCode)
	}
	return rerr.Rejected(resp.StatusCode, anthType, message, nil)
}
