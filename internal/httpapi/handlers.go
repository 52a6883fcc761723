package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/ccrouter/ccrouter/internal/config"
	"github.com/ccrouter/ccrouter/internal/dispatcher"
	"github.com/ccrouter/ccrouter/internal/openaiwire"
	"github.com/ccrouter/ccrouter/internal/rerr"
	"github.com/ccrouter/ccrouter/internal/wire"
)

// handleMessages is the pinned client's primary surface: POST /v1/messages,
// Anthropic-shaped in and out. betaHeader is forwarded to the Anthropic-
// native adapter only.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, rerr.Invalid("reading request body", err))
		return
	}

	tw := newTrackingWriter(w)
	resp, err := dispatcher.Dispatch(r.Context(), s.snapshot(), body, r.Header.Get("anthropic-beta"), tw)
	if err != nil {
		if tw.started {
			// Bytes already reached the client as part of an SSE stream;
			// the dispatcher has already emitted a synthetic error event.
			// Writing another response here would corrupt the stream.
			slog.Error("dispatch failed mid-stream", "error", err)
			return
		}
		writeError(w, err)
		return
	}
	if resp != nil {
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleCountTokens estimates input tokens for a request without sending it
// upstream: the Anthropic-native adapter forwards to the
// real count-tokens endpoint, OpenAI/Gemini adapters fall back to the local
// BPE estimator.
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, rerr.Invalid("reading request body", err))
		return
	}

	var req wire.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, rerr.Invalid("malformed request body", err))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, rerr.Invalid("messages: at least one message is required", nil))
		return
	}

	snap := s.snapshot()
	decision, err := snap.Router.Route(&req)
	if err != nil {
		writeError(w, err)
		return
	}
	targets, err := snap.Mappings.Resolve(decision.LogicalModel)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(targets) == 0 {
		writeError(w, rerr.NoProviders("model mapping has no provider targets"))
		return
	}

	target := targets[0]
	adapter, ok := snap.Registry.Get(target.Provider)
	if !ok {
		writeError(w, rerr.NotAvailable(target.Provider, nil))
		return
	}

	resp, err := adapter.CountTokens(r.Context(), &req, target.UpstreamModel)
	if err != nil {
		writeError(w, rerr.Transient(target.Provider, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChatCompletions is the secondary, incidental endpoint: OpenAI
// chat-completions shape in, translated to wire.Request, run through the
// same dispatcher pipeline as /v1/messages, translated back out to OpenAI
// chunk/response shape. Not used by the pinned client.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var chatReq openaiwire.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
		writeError(w, rerr.Invalid("invalid request body: "+err.Error(), err))
		return
	}

	wireReq, err := openaiwire.ToWireRequest(&chatReq)
	if err != nil {
		writeError(w, rerr.Invalid("translating request: "+err.Error(), err))
		return
	}
	rawBody, err := json.Marshal(wireReq)
	if err != nil {
		writeError(w, rerr.Invalid("translating request: "+err.Error(), err))
		return
	}

	if chatReq.Stream {
		events, err := dispatcher.DispatchEvents(r.Context(), s.snapshot(), rawBody, "")
		if err != nil {
			writeError(w, err)
			return
		}
		chunks := openaiwire.TranslateStream(events)
		if err := openaiwire.Write(w, chunks); err != nil {
			slog.Error("openai stream write failed", "error", err)
		}
		return
	}

	resp, err := dispatcher.Dispatch(r.Context(), s.snapshot(), rawBody, "", w)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, openaiwire.FromWireResponse(resp))
}

// handleGetConfig returns the live config with every provider API key
// redacted — an admin caller never gets a resolved secret echoed back.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot().Config.Redacted())
}

// handlePostConfig validates an admin-submitted config body and persists it
// to the on-disk config file. It does NOT touch the live Snapshot — a
// subsequent POST /api/reload is required to pick the new config up,
// write-then-reload split.
func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, rerr.Invalid("reading request body", err))
		return
	}

	if _, err := config.LoadFromBytes(body); err != nil {
		writeError(w, rerr.Invalid("invalid config: "+err.Error(), err))
		return
	}

	if err := config.Save(s.configPath, body); err != nil {
		writeError(w, rerr.Protocol("saving config", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// handleReload rebuilds a Snapshot from the on-disk config file and
// atomically swaps it into the live Cell. A build failure (bad router
// regex, for instance) leaves the previous Snapshot in place and is
// reported to the caller
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		writeError(w, rerr.Protocol("loading config", err))
		return
	}
	if err := s.cell.Reload(cfg, s.deps); err != nil {
		writeError(w, rerr.Protocol("reloading snapshot", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// writeError translates err into Anthropic's {type, error: {type, message}}
// envelope, using rerr's status/type mapping when err is a *rerr.Error and
// falling back to a generic 500/api_error otherwise.
func writeError(w http.ResponseWriter, err error) {
	var rerrv *rerr.Error
	if !rerr.As(err, &rerrv) {
		writeJSON(w, http.StatusInternalServerError, wire.ErrorEnvelope{
			Type:  "error",
			Error: wire.ErrorDetail{Type: "api_error", Message: err.Error()},
		})
		return
	}
	writeJSON(w, rerrv.Status, wire.ErrorEnvelope{
		Type:  "error",
		Error: wire.ErrorDetail{Type: rerrv.AnthType, Message: rerrv.Message},
	})
}
