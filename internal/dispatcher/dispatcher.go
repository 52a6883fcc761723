// Package dispatcher orchestrates one inbound /v1/messages request end to
// end: parse, route, resolve a fallback list of providers, and walk that
// list applying retry semantics (C7). It is the one place
// that understands how ProviderTransient/ProviderRejected/ProviderNotAvailable
// differ and how that interacts with whether any stream bytes have already
// reached the client.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ccrouter/ccrouter/internal/config"
	"github.com/ccrouter/ccrouter/internal/metrics"
	"github.com/ccrouter/ccrouter/internal/rerr"
	"github.com/ccrouter/ccrouter/internal/state"
	"github.com/ccrouter/ccrouter/internal/wire"
)

// Dispatch runs the five-step pipeline in against a single
// request body. betaHeader is the inbound anthropic-beta header, forwarded
// only by the Anthropic-native adapter. w is used only for the streaming
// path (to construct the SSEWriter); non-streaming responses are returned
// as a *wire.Response for the caller (internal/httpapi) to encode.
func Dispatch(ctx context.Context, snap *state.Snapshot, rawBody []byte, betaHeader string, w http.ResponseWriter) (*wire.Response, error) {
	var req wire.Request
	if err := json.Unmarshal(rawBody, &req); err != nil {
		metrics.Requests.WithLabelValues("unknown", "client_error").Inc()
		return nil, rerr.Invalid("malformed request body", err)
	}
	if len(req.Messages) == 0 {
		metrics.Requests.WithLabelValues("unknown", "client_error").Inc()
		return nil, rerr.Invalid("messages: at least one message is required", nil)
	}

	decision, err := snap.Router.Route(&req)
	if err != nil {
		metrics.Requests.WithLabelValues("unknown", "client_error").Inc()
		return nil, err
	}
	category := decision.Category.String()

	targets, err := snap.Mappings.Resolve(decision.LogicalModel)
	if err != nil {
		metrics.Requests.WithLabelValues(category, "client_error").Inc()
		return nil, err
	}

	if req.Stream {
		sw, err := wire.NewSSEWriter(w)
		if err != nil {
			metrics.Requests.WithLabelValues(category, "client_error").Inc()
			return nil, rerr.Protocol("response writer does not support streaming", err)
		}
		err = dispatchStream(ctx, snap, &req, targets, betaHeader, sw)
		metrics.Requests.WithLabelValues(category, outcomeFor(err)).Inc()
		return nil, err
	}

	resp, err := dispatchOnce(ctx, snap, &req, targets, betaHeader)
	metrics.Requests.WithLabelValues(category, outcomeFor(err)).Inc()
	return resp, err
}

// DispatchEvents runs the same route/resolve/fallback pipeline as Dispatch's
// streaming path but hands the caller a channel of wire.Event instead of
// writing Anthropic-format SSE directly — used by internal/httpapi's OpenAI
// secondary endpoint, which re-translates each event into OpenAI chunk shape
// (internal/openaiwire.TranslateStream) instead of Anthropic SSE. The
// channel is closed when the stream ends or fallback is exhausted. An error
// found before dispatch starts (bad JSON, no messages, no route, unknown
// model) is returned directly; an exhausted fallback or a rejection before
// any event arrives on the channel as a synthetic error event.
func DispatchEvents(ctx context.Context, snap *state.Snapshot, rawBody []byte, betaHeader string) (<-chan wire.Event, error) {
	var req wire.Request
	if err := json.Unmarshal(rawBody, &req); err != nil {
		metrics.Requests.WithLabelValues("unknown", "client_error").Inc()
		return nil, rerr.Invalid("malformed request body", err)
	}
	if len(req.Messages) == 0 {
		metrics.Requests.WithLabelValues("unknown", "client_error").Inc()
		return nil, rerr.Invalid("messages: at least one message is required", nil)
	}

	decision, err := snap.Router.Route(&req)
	if err != nil {
		metrics.Requests.WithLabelValues("unknown", "client_error").Inc()
		return nil, err
	}
	category := decision.Category.String()

	targets, err := snap.Mappings.Resolve(decision.LogicalModel)
	if err != nil {
		metrics.Requests.WithLabelValues(category, "client_error").Inc()
		return nil, err
	}

	sink := newChanSink()
	go func() {
		err := dispatchStream(ctx, snap, &req, targets, betaHeader, sink)
		metrics.Requests.WithLabelValues(category, outcomeFor(err)).Inc()
		if err != nil && !sink.Started() {
			// Nothing reached the sink yet (route/resolve already succeeded,
			// so this is a full fallback exhaustion or an immediate reject) —
			// surface it as a synthetic error event rather than a silently
			// empty stream.
			sink.Send(wire.Event{Type: wire.EventError, Error: &wire.ErrorDetail{Type: "api_error", Message: err.Error()}})
		}
		sink.close()
	}()
	return sink.events, nil
}

func outcomeFor(err error) string {
	if err == nil {
		return "ok"
	}
	var rerrv *rerr.Error
	if rerr.As(err, &rerrv) {
		switch rerrv.Kind {
		case rerr.AllProvidersFailed:
			return "all_providers_failed"
		case rerr.ProviderRejected:
			return "provider_rejected"
		}
	}
	return "client_error"
}

// dispatchOnce walks targets for the non-streaming path: ProviderTransient or a missing adapter advances
// to the next target; ProviderRejected stops immediately and surfaces the
// upstream error, since a user-attributable error must not be masked by
// further fallback attempts.
func dispatchOnce(ctx context.Context, snap *state.Snapshot, req *wire.Request, targets []config.ModelTarget, betaHeader string) (*wire.Response, error) {
	var attempts []string

	for _, target := range targets {
		adapter, ok := snap.Registry.Get(target.Provider)
		if !ok {
			attempts = append(attempts, fmt.Sprintf("%s: not configured", target.Provider))
			metrics.ProviderAttempts.WithLabelValues(target.Provider, "not_available").Inc()
			continue
		}

		timer := prometheusTimer(target.Provider)
		resp, err := adapter.Send(ctx, req, target.UpstreamModel, betaHeader)
		timer()

		if err == nil {
			metrics.ProviderAttempts.WithLabelValues(target.Provider, "success").Inc()
			return resp, nil
		}

		var rerrv *rerr.Error
		if rerr.As(err, &rerrv) && rerrv.Kind == rerr.ProviderRejected {
			metrics.ProviderAttempts.WithLabelValues(target.Provider, "rejected").Inc()
			return nil, err
		}

		metrics.ProviderAttempts.WithLabelValues(target.Provider, "transient").Inc()
		slog.Warn("provider attempt failed, trying next fallback",
			"provider", target.Provider, "model", target.UpstreamModel, "error", err)
		attempts = append(attempts, fmt.Sprintf("%s: %v", target.Provider, err))
	}

	return nil, rerr.AllFailed(strings.Join(attempts, "; "))
}

// eventSink is the subset of wire.SSEWriter's surface dispatchStream needs:
// emit one event, and report whether any event has been emitted yet.
// Generalized so the same fallback-walk logic can feed either an
// Anthropic-format wire.SSEWriter (the native /v1/messages path) or an
// in-process channel (DispatchEvents, for the OpenAI secondary endpoint).
type eventSink interface {
	Send(ev wire.Event) error
	Started() bool
}

// dispatchStream is dispatchOnce's streaming counterpart. The crucial
// difference from the non-streaming path: once the sink has Started(), a
// provider failure can no longer fall back — the client has already
// received bytes belonging to this attempt, so the connection is terminated
// with a synthetic error event instead.
func dispatchStream(ctx context.Context, snap *state.Snapshot, req *wire.Request, targets []config.ModelTarget, betaHeader string, sw eventSink) error {
	var attempts []string
	for _, target := range targets {
		adapter, ok := snap.Registry.Get(target.Provider)
		if !ok {
			attempts = append(attempts, fmt.Sprintf("%s: not configured", target.Provider))
			metrics.ProviderAttempts.WithLabelValues(target.Provider, "not_available").Inc()
			continue
		}

		timer := prometheusTimer(target.Provider)
		events, err := adapter.SendStream(ctx, req, target.UpstreamModel, betaHeader)
		if err != nil {
			timer()
			var rerrv *rerr.Error
			if rerr.As(err, &rerrv) && rerrv.Kind == rerr.ProviderRejected {
				metrics.ProviderAttempts.WithLabelValues(target.Provider, "rejected").Inc()
				return err
			}
			metrics.ProviderAttempts.WithLabelValues(target.Provider, "transient").Inc()
			attempts = append(attempts, fmt.Sprintf("%s: %v", target.Provider, err))
			continue
		}

		streamErr := forwardEvents(sw, events)
		timer()

		if streamErr == nil {
			metrics.ProviderAttempts.WithLabelValues(target.Provider, "success").Inc()
			return nil
		}

		if !sw.Started() {
			metrics.ProviderAttempts.WithLabelValues(target.Provider, "transient").Inc()
			attempts = append(attempts, fmt.Sprintf("%s: %v", target.Provider, streamErr))
			continue
		}

		// Bytes already reached the client: fallback is impossible now.
		// Tell the client the stream died and stop.
		metrics.ProviderAttempts.WithLabelValues(target.Provider, "transient").Inc()
		sw.Send(wire.Event{Type: wire.EventError, Error: &wire.ErrorDetail{Type: "api_error", Message: streamErr.Error()}})
		return streamErr
	}

	return rerr.AllFailed(strings.Join(attempts, "; "))
}

// forwardEvents drains events onto sw, returning the first synthetic error
// event's message as an error (or nil on a clean message_stop/channel close).
func forwardEvents(sw eventSink, events <-chan wire.Event) error {
	for ev := range events {
		if ev.Type == wire.EventError {
			msg := "upstream stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return fmt.Errorf("%s", msg)
		}
		if err := sw.Send(ev); err != nil {
			return err
		}
	}
	return nil
}

// chanSink is the eventSink DispatchEvents hands dispatchStream: a plain
// buffered channel instead of an http.ResponseWriter-backed SSEWriter, for
// callers (internal/httpapi's OpenAI secondary endpoint) that want to
// re-translate events into a different wire format rather than emit
// Anthropic SSE directly.
type chanSink struct {
	events  chan wire.Event
	started bool
}

func newChanSink() *chanSink {
	return &chanSink{events: make(chan wire.Event, 16)}
}

func (c *chanSink) Send(ev wire.Event) error {
	c.started = true
	c.events <- ev
	return nil
}

func (c *chanSink) Started() bool { return c.started }

func (c *chanSink) close() { close(c.events) }

func prometheusTimer(providerName string) func() {
	start := time.Now()
	hist := metrics.UpstreamLatency.WithLabelValues(providerName)
	return func() { hist.Observe(time.Since(start).Seconds()) }
}
