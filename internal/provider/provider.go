// Package provider defines the Adapter interface and the per-family
// implementations that translate between internal/wire's Anthropic-shaped
// types and each upstream provider's native wire format.
//
// Every adapter implements the same capability set so the dispatcher holds
// an interface reference and never type-switches on concrete provider
// type — a plain Go interface standing in for a trait object.
package provider

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/ccrouter/ccrouter/internal/wire"
)

// Adapter is the capability set required of every provider family.
type Adapter interface {
	// Name returns the provider's configured name, for logging/metrics.
	Name() string

	// Send issues a non-streaming request and returns the complete
	// Anthropic-shaped response. betaHeader is the inbound `anthropic-beta`
	// header value (empty if absent); only the Anthropic-native adapter
	// forwards it.
	Send(ctx context.Context, req *wire.Request, upstreamModel, betaHeader string) (*wire.Response, error)

	// SendStream issues a streaming request and returns a channel of
	// Anthropic SSE events in emission order, terminated by message_stop or
	// a synthetic error event. The channel is closed when the stream ends.
	SendStream(ctx context.Context, req *wire.Request, upstreamModel, betaHeader string) (<-chan wire.Event, error)

	// Supports is an advisory capability check; the registry/dispatcher
	// trusts the model mapping and does not require Supports before
	// calling Send/SendStream.
	Supports(model string) bool

	// CountTokens returns an input-token estimate for req. Cache token
	// fields are always zero from a non-native adapter.
	CountTokens(ctx context.Context, req *wire.Request, upstreamModel string) (wire.CountTokensResponse, error)
}

// NewHTTPClient builds the process-wide connection pool every adapter
// shares. Constructed once in cmd/ccrouter and threaded through
// internal/registry into every adapter constructor via Deps, injected
// explicitly rather than reached for as an ambient global.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Minute, // streaming total timeout
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout: 30 * time.Second, // connect timeout
			}).DialContext,
		},
	}
}
