// Package registry builds the live set of provider.Adapter instances for a
// configuration snapshot. One Registry belongs to exactly
// one internal/state.Snapshot; a config reload builds an entirely new
// Registry rather than mutating an existing one.
package registry

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ccrouter/ccrouter/internal/config"
	"github.com/ccrouter/ccrouter/internal/provider"
	"github.com/ccrouter/ccrouter/internal/tokenizer"
	"github.com/ccrouter/ccrouter/internal/tokenstore"
)

// Registry holds one adapter per configured provider name.
type Registry struct {
	adapters map[string]provider.Adapter
}

// New wraps an already-built adapter map in a Registry. Used directly by
// tests that need to inject fake adapters; Build is the production path.
func New(adapters map[string]provider.Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Get returns the adapter for a provider name, or false if it was never
// built — either because it wasn't in config, or because its required API
// key was missing at build time.
func (r *Registry) Get(name string) (provider.Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// factory constructs one adapter from its ProviderConfig. Keyed by
// ProviderConfig.Type rather than provider name, since ccrouter allows
// multiple differently-named providers of the same family (e.g. two
// anthropic_compatible endpoints).
type factory func(cfg config.ProviderConfig, deps Deps) (provider.Adapter, error)

var factories = map[string]factory{
	"anthropic": func(cfg config.ProviderConfig, deps Deps) (provider.Adapter, error) {
		if cfg.APIKey == "" && cfg.AuthMode != "oauth" {
			return nil, fmt.Errorf("missing api_key")
		}
		ac := provider.NewAnthropicAdapter(provider.AnthropicConfig{
			Name: cfg.Name, BaseURL: baseURLOr(cfg.BaseURL, "https://api.anthropic.com/v1"),
			APIKey: cfg.APIKey, AuthMode: cfg.AuthMode, ExtraHeaders: cfg.ExtraHeaders,
		}, deps.TokenStore, deps.HTTPClient)
		return ac, nil
	},
	"anthropic_compatible": func(cfg config.ProviderConfig, deps Deps) (provider.Adapter, error) {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("anthropic_compatible provider requires base_url")
		}
		if cfg.APIKey == "" && cfg.AuthMode != "oauth" {
			return nil, fmt.Errorf("missing api_key")
		}
		return provider.NewAnthropicAdapter(provider.AnthropicConfig{
			Name: cfg.Name, BaseURL: cfg.BaseURL,
			APIKey: cfg.APIKey, AuthMode: cfg.AuthMode, ExtraHeaders: cfg.ExtraHeaders,
		}, deps.TokenStore, deps.HTTPClient), nil
	},
	"openai": func(cfg config.ProviderConfig, deps Deps) (provider.Adapter, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("missing api_key")
		}
		return provider.NewOpenAIAdapter(provider.OpenAIConfig{
			Name: cfg.Name, BaseURL: baseURLOr(cfg.BaseURL, "https://api.openai.com/v1"),
			APIKey: cfg.APIKey, ExtraHeaders: cfg.ExtraHeaders,
		}, deps.Estimator, deps.HTTPClient), nil
	},
	"gemini": func(cfg config.ProviderConfig, deps Deps) (provider.Adapter, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("missing api_key")
		}
		return provider.NewGeminiAdapter(provider.GeminiConfig{
			Name: cfg.Name, BaseURL: baseURLOr(cfg.BaseURL, "https://generativelanguage.googleapis.com/v1beta"),
			APIKey: cfg.APIKey,
		}, deps.Estimator, deps.HTTPClient), nil
	},
}

func baseURLOr(configured, fallback string) string {
	if configured == "" {
		return fallback
	}
	return configured
}

// Deps are the process-wide collaborators every adapter family needs to be
// constructed — shared across every Build call, never rebuilt per-reload.
type Deps struct {
	HTTPClient *http.Client
	TokenStore tokenstore.Store
	Estimator  *tokenizer.Estimator
}

// Build constructs a Registry from a snapshot's provider configs. A
// provider whose factory returns an error (missing key, bad config) is
// logged and omitted — it never aborts the whole build.
func Build(providers map[string]config.ProviderConfig, deps Deps) *Registry {
	adapters := make(map[string]provider.Adapter, len(providers))
	for name, cfg := range providers {
		f, ok := factories[cfg.Type]
		if !ok {
			slog.Error("unknown provider type, skipping", "provider", name, "type", cfg.Type)
			continue
		}
		adapter, err := f(cfg, deps)
		if err != nil {
			slog.Error("provider not available, skipping", "provider", name, "type", cfg.Type, "error", err)
			continue
		}
		adapters[name] = adapter
	}
	return &Registry{adapters: adapters}
}
