// Package config handles loading, validating, and atomically persisting the
// ccrouter configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level ccrouter configuration: router, providers, and
// model mappings, plus the server block.
type Config struct {
	Server    ServerConfig              `koanf:"server" json:"server"`
	Router    RouterConfig              `koanf:"router" json:"router"`
	Providers map[string]ProviderConfig `koanf:"providers" json:"providers"`
	Models    map[string]ModelMapping   `koanf:"models" json:"models"`
}

// ServerConfig holds HTTP server settings. None of them take effect on a
// reload: the listener and its timeouts are set up, and the token store is
// built, once at startup before a config reload can ever run.
type ServerConfig struct {
	Host         string        `koanf:"host" json:"host"`
	Port         int           `koanf:"port" json:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout" json:"write_timeout"`
	// TokenStore selects the tokenstore.Store backend: "file" (default) or
	// "redis". Not reloadable — the TokenStore identity survives reloads.
	TokenStore string `koanf:"token_store" json:"token_store"`
	RedisAddr  string `koanf:"redis_addr" json:"redis_addr,omitempty"`
}

// RouterConfig names one logical-model name per route category, plus the
// two regexes that short-circuit classification.
type RouterConfig struct {
	Default         string `koanf:"default" json:"default"`
	Think           string `koanf:"think" json:"think"`
	Background      string `koanf:"background" json:"background"`
	WebSearch       string `koanf:"websearch" json:"websearch"`
	Subagent        string `koanf:"subagent" json:"subagent,omitempty"`
	BackgroundRegex string `koanf:"background_regex" json:"background_regex,omitempty"`
	AutoMapRegex    string `koanf:"auto_map_regex" json:"auto_map_regex,omitempty"`
}

// DefaultBackgroundRegex is the explicit default for
// RouterConfig.BackgroundRegex when the config omits it, substituted at
// load time rather than left as an unstated behavior buried in the router.
const DefaultBackgroundRegex = `(?i)haiku`

// ProviderConfig describes one configured upstream: its type, credentials,
// base URL, and any extra headers to attach to every outbound call.
type ProviderConfig struct {
	Name         string            `koanf:"name" json:"name"`
	Type         string            `koanf:"type" json:"type"` // anthropic | anthropic_compatible | openai | gemini
	APIKey       string            `koanf:"api_key" json:"-"`
	BaseURL      string            `koanf:"base_url" json:"base_url,omitempty"`
	AuthMode     string            `koanf:"auth_mode" json:"auth_mode,omitempty"` // api_key | oauth | bearer
	ExtraHeaders map[string]string `koanf:"extra_headers" json:"extra_headers,omitempty"`
}

// ModelMapping resolves a logical model name to an ordered (ascending
// priority) list of provider+upstream-model pairs.
type ModelMapping struct {
	Mappings []ModelTarget `koanf:"mappings" json:"mappings"`
}

// ModelTarget is one (priority, provider, upstream_model) entry.
type ModelTarget struct {
	Priority      int    `koanf:"priority" json:"priority"`
	Provider      string `koanf:"provider" json:"provider"`
	UpstreamModel string `koanf:"upstream_model" json:"upstream_model"`
}

// Load reads configuration from a YAML file, layers CCROUTER_-prefixed
// environment variable overrides on top, expands ${ENV_VAR} references in
// provider API keys, and fills in explicit defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	if err := k.Load(env.Provider("CCROUTER_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "CCROUTER_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// LoadFromBytes parses raw YAML config bytes the same way Load does, minus
// the env-var layering step — used by POST /api/config to validate an
// admin-submitted config body before it is ever written to disk.
func LoadFromBytes(raw []byte) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing config body: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults expands ${ENV_VAR} provider API keys and fills explicit
// defaults left unset by the config file. A missing env reference leaves
// the provider's APIKey empty rather than aborting the whole load — the
// registry (internal/registry) omits any provider with a required-but-empty
// key.
func applyDefaults(cfg *Config) {
	for name, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "${") && strings.HasSuffix(p.APIKey, "}") {
			envVar := p.APIKey[2 : len(p.APIKey)-1]
			p.APIKey = os.Getenv(envVar)
		}
		if p.Name == "" {
			p.Name = name
		}
		if p.AuthMode == "" {
			p.AuthMode = "api_key"
		}
		cfg.Providers[name] = p
	}

	if cfg.Router.BackgroundRegex == "" {
		cfg.Router.BackgroundRegex = DefaultBackgroundRegex
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.TokenStore == "" {
		cfg.Server.TokenStore = "file"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Streaming responses can run up to the 10-minute upstream timeout;
		// the write timeout must not cut them off.
		cfg.Server.WriteTimeout = 10 * time.Minute
	}

	for name, mm := range cfg.Models {
		sorted := append([]ModelTarget(nil), mm.Mappings...)
		sortByPriority(sorted)
		mm.Mappings = sorted
		cfg.Models[name] = mm
	}
}

func sortByPriority(m []ModelTarget) {
	for i := 1; i < len(m); i++ {
		for j := i; j > 0 && m[j].Priority < m[j-1].Priority; j-- {
			m[j], m[j-1] = m[j-1], m[j]
		}
	}
}

// Save atomically overwrites the on-disk config file at path with raw
// bytes, using a write-temp-then-rename pattern so a crash mid-write never
// leaves a truncated config on disk. It does not touch any live snapshot —
// a subsequent POST /api/reload is required to pick it up.
func Save(path string, raw []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ccrouter-config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsyncing temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp config file into place: %w", err)
	}
	return nil
}

// Redacted returns a copy of cfg with every provider API key cleared, for
// GET /api/config — an admin caller never gets a resolved secret echoed
// back.
func (c *Config) Redacted() *Config {
	out := *c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		p.APIKey = ""
		out.Providers[name] = p
	}
	return &out
}
