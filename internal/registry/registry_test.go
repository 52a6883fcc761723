package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccrouter/ccrouter/internal/config"
	"github.com/ccrouter/ccrouter/internal/provider"
	"github.com/ccrouter/ccrouter/internal/tokenizer"
)

func testDeps() Deps {
	return Deps{
		HTTPClient: provider.NewHTTPClient(),
		Estimator:  tokenizer.New(nil),
	}
}

func TestBuild_ConstructsConfiguredProviders(t *testing.T) {
	reg := Build(map[string]config.ProviderConfig{
		"anthropic-direct": {Name: "anthropic-direct", Type: "anthropic", APIKey: "sk-ant", AuthMode: "api_key"},
		"my-openai":        {Name: "my-openai", Type: "openai", APIKey: "sk-oai"},
		"my-gemini":        {Name: "my-gemini", Type: "gemini", APIKey: "gk"},
	}, testDeps())

	for _, name := range []string{"anthropic-direct", "my-openai", "my-gemini"} {
		a, ok := reg.Get(name)
		require.True(t, ok, "expected provider %q to be built", name)
		assert.Equal(t, name, a.Name())
	}
}

func TestBuild_SkipsProviderWithMissingAPIKey(t *testing.T) {
	reg := Build(map[string]config.ProviderConfig{
		"broken": {Name: "broken", Type: "openai", APIKey: ""},
	}, testDeps())

	_, ok := reg.Get("broken")
	assert.False(t, ok)
}

func TestBuild_SkipsUnknownProviderType(t *testing.T) {
	reg := Build(map[string]config.ProviderConfig{
		"mystery": {Name: "mystery", Type: "carrier-pigeon"},
	}, testDeps())

	_, ok := reg.Get("mystery")
	assert.False(t, ok)
}

func TestBuild_OAuthAnthropicDoesNotRequireAPIKey(t *testing.T) {
	reg := Build(map[string]config.ProviderConfig{
		"claude-oauth": {Name: "claude-oauth", Type: "anthropic", AuthMode: "oauth"},
	}, testDeps())

	_, ok := reg.Get("claude-oauth")
	assert.True(t, ok)
}

func TestBuild_AnthropicCompatibleRequiresBaseURL(t *testing.T) {
	reg := Build(map[string]config.ProviderConfig{
		"glm": {Name: "glm", Type: "anthropic_compatible", APIKey: "k"},
	}, testDeps())

	_, ok := reg.Get("glm")
	assert.False(t, ok)
}
