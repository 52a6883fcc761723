package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccrouter/ccrouter/internal/config"
	"github.com/ccrouter/ccrouter/internal/wire"
)

func testConfig() config.RouterConfig {
	return config.RouterConfig{
		Default:    "default-model",
		Think:      "think-model",
		Background: "background-model",
		WebSearch:  "websearch-model",
	}
}

func TestRoute_Default(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	req := &wire.Request{Model: "claude-sonnet-4", Messages: []wire.Message{{Role: "user"}}}
	dec, err := r.Route(req)
	require.NoError(t, err)

	assert.Equal(t, CategoryDefault, dec.Category)
	assert.Equal(t, "default-model", dec.LogicalModel)
	assert.Equal(t, "default-model", req.Model)
	assert.Equal(t, "claude-sonnet-4", dec.OriginalModel)
}

func TestRoute_Think(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	req := &wire.Request{
		Model:    "claude-sonnet-4",
		Thinking: &wire.Thinking{Type: "enabled", BudgetTokens: 8192},
	}
	dec, err := r.Route(req)
	require.NoError(t, err)
	assert.Equal(t, CategoryThink, dec.Category)
	assert.Equal(t, "think-model", req.Model)
}

func TestRoute_Background(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	req := &wire.Request{Model: "claude-haiku-4-5-20251001"}
	dec, err := r.Route(req)
	require.NoError(t, err)
	assert.Equal(t, CategoryBackground, dec.Category)
	assert.Equal(t, "background-model", req.Model)
}

func TestRoute_WebSearchBeatsThink(t *testing.T) {
	// "tools containing a web_search_2025_04 entry with thinking.enabled
	// -> WebSearch (not Think)"
	r, err := New(testConfig())
	require.NoError(t, err)

	req := &wire.Request{
		Model:    "claude-sonnet-4",
		Thinking: &wire.Thinking{Type: "enabled"},
		Tools:    []wire.Tool{{Type: "web_search_2025_04"}},
	}
	dec, err := r.Route(req)
	require.NoError(t, err)
	assert.Equal(t, CategoryWebSearch, dec.Category)
	assert.Equal(t, "websearch-model", req.Model)
}

func TestRoute_SubagentMarker(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	req := &wire.Request{
		Model:  "claude-sonnet-4",
		System: &wire.SystemField{Text: "You are helpful. <CCM-SUBAGENT-MODEL>gpt-5.1</CCM-SUBAGENT-MODEL>"},
	}
	dec, err := r.Route(req)
	require.NoError(t, err)
	assert.Equal(t, CategorySubagent, dec.Category)
	assert.Equal(t, "gpt-5.1", dec.LogicalModel)
	assert.Equal(t, "gpt-5.1", req.Model)
	assert.Equal(t, "You are helpful. ", req.System.Text)
}

func TestRoute_WebSearchBeatsSubagent(t *testing.T) {
	// "<CCM-SUBAGENT-MODEL>foo</CCM-SUBAGENT-MODEL> present with
	// tools:[web_search] -> WebSearch"
	r, err := New(testConfig())
	require.NoError(t, err)

	req := &wire.Request{
		Model:  "claude-sonnet-4",
		System: &wire.SystemField{Text: "<CCM-SUBAGENT-MODEL>foo</CCM-SUBAGENT-MODEL>"},
		Tools:  []wire.Tool{{Name: "web_search"}},
	}
	dec, err := r.Route(req)
	require.NoError(t, err)
	assert.Equal(t, CategoryWebSearch, dec.Category)
}

func TestRoute_AutoMapPassthrough(t *testing.T) {
	cfg := testConfig()
	cfg.AutoMapRegex = "^claude-"
	r, err := New(cfg)
	require.NoError(t, err)

	req := &wire.Request{Model: "claude-opus-4"}
	dec, err := r.Route(req)
	require.NoError(t, err)
	assert.Equal(t, CategoryPassthrough, dec.Category)
	assert.Equal(t, "claude-opus-4", req.Model, "passthrough must not rewrite model")
}

func TestRoute_NoRouteConfigured(t *testing.T) {
	r, err := New(config.RouterConfig{})
	require.NoError(t, err)

	req := &wire.Request{Model: "gpt-4"}
	_, err = r.Route(req)
	require.Error(t, err)
}

func TestRoute_MalformedRequestCascadesToDefault(t *testing.T) {
	// The router never fails on a malformed request: an empty model and no
	// thinking/tools just cascades to Default.
	r, err := New(testConfig())
	require.NoError(t, err)

	req := &wire.Request{}
	dec, err := r.Route(req)
	require.NoError(t, err)
	assert.Equal(t, CategoryDefault, dec.Category)
}

func TestRoute_SubagentSystemBlocks(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	req := &wire.Request{
		Model: "claude-sonnet-4",
		System: &wire.SystemField{Blocks: []wire.SystemBlock{
			{Type: "text", Text: "Part one. "},
			{Type: "text", Text: "<CCM-SUBAGENT-MODEL>zeta</CCM-SUBAGENT-MODEL>Part two."},
		}},
	}
	dec, err := r.Route(req)
	require.NoError(t, err)
	assert.Equal(t, "zeta", dec.LogicalModel)
	assert.Equal(t, "Part one. ", req.System.Blocks[0].Text)
	assert.Equal(t, "Part two.", req.System.Blocks[1].Text)
}
