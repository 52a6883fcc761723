package provider

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/dnaeon/go-vcr.v4/pkg/cassette"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"

	"github.com/ccrouter/ccrouter/internal/wire"
)

// TestSend_ReplaysRecordedCassette exercises AnthropicAdapter.Send against a
// checked-in HTTP cassette (testdata/anthropic_send.yaml) instead of an
// httptest.Server fake, so the assertion is against a captured real
// request/response pair rather than a response this test file also writes.
// Matching is by method+URL only: the request body here isn't byte-for-byte
// identical to what produced the cassette (field ordering isn't stable
// across encoding/json versions), and go-vcr's default matcher would reject
// a close-but-not-identical body.
func TestSend_ReplaysRecordedCassette(t *testing.T) {
	rec, err := recorder.New(
		filepath.Join("testdata", "anthropic_send"),
		recorder.WithMode(cassette.ModeReplayOnly),
		recorder.WithMatcher(func(r *http.Request, i cassette.Request) bool {
			return r.Method == i.Method && r.URL.String() == i.URL
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, rec.Stop()) })

	adapter := NewAnthropicAdapter(AnthropicConfig{
		Name:     "anthropic-direct",
		BaseURL:  "https://api.anthropic.com/v1",
		AuthMode: "api_key",
		APIKey:   "sk-test",
	}, nil, &http.Client{Transport: rec})

	req := &wire.Request{
		Model:     "claude-opus-4-pretty-name",
		MaxTokens: 100,
		Messages: []wire.Message{
			{Role: "user", Content: wire.ContentOrBlocks{Text: "hi", IsText: true}},
		},
	}
	resp, err := adapter.Send(t.Context(), req, "claude-opus-4-20250514", "")
	require.NoError(t, err)
	assert.Equal(t, "msg_cassette_01", resp.ID)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hi from a recorded cassette", resp.Content[0].Text)
}
