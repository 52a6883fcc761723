package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccrouter/ccrouter/internal/config"
	"github.com/ccrouter/ccrouter/internal/registry"
)

func testConfig() *config.Config {
	return &config.Config{
		Router: config.RouterConfig{Default: "default-model"},
		Models: map[string]config.ModelMapping{
			"default-model": {Mappings: []config.ModelTarget{{Priority: 0, Provider: "p", UpstreamModel: "m"}}},
		},
	}
}

func TestBuild_Success(t *testing.T) {
	snap, err := Build(testConfig(), registry.Deps{})
	require.NoError(t, err)
	assert.NotNil(t, snap.Router)
	assert.NotNil(t, snap.Registry)
	assert.NotNil(t, snap.Mappings)
}

func TestBuild_InvalidRouterConfigFails(t *testing.T) {
	cfg := testConfig()
	cfg.Router.BackgroundRegex = "(unterminated"
	_, err := Build(cfg, registry.Deps{})
	assert.Error(t, err)
}

func TestCell_LoadReturnsCurrentSnapshot(t *testing.T) {
	snap, err := Build(testConfig(), registry.Deps{})
	require.NoError(t, err)
	cell := NewCell(snap)
	assert.Same(t, snap, cell.Load())
}

func TestCell_ReloadSwapsSnapshot(t *testing.T) {
	initial, err := Build(testConfig(), registry.Deps{})
	require.NoError(t, err)
	cell := NewCell(initial)

	cfg2 := testConfig()
	cfg2.Router.Think = "think-model"
	cfg2.Models["think-model"] = config.ModelMapping{Mappings: []config.ModelTarget{{Provider: "p", UpstreamModel: "m2"}}}

	require.NoError(t, cell.Reload(cfg2, registry.Deps{}))
	assert.NotSame(t, initial, cell.Load())
	assert.Equal(t, "think-model", cell.Load().Config.Router.Think)
}

func TestCell_FailedReloadPreservesPreviousSnapshot(t *testing.T) {
	initial, err := Build(testConfig(), registry.Deps{})
	require.NoError(t, err)
	cell := NewCell(initial)

	bad := testConfig()
	bad.Router.BackgroundRegex = "(unterminated"
	err = cell.Reload(bad, registry.Deps{})
	require.Error(t, err)
	assert.Same(t, initial, cell.Load())
}

func TestCell_ConcurrentReloadsSerialize(t *testing.T) {
	initial, err := Build(testConfig(), registry.Deps{})
	require.NoError(t, err)
	cell := NewCell(initial)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cell.Reload(testConfig(), registry.Deps{})
		}()
	}
	wg.Wait()
	assert.NotNil(t, cell.Load())
}
