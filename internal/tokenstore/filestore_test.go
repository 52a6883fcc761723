package tokenstore

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)

	_, ok, err := fs.Load("zai")
	require.NoError(t, err)
	assert.False(t, ok)

	tok := Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	require.NoError(t, fs.Save("zai", tok))

	got, ok, err := fs.Load("zai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tok, got)

	// Persisted to disk, and a fresh FileStore can read it back.
	fs2, err := NewFileStore(path)
	require.NoError(t, err)
	got2, ok, err := fs2.Load("zai")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tok, got2)
}

func TestFileStore_SaveIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, fs.Save("zai", Token{AccessToken: "a"}))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no stray temp files should remain")
}

func TestFileStore_RefreshLocked_NoRefreshWhenFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)

	fresh := Token{AccessToken: "still-good", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	require.NoError(t, fs.Save("zai", fresh))

	var calls int32
	tok, err := fs.RefreshLocked("zai", time.Now(), func() (Token, error) {
		atomic.AddInt32(&calls, 1)
		return Token{AccessToken: "new"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, fresh, tok)
	assert.Equal(t, int32(0), calls, "a non-expiring token must not trigger a refresh")
}

func TestFileStore_RefreshLocked_CoalescesConcurrentCallers(t *testing.T) {
	// For any two concurrent refreshes for the same provider, exactly one
	// network refresh call is issued.
	path := filepath.Join(t.TempDir(), "tokens.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)

	expired := Token{AccessToken: "stale", ExpiresAt: time.Now().Add(-time.Hour).Unix()}
	require.NoError(t, fs.Save("zai", expired))

	var calls int32
	var wg sync.WaitGroup
	results := make([]Token, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := fs.RefreshLocked("zai", time.Now(), func() (Token, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return Token{AccessToken: "refreshed", ExpiresAt: time.Now().Add(time.Hour).Unix()}, nil
			})
			require.NoError(t, err)
			results[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls, "exactly one network refresh call should be issued")
	for _, r := range results {
		assert.Equal(t, "refreshed", r.AccessToken)
	}
}
