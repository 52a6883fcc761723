package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the multi-instance Store backend: tokens live in a shared
// Redis key space so an OAuth refresh performed by one ccrouter instance is
// visible to every other instance without a second refresh.
type RedisStore struct {
	client *redis.Client
	prefix string

	// localLocks still coalesces concurrent refreshes within this process
	// before anyone contends for the distributed lock — the common case of
	// two goroutines in the same instance racing to refresh the same
	// provider shouldn't need a round trip to Redis to resolve.
	localMu    sync.Mutex
	localLocks map[string]*sync.Mutex
}

// NewRedisStore constructs a RedisStore against an already-configured
// *redis.Client. keyPrefix namespaces this ccrouter deployment's keys
// (e.g. "ccrouter:tokens:") in a shared Redis instance.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:     client,
		prefix:     keyPrefix,
		localLocks: make(map[string]*sync.Mutex),
	}
}

func (rs *RedisStore) key(provider string) string {
	return rs.prefix + provider
}

func (rs *RedisStore) lockKey(provider string) string {
	return rs.prefix + "lock:" + provider
}

func (rs *RedisStore) Load(provider string) (Token, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := rs.client.Get(ctx, rs.key(provider)).Result()
	if err == redis.Nil {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("loading token for provider %s from redis: %w", provider, err)
	}

	var tok Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return Token{}, false, fmt.Errorf("decoding token for provider %s: %w", provider, err)
	}
	return tok, true, nil
}

func (rs *RedisStore) Save(provider string, token Token) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshaling token for provider %s: %w", provider, err)
	}
	if err := rs.client.Set(ctx, rs.key(provider), raw, 0).Err(); err != nil {
		return fmt.Errorf("saving token for provider %s to redis: %w", provider, err)
	}
	return nil
}

// RefreshLocked coalesces in-process first, then acquires a Redis SET NX
// lock so only one of any number of ccrouter instances performs the actual
// refresh call; the rest poll Redis for the freshly-saved token.
func (rs *RedisStore) RefreshLocked(provider string, now time.Time, refresh func() (Token, error)) (Token, error) {
	local := rs.localLockFor(provider)
	local.Lock()
	defer local.Unlock()

	if tok, ok, _ := rs.Load(provider); ok && !tok.NeedsRefresh(now) {
		return tok, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	acquired, err := rs.client.SetNX(ctx, rs.lockKey(provider), "1", 15*time.Second).Result()
	if err != nil {
		return Token{}, fmt.Errorf("acquiring refresh lock for provider %s: %w", provider, err)
	}

	if !acquired {
		return rs.awaitPeerRefresh(ctx, provider, now)
	}
	defer rs.client.Del(context.Background(), rs.lockKey(provider))

	tok, err := refresh()
	if err != nil {
		return Token{}, fmt.Errorf("refreshing token for provider %s: %w", provider, err)
	}
	if err := rs.Save(provider, tok); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// awaitPeerRefresh polls for the token another instance is refreshing.
func (rs *RedisStore) awaitPeerRefresh(ctx context.Context, provider string, now time.Time) (Token, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Token{}, fmt.Errorf("timed out waiting for peer refresh of provider %s: %w", provider, ctx.Err())
		case <-ticker.C:
			if tok, ok, err := rs.Load(provider); err == nil && ok && !tok.NeedsRefresh(now) {
				return tok, nil
			}
		}
	}
}

func (rs *RedisStore) localLockFor(provider string) *sync.Mutex {
	rs.localMu.Lock()
	defer rs.localMu.Unlock()
	lock, ok := rs.localLocks[provider]
	if !ok {
		lock = &sync.Mutex{}
		rs.localLocks[provider] = lock
	}
	return lock
}
