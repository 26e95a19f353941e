package bobclient

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache TTLs per query kind
const (
	balanceCacheTTL  = 10 * time.Second
	computorCacheTTL = time.Hour
	scQueryCacheTTL  = 10 * time.Minute

	balanceCacheSize = 4096
	scQueryCacheSize = 256
)

// cachedValue wraps a value with its fetch time. Entries are retained
// past their TTL so a stale value can still serve an RPC failure.
type cachedValue[T any] struct {
	value     T
	fetchedAt time.Time
}

func (c cachedValue[T]) fresh(ttl time.Duration) bool {
	return time.Since(c.fetchedAt) < ttl
}

// rpcCache holds the read-mostly query caches of the client
type rpcCache struct {
	mu        sync.RWMutex
	balances  *lru.Cache[string, cachedValue[*BalanceInfo]]
	computors map[uint32]cachedValue[[]string]
	scQueries *lru.Cache[string, cachedValue[string]]
}

func newRPCCache() *rpcCache {
	balances, _ := lru.New[string, cachedValue[*BalanceInfo]](balanceCacheSize)
	scQueries, _ := lru.New[string, cachedValue[string]](scQueryCacheSize)
	return &rpcCache{
		balances:  balances,
		computors: make(map[uint32]cachedValue[[]string]),
		scQueries: scQueries,
	}
}

func (c *rpcCache) getBalance(address string) (*BalanceInfo, bool, bool) {
	entry, ok := c.balances.Get(address)
	if !ok {
		return nil, false, false
	}
	return entry.value, true, entry.fresh(balanceCacheTTL)
}

func (c *rpcCache) setBalance(address string, info *BalanceInfo) {
	c.balances.Add(address, cachedValue[*BalanceInfo]{value: info, fetchedAt: time.Now()})
}

func (c *rpcCache) getComputors(epoch uint32) ([]string, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.computors[epoch]
	if !ok {
		return nil, false, false
	}
	return entry.value, true, entry.fresh(computorCacheTTL)
}

func (c *rpcCache) setComputors(epoch uint32, addresses []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.computors[epoch] = cachedValue[[]string]{value: addresses, fetchedAt: time.Now()}
}

func (c *rpcCache) getSCQuery(key string) (string, bool, bool) {
	entry, ok := c.scQueries.Get(key)
	if !ok {
		return "", false, false
	}
	return entry.value, true, entry.fresh(scQueryCacheTTL)
}

func (c *rpcCache) setSCQuery(key, output string) {
	c.scQueries.Add(key, cachedValue[string]{value: output, fetchedAt: time.Now()})
}
