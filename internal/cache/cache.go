package cache

import "context"

// Store is a read-through response cache. Records are immutable once
// published, so cached entries can never go stale in a harmful way; the
// cache is purely a performance layer and misses are always safe.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// Noop satisfies Store and caches nothing.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Noop) Set(context.Context, string, []byte)        {}
