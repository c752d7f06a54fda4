package pool

// ConnectionCache maps a NodeKey to its single NodeTransport. The zero
// value is not usable; construct with NewConnectionCache.
//
// Callers (ClusterRouter) are expected to guard this with their own
// read/write lock alongside the slot map, since the two must be
// invalidated together on rebuild. This type performs no locking of its
// own — it is a plain map wrapper, not a concurrent cache: a lookup that
// only reads is safe under the caller's read lock (Get), but any call
// that may populate the map (GetOrCreate) mutates it and therefore
// requires the caller's write lock, the same as any other write to the
// router's state.
type ConnectionCache struct {
	entries map[NodeKey]*NodeTransport
	factory func(NodeKey) (*NodeTransport, error)
}

// NewConnectionCache constructs an empty cache that lazily dials new
// transports via factory on first use.
func NewConnectionCache(factory func(NodeKey) (*NodeTransport, error)) *ConnectionCache {
	return &ConnectionCache{
		entries: make(map[NodeKey]*NodeTransport),
		factory: factory,
	}
}

// Get returns the cached transport for key without mutating the map.
// Safe under the caller's read lock.
func (c *ConnectionCache) Get(key NodeKey) (*NodeTransport, bool) {
	t, ok := c.entries[key]
	return t, ok
}

// GetOrCreate returns the cached transport for key, dialing and caching a
// new one if absent. Mutates the map on a miss — callers must hold the
// caller-side write lock, not just a read lock, even for the read-then-
// maybe-write sequence below, since two callers racing on the same miss
// would otherwise both write the map concurrently.
func (c *ConnectionCache) GetOrCreate(key NodeKey) (*NodeTransport, error) {
	if t, ok := c.entries[key]; ok {
		return t, nil
	}
	t, err := c.factory(key)
	if err != nil {
		return nil, err
	}
	c.entries[key] = t
	return t, nil
}

// Clear closes and drops every cached transport. This is always called
// before the slot map it backs is rebuilt, so no lookup can resolve a
// stale connection once the map changes underneath it — the invalidation
// ordering the original pointer-keyed cache needed for safety, kept here
// as a matter of correctness rather than necessity (a value-typed NodeKey
// has no dangling-pointer hazard, but a stale transport pointed at a node
// that no longer owns its slots is still wrong to reuse).
func (c *ConnectionCache) Clear() {
	for key, t := range c.entries {
		_ = t.Close()
		delete(c.entries, key)
	}
}

// Len reports how many transports are currently cached.
func (c *ConnectionCache) Len() int {
	return len(c.entries)
}
