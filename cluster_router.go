package redistore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/redistore/redistore/internal/pool"
)

// routeEntry pairs a SlotRange with the ClusterNode that owns it. A
// ClusterRouter's slot map is a sorted slice of these, kept in start-slot
// order so lookup is a binary search rather than a linear scan.
type routeEntry struct {
	Range SlotRange
	Node  ClusterNode
}

// ClusterRouter holds the slot→node map and the node→connection cache,
// both guarded by one RWMutex, and dispatches each operation to the
// correct node. It catches Redirected and ConnectionLost, rebuilds the
// slot map via CLUSTER SLOTS, and applies exponential-backoff retry. Only
// one rebuild runs at a time; a concurrent caller that also sees a
// failure queues for the write lock behind it and typically finds a fresh
// map, but re-rebuilding if it loses that race is harmless (rebuild is
// idempotent). A plain slot-map lookup or cache hit only needs the read
// lock, but populating the cache on a miss mutates it and always upgrades
// to the write lock first (see getOrDialTransport) — holding only the
// read lock across a map write would race with every other reader.
type ClusterRouter struct {
	mu sync.RWMutex

	slotMap []routeEntry
	cache   *pool.ConnectionCache

	seeds  []NodeKey
	prefix string

	retryAmount   int
	retryBaseTime time.Duration
	retryMaxTime  time.Duration

	transportCfg pool.TransportConfig
	logger       Logger
}

// NewClusterRouter constructs a router from opts, iterating the
// configured seed nodes in order and populating the slot map from the
// first seed that answers CLUSTER SLOTS without error. If every seed
// fails, construction fails with ErrFatal.
func NewClusterRouter(ctx context.Context, opts ClusterOptions) (*ClusterRouter, error) {
	opts = opts.withDefaults()
	if err := opts.TLS.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Seeds) == 0 {
		return nil, fmt.Errorf("%w: no seed nodes configured", ErrFatal)
	}
	opts.Logger.Debugw("cluster router: authenticating", "seeds", len(opts.Seeds), "authScheme", opts.authScheme())

	r := &ClusterRouter{
		prefix:        opts.Prefix,
		retryAmount:   opts.RetryAmount,
		retryBaseTime: time.Duration(opts.RetryBaseTime) * time.Millisecond,
		retryMaxTime:  time.Duration(opts.RetryMaxTime) * time.Millisecond,
		logger:        opts.Logger,
		transportCfg: pool.TransportConfig{
			ConnectTimeout: opts.ConnectTimeout,
			CommandTimeout: opts.CommandTimeout,
			AuthUser:       opts.AuthUser,
			AuthPassword:   opts.AuthPassword,
			TLSEnabled:     opts.TLS.Enabled,
			TLSClientCert:  opts.TLS.ClientCert,
			TLSClientKey:   opts.TLS.ClientKey,
			TLSCABundle:    opts.TLS.CABundle,
			TLSCADirectory: opts.TLS.CADirectory,
		},
	}
	r.cache = pool.NewConnectionCache(r.dialNode)

	for _, s := range opts.Seeds {
		port := s.Port
		if port == 0 {
			port = DefaultPort
		}
		r.seeds = append(r.seeds, NodeKey{Host: s.Host, Port: port})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for _, seed := range r.seeds {
		slots, err := r.fetchSlotsFrom(ctx, seed)
		if err != nil {
			lastErr = err
			r.logger.Warnw("cluster router: seed failed at startup", "seed", seed.String(), "error", err)
			continue
		}
		r.slotMap = toRouteEntries(slots)
		return r, nil
	}
	return nil, errors.Wrap(fmt.Errorf("%w: %v", ErrFatal, lastErr), "every seed node failed at startup")
}

func (r *ClusterRouter) dialNode(key pool.NodeKey) (*pool.NodeTransport, error) {
	return pool.NewNodeTransport(key, r.transportCfg)
}

func toPoolKey(k NodeKey) pool.NodeKey {
	return pool.NodeKey{Host: k.Host, Port: k.Port}
}

func toRouteEntries(slots []SlotNode) []routeEntry {
	entries := make([]routeEntry, len(slots))
	for i, s := range slots {
		entries[i] = routeEntry{Range: s.Range, Node: s.Node}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Range.Compare(entries[j].Range) < 0
	})
	return entries
}

// fetchSlotsFrom dials seed directly (bypassing the connection cache —
// this connection is used once, for topology discovery, and then
// discarded) and issues CLUSTER SLOTS.
func (r *ClusterRouter) fetchSlotsFrom(ctx context.Context, seed NodeKey) ([]SlotNode, error) {
	transport, err := pool.NewNodeTransport(toPoolKey(seed), r.transportCfg)
	if err != nil {
		return nil, err
	}
	defer transport.Close()

	nc := NewNodeConnection(transport, r.prefix, r.logger)
	return nc.IterateSlots(ctx)
}

// lookupNode finds the unique range containing id's slot via binary
// search over the sorted slot map. The slot map is assumed
// non-overlapping, as CLUSTER SLOTS always reports it; transient
// inconsistency during a concurrent rebuild is tolerated by simply
// finding whichever range the read-locked snapshot contains.
func lookupNode(slotMap []routeEntry, id StorageId) (ClusterNode, bool) {
	slot := id.Slot()
	i := sort.Search(len(slotMap), func(i int) bool {
		return slotMap[i].Range.CompareSlot(slot) <= 0
	})
	if i < len(slotMap) && slotMap[i].Range.CompareSlot(slot) == 0 {
		return slotMap[i].Node, true
	}
	return ClusterNode{}, false
}

// routerCall implements wrappedCall(id, op, attempt=0): look up the slot
// owner, get-or-create its cached connection (upgrading to the write lock
// only if the cache misses), then invoke op under the read lock. On
// ConnectionLost or Redirected it releases the read lock, backs off,
// rebuilds the slot map under the write lock, and recurses up to
// r.retryAmount times before re-raising.
func routerCall[T any](ctx context.Context, r *ClusterRouter, id StorageId, op func(*NodeConnection) (T, error)) (T, error) {
	return routerCallAttempt(ctx, r, id, op, 0)
}

func routerCallAttempt[T any](ctx context.Context, r *ClusterRouter, id StorageId, op func(*NodeConnection) (T, error), attempt int) (T, error) {
	var zero T

	r.mu.RLock()
	node, ok := lookupNode(r.slotMap, id)
	r.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: no slot range owns slot %d", ErrProtocol, id.Slot())
	}
	transport, err := r.getOrDialTransport(node)
	if err != nil {
		return zero, err
	}
	nc := NewNodeConnection(transport, r.prefix, r.logger)

	r.mu.RLock()
	result, err := op(nc)
	r.mu.RUnlock()

	if err == nil {
		return result, nil
	}

	redirect, isRedirect := IsRedirected(err)
	if !IsConnectionLost(err) && !isRedirect {
		return zero, err
	}

	if attempt >= r.retryAmount {
		return zero, err
	}

	if isRedirect {
		r.logger.Debugw("cluster router: redirected, will rebuild and retry", "id", id.String(), "target", redirect.Error(), "attempt", attempt)
	} else {
		r.logger.Debugw("cluster router: connection lost, will rebuild and retry", "id", id.String(), "attempt", attempt)
	}

	r.backoff(ctx, attempt)

	if rebuildErr := r.rebuild(ctx); rebuildErr != nil {
		return zero, rebuildErr
	}

	return routerCallAttempt(ctx, r, id, op, attempt+1)
}

// backoff sleeps min(baseWait*2^attempt, maxWait) before a retry, logging
// at debug. maxWait == 0 means unbounded (no cap applied).
func (r *ClusterRouter) backoff(ctx context.Context, attempt int) {
	wait := r.retryBaseTime << attempt
	if r.retryMaxTime > 0 && wait > r.retryMaxTime {
		wait = r.retryMaxTime
	}
	r.logger.Debugw("cluster router: backing off before retry", "attempt", attempt, "wait", wait.String())

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// rebuild clears the connection cache first, then the slot map, then
// tries every previously-known node (via a freshly dialed connection,
// never the cache) until one answers CLUSTER SLOTS. Clearing the cache
// before the map, even though this package's value-typed NodeKey has no
// dangling-pointer hazard, keeps a stale transport pinned to a node that
// no longer owns its slots from ever being reused mid-rebuild.
func (r *ClusterRouter) rebuild(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.Clear()

	previous := r.slotMap
	r.slotMap = nil

	seen := map[NodeKey]bool{}
	candidates := make([]NodeKey, 0, len(previous)+len(r.seeds))
	for _, e := range previous {
		k := e.Node.Key()
		if !seen[k] {
			seen[k] = true
			candidates = append(candidates, k)
		}
	}
	for _, s := range r.seeds {
		if !seen[s] {
			seen[s] = true
			candidates = append(candidates, s)
		}
	}

	var lastErr error
	for _, candidate := range candidates {
		slots, err := r.fetchSlotsFrom(ctx, candidate)
		if err != nil {
			lastErr = err
			r.logger.Warnw("cluster router: rebuild candidate failed", "node", candidate.String(), "error", err)
			continue
		}
		r.slotMap = toRouteEntries(slots)
		return nil
	}
	return errors.Wrap(fmt.Errorf("%w: %v", ErrFatal, lastErr), "slot map rebuild found zero responsive nodes")
}

// ScanContext acquires the read lock, iterates every node known in the
// slot map, and invokes NodeConnection.ScanContext on each. Order across
// nodes is unspecified. Returns nil error on full success; per spec.md the
// aggregate key count is not tracked since the host's contract ignores it.
func (r *ClusterRouter) ScanContext(ctx context.Context, contextName string, cb func(node ClusterNode, key string) error) error {
	return r.forEachNode(func(node ClusterNode, nc *NodeConnection) error {
		return nc.ScanContext(ctx, contextName, func(key string) error {
			return cb(node, key)
		})
	})
}

// UpdateContext fans UpdateContext out across every node known in the slot
// map, same node enumeration as ScanContext.
func (r *ClusterRouter) UpdateContext(ctx context.Context, contextName string, exp int64) error {
	return r.forEachNode(func(_ ClusterNode, nc *NodeConnection) error {
		return nc.UpdateContext(ctx, contextName, exp)
	})
}

// DeleteContext fans DeleteContext out across every node known in the slot
// map, same node enumeration as ScanContext.
func (r *ClusterRouter) DeleteContext(ctx context.Context, contextName string) error {
	return r.forEachNode(func(_ ClusterNode, nc *NodeConnection) error {
		return nc.DeleteContext(ctx, contextName)
	})
}

func (r *ClusterRouter) forEachNode(op func(ClusterNode, *NodeConnection) error) error {
	r.mu.RLock()
	nodes := map[NodeKey]ClusterNode{}
	for _, e := range r.slotMap {
		nodes[e.Node.Key()] = e.Node
	}
	r.mu.RUnlock()

	for _, node := range nodes {
		transport, err := r.getOrDialTransport(node)
		if err != nil {
			return err
		}
		if err := op(node, NewNodeConnection(transport, r.prefix, r.logger)); err != nil {
			return err
		}
	}
	return nil
}

// getOrDialTransport resolves node's cached transport, double-checked: a
// read-locked lookup first, and only on a miss an upgrade to the write
// lock to dial and store — GetOrCreate mutates the cache's map, so it
// must never run under just the read lock.
func (r *ClusterRouter) getOrDialTransport(node ClusterNode) (*pool.NodeTransport, error) {
	r.mu.RLock()
	transport, hit := r.cache.Get(toPoolKey(node.Key()))
	r.mu.RUnlock()
	if hit {
		return transport, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	transport, err := r.cache.GetOrCreate(toPoolKey(node.Key()))
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrConnectionLost, node, err)
	}
	return transport, nil
}

// findNodeByKey is the auxiliary find-by-node lookup: a linear search over
// the slot map recovering the first routeEntry whose node matches key.
// Used only as a hint; correctness of the caller does not depend on it
// succeeding.
func (r *ClusterRouter) findNodeByKey(key NodeKey) (ClusterNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.slotMap {
		if e.Node.Key() == key {
			return e.Node, true
		}
	}
	return ClusterNode{}, false
}

// Prefix returns the key prefix this router was constructed with, so
// StorageFacade can build StorageId values consistently.
func (r *ClusterRouter) Prefix() string { return r.prefix }

// Close releases every cached connection.
func (r *ClusterRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Clear()
	return nil
}
