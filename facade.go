package redistore

import "context"

// storageBackend is the capability StorageFacade delegates to: either a
// single NodeConnection or a ClusterRouter, behind a uniform signature.
// This is the capability abstraction the rewrite guidance calls for in
// place of the original's type-erased scanContext core — the facade
// converts a plain (context, key) pair into a StorageId once, and every
// backend method after that takes the already-built id.
type storageBackend interface {
	Prefix() string
	Set(ctx context.Context, id StorageId, value string, exp int64) (bool, error)
	GetVersioned(ctx context.Context, id StorageId, minVersion int, wantValue, wantExpiry bool) (value string, hasValue bool, exp int64, hasExpiry bool, version int, err error)
	ForceGet(ctx context.Context, id StorageId, wantValue, wantExpiry bool) (value string, hasValue bool, exp int64, hasExpiry bool, version int, err error)
	UpdateVersioned(ctx context.Context, id StorageId, value string, exp int64, ifVersion int) (int, error)
	ForceUpdate(ctx context.Context, id StorageId, value string, exp int64) (int, error)
	Remove(ctx context.Context, id StorageId) (bool, error)
	UpdateContext(ctx context.Context, contextName string, exp int64) error
	DeleteContext(ctx context.Context, contextName string) error
}

// clusterBackend adapts a *ClusterRouter to storageBackend, routing each
// per-id operation through routerCall's dispatch/retry/backoff/rebuild
// loop.
type clusterBackend struct {
	router *ClusterRouter
}

func (b clusterBackend) Prefix() string { return b.router.Prefix() }

func (b clusterBackend) Set(ctx context.Context, id StorageId, value string, exp int64) (bool, error) {
	return routerCall(ctx, b.router, id, func(nc *NodeConnection) (bool, error) {
		return nc.Set(ctx, id, value, exp)
	})
}

func (b clusterBackend) GetVersioned(ctx context.Context, id StorageId, minVersion int, wantValue, wantExpiry bool) (string, bool, int64, bool, int, error) {
	type result struct {
		value      string
		hasValue   bool
		exp        int64
		hasExpiry  bool
		version    int
	}
	r, err := routerCall(ctx, b.router, id, func(nc *NodeConnection) (result, error) {
		value, hasValue, exp, hasExpiry, version, err := nc.GetVersioned(ctx, id, minVersion, wantValue, wantExpiry)
		return result{value, hasValue, exp, hasExpiry, version}, err
	})
	return r.value, r.hasValue, r.exp, r.hasExpiry, r.version, err
}

func (b clusterBackend) ForceGet(ctx context.Context, id StorageId, wantValue, wantExpiry bool) (string, bool, int64, bool, int, error) {
	type result struct {
		value     string
		hasValue  bool
		exp       int64
		hasExpiry bool
		version   int
	}
	r, err := routerCall(ctx, b.router, id, func(nc *NodeConnection) (result, error) {
		value, hasValue, exp, hasExpiry, version, err := nc.ForceGet(ctx, id, wantValue, wantExpiry)
		return result{value, hasValue, exp, hasExpiry, version}, err
	})
	return r.value, r.hasValue, r.exp, r.hasExpiry, r.version, err
}

func (b clusterBackend) UpdateVersioned(ctx context.Context, id StorageId, value string, exp int64, ifVersion int) (int, error) {
	return routerCall(ctx, b.router, id, func(nc *NodeConnection) (int, error) {
		return nc.UpdateVersioned(ctx, id, value, exp, ifVersion)
	})
}

func (b clusterBackend) ForceUpdate(ctx context.Context, id StorageId, value string, exp int64) (int, error) {
	return routerCall(ctx, b.router, id, func(nc *NodeConnection) (int, error) {
		return nc.ForceUpdate(ctx, id, value, exp)
	})
}

func (b clusterBackend) Remove(ctx context.Context, id StorageId) (bool, error) {
	return routerCall(ctx, b.router, id, func(nc *NodeConnection) (bool, error) {
		return nc.Remove(ctx, id)
	})
}

func (b clusterBackend) UpdateContext(ctx context.Context, contextName string, exp int64) error {
	return b.router.UpdateContext(ctx, contextName, exp)
}

func (b clusterBackend) DeleteContext(ctx context.Context, contextName string) error {
	return b.router.DeleteContext(ctx, contextName)
}

// StorageFacade is the thin adapter the host interacts with: it turns
// (context, key) strings into a StorageId and delegates to either a
// single NodeConnection or a ClusterRouter. It carries no state of its
// own beyond the backend and is safe for concurrent use, since both
// backends already guard their own state.
type StorageFacade struct {
	backend storageBackend
}

// NewStorageFacade builds a facade over a single, non-cluster connection.
func NewStorageFacade(nc *NodeConnection) *StorageFacade {
	return &StorageFacade{backend: nc}
}

// NewClusterStorageFacade builds a facade over a ClusterRouter.
func NewClusterStorageFacade(router *ClusterRouter) *StorageFacade {
	return &StorageFacade{backend: clusterBackend{router: router}}
}

func (f *StorageFacade) id(contextName, key string) StorageId {
	return NewStorageId(contextName, key, f.backend.Prefix())
}

// Create creates both the data key and its version key for (context, key)
// iff neither exists. See NodeConnection.Set.
func (f *StorageFacade) Create(ctx context.Context, contextName, key, value string, exp int64) (bool, error) {
	return f.backend.Set(ctx, f.id(contextName, key), value, exp)
}

// Read chooses GetVersioned if version > 0, else ForceGet, matching the
// upstream contract: version == 0 means "unconditional, return current
// version or 0 if absent"; version > 0 means "return payload only if
// current >= version".
func (f *StorageFacade) Read(ctx context.Context, contextName, key string, version int, wantValue, wantExpiry bool) (value string, hasValue bool, exp int64, hasExpiry bool, gotVersion int, err error) {
	id := f.id(contextName, key)
	if version > 0 {
		return f.backend.GetVersioned(ctx, id, version, wantValue, wantExpiry)
	}
	return f.backend.ForceGet(ctx, id, wantValue, wantExpiry)
}

// Update chooses UpdateVersioned if version > 0, else ForceUpdate,
// matching the upstream CAS contract: version > 0 updates only if current
// == version, returning -1 on mismatch or the new version on success.
func (f *StorageFacade) Update(ctx context.Context, contextName, key, value string, exp int64, version int) (int, error) {
	id := f.id(contextName, key)
	if version > 0 {
		return f.backend.UpdateVersioned(ctx, id, value, exp, version)
	}
	return f.backend.ForceUpdate(ctx, id, value, exp)
}

// Delete removes (context, key)'s data and version keys.
func (f *StorageFacade) Delete(ctx context.Context, contextName, key string) (bool, error) {
	return f.backend.Remove(ctx, f.id(contextName, key))
}

// UpdateContext issues EXPIREAT on every key in contextName.
func (f *StorageFacade) UpdateContext(ctx context.Context, contextName string, exp int64) error {
	return f.backend.UpdateContext(ctx, contextName, exp)
}

// DeleteContext unlinks every key in contextName.
func (f *StorageFacade) DeleteContext(ctx context.Context, contextName string) error {
	return f.backend.DeleteContext(ctx, contextName)
}

// Reap is a no-op: expiration is the server's own responsibility.
func (f *StorageFacade) Reap(ctx context.Context) error {
	return nil
}
