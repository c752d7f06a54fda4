package redistore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redistore/redistore/internal/pool"
	"github.com/redistore/redistore/internal/storeproto"
)

// optimisticRetries bounds the WATCH/MULTI/EXEC retry loop in
// getVersioned/updateVersioned. The counter resets between top-level
// calls; it is never carried across them.
const optimisticRetries = 3

// reconnectAttempts bounds the silent reconnect loop the error classifier
// runs before surfacing ErrConnectionLost on a null reply.
const reconnectAttempts = 3

// NodeConnection is one authenticated, possibly-TLS connection to a
// single Redis endpoint. It owns the command-level protocol (pipelining,
// MULTI/EXEC, WATCH, SCAN), the error classifier, and the versioned-
// storage algorithm. Every operation holds the transport's mutex for its
// entire duration, serializing concurrent callers onto the single
// underlying connection — this package does not pool connections per
// spec's "one mutex-guarded connection per node" non-goal.
type NodeConnection struct {
	transport *pool.NodeTransport
	prefix    string
	logger    Logger
}

// NewNodeConnection constructs a NodeConnection over an already-dialed
// transport. pool.NewNodeTransport only reports TLS configuration errors,
// which the caller (ClusterRouter or NewNode) classifies; TCP dial and
// auth failures surface from the first command issued on the connection
// and go through classify like any other command error.
func NewNodeConnection(transport *pool.NodeTransport, prefix string, logger Logger) *NodeConnection {
	if logger == nil {
		logger = defaultLogger()
	}
	return &NodeConnection{transport: transport, prefix: prefix, logger: logger}
}

// NewNode constructs a standalone (non-cluster) NodeConnection directly
// from Options, dialing its single underlying connection.
func NewNode(opts Options) (*NodeConnection, error) {
	opts = opts.withDefaults()
	if err := opts.TLS.Validate(); err != nil {
		return nil, err
	}
	opts.Logger.Debugw("node connection: authenticating", "host", opts.Host, "port", opts.Port, "authScheme", opts.authScheme())

	transport, err := pool.NewNodeTransport(pool.NodeKey{Host: opts.Host, Port: opts.Port}, pool.TransportConfig{
		ConnectTimeout: opts.ConnectTimeout,
		CommandTimeout: opts.CommandTimeout,
		AuthUser:       opts.AuthUser,
		AuthPassword:   opts.AuthPassword,
		TLSEnabled:     opts.TLS.Enabled,
		TLSClientCert:  opts.TLS.ClientCert,
		TLSClientKey:   opts.TLS.ClientKey,
		TLSCABundle:    opts.TLS.CABundle,
		TLSCADirectory: opts.TLS.CADirectory,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return NewNodeConnection(transport, opts.Prefix, opts.Logger), nil
}

// Prefix returns the key prefix this connection was constructed with, so
// StorageFacade can build StorageId values consistently.
func (nc *NodeConnection) Prefix() string { return nc.prefix }

// Close releases the underlying connection.
func (nc *NodeConnection) Close() error { return nc.transport.Close() }

// Set creates both the data key and its version key iff neither exists.
// Returns true on success, false if the data key already existed. Uses a
// pipelined MULTI / SET data NX EXAT exp / SET version NX EXAT exp / EXEC;
// if exactly one SET NX succeeded, the stray key is unlinked and false is
// returned with a warning, since a half-created value is a violation of
// the key/version coexistence invariant.
func (nc *NodeConnection) Set(ctx context.Context, id StorageId, value string, exp int64) (bool, error) {
	unlock := nc.transport.Lock()
	defer unlock()

	cmders, err := nc.transport.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		setOpts := setArgsNX(exp)
		pipe.SetArgs(ctx, id.Render(), value, setOpts)
		pipe.SetArgs(ctx, id.RenderVersion(), "1", setOpts)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, nc.classify(ctx, err)
	}
	if len(cmders) != 2 {
		return false, fmt.Errorf("%w: SET transaction returned %d replies, expected 2", ErrProtocol, len(cmders))
	}

	dataOK := cmders[0].(*redis.StatusCmd).Err() == nil
	versionOK := cmders[1].(*redis.StatusCmd).Err() == nil

	switch {
	case dataOK && versionOK:
		return true, nil
	case dataOK && !versionOK:
		nc.logger.Warnw("set: data key created but version key already existed, unlinking", "id", id.String())
		nc.transport.Client.Unlink(ctx, id.Render())
		return false, nil
	case !dataOK && versionOK:
		nc.logger.Warnw("set: version key created but data key already existed, unlinking", "id", id.String())
		nc.transport.Client.Unlink(ctx, id.RenderVersion())
		return false, nil
	default:
		return false, nil
	}
}

func setArgsNX(exp int64) redis.SetArgs {
	args := redis.SetArgs{Mode: "NX"}
	if exp != 0 {
		args.ExpireAt = time.Unix(exp, 0)
	}
	return args
}

// GetVersioned reads the current version; if it is below minVersion,
// returns the version without the payload. Otherwise it reads the payload
// (and, if requested, the expiration) inside a WATCH version.of:.../MULTI/
// GET data?/EXPIRETIME data?/EXEC, retrying up to optimisticRetries times
// if the watched version changes mid-transaction. Omitting both value and
// expiry short-circuits to a bare version read (no WATCH needed).
func (nc *NodeConnection) GetVersioned(ctx context.Context, id StorageId, minVersion int, wantValue, wantExpiry bool) (value string, hasValue bool, exp int64, hasExpiry bool, version int, err error) {
	unlock := nc.transport.Lock()
	defer unlock()

	if !wantValue && !wantExpiry {
		version, err = nc.readVersion(ctx, id)
		return "", false, 0, false, version, err
	}

	for attempt := 0; attempt < optimisticRetries; attempt++ {
		value, hasValue, exp, hasExpiry, version, err = nc.getVersionedAttempt(ctx, id, minVersion, wantValue, wantExpiry)
		if err == nil || !errors.Is(err, redis.TxFailedErr) {
			return value, hasValue, exp, hasExpiry, version, err
		}
		nc.logger.Warnw("getVersioned: watched version changed, retrying", "id", id.String(), "attempt", attempt)
	}
	nc.logger.Warnw("getVersioned: optimistic concurrency retries exhausted", "id", id.String())
	return "", false, 0, false, 0, ErrConcurrencyExhausted
}

func (nc *NodeConnection) getVersionedAttempt(ctx context.Context, id StorageId, minVersion int, wantValue, wantExpiry bool) (value string, hasValue bool, exp int64, hasExpiry bool, version int, err error) {
	var strCmd *redis.StringCmd
	var expCmd *redis.DurationCmd

	txErr := nc.transport.Client.Watch(ctx, func(tx *redis.Tx) error {
		current, currErr := readVersionFrom(ctx, tx, id)
		if currErr != nil {
			return currErr
		}
		version = current
		if version < minVersion {
			return nil
		}

		cmders, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if wantValue {
				strCmd = pipe.Get(ctx, id.Render())
			}
			if wantExpiry {
				expCmd = pipe.ExpireTime(ctx, id.Render())
			}
			return nil
		})
		if pipeErr != nil && !errors.Is(pipeErr, redis.Nil) {
			return pipeErr
		}

		shape := storeproto.OptionalShape(nil, wantValue, wantExpiry, storeproto.StepGetData, storeproto.StepExpireTime)
		if err := storeproto.Validate(cmders, shape); err != nil {
			return err
		}
		return nil
	}, id.RenderVersion())

	if txErr != nil {
		if errors.Is(txErr, redis.TxFailedErr) {
			return "", false, 0, false, 0, txErr
		}
		return "", false, 0, false, 0, nc.classify(ctx, txErr)
	}

	if version < minVersion {
		return "", false, 0, false, version, nil
	}
	if wantValue && strCmd != nil {
		if strCmd.Err() == nil {
			value, hasValue = strCmd.Val(), true
		} else if !errors.Is(strCmd.Err(), redis.Nil) {
			return "", false, 0, false, 0, nc.classify(ctx, strCmd.Err())
		}
	}
	if wantExpiry && expCmd != nil && expCmd.Err() == nil {
		if secs := int64(expCmd.Val() / time.Second); secs > 0 {
			exp, hasExpiry = secs, true
		}
	}
	return value, hasValue, exp, hasExpiry, version, nil
}

// readVersion reads the bare version-key integer outside any transaction.
func (nc *NodeConnection) readVersion(ctx context.Context, id StorageId) (int, error) {
	v, err := readVersionFrom(ctx, nc.transport.Client, id)
	if err != nil {
		return 0, nc.classify(ctx, err)
	}
	return v, nil
}

// versionReader is satisfied by both *redis.Client and *redis.Tx, letting
// readVersionFrom run the same Get-and-parse logic whether or not it is
// inside a WATCH transaction.
type versionReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readVersionFrom(ctx context.Context, r versionReader, id StorageId) (int, error) {
	s, err := r.Get(ctx, id.RenderVersion()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, _ := parseVersion(s)
	return v, nil
}

// ForceGet unconditionally reads MULTI / GET version / GET data? /
// EXPIRETIME data? / EXEC, returning version 0 if either data or version
// is absent.
func (nc *NodeConnection) ForceGet(ctx context.Context, id StorageId, wantValue, wantExpiry bool) (value string, hasValue bool, exp int64, hasExpiry bool, version int, err error) {
	unlock := nc.transport.Lock()
	defer unlock()

	var versionCmd *redis.StringCmd
	var strCmd *redis.StringCmd
	var expCmd *redis.DurationCmd

	cmders, pipeErr := nc.transport.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		versionCmd = pipe.Get(ctx, id.RenderVersion())
		if wantValue {
			strCmd = pipe.Get(ctx, id.Render())
		}
		if wantExpiry {
			expCmd = pipe.ExpireTime(ctx, id.Render())
		}
		return nil
	})
	if pipeErr != nil && !errors.Is(pipeErr, redis.Nil) {
		return "", false, 0, false, 0, nc.classify(ctx, pipeErr)
	}

	shape := storeproto.OptionalShape([]storeproto.Step{storeproto.StepGetVersion}, wantValue, wantExpiry, storeproto.StepGetData, storeproto.StepExpireTime)
	if err := storeproto.Validate(cmders, shape); err != nil {
		return "", false, 0, false, 0, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if errors.Is(versionCmd.Err(), redis.Nil) {
		return "", false, 0, false, 0, nil
	}
	if versionCmd.Err() != nil {
		return "", false, 0, false, 0, nc.classify(ctx, versionCmd.Err())
	}
	version, _ = parseVersion(versionCmd.Val())

	if wantValue {
		if strCmd.Err() != nil {
			if errors.Is(strCmd.Err(), redis.Nil) {
				return "", false, 0, false, 0, nil
			}
			return "", false, 0, false, 0, nc.classify(ctx, strCmd.Err())
		}
		value, hasValue = strCmd.Val(), true
	}
	if wantExpiry && expCmd.Err() == nil {
		if secs := int64(expCmd.Val() / time.Second); secs > 0 {
			exp, hasExpiry = secs, true
		}
	}
	return value, hasValue, exp, hasExpiry, version, nil
}

// UpdateVersioned performs WATCH version.of:.../compare ifVersion. If the
// current version does not match ifVersion, returns -1 (a CAS-mismatch
// value, not an error). Otherwise MULTI / SET data XX KEEPTTL / INCR
// version / [EXPIREAT data exp / EXPIREAT version exp if exp != 0] / EXEC,
// retried up to optimisticRetries times on a nil EXEC (watched version
// changed) or on the INCR result not matching currentVersion+1.
func (nc *NodeConnection) UpdateVersioned(ctx context.Context, id StorageId, value string, exp int64, ifVersion int) (int, error) {
	unlock := nc.transport.Lock()
	defer unlock()

	for attempt := 0; attempt < optimisticRetries; attempt++ {
		newVersion, mismatch, retry, err := nc.updateVersionedAttempt(ctx, id, value, exp, ifVersion)
		if err != nil {
			return 0, err
		}
		if mismatch {
			return -1, nil
		}
		if !retry {
			return newVersion, nil
		}
		nc.logger.Warnw("updateVersioned: retrying after version race", "id", id.String(), "attempt", attempt)
	}
	nc.logger.Warnw("updateVersioned: optimistic concurrency retries exhausted", "id", id.String())
	return 0, ErrConcurrencyExhausted
}

func (nc *NodeConnection) updateVersionedAttempt(ctx context.Context, id StorageId, value string, exp int64, ifVersion int) (newVersion int, mismatch bool, retry bool, err error) {
	var incrCmd *redis.IntCmd

	txErr := nc.transport.Client.Watch(ctx, func(tx *redis.Tx) error {
		current, currErr := readVersionFrom(ctx, tx, id)
		if currErr != nil {
			return currErr
		}
		if current != ifVersion {
			mismatch = true
			return nil
		}

		cmders, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, id.Render(), value, redis.SetArgs{Mode: "XX", KeepTTL: true})
			incrCmd = pipe.Incr(ctx, id.RenderVersion())
			if exp != 0 {
				pipe.ExpireAt(ctx, id.Render(), time.Unix(exp, 0))
				pipe.ExpireAt(ctx, id.RenderVersion(), time.Unix(exp, 0))
			}
			return nil
		})
		if pipeErr != nil && !errors.Is(pipeErr, redis.Nil) {
			return pipeErr
		}

		fixed := []storeproto.Step{storeproto.StepSetData, storeproto.StepIncrVersion}
		if exp != 0 {
			fixed = append(fixed, storeproto.StepExpireData, storeproto.StepExpireVer)
		}
		if err := storeproto.Validate(cmders, fixed); err != nil {
			return err
		}
		return nil
	}, id.RenderVersion())

	if txErr != nil {
		if errors.Is(txErr, redis.TxFailedErr) {
			return 0, false, true, nil
		}
		return 0, false, false, nc.classify(ctx, txErr)
	}
	if mismatch {
		return 0, true, false, nil
	}

	got := int(incrCmd.Val())
	if got-1 != ifVersion {
		return 0, false, true, nil
	}
	return got, false, false, nil
}

// ForceUpdate performs the same body as UpdateVersioned without the WATCH/
// version-match check, unconditionally bumping the version.
func (nc *NodeConnection) ForceUpdate(ctx context.Context, id StorageId, value string, exp int64) (int, error) {
	unlock := nc.transport.Lock()
	defer unlock()

	var incrCmd *redis.IntCmd
	cmders, pipeErr := nc.transport.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetArgs(ctx, id.Render(), value, redis.SetArgs{Mode: "XX", KeepTTL: true})
		incrCmd = pipe.Incr(ctx, id.RenderVersion())
		if exp != 0 {
			pipe.ExpireAt(ctx, id.Render(), time.Unix(exp, 0))
			pipe.ExpireAt(ctx, id.RenderVersion(), time.Unix(exp, 0))
		}
		return nil
	})
	if pipeErr != nil && !errors.Is(pipeErr, redis.Nil) {
		return 0, nc.classify(ctx, pipeErr)
	}

	fixed := []storeproto.Step{storeproto.StepSetData, storeproto.StepIncrVersion}
	if exp != 0 {
		fixed = append(fixed, storeproto.StepExpireData, storeproto.StepExpireVer)
	}
	if err := storeproto.Validate(cmders, fixed); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	return int(incrCmd.Val()), nil
}

// Remove unlinks the data key and its version key, returning true iff the
// server reports at least one key deleted.
func (nc *NodeConnection) Remove(ctx context.Context, id StorageId) (bool, error) {
	unlock := nc.transport.Lock()
	defer unlock()

	n, err := nc.transport.Client.Unlink(ctx, id.Render(), id.RenderVersion()).Result()
	if err != nil {
		return false, nc.classify(ctx, err)
	}
	return n >= 1, nil
}

// ScanContext iterates SCAN cursor MATCH {context:* until the cursor
// returns to 0, invoking cb with each matched key string. Non-string
// elements cannot occur over SCAN's own keyspace iteration (it always
// yields key names), so unlike the original this never needs to skip an
// entry — preserved here only as a comment since go-redis's ScanCmd types
// the result as []string already.
func (nc *NodeConnection) ScanContext(ctx context.Context, context string, cb func(key string) error) error {
	unlock := nc.transport.Lock()
	defer unlock()

	return nc.scanContextLocked(ctx, context, cb)
}

// UpdateContext issues EXPIREAT fullKey exp and EXPIREAT version.of:fullKey
// exp for every data key in context, found via the same SCAN cursor loop
// as ScanContext.
func (nc *NodeConnection) UpdateContext(ctx context.Context, context string, exp int64) error {
	unlock := nc.transport.Lock()
	defer unlock()

	return nc.scanContextLocked(ctx, context, func(key string) error {
		at := time.Unix(exp, 0)
		err := firstErr(
			nc.transport.Client.ExpireAt(ctx, key, at).Err(),
			nc.transport.Client.ExpireAt(ctx, versionKeyPrefix+key, at).Err(),
		)
		return nc.classify(ctx, err)
	})
}

// DeleteContext unlinks fullKey and version.of:fullKey for every data key
// in context, found via the same SCAN cursor loop as ScanContext.
func (nc *NodeConnection) DeleteContext(ctx context.Context, context string) error {
	unlock := nc.transport.Lock()
	defer unlock()

	return nc.scanContextLocked(ctx, context, func(key string) error {
		return nc.classify(ctx, nc.transport.Client.Unlink(ctx, key, versionKeyPrefix+key).Err())
	})
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// scanContextLocked is the SCAN cursor loop shared by ScanContext,
// UpdateContext, and DeleteContext. Callers must already hold the
// transport lock.
func (nc *NodeConnection) scanContextLocked(ctx context.Context, contextName string, cb func(key string) error) error {
	pattern := scanContextPattern(contextName)
	var cursor uint64
	for {
		keys, next, err := nc.transport.Client.Scan(ctx, cursor, pattern, 0).Result()
		if err != nil {
			return nc.classify(ctx, err)
		}
		for _, k := range keys {
			if err := cb(k); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// SlotNode pairs a SlotRange with the ClusterNode that owns it, as
// reported by one row of CLUSTER SLOTS.
type SlotNode struct {
	Range SlotRange
	Node  ClusterNode
}

// IterateSlots issues CLUSTER SLOTS and returns one SlotNode per returned
// row, built from the first two integers (start, end slot) and the first
// (host, port) pair in the row's node list.
func (nc *NodeConnection) IterateSlots(ctx context.Context) ([]SlotNode, error) {
	unlock := nc.transport.Lock()
	defer unlock()

	slots, err := nc.transport.Client.ClusterSlots(ctx).Result()
	if err != nil {
		return nil, nc.classify(ctx, err)
	}

	result := make([]SlotNode, 0, len(slots))
	for _, s := range slots {
		if len(s.Nodes) == 0 {
			return nil, fmt.Errorf("%w: CLUSTER SLOTS row %d-%d has no nodes", ErrProtocol, s.Start, s.End)
		}
		r, err := NewSlotRange(uint16(s.Start), uint16(s.End))
		if err != nil {
			return nil, fmt.Errorf("%w: CLUSTER SLOTS row %d-%d: %v", ErrProtocol, s.Start, s.End, err)
		}
		host, port, err := splitHostPort(s.Nodes[0].Addr)
		if err != nil {
			return nil, fmt.Errorf("%w: CLUSTER SLOTS row %d-%d: %v", ErrProtocol, s.Start, s.End, err)
		}
		result = append(result, SlotNode{
			Range: r,
			Node:  ClusterNode{Host: host, Port: port},
		})
	}
	return result, nil
}

// classify translates a go-redis error into one of this package's typed
// error kinds: a null reply after up to reconnectAttempts silent
// reconnects becomes ConnectionLost; a MOVED error becomes Redirected;
// CLUSTERDOWN becomes ConnectionLost (to provoke the same router rebuild
// path); anything else is Protocol.
func (nc *NodeConnection) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, redis.Nil) {
		return nil
	}

	msg := err.Error()

	if strings.HasPrefix(msg, "MOVED ") {
		host, port, parseErr := parseMoved(msg)
		if parseErr != nil {
			nc.logger.Criticalw("redistore: failed to parse MOVED reply, defaulting port", "raw", msg, "error", parseErr)
			return NewRedirectedError(host, DefaultPort)
		}
		return NewRedirectedError(host, port)
	}

	if strings.HasPrefix(msg, "CLUSTERDOWN") {
		return fmt.Errorf("%w: %s", ErrConnectionLost, msg)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		if nc.reconnect(ctx) {
			return fmt.Errorf("%w: %s", ErrConnectionLost, msg)
		}
		return fmt.Errorf("%w: %s", ErrConnectionLost, msg)
	}

	return fmt.Errorf("%w: %s", ErrProtocol, msg)
}

// reconnect attempts up to reconnectAttempts silent reconnects with no
// backoff. Per spec.md, even a successful reconnect does not retry the
// original operation — that is the caller's (ClusterRouter's) job.
func (nc *NodeConnection) reconnect(ctx context.Context) bool {
	for i := 0; i < reconnectAttempts; i++ {
		if err := nc.transport.Client.Ping(ctx).Err(); err == nil {
			return true
		}
	}
	return false
}

// parseMoved parses a "MOVED <slot> <host>:<port>" error message.
func parseMoved(msg string) (host string, port int, err error) {
	fields := strings.Fields(msg)
	if len(fields) != 3 {
		return "", 0, fmt.Errorf("malformed MOVED reply %q", msg)
	}
	return splitHostPort(fields[2])
}

// splitHostPort parses a "host:port" pair the way go-redis hands addresses
// back (ClusterNode.Addr, MOVED targets): by the last colon, so IPv6
// literals without brackets (e.g. "::1:6381") still split on the port's
// colon rather than the address's own.
func splitHostPort(addr string) (host string, port int, err error) {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return "", 0, fmt.Errorf("malformed host:port %q", addr)
	}
	host = addr[:idx]
	port, err = strconv.Atoi(addr[idx+1:])
	if err != nil {
		return host, 0, err
	}
	return host, port, nil
}
