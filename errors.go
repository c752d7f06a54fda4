package redistore

import (
	"errors"
	"fmt"
)

// Error kinds. These are not exception types: callers inspect them with
// errors.Is/errors.As the same way go-redis itself exposes redis.Nil and
// proto.RedisError, rather than branching on a string message.
var (
	// ErrConnectionLost is raised on a null reply, a socket error, or a
	// CLUSTERDOWN error reply. For a socket error the node connection has
	// already attempted up to three silent reconnects before this
	// surfaces; a CLUSTERDOWN reply surfaces without a reconnect.
	ErrConnectionLost = errors.New("redistore: connection lost")

	// ErrProtocol is raised on an unexpected reply type, a malformed
	// CLUSTER SLOTS row, or an EXEC reply whose element count does not
	// match what the issued transaction expects. It is always fatal for
	// the call in progress.
	ErrProtocol = errors.New("redistore: protocol error")

	// ErrFatal is raised when every configured seed node fails at
	// startup, when a slot-map rebuild finds zero responsive nodes, or on
	// allocation failure. The caller should treat this as unrecoverable.
	ErrFatal = errors.New("redistore: fatal error")

	// ErrConcurrencyExhausted is raised after three failed optimistic-
	// concurrency retries. It does not change the documented return-value
	// contract: getVersioned/updateVersioned still return 0 to the caller
	// on this path. It exists so structured-log/metrics hosts, and tests,
	// can distinguish "gave up after contention" from "key truly absent"
	// without parsing log lines.
	ErrConcurrencyExhausted = errors.New("redistore: optimistic concurrency retries exhausted")
)

// RedirectedError reports that a node replied MOVED, naming the node that
// actually owns the slot. The router uses this only to decide that a
// rebuild is warranted; it does not dial Host:Port directly (the rebuild
// is authoritative — see routerCall).
type RedirectedError struct {
	Host string
	Port int
}

func (e *RedirectedError) Error() string {
	return fmt.Sprintf("redistore: redirected to %s:%d", e.Host, e.Port)
}

// NewRedirectedError constructs a RedirectedError from an already-parsed
// host and port. It does no parsing of its own: when a MOVED target's port
// fails to parse, the caller (NodeConnection.classify) passes DefaultPort
// here and logs the failure at a critical level.
func NewRedirectedError(host string, port int) *RedirectedError {
	return &RedirectedError{Host: host, Port: port}
}

// IsConnectionLost reports whether err is, or wraps, ErrConnectionLost.
func IsConnectionLost(err error) bool {
	return errors.Is(err, ErrConnectionLost)
}

// IsRedirected reports whether err is, or wraps, a *RedirectedError, and
// returns it if so.
func IsRedirected(err error) (*RedirectedError, bool) {
	var re *RedirectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsProtocol reports whether err is, or wraps, ErrProtocol.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsFatal reports whether err is, or wraps, ErrFatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
