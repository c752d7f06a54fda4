package redistore

import (
	"strconv"
	"strings"

	"github.com/redistore/redistore/internal/hashslot"
)

// versionKeyPrefix is prepended to a StorageId's rendered key to form the
// companion version key. Sharing the hash-tagged "{context:prefixkey}"
// suffix keeps both keys on the same cluster slot.
const versionKeyPrefix = "version.of:"

// StorageId is the composite identifier of a value stored through this
// package: a context, an optional prefix, and a key. It is immutable once
// constructed and is rendered on the wire as the single Redis key
// "{context:prefixkey}", where the braces mark Redis's hash-tag so the
// cluster's slot function sees only the hash-tagged region.
type StorageId struct {
	context string
	prefix  string
	key     string
}

// NewStorageId constructs a StorageId from a context, key, and optional
// prefix. context must be non-empty; prefix may be empty.
func NewStorageId(context, key, prefix string) StorageId {
	return StorageId{context: context, prefix: prefix, key: key}
}

// Context returns the identifier's context.
func (id StorageId) Context() string { return id.context }

// Key returns the identifier's inner key.
func (id StorageId) Key() string { return id.key }

// Prefix returns the identifier's optional prefix, or "" if none was set.
func (id StorageId) Prefix() string { return id.prefix }

// Render returns the data key as it is stored in Redis:
// "{context:prefixkey}".
func (id StorageId) Render() string {
	var b strings.Builder
	b.Grow(len(id.context) + len(id.prefix) + len(id.key) + 3)
	b.WriteByte('{')
	b.WriteString(id.context)
	b.WriteByte(':')
	b.WriteString(id.prefix)
	b.WriteString(id.key)
	b.WriteByte('}')
	return b.String()
}

// RenderVersion returns the companion version key as it is stored in Redis:
// "version.of:{context:prefixkey}".
func (id StorageId) RenderVersion() string {
	return versionKeyPrefix + id.Render()
}

// Slot returns the Redis Cluster hash slot this identifier's data and
// version keys both land on. The CRC16 is streamed over the four
// constituent byte ranges (context, a literal colon, prefix, key) without
// ever materializing their concatenation, so it agrees exactly with what
// Redis itself computes for the hash-tagged rendered key.
func (id StorageId) Slot() uint16 {
	return hashslot.SlotOfParts([]byte(id.context), []byte(id.prefix), []byte(id.key))
}

// String implements fmt.Stringer for debugging and log lines.
func (id StorageId) String() string {
	return id.Render()
}

// scanContextPattern returns the SCAN MATCH pattern used to enumerate every
// data key belonging to a context. Data keys render as "{context:rest}",
// so the pattern opens the hash-tag brace and matches everything from the
// colon onward; it does not match version keys directly (those live
// behind a "version.of:" prefix and are derived from each matched data
// key rather than scanned for separately).
func scanContextPattern(context string) string {
	return "{" + context + ":*"
}

// Capacity limits advertised to StorageFacade callers, mirroring the
// original storage-service contract: Redis string values top out at 512MB,
// and keys must leave room for two bytes of hash-tag punctuation and the
// configured prefix. The "version.of:" companion key prefix is not
// subtracted from the key limit.
const (
	// MaxContextLength is the largest allowed context length.
	MaxContextLength = 256*1024*1024 - 1
	// MaxValueLength is the largest allowed stored value length.
	MaxValueLength = 512 * 1024 * 1024
)

// MaxKeyLength returns the largest allowed key length for the given prefix
// length: 256MB minus two bytes of hash-tag punctuation minus the prefix.
func MaxKeyLength(prefixLen int) int {
	return 256*1024*1024 - 2 - prefixLen
}

// parseVersion parses a decimal version string as stored in a version key.
// A non-integer or out-of-range value is reported as version 0, matching
// the original behavior of treating a corrupt version key as "absent"
// rather than failing the whole operation.
func parseVersion(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
