// Package identity derives deterministic UUIDv8 and UUIDv5 identifiers for
// every entity in the graph. Identity is content-addressed: the same inputs
// always produce the same UUID, and a UUIDv8's leading bytes encode the
// millisecond timestamp it was derived against.
//
// Grounded on original_source/vectordb/uuidv8.py (RFC 9562 UUIDv8, custom
// variant: a 48-bit timestamp prefix plus a SHA-256-derived or random suffix).
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DNSNamespace mirrors uuid.NameSpaceDNS, used as the root for BASE.
var DNSNamespace = uuid.NameSpaceDNS

// Base is the root namespace every v5/v8 derivation in this package descends
// from, unless a caller supplies its own namespace.
var Base = uuid.NewSHA1(DNSNamespace, []byte("forgeos.local"))

// V5 derives a name-based (SHA-1) UUID under namespace, defaulting to Base.
func V5(name string, namespace ...uuid.UUID) uuid.UUID {
	ns := Base
	if len(namespace) > 0 {
		ns = namespace[0]
	}
	return uuid.NewSHA1(ns, []byte(name))
}

func readRandom(b []byte) (int, error) {
	return rand.Read(b)
}

// V8 builds a version-8 UUID: the 48-bit big-endian millisecond timestamp
// occupies bytes [0:6]; the remaining 10 bytes are either a deterministic
// suffix (SHA-256(namespace ‖ be64(ts))[:10]) or 10 random bytes when
// random=true. The version nibble is written into the high nibble of byte 6
// and the variant into the high bits of byte 8 — both suffix bytes, not a
// separate timestamp byte.
func V8(namespace uuid.UUID, timestampMs int64, random bool) uuid.UUID {
	var u uuid.UUID

	var tsBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], uint64(timestampMs))
	copy(u[0:6], tsBytes[2:8])

	if random {
		randBytes := make([]byte, 10)
		if _, err := readRandom(randBytes); err != nil {
			// fall back to a deterministic suffix rather than fail; callers
			// asking for randomness accept best-effort entropy.
			suffix := deterministicSuffix(namespace, timestampMs)
			copy(u[6:16], suffix)
		} else {
			copy(u[6:16], randBytes)
		}
	} else {
		suffix := deterministicSuffix(namespace, timestampMs)
		copy(u[6:16], suffix)
	}

	u[6] = (u[6] & 0x0F) | 0x80 // version 8
	u[8] = (u[8] & 0x3F) | 0x80 // variant RFC 4122
	return u
}

func deterministicSuffix(namespace uuid.UUID, timestampMs int64) []byte {
	h := sha256.New()
	h.Write(namespace[:])
	var tsBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], uint64(timestampMs))
	h.Write(tsBytes[:])
	sum := h.Sum(nil)
	return sum[:10]
}

// V8FromString derives an intermediate v5 UUID from (name, namespace) and
// uses it as the namespace argument to V8 — not as additional hash input
// alongside the timestamp.
func V8FromString(name string, namespace uuid.UUID, timestampMs int64) uuid.UUID {
	derived := V5(name, namespace)
	return V8(derived, timestampMs, false)
}

// CompositePair returns an order-independent identifier for the unordered
// pair {a, b}: it sorts the two UUIDs by their string form and V5-hashes
// their concatenation.
func CompositePair(a, b uuid.UUID) uuid.UUID {
	as, bs := a.String(), b.String()
	pair := []string{as, bs}
	sort.Strings(pair)
	return V5(pair[0] + pair[1])
}

// ParentChild takes the parent's high 8 bytes and the child's low 8 bytes,
// then forces the variant bits on byte 8 — order matters, unlike
// CompositePair.
func ParentChild(parent, child uuid.UUID) uuid.UUID {
	var u uuid.UUID
	copy(u[0:8], parent[0:8])
	copy(u[8:16], child[8:16])
	u[8] = (u[8] & 0x3F) | 0x80
	return u
}

// Version returns the version nibble encoded in byte 6.
func Version(u uuid.UUID) int {
	return int(u[6] >> 4)
}

// ExtractTimestamp decodes the 48-bit big-endian millisecond timestamp
// prefix from a v8 UUID. For any non-v8 UUID it returns the current wall
// clock time, matching the source's "else return now" fallback.
func ExtractTimestamp(u uuid.UUID) time.Time {
	if Version(u) != 8 {
		return time.Now()
	}
	var tsBytes [8]byte
	copy(tsBytes[2:8], u[0:6])
	ms := binary.BigEndian.Uint64(tsBytes[:])
	return time.UnixMilli(int64(ms))
}

// IsV8 reports whether u carries the version-8 nibble.
func IsV8(u uuid.UUID) bool {
	return Version(u) == 8
}
