/*
Package keyspace defines the core data model shared by every layer of the
database: the run identifier, the namespace that scopes every key, the
type-tag byte that partitions a namespace into per-primitive sub-keyspaces,
the composite ordered key, the polymorphic value, and the versioned-value
wrapper that the store actually holds.

# Key ordering

A Key is the ordered triple (namespace, type_tag, suffix). Encode produces
the wire-stable byte string the store orders keys by: each namespace
component and the suffix are written as a 4-byte big-endian length followed
by their bytes, a 0x00 separator follows the namespace, and the type tag is a
single byte between namespace and suffix. Because of the length prefixes,
byte order compares each component by length first and by content only
between components of equal length, so it differs from Namespace.Compare's
plain lexicographic order (tenant "b" sorts before tenant "aa"). Fixed-width
suffixes keep their byte order: Event, for instance, right-aligns a
big-endian u64 so that byte-order scans are chronological.
*/
package keyspace

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunId is an opaque 128-bit identifier, immutable for the life of a run.
type RunId uuid.UUID

// NewRunId allocates a fresh, random RunId.
func NewRunId() RunId { return RunId(uuid.New()) }

func (r RunId) String() string { return uuid.UUID(r).String() }

// ParseRunId parses the string form produced by RunId.String.
func ParseRunId(s string) (RunId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RunId{}, fmt.Errorf("parse run id %q: %w", s, err)
	}
	return RunId(u), nil
}

// Namespace is the 4-tuple that forms the top of every key.
type Namespace struct {
	Tenant string
	App    string
	Agent  string
	Run    string
}

// Compare orders two namespaces lexicographically, component by component.
func (n Namespace) Compare(o Namespace) int {
	if c := cmpString(n.Tenant, o.Tenant); c != 0 {
		return c
	}
	if c := cmpString(n.App, o.App); c != 0 {
		return c
	}
	if c := cmpString(n.Agent, o.Agent); c != 0 {
		return c
	}
	return cmpString(n.Run, o.Run)
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// TypeTag discriminates the primitive that owns a key.
type TypeTag byte

const (
	TypeKV           TypeTag = 0x01
	TypeEvent        TypeTag = 0x02
	TypeStateCell    TypeTag = 0x03
	TypeTrace        TypeTag = 0x04
	TypeRunMetadata  TypeTag = 0x05
	TypeJSONDocument TypeTag = 0x06
	TypeVector       TypeTag = 0x07
	// TypeTag values 0x08-0x1F are reserved for future primitives.
)

func (t TypeTag) String() string {
	switch t {
	case TypeKV:
		return "kv"
	case TypeEvent:
		return "event"
	case TypeStateCell:
		return "state"
	case TypeTrace:
		return "trace"
	case TypeRunMetadata:
		return "run"
	case TypeJSONDocument:
		return "jsondoc"
	case TypeVector:
		return "vector"
	default:
		return fmt.Sprintf("tag(0x%02x)", byte(t))
	}
}

// nsSeparator follows the namespace components to prevent a prefix
// collision between adjacent namespaces (e.g. tenant "a","bc" vs "ab","c").
const nsSeparator = 0x00

// Key is the ordered triple (namespace, type_tag, suffix).
type Key struct {
	Namespace Namespace
	Type      TypeTag
	Suffix    []byte
}

// Encode produces the wire-stable byte string whose byte order is the
// store's key order (length-prefixed components; see the package comment).
func (k Key) Encode() []byte {
	buf := make([]byte, 0, 64+len(k.Suffix))
	buf = appendLPString(buf, k.Namespace.Tenant)
	buf = appendLPString(buf, k.Namespace.App)
	buf = appendLPString(buf, k.Namespace.Agent)
	buf = appendLPString(buf, k.Namespace.Run)
	buf = append(buf, nsSeparator)
	buf = append(buf, byte(k.Type))
	buf = appendLPBytes(buf, k.Suffix)
	return buf
}

// NamespacePrefix encodes just the namespace and its separator, suitable for
// ScanPrefix/ScanByRun; TypePrefix adds the type tag for ScanByType.
func NamespacePrefix(ns Namespace) []byte {
	buf := make([]byte, 0, 48)
	buf = appendLPString(buf, ns.Tenant)
	buf = appendLPString(buf, ns.App)
	buf = appendLPString(buf, ns.Agent)
	buf = appendLPString(buf, ns.Run)
	buf = append(buf, nsSeparator)
	return buf
}

func TypePrefix(ns Namespace, tag TypeTag) []byte {
	buf := NamespacePrefix(ns)
	buf = append(buf, byte(tag))
	return buf
}

// SuffixPrefix encodes a namespace+type prefix followed by suffixPrefix with
// its own length prefix. Because that length is len(suffixPrefix), a scan
// over the result matches only the key whose suffix equals suffixPrefix; it
// does not match longer suffixes that begin with those bytes.
func SuffixPrefix(ns Namespace, tag TypeTag, suffixPrefix []byte) []byte {
	buf := TypePrefix(ns, tag)
	buf = append(buf, lengthPrefix(len(suffixPrefix))...)
	buf = append(buf, suffixPrefix...)
	return buf
}

func appendLPString(buf []byte, s string) []byte {
	return appendLPBytes(buf, []byte(s))
}

func appendLPBytes(buf []byte, b []byte) []byte {
	buf = append(buf, lengthPrefix(len(b))...)
	return append(buf, b...)
}

func lengthPrefix(n int) []byte {
	var lp [4]byte
	binary.BigEndian.PutUint32(lp[:], uint32(n))
	return lp[:]
}

// U64Suffix right-aligns a big-endian u64, the encoding used by Event so
// that key order matches sequence order.
func U64Suffix(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// ValueKind discriminates the tagged union Value holds.
type ValueKind byte

const (
	ValueBytes ValueKind = iota
	ValueUint
	ValueInt
	ValueFloat
	ValueBool
	ValueJSON
	ValueVector
)

// Value is a tagged union over the byte strings, numbers, booleans, JSON
// documents, and vector blobs the engine stores. It is opaque to the
// engine: only primitive facades interpret it.
type Value struct {
	Kind  ValueKind
	Bytes []byte
	Uint  uint64
	Int   int64
	Float float64
	Bool  bool
}

func BytesValue(b []byte) Value  { return Value{Kind: ValueBytes, Bytes: b} }
func UintValue(v uint64) Value   { return Value{Kind: ValueUint, Uint: v} }
func IntValue(v int64) Value     { return Value{Kind: ValueInt, Int: v} }
func FloatValue(v float64) Value { return Value{Kind: ValueFloat, Float: v} }
func BoolValue(v bool) Value     { return Value{Kind: ValueBool, Bool: v} }
func JSONValue(b []byte) Value   { return Value{Kind: ValueJSON, Bytes: b} }
func VectorValue(b []byte) Value { return Value{Kind: ValueVector, Bytes: b} }

// VersionedValue is what the store actually holds for a key.
type VersionedValue struct {
	Value     Value
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// Expired reports whether v is invisible to a read at instant now.
func (v VersionedValue) Expired(now time.Time) bool {
	return v.ExpiresAt != nil && !now.Before(*v.ExpiresAt)
}
