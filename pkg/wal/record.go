package wal

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// RecordType is the one-byte discriminator at the front of every record
// payload. 0x00-0x0F is the core range; 0x10 and up are sixteen-wide
// extension ranges reserved per primitive. Replay hands every well-formed
// record to its visitor whatever its type; recovery skips types it does not
// handle with a warning rather than failing, since Begin/Commit/Abort (which
// are always in the core range) are what it needs to track transaction
// boundaries.
type RecordType byte

const (
	RecordBeginTx  RecordType = 0x01
	RecordWrite    RecordType = 0x02
	RecordDelete   RecordType = 0x03
	RecordCommitTx RecordType = 0x04
	RecordAbortTx  RecordType = 0x05
	RecordCheckpoint RecordType = 0x06

	// Extension ranges, sixteen type tags each, reserved for future
	// primitive-specific WAL record kinds (e.g. a JSON path-patch record
	// that carries a diff instead of a full value, or a vector upsert
	// record with a fixed-width float payload). None are emitted by this
	// core; the primitive facades encode everything as Write/Delete today.
	RecordExtKVBase     RecordType = 0x10
	RecordExtJSONBase   RecordType = 0x20
	RecordExtEventBase  RecordType = 0x30
	RecordExtStateBase  RecordType = 0x40
	RecordExtTraceBase  RecordType = 0x50
	RecordExtRunBase    RecordType = 0x60
	RecordExtVectorBase RecordType = 0x70
)

func (t RecordType) IsCore() bool { return t <= 0x0F }

// Record is one on-disk record: a type byte and an opaque, already-encoded
// payload.
type Record struct {
	Type    RecordType
	Payload []byte
}

// The payload shapes below are msgpack-encoded by EncodePayload/DecodePayload.
// They are deliberately plain structs with exported fields: go-msgpack's
// codec handles struct (de)serialization without per-type hand-written
// marshalers, which is the point of using it instead of a bespoke format.

type BeginPayload struct {
	TxID      uint64
	RunID     [16]byte
	Timestamp time.Time
}

type WritePayload struct {
	TxID       uint64
	Key        []byte
	ValueKind  byte
	ValueBytes []byte
	ValueUint  uint64
	ValueInt   int64
	ValueFloat float64
	ValueBool  bool
	Version    uint64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	HasExpiry  bool
	ExpiresAt  time.Time
}

type DeletePayload struct {
	TxID uint64
	Key  []byte
}

type CommitPayload struct {
	TxID uint64
}

type AbortPayload struct {
	TxID uint64
}

type CheckpointPayload struct {
	UpToVersion uint64
	Timestamp   time.Time
}

func msgpackHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	return h
}

// EncodePayload serializes v (one of the *Payload structs above) with the
// deterministic msgpack encoder.
func EncodePayload(v interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, msgpackHandle())
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode wal payload: %w", err)
	}
	return buf, nil
}

// DecodePayload deserializes into v (a pointer to one of the *Payload
// structs above).
func DecodePayload(b []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(b, msgpackHandle())
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode wal payload: %w", err)
	}
	return nil
}
