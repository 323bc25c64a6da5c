package snapshot

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
	"github.com/rs/zerolog"

	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
	"github.com/stratadb-labs/strata-core-sub008/pkg/log"
	"github.com/stratadb-labs/strata-core-sub008/pkg/storage"
	"github.com/stratadb-labs/strata-core-sub008/pkg/wal"
)

var scratchBucket = []byte("snapshot")

// spillRecord is the msgpack shape one spilled entry is stored as inside
// the scratch bbolt file's single bucket.
type spillRecord struct {
	ValueKind  byte
	ValueBytes []byte
	ValueUint  uint64
	ValueInt   int64
	ValueFloat float64
	ValueBool  bool
	Version    uint64

	CreatedAtUnixNano int64
	UpdatedAtUnixNano int64
	HasExpiry         bool
	ExpiresAtUnixNano int64
}

type handle struct {
	id            uint64
	snap          *storage.Snapshot // nil once spilled
	estimatedSize int64
	db            *bolt.DB // non-nil once spilled
	path          string
}

// Pool bounds the total estimated size of outstanding snapshots. Handles
// acquired through it are identified by an opaque id; Get/ScanPrefix take
// that id so callers (the txn package, primitive facades doing large
// scans) don't need to know whether a given handle is resident or spilled.
type Pool struct {
	mu      sync.Mutex
	baseDir string
	budget  int64

	residentSize int64
	nextID       uint64

	lru     []uint64 // most-recently-used at the end
	handles map[uint64]*handle

	logger zerolog.Logger
}

// NewPool creates a Pool rooted at baseDir (typically <database path>/tmp)
// for scratch files, with budget as the resident-size ceiling. A
// non-positive budget disables spilling entirely.
func NewPool(baseDir string, budget int64) *Pool {
	return &Pool{
		baseDir: baseDir,
		budget:  budget,
		handles: make(map[uint64]*handle),
		logger:  log.WithComponent("snapshot-pool"),
	}
}

// Acquire registers snap under a new id, using estimatedSize (caller-
// supplied, e.g. number of entries times an average value size) to decide
// when the pool is over budget. It may synchronously spill older handles
// to disk to make room.
func (p *Pool) Acquire(snap *storage.Snapshot, estimatedSize int64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := atomic.AddUint64(&p.nextID, 1)
	p.handles[id] = &handle{id: id, snap: snap, estimatedSize: estimatedSize}
	p.lru = append(p.lru, id)
	p.residentSize += estimatedSize

	if p.budget > 0 {
		if err := p.enforceBudgetLocked(id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// enforceBudgetLocked spills least-recently-used resident handles (other
// than keep) until residentSize is back under budget or nothing is left
// to spill.
func (p *Pool) enforceBudgetLocked(keep uint64) error {
	for p.residentSize > p.budget {
		victim := uint64(0)
		for _, id := range p.lru {
			if id == keep {
				continue
			}
			if h := p.handles[id]; h != nil && h.snap != nil {
				victim = id
				break
			}
		}
		if victim == 0 {
			return nil // nothing left that can be spilled
		}
		if err := p.spillLocked(p.handles[victim]); err != nil {
			return fmt.Errorf("snapshot pool: spill handle %d: %w", victim, err)
		}
	}
	return nil
}

func (p *Pool) spillLocked(h *handle) error {
	if h.snap == nil {
		return nil // already spilled
	}
	if err := os.MkdirAll(p.baseDir, 0700); err != nil {
		return err
	}
	path := filepath.Join(p.baseDir, fmt.Sprintf("snap-%d.bolt", h.id))
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return err
	}

	entries := h.snap.ScanPrefix(nil)
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(scratchBucket)
		if err != nil {
			return err
		}
		for _, e := range entries {
			rec := spillRecord{
				ValueKind:         byte(e.Value.Value.Kind),
				ValueBytes:        e.Value.Value.Bytes,
				ValueUint:         e.Value.Value.Uint,
				ValueInt:          e.Value.Value.Int,
				ValueFloat:        e.Value.Value.Float,
				ValueBool:         e.Value.Value.Bool,
				Version:           e.Value.Version,
				CreatedAtUnixNano: e.Value.CreatedAt.UnixNano(),
				UpdatedAtUnixNano: e.Value.UpdatedAt.UnixNano(),
			}
			if e.Value.ExpiresAt != nil {
				rec.HasExpiry = true
				rec.ExpiresAtUnixNano = e.Value.ExpiresAt.UnixNano()
			}
			encoded, err := wal.EncodePayload(rec)
			if err != nil {
				return err
			}
			if err := b.Put(e.Key.Encode(), encoded); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		os.Remove(path)
		return err
	}

	p.residentSize -= h.estimatedSize
	h.snap = nil
	h.db = db
	h.path = path
	p.logger.Debug().Uint64("handle_id", h.id).Int("entries", len(entries)).Msg("spilled snapshot to scratch file")
	return nil
}

func (p *Pool) touchLocked(id uint64) {
	for i, v := range p.lru {
		if v == id {
			p.lru = append(p.lru[:i], p.lru[i+1:]...)
			break
		}
	}
	p.lru = append(p.lru, id)
}

// Get reads key from the handle identified by id, resident or spilled.
func (p *Pool) Get(id uint64, key keyspace.Key) (*keyspace.VersionedValue, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[id]
	if !ok {
		return nil, false, fmt.Errorf("snapshot pool: unknown handle %d", id)
	}
	p.touchLocked(id)

	if h.snap != nil {
		vv, ok := h.snap.Get(key)
		return vv, ok, nil
	}
	return p.getSpilledLocked(h, key)
}

func (p *Pool) getSpilledLocked(h *handle, key keyspace.Key) (*keyspace.VersionedValue, bool, error) {
	var vv *keyspace.VersionedValue
	var found bool
	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(scratchBucket)
		data := b.Get(key.Encode())
		if data == nil {
			return nil
		}
		var rec spillRecord
		if err := wal.DecodePayload(data, &rec); err != nil {
			return err
		}
		vv = recordToVersionedValue(rec)
		found = true
		return nil
	})
	return vv, found, err
}

// ScanPrefix returns entries from the handle identified by id whose encoded
// key begins with prefix, resident or spilled.
func (p *Pool) ScanPrefix(id uint64, prefix []byte) ([]storage.Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[id]
	if !ok {
		return nil, fmt.Errorf("snapshot pool: unknown handle %d", id)
	}
	p.touchLocked(id)

	if h.snap != nil {
		return h.snap.ScanPrefix(prefix), nil
	}
	return p.scanSpilledLocked(h, prefix)
}

func (p *Pool) scanSpilledLocked(h *handle, prefix []byte) ([]storage.Entry, error) {
	var out []storage.Entry
	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(scratchBucket)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec spillRecord
			if err := wal.DecodePayload(v, &rec); err != nil {
				return err
			}
			key, ok := storage.DecodeKey(k)
			if !ok {
				return fmt.Errorf("snapshot pool: corrupt scratch key %x", k)
			}
			out = append(out, storage.Entry{Key: key, Value: recordToVersionedValue(rec)})
		}
		return nil
	})
	return out, err
}

// Release discards the handle, closing and removing its scratch file if it
// was spilled.
func (p *Pool) Release(id uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[id]
	if !ok {
		return nil
	}
	delete(p.handles, id)
	for i, v := range p.lru {
		if v == id {
			p.lru = append(p.lru[:i], p.lru[i+1:]...)
			break
		}
	}
	if h.snap != nil {
		p.residentSize -= h.estimatedSize
	}
	if h.db != nil {
		if err := h.db.Close(); err != nil {
			return err
		}
		return os.Remove(h.path)
	}
	return nil
}

// Outstanding reports how many handles are currently held.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

func recordToVersionedValue(rec spillRecord) *keyspace.VersionedValue {
	v := &keyspace.VersionedValue{
		Value: keyspace.Value{
			Kind:  keyspace.ValueKind(rec.ValueKind),
			Bytes: rec.ValueBytes,
			Uint:  rec.ValueUint,
			Int:   rec.ValueInt,
			Float: rec.ValueFloat,
			Bool:  rec.ValueBool,
		},
		Version:   rec.Version,
		CreatedAt: time.Unix(0, rec.CreatedAtUnixNano),
		UpdatedAt: time.Unix(0, rec.UpdatedAtUnixNano),
	}
	if rec.HasExpiry {
		t := time.Unix(0, rec.ExpiresAtUnixNano)
		v.ExpiresAt = &t
	}
	return v
}
