package storage

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
	"github.com/stratadb-labs/strata-core-sub008/pkg/log"
)

// btreeDegree mirrors the default used by the pack's other ordered-map
// consumers; it has no correctness impact, only node fan-out.
const btreeDegree = 32

// readCacheSize bounds the point-read cache (entry count).
const readCacheSize = 4096

// entry is the btree.Item stored in the primary mapping.
type entry struct {
	key   []byte
	value *keyspace.VersionedValue
}

func (e *entry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*entry).key) < 0
}

// Store is the single ordered mapping from composite key to versioned
// value. It is safe for concurrent use by many readers and one committing
// writer; callers needing multi-key atomicity coordinate at a higher layer
// (txn, engine) rather than through Store directly.
type Store struct {
	mu    sync.RWMutex
	tree  *btree.BTree
	byRun map[string]map[string]struct{}
	// byType indexes keys by the type tag alone, not by namespace. It is
	// kept in step with the primary mapping; no Store method reads it
	// (Engine.Stats counts entries per type with a full scan).
	byType map[keyspace.TypeTag]map[string]struct{}
	// byExpiry is ordered by (expiresAt, key) so the TTL sweep can pop the
	// soonest-to-expire entries without a full tree walk.
	byExpiry *btree.BTree

	version *uint64 // the counter passed to New, when one was

	cache *lru.Cache[uint64, *keyspace.VersionedValue]

	logger zerolog.Logger
}

type expiryEntry struct {
	expiresAt time.Time
	key       []byte
}

func (e *expiryEntry) Less(than btree.Item) bool {
	o := than.(*expiryEntry)
	if e.expiresAt.Equal(o.expiresAt) {
		return bytes.Compare(e.key, o.key) < 0
	}
	return e.expiresAt.Before(o.expiresAt)
}

// New creates an empty store. If counter is non-nil the store draws
// versions from it; otherwise it starts its own counter at zero. Recovery
// passes nil and resumes the counter with BumpVersionTo.
func New(counter *uint64) *Store {
	if counter == nil {
		var zero uint64
		counter = &zero
	}
	cache, _ := lru.New[uint64, *keyspace.VersionedValue](readCacheSize)
	return &Store{
		tree:     btree.New(btreeDegree),
		byRun:    make(map[string]map[string]struct{}),
		byType:   make(map[keyspace.TypeTag]map[string]struct{}),
		byExpiry: btree.New(btreeDegree),
		version:  counter,
		cache:    cache,
		logger:   log.WithComponent("storage"),
	}
}

// CurrentVersion returns the live value of the monotonic version counter.
func (s *Store) CurrentVersion() uint64 {
	return atomic.LoadUint64(s.version)
}

// BumpVersionTo ensures the counter is at least v, used by recovery to
// guarantee future versions are strictly greater than any recovered one.
func (s *Store) BumpVersionTo(v uint64) {
	for {
		cur := atomic.LoadUint64(s.version)
		if cur >= v {
			return
		}
		if atomic.CompareAndSwapUint64(s.version, cur, v) {
			return
		}
	}
}

func cacheKey(k []byte) uint64 { return xxhash.Sum64(k) }

// Get performs a point read. A missing or expired key returns (nil, false);
// this is not an error.
func (s *Store) Get(key keyspace.Key) (*keyspace.VersionedValue, bool) {
	enc := key.Encode()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(enc, time.Now())
}

func (s *Store) getLocked(enc []byte, now time.Time) (*keyspace.VersionedValue, bool) {
	if v, ok := s.cache.Get(cacheKey(enc)); ok {
		if v.Expired(now) {
			return nil, false
		}
		return v, true
	}
	item := s.tree.Get(&entry{key: enc})
	if item == nil {
		return nil, false
	}
	v := item.(*entry).value
	if v.Expired(now) {
		return nil, false
	}
	s.cache.Add(cacheKey(enc), v)
	return v, true
}

// GetAtVersion returns the entry only if it exists and its version is <= v.
// Because this store keeps only the latest value per key (no MVCC chain), an
// entry overwritten after v is indistinguishable from one that never
// existed at v; callers needing true historical reads must use a Snapshot
// cloned before the overwrite (spec.md explicitly scopes true time-travel
// reads out, so this is the documented limit of GetAtVersion).
func (s *Store) GetAtVersion(key keyspace.Key, v uint64) (*keyspace.VersionedValue, bool) {
	val, ok := s.Get(key)
	if !ok || val.Version > v {
		return nil, false
	}
	return val, true
}

// Put inserts or overwrites key, allocating a fresh version and stamping
// CreatedAt/UpdatedAt. It returns the version assigned to this write.
func (s *Store) Put(key keyspace.Key, value keyspace.Value, expiresAt *time.Time, now time.Time) uint64 {
	enc := key.Encode()
	s.mu.Lock()
	defer s.mu.Unlock()

	version := atomic.AddUint64(s.version, 1)
	createdAt := now
	if prev := s.tree.Get(&entry{key: enc}); prev != nil {
		createdAt = prev.(*entry).value.CreatedAt
	}
	vv := &keyspace.VersionedValue{
		Value:     value,
		Version:   version,
		CreatedAt: createdAt,
		UpdatedAt: now,
		ExpiresAt: expiresAt,
	}
	s.applyPutLocked(key, enc, vv)
	return version
}

// AllocateVersion mints the next version number from the shared counter
// without touching the tree. Callers that must make a version durable in
// the WAL before it is visible in the store (txn.Commit) allocate it here
// and pass it to PutVersioned once the WAL append has succeeded.
func (s *Store) AllocateVersion() uint64 {
	return atomic.AddUint64(s.version, 1)
}

// PutVersioned inserts value at an already-allocated version, as produced
// by AllocateVersion. It never mints a new version itself; it is the
// counterpart to Put for callers (txn, recovery) that must fix the version
// number ahead of the store mutation.
func (s *Store) PutVersioned(key keyspace.Key, value keyspace.Value, version uint64, expiresAt *time.Time, now time.Time) {
	enc := key.Encode()
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := now
	if prev := s.tree.Get(&entry{key: enc}); prev != nil {
		createdAt = prev.(*entry).value.CreatedAt
	}
	vv := &keyspace.VersionedValue{
		Value:     value,
		Version:   version,
		CreatedAt: createdAt,
		UpdatedAt: now,
		ExpiresAt: expiresAt,
	}
	s.applyPutLocked(key, enc, vv)
}

func (s *Store) applyPutLocked(key keyspace.Key, enc []byte, vv *keyspace.VersionedValue) {
	if old := s.tree.ReplaceOrInsert(&entry{key: enc, value: vv}); old != nil {
		s.unindexLocked(key, enc, old.(*entry).value)
	}
	s.indexLocked(key, enc, vv)
	s.cache.Add(cacheKey(enc), vv)
}

// Delete removes key, returning the prior entry if one existed.
func (s *Store) Delete(key keyspace.Key) (*keyspace.VersionedValue, bool) {
	enc := key.Encode()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(key, enc)
}

func (s *Store) deleteLocked(key keyspace.Key, enc []byte) (*keyspace.VersionedValue, bool) {
	old := s.tree.Delete(&entry{key: enc})
	s.cache.Remove(cacheKey(enc))
	if old == nil {
		return nil, false
	}
	vv := old.(*entry).value
	s.unindexLocked(key, enc, vv)
	return vv, true
}

func (s *Store) indexLocked(key keyspace.Key, enc []byte, vv *keyspace.VersionedValue) {
	runKey := string(keyspace.NamespacePrefix(key.Namespace))
	set := s.byRun[runKey]
	if set == nil {
		set = make(map[string]struct{})
		s.byRun[runKey] = set
	}
	set[string(enc)] = struct{}{}

	tset := s.byType[key.Type]
	if tset == nil {
		tset = make(map[string]struct{})
		s.byType[key.Type] = tset
	}
	tset[string(enc)] = struct{}{}

	if vv.ExpiresAt != nil {
		s.byExpiry.ReplaceOrInsert(&expiryEntry{expiresAt: *vv.ExpiresAt, key: append([]byte(nil), enc...)})
	}
}

func (s *Store) unindexLocked(key keyspace.Key, enc []byte, vv *keyspace.VersionedValue) {
	runKey := string(keyspace.NamespacePrefix(key.Namespace))
	if set := s.byRun[runKey]; set != nil {
		delete(set, string(enc))
		if len(set) == 0 {
			delete(s.byRun, runKey)
		}
	}
	if tset := s.byType[key.Type]; tset != nil {
		delete(tset, string(enc))
		if len(tset) == 0 {
			delete(s.byType, key.Type)
		}
	}
	if vv.ExpiresAt != nil {
		s.byExpiry.Delete(&expiryEntry{expiresAt: *vv.ExpiresAt, key: enc})
	}
}

// Entry is one (key, value) pair yielded by a scan.
type Entry struct {
	Key   keyspace.Key
	Value *keyspace.VersionedValue
}

// ScanPrefix yields entries in key order whose encoded key begins with
// prefix, observing a single consistent snapshot of the tree for the
// duration of the scan (the btree.Clone beneath CloneLiveView's COW
// semantics; here we take a direct read lock and clone just for the scan).
func (s *Store) ScanPrefix(prefix []byte) []Entry {
	now := time.Now()
	s.mu.RLock()
	snap := s.tree.Clone()
	s.mu.RUnlock()

	var out []Entry
	pivot := &entry{key: prefix}
	snap.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		e := i.(*entry)
		if !bytes.HasPrefix(e.key, prefix) {
			return false
		}
		if e.value.Expired(now) {
			return true
		}
		k, ok := decodeKeyBestEffort(e.key)
		if !ok {
			return true
		}
		out = append(out, Entry{Key: k, Value: e.value})
		return true
	})
	return out
}

// ScanByRun is ScanPrefix over a namespace's prefix.
func (s *Store) ScanByRun(ns keyspace.Namespace) []Entry {
	return s.ScanPrefix(keyspace.NamespacePrefix(ns))
}

// ScanByType is ScanPrefix over a namespace+type-tag prefix.
func (s *Store) ScanByType(ns keyspace.Namespace, tag keyspace.TypeTag) []Entry {
	return s.ScanPrefix(keyspace.TypePrefix(ns, tag))
}

// Snapshot is an immutable, independent view of the store frozen at
// maxVersion/asOf. Subsequent writes to the live store never affect it.
type Snapshot struct {
	tree       *btree.BTree
	maxVersion uint64
	asOf       time.Time
}

// CloneLiveView produces a Snapshot containing only entries whose version
// is <= maxVersion and which were not expired at clone time.
func (s *Store) CloneLiveView(maxVersion uint64) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{
		tree:       s.tree.Clone(),
		maxVersion: maxVersion,
		asOf:       time.Now(),
	}
}

// Get reads through the snapshot's version/expiry filter.
func (snap *Snapshot) Get(key keyspace.Key) (*keyspace.VersionedValue, bool) {
	item := snap.tree.Get(&entry{key: key.Encode()})
	if item == nil {
		return nil, false
	}
	vv := item.(*entry).value
	if vv.Version > snap.maxVersion || vv.Expired(snap.asOf) {
		return nil, false
	}
	return vv, true
}

// ScanPrefix scans the frozen view, applying the same version/expiry
// filter as Get.
func (snap *Snapshot) ScanPrefix(prefix []byte) []Entry {
	var out []Entry
	pivot := &entry{key: prefix}
	snap.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		e := i.(*entry)
		if !bytes.HasPrefix(e.key, prefix) {
			return false
		}
		if e.value.Version > snap.maxVersion || e.value.Expired(snap.asOf) {
			return true
		}
		k, ok := decodeKeyBestEffort(e.key)
		if !ok {
			return true
		}
		out = append(out, Entry{Key: k, Value: e.value})
		return true
	})
	return out
}

// SweepExpired removes entries whose expiry has passed as of now, up to
// limit entries (0 means unlimited). It returns the number removed. This is
// the lazy-GC path; reads never depend on the sweep for correctness since
// Get/ScanPrefix/Snapshot all apply the expiry filter themselves.
func (s *Store) SweepExpired(now time.Time, limit int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []*expiryEntry
	s.byExpiry.Ascend(func(i btree.Item) bool {
		e := i.(*expiryEntry)
		if e.expiresAt.After(now) {
			return false
		}
		toDelete = append(toDelete, e)
		return limit == 0 || len(toDelete) < limit
	})

	removed := 0
	for _, e := range toDelete {
		item := s.tree.Get(&entry{key: e.key})
		if item == nil {
			s.byExpiry.Delete(e)
			continue
		}
		ent := item.(*entry)
		k, ok := decodeKeyBestEffort(ent.key)
		if !ok {
			continue
		}
		if _, ok := s.deleteLocked(k, ent.key); ok {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("ttl sweep removed expired entries")
	}
	return removed
}

// decodeKeyBestEffort reverses Key.Encode. It is "best effort" in the sense
// that it trusts the encoding was produced by Key.Encode (all data that
// reaches the tree did); a malformed buffer here is a Storage invariant
// violation, not a caller-facing error; this package skips the entry
// rather than panicking mid-scan.
// DecodeKey reverses Key.Encode. Exported for callers (txn's validation
// path, recovery) that only have the encoded form on hand.
func DecodeKey(enc []byte) (keyspace.Key, bool) {
	return decodeKeyBestEffort(enc)
}

func decodeKeyBestEffort(enc []byte) (keyspace.Key, bool) {
	var k keyspace.Key
	rest := enc
	var err error
	if k.Namespace.Tenant, rest, err = readLPString(rest); err != nil {
		return k, false
	}
	if k.Namespace.App, rest, err = readLPString(rest); err != nil {
		return k, false
	}
	if k.Namespace.Agent, rest, err = readLPString(rest); err != nil {
		return k, false
	}
	if k.Namespace.Run, rest, err = readLPString(rest); err != nil {
		return k, false
	}
	if len(rest) < 1 || rest[0] != 0x00 {
		return k, false
	}
	rest = rest[1:]
	if len(rest) < 1 {
		return k, false
	}
	k.Type = keyspace.TypeTag(rest[0])
	rest = rest[1:]
	suffix, _, err := readLPBytes(rest)
	if err != nil {
		return k, false
	}
	k.Suffix = suffix
	return k, true
}
