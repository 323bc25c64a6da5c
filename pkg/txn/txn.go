package txn

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratadb-labs/strata-core-sub008/pkg/errs"
	"github.com/stratadb-labs/strata-core-sub008/pkg/events"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
	"github.com/stratadb-labs/strata-core-sub008/pkg/log"
	"github.com/stratadb-labs/strata-core-sub008/pkg/snapshot"
	"github.com/stratadb-labs/strata-core-sub008/pkg/storage"
	"github.com/stratadb-labs/strata-core-sub008/pkg/wal"
)

// snapshotSizeUnit is the fixed accounting unit snapshot.Pool.Acquire is
// given for every transaction's snapshot. The store doesn't expose a cheap
// live entry count, so rather than scan the tree just to size its own
// accounting, every in-flight transaction is charged the same nominal
// weight; MaxSnapshotMemoryBudget therefore allows about
// budget/snapshotSizeUnit resident transaction snapshots rather than acting
// as a byte-accurate ceiling.
const snapshotSizeUnit = 4096

// Status is the transaction state machine: Active -> Validating -> {Committed, Aborted}.
type Status int

const (
	Active Status = iota
	Validating
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Validating:
		return "validating"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type pendingWrite struct {
	key       keyspace.Key
	value     keyspace.Value
	expiresAt *time.Time
}

type casEntry struct {
	key             keyspace.Key
	expectedVersion uint64
	newValue        *keyspace.Value // nil means "delete on success"
	expiresAt       *time.Time
	createIfMissing bool
}

// Manager allocates Transactions and owns the commit critical section that
// serializes WAL append with store apply across every transaction in the
// engine (single-op convenience calls go through the same Manager and are
// therefore identical to an explicit one-operation transaction).
type Manager struct {
	store  *storage.Store
	log    *wal.WAL
	pool   *snapshot.Pool  // optional; nil means every transaction keeps its clone resident
	events *events.Broker  // optional; nil means commit/abort notifications are not published

	txIDCounter uint64
	commitMu    sync.Mutex

	logger zerolog.Logger
}

// SetEventBroker wires b into the manager so every Commit and Abort
// publishes a notification to it. Intended to be called once, right after
// construction, before any transaction begins.
func (m *Manager) SetEventBroker(b *events.Broker) {
	m.events = b
}

func NewManager(store *storage.Store, w *wal.WAL) *Manager {
	return &Manager{store: store, log: w, logger: log.WithComponent("txn")}
}

// NewManagerWithPool is NewManager plus a snapshot.Pool: every transaction's
// clone is registered with pool instead of held directly, so pool can spill
// the least-recently-used one to disk once MaxSnapshotMemoryBudget is
// exceeded.
func NewManagerWithPool(store *storage.Store, w *wal.WAL, pool *snapshot.Pool) *Manager {
	return &Manager{store: store, log: w, pool: pool, logger: log.WithComponent("txn")}
}

// Begin allocates a Transaction scoped to runID, with its snapshot frozen at
// the store's current version.
func (m *Manager) Begin(runID keyspace.RunId) *Transaction {
	txID := atomic.AddUint64(&m.txIDCounter, 1)
	startVersion := m.store.CurrentVersion()
	snap := m.store.CloneLiveView(startVersion)

	t := &Transaction{
		mgr:          m,
		txID:         txID,
		runID:        runID,
		snapshot:     snap,
		startVersion: startVersion,
		readSet:      make(map[string]uint64),
		writeSet:     make(map[string]pendingWrite),
		deleteSet:    make(map[string]keyspace.Key),
		status:       Active,
		logger:       log.WithComponent("txn").With().Uint64("tx_id", txID).Logger(),
	}

	if m.pool != nil {
		id, err := m.pool.Acquire(snap, snapshotSizeUnit)
		if err != nil {
			t.logger.Warn().Err(err).Msg("snapshot pool acquire failed, keeping snapshot resident on this transaction")
		} else {
			t.snapID = id
			t.pooled = true
		}
	}
	return t
}

// Transaction is the per-transaction context: snapshot, read/write/delete/CAS
// sets, and the state machine governing what operations are still legal.
type Transaction struct {
	mgr *Manager

	mu sync.Mutex

	txID         uint64
	runID        keyspace.RunId
	snapshot     *storage.Snapshot
	pooled       bool
	released     bool
	snapID       uint64
	startVersion uint64

	readSet   map[string]uint64
	writeSet  map[string]pendingWrite
	deleteSet map[string]keyspace.Key
	casSet    []casEntry

	status Status
	logger zerolog.Logger
}

func (t *Transaction) TxID() uint64          { return t.txID }
func (t *Transaction) RunID() keyspace.RunId { return t.runID }

func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transaction) requireActive(op string) error {
	if t.status != Active {
		return errs.Wrap(errs.KindTransactionInvalidState, op, "", errs.TransactionInvalidState)
	}
	return nil
}

// Get implements read-your-writes: write set, then delete set, then the
// transaction's snapshot. The first time a key is observed through the
// snapshot, its version is recorded in the read set; later reads of the
// same key do not overwrite that observation.
func (t *Transaction) Get(key keyspace.Key) (*keyspace.VersionedValue, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("txn.Get"); err != nil {
		return nil, false, err
	}
	enc := string(key.Encode())

	if pw, ok := t.writeSet[enc]; ok {
		now := time.Now()
		return &keyspace.VersionedValue{Value: pw.value, ExpiresAt: pw.expiresAt, CreatedAt: now, UpdatedAt: now}, true, nil
	}
	if _, ok := t.deleteSet[enc]; ok {
		return nil, false, nil
	}

	vv, ok, err := t.snapshotGet(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if _, seen := t.readSet[enc]; !seen {
		t.readSet[enc] = vv.Version
	}
	return vv, true, nil
}

// Put buffers a write, overwriting any pending delete for the same key.
func (t *Transaction) Put(key keyspace.Key, value keyspace.Value, expiresAt *time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("txn.Put"); err != nil {
		return err
	}
	enc := string(key.Encode())
	delete(t.deleteSet, enc)
	t.writeSet[enc] = pendingWrite{key: key, value: value, expiresAt: expiresAt}
	return nil
}

// Delete buffers a delete, overwriting any pending write for the same key.
func (t *Transaction) Delete(key keyspace.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("txn.Delete"); err != nil {
		return err
	}
	enc := string(key.Encode())
	delete(t.writeSet, enc)
	t.deleteSet[enc] = key
	return nil
}

// CAS stages a compare-and-swap. It never reads the snapshot: the
// expectation is checked against the live store at validation time. If
// newValue is nil, a successful CAS deletes the key. createIfMissing
// controls whether CAS(expectedVersion=0) against an absent key is treated
// as "create" (true) or CasMismatch at commit (false, the default) —
// see SPEC_FULL.md's Open Question decision.
func (t *Transaction) CAS(key keyspace.Key, expectedVersion uint64, newValue *keyspace.Value, expiresAt *time.Time, createIfMissing bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("txn.CAS"); err != nil {
		return err
	}
	t.casSet = append(t.casSet, casEntry{
		key:             key,
		expectedVersion: expectedVersion,
		newValue:        newValue,
		expiresAt:       expiresAt,
		createIfMissing: createIfMissing,
	})
	return nil
}

// ScanPrefix overlays the buffered write/delete sets on top of the
// transaction's frozen snapshot. It does not add entries to the read set:
// spec.md only requires read-set tracking for point reads, so a concurrent
// writer touching a scanned-but-unread key does not conflict with this
// transaction.
func (t *Transaction) ScanPrefix(prefix []byte) []storage.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	base, err := t.scanSnapshot(prefix)
	if err != nil {
		t.logger.Warn().Err(err).Msg("snapshot scan failed, returning write/delete overlay only")
		base = nil
	}
	overlaid := make(map[string]storage.Entry, len(base))
	for _, e := range base {
		overlaid[string(e.Key.Encode())] = e
	}
	for enc, pw := range t.writeSet {
		if len(enc) < len(prefix) || enc[:len(prefix)] != string(prefix) {
			continue
		}
		now := time.Now()
		overlaid[enc] = storage.Entry{
			Key:   pw.key,
			Value: &keyspace.VersionedValue{Value: pw.value, ExpiresAt: pw.expiresAt, CreatedAt: now, UpdatedAt: now},
		}
	}
	for enc := range t.deleteSet {
		delete(overlaid, enc)
	}

	out := make([]storage.Entry, 0, len(overlaid))
	for _, e := range overlaid {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return compareKeys(out[i].Key, out[j].Key) < 0 })
	return out
}

// snapshotGet reads key from the transaction's snapshot, routing through the
// manager's snapshot.Pool if this transaction's clone was handed to one.
func (t *Transaction) snapshotGet(key keyspace.Key) (*keyspace.VersionedValue, bool, error) {
	if t.pooled {
		return t.mgr.pool.Get(t.snapID, key)
	}
	vv, ok := t.snapshot.Get(key)
	return vv, ok, nil
}

// scanSnapshot is snapshotGet's ScanPrefix counterpart.
func (t *Transaction) scanSnapshot(prefix []byte) ([]storage.Entry, error) {
	if t.pooled {
		return t.mgr.pool.ScanPrefix(t.snapID, prefix)
	}
	return t.snapshot.ScanPrefix(prefix), nil
}

// releaseSnapshotLocked returns this transaction's pooled snapshot handle, if
// any, to the pool. Safe to call more than once; every exit path of Commit
// and Abort calls it so a pooled handle is never leaked regardless of which
// branch the transaction ends on.
func (t *Transaction) releaseSnapshotLocked() {
	if !t.pooled || t.released {
		return
	}
	t.released = true
	if err := t.mgr.pool.Release(t.snapID); err != nil {
		t.logger.Warn().Err(err).Msg("snapshot pool release failed")
	}
}

// publish hands an event to the manager's broker, if one is wired. A nil
// broker means notifications were never requested; this is a no-op rather
// than an error.
func (t *Transaction) publish(typ events.EventType, message string) {
	if t.mgr.events == nil {
		return
	}
	t.mgr.events.Publish(&events.Event{Type: typ, RunID: t.runID, Message: message})
}

func compareKeys(a, b keyspace.Key) int {
	ea, eb := a.Encode(), b.Encode()
	n := len(ea)
	if len(eb) < n {
		n = len(eb)
	}
	for i := 0; i < n; i++ {
		if ea[i] != eb[i] {
			if ea[i] < eb[i] {
				return -1
			}
			return 1
		}
	}
	return len(ea) - len(eb)
}

// Abort transitions the transaction to Aborted. Since nothing is streamed
// before Commit, this never writes a WAL record — the common case spec.md
// calls out for AbortTx.
func (t *Transaction) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Active && t.status != Validating {
		return errs.Wrap(errs.KindTransactionInvalidState, "txn.Abort", "", errs.TransactionInvalidState)
	}
	t.status = Aborted
	t.releaseSnapshotLocked()
	t.publish(events.EventTxnAborted, "aborted")
	return nil
}

// CommitResult reports the versions assigned to this transaction's writes,
// keyed by encoded key, for callers that want them (e.g. primitive facades
// returning an assigned version to their caller).
type CommitResult struct {
	Versions map[string]uint64
}

// Commit validates the read and CAS sets against the live store and, if
// both pass, atomically appends the WAL framing and applies the buffered
// writes/deletes to the store.
func (t *Transaction) Commit() (*CommitResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("txn.Commit"); err != nil {
		return nil, err
	}
	t.status = Validating

	t.mgr.commitMu.Lock()
	defer t.mgr.commitMu.Unlock()

	if err := t.validateReadSetLocked(); err != nil {
		t.status = Aborted
		t.releaseSnapshotLocked()
		t.publish(events.EventTxnAborted, "read set stale")
		return nil, err
	}
	if err := t.validateCASSetLocked(); err != nil {
		t.status = Aborted
		t.releaseSnapshotLocked()
		t.publish(events.EventTxnAborted, "cas mismatch")
		return nil, err
	}

	writes, deletes := t.plan()
	for i := range writes {
		writes[i].version = t.mgr.store.AllocateVersion()
	}

	records, err := t.buildRecordsLocked(writes, deletes)
	if err != nil {
		t.status = Aborted
		t.releaseSnapshotLocked()
		t.publish(events.EventTxnAborted, "failed to encode wal records")
		return nil, err
	}

	if err := t.mgr.log.AppendRecords(records); err != nil {
		t.status = Aborted
		t.releaseSnapshotLocked()
		t.publish(events.EventTxnAborted, "wal append failed")
		return nil, err
	}

	result := t.applyLocked(writes, deletes)
	t.status = Committed
	t.releaseSnapshotLocked()
	t.publish(events.EventTxnCommitted, "committed")
	return result, nil
}

func (t *Transaction) validateReadSetLocked() error {
	for enc, observed := range t.readSet {
		key, ok := decodeEncoded(enc)
		if !ok {
			continue
		}
		cur, ok := t.mgr.store.Get(key)
		if !ok || cur.Version != observed {
			return errs.Wrap(errs.KindReadStale, "txn.Commit", enc, errs.ReadStale)
		}
	}
	return nil
}

func (t *Transaction) validateCASSetLocked() error {
	for _, c := range t.casSet {
		cur, ok := t.mgr.store.Get(c.key)
		if !ok {
			if c.createIfMissing && c.expectedVersion == 0 {
				continue
			}
			return errs.Wrap(errs.KindCasMismatch, "txn.Commit", string(c.key.Encode()), errs.CasMismatch)
		}
		if cur.Version != c.expectedVersion {
			return errs.Wrap(errs.KindCasMismatch, "txn.Commit", string(c.key.Encode()), errs.CasMismatch)
		}
	}
	return nil
}

type plannedWrite struct {
	key       keyspace.Key
	value     keyspace.Value
	expiresAt *time.Time
	version   uint64
}

type plannedDelete struct {
	key keyspace.Key
}

func (t *Transaction) plan() ([]plannedWrite, []plannedDelete) {
	var writes []plannedWrite
	var deletes []plannedDelete
	for _, pw := range t.writeSet {
		writes = append(writes, plannedWrite{key: pw.key, value: pw.value, expiresAt: pw.expiresAt})
	}
	for _, key := range t.deleteSet {
		deletes = append(deletes, plannedDelete{key: key})
	}
	for _, c := range t.casSet {
		if c.newValue != nil {
			writes = append(writes, plannedWrite{key: c.key, value: *c.newValue, expiresAt: c.expiresAt})
		} else {
			deletes = append(deletes, plannedDelete{key: c.key})
		}
	}
	return writes, deletes
}

func (t *Transaction) buildRecordsLocked(writes []plannedWrite, deletes []plannedDelete) ([]wal.Record, error) {
	now := time.Now()

	var runID [16]byte
	copy(runID[:], uuidBytes(t.runID))

	begin, err := wal.EncodePayload(wal.BeginPayload{TxID: t.txID, RunID: runID, Timestamp: now})
	if err != nil {
		return nil, err
	}
	records := []wal.Record{{Type: wal.RecordBeginTx, Payload: begin}}

	for _, w := range writes {
		payload := wal.WritePayload{
			TxID:       t.txID,
			Key:        w.key.Encode(),
			ValueKind:  byte(w.value.Kind),
			ValueBytes: w.value.Bytes,
			ValueUint:  w.value.Uint,
			ValueInt:   w.value.Int,
			ValueFloat: w.value.Float,
			ValueBool:  w.value.Bool,
			Version:    w.version,
			UpdatedAt:  now,
			CreatedAt:  now,
		}
		if w.expiresAt != nil {
			payload.HasExpiry = true
			payload.ExpiresAt = *w.expiresAt
		}
		enc, err := wal.EncodePayload(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, wal.Record{Type: wal.RecordWrite, Payload: enc})
	}

	for _, d := range deletes {
		enc, err := wal.EncodePayload(wal.DeletePayload{TxID: t.txID, Key: d.key.Encode()})
		if err != nil {
			return nil, err
		}
		records = append(records, wal.Record{Type: wal.RecordDelete, Payload: enc})
	}

	commit, err := wal.EncodePayload(wal.CommitPayload{TxID: t.txID})
	if err != nil {
		return nil, err
	}
	records = append(records, wal.Record{Type: wal.RecordCommitTx, Payload: commit})
	return records, nil
}

func (t *Transaction) applyLocked(writes []plannedWrite, deletes []plannedDelete) *CommitResult {
	now := time.Now()
	result := &CommitResult{Versions: make(map[string]uint64, len(writes))}
	for _, w := range writes {
		t.mgr.store.PutVersioned(w.key, w.value, w.version, w.expiresAt, now)
		result.Versions[string(w.key.Encode())] = w.version
	}
	for _, d := range deletes {
		t.mgr.store.Delete(d.key)
	}
	return result
}

func decodeEncoded(enc string) (keyspace.Key, bool) {
	return storage.DecodeKey([]byte(enc))
}

func uuidBytes(r keyspace.RunId) []byte {
	b := [16]byte(r)
	return b[:]
}
