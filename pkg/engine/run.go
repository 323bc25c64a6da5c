package engine

import (
	"time"

	"github.com/stratadb-labs/strata-core-sub008/pkg/errs"
	"github.com/stratadb-labs/strata-core-sub008/pkg/events"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
	"github.com/stratadb-labs/strata-core-sub008/pkg/metrics"
	"github.com/stratadb-labs/strata-core-sub008/pkg/wal"
)

// RunStatus is the run-lifecycle state machine from spec.md §6:
// Active -> {Completed, Failed, Cancelled, Paused}; Paused -> {Active,
// Cancelled}; {Completed, Failed, Cancelled} -> Archived; Archived is
// terminal.
type RunStatus byte

const (
	RunActive RunStatus = iota
	RunPaused
	RunCompleted
	RunFailed
	RunCancelled
	RunArchived
)

func (s RunStatus) String() string {
	switch s {
	case RunActive:
		return "active"
	case RunPaused:
		return "paused"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	case RunCancelled:
		return "cancelled"
	case RunArchived:
		return "archived"
	default:
		return "unknown"
	}
}

func (s RunStatus) terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// RunMetadata is what the engine persists for one run, under
// keyspace.TypeRunMetadata keyed by the run's 16-byte id.
type RunMetadata struct {
	RunID     keyspace.RunId
	Namespace keyspace.Namespace
	Status    RunStatus
	Metadata  map[string]string
	CreatedAt time.Time
	EndedAt   *time.Time
	Version   uint64
}

// runMetadataPayload is the wire shape; RunId and Namespace are flattened
// to plain fields so the msgpack codec doesn't need to know about our
// named types.
type runMetadataPayload struct {
	RunID     [16]byte
	Tenant    string
	App       string
	Agent     string
	Run       string
	Status    byte
	Metadata  map[string]string
	CreatedAt time.Time
	HasEndedAt bool
	EndedAt   time.Time
}

func runKey(ns keyspace.Namespace, runID keyspace.RunId) keyspace.Key {
	b := [16]byte(runID)
	return keyspace.Key{Namespace: ns, Type: keyspace.TypeRunMetadata, Suffix: b[:]}
}

func encodeRunMetadata(m RunMetadata) (keyspace.Value, error) {
	p := runMetadataPayload{
		RunID:     [16]byte(m.RunID),
		Tenant:    m.Namespace.Tenant,
		App:       m.Namespace.App,
		Agent:     m.Namespace.Agent,
		Run:       m.Namespace.Run,
		Status:    byte(m.Status),
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
	}
	if m.EndedAt != nil {
		p.HasEndedAt = true
		p.EndedAt = *m.EndedAt
	}
	b, err := wal.EncodePayload(p)
	if err != nil {
		return keyspace.Value{}, err
	}
	return keyspace.BytesValue(b), nil
}

func decodeRunMetadata(v keyspace.Value, version uint64) (RunMetadata, error) {
	var p runMetadataPayload
	if err := wal.DecodePayload(v.Bytes, &p); err != nil {
		return RunMetadata{}, err
	}
	m := RunMetadata{
		RunID:     keyspace.RunId(p.RunID),
		Namespace: keyspace.Namespace{Tenant: p.Tenant, App: p.App, Agent: p.Agent, Run: p.Run},
		Status:    RunStatus(p.Status),
		Metadata:  p.Metadata,
		CreatedAt: p.CreatedAt,
		Version:   version,
	}
	if p.HasEndedAt {
		ended := p.EndedAt
		m.EndedAt = &ended
	}
	return m, nil
}

// BeginRun creates a new run in namespace ns with status Active and the
// given metadata (may be nil).
func (e *Engine) BeginRun(ns keyspace.Namespace, metadata map[string]string) (keyspace.RunId, error) {
	runID := keyspace.NewRunId()
	m := RunMetadata{RunID: runID, Namespace: ns, Status: RunActive, Metadata: metadata, CreatedAt: time.Now()}
	value, err := encodeRunMetadata(m)
	if err != nil {
		return keyspace.RunId{}, err
	}
	tx := e.txns.Begin(runID)
	if err := tx.Put(runKey(ns, runID), value, nil); err != nil {
		_ = tx.Abort()
		return keyspace.RunId{}, err
	}
	if _, err := tx.Commit(); err != nil {
		return keyspace.RunId{}, err
	}
	metrics.RunsActive.Inc()
	e.events.Publish(&events.Event{Type: events.EventRunBegan, RunID: runID, Message: "run begun"})
	e.logger.Debug().Str("run_id", runID.String()).Msg("run begun")
	return runID, nil
}

// GetRun returns the persisted metadata for runID, or errs.NotFound.
func (e *Engine) GetRun(ns keyspace.Namespace, runID keyspace.RunId) (RunMetadata, error) {
	vv, ok := e.store.Get(runKey(ns, runID))
	if !ok {
		return RunMetadata{}, errs.Wrap(errs.KindNotFound, "engine.GetRun", runID.String(), errs.NotFound)
	}
	return decodeRunMetadata(vv.Value, vv.Version)
}

// ListRuns returns every run recorded under exactly the namespace ns, in key
// order. ns is encoded in full (keyspace.TypePrefix), so a partial
// namespace does not match runs under longer ones; only TypeRunMetadata
// entries are considered.
func (e *Engine) ListRuns(ns keyspace.Namespace) ([]RunMetadata, error) {
	prefix := keyspace.TypePrefix(ns, keyspace.TypeRunMetadata)
	entries := e.store.ScanPrefix(prefix)
	out := make([]RunMetadata, 0, len(entries))
	for _, en := range entries {
		m, err := decodeRunMetadata(en.Value.Value, en.Value.Version)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// EndRun transitions runID to a terminal status (Completed, Failed, or
// Cancelled). From Active, any of the three is legal. From Paused, only
// Cancelled is legal. Any other current status fails with
// InvalidStateTransition.
func (e *Engine) EndRun(ns keyspace.Namespace, runID keyspace.RunId, status RunStatus) error {
	if !status.terminal() {
		return errs.Wrap(errs.KindInvalidArgument, "engine.EndRun", runID.String(), errs.InvalidArgument)
	}
	return e.transitionRun(ns, runID, func(cur RunStatus) bool {
		if cur == RunActive {
			return true
		}
		if cur == RunPaused {
			return status == RunCancelled
		}
		return false
	}, status)
}

// PauseRun transitions an Active run to Paused.
func (e *Engine) PauseRun(ns keyspace.Namespace, runID keyspace.RunId) error {
	return e.transitionRun(ns, runID, func(cur RunStatus) bool { return cur == RunActive }, RunPaused)
}

// ResumeRun transitions a Paused run back to Active.
func (e *Engine) ResumeRun(ns keyspace.Namespace, runID keyspace.RunId) error {
	return e.transitionRun(ns, runID, func(cur RunStatus) bool { return cur == RunPaused }, RunActive)
}

// ArchiveRun transitions a terminal run (Completed, Failed, or Cancelled)
// to Archived, which is itself terminal.
func (e *Engine) ArchiveRun(ns keyspace.Namespace, runID keyspace.RunId) error {
	return e.transitionRun(ns, runID, func(cur RunStatus) bool { return cur.terminal() }, RunArchived)
}

func (e *Engine) transitionRun(ns keyspace.Namespace, runID keyspace.RunId, allowed func(RunStatus) bool, next RunStatus) error {
	key := runKey(ns, runID)
	for {
		tx := e.txns.Begin(runID)
		vv, ok, err := tx.Get(key)
		if err != nil {
			_ = tx.Abort()
			return err
		}
		if !ok {
			_ = tx.Abort()
			return errs.Wrap(errs.KindNotFound, "engine.transitionRun", runID.String(), errs.NotFound)
		}
		m, err := decodeRunMetadata(vv.Value, vv.Version)
		if err != nil {
			_ = tx.Abort()
			return err
		}
		if !allowed(m.Status) {
			_ = tx.Abort()
			return errs.Wrap(errs.KindInvalidStateTransition, "engine.transitionRun", runID.String(), errs.InvalidStateTransition)
		}
		prev := m.Status
		m.Status = next
		if next.terminal() || next == RunArchived {
			now := time.Now()
			m.EndedAt = &now
		}
		value, err := encodeRunMetadata(m)
		if err != nil {
			_ = tx.Abort()
			return err
		}
		if err := tx.Put(key, value, nil); err != nil {
			_ = tx.Abort()
			return err
		}
		if _, err := tx.Commit(); err != nil {
			if errs.Is(err, errs.ReadStale) {
				continue // another writer raced us; retry against the fresh state
			}
			return err
		}
		if prev == RunActive && next != RunActive {
			metrics.RunsActive.Dec()
		} else if prev != RunActive && next == RunActive {
			metrics.RunsActive.Inc()
		}
		if next.terminal() {
			metrics.RunsCompletedTotal.WithLabelValues(next.String()).Inc()
		}
		e.events.Publish(&events.Event{Type: runTransitionEventType(next), RunID: runID, Message: "run " + next.String()})
		return nil
	}
}

func runTransitionEventType(next RunStatus) events.EventType {
	switch {
	case next == RunPaused:
		return events.EventRunPaused
	case next == RunActive:
		return events.EventRunResumed
	case next == RunArchived:
		return events.EventRunArchived
	default:
		return events.EventRunEnded
	}
}
