/*
Package run is a thin facade over engine's run index and lifecycle state
machine: Begin/End/Get/List translate directly to the corresponding
engine.Engine methods. It exists so callers import a primitive alongside
kv/state/event/jsondoc/trace/vector rather than reaching into engine
directly for the one primitive whose contract lives there instead of in
its own keyspace encoder.
*/
package run

import (
	"github.com/stratadb-labs/strata-core-sub008/pkg/engine"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
)

// Status re-exports engine's run-lifecycle states under this package's
// name, so callers of primitives/run don't also need to import engine.
type Status = engine.RunStatus

const (
	Active    = engine.RunActive
	Paused    = engine.RunPaused
	Completed = engine.RunCompleted
	Failed    = engine.RunFailed
	Cancelled = engine.RunCancelled
	Archived  = engine.RunArchived
)

// Metadata is the persisted shape of one run.
type Metadata = engine.RunMetadata

// Begin starts a new run in ns with the given metadata (may be nil) and
// returns its ID.
func Begin(eng *engine.Engine, ns keyspace.Namespace, metadata map[string]string) (keyspace.RunId, error) {
	return eng.BeginRun(ns, metadata)
}

// End transitions runID to a terminal status (Completed, Failed, or
// Cancelled), enforcing the run-lifecycle state machine.
func End(eng *engine.Engine, ns keyspace.Namespace, runID keyspace.RunId, status Status) error {
	return eng.EndRun(ns, runID, status)
}

// Pause transitions an Active run to Paused.
func Pause(eng *engine.Engine, ns keyspace.Namespace, runID keyspace.RunId) error {
	return eng.PauseRun(ns, runID)
}

// Resume transitions a Paused run back to Active.
func Resume(eng *engine.Engine, ns keyspace.Namespace, runID keyspace.RunId) error {
	return eng.ResumeRun(ns, runID)
}

// Archive transitions a terminal run to Archived.
func Archive(eng *engine.Engine, ns keyspace.Namespace, runID keyspace.RunId) error {
	return eng.ArchiveRun(ns, runID)
}

// Get returns the persisted metadata for runID.
func Get(eng *engine.Engine, ns keyspace.Namespace, runID keyspace.RunId) (Metadata, error) {
	return eng.GetRun(ns, runID)
}

// List returns every run in ns, in key order.
func List(eng *engine.Engine, ns keyspace.Namespace) ([]Metadata, error) {
	return eng.ListRuns(ns)
}
