// Package resolver declares the pure-function contract the container's
// ResolveEngine calls against an optimistic snapshot (spec §4.5/§4.6). It is
// "external" to the core in the same sense the teacher's gc.Resolver is
// external to the gc.Orchestrator: the orchestration shell owns locking and
// snapshotting; the resolver only transforms data (gc/gc.go).
package resolver

import (
	"github.com/projecteru2/modwire/db"
	"github.com/projecteru2/modwire/types"
)

// Delta is the minimal set of wiring changes a resolve produces: one wiring
// per revision that needs creating or mutating. A resolver may return a
// wiring for a revision that already had one — the caller (applyDelta)
// mutates the existing wiring in place rather than replacing it (spec
// §4.5 Phase C step 3).
type Delta map[*types.ModuleRevision]*types.ModuleWiring

// Resolver is the pure compute step of a resolve: given the trigger
// revisions, whether they are mandatory (must end up wired or the whole
// resolve fails) or optional (best-effort), the currently-unwired
// revisions, a snapshot of the current wiring graph, and read-only access
// to the database for capability lookups across all modules, it returns
// the delta wiring to merge. It must not mutate its inputs and must not
// acquire any lock — the caller already holds (or has released) the
// locks appropriate to the phase it is called from.
type Resolver interface {
	// ResolveDelta computes the delta wiring needed to resolve triggers
	// (and, if triggersMandatory, to fail the whole computation — by
	// returning an error — if any trigger cannot be wired). unresolved is
	// the full set of revisions without a wiring, used to discover
	// transitive dependencies. wirings is a read-only clone of the
	// current wiring graph (spec §4.5 Phase A); db is read-only here:
	// implementations may call its Get* methods but must not mutate it
	// or hold its locks past the call.
	ResolveDelta(triggers []*types.ModuleRevision, triggersMandatory bool, unresolved []*types.ModuleRevision, wirings db.WiringSnapshot, database *db.Database) (Delta, error)

	// ResolveDynamicDelta computes the delta needed to satisfy one dynamic
	// requirement projection on behalf of revision (spec §4.6). It must
	// return a delta that, if applied, adds exactly one required wire to
	// revision's wiring for req; an empty, nil-error Delta means no
	// candidate capability could be found.
	ResolveDynamicDelta(revision *types.ModuleRevision, req *types.Requirement, unresolved []*types.ModuleRevision, wirings db.WiringSnapshot, database *db.Database) (Delta, error)
}
