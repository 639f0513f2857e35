// Package db is the module container's ModuleDatabase: the persistent
// in-memory store of modules, revisions, and wirings. It exposes the
// read/write lock, the monotone revisions timestamp, and the merge/remove
// primitives spec'd as an external collaborator — concretely implemented
// here so the module is runnable and testable standalone (SPEC_FULL §4.11).
package db

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/projecteru2/modwire/types"
)

// SortKey selects a module ordering for Sort.
type SortKey int

const (
	// BySortDependency orders modules so that providers precede their
	// requirers (a topological sort over the current wiring graph).
	BySortDependency SortKey = iota
	// BySortStartLevel orders modules by ascending assigned start level.
	BySortStartLevel
)

// WiringSnapshot is a shallow clone of the database's revision→wiring map,
// taken under the read lock and handed to the resolver without holding any
// lock (spec §4.5 Phase A/B).
type WiringSnapshot map[*types.ModuleRevision]*types.ModuleWiring

// Database is the container's shared mutable graph. All mutation requires
// WriteLock. Every query has two forms: the plain name (e.g. GetWiring)
// takes its own short-lived read lock and is for callers holding no lock at
// all, and the "…Locked" form (e.g. GetWiringLocked) takes none and is for
// callers that already hold ReadLock or WriteLock — sync.RWMutex is not
// reentrant, so an engine holding the write lock must use the Locked forms
// exclusively while it holds it, and the same applies to a reader that might
// be blocking a pending writer.
type Database struct {
	mu sync.RWMutex

	nextModuleID idAllocator

	modules    map[types.ModuleID]*types.Module
	byLocation map[types.Location]*types.Module
	wirings    map[*types.ModuleRevision]*types.ModuleWiring

	// removalPending holds every revision superseded by Update that a
	// refresh (or the sweeper) has not yet purged, whether or not anything
	// still wires against it.
	removalPending map[*types.ModuleRevision]struct{}

	startLevels        map[types.ModuleID]int
	initialStartLevel  int

	revisionsTimestamp atomic.Uint64
}

// idAllocator is a monotonically-increasing allocator for new module
// identities; it never reissues SystemModuleID.
type idAllocator struct {
	next uint64
}

// New creates an empty Database containing only the system module
// (id 0), installed and unresolved, per spec §3's system module invariant.
func New() *Database {
	d := &Database{
		modules:           make(map[types.ModuleID]*types.Module),
		byLocation:        make(map[types.Location]*types.Module),
		wirings:           make(map[*types.ModuleRevision]*types.ModuleWiring),
		removalPending:    make(map[*types.ModuleRevision]struct{}),
		startLevels:       make(map[types.ModuleID]int),
		initialStartLevel: 1,
	}
	d.nextModuleID.next = 1

	sys := &types.Module{ID: types.SystemModuleID, Location: "System Module", State: types.StateInstalled}
	sys.Revisions = types.NewModuleRevisions(sys)
	sys.Revisions.AddAndPromote(&types.ModuleRevision{SymbolicName: "system.module", Version: types.Version{Major: 1}})
	d.modules[sys.ID] = sys
	d.byLocation[sys.Location] = sys
	d.startLevels[sys.ID] = 0
	return d
}

// ReadLock/ReadUnlock and WriteLock/WriteUnlock expose the database's single
// RWMutex to engines that must hold it across a sequence of accessor calls
// (spec §5 lock hierarchy level 3).
func (d *Database) ReadLock()    { d.mu.RLock() }
func (d *Database) ReadUnlock()  { d.mu.RUnlock() }
func (d *Database) WriteLock()   { d.mu.Lock() }
func (d *Database) WriteUnlock() { d.mu.Unlock() }

// RevisionsTimestamp returns the current monotone counter, used for
// optimistic-concurrency validation.
func (d *Database) RevisionsTimestamp() uint64 { return d.revisionsTimestamp.Load() }

// bumpTimestamp must be called with the write lock held, once per mutating
// call (never per-record), so a single Install/Update/Uninstall/MergeWiring/
// RemoveWiring/RemoveCapabilities advances the timestamp exactly once.
func (d *Database) bumpTimestamp() { d.revisionsTimestamp.Add(1) }

// GetModules returns a snapshot slice of every module (including
// uninstalled ones still being refreshed). Safe to call without an
// explicit lock; takes its own read lock.
func (d *Database) GetModules() []*types.Module {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.GetModulesLocked()
}

// GetModulesLocked is GetModules for a caller that already holds the read
// or write lock — calling GetModules itself would re-enter the database's
// non-reentrant RWMutex and deadlock.
func (d *Database) GetModulesLocked() []*types.Module {
	out := make([]*types.Module, 0, len(d.modules))
	for _, m := range d.modules {
		out = append(out, m)
	}
	return out
}

// GetModule looks up a module by id.
func (d *Database) GetModule(id types.ModuleID) *types.Module {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.modules[id]
}

// GetModuleByLocation looks up the (at most one) non-uninstalled module at
// location.
func (d *Database) GetModuleByLocation(loc types.Location) *types.Module {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byLocation[loc]
}

// GetModuleByLocationLocked is GetModuleByLocation for a caller that already
// holds the read or write lock.
func (d *Database) GetModuleByLocationLocked(loc types.Location) *types.Module {
	return d.byLocation[loc]
}

// GetRevisions returns every current revision across all modules matching
// name, and version if non-nil — the "collision candidates" query.
func (d *Database) GetRevisions(name types.SymbolicName, version *types.Version) []*types.ModuleRevision {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.GetRevisionsLocked(name, version)
}

// GetRevisionsLocked is GetRevisions for a caller that already holds the
// read or write lock.
func (d *Database) GetRevisionsLocked(name types.SymbolicName, version *types.Version) []*types.ModuleRevision {
	var out []*types.ModuleRevision
	for _, m := range d.modules {
		if m.State == types.StateUninstalled {
			continue
		}
		rev := m.CurrentRevision()
		if rev == nil || rev.SymbolicName != name {
			continue
		}
		if version != nil && rev.Version.Compare(*version) != 0 {
			continue
		}
		out = append(out, rev)
	}
	return out
}

// GetWiring returns the wiring for revision, or nil if unresolved.
func (d *Database) GetWiring(revision *types.ModuleRevision) *types.ModuleWiring {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wirings[revision]
}

// GetWiringLocked is GetWiring for a caller that already holds the read or
// write lock — every Phase C commit path needs this, since it reads wirings
// while it is itself holding the write lock to install new ones.
func (d *Database) GetWiringLocked(revision *types.ModuleRevision) *types.ModuleWiring {
	return d.wirings[revision]
}

// GetWiringsClone returns a shallow copy of the wiring map: same *ModuleWiring
// pointers, new map — exactly the "Clone the current wiring map" step of
// spec §4.5 Phase A. Cheap, and safe to hand to a pure resolver outside the
// read lock since the pointed-to wirings are only ever mutated under the
// write lock.
func (d *Database) GetWiringsClone() WiringSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.GetWiringsCloneLocked()
}

// GetWiringsCloneLocked is GetWiringsClone for a caller that already holds
// the read or write lock.
func (d *Database) GetWiringsCloneLocked() WiringSnapshot {
	clone := make(WiringSnapshot, len(d.wirings))
	for k, v := range d.wirings {
		clone[k] = v
	}
	return clone
}

// GetWiringsCopy returns a deep-enough copy for read-only external queries
// (ContainerWiring façade): new ModuleWiring value objects so a caller
// cannot mutate the live graph, but still referencing the live wire and
// revision pointers for identity comparisons.
func (d *Database) GetWiringsCopy() map[*types.ModuleRevision]types.ModuleWiring {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[*types.ModuleRevision]types.ModuleWiring, len(d.wirings))
	for k, v := range d.wirings {
		out[k] = *v
	}
	return out
}

// GetUnresolved returns the current revisions of every installed module
// that has no wiring — the "unresolved" set of spec §4.5 Phase A.
func (d *Database) GetUnresolved() []*types.ModuleRevision {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.GetUnresolvedLocked()
}

// GetUnresolvedLocked is GetUnresolved for a caller that already holds the
// read or write lock.
func (d *Database) GetUnresolvedLocked() []*types.ModuleRevision {
	var out []*types.ModuleRevision
	for _, m := range d.modules {
		if m.State == types.StateUninstalled {
			continue
		}
		rev := m.CurrentRevision()
		if rev == nil {
			continue
		}
		if _, wired := d.wirings[rev]; !wired {
			out = append(out, rev)
		}
	}
	return out
}

// GetRemovalPending returns every revision in the removal-pending set.
func (d *Database) GetRemovalPending() []*types.ModuleRevision {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.GetRemovalPendingLocked()
}

// GetRemovalPendingLocked is GetRemovalPending for a caller that already
// holds the read or write lock.
func (d *Database) GetRemovalPendingLocked() []*types.ModuleRevision {
	out := make([]*types.ModuleRevision, 0, len(d.removalPending))
	for rev := range d.removalPending {
		out = append(out, rev)
	}
	return out
}

// Install commits a new module at location, built from builder. Callers
// must already hold whatever location/name locks they need; Install itself
// takes only the write lock.
func (d *Database) Install(location types.Location, builder types.RevisionBuilder, revisionInfo any) (*types.Module, error) {
	tmpl, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build revision for %s: %w", location, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing := d.byLocation[location]; existing != nil {
		return existing, nil
	}

	id := types.ModuleID(d.nextModuleID.next)
	d.nextModuleID.next++

	m := &types.Module{ID: id, Location: location, State: types.StateInstalled}
	m.Revisions = types.NewModuleRevisions(m)
	m.Revisions.AddAndPromote(&types.ModuleRevision{
		SymbolicName:   tmpl.SymbolicName,
		Version:        tmpl.Version,
		Capabilities:   tmpl.Capabilities,
		Requirements:   tmpl.Requirements,
		Fragment:       tmpl.Fragment,
		LazyActivation: tmpl.LazyActivation,
	})

	d.modules[id] = m
	d.byLocation[location] = m
	d.startLevels[id] = d.initialStartLevel
	d.bumpTimestamp()
	_ = revisionInfo // opaque payload, not interpreted by this core
	return m, nil
}

// Update appends a new current revision to module, built from builder. The
// previous current revision is marked removal-pending (spec §4.3/§4.7's
// worked scenario: "getRemovalPendingBundles() contains B's old revision
// until refresh") so a subsequent refresh(nil) or the sweeper eventually
// discards it once nothing still wires against it.
// Like Install, Update takes the write lock itself; callers serialize
// concurrent updaters of the same module with the module's own UPDATED
// state-change lock (spec §4.3), not with this method's internal lock.
func (d *Database) Update(module *types.Module, builder types.RevisionBuilder, revisionInfo any) error {
	tmpl, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build revision for update of %s: %w", module.Location, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	previous := module.Revisions.Current()

	module.Revisions.AddAndPromote(&types.ModuleRevision{
		SymbolicName:   tmpl.SymbolicName,
		Version:        tmpl.Version,
		Capabilities:   tmpl.Capabilities,
		Requirements:   tmpl.Requirements,
		Fragment:       tmpl.Fragment,
		LazyActivation: tmpl.LazyActivation,
	})
	if previous != nil {
		d.AddRemovalPending(previous)
	}
	d.bumpTimestamp()
	_ = revisionInfo
	return nil
}

// Uninstall removes module from the location index only. The module stays
// in the modules map (and is still returned by GetModules); a later refresh
// discards its revisions, but nothing removes the module entry itself.
func (d *Database) Uninstall(module *types.Module) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byLocation, module.Location)
	d.bumpTimestamp()
	return nil
}

// MergeWiring atomically applies delta: for each entry, either replaces or
// inserts the wiring for that revision. Callers must hold the write lock
// and must have already re-pointed any mutated-in-place wirings (spec
// §4.5 Phase C step 3 happens before this call).
func (d *Database) MergeWiring(delta WiringSnapshot) {
	for rev, wiring := range delta {
		d.wirings[rev] = wiring
	}
	d.bumpTimestamp()
}

// SetWiring installs a single wiring without bumping the timestamp itself
// (used inside a MergeWiring-equivalent sequence that bumps once overall).
func (d *Database) SetWiring(rev *types.ModuleRevision, wiring *types.ModuleWiring) {
	d.wirings[rev] = wiring
}

// RemoveWiring deletes rev's wiring entry (refresh path).
func (d *Database) RemoveWiring(rev *types.ModuleRevision) {
	delete(d.wirings, rev)
	d.bumpTimestamp()
}

// AddRemovalPending marks rev as removal-pending.
func (d *Database) AddRemovalPending(rev *types.ModuleRevision) {
	d.removalPending[rev] = struct{}{}
}

// RemoveCapabilities detaches rev from its revisions container and from the
// removal-pending set — the final purge step of a refresh, or of the
// removal-pending sweeper once nothing references rev anymore.
func (d *Database) RemoveCapabilities(rev *types.ModuleRevision) {
	delete(d.removalPending, rev)
	delete(d.wirings, rev)
	if revisions := rev.Revisions(); revisions != nil {
		revisions.Detach(rev)
	}
	d.bumpTimestamp()
}

// SetStartLevel records sl as module's assigned start level.
func (d *Database) SetStartLevel(moduleID types.ModuleID, sl int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startLevels[moduleID] = sl
}

// GetStartLevel returns module's assigned start level (0 for the system
// module, which is not subject to start-level gating).
func (d *Database) GetStartLevel(moduleID types.ModuleID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.startLevels[moduleID]
}

// GetInitialModuleStartLevel returns the start level assigned to newly
// installed modules.
func (d *Database) GetInitialModuleStartLevel() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.initialStartLevel
}

// SetInitialModuleStartLevel changes the start level assigned to modules
// installed from now on.
func (d *Database) SetInitialModuleStartLevel(sl int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialStartLevel = sl
}
