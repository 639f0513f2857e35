package db

import "github.com/projecteru2/modwire/types"

// RevisionSnapshot is the persisted form of one ModuleRevision. Wirings are
// not persisted — on reload a fresh resolve recomputes them, the same way
// the teacher's VMRecord persists configuration but not live PID state
// (hypervisor/db.go) because runtime-derived state is cheaper to
// recompute than to keep consistent across a restart.
type RevisionSnapshot struct {
	SymbolicName   string               `json:"symbolic_name"`
	Version        types.Version        `json:"version"`
	Capabilities   []types.Capability   `json:"capabilities,omitempty"`
	Requirements   []types.Requirement  `json:"requirements,omitempty"`
	Fragment       bool                 `json:"fragment,omitempty"`
	LazyActivation bool                 `json:"lazy_activation,omitempty"`
	Current        bool                 `json:"current"`
	RemovalPending bool                 `json:"removal_pending,omitempty"`
}

// ModuleSnapshot is the persisted form of one Module.
type ModuleSnapshot struct {
	ID         uint64              `json:"id"`
	Location   string              `json:"location"`
	State      int                 `json:"state"`
	StartLevel int                 `json:"start_level"`
	Revisions  []RevisionSnapshot  `json:"revisions"`
}

// DatabaseSnapshot is the top-level persisted structure, written by
// storage/json.Store[DatabaseSnapshot] the same way the teacher persists
// hypervisor.VMIndex.
type DatabaseSnapshot struct {
	Modules           []ModuleSnapshot `json:"modules"`
	InitialStartLevel int              `json:"initial_start_level"`
}

// Init satisfies storage.Initer.
func (s *DatabaseSnapshot) Init() {
	if s.InitialStartLevel == 0 {
		s.InitialStartLevel = 1
	}
}

// Snapshot captures the database's modules and revisions (not wirings —
// callers should re-resolve after Restore). Safe to call concurrently.
func (d *Database) Snapshot() DatabaseSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := DatabaseSnapshot{InitialStartLevel: d.initialStartLevel}
	for _, m := range d.modules {
		if m.IsSystemModule() {
			continue
		}
		ms := ModuleSnapshot{
			ID:         uint64(m.ID),
			Location:   string(m.Location),
			State:      int(m.State),
			StartLevel: d.startLevels[m.ID],
		}
		if m.Revisions != nil {
			for _, rev := range m.Revisions.All() {
				_, pending := d.removalPending[rev]
				ms.Revisions = append(ms.Revisions, RevisionSnapshot{
					SymbolicName:   string(rev.SymbolicName),
					Version:        rev.Version,
					Capabilities:   rev.Capabilities,
					Requirements:   rev.Requirements,
					Fragment:       rev.Fragment,
					LazyActivation: rev.LazyActivation,
					Current:        rev.IsCurrent(),
					RemovalPending: pending,
				})
			}
		}
		out.Modules = append(out.Modules, ms)
	}
	return out
}

// Restore rebuilds the database's modules and revisions from snap. It does
// not install any wiring; callers should follow Restore with a resolve of
// all modules. Restore replaces the current in-memory state entirely.
func Restore(snap DatabaseSnapshot) *Database {
	d := New()
	d.mu.Lock()
	defer d.mu.Unlock()

	d.initialStartLevel = snap.InitialStartLevel
	if d.initialStartLevel == 0 {
		d.initialStartLevel = 1
	}

	maxID := uint64(0)
	for _, ms := range snap.Modules {
		m := &types.Module{ID: types.ModuleID(ms.ID), Location: types.Location(ms.Location), State: types.State(ms.State)}
		m.Revisions = types.NewModuleRevisions(m)
		// AddAndPromote always makes the added revision current, so replay
		// non-current revisions first and the snapshot's current revision
		// last; Snapshot only ever persists one Current=true entry.
		var currentRS *RevisionSnapshot
		for i := range ms.Revisions {
			rs := &ms.Revisions[i]
			if rs.Current {
				currentRS = rs
				continue
			}
			rev := &types.ModuleRevision{
				SymbolicName:   types.SymbolicName(rs.SymbolicName),
				Version:        rs.Version,
				Capabilities:   rs.Capabilities,
				Requirements:   rs.Requirements,
				Fragment:       rs.Fragment,
				LazyActivation: rs.LazyActivation,
			}
			m.Revisions.AddAndPromote(rev)
			if rs.RemovalPending {
				d.AddRemovalPending(rev)
			}
		}
		if currentRS != nil {
			rev := &types.ModuleRevision{
				SymbolicName:   types.SymbolicName(currentRS.SymbolicName),
				Version:        currentRS.Version,
				Capabilities:   currentRS.Capabilities,
				Requirements:   currentRS.Requirements,
				Fragment:       currentRS.Fragment,
				LazyActivation: currentRS.LazyActivation,
			}
			m.Revisions.AddAndPromote(rev)
			if currentRS.RemovalPending {
				d.AddRemovalPending(rev)
			}
		}
		d.modules[m.ID] = m
		if m.State != types.StateUninstalled {
			d.byLocation[m.Location] = m
		}
		d.startLevels[m.ID] = ms.StartLevel
		if ms.ID > maxID {
			maxID = ms.ID
		}
	}
	d.nextModuleID.next = maxID + 1
	return d
}
