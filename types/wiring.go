package types

import "sync/atomic"

// ModuleWire is a directed edge between a requirer's requirement and a
// provider's capability inside one namespace. Wires are owned jointly by
// the two wirings they connect; Invalidate is idempotent.
type ModuleWire struct {
	Namespace        Namespace
	RequirerRevision *ModuleRevision
	Requirement      *Requirement
	ProviderRevision *ModuleRevision
	Capability       *Capability

	dead atomic.Bool
}

// NewModuleWire constructs a live wire.
func NewModuleWire(ns Namespace, requirer *ModuleRevision, req *Requirement, provider *ModuleRevision, capability *Capability) *ModuleWire {
	return &ModuleWire{Namespace: ns, RequirerRevision: requirer, Requirement: req, ProviderRevision: provider, Capability: capability}
}

// Invalidate idempotently marks the wire dead; subsequent lookups through
// it return empty/terminal results.
func (w *ModuleWire) Invalidate() { w.dead.Store(true) }

// IsValid reports whether the wire has not been invalidated.
func (w *ModuleWire) IsValid() bool { return !w.dead.Load() }

// ModuleWiring is the resolved binding of one revision. A wiring is current
// iff its revision is current; in-use iff any other current wiring depends
// on it via a required wire. A wiring may be invalidated exactly once.
type ModuleWiring struct {
	Revision *ModuleRevision

	// ProvidedWires lists wires where Revision is the provider — i.e. other
	// revisions' required wires pointing at this revision's capabilities.
	ProvidedWires []*ModuleWire
	// RequiredWires lists wires where Revision is the requirer.
	RequiredWires []*ModuleWire

	// Capabilities/Requirements are the effective lists after resolution
	// (may differ from the revision's declared lists once the resolver has
	// filtered or annotated them).
	Capabilities []Capability
	Requirements []Requirement

	invalidated atomic.Bool
}

// NewModuleWiring creates a wiring for revision with no wires yet.
func NewModuleWiring(revision *ModuleRevision) *ModuleWiring {
	return &ModuleWiring{
		Revision:     revision,
		Capabilities: append([]Capability(nil), revision.Capabilities...),
		Requirements: append([]Requirement(nil), revision.Requirements...),
	}
}

// IsCurrent reports whether the wiring's revision is its module's current
// revision.
func (w *ModuleWiring) IsCurrent() bool { return w.Revision.IsCurrent() }

// Invalidate idempotently invalidates the wiring and every wire it owns.
func (w *ModuleWiring) Invalidate() {
	if w.invalidated.Swap(true) {
		return
	}
	for _, wire := range w.ProvidedWires {
		wire.Invalidate()
	}
	for _, wire := range w.RequiredWires {
		wire.Invalidate()
	}
}

// IsInvalidated reports whether Invalidate has already run.
func (w *ModuleWiring) IsInvalidated() bool { return w.invalidated.Load() }

// AddProvidedWire appends wire to the provided list, mutating the wiring in
// place. Callers must hold the database write lock.
func (w *ModuleWiring) AddProvidedWire(wire *ModuleWire) {
	w.ProvidedWires = append(w.ProvidedWires, wire)
}

// AddRequiredWire appends wire to the required list, mutating the wiring in
// place. Callers must hold the database write lock.
func (w *ModuleWiring) AddRequiredWire(wire *ModuleWire) {
	w.RequiredWires = append(w.RequiredWires, wire)
}

// RemoveProvidedWires removes and invalidates every wire in dead from the
// provided list, preserving order of survivors.
func (w *ModuleWiring) RemoveProvidedWires(dead map[*ModuleWire]struct{}) {
	kept := w.ProvidedWires[:0:0]
	for _, wire := range w.ProvidedWires {
		if _, remove := dead[wire]; remove {
			wire.Invalidate()
			continue
		}
		kept = append(kept, wire)
	}
	w.ProvidedWires = kept
}
