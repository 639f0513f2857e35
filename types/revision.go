package types

// Namespace identifies a typed domain of capability/requirement matching.
// Only "package" and "host" carry special meaning to this core; any other
// value is opaque to it.
type Namespace string

const (
	NamespacePackage Namespace = "package"
	NamespaceHost    Namespace = "host"
)

// Capability is an opaque attributed claim offered by a revision in a
// namespace. What the attributes mean is entirely up to the resolver and
// the modules themselves — this core only moves it around.
type Capability struct {
	Namespace  Namespace
	Attributes map[string]any
}

// Requirement is an opaque attributed need declared by a revision in a
// namespace. DynamicPackageNames, when non-empty and Namespace is
// NamespacePackage, lists the package names (or "*") this requirement is
// willing to satisfy dynamically after initial resolution (OSGi-style
// DynamicImport-Package).
type Requirement struct {
	Namespace           Namespace
	Filter              map[string]any
	DynamicPackageNames []string
}

// DynamicProjection returns a copy of r narrowed to packageName if r is a
// package-namespace requirement whose DynamicPackageNames list matches it,
// or nil if r cannot dynamically satisfy packageName.
func (r *Requirement) DynamicProjection(packageName string) *Requirement {
	if r == nil || r.Namespace != NamespacePackage || len(r.DynamicPackageNames) == 0 {
		return nil
	}
	matched := false
	for _, p := range r.DynamicPackageNames {
		if p == "*" || p == packageName {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}
	filter := map[string]any{"package": packageName}
	for k, v := range r.Filter {
		if _, ok := filter[k]; !ok {
			filter[k] = v
		}
	}
	return &Requirement{Namespace: NamespacePackage, Filter: filter}
}

// ModuleRevisions is the ordered sequence of revisions owned by one Module.
// Exactly one revision is current unless the module is uninstalled.
type ModuleRevisions struct {
	module    *Module
	revisions []*ModuleRevision
	current   *ModuleRevision
}

// NewModuleRevisions creates an empty revisions container owned by module.
func NewModuleRevisions(module *Module) *ModuleRevisions {
	return &ModuleRevisions{module: module}
}

// Module returns the owning module (the "weak back-reference").
func (r *ModuleRevisions) Module() *Module { return r.module }

// Current returns the current revision, or nil if none (uninstalled and
// fully refreshed).
func (r *ModuleRevisions) Current() *ModuleRevision { return r.current }

// All returns every revision still held, current and non-current.
func (r *ModuleRevisions) All() []*ModuleRevision {
	out := make([]*ModuleRevision, len(r.revisions))
	copy(out, r.revisions)
	return out
}

// AddAndPromote appends rev and makes it current. Used by install and
// update; it never removes prior revisions — only refresh discards them.
func (r *ModuleRevisions) AddAndPromote(rev *ModuleRevision) {
	rev.revisions = r
	r.revisions = append(r.revisions, rev)
	r.current = rev
}

// DiscardNonCurrent removes every revision except the current one, as part
// of a refresh. Returns the discarded revisions.
func (r *ModuleRevisions) DiscardNonCurrent() []*ModuleRevision {
	var discarded []*ModuleRevision
	kept := r.revisions[:0:0]
	for _, rev := range r.revisions {
		if rev == r.current {
			kept = append(kept, rev)
		} else {
			discarded = append(discarded, rev)
		}
	}
	r.revisions = kept
	return discarded
}

// Detach removes rev from its container unconditionally — used when a
// module is fully uninstalled and refreshed, so even its once-current
// revision is purged. If rev was current, the container is left with no
// current revision.
func (r *ModuleRevisions) Detach(rev *ModuleRevision) {
	kept := r.revisions[:0:0]
	for _, v := range r.revisions {
		if v != rev {
			kept = append(kept, v)
		}
	}
	r.revisions = kept
	if r.current == rev {
		r.current = nil
	}
	rev.revisions = nil
}

// ModuleRevision is an immutable description of a module snapshot: its
// symbolic name, version, declared capabilities and requirements, and type
// flags. It holds a weak back-reference to its ModuleRevisions container.
type ModuleRevision struct {
	revisions *ModuleRevisions

	SymbolicName SymbolicName
	Version      Version
	Capabilities []Capability
	Requirements []Requirement
	Fragment     bool
	// LazyActivation marks a revision as eligible for the first, lazy-first
	// pass of a start-level ramp (spec §4.8).
	LazyActivation bool
}

// Revisions returns the owning ModuleRevisions container.
func (rev *ModuleRevision) Revisions() *ModuleRevisions { return rev.revisions }

// Module returns the owning module, or nil if detached (fully refreshed).
func (rev *ModuleRevision) Module() *Module {
	if rev.revisions == nil {
		return nil
	}
	return rev.revisions.Module()
}

// IsCurrent reports whether rev is its container's current revision.
func (rev *ModuleRevision) IsCurrent() bool {
	return rev.revisions != nil && rev.revisions.Current() == rev
}

// RevisionTemplate is what a RevisionBuilder supplies: the declarative
// content of a new revision, prior to being wrapped as a ModuleRevision
// owned by a specific module.
type RevisionTemplate struct {
	SymbolicName   SymbolicName
	Version        Version
	Capabilities   []Capability
	Requirements   []Requirement
	Fragment       bool
	LazyActivation bool
}

// RevisionBuilder supplies the content of a new revision at install or
// update time. Implementations may consult external resources (a bundle's
// manifest, a persisted descriptor, …) — this core only calls Build once
// per successful install/update and treats the result as authoritative.
type RevisionBuilder interface {
	Build() (*RevisionTemplate, error)
}

// RevisionBuilderFunc adapts a function to RevisionBuilder.
type RevisionBuilderFunc func() (*RevisionTemplate, error)

func (f RevisionBuilderFunc) Build() (*RevisionTemplate, error) { return f() }
