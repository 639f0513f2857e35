// Package naive provides a minimal, real resolver.Resolver so the rest of
// the container can be exercised end to end. It is grounded on the
// teacher's GC Resolver shape (gc/gc.go: a pure function over read-only
// snapshots, with no notion of partial credit or scoring) generalized from
// "which resource IDs to delete" to "which capability satisfies which
// requirement". Matching rules:
//
//   - namespace "host": a requirement matches a capability iff the
//     candidate revision's symbolic name equals the requirement filter's
//     "host" key.
//   - namespace "package": a requirement matches a capability iff the
//     filter's "package" key equals the capability attribute's "package"
//     key.
//   - any other namespace: every key in the requirement's filter must be
//     present in the capability's attributes with an equal value (extra
//     attributes on the capability are ignored).
//
// The first matching candidate wins; there is no scoring, version-range
// narrowing, or uses-constraint checking — real constraint solving is
// exactly what spec §1 calls out as an external collaborator.
package naive

import (
	"fmt"
	"reflect"

	"github.com/projecteru2/modwire/db"
	"github.com/projecteru2/modwire/resolver"
	"github.com/projecteru2/modwire/types"
)

// Resolver is the naive resolver.Resolver implementation.
type Resolver struct{}

// New creates a naive Resolver.
func New() *Resolver { return &Resolver{} }

type candidate struct {
	revision   *types.ModuleRevision
	capability *types.Capability
}

// ResolveDelta implements resolver.Resolver.
func (*Resolver) ResolveDelta(triggers []*types.ModuleRevision, triggersMandatory bool, unresolved []*types.ModuleRevision, wirings db.WiringSnapshot, database *db.Database) (resolver.Delta, error) {
	capIndex := buildCapabilityIndex(collectCandidateRevisions(unresolved, wirings, database))

	inProgress := make(map[*types.ModuleRevision]*types.ModuleWiring)
	delta := resolver.Delta{}
	// providerClones holds a copy-on-write clone of any already-published
	// wiring whose ProvidedWires this pass extends — ResolveDelta is a pure
	// snapshot-in, decision-out function and must never mutate a wiring
	// reachable from wirings (Phase C commits these into the database).
	providerClones := make(map[*types.ModuleRevision]*types.ModuleWiring)

	var resolveRevision func(rev *types.ModuleRevision) (*types.ModuleWiring, bool)
	resolveRevision = func(rev *types.ModuleRevision) (*types.ModuleWiring, bool) {
		if w, ok := wirings[rev]; ok {
			return w, true
		}
		if w, ok := inProgress[rev]; ok {
			return w, true
		}

		wiring := types.NewModuleWiring(rev)
		inProgress[rev] = wiring

		for i := range wiring.Requirements {
			req := wiring.Requirements[i]
			// A dynamic requirement is only wired later, by
			// ResolveDynamicDelta; it never blocks initial resolution.
			if len(req.DynamicPackageNames) > 0 {
				continue
			}
			cap, provider, ok := matchCapability(req, capIndex)
			if !ok {
				delete(inProgress, rev)
				return nil, false
			}
			if provider != rev {
				if _, ok := resolveRevision(provider); !ok {
					delete(inProgress, rev)
					return nil, false
				}
			}
			wire := types.NewModuleWire(req.Namespace, rev, &wiring.Requirements[i], provider, cap)
			wiring.AddRequiredWire(wire)
			if providerWiring, ok := inProgress[provider]; ok {
				providerWiring.AddProvidedWire(wire)
			} else if existing, ok := wirings[provider]; ok {
				clone, ok := providerClones[provider]
				if !ok {
					clone = cloneWiring(existing)
					providerClones[provider] = clone
				}
				clone.AddProvidedWire(wire)
			}
		}
		return wiring, true
	}

	for _, trigger := range triggers {
		if _, already := wirings[trigger]; already {
			continue
		}
		w, ok := resolveRevision(trigger)
		if !ok {
			if triggersMandatory {
				return nil, types.WithMessage(types.ErrResolution,
					fmt.Sprintf("cannot satisfy requirements of trigger revision %s", trigger.SymbolicName), nil)
			}
			continue
		}
		delta[trigger] = w
	}

	for _, rev := range unresolved {
		if _, already := wirings[rev]; already {
			continue
		}
		if _, already := delta[rev]; already {
			continue
		}
		if w, ok := resolveRevision(rev); ok {
			delta[rev] = w
		}
	}

	// Every revision pulled in transitively as a provider belongs in the
	// delta too, even if it wasn't itself a trigger or directly unresolved.
	for rev, w := range inProgress {
		if _, already := delta[rev]; !already {
			delta[rev] = w
		}
	}

	// An already-published provider that gained a provided wire this pass
	// was never in inProgress (it has no Requirements left to resolve), so
	// its clone must be added to the delta explicitly. A revision can
	// never be in both wirings and inProgress, so this can't collide with
	// the loop above.
	for rev, clone := range providerClones {
		delta[rev] = clone
	}

	return delta, nil
}

// ResolveDynamicDelta implements resolver.Resolver.
func (*Resolver) ResolveDynamicDelta(revision *types.ModuleRevision, req *types.Requirement, unresolved []*types.ModuleRevision, wirings db.WiringSnapshot, database *db.Database) (resolver.Delta, error) {
	if req == nil {
		return resolver.Delta{}, nil
	}
	existing := wirings[revision]
	if existing == nil {
		return resolver.Delta{}, nil
	}

	capIndex := buildCapabilityIndex(collectCandidateRevisions(unresolved, wirings, database))
	cap, provider, ok := matchCapability(*req, capIndex)
	if !ok {
		return resolver.Delta{}, nil
	}

	clone := cloneWiring(existing)
	wire := types.NewModuleWire(req.Namespace, revision, req, provider, cap)
	clone.AddRequiredWire(wire)
	return resolver.Delta{revision: clone}, nil
}

func cloneWiring(w *types.ModuleWiring) *types.ModuleWiring {
	clone := types.NewModuleWiring(w.Revision)
	clone.ProvidedWires = append([]*types.ModuleWire(nil), w.ProvidedWires...)
	clone.RequiredWires = append([]*types.ModuleWire(nil), w.RequiredWires...)
	clone.Capabilities = append([]types.Capability(nil), w.Capabilities...)
	clone.Requirements = append([]types.Requirement(nil), w.Requirements...)
	return clone
}

// collectCandidateRevisions gathers every revision that could plausibly
// provide a capability: already-wired revisions, the unresolved set, and
// every module's current revision (covers providers that are neither
// wired nor in the unresolved set passed for this particular call, e.g.
// the system module).
func collectCandidateRevisions(unresolved []*types.ModuleRevision, wirings db.WiringSnapshot, database *db.Database) []*types.ModuleRevision {
	seen := make(map[*types.ModuleRevision]struct{})
	var out []*types.ModuleRevision
	add := func(rev *types.ModuleRevision) {
		if rev == nil {
			return
		}
		if _, ok := seen[rev]; ok {
			return
		}
		seen[rev] = struct{}{}
		out = append(out, rev)
	}
	for rev := range wirings {
		add(rev)
	}
	for _, rev := range unresolved {
		add(rev)
	}
	if database != nil {
		for _, m := range database.GetModules() {
			add(m.CurrentRevision())
		}
	}
	return out
}

func buildCapabilityIndex(candidates []*types.ModuleRevision) map[types.Namespace][]candidate {
	index := make(map[types.Namespace][]candidate)
	for _, rev := range candidates {
		for i := range rev.Capabilities {
			cap := &rev.Capabilities[i]
			index[cap.Namespace] = append(index[cap.Namespace], candidate{revision: rev, capability: cap})
		}
	}
	return index
}

func matchCapability(req types.Requirement, index map[types.Namespace][]candidate) (*types.Capability, *types.ModuleRevision, bool) {
	for _, cand := range index[req.Namespace] {
		if capabilityMatches(req, cand) {
			return cand.capability, cand.revision, true
		}
	}
	return nil, nil, false
}

func capabilityMatches(req types.Requirement, cand candidate) bool {
	switch req.Namespace {
	case types.NamespaceHost:
		want, _ := req.Filter["host"].(string)
		return want != "" && string(cand.revision.SymbolicName) == want
	case types.NamespacePackage:
		want, _ := req.Filter["package"].(string)
		got, _ := cand.capability.Attributes["package"].(string)
		return want != "" && want == got
	default:
		return attributesMatchFilter(req.Filter, cand.capability.Attributes)
	}
}

func attributesMatchFilter(filter, attrs map[string]any) bool {
	for k, v := range filter {
		got, ok := attrs[k]
		if !ok || !reflect.DeepEqual(got, v) {
			return false
		}
	}
	return true
}
