package container

import (
	"testing"

	"github.com/projecteru2/modwire/db"
	"github.com/projecteru2/modwire/types"
)

func newTestRevision(name types.SymbolicName, fragment bool) *types.ModuleRevision {
	m := &types.Module{ID: types.ModuleID(1), Location: types.Location(name)}
	m.Revisions = types.NewModuleRevisions(m)
	m.Revisions.AddAndPromote(&types.ModuleRevision{SymbolicName: name, Fragment: fragment})
	return m.CurrentRevision()
}

// TestRefreshClosureFollowsProvidedWires checks that the closure walks
// forward from a provider to every requirer that wired against it.
func TestRefreshClosureFollowsProvidedWires(t *testing.T) {
	provider := newTestRevision("provider", false)
	requirer := newTestRevision("requirer", false)
	unrelated := newTestRevision("unrelated", false)

	wire := types.NewModuleWire(types.NamespacePackage, requirer, &types.Requirement{}, provider, &types.Capability{})

	providerWiring := types.NewModuleWiring(provider)
	providerWiring.AddProvidedWire(wire)
	requirerWiring := types.NewModuleWiring(requirer)
	requirerWiring.AddRequiredWire(wire)
	unrelatedWiring := types.NewModuleWiring(unrelated)

	wirings := db.WiringSnapshot{
		provider:  providerWiring,
		requirer:  requirerWiring,
		unrelated: unrelatedWiring,
	}

	closure := refreshClosure([]*types.ModuleRevision{provider}, wirings)

	if _, ok := closure[provider]; !ok {
		t.Error("closure should contain the initial revision")
	}
	if _, ok := closure[requirer]; !ok {
		t.Error("closure should contain the requirer reached via the provided wire")
	}
	if _, ok := closure[unrelated]; ok {
		t.Error("closure should not contain a revision with no path from the initial set")
	}
}

// TestRefreshClosureFollowsFragmentHostWire checks that starting from a
// fragment pulls in its host via the fragment's required host wire, even
// though that wire runs the opposite direction from a normal package wire.
func TestRefreshClosureFollowsFragmentHostWire(t *testing.T) {
	host := newTestRevision("host.module", false)
	fragment := newTestRevision("fragment.module", true)

	hostWire := types.NewModuleWire(types.NamespaceHost, fragment, &types.Requirement{}, host, &types.Capability{})

	hostWiring := types.NewModuleWiring(host)
	hostWiring.AddProvidedWire(hostWire)
	fragmentWiring := types.NewModuleWiring(fragment)
	fragmentWiring.AddRequiredWire(hostWire)

	wirings := db.WiringSnapshot{host: hostWiring, fragment: fragmentWiring}

	closure := refreshClosure([]*types.ModuleRevision{fragment}, wirings)

	if _, ok := closure[host]; !ok {
		t.Error("closure starting from a fragment should pull in its host")
	}
}

// TestRefreshClosureIgnoresInvalidatedWires checks that a dead wire does
// not extend the closure.
func TestRefreshClosureIgnoresInvalidatedWires(t *testing.T) {
	provider := newTestRevision("provider", false)
	requirer := newTestRevision("requirer", false)

	wire := types.NewModuleWire(types.NamespacePackage, requirer, &types.Requirement{}, provider, &types.Capability{})
	wire.Invalidate()

	providerWiring := types.NewModuleWiring(provider)
	providerWiring.AddProvidedWire(wire)

	wirings := db.WiringSnapshot{provider: providerWiring}

	closure := refreshClosure([]*types.ModuleRevision{provider}, wirings)

	if _, ok := closure[requirer]; ok {
		t.Error("an invalidated wire should not extend the closure")
	}
}
