package naive

import (
	"errors"
	"testing"

	"github.com/projecteru2/modwire/db"
	"github.com/projecteru2/modwire/types"
)

func installRevision(t *testing.T, database *db.Database, location string, tmpl types.RevisionTemplate) *types.Module {
	t.Helper()
	m, err := database.Install(types.Location(location), types.RevisionBuilderFunc(func() (*types.RevisionTemplate, error) {
		return &tmpl, nil
	}), nil)
	if err != nil {
		t.Fatalf("install %s: %v", location, err)
	}
	return m
}

func TestResolveDeltaDirectMatch(t *testing.T) {
	database := db.New()
	provider := installRevision(t, database, "loc-provider", types.RevisionTemplate{
		SymbolicName: "provider",
		Capabilities: []types.Capability{{Namespace: types.NamespacePackage, Attributes: map[string]any{"package": "com.example.api"}}},
	})
	consumer := installRevision(t, database, "loc-consumer", types.RevisionTemplate{
		SymbolicName: "consumer",
		Requirements: []types.Requirement{{Namespace: types.NamespacePackage, Filter: map[string]any{"package": "com.example.api"}}},
	})

	unresolved := []*types.ModuleRevision{provider.CurrentRevision(), consumer.CurrentRevision()}
	r := New()
	delta, err := r.ResolveDelta([]*types.ModuleRevision{consumer.CurrentRevision()}, true, unresolved, db.WiringSnapshot{}, database)
	if err != nil {
		t.Fatalf("ResolveDelta: %v", err)
	}

	consumerWiring, ok := delta[consumer.CurrentRevision()]
	if !ok {
		t.Fatal("expected a wiring for the consumer revision")
	}
	if len(consumerWiring.RequiredWires) != 1 {
		t.Fatalf("expected 1 required wire, got %d", len(consumerWiring.RequiredWires))
	}
	wire := consumerWiring.RequiredWires[0]
	if wire.ProviderRevision != provider.CurrentRevision() {
		t.Fatal("wire should point at the provider revision")
	}

	providerWiring, ok := delta[provider.CurrentRevision()]
	if !ok {
		t.Fatal("expected the transitively-pulled-in provider to also appear in the delta")
	}
	if len(providerWiring.ProvidedWires) != 1 || providerWiring.ProvidedWires[0] != wire {
		t.Fatal("provider wiring should record the same wire as provided")
	}
}

func TestResolveDeltaMandatoryTriggerUnsatisfied(t *testing.T) {
	database := db.New()
	consumer := installRevision(t, database, "loc-consumer", types.RevisionTemplate{
		SymbolicName: "consumer",
		Requirements: []types.Requirement{{Namespace: types.NamespacePackage, Filter: map[string]any{"package": "com.example.missing"}}},
	})

	r := New()
	_, err := r.ResolveDelta([]*types.ModuleRevision{consumer.CurrentRevision()}, true, []*types.ModuleRevision{consumer.CurrentRevision()}, db.WiringSnapshot{}, database)
	if err == nil {
		t.Fatal("expected a resolution error")
	}
	if !errors.Is(err, types.ErrResolution) {
		t.Fatalf("expected ErrResolution, got %v", err)
	}
}

func TestResolveDeltaOptionalTriggerSkipped(t *testing.T) {
	database := db.New()
	consumer := installRevision(t, database, "loc-consumer", types.RevisionTemplate{
		SymbolicName: "consumer",
		Requirements: []types.Requirement{{Namespace: types.NamespacePackage, Filter: map[string]any{"package": "com.example.missing"}}},
	})

	r := New()
	delta, err := r.ResolveDelta([]*types.ModuleRevision{consumer.CurrentRevision()}, false, []*types.ModuleRevision{consumer.CurrentRevision()}, db.WiringSnapshot{}, database)
	if err != nil {
		t.Fatalf("ResolveDelta: %v", err)
	}
	if _, ok := delta[consumer.CurrentRevision()]; ok {
		t.Fatal("unsatisfiable optional trigger should not appear in the delta")
	}
}

func TestResolveDeltaHostNamespace(t *testing.T) {
	database := db.New()
	host := installRevision(t, database, "loc-host", types.RevisionTemplate{
		SymbolicName: "host.module",
		Capabilities: []types.Capability{{Namespace: types.NamespaceHost}},
	})
	fragment := installRevision(t, database, "loc-fragment", types.RevisionTemplate{
		SymbolicName: "fragment.module",
		Fragment:     true,
		Requirements: []types.Requirement{{Namespace: types.NamespaceHost, Filter: map[string]any{"host": "host.module"}}},
	})

	r := New()
	unresolved := []*types.ModuleRevision{host.CurrentRevision(), fragment.CurrentRevision()}
	delta, err := r.ResolveDelta([]*types.ModuleRevision{fragment.CurrentRevision()}, true, unresolved, db.WiringSnapshot{}, database)
	if err != nil {
		t.Fatalf("ResolveDelta: %v", err)
	}
	wiring := delta[fragment.CurrentRevision()]
	if wiring == nil || len(wiring.RequiredWires) != 1 {
		t.Fatal("expected the fragment to wire to its host")
	}
	if wiring.RequiredWires[0].ProviderRevision != host.CurrentRevision() {
		t.Fatal("fragment should wire to the host revision by symbolic name")
	}
}

func TestResolveDeltaExtendsAlreadyPublishedProviderViaClone(t *testing.T) {
	database := db.New()
	provider := installRevision(t, database, "loc-provider", types.RevisionTemplate{
		SymbolicName: "provider",
		Capabilities: []types.Capability{{Namespace: types.NamespacePackage, Attributes: map[string]any{"package": "com.example.api"}}},
	})
	consumer := installRevision(t, database, "loc-consumer", types.RevisionTemplate{
		SymbolicName: "consumer",
		Requirements: []types.Requirement{{Namespace: types.NamespacePackage, Filter: map[string]any{"package": "com.example.api"}}},
	})

	providerRev := provider.CurrentRevision()
	consumerRev := consumer.CurrentRevision()
	publishedProviderWiring := types.NewModuleWiring(providerRev)
	wirings := db.WiringSnapshot{providerRev: publishedProviderWiring}

	r := New()
	delta, err := r.ResolveDelta([]*types.ModuleRevision{consumerRev}, true, []*types.ModuleRevision{consumerRev}, wirings, database)
	if err != nil {
		t.Fatalf("ResolveDelta: %v", err)
	}

	if len(publishedProviderWiring.ProvidedWires) != 0 {
		t.Fatal("ResolveDelta must never mutate a wiring already reachable from the input snapshot")
	}

	providerDelta, ok := delta[providerRev]
	if !ok {
		t.Fatal("expected a delta entry carrying the provider's extended clone")
	}
	if providerDelta == publishedProviderWiring {
		t.Fatal("delta entry must be a clone, not the live published wiring")
	}
	if len(providerDelta.ProvidedWires) != 1 {
		t.Fatalf("expected 1 provided wire on the clone, got %d", len(providerDelta.ProvidedWires))
	}
}

func TestResolveDynamicDelta(t *testing.T) {
	database := db.New()
	provider := installRevision(t, database, "loc-provider", types.RevisionTemplate{
		SymbolicName: "provider",
		Capabilities: []types.Capability{{Namespace: types.NamespacePackage, Attributes: map[string]any{"package": "com.example.dyn"}}},
	})
	consumer := installRevision(t, database, "loc-consumer", types.RevisionTemplate{
		SymbolicName: "consumer",
		Requirements: []types.Requirement{{Namespace: types.NamespacePackage, DynamicPackageNames: []string{"*"}}},
	})

	consumerRev := consumer.CurrentRevision()
	existingWiring := types.NewModuleWiring(consumerRev)
	wirings := db.WiringSnapshot{consumerRev: existingWiring}

	req := consumerRev.Requirements[0].DynamicProjection("com.example.dyn")
	if req == nil {
		t.Fatal("expected a dynamic projection to be produced")
	}

	r := New()
	delta, err := r.ResolveDynamicDelta(consumerRev, req, nil, wirings, database)
	if err != nil {
		t.Fatalf("ResolveDynamicDelta: %v", err)
	}
	newWiring, ok := delta[consumerRev]
	if !ok {
		t.Fatal("expected a delta entry for the consumer revision")
	}
	if newWiring == existingWiring {
		t.Fatal("ResolveDynamicDelta must not mutate the input wiring in place")
	}
	if len(newWiring.RequiredWires) != 1 {
		t.Fatalf("expected 1 required wire, got %d", len(newWiring.RequiredWires))
	}
	if newWiring.RequiredWires[0].ProviderRevision != provider.CurrentRevision() {
		t.Fatal("dynamic wire should point at the matching provider")
	}
	if len(existingWiring.RequiredWires) != 0 {
		t.Fatal("original wiring should be untouched")
	}
}
