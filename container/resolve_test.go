package container

import (
	"context"
	"testing"

	"github.com/projecteru2/modwire/config"
	"github.com/projecteru2/modwire/db"
	"github.com/projecteru2/modwire/events"
	"github.com/projecteru2/modwire/resolver/naive"
	"github.com/projecteru2/modwire/types"
)

func installUnresolved(t *testing.T, c *Container, location string, tmpl types.RevisionTemplate) *types.Module {
	t.Helper()
	m, err := c.DB.Install(types.Location(location), types.RevisionBuilderFunc(func() (*types.RevisionTemplate, error) {
		return &tmpl, nil
	}), nil)
	if err != nil {
		t.Fatalf("install %s: %v", location, err)
	}
	return m
}

func TestResolveWiresUpMatchingTriggerAndTransitivelyPullsProvider(t *testing.T) {
	c := New(db.New(), naive.New(), events.New(), nil, config.DefaultConfig())

	provider := installUnresolved(t, c, "loc-provider", types.RevisionTemplate{
		SymbolicName: "provider",
		Capabilities: []types.Capability{{Namespace: types.NamespacePackage, Attributes: map[string]any{"package": "com.example.api"}}},
	})
	consumer := installUnresolved(t, c, "loc-consumer", types.RevisionTemplate{
		SymbolicName: "consumer",
		Requirements: []types.Requirement{{Namespace: types.NamespacePackage, Filter: map[string]any{"package": "com.example.api"}}},
	})

	if err := c.Resolve(context.Background(), []*types.Module{consumer}, true, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if consumer.State != types.StateResolved {
		t.Fatalf("expected consumer to be RESOLVED, got %v", consumer.State)
	}
	if provider.State != types.StateResolved {
		t.Fatalf("expected the transitively-pulled provider to be RESOLVED, got %v", provider.State)
	}

	c.DB.ReadLock()
	wiring := c.DB.GetWiringLocked(consumer.CurrentRevision())
	c.DB.ReadUnlock()
	if wiring == nil || len(wiring.RequiredWires) != 1 {
		t.Fatal("expected the consumer's wiring to record exactly one required wire")
	}
}

func TestResolveWithUnsatisfiableMandatoryTriggerFails(t *testing.T) {
	c := New(db.New(), naive.New(), events.New(), nil, config.DefaultConfig())
	consumer := installUnresolved(t, c, "loc-consumer", types.RevisionTemplate{
		SymbolicName: "consumer",
		Requirements: []types.Requirement{{Namespace: types.NamespacePackage, Filter: map[string]any{"package": "com.example.missing"}}},
	})

	err := c.Resolve(context.Background(), []*types.Module{consumer}, true, false)
	if err == nil {
		t.Fatal("expected Resolve to fail for an unsatisfiable mandatory trigger")
	}
	if consumer.State == types.StateResolved {
		t.Fatal("consumer must not be marked RESOLVED when resolution fails")
	}
}

func TestResolveIsANoOpWhenNothingNeedsResolving(t *testing.T) {
	c := New(db.New(), naive.New(), events.New(), nil, config.DefaultConfig())
	m := installUnresolved(t, c, "loc-solo", types.RevisionTemplate{SymbolicName: "solo"})

	if err := c.Resolve(context.Background(), []*types.Module{m}, true, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.State != types.StateResolved {
		t.Fatalf("expected a module with no requirements to resolve trivially, got %v", m.State)
	}

	// A second Resolve call against the same, already-resolved module
	// must remain a no-op rather than erroring or re-wiring anything.
	if err := c.Resolve(context.Background(), []*types.Module{m}, true, false); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
}

func TestResolveRejectsDuringSystemRefresh(t *testing.T) {
	c := New(db.New(), naive.New(), events.New(), nil, config.DefaultConfig())
	m := installUnresolved(t, c, "loc-a", types.RevisionTemplate{SymbolicName: "a"})

	c.systemRefresh.TrySet()
	defer c.systemRefresh.Clear()

	if err := c.Resolve(context.Background(), []*types.Module{m}, true, false); err == nil {
		t.Fatal("expected Resolve to reject while a system refresh is in progress")
	}
}

func TestResolveDynamicWiresMatchingPackage(t *testing.T) {
	c := New(db.New(), naive.New(), events.New(), nil, config.DefaultConfig())

	provider := installUnresolved(t, c, "loc-provider", types.RevisionTemplate{
		SymbolicName: "provider",
		Capabilities: []types.Capability{{Namespace: types.NamespacePackage, Attributes: map[string]any{"package": "com.example.dyn"}}},
	})
	consumer := installUnresolved(t, c, "loc-consumer", types.RevisionTemplate{
		SymbolicName: "consumer",
		Requirements: []types.Requirement{{Namespace: types.NamespacePackage, DynamicPackageNames: []string{"*"}}},
	})

	if err := c.Resolve(context.Background(), []*types.Module{provider, consumer}, true, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	wire, err := c.ResolveDynamic(context.Background(), "com.example.dyn", consumer.CurrentRevision())
	if err != nil {
		t.Fatalf("ResolveDynamic: %v", err)
	}
	if wire == nil {
		t.Fatal("expected a dynamic wire to be produced")
	}
	if wire.ProviderRevision != provider.CurrentRevision() {
		t.Fatal("dynamic wire should point at the provider revision")
	}
}

func TestResolveDynamicReturnsNilForFragment(t *testing.T) {
	c := New(db.New(), naive.New(), events.New(), nil, config.DefaultConfig())
	fragment := installUnresolved(t, c, "loc-fragment", types.RevisionTemplate{
		SymbolicName: "fragment",
		Fragment:     true,
	})

	wire, err := c.ResolveDynamic(context.Background(), "com.example.anything", fragment.CurrentRevision())
	if err != nil {
		t.Fatalf("ResolveDynamic: %v", err)
	}
	if wire != nil {
		t.Fatal("a fragment must never be the revision a dynamic package resolve attaches a wire to")
	}
}
