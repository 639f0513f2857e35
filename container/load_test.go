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

func newTestContainer(t *testing.T) *Container {
	t.Helper()
	return New(db.New(), naive.New(), events.New(), nil, config.DefaultConfig())
}

func installResolvable(t *testing.T, c *Container, location string) *types.Module {
	t.Helper()
	m, err := c.DB.Install(types.Location(location), types.RevisionBuilderFunc(func() (*types.RevisionTemplate, error) {
		return &types.RevisionTemplate{SymbolicName: types.SymbolicName(location)}, nil
	}), nil)
	if err != nil {
		t.Fatalf("install %s: %v", location, err)
	}
	return m
}

func TestOpenResolvesModulesWithAPersistedWiring(t *testing.T) {
	c := newTestContainer(t)
	m := installResolvable(t, c, "loc-a")

	rev := m.CurrentRevision()
	wiring := types.NewModuleWiring(rev)
	c.DB.MergeWiring(db.WiringSnapshot{rev: wiring})

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if m.State != types.StateResolved {
		t.Fatalf("expected module with a persisted wiring to load RESOLVED, got %v", m.State)
	}
}

func TestOpenLeavesUnwiredModulesInstalled(t *testing.T) {
	c := newTestContainer(t)
	m := installResolvable(t, c, "loc-b")

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if m.State != types.StateInstalled {
		t.Fatalf("expected module with no persisted wiring to load INSTALLED, got %v", m.State)
	}
}

func TestCloseDrivesModulesToUninstalledAndInvalidatesWirings(t *testing.T) {
	c := newTestContainer(t)
	m := installResolvable(t, c, "loc-c")
	rev := m.CurrentRevision()
	wiring := types.NewModuleWiring(rev)
	c.DB.MergeWiring(db.WiringSnapshot{rev: wiring})
	m.State = types.StateActive

	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if m.State != types.StateUninstalled {
		t.Fatalf("expected Close to drive module to UNINSTALLED, got %v", m.State)
	}
	if !wiring.IsInvalidated() {
		t.Fatal("expected Close to invalidate the module's wiring")
	}
}

func TestCloseLeavesSystemModuleUntouched(t *testing.T) {
	c := newTestContainer(t)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sys := c.DB.GetModule(types.SystemModuleID)
	if sys.State == types.StateUninstalled {
		t.Fatal("Close must not uninstall the system module")
	}
}

func TestSetInitialModuleStatesSeedsFreshContainer(t *testing.T) {
	c := newTestContainer(t)
	m := installResolvable(t, c, "loc-d")
	rev := m.CurrentRevision()
	wiring := types.NewModuleWiring(rev)
	c.DB.MergeWiring(db.WiringSnapshot{rev: wiring})

	c.SetInitialModuleStates()

	if m.State != types.StateUninstalled {
		t.Fatalf("expected non-system module to start UNINSTALLED, got %v", m.State)
	}
	if !wiring.IsInvalidated() {
		t.Fatal("expected SetInitialModuleStates to invalidate any stale wiring")
	}
	sys := c.DB.GetModule(types.SystemModuleID)
	if sys.State != types.StateInstalled {
		t.Fatalf("expected system module to start INSTALLED, got %v", sys.State)
	}
}
