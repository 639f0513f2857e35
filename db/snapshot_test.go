package db

import (
	"testing"

	"github.com/projecteru2/modwire/types"
)

func installTestModule(t *testing.T, d *Database, location string, tmpl types.RevisionTemplate) *types.Module {
	t.Helper()
	m, err := d.Install(types.Location(location), types.RevisionBuilderFunc(func() (*types.RevisionTemplate, error) {
		return &tmpl, nil
	}), nil)
	if err != nil {
		t.Fatalf("install %s: %v", location, err)
	}
	return m
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	d := New()
	m := installTestModule(t, d, "loc-a", types.RevisionTemplate{
		SymbolicName:   "a.module",
		Version:        types.Version{Major: 1},
		Fragment:       false,
		LazyActivation: true,
	})
	d.SetStartLevel(m.ID, 3)

	if err := d.Update(m, types.RevisionBuilderFunc(func() (*types.RevisionTemplate, error) {
		return &types.RevisionTemplate{SymbolicName: "a.module", Version: types.Version{Major: 2}, LazyActivation: false}, nil
	}), nil); err != nil {
		t.Fatalf("update: %v", err)
	}

	snap := d.Snapshot()
	if len(snap.Modules) != 1 {
		t.Fatalf("expected 1 persisted module (system module excluded), got %d", len(snap.Modules))
	}
	if len(snap.Modules[0].Revisions) != 2 {
		t.Fatalf("expected 2 revisions (original + update), got %d", len(snap.Modules[0].Revisions))
	}

	restored := Restore(snap)

	restoredModule := restored.GetModule(m.ID)
	if restoredModule == nil {
		t.Fatalf("restored database missing module %d", m.ID)
	}
	if restored.GetStartLevel(m.ID) != 3 {
		t.Fatalf("expected restored start level 3, got %d", restored.GetStartLevel(m.ID))
	}

	current := restoredModule.CurrentRevision()
	if current == nil {
		t.Fatal("restored module has no current revision")
	}
	if current.Version.Major != 2 {
		t.Fatalf("expected current revision to be version 2, got %+v", current.Version)
	}
	if current.LazyActivation {
		t.Fatal("current (updated) revision should not be lazy")
	}

	all := restoredModule.Revisions.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 revisions after restore, got %d", len(all))
	}
	var sawLazyOriginal bool
	for _, rev := range all {
		if rev.Version.Major == 1 && rev.LazyActivation {
			sawLazyOriginal = true
		}
	}
	if !sawLazyOriginal {
		t.Fatal("expected the original version-1 revision to have round-tripped LazyActivation=true")
	}
}

func TestUpdateMarksPreviousRevisionRemovalPendingAndRoundTrips(t *testing.T) {
	d := New()
	m := installTestModule(t, d, "loc-b", types.RevisionTemplate{SymbolicName: "b.module", Version: types.Version{Major: 1}})
	original := m.CurrentRevision()

	if err := d.Update(m, types.RevisionBuilderFunc(func() (*types.RevisionTemplate, error) {
		return &types.RevisionTemplate{SymbolicName: "b.module", Version: types.Version{Major: 2}}, nil
	}), nil); err != nil {
		t.Fatalf("update: %v", err)
	}

	pending := d.GetRemovalPending()
	if len(pending) != 1 || pending[0] != original {
		t.Fatalf("expected the pre-update revision to be removal-pending, got %v", pending)
	}

	restored := Restore(d.Snapshot())
	restoredPending := restored.GetRemovalPending()
	if len(restoredPending) != 1 {
		t.Fatalf("expected removal-pending set to round-trip through Snapshot/Restore, got %d entries", len(restoredPending))
	}
	if restoredPending[0].Version.Major != 1 {
		t.Fatalf("expected the restored removal-pending revision to be version 1, got %+v", restoredPending[0].Version)
	}
}

func TestRestoreEmptySnapshotSeedsSystemModuleOnly(t *testing.T) {
	restored := Restore(DatabaseSnapshot{})
	modules := restored.GetModules()
	if len(modules) != 1 || !modules[0].IsSystemModule() {
		t.Fatalf("expected only the system module after restoring an empty snapshot, got %d modules", len(modules))
	}
}
