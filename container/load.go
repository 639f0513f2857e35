package container

import (
	"context"

	"github.com/projecteru2/core/log"
	"github.com/projecteru2/modwire/types"
)

// Open implements spec §4.10 `open`: under the database read lock, bring
// every module's in-memory state in line with whatever wiring persisted
// (RESOLVED if a wiring exists, INSTALLED otherwise), then sanity-check
// that every such wiring is still live. Must run exactly once, before any
// Resolve/Refresh call is made against this Container.
func (c *Container) Open(ctx context.Context) error {
	logger := log.WithFunc("container.Open")

	c.DB.ReadLock()
	modules := c.DB.GetModulesLocked()
	c.DB.ReadUnlock()

	var releases []func()
	for _, m := range modules {
		_, release, err := c.stateLocks.Acquire(ctx, m.ID, types.TxResolved)
		if err != nil {
			for i := len(releases) - 1; i >= 0; i-- {
				releases[i]()
			}
			return err
		}
		releases = append(releases, release)
	}
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()

	c.DB.ReadLock()
	defer c.DB.ReadUnlock()

	for _, m := range modules {
		rev := m.CurrentRevision()
		wiring := func() *types.ModuleWiring {
			if rev == nil {
				return nil
			}
			return c.DB.GetWiringLocked(rev)
		}()
		if wiring != nil {
			m.State = types.StateResolved
			if wiring.IsInvalidated() {
				logger.Errorf(ctx, nil, "module %d loaded with an already-invalidated wiring", m.ID)
			}
		} else {
			m.State = types.StateInstalled
		}
	}
	c.Metrics.setActiveModules(countActive(modules))
	return nil
}

func countActive(modules []*types.Module) int {
	n := 0
	for _, m := range modules {
		if m.State == types.StateActive {
			n++
		}
	}
	return n
}

// Close implements spec §4.10 `close`: every non-system module is driven to
// UNINSTALLED in memory and every wiring it holds is invalidated. It does
// not touch the database's persisted module/revision records — only the
// in-memory state a subsequent process load will rebuild from Open.
func (c *Container) Close(ctx context.Context) error {
	c.DB.ReadLock()
	modules := c.DB.GetModulesLocked()
	c.DB.ReadUnlock()

	var releases []func()
	for _, m := range modules {
		if m.IsSystemModule() {
			continue
		}
		_, release, err := c.stateLocks.Acquire(ctx, m.ID, types.TxUninstalled)
		if err != nil {
			for i := len(releases) - 1; i >= 0; i-- {
				releases[i]()
			}
			return err
		}
		releases = append(releases, release)
	}
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()

	c.DB.WriteLock()
	defer c.DB.WriteUnlock()

	for _, m := range modules {
		if m.IsSystemModule() {
			continue
		}
		m.State = types.StateUninstalled
		for _, rev := range m.Revisions.All() {
			if wiring := c.DB.GetWiringLocked(rev); wiring != nil {
				wiring.Invalidate()
			}
		}
	}
	return nil
}

// SetInitialModuleStates implements spec §4.10 `setInitialModuleStates`,
// the state a brand-new (never-persisted) container starts from: the
// system module INSTALLED, every other module UNINSTALLED, every wiring
// invalidated. Like Open/Close, runs exactly once and is never concurrent
// with Resolve/Refresh.
func (c *Container) SetInitialModuleStates() {
	c.DB.WriteLock()
	defer c.DB.WriteUnlock()

	for _, m := range c.DB.GetModulesLocked() {
		for _, rev := range m.Revisions.All() {
			if wiring := c.DB.GetWiringLocked(rev); wiring != nil {
				wiring.Invalidate()
			}
		}
		if m.IsSystemModule() {
			m.State = types.StateInstalled
			continue
		}
		m.State = types.StateUninstalled
	}
}
