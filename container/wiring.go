package container

import (
	"context"

	"github.com/projecteru2/modwire/db"
	"github.com/projecteru2/modwire/types"
)

// RefreshListener receives the terminal container event of a refreshBundles
// call — REFRESH on success, ERROR (emitted first) followed by REFRESH on a
// resolution failure (spec §4.9: "on completion emits a REFRESH container
// event ... even if the refresh raised").
type RefreshListener func(types.ContainerEvent)

// RefreshBundles translates bundles (nil seeds the refresh from the
// removal-pending set, as Refresh(ctx, nil) does) and
// queues a single refresh job on the refresh dispatcher. It returns once
// the job is queued, not once it completes; listeners are invoked from the
// dispatcher goroutine when it finishes.
func (c *Container) RefreshBundles(ctx context.Context, bundles []*types.Module, listeners ...RefreshListener) {
	c.refreshDispatcher.Open()
	c.refreshDispatcher.Submit(ctx, func(jobCtx context.Context) {
		err := c.Refresh(jobCtx, bundles)
		if err != nil {
			c.publishContainerEvent(jobCtx, types.ContainerEventError, nil, err)
		}
		event := types.ContainerEvent{Kind: types.ContainerEventRefresh, Err: err}
		c.publishContainerEvent(jobCtx, event.Kind, event.Module, event.Err)
		for _, l := range listeners {
			l(event)
		}
	})
}

// ResolveBundles calls Resolve(modules, false) and reports whether every
// module in the set has a wiring afterward (spec §4.9). bundles == nil
// resolves every installed module.
func (c *Container) ResolveBundles(ctx context.Context, bundles []*types.Module) bool {
	modules := bundles
	if modules == nil {
		modules = c.DB.GetModules()
	}
	if err := c.Resolve(ctx, modules, false, false); err != nil {
		return false
	}

	c.DB.ReadLock()
	defer c.DB.ReadUnlock()
	for _, m := range modules {
		rev := m.CurrentRevision()
		if rev == nil || c.DB.GetWiringLocked(rev) == nil {
			return false
		}
	}
	return true
}

// GetRemovalPendingBundles is a pure query returning a snapshot of the
// revisions awaiting removal, taken under the database read lock.
func (c *Container) GetRemovalPendingBundles() []*types.ModuleRevision {
	c.DB.ReadLock()
	defer c.DB.ReadUnlock()
	return c.DB.GetRemovalPendingLocked()
}

// GetDependencyClosure returns the refresh closure (spec §4.7) that
// refreshing bundles would reach, as a pure read-only query.
func (c *Container) GetDependencyClosure(bundles []*types.Module) []*types.Module {
	c.DB.ReadLock()
	defer c.DB.ReadUnlock()

	var initialRevisions []*types.ModuleRevision
	for _, m := range bundles {
		if rev := m.CurrentRevision(); rev != nil {
			initialRevisions = append(initialRevisions, rev)
		}
	}
	wirings := c.DB.GetWiringsCloneLocked()
	closure := refreshClosure(initialRevisions, wirings)

	seen := make(map[types.ModuleID]struct{}, len(closure))
	var out []*types.Module
	for rev := range closure {
		m := rev.Module()
		if m == nil {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	c.DB.SortLocked(out, db.BySortDependency, db.BySortStartLevel)
	return out
}
