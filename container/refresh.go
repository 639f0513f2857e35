package container

import (
	"context"

	"github.com/projecteru2/core/log"
	"github.com/projecteru2/modwire/db"
	"github.com/projecteru2/modwire/types"
)

// Refresh implements spec §4.7: compute the refresh triggers via
// unresolve(initial), then, unless a system-module refresh swallowed the
// call, re-resolve those triggers as a best-effort, restarting batch.
func (c *Container) Refresh(ctx context.Context, initial []*types.Module) error {
	triggers, err := c.unresolve(ctx, initial)
	if err != nil {
		return err
	}
	if c.systemRefresh.IsSet() {
		return nil
	}
	return c.Resolve(ctx, triggers, false, true)
}

// unresolve loops unresolve0 until it reports a non-conflicting result. A
// legitimate "nothing to restart" result also carries a nil triggers slice,
// so the retry signal is its own explicit bool rather than overloading nil.
func (c *Container) unresolve(ctx context.Context, initial []*types.Module) ([]*types.Module, error) {
	for {
		triggers, handledAsync, conflict, err := c.unresolve0(ctx, initial)
		if err != nil {
			return nil, err
		}
		if handledAsync {
			return nil, nil
		}
		if !conflict {
			return triggers, nil
		}
		// timestamp conflict: recompute from a fresh snapshot and retry.
	}
}

type refreshWork struct {
	triggers         []*types.Module
	toRemoveWirings  []*types.ModuleRevision
	toRemoveWireList map[*types.ModuleRevision][]*types.ModuleWire
	toRemoveRevision []*types.ModuleRevision
}

// unresolve0 is one attempt at spec §4.7 steps 1-8. conflict=true signals a
// timestamp conflict the caller should retry from a fresh snapshot;
// handledAsync=true signals that a system-module refresh was spawned
// asynchronously instead. Neither triggers nor restartCandidates being nil
// carries any meaning on its own — a legitimate refresh with nothing to
// restart returns a nil slice with conflict=false.
func (c *Container) unresolve0(ctx context.Context, initial []*types.Module) (triggers []*types.Module, handledAsync, conflict bool, err error) {
	logger := log.WithFunc("container.unresolve0")

	c.DB.ReadLock()
	filteredInitial := c.checkSystemExtensionRefresh(initial)
	timestamp := c.DB.RevisionsTimestamp()
	wirings := c.DB.GetWiringsCloneLocked()
	work := c.planRefresh(filteredInitial, wirings)
	c.DB.ReadUnlock()

	if len(work.triggers) == 0 {
		return work.triggers, false, false, nil
	}

	systemInTriggers := false
	for _, m := range work.triggers {
		if m.IsSystemModule() && m.State.InActiveSet() {
			systemInTriggers = true
			break
		}
	}
	if systemInTriggers {
		c.refreshDispatcher.Open()
		c.refreshDispatcher.Submit(ctx, func(jobCtx context.Context) {
			if err := c.refreshSystemModule(jobCtx); err != nil {
				c.reportAsyncError(jobCtx, "container.refreshSystemModule", nil, err)
			}
		})
		return nil, true, false, nil
	}

	reversed := make([]*types.Module, len(work.triggers))
	for i, m := range work.triggers {
		reversed[len(work.triggers)-1-i] = m
	}

	lockedCtx, releaseAll := c.acquireUnresolvedLocks(ctx, reversed)
	if lockedCtx == nil {
		return nil, false, false, ctx.Err()
	}
	ctx = lockedCtx
	defer releaseAll()

	previousState := make(map[types.ModuleID]types.State, len(reversed))
	var restartCandidates []*types.Module
	for _, m := range reversed {
		previousState[m.ID] = m.State
		if m.State == types.StateActive {
			if err := c.Lifecycle.Stop(ctx, m, true); err != nil {
				c.reportAsyncError(ctx, "container.unresolve0", m, err)
			}
			restartCandidates = append(restartCandidates, m)
		}
	}

	for _, m := range work.triggers {
		if m.State.InActiveSet() {
			return nil, false, false, types.WithMessage(types.ErrIllegalState, "module remains active after refresh stop pass", nil)
		}
	}

	committed, err := c.commitRefresh(timestamp, work)
	if err != nil {
		return nil, false, false, err
	}
	if !committed {
		return nil, false, true, nil
	}

	var publish []*types.Module
	for _, m := range work.triggers {
		if m.State == types.StateResolved {
			m.State = types.StateInstalled
			publish = append(publish, m)
		}
	}
	for _, m := range publish {
		logger.Infof(ctx, "module %d unresolved", m.ID)
		c.publishModuleEvent(ctx, types.EventUnresolved, m, nil)
	}

	return restartCandidates, false, false, nil
}

// planRefresh computes the refresh closure and the three removal
// accumulators (spec §4.7 step 1), reading wirings only (no mutation).
// Assumes the caller already holds the database read lock.
func (c *Container) planRefresh(initial []*types.Module, wirings db.WiringSnapshot) refreshWork {
	var initialRevisions []*types.ModuleRevision
	if initial == nil {
		initialRevisions = c.DB.GetRemovalPendingLocked()
	} else {
		for _, m := range initial {
			if rev := m.CurrentRevision(); rev != nil {
				initialRevisions = append(initialRevisions, rev)
			}
		}
	}

	closure := refreshClosure(initialRevisions, wirings)

	work := refreshWork{toRemoveWireList: make(map[*types.ModuleRevision][]*types.ModuleWire)}
	seenModules := make(map[types.ModuleID]struct{})

	for rev := range closure {
		m := rev.Module()
		if m == nil {
			continue
		}
		if _, seen := seenModules[m.ID]; seen {
			continue
		}
		seenModules[m.ID] = struct{}{}
		if m.State == types.StateUninstalled {
			continue
		}
		work.triggers = append(work.triggers, m)

		if m.Revisions == nil {
			continue
		}
		for _, r := range m.Revisions.All() {
			if wiring, ok := wirings[r]; ok {
				work.toRemoveWirings = append(work.toRemoveWirings, r)
				for _, wire := range wiring.RequiredWires {
					if !wire.IsValid() || wire.ProviderRevision == nil {
						continue
					}
					work.toRemoveWireList[wire.ProviderRevision] = append(work.toRemoveWireList[wire.ProviderRevision], wire)
				}
			}
			if !r.IsCurrent() {
				work.toRemoveRevision = append(work.toRemoveRevision, r)
			}
		}
	}

	// Every revision of an already-uninstalled module is purged,
	// including its (former) current revision.
	for _, m := range c.DB.GetModulesLocked() {
		if m.State != types.StateUninstalled || m.Revisions == nil {
			continue
		}
		work.toRemoveRevision = append(work.toRemoveRevision, m.Revisions.All()...)
	}

	c.DB.SortLocked(work.triggers, db.BySortStartLevel, db.BySortDependency)
	return work
}

// commitRefresh performs spec §4.7 step 6 under the write lock.
func (c *Container) commitRefresh(timestamp uint64, work refreshWork) (bool, error) {
	c.DB.WriteLock()
	defer c.DB.WriteUnlock()

	if timestamp != c.DB.RevisionsTimestamp() {
		return false, nil
	}

	for provider, wires := range work.toRemoveWireList {
		wiring := c.DB.GetWiringLocked(provider)
		if wiring == nil {
			continue
		}
		dead := make(map[*types.ModuleWire]struct{}, len(wires))
		for _, w := range wires {
			dead[w] = struct{}{}
		}
		wiring.RemoveProvidedWires(dead)
	}

	for _, rev := range work.toRemoveRevision {
		c.DB.RemoveCapabilities(rev)
	}
	for _, rev := range work.toRemoveWirings {
		if wiring := c.DB.GetWiringLocked(rev); wiring != nil {
			wiring.Invalidate()
		}
		c.DB.RemoveWiring(rev)
	}

	return true, nil
}

// acquireUnresolvedLocks acquires the UNRESOLVED state-change lock on each
// module in order (callers pass the reverse-of-sorted order per spec §4.7
// step 3).
func (c *Container) acquireUnresolvedLocks(ctx context.Context, modules []*types.Module) (context.Context, func()) {
	var releases []func()
	for _, m := range modules {
		next, release, err := c.stateLocks.Acquire(ctx, m.ID, types.TxUnresolved)
		if err != nil {
			for i := len(releases) - 1; i >= 0; i-- {
				releases[i]()
			}
			return nil, nil
		}
		ctx = next
		releases = append(releases, release)
	}
	return ctx, func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}

// checkSystemExtensionRefresh implements spec §4.7: never unresolve the
// system module directly while it is active, and never unresolve a
// resolved fragment attached to the system module. Assumes the caller
// already holds the database read lock.
func (c *Container) checkSystemExtensionRefresh(initial []*types.Module) []*types.Module {
	if initial == nil {
		return nil
	}
	var out []*types.Module
	for _, m := range initial {
		if m.IsSystemModule() && m.State.InActiveSet() {
			continue
		}
		if m.State.InResolvedSet() {
			if rev := m.CurrentRevision(); rev != nil && rev.Fragment {
				if wiring := c.DB.GetWiringLocked(rev); wiring != nil {
					attachedToSystem := false
					for _, wire := range wiring.RequiredWires {
						if wire.Namespace == types.NamespaceHost && wire.IsValid() &&
							wire.ProviderRevision != nil && wire.ProviderRevision.Module() != nil &&
							wire.ProviderRevision.Module().IsSystemModule() {
							attachedToSystem = true
							break
						}
					}
					if attachedToSystem {
						continue
					}
				}
			}
		}
		out = append(out, m)
	}
	return out
}

// refreshClosure is the DFS closure described in spec §4.7: starting from
// initial, add every requirer of every provided wire of any revision
// reached, and for fragment revisions also add every host reached via a
// required host wire.
func refreshClosure(initial []*types.ModuleRevision, wirings db.WiringSnapshot) map[*types.ModuleRevision]struct{} {
	visited := make(map[*types.ModuleRevision]struct{}, len(initial))
	queue := make([]*types.ModuleRevision, 0, len(initial))
	for _, rev := range initial {
		if rev == nil {
			continue
		}
		if _, ok := visited[rev]; !ok {
			visited[rev] = struct{}{}
			queue = append(queue, rev)
		}
	}

	for len(queue) > 0 {
		rev := queue[0]
		queue = queue[1:]

		wiring := wirings[rev]
		if wiring == nil {
			continue
		}
		for _, wire := range wiring.ProvidedWires {
			if !wire.IsValid() || wire.RequirerRevision == nil {
				continue
			}
			if req := wire.RequirerRevision; req != nil {
				if _, ok := visited[req]; !ok {
					visited[req] = struct{}{}
					queue = append(queue, req)
				}
			}
		}
		if rev.Fragment {
			for _, wire := range wiring.RequiredWires {
				if wire.Namespace != types.NamespaceHost || !wire.IsValid() || wire.ProviderRevision == nil {
					continue
				}
				if host := wire.ProviderRevision; host != nil {
					if _, ok := visited[host]; !ok {
						visited[host] = struct{}{}
						queue = append(queue, host)
					}
				}
			}
		}
	}
	return visited
}

// refreshSystemModule runs off-thread so the caller (and the start-level
// worker) can return promptly (spec §9). It tracks exactly one in-flight
// system refresh via the guarded flag, refusing unrelated resolves while
// set.
func (c *Container) refreshSystemModule(ctx context.Context) error {
	if !c.systemRefresh.TrySet() {
		return nil
	}
	defer c.systemRefresh.Clear()

	system := c.DB.GetModule(types.SystemModuleID)
	if system == nil {
		return nil
	}
	return c.Refresh(ctx, []*types.Module{system})
}
