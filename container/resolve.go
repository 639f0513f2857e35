package container

import (
	"context"

	"github.com/projecteru2/core/log"
	"github.com/projecteru2/modwire/db"
	"github.com/projecteru2/modwire/types"
)

// Resolve implements the public `resolve` (spec §4.5): it loops
// resolveAndApply until it reports done, so a timestamp conflict drives an
// unbounded but deterministic retry rather than a single best-effort
// attempt; there is no retry cap.
func (c *Container) Resolve(ctx context.Context, triggers []*types.Module, triggersMandatory, restartTriggers bool) error {
	if c.systemRefresh.IsSet() {
		return types.WithMessage(types.ErrResolution, "system module refresh in progress", nil)
	}
	for {
		done, err := c.resolveAndApply(ctx, triggers, triggersMandatory, restartTriggers)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// resolveAndApply runs one optimistic attempt: Phase A (snapshot), Phase B
// (pure resolve), Phase C (validate-and-commit). It returns done=false on
// a timestamp conflict, asking the caller to retry.
func (c *Container) resolveAndApply(ctx context.Context, triggerModules []*types.Module, triggersMandatory, restartTriggers bool) (done bool, err error) {
	logger := log.WithFunc("container.resolveAndApply")
	c.Metrics.incAttempts()

	// Phase A.
	c.DB.ReadLock()
	timestamp := c.DB.RevisionsTimestamp()
	wiringsClone := c.DB.GetWiringsCloneLocked()
	var triggerRevisions []*types.ModuleRevision
	for _, m := range triggerModules {
		if m.State == types.StateUninstalled {
			continue
		}
		if rev := m.CurrentRevision(); rev != nil {
			triggerRevisions = append(triggerRevisions, rev)
		}
	}
	unresolved := c.DB.GetUnresolvedLocked()
	c.DB.ReadUnlock()

	// Phase B.
	delta, resolveErr := c.Resolver.ResolveDelta(triggerRevisions, triggersMandatory, unresolved, wiringsClone, c.DB)
	if resolveErr != nil {
		c.Metrics.incFailures()
		return false, types.WithCause(types.ErrResolution, resolveErr)
	}
	if len(delta) == 0 {
		return true, nil
	}

	var modulesResolved []*types.Module
	for rev, wiring := range delta {
		if _, alreadyWired := wiringsClone[rev]; alreadyWired {
			continue
		}
		_ = wiring
		if m := rev.Module(); m != nil {
			modulesResolved = append(modulesResolved, m)
		}
	}

	// Phase C: applyDelta.
	lockedCtx, releaseAll := c.acquireResolvedLocks(ctx, modulesResolved)
	if lockedCtx == nil {
		return false, ctx.Err()
	}
	ctx = lockedCtx

	c.DB.WriteLock()
	if timestamp != c.DB.RevisionsTimestamp() {
		c.DB.WriteUnlock()
		releaseAll()
		c.Metrics.incRetries()
		return false, nil
	}

	for rev, wiring := range delta {
		if existing := c.DB.GetWiringLocked(rev); existing != nil {
			mergeWiringInPlace(existing, wiring)
			delta[rev] = existing
		}
	}
	c.DB.MergeWiring(delta)
	c.DB.SortLocked(modulesResolved, db.BySortDependency, db.BySortStartLevel)
	c.DB.WriteUnlock()

	for _, m := range modulesResolved {
		m.State = types.StateResolved
	}
	releaseAll()

	for _, m := range modulesResolved {
		logger.Infof(ctx, "module %d resolved", m.ID)
		c.publishModuleEvent(ctx, types.EventResolved, m, nil)
	}

	if restartTriggers {
		for _, m := range triggerModules {
			if m.ID == types.SystemModuleID || !m.State.InResolvedSet() {
				continue
			}
			if err := c.Lifecycle.Start(ctx, m, true, true); err != nil {
				c.reportAsyncError(ctx, "container.resolveAndApply", m, err)
			}
		}
	}

	if c.Config.AutoStartResolved {
		triggerSet := make(map[types.ModuleID]struct{}, len(triggerModules))
		for _, m := range triggerModules {
			triggerSet[m.ID] = struct{}{}
		}
		for _, m := range modulesResolved {
			if m.ID == types.SystemModuleID {
				continue
			}
			if _, wasTrigger := triggerSet[m.ID]; wasTrigger && restartTriggers {
				continue
			}
			if Holds(ctx, m.ID, types.TxStarted) {
				continue
			}
			if err := c.Lifecycle.Start(ctx, m, true, true); err != nil {
				c.reportAsyncError(ctx, "container.resolveAndApply", m, err)
			}
		}
	}

	return true, nil
}

// acquireResolvedLocks acquires the RESOLVED state-change lock on every
// module in modules, in iteration order (spec §4.5 Phase C step 1). On
// context cancellation it releases whatever it had acquired and returns
// nil, nil.
func (c *Container) acquireResolvedLocks(ctx context.Context, modules []*types.Module) (context.Context, func()) {
	var releases []func()
	for _, m := range modules {
		next, release, err := c.stateLocks.Acquire(ctx, m.ID, types.TxResolved)
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

// mergeWiringInPlace mutates existing to carry computed's content (spec
// §4.5 Phase C step 3: "mutate it in place"). Both must be held under the
// database write lock by the caller.
func mergeWiringInPlace(existing, computed *types.ModuleWiring) {
	existing.Capabilities = computed.Capabilities
	existing.Requirements = computed.Requirements
	existing.RequiredWires = computed.RequiredWires
	existing.ProvidedWires = computed.ProvidedWires
}

// ResolveDynamic implements spec §4.6.
func (c *Container) ResolveDynamic(ctx context.Context, packageName string, revision *types.ModuleRevision) (*types.ModuleWire, error) {
	if revision.Fragment {
		return nil, nil
	}
	if !revision.IsCurrent() {
		return nil, nil
	}

	c.DB.ReadLock()
	wiring := c.DB.GetWiringLocked(revision)
	c.DB.ReadUnlock()
	if wiring == nil {
		return nil, nil
	}

	var candidates []*types.Requirement
	for i := range wiring.Requirements {
		if proj := wiring.Requirements[i].DynamicProjection(packageName); proj != nil {
			candidates = append(candidates, proj)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	for {
		c.DB.ReadLock()
		timestamp := c.DB.RevisionsTimestamp()
		wiringsClone := c.DB.GetWiringsCloneLocked()
		unresolved := c.DB.GetUnresolvedLocked()
		c.DB.ReadUnlock()

		var chosen *types.ModuleWiring
		for _, req := range candidates {
			delta, err := c.Resolver.ResolveDynamicDelta(revision, req, unresolved, wiringsClone, c.DB)
			if err != nil {
				return nil, types.WithCause(types.ErrResolution, err)
			}
			if w, ok := delta[revision]; ok && w != nil {
				chosen = w
				break
			}
		}
		if chosen == nil {
			return nil, nil
		}

		tail := chosen.RequiredWires[len(chosen.RequiredWires)-1]
		if tail.Namespace != types.NamespacePackage || tail.Capability == nil {
			return nil, types.WithMessage(types.ErrResolution, "dynamic resolve produced an inconsistent wire", nil)
		}
		if got, _ := tail.Capability.Attributes["package"].(string); got != packageName {
			return nil, types.WithMessage(types.ErrResolution, "dynamic resolve produced a wire for the wrong package", nil)
		}

		done, err := c.applyDynamicDelta(ctx, timestamp, revision, chosen)
		if err != nil {
			return nil, err
		}
		if done {
			return tail, nil
		}
	}
}

func (c *Container) applyDynamicDelta(ctx context.Context, timestamp uint64, revision *types.ModuleRevision, computed *types.ModuleWiring) (bool, error) {
	c.DB.WriteLock()
	defer c.DB.WriteUnlock()

	if timestamp != c.DB.RevisionsTimestamp() {
		return false, nil
	}
	existing := c.DB.GetWiringLocked(revision)
	if existing == nil {
		return false, types.WithMessage(types.ErrResolution, "revision lost its wiring during dynamic resolve", nil)
	}
	mergeWiringInPlace(existing, computed)
	c.DB.MergeWiring(db.WiringSnapshot{revision: existing})
	return true, nil
}
