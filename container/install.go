package container

import (
	"context"

	"github.com/google/uuid"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/modwire/types"
)

// NamedRevisionBuilder is an optional capability a RevisionBuilder may
// implement to declare its symbolic name before Build is called, letting
// Install take the name lock up front (spec §4.2 step 1: "if the builder
// carries a non-null name"). Builders that cannot declare a name ahead of
// time (most RevisionBuilderFunc values) simply don't implement it, and
// Install skips the name lock — the location lock alone still serializes
// concurrent installers of the same identity in the common case where
// each identity lives at one location.
type NamedRevisionBuilder interface {
	types.RevisionBuilder
	Name() types.SymbolicName
}

// Install implements spec §4.2. origin may be nil for a caller with no
// bundle context of its own (the framework itself, a CLI).
func (c *Container) Install(ctx context.Context, location types.Location, origin *types.Module, builder types.RevisionBuilder, revisionInfo any) (*types.Module, error) {
	txID := uuid.NewString()
	logger := log.WithFunc("container.Install")

	ok, err := c.locationLocks.TryLock(ctx, string(location), c.Config.LocationLockTimeout)
	if err != nil {
		return nil, types.WithCause(types.ErrStateChange, err)
	}
	if !ok {
		return nil, types.WithMessage(types.ErrStateChange, "timed out acquiring location lock", nil)
	}
	defer c.locationLocks.Unlock(string(location))

	if named, isNamed := builder.(NamedRevisionBuilder); isNamed {
		if name := named.Name(); name != "" {
			ok, err := c.nameLocks.TryLock(ctx, string(name), c.Config.LocationLockTimeout)
			if err != nil {
				return nil, types.WithCause(types.ErrStateChange, err)
			}
			if !ok {
				return nil, types.WithMessage(types.ErrStateChange, "timed out acquiring name lock", nil)
			}
			defer c.nameLocks.Unlock(string(name))
		}
	}

	c.DB.ReadLock()
	existing := c.DB.GetModuleByLocationLocked(location)
	if existing != nil {
		c.DB.ReadUnlock()
		if origin != nil && c.Visibility != nil && !c.Visibility(origin, existing) {
			return nil, types.WithMessage(types.ErrRejectedByHook, "existing module not visible to origin", nil)
		}
		return existing, nil
	}

	tmpl, buildErr := builder.Build()
	if buildErr != nil {
		c.DB.ReadUnlock()
		return nil, types.WithCause(types.ErrStateChange, buildErr)
	}
	candidates := c.collisionCandidatesLocked(tmpl.SymbolicName, tmpl.Version, nil)
	c.DB.ReadUnlock()

	if origin != nil && len(candidates) > 0 && c.Collision != nil {
		survivors := c.Collision(CollisionInstalling, nil, origin, candidates)
		if len(survivors) > 0 {
			return nil, types.WithMessage(types.ErrDuplicateBundle, "colliding module(s) already installed", nil)
		}
	}

	literal := literalBuilder(tmpl)
	module, err := c.DB.Install(location, literal, revisionInfo)
	if err != nil {
		return nil, types.WithCause(types.ErrStateChange, err)
	}

	logger.Infof(ctx, "installed module %d at %s (tx %s)", module.ID, location, txID)
	c.publishModuleEvent(ctx, types.EventInstalled, module, origin)
	return module, nil
}

// collisionCandidates returns the current modules (excluding exclude)
// whose current revision shares (name, version) with the given pair. For a
// caller holding no database lock.
func (c *Container) collisionCandidates(name types.SymbolicName, version types.Version, exclude *types.Module) []*types.Module {
	return collisionCandidatesFrom(c.DB.GetRevisions(name, &version), exclude)
}

// collisionCandidatesLocked is collisionCandidates for a caller that
// already holds the database read lock.
func (c *Container) collisionCandidatesLocked(name types.SymbolicName, version types.Version, exclude *types.Module) []*types.Module {
	return collisionCandidatesFrom(c.DB.GetRevisionsLocked(name, &version), exclude)
}

func collisionCandidatesFrom(revisions []*types.ModuleRevision, exclude *types.Module) []*types.Module {
	var out []*types.Module
	for _, rev := range revisions {
		m := rev.Module()
		if m == nil || m == exclude {
			continue
		}
		out = append(out, m)
	}
	return out
}

func literalBuilder(tmpl *types.RevisionTemplate) types.RevisionBuilder {
	return types.RevisionBuilderFunc(func() (*types.RevisionTemplate, error) { return tmpl, nil })
}

// Update implements spec §4.3. Requires ADMIN.LIFECYCLE permission —
// permission enforcement is left to the caller (an external concern per
// spec §1); Update itself performs no permission check and never returns
// a PermissionError.
func (c *Container) Update(ctx context.Context, module *types.Module, builder types.RevisionBuilder, revisionInfo any) error {
	txID := uuid.NewString()
	logger := log.WithFunc("container.Update")

	name := module.SymbolicName()
	ok, err := c.nameLocks.TryLock(ctx, string(name), c.Config.LocationLockTimeout)
	if err != nil {
		return types.WithCause(types.ErrStateChange, err)
	}
	if !ok {
		return types.WithMessage(types.ErrStateChange, "timed out acquiring name lock", nil)
	}
	defer c.nameLocks.Unlock(string(name))

	ctx, release, err := c.stateLocks.Acquire(ctx, module.ID, types.TxUpdated)
	if err != nil {
		return err
	}
	defer release()

	if module.State == types.StateUninstalled {
		return types.WithMessage(types.ErrIllegalState, "module is uninstalled", nil)
	}
	previousState := module.State

	if previousState.InActiveSet() {
		if err := c.Lifecycle.Stop(ctx, module, true); err != nil {
			c.reportAsyncError(ctx, "container.Update", module, err)
		}
	}
	if previousState.InResolvedSet() {
		module.State = types.StateInstalled
		c.publishModuleEvent(ctx, types.EventUnresolved, module, nil)
	}

	tmpl, buildErr := builder.Build()
	if buildErr != nil {
		return types.WithCause(types.ErrStateChange, buildErr)
	}
	candidates := c.collisionCandidates(tmpl.SymbolicName, tmpl.Version, module)
	if len(candidates) > 0 && c.Collision != nil {
		survivors := c.Collision(CollisionUpdating, module, module, candidates)
		if len(survivors) > 0 {
			return types.WithMessage(types.ErrDuplicateBundle, "colliding module(s) already installed", nil)
		}
	}

	if err := c.DB.Update(module, literalBuilder(tmpl), revisionInfo); err != nil {
		return types.WithCause(types.ErrStateChange, err)
	}
	logger.Infof(ctx, "updated module %d (tx %s)", module.ID, txID)
	c.publishModuleEvent(ctx, types.EventUpdated, module, nil)

	if previousState.InActiveSet() {
		if err := c.Lifecycle.Start(ctx, module, true, true); err != nil {
			c.reportAsyncError(ctx, "container.Update", module, err)
		}
	}
	return nil
}

// Uninstall implements spec §4.4.
func (c *Container) Uninstall(ctx context.Context, module *types.Module) error {
	logger := log.WithFunc("container.Uninstall")

	ctx, release, err := c.stateLocks.Acquire(ctx, module.ID, types.TxUninstalled)
	if err != nil {
		return err
	}
	defer release()

	if module.State.InActiveSet() {
		if err := c.Lifecycle.Stop(ctx, module, true); err != nil {
			c.reportAsyncError(ctx, "container.Uninstall", module, err)
		}
	}
	if module.State.InResolvedSet() {
		module.State = types.StateInstalled
		c.publishModuleEvent(ctx, types.EventUnresolved, module, nil)
	}

	if err := c.DB.Uninstall(module); err != nil {
		return types.WithCause(types.ErrStateChange, err)
	}
	module.State = types.StateUninstalled
	logger.Infof(ctx, "uninstalled module %d", module.ID)
	c.publishModuleEvent(ctx, types.EventUninstalled, module, nil)
	return nil
}
