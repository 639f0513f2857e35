package container

import (
	"context"

	"github.com/projecteru2/core/log"
	"github.com/projecteru2/modwire/config"
	"github.com/projecteru2/modwire/db"
	"github.com/projecteru2/modwire/events"
	"github.com/projecteru2/modwire/lockset"
	"github.com/projecteru2/modwire/resolver"
	"github.com/projecteru2/modwire/types"
)

// CollisionMode identifies why the collision hook is being consulted
// (spec §6: "filterCollisions(mode ∈ {INSTALLING, UPDATING}, ...)").
type CollisionMode int

const (
	CollisionInstalling CollisionMode = iota
	CollisionUpdating
)

// CollisionHook is untrusted external policy that may filter candidate
// modules in place; it is called outside the database read lock (spec §9)
// since it may block arbitrarily.
type CollisionHook func(mode CollisionMode, target *types.Module, origin *types.Module, candidates []*types.Module) []*types.Module

// VisibilityCheck reports whether target is visible to origin's bundle
// context — consulted on install when a module already occupies the
// requested location (spec §4.2 step 3).
type VisibilityCheck func(origin, target *types.Module) bool

// Lifecycle is the per-module lifecycle collaborator (classloader /
// activator / actual start-stop), out of scope per spec §1 and treated
// here purely as an external interface the engines call through.
type Lifecycle interface {
	Start(ctx context.Context, module *types.Module, transient, resumeOnly bool) error
	Stop(ctx context.Context, module *types.Module, transient bool) error
}

// NopLifecycle is a Lifecycle that does nothing, useful for driving the
// engines in isolation (tests, a bare resolve/refresh-only deployment).
type NopLifecycle struct{}

func (NopLifecycle) Start(context.Context, *types.Module, bool, bool) error { return nil }
func (NopLifecycle) Stop(context.Context, *types.Module, bool) error        { return nil }

// Container wires every collaborator spec §2 lists: the database, the
// resolver, the event bus (the Adaptor's publish half), the lifecycle
// collaborator, per-location/name admission locks, per-module
// state-change locks, and configuration.
type Container struct {
	DB         *db.Database
	Resolver   resolver.Resolver
	Events     *events.Bus
	Lifecycle  Lifecycle
	Config     *config.Config
	Collision  CollisionHook
	Visibility VisibilityCheck

	// Metrics is optional Prometheus instrumentation (spec §6); nil disables
	// it entirely. Set directly after New, before Open, if desired.
	Metrics *Metrics

	locationLocks *lockset.LockSet
	nameLocks     *lockset.LockSet
	stateLocks    *StateLocks

	refreshDispatcher    *dispatcher
	startLevelDispatcher *dispatcher

	systemRefresh systemRefreshFlag

	StartLevel *StartLevelEngine
}

// New creates a Container. lifecycle may be NopLifecycle{} for engines
// driven without a real component runtime underneath; collision and
// visibility may be nil, in which case no candidate is ever rejected.
func New(database *db.Database, res resolver.Resolver, bus *events.Bus, lifecycle Lifecycle, cfg *config.Config) *Container {
	if lifecycle == nil {
		lifecycle = NopLifecycle{}
	}
	c := &Container{
		DB:                   database,
		Resolver:             res,
		Events:               bus,
		Lifecycle:            lifecycle,
		Config:               cfg,
		locationLocks:        lockset.New(),
		nameLocks:            lockset.New(),
		stateLocks:           NewStateLocks(),
		refreshDispatcher:    newDispatcher(),
		startLevelDispatcher: newDispatcher(),
	}
	c.StartLevel = newStartLevelEngine(c)
	return c
}

func (c *Container) publishModuleEvent(ctx context.Context, kind types.ModuleEventKind, module, origin *types.Module) {
	c.Events.PublishModule(ctx, types.ModuleEvent{Kind: kind, Module: module, Origin: origin})
}

func (c *Container) publishContainerEvent(ctx context.Context, kind types.ContainerEventKind, module *types.Module, err error) {
	c.Events.PublishContainer(ctx, types.ContainerEvent{Kind: kind, Module: module, Err: err})
}

func (c *Container) reportAsyncError(ctx context.Context, fn string, module *types.Module, err error) {
	if err == nil {
		return
	}
	log.WithFunc(fn).Errorf(ctx, err, "async lifecycle operation failed")
	c.publishContainerEvent(ctx, types.ContainerEventError, module, err)
}
