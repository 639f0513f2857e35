package container

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/projecteru2/core/log"
	"golang.org/x/sync/errgroup"

	"github.com/projecteru2/modwire/db"
	"github.com/projecteru2/modwire/types"
)

// UseBeginningStartLevel asks SetFrameworkStartLevel to read its target
// from the "framework.beginning.startlevel" configuration property instead
// of a caller-supplied value (spec §4.8).
const UseBeginningStartLevel = -1

// StartLevelEngine ramps the framework's active start level and carries out
// individual module start-level changes. Both kinds of job share one
// single-consumer dispatcher, so at most one such job runs at a time.
type StartLevelEngine struct {
	c *Container

	activeStartLevel atomic.Int32
	rampMu           sync.Mutex

	dispatcher *dispatcher
}

// newStartLevelEngine wires up e against its owning Container. It reuses
// c.startLevelDispatcher rather than allocating its own, so Container.New
// remains the single place that creates dispatchers.
func newStartLevelEngine(c *Container) *StartLevelEngine {
	return &StartLevelEngine{c: c, dispatcher: c.startLevelDispatcher}
}

// Open starts accepting start-level jobs.
func (e *StartLevelEngine) Open() { e.dispatcher.Open() }

// Close stops the engine's dispatcher from accepting further jobs.
func (e *StartLevelEngine) Close() { e.dispatcher.Close() }

// ActiveStartLevel returns the current ramped level (0 before the first
// SetFrameworkStartLevel call).
func (e *StartLevelEngine) ActiveStartLevel() int { return int(e.activeStartLevel.Load()) }

// SetModuleStartLevel implements spec §4.8 `setStartLevel(module, sl)`:
// rejects the system module and non-positive levels, no-ops when
// unchanged, and otherwise persists the level and queues a
// MODULE_STARTLEVEL job.
func (e *StartLevelEngine) SetModuleStartLevel(ctx context.Context, module *types.Module, sl int) error {
	if module.IsSystemModule() {
		return types.WithMessage(types.ErrIllegalState, "cannot set start level on the system module", nil)
	}
	if sl < 1 {
		return types.WithMessage(types.ErrIllegalState, "start level must be >= 1", nil)
	}
	if e.c.DB.GetStartLevel(module.ID) == sl {
		return nil
	}
	e.c.DB.SetStartLevel(module.ID, sl)
	e.dispatcher.Open()
	e.dispatcher.Submit(ctx, func(jobCtx context.Context) {
		e.moduleStartLevel(jobCtx, module, sl)
	})
	return nil
}

// SetFrameworkStartLevel implements spec §4.8 `setStartLevel(sl, …)`:
// rejects sl<1, then queues a FRAMEWORK_STARTLEVEL job. No check is made
// that the framework was activated first; a ramp from the initial level 0
// is accepted. target may be UseBeginningStartLevel to defer
// to the "framework.beginning.startlevel" configuration property.
func (e *StartLevelEngine) SetFrameworkStartLevel(ctx context.Context, target int) error {
	if target == UseBeginningStartLevel {
		target = 1
		if v, ok := e.c.Config.GetProperty("framework.beginning.startlevel"); ok {
			if n, err := parsePositiveInt(v); err == nil {
				target = n
			}
		}
	}
	if target < 1 {
		return types.WithMessage(types.ErrIllegalState, "framework start level must be >= 1", nil)
	}
	e.dispatcher.Open()
	e.dispatcher.Submit(ctx, func(jobCtx context.Context) {
		e.frameworkStartLevel(jobCtx, target)
	})
	return nil
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, types.WithMessage(types.ErrIllegalState, "empty start level property", nil)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, types.WithMessage(types.ErrIllegalState, "non-numeric start level property", nil)
		}
		n = n*10 + int(r-'0')
	}
	if n < 1 {
		return 0, types.WithMessage(types.ErrIllegalState, "start level property must be >= 1", nil)
	}
	return n, nil
}

// moduleStartLevel implements spec §4.8 MODULE_STARTLEVEL(newLevel): if the
// ramp has already passed newLevel and the module is active, stop it
// transiently; otherwise attempt a transient, resume-only start. It never
// mutates activeStartLevel.
func (e *StartLevelEngine) moduleStartLevel(ctx context.Context, module *types.Module, newLevel int) {
	logger := log.WithFunc("container.StartLevelEngine.moduleStartLevel")
	active := int(e.activeStartLevel.Load())

	if active < newLevel {
		if module.State == types.StateActive {
			if err := e.c.Lifecycle.Stop(ctx, module, true); err != nil {
				e.c.reportAsyncError(ctx, "container.StartLevelEngine.moduleStartLevel", module, err)
			}
		}
		return
	}
	logger.Infof(ctx, "module %d reaching start level %d", module.ID, newLevel)
	if err := e.c.Lifecycle.Start(ctx, module, true, true); err != nil {
		e.c.reportAsyncError(ctx, "container.StartLevelEngine.moduleStartLevel", module, err)
	}
}

// frameworkStartLevel implements spec §4.8 FRAMEWORK_STARTLEVEL(target):
// a unit-step ramp, lazy modules first on the way up, reverse-dependency
// order on the way down, aborting immediately if a system-module refresh
// begins.
func (e *StartLevelEngine) frameworkStartLevel(ctx context.Context, target int) {
	logger := log.WithFunc("container.StartLevelEngine.frameworkStartLevel")
	e.rampMu.Lock()
	defer e.rampMu.Unlock()

	current := int(e.activeStartLevel.Load())
	for current < target {
		if e.c.systemRefresh.IsSet() {
			return
		}
		current++
		e.rampUp(ctx, current)
		e.activeStartLevel.Store(int32(current))
	}
	for current > target {
		if e.c.systemRefresh.IsSet() {
			return
		}
		e.rampDown(ctx, current)
		current--
		e.activeStartLevel.Store(int32(current))
	}

	e.c.DB.ReadLock()
	e.c.Metrics.setActiveModules(countActive(e.c.DB.GetModulesLocked()))
	e.c.DB.ReadUnlock()

	logger.Infof(ctx, "framework start level now %d", target)
	e.c.publishContainerEvent(ctx, types.ContainerEventStartLevel, nil, nil)
}

// rampUp starts every module whose start level equals level: lazy-activation
// modules first, then the rest, both passes in BY_START_LEVEL order. The
// scan stops as soon as a module with a higher start level is seen.
func (e *StartLevelEngine) rampUp(ctx context.Context, level int) {
	modules := e.c.DB.GetSortedModules(db.BySortStartLevel)
	e.startPass(ctx, modules, level, true)
	e.startPass(ctx, modules, level, false)
}

// startPass starts every eligible module at exactly this level concurrently
// — modules sharing one start level are, by construction, not depended on
// by each other at that level (BY_DEPENDENCY only orders across levels via
// the combined sort used elsewhere), so a bounded fan-out here is safe and
// lets a slow activator not stall its same-level siblings.
func (e *StartLevelEngine) startPass(ctx context.Context, modules []*types.Module, level int, lazyOnly bool) {
	var batch []*types.Module
	for _, m := range modules {
		if m.IsSystemModule() {
			continue
		}
		sl := e.c.DB.GetStartLevel(m.ID)
		if sl < level {
			continue
		}
		if sl > level {
			break
		}
		if lazyOnly != m.IsLazyActivation() {
			continue
		}
		batch = append(batch, m)
	}
	if len(batch) == 0 {
		return
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, e.c.Config.PoolSize))
	for _, m := range batch {
		group.Go(func() error {
			if err := e.c.Lifecycle.Start(groupCtx, m, false, false); err != nil {
				e.c.reportAsyncError(ctx, "container.StartLevelEngine.rampUp", m, err)
			}
			return nil
		})
	}
	_ = group.Wait()
}

// rampDown stops, transiently, every active-set module whose start level is
// level, walking modules in reverse (BY_START_LEVEL, BY_DEPENDENCY) order so
// dependents stop before their dependencies.
func (e *StartLevelEngine) rampDown(ctx context.Context, level int) {
	modules := e.c.DB.GetSortedModules(db.BySortStartLevel, db.BySortDependency)
	for i := len(modules) - 1; i >= 0; i-- {
		m := modules[i]
		if m.IsSystemModule() {
			continue
		}
		if e.c.DB.GetStartLevel(m.ID) != level {
			continue
		}
		if !m.State.InActiveSet() {
			continue
		}
		if err := e.c.Lifecycle.Stop(ctx, m, true); err != nil {
			e.c.reportAsyncError(ctx, "container.StartLevelEngine.rampDown", m, err)
		}
	}
}
