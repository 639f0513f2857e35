// Package core holds shared helpers for every cmd subcommand package,
// mirroring the teacher's cmd/core layout (config access, context
// plumbing, backend/engine bootstrap).
package core

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/projecteru2/modwire/config"
	"github.com/projecteru2/modwire/container"
	"github.com/projecteru2/modwire/db"
	"github.com/projecteru2/modwire/events"
	"github.com/projecteru2/modwire/resolver"
	"github.com/projecteru2/modwire/resolver/naive"
	storagejson "github.com/projecteru2/modwire/storage/json"
	"github.com/projecteru2/modwire/types"
)

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// snapshotStore is the persisted database's JSON-backed home, a
// flock-protected file under conf.RootDir the same way the teacher's
// hypervisor index is persisted.
func snapshotStore(conf *config.Config) *storagejson.Store[db.DatabaseSnapshot] {
	return storagejson.New[db.DatabaseSnapshot](conf.SnapshotLockFile(), conf.SnapshotFile())
}

// OpenContainer loads the persisted module database (or a fresh one), wires
// a Container around it with the naive resolver and a no-op lifecycle (the
// CLI has no component runtime underneath; it only exercises
// install/update/uninstall/resolve/refresh/start-level bookkeeping), and
// runs Container.Open to reconcile in-memory state with the loaded
// wirings. Close must be called exactly once, even on error paths after a
// successful OpenContainer, to persist any changes back to disk.
func OpenContainer(ctx context.Context, conf *config.Config) (*container.Container, func() error, error) {
	store := snapshotStore(conf)

	var snap db.DatabaseSnapshot
	if err := store.With(ctx, func(s *db.DatabaseSnapshot) error {
		snap = *s
		return nil
	}); err != nil {
		return nil, nil, fmt.Errorf("load database snapshot: %w", err)
	}

	database := db.Restore(snap)
	if len(snap.Modules) == 0 {
		database.SetInitialModuleStartLevel(conf.BeginningStartLevel)
	}

	bus := newContainerEventLogger(ctx)
	c := container.New(database, DefaultResolver(), bus, container.NopLifecycle{}, conf)

	if err := c.Open(ctx); err != nil {
		return nil, nil, fmt.Errorf("open container: %w", err)
	}
	c.StartLevel.Open()

	closeFn := func() error {
		c.StartLevel.Close()
		newSnap := database.Snapshot()
		return store.Update(ctx, func(s *db.DatabaseSnapshot) error {
			*s = newSnap
			return nil
		})
	}
	return c, closeFn, nil
}

// DefaultResolver returns the reference resolver.Resolver implementation
// (SPEC_FULL §4.12) used by every CLI-driven Container.
func DefaultResolver() resolver.Resolver { return naive.New() }

// newContainerEventLogger builds an events.Bus wired to a single logging
// subscriber — the CLI has no other listener, so every published event is
// simply recorded at info/error level, grounded on the teacher's
// progress.Tracker → log.WithFunc pattern.
func newContainerEventLogger(ctx context.Context) *events.Bus {
	bus := events.New()
	logger := log.WithFunc("cmd.events")

	bus.SubscribeModule(func(ev types.ModuleEvent) {
		logger.Infof(ctx, "module %d: %s", ev.Module.ID, ev.Kind)
	})
	bus.SubscribeContainer(func(ev types.ContainerEvent) {
		if ev.Kind == types.ContainerEventError {
			logger.Errorf(ctx, ev.Err, "container error event")
			return
		}
		logger.Infof(ctx, "container event: %s", ev.Kind)
	})
	return bus
}
