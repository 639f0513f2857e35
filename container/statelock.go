// Package container implements the lifecycle/orchestration engines:
// install/update/uninstall admission, the optimistic resolve pipeline,
// the refresh (unresolve) closure, dynamic-package resolution, and the
// start-level state machine. It is the orchestration shell around the
// external db.Database and resolver.Resolver collaborators.
package container

import (
	"context"
	"sync"

	"github.com/projecteru2/modwire/types"
)

// transitionKey identifies one module's state-change lock for one
// TransitionKind (spec §9: "per-module state-change lock parameterised by
// transition kind").
type transitionKey struct {
	module types.ModuleID
	kind   types.TransitionKind
}

type heldSet map[transitionKey]struct{}

type heldSetKey struct{}

func heldFrom(ctx context.Context) heldSet {
	v, _ := ctx.Value(heldSetKey{}).(heldSet)
	return v
}

func withHeld(ctx context.Context, key transitionKey) context.Context {
	cur := heldFrom(ctx)
	next := make(heldSet, len(cur)+1)
	for k := range cur {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	return context.WithValue(ctx, heldSetKey{}, next)
}

// moduleLock is a size-1 buffered-channel token, the same in-process
// exclusion primitive as lock/flock/flock.go's channel half — reused here
// without the filesystem-lock half, since state-change locks are
// in-process only.
type moduleLock struct {
	ch chan struct{}
}

// StateLocks is the registry of per-module state-change locks, keyed by
// ModuleID. Reentrance is modeled without goroutine-local storage: a
// caller that already holds the lock for (module, kind) — because it is
// propagating the same context it acquired the lock under — is let
// through immediately, mirroring the reference semantics' "re-entrance is
// permitted only for the same tag on the same thread" using Go's actual
// unit of call-chain identity, a context value, instead of a thread ID.
type StateLocks struct {
	mu      sync.Mutex
	entries map[types.ModuleID]*moduleLock
}

// NewStateLocks creates an empty registry.
func NewStateLocks() *StateLocks {
	return &StateLocks{entries: make(map[types.ModuleID]*moduleLock)}
}

func (s *StateLocks) getOrCreate(id types.ModuleID) *moduleLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.entries[id]
	if !ok {
		m = &moduleLock{ch: make(chan struct{}, 1)}
		s.entries[id] = m
	}
	return m
}

// Acquire blocks until the state-change lock for (moduleID, kind) is held
// by this logical call chain, returning a context carrying the hold
// marker and a release function. If ctx already holds this exact lock
// (a reentrant call deeper in the same orchestration step), Acquire
// returns immediately with a no-op release.
func (s *StateLocks) Acquire(ctx context.Context, moduleID types.ModuleID, kind types.TransitionKind) (context.Context, func(), error) {
	key := transitionKey{module: moduleID, kind: kind}
	if _, already := heldFrom(ctx)[key]; already {
		return ctx, func() {}, nil
	}

	m := s.getOrCreate(moduleID)
	select {
	case m.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx, nil, types.WithCause(types.ErrStateChange, ctx.Err())
	}

	derived := withHeld(ctx, key)
	var once sync.Once
	release := func() {
		once.Do(func() { <-m.ch })
	}
	return derived, release, nil
}

// Holds reports whether ctx's logical call chain currently holds the
// state-change lock for (moduleID, kind) — used by auto-start to suppress
// reentrant starts during a concurrent STARTED transition on the same
// module (spec §9: holdsTransitionEventLock).
func Holds(ctx context.Context, moduleID types.ModuleID, kind types.TransitionKind) bool {
	_, ok := heldFrom(ctx)[transitionKey{module: moduleID, kind: kind}]
	return ok
}
