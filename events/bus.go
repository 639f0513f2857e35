// Package events implements the Adaptor's event-publication side (spec
// §2 "Adaptor (external)": publishes lifecycle events, emits
// container/error events). The in-process fan-out shape generalizes the
// teacher's single-callback progress.Tracker (progress/progress.go) to
// multiple independent subscribers, matching how an OSGi-style framework
// lets several listeners observe the same bundle/framework event stream.
package events

import (
	"context"
	"sync"

	"github.com/projecteru2/core/log"
	"github.com/projecteru2/modwire/types"
)

// ModuleListener receives module lifecycle events, in the order they are
// published for a given module (spec §5 ordering guarantee).
type ModuleListener func(types.ModuleEvent)

// ContainerListener receives container-level events: refresh/start-level
// completion and asynchronous errors that have no synchronous caller to
// return to (spec §4.5 step 7/8, §4.7 step 4).
type ContainerListener func(types.ContainerEvent)

// Bus is the in-process publish/subscribe hub. It is safe for concurrent
// use. Each delivery runs in its own goroutine with panics recovered;
// PublishModule waits for every module listener to return, while
// PublishContainer never blocks on a slow subscriber, the same "fire and
// forget, recover and log"
// posture the teacher applies to its own best-effort background work
// (e.g. images/oci/pull.go's cache warm-up).
type Bus struct {
	mu                 sync.RWMutex
	moduleListeners    map[int]ModuleListener
	containerListeners map[int]ContainerListener
	nextID             int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		moduleListeners:    make(map[int]ModuleListener),
		containerListeners: make(map[int]ContainerListener),
	}
}

// SubscribeModule registers fn and returns an unsubscribe function.
func (b *Bus) SubscribeModule(fn ModuleListener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.moduleListeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.moduleListeners, id)
		b.mu.Unlock()
	}
}

// SubscribeContainer registers fn and returns an unsubscribe function.
func (b *Bus) SubscribeContainer(fn ContainerListener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.containerListeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.containerListeners, id)
		b.mu.Unlock()
	}
}

// PublishModule delivers ev to every current module listener synchronously,
// each on its own goroutine, waiting for all of them to finish before
// returning — this preserves the per-module ordering guarantee (a second
// PublishModule call for the same module cannot race ahead of the first)
// while still isolating one listener's panic or slowness from another.
func (b *Bus) PublishModule(ctx context.Context, ev types.ModuleEvent) {
	b.mu.RLock()
	listeners := make([]ModuleListener, 0, len(b.moduleListeners))
	for _, fn := range b.moduleListeners {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, fn := range listeners {
		wg.Add(1)
		go func(fn ModuleListener) {
			defer wg.Done()
			defer recoverListenerPanic(ctx, "events.PublishModule")
			fn(ev)
		}(fn)
	}
	wg.Wait()
}

// PublishContainer delivers ev to every current container listener. Unlike
// PublishModule it does not wait: container events (refresh completion,
// async errors) have no caller-visible transition to preserve ordering
// for.
func (b *Bus) PublishContainer(ctx context.Context, ev types.ContainerEvent) {
	b.mu.RLock()
	listeners := make([]ContainerListener, 0, len(b.containerListeners))
	for _, fn := range b.containerListeners {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		go func(fn ContainerListener) {
			defer recoverListenerPanic(ctx, "events.PublishContainer")
			fn(ev)
		}(fn)
	}
}

func recoverListenerPanic(ctx context.Context, fn string) {
	if r := recover(); r != nil {
		log.WithFunc(fn).Errorf(ctx, nil, "listener panicked: %v", r)
	}
}
