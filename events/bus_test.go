package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/projecteru2/modwire/types"
)

func TestPublishModuleWaitsForAllListeners(t *testing.T) {
	b := New()

	var slowDone atomic.Bool
	var fastRan atomic.Bool
	b.SubscribeModule(func(types.ModuleEvent) {
		time.Sleep(20 * time.Millisecond)
		slowDone.Store(true)
	})
	b.SubscribeModule(func(types.ModuleEvent) {
		fastRan.Store(true)
	})

	b.PublishModule(context.Background(), types.ModuleEvent{Kind: types.EventResolved})

	if !slowDone.Load() {
		t.Fatal("PublishModule should block until every listener, including a slow one, has run")
	}
	if !fastRan.Load() {
		t.Fatal("expected the fast listener to have run")
	}
}

func TestPublishModuleDeliversToEveryListener(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var received []types.ModuleEventKind

	for i := 0; i < 3; i++ {
		b.SubscribeModule(func(ev types.ModuleEvent) {
			mu.Lock()
			received = append(received, ev.Kind)
			mu.Unlock()
		})
	}

	b.PublishModule(context.Background(), types.ModuleEvent{Kind: types.EventStarted})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(received))
	}
	for _, k := range received {
		if k != types.EventStarted {
			t.Fatalf("expected every listener to see EventStarted, got %v", k)
		}
	}
}

func TestPublishModulePanicIsolatesOtherListeners(t *testing.T) {
	b := New()
	var otherRan atomic.Bool

	b.SubscribeModule(func(types.ModuleEvent) {
		panic("boom")
	})
	b.SubscribeModule(func(types.ModuleEvent) {
		otherRan.Store(true)
	})

	b.PublishModule(context.Background(), types.ModuleEvent{Kind: types.EventInstalled})

	if !otherRan.Load() {
		t.Fatal("a panicking listener must not prevent other listeners from running")
	}
}

func TestUnsubscribeModuleStopsDelivery(t *testing.T) {
	b := New()
	var calls atomic.Int32
	unsubscribe := b.SubscribeModule(func(types.ModuleEvent) {
		calls.Add(1)
	})

	b.PublishModule(context.Background(), types.ModuleEvent{Kind: types.EventResolved})
	unsubscribe()
	b.PublishModule(context.Background(), types.ModuleEvent{Kind: types.EventResolved})

	if calls.Load() != 1 {
		t.Fatalf("expected exactly 1 delivery before unsubscribing, got %d", calls.Load())
	}
}

func TestPublishContainerDoesNotBlockOnSlowListener(t *testing.T) {
	b := New()
	release := make(chan struct{})
	started := make(chan struct{})

	b.SubscribeContainer(func(types.ContainerEvent) {
		close(started)
		<-release
	})

	done := make(chan struct{})
	go func() {
		b.PublishContainer(context.Background(), types.ContainerEvent{Kind: types.ContainerEventRefresh})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishContainer should return without waiting for listeners")
	}

	<-started
	close(release)
}

func TestPublishContainerPanicIsRecovered(t *testing.T) {
	b := New()
	var otherRan atomic.Bool
	done := make(chan struct{})

	b.SubscribeContainer(func(types.ContainerEvent) {
		panic("boom")
	})
	b.SubscribeContainer(func(types.ContainerEvent) {
		otherRan.Store(true)
		close(done)
	})

	b.PublishContainer(context.Background(), types.ContainerEvent{Kind: types.ContainerEventError})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the non-panicking container listener to run")
	}
	if !otherRan.Load() {
		t.Fatal("expected the second container listener to run despite the first panicking")
	}
}
