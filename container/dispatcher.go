package container

import (
	"context"
	"sync"

	"github.com/projecteru2/core/log"
)

// dispatcher is a single-consumer background worker: each engine that
// needs asynchronous, serialized execution (refresh, start-level ramp)
// owns one. Jobs submitted while the worker is busy wait in a FIFO queue
// and run one after another on that worker, so two concurrent refresh
// requests execute sequentially rather than in parallel. The worker
// goroutine is created on the first Submit after Open and exits once the
// queue is empty.
type dispatcher struct {
	mu      sync.Mutex
	open    bool
	running bool
	pending []func(context.Context)
	done    chan struct{}
}

func newDispatcher() *dispatcher {
	return &dispatcher{}
}

// Open starts accepting jobs. Calling Open while already open is a no-op.
func (d *dispatcher) Open() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
}

// Close stops accepting new jobs and drops any queued ones. It returns
// without waiting; a job already running is not cancelled and runs to
// completion.
func (d *dispatcher) Close() {
	d.mu.Lock()
	d.open = false
	d.pending = nil
	d.mu.Unlock()
}

// Submit appends job to the queue; the worker runs queued jobs in
// submission order. Submit is a no-op while the dispatcher is closed.
func (d *dispatcher) Submit(ctx context.Context, job func(context.Context)) {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, job)
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	go d.run(ctx)
}

func (d *dispatcher) run(ctx context.Context) {
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.running = false
			d.mu.Unlock()
			return
		}
		job := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()

		d.runJob(ctx, job)
	}
}

func (d *dispatcher) runJob(ctx context.Context, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFunc("container.dispatcher").Errorf(ctx, nil, "dispatcher job panicked: %v", r)
		}
	}()
	job(ctx)
}
