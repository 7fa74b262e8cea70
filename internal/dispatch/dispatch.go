// Package dispatch serializes UI-facing side effects. Tasks enqueued under
// one (queue, trace) key run strictly in submission order; distinct queue
// names never block each other, even for the same trace.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ide-relay/relayd/internal/logging"
)

// Task is one side effect. A returned error is logged and never breaks the
// chain.
type Task func(ctx context.Context) error

// Enqueue appends a task to one key's chain.
type Enqueue func(task Task)

type chain struct {
	mu      sync.Mutex
	pending []Task
	running bool
}

type Dispatcher struct {
	mu     sync.Mutex
	chains map[string]*chain
	depth  atomic.Int64

	base context.Context
}

func New(ctx context.Context) *Dispatcher {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Dispatcher{
		chains: make(map[string]*chain),
		base:   ctx,
	}
}

// Queue returns the enqueue function for one (queueName, traceID) key.
func (d *Dispatcher) Queue(queueName, traceID string) Enqueue {
	key := queueName + "\x00" + traceID

	d.mu.Lock()
	c, ok := d.chains[key]
	if !ok {
		c = &chain{}
		d.chains[key] = c
	}
	d.mu.Unlock()

	return func(task Task) {
		d.depth.Add(1)
		c.mu.Lock()
		c.pending = append(c.pending, task)
		if c.running {
			c.mu.Unlock()
			return
		}
		c.running = true
		c.mu.Unlock()
		go d.drain(key, c)
	}
}

func (d *Dispatcher) drain(key string, c *chain) {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.running = false
			c.mu.Unlock()
			return
		}
		task := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()

		if err := task(d.base); err != nil {
			logging.Warnf("Dispatch task failed on %s: %v", key, err)
		}
		d.depth.Add(-1)
	}
}

// Depth returns the number of tasks queued or running across all chains.
func (d *Dispatcher) Depth() int64 {
	return d.depth.Load()
}

// VersionGate tracks a monotonic expected version per logical render stream.
// Intermediate renders scheduled before a newer state existed are dropped at
// execution time; finalized renders always apply.
type VersionGate struct {
	mu      sync.Mutex
	current map[string]uint64
}

func NewVersionGate() *VersionGate {
	return &VersionGate{current: make(map[string]uint64)}
}

// Advance bumps the stream's version and returns the new value. Call it when
// new state makes earlier pending renders stale.
func (g *VersionGate) Advance(stream string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current[stream]++
	return g.current[stream]
}

// Current returns the stream's version without advancing it.
func (g *VersionGate) Current(stream string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current[stream]
}

// Guard wraps a render task with the staleness check. The task is a no-op
// when the stream advanced past expected, unless final is set.
func (g *VersionGate) Guard(stream string, expected uint64, final bool, task Task) Task {
	return func(ctx context.Context) error {
		if !final && g.Current(stream) > expected {
			return nil
		}
		return task(ctx)
	}
}
