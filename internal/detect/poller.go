// Package detect implements the polling detectors that turn transient UI
// state into discrete, de-duplicated events. One generic poller carries the
// shared skeleton; the four detector kinds parameterize it.
package detect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ide-relay/relayd/internal/cdp"
	"github.com/ide-relay/relayd/internal/logging"
	"github.com/ide-relay/relayd/internal/metrics"
)

// FetchFunc produces one snapshot per tick. A nil snapshot means nothing is
// currently detected; key is the dedup key for a non-nil snapshot.
type FetchFunc[T any] func(ctx context.Context) (snap *T, key string, err error)

// Poller is the shared detector state machine: Idle -Start-> Polling
// -Stop-> Idle. Each tick fetches one snapshot, dedups it against the last
// detected key and notifies on changes. Polling never stops on error.
type Poller[T any] struct {
	name     string
	interval time.Duration
	// cooldown, when non-zero, suppresses a new notification within the
	// window of the previous one even on key change.
	cooldown time.Duration

	fetch      FetchFunc[T]
	onDetected func(snap *T)
	onResolved func()
	// absorb intercepts a snapshot before notification; returning true
	// records the key without firing onDetected. Used for echo suppression.
	absorb func(key string) bool

	mu             sync.Mutex
	running        bool
	gen            uint64 // bumped by Start; ticks from an older run are discarded
	cancel         context.CancelFunc
	lastKey        string
	lastInfo       *T
	lastDetectedAt time.Time
}

func newPoller[T any](name string, interval, cooldown time.Duration, fetch FetchFunc[T]) *Poller[T] {
	return &Poller[T]{
		name:     name,
		interval: interval,
		cooldown: cooldown,
		fetch:    fetch,
	}
}

// Start resets all detection state and begins polling. Starting a running
// poller restarts it.
func (p *Poller[T]) Start(ctx context.Context) {
	p.Stop()

	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.running = true
	p.gen++
	p.cancel = cancel
	p.lastKey = ""
	p.lastInfo = nil
	p.lastDetectedAt = time.Time{}
	p.mu.Unlock()

	go p.run(runCtx)
}

// Stop returns the poller to idle. An in-flight tick's result is discarded.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	p.running = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Poller[T]) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// LastInfo returns the most recent detected snapshot, if any.
func (p *Poller[T]) LastInfo() *T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastInfo
}

func (p *Poller[T]) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.interval):
		}
		// The next tick is scheduled only after this one's remote calls
		// settle; ticks never overlap.
		p.Tick(ctx)
	}
}

// Tick performs one snapshot-dedup-notify cycle. Exported for tests.
func (p *Poller[T]) Tick(ctx context.Context) {
	metrics.Polls.WithLabelValues(p.name).Inc()
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	snap, key, err := p.fetch(ctx)
	if err != nil {
		// A closed transport self-heals on a later tick once the pool
		// reconnects; anything else is worth a log line.
		var transport *cdp.TransportError
		if !errors.As(err, &transport) {
			logging.Warnf("%s poll failed: %v", p.name, err)
		}
		return
	}

	now := time.Now()

	p.mu.Lock()
	if !p.running || p.gen != gen {
		// Stop or a restart raced with this tick's remote calls; the
		// snapshot belongs to the old run.
		p.mu.Unlock()
		return
	}

	if snap == nil {
		if p.lastKey == "" {
			p.mu.Unlock()
			return
		}
		p.lastKey = ""
		p.lastInfo = nil
		resolved := p.onResolved
		p.mu.Unlock()
		if resolved != nil {
			resolved()
		}
		return
	}

	if p.absorb != nil && key != p.lastKey && p.absorb(key) {
		p.lastKey = key
		p.lastInfo = snap
		p.mu.Unlock()
		return
	}

	if key == p.lastKey {
		// Unchanged detection: refresh the stored info silently.
		p.lastInfo = snap
		p.mu.Unlock()
		return
	}

	if p.cooldown > 0 && !p.lastDetectedAt.IsZero() && now.Sub(p.lastDetectedAt) < p.cooldown {
		// Within the cooldown window the change is presumed flicker. The
		// key is left untouched so a persistent change fires once the
		// window elapses.
		p.mu.Unlock()
		return
	}

	p.lastKey = key
	p.lastInfo = snap
	p.lastDetectedAt = now
	detected := p.onDetected
	p.mu.Unlock()

	metrics.Detections.WithLabelValues(p.name).Inc()
	if detected != nil {
		detected(snap)
	}
}
