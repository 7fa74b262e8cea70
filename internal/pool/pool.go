// Package pool owns every workspace's connection and its registered
// detectors and monitor. At most one connect is ever in flight per workspace
// key: the remote surface tolerates only one active control session per
// target, so concurrent callers share a single handshake.
package pool

import (
	"context"
	"sync"

	"github.com/ide-relay/relayd/internal/cdp"
	"github.com/ide-relay/relayd/internal/config"
	"github.com/ide-relay/relayd/internal/detect"
	"github.com/ide-relay/relayd/internal/logging"
	"github.com/ide-relay/relayd/internal/metrics"
	"github.com/ide-relay/relayd/internal/monitor"
	"github.com/ide-relay/relayd/internal/surface"
)

type connectFuture struct {
	done   chan struct{}
	client *cdp.Client
	err    error
}

type entry struct {
	client   *cdp.Client
	observer *surface.Remote

	approval    *detect.ApprovalDetector
	planning    *detect.PlanningDetector
	errorPopup  *detect.ErrorPopupDetector
	userMessage *detect.UserMessageDetector
	monitor     *monitor.Monitor
}

// Pool is an explicit arena: every connection and detector lives in exactly
// one pool, and independent pools can coexist.
type Pool struct {
	cfg  *config.Config
	disc *cdp.Discoverer

	mu         sync.Mutex
	entries    map[string]*entry
	connecting map[string]*connectFuture

	// onEvicted is notified after a cascade teardown caused by
	// reconnect exhaustion.
	onEvicted func(key string, reason error)
}

func New(cfg *config.Config, disc *cdp.Discoverer) *Pool {
	return &Pool{
		cfg:        cfg,
		disc:       disc,
		entries:    make(map[string]*entry),
		connecting: make(map[string]*connectFuture),
	}
}

func (p *Pool) SetOnEvicted(handler func(key string, reason error)) {
	p.onEvicted = handler
}

// GetOrConnect returns the workspace's connection, reusing a healthy one,
// joining an in-flight connect, or starting a new one.
func (p *Pool) GetOrConnect(ctx context.Context, key string) (*cdp.Client, error) {
	p.mu.Lock()
	if e, ok := p.entries[key]; ok && e.client != nil && e.client.Connected() {
		client := e.client
		p.mu.Unlock()
		return client, nil
	}
	if fut, ok := p.connecting[key]; ok {
		p.mu.Unlock()
		select {
		case <-fut.done:
			return fut.client, fut.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	fut := &connectFuture{done: make(chan struct{})}
	p.connecting[key] = fut
	existing := p.entries[key]
	p.mu.Unlock()

	client, err := p.connect(ctx, key, existing)

	p.mu.Lock()
	delete(p.connecting, key)
	if err == nil {
		e := p.entries[key]
		if e == nil {
			e = &entry{}
			p.entries[key] = e
		}
		e.client = client
		if e.observer == nil {
			e.observer = surface.NewRemote(client)
		} else {
			e.observer.Invalidate()
		}
	}
	p.mu.Unlock()

	fut.client = client
	fut.err = err
	close(fut.done)
	return client, err
}

func (p *Pool) connect(ctx context.Context, key string, existing *entry) (*cdp.Client, error) {
	var client *cdp.Client
	if existing != nil {
		client = existing.client
	}
	if client == nil {
		client = cdp.NewClient(key, &p.cfg.Remote, p.disc)
		client.SetOnDisconnected(func() {
			logging.Warnf("Workspace %s disconnected, reconnecting", key)
			p.mu.Lock()
			if e, ok := p.entries[key]; ok && e.observer != nil {
				e.observer.Invalidate()
			}
			p.mu.Unlock()
		})
		client.SetOnReconnectFailed(func(reason error) {
			p.evict(key, reason)
		})
	}

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Observer returns the workspace's observation boundary, or nil when the
// workspace is not connected.
func (p *Pool) Observer(key string) *surface.Remote {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e.observer
	}
	return nil
}

// RegisterApprovalDetector stops and replaces any prior approval detector
// for the key. Exactly one detector of each kind runs per workspace.
func (p *Pool) RegisterApprovalDetector(key string, d *detect.ApprovalDetector) {
	p.mu.Lock()
	e := p.ensureEntryLocked(key)
	prev := e.approval
	e.approval = d
	p.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
}

func (p *Pool) RegisterPlanningDetector(key string, d *detect.PlanningDetector) {
	p.mu.Lock()
	e := p.ensureEntryLocked(key)
	prev := e.planning
	e.planning = d
	p.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
}

func (p *Pool) RegisterErrorPopupDetector(key string, d *detect.ErrorPopupDetector) {
	p.mu.Lock()
	e := p.ensureEntryLocked(key)
	prev := e.errorPopup
	e.errorPopup = d
	p.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
}

func (p *Pool) RegisterUserMessageDetector(key string, d *detect.UserMessageDetector) {
	p.mu.Lock()
	e := p.ensureEntryLocked(key)
	prev := e.userMessage
	e.userMessage = d
	p.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
}

func (p *Pool) RegisterMonitor(key string, m *monitor.Monitor) {
	p.mu.Lock()
	e := p.ensureEntryLocked(key)
	prev := e.monitor
	e.monitor = m
	p.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
}

func (p *Pool) ensureEntryLocked(key string) *entry {
	e, ok := p.entries[key]
	if !ok {
		e = &entry{}
		p.entries[key] = e
	}
	return e
}

// Detectors returns the registered detectors for a workspace. Any of them
// may be nil.
func (p *Pool) Detectors(key string) (*detect.ApprovalDetector, *detect.PlanningDetector, *detect.ErrorPopupDetector, *detect.UserMessageDetector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return nil, nil, nil, nil
	}
	return e.approval, e.planning, e.errorPopup, e.userMessage
}

// Monitor returns the registered response monitor, or nil.
func (p *Pool) Monitor(key string) *monitor.Monitor {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e.monitor
	}
	return nil
}

// DisconnectWorkspace cascade-tears-down everything registered for the key.
func (p *Pool) DisconnectWorkspace(key string) {
	p.teardown(key)
}

func (p *Pool) evict(key string, reason error) {
	logging.Errorf("Evicting workspace %s: %v", key, reason)
	metrics.Evictions.Inc()
	p.teardown(key)
	if p.onEvicted != nil {
		p.onEvicted(key, reason)
	}
}

func (p *Pool) teardown(key string) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	if e.approval != nil {
		e.approval.Stop()
	}
	if e.planning != nil {
		e.planning.Stop()
	}
	if e.errorPopup != nil {
		e.errorPopup.Stop()
	}
	if e.userMessage != nil {
		e.userMessage.Stop()
	}
	if e.monitor != nil {
		e.monitor.Stop()
	}
	if e.client != nil {
		e.client.Close()
	}
}

// Close tears down every workspace.
func (p *Pool) Close() {
	p.mu.Lock()
	keys := make([]string, 0, len(p.entries))
	for key := range p.entries {
		keys = append(keys, key)
	}
	p.mu.Unlock()
	for _, key := range keys {
		p.teardown(key)
	}
}

// Keys lists the workspaces currently held by the pool.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.entries))
	for key := range p.entries {
		keys = append(keys, key)
	}
	return keys
}
