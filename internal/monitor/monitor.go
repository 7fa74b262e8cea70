// Package monitor tracks one response-generation turn end to end, from the
// first sign of work to a confirmed completion, timeout or exhausted quota.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/ide-relay/relayd/internal/cdp"
	"github.com/ide-relay/relayd/internal/config"
	"github.com/ide-relay/relayd/internal/logging"
	"github.com/ide-relay/relayd/internal/metrics"
	"github.com/ide-relay/relayd/internal/surface"
)

// Phase is one lifecycle state of a response turn. Phases only move forward
// within a run; Stop+Start is the only reset.
type Phase string

const (
	PhaseWaiting      Phase = "waiting"
	PhaseThinking     Phase = "thinking"
	PhaseGenerating   Phase = "generating"
	PhaseComplete     Phase = "complete"
	PhaseTimeout      Phase = "timeout"
	PhaseQuotaReached Phase = "quotaReached"
)

// Terminal reports whether the phase ends the run.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseTimeout || p == PhaseQuotaReached
}

type Callbacks struct {
	OnPhaseChange func(phase Phase)
	// OnProgress carries the full captured text and the newly appended delta.
	OnProgress func(text, delta string)
	// OnProcessLog carries process-log entries not seen before this run.
	OnProcessLog func(entries []string)
	// OnComplete fires at most once. quotaHit annotates a quota indicator
	// observed mid-generation; it never interrupts the run by itself.
	OnComplete func(text string, quotaHit bool)
	// OnTimeout fires at most once, with the last captured text.
	OnTimeout func(lastText string)
}

// Monitor polls the remote surface for the duration of one response turn.
type Monitor struct {
	obs surface.Observer
	cfg *config.MonitorConfig
	cb  Callbacks

	mu                sync.Mutex
	running           bool
	gen               uint64 // bumped by Start; ticks from an older run are discarded
	phase             Phase
	baselineText      string
	lastText          string
	generationStarted bool
	stopGoneCount     int
	quotaDetected     bool
	baselineLogs      map[string]struct{}
	seenLogs          map[string]struct{}
	terminalFired     bool
	cancel            context.CancelFunc

	dmp *diffmatchpatch.DiffMatchPatch
}

func New(obs surface.Observer, cfg *config.MonitorConfig, cb Callbacks) *Monitor {
	return &Monitor{
		obs: obs,
		cfg: cfg,
		cb:  cb,
		dmp: diffmatchpatch.New(),
	}
}

// Start captures the baseline (text and process-log entries already on
// screen are ignored), arms the wall-clock deadline and begins polling.
// Calling Start on a running monitor restarts it.
func (m *Monitor) Start(ctx context.Context) {
	m.Stop()

	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.running = true
	m.gen++
	m.phase = PhaseWaiting
	m.baselineText = ""
	m.lastText = ""
	m.generationStarted = false
	m.stopGoneCount = 0
	m.quotaDetected = false
	m.baselineLogs = make(map[string]struct{})
	m.seenLogs = make(map[string]struct{})
	m.terminalFired = false
	m.cancel = cancel
	m.mu.Unlock()

	m.captureBaseline(runCtx)

	go m.run(runCtx)
}

func (m *Monitor) captureBaseline(ctx context.Context) {
	if blocks, err := m.obs.ResponseCandidates(ctx); err == nil {
		text := surface.BestResponseText(blocks)
		m.mu.Lock()
		m.baselineText = text
		m.mu.Unlock()
	}
	if entries, err := m.obs.ProcessLog(ctx); err == nil {
		m.mu.Lock()
		for _, e := range entries {
			m.baselineLogs[e] = struct{}{}
		}
		m.mu.Unlock()
	}
}

func (m *Monitor) run(ctx context.Context) {
	interval := time.Duration(m.cfg.PollIntervalMs) * time.Millisecond
	deadline := time.NewTimer(time.Duration(m.cfg.ResponseTimeoutMs) * time.Millisecond)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			m.timeout()
			return
		case <-time.After(interval):
		}

		if m.Tick(ctx) {
			return
		}
	}
}

// Tick performs one poll: stop-affordance presence, quota indicator, best
// candidate text, and new process-log entries. It returns true when the run
// reached a terminal phase. Exported for tests; the run loop is the only
// production caller.
func (m *Monitor) Tick(ctx context.Context) bool {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	isGen, err := m.obs.IsGenerating(ctx)
	if err != nil {
		m.logTickError("isGenerating", err)
		return false
	}
	quota, err := m.obs.QuotaExhausted(ctx)
	if err != nil {
		m.logTickError("quota", err)
		quota = false
	}
	blocks, err := m.obs.ResponseCandidates(ctx)
	if err != nil {
		m.logTickError("responseCandidates", err)
		return false
	}
	text := surface.BestResponseText(blocks)

	if entries, err := m.obs.ProcessLog(ctx); err == nil {
		m.reportNewLogs(gen, entries)
	}

	m.mu.Lock()
	if !m.running || m.gen != gen {
		// Stop or a restart raced with this tick's remote calls; the
		// snapshot belongs to the old run.
		m.mu.Unlock()
		return true
	}

	// The stop affordance appearing is the first sign of work, even before
	// any text exists.
	if m.phase == PhaseWaiting && isGen {
		m.setPhaseLocked(PhaseThinking)
	}

	changed := text != "" && text != m.lastText
	if changed && m.lastText == "" && text == m.baselineText {
		// First text identical to the baseline is leftover, not progress.
		changed = false
	}

	if changed {
		prev := m.lastText
		if prev == "" {
			prev = m.baselineText
		}
		delta := m.appendedDelta(prev, text)
		m.lastText = text
		if !m.generationStarted {
			m.generationStarted = true
			m.setPhaseLocked(PhaseGenerating)
		}
		cb := m.cb.OnProgress
		m.mu.Unlock()
		if cb != nil {
			cb(text, delta)
		}
		m.mu.Lock()
		if !m.running {
			m.mu.Unlock()
			return true
		}
	}

	if quota {
		m.quotaDetected = true
		if m.lastText == "" {
			// Quota hit before any output: nothing more will come.
			m.completeLocked("")
			return true
		}
		// Quota after text exists is recorded and surfaced at completion.
	}

	if m.generationStarted {
		if isGen {
			m.stopGoneCount = 0
		} else {
			m.stopGoneCount++
			if m.stopGoneCount >= m.cfg.CompleteConfirmCount {
				m.completeLocked(m.lastText)
				return true
			}
		}
	}

	m.mu.Unlock()
	return false
}

// appendedDelta extracts the newly inserted text between two snapshots.
func (m *Monitor) appendedDelta(prev, curr string) string {
	diffs := m.dmp.DiffMain(prev, curr, false)
	var delta []byte
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffInsert {
			delta = append(delta, d.Text...)
		}
	}
	return string(delta)
}

func (m *Monitor) reportNewLogs(gen uint64, entries []string) {
	m.mu.Lock()
	if !m.running || m.gen != gen {
		m.mu.Unlock()
		return
	}
	var fresh []string
	for _, e := range entries {
		if _, ok := m.baselineLogs[e]; ok {
			continue
		}
		if _, ok := m.seenLogs[e]; ok {
			continue
		}
		m.seenLogs[e] = struct{}{}
		fresh = append(fresh, e)
	}
	cb := m.cb.OnProcessLog
	m.mu.Unlock()

	if len(fresh) > 0 && cb != nil {
		cb(fresh)
	}
}

// setPhaseLocked advances the phase and fires OnPhaseChange. Caller holds mu;
// the callback runs without it.
func (m *Monitor) setPhaseLocked(phase Phase) {
	m.phase = phase
	cb := m.cb.OnPhaseChange
	if cb != nil {
		m.mu.Unlock()
		cb(phase)
		m.mu.Lock()
	}
}

// completeLocked finishes the run. Caller holds mu; it is released here.
func (m *Monitor) completeLocked(text string) {
	if m.terminalFired {
		m.mu.Unlock()
		return
	}
	m.terminalFired = true
	phase := PhaseComplete
	if m.quotaDetected && text == "" {
		phase = PhaseQuotaReached
	}
	m.setPhaseLocked(phase)
	metrics.ResponsesCompleted.WithLabelValues(string(phase)).Inc()
	quotaHit := m.quotaDetected
	m.running = false
	cancel := m.cancel
	cb := m.cb.OnComplete
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cb != nil {
		cb(text, quotaHit)
	}
}

func (m *Monitor) timeout() {
	m.mu.Lock()
	if !m.running || m.terminalFired {
		m.mu.Unlock()
		return
	}
	m.terminalFired = true
	m.setPhaseLocked(PhaseTimeout)
	metrics.ResponsesCompleted.WithLabelValues(string(PhaseTimeout)).Inc()
	m.running = false
	lastText := m.lastText
	cancel := m.cancel
	cb := m.cb.OnTimeout
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cb != nil {
		cb(lastText)
	}
}

// Stop cancels the run without firing a terminal callback.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Running reports whether a turn is being tracked.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Phase returns the current phase.
func (m *Monitor) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// ClickStop presses the cancel affordance best-effort, then stops the
// monitor regardless of the click outcome.
func (m *Monitor) ClickStop(ctx context.Context) {
	if _, err := m.obs.ClickStop(ctx); err != nil {
		logging.Warnf("Stop click failed: %v", err)
	}
	m.Stop()
}

func (m *Monitor) logTickError(read string, err error) {
	var transport *cdp.TransportError
	if errors.As(err, &transport) {
		return
	}
	logging.Warnf("Monitor %s read failed: %v", read, err)
}
