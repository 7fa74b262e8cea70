// Package relay is the daemon's facade: callers watch a workspace, send
// prompts and answer prompts through it, and receive every detection and
// response-lifecycle event through a single handler, already de-duplicated,
// ordered and journaled.
package relay

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ide-relay/relayd/internal/cdp"
	"github.com/ide-relay/relayd/internal/config"
	"github.com/ide-relay/relayd/internal/detect"
	"github.com/ide-relay/relayd/internal/dispatch"
	"github.com/ide-relay/relayd/internal/journal"
	"github.com/ide-relay/relayd/internal/logging"
	"github.com/ide-relay/relayd/internal/metrics"
	"github.com/ide-relay/relayd/internal/monitor"
	"github.com/ide-relay/relayd/internal/pool"
	"github.com/ide-relay/relayd/internal/textclass"
)

// Handler receives every event the daemon emits. Calls for one workspace
// arrive in order; slow handlers delay later events, never reorder them.
type Handler struct {
	OnApproval         func(workspace string, info *detect.ApprovalInfo)
	OnApprovalResolved func(workspace string)
	OnPlanning         func(workspace string, info *detect.PlanningInfo)
	OnPlanningResolved func(workspace string)
	OnErrorPopup       func(workspace string, info *detect.ErrorPopupInfo)
	OnUserMessage      func(workspace string, info *detect.UserMessageInfo)

	OnPhase      func(workspace string, phase monitor.Phase)
	OnProgress   func(workspace string, text, delta string)
	OnProcessLog func(workspace string, lines []string)
	OnComplete   func(workspace string, output, logs string, quotaHit bool)
	OnTimeout    func(workspace string, partial string)

	OnEvicted func(workspace string, reason error)
}

// Service owns the connection pool and the event pipeline.
type Service struct {
	cfg     *config.Config
	pool    *pool.Pool
	disp    *dispatch.Dispatcher
	gate    *dispatch.VersionGate
	journal *journal.Journal
	handler Handler

	mu      sync.Mutex
	traces  map[string]string // workspace -> current trace id
	watched map[string]struct{}
	cancel  context.CancelFunc
}

func New(cfg *config.Config, handler Handler) (*Service, error) {
	jnl, err := journal.Open(cfg.Storage.StateDir, cfg.Storage.JournalMaxLen)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	disp := dispatch.New(ctx)
	metrics.RegisterDispatchDepth(func() float64 { return float64(disp.Depth()) })

	disc := cdp.NewDiscoverer(&cfg.Discovery)
	p := pool.New(cfg, disc)

	s := &Service{
		cfg:     cfg,
		pool:    p,
		disp:    disp,
		gate:    dispatch.NewVersionGate(),
		journal: jnl,
		handler: handler,
		traces:  make(map[string]string),
		watched: make(map[string]struct{}),
		cancel:  cancel,
	}
	p.SetOnEvicted(s.evicted)
	return s, nil
}

// trace returns the workspace's current trace id, minting one on first use.
// A trace pins a workspace's events to one dispatch chain.
func (s *Service) trace(workspace string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.traces[workspace]
	if !ok {
		id = uuid.NewString()
		s.traces[workspace] = id
	}
	return id
}

func (s *Service) emit(queue, workspace string, task dispatch.Task) {
	s.disp.Queue(queue, s.trace(workspace))(task)
}

func (s *Service) record(kind, workspace string, payload any) {
	if _, err := s.journal.Append(kind, workspace, payload); err != nil {
		logging.Warnf("Journal append %s failed: %v", kind, err)
	}
}

// Watch connects the workspace and starts all four detectors. Watching an
// already watched workspace restarts its detectors with fresh state.
func (s *Service) Watch(ctx context.Context, workspace string) error {
	s.mu.Lock()
	s.watched[workspace] = struct{}{}
	s.mu.Unlock()
	if _, err := s.pool.GetOrConnect(ctx, workspace); err != nil {
		return err
	}
	obs := s.pool.Observer(workspace)

	approval := detect.NewApprovalDetector(obs, &s.cfg.Detect,
		func(info *detect.ApprovalInfo) {
			s.record("approval", workspace, info)
			s.emit("detect", workspace, func(ctx context.Context) error {
				if s.handler.OnApproval != nil {
					s.handler.OnApproval(workspace, info)
				}
				return nil
			})
		},
		func() {
			s.record("approvalResolved", workspace, nil)
			s.emit("detect", workspace, func(ctx context.Context) error {
				if s.handler.OnApprovalResolved != nil {
					s.handler.OnApprovalResolved(workspace)
				}
				return nil
			})
		})

	planning := detect.NewPlanningDetector(obs, &s.cfg.Detect,
		func(info *detect.PlanningInfo) {
			s.record("planning", workspace, info)
			s.emit("detect", workspace, func(ctx context.Context) error {
				if s.handler.OnPlanning != nil {
					s.handler.OnPlanning(workspace, info)
				}
				return nil
			})
		},
		func() {
			s.record("planningResolved", workspace, nil)
			s.emit("detect", workspace, func(ctx context.Context) error {
				if s.handler.OnPlanningResolved != nil {
					s.handler.OnPlanningResolved(workspace)
				}
				return nil
			})
		})

	errorPopup := detect.NewErrorPopupDetector(obs, &s.cfg.Detect,
		func(info *detect.ErrorPopupInfo) {
			s.record("errorPopup", workspace, info)
			s.emit("detect", workspace, func(ctx context.Context) error {
				if s.handler.OnErrorPopup != nil {
					s.handler.OnErrorPopup(workspace, info)
				}
				return nil
			})
		}, nil)

	userMessage := detect.NewUserMessageDetector(obs, &s.cfg.Detect,
		func(info *detect.UserMessageInfo) {
			s.record("userMessage", workspace, info)
			s.emit("detect", workspace, func(ctx context.Context) error {
				if s.handler.OnUserMessage != nil {
					s.handler.OnUserMessage(workspace, info)
				}
				return nil
			})
		})

	s.pool.RegisterApprovalDetector(workspace, approval)
	s.pool.RegisterPlanningDetector(workspace, planning)
	s.pool.RegisterErrorPopupDetector(workspace, errorPopup)
	s.pool.RegisterUserMessageDetector(workspace, userMessage)

	runCtx := context.Background()
	approval.Start(runCtx)
	planning.Start(runCtx)
	errorPopup.Start(runCtx)
	userMessage.Start(runCtx)

	logging.Infof("Watching workspace %s", workspace)
	return nil
}

// Unwatch tears down the workspace's connection, detectors and monitor.
func (s *Service) Unwatch(workspace string) {
	s.pool.DisconnectWorkspace(workspace)
	s.mu.Lock()
	delete(s.traces, workspace)
	delete(s.watched, workspace)
	s.mu.Unlock()
}

func (s *Service) evicted(workspace string, reason error) {
	s.record("evicted", workspace, map[string]string{"reason": reason.Error()})
	s.emit("detect", workspace, func(ctx context.Context) error {
		if s.handler.OnEvicted != nil {
			s.handler.OnEvicted(workspace, reason)
		}
		return nil
	})
}

// SendPrompt registers the text as an expected echo, inserts it into the
// composer, and starts monitoring the response turn.
func (s *Service) SendPrompt(ctx context.Context, workspace, text string) error {
	if _, err := s.pool.GetOrConnect(ctx, workspace); err != nil {
		return err
	}
	obs := s.pool.Observer(workspace)

	if _, _, _, um := s.pool.Detectors(workspace); um != nil {
		um.RegisterEcho(text)
	}
	if err := obs.InsertPrompt(ctx, text); err != nil {
		return err
	}
	s.record("promptSent", workspace, map[string]string{"text": text})
	s.startMonitor(workspace)
	return nil
}

// StartMonitoring begins tracking a response turn that was started outside
// SendPrompt, typically after the user typed a prompt directly.
func (s *Service) StartMonitoring(ctx context.Context, workspace string) error {
	if _, err := s.pool.GetOrConnect(ctx, workspace); err != nil {
		return err
	}
	s.startMonitor(workspace)
	return nil
}

// StopMonitoring abandons the current turn without a terminal event.
func (s *Service) StopMonitoring(workspace string) {
	if m := s.pool.Monitor(workspace); m != nil {
		m.Stop()
	}
}

// startMonitor registers and starts a fresh response monitor. Progress
// renders go through a version gate so a backlog of stale snapshots is
// skipped; the completion render always lands.
func (s *Service) startMonitor(workspace string) {
	obs := s.pool.Observer(workspace)
	if obs == nil {
		return
	}
	stream := "progress:" + workspace

	m := monitor.New(obs, &s.cfg.Monitor, monitor.Callbacks{
		OnPhaseChange: func(phase monitor.Phase) {
			s.record("phase", workspace, map[string]string{"phase": string(phase)})
			s.emit("monitor", workspace, func(ctx context.Context) error {
				if s.handler.OnPhase != nil {
					s.handler.OnPhase(workspace, phase)
				}
				return nil
			})
		},
		OnProgress: func(text, delta string) {
			v := s.gate.Advance(stream)
			s.emit("monitor", workspace, s.gate.Guard(stream, v, false, func(ctx context.Context) error {
				if s.handler.OnProgress != nil {
					s.handler.OnProgress(workspace, text, delta)
				}
				return nil
			}))
		},
		OnProcessLog: func(lines []string) {
			cleaned := textclass.SanitizeActivityLines(strings.Join(lines, "\n"))
			if cleaned == "" {
				return
			}
			lines = strings.Split(cleaned, "\n")
			s.emit("monitor", workspace, func(ctx context.Context) error {
				if s.handler.OnProcessLog != nil {
					s.handler.OnProcessLog(workspace, lines)
				}
				return nil
			})
		},
		OnComplete: func(text string, quotaHit bool) {
			output, logs := textclass.SplitOutputAndLogs(textclass.Scrub(text))
			s.record("complete", workspace, map[string]any{
				"output":   output,
				"quotaHit": quotaHit,
			})
			v := s.gate.Advance(stream)
			s.emit("monitor", workspace, s.gate.Guard(stream, v, true, func(ctx context.Context) error {
				if s.handler.OnComplete != nil {
					s.handler.OnComplete(workspace, output, logs, quotaHit)
				}
				return nil
			}))
		},
		OnTimeout: func(partial string) {
			s.record("timeout", workspace, map[string]string{"partial": partial})
			v := s.gate.Advance(stream)
			s.emit("monitor", workspace, s.gate.Guard(stream, v, true, func(ctx context.Context) error {
				if s.handler.OnTimeout != nil {
					s.handler.OnTimeout(workspace, textclass.Scrub(partial))
				}
				return nil
			}))
		},
	})

	s.pool.RegisterMonitor(workspace, m)
	m.Start(context.Background())
}

// Approve clicks the pending approval's confirm button.
func (s *Service) Approve(ctx context.Context, workspace string) bool {
	a, _, _, _ := s.pool.Detectors(workspace)
	if a == nil {
		return false
	}
	return a.Approve(ctx)
}

// Deny clicks the pending approval's reject button.
func (s *Service) Deny(ctx context.Context, workspace string) bool {
	a, _, _, _ := s.pool.Detectors(workspace)
	if a == nil {
		return false
	}
	return a.Deny(ctx)
}

// AlwaysAllow grants a standing approval, expanding the overflow menu when
// the option is not directly visible.
func (s *Service) AlwaysAllow(ctx context.Context, workspace string) bool {
	a, _, _, _ := s.pool.Detectors(workspace)
	if a == nil {
		return false
	}
	return a.AlwaysAllow(ctx)
}

// OpenPlan opens the pending plan for review.
func (s *Service) OpenPlan(ctx context.Context, workspace string) bool {
	_, p, _, _ := s.pool.Detectors(workspace)
	if p == nil {
		return false
	}
	return p.Open(ctx)
}

// ProceedPlan accepts the pending plan.
func (s *Service) ProceedPlan(ctx context.Context, workspace string) bool {
	_, p, _, _ := s.pool.Detectors(workspace)
	if p == nil {
		return false
	}
	return p.Proceed(ctx)
}

// StopGeneration clicks stop and finishes the current turn with whatever
// text was captured.
func (s *Service) StopGeneration(ctx context.Context, workspace string) {
	if m := s.pool.Monitor(workspace); m != nil {
		m.ClickStop(ctx)
	}
}

// Unacked returns journaled events not yet acknowledged.
func (s *Service) Unacked() []journal.Event {
	return s.journal.Unacked()
}

// Ack marks events up to seq as delivered.
func (s *Service) Ack(seq int64) error {
	return s.journal.AckUpto(seq)
}

// Workspaces lists the watched workspaces. An evicted workspace stays
// listed until Unwatch so the daemon can reconnect it after an IDE restart.
func (s *Service) Workspaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.watched))
	for ws := range s.watched {
		keys = append(keys, ws)
	}
	sort.Strings(keys)
	return keys
}

// Close shuts the pool, the dispatcher and the journal down.
func (s *Service) Close() {
	s.pool.Close()
	s.cancel()
	if err := s.journal.Close(); err != nil {
		logging.Warnf("Journal close: %v", err)
	}
}
