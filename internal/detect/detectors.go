package detect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ide-relay/relayd/internal/config"
	"github.com/ide-relay/relayd/internal/surface"
)

// ApprovalInfo is one tool-approval prompt.
type ApprovalInfo struct {
	ApproveText string
	DenyText    string
	Description string
}

// PlanningInfo is a plan awaiting open/proceed.
type PlanningInfo struct {
	Title       string
	OpenText    string
	ProceedText string
}

// ErrorPopupInfo is an error dialog or toast.
type ErrorPopupInfo struct {
	Title string
	Body  string
}

// UserMessageInfo is a message the user typed directly into the panel.
type UserMessageInfo struct {
	Text string
}

var approveLabels = []string{"allow", "always allow", "accept", "approve", "run", "yes"}
var denyLabels = []string{"deny", "reject", "cancel", "no"}
var openLabels = []string{"open plan", "view plan", "open"}
var proceedLabels = []string{"proceed", "continue", "implement plan", "start implementation"}

func normalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

func matchLabel(label string, candidates []string) bool {
	n := normalizeLabel(label)
	for _, c := range candidates {
		if n == c {
			return true
		}
	}
	return false
}

func findButton(buttons []surface.Button, candidates []string) (surface.Button, bool) {
	for _, b := range buttons {
		if matchLabel(b.Label, candidates) {
			return b, true
		}
	}
	return surface.Button{}, false
}

// bodyKey derives a stable short key from dialog body text, so trailing
// timestamps or counters don't defeat dedup.
func bodyKey(body string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(body)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:12]
}

// messageHash fingerprints user-visible text: whitespace-normalized,
// truncated hash. Shared by detection dedup and echo suppression.
func messageHash(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// ApprovalDetector fires when a tool-approval prompt appears and resolves
// when it disappears.
type ApprovalDetector struct {
	*Poller[ApprovalInfo]
	obs surface.Observer
	cfg *config.DetectConfig
}

func NewApprovalDetector(obs surface.Observer, cfg *config.DetectConfig, onDetected func(*ApprovalInfo), onResolved func()) *ApprovalDetector {
	d := &ApprovalDetector{obs: obs, cfg: cfg}
	interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	d.Poller = newPoller("approval", interval, 0, d.fetch)
	d.Poller.onDetected = onDetected
	d.Poller.onResolved = onResolved
	return d
}

func (d *ApprovalDetector) fetch(ctx context.Context) (*ApprovalInfo, string, error) {
	dialogs, err := d.obs.Dialogs(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, dlg := range dialogs {
		approve, okA := findButton(dlg.Buttons, approveLabels)
		deny, okD := findButton(dlg.Buttons, denyLabels)
		if !okA || !okD {
			continue
		}
		info := &ApprovalInfo{
			ApproveText: approve.Label,
			DenyText:    deny.Label,
			Description: strings.TrimSpace(dlg.Body),
		}
		return info, normalizeLabel(info.ApproveText) + "|" + info.Description, nil
	}
	return nil, "", nil
}

// PlanningDetector fires when a generated plan awaits open/proceed. Its
// cooldown guards against DOM flicker producing duplicate plan events.
type PlanningDetector struct {
	*Poller[PlanningInfo]
	obs surface.Observer
	cfg *config.DetectConfig
}

func NewPlanningDetector(obs surface.Observer, cfg *config.DetectConfig, onDetected func(*PlanningInfo), onResolved func()) *PlanningDetector {
	d := &PlanningDetector{obs: obs, cfg: cfg}
	interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	cooldown := time.Duration(cfg.PlanningCooldownMs) * time.Millisecond
	d.Poller = newPoller("planning", interval, cooldown, d.fetch)
	d.Poller.onDetected = onDetected
	d.Poller.onResolved = onResolved
	return d
}

func (d *PlanningDetector) fetch(ctx context.Context) (*PlanningInfo, string, error) {
	buttons, err := d.obs.Buttons(ctx)
	if err != nil {
		return nil, "", err
	}
	open, okO := findButton(buttons, openLabels)
	proceed, okP := findButton(buttons, proceedLabels)
	if !okO || !okP {
		return nil, "", nil
	}

	info := &PlanningInfo{
		OpenText:    open.Label,
		ProceedText: proceed.Label,
	}
	if dialogs, err := d.obs.Dialogs(ctx); err == nil {
		for _, dlg := range dialogs {
			if strings.Contains(strings.ToLower(dlg.Title), "plan") {
				info.Title = dlg.Title
				break
			}
		}
	}
	// Titles are excluded from the key on purpose: differing plan titles
	// with the same button pair are the same awaiting-plan condition.
	key := normalizeLabel(info.OpenText) + "|" + normalizeLabel(info.ProceedText)
	return info, key, nil
}

// ErrorPopupDetector fires when an error dialog or toast appears.
type ErrorPopupDetector struct {
	*Poller[ErrorPopupInfo]
	obs surface.Observer
}

func NewErrorPopupDetector(obs surface.Observer, cfg *config.DetectConfig, onDetected func(*ErrorPopupInfo), onResolved func()) *ErrorPopupDetector {
	d := &ErrorPopupDetector{obs: obs}
	interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	d.Poller = newPoller("errorPopup", interval, 0, d.fetch)
	d.Poller.onDetected = onDetected
	d.Poller.onResolved = onResolved
	return d
}

func (d *ErrorPopupDetector) fetch(ctx context.Context) (*ErrorPopupInfo, string, error) {
	dialogs, err := d.obs.Dialogs(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, dlg := range dialogs {
		if dlg.Kind != "error" {
			continue
		}
		info := &ErrorPopupInfo{
			Title: strings.TrimSpace(dlg.Title),
			Body:  strings.TrimSpace(dlg.Body),
		}
		return info, info.Title + "|" + bodyKey(info.Body), nil
	}
	return nil, "", nil
}

// UserMessageDetector fires when the user types a message directly in the
// panel. Prompts injected through SendPrompt are absorbed via echo hashes.
type UserMessageDetector struct {
	*Poller[UserMessageInfo]
	obs    surface.Observer
	echoes *echoSet
}

func NewUserMessageDetector(obs surface.Observer, cfg *config.DetectConfig, onDetected func(*UserMessageInfo)) *UserMessageDetector {
	d := &UserMessageDetector{
		obs:    obs,
		echoes: newEchoSet(time.Duration(cfg.EchoTTLMs) * time.Millisecond),
	}
	interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	d.Poller = newPoller("userMessage", interval, 0, d.fetch)
	d.Poller.onDetected = onDetected
	d.Poller.absorb = d.echoes.absorb
	return d
}

func (d *UserMessageDetector) fetch(ctx context.Context) (*UserMessageInfo, string, error) {
	text, err := d.obs.LatestUserMessage(ctx)
	if err != nil {
		return nil, "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, "", nil
	}
	return &UserMessageInfo{Text: text}, messageHash(text), nil
}

// RegisterEcho pre-registers text this system is about to inject, so its
// later appearance is recorded without firing onDetected.
func (d *UserMessageDetector) RegisterEcho(text string) {
	d.echoes.register(messageHash(text))
}
