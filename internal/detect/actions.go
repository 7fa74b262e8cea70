package detect

import (
	"context"
	"time"

	"github.com/ide-relay/relayd/internal/logging"
	"github.com/ide-relay/relayd/internal/surface"
)

// click performs a find-by-normalized-text click. Failure is a boolean, never
// an error: a missed click on a vanished prompt is not actionable.
func click(ctx context.Context, obs surface.Observer, label string) bool {
	if label == "" {
		return false
	}
	ok, err := obs.ClickButton(ctx, label)
	if err != nil {
		logging.Warnf("Click %q failed: %v", label, err)
		return false
	}
	return ok
}

// Approve clicks the detected prompt's approve button, falling back to the
// standard labels when no prompt is currently stored.
func (d *ApprovalDetector) Approve(ctx context.Context) bool {
	if info := d.LastInfo(); info != nil && click(ctx, d.obs, info.ApproveText) {
		return true
	}
	return clickAny(ctx, d.obs, approveLabels)
}

// Deny clicks the detected prompt's deny button.
func (d *ApprovalDetector) Deny(ctx context.Context) bool {
	if info := d.LastInfo(); info != nil && click(ctx, d.obs, info.DenyText) {
		return true
	}
	return clickAny(ctx, d.obs, denyLabels)
}

var alwaysAllowLabels = []string{"always allow", "allow always", "always allow this tool", "don't ask again"}

// AlwaysAllow tries the direct always-allow candidates, then expands the
// secondary options menu and retries, bounded by the configured attempt
// budget with a short backoff between attempts.
func (d *ApprovalDetector) AlwaysAllow(ctx context.Context) bool {
	cfg := d.cfg
	backoff := time.Duration(cfg.AlwaysAllowBackoffMs) * time.Millisecond

	for attempt := 0; attempt < cfg.AlwaysAllowMaxAttempts; attempt++ {
		if clickAny(ctx, d.obs, alwaysAllowLabels) {
			return true
		}
		if expanded, err := d.obs.ExpandMoreOptions(ctx); err == nil && expanded {
			if clickAny(ctx, d.obs, alwaysAllowLabels) {
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
	}
	return false
}

// Open clicks the plan's open button.
func (d *PlanningDetector) Open(ctx context.Context) bool {
	if info := d.LastInfo(); info != nil && click(ctx, d.obs, info.OpenText) {
		return true
	}
	return clickAny(ctx, d.obs, openLabels)
}

// Proceed clicks the plan's proceed button.
func (d *PlanningDetector) Proceed(ctx context.Context) bool {
	if info := d.LastInfo(); info != nil && click(ctx, d.obs, info.ProceedText) {
		return true
	}
	return clickAny(ctx, d.obs, proceedLabels)
}

func clickAny(ctx context.Context, obs surface.Observer, labels []string) bool {
	for _, label := range labels {
		if click(ctx, obs, label) {
			return true
		}
	}
	return false
}
