package surface

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ide-relay/relayd/internal/cdp"
)

// Remote implements Observer over a debug-protocol client. Every read is one
// evaluation in the panel's primary execution context; the probe helper is
// installed lazily and reinstalled after a page reload.
type Remote struct {
	client *cdp.Client

	mu        sync.Mutex
	probeCtx  int // context the probe was installed into
	installed bool
}

func NewRemote(client *cdp.Client) *Remote {
	return &Remote{client: client}
}

func (r *Remote) eval(ctx context.Context, expr string, out any) error {
	ctxID := r.client.PrimaryContextID()
	if err := r.ensureProbe(ctx, ctxID); err != nil {
		return err
	}

	raw, err := r.client.Evaluate(ctx, expr, cdp.EvalOptions{
		ContextID:     ctxID,
		ReturnByValue: true,
	})
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return nil
}

// ensureProbe installs the probe helper once per (connection, context).
func (r *Remote) ensureProbe(ctx context.Context, ctxID int) error {
	r.mu.Lock()
	ok := r.installed && r.probeCtx == ctxID
	r.mu.Unlock()
	if ok {
		return nil
	}

	_, err := r.client.Evaluate(ctx, scriptBootstrap, cdp.EvalOptions{
		ContextID:     ctxID,
		ReturnByValue: true,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.installed = true
	r.probeCtx = ctxID
	r.mu.Unlock()
	return nil
}

// Invalidate forces probe reinstall on the next read. Called after reconnect.
func (r *Remote) Invalidate() {
	r.mu.Lock()
	r.installed = false
	r.mu.Unlock()
}

func (r *Remote) Dialogs(ctx context.Context) ([]Dialog, error) {
	var out []Dialog
	if err := r.eval(ctx, scriptDialogs, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Remote) Buttons(ctx context.Context) ([]Button, error) {
	var out []Button
	if err := r.eval(ctx, scriptButtons, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Remote) ResponseCandidates(ctx context.Context) ([]TextBlock, error) {
	var out []TextBlock
	if err := r.eval(ctx, scriptResponseBlocks, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Remote) ProcessLog(ctx context.Context) ([]string, error) {
	var out []string
	if err := r.eval(ctx, scriptProcessLog, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Remote) LatestUserMessage(ctx context.Context) (string, error) {
	var out string
	if err := r.eval(ctx, scriptLatestUserMessage, &out); err != nil {
		return "", err
	}
	return out, nil
}

func (r *Remote) IsGenerating(ctx context.Context) (bool, error) {
	var out bool
	if err := r.eval(ctx, scriptIsGenerating, &out); err != nil {
		return false, err
	}
	return out, nil
}

func (r *Remote) QuotaExhausted(ctx context.Context) (bool, error) {
	var out bool
	if err := r.eval(ctx, scriptQuotaExhausted, &out); err != nil {
		return false, err
	}
	return out, nil
}

func (r *Remote) ClickButton(ctx context.Context, label string) (bool, error) {
	arg, err := json.Marshal(label)
	if err != nil {
		return false, err
	}
	var out bool
	if err := r.eval(ctx, fmt.Sprintf(scriptClickButton, arg), &out); err != nil {
		return false, err
	}
	return out, nil
}

func (r *Remote) ExpandMoreOptions(ctx context.Context) (bool, error) {
	var out bool
	if err := r.eval(ctx, scriptExpandMenu, &out); err != nil {
		return false, err
	}
	return out, nil
}

func (r *Remote) ClickStop(ctx context.Context) (bool, error) {
	var out bool
	if err := r.eval(ctx, scriptClickStop, &out); err != nil {
		return false, err
	}
	return out, nil
}

func (r *Remote) InsertPrompt(ctx context.Context, text string) error {
	arg, err := json.Marshal(text)
	if err != nil {
		return err
	}
	return r.eval(ctx, fmt.Sprintf(scriptInsertPrompt, arg), nil)
}
