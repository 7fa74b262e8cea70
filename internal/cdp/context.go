package cdp

import (
	"encoding/json"
	"sync"
)

// ExecutionContext is one addressable evaluation scope on the remote page.
type ExecutionContext struct {
	ID       int
	Name     string
	Origin   string
	FrameURL string
	// Default marks the page's generic top-level context. Panel-specific
	// contexts (assistant webviews) report false.
	Default bool
}

type contextTable struct {
	mu   sync.Mutex
	list []ExecutionContext
}

func (t *contextTable) onCreated(params json.RawMessage) {
	var payload struct {
		Context struct {
			ID      int    `json:"id"`
			Name    string `json:"name"`
			Origin  string `json:"origin"`
			AuxData struct {
				IsDefault bool   `json:"isDefault"`
				FrameID   string `json:"frameId"`
				Type      string `json:"type"`
			} `json:"auxData"`
		} `json:"context"`
	}
	if err := json.Unmarshal(params, &payload); err != nil {
		return
	}

	ec := ExecutionContext{
		ID:      payload.Context.ID,
		Name:    payload.Context.Name,
		Origin:  payload.Context.Origin,
		Default: payload.Context.AuxData.IsDefault,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.list {
		if t.list[i].ID == ec.ID {
			t.list[i] = ec
			return
		}
	}
	t.list = append(t.list, ec)
}

func (t *contextTable) onDestroyed(params json.RawMessage) {
	var payload struct {
		ExecutionContextID int `json:"executionContextId"`
	}
	if err := json.Unmarshal(params, &payload); err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.list {
		if t.list[i].ID == payload.ExecutionContextID {
			t.list = append(t.list[:i], t.list[i+1:]...)
			return
		}
	}
}

func (t *contextTable) reset() {
	t.mu.Lock()
	t.list = nil
	t.mu.Unlock()
}

// primary picks the context evaluate calls should target: the newest
// panel-specific context when one exists, otherwise the newest default one.
// Zero means no context is known yet; callers fall back to the page default.
func (t *contextTable) primary() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.list) - 1; i >= 0; i-- {
		if !t.list[i].Default {
			return t.list[i].ID
		}
	}
	for i := len(t.list) - 1; i >= 0; i-- {
		if t.list[i].Default {
			return t.list[i].ID
		}
	}
	return 0
}

func (t *contextTable) snapshot() []ExecutionContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ExecutionContext, len(t.list))
	copy(out, t.list)
	return out
}

// Contexts returns the currently known execution contexts.
func (c *Client) Contexts() []ExecutionContext {
	return c.contexts.snapshot()
}
