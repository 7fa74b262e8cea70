package cdp

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ide-relay/relayd/internal/config"
	"github.com/ide-relay/relayd/internal/logging"
	"github.com/ide-relay/relayd/internal/metrics"
)

type callResult struct {
	result json.RawMessage
	err    error
}

// Client owns one debug-protocol websocket for one workspace window. All
// remote reads and actions go through Call/Evaluate; the pending-call table
// and the context list are touched only under the client's locks.
type Client struct {
	workspace string
	cfg       *config.RemoteConfig
	disc      *Discoverer

	mu       sync.Mutex // guards conn, targetID, wsURL, reconnecting, attempts
	conn     *websocket.Conn
	targetID string
	wsURL    string

	seq       atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan callResult

	contexts contextTable

	done         chan struct{}
	closeOnce    sync.Once
	reconnecting bool

	onDisconnected    func()
	onReconnectFailed func(err error)
}

func NewClient(workspace string, cfg *config.RemoteConfig, disc *Discoverer) *Client {
	return &Client{
		workspace: workspace,
		cfg:       cfg,
		disc:      disc,
		pending:   make(map[int64]chan callResult),
		done:      make(chan struct{}),
	}
}

func (c *Client) Workspace() string { return c.workspace }

func (c *Client) SetOnDisconnected(handler func()) {
	c.onDisconnected = handler
}

func (c *Client) SetOnReconnectFailed(handler func(err error)) {
	c.onReconnectFailed = handler
}

// Connect discovers the workspace's page target and binds to it. It is
// idempotent: already bound to the same target means revalidate only; a
// different target means the window was replaced, so reconnect.
func (c *Client) Connect(ctx context.Context) error {
	target, err := c.disc.DiscoverTarget(ctx, c.workspace)
	if err != nil {
		return err
	}

	c.mu.Lock()
	sameTarget := c.conn != nil && c.targetID == target.ID
	c.mu.Unlock()

	if sameTarget {
		if err := c.revalidate(ctx); err == nil {
			return nil
		}
		logging.Warnf("Stale binding for %s, reconnecting", c.workspace)
	}

	return c.dial(ctx, target)
}

func (c *Client) dial(ctx context.Context, target *TargetInfo) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target.WebSocketDebuggerURL, nil)
	if err != nil {
		return &ConnectionError{Workspace: c.workspace, Reason: err.Error()}
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.targetID = target.ID
	c.wsURL = target.WebSocketDebuggerURL
	c.reconnecting = false
	c.mu.Unlock()

	c.contexts.reset()

	go c.reader(conn)

	// Context lifecycle events only flow after Runtime.enable.
	if _, err := c.Call(ctx, "Runtime.enable", nil); err != nil {
		logging.Warnf("Runtime.enable failed for %s: %v", c.workspace, err)
	}

	logging.Infof("Connected workspace %s to target %s", c.workspace, target.ID)
	return nil
}

// revalidate runs a trivial evaluation to prove the binding is still live.
func (c *Client) revalidate(ctx context.Context) error {
	_, err := c.Evaluate(ctx, "1", EvalOptions{ReturnByValue: true})
	return err
}

// Connected reports whether the websocket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) reader(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		current := c.conn == conn
		if current {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()

		if !current {
			// A newer dial already replaced this connection; calls pending
			// on the replacement belong to its reader, not this one.
			return
		}

		c.failPending(&TransportError{Op: "read"})

		select {
		case <-c.done:
			return
		default:
		}
		c.reconnect()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			logging.Debugf("Read error for %s: %v", c.workspace, err)
			return
		}

		var envelope struct {
			ID     int64           `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(message, &envelope); err != nil {
			logging.Warnf("Failed to parse message from %s: %v", c.workspace, err)
			continue
		}

		if envelope.ID != 0 {
			res := callResult{result: envelope.Result}
			if envelope.Error != nil {
				res.err = &EvaluationError{Detail: envelope.Error.Message}
			}
			c.deliver(envelope.ID, res)
			continue
		}

		c.handleEvent(envelope.Method, envelope.Params)
	}
}

func (c *Client) handleEvent(method string, params json.RawMessage) {
	switch method {
	case "Runtime.executionContextCreated":
		c.contexts.onCreated(params)
	case "Runtime.executionContextDestroyed":
		c.contexts.onDestroyed(params)
	case "Runtime.executionContextsCleared":
		c.contexts.reset()
	}
}

func (c *Client) deliver(id int64, res callResult) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- res
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan callResult)
	c.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: err}
	}
}

// Call issues one protocol call and waits for its response. It fails with
// TransportError when the socket is not open and TimeoutError when no
// response arrives within the configured call timeout.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, &TransportError{Op: method}
	}

	id := c.seq.Add(1)
	ch := make(chan callResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	msg := map[string]any{"id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}

	c.mu.Lock()
	err := conn.WriteJSON(msg)
	c.mu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, &TransportError{Op: method}
	}

	timeout := time.Duration(c.cfg.CallTimeoutMs) * time.Millisecond
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.result, res.err
	case <-timer.C:
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, &TimeoutError{Method: method}
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, &TransportError{Op: method}
	}
}

// EvalOptions scope one remote evaluation.
type EvalOptions struct {
	// ContextID targets a specific execution context; zero means the page's
	// default context.
	ContextID     int
	ReturnByValue bool
	AwaitPromise  bool
}

// Evaluate runs an expression in the remote page and returns its JSON value.
// A remote exception surfaces as EvaluationError.
func (c *Client) Evaluate(ctx context.Context, expression string, opts EvalOptions) (json.RawMessage, error) {
	params := map[string]any{
		"expression":    expression,
		"returnByValue": opts.ReturnByValue,
		"awaitPromise":  opts.AwaitPromise,
	}
	if opts.ContextID != 0 {
		params["contextId"] = opts.ContextID
	}

	started := time.Now()
	raw, err := c.Call(ctx, "Runtime.evaluate", params)
	metrics.EvaluateDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}

	var result struct {
		Result struct {
			Type        string          `json:"type"`
			Value       json.RawMessage `json:"value"`
			Description string          `json:"description"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &EvaluationError{Detail: err.Error()}
	}
	if result.ExceptionDetails != nil {
		detail := result.ExceptionDetails.Text
		if result.ExceptionDetails.Exception != nil && result.ExceptionDetails.Exception.Description != "" {
			detail = result.ExceptionDetails.Exception.Description
		}
		return nil, &EvaluationError{Detail: detail}
	}
	return result.Result.Value, nil
}

// PrimaryContextID returns the execution context evaluate calls should
// target. Zero means fall back to the default context.
func (c *Client) PrimaryContextID() int {
	return c.contexts.primary()
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	if c.onDisconnected != nil {
		c.onDisconnected()
	}

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempts := 0
	for attempts < c.cfg.ReconnectBudget {
		delay := c.backoffDelay(attempts)
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		attempts++
		metrics.Reconnects.Inc()
		logging.Infof("Reconnect attempt %d/%d for %s", attempts, c.cfg.ReconnectBudget, c.workspace)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.cfg.CallTimeoutMs)*time.Millisecond)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			logging.Infof("Reconnected %s", c.workspace)
			return
		}
	}

	err := &ReconnectExhausted{Workspace: c.workspace, Attempts: attempts}
	logging.Errorf("%v", err)
	if c.onReconnectFailed != nil {
		c.onReconnectFailed(err)
	}
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	schedule := c.cfg.ReconnectBackoffMs
	if attempt >= len(schedule) {
		attempt = len(schedule) - 1
	}
	return time.Duration(schedule[attempt]) * time.Millisecond
}

// Close tears the connection down. Terminal: a closed client never reconnects.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.failPending(&TransportError{Op: "close"})
}
