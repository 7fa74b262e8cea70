package cdp

import "fmt"

// ConnectionError indicates no debuggable target matched the workspace.
type ConnectionError struct {
	Workspace string
	Reason    string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("no target for workspace %s: %s", e.Workspace, e.Reason)
}

// TransportError indicates the websocket is not open.
type TransportError struct {
	Op string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport not open: %s", e.Op)
}

// TimeoutError indicates no response arrived within the call timeout.
type TimeoutError struct {
	Method string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call timed out: %s", e.Method)
}

// EvaluationError carries a remote script failure.
type EvaluationError struct {
	Detail string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("remote evaluation failed: %s", e.Detail)
}

// ReconnectExhausted indicates the reconnect budget was spent. The connection
// is dead and must be evicted.
type ReconnectExhausted struct {
	Workspace string
	Attempts  int
}

func (e *ReconnectExhausted) Error() string {
	return fmt.Sprintf("reconnect budget exhausted for %s after %d attempts", e.Workspace, e.Attempts)
}
