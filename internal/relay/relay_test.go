package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ide-relay/relayd/internal/config"
	"github.com/ide-relay/relayd/internal/detect"
	"github.com/ide-relay/relayd/internal/journal"
)

// fakeIDE answers probe evaluations by expression shape. Panel state is
// swapped through atomics so tests can script what the detectors see.
type fakeIDE struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	showApproval atomic.Bool
	inserts      atomic.Int64
}

func newFakeIDE(t *testing.T) *fakeIDE {
	t.Helper()
	f := &fakeIDE{}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{{
			"id":                   "t1",
			"type":                 "page",
			"title":                "myws",
			"url":                  "file:///myws",
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/page/t1",
		}})
	})
	mux.HandleFunc("/devtools/page/t1", f.handlePage)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIDE) handlePage(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	for {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
			Params struct {
				Expression string `json:"expression"`
			} `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Method != "Runtime.evaluate" {
			conn.WriteJSON(map[string]any{"id": req.ID, "result": map[string]any{}})
			continue
		}
		conn.WriteJSON(map[string]any{
			"id": req.ID,
			"result": map[string]any{
				"result": map[string]any{"type": "object", "value": f.evaluate(req.Params.Expression)},
			},
		})
	}
}

func (f *fakeIDE) evaluate(expr string) any {
	switch {
	case strings.Contains(expr, ".dialogs("):
		if !f.showApproval.Load() {
			return []any{}
		}
		return []map[string]any{{
			"kind":  "approval",
			"title": "Tool approval",
			"body":  "Run `ls`?",
			"buttons": []map[string]any{
				{"label": "Allow"},
				{"label": "Deny"},
			},
		}}
	case strings.Contains(expr, ".insertPrompt("):
		f.inserts.Add(1)
		return nil
	case strings.Contains(expr, ".latestUserMessage("):
		return ""
	case strings.Contains(expr, ".isGenerating("), strings.Contains(expr, ".quotaExhausted("),
		strings.Contains(expr, ".clickStop("), strings.Contains(expr, ".expandMoreOptions("),
		strings.Contains(expr, ".clickButton("):
		return false
	case strings.Contains(expr, ".buttons("), strings.Contains(expr, ".responseBlocks("),
		strings.Contains(expr, ".processLog("):
		return []any{}
	default:
		// Probe bootstrap and revalidation expressions.
		return true
	}
}

// kill shuts the fake IDE down for good: Close alone leaves hijacked
// websocket connections open (the server stops tracking them at
// StateHijacked), so they are closed explicitly here.
func (f *fakeIDE) kill() {
	f.srv.Close()
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

func testService(t *testing.T, f *fakeIDE, handler Handler) *Service {
	t.Helper()
	port := f.srv.Listener.Addr().(*net.TCPAddr).Port
	dir := t.TempDir()
	content := fmt.Sprintf("%d\n/devtools/browser/abc", port)
	if err := os.WriteFile(filepath.Join(dir, "DevToolsActivePort"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Discovery.ProfileDir = dir
	cfg.Storage.StateDir = t.TempDir()
	cfg.Detect.PollIntervalMs = 20
	cfg.Monitor.PollIntervalMs = 20
	cfg.Remote.ReconnectBackoffMs = []int{10}
	cfg.Remote.ReconnectBudget = 1

	svc, err := New(cfg, handler)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func TestWatchEmitsApproval(t *testing.T) {
	f := newFakeIDE(t)
	approvals := make(chan *detect.ApprovalInfo, 1)
	resolved := make(chan struct{}, 1)
	svc := testService(t, f, Handler{
		OnApproval: func(ws string, info *detect.ApprovalInfo) {
			select {
			case approvals <- info:
			default:
			}
		},
		OnApprovalResolved: func(ws string) {
			select {
			case resolved <- struct{}{}:
			default:
			}
		},
	})

	if err := svc.Watch(context.Background(), "/home/user/myws"); err != nil {
		t.Fatal(err)
	}

	f.showApproval.Store(true)
	select {
	case info := <-approvals:
		if info.ApproveText != "Allow" || info.DenyText != "Deny" {
			t.Fatalf("info = %+v", info)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no approval event")
	}

	f.showApproval.Store(false)
	select {
	case <-resolved:
	case <-time.After(5 * time.Second):
		t.Fatal("no resolve event")
	}

	var kinds []string
	for _, evt := range svc.Unacked() {
		kinds = append(kinds, evt.Kind)
	}
	if !containsKind(svc.Unacked(), "approval") || !containsKind(svc.Unacked(), "approvalResolved") {
		t.Fatalf("journal kinds = %v", kinds)
	}
}

func TestSendPromptInsertsAndJournals(t *testing.T) {
	f := newFakeIDE(t)
	svc := testService(t, f, Handler{})

	if err := svc.Watch(context.Background(), "/home/user/myws"); err != nil {
		t.Fatal(err)
	}
	if err := svc.SendPrompt(context.Background(), "/home/user/myws", "fix the build"); err != nil {
		t.Fatal(err)
	}

	if n := f.inserts.Load(); n != 1 {
		t.Fatalf("insertPrompt calls = %d, want 1", n)
	}
	if !containsKind(svc.Unacked(), "promptSent") {
		t.Fatal("promptSent not journaled")
	}
}

func TestAckPrunesJournal(t *testing.T) {
	f := newFakeIDE(t)
	svc := testService(t, f, Handler{})

	if err := svc.Watch(context.Background(), "/home/user/myws"); err != nil {
		t.Fatal(err)
	}
	if err := svc.SendPrompt(context.Background(), "/home/user/myws", "hello"); err != nil {
		t.Fatal(err)
	}

	events := svc.Unacked()
	if len(events) == 0 {
		t.Fatal("no journaled events")
	}
	last := events[len(events)-1].Seq
	if err := svc.Ack(last); err != nil {
		t.Fatal(err)
	}
	if remaining := svc.Unacked(); len(remaining) != 0 {
		t.Fatalf("unacked after ack = %d, want 0", len(remaining))
	}
}

func TestUnwatchRemovesWorkspace(t *testing.T) {
	f := newFakeIDE(t)
	svc := testService(t, f, Handler{})

	if err := svc.Watch(context.Background(), "/home/user/myws"); err != nil {
		t.Fatal(err)
	}
	if len(svc.Workspaces()) != 1 {
		t.Fatalf("workspaces = %v", svc.Workspaces())
	}

	svc.Unwatch("/home/user/myws")
	if len(svc.Workspaces()) != 0 {
		t.Fatalf("workspaces after unwatch = %v", svc.Workspaces())
	}
}

func TestEvictedWorkspaceStaysWatched(t *testing.T) {
	f := newFakeIDE(t)
	evicted := make(chan string, 1)
	svc := testService(t, f, Handler{
		OnEvicted: func(ws string, reason error) {
			select {
			case evicted <- ws:
			default:
			}
		},
	})

	if err := svc.Watch(context.Background(), "/home/user/myws"); err != nil {
		t.Fatal(err)
	}

	// IDE goes away for good; the reconnect budget drains and the pool
	// evicts the connection.
	f.kill()

	select {
	case <-evicted:
	case <-time.After(5 * time.Second):
		t.Fatal("eviction never reported")
	}

	// The workspace must survive eviction so a port-file rewrite can
	// reconnect it.
	if got := svc.Workspaces(); len(got) != 1 || got[0] != "/home/user/myws" {
		t.Fatalf("workspaces after eviction = %v", got)
	}
}

func TestActionWithoutDetectionFallsBack(t *testing.T) {
	f := newFakeIDE(t)
	svc := testService(t, f, Handler{})

	if err := svc.Watch(context.Background(), "/home/user/myws"); err != nil {
		t.Fatal(err)
	}

	// No approval on screen and every click answers false.
	if svc.Approve(context.Background(), "/home/user/myws") {
		t.Fatal("Approve succeeded with nothing to click")
	}
	// Never-watched workspace has no detectors at all.
	if svc.Approve(context.Background(), "/other") {
		t.Fatal("Approve succeeded for unwatched workspace")
	}
}

func containsKind(events []journal.Event, kind string) bool {
	for _, evt := range events {
		if evt.Kind == kind {
			return true
		}
	}
	return false
}
