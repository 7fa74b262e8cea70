package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/ide-relay/relayd/internal/cdp"
	"github.com/ide-relay/relayd/internal/config"
	"github.com/ide-relay/relayd/internal/detect"
	"github.com/ide-relay/relayd/internal/surface"
)

// fakeIDE is a minimal debug endpoint: one page target, evaluate answers 1.
type fakeIDE struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	dials    atomic.Int64
}

func newFakeIDE(t *testing.T) *fakeIDE {
	t.Helper()
	f := &fakeIDE{}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]cdp.TargetInfo{{
			ID:                   "t1",
			Type:                 "page",
			Title:                "myws",
			URL:                  "file:///myws",
			WebSocketDebuggerURL: "ws://" + r.Host + "/devtools/page/t1",
		}})
	})
	mux.HandleFunc("/devtools/page/t1", func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.dials.Add(1)
		defer conn.Close()
		for {
			var req struct {
				ID     int64  `json:"id"`
				Method string `json:"method"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			switch req.Method {
			case "Runtime.evaluate":
				conn.WriteJSON(map[string]any{
					"id":     req.ID,
					"result": map[string]any{"result": map[string]any{"type": "number", "value": 1}},
				})
			default:
				conn.WriteJSON(map[string]any{"id": req.ID, "result": map[string]any{}})
			}
		}
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func testPool(t *testing.T, f *fakeIDE) *Pool {
	t.Helper()
	port := f.srv.Listener.Addr().(*net.TCPAddr).Port
	dir := t.TempDir()
	content := fmt.Sprintf("%d\n/devtools/browser/abc", port)
	if err := os.WriteFile(filepath.Join(dir, "DevToolsActivePort"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Discovery.ProfileDir = dir
	cfg.Remote.CallTimeoutMs = 2000
	cfg.Remote.ReconnectBackoffMs = []int{10}
	cfg.Remote.ReconnectBudget = 1

	p := New(cfg, cdp.NewDiscoverer(&cfg.Discovery))
	t.Cleanup(p.Close)
	return p
}

func TestGetOrConnectSingleFlight(t *testing.T) {
	f := newFakeIDE(t)
	p := testPool(t, f)

	const callers = 10
	clients := make([]*cdp.Client, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.GetOrConnect(context.Background(), "/home/user/myws")
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			clients[i] = c
		}()
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if clients[i] != clients[0] {
			t.Fatal("concurrent callers got different clients")
		}
	}
	if n := f.dials.Load(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
}

func TestGetOrConnectReusesHealthyConnection(t *testing.T) {
	f := newFakeIDE(t)
	p := testPool(t, f)
	ctx := context.Background()

	c1, err := p.GetOrConnect(ctx, "/home/user/myws")
	if err != nil {
		t.Fatal(err)
	}
	c2, err := p.GetOrConnect(ctx, "/home/user/myws")
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatal("healthy connection not reused")
	}
	if n := f.dials.Load(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
}

func TestDisconnectWorkspaceTearsDown(t *testing.T) {
	f := newFakeIDE(t)
	p := testPool(t, f)
	ctx := context.Background()

	c, err := p.GetOrConnect(ctx, "/home/user/myws")
	if err != nil {
		t.Fatal(err)
	}

	obs := p.Observer("/home/user/myws")
	d := detect.NewApprovalDetector(obs, &config.Default().Detect, nil, nil)
	p.RegisterApprovalDetector("/home/user/myws", d)
	d.Start(ctx)

	p.DisconnectWorkspace("/home/user/myws")

	if len(p.Keys()) != 0 {
		t.Fatalf("keys = %v, want empty", p.Keys())
	}
	if d.Running() {
		t.Error("detector still running after teardown")
	}
	if c.Connected() {
		t.Error("client still connected after teardown")
	}
}

func TestRegisterReplacesAndStopsPrevious(t *testing.T) {
	f := newFakeIDE(t)
	p := testPool(t, f)
	ctx := context.Background()

	if _, err := p.GetOrConnect(ctx, "/home/user/myws"); err != nil {
		t.Fatal(err)
	}
	var obs surface.Observer = p.Observer("/home/user/myws")

	first := detect.NewApprovalDetector(obs, &config.Default().Detect, nil, nil)
	p.RegisterApprovalDetector("/home/user/myws", first)
	first.Start(ctx)

	second := detect.NewApprovalDetector(obs, &config.Default().Detect, nil, nil)
	p.RegisterApprovalDetector("/home/user/myws", second)

	if first.Running() {
		t.Error("replaced detector still running")
	}

	a, _, _, _ := p.Detectors("/home/user/myws")
	if a != second {
		t.Error("registry does not hold the replacement")
	}
}

func TestRegisterBeforeConnectThenGetOrConnect(t *testing.T) {
	f := newFakeIDE(t)
	p := testPool(t, f)
	ctx := context.Background()

	// Registration is valid before the first connect; the entry it creates
	// has no client yet.
	d := detect.NewApprovalDetector(nil, &config.Default().Detect, nil, nil)
	p.RegisterApprovalDetector("/home/user/myws", d)

	c, err := p.GetOrConnect(ctx, "/home/user/myws")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Connected() {
		t.Fatal("not connected after GetOrConnect")
	}

	a, _, _, _ := p.Detectors("/home/user/myws")
	if a != d {
		t.Fatal("early-registered detector lost by connect")
	}
	if p.Observer("/home/user/myws") == nil {
		t.Fatal("observer missing after connect")
	}
}

func TestObserverNilForUnknownWorkspace(t *testing.T) {
	f := newFakeIDE(t)
	p := testPool(t, f)

	if obs := p.Observer("/never/connected"); obs != nil {
		t.Fatal("observer for unknown workspace should be nil")
	}
}
