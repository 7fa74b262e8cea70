package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ide-relay/relayd/internal/config"
)

func listServer(t *testing.T, targets []TargetInfo) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(targets)
	}))
	t.Cleanup(srv.Close)
	return srv.Listener.Addr().(*net.TCPAddr).Port
}

func discovererFor(t *testing.T, port int) *Discoverer {
	t.Helper()
	return NewDiscoverer(&config.DiscoveryConfig{
		ProfileDir:    writeProfileDir(t, port),
		HTTPTimeoutMs: 2000,
	})
}

func TestDiscoverTargetMatchesByTitle(t *testing.T) {
	port := listServer(t, []TargetInfo{
		{ID: "a", Type: "page", Title: "otherproj — Editor", URL: "file:///otherproj", WebSocketDebuggerURL: "ws://x/a"},
		{ID: "b", Type: "page", Title: "myws — Editor", URL: "file:///myws", WebSocketDebuggerURL: "ws://x/b"},
		{ID: "c", Type: "service_worker", Title: "myws", URL: "", WebSocketDebuggerURL: "ws://x/c"},
	})
	d := discovererFor(t, port)

	target, err := d.DiscoverTarget(context.Background(), "/home/user/myws")
	if err != nil {
		t.Fatal(err)
	}
	if target.ID != "b" {
		t.Fatalf("target = %s, want b", target.ID)
	}
}

func TestDiscoverTargetSinglePageFallback(t *testing.T) {
	port := listServer(t, []TargetInfo{
		{ID: "only", Type: "page", Title: "Untitled", URL: "file:///elsewhere", WebSocketDebuggerURL: "ws://x/only"},
	})
	d := discovererFor(t, port)

	target, err := d.DiscoverTarget(context.Background(), "/home/user/myws")
	if err != nil {
		t.Fatal(err)
	}
	if target.ID != "only" {
		t.Fatalf("target = %s, want the single page", target.ID)
	}
}

func TestDiscoverTargetAmbiguousFails(t *testing.T) {
	port := listServer(t, []TargetInfo{
		{ID: "a", Type: "page", Title: "one", URL: "file:///one", WebSocketDebuggerURL: "ws://x/a"},
		{ID: "b", Type: "page", Title: "two", URL: "file:///two", WebSocketDebuggerURL: "ws://x/b"},
	})
	d := discovererFor(t, port)

	_, err := d.DiscoverTarget(context.Background(), "/home/user/myws")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
}

func TestActivePort(t *testing.T) {
	dir := t.TempDir()
	d := NewDiscoverer(&config.DiscoveryConfig{ProfileDir: dir, HTTPTimeoutMs: 2000})

	if _, err := d.ActivePort(); err == nil {
		t.Fatal("want error for missing port file")
	}

	path := filepath.Join(dir, "DevToolsActivePort")
	if err := os.WriteFile(path, []byte("not-a-port\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ActivePort(); err == nil {
		t.Fatal("want error for garbage port file")
	}

	if err := os.WriteFile(path, []byte("9229\n/devtools/browser/abc"), 0644); err != nil {
		t.Fatal(err)
	}
	port, err := d.ActivePort()
	if err != nil {
		t.Fatal(err)
	}
	if port != 9229 {
		t.Fatalf("port = %d, want 9229", port)
	}
}

func TestPortWatcherSignalsRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "DevToolsActivePort")
	if err := os.WriteFile(path, []byte("9229\n"), 0644); err != nil {
		t.Fatal(err)
	}

	pw, err := NewPortWatcher(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer pw.Close()

	if err := os.WriteFile(path, []byte("9230\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-pw.Changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no change signal after port file rewrite")
	}

	// Unrelated files in the profile dir do not signal.
	if err := os.WriteFile(filepath.Join(dir, "Preferences"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-pw.Changed:
		t.Fatal("signal for unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}
