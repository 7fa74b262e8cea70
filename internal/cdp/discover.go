package cdp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ide-relay/relayd/internal/config"
	"github.com/ide-relay/relayd/internal/logging"
)

// TargetInfo describes one debuggable page exposed by the IDE.
type TargetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Discoverer locates the debug endpoint for a workspace window.
type Discoverer struct {
	cfg    *config.DiscoveryConfig
	client *http.Client
}

func NewDiscoverer(cfg *config.DiscoveryConfig) *Discoverer {
	return &Discoverer{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.HTTPTimeoutMs) * time.Millisecond,
		},
	}
}

// ActivePort reads the debug port the IDE wrote on startup.
func (d *Discoverer) ActivePort() (int, error) {
	path := filepath.Join(d.cfg.ProfileDir, "DevToolsActivePort")
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read active port: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return 0, fmt.Errorf("active port file is empty: %s", path)
	}
	port, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("invalid active port in %s: %q", path, scanner.Text())
	}
	return port, nil
}

// ListTargets enumerates every debuggable target on the given port.
func (d *Discoverer) ListTargets(ctx context.Context, port int) ([]TargetInfo, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/json/list", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list targets: status %d", resp.StatusCode)
	}

	var targets []TargetInfo
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("failed to decode target list: %w", err)
	}
	return targets, nil
}

// DiscoverTarget finds the page target for a workspace. The IDE opens one
// window per workspace; its title carries the workspace folder name.
func (d *Discoverer) DiscoverTarget(ctx context.Context, workspacePath string) (*TargetInfo, error) {
	port, err := d.ActivePort()
	if err != nil {
		return nil, &ConnectionError{Workspace: workspacePath, Reason: err.Error()}
	}

	targets, err := d.ListTargets(ctx, port)
	if err != nil {
		return nil, &ConnectionError{Workspace: workspacePath, Reason: err.Error()}
	}

	folder := filepath.Base(filepath.Clean(workspacePath))
	var fallback *TargetInfo
	for i := range targets {
		t := &targets[i]
		if t.Type != "page" || t.WebSocketDebuggerURL == "" {
			continue
		}
		if strings.Contains(t.Title, folder) || strings.Contains(t.URL, folder) {
			return t, nil
		}
		if fallback == nil {
			fallback = t
		}
	}

	// A single window with an unhelpful title is still unambiguous.
	if fallback != nil && countPages(targets) == 1 {
		return fallback, nil
	}
	return nil, &ConnectionError{Workspace: workspacePath, Reason: "no matching page target"}
}

func countPages(targets []TargetInfo) int {
	n := 0
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			n++
		}
	}
	return n
}

// PortWatcher signals rewrites of the DevToolsActivePort file so a relaunched
// IDE is picked up without waiting for the next failed call.
type PortWatcher struct {
	watcher *fsnotify.Watcher
	Changed chan struct{}
	done    chan struct{}
}

func NewPortWatcher(profileDir string) (*PortWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(profileDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch profile dir: %w", err)
	}

	pw := &PortWatcher{
		watcher: watcher,
		Changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go pw.run()
	return pw, nil
}

func (pw *PortWatcher) run() {
	for {
		select {
		case <-pw.done:
			return
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != "DevToolsActivePort" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case pw.Changed <- struct{}{}:
			default:
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			logging.Warnf("Port watcher error: %v", err)
		}
	}
}

func (pw *PortWatcher) Close() {
	close(pw.done)
	_ = pw.watcher.Close()
}
