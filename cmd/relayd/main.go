package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ide-relay/relayd/internal/cdp"
	"github.com/ide-relay/relayd/internal/config"
	"github.com/ide-relay/relayd/internal/detect"
	"github.com/ide-relay/relayd/internal/logging"
	"github.com/ide-relay/relayd/internal/metrics"
	"github.com/ide-relay/relayd/internal/monitor"
	"github.com/ide-relay/relayd/internal/relay"
)

const Version = "0.1.0"

func main() {
	// Check for subcommands first
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "targets":
			runTargetsCommand(os.Args[2:])
			return
		case "version":
			runVersionCommand()
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	// Default: run as daemon
	runDaemon()
}

func printHelp() {
	fmt.Println(`relayd - IDE relay daemon

Usage:
  relayd [command] [options]

Commands:
  (none)       Run as daemon (default)
  targets      List debuggable IDE targets
  version      Show version information
  help         Show this help

Daemon Options:
  -config string  Path to config file (default "/etc/relayd/config.yaml")

Subcommand Options:
  -json         Output in JSON format`)
}

func runVersionCommand() {
	fmt.Printf("relayd version %s\n", Version)
}

func runTargetsCommand(args []string) {
	fs := flag.NewFlagSet("targets", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	configPath := fs.String("config", "/etc/relayd/config.yaml", "Path to config file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		cfg = config.Default()
	}

	disc := cdp.NewDiscoverer(&cfg.Discovery)
	port, err := disc.ActivePort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	targets, err := disc.ListTargets(ctx, port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(targets)
		return
	}
	for _, t := range targets {
		fmt.Printf("%-8s %-40s %s\n", t.Type, t.Title, t.URL)
	}
}

func runDaemon() {
	configPath := flag.String("config", "/etc/relayd/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.Daemon.LogLevel)
	defer logging.Sync()

	if err := run(cfg); err != nil {
		logging.Fatalf("Daemon error: %v", err)
	}
}

func run(cfg *config.Config) error {
	svc, err := relay.New(cfg, logHandler())
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.Daemon.MetricsListen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Daemon.MetricsListen, mux); err != nil {
				logging.Errorf("Metrics listener: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, ws := range flag.Args() {
		if err := svc.Watch(ctx, ws); err != nil {
			logging.Warnf("Watch %s failed: %v", ws, err)
		}
	}

	// Re-watch everything when the IDE relaunches and rewrites its port file.
	watcher, err := cdp.NewPortWatcher(cfg.Discovery.ProfileDir)
	if err != nil {
		logging.Warnf("Port watcher unavailable: %v", err)
	} else {
		defer watcher.Close()
		go func() {
			for range watcher.Changed {
				logging.Infof("Debug port changed, reconnecting workspaces")
				for _, ws := range svc.Workspaces() {
					if err := svc.Watch(ctx, ws); err != nil {
						logging.Warnf("Rewatch %s failed: %v", ws, err)
					}
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Infof("Shutting down")
	return nil
}

// logHandler emits every event as a structured log line. Deployments embed
// the relay package directly when they need more than logs.
func logHandler() relay.Handler {
	return relay.Handler{
		OnApproval: func(ws string, info *detect.ApprovalInfo) {
			logging.Infof("[%s] approval pending: %s / %s", ws, info.ApproveText, info.DenyText)
		},
		OnApprovalResolved: func(ws string) {
			logging.Infof("[%s] approval resolved", ws)
		},
		OnPlanning: func(ws string, info *detect.PlanningInfo) {
			logging.Infof("[%s] plan ready: %s / %s", ws, info.OpenText, info.ProceedText)
		},
		OnPlanningResolved: func(ws string) {
			logging.Infof("[%s] plan resolved", ws)
		},
		OnErrorPopup: func(ws string, info *detect.ErrorPopupInfo) {
			logging.Warnf("[%s] error popup: %s", ws, info.Title)
		},
		OnUserMessage: func(ws string, info *detect.UserMessageInfo) {
			logging.Infof("[%s] user message (%d chars)", ws, len(info.Text))
		},
		OnPhase: func(ws string, phase monitor.Phase) {
			logging.Infof("[%s] phase %s", ws, phase)
		},
		OnProgress: func(ws string, text, delta string) {
			logging.Debugf("[%s] progress +%d chars", ws, len(delta))
		},
		OnProcessLog: func(ws string, lines []string) {
			for _, line := range lines {
				logging.Debugf("[%s] activity: %s", ws, line)
			}
		},
		OnComplete: func(ws string, output, logs string, quotaHit bool) {
			logging.Infof("[%s] response complete (%d chars, quotaHit=%v)", ws, len(output), quotaHit)
		},
		OnTimeout: func(ws string, partial string) {
			logging.Warnf("[%s] response timed out with %d chars captured", ws, len(partial))
		},
		OnEvicted: func(ws string, reason error) {
			logging.Errorf("[%s] evicted: %v", ws, reason)
		},
	}
}
