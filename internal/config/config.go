package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Remote    RemoteConfig    `yaml:"remote"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Detect    DetectConfig    `yaml:"detect"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Storage   StorageConfig   `yaml:"storage"`
}

type DaemonConfig struct {
	// MetricsListen is the address for the Prometheus endpoint. Empty disables it.
	MetricsListen string `yaml:"metrics_listen"`
	LogLevel      string `yaml:"log_level"`
}

type RemoteConfig struct {
	// CallTimeoutMs bounds one protocol call round trip.
	CallTimeoutMs      int   `yaml:"call_timeout_ms"`
	ReconnectBackoffMs []int `yaml:"reconnect_backoff_ms"`
	// ReconnectBudget is the number of reconnect attempts before the
	// connection is declared dead and evicted from the pool.
	ReconnectBudget int `yaml:"reconnect_budget"`
}

type DiscoveryConfig struct {
	// ProfileDir is the IDE user-data directory containing DevToolsActivePort.
	ProfileDir string `yaml:"profile_dir"`
	// HTTPTimeoutMs bounds the /json/list request.
	HTTPTimeoutMs int `yaml:"http_timeout_ms"`
}

type DetectConfig struct {
	PollIntervalMs         int `yaml:"poll_interval_ms"`
	PlanningCooldownMs     int `yaml:"planning_cooldown_ms"`
	EchoTTLMs              int `yaml:"echo_ttl_ms"`
	AlwaysAllowMaxAttempts int `yaml:"always_allow_max_attempts"`
	AlwaysAllowBackoffMs   int `yaml:"always_allow_backoff_ms"`
}

type MonitorConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// CompleteConfirmCount is the number of consecutive stop-affordance-absent
	// ticks required before a response is declared complete.
	CompleteConfirmCount int `yaml:"complete_confirm_count"`
	ResponseTimeoutMs    int `yaml:"response_timeout_ms"`
}

type StorageConfig struct {
	StateDir      string `yaml:"state_dir"`
	JournalMaxLen int    `yaml:"journal_max_len"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	// Optional environment overrides.
	if dir := os.Getenv("RELAYD_PROFILE_DIR"); dir != "" {
		cfg.Discovery.ProfileDir = dir
	}
	if dir := os.Getenv("RELAYD_STATE_DIR"); dir != "" {
		cfg.Storage.StateDir = dir
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, for callers
// that run without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Daemon.LogLevel == "" {
		cfg.Daemon.LogLevel = "info"
	}
	if cfg.Remote.CallTimeoutMs == 0 {
		cfg.Remote.CallTimeoutMs = 10000
	}
	if len(cfg.Remote.ReconnectBackoffMs) == 0 {
		cfg.Remote.ReconnectBackoffMs = []int{250, 500, 1000, 2000, 5000}
	}
	if cfg.Remote.ReconnectBudget == 0 {
		cfg.Remote.ReconnectBudget = 10
	}
	if cfg.Discovery.HTTPTimeoutMs == 0 {
		cfg.Discovery.HTTPTimeoutMs = 3000
	}
	if cfg.Detect.PollIntervalMs == 0 {
		cfg.Detect.PollIntervalMs = 1500
	}
	if cfg.Detect.PlanningCooldownMs == 0 {
		cfg.Detect.PlanningCooldownMs = 10000
	}
	if cfg.Detect.EchoTTLMs == 0 {
		cfg.Detect.EchoTTLMs = 30000
	}
	if cfg.Detect.AlwaysAllowMaxAttempts == 0 {
		cfg.Detect.AlwaysAllowMaxAttempts = 4
	}
	if cfg.Detect.AlwaysAllowBackoffMs == 0 {
		cfg.Detect.AlwaysAllowBackoffMs = 300
	}
	if cfg.Monitor.PollIntervalMs == 0 {
		cfg.Monitor.PollIntervalMs = 1000
	}
	if cfg.Monitor.CompleteConfirmCount == 0 {
		cfg.Monitor.CompleteConfirmCount = 3
	}
	if cfg.Monitor.ResponseTimeoutMs == 0 {
		cfg.Monitor.ResponseTimeoutMs = 600000
	}
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = "/var/lib/relayd"
	}
	if cfg.Storage.JournalMaxLen == 0 {
		cfg.Storage.JournalMaxLen = 50000
	}
}
