package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvCoreHost       = "QSYS_CORE_IP"
	EnvLegacyCoreHost = "NEXT_PUBLIC_CORE_IP"
	EnvConfigPath     = "QSYSPANEL_CONFIG"
	EnvLogLevel       = "QSYSPANEL_LOG_LEVEL"

	endpointPath = "/qrc-public-api/v0"
)

type Config struct {
	CoreHost          string        `yaml:"core_host"`
	PollingInterval   time.Duration `yaml:"polling_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	SocketPath string        `yaml:"socket_path"`
	HTTPAddr   string        `yaml:"http_addr"`
	DBPath     string        `yaml:"db_path"`
	JournalTTL time.Duration `yaml:"journal_ttl"`

	HealthDownWindow       time.Duration `yaml:"health_down_window"`
	HealthDownFailures     int           `yaml:"health_down_failures"`
	HealthRecoverSuccesses int           `yaml:"health_recover_successes"`

	Components  Components `yaml:"components"`
	Video       Video      `yaml:"video"`
	CameraCount int        `yaml:"camera_count"`
	Log         Log        `yaml:"log"`
}

// Components names the core namespaces each panel binds to.
type Components struct {
	EQ           string   `yaml:"eq"`
	Compressor   string   `yaml:"compressor"`
	Limiter      string   `yaml:"limiter"`
	Delay        string   `yaml:"delay"`
	Gain         string   `yaml:"gain"`
	CameraRouter string   `yaml:"camera_router"`
	VideoDecoder string   `yaml:"video_decoder"`
	PTZ          []string `yaml:"ptz"`
	Preview      string   `yaml:"preview"`
}

// Names lists every configured component once, in panel order.
func (c Components) Names() []string {
	all := []string{c.EQ, c.Compressor, c.Limiter, c.Delay, c.Gain, c.CameraRouter, c.VideoDecoder}
	all = append(all, c.PTZ...)
	all = append(all, c.Preview)
	seen := make(map[string]struct{}, len(all))
	out := make([]string, 0, len(all))
	for _, name := range all {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

type Video struct {
	NoSourceValue int `yaml:"no_source_value"`
	SourceOffset  int `yaml:"source_offset"`
	SourceCount   int `yaml:"source_count"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func DefaultConfig() Config {
	return Config{
		CoreHost:               coreHostFromEnv(),
		PollingInterval:        100 * time.Millisecond,
		ReconnectDelay:         5000 * time.Millisecond,
		ConnectTimeout:         5 * time.Second,
		WriteTimeout:           5 * time.Second,
		KeepAliveInterval:      30 * time.Second,
		SocketPath:             defaultSocketPath(),
		DBPath:                 defaultDBPath(),
		JournalTTL:             7 * 24 * time.Hour,
		HealthDownWindow:       60 * time.Second,
		HealthDownFailures:     3,
		HealthRecoverSuccesses: 1,
		Components: Components{
			EQ:           "testEQ",
			Compressor:   "testCompressor",
			Limiter:      "testLimiter",
			Delay:        "testDelay",
			Gain:         "Gain",
			CameraRouter: "camRouter",
			VideoDecoder: "videoDecoder",
			PTZ:          []string{"ptzControl", "usbBridge"},
			Preview:      "usbBridge",
		},
		Video: Video{
			NoSourceValue: 0,
			SourceOffset:  1,
			SourceCount:   4,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load overlays the YAML file at path onto DefaultConfig. A missing file
// leaves the defaults in place. Environment overrides apply last.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if host := coreHostFromEnv(); host != "" {
		cfg.CoreHost = host
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

// Validate returns non-fatal warnings, or an error when the daemon cannot run.
func (c Config) Validate() ([]string, error) {
	var warnings []string
	if strings.TrimSpace(c.CoreHost) == "" {
		warnings = append(warnings, fmt.Sprintf("core host is empty; set core_host or %s", EnvCoreHost))
	}
	if c.PollingInterval <= 0 {
		return warnings, fmt.Errorf("polling_interval must be positive")
	}
	if c.ReconnectDelay <= 0 {
		return warnings, fmt.Errorf("reconnect_delay must be positive")
	}
	if c.WriteTimeout <= 0 {
		return warnings, fmt.Errorf("write_timeout must be positive")
	}
	if strings.TrimSpace(c.SocketPath) == "" && strings.TrimSpace(c.HTTPAddr) == "" {
		return warnings, fmt.Errorf("socket_path or http_addr is required")
	}
	if c.Video.SourceOffset == c.Video.NoSourceValue && c.Video.SourceOffset != 0 {
		warnings = append(warnings, "video source_offset equals no_source_value; source 0 is unreachable")
	}
	if len(c.Components.PTZ) == 0 {
		warnings = append(warnings, "no ptz components configured")
	}
	return warnings, nil
}

// CoreEndpoint is the websocket URL of the core's control API.
func (c Config) CoreEndpoint() string {
	host := strings.TrimSpace(c.CoreHost)
	if host == "" {
		return ""
	}
	return "ws://" + host + endpointPath
}

func coreHostFromEnv() string {
	if v := strings.TrimSpace(os.Getenv(EnvCoreHost)); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(EnvLegacyCoreHost))
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "qsyspanel", "qsyspaneld.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qsyspaneld.sock"
	}
	return filepath.Join(home, ".local", "state", "qsyspanel", "qsyspaneld.sock")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "qsyspanel.db"
	}
	return filepath.Join(home, ".local", "state", "qsyspanel", "journal.db")
}
