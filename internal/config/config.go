// Package config loads bosonci settings from flags, BOSONCI_* environment
// variables and an optional YAML file through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"bosonci/internal/logger"
)

// Keys understood by Load.
const (
	KeyRuntime      = "runtime"
	KeyWorkDir      = "work_dir"
	KeyLogDir       = "log_dir"
	KeyLedger       = "ledger"
	KeyKeyDir       = "key_dir"
	KeyLogLevel     = "log_level"
	KeyLogFormat    = "log_format"
	KeyListen       = "listen"
	KeyStepTimeout  = "step_timeout"
	KeyCloseTimeout = "close_timeout"
	KeyOTLPEndpoint = "otlp_endpoint"
	KeyRetainRuns   = "retain_runs"
)

const (
	RuntimeDocker = "docker"
	RuntimeLocal  = "local"
)

// Config holds all configuration values for the application.
type Config struct {
	// Container backend: "docker" or "local"
	Runtime string

	// Scratch space for the local runtime; empty means the OS temp dir
	WorkDir string

	// Session logs are written below LogDir; empty disables them
	LogDir string

	// Ledger file; empty disables the step ledger
	LedgerPath string
	KeyDir     string

	LogLevel  string
	LogFormat string

	// HTTP listen address for `serve`, and how many finished runs it keeps
	Listen     string
	RetainRuns int

	StepTimeout  time.Duration
	CloseTimeout time.Duration

	// OTLP/gRPC collector for traces; empty disables tracing
	OTLPEndpoint string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRuntime, RuntimeDocker)
	v.SetDefault(KeyWorkDir, "")
	v.SetDefault(KeyLogDir, "./logs")
	v.SetDefault(KeyLedger, "")
	v.SetDefault(KeyKeyDir, "./keys")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyListen, ":8080")
	v.SetDefault(KeyRetainRuns, 100)
	v.SetDefault(KeyStepTimeout, time.Duration(0))
	v.SetDefault(KeyCloseTimeout, 30*time.Second)
	v.SetDefault(KeyOTLPEndpoint, "")
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Runtime:      strings.ToLower(strings.TrimSpace(v.GetString(KeyRuntime))),
		WorkDir:      v.GetString(KeyWorkDir),
		LogDir:       v.GetString(KeyLogDir),
		LedgerPath:   v.GetString(KeyLedger),
		KeyDir:       v.GetString(KeyKeyDir),
		LogLevel:     strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:    strings.ToLower(v.GetString(KeyLogFormat)),
		Listen:       v.GetString(KeyListen),
		RetainRuns:   v.GetInt(KeyRetainRuns),
		OTLPEndpoint: v.GetString(KeyOTLPEndpoint),
	}

	var err error
	if cfg.StepTimeout, err = duration(v, KeyStepTimeout); err != nil {
		return nil, err
	}
	if cfg.CloseTimeout, err = duration(v, KeyCloseTimeout); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Runtime {
	case RuntimeDocker, RuntimeLocal:
	default:
		return fmt.Errorf("invalid runtime %q: must be %q or %q", c.Runtime, RuntimeDocker, RuntimeLocal)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q: must be 'text' or 'json'", c.LogFormat)
	}
	if c.StepTimeout < 0 {
		return fmt.Errorf("invalid step_timeout %s: must not be negative", c.StepTimeout)
	}
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("invalid close_timeout %s: must be positive", c.CloseTimeout)
	}
	if c.RetainRuns < 1 {
		return fmt.Errorf("invalid retain_runs %d: must be at least 1", c.RetainRuns)
	}
	if c.LedgerPath != "" && c.KeyDir == "" {
		return fmt.Errorf("key_dir is required when a ledger is configured")
	}
	return nil
}

// duration accepts both Go duration strings and plain seconds.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" || raw == "0" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	var secs int
	if _, err := fmt.Sscanf(raw, "%d", &secs); err == nil && fmt.Sprint(secs) == raw {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid %s %q: want a duration such as 90s or 5m", key, raw)
}
