// Package config manages trace-launcher configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrepp/trace-launcher/internal/logging"
	"github.com/jrepp/trace-launcher/pkg/backend"
	"github.com/jrepp/trace-launcher/pkg/launcher"
	"github.com/jrepp/trace-launcher/pkg/ports"
	"github.com/jrepp/trace-launcher/pkg/static"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TRACE_LAUNCHER_PORTS_RPC_OFFSET.
const EnvPrefix = "TRACE_LAUNCHER"

// Config holds the trace-launcher configuration
type Config struct {
	Root      string        `mapstructure:"root"`
	EntryFile string        `mapstructure:"entry_file"`
	StateFile string        `mapstructure:"state_file"`
	Backend   BackendConfig `mapstructure:"backend"`
	Ports     PortsConfig   `mapstructure:"ports"`
	Browser   BrowserConfig `mapstructure:"browser"`
	Metrics   MetricsConfig `mapstructure:"metrics"`
	Log       LogConfig     `mapstructure:"log"`
}

// BackendConfig holds trace processor settings
type BackendConfig struct {
	Executable       string        `mapstructure:"executable"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	ReadyTimeout     time.Duration `mapstructure:"ready_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	ExtraCORSOrigins []string      `mapstructure:"extra_cors_origins"`
}

// PortsConfig holds port negotiation settings
type PortsConfig struct {
	RPCOffset           int `mapstructure:"rpc_offset"`
	UIOffset            int `mapstructure:"ui_offset"`
	MaxAttempts         int `mapstructure:"max_attempts"`
	MaxCollisionRetries int `mapstructure:"max_collision_retries"`
}

// BrowserConfig controls the browser step
type BrowserConfig struct {
	Open bool `mapstructure:"open"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig controls slog output
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"root":         "root",
	"entry-file":   "entry_file",
	"metrics-port": "metrics.port",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"state-file":   "state_file",
}

// Load loads configuration from defaults, an optional YAML file, the environment
// and finally any flags in flags that were set. An empty path searches
// $HOME/.trace-launcher and the working directory for config.yaml.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".trace-launcher"))
		}
		v.AddConfigPath(".")
	}

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	// Read config file (ignore if not found - use defaults)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", "")
	v.SetDefault("entry_file", static.IndexFile)
	v.SetDefault("state_file", DefaultStateFile())

	v.SetDefault("backend.executable", launcher.DefaultExecutable())
	v.SetDefault("backend.startup_delay", launcher.DefaultStartupDelay)
	v.SetDefault("backend.ready_timeout", launcher.DefaultReadyTimeout)
	v.SetDefault("backend.poll_interval", backend.DefaultPollInterval)
	v.SetDefault("backend.grace_period", launcher.DefaultGracePeriod)
	v.SetDefault("backend.extra_cors_origins", []string{})

	v.SetDefault("ports.rpc_offset", int(launcher.DefaultRPCOffset))
	v.SetDefault("ports.ui_offset", int(launcher.DefaultUIOffset))
	v.SetDefault("ports.max_attempts", ports.DefaultMaxAttempts)
	v.SetDefault("ports.max_collision_retries", ports.DefaultMaxCollisionRetries)

	v.SetDefault("browser.open", true)
	v.SetDefault("metrics.port", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatText)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	// Boolean switches that only ever push one way.
	if f := flags.Lookup("no-browser"); f != nil && f.Changed && f.Value.String() == "true" {
		v.Set("browser.open", false)
	}
	if f := flags.Lookup("debug"); f != nil && f.Changed && f.Value.String() == "true" {
		v.Set("log.level", "debug")
	}
	return nil
}

// DefaultStateFile returns the session file location, or "" when the user
// cache directory is unknown.
func DefaultStateFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "trace-launcher", "session.yaml")
}

// Validate checks the settings that launcher.Config does not cover.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return launcher.ErrInvalidConfiguration("log.level", c.Log.Level, err.Error())
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		return launcher.ErrInvalidConfiguration("log.format", c.Log.Format, "must be text or json")
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return launcher.ErrInvalidConfiguration("metrics.port", c.Metrics.Port, "must be between 0 and 65535")
	}
	if err := validPort("ports.rpc_offset", c.Ports.RPCOffset); err != nil {
		return err
	}
	return validPort("ports.ui_offset", c.Ports.UIOffset)
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return launcher.ErrInvalidConfiguration(field, port, "must be between 1 and 65535")
	}
	return nil
}

// ToLauncher converts the loaded settings into a launcher.Config. Root is
// taken as is; the caller resolves an empty root.
func (c *Config) ToLauncher(traceFile string) launcher.Config {
	return launcher.Config{
		Root:                c.Root,
		EntryFile:           c.EntryFile,
		Executable:          c.Backend.Executable,
		TraceFile:           traceFile,
		RPCOffset:           uint16(c.Ports.RPCOffset),
		UIOffset:            uint16(c.Ports.UIOffset),
		MaxPortAttempts:     c.Ports.MaxAttempts,
		MaxCollisionRetries: c.Ports.MaxCollisionRetries,
		StartupDelay:        c.Backend.StartupDelay,
		ReadyTimeout:        c.Backend.ReadyTimeout,
		PollInterval:        c.Backend.PollInterval,
		GracePeriod:         c.Backend.GracePeriod,
		ShutdownTimeout:     launcher.DefaultShutdownTimeout,
		ExtraCORSOrigins:    c.Backend.ExtraCORSOrigins,
		OpenBrowser:         c.Browser.Open,
		StateFile:           c.StateFile,
	}
}
