package launcher

import (
	"runtime"
	"strings"
	"time"

	"github.com/jrepp/trace-launcher/pkg/backend"
	"github.com/jrepp/trace-launcher/pkg/ports"
	"github.com/jrepp/trace-launcher/pkg/static"
)

// Defaults for Config.
const (
	DefaultRPCOffset       uint16 = 10001
	DefaultUIOffset        uint16 = 10000
	DefaultStartupDelay           = 500 * time.Millisecond
	DefaultReadyTimeout           = 10 * time.Second
	DefaultGracePeriod            = 5 * time.Second
	DefaultShutdownTimeout        = 5 * time.Second
)

// DefaultExecutable returns the backend file name for the current platform.
func DefaultExecutable() string {
	if runtime.GOOS == "windows" {
		return "trace_processor_shell.exe"
	}
	return "trace_processor_shell"
}

// Config holds everything a launch needs.
type Config struct {
	// Root is the directory holding the UI bundle and the backend executable.
	Root string

	// EntryFile is served for "/".
	EntryFile string

	// Executable is the backend file name inside Root.
	Executable string

	// TraceFile is passed to the backend when it exists.
	TraceFile string

	RPCOffset           uint16
	UIOffset            uint16
	MaxPortAttempts     int
	MaxCollisionRetries int

	StartupDelay    time.Duration
	ReadyTimeout    time.Duration
	PollInterval    time.Duration
	GracePeriod     time.Duration
	ShutdownTimeout time.Duration

	ExtraCORSOrigins []string

	OpenBrowser bool

	// StateFile receives the session record; empty disables it.
	StateFile string
}

// DefaultConfig returns a Config with every field except Root set.
func DefaultConfig() Config {
	return Config{
		EntryFile:           static.IndexFile,
		Executable:          DefaultExecutable(),
		RPCOffset:           DefaultRPCOffset,
		UIOffset:            DefaultUIOffset,
		MaxPortAttempts:     ports.DefaultMaxAttempts,
		MaxCollisionRetries: ports.DefaultMaxCollisionRetries,
		StartupDelay:        DefaultStartupDelay,
		ReadyTimeout:        DefaultReadyTimeout,
		PollInterval:        backend.DefaultPollInterval,
		GracePeriod:         DefaultGracePeriod,
		ShutdownTimeout:     DefaultShutdownTimeout,
		OpenBrowser:         true,
	}
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return ErrInvalidConfiguration("root", c.Root, "root directory must be set")
	}
	if strings.TrimSpace(c.EntryFile) == "" {
		return ErrInvalidConfiguration("entry_file", c.EntryFile, "entry file name must not be empty")
	}
	if strings.TrimSpace(c.Executable) == "" {
		return ErrInvalidConfiguration("backend.executable", c.Executable, "executable name must not be empty")
	}
	if c.MaxPortAttempts < 1 {
		return ErrInvalidConfiguration("ports.max_attempts", c.MaxPortAttempts, "must be at least 1")
	}
	if c.MaxCollisionRetries < 0 {
		return ErrInvalidConfiguration("ports.max_collision_retries", c.MaxCollisionRetries, "must not be negative")
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"backend.startup_delay", c.StartupDelay},
		{"backend.ready_timeout", c.ReadyTimeout},
		{"backend.grace_period", c.GracePeriod},
		{"shutdown_timeout", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value < 0 {
			return ErrInvalidConfiguration(d.field, d.value, "must not be negative")
		}
	}
	if c.PollInterval <= 0 {
		return ErrInvalidConfiguration("backend.poll_interval", c.PollInterval, "must be positive")
	}

	return nil
}
