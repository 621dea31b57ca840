package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jrepp/trace-launcher/pkg/backend"
	"github.com/jrepp/trace-launcher/pkg/ports"
	"github.com/jrepp/trace-launcher/pkg/static"
	"github.com/pkg/browser"
)

// UIListenHost is the interface the UI server binds to.
const UIListenHost = "0.0.0.0"

// UIURL returns the browser URL for a port pair.
func UIURL(pair ports.Pair) string {
	return fmt.Sprintf("http://localhost:%d/?rpc_port=%d", pair.UI, pair.RPC)
}

// ReadyInfo describes a launch once the UI server is accepting requests.
type ReadyInfo struct {
	SessionID  string
	Root       string
	Ports      ports.Pair
	URL        string
	RPCURL     string
	BackendPID int
}

// Reporter receives operator-facing events.
type Reporter interface {
	Ready(info ReadyInfo)
	Warning(message string)
}

type noopReporter struct{}

func (noopReporter) Ready(ReadyInfo) {}
func (noopReporter) Warning(string)  {}

// Launcher starts the backend, serves the UI and opens the browser.
type Launcher struct {
	cfg      Config
	logger   *slog.Logger
	metrics  Metrics
	reporter Reporter

	openBrowser  func(url string) error
	backendOut   io.Writer
	backendErr   io.Writer
	backendEnv   []string
	allocatorOpt []ports.Option
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(l *Launcher) {
		l.metrics = m
	}
}

// WithReporter sets the operator-facing reporter.
func WithReporter(r Reporter) Option {
	return func(l *Launcher) {
		l.reporter = r
	}
}

// WithBrowserOpener replaces the system browser opener.
func WithBrowserOpener(open func(url string) error) Option {
	return func(l *Launcher) {
		l.openBrowser = open
	}
}

// WithBackendOutput redirects the backend's stdout and stderr.
func WithBackendOutput(stdout, stderr io.Writer) Option {
	return func(l *Launcher) {
		l.backendOut = stdout
		l.backendErr = stderr
	}
}

// WithBackendEnv adds environment entries for the backend.
func WithBackendEnv(env ...string) Option {
	return func(l *Launcher) {
		l.backendEnv = append(l.backendEnv, env...)
	}
}

// WithAllocatorOptions passes extra options to the port allocator.
func WithAllocatorOptions(opts ...ports.Option) Option {
	return func(l *Launcher) {
		l.allocatorOpt = append(l.allocatorOpt, opts...)
	}
}

// New creates a Launcher.
func New(cfg Config, opts ...Option) *Launcher {
	l := &Launcher{
		cfg:         cfg,
		logger:      slog.Default(),
		metrics:     NewNoopMetrics(),
		reporter:    noopReporter{},
		openBrowser: browser.OpenURL,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "launcher")
	return l
}

// Run performs one launch and blocks until ctx is cancelled or the UI
// server fails. The backend is terminated on every return path. Cancelling
// ctx is a normal shutdown and returns nil.
func (l *Launcher) Run(ctx context.Context) error {
	err := l.run(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		l.logger.Info("interrupted during startup")
		return nil
	}
	return err
}

// Check validates the configuration and verifies the installation without
// binding any port or starting any process. Callers that open listeners of
// their own run it first so that a broken install is reported before anything
// is bound.
func (l *Launcher) Check() error {
	_, _, err := l.check()
	return err
}

func (l *Launcher) check() (root, exe string, err error) {
	if err := l.cfg.Validate(); err != nil {
		return "", "", err
	}
	return l.verifyInstall()
}

func (l *Launcher) run(ctx context.Context) error {
	root, exe, err := l.check()
	if err != nil {
		return err
	}

	if l.cfg.StateFile != "" {
		reaper := NewOrphanReaper(l.cfg.StateFile, exe, l.cfg.GracePeriod, l.logger)
		if _, err := reaper.Reap(); err != nil {
			l.logger.Warn("stale session cleanup failed", "path", l.cfg.StateFile, "error", err)
		}
	}

	allocator := ports.NewAllocator(append([]ports.Option{
		ports.WithMaxAttempts(l.cfg.MaxPortAttempts),
		ports.WithMaxCollisionRetries(l.cfg.MaxCollisionRetries),
		ports.WithObserver(l.metrics),
		ports.WithLogger(l.logger),
	}, l.allocatorOpt...)...)

	pair, err := allocator.AcquirePair(l.cfg.RPCOffset, l.cfg.UIOffset)
	if err != nil {
		return ErrPortAllocationFailed(err)
	}
	l.logger.Info("ports allocated", "rpc_port", pair.RPC, "ui_port", pair.UI)

	proc, err := backend.Launch(ctx, backend.Spec{
		Executable:   exe,
		RPCPort:      pair.RPC,
		UIPort:       pair.UI,
		TraceFile:    l.cfg.TraceFile,
		ExtraOrigins: l.cfg.ExtraCORSOrigins,
		Env:          l.backendEnv,
		Stdout:       l.backendOut,
		Stderr:       l.backendErr,
		PollInterval: l.cfg.PollInterval,
		Logger:       l.logger,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrProcessStartFailed(exe, err)
	}
	defer l.stopBackend(proc)

	if err := l.awaitBackend(ctx, proc, exe); err != nil {
		return err
	}

	addr := net.JoinHostPort(UIListenHost, strconv.Itoa(int(pair.UI)))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return ErrPortBindFailed(addr, err)
	}

	handler := static.NewHandler(root,
		static.WithEntry(l.cfg.EntryFile),
		static.WithObserver(l.metrics),
		static.WithLogger(l.logger))
	srv := &http.Server{
		Handler:           static.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	defer l.shutdownServer(srv)

	url := UIURL(pair)
	session := NewSession()
	session.BackendPID = proc.Pid()
	session.RPCPort = pair.RPC
	session.UIPort = pair.UI
	session.Root = root
	session.URL = url
	l.recordSession(session)
	defer l.forgetSession(session)

	l.logger.Info("ui server listening", "address", ln.Addr().String(), "url", url)
	l.reporter.Ready(ReadyInfo{
		SessionID:  session.ID,
		Root:       root,
		Ports:      pair,
		URL:        url,
		RPCURL:     fmt.Sprintf("http://%s:%d", backend.LoopbackAddress, pair.RPC),
		BackendPID: proc.Pid(),
	})

	l.launchBrowser(url)

	backendDone := proc.Done()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("shutting down")
			return nil

		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("ui server: %w", err)

		case <-backendDone:
			backendDone = nil
			l.metrics.BackendReady(false)
			l.logger.Warn("backend exited, UI still served", "pid", proc.Pid(), "error", proc.Err())
			l.reporter.Warning("Trace processor exited; the UI keeps running but cannot load traces.")
		}
	}
}

// verifyInstall checks that the backend and entry file exist under the root
// before anything is started. It returns the canonical root and the backend path.
func (l *Launcher) verifyInstall() (root, exe string, err error) {
	root, err = static.Canonicalize(l.cfg.Root)
	if err != nil {
		return "", "", ErrExecutableNotFound(filepath.Join(l.cfg.Root, l.cfg.Executable), l.cfg.Root).
			WithCause(err)
	}

	exe = filepath.Join(root, l.cfg.Executable)
	if info, statErr := os.Stat(exe); statErr != nil || info.IsDir() {
		return "", "", ErrExecutableNotFound(exe, root).WithCause(statErr)
	}

	entry := filepath.Join(root, l.cfg.EntryFile)
	if info, statErr := os.Stat(entry); statErr != nil || info.IsDir() {
		return "", "", ErrEntryNotFound(entry, root).WithCause(statErr)
	}

	return root, exe, nil
}

// awaitBackend waits the startup delay and then polls for readiness. Only an
// early exit is fatal; a readiness timeout is reported and startup continues.
func (l *Launcher) awaitBackend(ctx context.Context, proc *backend.Process, exe string) error {
	if l.cfg.StartupDelay > 0 {
		timer := time.NewTimer(l.cfg.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-proc.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	err := proc.WaitReady(ctx, l.cfg.ReadyTimeout)
	l.metrics.BackendStarted(time.Since(proc.StartedAt()))

	switch {
	case err == nil:
		l.metrics.BackendReady(true)
		return nil
	case errors.Is(err, backend.ErrNotReady):
		l.logger.Warn("backend not ready, continuing", "timeout", l.cfg.ReadyTimeout, "error", err)
		l.reporter.Warning(fmt.Sprintf("Trace processor did not accept connections within %v; continuing anyway.", l.cfg.ReadyTimeout))
		return nil
	case errors.Is(err, backend.ErrExitedBeforeReady):
		return ErrBackendExited(exe, proc.RPCPort(), proc.Err())
	default:
		return err
	}
}

func (l *Launcher) launchBrowser(url string) {
	if !l.cfg.OpenBrowser {
		l.logger.Debug("browser disabled", "url", url)
		l.reporter.Warning(fmt.Sprintf("Open %s in your browser.", url))
		return
	}

	if err := l.openBrowser(url); err != nil {
		l.logger.Warn("failed to open browser", "url", url, "error", err)
		l.reporter.Warning(fmt.Sprintf("Could not open a browser. Open %s manually.", url))
	}
}

func (l *Launcher) recordSession(s *Session) {
	if l.cfg.StateFile == "" {
		return
	}
	if err := WriteSession(l.cfg.StateFile, s); err != nil {
		l.logger.Warn("failed to write session file", "path", l.cfg.StateFile, "error", err)
		return
	}
	l.logger.Debug("session recorded", "path", l.cfg.StateFile, "session_id", s.ID)
}

func (l *Launcher) forgetSession(s *Session) {
	if l.cfg.StateFile == "" {
		return
	}
	if err := RemoveSession(l.cfg.StateFile, s.ID); err != nil {
		l.logger.Warn("failed to remove session file", "path", l.cfg.StateFile, "error", err)
	}
}

func (l *Launcher) shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.logger.Warn("ui server shutdown", "error", err)
		srv.Close()
	}
}

func (l *Launcher) stopBackend(proc *backend.Process) {
	if err := proc.Terminate(l.cfg.GracePeriod); err != nil {
		l.logger.Error("failed to stop backend", "pid", proc.Pid(), "error", err)
	}
	reason := proc.ExitReason()
	if reason == "" {
		reason = "unknown"
	}
	l.metrics.BackendExited(reason)
	l.logger.Debug("backend stopped", "pid", proc.Pid(), "reason", reason)
}
