// Package backend spawns and supervises the trace processor RPC server.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultPollInterval is the delay between readiness dials.
	DefaultPollInterval = 100 * time.Millisecond

	// killWait bounds how long Terminate waits for the process to be reaped
	// after a forced kill.
	killWait = 5 * time.Second
)

// Reasons reported by ExitReason.
const (
	ExitReasonExited     = "exited"
	ExitReasonFailed     = "failed"
	ExitReasonTerminated = "terminated"
	ExitReasonKilled     = "killed"
)

var (
	// ErrExitedBeforeReady is returned by WaitReady when the process exits
	// before its RPC port accepts connections.
	ErrExitedBeforeReady = errors.New("backend exited before becoming ready")

	// ErrNotReady is returned by WaitReady when the timeout elapses.
	ErrNotReady = errors.New("backend not ready")

	// ErrStartFailed wraps failures to spawn the executable.
	ErrStartFailed = errors.New("backend start failed")
)

// Spec describes how to start the backend.
type Spec struct {
	Executable   string
	RPCPort      uint16
	UIPort       uint16
	TraceFile    string
	ExtraOrigins []string

	// Env is appended to the launcher's own environment.
	Env []string

	// Stdout and Stderr default to the launcher's own streams.
	Stdout io.Writer
	Stderr io.Writer

	PollInterval time.Duration
	Logger       *slog.Logger
}

// Process is a running backend.
type Process struct {
	cmd          *exec.Cmd
	rpcPort      uint16
	pollInterval time.Duration
	startedAt    time.Time
	logger       *slog.Logger

	done    chan struct{}
	waitErr error

	mu         sync.Mutex
	stopReason string

	terminateOnce sync.Once
	terminateErr  error
}

// Launch starts the backend described by spec. A trace file that does not
// exist is logged and left off the command line.
func Launch(ctx context.Context, spec Spec) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "backend")

	traceFile := spec.TraceFile
	if traceFile != "" {
		if _, err := os.Stat(traceFile); err != nil {
			logger.Warn("trace file not found, starting without it", "trace_file", traceFile, "error", err)
			traceFile = ""
		}
	}

	args := BuildArgs(spec.RPCPort, spec.UIPort, traceFile, spec.ExtraOrigins)
	cmd := exec.Command(spec.Executable, args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	cmd.Stdout = spec.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = spec.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStartFailed, spec.Executable, err)
	}

	pollInterval := spec.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	p := &Process{
		cmd:          cmd,
		rpcPort:      spec.RPCPort,
		pollInterval: pollInterval,
		startedAt:    time.Now(),
		logger:       logger,
		done:         make(chan struct{}),
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	logger.Info("backend started",
		"pid", cmd.Process.Pid,
		"rpc_port", spec.RPCPort,
		"executable", spec.Executable,
		"trace_file", traceFile)

	return p, nil
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// RPCPort returns the port the backend was told to listen on.
func (p *Process) RPCPort() uint16 {
	return p.rpcPort
}

// StartedAt returns when the process was spawned.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the wait error once the process has exited.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// ExitReason describes how the process ended; empty while it is running.
func (p *Process) ExitReason() string {
	if !p.Exited() {
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopReason != "" {
		return p.stopReason
	}
	if p.waitErr != nil {
		return ExitReasonFailed
	}
	return ExitReasonExited
}

// WaitReady polls the RPC port until it accepts a TCP connection.
func (p *Process) WaitReady(ctx context.Context, timeout time.Duration) error {
	addr := net.JoinHostPort(LoopbackAddress, strconv.Itoa(int(p.rpcPort)))

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if p.Exited() {
			return fmt.Errorf("%w: %v", ErrExitedBeforeReady, p.waitErr)
		}

		conn, err := net.DialTimeout("tcp", addr, p.pollInterval)
		if err == nil {
			conn.Close()
			p.logger.Debug("backend ready", "address", addr, "attempts", attempt)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return fmt.Errorf("%w: %v", ErrExitedBeforeReady, p.waitErr)
		case <-deadline.C:
			return fmt.Errorf("%w: %s did not accept connections within %v", ErrNotReady, addr, timeout)
		case <-ticker.C:
		}
	}
}

// Terminate asks the process to stop, waits up to grace, then kills it.
// It is safe to call more than once.
func (p *Process) Terminate(grace time.Duration) error {
	p.terminateOnce.Do(func() {
		p.terminateErr = p.terminate(grace)
	})
	return p.terminateErr
}

func (p *Process) terminate(grace time.Duration) error {
	if p.Exited() {
		return nil
	}

	pid := p.Pid()
	p.logger.Debug("terminating backend", "pid", pid, "grace", grace)
	if err := signalTerminate(p.cmd.Process); err != nil {
		p.logger.Debug("terminate signal failed", "pid", pid, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		p.setStopReason(ExitReasonTerminated)
		p.logger.Info("backend stopped", "pid", pid)
		return nil
	case <-timer.C:
	}

	p.logger.Warn("backend did not exit within grace period, killing", "pid", pid, "grace", grace)
	if err := forceKill(p.cmd.Process); err != nil && !p.Exited() {
		return fmt.Errorf("kill backend %d: %w", pid, err)
	}

	select {
	case <-p.done:
		p.setStopReason(ExitReasonKilled)
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("backend %d did not exit after kill", pid)
	}
}

func (p *Process) setStopReason(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopReason = reason
}
