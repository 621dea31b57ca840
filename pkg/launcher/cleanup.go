package launcher

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// OrphanReaper cleans up after a launcher that died without running its
// shutdown path, leaving a session file and possibly a running backend.
type OrphanReaper struct {
	stateFile  string
	executable string
	grace      time.Duration
	logger     *slog.Logger

	// procDir is where per-process command lines are read from.
	procDir string
}

// NewOrphanReaper creates a reaper for the session recorded at stateFile.
// Only processes whose command line mentions executable are signalled.
func NewOrphanReaper(stateFile, executable string, grace time.Duration, logger *slog.Logger) *OrphanReaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrphanReaper{
		stateFile:  stateFile,
		executable: filepath.Base(executable),
		grace:      grace,
		logger:     logger.With("component", "reaper"),
		procDir:    "/proc",
	}
}

// Reap inspects the recorded session. If its launcher is still alive nothing
// is touched. Otherwise its backend is terminated if still running, and the
// session file is removed. It reports whether a backend was terminated.
func (r *OrphanReaper) Reap() (bool, error) {
	s, err := ReadSession(r.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		r.logger.Warn("discarding unreadable session file", "path", r.stateFile, "error", err)
		return false, os.Remove(r.stateFile)
	}

	if s.PID != os.Getpid() && processAlive(s.PID) {
		r.logger.Info("another launcher is running", "pid", s.PID, "url", s.URL)
		return false, nil
	}

	reaped := false
	if s.BackendPID > 0 && processAlive(s.BackendPID) && r.isBackend(s.BackendPID) {
		r.logger.Warn("terminating orphaned backend", "pid", s.BackendPID, "session_id", s.ID)
		if err := r.terminate(s.BackendPID); err != nil {
			return false, fmt.Errorf("terminate orphaned backend %d: %w", s.BackendPID, err)
		}
		reaped = true
	}

	if err := os.Remove(r.stateFile); err != nil && !os.IsNotExist(err) {
		return reaped, err
	}
	return reaped, nil
}

// isBackend reports whether pid's command line names the backend executable.
// Without a readable /proc entry the pid is never trusted, since it may have
// been reused by an unrelated process.
func (r *OrphanReaper) isBackend(pid int) bool {
	data, err := os.ReadFile(filepath.Join(r.procDir, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return false
	}

	// Arguments are NUL separated.
	args := bytes.Split(data, []byte{0})
	return len(args) > 0 && filepath.Base(string(args[0])) == r.executable
}

func (r *OrphanReaper) terminate(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}

	timeout := time.After(r.grace)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			r.logger.Warn("orphaned backend did not exit gracefully, killing", "pid", pid)
			if err := process.Kill(); err != nil && processAlive(pid) {
				return fmt.Errorf("force kill: %w", err)
			}
			return nil

		case <-ticker.C:
			if !processAlive(pid) {
				return nil
			}
		}
	}
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
