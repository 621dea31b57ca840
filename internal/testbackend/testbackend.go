// Package testbackend turns the running test binary into a fake trace
// processor. Tests install the binary under the backend's file name and start
// it with EnvMode set; Main, called first thing from TestMain, then takes over
// the process instead of running the tests.
package testbackend

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	// EnvMode selects the fake backend behaviour.
	EnvMode = "TRACE_LAUNCHER_TEST_BACKEND"

	// EnvArgsFile, when set, receives the backend's arguments, one per line.
	EnvArgsFile = "TRACE_LAUNCHER_TEST_BACKEND_ARGS"
)

// Modes understood by Main.
const (
	// ModeServe listens on --http-port until SIGTERM.
	ModeServe = "serve"

	// ModeExit exits immediately with status 3.
	ModeExit = "exit"

	// ModeSilent never listens and waits for SIGTERM.
	ModeSilent = "silent"

	// ModeIgnoreTerm listens and ignores SIGTERM, so only a kill stops it.
	ModeIgnoreTerm = "ignore-term"

	// ModeServeBriefly listens for a short while and then exits with status 4.
	ModeServeBriefly = "serve-briefly"
)

// BrieflyFor is how long ModeServeBriefly keeps serving.
const BrieflyFor = 300 * time.Millisecond

// Main runs the fake backend and exits if EnvMode is set; otherwise it
// returns immediately.
func Main() {
	mode := os.Getenv(EnvMode)
	if mode == "" {
		return
	}
	os.Exit(run(mode, os.Args[1:]))
}

// Env returns the environment entries that select mode.
func Env(mode string, extra ...string) []string {
	return append([]string{EnvMode + "=" + mode}, extra...)
}

// Install places the current test binary at dir/name and returns the path.
func Install(t testing.TB, dir, name string) string {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	dst := filepath.Join(dir, name)
	if err := os.Symlink(exe, dst); err == nil {
		return dst
	}

	src, err := os.Open(exe)
	require.NoError(t, err)
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	require.NoError(t, err)
	_, err = io.Copy(out, src)
	require.NoError(t, err)
	require.NoError(t, out.Close())

	return dst
}

// ReadArgs returns the arguments recorded through EnvArgsFile, waiting
// briefly for the fake backend to write them.
func ReadArgs(t testing.TB, path string) []string {
	t.Helper()

	var data []byte
	require.Eventually(t, func() bool {
		var err error
		data, err = os.ReadFile(path)
		return err == nil && len(data) > 0
	}, 5*time.Second, 20*time.Millisecond)

	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// Alive reports whether a process with pid still exists.
func Alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

func run(mode string, args []string) int {
	if path := os.Getenv(EnvArgsFile); path != "" {
		if err := os.WriteFile(path, []byte(strings.Join(args, "\n")+"\n"), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "testbackend: %v\n", err)
			return 2
		}
	}

	stop := make(chan os.Signal, 1)
	if mode == ModeIgnoreTerm {
		// Before listening, so the port never accepts while SIGTERM is honoured.
		signal.Ignore(syscall.SIGTERM)
		signal.Notify(stop, os.Interrupt)
	} else {
		signal.Notify(stop, syscall.SIGTERM, os.Interrupt)
	}

	switch mode {
	case ModeExit:
		return 3

	case ModeSilent:
		<-stop
		return 0

	case ModeServe, ModeIgnoreTerm, ModeServeBriefly:
		ln, err := listen(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "testbackend: %v\n", err)
			return 2
		}
		defer ln.Close()
		go acceptAll(ln)

		switch mode {
		case ModeIgnoreTerm:
			for {
				time.Sleep(time.Hour)
			}
		case ModeServeBriefly:
			select {
			case <-time.After(BrieflyFor):
				return 4
			case <-stop:
				return 0
			}
		default:
			<-stop
			return 0
		}

	default:
		fmt.Fprintf(os.Stderr, "testbackend: unknown mode %q\n", mode)
		return 2
	}
}

func listen(args []string) (net.Listener, error) {
	port := 0
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--http-port" {
			p, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("bad --http-port %q: %w", args[i+1], err)
			}
			port = p
		}
	}
	if port == 0 {
		return nil, fmt.Errorf("missing --http-port in %v", args)
	}
	return net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
}

func acceptAll(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}
}
