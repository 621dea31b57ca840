// Package launcher starts a local trace processor, serves the bundled UI next
// to it and opens a browser pointed at both.
//
// # Quick Start
//
//	cfg := launcher.DefaultConfig()
//	cfg.Root = "/opt/trace-ui"
//	cfg.TraceFile = "boot.perfetto-trace"
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	if err := launcher.New(cfg).Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Layout
//
// Root must contain the UI entry file (index.html by default) and the backend
// executable (trace_processor_shell, or trace_processor_shell.exe on Windows).
// Both are checked before any port is allocated.
//
// # Startup Sequence
//
//  1. Two ports are negotiated with ports.Allocator: one for the backend RPC
//     server and one for the UI server. They are always distinct.
//  2. The backend is spawned with
//     -D --http-ip-address 127.0.0.1 --http-port <rpc>
//     --http-additional-cors-origins http://localhost:<ui>,http://127.0.0.1:<ui>
//     and the trace file, when it exists, as the last argument.
//  3. After StartupDelay the RPC port is polled until it accepts connections.
//     A backend that exits here aborts the launch (BACKEND_EXITED). One that
//     is merely slow produces a warning.
//  4. The UI server binds 0.0.0.0:<ui> and serves Root.
//  5. The browser is opened at http://localhost:<ui>/?rpc_port=<rpc>.
//
// Run returns when its context is cancelled. The UI server is shut down and
// the backend receives SIGTERM, then SIGKILL after GracePeriod.
//
// # Error Handling
//
// Fatal startup failures are returned as *LauncherError values carrying a code,
// context and a suggestion for the operator:
//
//	if launcher.IsErrorCode(err, launcher.ErrorCodeExecutableNotFound) {
//	    fmt.Println(launcher.GetSuggestion(err))
//	}
//
// # Metrics
//
// NewPrometheusMetrics returns a collector for port allocation attempts, UI
// requests and backend lifecycle events on its own registry:
//
//	metrics := launcher.NewPrometheusMetrics("trace_launcher")
//	go http.ListenAndServe("127.0.0.1:9100", metrics.Handler())
//	l := launcher.New(cfg, launcher.WithMetrics(metrics))
//
// # Session File
//
// When Config.StateFile is set, a YAML record of the running session (ports,
// pids, URL) is written once the UI is served and removed on shutdown.
package launcher
