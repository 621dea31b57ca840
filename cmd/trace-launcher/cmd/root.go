// Package cmd provides the CLI commands for trace-launcher
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jrepp/trace-launcher/internal/config"
	"github.com/jrepp/trace-launcher/internal/install"
	"github.com/jrepp/trace-launcher/internal/logging"
	"github.com/jrepp/trace-launcher/internal/ui"
	"github.com/jrepp/trace-launcher/pkg/launcher"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X .../cmd.version=...".
var version = "0.1.0"

// app carries state shared by every command.
type app struct {
	cfg    *config.Config
	ui     *ui.UI
	stderr io.Writer

	// openBrowser replaces the system browser in tests.
	openBrowser func(url string) error
}

// NewRootCmd builds the trace-launcher command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trace-launcher [trace-file]",
		Short: "Launch the trace viewer UI with a local trace processor",
		Long: `trace-launcher starts trace_processor_shell from its installation directory,
serves the bundled trace viewer UI and opens it in the default browser.

Ports are chosen near fixed offsets and fall back to free ephemeral ports.
The backend is stopped when trace-launcher exits.

A trace file whose name matches a subcommand (status, version) must follow
"--", as in: trace-launcher -- status`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			a.ui = ui.New(out, errOut)
			a.stderr = errOut

			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				a.ui.Error(fmt.Sprintf("Failed to load configuration: %v", err))
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				a.ui.FatalError(err)
				return err
			}
			a.cfg = cfg
			return nil
		},
		RunE: a.runLaunch,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Config file (default: ~/.trace-launcher/config.yaml)")
	flags.Bool("debug", false, "Enable debug logging (same as --log-level debug)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")
	flags.String("state-file", "", "Session record location")

	rootCmd.Flags().String("root", "", "Directory holding the UI bundle and trace_processor_shell")
	rootCmd.Flags().String("entry-file", "", "UI entry file served for / (default: index.html)")
	rootCmd.Flags().Bool("no-browser", false, "Do not open a browser")
	rootCmd.Flags().Int("metrics-port", 0, "Serve Prometheus metrics on 127.0.0.1:<port> (0 disables)")

	rootCmd.AddCommand(newStatusCmd(a))
	rootCmd.AddCommand(newVersionCmd(a))

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) runLaunch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(a.cfg.Log.Level, a.cfg.Log.Format, a.stderr)
	if err != nil {
		a.ui.FatalError(err)
		return err
	}
	slog.SetDefault(logger)
	logger.Debug("effective configuration", "config", fmt.Sprintf("%+v", *a.cfg))

	if a.cfg.Root == "" {
		root, err := install.Root()
		if err != nil {
			a.ui.Error(fmt.Sprintf("Cannot determine installation directory: %v", err))
			return err
		}
		a.cfg.Root = root
	}

	var traceFile string
	if len(args) == 1 {
		traceFile = args[0]
	}

	opts := []launcher.Option{
		launcher.WithLogger(logger),
		launcher.WithReporter(a.ui),
	}
	if a.openBrowser != nil {
		opts = append(opts, launcher.WithBrowserOpener(a.openBrowser))
	}

	var pm *launcher.PrometheusMetrics
	if a.cfg.Metrics.Port > 0 {
		pm = launcher.NewPrometheusMetrics("")
		opts = append(opts, launcher.WithMetrics(pm))
	}

	l := launcher.New(a.cfg.ToLauncher(traceFile), opts...)

	// Nothing may be bound before the installation is known to be usable.
	if err := l.Check(); err != nil {
		a.ui.FatalError(err)
		return err
	}

	if pm != nil {
		shutdown, err := serveMetrics(a.cfg.Metrics.Port, pm, logger)
		if err != nil {
			a.ui.FatalError(err)
			return err
		}
		defer shutdown()
	}

	if err := l.Run(ctx); err != nil {
		a.ui.FatalError(err)
		return err
	}

	a.ui.Info("Stopped")
	return nil
}
