package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/jrepp/trace-launcher/pkg/backend"
	"github.com/jrepp/trace-launcher/pkg/launcher"
	"github.com/spf13/cobra"
)

const probeTimeout = 500 * time.Millisecond

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running launcher session",
		Long: `Show the session recorded by a running trace-launcher and check whether its
UI and trace processor ports are accepting connections.`,
		Args: cobra.NoArgs,
		RunE: a.runStatus,
	}
}

func (a *app) runStatus(cmd *cobra.Command, args []string) error {
	if a.cfg.StateFile == "" {
		a.ui.Warning("No state file configured")
		return nil
	}

	s, err := launcher.ReadSession(a.cfg.StateFile)
	if errors.Is(err, fs.ErrNotExist) {
		a.ui.Info("No launcher session is running")
		return nil
	}
	if err != nil {
		a.ui.Error(fmt.Sprintf("Failed to read session: %v", err))
		return err
	}

	a.ui.Header("Trace Launcher Session")
	a.ui.KeyValue("Session", s.ID)
	a.ui.KeyValue("URL", s.URL)
	a.ui.KeyValue("Root", s.Root)
	a.ui.KeyValue("Started", s.StartedAt.Local().Format(time.RFC3339))
	a.ui.Println("")

	table := a.ui.NewTable("COMPONENT", "PID", "PORT", "STATE")
	table.AddRow("ui", strconv.Itoa(s.PID), strconv.Itoa(int(s.UIPort)), probe("localhost", s.UIPort))
	table.AddRow("trace_processor", strconv.Itoa(s.BackendPID), strconv.Itoa(int(s.RPCPort)), probe(backend.LoopbackAddress, s.RPCPort))
	table.Render()

	return nil
}

// probe reports whether something accepts TCP connections on host:port.
func probe(host string, port uint16) string {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))), probeTimeout)
	if err != nil {
		return "down"
	}
	conn.Close()
	return "listening"
}
