package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/jrepp/trace-launcher/pkg/launcher"
	"github.com/jrepp/trace-launcher/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return New(&out, &errOut), &out, &errOut
}

func TestUI_Ready(t *testing.T) {
	u, out, _ := newTestUI()

	u.Ready(launcher.ReadyInfo{
		Root:       "/opt/trace/dist",
		Ports:      ports.Pair{RPC: 20001, UI: 20000},
		URL:        "http://localhost:20000/?rpc_port=20001",
		RPCURL:     "http://127.0.0.1:20001",
		BackendPID: 4242,
	})

	text := out.String()
	assert.Contains(t, text, "http://localhost:20000/?rpc_port=20001")
	assert.Contains(t, text, "http://127.0.0.1:20001")
	assert.Contains(t, text, "4242")
	assert.Contains(t, text, "/opt/trace/dist")
	assert.Contains(t, text, "Ctrl+C")
}

func TestUI_ReporterContract(t *testing.T) {
	var _ launcher.Reporter = NewUI()

	u, out, errOut := newTestUI()
	u.Warning("browser did not open")
	assert.Contains(t, out.String(), "browser did not open")
	assert.Empty(t, errOut.String())
}

func TestUI_FatalError(t *testing.T) {
	t.Run("launcher error", func(t *testing.T) {
		u, out, errOut := newTestUI()
		u.FatalError(launcher.ErrExecutableNotFound("/opt/trace/trace_processor_shell", "/opt/trace"))

		text := errOut.String()
		assert.Empty(t, out.String())
		assert.Contains(t, text, "/opt/trace/trace_processor_shell")
		assert.Contains(t, text, "executable_path:")
		assert.Less(t, strings.Index(text, "executable_path:"), strings.Index(text, "root:"), "context keys are sorted")
	})

	t.Run("suggestion and cause", func(t *testing.T) {
		u, _, errOut := newTestUI()
		err := launcher.ErrPortAllocationFailed(errors.New("exhausted"))
		u.FatalError(err)

		assert.Contains(t, errOut.String(), "exhausted")
		suggestion := launcher.GetSuggestion(err)
		require.Contains(t, suggestion, "\n", "needs a multi-line suggestion")
		assert.Contains(t, errOut.String(), suggestion+"\n")
		for _, line := range strings.Split(errOut.String(), "\n") {
			assert.Equal(t, strings.TrimRight(line, " "), line, "no trailing padding")
		}
	})

	t.Run("plain error", func(t *testing.T) {
		u, _, errOut := newTestUI()
		u.FatalError(errors.New("boom"))
		assert.Contains(t, errOut.String(), "boom")
	})
}

func TestTable_Render(t *testing.T) {
	u, out, _ := newTestUI()

	table := u.NewTable("PORT", "STATE")
	table.AddRow("20001", "listening")
	table.AddRow("20000")
	table.AddRow("1", "down", "ignored")
	table.Render()

	text := out.String()
	for _, want := range []string{"PORT", "STATE", "20001", "listening", "20000", "down"} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "ignored")

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	var rowLines int
	for _, line := range lines {
		if strings.Contains(line, "2000") {
			rowLines++
		}
	}
	assert.Equal(t, 2, rowLines, "one line per row")
}

func TestTable_NoHeaders(t *testing.T) {
	u, out, _ := newTestUI()
	u.NewTable().Render()
	assert.Empty(t, out.String())
}
