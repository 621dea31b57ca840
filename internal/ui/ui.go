// Package ui renders operator-facing console output for trace-launcher.
package ui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/jrepp/trace-launcher/pkg/launcher"
	"github.com/samber/lo"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	noteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	cellStyle  = lipgloss.NewStyle().Padding(0, 1)
)

// UI writes styled messages. Errors go to the error stream, everything else
// to the output stream.
type UI struct {
	out io.Writer
	err io.Writer
}

// NewUI returns a UI on stdout and stderr.
func NewUI() *UI {
	return New(os.Stdout, os.Stderr)
}

// New returns a UI on the given streams.
func New(out, err io.Writer) *UI {
	return &UI{out: out, err: err}
}

func (u *UI) line(w io.Writer, style lipgloss.Style, text string) {
	fmt.Fprintln(w, style.Render(text))
}

// Success prints a completed step with a check mark.
func (u *UI) Success(msg string) { u.line(u.out, okStyle, "✓ "+msg) }

// Error prints a failure to the error stream.
func (u *UI) Error(msg string) { u.line(u.err, failStyle, "✗ "+msg) }

// Info prints a neutral notice.
func (u *UI) Info(msg string) { u.line(u.out, noteStyle, "ℹ "+msg) }

// Subtle prints muted secondary text.
func (u *UI) Subtle(msg string) { u.line(u.out, mutedStyle, msg) }

// Header prints an underlined section title.
func (u *UI) Header(msg string) { u.line(u.out, titleStyle, msg) }

// Warning prints a non-fatal problem. Together with Ready it makes UI a
// launcher.Reporter.
func (u *UI) Warning(msg string) { u.line(u.out, warnStyle, "⚠ "+msg) }

// Println prints msg unstyled.
func (u *UI) Println(msg string) {
	fmt.Fprintln(u.out, msg)
}

// KeyValue prints an indented "key: value" line.
func (u *UI) KeyValue(key, value string) {
	fmt.Fprintf(u.out, "  %s: %s\n", mutedStyle.Render(key), value)
}

// Ready prints the startup banner.
func (u *UI) Ready(info launcher.ReadyInfo) {
	u.Println("")
	u.Header("Trace Launcher")
	u.Println("")
	u.Success("UI server running at " + info.URL)
	u.KeyValue("Trace processor", info.RPCURL)
	u.KeyValue("Backend PID", strconv.Itoa(info.BackendPID))
	u.KeyValue("Serving", info.Root)
	u.Println("")
	u.Subtle("Press Ctrl+C to stop")
	u.Println("")
}

// FatalError prints err. A *launcher.LauncherError is expanded into its
// context, cause and suggestion.
func (u *UI) FatalError(err error) {
	var lerr *launcher.LauncherError
	if !errors.As(err, &lerr) {
		u.Error(err.Error())
		return
	}

	u.Error(lerr.Message)
	keys := lo.Keys(lerr.Context)
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Fprintf(u.err, "  %s: %v\n", mutedStyle.Render(key), lerr.Context[key])
	}
	if lerr.Cause != nil {
		fmt.Fprintf(u.err, "  %s: %v\n", mutedStyle.Render("cause"), lerr.Cause)
	}
	if lerr.Suggestion != "" {
		fmt.Fprintln(u.err)
		// Styled line by line; a multi-line block would be padded to its widest line.
		for _, text := range strings.Split(lerr.Suggestion, "\n") {
			u.line(u.err, noteStyle, text)
		}
	}
}

// Table collects rows and renders them with a border.
type Table struct {
	ui      *UI
	headers []string
	rows    [][]string
}

// NewTable starts a table with the given column headers.
func (u *UI) NewTable(headers ...string) *Table {
	return &Table{ui: u, headers: headers}
}

// AddRow appends a row; missing cells render empty and extra cells are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Render writes the table. A table without headers prints nothing.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style { return cellStyle }).
		Headers(t.headers...).
		Rows(t.rows...)

	fmt.Fprintln(t.ui.out, strings.TrimRight(tbl.String(), "\n"))
}
