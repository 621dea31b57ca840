package launcher

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// LauncherError is a fatal launch failure with the details an operator needs
// to fix it.
type LauncherError struct {
	Code    ErrorCode
	Message string
	Cause   error

	// Context holds paths, ports and values involved in the failure.
	Context map[string]interface{}

	// Suggestion tells the operator what to try next.
	Suggestion string
}

// ErrorCode classifies a LauncherError.
type ErrorCode string

const (
	// Installation errors
	ErrorCodeExecutableNotFound ErrorCode = "EXECUTABLE_NOT_FOUND"
	ErrorCodeEntryNotFound      ErrorCode = "ENTRY_NOT_FOUND"

	// Startup errors
	ErrorCodePortAllocationFailed ErrorCode = "PORT_ALLOCATION_FAILED"
	ErrorCodeProcessStartFailed   ErrorCode = "PROCESS_START_FAILED"
	ErrorCodeBackendExited        ErrorCode = "BACKEND_EXITED"
	ErrorCodePortBindFailed       ErrorCode = "PORT_BIND_FAILED"

	// Configuration errors
	ErrorCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
)

func (e *LauncherError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := lo.Keys(e.Context)
		slices.Sort(keys)

		b.WriteString("; Context: ")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, "; Cause: %v", e.Cause)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "; Suggestion: %s", e.Suggestion)
	}

	return b.String()
}

// Unwrap exposes Cause to errors.Is and errors.As.
func (e *LauncherError) Unwrap() error {
	return e.Cause
}

// NewError returns a LauncherError without context.
func NewError(code ErrorCode, message string) *LauncherError {
	return &LauncherError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithContext records key=value and returns e.
func (e *LauncherError) WithContext(key string, value interface{}) *LauncherError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause sets the wrapped error and returns e.
func (e *LauncherError) WithCause(cause error) *LauncherError {
	e.Cause = cause
	return e
}

// WithSuggestion sets the operator hint and returns e.
func (e *LauncherError) WithSuggestion(suggestion string) *LauncherError {
	e.Suggestion = suggestion
	return e
}

// ErrExecutableNotFound creates an error for a missing backend executable
func ErrExecutableNotFound(execPath, root string) *LauncherError {
	return NewError(ErrorCodeExecutableNotFound,
		"Trace processor executable not found").
		WithContext("executable_path", execPath).
		WithContext("root", root).
		WithSuggestion(fmt.Sprintf(
			"Place the trace processor next to the launcher:\n"+
				"  ls -la %s\n"+
				"Or point the launcher at the directory that contains it:\n"+
				"  trace-launcher --root <dir>",
			execPath))
}

// ErrEntryNotFound creates an error for a missing UI entry file
func ErrEntryNotFound(entryPath, root string) *LauncherError {
	return NewError(ErrorCodeEntryNotFound,
		"UI entry file not found").
		WithContext("entry_path", entryPath).
		WithContext("root", root).
		WithSuggestion(fmt.Sprintf(
			"The UI bundle must be unpacked into %s.\n"+
				"Verify the entry file exists:\n"+
				"  ls -la %s",
			root, entryPath))
}

// ErrPortAllocationFailed creates an error for port negotiation failures
func ErrPortAllocationFailed(cause error) *LauncherError {
	return NewError(ErrorCodePortAllocationFailed,
		"Failed to allocate ports for the backend and UI servers").
		WithCause(cause).
		WithSuggestion(
			"Common causes:\n" +
				"  1. Loopback networking is unavailable\n" +
				"  2. The ephemeral port range is exhausted\n" +
				"Check open sockets: netstat -an | grep LISTEN")
}

// ErrProcessStartFailed creates an error for backend spawn failures
func ErrProcessStartFailed(execPath string, cause error) *LauncherError {
	return NewError(ErrorCodeProcessStartFailed,
		"Failed to start trace processor").
		WithContext("executable_path", execPath).
		WithCause(cause).
		WithSuggestion(
			"Common causes:\n" +
				"  1. Executable is not runnable (chmod +x)\n" +
				"  2. Executable was built for another platform\n" +
				"  3. Insufficient permissions\n" +
				"Try running it by hand with --help")
}

// ErrBackendExited creates an error for a backend that exits during startup
func ErrBackendExited(execPath string, rpcPort uint16, cause error) *LauncherError {
	return NewError(ErrorCodeBackendExited,
		"Trace processor exited during startup").
		WithContext("executable_path", execPath).
		WithContext("rpc_port", rpcPort).
		WithCause(cause).
		WithSuggestion(fmt.Sprintf(
			"Run the backend by hand to see its output:\n"+
				"  %s -D --http-port %d",
			execPath, rpcPort))
}

// ErrPortBindFailed creates an error for a UI listener that cannot bind
func ErrPortBindFailed(address string, cause error) *LauncherError {
	return NewError(ErrorCodePortBindFailed,
		"Failed to bind UI server").
		WithContext("address", address).
		WithCause(cause).
		WithSuggestion(
			"Another process took the port after it was probed.\n" +
				"Start the launcher again to negotiate a new port")
}

// ErrMetricsBindFailed creates an error for a metrics endpoint that cannot bind
func ErrMetricsBindFailed(address string, cause error) *LauncherError {
	return NewError(ErrorCodePortBindFailed,
		"Failed to bind metrics endpoint").
		WithContext("address", address).
		WithCause(cause).
		WithSuggestion(
			"The configured metrics port is already in use.\n" +
				"Choose another port with --metrics-port or metrics.port, or 0 to disable metrics")
}

// ErrInvalidConfiguration creates an error for configuration validation failures
func ErrInvalidConfiguration(field string, value interface{}, reason string) *LauncherError {
	return NewError(ErrorCodeInvalidConfiguration,
		fmt.Sprintf("Invalid configuration: %s", reason)).
		WithContext("field", field).
		WithContext("value", value).
		WithSuggestion(
			"Review the configuration file and TRACE_LAUNCHER_* environment variables.\n" +
				"Run with --debug to print the effective configuration.")
}

// IsErrorCode reports whether err wraps a LauncherError with code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// GetErrorCode returns the code of the LauncherError in err's chain, or "".
func GetErrorCode(err error) ErrorCode {
	var launcherErr *LauncherError
	if errors.As(err, &launcherErr) {
		return launcherErr.Code
	}
	return ""
}

// GetSuggestion returns the suggestion of the LauncherError in err's chain, or "".
func GetSuggestion(err error) string {
	var launcherErr *LauncherError
	if errors.As(err, &launcherErr) {
		return launcherErr.Suggestion
	}
	return ""
}
