package backend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// LoopbackAddress is the interface the backend RPC server binds to.
const LoopbackAddress = "127.0.0.1"

// CORSOrigins returns the origins the backend must accept requests from: the
// UI server under both loopback names, followed by any extra origins.
// Blank and duplicate entries are dropped.
func CORSOrigins(uiPort uint16, extra []string) []string {
	origins := []string{
		fmt.Sprintf("http://localhost:%d", uiPort),
		fmt.Sprintf("http://127.0.0.1:%d", uiPort),
	}
	origins = append(origins, lo.Map(extra, func(o string, _ int) string {
		return strings.TrimRight(strings.TrimSpace(o), "/")
	})...)

	return lo.Uniq(lo.Compact(origins))
}

// BuildArgs returns the backend command line, excluding the executable.
func BuildArgs(rpcPort, uiPort uint16, traceFile string, extraOrigins []string) []string {
	args := []string{
		"-D",
		"--http-ip-address", LoopbackAddress,
		"--http-port", strconv.Itoa(int(rpcPort)),
		"--http-additional-cors-origins", strings.Join(CORSOrigins(uiPort, extraOrigins), ","),
	}
	if traceFile != "" {
		args = append(args, traceFile)
	}
	return args
}
