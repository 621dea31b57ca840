package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jrepp/trace-launcher/pkg/launcher"
)

// serveMetrics exposes pm on the loopback interface and returns a shutdown func.
func serveMetrics(port int, pm *launcher.PrometheusMetrics, logger *slog.Logger) (func(), error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, launcher.ErrMetricsBindFailed(addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", pm.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics endpoint", "url", "http://"+addr+"/metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
