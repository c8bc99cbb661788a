package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the escrow API listener and its lifecycle.
type HTTPServerConfig struct {
	ListenAddr string

	// MetricsAddr is the Prometheus listener. Empty disables it.
	MetricsAddr string

	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long /drain keeps the server not-ready before it
	// reports the drain as completed.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds how long Shutdown waits for in-flight requests.
	GracefulShutdownDuration time.Duration

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}
