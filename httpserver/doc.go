/*
Package httpserver runs the will escrow API behind a chi router, together with
the operational endpoints and an optional Prometheus listener.

# Endpoints

  - /api/... - routes mounted by the API handler
  - /livez - liveness check
  - /readyz - readiness check, 503 while draining
  - /drain and /undrain - toggle readiness ahead of a shutdown
  - /debug/pprof - profiling, when enabled

Every request is logged through the flashbots httplogger middleware and panics
are recovered into 500 responses.

# Lifecycle

	srv, err := httpserver.New(cfg, handler, metricsSrv)
	srv.RunInBackground()
	...
	srv.Shutdown()

Shutdown waits up to GracefulShutdownDuration for in-flight requests.
*/
package httpserver
