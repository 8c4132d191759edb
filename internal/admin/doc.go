// Package admin provides the admin console HTTP server: a single page form
// that relays commands to the device, plus a small JSON API over the command
// audit log.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := admin.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Routes:
//
//	GET  /                 command form (identity assertion checked and logged)
//	POST /                 relay form field "payload" to the device
//	GET  /api/v1/health    liveness plus database health
//	GET  /api/v1/commands  paginated command audit log
//	GET  /metrics          Prometheus exposition, when a handler is supplied
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package admin
