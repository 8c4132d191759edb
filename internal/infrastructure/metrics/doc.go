// Package metrics exposes Prometheus metrics for the device session, the
// command relay, the telemetry sink and HTTP handlers.
//
// Each Metrics value owns its own registry, so binaries and tests never
// collide on the global default registry.
//
//	m := metrics.New("iot")
//	sess, _ := session.New(session.Options{Metrics: m, ...})
//	http.Handle("/metrics", m.Handler())
package metrics
