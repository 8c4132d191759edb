// Package session keeps a device's bridge session alive.
//
// A Session owns one transport at a time, re-authenticates it with a fresh
// token before the current one ages out, and paces publishes with
// exponential backoff plus jitter while the transport is unhealthy. Inbound
// config and command messages are handed to a Router.
//
// # Concurrency
//
// Run starts a single event loop that owns the health state, connection
// parameters and the live transport. Transport events, publish requests,
// delayed sends and acknowledgments all reach the loop through channels, so
// none of that state is locked. Publish and Snapshot may be called from any
// goroutine.
//
// # Lifecycle
//
//	sess, err := session.New(session.Options{...})
//	go sess.Run(ctx)
//	err = sess.Publish(ctx, topic, []byte("hello"))
//
// Run returns ErrBackoffExhausted once the backoff reaches its ceiling and a
// publish is attempted; the session is then finished.
package session
