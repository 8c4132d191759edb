package mqtt

import "errors"

var (
	// ErrNotConnected is returned by Publish and Subscribe on a Conn whose
	// bridge connection is gone. A Conn never comes back; dial a new one.
	ErrNotConnected = errors.New("mqtt: bridge connection not open")

	// ErrConnectionFailed wraps a refused or timed out CONNECT, which with
	// the bridge usually means an expired or mis-signed token.
	ErrConnectionFailed = errors.New("mqtt: bridge rejected connection")

	// ErrPublishFailed wraps a PUBACK that never arrived or an oversized payload.
	ErrPublishFailed = errors.New("mqtt: publish not acknowledged")

	// ErrSubscribeFailed wraps a SUBSCRIBE the bridge did not acknowledge.
	ErrSubscribeFailed = errors.New("mqtt: subscribe not acknowledged")

	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
