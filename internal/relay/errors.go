package relay

import "errors"

var (
	// ErrUnavailable is returned when the device manager cannot be reached.
	ErrUnavailable = errors.New("relay: device manager unavailable")

	// ErrRejected is returned when the device manager answers with a non-2xx status,
	// for example when the device is not connected.
	ErrRejected = errors.New("relay: command rejected")

	// ErrInvalidConfig is returned by New for an unusable endpoint or device path.
	ErrInvalidConfig = errors.New("relay: invalid configuration")
)
