package ingest

import "errors"

var (
	// ErrMalformedRecord is returned by ParseRecord for text that is not
	// "name, temperature, heart_rate".
	ErrMalformedRecord = errors.New("ingest: malformed record")

	// ErrMalformedEnvelope is returned for a push body that is not a Pub/Sub message.
	ErrMalformedEnvelope = errors.New("ingest: malformed push envelope")
)
