package credential

import "errors"

// Domain errors for token minting.
var (
	// ErrCredential is returned when the key cannot be read or parsed, or signing fails.
	ErrCredential = errors.New("credential: cannot mint token")

	// ErrUnsupportedAlgorithm is returned for algorithms other than RS256 and ES256.
	ErrUnsupportedAlgorithm = errors.New("credential: unsupported algorithm")
)
