package identity

import "errors"

var (
	// ErrNoAssertion is returned when the request carries no assertion.
	ErrNoAssertion = errors.New("identity: no assertion")

	// ErrInvalidAssertion is returned when the signature, audience, issuer
	// or lifetime of an assertion does not check out.
	ErrInvalidAssertion = errors.New("identity: invalid assertion")

	// ErrKeyFetch is returned when the public key map cannot be loaded.
	ErrKeyFetch = errors.New("identity: cannot fetch public keys")
)
